package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vrsandeep/plugman/internal/core"
)

func removeCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "remove <plugin-id>",
		Aliases: []string{"rm", "uninstall"},
		Short:   "Remove an installed plugin",
		Args:    cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, app *core.App, profile string, args []string) error {
			id := args[0]
			if _, ok := app.Registry().FindByID(id); !ok {
				return fmt.Errorf("plugin %s is not installed in profile %s", id, profile)
			}
			if err := app.Plugins().DeletePlugin(ctx, id, profile); err != nil {
				return err
			}
			success("Removed %s", id)
			return nil
		}),
	}
}
