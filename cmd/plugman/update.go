package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vrsandeep/plugman/internal/core"
)

func updateCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "update [plugin-id...]",
		Short: "Update installed plugins to their latest version",
		Long: `Update installed plugins to their latest version.

Without arguments every installed plugin with an update is updated.
Updates that need a newer host are skipped unless --force is given.`,
		RunE: withApp(func(ctx context.Context, app *core.App, profile string, args []string) error {
			pm := app.Plugins()
			pm.FetchPluginPackages(ctx)

			ids := args
			if len(ids) == 0 {
				for _, inst := range app.Registry().All() {
					ids = append(ids, inst.ID())
				}
			}

			var failed int
			updated := 0
			for _, id := range ids {
				if _, ok := app.Registry().FindByID(id); !ok {
					warn("%s is not installed", id)
					continue
				}
				status := pm.CheckUpdateStatus(id)
				if !status.Available() {
					continue
				}
				if status.IsCompatible != nil && !*status.IsCompatible && !force {
					warn("%s: %s", id, describeStatus(status))
					continue
				}
				remote, ok := pm.Remote(id)
				if !ok {
					continue
				}

				heading("Updating %s to %s", id, remote.Version())
				if err := runUpdate(ctx, pm, pm.MapConfigToPluginData(profile, remote), profile); err != nil {
					fmt.Println(errorStyle.Render(err.Error()))
					failed++
					continue
				}
				updated++
			}

			if failed > 0 {
				return fmt.Errorf("%d plugin updates failed", failed)
			}
			if updated == 0 {
				success("All plugins are up to date")
			}
			return nil
		}),
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Install updates that require a newer host")

	return cmd
}
