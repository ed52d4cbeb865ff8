package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vrsandeep/plugman/internal/core"
)

func manifestCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "manifest <repository-url>",
		Short: "Fetch and validate the manifest behind a repository URL",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, app *core.App, profile string, args []string) error {
			cfg, err := app.Plugins().FetchLatestPackageConfiguration(ctx, args[0])
			if err != nil {
				return err
			}
			data := app.Plugins().MapConfigToPluginData(profile, cfg)

			if asJSON {
				out, err := json.MarshalIndent(data, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(out))
				return nil
			}

			heading("%s %s", data.Title, data.Version)
			fmt.Printf("  ID:           %s\n", data.ID)
			fmt.Printf("  Author:       %s\n", data.Author)
			fmt.Printf("  Description:  %s\n", data.Description)
			fmt.Printf("  Categories:   %s\n", strings.Join(data.Categories, ", "))
			fmt.Printf("  Permissions:  %s\n", strings.Join(data.Permissions, ", "))
			if data.MinimumHostVersion != "" {
				fmt.Printf("  Needs host:   %s\n", data.MinimumHostVersion)
			}
			if data.ArchiveURL != "" {
				fmt.Printf("  Archive:      %s\n", data.ArchiveURL)
			}
			if data.Installed {
				fmt.Printf("  Installed in: %s\n", data.Dir)
			}
			return nil
		}),
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the plugin data as JSON")

	return cmd
}
