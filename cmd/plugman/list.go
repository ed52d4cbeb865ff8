package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/vrsandeep/plugman/internal/core"
	"github.com/vrsandeep/plugman/internal/plugins"
)

func listCmd() *cobra.Command {
	var installedOnly bool

	cmd := &cobra.Command{
		Use:   "list [query]",
		Short: "List installed and available plugins",
		Args:  cobra.MaximumNArgs(1),
		RunE: withApp(func(ctx context.Context, app *core.App, profile string, args []string) error {
			if !installedOnly {
				app.Plugins().FetchPluginPackages(ctx)
			}
			if len(args) == 1 {
				app.Plugins().FilterBy(args[0])
			}

			var rows [][]string
			for _, p := range app.Plugins().List(profile) {
				if installedOnly && !p.Installed {
					continue
				}
				rows = append(rows, []string{p.ID, p.Version, p.Title, p.Author, p.Size, pluginState(p)})
			}

			heading("Plugins (%s)", profile)
			if len(rows) == 0 {
				fmt.Println(mutedStyle.Render("  No plugins found."))
				return nil
			}
			fmt.Println(table.New().
				Border(lipgloss.NormalBorder()).
				Headers("ID", "VERSION", "TITLE", "AUTHOR", "SIZE", "STATE").
				Rows(rows...).
				String())
			return nil
		}),
	}

	cmd.Flags().BoolVarP(&installedOnly, "installed", "i", false, "Only list installed plugins")

	return cmd
}

func pluginState(p plugins.PluginData) string {
	if !p.Installed {
		return "available"
	}
	states := []string{"installed"}
	if p.Enabled {
		states = append(states, "enabled")
	}
	if p.Update != nil && p.Update.Available() {
		states = append(states, "update available")
	}
	return strings.Join(states, ", ")
}
