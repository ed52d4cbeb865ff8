package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vrsandeep/plugman/internal/core"
	"github.com/vrsandeep/plugman/internal/plugins"
)

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check [plugin-id...]",
		Short: "Check installed plugins for updates",
		RunE: withApp(func(ctx context.Context, app *core.App, profile string, args []string) error {
			app.Plugins().FetchPluginPackages(ctx)

			ids := args
			if len(ids) == 0 {
				for _, inst := range app.Registry().All() {
					ids = append(ids, inst.ID())
				}
			}

			heading("Update status (%s)", profile)
			updates := 0
			for _, id := range ids {
				inst, ok := app.Registry().FindByID(id)
				if !ok {
					warn("%s is not installed", id)
					continue
				}
				status := app.Plugins().CheckUpdateStatus(id)
				fmt.Printf("  %-32s %-10s %s\n", id, inst.Config.Version(), describeStatus(status))
				if status.Available() {
					updates++
				}
			}
			if updates == 0 {
				success("All plugins are up to date")
			}
			return nil
		}),
	}
}

func describeStatus(s plugins.UpdateStatus) string {
	switch {
	case s.IsAvailable == nil:
		return mutedStyle.Render("not in registry")
	case !s.Available():
		return successStyle.Render("up to date")
	case s.IsCompatible != nil && !*s.IsCompatible:
		floor := ""
		if s.MinimumVersion != nil {
			floor = *s.MinimumVersion
		}
		return warnStyle.Render(fmt.Sprintf("update requires host %s", floor))
	}
	return warnStyle.Render("update available")
}
