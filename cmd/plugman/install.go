package main

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/vrsandeep/plugman/internal/core"
	"github.com/vrsandeep/plugman/internal/manager"
	"github.com/vrsandeep/plugman/internal/plugins"
)

func installCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install <repository-url | plugin-id>",
		Short: "Install a plugin from a repository URL or the registry",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, app *core.App, profile string, args []string) error {
			cfg, err := resolveInstallTarget(ctx, app.Plugins(), args[0])
			if err != nil {
				return err
			}
			heading("Installing %s %s", cfg.ID(), cfg.Version())
			return runUpdate(ctx, app.Plugins(), app.Plugins().MapConfigToPluginData(profile, cfg), profile)
		}),
	}
}

// resolveInstallTarget treats anything that resolves as a repository or
// manifest URL as such, and everything else as a registry plugin id.
func resolveInstallTarget(ctx context.Context, pm *manager.Manager, target string) (*plugins.Configuration, error) {
	if _, ok := plugins.ParseRepositoryURL(target); ok || looksLikeURL(target) {
		return pm.FetchLatestPackageConfiguration(ctx, target)
	}
	pm.FetchPluginPackages(ctx)
	cfg, ok := pm.Remote(target)
	if !ok {
		return nil, fmt.Errorf("plugin %s not found in the registry", target)
	}
	return cfg, nil
}

func looksLikeURL(s string) bool {
	return len(s) > 8 && (s[:7] == "http://" || s[:8] == "https://")
}

// runUpdate runs the update pipeline and renders its progress until it
// finishes.
func runUpdate(ctx context.Context, pm *manager.Manager, data plugins.PluginData, profile string) error {
	done := make(chan error, 1)
	go func() {
		done <- pm.UpdatePlugin(ctx, data, profile)
	}()

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case err := <-done:
			fmt.Print("\r\033[K")
			if err != nil {
				return err
			}
			if p, ok := pm.UpdateProgress(data.ID); ok {
				success("%s %s installed in %s", p.ID, p.Version, p.Dir)
			}
			return nil
		case <-ticker.C:
			if p, ok := pm.UpdateProgress(data.ID); ok {
				fmt.Print("\r\033[K  " + describeProgress(p))
			}
		}
	}
}

func describeProgress(p manager.UpdateProgress) string {
	switch p.State {
	case manager.StateDownloading:
		if p.TotalBytes > 0 {
			return fmt.Sprintf("Downloading %.0f%% (%s of %s)", p.Percent,
				humanize.Bytes(uint64(p.TransferredBytes)), humanize.Bytes(uint64(p.TotalBytes)))
		}
		return fmt.Sprintf("Downloading %s", humanize.Bytes(uint64(p.TransferredBytes)))
	case manager.StateInstalling:
		return "Installing..."
	}
	return string(p.State)
}
