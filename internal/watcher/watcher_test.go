package watcher_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vrsandeep/plugman/internal/config"
	"github.com/vrsandeep/plugman/internal/jobs"
	"github.com/vrsandeep/plugman/internal/loader"
	"github.com/vrsandeep/plugman/internal/manager"
	"github.com/vrsandeep/plugman/internal/pluginhost"
	"github.com/vrsandeep/plugman/internal/testutil"
	"github.com/vrsandeep/plugman/internal/watcher"
)

type testApp struct {
	cfg     *config.Config
	plugins *manager.Manager
}

func (a *testApp) Config() *config.Config       { return a.cfg }
func (a *testApp) Plugins() *manager.Manager    { return a.plugins }
func (a *testApp) JobManager() *jobs.JobManager { return nil }

func setup(t *testing.T) (*testApp, *pluginhost.Registry, string) {
	t.Helper()
	cfg := &config.Config{}
	cfg.Plugins.Path = t.TempDir()
	local := loader.NewLocal(cfg.Plugins.Path)
	registry := pluginhost.NewRegistry(nil)
	app := &testApp{cfg: cfg, plugins: manager.New(local, registry, nil)}
	return app, registry, local.ProfileDir("default")
}

func waitForRescan(t *testing.T, w *watcher.WatcherService) {
	t.Helper()
	select {
	case <-w.Rescans():
	case <-time.After(3 * time.Second):
		t.Fatal("Watcher did not rescan in time")
	}
}

func TestWatcherService_StartStop(t *testing.T) {
	app, _, dir := setup(t)
	w := watcher.NewWatcherService(app, "default", dir)

	if err := w.Start(); err != nil {
		t.Fatalf("Failed to start watcher: %v", err)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("Expected profile dir to be created: %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("Failed to stop watcher: %v", err)
	}
}

func TestWatcherService_PluginAddedAndRemoved(t *testing.T) {
	app, registry, dir := setup(t)
	w := watcher.NewWatcherService(app, "default", dir)
	w.SetDebounceDelay(50 * time.Millisecond)
	if err := w.Start(); err != nil {
		t.Fatalf("Failed to start watcher: %v", err)
	}
	defer w.Stop()

	pluginDir := testutil.CreateTestPlugin(t, dir, "notes", map[string]any{"name": "notes", "version": "1.0.0"})
	waitForRescan(t, w)
	if _, ok := registry.FindByID("notes"); !ok {
		t.Fatal("Expected new plugin to be loaded after rescan")
	}

	if err := os.WriteFile(filepath.Join(pluginDir, loader.ManifestFile), []byte(`{"name":"notes","version":"1.1.0"}`), 0644); err != nil {
		t.Fatalf("Failed to rewrite manifest: %v", err)
	}
	waitForRescan(t, w)
	inst, _ := registry.FindByID("notes")
	if inst.Config.Version() != "1.1.0" {
		t.Errorf("Expected version 1.1.0 after manifest change, got %s", inst.Config.Version())
	}

	if err := os.RemoveAll(pluginDir); err != nil {
		t.Fatalf("Failed to remove plugin: %v", err)
	}
	waitForRescan(t, w)
	if _, ok := registry.FindByID("notes"); ok {
		t.Error("Expected removed plugin to be unloaded after rescan")
	}
}

func TestWatcherService_IgnoresStagingDirs(t *testing.T) {
	app, _, dir := setup(t)
	w := watcher.NewWatcherService(app, "default", dir)
	w.SetDebounceDelay(20 * time.Millisecond)
	if err := w.Start(); err != nil {
		t.Fatalf("Failed to start watcher: %v", err)
	}
	defer w.Stop()

	if err := os.MkdirAll(filepath.Join(dir, ".install-123"), 0755); err != nil {
		t.Fatalf("Failed to create staging dir: %v", err)
	}
	select {
	case <-w.Rescans():
		t.Error("Staging directories must not trigger a rescan")
	case <-time.After(200 * time.Millisecond):
	}
}
