package manager

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/vrsandeep/plugman/internal/loader"
	"github.com/vrsandeep/plugman/internal/netutil"
	"github.com/vrsandeep/plugman/internal/pluginhost"
	"github.com/vrsandeep/plugman/internal/plugins"
	"github.com/vrsandeep/plugman/internal/testutil"
)

// diskFixture runs the manager over a real LocalLoader with notes@1.0.0
// already installed in the default profile.
type diskFixture struct {
	manager  *Manager
	loader   *loader.LocalLoader
	registry *pluginhost.Registry
	notifier *recordingNotifier
	dir      string
	manifest []byte
}

func newDiskFixture(t *testing.T) *diskFixture {
	t.Helper()
	client := netutil.NewClient(0, 5*time.Second)
	ld := loader.NewLocal(t.TempDir(), loader.WithDownloadDir(t.TempDir()), loader.WithHTTPClient(client))

	manifest := map[string]any{"name": "notes", "version": "1.0.0"}
	dir := testutil.CreateTestPlugin(t, ld.ProfileDir("default"), "notes", manifest)
	raw, err := os.ReadFile(filepath.Join(dir, "package.json"))
	require.NoError(t, err)

	f := &diskFixture{
		loader:   ld,
		registry: pluginhost.NewRegistry(nil),
		notifier: &recordingNotifier{},
		dir:      dir,
		manifest: raw,
	}
	f.registry.Push(&pluginhost.Instance{Config: plugins.NewConfiguration(manifest, dir), Dir: dir})
	f.manager = New(ld, f.registry, &fakeCatalog{},
		WithNotifier(f.notifier),
		WithHostVersion("1.5.0"),
		WithSettleDelay(10*time.Millisecond),
		WithHTTPClient(client),
	)
	return f
}

// serveArchive serves a zip of files at /notes.zip and returns its URL.
func serveArchive(t *testing.T, files map[string]string) string {
	t.Helper()
	archive := testutil.CreateTestZip(t, t.TempDir(), "notes.zip", files)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, archive)
	}))
	t.Cleanup(srv.Close)
	return srv.URL + "/notes.zip"
}

func TestUpdatePlugin_RejectedArchiveKeepsInstall(t *testing.T) {
	testCases := []struct {
		name     string
		manifest string
		errText  string
	}{
		{
			name:     "manifest without a name",
			manifest: `{"version":"2.0.0"}`,
			errText:  "name is a required field",
		},
		{
			name:     "archive of another plugin",
			manifest: `{"name":"other","version":"2.0.0"}`,
			errText:  `archive contains plugin "other", expected "notes"`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newDiskFixture(t)
			archiveURL := serveArchive(t, map[string]string{
				"notes-main/package.json": tc.manifest,
				"notes-main/index.js":     "module.exports = 2;",
			})

			data := config("notes", "2.0.0", map[string]any{"archiveUrl": archiveURL}).ToSerializable()
			err := f.manager.UpdatePlugin(context.Background(), data, "default")
			require.Error(t, err)

			var pipeErr *plugins.PipelineError
			require.True(t, errors.As(err, &pipeErr))
			assert.Equal(t, "install", pipeErr.Stage)
			assert.True(t, errors.Is(err, plugins.ErrValidation))
			assert.Contains(t, err.Error(), tc.errText)

			raw, readErr := os.ReadFile(filepath.Join(f.dir, "package.json"))
			require.NoError(t, readErr)
			assert.Equal(t, string(f.manifest), string(raw))
			assert.FileExists(t, filepath.Join(f.dir, "index.js"))

			entries, readErr := os.ReadDir(f.loader.ProfileDir("default"))
			require.NoError(t, readErr)
			require.Len(t, entries, 1)
			assert.Equal(t, "notes", entries[0].Name())

			inst, ok := f.registry.FindByID("notes")
			require.True(t, ok)
			assert.Equal(t, "1.0.0", inst.Config.Version())
			_, ok = f.registry.FindByID("other")
			assert.False(t, ok)

			progress, ok := f.manager.UpdateProgress("notes")
			require.True(t, ok)
			assert.True(t, progress.Failed)
		})
	}
}

func TestUpdatePlugin_ReplacesInstallFromArchive(t *testing.T) {
	f := newDiskFixture(t)
	archiveURL := serveArchive(t, map[string]string{
		"notes-main/package.json": `{"name":"notes","version":"2.0.0"}`,
		"notes-main/index.js":     "module.exports = 2;",
	})

	data := config("notes", "2.0.0", map[string]any{"archiveUrl": archiveURL}).ToSerializable()
	require.NoError(t, f.manager.UpdatePlugin(context.Background(), data, "default"))

	inst, ok := f.registry.FindByID("notes")
	require.True(t, ok)
	assert.Equal(t, "2.0.0", inst.Config.Version())
	assert.Equal(t, f.dir, inst.Dir)

	raw, err := os.ReadFile(filepath.Join(f.dir, "index.js"))
	require.NoError(t, err)
	assert.Equal(t, "module.exports = 2;", string(raw))
}

func TestInstallPlugin_RejectsMismatchedName(t *testing.T) {
	f := newFixture(t)
	dir := testutil.CreateTestPlugin(t, t.TempDir(), "other", map[string]any{"name": "other", "version": "1.0.0"})
	manifest := map[string]any{"name": "other", "version": "1.0.0"}
	f.loader.On("Install", mock.MatchedBy(func(req loader.InstallRequest) bool { return req.Name == "notes" })).Return(dir, nil)
	f.loader.On("Find", dir).Return(&loader.Found{Manifest: manifest, Dir: dir}, nil)

	_, err := f.manager.InstallPlugin(context.Background(), loader.InstallRequest{Name: "notes", ProfileID: "default"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, plugins.ErrValidation))
	_, ok := f.registry.FindByID("other")
	assert.False(t, ok)
	assert.Empty(t, f.manager.All())
}

func TestUpdatePlugin_OneUpdatePerPlugin(t *testing.T) {
	f := newFixture(t)
	archive := "https://example.com/notes.zip"
	entered := make(chan struct{})
	release := make(chan struct{})
	f.loader.On("Download", loader.DownloadRequest{Name: "notes", URL: archive}).
		Run(func(mock.Arguments) {
			close(entered)
			<-release
		}).
		Return("", errors.New("offline")).Once()
	f.loader.On("Download", loader.DownloadRequest{Name: "notes", URL: archive}).
		Return("", errors.New("offline"))

	data := config("notes", "2.0.0", map[string]any{"archiveUrl": archive}).ToSerializable()
	first := make(chan error, 1)
	go func() {
		first <- f.manager.UpdatePlugin(context.Background(), data, "default")
	}()
	<-entered

	err := f.manager.UpdatePlugin(context.Background(), data, "default")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUpdateInProgress))
	var pipeErr *plugins.PipelineError
	require.True(t, errors.As(err, &pipeErr))
	assert.Equal(t, "start", pipeErr.Stage)

	err = f.manager.StartUpdate(context.Background(), data, "default")
	assert.True(t, errors.Is(err, ErrUpdateInProgress))

	// The rejected attempts leave the running update's progress alone.
	progress, ok := f.manager.UpdateProgress("notes")
	require.True(t, ok)
	assert.Equal(t, StateDownloading, progress.State)
	assert.False(t, progress.Failed)

	close(release)
	err = <-first
	require.True(t, errors.As(err, &pipeErr))
	assert.Equal(t, "download", pipeErr.Stage)

	// Released once the first update has failed.
	err = f.manager.UpdatePlugin(context.Background(), data, "default")
	require.True(t, errors.As(err, &pipeErr))
	assert.Equal(t, "download", pipeErr.Stage)
}

func TestUpdatePlugin_AfterClose(t *testing.T) {
	f := newFixture(t)
	f.manager.Close()

	data := config("notes", "2.0.0", nil).ToSerializable()
	err := f.manager.UpdatePlugin(context.Background(), data, "default")
	assert.True(t, errors.Is(err, ErrClosed))
	f.loader.AssertNotCalled(t, "Download", mock.Anything)
}

// gatedRuntime blocks the first Configurations call until release is
// closed, after taking its snapshot.
type gatedRuntime struct {
	*pluginhost.Registry
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedRuntime) Configurations() []*plugins.Configuration {
	cfgs := g.Registry.Configurations()
	g.once.Do(func() {
		close(g.entered)
		<-g.release
	})
	return cfgs
}

func TestAllDoesNotCacheSnapshotTakenBeforeInvalidate(t *testing.T) {
	runtime := &gatedRuntime{
		Registry: pluginhost.NewRegistry(nil),
		entered:  make(chan struct{}),
		release:  make(chan struct{}),
	}
	m := New(&mockLoader{}, runtime, &fakeCatalog{}, WithNotifier(&recordingNotifier{}))

	stale := make(chan []*plugins.Configuration, 1)
	go func() {
		stale <- m.All()
	}()
	<-runtime.entered

	runtime.Push(&pluginhost.Instance{Config: config("notes", "1.0.0", nil), Dir: "/plugins/default/notes"})
	m.invalidate()
	close(runtime.release)

	assert.Empty(t, <-stale)
	all := m.All()
	require.Len(t, all, 1)
	assert.Equal(t, "notes", all[0].ID())
}
