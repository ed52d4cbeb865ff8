package loader_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vrsandeep/plugman/internal/loader"
	"github.com/vrsandeep/plugman/internal/netutil"
	"github.com/vrsandeep/plugman/internal/plugins"
	"github.com/vrsandeep/plugman/internal/testutil"
)

func newLoader(t *testing.T) (*loader.LocalLoader, string) {
	t.Helper()
	root := t.TempDir()
	l := loader.NewLocal(root,
		loader.WithDownloadDir(t.TempDir()),
		loader.WithHTTPClient(netutil.NewClient(0, 5*time.Second)),
	)
	return l, root
}

func TestFind(t *testing.T) {
	l, root := newLoader(t)
	dir := testutil.CreateTestPlugin(t, root, "notes", map[string]any{"name": "notes", "main": "dist/main.js"})

	found, err := l.Find(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, "notes", found.Manifest["name"])
	assert.Equal(t, dir, found.Dir)
	assert.Equal(t, filepath.Join(dir, "dist", "main.js"), found.SourcePath)

	_, err = l.Find(context.Background(), filepath.Join(root, "missing"))
	assert.Error(t, err)

	broken := filepath.Join(root, "broken")
	require.NoError(t, os.MkdirAll(broken, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(broken, loader.ManifestFile), []byte("{"), 0644))
	_, err = l.Find(context.Background(), broken)
	assert.Error(t, err)
}

func TestSearch(t *testing.T) {
	l, _ := newLoader(t)
	profileDir := l.ProfileDir("default")

	testutil.CreateTestPlugin(t, profileDir, "beta", map[string]any{"name": "beta"})
	testutil.CreateTestPlugin(t, profileDir, "alpha", map[string]any{"name": "alpha"})
	require.NoError(t, os.MkdirAll(filepath.Join(profileDir, "no-manifest"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(profileDir, ".install-123"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(profileDir, "stray.txt"), []byte("x"), 0644))

	found, err := l.Search(context.Background(), "default")
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "alpha", found[0].Manifest["name"])
	assert.Equal(t, "beta", found[1].Manifest["name"])

	empty, err := l.Search(context.Background(), "unknown-profile")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestRemove(t *testing.T) {
	l, root := newLoader(t)
	dir := testutil.CreateTestPlugin(t, l.ProfileDir("default"), "notes", map[string]any{"name": "notes"})

	require.NoError(t, l.Remove(context.Background(), dir))
	_, err := os.Stat(dir)
	assert.True(t, os.IsNotExist(err))

	assert.Error(t, l.Remove(context.Background(), dir), "removing a missing directory fails")
	assert.Error(t, l.Remove(context.Background(), root), "the root itself cannot be removed")
	outside := t.TempDir()
	assert.Error(t, l.Remove(context.Background(), outside))
	_, err = os.Stat(outside)
	assert.NoError(t, err)
}

func serveFile(t *testing.T, path string) *httptest.Server {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, ".zip") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Write(data)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDownload(t *testing.T) {
	l, _ := newLoader(t)
	archive := testutil.CreateTestZip(t, t.TempDir(), "notes.zip", map[string]string{
		"notes-main/package.json": `{"name":"notes"}`,
		"notes-main/index.js":     strings.Repeat("x", 4096),
	})
	srv := serveFile(t, archive)

	progress := make(chan loader.Progress, 256)
	saved, err := l.Download(context.Background(), loader.DownloadRequest{Name: "notes", URL: srv.URL + "/archive/main.zip"}, progress)
	require.NoError(t, err)
	close(progress)

	assert.True(t, strings.HasSuffix(saved, ".zip"))
	want, _ := os.ReadFile(archive)
	got, err := os.ReadFile(saved)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	var events []loader.Progress
	for p := range progress {
		events = append(events, p)
	}
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, "notes", last.Name)
	assert.Equal(t, float64(100), last.Percent)
	assert.Equal(t, int64(len(want)), last.TransferredBytes)
	for i := 1; i < len(events); i++ {
		assert.GreaterOrEqual(t, events[i].Percent, events[i-1].Percent)
	}
}

func TestDownload_NotFound(t *testing.T) {
	l, _ := newLoader(t)
	srv := serveFile(t, testutil.CreateTestZip(t, t.TempDir(), "x.zip", map[string]string{"a": "b"}))

	_, err := l.Download(context.Background(), loader.DownloadRequest{Name: "x", URL: srv.URL + "/missing"}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, plugins.ErrFetch))
	var fetchErr *plugins.FetchError
	require.True(t, errors.As(err, &fetchErr))
	assert.Equal(t, http.StatusNotFound, fetchErr.StatusCode)
}

func TestInstall(t *testing.T) {
	t.Run("Strips the repository folder", func(t *testing.T) {
		l, _ := newLoader(t)
		archive := testutil.CreateTestZip(t, t.TempDir(), "notes.zip", map[string]string{
			"notes-main/package.json": `{"name":"notes","version":"1.0.0"}`,
			"notes-main/index.js":     "module.exports = {};",
			"notes-main/lib/util.js":  "",
		})

		dir, err := l.Install(context.Background(), loader.InstallRequest{Name: "notes", ProfileID: "default", SavedPath: archive})
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(l.ProfileDir("default"), "notes"), dir)
		assert.FileExists(t, filepath.Join(dir, "package.json"))
		assert.FileExists(t, filepath.Join(dir, "lib", "util.js"))
		assert.NoFileExists(t, archive, "the downloaded archive is cleaned up")

		found, err := l.Find(context.Background(), dir)
		require.NoError(t, err)
		assert.Equal(t, "1.0.0", found.Manifest["version"])
	})

	t.Run("Installs a monorepo subdirectory", func(t *testing.T) {
		l, _ := newLoader(t)
		archive := testutil.CreateTestZip(t, t.TempDir(), "mono.zip", map[string]string{
			"mono-develop/package.json":               `{"name":"mono-root"}`,
			"mono-develop/plugins/notes/package.json": `{"name":"@scope/notes"}`,
			"mono-develop/plugins/notes/index.js":     "",
			"mono-develop/plugins/other/package.json": `{"name":"other"}`,
		})

		dir, err := l.Install(context.Background(), loader.InstallRequest{
			Name:         "@scope/notes",
			ProfileID:    "default",
			SavedPath:    archive,
			SubDirectory: "plugins/notes",
		})
		require.NoError(t, err)
		assert.Equal(t, "@scope__notes", filepath.Base(dir))
		found, err := l.Find(context.Background(), dir)
		require.NoError(t, err)
		assert.Equal(t, "@scope/notes", found.Manifest["name"])
		assert.NoDirExists(t, filepath.Join(dir, "plugins"))
	})

	t.Run("Replaces an existing install", func(t *testing.T) {
		l, _ := newLoader(t)
		old := testutil.CreateTestPlugin(t, l.ProfileDir("default"), "notes", map[string]any{"name": "notes", "version": "0.1.0"})
		require.NoError(t, os.WriteFile(filepath.Join(old, "stale.js"), []byte("x"), 0644))
		archive := testutil.CreateTestZip(t, t.TempDir(), "notes.zip", map[string]string{
			"package.json": `{"name":"notes","version":"0.2.0"}`,
		})

		dir, err := l.Install(context.Background(), loader.InstallRequest{Name: "notes", ProfileID: "default", SavedPath: archive})
		require.NoError(t, err)
		assert.Equal(t, old, dir)
		assert.NoFileExists(t, filepath.Join(dir, "stale.js"))
	})

	t.Run("Invalid manifest keeps the previous install", func(t *testing.T) {
		l, _ := newLoader(t)
		old := testutil.CreateTestPlugin(t, l.ProfileDir("default"), "notes", map[string]any{"name": "notes", "version": "1.0.0"})
		archive := testutil.CreateTestZip(t, t.TempDir(), "notes.zip", map[string]string{
			"notes-main/package.json": `{"version":"2.0.0"}`,
		})

		_, err := l.Install(context.Background(), loader.InstallRequest{Name: "notes", ProfileID: "default", SavedPath: archive})
		require.Error(t, err)
		assert.True(t, errors.Is(err, plugins.ErrValidation))

		found, err := l.Find(context.Background(), old)
		require.NoError(t, err)
		assert.Equal(t, "1.0.0", found.Manifest["version"])
		assert.FileExists(t, filepath.Join(old, "index.js"))
	})

	t.Run("Archive for another plugin is rejected", func(t *testing.T) {
		l, _ := newLoader(t)
		old := testutil.CreateTestPlugin(t, l.ProfileDir("default"), "notes", map[string]any{"name": "notes", "version": "1.0.0"})
		archive := testutil.CreateTestZip(t, t.TempDir(), "other.zip", map[string]string{
			"package.json": `{"name":"other","version":"2.0.0"}`,
		})

		_, err := l.Install(context.Background(), loader.InstallRequest{Name: "notes", ProfileID: "default", SavedPath: archive})
		require.Error(t, err)
		assert.True(t, errors.Is(err, plugins.ErrValidation))
		assert.Contains(t, err.Error(), `"other"`)

		found, err := l.Find(context.Background(), old)
		require.NoError(t, err)
		assert.Equal(t, "notes", found.Manifest["name"])
		assert.NoDirExists(t, filepath.Join(l.ProfileDir("default"), "other"))
	})

	t.Run("No staging or backup directories are left behind", func(t *testing.T) {
		l, _ := newLoader(t)
		testutil.CreateTestPlugin(t, l.ProfileDir("default"), "notes", map[string]any{"name": "notes", "version": "1.0.0"})
		archive := testutil.CreateTestZip(t, t.TempDir(), "notes.zip", map[string]string{
			"package.json": `{"name":"notes","version":"1.1.0"}`,
		})
		_, err := l.Install(context.Background(), loader.InstallRequest{Name: "notes", ProfileID: "default", SavedPath: archive})
		require.NoError(t, err)

		entries, err := os.ReadDir(l.ProfileDir("default"))
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "notes", entries[0].Name())
	})

	t.Run("Profile path that is a file fails", func(t *testing.T) {
		l, root := newLoader(t)
		require.NoError(t, os.WriteFile(filepath.Join(root, "default"), []byte("x"), 0644))
		archive := testutil.CreateTestZip(t, t.TempDir(), "notes.zip", map[string]string{
			"package.json": `{"name":"notes","version":"1.0.0"}`,
		})
		_, err := l.Install(context.Background(), loader.InstallRequest{Name: "notes", ProfileID: "default", SavedPath: archive})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not a directory")
	})

	t.Run("Missing subdirectory fails", func(t *testing.T) {
		l, _ := newLoader(t)
		archive := testutil.CreateTestZip(t, t.TempDir(), "mono.zip", map[string]string{
			"mono-main/package.json": `{"name":"mono"}`,
		})
		_, err := l.Install(context.Background(), loader.InstallRequest{
			Name: "notes", ProfileID: "default", SavedPath: archive, SubDirectory: "plugins/notes",
		})
		assert.Error(t, err)
		assert.NoDirExists(t, filepath.Join(l.ProfileDir("default"), "notes"))
	})

	t.Run("Archive without manifest fails", func(t *testing.T) {
		l, _ := newLoader(t)
		archive := testutil.CreateTestZip(t, t.TempDir(), "junk.zip", map[string]string{"readme.md": "hi", "src/a.js": ""})
		_, err := l.Install(context.Background(), loader.InstallRequest{Name: "junk", ProfileID: "default", SavedPath: archive})
		assert.Error(t, err)
	})

	t.Run("Traversal in subdirectory is rejected", func(t *testing.T) {
		l, _ := newLoader(t)
		_, err := l.Install(context.Background(), loader.InstallRequest{
			Name: "notes", ProfileID: "default", SavedPath: "unused.zip", SubDirectory: "../../etc",
		})
		assert.Error(t, err)
	})

	t.Run("Entries cannot escape the staging directory", func(t *testing.T) {
		l, root := newLoader(t)
		archive := testutil.CreateTestZip(t, t.TempDir(), "evil.zip", map[string]string{
			"package.json":    `{"name":"evil"}`,
			"../../escape.js": "boom",
		})
		l.Install(context.Background(), loader.InstallRequest{Name: "evil", ProfileID: "default", SavedPath: archive})
		assert.NoFileExists(t, filepath.Join(root, "escape.js"))
		assert.NoFileExists(t, filepath.Join(filepath.Dir(root), "escape.js"))
	})

	t.Run("Not an archive", func(t *testing.T) {
		l, _ := newLoader(t)
		path := filepath.Join(t.TempDir(), "plain.bin")
		require.NoError(t, os.WriteFile(path, []byte("definitely not an archive"), 0644))
		_, err := l.Install(context.Background(), loader.InstallRequest{Name: "x", ProfileID: "default", SavedPath: path})
		assert.Error(t, err)
	})
}
