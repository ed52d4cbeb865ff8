package api_test

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vrsandeep/plugman/internal/manager"
	"github.com/vrsandeep/plugman/internal/models"
	"github.com/vrsandeep/plugman/internal/plugins"
	"github.com/vrsandeep/plugman/internal/testutil"
)

// remotePlugin serves a manifest at /package.json and its archive at
// /notes.zip.
func remotePlugin(t *testing.T, version string) *httptest.Server {
	t.Helper()
	archive := testutil.CreateTestZip(t, t.TempDir(), "notes.zip", map[string]string{
		"notes-main/package.json": testutil.ManifestJSON(t, map[string]any{"name": "notes", "version": version}),
		"notes-main/index.js":     "module.exports = {};",
	})

	r := chi.NewRouter()
	var srv *httptest.Server
	r.Get("/package.json", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(testutil.ManifestJSON(t, map[string]any{
			"name":    "notes",
			"version": version,
			"plugman": map[string]any{"title": "Notes", "archiveUrl": srv.URL + "/notes.zip"},
		})))
	})
	r.Get("/notes.zip", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, archive)
	})
	r.Get("/invalid.json", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"version":"1.0.0"}`))
	})
	srv = httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestListAndGetPlugins(t *testing.T) {
	server, app := setupTestServer(t)
	router := server.Router()

	profileDir := app.Loader().ProfileDir("default")
	testutil.CreateTestPlugin(t, profileDir, "@scope__notes", map[string]any{
		"name": "@scope/notes", "version": "1.0.0", "description": "Take notes",
	})
	testutil.CreateTestPlugin(t, profileDir, "clock", map[string]any{"name": "clock", "version": "2.0.0"})
	_, err := app.Plugins().LoadInstalled(t.Context(), "default")
	require.NoError(t, err)

	t.Run("List", func(t *testing.T) {
		rr := doRequest(t, router, "GET", "/api/plugins", nil)
		require.Equal(t, http.StatusOK, rr.Code)

		var list []plugins.PluginData
		decode(t, rr, &list)
		require.Len(t, list, 2)
		assert.Equal(t, "@scope/notes", list[0].ID)
		assert.True(t, list[0].Installed)
	})

	t.Run("List With Query", func(t *testing.T) {
		rr := doRequest(t, router, "GET", "/api/plugins?q=notes", nil)
		var list []plugins.PluginData
		decode(t, rr, &list)
		require.Len(t, list, 1)
		assert.Equal(t, "notes", app.Plugins().Filters())

		rr = doRequest(t, router, "DELETE", "/api/plugins/filter", nil)
		assert.Equal(t, http.StatusNoContent, rr.Code)
		assert.Empty(t, app.Plugins().Filters())
	})

	t.Run("Set Filter", func(t *testing.T) {
		rr := doRequest(t, router, "POST", "/api/plugins/filter", map[string]string{"query": "clock"})
		require.Equal(t, http.StatusOK, rr.Code)
		rr = doRequest(t, router, "GET", "/api/plugins", nil)
		var list []plugins.PluginData
		decode(t, rr, &list)
		require.Len(t, list, 1)
		assert.Equal(t, "clock", list[0].ID)
		app.Plugins().ResetFilters()
	})

	t.Run("Get Scoped Plugin", func(t *testing.T) {
		rr := doRequest(t, router, "GET", "/api/plugins/%40scope%2Fnotes", nil)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

		var data plugins.PluginData
		decode(t, rr, &data)
		assert.Equal(t, "@scope/notes", data.ID)
		assert.Equal(t, "Take notes", data.Description)
	})

	t.Run("Get Unknown Plugin", func(t *testing.T) {
		rr := doRequest(t, router, "GET", "/api/plugins/missing", nil)
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("Enable And Disable", func(t *testing.T) {
		rr := doRequest(t, router, "POST", "/api/plugins/clock/enable?profile=work", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.True(t, app.Registry().IsEnabled("work", "clock"))
		assert.False(t, app.Registry().IsEnabled("default", "clock"))
		var enabled struct {
			Started []string `json:"started"`
		}
		decode(t, rr, &enabled)
		assert.Equal(t, []string{"clock"}, enabled.Started)

		rr = doRequest(t, router, "GET", "/api/plugins/clock?profile=work", nil)
		var data plugins.PluginData
		decode(t, rr, &data)
		assert.True(t, data.Enabled)
		assert.True(t, data.Launchable)
		assert.True(t, data.Running)

		rr = doRequest(t, router, "POST", "/api/plugins/clock/disable?profile=work", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.False(t, app.Registry().IsEnabled("work", "clock"))

		rr = doRequest(t, router, "POST", "/api/plugins/missing/enable", nil)
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("Update Status Of Uninstalled Plugin", func(t *testing.T) {
		rr := doRequest(t, router, "GET", "/api/plugins/missing/update-status", nil)
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("Report URL", func(t *testing.T) {
		rr := doRequest(t, router, "GET", "/api/plugins/clock/report", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"url":"https://issues.example.com/new?plugin=clock&version=2.0.0"}`, rr.Body.String())

		rr = doRequest(t, router, "POST", "/api/plugins/clock/report", nil)
		assert.Equal(t, http.StatusNoContent, rr.Code)
	})
}

func TestFetchManifest(t *testing.T) {
	server, _ := setupTestServer(t)
	router := server.Router()
	remote := remotePlugin(t, "1.2.0")

	testCases := []struct {
		name       string
		body       interface{}
		wantStatus int
	}{
		{"Missing URL", map[string]string{}, http.StatusBadRequest},
		{"Unsupported URL", map[string]string{"url": "ftp://example.com/plugin"}, http.StatusBadRequest},
		{"Manifest Without Name", map[string]string{"url": remote.URL + "/invalid.json"}, http.StatusUnprocessableEntity},
		{"Unreachable Manifest", map[string]string{"url": remote.URL + "/gone.json"}, http.StatusBadGateway},
		{"Valid Manifest", map[string]string{"url": remote.URL + "/package.json"}, http.StatusOK},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rr := doRequest(t, router, "POST", "/api/plugins/manifest", tc.body)
			assert.Equal(t, tc.wantStatus, rr.Code, rr.Body.String())
		})
	}

	rr := doRequest(t, router, "GET", "/api/plugins/notes", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var data plugins.PluginData
	decode(t, rr, &data)
	assert.Equal(t, "Notes", data.Title)
	assert.False(t, data.Installed)
}

func TestUpdateAndDeletePlugin(t *testing.T) {
	server, app := setupTestServer(t)
	router := server.Router()
	remote := remotePlugin(t, "1.2.0")

	rr := doRequest(t, router, "POST", "/api/plugins/manifest", map[string]string{"url": remote.URL + "/package.json"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = doRequest(t, router, "POST", "/api/plugins/notes/update", nil)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())

	require.Eventually(t, func() bool {
		p, ok := app.Plugins().UpdateProgress("notes")
		return ok && (p.Completed || p.Failed)
	}, 5*time.Second, 10*time.Millisecond)

	rr = doRequest(t, router, "GET", "/api/plugins/notes/progress", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var progress manager.UpdateProgress
	decode(t, rr, &progress)
	assert.Equal(t, manager.StateCompleted, progress.State, progress.Error)
	assert.Equal(t, "1.2.0", progress.Version)

	rr = doRequest(t, router, "GET", "/api/plugins/progress", nil)
	var all map[string]manager.UpdateProgress
	decode(t, rr, &all)
	assert.Contains(t, all, "notes")

	dir := filepath.Join(app.Loader().ProfileDir("default"), "notes")
	assert.FileExists(t, filepath.Join(dir, "package.json"))

	rr = doRequest(t, router, "GET", "/api/plugins/notes/update-status", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var status plugins.UpdateStatus
	decode(t, rr, &status)
	assert.False(t, status.Available())

	rr = doRequest(t, router, "GET", "/api/plugins/notes/history?limit=5", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var history []models.InstallRecord
	decode(t, rr, &history)
	require.Len(t, history, 1)
	assert.Equal(t, models.InstallCompleted, history[0].Status)
	assert.Equal(t, "1.2.0", history[0].Version)

	rr = doRequest(t, router, "GET", "/api/plugins/notes/history?limit=zero", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = doRequest(t, router, "DELETE", "/api/plugins/notes", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	_, statErr := os.Stat(dir)
	assert.True(t, os.IsNotExist(statErr))
	_, installed := app.Registry().FindByID("notes")
	assert.False(t, installed)

	rr = doRequest(t, router, "DELETE", "/api/plugins/notes", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestUpdateAlreadyRunning(t *testing.T) {
	server, app := setupTestServer(t)
	router := server.Router()

	archive := testutil.CreateTestZip(t, t.TempDir(), "notes.zip", map[string]string{
		"notes-main/package.json": testutil.ManifestJSON(t, map[string]any{"name": "notes", "version": "1.2.0"}),
	})
	release := make(chan struct{})
	var releaseOnce sync.Once
	unblock := func() { releaseOnce.Do(func() { close(release) }) }

	r := chi.NewRouter()
	var srv *httptest.Server
	r.Get("/package.json", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(testutil.ManifestJSON(t, map[string]any{
			"name":    "notes",
			"version": "1.2.0",
			"plugman": map[string]any{"archiveUrl": srv.URL + "/notes.zip"},
		})))
	})
	r.Get("/notes.zip", func(w http.ResponseWriter, r *http.Request) {
		<-release
		http.ServeFile(w, r, archive)
	})
	srv = httptest.NewServer(r)
	t.Cleanup(srv.Close)
	t.Cleanup(unblock)

	rr := doRequest(t, router, "POST", "/api/plugins/manifest", map[string]string{"url": srv.URL + "/package.json"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = doRequest(t, router, "POST", "/api/plugins/notes/update", nil)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())

	rr = doRequest(t, router, "POST", "/api/plugins/notes/update", nil)
	assert.Equal(t, http.StatusConflict, rr.Code, rr.Body.String())

	unblock()
	require.Eventually(t, func() bool {
		p, ok := app.Plugins().UpdateProgress("notes")
		return ok && p.Completed
	}, 5*time.Second, 10*time.Millisecond)

	// The reservation is released once the update finishes.
	rr = doRequest(t, router, "POST", "/api/plugins/notes/update", nil)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	require.Eventually(t, func() bool {
		p, ok := app.Plugins().UpdateProgress("notes")
		return ok && (p.Completed || p.Failed)
	}, 5*time.Second, 10*time.Millisecond)
}

func TestUpdateUnknownPlugin(t *testing.T) {
	server, _ := setupTestServer(t)
	rr := doRequest(t, server.Router(), "POST", "/api/plugins/missing/update", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = doRequest(t, server.Router(), "GET", "/api/plugins/missing/progress", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestFetchPackagesWithoutRegistry(t *testing.T) {
	server, _ := setupTestServer(t)
	rr := doRequest(t, server.Router(), "POST", "/api/plugins/fetch", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var body map[string]interface{}
	decode(t, rr, &body)
	assert.Equal(t, float64(0), body["count"])
}
