package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vrsandeep/plugman/internal/api"
	"github.com/vrsandeep/plugman/internal/config"
	"github.com/vrsandeep/plugman/internal/core"
	"github.com/vrsandeep/plugman/internal/testutil"
)

// setupTestServer builds a full application over a fresh database and a
// temporary plugins directory.
func setupTestServer(t *testing.T) (*api.Server, *core.App) {
	t.Helper()
	database := testutil.SetupTestDB(t)

	cfg := &config.Config{}
	cfg.HostVersion = "1.5.0"
	cfg.Plugins.Path = filepath.Join(t.TempDir(), "plugins")
	cfg.Plugins.DefaultProfile = "default"
	cfg.Registry.Timeout = 5
	cfg.GitHub.DefaultBranch = "master"
	cfg.Report.URLTemplate = "https://issues.example.com/new?plugin={id}&version={version}"

	app := core.NewApp(cfg, database, core.LogOpener{})
	t.Cleanup(func() { app.Plugins().Close() })
	return api.NewServer(app), app
}

// doRequest runs a request against the router, encoding body as JSON when
// it is not nil.
func doRequest(t *testing.T, h http.Handler, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), v), rr.Body.String())
}
