package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/vrsandeep/plugman/internal/manager"
)

const defaultHistoryLimit = 20

// profileParam returns the profile named by the query string, falling back
// to the configured default profile.
func (s *Server) profileParam(r *http.Request) string {
	if p := r.URL.Query().Get("profile"); p != "" {
		return p
	}
	return s.app.Config().Plugins.DefaultProfile
}

// handleListPlugins lists installed and available plugins. An optional
// "q" parameter replaces the current filter.
func (s *Server) handleListPlugins(w http.ResponseWriter, r *http.Request) {
	if q, ok := r.URL.Query()["q"]; ok {
		s.plugins.FilterBy(q[0])
	}
	RespondWithJSON(w, http.StatusOK, s.plugins.List(s.profileParam(r)))
}

// handleFetchPackages refreshes the registry catalog.
func (s *Server) handleFetchPackages(w http.ResponseWriter, r *http.Request) {
	pkgs := s.plugins.FetchPluginPackages(r.Context())
	RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(pkgs),
		"message": fmt.Sprintf("Fetched %d plugin packages", len(pkgs)),
	})
}

// handleFetchManifest adds a plugin from a repository or manifest URL.
func (s *Server) handleFetchManifest(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.URL == "" {
		RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	cfg, err := s.plugins.FetchLatestPackageConfiguration(r.Context(), payload.URL)
	if err != nil {
		RespondWithPluginError(w, err)
		return
	}
	RespondWithJSON(w, http.StatusOK, s.plugins.MapConfigToPluginData(s.profileParam(r), cfg))
}

func (s *Server) handleSetFilter(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Query string `json:"query"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	s.plugins.FilterBy(payload.Query)
	RespondWithJSON(w, http.StatusOK, map[string]string{"query": s.plugins.Filters()})
}

func (s *Server) handleResetFilter(w http.ResponseWriter, r *http.Request) {
	s.plugins.ResetFilters()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListProgress(w http.ResponseWriter, r *http.Request) {
	RespondWithJSON(w, http.StatusOK, s.plugins.AllUpdateProgress())
}

// handleGetPlugin gets information about a specific plugin
func (s *Server) handleGetPlugin(w http.ResponseWriter, r *http.Request) {
	pluginID := getPluginID(r)

	cfg, ok := s.plugins.Find(pluginID)
	if !ok {
		RespondWithError(w, http.StatusNotFound, "Plugin not found")
		return
	}
	RespondWithJSON(w, http.StatusOK, s.plugins.MapConfigToPluginData(s.profileParam(r), cfg))
}

func (s *Server) handleGetUpdateStatus(w http.ResponseWriter, r *http.Request) {
	pluginID := getPluginID(r)
	if _, ok := s.app.Registry().FindByID(pluginID); !ok {
		RespondWithError(w, http.StatusNotFound, "Plugin is not installed")
		return
	}
	RespondWithJSON(w, http.StatusOK, s.plugins.CheckUpdateStatus(pluginID))
}

// handleUpdatePlugin starts installing the latest version of a plugin in
// the background. Progress is reported on the progress endpoints and the
// websocket.
func (s *Server) handleUpdatePlugin(w http.ResponseWriter, r *http.Request) {
	pluginID := getPluginID(r)

	// Install what the remote side offers; fall back to reinstalling the
	// local manifest's source.
	cfg, ok := s.plugins.Remote(pluginID)
	if !ok {
		cfg, ok = s.plugins.Find(pluginID)
	}
	if !ok {
		RespondWithError(w, http.StatusNotFound, "Plugin not found")
		return
	}

	profile := s.profileParam(r)
	data := s.plugins.MapConfigToPluginData(profile, cfg)
	// The request context ends with the response.
	if err := s.plugins.StartUpdate(context.Background(), data, profile); err != nil {
		if errors.Is(err, manager.ErrUpdateInProgress) {
			RespondWithError(w, http.StatusConflict, fmt.Sprintf("Plugin %s is already being updated", pluginID))
			return
		}
		RespondWithError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	RespondWithJSON(w, http.StatusAccepted, map[string]string{
		"message": fmt.Sprintf("Update of %s started", pluginID),
	})
}

func (s *Server) handleGetProgress(w http.ResponseWriter, r *http.Request) {
	pluginID := getPluginID(r)
	p, ok := s.plugins.UpdateProgress(pluginID)
	if !ok {
		RespondWithError(w, http.StatusNotFound, "No update in progress")
		return
	}
	RespondWithJSON(w, http.StatusOK, p)
}

// handleDeletePlugin removes an installed plugin from disk and the host.
func (s *Server) handleDeletePlugin(w http.ResponseWriter, r *http.Request) {
	pluginID := getPluginID(r)
	if _, ok := s.app.Registry().FindByID(pluginID); !ok {
		RespondWithError(w, http.StatusNotFound, "Plugin is not installed")
		return
	}

	if err := s.plugins.DeletePlugin(r.Context(), pluginID, s.profileParam(r)); err != nil {
		RespondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to remove plugin: %v", err))
		return
	}
	RespondWithJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("Plugin %s removed successfully", pluginID),
	})
}

func (s *Server) handleEnablePlugin(w http.ResponseWriter, r *http.Request) {
	pluginID := getPluginID(r)
	profile := s.profileParam(r)
	if err := s.app.Registry().Enable(profile, pluginID); err != nil {
		RespondWithError(w, http.StatusNotFound, err.Error())
		return
	}
	started := s.app.Registry().RunAllEnabled(r.Context(), profile)
	RespondWithJSON(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("Plugin %s enabled", pluginID),
		"started": started,
	})
}

func (s *Server) handleDisablePlugin(w http.ResponseWriter, r *http.Request) {
	pluginID := getPluginID(r)
	s.app.Registry().Disable(s.profileParam(r), pluginID)
	RespondWithJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("Plugin %s disabled", pluginID),
	})
}

// handleGetInstallHistory lists the install ledger of a plugin, newest first.
func (s *Server) handleGetInstallHistory(w http.ResponseWriter, r *http.Request) {
	pluginID := getPluginID(r)

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		var err error
		limit, err = strconv.Atoi(v)
		if err != nil || limit <= 0 {
			RespondWithError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
	}

	history, err := s.store.GetInstallHistory(pluginID, s.profileParam(r), limit)
	if err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to load install history")
		return
	}
	RespondWithJSON(w, http.StatusOK, history)
}

func (s *Server) handleGetReportURL(w http.ResponseWriter, r *http.Request) {
	pluginID := getPluginID(r)
	link, err := s.plugins.ReportURL(pluginID)
	if err != nil {
		RespondWithError(w, http.StatusNotFound, err.Error())
		return
	}
	RespondWithJSON(w, http.StatusOK, map[string]string{"url": link})
}

func (s *Server) handleOpenReport(w http.ResponseWriter, r *http.Request) {
	pluginID := getPluginID(r)
	if err := s.plugins.OpenReport(pluginID); err != nil {
		RespondWithError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
