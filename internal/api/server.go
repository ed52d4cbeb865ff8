// It defines the API server, sets up the routes (endpoints)
// using chi, and links them to the handler functions.

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vrsandeep/plugman/internal/core"
	"github.com/vrsandeep/plugman/internal/manager"
	"github.com/vrsandeep/plugman/internal/store"
)

// Server holds the dependencies for our API.
type Server struct {
	app     *core.App
	store   *store.Store
	plugins *manager.Manager
}

// Store returns the store instance.
func (s *Server) Store() *store.Store {
	return s.store
}

// NewServer creates a new Server instance.
func NewServer(app *core.App) *Server {
	return &Server{
		app:     app,
		store:   app.Store(),
		plugins: app.Plugins(),
	}
}

// Router sets up and returns the main router for the application.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)    // Logs requests to the console
	r.Use(middleware.Recoverer) // Recovers from panics
	r.Use(middleware.Timeout(60 * time.Second))

	r.Route("/api", func(r chi.Router) {
		r.Get("/version", s.handleGetVersion)

		// Plugin Routes
		r.Get("/plugins", s.handleListPlugins)
		r.Post("/plugins/fetch", s.handleFetchPackages)
		r.Post("/plugins/manifest", s.handleFetchManifest)
		r.Post("/plugins/filter", s.handleSetFilter)
		r.Delete("/plugins/filter", s.handleResetFilter)
		r.Get("/plugins/progress", s.handleListProgress)

		r.Route("/plugins/{pluginID}", func(r chi.Router) {
			r.Use(s.PluginIDMiddleware)
			r.Get("/", s.handleGetPlugin)
			r.Delete("/", s.handleDeletePlugin)
			r.Get("/update-status", s.handleGetUpdateStatus)
			r.Post("/update", s.handleUpdatePlugin)
			r.Get("/progress", s.handleGetProgress)
			r.Post("/enable", s.handleEnablePlugin)
			r.Post("/disable", s.handleDisablePlugin)
			r.Get("/history", s.handleGetInstallHistory)
			r.Get("/report", s.handleGetReportURL)
			r.Post("/report", s.handleOpenReport)
		})

		// Job Routes
		r.Get("/jobs/status", s.handleGetJobsStatus)
		r.Post("/jobs/run", s.handleRunJob)
	})

	// WebSocket route
	r.Get("/ws/progress", func(w http.ResponseWriter, r *http.Request) {
		s.app.WsHub().ServeWs(w, r)
	})

	r.Handle("/metrics", promhttp.HandlerFor(s.app.Metrics(), promhttp.HandlerOpts{}))

	r.Get("/api/health", func(w http.ResponseWriter, r *http.Request) {
		if err := s.store.Ping(); err != nil {
			RespondWithError(w, http.StatusServiceUnavailable, "Database connection failed")
			return
		}
		RespondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}
