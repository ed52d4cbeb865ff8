package api

// This file contains the middleware for plugin-scoped routes.

import (
	"context"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
)

// contextKey is a private type to prevent collisions with other context keys.
type contextKey string

const pluginIDContextKey = contextKey("pluginID")

// PluginIDMiddleware decodes the plugin id of the route and injects it into
// the request's context. Scoped ids arrive percent-encoded ("%40scope%2Fname").
func (s *Server) PluginIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pluginID, err := url.PathUnescape(chi.URLParam(r, "pluginID"))
		if err != nil || pluginID == "" {
			RespondWithError(w, http.StatusBadRequest, "Invalid plugin ID")
			return
		}

		ctx := context.WithValue(r.Context(), pluginIDContextKey, pluginID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// getPluginID retrieves the plugin id stored by PluginIDMiddleware.
func getPluginID(r *http.Request) string {
	pluginID, _ := r.Context().Value(pluginIDContextKey).(string)
	return pluginID
}
