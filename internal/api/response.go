// Helper functions for sending standardized JSON responses.

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vrsandeep/plugman/internal/plugins"
)

// RespondWithJSON writes a JSON response with the given status code and payload.
func RespondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to marshal response")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

// RespondWithError writes a standardized JSON error response.
func RespondWithError(w http.ResponseWriter, code int, message string) {
	RespondWithJSON(w, code, map[string]string{"error": message})
}

// RespondWithPluginError maps the plugin error taxonomy to status codes.
// Validation failures also report the failing field.
func RespondWithPluginError(w http.ResponseWriter, err error) {
	var verr *plugins.ValidationError
	switch {
	case errors.As(err, &verr):
		RespondWithJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": verr.Message, "field": verr.Field})
	case errors.Is(err, plugins.ErrResolution):
		RespondWithError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, plugins.ErrFetch):
		RespondWithError(w, http.StatusBadGateway, err.Error())
	default:
		RespondWithError(w, http.StatusInternalServerError, err.Error())
	}
}
