// Package api provides the REST handlers of the captioning service.
package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// splitPath returns the path segments after prefix.
func splitPath(path, prefix string) []string {
	path = strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

func formatTime(t time.Time) string {
	return t.Format(time.RFC3339)
}
