// Package api provides HTTP handlers for the assessment API.
package api

import (
	"encoding/json"
	"net/http"
	"os"
	"strings"
)

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// isDevelopment returns true if running in development mode.
func isDevelopment(frontendURL string) bool {
	if env := os.Getenv("APP_ENV"); env != "" {
		return env == "development"
	}
	return frontendURL == "" ||
		strings.Contains(frontendURL, "localhost") ||
		strings.Contains(frontendURL, "127.0.0.1")
}
