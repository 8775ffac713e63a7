// Package api exposes the operator surface: usage reports, the
// analysis journal, rule and camera administration, manual triggers
// and the live alert stream.
package api

import (
	"encoding/json"
	"net/http"
	"regexp"
)

// cameraIDRegex bounds camera identifiers the way the capture layer
// names them. Rejecting early keeps junk out of Redis keys and logs.
var cameraIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
