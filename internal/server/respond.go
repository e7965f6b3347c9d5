package server

import (
	"encoding/json"
	"net/http"
)

// Envelope is the body written when a response would otherwise be plain
// text or HTML.
type Envelope struct {
	StatusCode   int    `json:"statusCode"`
	Success      bool   `json:"success"`
	Error        string `json:"error"`
	OriginalMime string `json:"originalMime,omitempty"`
}

// ErrorEnvelope builds the envelope for a status. Success follows the
// status class.
func ErrorEnvelope(status int, message, originalMime string) Envelope {
	return Envelope{
		StatusCode:   status,
		Success:      status >= 200 && status < 300,
		Error:        message,
		OriginalMime: originalMime,
	}
}

// Result is the short body used by the webhook and provisioning endpoints.
type Result struct {
	Success bool   `json:"success"`
	Queued  bool   `json:"queued,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// WriteJSON writes v as the JSON response body.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
