package http

import (
	"encoding/json"
	"net/http"
)

// errorResponse is the JSON body for gateway error responses.
type errorResponse struct {
	Error   string        `json:"error"`
	Message string        `json:"message"`
	Details *errorDetails `json:"details,omitempty"`
}

// errorDetails carries the machine-readable retry information on 429s.
type errorDetails struct {
	RetryAfterSeconds int64  `json:"retryAfterSeconds"`
	LimitResetTime    string `json:"limitResetTime"`
}

// writeJSONError writes a structured JSON error response.
func writeJSONError(w http.ResponseWriter, status int, errCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: errCode, Message: message})
}

// writeRateLimited writes the 429 response body with retry details.
func writeRateLimited(w http.ResponseWriter, message string, retryAfterSeconds int64, limitResetTime string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(errorResponse{
		Error:   "RateLimitExceeded",
		Message: message,
		Details: &errorDetails{
			RetryAfterSeconds: retryAfterSeconds,
			LimitResetTime:    limitResetTime,
		},
	})
}
