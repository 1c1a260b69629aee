package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Status  int    `json:"status"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes an ErrorBody with the given status.
func WriteError(w http.ResponseWriter, status int, title, message string) {
	writeJSON(w, status, ErrorBody{Error: title, Message: message, Status: status})
}

// WriteNotFound answers any route other than the token endpoint.
func WriteNotFound(w http.ResponseWriter) {
	WriteError(w, http.StatusNotFound, "Endpoint not found", "Use "+TokenPath+" to get a JWT")
}

// WriteTooManyRequests writes a 429 with Retry-After.
func WriteTooManyRequests(w http.ResponseWriter, retryAfterSecs int) {
	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSecs))
	WriteError(w, http.StatusTooManyRequests, "Too Many Requests", "Rate limit exceeded. Retry after the specified interval.")
}

// WriteInternal writes a 500. err is logged, never sent to the client.
func WriteInternal(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	logger.ErrorContext(r.Context(), "internal server error",
		"error", err,
		"request_id", RequestID(r.Context()),
	)
	WriteError(w, http.StatusInternalServerError, "Internal Server Error", "An unexpected error occurred. Please try again later.")
}
