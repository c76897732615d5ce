package handlers

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/hideki0403/ofuton/internal/telemetry"
)

// internalError responds with an opaque 500 carrying a fresh request ID.
// The underlying error is logged (and reported) under the same ID, so the
// client-visible body never leaks internals but stays correlatable.
func internalError(w http.ResponseWriter, err error) {
	requestID := uuid.NewString()
	slog.Error("Request failed", "request_id", requestID, "error", err)
	telemetry.CaptureError(err)
	http.Error(w, fmt.Sprintf("Internal Server Error (RequestID: %s)", requestID), http.StatusInternalServerError)
}
