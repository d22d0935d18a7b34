package web

// errors.go provides unified error response handling for the web layer.
//
// It ensures all errors are:
//   - Logged with full technical details and the request ID (server-side)
//   - Returned to clients as coded, user-friendly messages with an action
//   - Given a status code derived from the error, not chosen per handler
//
// The error flow:
//  1. Handler encounters an error
//  2. Calls respondError(w, r, err)
//  3. statusFor picks the HTTP status from the sentinel in the chain
//  4. core.NewUserError pairs the technical error with its coded message

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/JonMunkholm/upcguard/internal/core"
	"github.com/JonMunkholm/upcguard/internal/ingest"
	"github.com/JonMunkholm/upcguard/internal/logging"
	"github.com/JonMunkholm/upcguard/internal/schema"
)

// Request-level errors raised by the handlers themselves.
var (
	errRateLimited = errors.New("rate limit exceeded")
	errNoFile      = errors.New("no file provided")
	errBadRequest  = errors.New("invalid request")
)

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code) and human-readable (Message, Action) fields.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// statusFor maps an error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrRunNotFound), errors.Is(err, core.ErrConflictNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrRunNotResumable), errors.Is(err, core.ErrRunImmutable),
		errors.Is(err, core.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, core.ErrSourceUnavailable):
		return http.StatusGone
	case errors.Is(err, core.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, core.ErrTooManyRuns), errors.Is(err, core.ErrShuttingDown):
		return http.StatusServiceUnavailable
	case errors.Is(err, errRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, schema.ErrInvalidMapping), errors.Is(err, core.ErrInvalidThresholds),
		errors.Is(err, ingest.ErrUnknownFormat), errors.Is(err, errNoFile), errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// respondError logs the technical error and writes the coded user message.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	ue := core.NewUserError(err)
	status := statusFor(ue)
	msg := ue.User

	level := slog.LevelWarn
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		level = slog.LevelError
	}
	logging.FromContext(r.Context()).Log(r.Context(), level, "request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", ue.Technical.Error(),
		"code", msg.Code,
	)

	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "30")
	}
	writeJSON(w, r, status, ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	})
}
