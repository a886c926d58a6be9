package web

// errors.go provides unified error response handling for the web layer.
//
// Every handler error flows through respondError, which logs the technical
// error with the request id and returns a JSON body carrying a stable code
// users can quote to support, a human-readable message, and a suggested
// action.
//
// Error codes are grouped by category:
//
//	FILE001 - file exceeds the upload size limit
//	FILE002 - unsupported file format
//	FILE003 - file could not be parsed
//	IMP001  - too many concurrent imports
//	IMP002  - import session not found or expired
//	IMP003  - operation not valid in the session's current phase
//	IMP004  - customer number conflict during persist
//	DB001   - database unavailable
//	ERR000  - fallback for unexpected errors

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"kundimport/internal/importer"
	"kundimport/internal/ingest"
	"kundimport/internal/store"
)

// UserMessage is a user-facing rendering of an internal error.
type UserMessage struct {
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// ErrorResponse is the JSON structure for API error responses.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// mapError converts an internal error to a user-facing message. Sentinel
// errors are matched first; a couple of database failure modes fall back
// to substring matching on the driver's message.
func mapError(err error) UserMessage {
	var parseErr *ingest.ParseError

	switch {
	case errors.Is(err, ingest.ErrFileTooLarge):
		return UserMessage{
			Message: "The file exceeds the 10 MB size limit",
			Action:  "Split the file into smaller parts and import them separately",
			Code:    "FILE001",
		}
	case errors.Is(err, ingest.ErrUnsupportedFormat):
		return UserMessage{
			Message: "The file format is not supported",
			Action:  "Upload a .csv or .xlsx file, or download the template",
			Code:    "FILE002",
		}
	case errors.As(err, &parseErr):
		return UserMessage{
			Message: "The file could not be read",
			Action:  "Check that the file is a valid CSV or Excel export and try again",
			Code:    "FILE003",
		}
	case errors.Is(err, importer.ErrTooManyImports):
		return UserMessage{
			Message: "Too many imports are running right now",
			Action:  "Wait a moment and try again",
			Code:    "IMP001",
		}
	case errors.Is(err, importer.ErrSessionNotFound):
		return UserMessage{
			Message: "The import session was not found",
			Action:  "The session may have expired; start a new import",
			Code:    "IMP002",
		}
	case errors.Is(err, importer.ErrWrongPhase):
		return UserMessage{
			Message: "This action is not available in the import's current state",
			Action:  "Reload the session status and try again",
			Code:    "IMP003",
		}
	case errors.Is(err, store.ErrCustomerNumberConflict):
		return UserMessage{
			Message: "A customer number collision interrupted the import",
			Action:  "Check the import history and retry the remaining rows",
			Code:    "IMP004",
		}
	case errors.Is(err, context.DeadlineExceeded):
		return UserMessage{
			Message: "The operation timed out",
			Action:  "Try again with a smaller file",
			Code:    "DB001",
		}
	}

	errStr := strings.ToLower(err.Error())
	if strings.Contains(errStr, "connection refused") || strings.Contains(errStr, "connection reset") {
		return UserMessage{
			Message: "The database is temporarily unavailable",
			Action:  "Please try again in a few moments",
			Code:    "DB001",
		}
	}

	return defaultMessage
}

// statusFor picks the HTTP status for a mapped error.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ingest.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ingest.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, importer.ErrTooManyImports):
		return http.StatusTooManyRequests
	case errors.Is(err, importer.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, importer.ErrWrongPhase):
		return http.StatusConflict
	}

	var parseErr *ingest.ParseError
	if errors.As(err, &parseErr) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// respondError logs the technical error and writes the mapped JSON body.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	userMsg := mapError(err)
	statusCode := statusFor(err)

	slog.Error("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", statusCode,
		"error", err.Error(),
		"code", userMsg.Code,
		"request_id", middleware.GetReqID(r.Context()),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   userMsg.Message,
		Message: userMsg.Message,
		Action:  userMsg.Action,
		Code:    userMsg.Code,
	})
}

// respondBadRequest writes a plain 400 with the given message, for request
// shape problems that never reach the import pipeline.
func respondBadRequest(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   message,
		Message: message,
		Code:    "REQ001",
	})
}
