package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"roomsync/internal/room"
	"roomsync/internal/syncerr"

	"github.com/sirupsen/logrus"
)

const maxBodyBytes = 64 << 10

// ValidationError represents a validation error with details
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// ValidationResult contains validation results
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// errorResponse is the body of every failed request
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// respondWithValidationError sends a structured validation error response
func (s *Server) respondWithValidationError(w http.ResponseWriter, r *http.Request, errs []ValidationError) {
	s.logger.WithFields(logrus.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
		"errors": errs,
	}).Warn("Validation failed")

	writeJSON(w, http.StatusBadRequest, ValidationResult{Valid: false, Errors: errs})
}

// respondWithError sends {"error": code, "message": message}
func (s *Server) respondWithError(w http.ResponseWriter, r *http.Request, statusCode int, code, message string, err error) {
	entry := s.logger.WithFields(logrus.Fields{
		"method":      r.Method,
		"path":        r.URL.Path,
		"status_code": statusCode,
		"code":        code,
	})
	if err != nil {
		entry = entry.WithError(err)
	}
	if statusCode >= 500 {
		entry.Error("Server error")
	} else {
		entry.Warn("Client error")
	}

	writeJSON(w, statusCode, errorResponse{Error: code, Message: message})
}

// respondWithSyncError classifies err and answers with the matching status
// and the user-facing message of its kind
func (s *Server) respondWithSyncError(w http.ResponseWriter, r *http.Request, err error) {
	classified := syncerr.Classify(err)
	s.respondWithError(w, r, statusForKind(classified.Kind), string(classified.Kind),
		syncerr.UserMessage(classified.Kind), err)
}

func statusForKind(kind syncerr.Kind) int {
	switch kind {
	case syncerr.KindInvalidRoomCode:
		return http.StatusBadRequest
	case syncerr.KindRoomNotFound:
		return http.StatusNotFound
	case syncerr.KindPermissionDenied:
		return http.StatusForbidden
	case syncerr.KindAlreadyInRoom, syncerr.KindNotInitialized:
		return http.StatusConflict
	case syncerr.KindConnectionFailed, syncerr.KindNetworkError:
		return http.StatusServiceUnavailable
	case syncerr.KindSyncFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody reads a JSON body into v. An empty body leaves v untouched.
func decodeBody(r *http.Request, v any) *ValidationError {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return &ValidationError{
			Field:   "body",
			Message: fmt.Sprintf("Invalid JSON body: %v", err),
			Code:    "INVALID_BODY",
		}
	}
	return nil
}

// validateRoomCode accepts codes with any case and whitespace
func validateRoomCode(code string) (string, *ValidationError) {
	formatted := room.FormatRoomCode(sanitizeInput(code))
	if formatted == "" {
		return "", &ValidationError{
			Field:   "code",
			Message: "Room code is required",
			Code:    "MISSING_ROOM_CODE",
		}
	}
	if !room.ValidateRoomCode(formatted) {
		return "", &ValidationError{
			Field:   "code",
			Message: fmt.Sprintf("Room code must be %d letters or digits", room.CodeLength),
			Code:    string(syncerr.KindInvalidRoomCode),
		}
	}
	return formatted, nil
}

// validateListID checks a local list id
func validateListID(listID string, required bool) (string, *ValidationError) {
	listID = sanitizeInput(listID)
	if listID == "" {
		if !required {
			return "", nil
		}
		return "", &ValidationError{
			Field:   "listId",
			Message: "List ID is required",
			Code:    "MISSING_LIST_ID",
		}
	}
	if len(listID) > 255 {
		return "", &ValidationError{
			Field:   "listId",
			Message: "List ID too long (max 255 characters)",
			Code:    "LIST_ID_TOO_LONG",
		}
	}
	return listID, nil
}

// validateUserID checks an optional user id; it becomes a store path segment
func validateUserID(userID string) (string, *ValidationError) {
	userID = sanitizeInput(userID)
	if userID == "" {
		return "", nil
	}
	if len(userID) > 128 || strings.ContainsAny(userID, "/.#$[]") {
		return "", &ValidationError{
			Field:   "userId",
			Message: "User ID contains invalid characters",
			Code:    "INVALID_USER_ID",
		}
	}
	return userID, nil
}

// sanitizeInput removes null bytes and surrounding whitespace
func sanitizeInput(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")
	return strings.TrimSpace(input)
}
