package syncerr

import (
	"errors"
	"fmt"
	"strings"

	"roomsync/internal/store"
)

// Kind is the closed classification of every error surfaced by the sync core
type Kind string

const (
	KindConnectionFailed Kind = "CONNECTION_FAILED"
	KindRoomNotFound     Kind = "ROOM_NOT_FOUND"
	KindInvalidRoomCode  Kind = "INVALID_ROOM_CODE"
	KindPermissionDenied Kind = "PERMISSION_DENIED"
	KindNetworkError     Kind = "NETWORK_ERROR"
	KindAlreadyInRoom    Kind = "ALREADY_IN_ROOM"
	KindNotInitialized   Kind = "NOT_INITIALIZED"
	KindSyncFailed       Kind = "SYNC_FAILED"
	KindUnknown          Kind = "UNKNOWN_ERROR"
)

// Error is a classified error. Cause holds the original error, if any.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a classified error
func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf returns the kind of err, classifying it if needed. A nil error has
// no kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	return Classify(err).Kind
}

// IsKind reports whether err classifies as kind
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

var vendorCodes = map[string]Kind{
	store.CodeNetworkRequestFailed: KindNetworkError,
	store.CodeNetworkError:         KindNetworkError,
	store.CodePermissionDenied:     KindPermissionDenied,
	store.CodeDisconnected:         KindConnectionFailed,
}

// Classify maps a raw error onto the taxonomy. Already classified errors are
// returned as-is. Vendor error codes win over message inspection.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}

	var storeErr *store.Error
	if errors.As(err, &storeErr) {
		if kind, ok := vendorCodes[storeErr.Code]; ok {
			message := storeErr.Message
			if message == "" {
				message = UserMessage(kind)
			}
			return New(kind, message, err)
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "network"):
		return New(KindNetworkError, "network connection failed, check your network settings", err)
	case strings.Contains(msg, "permission"):
		return New(KindPermissionDenied, "permission denied by the remote store", err)
	case strings.Contains(msg, "not found"):
		return New(KindRoomNotFound, "room does not exist or has expired", err)
	}

	return New(KindUnknown, err.Error(), err)
}
