package server

import (
	"errors"
	"net/http"
	"strings"
	"testing"

	"roomsync/internal/syncerr"
)

func TestValidateRoomCode(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		want      string
		wantError bool
		wantCode  string
	}{
		{
			name:  "valid code",
			input: "ABC234",
			want:  "ABC234",
		},
		{
			name:  "lowercase with spaces",
			input: " ab c234 ",
			want:  "ABC234",
		},
		{
			name:      "empty code",
			input:     "   ",
			wantError: true,
			wantCode:  "MISSING_ROOM_CODE",
		},
		{
			name:      "too short",
			input:     "ABC",
			wantError: true,
			wantCode:  "INVALID_ROOM_CODE",
		},
		{
			name:      "punctuation",
			input:     "AB-234",
			wantError: true,
			wantCode:  "INVALID_ROOM_CODE",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, verr := validateRoomCode(tt.input)
			if tt.wantError {
				if verr == nil {
					t.Fatalf("validateRoomCode(%q) expected error", tt.input)
				}
				if verr.Code != tt.wantCode {
					t.Errorf("validateRoomCode(%q) code = %s, want %s", tt.input, verr.Code, tt.wantCode)
				}
				return
			}
			if verr != nil {
				t.Fatalf("validateRoomCode(%q) unexpected error: %v", tt.input, verr.Message)
			}
			if got != tt.want {
				t.Errorf("validateRoomCode(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestValidateListID(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		required  bool
		want      string
		wantError bool
	}{
		{name: "valid id", input: "default", required: true, want: "default"},
		{name: "trimmed", input: "  user_1  ", required: true, want: "user_1"},
		{name: "missing required", input: "", required: true, wantError: true},
		{name: "missing optional", input: "", required: false, want: ""},
		{name: "too long", input: strings.Repeat("a", 256), required: true, wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, verr := validateListID(tt.input, tt.required)
			if tt.wantError != (verr != nil) {
				t.Fatalf("validateListID() error = %v, wantError %v", verr, tt.wantError)
			}
			if got != tt.want {
				t.Errorf("validateListID() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValidateUserID(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantError bool
	}{
		{name: "empty means self", input: ""},
		{name: "uuid", input: "0f8fad5b-d9cb-469f-a165-70867728950e"},
		{name: "path separator", input: "a/b", wantError: true},
		{name: "dot", input: "a.b", wantError: true},
		{name: "too long", input: strings.Repeat("u", 129), wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, verr := validateUserID(tt.input)
			if tt.wantError != (verr != nil) {
				t.Errorf("validateUserID(%q) error = %v, wantError %v", tt.input, verr, tt.wantError)
			}
		})
	}
}

func TestStatusForKind(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{syncerr.New(syncerr.KindInvalidRoomCode, "bad", nil), http.StatusBadRequest},
		{syncerr.New(syncerr.KindRoomNotFound, "gone", nil), http.StatusNotFound},
		{syncerr.New(syncerr.KindPermissionDenied, "no", nil), http.StatusForbidden},
		{syncerr.New(syncerr.KindAlreadyInRoom, "busy", nil), http.StatusConflict},
		{syncerr.New(syncerr.KindNotInitialized, "init", nil), http.StatusConflict},
		{syncerr.New(syncerr.KindConnectionFailed, "down", nil), http.StatusServiceUnavailable},
		{syncerr.New(syncerr.KindNetworkError, "net", nil), http.StatusServiceUnavailable},
		{syncerr.New(syncerr.KindSyncFailed, "sync", nil), http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		kind := syncerr.Classify(tt.err).Kind
		t.Run(string(kind), func(t *testing.T) {
			if got := statusForKind(kind); got != tt.want {
				t.Errorf("statusForKind(%s) = %d, want %d", kind, got, tt.want)
			}
		})
	}
}

func TestSanitizeInput(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "normal input",
			input:    "ABC234",
			expected: "ABC234",
		},
		{
			name:     "input with null bytes",
			input:    "ABC\x00234",
			expected: "ABC234",
		},
		{
			name:     "input with whitespace",
			input:    "  default  ",
			expected: "default",
		},
		{
			name:     "empty input",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := sanitizeInput(tt.input)
			if result != tt.expected {
				t.Errorf("sanitizeInput() = %q, want %q", result, tt.expected)
			}
		})
	}
}
