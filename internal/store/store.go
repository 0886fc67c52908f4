// Package store is the remote key-value store the sync core talks through.
// Values live in a slash-delimited tree; every write notifies subscribers of
// the written path, its ancestors and its descendants.
package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// Vendor error codes reported by store adapters
const (
	CodeNetworkRequestFailed = "auth/network-request-failed"
	CodeNetworkError         = "database/network-error"
	CodePermissionDenied     = "database/permission-denied"
	CodeDisconnected         = "database/disconnected"
	CodeInvalidPath          = "database/invalid-path"
)

// Error is a coded store failure
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ServerTimestamp is replaced by the store clock (Unix milliseconds) when written
var ServerTimestamp = map[string]any{".sv": "timestamp"}

// Snapshot is the value found at Path when a subscription fired
type Snapshot struct {
	Path  string
	Value any
}

// Exists reports whether any data was present at the path
func (s Snapshot) Exists() bool {
	return s.Value != nil
}

// Decode converts the snapshot value into v
func (s Snapshot) Decode(v any) error {
	data, err := json.Marshal(s.Value)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot at %s: %w", s.Path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode snapshot at %s: %w", s.Path, err)
	}
	return nil
}

// Store is a path-addressed tree with atomic multi-path writes and path-scoped
// subscriptions. Implementations are safe for concurrent use.
type Store interface {
	// Get returns the value at path, or nil if nothing is stored there.
	Get(ctx context.Context, path string) (any, error)
	// Set replaces the subtree at path. A nil value removes it.
	Set(ctx context.Context, path string, value any) error
	// Update replaces every path in updates as one atomic write. Paths may
	// not be ancestors of each other.
	Update(ctx context.Context, updates map[string]any) error
	// Remove deletes the subtree at path.
	Remove(ctx context.Context, path string) error
	// FindChild returns the first key (in key order) under parent whose
	// childPath equals value.
	FindChild(ctx context.Context, parent, childPath string, value any) (string, bool, error)
	// Subscribe delivers the current value at path, then the value after
	// every write that touches it. Deliveries for one subscription never
	// overlap. The returned func cancels the subscription.
	Subscribe(path string, fn func(Snapshot)) (func(), error)
	// WatchConnection reports reachability flips of the backend.
	WatchConnection(fn func(connected bool)) func()
	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error
	Close() error
}
