package store

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
)

// MemoryStore is an in-process Store. It backs single-machine setups and
// tests, and can simulate an unreachable backend.
type MemoryStore struct {
	mu       sync.RWMutex
	leaves   map[string]string
	clock    clock.Clock
	hub      *hub
	writeErr error
	offline  bool
}

// NewMemoryStore creates an empty store. A nil clock uses the wall clock.
func NewMemoryStore(clk clock.Clock, logger *logrus.Logger) *MemoryStore {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = logrus.New()
	}
	s := &MemoryStore{
		leaves: make(map[string]string),
		clock:  clk,
	}
	s.hub = newHub(s.read, logger)
	return s
}

// SetConnected simulates the backend going away or coming back. While
// disconnected every operation fails with a network error.
func (s *MemoryStore) SetConnected(connected bool) {
	s.mu.Lock()
	s.offline = !connected
	s.mu.Unlock()
	s.hub.setConnected(connected)
}

// FailWrites makes every subsequent write return err; nil restores writes
func (s *MemoryStore) FailWrites(err error) {
	s.mu.Lock()
	s.writeErr = err
	s.mu.Unlock()
}

func (s *MemoryStore) offlineErr() error {
	return &Error{Code: CodeNetworkError, Message: "store is offline"}
}

func (s *MemoryStore) Get(ctx context.Context, path string) (any, error) {
	normalized, err := NormalizePath(path)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	offline := s.offline
	s.mu.RUnlock()
	if offline {
		return nil, s.offlineErr()
	}
	return s.read(ctx, normalized)
}

func (s *MemoryStore) read(_ context.Context, path string) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	subset := make(map[string]string)
	for p, v := range s.leaves {
		if within(p, path) {
			subset[p] = v
		}
	}
	return unflatten(path, subset)
}

func (s *MemoryStore) Set(ctx context.Context, path string, value any) error {
	return s.Update(ctx, map[string]any{path: value})
}

func (s *MemoryStore) Remove(ctx context.Context, path string) error {
	return s.Update(ctx, map[string]any{path: nil})
}

func (s *MemoryStore) Update(ctx context.Context, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	paths, values, err := prepareUpdate(updates)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.offline {
		s.mu.Unlock()
		return s.offlineErr()
	}
	if s.writeErr != nil {
		err := s.writeErr
		s.mu.Unlock()
		return err
	}

	now := s.clock.Now().UnixMilli()
	written := make(map[string]string)
	for _, path := range paths {
		leaves, err := flatten(path, values[path], now)
		if err != nil {
			s.mu.Unlock()
			return err
		}
		for p, v := range leaves {
			written[p] = v
		}
	}

	for _, path := range paths {
		for p := range s.leaves {
			if within(p, path) {
				delete(s.leaves, p)
			}
		}
		for _, ancestor := range ancestors(path) {
			delete(s.leaves, ancestor)
		}
	}
	for p, v := range written {
		s.leaves[p] = v
	}
	s.mu.Unlock()

	s.hub.notify(paths...)
	return nil
}

func (s *MemoryStore) FindChild(ctx context.Context, parent, childPath string, value any) (string, bool, error) {
	parent, err := NormalizePath(parent)
	if err != nil {
		return "", false, err
	}
	childPath, err = NormalizePath(childPath)
	if err != nil {
		return "", false, err
	}
	want, err := leafValue(value)
	if err != nil {
		return "", false, err
	}
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.offline {
		return "", false, s.offlineErr()
	}

	var keys []string
	for p, v := range s.leaves {
		if v != want {
			continue
		}
		if key, ok := childKey(p, parent, childPath); ok {
			keys = append(keys, key)
		}
	}
	key, ok := firstKey(keys)
	return key, ok, nil
}

func (s *MemoryStore) Subscribe(path string, fn func(Snapshot)) (func(), error) {
	return s.hub.subscribe(path, fn)
}

func (s *MemoryStore) WatchConnection(fn func(connected bool)) func() {
	return s.hub.watchConnection(fn)
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.offline {
		return s.offlineErr()
	}
	return nil
}

func (s *MemoryStore) Close() error {
	s.hub.close()
	return nil
}
