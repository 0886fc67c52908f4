package store

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

type readFunc func(ctx context.Context, path string) (any, error)

// hub fans write notifications out to path subscriptions. Every subscription
// runs its own goroutine so a slow callback never blocks a writer, and wake
// signals coalesce while a delivery is in flight.
type hub struct {
	mu     sync.Mutex
	subs   map[*subscription]struct{}
	read   readFunc
	logger *logrus.Logger
	closed bool

	connMu       sync.Mutex
	connWatchers map[int]func(bool)
	nextWatcher  int
	connected    bool
}

type subscription struct {
	path string
	fn   func(Snapshot)
	wake chan struct{}
	done chan struct{}
	once sync.Once
}

func newHub(read readFunc, logger *logrus.Logger) *hub {
	return &hub{
		subs:         make(map[*subscription]struct{}),
		read:         read,
		logger:       logger,
		connWatchers: make(map[int]func(bool)),
		connected:    true,
	}
}

func (h *hub) subscribe(path string, fn func(Snapshot)) (func(), error) {
	normalized, err := NormalizePath(path)
	if err != nil {
		return nil, err
	}

	sub := &subscription{
		path: normalized,
		fn:   fn,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	// the initial value is delivered as the first wake
	sub.wake <- struct{}{}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, &Error{Code: CodeDisconnected, Message: "store is closed"}
	}
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	go h.run(sub)

	return func() {
		h.mu.Lock()
		delete(h.subs, sub)
		h.mu.Unlock()
		sub.stop()
	}, nil
}

func (s *subscription) stop() {
	s.once.Do(func() { close(s.done) })
}

func (h *hub) run(sub *subscription) {
	for {
		select {
		case <-sub.done:
			return
		case <-sub.wake:
		}

		value, err := h.read(context.Background(), sub.path)
		if err != nil {
			h.logger.WithError(err).WithField("path", sub.path).Warn("Failed to read subscribed path")
			continue
		}

		select {
		case <-sub.done:
			return
		default:
		}
		h.deliver(sub, Snapshot{Path: sub.path, Value: value})
	}
}

func (h *hub) deliver(sub *subscription, snap Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.WithFields(logrus.Fields{
				"path":  sub.path,
				"panic": r,
			}).Error("Subscription callback panicked")
		}
	}()
	sub.fn(snap)
}

// notify wakes every subscription whose path overlaps a written path
func (h *hub) notify(paths ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		for _, p := range paths {
			if overlaps(sub.path, p) {
				select {
				case sub.wake <- struct{}{}:
				default:
				}
				break
			}
		}
	}
}

func (h *hub) watchConnection(fn func(bool)) func() {
	h.connMu.Lock()
	id := h.nextWatcher
	h.nextWatcher++
	h.connWatchers[id] = fn
	h.connMu.Unlock()

	return func() {
		h.connMu.Lock()
		delete(h.connWatchers, id)
		h.connMu.Unlock()
	}
}

// setConnected reports a reachability flip to watchers; repeats are ignored
func (h *hub) setConnected(connected bool) {
	h.connMu.Lock()
	if h.connected == connected {
		h.connMu.Unlock()
		return
	}
	h.connected = connected
	watchers := make([]func(bool), 0, len(h.connWatchers))
	for _, fn := range h.connWatchers {
		watchers = append(watchers, fn)
	}
	h.connMu.Unlock()

	for _, fn := range watchers {
		h.safeWatch(fn, connected)
	}
}

func (h *hub) isConnected() bool {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	return h.connected
}

func (h *hub) safeWatch(fn func(bool), connected bool) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.WithField("panic", r).Error("Connection watcher panicked")
		}
	}()
	fn(connected)
}

func (h *hub) close() {
	h.mu.Lock()
	h.closed = true
	subs := h.subs
	h.subs = make(map[*subscription]struct{})
	h.mu.Unlock()

	for sub := range subs {
		sub.stop()
	}
}
