// Package connection owns the session with the remote store: the signed-in
// user id, reachability status and status observers.
package connection

import (
	"context"
	"sync"
	"time"

	"roomsync/internal/identity"
	"roomsync/internal/store"
	"roomsync/internal/syncerr"

	"github.com/sirupsen/logrus"
)

// Status of the remote session
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

// Manager establishes and tracks the remote session. It is safe for
// concurrent use.
type Manager struct {
	store   store.Store
	auth    identity.Authenticator
	retrier syncerr.Retrier
	logger  *logrus.Entry

	initMu sync.Mutex

	mu        sync.RWMutex
	status    Status
	userID    string
	stopWatch func()
	observers map[int]func(Status)
	nextObs   int
}

// NewManager creates a disconnected manager. retrier controls the backoff
// used by Initialize.
func NewManager(s store.Store, auth identity.Authenticator, retrier syncerr.Retrier, logger *logrus.Logger) *Manager {
	if logger == nil {
		logger = logrus.New()
	}
	return &Manager{
		store:     s,
		auth:      auth,
		retrier:   retrier,
		logger:    logger.WithField("component", "connection"),
		status:    StatusDisconnected,
		observers: make(map[int]func(Status)),
	}
}

// Initialize signs in and checks the store is reachable, retrying transient
// failures. It is a no-op when already connected.
func (m *Manager) Initialize(ctx context.Context) error {
	m.initMu.Lock()
	defer m.initMu.Unlock()

	if m.IsConnected() {
		return nil
	}

	m.setStatus(StatusConnecting)

	retrier := m.retrier
	retrier.OnRetry = func(attempt int, delay time.Duration, err error) {
		m.logger.WithError(err).WithFields(logrus.Fields{
			"attempt": attempt,
			"delay":   delay.String(),
		}).Warn("Connection attempt failed, retrying")
	}

	var userID string
	err := retrier.Do(ctx, func(ctx context.Context) error {
		uid, err := m.auth.SignIn(ctx)
		if err != nil {
			return err
		}
		if err := m.store.Ping(ctx); err != nil {
			return err
		}
		userID = uid
		return nil
	})
	if err != nil {
		m.logger.WithError(err).Error("Failed to initialize connection")
		m.setStatus(StatusError)
		return syncerr.New(syncerr.KindConnectionFailed, "failed to connect to the remote store", err)
	}

	stop := m.store.WatchConnection(func(connected bool) {
		if connected {
			m.setStatus(StatusConnected)
		} else {
			m.setStatus(StatusDisconnected)
		}
	})

	m.mu.Lock()
	m.userID = userID
	if m.stopWatch != nil {
		m.stopWatch()
	}
	m.stopWatch = stop
	m.mu.Unlock()

	m.logger.WithField("user_id", userID).Info("Connected to remote store")
	m.setStatus(StatusConnected)
	return nil
}

// Disconnect stops watching reachability and forgets the user id. Calling it
// twice is harmless.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	stop := m.stopWatch
	m.stopWatch = nil
	m.userID = ""
	m.mu.Unlock()

	if stop != nil {
		stop()
	}
	m.setStatus(StatusDisconnected)
}

// Status returns the current status
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// IsConnected reports whether the status is connected
func (m *Manager) IsConnected() bool {
	return m.Status() == StatusConnected
}

// UserID returns the signed-in user id, empty before Initialize
func (m *Manager) UserID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.userID
}

// Store returns the underlying store
func (m *Manager) Store() store.Store {
	return m.store
}

// OnStatusChange registers fn for status changes and returns its unsubscribe
// func.
func (m *Manager) OnStatusChange(fn func(Status)) func() {
	m.mu.Lock()
	id := m.nextObs
	m.nextObs++
	m.observers[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.observers, id)
		m.mu.Unlock()
	}
}

func (m *Manager) setStatus(status Status) {
	m.mu.Lock()
	if m.status == status {
		m.mu.Unlock()
		return
	}
	previous := m.status
	m.status = status
	observers := make([]func(Status), 0, len(m.observers))
	for _, fn := range m.observers {
		observers = append(observers, fn)
	}
	m.mu.Unlock()

	m.logger.WithFields(logrus.Fields{
		"from": previous,
		"to":   status,
	}).Debug("Connection status changed")

	for _, fn := range observers {
		m.notify(fn, status)
	}
}

func (m *Manager) notify(fn func(Status), status Status) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.WithField("panic", r).Error("Status observer panicked")
		}
	}()
	fn(status)
}
