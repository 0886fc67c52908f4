// Package bridge forwards local player events to the playback sync engine.
package bridge

import (
	"context"
	"sync"

	"roomsync/internal/events"

	"github.com/sirupsen/logrus"
)

// Pusher publishes the local playback state to the room
type Pusher interface {
	UpdateRemoteState(ctx context.Context, force bool) error
}

// Bridge turns player events into pushes. Track changes push immediately;
// play state, progress and play info changes go through the throttled path.
type Bridge struct {
	bus    *events.Bus
	pusher Pusher
	logger *logrus.Entry

	mu      sync.Mutex
	running bool
	subs    events.Subscriptions
}

// New creates a stopped bridge
func New(bus *events.Bus, pusher Pusher, logger *logrus.Logger) *Bridge {
	if logger == nil {
		logger = logrus.New()
	}
	return &Bridge{
		bus:    bus,
		pusher: pusher,
		logger: logger.WithField("component", "bridge"),
	}
}

// Start subscribes to the player topics. Starting twice is a no-op.
func (b *Bridge) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return
	}

	b.subs.Subscribe(b.bus, events.MusicInfoChanged, b.onTrackChanged)
	b.subs.Subscribe(b.bus, events.PlayStateChanged, b.onThrottled)
	b.subs.Subscribe(b.bus, events.ProgressChanged, b.onThrottled)
	b.subs.Subscribe(b.bus, events.PlayInfoChanged, b.onThrottled)

	b.running = true
	b.logger.Info("Event bridge started")
}

// Stop releases every subscription
func (b *Bridge) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.running {
		return
	}
	b.subs.ReleaseAll()
	b.running = false
	b.logger.Info("Event bridge stopped")
}

// IsRunning reports whether the bridge is forwarding events
func (b *Bridge) IsRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

func (b *Bridge) onTrackChanged(ev events.Event) {
	b.logger.WithField("topic", ev.Topic).Debug("Track changed, pushing now")
	go func() {
		if err := b.pusher.UpdateRemoteState(context.Background(), true); err != nil {
			b.logger.WithError(err).Warn("Failed to push track change")
		}
	}()
}

func (b *Bridge) onThrottled(ev events.Event) {
	if err := b.pusher.UpdateRemoteState(context.Background(), false); err != nil {
		b.logger.WithError(err).WithField("topic", ev.Topic).Warn("Failed to push playback state")
	}
}
