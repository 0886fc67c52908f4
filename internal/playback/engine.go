// Package playback keeps the playback state of a room in step with the local
// player. The controller pushes its state; every other participant applies
// what the controller wrote.
package playback

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"roomsync/internal/room"
	"roomsync/internal/store"
	"roomsync/internal/syncerr"
	"roomsync/internal/throttle"
	"roomsync/pkg/models"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
)

// DefaultThrottle is the minimum spacing of non-forced pushes
const DefaultThrottle = 200 * time.Millisecond

// Player is the local playback the engine reads from and applies to
type Player interface {
	Snapshot() models.LocalPlayback
	SetPlaying(playing bool)
	SetProgress(current, duration float64)
	SetCurrentTrack(listID string, track *models.Track)
	SetPlayInfo(info models.PlayInfo)
}

// Room is the room membership the engine syncs through
type Room interface {
	RoomID() string
	IsController(ctx context.Context) bool
}

// Engine syncs playback state for the current room
type Engine struct {
	room   Room
	store  store.Store
	player Player
	logger *logrus.Entry

	throttled *throttle.Throttle[struct{}]
	updating  atomic.Bool

	mu         sync.Mutex
	running    bool
	stopped    bool
	generation uint64
	roomID     string
	unsubs     []func()
	inflight   sync.WaitGroup
}

// NewEngine creates a stopped engine. wait is the push throttle window; zero
// means DefaultThrottle.
func NewEngine(r Room, s store.Store, p Player, wait time.Duration, clk clock.Clock, logger *logrus.Logger) *Engine {
	if wait <= 0 {
		wait = DefaultThrottle
	}
	if logger == nil {
		logger = logrus.New()
	}
	e := &Engine{
		room:   r,
		store:  s,
		player: p,
		logger: logger.WithField("component", "playback_sync"),
	}
	e.throttled = throttle.New(wait, clk, func(struct{}) {
		go func() {
			if err := e.push(context.Background()); err != nil {
				e.logger.WithError(err).Warn("Throttled playback push failed")
			}
		}()
	})
	return e
}

// Start subscribes to the playback state of the current room. Starting a
// running engine is a no-op.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return nil
	}
	roomID := e.room.RoomID()
	if roomID == "" {
		return syncerr.New(syncerr.KindNotInitialized, "not in a room", nil)
	}

	e.generation++
	gen := e.generation

	subs := []struct {
		path  string
		apply func(store.Snapshot) error
	}{
		{room.StatusPath(roomID), e.applyStatus},
		{room.CurrentMusicPath(roomID), e.applyCurrentMusic},
		{room.PlayInfoPath(roomID), e.applyPlayInfo},
	}

	var unsubs []func()
	for _, sub := range subs {
		unsub, err := e.store.Subscribe(sub.path, e.inbound(gen, sub.apply))
		if err != nil {
			for _, u := range unsubs {
				u()
			}
			return syncerr.Classify(err)
		}
		unsubs = append(unsubs, unsub)
	}

	e.unsubs = unsubs
	e.roomID = roomID
	e.running = true
	e.stopped = false
	e.logger.WithField("room_id", roomID).Info("Playback sync started")
	return nil
}

// Stop releases every subscription, drops any pending throttled push and
// waits for a push already writing to finish. Pushes started after Stop are
// discarded.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	unsubs := e.unsubs
	roomID := e.roomID
	e.unsubs = nil
	e.running = false
	e.stopped = true
	e.roomID = ""
	e.generation++
	e.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	e.throttled.Cancel()
	e.inflight.Wait()
	e.logger.WithField("room_id", roomID).Info("Playback sync stopped")
}

// IsRunning reports whether the engine is started
func (e *Engine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

func (e *Engine) active(gen uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running && e.generation == gen
}

// UpdateRemoteState pushes the local playback state. Non-forced calls are
// throttled and run in the background; forced calls push immediately. Only
// the controller ever writes.
func (e *Engine) UpdateRemoteState(ctx context.Context, force bool) error {
	if e.room.RoomID() == "" {
		return nil
	}
	if !force {
		e.throttled.Call(struct{}{})
		return nil
	}
	return e.push(ctx)
}

// SyncCurrentState pushes the full local state right away
func (e *Engine) SyncCurrentState(ctx context.Context) error {
	return e.UpdateRemoteState(ctx, true)
}

func (e *Engine) push(ctx context.Context) error {
	roomID := e.room.RoomID()
	if roomID == "" {
		return nil
	}
	// a push already in flight will carry recent enough state
	if !e.updating.CompareAndSwap(false, true) {
		return nil
	}
	defer e.updating.Store(false)

	gen, ok := e.beginPush()
	if !ok {
		return nil
	}
	defer e.inflight.Done()

	if !e.room.IsController(ctx) {
		e.logger.WithField("room_id", roomID).Debug("Not controller, skipping playback push")
		return nil
	}

	local := e.player.Snapshot()

	var currentMusic any
	if local.Track != nil {
		currentMusic = models.CurrentMusic{Track: *local.Track, ListID: local.ListID}
	}

	if !e.current(gen) {
		e.logger.WithField("room_id", roomID).Debug("Engine stopped, discarding playback push")
		return nil
	}
	err := e.store.Update(ctx, map[string]any{
		room.StatusPath(roomID): map[string]any{
			"is_playing":   local.IsPlaying,
			"current_time": local.CurrentTime,
			"duration":     local.Duration,
			"updated_at":   store.ServerTimestamp,
		},
		room.CurrentMusicPath(roomID): currentMusic,
		room.PlayInfoPath(roomID):     local.PlayInfo,
	})
	if err != nil {
		e.logger.WithError(err).WithField("room_id", roomID).Error("Failed to push playback state")
		return syncerr.New(syncerr.KindSyncFailed, "failed to push playback state", err)
	}

	fields := logrus.Fields{
		"room_id":    roomID,
		"is_playing": local.IsPlaying,
	}
	if local.Track != nil {
		fields["track_id"] = local.Track.ID
	}
	e.logger.WithFields(fields).Debug("Playback state pushed")
	return nil
}

// beginPush registers a push with Stop. It fails once the engine was stopped.
func (e *Engine) beginPush() (uint64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return 0, false
	}
	e.inflight.Add(1)
	return e.generation, true
}

func (e *Engine) current(gen uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.stopped && e.generation == gen
}

// inbound wraps apply so it only runs for followers of the generation the
// subscription was made in.
func (e *Engine) inbound(gen uint64, apply func(store.Snapshot) error) func(store.Snapshot) {
	return func(snap store.Snapshot) {
		if !e.active(gen) {
			return
		}
		if e.room.IsController(context.Background()) {
			return
		}
		if err := apply(snap); err != nil {
			e.logger.WithError(err).WithField("path", snap.Path).Warn("Failed to apply remote playback state")
		}
	}
}

func (e *Engine) applyStatus(snap store.Snapshot) error {
	if !snap.Exists() {
		return nil
	}
	var status models.PlaybackStatus
	if err := snap.Decode(&status); err != nil {
		return err
	}
	e.player.SetPlaying(status.IsPlaying)
	e.player.SetProgress(status.CurrentTime, status.Duration)
	return nil
}

func (e *Engine) applyCurrentMusic(snap store.Snapshot) error {
	if !snap.Exists() {
		e.player.SetCurrentTrack("", nil)
		return nil
	}
	var music models.CurrentMusic
	if err := snap.Decode(&music); err != nil {
		return err
	}
	track := music.Track
	e.player.SetCurrentTrack(music.ListID, &track)
	e.logger.WithFields(logrus.Fields{
		"track_id": track.ID,
		"list_id":  music.ListID,
	}).Debug("Applied remote track")
	return nil
}

func (e *Engine) applyPlayInfo(snap store.Snapshot) error {
	if !snap.Exists() {
		return nil
	}
	info := models.EmptyPlayInfo()
	if err := snap.Decode(&info); err != nil {
		return err
	}
	e.player.SetPlayInfo(info)
	return nil
}
