// Package playlist broadcasts the controller's current track list to the room
// and applies it on every other participant.
package playlist

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"roomsync/internal/events"
	"roomsync/internal/room"
	"roomsync/internal/store"
	"roomsync/internal/syncerr"
	"roomsync/pkg/models"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
)

// DefaultCooldown is the minimum spacing between two playlist pushes
const DefaultCooldown = 5 * time.Second

// Lists is the local list storage
type Lists interface {
	ListMusics(ctx context.Context, listID string) ([]models.Track, error)
	OverwriteListMusics(ctx context.Context, listID string, tracks []models.Track) error
	ListInfo(ctx context.Context, listID string) (models.ListInfo, bool, error)
}

// Player is the local playback the engine may bootstrap
type Player interface {
	Snapshot() models.LocalPlayback
	PlayList(listID string, index int) error
}

// Room is the room membership the engine syncs through
type Room interface {
	RoomID() string
	IsController(ctx context.Context) bool
}

var wellKnownLists = map[string]models.ListInfo{
	models.ListIDDefault:  {ID: models.ListIDDefault, Name: "Default List", Source: models.ListSourceDefault},
	models.ListIDLove:     {ID: models.ListIDLove, Name: "My Favorites", Source: models.ListSourceLove},
	models.ListIDTemp:     {ID: models.ListIDTemp, Name: "Now Playing", Source: models.ListSourceTemp},
	models.ListIDDownload: {ID: models.ListIDDownload, Name: "Downloads", Source: models.ListSourceDownload},
}

const userListName = "Playlist"

// Engine syncs the playlist of the current room
type Engine struct {
	room     Room
	store    store.Store
	lists    Lists
	player   Player
	bus      *events.Bus
	clock    clock.Clock
	cooldown time.Duration
	logger   *logrus.Entry

	syncing atomic.Bool

	mu          sync.Mutex
	running     bool
	stopped     bool
	generation  uint64
	roomID      string
	unsubRemote func()
	local       events.Subscriptions
	watching    string
	lastSync    time.Time
	version     int64
	seenVersion int64
	seen        bool
	inflight    sync.WaitGroup
}

// NewEngine creates a stopped engine. cooldown zero means DefaultCooldown.
func NewEngine(r Room, s store.Store, lists Lists, p Player, bus *events.Bus, cooldown time.Duration, clk clock.Clock, logger *logrus.Logger) *Engine {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Engine{
		room:     r,
		store:    s,
		lists:    lists,
		player:   p,
		bus:      bus,
		clock:    clk,
		cooldown: cooldown,
		logger:   logger.WithField("component", "playlist_sync"),
	}
}

// Start subscribes to the room playlist and to local list mutations
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

	unsub, err := e.store.Subscribe(room.PlaylistPath(roomID), e.inbound(gen))
	if err != nil {
		return syncerr.Classify(err)
	}
	e.unsubRemote = unsub

	for _, topic := range events.ListTopics {
		e.local.Subscribe(e.bus, topic, e.localChange(gen))
	}

	e.roomID = roomID
	e.running = true
	e.stopped = false
	e.seen = false
	e.lastSync = time.Time{}
	e.logger.WithField("room_id", roomID).Info("Playlist sync started")
	return nil
}

// Stop releases every subscription, forgets the watched list and waits for a
// push already writing to finish
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	unsub := e.unsubRemote
	roomID := e.roomID
	e.unsubRemote = nil
	e.running = false
	e.stopped = true
	e.roomID = ""
	e.watching = ""
	e.generation++
	e.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	e.local.ReleaseAll()
	e.inflight.Wait()
	e.logger.WithField("room_id", roomID).Info("Playlist sync stopped")
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

func (e *Engine) current(gen uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.stopped && e.generation == gen
}

// SetWatchingListID selects the local list whose mutations are broadcast.
// An empty id stops broadcasting on local changes.
func (e *Engine) SetWatchingListID(listID string) {
	e.mu.Lock()
	e.watching = listID
	e.mu.Unlock()
	e.logger.WithField("list_id", listID).Debug("Watching list changed")
}

// WatchingListID returns the watched list id
func (e *Engine) WatchingListID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.watching
}

// SyncPlaylist pushes listID as the room playlist. Calls from a non-controller,
// calls within the cooldown and calls overlapping a push in flight are
// dropped.
func (e *Engine) SyncPlaylist(ctx context.Context, listID string) error {
	roomID := e.room.RoomID()
	if roomID == "" {
		e.logger.Debug("Not in a room, skipping playlist sync")
		return nil
	}
	logger := e.logger.WithFields(logrus.Fields{
		"room_id": roomID,
		"list_id": listID,
	})

	if !e.room.IsController(ctx) {
		logger.Debug("Not controller, skipping playlist sync")
		return nil
	}

	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		logger.Debug("Engine stopped, skipping playlist sync")
		return nil
	}
	now := e.clock.Now()
	if !e.lastSync.IsZero() && now.Sub(e.lastSync) < e.cooldown {
		e.mu.Unlock()
		logger.Debug("Playlist sync cooling down, skipping")
		return nil
	}
	if !e.syncing.CompareAndSwap(false, true) {
		e.mu.Unlock()
		logger.Debug("Playlist sync in flight, skipping")
		return nil
	}
	e.lastSync = now
	version := e.version
	e.version++
	gen := e.generation
	e.inflight.Add(1)
	e.mu.Unlock()
	defer e.syncing.Store(false)
	defer e.inflight.Done()

	tracks, err := e.lists.ListMusics(ctx, listID)
	if err != nil {
		logger.WithError(err).Error("Failed to read local list")
		return syncerr.New(syncerr.KindSyncFailed, "failed to read local list", err)
	}
	if tracks == nil {
		tracks = []models.Track{}
	}
	info := e.resolveListInfo(ctx, listID)

	snapshot := models.PlaylistSnapshot{
		ListID:     listID,
		ListName:   info.Name,
		ListSource: info.Source,
		Musics:     tracks,
		UpdatedAt:  now.UnixMilli(),
		Version:    version,
	}
	if !e.current(gen) {
		logger.Debug("Engine stopped, discarding playlist push")
		return nil
	}
	if err := e.store.Set(ctx, room.PlaylistPath(roomID), snapshot); err != nil {
		logger.WithError(err).Error("Failed to push playlist")
		return syncerr.New(syncerr.KindSyncFailed, "failed to push playlist", err)
	}

	logger.WithFields(logrus.Fields{
		"list_name": info.Name,
		"count":     len(tracks),
		"version":   version,
	}).Info("Playlist pushed")
	return nil
}

// resolveListInfo names well-known lists and falls back to the stored list
// name for user lists.
func (e *Engine) resolveListInfo(ctx context.Context, listID string) models.ListInfo {
	if info, ok := wellKnownLists[listID]; ok {
		return info
	}
	info := models.ListInfo{ID: listID, Name: userListName, Source: models.ListSourceUser}
	stored, ok, err := e.lists.ListInfo(ctx, listID)
	if err != nil {
		e.logger.WithError(err).WithField("list_id", listID).Warn("Failed to read list metadata")
		return info
	}
	if ok && stored.Name != "" {
		info.Name = stored.Name
	}
	return info
}

func (e *Engine) localChange(gen uint64) events.Handler {
	return func(ev events.Event) {
		if !e.active(gen) {
			return
		}
		watching := e.WatchingListID()
		if watching == "" || ev.ListID != watching {
			return
		}
		e.logger.WithFields(logrus.Fields{
			"list_id": watching,
			"topic":   ev.Topic,
		}).Debug("Watched list changed")

		go func() {
			if err := e.SyncPlaylist(context.Background(), watching); err != nil {
				e.logger.WithError(err).Warn("Playlist sync after local change failed")
			}
		}()
	}
}

func (e *Engine) inbound(gen uint64) func(store.Snapshot) {
	return func(snap store.Snapshot) {
		if !snap.Exists() || !e.active(gen) {
			return
		}
		ctx := context.Background()
		if e.room.IsController(ctx) {
			return
		}
		if err := e.applyRemote(ctx, snap); err != nil {
			e.logger.WithError(err).Error("Failed to apply remote playlist")
		}
	}
}

func (e *Engine) applyRemote(ctx context.Context, snap store.Snapshot) error {
	raw, ok := snap.Value.(map[string]any)
	if !ok {
		e.logger.WithField("path", snap.Path).Warn("Malformed playlist payload, dropping")
		return nil
	}
	musics, hasMusics := raw["musics"]
	if !hasMusics {
		if _, hasList := raw["list_id"]; !hasList {
			e.logger.Debug("Room playlist not published yet")
			return nil
		}
		e.logger.Warn("Playlist payload without musics, dropping")
		return nil
	}
	if _, isSeq := musics.([]any); !isSeq {
		e.logger.Warn("Playlist musics is not a sequence, dropping")
		return nil
	}

	var playlist models.PlaylistSnapshot
	if err := snap.Decode(&playlist); err != nil {
		e.logger.WithError(err).Warn("Malformed playlist payload, dropping")
		return nil
	}

	e.mu.Lock()
	if e.seen && playlist.Version <= e.seenVersion {
		e.logger.WithFields(logrus.Fields{
			"version":      playlist.Version,
			"seen_version": e.seenVersion,
		}).Debug("Playlist version did not increase, applying anyway")
	}
	e.seen = true
	e.seenVersion = playlist.Version
	e.mu.Unlock()

	target := playlist.ListID
	if target == "" {
		target = models.ListIDTemp
	}
	tracks := playlist.Musics
	if tracks == nil {
		tracks = []models.Track{}
	}

	if err := e.lists.OverwriteListMusics(ctx, target, tracks); err != nil {
		return err
	}
	e.logger.WithFields(logrus.Fields{
		"list_id": target,
		"count":   len(tracks),
		"version": playlist.Version,
	}).Info("Applied remote playlist")

	if e.player.Snapshot().Track == nil && len(tracks) > 0 {
		if err := e.player.PlayList(target, 0); err != nil {
			e.logger.WithError(err).WithField("list_id", target).Error("Failed to start playback of synced list")
		} else {
			e.logger.WithFields(logrus.Fields{
				"list_id":  target,
				"track_id": tracks[0].ID,
			}).Info("Started playback of synced list")
		}
	}
	return nil
}
