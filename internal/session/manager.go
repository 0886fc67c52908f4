// Package session is the entry point applications use: it wires connection,
// room membership, both sync engines and the event bridge into one object.
package session

import (
	"context"
	"sync"
	"time"

	"roomsync/internal/bridge"
	"roomsync/internal/connection"
	"roomsync/internal/events"
	"roomsync/internal/identity"
	"roomsync/internal/playback"
	"roomsync/internal/playlist"
	"roomsync/internal/room"
	"roomsync/internal/store"
	"roomsync/internal/syncerr"
	"roomsync/pkg/models"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
)

// Player is the local playback both engines drive
type Player interface {
	playback.Player
	PlayList(listID string, index int) error
}

// Deps are the collaborators a Manager is built from
type Deps struct {
	Store   store.Store
	Auth    identity.Authenticator
	Namer   room.DeviceNamer
	Player  Player
	Lists   playlist.Lists
	Bus     *events.Bus
	Retrier syncerr.Retrier
	Clock   clock.Clock
	Logger  *logrus.Logger

	ThrottleWait     time.Duration
	PlaylistCooldown time.Duration
}

// RoomInfo summarizes the local membership and connection state
type RoomInfo struct {
	RoomID           string            `json:"roomId"`
	RoomCode         string            `json:"roomCode"`
	IsInRoom         bool              `json:"isInRoom"`
	IsConnected      bool              `json:"isConnected"`
	ConnectionStatus connection.Status `json:"connectionStatus"`
}

// Manager is one device's sync session. It is safe for concurrent use.
type Manager struct {
	conn     *connection.Manager
	rooms    *room.Manager
	playback *playback.Engine
	playlist *playlist.Engine
	bridge   *bridge.Bridge
	logger   *logrus.Entry

	opMu sync.Mutex

	mu         sync.Mutex
	lastStatus connection.Status
	unwatch    func()
}

// NewManager builds a disconnected session
func NewManager(d Deps) *Manager {
	if d.Logger == nil {
		d.Logger = logrus.New()
	}
	if d.Clock == nil {
		d.Clock = clock.New()
	}
	if d.Bus == nil {
		d.Bus = events.NewBus(d.Logger)
	}

	conn := connection.NewManager(d.Store, d.Auth, d.Retrier, d.Logger)
	rooms := room.NewManager(conn, d.Store, d.Namer, d.Clock, d.Logger)
	pb := playback.NewEngine(rooms, d.Store, d.Player, d.ThrottleWait, d.Clock, d.Logger)

	m := &Manager{
		conn:       conn,
		rooms:      rooms,
		playback:   pb,
		playlist:   playlist.NewEngine(rooms, d.Store, d.Lists, d.Player, d.Bus, d.PlaylistCooldown, d.Clock, d.Logger),
		bridge:     bridge.New(d.Bus, pb, d.Logger),
		logger:     d.Logger.WithField("component", "session"),
		lastStatus: conn.Status(),
	}
	m.unwatch = conn.OnStatusChange(m.onStatusChange)
	return m
}

// ConnectAndCreateRoom connects, creates a room controlled by this device and
// starts syncing
func (m *Manager) ConnectAndCreateRoom(ctx context.Context) (string, string, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if err := m.conn.Initialize(ctx); err != nil {
		return "", "", err
	}
	roomID, code, err := m.rooms.CreateRoom(ctx)
	if err != nil {
		return "", "", err
	}
	if err := m.startSync(); err != nil {
		m.abandonRoom(ctx, err)
		return "", "", err
	}

	if err := m.playback.SyncCurrentState(ctx); err != nil {
		m.logger.WithError(err).Warn("Failed to publish initial playback state")
	}
	return roomID, code, nil
}

// ConnectAndJoinRoom normalizes and validates code before connecting, then
// joins the room and starts syncing
func (m *Manager) ConnectAndJoinRoom(ctx context.Context, code string) (string, error) {
	formatted := room.FormatRoomCode(code)
	if !room.ValidateRoomCode(formatted) {
		return "", syncerr.New(syncerr.KindInvalidRoomCode, "room code must be 6 characters", nil)
	}

	m.opMu.Lock()
	defer m.opMu.Unlock()

	if err := m.conn.Initialize(ctx); err != nil {
		return "", err
	}
	roomID, err := m.rooms.JoinRoom(ctx, formatted)
	if err != nil {
		return "", err
	}
	if err := m.startSync(); err != nil {
		m.abandonRoom(ctx, err)
		return "", err
	}
	return roomID, nil
}

// Disconnect stops syncing, leaves the room and ends the remote session. The
// connection is closed even when leaving fails; the leave error is returned.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.stopSync()
	err := m.rooms.LeaveRoom(ctx)
	if err != nil {
		m.logger.WithError(err).Warn("Failed to leave room cleanly")
	}
	m.conn.Disconnect()
	return err
}

// Close releases the session's own observers. Call Disconnect first.
func (m *Manager) Close() {
	m.mu.Lock()
	unwatch := m.unwatch
	m.unwatch = nil
	m.mu.Unlock()
	if unwatch != nil {
		unwatch()
	}
}

func (m *Manager) startSync() error {
	if err := m.playback.Start(); err != nil {
		return err
	}
	if err := m.playlist.Start(); err != nil {
		m.playback.Stop()
		return err
	}
	m.bridge.Start()
	return nil
}

// abandonRoom leaves a room whose sync could not start so this device is not
// left listed as a participant
func (m *Manager) abandonRoom(ctx context.Context, cause error) {
	m.logger.WithError(cause).Error("Failed to start sync, leaving room")
	if err := m.rooms.LeaveRoom(ctx); err != nil {
		m.logger.WithError(err).Warn("Failed to leave room after sync failure")
	}
}

func (m *Manager) stopSync() {
	m.bridge.Stop()
	m.playlist.Stop()
	m.playback.Stop()
}

// onStatusChange republishes the full state when the store comes back while
// this device is in a room. The push is skipped for followers.
func (m *Manager) onStatusChange(status connection.Status) {
	m.mu.Lock()
	prev := m.lastStatus
	m.lastStatus = status
	m.mu.Unlock()

	if status != connection.StatusConnected || prev != connection.StatusDisconnected {
		return
	}
	if !m.rooms.IsInRoom() || !m.playback.IsRunning() {
		return
	}

	m.logger.Info("Connection restored, republishing playback state")
	go func() {
		if err := m.playback.SyncCurrentState(context.Background()); err != nil {
			m.logger.WithError(err).Warn("Failed to republish playback state")
		}
	}()
}

// RoomInfo reports membership and connection state
func (m *Manager) RoomInfo() RoomInfo {
	return RoomInfo{
		RoomID:           m.rooms.RoomID(),
		RoomCode:         m.rooms.RoomCode(),
		IsInRoom:         m.rooms.IsInRoom(),
		IsConnected:      m.conn.IsConnected(),
		ConnectionStatus: m.conn.Status(),
	}
}

// Participants lists the devices in the current room
func (m *Manager) Participants(ctx context.Context) (map[string]models.Participant, error) {
	return m.rooms.Participants(ctx)
}

// UserID is the signed-in user of this device
func (m *Manager) UserID() string {
	return m.conn.UserID()
}

// UpdateRemoteState pushes local playback through the throttle
func (m *Manager) UpdateRemoteState(ctx context.Context) error {
	return m.playback.UpdateRemoteState(ctx, false)
}

// SyncCurrentState pushes the full local playback immediately
func (m *Manager) SyncCurrentState(ctx context.Context) error {
	return m.playback.SyncCurrentState(ctx)
}

func (m *Manager) IsController(ctx context.Context) bool {
	return m.rooms.IsController(ctx)
}

// SetController hands control to userID, or takes it when userID is empty
func (m *Manager) SetController(ctx context.Context, userID string) error {
	return m.rooms.SetController(ctx, userID)
}

// ControllerID returns the user id controlling the current room
func (m *Manager) ControllerID(ctx context.Context) (string, error) {
	return m.rooms.ControllerID(ctx)
}

// OnConnectionStatusChange registers fn for connection status transitions and
// returns its unsubscribe func
func (m *Manager) OnConnectionStatusChange(fn func(connection.Status)) func() {
	return m.conn.OnStatusChange(fn)
}

// SyncPlaylist broadcasts listID to the room
func (m *Manager) SyncPlaylist(ctx context.Context, listID string) error {
	return m.playlist.SyncPlaylist(ctx, listID)
}

// SetWatchingListID selects the local list whose edits are broadcast
func (m *Manager) SetWatchingListID(listID string) {
	m.playlist.SetWatchingListID(listID)
}

// WatchingListID returns the watched list, empty when none
func (m *Manager) WatchingListID() string {
	return m.playlist.WatchingListID()
}
