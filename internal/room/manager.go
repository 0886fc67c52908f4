// Package room manages the lifecycle of the shared room this device is in:
// creating, joining and leaving it, and who controls playback.
package room

import (
	"context"
	"fmt"
	"sync"

	"roomsync/internal/store"
	"roomsync/internal/syncerr"
	"roomsync/pkg/models"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
)

// State of the local room membership
type State int

const (
	NotInRoom State = iota
	Creating
	Joining
	InRoom
	Leaving
)

func (s State) String() string {
	switch s {
	case NotInRoom:
		return "not_in_room"
	case Creating:
		return "creating"
	case Joining:
		return "joining"
	case InRoom:
		return "in_room"
	case Leaving:
		return "leaving"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Connection is the part of the connection manager rooms depend on
type Connection interface {
	IsConnected() bool
	UserID() string
}

// DeviceNamer supplies the display name announced to other participants
type DeviceNamer interface {
	Name() string
}

// Manager tracks the room this device is in. It is safe for concurrent use.
type Manager struct {
	conn   Connection
	store  store.Store
	namer  DeviceNamer
	clock  clock.Clock
	logger *logrus.Entry

	mu       sync.RWMutex
	state    State
	roomID   string
	roomCode string
}

// NewManager creates a manager that is not in a room. A nil clock uses the
// wall clock.
func NewManager(conn Connection, s store.Store, namer DeviceNamer, clk clock.Clock, logger *logrus.Logger) *Manager {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Manager{
		conn:   conn,
		store:  s,
		namer:  namer,
		clock:  clk,
		logger: logger.WithField("component", "room"),
	}
}

// begin moves from NotInRoom to the transitional state and returns the
// signed-in user id.
func (m *Manager) begin(next State) (string, error) {
	if !m.conn.IsConnected() {
		return "", syncerr.New(syncerr.KindNotInitialized, "not connected to the remote store", nil)
	}
	userID := m.conn.UserID()
	if userID == "" {
		return "", syncerr.New(syncerr.KindNotInitialized, "no signed-in user", nil)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != NotInRoom {
		return "", syncerr.New(syncerr.KindAlreadyInRoom, fmt.Sprintf("room operation not allowed while %s", m.state), nil)
	}
	m.state = next
	return userID, nil
}

func (m *Manager) finish(roomID, roomCode string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if roomID == "" {
		m.state = NotInRoom
	} else {
		m.state = InRoom
	}
	m.roomID = roomID
	m.roomCode = roomCode
}

func (m *Manager) participant() map[string]any {
	return map[string]any{
		"joinedAt":   store.ServerTimestamp,
		"deviceName": m.namer.Name(),
	}
}

// CreateRoom creates a room with this device as its only participant and
// controller.
func (m *Manager) CreateRoom(ctx context.Context) (string, string, error) {
	userID, err := m.begin(Creating)
	if err != nil {
		return "", "", err
	}

	roomCode, err := GenerateRoomCode()
	if err != nil {
		m.finish("", "")
		return "", "", syncerr.New(syncerr.KindUnknown, "failed to generate room code", err)
	}
	roomID, err := newRoomID(m.clock.Now())
	if err != nil {
		m.finish("", "")
		return "", "", syncerr.New(syncerr.KindUnknown, "failed to generate room id", err)
	}

	err = m.store.Update(ctx, map[string]any{
		SessionInfoPath(roomID): map[string]any{
			"roomCode":  roomCode,
			"createdAt": store.ServerTimestamp,
			"participants": map[string]any{
				userID: m.participant(),
			},
		},
		PlaybackStatePath(roomID): map[string]any{
			"controller_id": userID,
			"current_music": nil,
			"play_info":     models.EmptyPlayInfo(),
			"status": map[string]any{
				"is_playing":   false,
				"current_time": 0,
				"duration":     0,
				"updated_at":   store.ServerTimestamp,
			},
		},
		PlaylistPath(roomID): map[string]any{
			"updated_at": store.ServerTimestamp,
		},
	})
	if err != nil {
		m.finish("", "")
		m.logger.WithError(err).Error("Failed to create room")
		return "", "", syncerr.Classify(err)
	}

	m.finish(roomID, roomCode)
	m.logger.WithFields(logrus.Fields{
		"room_id":   roomID,
		"room_code": roomCode,
		"user_id":   userID,
	}).Info("Room created")
	return roomID, roomCode, nil
}

// JoinRoom joins the room with roomCode without changing its controller
func (m *Manager) JoinRoom(ctx context.Context, roomCode string) (string, error) {
	if !ValidateRoomCode(roomCode) {
		return "", syncerr.New(syncerr.KindInvalidRoomCode, fmt.Sprintf("invalid room code %q", roomCode), nil)
	}
	userID, err := m.begin(Joining)
	if err != nil {
		return "", err
	}

	roomID, found, err := m.store.FindChild(ctx, RoomsRoot, RoomCodeField, roomCode)
	if err != nil {
		m.finish("", "")
		m.logger.WithError(err).WithField("room_code", roomCode).Error("Failed to look up room")
		return "", syncerr.Classify(err)
	}
	if !found {
		m.finish("", "")
		return "", syncerr.New(syncerr.KindRoomNotFound, fmt.Sprintf("no room with code %s", roomCode), nil)
	}

	if err := m.store.Set(ctx, ParticipantPath(roomID, userID), m.participant()); err != nil {
		m.finish("", "")
		m.logger.WithError(err).WithField("room_id", roomID).Error("Failed to join room")
		return "", syncerr.Classify(err)
	}

	m.finish(roomID, roomCode)
	m.logger.WithFields(logrus.Fields{
		"room_id":   roomID,
		"room_code": roomCode,
		"user_id":   userID,
	}).Info("Joined room")
	return roomID, nil
}

// LeaveRoom removes this device from the room and deletes the room once no
// participants remain. Local room state is cleared even when the remote
// cleanup fails.
func (m *Manager) LeaveRoom(ctx context.Context) error {
	m.mu.Lock()
	if m.state != InRoom {
		m.mu.Unlock()
		return nil
	}
	m.state = Leaving
	roomID, roomCode := m.roomID, m.roomCode
	m.mu.Unlock()

	defer m.finish("", "")

	userID := m.conn.UserID()
	if userID == "" {
		return nil
	}

	logger := m.logger.WithFields(logrus.Fields{
		"room_id":   roomID,
		"room_code": roomCode,
	})

	if err := m.store.Remove(ctx, ParticipantPath(roomID, userID)); err != nil {
		logger.WithError(err).Error("Failed to remove participant")
		return syncerr.Classify(err)
	}

	remaining, err := m.store.Get(ctx, ParticipantsPath(roomID))
	if err != nil {
		logger.WithError(err).Error("Failed to read participants")
		return syncerr.Classify(err)
	}
	if isEmpty(remaining) {
		if err := m.store.Remove(ctx, RoomPath(roomID)); err != nil {
			logger.WithError(err).Error("Failed to delete room")
			return syncerr.Classify(err)
		}
		logger.Info("Room deleted")
	}

	logger.Info("Left room")
	return nil
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case map[string]any:
		return len(t) == 0
	case []any:
		return len(t) == 0
	default:
		return false
	}
}

// State returns the local membership state
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// RoomID returns the current room id, empty when not in a room
func (m *Manager) RoomID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.roomID
}

// RoomCode returns the current room code, empty when not in a room
func (m *Manager) RoomCode() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.roomCode
}

func (m *Manager) IsInRoom() bool {
	return m.RoomID() != ""
}

// SessionInfo reads the session info of the current room. It returns nil when
// not in a room.
func (m *Manager) SessionInfo(ctx context.Context) (*models.SessionInfo, error) {
	roomID := m.RoomID()
	if roomID == "" {
		return nil, nil
	}
	value, err := m.store.Get(ctx, SessionInfoPath(roomID))
	if err != nil {
		return nil, syncerr.Classify(err)
	}
	if value == nil {
		return nil, syncerr.New(syncerr.KindRoomNotFound, "room no longer exists", nil)
	}
	var info models.SessionInfo
	if err := (store.Snapshot{Path: SessionInfoPath(roomID), Value: value}).Decode(&info); err != nil {
		return nil, syncerr.New(syncerr.KindUnknown, "malformed session info", err)
	}
	return &info, nil
}

// Participants returns the participants of the current room keyed by user id
func (m *Manager) Participants(ctx context.Context) (map[string]models.Participant, error) {
	info, err := m.SessionInfo(ctx)
	if err != nil || info == nil {
		return nil, err
	}
	if info.Participants == nil {
		return map[string]models.Participant{}, nil
	}
	return info.Participants, nil
}

// ControllerID reads the controller of the current room
func (m *Manager) ControllerID(ctx context.Context) (string, error) {
	roomID := m.RoomID()
	if roomID == "" {
		return "", nil
	}
	value, err := m.store.Get(ctx, ControllerPath(roomID))
	if err != nil {
		return "", syncerr.Classify(err)
	}
	id, _ := value.(string)
	return id, nil
}

// IsController reports whether this device controls the current room. Read
// failures count as not controller.
func (m *Manager) IsController(ctx context.Context) bool {
	userID := m.conn.UserID()
	if userID == "" || !m.IsInRoom() {
		return false
	}
	controllerID, err := m.ControllerID(ctx)
	if err != nil {
		m.logger.WithError(err).Warn("Failed to check controller")
		return false
	}
	return controllerID == userID
}

// SetController hands control of the current room to userID, or to this
// device when userID is empty. The write is not conditional: concurrent
// assignments resolve as last write wins.
func (m *Manager) SetController(ctx context.Context, userID string) error {
	roomID := m.RoomID()
	if roomID == "" {
		return syncerr.New(syncerr.KindNotInitialized, "not in a room", nil)
	}
	if userID == "" {
		userID = m.conn.UserID()
	}
	if userID == "" {
		return syncerr.New(syncerr.KindNotInitialized, "no signed-in user", nil)
	}

	if err := m.store.Set(ctx, ControllerPath(roomID), userID); err != nil {
		m.logger.WithError(err).WithField("room_id", roomID).Error("Failed to set controller")
		return syncerr.Classify(err)
	}
	m.logger.WithFields(logrus.Fields{
		"room_id":       roomID,
		"controller_id": userID,
	}).Info("Controller assigned")
	return nil
}
