package room

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"roomsync/internal/store"
	"roomsync/internal/syncerr"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	connected bool
	userID    string
}

func (c *fakeConn) IsConnected() bool { return c.connected }
func (c *fakeConn) UserID() string    { return c.userID }

type fixedName string

func (n fixedName) Name() string { return string(n) }

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func newStore(t *testing.T) *store.MemoryStore {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(time.UnixMilli(1_700_000_000_000))
	s := store.NewMemoryStore(clk, quietLogger())
	t.Cleanup(func() { s.Close() })
	return s
}

func newManager(s store.Store, userID, device string) *Manager {
	return NewManager(&fakeConn{connected: true, userID: userID}, s, fixedName(device), nil, quietLogger())
}

func TestGenerateRoomCode(t *testing.T) {
	for i := 0; i < 500; i++ {
		code, err := GenerateRoomCode()
		require.NoError(t, err)
		require.Len(t, code, CodeLength)
		for _, r := range code {
			require.True(t, strings.ContainsRune(CodeAlphabet, r), "unexpected character %q in %s", r, code)
		}
		require.True(t, ValidateRoomCode(code))
	}
}

func TestValidateRoomCode(t *testing.T) {
	tests := []struct {
		code string
		want bool
	}{
		{"ABC234", true},
		{"000000", true},
		{"ZZZZZZ", true},
		{"ABC23", false},
		{"ABC2345", false},
		{"abc234", false},
		{"ABC-23", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidateRoomCode(tt.code))
		})
	}
}

func TestFormatRoomCode(t *testing.T) {
	assert.Equal(t, "ABC234", FormatRoomCode(" abc 2\t34 "))
}

func TestNewRoomID(t *testing.T) {
	id, err := newRoomID(time.UnixMilli(1_700_000_000_000))
	require.NoError(t, err)
	assert.Regexp(t, `^room_1700000000000_[0-9a-z]{9}$`, id)
}

func TestCreateRoom(t *testing.T) {
	s := newStore(t)
	m := newManager(s, "user-a", "Desktop")
	ctx := context.Background()

	roomID, code, err := m.CreateRoom(ctx)
	require.NoError(t, err)
	assert.True(t, ValidateRoomCode(code))
	assert.Equal(t, InRoom, m.State())
	assert.Equal(t, roomID, m.RoomID())
	assert.Equal(t, code, m.RoomCode())

	info, err := m.SessionInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, code, info.RoomCode)
	assert.Equal(t, int64(1_700_000_000_000), info.CreatedAt)
	require.Contains(t, info.Participants, "user-a")
	assert.Equal(t, "Desktop", info.Participants["user-a"].DeviceName)

	assert.True(t, m.IsController(ctx))

	playInfo, err := s.Get(ctx, PlayInfoPath(roomID))
	require.NoError(t, err)
	assert.NotNil(t, playInfo)

	_, _, err = m.CreateRoom(ctx)
	assert.True(t, syncerr.IsKind(err, syncerr.KindAlreadyInRoom))
}

func TestCreateRoomRequiresConnection(t *testing.T) {
	s := newStore(t)
	m := NewManager(&fakeConn{connected: false, userID: "user-a"}, s, fixedName("x"), nil, quietLogger())

	_, _, err := m.CreateRoom(context.Background())
	assert.True(t, syncerr.IsKind(err, syncerr.KindNotInitialized))
	assert.Equal(t, NotInRoom, m.State())
}

func TestCreateRoomWriteFailure(t *testing.T) {
	s := newStore(t)
	s.SetConnected(false)
	m := newManager(s, "user-a", "Desktop")

	_, _, err := m.CreateRoom(context.Background())
	assert.True(t, syncerr.IsKind(err, syncerr.KindNetworkError))
	assert.Equal(t, NotInRoom, m.State())
	assert.Empty(t, m.RoomID())
}

func TestJoinRoom(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	a := newManager(s, "user-a", "Desktop")
	b := newManager(s, "user-b", "Phone")

	roomID, code, err := a.CreateRoom(ctx)
	require.NoError(t, err)

	joined, err := b.JoinRoom(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, roomID, joined)
	assert.False(t, b.IsController(ctx), "joining does not take control")

	participants, err := a.Participants(ctx)
	require.NoError(t, err)
	assert.Len(t, participants, 2)
	assert.Equal(t, "Phone", participants["user-b"].DeviceName)
}

func TestJoinRoomErrors(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	b := newManager(s, "user-b", "Phone")

	_, err := b.JoinRoom(ctx, "abc")
	assert.True(t, syncerr.IsKind(err, syncerr.KindInvalidRoomCode))

	_, err = b.JoinRoom(ctx, "ABC234")
	assert.True(t, syncerr.IsKind(err, syncerr.KindRoomNotFound))
	assert.Equal(t, NotInRoom, b.State())
}

func TestLeaveRoomKeepsRoomWithOtherParticipants(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	a := newManager(s, "user-a", "Desktop")
	b := newManager(s, "user-b", "Phone")

	roomID, code, err := a.CreateRoom(ctx)
	require.NoError(t, err)
	_, err = b.JoinRoom(ctx, code)
	require.NoError(t, err)

	require.NoError(t, a.LeaveRoom(ctx))
	assert.Equal(t, NotInRoom, a.State())
	assert.Empty(t, a.RoomID())

	participants, err := b.Participants(ctx)
	require.NoError(t, err)
	assert.Len(t, participants, 1)
	assert.Contains(t, participants, "user-b")

	room, err := s.Get(ctx, RoomPath(roomID))
	require.NoError(t, err)
	assert.NotNil(t, room)
}

func TestLeaveRoomDeletesEmptyRoom(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	a := newManager(s, "user-a", "Desktop")

	roomID, _, err := a.CreateRoom(ctx)
	require.NoError(t, err)
	require.NoError(t, a.LeaveRoom(ctx))

	room, err := s.Get(ctx, RoomPath(roomID))
	require.NoError(t, err)
	assert.Nil(t, room)

	// leaving again is a no-op
	require.NoError(t, a.LeaveRoom(ctx))
}

func TestLeaveRoomClearsLocalStateOnFailure(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	a := newManager(s, "user-a", "Desktop")

	_, _, err := a.CreateRoom(ctx)
	require.NoError(t, err)

	s.FailWrites(errors.New("permission denied"))
	err = a.LeaveRoom(ctx)
	assert.True(t, syncerr.IsKind(err, syncerr.KindPermissionDenied))
	assert.Equal(t, NotInRoom, a.State())
	assert.Empty(t, a.RoomID())
	assert.Empty(t, a.RoomCode())
}

func TestSetController(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	a := newManager(s, "user-a", "Desktop")
	b := newManager(s, "user-b", "Phone")

	_, code, err := a.CreateRoom(ctx)
	require.NoError(t, err)
	_, err = b.JoinRoom(ctx, code)
	require.NoError(t, err)

	require.NoError(t, b.SetController(ctx, ""))
	assert.True(t, b.IsController(ctx))
	assert.False(t, a.IsController(ctx))

	require.NoError(t, b.SetController(ctx, "user-a"))
	assert.True(t, a.IsController(ctx))

	outside := newManager(s, "user-c", "Tablet")
	err = outside.SetController(ctx, "")
	assert.True(t, syncerr.IsKind(err, syncerr.KindNotInitialized))
	assert.False(t, outside.IsController(ctx))
}
