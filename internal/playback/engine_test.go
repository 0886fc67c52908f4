package playback

import (
	"context"
	"sync"
	"testing"
	"time"

	"roomsync/internal/room"
	"roomsync/internal/store"
	"roomsync/internal/syncerr"
	"roomsync/pkg/models"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const roomID = "room_1"

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

// fakeRoom reads the controller from the store like the room manager does
type fakeRoom struct {
	store  store.Store
	userID string
	roomID string
}

func (r *fakeRoom) RoomID() string { return r.roomID }

func (r *fakeRoom) IsController(ctx context.Context) bool {
	v, err := r.store.Get(ctx, room.ControllerPath(r.roomID))
	return err == nil && v == r.userID
}

type fakePlayer struct {
	mu      sync.Mutex
	state   models.LocalPlayback
	applied int
}

func (p *fakePlayer) Snapshot() models.LocalPlayback {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *fakePlayer) SetPlaying(playing bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state.IsPlaying = playing
	p.applied++
}

func (p *fakePlayer) SetProgress(current, duration float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state.CurrentTime = current
	p.state.Duration = duration
}

func (p *fakePlayer) SetCurrentTrack(listID string, track *models.Track) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state.ListID = listID
	p.state.Track = track
	p.applied++
}

func (p *fakePlayer) SetPlayInfo(info models.PlayInfo) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state.PlayInfo = info
}

func (p *fakePlayer) set(fn func(*models.LocalPlayback)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(&p.state)
}

func (p *fakePlayer) appliedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.applied
}

type fixture struct {
	store  *store.MemoryStore
	clock  *clock.Mock
	player *fakePlayer
	engine *Engine
}

func newFixture(t *testing.T, userID string) *fixture {
	t.Helper()
	s := store.NewMemoryStore(nil, quietLogger())
	t.Cleanup(func() { s.Close() })
	return newFixtureOn(t, s, userID)
}

func newFixtureOn(t *testing.T, s *store.MemoryStore, userID string) *fixture {
	t.Helper()
	clk := clock.NewMock()
	p := &fakePlayer{state: models.LocalPlayback{PlayInfo: models.EmptyPlayInfo()}}
	r := &fakeRoom{store: s, userID: userID, roomID: roomID}
	e := NewEngine(r, s, p, 200*time.Millisecond, clk, quietLogger())
	t.Cleanup(e.Stop)
	return &fixture{store: s, clock: clk, player: p, engine: e}
}

func setController(t *testing.T, s store.Store, userID string) {
	t.Helper()
	require.NoError(t, s.Set(context.Background(), room.ControllerPath(roomID), userID))
}

var songA = models.Track{ID: "song-a", Name: "Song A", Singer: "Artist", Album: "Album", Source: "local", Interval: "03:20"}

func TestForcedPushWritesFullState(t *testing.T) {
	f := newFixture(t, "user-a")
	setController(t, f.store, "user-a")
	ctx := context.Background()

	f.player.set(func(s *models.LocalPlayback) {
		s.IsPlaying = true
		s.CurrentTime = 12.5
		s.Duration = 200
		s.ListID = "default"
		track := songA
		s.Track = &track
		s.PlayInfo = models.PlayInfo{PlayIndex: 3, PlayerListID: "default", PlayerPlayIndex: 3}
	})

	require.NoError(t, f.engine.UpdateRemoteState(ctx, true))

	status, err := f.store.Get(ctx, room.StatusPath(roomID))
	require.NoError(t, err)
	var got models.PlaybackStatus
	require.NoError(t, store.Snapshot{Value: status}.Decode(&got))
	assert.True(t, got.IsPlaying)
	assert.Equal(t, 12.5, got.CurrentTime)
	assert.Equal(t, 200.0, got.Duration)
	assert.NotZero(t, got.UpdatedAt)

	music, err := f.store.Get(ctx, room.CurrentMusicPath(roomID))
	require.NoError(t, err)
	var cm models.CurrentMusic
	require.NoError(t, store.Snapshot{Value: music}.Decode(&cm))
	assert.Equal(t, "song-a", cm.ID)
	assert.Equal(t, "default", cm.ListID)

	info, err := f.store.Get(ctx, room.PlayInfoPath(roomID))
	require.NoError(t, err)
	var pi models.PlayInfo
	require.NoError(t, store.Snapshot{Value: info}.Decode(&pi))
	assert.Equal(t, 3, pi.PlayIndex)
}

func TestPushClearsCurrentMusicWhenNothingPlays(t *testing.T) {
	f := newFixture(t, "user-a")
	setController(t, f.store, "user-a")
	ctx := context.Background()

	require.NoError(t, f.store.Set(ctx, room.CurrentMusicPath(roomID), songA))
	require.NoError(t, f.engine.SyncCurrentState(ctx))

	music, err := f.store.Get(ctx, room.CurrentMusicPath(roomID))
	require.NoError(t, err)
	assert.Nil(t, music)
}

func TestNonControllerNeverWrites(t *testing.T) {
	f := newFixture(t, "user-a")
	setController(t, f.store, "user-a")
	ctx := context.Background()

	require.NoError(t, f.engine.UpdateRemoteState(ctx, true))
	_, err := f.store.Get(ctx, room.StatusPath(roomID))
	require.NoError(t, err)

	// control moves away mid-session
	setController(t, f.store, "user-b")
	require.NoError(t, f.store.Remove(ctx, room.StatusPath(roomID)))

	f.player.set(func(s *models.LocalPlayback) { s.IsPlaying = true })
	require.NoError(t, f.engine.UpdateRemoteState(ctx, true))
	require.NoError(t, f.engine.UpdateRemoteState(ctx, false))
	f.clock.Add(time.Second)

	time.Sleep(30 * time.Millisecond)
	status, err := f.store.Get(ctx, room.StatusPath(roomID))
	require.NoError(t, err)
	assert.Nil(t, status)
}

func TestThrottledPushesCoalesce(t *testing.T) {
	f := newFixture(t, "user-a")
	setController(t, f.store, "user-a")
	ctx := context.Background()

	readTime := func() float64 {
		v, err := f.store.Get(ctx, room.StatusPath(roomID))
		if err != nil || v == nil {
			return -1
		}
		var st models.PlaybackStatus
		if err := (store.Snapshot{Value: v}).Decode(&st); err != nil {
			return -1
		}
		return st.CurrentTime
	}

	call := func(progress float64) {
		f.player.set(func(s *models.LocalPlayback) { s.CurrentTime = progress })
		require.NoError(t, f.engine.UpdateRemoteState(ctx, false))
	}

	call(0)
	require.Eventually(t, func() bool { return readTime() == 0 }, time.Second, 5*time.Millisecond,
		"leading push runs right away")

	prev := 0
	for _, at := range []int{50, 100, 150, 190} {
		f.clock.Add(time.Duration(at-prev) * time.Millisecond)
		prev = at
		call(float64(at))
	}
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0.0, readTime(), "calls inside the window are held back")

	f.clock.Add(10 * time.Millisecond)
	require.Eventually(t, func() bool { return readTime() == 190 }, time.Second, 5*time.Millisecond,
		"trailing push carries the latest state")
}

func TestFollowerAppliesRemoteState(t *testing.T) {
	f := newFixture(t, "user-b")
	setController(t, f.store, "user-a")
	ctx := context.Background()
	require.NoError(t, f.engine.Start())

	require.NoError(t, f.store.Update(ctx, map[string]any{
		room.StatusPath(roomID):       map[string]any{"is_playing": true, "current_time": 42, "duration": 180, "updated_at": store.ServerTimestamp},
		room.CurrentMusicPath(roomID): models.CurrentMusic{Track: songA, ListID: "love"},
		room.PlayInfoPath(roomID):     models.PlayInfo{PlayIndex: 1, PlayerListID: "love", PlayerPlayIndex: 1},
	}))

	require.Eventually(t, func() bool {
		s := f.player.Snapshot()
		return s.IsPlaying && s.CurrentTime == 42 && s.Track != nil && s.Track.ID == "song-a" && s.PlayInfo.PlayIndex == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "love", f.player.Snapshot().ListID)

	// a missing track clears local playback
	require.NoError(t, f.store.Remove(ctx, room.CurrentMusicPath(roomID)))
	require.Eventually(t, func() bool {
		return f.player.Snapshot().Track == nil
	}, time.Second, 5*time.Millisecond)
}

func TestControllerIgnoresInbound(t *testing.T) {
	f := newFixture(t, "user-a")
	setController(t, f.store, "user-a")
	ctx := context.Background()
	require.NoError(t, f.engine.Start())

	require.NoError(t, f.store.Set(ctx, room.CurrentMusicPath(roomID), songA))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, f.player.appliedCount())
}

func TestStopReleasesSubscriptions(t *testing.T) {
	f := newFixture(t, "user-b")
	setController(t, f.store, "user-a")
	ctx := context.Background()

	require.NoError(t, f.engine.Start())
	require.NoError(t, f.engine.Start())
	assert.True(t, f.engine.IsRunning())

	require.Eventually(t, func() bool { return f.player.appliedCount() > 0 }, time.Second, 5*time.Millisecond)
	f.engine.Stop()
	f.engine.Stop()
	time.Sleep(20 * time.Millisecond)
	before := f.player.appliedCount()

	require.NoError(t, f.store.Set(ctx, room.CurrentMusicPath(roomID), songA))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, before, f.player.appliedCount())
	assert.Nil(t, f.player.Snapshot().Track)
}

func TestStartOutsideRoom(t *testing.T) {
	s := store.NewMemoryStore(nil, quietLogger())
	defer s.Close()
	e := NewEngine(&fakeRoom{store: s}, s, &fakePlayer{}, 0, nil, quietLogger())

	err := e.Start()
	assert.True(t, syncerr.IsKind(err, syncerr.KindNotInitialized))
	assert.NoError(t, e.UpdateRemoteState(context.Background(), true))
}

// gatedStore holds every Update until release is closed
type gatedStore struct {
	*store.MemoryStore
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedStore) Update(ctx context.Context, updates map[string]any) error {
	g.once.Do(func() { close(g.entered) })
	<-g.release
	return g.MemoryStore.Update(ctx, updates)
}

func TestStopWaitsForPushInFlight(t *testing.T) {
	mem := store.NewMemoryStore(nil, quietLogger())
	t.Cleanup(func() { mem.Close() })
	setController(t, mem, "user-a")
	gated := &gatedStore{MemoryStore: mem, entered: make(chan struct{}), release: make(chan struct{})}

	p := &fakePlayer{state: models.LocalPlayback{PlayInfo: models.EmptyPlayInfo()}}
	e := NewEngine(&fakeRoom{store: mem, userID: "user-a", roomID: roomID}, gated, p, 0, clock.NewMock(), quietLogger())
	require.NoError(t, e.Start())

	pushed := make(chan error, 1)
	go func() { pushed <- e.UpdateRemoteState(context.Background(), true) }()
	<-gated.entered

	stopped := make(chan struct{})
	go func() {
		e.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
		t.Fatal("Stop returned while a push was still writing")
	case <-time.After(50 * time.Millisecond):
	}

	close(gated.release)
	require.NoError(t, <-pushed)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after the push finished")
	}
}

func TestPushAfterStopIsDiscarded(t *testing.T) {
	f := newFixture(t, "user-a")
	setController(t, f.store, "user-a")
	ctx := context.Background()

	require.NoError(t, f.engine.Start())
	f.engine.Stop()

	require.NoError(t, f.engine.UpdateRemoteState(ctx, true))
	require.NoError(t, f.engine.UpdateRemoteState(ctx, false))
	f.clock.Add(time.Second)
	time.Sleep(20 * time.Millisecond)

	v, err := f.store.Get(ctx, room.StatusPath(roomID))
	require.NoError(t, err)
	assert.Nil(t, v)

	require.NoError(t, f.engine.Start())
	require.NoError(t, f.engine.UpdateRemoteState(ctx, true))
	v, err = f.store.Get(ctx, room.StatusPath(roomID))
	require.NoError(t, err)
	assert.NotNil(t, v, "a restarted engine pushes again")
}
