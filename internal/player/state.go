package player

import (
	"context"
	"fmt"
	"sync"
	"time"

	"roomsync/internal/events"
	"roomsync/pkg/models"
)

// ListReader is the local list storage the player queues tracks from
type ListReader interface {
	ListMusics(ctx context.Context, listID string) ([]models.Track, error)
}

// State is the player state pushed to channel listeners
type State struct {
	models.LocalPlayback
	UpdatedAt time.Time `json:"updatedAt"`
}

// StateManager is the local player. Every mutation is published on the event
// bus and sent to channel listeners.
type StateManager struct {
	state     State
	mutex     sync.RWMutex
	listeners []chan State
	bus       *events.Bus
	lists     ListReader
}

// NewStateManager creates an idle player
func NewStateManager(bus *events.Bus, lists ListReader) *StateManager {
	return &StateManager{
		state: State{
			LocalPlayback: models.LocalPlayback{PlayInfo: models.EmptyPlayInfo()},
			UpdatedAt:     time.Now(),
		},
		bus:   bus,
		lists: lists,
	}
}

// GetState returns a copy of the current state
func (sm *StateManager) GetState() State {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()
	return sm.copyState()
}

// Snapshot returns a copy of the current playback
func (sm *StateManager) Snapshot() models.LocalPlayback {
	return sm.GetState().LocalPlayback
}

// copyState must be called with the lock held
func (sm *StateManager) copyState() State {
	s := sm.state
	if s.Track != nil {
		track := *s.Track
		s.Track = &track
	}
	return s
}

// mutate applies fn under the lock, then notifies listeners and publishes the
// given topics once the lock is released.
func (sm *StateManager) mutate(fn func(s *State), topics ...events.Topic) {
	sm.mutex.Lock()
	fn(&sm.state)
	sm.state.UpdatedAt = time.Now()
	snapshot := sm.copyState()
	sm.notifyListeners(snapshot)
	sm.mutex.Unlock()

	if sm.bus == nil {
		return
	}
	listID := snapshot.ListID
	for _, topic := range topics {
		sm.bus.Publish(events.Event{Topic: topic, ListID: listID, Payload: snapshot.LocalPlayback})
	}
}

// SetPlaying toggles play/pause
func (sm *StateManager) SetPlaying(playing bool) {
	sm.mutate(func(s *State) { s.IsPlaying = playing }, events.PlayStateChanged)
}

// SetProgress updates elapsed time and duration in seconds
func (sm *StateManager) SetProgress(current, duration float64) {
	sm.mutate(func(s *State) {
		s.CurrentTime = current
		s.Duration = duration
	}, events.ProgressChanged)
}

// SetCurrentTrack replaces the current track. A nil track stops playback.
func (sm *StateManager) SetCurrentTrack(listID string, track *models.Track) {
	sm.mutate(func(s *State) {
		if track == nil {
			s.Track = nil
			s.ListID = ""
			s.IsPlaying = false
			s.CurrentTime = 0
			s.Duration = 0
			return
		}
		copied := *track
		s.Track = &copied
		s.ListID = listID
	}, events.MusicInfoChanged)
}

// SetPlayInfo updates the list linkage of the current track
func (sm *StateManager) SetPlayInfo(info models.PlayInfo) {
	sm.mutate(func(s *State) { s.PlayInfo = info }, events.PlayInfoChanged)
}

// PlayList starts playing the track at index of listID
func (sm *StateManager) PlayList(listID string, index int) error {
	if sm.lists == nil {
		return fmt.Errorf("no list storage configured")
	}
	tracks, err := sm.lists.ListMusics(context.Background(), listID)
	if err != nil {
		return fmt.Errorf("failed to read list %s: %w", listID, err)
	}
	if index < 0 || index >= len(tracks) {
		return fmt.Errorf("index %d out of range for list %s (%d tracks)", index, listID, len(tracks))
	}

	track := tracks[index]
	sm.mutate(func(s *State) {
		s.Track = &track
		s.ListID = listID
		s.IsPlaying = true
		s.CurrentTime = 0
		s.Duration = parseInterval(track.Interval)
		s.PlayInfo = models.PlayInfo{PlayIndex: index, PlayerListID: listID, PlayerPlayIndex: index}
	}, events.MusicInfoChanged, events.PlayInfoChanged, events.PlayStateChanged)
	return nil
}

// Next advances to the following track of the current list, wrapping around
func (sm *StateManager) Next() error {
	current := sm.Snapshot()
	if current.PlayInfo.PlayerListID == "" || sm.lists == nil {
		return fmt.Errorf("nothing is queued")
	}
	tracks, err := sm.lists.ListMusics(context.Background(), current.PlayInfo.PlayerListID)
	if err != nil {
		return fmt.Errorf("failed to read list %s: %w", current.PlayInfo.PlayerListID, err)
	}
	if len(tracks) == 0 {
		return fmt.Errorf("list %s is empty", current.PlayInfo.PlayerListID)
	}
	return sm.PlayList(current.PlayInfo.PlayerListID, (current.PlayInfo.PlayerPlayIndex+1)%len(tracks))
}

// ClearTrack stops playback and forgets the current track
func (sm *StateManager) ClearTrack() {
	sm.mutate(func(s *State) {
		s.Track = nil
		s.ListID = ""
		s.IsPlaying = false
		s.CurrentTime = 0
		s.Duration = 0
		s.PlayInfo = models.EmptyPlayInfo()
	}, events.MusicInfoChanged, events.PlayInfoChanged, events.PlayStateChanged)
}

// Subscribe adds a listener for state changes
func (sm *StateManager) Subscribe() <-chan State {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	ch := make(chan State, 10)
	sm.listeners = append(sm.listeners, ch)
	return ch
}

// Unsubscribe removes and closes a listener
func (sm *StateManager) Unsubscribe(ch <-chan State) {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	for i, listener := range sm.listeners {
		if listener == ch {
			close(listener)
			sm.listeners = append(sm.listeners[:i], sm.listeners[i+1:]...)
			break
		}
	}
}

// notifyListeners must be called with the lock held. Listeners that are not
// keeping up are dropped.
func (sm *StateManager) notifyListeners(s State) {
	kept := sm.listeners[:0]
	for _, listener := range sm.listeners {
		select {
		case listener <- s:
			kept = append(kept, listener)
		default:
			close(listener)
		}
	}
	sm.listeners = kept
}

// parseInterval converts "mm:ss" to seconds; unparsable hints yield zero
func parseInterval(interval string) float64 {
	var minutes, seconds int
	if _, err := fmt.Sscanf(interval, "%d:%d", &minutes, &seconds); err != nil {
		return 0
	}
	return float64(minutes*60 + seconds)
}
