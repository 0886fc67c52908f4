// Package events is the in-process publish/subscribe bus local playback and
// list storage announce their mutations on.
package events

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Topic names one kind of local event
type Topic string

// Player topics
const (
	PlayStateChanged Topic = "player.play_state_changed"
	MusicInfoChanged Topic = "player.music_info_changed"
	ProgressChanged  Topic = "player.progress_changed"
	PlayInfoChanged  Topic = "player.play_info_changed"
)

// List topics
const (
	ListMusicOverwrite      Topic = "list.music_overwrite"
	ListMusicAdd            Topic = "list.music_add"
	ListMusicRemove         Topic = "list.music_remove"
	ListMusicMove           Topic = "list.music_move"
	ListMusicUpdatePosition Topic = "list.music_update_position"
)

// ListTopics are the list mutations a playlist watcher reacts to
var ListTopics = []Topic{
	ListMusicOverwrite,
	ListMusicAdd,
	ListMusicRemove,
	ListMusicMove,
	ListMusicUpdatePosition,
}

// PlayerTopics are the playback events forwarded to the remote room
var PlayerTopics = []Topic{
	PlayStateChanged,
	MusicInfoChanged,
	ProgressChanged,
	PlayInfoChanged,
}

// Event is one published mutation. ListID is set for list topics.
type Event struct {
	Topic   Topic
	ListID  string
	Payload any
}

// Handler receives events for the topics it subscribed to
type Handler func(Event)

// Token identifies one registration
type Token struct {
	topic Topic
	id    uint64
}

// Bus dispatches events synchronously to the handlers of their topic
type Bus struct {
	mu       sync.RWMutex
	handlers map[Topic]map[uint64]Handler
	nextID   uint64
	logger   *logrus.Logger
}

// NewBus creates an empty bus
func NewBus(logger *logrus.Logger) *Bus {
	if logger == nil {
		logger = logrus.New()
	}
	return &Bus{
		handlers: make(map[Topic]map[uint64]Handler),
		logger:   logger,
	}
}

// Subscribe registers h for topic
func (b *Bus) Subscribe(topic Topic, h Handler) Token {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	if b.handlers[topic] == nil {
		b.handlers[topic] = make(map[uint64]Handler)
	}
	b.handlers[topic][b.nextID] = h
	return Token{topic: topic, id: b.nextID}
}

// Unsubscribe removes the registration; unknown tokens are ignored
func (b *Bus) Unsubscribe(token Token) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if hs, ok := b.handlers[token.topic]; ok {
		delete(hs, token.id)
		if len(hs) == 0 {
			delete(b.handlers, token.topic)
		}
	}
}

// Publish delivers ev to every handler of its topic. A panicking handler is
// logged and does not stop delivery to the others.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers[ev.Topic]))
	for _, h := range b.handlers[ev.Topic] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.dispatch(h, ev)
	}
}

func (b *Bus) dispatch(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.WithFields(logrus.Fields{
				"topic": ev.Topic,
				"panic": r,
			}).Error("Event handler panicked")
		}
	}()
	h(ev)
}

// Subscriptions collects release funcs so an owner can drop all of them at
// once.
type Subscriptions struct {
	mu       sync.Mutex
	releases []func()
}

// Add tracks release
func (s *Subscriptions) Add(release func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releases = append(s.releases, release)
}

// Subscribe registers h on bus and tracks the registration
func (s *Subscriptions) Subscribe(bus *Bus, topic Topic, h Handler) {
	token := bus.Subscribe(topic, h)
	s.Add(func() { bus.Unsubscribe(token) })
}

// ReleaseAll runs and forgets every tracked release func
func (s *Subscriptions) ReleaseAll() {
	s.mu.Lock()
	releases := s.releases
	s.releases = nil
	s.mu.Unlock()

	for _, release := range releases {
		release()
	}
}

// Len returns how many registrations are tracked
func (s *Subscriptions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.releases)
}
