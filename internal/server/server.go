package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"roomsync/internal/connection"
	"roomsync/internal/player"
	"roomsync/internal/session"
	"roomsync/pkg/models"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
)

// Session is the sync session the control API drives
type Session interface {
	ConnectAndCreateRoom(ctx context.Context) (string, string, error)
	ConnectAndJoinRoom(ctx context.Context, code string) (string, error)
	Disconnect(ctx context.Context) error
	RoomInfo() session.RoomInfo
	Participants(ctx context.Context) (map[string]models.Participant, error)
	UserID() string
	IsController(ctx context.Context) bool
	ControllerID(ctx context.Context) (string, error)
	SetController(ctx context.Context, userID string) error
	SyncCurrentState(ctx context.Context) error
	SyncPlaylist(ctx context.Context, listID string) error
	SetWatchingListID(listID string)
	WatchingListID() string
	OnConnectionStatusChange(fn func(connection.Status)) func()
}

// PlayerState is the local player as seen by status stream clients and the
// player routes
type PlayerState interface {
	GetState() player.State
	Subscribe() <-chan player.State
	Unsubscribe(ch <-chan player.State)
	PlayList(listID string, index int) error
	SetPlaying(playing bool)
	Next() error
	ClearTrack()
}

// Options configure the control API
type Options struct {
	Addr           string
	ReadTimeout    time.Duration
	EnableCORS     bool
	RequestLogging bool
	// TokenHash is a bcrypt hash of the bearer token; empty disables auth
	TokenHash string
}

// Server is the local control API for one sync session
type Server struct {
	session Session
	player  PlayerState
	opts    Options
	logger  *logrus.Entry
	hub     *Hub

	mu       sync.Mutex
	http     *http.Server
	stopFeed func()
}

// New creates a server and starts its stream hub. player may be nil, in which
// case the status stream only carries connection changes.
func New(sess Session, p PlayerState, opts Options, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	log := logger.WithField("component", "server")
	hub := NewHub(log)
	go hub.Run()
	return &Server{
		session: sess,
		player:  p,
		opts:    opts,
		logger:  log,
		hub:     hub,
	}
}

// Router builds the chi router with every route and middleware installed
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(s.panicRecoveryMiddleware)
	r.Use(s.requestLoggingMiddleware)
	r.Use(s.corsMiddleware)

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/api/room", s.handleGetRoom)
		r.Post("/api/room", s.handleCreateRoom)
		r.Post("/api/room/join", s.handleJoinRoom)
		r.Post("/api/room/leave", s.handleLeaveRoom)
		r.Get("/api/room/participants", s.handleParticipants)

		r.Get("/api/controller", s.handleGetController)
		r.Post("/api/controller", s.handleSetController)

		r.Post("/api/sync", s.handleSyncState)
		r.Post("/api/playlist/sync", s.handleSyncPlaylist)
		r.Post("/api/playlist/watch", s.handleWatchPlaylist)

		r.Get("/api/ws", s.handleWS)

		if s.player != nil {
			r.Get("/api/player", s.handlePlayerState)
			r.Post("/api/player/play", s.handlePlay)
			r.Post("/api/player/pause", s.handlePause)
			r.Post("/api/player/resume", s.handleResume)
			r.Post("/api/player/next", s.handleNext)
			r.Post("/api/player/stop", s.handleStop)
		}
	})

	return r
}

// Start begins feeding the status stream and serves on ln until Shutdown
func (s *Server) Start(ln net.Listener) error {
	s.mu.Lock()
	if s.http != nil {
		s.mu.Unlock()
		return errors.New("server already started")
	}
	s.startFeed()
	s.http = &http.Server{
		Handler:     s.Router(),
		ReadTimeout: s.opts.ReadTimeout,
	}
	srv := s.http
	s.mu.Unlock()

	s.logger.WithField("addr", ln.Addr().String()).Info("Control API listening")
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ListenAndServe listens on the configured address
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return err
	}
	return s.Start(ln)
}

// Shutdown stops the listener, the status feed and every stream client
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.http
	stop := s.stopFeed
	s.http = nil
	s.stopFeed = nil
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
	s.hub.Close()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// startFeed forwards connection status and player state into the hub. Must
// be called with s.mu held.
func (s *Server) startFeed() {
	unwatch := s.session.OnConnectionStatusChange(func(status connection.Status) {
		s.hub.Broadcast(message{Type: "connection", Status: status})
	})

	if s.player == nil {
		s.stopFeed = unwatch
		return
	}

	states := s.player.Subscribe()
	go func() {
		for state := range states {
			st := state
			s.hub.Broadcast(message{Type: "player", Player: &st})
		}
	}()

	s.stopFeed = func() {
		unwatch()
		s.player.Unsubscribe(states)
	}
}
