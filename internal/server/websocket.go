package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"roomsync/internal/connection"
	"roomsync/internal/player"
	"roomsync/internal/session"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	// the API is bound to the local host or fronted by the token check
	CheckOrigin: func(r *http.Request) bool { return true },
}

// message is one status stream frame
type message struct {
	Type   string            `json:"type"`
	Status connection.Status `json:"status,omitempty"`
	Room   *session.RoomInfo `json:"room,omitempty"`
	Player *player.State     `json:"player,omitempty"`
	Time   string            `json:"now,omitempty"`
}

// Client is one websocket subscriber of the status stream
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub owns the stream clients and fans frames out to them
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	closeOnce  sync.Once
	logger     *logrus.Entry
}

func NewHub(logger *logrus.Entry) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run serves the hub until Close
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			for client := range h.clients {
				h.drop(client)
			}
			return

		case client := <-h.register:
			h.clients[client] = true

		case client := <-h.unregister:
			if h.clients[client] {
				h.drop(client)
			}

		case frame := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- frame:
				default:
					h.logger.Debug("Dropping slow status client")
					h.drop(client)
				}
			}
		}
	}
}

func (h *Hub) drop(client *Client) {
	delete(h.clients, client)
	close(client.send)
	_ = client.conn.Close()
}

// Broadcast queues a frame for every client. Frames are dropped once the hub
// is closed or its queue is full.
func (h *Hub) Broadcast(msg message) {
	frame, err := json.Marshal(msg)
	if err != nil {
		h.logger.WithError(err).Error("Failed to encode status frame")
		return
	}
	select {
	case h.broadcast <- frame:
	case <-h.done:
	default:
		h.logger.Warn("Status stream queue full, dropping frame")
	}
}

// Close stops Run and disconnects every client
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

func (h *Hub) add(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) remove(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warn("Websocket upgrade failed")
		return
	}

	client := &Client{
		hub:  s.hub,
		conn: conn,
		send: make(chan []byte, 256),
	}

	info := s.session.RoomInfo()
	welcome := message{
		Type:   "welcome",
		Status: info.ConnectionStatus,
		Room:   &info,
		Time:   time.Now().UTC().Format(time.RFC3339Nano),
	}
	if s.player != nil {
		state := s.player.GetState()
		welcome.Player = &state
	}
	if frame, err := json.Marshal(welcome); err == nil {
		client.send <- frame
	}

	if !s.hub.add(client) {
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// readPump discards inbound frames and keeps the pong deadline fresh
func (c *Client) readPump() {
	defer c.hub.remove(c)

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
