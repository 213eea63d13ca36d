// Package ws bridges bot events to connected dashboard WebSocket clients.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/kokokkkoko/csfloat-outbid-bot/internal/events"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// sendBufferSize is the outgoing buffer per client; slow clients whose
	// buffer fills are dropped rather than allowed to stall broadcasts.
	sendBufferSize = 64

	// hubBufferSize bounds the queue between the bot and the broadcast
	// pump. Publish drops on overflow so the scheduler never blocks here.
	hubBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The dashboard is served from arbitrary hosts in development.
		return true
	},
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Hub fans bot events out to all connected WebSocket clients.
type Hub struct {
	logger zerolog.Logger

	mu      sync.RWMutex
	clients map[string]*client

	broadcast chan []byte
}

// NewHub constructs a hub; call Run to start the broadcast pump.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		logger:    logger.With().Str("component", "ws_hub").Logger(),
		clients:   make(map[string]*client),
		broadcast: make(chan []byte, hubBufferSize),
	}
}

// Publish implements events.Sink. It never blocks; events are dropped when
// the broadcast queue is full.
func (h *Hub) Publish(event events.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Str("type", event.Type).Msg("failed to encode event")
		return
	}

	select {
	case h.broadcast <- payload:
	default:
		h.logger.Warn().Str("type", event.Type).Msg("broadcast queue full, event dropped")
	}
}

// Run pumps broadcasts until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case payload := <-h.broadcast:
			h.mu.RLock()
			for _, c := range h.clients {
				select {
				case c.send <- payload:
				default:
					// Slow consumer; writePump will notice the closed send side.
					h.logger.Warn().Str("client_id", c.id).Msg("client send buffer full, dropping connection")
					go h.remove(c)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// ServeHTTP upgrades the request and registers the connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}

	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()

	h.logger.Info().Str("client_id", c.id).Int("connections", h.ConnectionCount()).Msg("websocket client connected")

	go h.writePump(c)
	go h.readPump(c)
}

// ConnectionCount reports the number of connected clients.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; ok {
		delete(h.clients, c.id)
		close(c.send)
	}
	h.mu.Unlock()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		close(c.send)
		_ = c.conn.Close()
		delete(h.clients, id)
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
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

func (h *Hub) readPump(c *client) {
	defer func() {
		h.remove(c)
		_ = c.conn.Close()
		h.logger.Info().Str("client_id", c.id).Msg("websocket client disconnected")
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// Inbound messages are ignored; the hub is broadcast-only.
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

var _ events.Sink = (*Hub)(nil)
