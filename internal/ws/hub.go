// Package ws fans worker→foreground messages out to connected UI contexts
// over websockets. Each connection stands in for one foreground context.
package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/fernwood/pushcenter/internal/bus"
)

const (
	// pongWait is how long a connection may stay silent before the
	// heartbeat drops it; pings go out well inside that window.
	pongWait     = 60 * time.Second
	pingInterval = 25 * time.Second
	writeWait    = 10 * time.Second
)

type connection struct {
	conn *websocket.Conn

	mu       sync.Mutex
	lastSeen time.Time
}

func (c *connection) touch() {
	c.mu.Lock()
	c.lastSeen = time.Now()
	c.mu.Unlock()
}

func (c *connection) seen() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeen
}

type Hub struct {
	mu     sync.RWMutex
	conns  map[*connection]struct{}
	bus    *bus.Bus
	logger zerolog.Logger
}

func NewHub(b *bus.Bus, logger zerolog.Logger) *Hub {
	return &Hub{
		conns:  make(map[*connection]struct{}),
		bus:    b,
		logger: logger.With().Str("component", "ws_hub").Logger(),
	}
}

// Run forwards every bus message to all connections and keeps idle
// connections alive with periodic pings until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	msgs, cancel := h.bus.Subscribe(64)
	defer cancel()
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-ticker.C:
			h.heartbeat()
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			h.broadcast(msg)
		}
	}
}

// heartbeat pings every connection and drops the ones that stopped
// answering. A quiet foreground context stays connected as long as its pongs
// keep coming back.
func (h *Hub) heartbeat() {
	h.mu.RLock()
	conns := make([]*connection, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	now := time.Now()
	for _, c := range conns {
		if now.Sub(c.seen()) > pongWait {
			h.logger.Warn().Msg("foreground context stopped answering pings")
			h.remove(c)
			continue
		}
		if err := c.conn.WriteControl(websocket.PingMessage, nil, now.Add(writeWait)); err != nil {
			h.logger.Warn().Err(err).Msg("websocket ping failed")
			h.remove(c)
		}
	}
}

func (h *Hub) broadcast(msg bus.Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.conns {
		if err := c.conn.WriteJSON(msg); err != nil {
			h.logger.Warn().Err(err).Msg("websocket send failed")
			go h.remove(c)
		}
	}
}

func (h *Hub) add(conn *websocket.Conn) *connection {
	c := &connection{conn: conn, lastSeen: time.Now()}
	h.mu.Lock()
	h.conns[c] = struct{}{}
	total := len(h.conns)
	h.mu.Unlock()
	h.logger.Info().Int("connections", total).Msg("foreground context connected")
	return c
}

func (h *Hub) remove(c *connection) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
	_ = c.conn.Close()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.conns {
		_ = c.conn.Close()
		delete(h.conns, c)
	}
}

// ConnectionCount reports how many foreground contexts are attached.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler upgrades HTTP to websocket and keeps the connection registered
// until the peer goes away.
func (h *Hub) Handler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", http.StatusBadRequest)
		return
	}
	c := h.add(conn)

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		c.touch()
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
		c.touch()
		conn.SetReadDeadline(time.Now().Add(pongWait))
	}
	h.remove(c)
}
