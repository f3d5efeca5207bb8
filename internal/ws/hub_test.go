package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fernwood/pushcenter/internal/bus"
)

type hubFixture struct {
	hub *Hub
	bus *bus.Bus
	srv *httptest.Server
}

func newHubFixture(t *testing.T) *hubFixture {
	t.Helper()
	b := bus.New(zerolog.Nop())
	hub := NewHub(b, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)

	srv := httptest.NewServer(http.HandlerFunc(hub.Handler))
	t.Cleanup(srv.Close)
	return &hubFixture{hub: hub, bus: b, srv: srv}
}

func (f *hubFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.Eventually(t, func() bool {
		return f.hub.ConnectionCount() > 0
	}, 2*time.Second, 10*time.Millisecond)
	return conn
}

// connections returns the registered connections, for assertions.
func (f *hubFixture) connections() []*connection {
	f.hub.mu.RLock()
	defer f.hub.mu.RUnlock()
	out := make([]*connection, 0, len(f.hub.conns))
	for c := range f.hub.conns {
		out = append(out, c)
	}
	return out
}

func TestHubBroadcastsBusMessages(t *testing.T) {
	f := newHubFixture(t)
	conn := f.dial(t)

	f.bus.Publish(bus.NewMessage(bus.MsgNotificationReceived, bus.ReceivedData{Surfaced: true}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg bus.Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, bus.MsgNotificationReceived, msg.Type)
}

func TestHubFansOutToEveryConnection(t *testing.T) {
	f := newHubFixture(t)
	first := f.dial(t)
	second := f.dial(t)
	require.Eventually(t, func() bool {
		return f.hub.ConnectionCount() == 2
	}, 2*time.Second, 10*time.Millisecond)

	f.bus.Publish(bus.NewMessage(bus.MsgSyncCompleted, bus.SyncCompletedData{Synced: 3}))

	for _, conn := range []*websocket.Conn{first, second} {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var msg bus.Message
		require.NoError(t, conn.ReadJSON(&msg))
		assert.Equal(t, bus.MsgSyncCompleted, msg.Type)
	}
}

func TestClientDisconnectRemovesConnection(t *testing.T) {
	f := newHubFixture(t)
	conn := f.dial(t)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		return f.hub.ConnectionCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHeartbeatKeepsQuietConnectionAlive(t *testing.T) {
	f := newHubFixture(t)
	conn := f.dial(t)

	// The client sends nothing; its read loop still answers pings with pongs.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	conns := f.connections()
	require.Len(t, conns, 1)
	c := conns[0]
	c.mu.Lock()
	c.lastSeen = time.Now().Add(-30 * time.Second)
	c.mu.Unlock()
	before := c.seen()

	f.hub.heartbeat()

	require.Eventually(t, func() bool {
		return c.seen().After(before)
	}, 2*time.Second, 10*time.Millisecond, "pong must refresh the connection")
	assert.Equal(t, 1, f.hub.ConnectionCount())
}

func TestHeartbeatDropsUnresponsiveConnection(t *testing.T) {
	f := newHubFixture(t)
	f.dial(t)

	conns := f.connections()
	require.Len(t, conns, 1)
	c := conns[0]
	c.mu.Lock()
	c.lastSeen = time.Now().Add(-2 * pongWait)
	c.mu.Unlock()

	f.hub.heartbeat()

	assert.Equal(t, 0, f.hub.ConnectionCount())
}
