package ws

import (
	"encoding/json"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"

	"aegis/internal/pipeline"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wsTestServer(t *testing.T) (*pipeline.Bus, *Hub, *httptest.Server) {
	t.Helper()
	bus := pipeline.NewBus()
	hub := NewHub(bus, nil)
	srv := httptest.NewServer(NewHandler(hub, nil))
	t.Cleanup(func() {
		srv.Close()
		hub.Close()
		bus.Close()
	})
	return bus, hub, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestHandlerBroadcastsUpdates(t *testing.T) {
	bus, hub, srv := wsTestServer(t)

	conn := dial(t, srv)
	defer conn.Close()
	waitFor(t, func() bool { return hub.ClientCount() == 1 }, "client never registered")

	bus.Publish(&pipeline.Update{
		Status: &pipeline.Status{Running: true},
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, "status", msg.Type)
	require.NotNil(t, msg.Status)
	assert.True(t, msg.Status.Running)
}

func TestClosedConnectionsDoNotLeakGoroutines(t *testing.T) {
	_, hub, srv := wsTestServer(t)

	baseline := runtime.NumGoroutine()

	conns := make([]*websocket.Conn, 0, 4)
	for i := 0; i < 4; i++ {
		conns = append(conns, dial(t, srv))
	}
	waitFor(t, func() bool { return hub.ClientCount() == 4 }, "clients never registered")

	for _, conn := range conns {
		conn.Close()
	}
	waitFor(t, func() bool { return hub.ClientCount() == 0 }, "clients never unregistered")

	// Each connection spawned a read pump and a ping loop; both must
	// exit once the peer is gone.
	waitFor(t, func() bool {
		runtime.GC()
		return runtime.NumGoroutine() <= baseline+2
	}, "goroutines left behind after clients disconnected")
}
