package ws

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vzahanych/violence-watch/internal/alert"
	"github.com/vzahanych/violence-watch/internal/logger"
	"github.com/vzahanych/violence-watch/internal/service"
)

type fakeSource struct {
	mu   sync.Mutex
	snap alert.Snapshot
}

func (f *fakeSource) Snapshot() alert.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeSource) set(violence bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snap = alert.Snapshot{ViolenceDetected: violence, UpdatedAt: time.Now()}
}

func startHub(t *testing.T) (*StatusHub, *fakeSource, *service.EventBus, string) {
	t.Helper()
	src := &fakeSource{}
	hub := NewStatusHub(src, logger.NewNopLogger())
	bus := service.NewEventBus(16)
	hub.SetEventBus(bus)
	require.NoError(t, hub.Start(context.Background()))

	server := httptest.NewServer(hub)
	t.Cleanup(func() {
		_ = hub.Stop(context.Background())
		server.Close()
	})
	return hub, src, bus, "ws" + strings.TrimPrefix(server.URL, "http")
}

func readStatus(t *testing.T, conn *websocket.Conn) StatusMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg StatusMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestStatusHub_SendsCurrentStateOnConnect(t *testing.T) {
	_, _, _, url := startHub(t)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	msg := readStatus(t, conn)
	assert.False(t, msg.Violence)
	assert.False(t, msg.Timestamp.IsZero())
}

func TestStatusHub_BroadcastsOnStateChange(t *testing.T) {
	hub, src, bus, url := startHub(t)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	readStatus(t, conn)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	src.set(true)
	bus.Publish(service.Event{Type: service.EventTypeAlertStateChanged, Source: "alert"})

	msg := readStatus(t, conn)
	assert.True(t, msg.Violence)
}

func TestStatusHub_UnregistersOnDisconnect(t *testing.T) {
	hub, _, _, url := startHub(t)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	readStatus(t, conn)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	conn.Close()
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestStatusHub_StartRequiresBus(t *testing.T) {
	hub := NewStatusHub(&fakeSource{}, logger.NewNopLogger())
	assert.Error(t, hub.Start(context.Background()))
}
