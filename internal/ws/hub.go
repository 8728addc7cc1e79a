// Package ws pushes alert status changes to browsers over WebSocket.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/vzahanych/violence-watch/internal/alert"
	"github.com/vzahanych/violence-watch/internal/logger"
	"github.com/vzahanych/violence-watch/internal/service"
)

// StatusMessage is sent to clients on connect and on every alert transition
type StatusMessage struct {
	Violence  bool      `json:"violence"`
	EmailSent bool      `json:"email_sent"`
	Timestamp time.Time `json:"timestamp"`
}

// StatusSource provides the current alert state
type StatusSource interface {
	Snapshot() alert.Snapshot
}

// StatusHub tracks connected clients and broadcasts alert status to them
type StatusHub struct {
	*service.ServiceBase
	source  StatusSource
	clients map[*client]bool
	mu      sync.RWMutex
	cancel  context.CancelFunc
}

// NewStatusHub creates a hub reading state from source
func NewStatusHub(source StatusSource, log *logger.Logger) *StatusHub {
	return &StatusHub{
		ServiceBase: service.NewServiceBase("status-hub", log),
		source:      source,
		clients:     make(map[*client]bool),
	}
}

// Start broadcasts on every alert state change published on the event bus
func (h *StatusHub) Start(ctx context.Context) error {
	bus := h.GetEventBus()
	if bus == nil {
		return fmt.Errorf("status hub requires an event bus")
	}

	ctx, h.cancel = context.WithCancel(ctx)
	bus.SubscribeWithHandler(ctx, func(ctx context.Context, ev service.Event) error {
		h.BroadcastStatus()
		return nil
	}, nil, service.EventTypeAlertStateChanged, service.EventTypeNotificationSent, service.EventTypeEpisodeEnded)

	h.LogInfo("Status hub started")
	return nil
}

// Stop disconnects every client
func (h *StatusHub) Stop(ctx context.Context) error {
	if h.cancel != nil {
		h.cancel()
	}

	h.mu.Lock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	return nil
}

func (h *StatusHub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = true
	h.LogDebug("Client registered", "remote", c.remote, "total", len(h.clients))
}

func (h *StatusHub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		h.LogDebug("Client unregistered", "remote", c.remote, "total", len(h.clients))
	}
}

// ClientCount returns the number of connected clients
func (h *StatusHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// currentMessage encodes the current alert state
func (h *StatusHub) currentMessage() ([]byte, error) {
	snap := h.source.Snapshot()
	ts := snap.UpdatedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	return json.Marshal(StatusMessage{
		Violence:  snap.ViolenceDetected,
		EmailSent: snap.EmailSent,
		Timestamp: ts,
	})
}

// BroadcastStatus sends the current state to every client. Clients that
// cannot keep up are disconnected.
func (h *StatusHub) BroadcastStatus() {
	data, err := h.currentMessage()
	if err != nil {
		h.LogError("Failed to marshal status message", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			delete(h.clients, c)
			close(c.send)
			h.LogDebug("Dropped slow client", "remote", c.remote)
		}
	}
}
