package service

import (
	"context"
	"sync"
	"time"
)

// EventType represents the type of event
type EventType string

const (
	// System events
	EventTypeServiceStarted EventType = "service.started"
	EventTypeServiceStopped EventType = "service.stopped"
	EventTypeServiceError   EventType = "service.error"

	// Alert events
	EventTypeAlertStateChanged   EventType = "alert.state_changed"
	EventTypeEpisodeStarted      EventType = "alert.episode_started"
	EventTypeEpisodeEnded        EventType = "alert.episode_ended"
	EventTypeNotificationSent    EventType = "alert.notification_sent"
	EventTypeNotificationFailed  EventType = "alert.notification_failed"
	EventTypeNotificationSkipped EventType = "alert.notification_skipped"

	// Stream events
	EventTypePipelineStarted EventType = "stream.pipeline_started"
	EventTypePipelineStopped EventType = "stream.pipeline_stopped"
)

// Event represents an event in the system
type Event struct {
	Type      EventType
	Source    string // Service that emitted the event
	Timestamp time.Time
	Data      map[string]interface{} // Event-specific data
}

// subscription is one subscriber channel and the event types it wants.
// A nil types set means every event.
type subscription struct {
	ch    chan Event
	types map[EventType]bool
}

func (s *subscription) wants(t EventType) bool {
	return s.types == nil || s.types[t]
}

// EventBus provides inter-service communication via events.
// Events delivered to one subscriber keep their publish order.
type EventBus struct {
	subs       []*subscription
	mu         sync.RWMutex
	bufferSize int
	closed     bool
}

// NewEventBus creates a new event bus
func NewEventBus(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &EventBus{
		subs:       make([]*subscription, 0),
		bufferSize: bufferSize,
	}
}

// Subscribe subscribes to one or more event types on a single channel
func (eb *EventBus) Subscribe(eventTypes ...EventType) <-chan Event {
	types := make(map[EventType]bool, len(eventTypes))
	for _, t := range eventTypes {
		types[t] = true
	}
	return eb.add(types)
}

// SubscribeAll subscribes to every event type, including ones not yet published
func (eb *EventBus) SubscribeAll() <-chan Event {
	return eb.add(nil)
}

func (eb *EventBus) add(types map[EventType]bool) <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	ch := make(chan Event, eb.bufferSize)
	if eb.closed {
		close(ch)
		return ch
	}
	eb.subs = append(eb.subs, &subscription{ch: ch, types: types})
	return ch
}

// Publish publishes an event to all matching subscribers without blocking.
// A subscriber whose buffer is full misses the event.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	for _, sub := range eb.subs {
		if !sub.wants(event.Type) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
		}
	}
}

// Unsubscribe removes a subscription and closes its channel
func (eb *EventBus) Unsubscribe(ch <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	for i, sub := range eb.subs {
		if sub.ch == ch {
			eb.subs = append(eb.subs[:i], eb.subs[i+1:]...)
			close(sub.ch)
			return
		}
	}
}

// Close closes all subscriptions and cleans up
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	for _, sub := range eb.subs {
		close(sub.ch)
	}
	eb.subs = nil
	eb.closed = true
}

// SubscriberCount returns the number of live subscriptions
func (eb *EventBus) SubscriberCount() int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.subs)
}

// EventHandler is a function that handles events
type EventHandler func(ctx context.Context, event Event) error

// SubscribeWithHandler runs handler for every matching event until ctx is done.
// Handler errors are passed to onError when it is non-nil.
func (eb *EventBus) SubscribeWithHandler(ctx context.Context, handler EventHandler, onError func(Event, error), eventTypes ...EventType) {
	ch := eb.Subscribe(eventTypes...)
	go func() {
		defer eb.Unsubscribe(ch)
		for {
			select {
			case event, ok := <-ch:
				if !ok {
					return
				}
				if err := handler(ctx, event); err != nil && onError != nil {
					onError(event, err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}
