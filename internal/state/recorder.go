package state

import (
	"context"
	"fmt"
	"time"

	"github.com/vzahanych/violence-watch/internal/logger"
	"github.com/vzahanych/violence-watch/internal/service"
)

// Recorder persists alert episode events from the event bus
type Recorder struct {
	*service.ServiceBase
	manager *Manager
	cancel  context.CancelFunc
}

// NewRecorder creates an episode recorder writing to manager
func NewRecorder(manager *Manager, log *logger.Logger) *Recorder {
	return &Recorder{
		ServiceBase: service.NewServiceBase("episode-recorder", log),
		manager:     manager,
	}
}

// Start subscribes to episode events
func (r *Recorder) Start(ctx context.Context) error {
	bus := r.GetEventBus()
	if bus == nil {
		return fmt.Errorf("episode recorder requires an event bus")
	}

	ctx, r.cancel = context.WithCancel(ctx)
	bus.SubscribeWithHandler(ctx, r.handle, func(ev service.Event, err error) {
		r.LogError("Failed to record episode event", err, "type", ev.Type)
	},
		service.EventTypeEpisodeStarted,
		service.EventTypeNotificationSent,
		service.EventTypeNotificationFailed,
		service.EventTypeNotificationSkipped,
		service.EventTypeEpisodeEnded,
	)

	r.LogInfo("Episode recorder started")
	return nil
}

// Stop stops recording
func (r *Recorder) Stop(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}
	return nil
}

func (r *Recorder) handle(ctx context.Context, ev service.Event) error {
	id, _ := ev.Data["episode_id"].(string)
	if id == "" {
		return fmt.Errorf("event %s has no episode_id", ev.Type)
	}

	switch ev.Type {
	case service.EventTypeEpisodeStarted:
		return r.manager.StartEpisode(ctx, id, timeField(ev, "started_at"))
	case service.EventTypeNotificationSent:
		return r.manager.RecordNotification(ctx, id, intField(ev, "attempt"), "")
	case service.EventTypeNotificationFailed:
		msg, _ := ev.Data["error"].(string)
		if msg == "" {
			msg = "unknown error"
		}
		return r.manager.RecordNotification(ctx, id, intField(ev, "attempt"), msg)
	case service.EventTypeNotificationSkipped:
		return r.manager.MarkNotificationDisabled(ctx, id)
	case service.EventTypeEpisodeEnded:
		return r.manager.EndEpisode(ctx, id, timeField(ev, "ended_at"), intField(ev, "positive_frames"))
	}
	return nil
}

// timeField reads a time from event data, falling back to the event timestamp
func timeField(ev service.Event, key string) time.Time {
	if t, ok := ev.Data[key].(time.Time); ok && !t.IsZero() {
		return t
	}
	return ev.Timestamp
}

func intField(ev service.Event, key string) int {
	switch v := ev.Data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
