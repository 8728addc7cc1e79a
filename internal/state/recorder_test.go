package state

import (
	"context"
	"testing"
	"time"

	"github.com/vzahanych/violence-watch/internal/logger"
	"github.com/vzahanych/violence-watch/internal/service"
)

func TestRecorder_PersistsEpisodeEvents(t *testing.T) {
	mgr := setupTestManager(t)
	bus := service.NewEventBus(16)

	rec := NewRecorder(mgr, logger.NewNopLogger())
	rec.SetEventBus(bus)

	ctx := context.Background()
	if err := rec.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer rec.Stop(ctx)

	started := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	publish := func(typ service.EventType, data map[string]interface{}) {
		data["episode_id"] = "ep-1"
		bus.Publish(service.Event{Type: typ, Source: "alert", Data: data})
	}

	publish(service.EventTypeEpisodeStarted, map[string]interface{}{"started_at": started})
	publish(service.EventTypeNotificationFailed, map[string]interface{}{"attempt": 1, "error": "timeout"})
	publish(service.EventTypeNotificationSent, map[string]interface{}{"attempt": 2})
	publish(service.EventTypeEpisodeEnded, map[string]interface{}{"ended_at": started.Add(time.Second), "positive_frames": 4})

	deadline := time.Now().Add(2 * time.Second)
	var ep *Episode
	for time.Now().Before(deadline) {
		var err error
		ep, err = mgr.GetEpisode(ctx, "ep-1")
		if err == nil && ep.EndedAt != nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if ep == nil || ep.EndedAt == nil {
		t.Fatal("Episode was not recorded and closed")
	}
	if ep.NotificationStatus != NotificationSent {
		t.Errorf("Expected status %s, got %s", NotificationSent, ep.NotificationStatus)
	}
	if ep.NotificationAttempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", ep.NotificationAttempts)
	}
	if ep.PositiveFrames != 4 {
		t.Errorf("Expected 4 positive frames, got %d", ep.PositiveFrames)
	}
}

func TestRecorder_SkippedNotificationIsDisabled(t *testing.T) {
	mgr := setupTestManager(t)
	bus := service.NewEventBus(16)

	rec := NewRecorder(mgr, logger.NewNopLogger())
	rec.SetEventBus(bus)

	ctx := context.Background()
	if err := rec.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer rec.Stop(ctx)

	bus.Publish(service.Event{Type: service.EventTypeEpisodeStarted, Data: map[string]interface{}{
		"episode_id": "ep-off", "started_at": time.Now(),
	}})
	bus.Publish(service.Event{Type: service.EventTypeNotificationSkipped, Data: map[string]interface{}{
		"episode_id": "ep-off", "attempt": 1, "reason": "not configured",
	}})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		ep, err := mgr.GetEpisode(ctx, "ep-off")
		if err == nil && ep.NotificationStatus == NotificationDisabled {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("Skipped notification was not recorded as disabled")
}

func TestRecorder_RequiresEventBus(t *testing.T) {
	rec := NewRecorder(setupTestManager(t), logger.NewNopLogger())
	if err := rec.Start(context.Background()); err == nil {
		t.Error("Expected error without event bus")
	}
}
