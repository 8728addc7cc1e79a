package alert

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vzahanych/violence-watch/internal/classifier"
	"github.com/vzahanych/violence-watch/internal/config"
	"github.com/vzahanych/violence-watch/internal/logger"
	"github.com/vzahanych/violence-watch/internal/metrics"
	"github.com/vzahanych/violence-watch/internal/notify"
	"github.com/vzahanych/violence-watch/internal/overlay"
	"github.com/vzahanych/violence-watch/internal/service"
	"github.com/vzahanych/violence-watch/internal/tracing"
	"github.com/vzahanych/violence-watch/internal/video"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = tracing.Tracer("alert")

// Policy controls how frames are judged and how notifications are armed
type Policy struct {
	ViolenceLabel string
	// RearmAfterNegativeFrames is the number of consecutive negative frames
	// that end an episode and re-arm notification. 1 re-arms on the first one.
	RearmAfterNegativeFrames int
	RetryBaseDelay           time.Duration
	RetryMaxDelay            time.Duration
	From                     string
	To                       string
}

// PolicyFromConfig builds a policy from the loaded configuration
func PolicyFromConfig(cfg *config.Config) Policy {
	return Policy{
		ViolenceLabel:            cfg.Classifier.ViolenceLabel,
		RearmAfterNegativeFrames: cfg.Alert.RearmAfterNegativeFrames,
		RetryBaseDelay:           cfg.Alert.RetryBaseDelay,
		RetryMaxDelay:            cfg.Alert.RetryMaxDelay,
		From:                     cfg.SMTP.From,
		To:                       cfg.SMTP.To,
	}
}

// DefaultPolicy matches the historical single-flag behavior
func DefaultPolicy() Policy {
	return Policy{
		ViolenceLabel:            classifier.ViolenceLabel,
		RearmAfterNegativeFrames: 1,
	}
}

// episode is a run of positive frames that shares one notification
type episode struct {
	id             string
	startedAt      time.Time
	positiveFrames int
	attempts       int
	notified       bool
	skipped        bool // no sender configured; nothing more to try this episode
	log            *logger.Logger
}

// Monitor classifies frames, maintains State and sends one notification per episode.
// ProcessFrame is meant to be driven by a single loop; SetPolicy may be called
// from any goroutine.
type Monitor struct {
	classifier classifier.Classifier
	sender     notify.Sender
	state      *State
	logger     *logger.Logger
	eventBus   *service.EventBus
	now        func() time.Time

	mu             sync.Mutex
	policy         Policy
	negativeStreak int
	current        *episode
	retry          backoff
}

// NewMonitor creates a monitor writing to state
func NewMonitor(c classifier.Classifier, sender notify.Sender, state *State, policy Policy, log *logger.Logger) *Monitor {
	if sender == nil {
		sender = notify.Disabled{}
	}
	m := &Monitor{
		classifier: c,
		sender:     sender,
		state:      state,
		logger:     log.Named("alert"),
		now:        time.Now,
	}
	m.applyPolicy(policy)
	return m
}

// SetEventBus attaches the bus episode events are published on
func (m *Monitor) SetEventBus(bus *service.EventBus) {
	m.eventBus = bus
}

// State returns the alert state the monitor writes to
func (m *Monitor) State() *State {
	return m.state
}

// SetPolicy swaps the policy. The current episode and its arming are kept.
func (m *Monitor) SetPolicy(p Policy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applyPolicy(p)
	m.logger.Info("Alert policy updated",
		"rearm_after_negative_frames", m.policy.RearmAfterNegativeFrames,
		"retry_base_delay", m.policy.RetryBaseDelay,
		"retry_max_delay", m.policy.RetryMaxDelay,
	)
}

func (m *Monitor) applyPolicy(p Policy) {
	if p.ViolenceLabel == "" {
		p.ViolenceLabel = classifier.ViolenceLabel
	}
	if p.RearmAfterNegativeFrames < 1 {
		p.RearmAfterNegativeFrames = 1
	}
	m.policy = p
	m.retry.base = p.RetryBaseDelay
	m.retry.max = p.RetryMaxDelay
}

// Policy returns the active policy
func (m *Monitor) Policy() Policy {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.policy
}

// CurrentEpisode returns the id of the open episode, or ""
func (m *Monitor) CurrentEpisode() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return ""
	}
	return m.current.id
}

// ProcessFrame classifies frame, commits the verdict to State and, when the
// frame is violent, draws the warning on it and notifies if not yet done for
// this episode. A classification error leaves State untouched.
func (m *Monitor) ProcessFrame(ctx context.Context, frame *video.Frame) (bool, error) {
	ctx, span := tracer.Start(ctx, "alert.process_frame",
		trace.WithAttributes(attribute.Int64("frame.seq", int64(frame.Seq))))
	defer span.End()

	pred, err := m.classify(ctx, frame)
	if err != nil {
		span.SetStatus(codes.Error, "classification failed")
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	violent := classifier.MatchesLabel(pred.Label, m.policy.ViolenceLabel)
	span.SetAttributes(attribute.String("classifier.label", pred.Label), attribute.Bool("violent", violent))

	if m.state.setViolenceDetected(violent) {
		metrics.ViolenceDetected.Set(metrics.BoolGauge(violent))
		m.publish(service.EventTypeAlertStateChanged, map[string]interface{}{
			"violence": violent,
			"seq":      frame.Seq,
		})
	}

	if violent {
		metrics.FramesProcessedTotal.WithLabelValues(metrics.VerdictViolent).Inc()
		m.negativeStreak = 0
		m.trackPositive()
		overlay.DrawWarning(frame.Image)
		m.notifyOnce(ctx)
	} else {
		metrics.FramesProcessedTotal.WithLabelValues(metrics.VerdictClear).Inc()
		m.negativeStreak++
		if m.negativeStreak >= m.policy.RearmAfterNegativeFrames {
			m.rearm()
		}
	}

	return violent, nil
}

func (m *Monitor) classify(ctx context.Context, frame *video.Frame) (classifier.Prediction, error) {
	ctx, span := tracer.Start(ctx, "alert.classify")
	defer span.End()

	start := time.Now()
	pred, err := m.classifier.Predict(ctx, frame)
	metrics.ClassificationDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ClassificationErrorsTotal.Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return classifier.Prediction{}, fmt.Errorf("classification failed: %w", err)
	}
	return pred, nil
}

// trackPositive opens an episode if needed and counts the frame
func (m *Monitor) trackPositive() {
	if m.current == nil {
		id := uuid.NewString()
		m.current = &episode{
			id:        id,
			startedAt: m.now(),
			log:       m.logger.ForEpisode(id),
		}
		metrics.EpisodesTotal.Inc()
		m.current.log.Info("Violence episode started")
		m.publish(service.EventTypeEpisodeStarted, map[string]interface{}{
			"episode_id": m.current.id,
			"started_at": m.current.startedAt,
		})
	}
	m.current.positiveFrames++
}

// rearm clears email_sent and closes the open episode
func (m *Monitor) rearm() {
	m.state.setEmailSent(false)
	m.retry.reset()

	if m.current == nil {
		return
	}
	ep := m.current
	m.current = nil

	ep.log.Info("Violence episode ended",
		"positive_frames", ep.positiveFrames,
		"notified", ep.notified,
	)
	m.publish(service.EventTypeEpisodeEnded, map[string]interface{}{
		"episode_id":      ep.id,
		"ended_at":        m.now(),
		"positive_frames": ep.positiveFrames,
		"attempts":        ep.attempts,
		"notified":        ep.notified,
	})
}

// notifyOnce sends the alert unless this episode has already been notified.
// Failures are logged and leave email_sent false so a later positive frame
// retries. A sender without transport is recorded once and not retried.
func (m *Monitor) notifyOnce(ctx context.Context) {
	if m.state.EmailSent() || m.current.skipped {
		return
	}

	now := m.now()
	if !m.retry.ready(now) {
		m.current.log.Debug("Notification retry deferred", "retry_at", m.retry.next)
		return
	}

	ep := m.current
	ep.attempts++

	ctx, span := tracer.Start(ctx, "alert.notify", trace.WithAttributes(
		attribute.String("episode.id", ep.id),
		attribute.Int("attempt", ep.attempts),
	))
	defer span.End()

	msg := notify.DefaultAlertMessage(m.policy.From, m.policy.To)
	err := m.sender.Send(ctx, msg)
	if err == nil {
		m.state.setEmailSent(true)
		m.retry.reset()
		ep.notified = true
		metrics.NotificationsTotal.WithLabelValues(metrics.ResultSent).Inc()
		ep.log.Info("Alert email sent", "to", msg.To, "attempt", ep.attempts)
		m.publish(service.EventTypeNotificationSent, map[string]interface{}{
			"episode_id": ep.id,
			"attempt":    ep.attempts,
		})
		return
	}

	if errors.Is(err, notify.ErrNotConfigured) {
		ep.skipped = true
		span.SetAttributes(attribute.Bool("notification.disabled", true))
		metrics.NotificationsTotal.WithLabelValues(metrics.ResultDisabled).Inc()
		ep.log.Info("Alert email skipped, SMTP not configured")
		m.publish(service.EventTypeNotificationSkipped, map[string]interface{}{
			"episode_id": ep.id,
			"attempt":    ep.attempts,
			"reason":     err.Error(),
		})
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	delay := m.retry.fail(now)
	metrics.NotificationsTotal.WithLabelValues(metrics.ResultFailed).Inc()
	ep.log.Error("Failed to send alert email",
		"attempt", ep.attempts,
		"retry_in", delay,
		logger.KeyError, err,
	)
	m.publish(service.EventTypeNotificationFailed, map[string]interface{}{
		"episode_id": ep.id,
		"attempt":    ep.attempts,
		"error":      err.Error(),
	})
}

func (m *Monitor) publish(t service.EventType, data map[string]interface{}) {
	if m.eventBus == nil {
		return
	}
	m.eventBus.Publish(service.Event{
		Type:   t,
		Source: "alert",
		Data:   data,
	})
}
