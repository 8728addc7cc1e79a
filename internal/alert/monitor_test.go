package alert

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vzahanych/violence-watch/internal/classifier"
	"github.com/vzahanych/violence-watch/internal/logger"
	"github.com/vzahanych/violence-watch/internal/notify"
	"github.com/vzahanych/violence-watch/internal/service"
	"github.com/vzahanych/violence-watch/internal/video"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// scriptedClassifier returns labels in order
type scriptedClassifier struct {
	mu     sync.Mutex
	labels []string
	errAt  map[int]error
	calls  int
}

func (s *scriptedClassifier) Predict(ctx context.Context, f *video.Frame) (classifier.Prediction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if err := s.errAt[i]; err != nil {
		return classifier.Prediction{}, err
	}
	return classifier.Prediction{Label: s.labels[i%len(s.labels)]}, nil
}

// countingSender records attempts and fails while err is set
type countingSender struct {
	mu       sync.Mutex
	attempts int
	err      error
	messages []notify.Message
}

func (c *countingSender) Send(ctx context.Context, msg notify.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts++
	c.messages = append(c.messages, msg)
	return c.err
}

func (c *countingSender) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

func blankFrame(seq uint64) *video.Frame {
	img := image.NewRGBA(image.Rect(0, 0, 320, 240))
	return &video.Frame{Image: img, Seq: seq, Timestamp: time.Now()}
}

func newTestMonitor(labels []string, sender notify.Sender, policy Policy) (*Monitor, *scriptedClassifier) {
	c := &scriptedClassifier{labels: labels}
	m := NewMonitor(c, sender, NewState(), policy, logger.NewNopLogger())
	return m, c
}

type step struct {
	violence  bool
	emailSent bool
	attempts  int
}

func runFrames(t *testing.T, m *Monitor, sender *countingSender, n int) []step {
	t.Helper()
	out := make([]step, 0, n)
	for i := 0; i < n; i++ {
		_, err := m.ProcessFrame(context.Background(), blankFrame(uint64(i+1)))
		require.NoError(t, err)
		out = append(out, step{
			violence:  m.State().ViolenceDetected(),
			emailSent: m.State().EmailSent(),
			attempts:  sender.count(),
		})
	}
	return out
}

func TestMonitor_ScenarioOne_NotifiesOncePerRun(t *testing.T) {
	labels := []string{"none", "none", "violence", "violence", "none", "violence"}
	sender := &countingSender{}
	m, _ := newTestMonitor(labels, sender, DefaultPolicy())

	steps := runFrames(t, m, sender, len(labels))

	wantViolence := []bool{false, false, true, true, false, true}
	wantAttempts := []int{0, 0, 1, 1, 1, 2}
	wantSent := []bool{false, false, true, true, false, true}
	for i, s := range steps {
		assert.Equal(t, wantViolence[i], s.violence, "violence_detected after frame %d", i+1)
		assert.Equal(t, wantAttempts[i], s.attempts, "attempts after frame %d", i+1)
		assert.Equal(t, wantSent[i], s.emailSent, "email_sent after frame %d", i+1)
	}
}

func TestMonitor_ScenarioTwo_PersistentFailure(t *testing.T) {
	labels := []string{"violence", "violence", "violence", "none", "violence"}
	sender := &countingSender{err: errors.New("535 authentication failed")}
	m, _ := newTestMonitor(labels, sender, DefaultPolicy())

	steps := runFrames(t, m, sender, len(labels))

	for i, s := range steps {
		assert.False(t, s.emailSent, "email_sent after frame %d", i+1)
	}
	// one attempt per positive frame
	assert.Equal(t, 4, sender.count())
}

func TestMonitor_LabelIsCaseInsensitive(t *testing.T) {
	labels := []string{"VIOLENCE", "Violence", "non-violence"}
	sender := &countingSender{}
	m, _ := newTestMonitor(labels, sender, DefaultPolicy())

	steps := runFrames(t, m, sender, len(labels))
	assert.True(t, steps[0].violence)
	assert.True(t, steps[1].violence)
	assert.False(t, steps[2].violence)
	assert.Equal(t, 1, sender.count())
}

func TestMonitor_MessageContents(t *testing.T) {
	sender := &countingSender{}
	policy := DefaultPolicy()
	policy.From = "alerts@example.com"
	policy.To = "guard@example.com"
	m, _ := newTestMonitor([]string{"violence"}, sender, policy)

	_, err := m.ProcessFrame(context.Background(), blankFrame(1))
	require.NoError(t, err)

	require.Len(t, sender.messages, 1)
	assert.Equal(t, notify.DefaultAlertMessage("alerts@example.com", "guard@example.com"), sender.messages[0])
}

func TestMonitor_OverlayOnlyOnViolentFrames(t *testing.T) {
	m, _ := newTestMonitor([]string{"violence", "none"}, &countingSender{}, DefaultPolicy())

	hasRed := func(img *image.RGBA) bool {
		for i := 0; i < len(img.Pix); i += 4 {
			if img.Pix[i] == 255 && img.Pix[i+1] == 0 && img.Pix[i+2] == 0 {
				return true
			}
		}
		return false
	}

	violent := blankFrame(1)
	ok, err := m.ProcessFrame(context.Background(), violent)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, hasRed(violent.Image))

	clear := blankFrame(2)
	ok, err = m.ProcessFrame(context.Background(), clear)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, hasRed(clear.Image))
}

func TestMonitor_ClassificationErrorLeavesState(t *testing.T) {
	sender := &countingSender{}
	m, c := newTestMonitor([]string{"violence"}, sender, DefaultPolicy())
	c.errAt = map[int]error{1: errors.New("connection refused")}

	_, err := m.ProcessFrame(context.Background(), blankFrame(1))
	require.NoError(t, err)
	require.True(t, m.State().ViolenceDetected())

	_, err = m.ProcessFrame(context.Background(), blankFrame(2))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "classification failed")
	assert.True(t, m.State().ViolenceDetected())
	assert.True(t, m.State().EmailSent())
	assert.Equal(t, 1, sender.count())
}

func TestMonitor_RearmHysteresis(t *testing.T) {
	labels := []string{"violence", "none", "violence", "none", "none", "violence"}
	sender := &countingSender{}
	policy := DefaultPolicy()
	policy.RearmAfterNegativeFrames = 2
	m, _ := newTestMonitor(labels, sender, policy)

	steps := runFrames(t, m, sender, len(labels))

	// a single negative frame does not re-arm
	assert.True(t, steps[1].emailSent)
	assert.False(t, steps[1].violence)
	assert.Equal(t, 1, steps[2].attempts)
	// two consecutive negatives do
	assert.False(t, steps[4].emailSent)
	assert.Equal(t, 2, steps[5].attempts)
}

func TestMonitor_BackoffGatesRetries(t *testing.T) {
	labels := []string{"violence"}
	sender := &countingSender{err: errors.New("timeout")}
	policy := DefaultPolicy()
	policy.RetryBaseDelay = time.Second
	policy.RetryMaxDelay = 4 * time.Second
	m, _ := newTestMonitor(labels, sender, policy)

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	process := func() {
		_, err := m.ProcessFrame(context.Background(), blankFrame(1))
		require.NoError(t, err)
	}

	process() // attempt 1 fails, next allowed at +1s
	assert.Equal(t, 1, sender.count())

	now = now.Add(500 * time.Millisecond)
	process()
	assert.Equal(t, 1, sender.count(), "retry must wait for the backoff")

	now = now.Add(500 * time.Millisecond)
	process() // attempt 2 fails, next allowed at +2s
	assert.Equal(t, 2, sender.count())

	now = now.Add(time.Second)
	process()
	assert.Equal(t, 2, sender.count())

	sender.mu.Lock()
	sender.err = nil
	sender.mu.Unlock()

	now = now.Add(time.Second)
	process()
	assert.Equal(t, 3, sender.count())
	assert.True(t, m.State().EmailSent())
}

func TestMonitor_SetPolicy(t *testing.T) {
	m, _ := newTestMonitor([]string{"none"}, &countingSender{}, DefaultPolicy())

	m.SetPolicy(Policy{RearmAfterNegativeFrames: 0, RetryBaseDelay: time.Second, RetryMaxDelay: time.Minute})

	p := m.Policy()
	assert.Equal(t, 1, p.RearmAfterNegativeFrames)
	assert.Equal(t, classifier.ViolenceLabel, p.ViolenceLabel)
	assert.Equal(t, time.Second, p.RetryBaseDelay)
}

func TestMonitor_PublishesEpisodeEvents(t *testing.T) {
	labels := []string{"violence", "violence", "none"}
	sender := &countingSender{}
	m, _ := newTestMonitor(labels, sender, DefaultPolicy())

	bus := service.NewEventBus(16)
	m.SetEventBus(bus)
	ch := bus.Subscribe(
		service.EventTypeEpisodeStarted,
		service.EventTypeNotificationSent,
		service.EventTypeEpisodeEnded,
	)

	runFrames(t, m, sender, len(labels))
	assert.Empty(t, m.CurrentEpisode())

	want := []service.EventType{
		service.EventTypeEpisodeStarted,
		service.EventTypeNotificationSent,
		service.EventTypeEpisodeEnded,
	}
	var episodeID string
	for i, typ := range want {
		select {
		case ev := <-ch:
			require.Equal(t, typ, ev.Type, "event %d", i)
			id, _ := ev.Data["episode_id"].(string)
			require.NotEmpty(t, id)
			if episodeID == "" {
				episodeID = id
			}
			assert.Equal(t, episodeID, id)
			if typ == service.EventTypeEpisodeEnded {
				assert.Equal(t, 2, ev.Data["positive_frames"])
				assert.Equal(t, true, ev.Data["notified"])
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for %s", typ)
		}
	}
}

func TestMonitor_NotificationFailedEvent(t *testing.T) {
	sender := &countingSender{err: errors.New("dial tcp: i/o timeout")}
	m, _ := newTestMonitor([]string{"violence"}, sender, DefaultPolicy())

	bus := service.NewEventBus(16)
	m.SetEventBus(bus)
	ch := bus.Subscribe(service.EventTypeNotificationFailed)

	_, err := m.ProcessFrame(context.Background(), blankFrame(1))
	require.NoError(t, err)

	select {
	case ev := <-ch:
		assert.Equal(t, 1, ev.Data["attempt"])
		assert.Contains(t, ev.Data["error"], "i/o timeout")
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for notification_failed")
	}
}

func TestMonitor_DisabledSender(t *testing.T) {
	m, _ := newTestMonitor([]string{"violence"}, nil, DefaultPolicy())

	ok, err := m.ProcessFrame(context.Background(), blankFrame(1))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, m.State().EmailSent())
}

func TestMonitor_UnconfiguredSenderSkipsOncePerEpisode(t *testing.T) {
	labels := []string{"violence", "violence", "violence", "none", "violence"}
	sender := &countingSender{err: notify.ErrNotConfigured}
	m, _ := newTestMonitor(labels, sender, DefaultPolicy())

	bus := service.NewEventBus(16)
	m.SetEventBus(bus)
	skipped := bus.Subscribe(service.EventTypeNotificationSkipped)
	failed := bus.Subscribe(service.EventTypeNotificationFailed)

	steps := runFrames(t, m, sender, len(labels))

	// one attempt for the first episode, one for the second
	assert.Equal(t, 1, steps[2].attempts)
	assert.Equal(t, 2, steps[4].attempts)
	for _, st := range steps {
		assert.False(t, st.emailSent)
	}

	for i := 0; i < 2; i++ {
		select {
		case ev := <-skipped:
			assert.NotEmpty(t, ev.Data["episode_id"])
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for notification_skipped")
		}
	}
	select {
	case ev := <-skipped:
		t.Fatalf("unexpected extra skip event: %v", ev.Data)
	case ev := <-failed:
		t.Fatalf("unexpected notification_failed: %v", ev.Data)
	default:
	}
}

func TestMonitor_ConcurrentStatusReads(t *testing.T) {
	labels := []string{"violence", "none"}
	m, _ := newTestMonitor(labels, &countingSender{}, DefaultPolicy())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ctx.Err() == nil {
			snap := m.State().Snapshot()
			_ = snap.ViolenceDetected
		}
	}()

	for i := 0; i < 200; i++ {
		_, err := m.ProcessFrame(context.Background(), blankFrame(uint64(i)))
		require.NoError(t, err)
	}
	cancel()
	wg.Wait()

	// 200 frames alternating, the last one is "none"
	assert.False(t, m.State().ViolenceDetected())
}

func TestMonitor_TracesFrameClassifyAndNotify(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))

	sender := &countingSender{err: errors.New("535 auth failed")}
	m, _ := newTestMonitor([]string{"violence"}, sender, DefaultPolicy())

	_, err := m.ProcessFrame(context.Background(), blankFrame(1))
	require.NoError(t, err)

	byName := make(map[string]sdktrace.ReadOnlySpan)
	for _, span := range recorder.Ended() {
		byName[span.Name()] = span
	}
	require.Contains(t, byName, "alert.process_frame")
	require.Contains(t, byName, "alert.classify")
	require.Contains(t, byName, "alert.notify")

	root := byName["alert.process_frame"]
	assert.Equal(t, root.SpanContext().SpanID(), byName["alert.classify"].Parent().SpanID())
	assert.Equal(t, root.SpanContext().SpanID(), byName["alert.notify"].Parent().SpanID())
	assert.Equal(t, codes.Error, byName["alert.notify"].Status().Code)
}
