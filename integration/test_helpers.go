package integration

import (
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/draw"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/vzahanych/violence-watch/internal/classifier"
	"github.com/vzahanych/violence-watch/internal/config"
	"github.com/vzahanych/violence-watch/internal/logger"
	"github.com/vzahanych/violence-watch/internal/notify"
	"github.com/vzahanych/violence-watch/internal/state"
	"github.com/vzahanych/violence-watch/internal/video"
	"gopkg.in/yaml.v3"
)

// TestEnvironment provides a test environment for integration tests
type TestEnvironment struct {
	TempDir     string
	ConfigPath  string
	Config      *config.Config
	StateMgr    *state.Manager
	Logger      *logger.Logger
	CleanupFunc func()
}

// SetupTestEnvironment writes a config file into a temp dir, loads it and
// opens the episode store it points at
func SetupTestEnvironment(t *testing.T) *TestEnvironment {
	tmpDir := t.TempDir()
	dataDir := filepath.Join(tmpDir, "data")

	cfg := map[string]interface{}{
		"app":    map[string]interface{}{"data_dir": dataDir},
		"camera": map[string]interface{}{"url": "fake://camera"},
		"smtp": map[string]interface{}{
			"enabled": true,
			"host":    "127.0.0.1",
			"port":    2525,
			"from":    "cam@example.com",
			"to":      "guard@example.com",
		},
		"log": map[string]interface{}{"level": "debug", "format": "text"},
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		t.Fatalf("Failed to marshal config: %v", err)
	}
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	loaded, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if err := loaded.Validate(); err != nil {
		t.Fatalf("Invalid config: %v", err)
	}

	log := logger.NewNopLogger()

	stateMgr, err := state.NewManager(loaded.DatabasePath(), log)
	if err != nil {
		t.Fatalf("Failed to create state manager: %v", err)
	}

	return &TestEnvironment{
		TempDir:    tmpDir,
		ConfigPath: configPath,
		Config:     loaded,
		StateMgr:   stateMgr,
		Logger:     log,
		CleanupFunc: func() {
			stateMgr.Close()
		},
	}
}

// Cleanup cleans up the test environment
func (e *TestEnvironment) Cleanup() {
	if e.CleanupFunc != nil {
		e.CleanupFunc()
	}
}

// WaitForCondition waits for a condition to become true
func WaitForCondition(timeout time.Duration, condition func() bool) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		<-ticker.C
	}

	return condition()
}

// ContextWithTimeout creates a context with timeout for tests
func ContextWithTimeout(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

// ScriptedClassifier is an HTTP classifier service answering /predict with
// labels in order, then "non_violence" once the script runs out
type ScriptedClassifier struct {
	*httptest.Server

	mu     sync.Mutex
	labels []string
	calls  int
}

// NewScriptedClassifier starts the fake classifier service
func NewScriptedClassifier(labels ...string) *ScriptedClassifier {
	c := &ScriptedClassifier{labels: labels}
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/predict", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Image string `json:"image"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Image == "" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}

		c.mu.Lock()
		label := "non_violence"
		if c.calls < len(c.labels) {
			label = c.labels[c.calls]
		}
		c.calls++
		c.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(classifier.Prediction{Label: label, Score: 0.9})
	})
	c.Server = httptest.NewServer(mux)
	return c
}

// Calls returns the number of /predict requests served
func (c *ScriptedClassifier) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// FrameOpener opens sources that yield a fixed number of frames and then
// hold the capture open until cancelled
type FrameOpener struct {
	Frames int

	mu    sync.Mutex
	opens int
}

func (o *FrameOpener) Open(ctx context.Context, url string) (video.Source, error) {
	o.mu.Lock()
	o.opens++
	o.mu.Unlock()
	return &frameSource{remaining: o.Frames}, nil
}

// Opens returns how many captures were opened
func (o *FrameOpener) Opens() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opens
}

type frameSource struct {
	remaining int
	seq       uint64
}

func (s *frameSource) Read(ctx context.Context) (*video.Frame, error) {
	if s.remaining == 0 {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	s.remaining--
	s.seq++
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.RGBA{B: 200, A: 255}), image.Point{}, draw.Src)
	return video.NewFrame(img, s.seq), nil
}

func (s *frameSource) Close() error { return nil }

// RecordingSender captures alert emails instead of sending them
type RecordingSender struct {
	mu   sync.Mutex
	sent []notify.Message
}

func (s *RecordingSender) Send(ctx context.Context, msg notify.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	return nil
}

// Sent returns a copy of the delivered messages
func (s *RecordingSender) Sent() []notify.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]notify.Message(nil), s.sent...)
}
