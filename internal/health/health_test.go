package health

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vzahanych/violence-watch/internal/logger"
	"github.com/vzahanych/violence-watch/internal/service"
)

type errFunc func(ctx context.Context) error

func (f errFunc) Ping(ctx context.Context) error        { return f(ctx) }
func (f errFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

type fakeFFmpeg struct {
	version string
	err     error
}

func (f fakeFFmpeg) Path() string { return "/usr/bin/ffmpeg" }
func (f fakeFFmpeg) GetVersion(ctx context.Context) (string, error) {
	return f.version, f.err
}

type fakeServices map[string]service.StatusInfo

func (f fakeServices) GetAllStatuses() map[string]service.StatusInfo { return f }

var ok = errFunc(func(context.Context) error { return nil })
var broken = errFunc(func(context.Context) error { return errors.New("down") })

func TestManager_AllHealthy(t *testing.T) {
	m := NewManager(logger.NewNopLogger(), fakeServices{
		"stream-pipeline": {Name: "stream-pipeline", Status: service.StatusRunning},
	})
	m.RegisterChecker(NewDatabaseChecker(ok))
	m.RegisterChecker(NewClassifierChecker(ok, "http://localhost:8000"))
	m.RegisterChecker(NewFFmpegChecker(fakeFFmpeg{version: "ffmpeg version 6.1"}))
	m.RegisterChecker(NewNotifierChecker(true, "smtp.example.com:587"))
	m.RegisterChecker(NewStorageChecker(t.TempDir()))

	report := m.Check(context.Background())
	assert.Equal(t, StatusHealthy, report.Status)
	assert.Len(t, report.Checks, 5)
	assert.Equal(t, "ffmpeg version 6.1", report.Checks["ffmpeg"].Details["version"])
	require.Contains(t, report.Services, "stream-pipeline")
	assert.Equal(t, service.StatusRunning, report.Services["stream-pipeline"].Status)
}

func TestManager_DegradedDoesNotMaskUnhealthy(t *testing.T) {
	m := NewManager(logger.NewNopLogger(), nil)
	m.RegisterChecker(NewNotifierChecker(false, ""))
	m.RegisterChecker(NewClassifierChecker(broken, "http://localhost:8000"))
	m.RegisterChecker(NewDatabaseChecker(ok))

	report := m.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, report.Status)
	assert.Equal(t, StatusDegraded, report.Checks["notifier"].Status)
	assert.Equal(t, StatusUnhealthy, report.Checks["classifier"].Status)
	assert.Contains(t, report.Checks["classifier"].Message, "down")
	assert.Nil(t, report.Services)
}

func TestManager_DegradedOnly(t *testing.T) {
	m := NewManager(logger.NewNopLogger(), nil)
	m.RegisterChecker(NewDatabaseChecker(broken))
	m.RegisterChecker(NewFFmpegChecker(fakeFFmpeg{version: "x"}))

	report := m.Check(context.Background())
	assert.Equal(t, StatusDegraded, report.Status)
}

func TestFFmpegChecker_Failure(t *testing.T) {
	check := NewFFmpegChecker(fakeFFmpeg{err: errors.New("exec: not found")}).Check(context.Background())
	assert.Equal(t, StatusUnhealthy, check.Status)
	assert.Equal(t, "/usr/bin/ffmpeg", check.Details["path"])
}

func TestStorageChecker_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")
	check := NewStorageChecker(dir).Check(context.Background())
	assert.Equal(t, StatusHealthy, check.Status)
	assert.DirExists(t, dir)
}
