package health

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

func newCheck(name string) Check {
	return Check{
		Name:      name,
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
	}
}

// Pinger is implemented by the episode store
type Pinger interface {
	Ping(ctx context.Context) error
}

// DatabaseChecker checks episode database connectivity
type DatabaseChecker struct {
	db Pinger
}

func NewDatabaseChecker(db Pinger) *DatabaseChecker {
	return &DatabaseChecker{db: db}
}

func (c *DatabaseChecker) Name() string {
	return "database"
}

func (c *DatabaseChecker) Check(ctx context.Context) Check {
	check := newCheck(c.Name())

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := c.db.Ping(ctx); err != nil {
		// history is not needed for detection, so a broken database only degrades
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("Database ping failed: %v", err)
		return check
	}

	check.Status = StatusHealthy
	check.Message = "Database connection OK"
	return check
}

// ClassifierHealth is implemented by the classifier client
type ClassifierHealth interface {
	HealthCheck(ctx context.Context) error
}

// ClassifierChecker checks classifier service reachability
type ClassifierChecker struct {
	classifier ClassifierHealth
	serviceURL string
}

func NewClassifierChecker(classifier ClassifierHealth, serviceURL string) *ClassifierChecker {
	return &ClassifierChecker{classifier: classifier, serviceURL: serviceURL}
}

func (c *ClassifierChecker) Name() string {
	return "classifier"
}

func (c *ClassifierChecker) Check(ctx context.Context) Check {
	check := newCheck(c.Name())
	check.Details["url"] = c.serviceURL

	if err := c.classifier.HealthCheck(ctx); err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("Classifier unreachable: %v", err)
		return check
	}

	check.Status = StatusHealthy
	check.Message = "Classifier is reachable"
	return check
}

// VersionProber is implemented by the ffmpeg wrapper
type VersionProber interface {
	Path() string
	GetVersion(ctx context.Context) (string, error)
}

// FFmpegChecker checks that the frame decoder binary runs
type FFmpegChecker struct {
	ffmpeg VersionProber
}

func NewFFmpegChecker(ffmpeg VersionProber) *FFmpegChecker {
	return &FFmpegChecker{ffmpeg: ffmpeg}
}

func (c *FFmpegChecker) Name() string {
	return "ffmpeg"
}

func (c *FFmpegChecker) Check(ctx context.Context) Check {
	check := newCheck(c.Name())
	check.Details["path"] = c.ffmpeg.Path()

	version, err := c.ffmpeg.GetVersion(ctx)
	if err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("ffmpeg not runnable: %v", err)
		return check
	}

	check.Status = StatusHealthy
	check.Message = "ffmpeg available"
	check.Details["version"] = version
	return check
}

// NotifierChecker reports whether alert email delivery is configured
type NotifierChecker struct {
	enabled bool
	addr    string
}

func NewNotifierChecker(enabled bool, addr string) *NotifierChecker {
	return &NotifierChecker{enabled: enabled, addr: addr}
}

func (c *NotifierChecker) Name() string {
	return "notifier"
}

func (c *NotifierChecker) Check(ctx context.Context) Check {
	check := newCheck(c.Name())
	check.Details["enabled"] = c.enabled

	if !c.enabled {
		check.Status = StatusDegraded
		check.Message = "Email alerts disabled"
		return check
	}

	check.Status = StatusHealthy
	check.Message = "Email alerts configured"
	check.Details["server"] = c.addr
	return check
}

// StorageChecker checks that the data directory is writable
type StorageChecker struct {
	dataDir string
}

func NewStorageChecker(dataDir string) *StorageChecker {
	return &StorageChecker{dataDir: dataDir}
}

func (c *StorageChecker) Name() string {
	return "storage"
}

func (c *StorageChecker) Check(ctx context.Context) Check {
	check := newCheck(c.Name())
	check.Details["data_dir"] = c.dataDir

	if err := os.MkdirAll(c.dataDir, 0755); err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("Failed to create data directory: %v", err)
		return check
	}

	probe, err := os.CreateTemp(c.dataDir, ".healthcheck-*")
	if err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("Data directory not writable: %v", err)
		return check
	}
	name := probe.Name()
	probe.Close()
	_ = os.Remove(filepath.Clean(name))

	check.Status = StatusHealthy
	check.Message = "Data directory writable"
	return check
}
