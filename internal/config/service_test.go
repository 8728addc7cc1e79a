package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vzahanych/violence-watch/internal/logger"
	"gopkg.in/yaml.v3"
)

func createTestConfig(t *testing.T, configPath string, cfg *Config) {
	data, err := yaml.Marshal(cfg)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(configPath, data, 0644))
}

func newTestConfig(dataDir string) *Config {
	cfg := &Config{}
	cfg.setDefaults()
	cfg.App.DataDir = dataDir
	return cfg
}

func TestNewService(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	createTestConfig(t, configPath, newTestConfig(tmpDir))

	svc, err := NewService(configPath, logger.NewNopLogger())
	require.NoError(t, err)
	require.NotNil(t, svc.Get())
	assert.Equal(t, tmpDir, svc.Get().App.DataDir)
}

func TestNewService_InvalidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	cfg := newTestConfig(tmpDir)
	cfg.Stream.JPEGQuality = 150
	createTestConfig(t, configPath, cfg)

	_, err := NewService(configPath, logger.NewNopLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stream.jpeg_quality")
}

func TestService_Reload(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	cfg := newTestConfig(tmpDir)
	createTestConfig(t, configPath, cfg)

	svc, err := NewService(configPath, logger.NewNopLogger())
	require.NoError(t, err)

	cfg.Alert.RearmAfterNegativeFrames = 5
	createTestConfig(t, configPath, cfg)

	require.NoError(t, svc.Reload(context.Background()))
	assert.Equal(t, 5, svc.Get().Alert.RearmAfterNegativeFrames)
}

func TestService_Reload_KeepsOldConfigOnError(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	cfg := newTestConfig(tmpDir)
	createTestConfig(t, configPath, cfg)

	svc, err := NewService(configPath, logger.NewNopLogger())
	require.NoError(t, err)

	cfg.Alert.RearmAfterNegativeFrames = -1
	createTestConfig(t, configPath, cfg)

	require.Error(t, svc.Reload(context.Background()))
	assert.Equal(t, 1, svc.Get().Alert.RearmAfterNegativeFrames)
}

func TestService_Watch(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	cfg := newTestConfig(tmpDir)
	createTestConfig(t, configPath, cfg)

	svc, err := NewService(configPath, logger.NewNopLogger())
	require.NoError(t, err)

	var gotOld, gotNew *Config
	svc.Watch(func(ctx context.Context, oldConfig, newConfig *Config) error {
		gotOld, gotNew = oldConfig, newConfig
		return nil
	})

	cfg.Alert.RetryBaseDelay = 2 * time.Second
	createTestConfig(t, configPath, cfg)

	require.NoError(t, svc.Reload(context.Background()))
	require.NotNil(t, gotOld)
	require.NotNil(t, gotNew)
	assert.Equal(t, time.Duration(0), gotOld.Alert.RetryBaseDelay)
	assert.Equal(t, 2*time.Second, gotNew.Alert.RetryBaseDelay)
	assert.Equal(t, 5*time.Minute, gotNew.Alert.RetryMaxDelay)
}

func TestLoad_EnvOverrides(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	createTestConfig(t, configPath, newTestConfig(tmpDir))

	t.Setenv("VW_CAMERA_URL", "rtsp://10.0.0.5/stream1")
	t.Setenv("VW_SMTP_PORT", "2525")
	t.Setenv("VW_ALERT_RETRY_BASE_DELAY", "3s")
	t.Setenv("VW_LOG_LEVEL", "debug")

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "rtsp://10.0.0.5/stream1", cfg.Camera.URL)
	assert.Equal(t, 2525, cfg.SMTP.Port)
	assert.Equal(t, 3*time.Second, cfg.Alert.RetryBaseDelay)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_Defaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "empty.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("{}\n"), 0644))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "http://192.168.10.200:4747/video", cfg.Camera.URL)
	assert.Equal(t, "smtp.office365.com", cfg.SMTP.Host)
	assert.Equal(t, 587, cfg.SMTP.Port)
	assert.Equal(t, "0.0.0.0", cfg.Web.Host)
	assert.Equal(t, 5000, cfg.Web.Port)
	assert.Equal(t, 1, cfg.Alert.RearmAfterNegativeFrames)
	assert.Equal(t, time.Duration(0), cfg.Alert.RetryBaseDelay)
	assert.Equal(t, "violence", cfg.Classifier.ViolenceLabel)
	require.NoError(t, cfg.Validate())
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration file not found")
}

func TestValidate_SMTPEnabledRequiresAddresses(t *testing.T) {
	cfg := newTestConfig(t.TempDir())
	cfg.SMTP.Enabled = true

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "smtp.from")
	assert.Contains(t, err.Error(), "smtp.to")
}

func TestSanitized_HidesPassword(t *testing.T) {
	cfg := newTestConfig(t.TempDir())
	cfg.SMTP.Password = "hunter2"

	out := cfg.Sanitized()
	assert.Equal(t, "********", out.SMTP.Password)
	assert.Equal(t, "hunter2", cfg.SMTP.Password)
}

func TestValidate_TracingRequiresEndpoint(t *testing.T) {
	cfg := newTestConfig(t.TempDir())
	cfg.Tracing.Enabled = true

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tracing.endpoint")

	cfg.Tracing.Endpoint = "http://localhost:4318/v1/traces"
	require.NoError(t, cfg.Validate())
}
