package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override, e.g. VW_CAMERA_URL
const EnvPrefix = "VW_"

// Config represents the application configuration
type Config struct {
	App        AppConfig        `yaml:"app" envPrefix:"APP_"`
	Camera     CameraConfig     `yaml:"camera" envPrefix:"CAMERA_"`
	Classifier ClassifierConfig `yaml:"classifier" envPrefix:"CLASSIFIER_"`
	Alert      AlertConfig      `yaml:"alert" envPrefix:"ALERT_"`
	SMTP       SMTPConfig       `yaml:"smtp" envPrefix:"SMTP_"`
	Stream     StreamConfig     `yaml:"stream" envPrefix:"STREAM_"`
	Web        WebConfig        `yaml:"web" envPrefix:"WEB_"`
	Tracing    TracingConfig    `yaml:"tracing" envPrefix:"TRACING_"`
	Log        LogConfig        `yaml:"log,omitempty" envPrefix:"LOG_"`
}

// AppConfig contains process-wide settings
type AppConfig struct {
	DataDir string `yaml:"data_dir" env:"DATA_DIR"`
}

// CameraConfig describes the camera feed the frame source pulls from
type CameraConfig struct {
	URL        string `yaml:"url" env:"URL"`
	FFmpegPath string `yaml:"ffmpeg_path" env:"FFMPEG_PATH"`
}

// ClassifierConfig contains the external classifier service settings
type ClassifierConfig struct {
	ServiceURL    string        `yaml:"service_url" env:"SERVICE_URL"`
	Timeout       time.Duration `yaml:"timeout" env:"TIMEOUT"`
	ViolenceLabel string        `yaml:"violence_label" env:"VIOLENCE_LABEL"`
}

// AlertConfig controls notification arming and retry.
// RearmAfterNegativeFrames=1 and RetryBaseDelay=0 match the historical behavior.
type AlertConfig struct {
	RearmAfterNegativeFrames int           `yaml:"rearm_after_negative_frames" env:"REARM_AFTER_NEGATIVE_FRAMES"`
	RetryBaseDelay           time.Duration `yaml:"retry_base_delay" env:"RETRY_BASE_DELAY"`
	RetryMaxDelay            time.Duration `yaml:"retry_max_delay" env:"RETRY_MAX_DELAY"`
}

// SMTPConfig contains outbound email settings
type SMTPConfig struct {
	Enabled        bool          `yaml:"enabled" env:"ENABLED"`
	Host           string        `yaml:"host" env:"HOST"`
	Port           int           `yaml:"port" env:"PORT"`
	Username       string        `yaml:"username" env:"USERNAME"`
	Password       string        `yaml:"password" env:"PASSWORD"` // never logged
	From           string        `yaml:"from" env:"FROM"`
	To             string        `yaml:"to" env:"TO"`
	Timeout        time.Duration `yaml:"timeout" env:"TIMEOUT"`
	AllowPlaintext bool          `yaml:"allow_plaintext" env:"ALLOW_PLAINTEXT"` // skip STARTTLS when the server lacks it
}

// StreamConfig contains MJPEG output settings
type StreamConfig struct {
	JPEGQuality  int `yaml:"jpeg_quality" env:"JPEG_QUALITY"`
	ViewerBuffer int `yaml:"viewer_buffer" env:"VIEWER_BUFFER"`
}

// WebConfig contains web server configuration
type WebConfig struct {
	Host string `yaml:"host" env:"HOST"`
	Port int    `yaml:"port" env:"PORT"`
}

// TracingConfig controls OTLP span export
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled" env:"ENABLED"`
	Endpoint string `yaml:"endpoint" env:"ENDPOINT"` // e.g. http://localhost:4318/v1/traces
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
	Output string `yaml:"output" env:"OUTPUT"`
}

// Load reads the configuration file, applies environment overrides and defaults.
// An empty configPath falls back to the well-known locations; if none exists the
// built-in defaults are used.
func Load(configPath string) (*Config, error) {
	var cfg Config

	explicit := configPath != ""
	if !explicit {
		configPath = getDefaultConfigPath()
	}

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("failed to parse configuration: %w", err)
			}
		case os.IsNotExist(err) && explicit:
			return nil, fmt.Errorf("configuration file not found: %s", configPath)
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("failed to read configuration file: %w", err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}

	cfg.setDefaults()

	return &cfg, nil
}

// applyEnvOverrides overlays VW_* environment variables onto cfg
func applyEnvOverrides(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("failed to apply environment overrides: %w", err)
	}
	return nil
}

// getDefaultConfigPath returns the first existing well-known config path, or ""
func getDefaultConfigPath() string {
	paths := []string{
		"./config/config.dev.yaml",
		"./config/config.yaml",
		"/etc/violence-watch/config.yaml",
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Log.Output == "" {
		c.Log.Output = "stdout"
	}

	if c.App.DataDir == "" {
		c.App.DataDir = "./data"
	}

	if c.Camera.URL == "" {
		c.Camera.URL = "http://192.168.10.200:4747/video"
	}

	if c.Classifier.ServiceURL == "" {
		c.Classifier.ServiceURL = "http://localhost:8000"
	}
	if c.Classifier.Timeout == 0 {
		c.Classifier.Timeout = 10 * time.Second
	}
	if c.Classifier.ViolenceLabel == "" {
		c.Classifier.ViolenceLabel = "violence"
	}

	if c.Alert.RearmAfterNegativeFrames == 0 {
		c.Alert.RearmAfterNegativeFrames = 1
	}
	if c.Alert.RetryBaseDelay > 0 && c.Alert.RetryMaxDelay == 0 {
		c.Alert.RetryMaxDelay = 5 * time.Minute
	}

	if c.SMTP.Host == "" {
		c.SMTP.Host = "smtp.office365.com"
	}
	if c.SMTP.Port == 0 {
		c.SMTP.Port = 587
	}
	if c.SMTP.Username == "" {
		c.SMTP.Username = c.SMTP.From
	}
	if c.SMTP.Timeout == 0 {
		c.SMTP.Timeout = 30 * time.Second
	}

	if c.Stream.JPEGQuality == 0 {
		c.Stream.JPEGQuality = 75
	}
	if c.Stream.ViewerBuffer == 0 {
		c.Stream.ViewerBuffer = 4
	}

	if c.Web.Host == "" {
		c.Web.Host = "0.0.0.0"
	}
	if c.Web.Port == 0 {
		c.Web.Port = 5000
	}
}

// DatabasePath returns the location of the episode history database
func (c *Config) DatabasePath() string {
	return filepath.Join(c.App.DataDir, "db", "violence.db")
}

// Sanitized returns a copy safe to expose over the API or in logs
func (c *Config) Sanitized() *Config {
	out := *c
	if out.SMTP.Password != "" {
		out.SMTP.Password = "********"
	}
	return &out
}
