package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate validates the configuration with detailed error messages
func (c *Config) Validate() error {
	var errors []string

	if c.App.DataDir == "" {
		errors = append(errors, "app.data_dir is required")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true,
	}
	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		errors = append(errors, fmt.Sprintf("invalid log.level: %s (must be: debug, info, warn, error, fatal)", c.Log.Level))
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errors = append(errors, fmt.Sprintf("invalid log.format: %s (must be: text or json)", c.Log.Format))
	}

	if c.Camera.URL == "" {
		errors = append(errors, "camera.url is required")
	}

	if c.Classifier.ServiceURL == "" {
		errors = append(errors, "classifier.service_url is required")
	} else if u, err := url.Parse(c.Classifier.ServiceURL); err != nil || u.Scheme == "" || u.Host == "" {
		errors = append(errors, fmt.Sprintf("classifier.service_url is not a valid URL: %s", c.Classifier.ServiceURL))
	}
	if c.Classifier.Timeout <= 0 {
		errors = append(errors, fmt.Sprintf("classifier.timeout must be > 0, got: %v", c.Classifier.Timeout))
	}
	if strings.TrimSpace(c.Classifier.ViolenceLabel) == "" {
		errors = append(errors, "classifier.violence_label is required")
	}

	if c.Alert.RearmAfterNegativeFrames < 1 {
		errors = append(errors, fmt.Sprintf("alert.rearm_after_negative_frames must be >= 1, got: %d", c.Alert.RearmAfterNegativeFrames))
	}
	if c.Alert.RetryBaseDelay < 0 {
		errors = append(errors, fmt.Sprintf("alert.retry_base_delay must be >= 0, got: %v", c.Alert.RetryBaseDelay))
	}
	if c.Alert.RetryBaseDelay > 0 && c.Alert.RetryMaxDelay < c.Alert.RetryBaseDelay {
		errors = append(errors, fmt.Sprintf("alert.retry_max_delay (%v) cannot be less than retry_base_delay (%v)", c.Alert.RetryMaxDelay, c.Alert.RetryBaseDelay))
	}

	if c.SMTP.Enabled {
		if c.SMTP.Host == "" {
			errors = append(errors, "smtp.host is required when smtp is enabled")
		}
		if c.SMTP.From == "" {
			errors = append(errors, "smtp.from is required when smtp is enabled")
		}
		if c.SMTP.To == "" {
			errors = append(errors, "smtp.to is required when smtp is enabled")
		}
	}
	if c.SMTP.Port < 1 || c.SMTP.Port > 65535 {
		errors = append(errors, fmt.Sprintf("smtp.port must be between 1 and 65535, got: %d", c.SMTP.Port))
	}

	if c.Stream.JPEGQuality < 1 || c.Stream.JPEGQuality > 100 {
		errors = append(errors, fmt.Sprintf("stream.jpeg_quality must be between 1 and 100, got: %d", c.Stream.JPEGQuality))
	}
	if c.Stream.ViewerBuffer < 1 {
		errors = append(errors, fmt.Sprintf("stream.viewer_buffer must be >= 1, got: %d", c.Stream.ViewerBuffer))
	}

	if c.Web.Port < 0 || c.Web.Port > 65535 {
		errors = append(errors, fmt.Sprintf("web.port must be between 0 and 65535, got: %d", c.Web.Port))
	}

	if c.Tracing.Enabled {
		if u, err := url.Parse(c.Tracing.Endpoint); err != nil || u.Scheme == "" || u.Host == "" {
			errors = append(errors, fmt.Sprintf("tracing.endpoint must be a URL when tracing is enabled, got: %q", c.Tracing.Endpoint))
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return nil
}
