package classifier

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image/jpeg"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vzahanych/violence-watch/internal/logger"
	"github.com/vzahanych/violence-watch/internal/video"
)

// predictRequest is the body of POST /predict
type predictRequest struct {
	Image string `json:"image"` // base64 JPEG
}

// Client is an HTTP client for the classification service
type Client struct {
	serviceURL string
	httpClient *http.Client
	logger     *logger.Logger
	quality    int
}

// ClientConfig contains configuration for the classifier client
type ClientConfig struct {
	ServiceURL  string
	Timeout     time.Duration
	JPEGQuality int
}

// NewClient creates a new classifier client
func NewClient(config ClientConfig, log *logger.Logger) *Client {
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.JPEGQuality == 0 {
		config.JPEGQuality = 90
	}

	return &Client{
		serviceURL: strings.TrimRight(config.ServiceURL, "/"),
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger:  log.Named("classifier"),
		quality: config.JPEGQuality,
	}
}

// Predict sends frame to the service and returns its label
func (c *Client) Predict(ctx context.Context, frame *video.Frame) (Prediction, error) {
	var img bytes.Buffer
	if err := jpeg.Encode(&img, frame.Image, &jpeg.Options{Quality: c.quality}); err != nil {
		return Prediction{}, fmt.Errorf("failed to encode frame: %w", err)
	}

	jsonData, err := json.Marshal(predictRequest{
		Image: base64.StdEncoding.EncodeToString(img.Bytes()),
	})
	if err != nil {
		return Prediction{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := c.serviceURL + "/predict"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return Prediction{}, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	startTime := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Prediction{}, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Prediction{}, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("Classifier returned error",
			"status", resp.StatusCode,
			"response", string(body),
		)
		return Prediction{}, fmt.Errorf("classifier returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var pred Prediction
	if err := json.Unmarshal(body, &pred); err != nil {
		return Prediction{}, fmt.Errorf("failed to parse response: %w", err)
	}
	if pred.Label == "" {
		return Prediction{}, fmt.Errorf("classifier response has no label")
	}

	c.logger.Debug("Prediction completed",
		"seq", frame.Seq,
		"label", pred.Label,
		"request_duration_ms", time.Since(startTime).Milliseconds(),
	)

	return pred, nil
}

// HealthCheck checks if the classifier service is healthy
func (c *Client) HealthCheck(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.serviceURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("classifier health check failed: status %d", resp.StatusCode)
	}

	return nil
}
