package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Client talks to the detection backend's REST surface: image upload
// detection and health. The streaming protocol lives in the stream package;
// this client covers the upload path the console's detect endpoint proxies.
type Client struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
	logger     *zap.Logger
	config     *ClientConfig
	stopHealth chan struct{}
}

type ClientConfig struct {
	Timeout             time.Duration
	MaxRetries          int
	RetryDelay          time.Duration
	HealthCheckInterval time.Duration
}

// DetectResult is the parsed detection response for one uploaded image.
type DetectResult struct {
	Count          int         `json:"count"`
	Confidences    []float64   `json:"confidences"`
	Boxes          [][]float64 `json:"boxes"`
	ThreatLevel    string      `json:"threat_level"`
	ModelUsed      string      `json:"model_used"`
	ProcessingTime float64     `json:"processing_time"`
	Timestamp      string      `json:"timestamp"`
}

type detectResponse struct {
	Count            int         `json:"count"`
	ConfidenceScores []float64   `json:"confidence_scores"`
	Boxes            [][]float64 `json:"boxes"`
	ModelUsed        string      `json:"model_used"`
	ProcessingTime   float64     `json:"processing_time"`
	Timestamp        string      `json:"timestamp"`
	Detection        *struct {
		ThreatAssessment string `json:"threat_assessment"`
	} `json:"detection"`
}

func NewClient(baseURL, authToken string, logger *zap.Logger) *Client {
	config := &ClientConfig{
		Timeout:             30 * time.Second,
		MaxRetries:          3,
		RetryDelay:          1 * time.Second,
		HealthCheckInterval: 30 * time.Second,
	}

	client := &Client{
		baseURL:   baseURL,
		authToken: authToken,
		logger:    logger,
		config:    config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		stopHealth: make(chan struct{}),
	}

	if err := client.Health(context.Background()); err != nil {
		logger.Warn("Detection backend not available at startup", zap.Error(err))
	}

	go client.startHealthChecker()

	return client
}

// Detect uploads an image and returns the parsed detection result, retrying
// with an attempt-scaled delay on failure.
func (c *Client) Detect(ctx context.Context, filename string, imageData []byte) (*DetectResult, error) {
	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Warn("Retrying detection request",
				zap.Int("attempt", attempt),
				zap.Error(lastErr))
			select {
			case <-time.After(c.config.RetryDelay * time.Duration(attempt)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		result, err := c.executeDetectRequest(ctx, filename, imageData)
		if err == nil {
			return result, nil
		}
		lastErr = err
	}

	return nil, fmt.Errorf("detection failed after %d attempts: %w", c.config.MaxRetries, lastErr)
}

func (c *Client) executeDetectRequest(ctx context.Context, filename string, imageData []byte) (*DetectResult, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("failed to build upload form: %w", err)
	}
	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write upload form: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize upload form: %w", err)
	}

	url := fmt.Sprintf("%s/api/detect", c.baseURL)
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	request.Header.Set("Content-Type", writer.FormDataContentType())
	if c.authToken != "" {
		request.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(response.Body)
		return nil, fmt.Errorf("detection backend error (status %d): %s",
			response.StatusCode, string(bodyBytes))
	}

	var parsed detectResponse
	if err := json.NewDecoder(response.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode detection response: %w", err)
	}

	result := &DetectResult{
		Count:          parsed.Count,
		Confidences:    parsed.ConfidenceScores,
		Boxes:          parsed.Boxes,
		ModelUsed:      parsed.ModelUsed,
		ProcessingTime: parsed.ProcessingTime,
		Timestamp:      parsed.Timestamp,
	}
	if parsed.Detection != nil {
		result.ThreatLevel = parsed.Detection.ThreatAssessment
	}
	return result, nil
}

func (c *Client) Health(ctx context.Context) error {
	url := fmt.Sprintf("%s/api/health", c.baseURL)
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create health request: %w", err)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("detection backend unhealthy (status %d)", response.StatusCode)
	}
	return nil
}

func (c *Client) startHealthChecker() {
	ticker := time.NewTicker(c.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.Health(context.Background()); err != nil {
				c.logger.Error("Detection backend health check failed", zap.Error(err))
			} else {
				c.logger.Debug("Detection backend health check passed")
			}
		case <-c.stopHealth:
			return
		}
	}
}

func (c *Client) Close() {
	close(c.stopHealth)
}
