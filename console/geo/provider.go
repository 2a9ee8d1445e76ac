package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/guard-x/console/console/models"
)

// HTTPProvider reads fixes from a JSON positioning endpoint (gpsd bridge or
// similar). The endpoint is expected to answer GET <base>/position with
// {"latitude": .., "longitude": .., "accuracy": ..}.
type HTTPProvider struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

type positionResponse struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy"`
}

func NewHTTPProvider(baseURL string, timeout time.Duration, logger *zap.Logger) *HTTPProvider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPProvider{
		baseURL: baseURL,
		logger:  logger,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (p *HTTPProvider) Fix(ctx context.Context) (*models.GeoFix, error) {
	url := fmt.Sprintf("%s/position", p.baseURL)
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create position request: %w", err)
	}

	response, err := p.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("position request failed: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("positioning service error (status %d)", response.StatusCode)
	}

	var position positionResponse
	if err := json.NewDecoder(response.Body).Decode(&position); err != nil {
		return nil, fmt.Errorf("failed to decode position: %w", err)
	}

	return &models.GeoFix{
		Latitude:   position.Latitude,
		Longitude:  position.Longitude,
		Accuracy:   position.Accuracy,
		CapturedAt: time.Now(),
	}, nil
}

// StaticProvider always reports the same installation coordinates. Used for
// fixed camera posts that have no positioning service.
type StaticProvider struct {
	Latitude  float64
	Longitude float64
	Accuracy  float64
}

func (p *StaticProvider) Fix(ctx context.Context) (*models.GeoFix, error) {
	return &models.GeoFix{
		Latitude:   p.Latitude,
		Longitude:  p.Longitude,
		Accuracy:   p.Accuracy,
		CapturedAt: time.Now(),
	}, nil
}
