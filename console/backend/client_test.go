package backend

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	client := NewClient(baseURL, "", zap.NewNop())
	client.config.RetryDelay = 5 * time.Millisecond
	t.Cleanup(client.Close)
	return client
}

func TestDetectParsesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		require.Equal(t, "/api/detect", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "scene.jpg", header.Filename)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"count": 2,
			"confidence_scores": [0.91, 0.85],
			"boxes": [[10,20,30,40],[50,60,70,80]],
			"model_used": "yolov8n",
			"processing_time": 0.12,
			"timestamp": "2025-06-15T14:30:00Z",
			"detection": {"threat_assessment": "medium"}
		}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	result, err := client.Detect(context.Background(), "scene.jpg", []byte("fake image bytes"))
	require.NoError(t, err)
	assert.Equal(t, 2, result.Count)
	assert.Equal(t, []float64{0.91, 0.85}, result.Confidences)
	assert.Len(t, result.Boxes, 2)
	assert.Equal(t, "medium", result.ThreatLevel)
	assert.Equal(t, "yolov8n", result.ModelUsed)
}

func TestDetectRetriesTransientFailure(t *testing.T) {
	var detectCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		if detectCalls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"count": 0, "confidence_scores": []}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	result, err := client.Detect(context.Background(), "scene.jpg", []byte("img"))
	require.NoError(t, err)
	assert.Equal(t, 0, result.Count)
	assert.Equal(t, int32(2), detectCalls.Load())
}

func TestDetectExhaustsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	_, err := client.Detect(context.Background(), "scene.jpg", []byte("img"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
}

func TestDetectRespectsContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	client.config.RetryDelay = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Detect(ctx, "scene.jpg", []byte("img"))
	require.ErrorIs(t, err, context.Canceled)
}

func TestHealth(t *testing.T) {
	healthy := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if healthy {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	require.NoError(t, client.Health(context.Background()))

	healthy = false
	assert.Error(t, client.Health(context.Background()))
}
