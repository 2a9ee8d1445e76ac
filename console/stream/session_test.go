package stream

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/guard-x/console/console/history"
	"github.com/guard-x/console/console/models"
)

// fakeBackend is a minimal stand-in for the detection backend's websocket
// endpoint: it records dials and inbound commands and lets tests push events.
type fakeBackend struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader
	dials    atomic.Int32
	inbound  chan map[string]any

	mu   sync.Mutex
	conn *websocket.Conn
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()

	fb := &fakeBackend{inbound: make(chan map[string]any, 16)}
	fb.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := fb.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fb.dials.Add(1)
		fb.mu.Lock()
		fb.conn = conn
		fb.mu.Unlock()

		for {
			var msg map[string]any
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			fb.inbound <- msg
		}
	}))
	t.Cleanup(fb.srv.Close)
	return fb
}

func (fb *fakeBackend) url() string {
	return "ws" + strings.TrimPrefix(fb.srv.URL, "http")
}

func (fb *fakeBackend) send(t *testing.T, event map[string]any) {
	t.Helper()
	fb.mu.Lock()
	conn := fb.conn
	fb.mu.Unlock()
	require.NotNil(t, conn, "no client connected")
	require.NoError(t, conn.WriteJSON(event))
}

func (fb *fakeBackend) dropConnection() {
	fb.mu.Lock()
	conn := fb.conn
	fb.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func (fb *fakeBackend) nextCommand(t *testing.T) map[string]any {
	t.Helper()
	select {
	case msg := <-fb.inbound:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for command")
		return nil
	}
}

type staticFixes struct {
	fix *models.GeoFix
}

func (s *staticFixes) Latest() *models.GeoFix { return s.fix }

// failingStore rejects every append, simulating a full durable store.
type failingStore struct{}

func (failingStore) Append(models.DetectionEvent) error          { return errors.New("quota exceeded") }
func (failingStore) ReadAll() ([]models.DetectionEvent, error)   { return nil, nil }
func (failingStore) Close() error                                { return nil }

func newTestSession(t *testing.T, fb *fakeBackend, store history.Store, fixes FixSource) *Session {
	t.Helper()
	session := NewSession(Config{
		URL:            fb.url(),
		CameraID:       3,
		ReconnectDelay: 50 * time.Millisecond,
	}, store, fixes, nil, zap.NewNop())
	t.Cleanup(func() { session.Close() })
	return session
}

func waitForState(t *testing.T, session *Session, want models.ConnectionState) {
	t.Helper()
	require.Eventually(t, func() bool {
		return session.State() == want
	}, 2*time.Second, 5*time.Millisecond, "waiting for state %s, got %s", want, session.State())
}

func TestSessionConnectAndStartStreaming(t *testing.T) {
	fb := newFakeBackend(t)
	store := history.NewMemoryStore(100)
	fix := &models.GeoFix{Latitude: 51.5, Longitude: -0.12, Accuracy: 10, CapturedAt: time.Now()}
	session := newTestSession(t, fb, store, &staticFixes{fix: fix})

	session.Connect()
	waitForState(t, session, models.StateConnected)

	session.StartStreaming()
	command := fb.nextCommand(t)
	assert.Equal(t, "start_camera", command["type"])
	assert.Equal(t, float64(3), command["camera_id"])
	assert.NotNil(t, command["gps_location"])

	fb.send(t, map[string]any{"type": "camera_started"})
	waitForState(t, session, models.StateStreaming)
	require.NotNil(t, session.Stats().SessionStartedAt)
}

func TestSessionDetectionFrameUpdatesStateAndHistory(t *testing.T) {
	fb := newFakeBackend(t)
	store := history.NewMemoryStore(100)
	fix := &models.GeoFix{Latitude: 35.68, Longitude: 139.69, Accuracy: 5, CapturedAt: time.Now()}
	session := newTestSession(t, fb, store, &staticFixes{fix: fix})

	session.Connect()
	waitForState(t, session, models.StateConnected)
	session.StartStreaming()
	fb.nextCommand(t)
	fb.send(t, map[string]any{"type": "camera_started"})
	waitForState(t, session, models.StateStreaming)

	frame := encodeJPEG(t)
	for _, count := range []int{0, 2, 5} {
		fb.send(t, map[string]any{
			"type":  "detection_frame",
			"frame": frame,
			"detections": map[string]any{
				"count":       count,
				"confidences": []float64{0.9},
			},
		})
	}

	require.Eventually(t, func() bool {
		return session.Stats().TotalFrames == 3
	}, 2*time.Second, 5*time.Millisecond)

	stats := session.Stats()
	assert.Equal(t, 7, stats.TotalDetections)
	assert.Equal(t, 5, stats.CurrentThreats)
	require.NotNil(t, stats.LastUpdateAt)

	detection := session.LatestDetection()
	require.NotNil(t, detection)
	assert.Equal(t, models.SourceLive, detection.Source)
	assert.Equal(t, 5, detection.TargetCount)
	assert.NotEmpty(t, detection.SessionID)
	require.NotNil(t, detection.Location)
	assert.Equal(t, 35.68, detection.Location.Latitude)

	assert.NotNil(t, session.LatestFrame())

	events, err := store.ReadAll()
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, 0, events[0].TargetCount)
	assert.Equal(t, 5, events[2].TargetCount)
}

func TestSessionFPSCounter(t *testing.T) {
	fb := newFakeBackend(t)
	session := newTestSession(t, fb, history.NewMemoryStore(100), &staticFixes{})

	session.Connect()
	waitForState(t, session, models.StateConnected)
	session.StartStreaming()
	fb.nextCommand(t)
	fb.send(t, map[string]any{"type": "camera_started"})
	waitForState(t, session, models.StateStreaming)

	frame := encodeJPEG(t)
	for i := 0; i < 3; i++ {
		fb.send(t, map[string]any{
			"type":       "detection_frame",
			"frame":      frame,
			"detections": map[string]any{"count": 0},
		})
	}

	// The 1-second ticker publishes the sliding counter.
	require.Eventually(t, func() bool {
		return session.Stats().FPS == 3
	}, 1500*time.Millisecond, 5*time.Millisecond)
}

func TestSessionStopStreamingClearsFrame(t *testing.T) {
	fb := newFakeBackend(t)
	session := newTestSession(t, fb, history.NewMemoryStore(100), &staticFixes{})

	session.Connect()
	waitForState(t, session, models.StateConnected)
	session.StartStreaming()
	fb.nextCommand(t)
	fb.send(t, map[string]any{"type": "camera_started"})
	waitForState(t, session, models.StateStreaming)

	fb.send(t, map[string]any{
		"type":       "detection_frame",
		"frame":      encodeJPEG(t),
		"detections": map[string]any{"count": 1},
	})
	require.Eventually(t, func() bool {
		return session.LatestFrame() != nil
	}, 2*time.Second, 5*time.Millisecond)

	session.StopStreaming()
	command := fb.nextCommand(t)
	assert.Equal(t, "stop_camera", command["type"])

	fb.send(t, map[string]any{"type": "camera_stopped"})
	waitForState(t, session, models.StateConnected)
	assert.Nil(t, session.LatestFrame())
	assert.Nil(t, session.LatestDetection())
}

func TestSessionCameraErrorKeepsLastFrame(t *testing.T) {
	fb := newFakeBackend(t)
	session := newTestSession(t, fb, history.NewMemoryStore(100), &staticFixes{})

	session.Connect()
	waitForState(t, session, models.StateConnected)
	session.StartStreaming()
	fb.nextCommand(t)
	fb.send(t, map[string]any{"type": "camera_started"})
	waitForState(t, session, models.StateStreaming)

	fb.send(t, map[string]any{
		"type":       "detection_frame",
		"frame":      encodeJPEG(t),
		"detections": map[string]any{"count": 1},
	})
	require.Eventually(t, func() bool {
		return session.LatestFrame() != nil
	}, 2*time.Second, 5*time.Millisecond)

	fb.send(t, map[string]any{"type": "camera_error", "message": "camera unavailable"})
	waitForState(t, session, models.StateError)

	// The operator keeps seeing the last good frame during the failure.
	assert.NotNil(t, session.LatestFrame())

	// Re-issuing start over the still-open connection recovers streaming.
	session.StartStreaming()
	command := fb.nextCommand(t)
	assert.Equal(t, "start_camera", command["type"])
}

func TestSessionReconnectAfterConnectionLoss(t *testing.T) {
	fb := newFakeBackend(t)
	session := newTestSession(t, fb, history.NewMemoryStore(100), &staticFixes{})

	session.Connect()
	waitForState(t, session, models.StateConnected)
	require.Equal(t, int32(1), fb.dials.Load())

	fb.dropConnection()
	waitForState(t, session, models.StateDisconnected)

	// The retry fires once, at (or after) the configured delay.
	assert.Equal(t, int32(1), fb.dials.Load())
	require.Eventually(t, func() bool {
		return fb.dials.Load() == 2
	}, 2*time.Second, 5*time.Millisecond)
	waitForState(t, session, models.StateConnected)

	// No reconnect storm: the count stays at two.
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(2), fb.dials.Load())
}

func TestSessionTeardownDoesNotReconnect(t *testing.T) {
	fb := newFakeBackend(t)
	session := newTestSession(t, fb, history.NewMemoryStore(100), &staticFixes{})

	session.Connect()
	waitForState(t, session, models.StateConnected)
	require.Equal(t, int32(1), fb.dials.Load())

	require.NoError(t, session.Close())

	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, int32(1), fb.dials.Load(), "teardown must never schedule a reconnect")
	assert.Equal(t, models.StateDisconnected, session.State())
}

func TestSessionCommandsDroppedWhileDisconnected(t *testing.T) {
	fb := newFakeBackend(t)
	session := newTestSession(t, fb, history.NewMemoryStore(100), &staticFixes{})

	// Never connected: both commands are silently dropped.
	session.StartStreaming()
	session.StopStreaming()

	assert.Equal(t, models.StateDisconnected, session.State())
	assert.Equal(t, int32(0), fb.dials.Load())
	select {
	case msg := <-fb.inbound:
		t.Fatalf("unexpected command sent while disconnected: %v", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSessionPersistenceFailureKeepsStats(t *testing.T) {
	fb := newFakeBackend(t)
	session := newTestSession(t, fb, failingStore{}, &staticFixes{})

	session.Connect()
	waitForState(t, session, models.StateConnected)
	session.StartStreaming()
	fb.nextCommand(t)
	fb.send(t, map[string]any{"type": "camera_started"})
	waitForState(t, session, models.StateStreaming)

	fb.send(t, map[string]any{
		"type":       "detection_frame",
		"frame":      encodeJPEG(t),
		"detections": map[string]any{"count": 4},
	})

	// The store rejects the append but the in-memory stats still advance.
	require.Eventually(t, func() bool {
		return session.Stats().TotalFrames == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 4, session.Stats().TotalDetections)
}

func TestSessionIgnoresUnknownEvents(t *testing.T) {
	fb := newFakeBackend(t)
	session := newTestSession(t, fb, history.NewMemoryStore(100), &staticFixes{})

	session.Connect()
	waitForState(t, session, models.StateConnected)

	fb.send(t, map[string]any{"type": "telemetry_burst"})
	fb.send(t, map[string]any{"type": "camera_started"})
	waitForState(t, session, models.StateStreaming)
}
