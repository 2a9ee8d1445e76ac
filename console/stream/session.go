package stream

import (
	"image"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/guard-x/console/console/history"
	"github.com/guard-x/console/console/metrics"
	"github.com/guard-x/console/console/models"
)

// FixSource supplies the most recent position fix. The session reads it
// synchronously at frame-processing time, so a fix arriving after a frame
// only tags the frames that follow it.
type FixSource interface {
	Latest() *models.GeoFix
}

type Config struct {
	URL              string
	CameraID         int
	ReconnectDelay   time.Duration
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	AuthToken        string
}

// Session owns the persistent connection to the detection backend and the
// live streaming state machine. Exactly one session is active per console.
//
// States: disconnected -> connecting -> connected -> streaming, with error
// reachable from any connected state. Every transport close that is not an
// explicit teardown schedules a single reconnect after a fixed delay.
type Session struct {
	cfg     Config
	store   history.Store
	fixes   FixSource
	metrics *metrics.Metrics
	logger  *zap.Logger

	mutex            sync.RWMutex
	state            models.ConnectionState
	conn             *websocket.Conn
	latestFrame      image.Image
	latestDetection  *models.DetectionEvent
	stats            models.StreamStats
	sessionID        string
	frameCount       int
	closed           bool
	reconnectPending bool
	reconnectTimer   *time.Timer

	writeMutex sync.Mutex
	done       chan struct{}
}

func NewSession(cfg Config, store history.Store, fixes FixSource, m *metrics.Metrics, logger *zap.Logger) *Session {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 3 * time.Second
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	session := &Session{
		cfg:     cfg,
		store:   store,
		fixes:   fixes,
		metrics: m,
		logger:  logger,
		state:   models.StateDisconnected,
		done:    make(chan struct{}),
	}

	go session.fpsLoop()

	return session
}

// Connect starts a connection attempt. Valid from disconnected and error;
// otherwise it is a no-op. The dial happens on its own goroutine so the
// caller never blocks.
func (s *Session) Connect() {
	s.mutex.Lock()
	if s.closed || (s.state != models.StateDisconnected && s.state != models.StateError) {
		s.mutex.Unlock()
		return
	}
	s.setStateLocked(models.StateConnecting)
	s.mutex.Unlock()

	go s.dial()
}

func (s *Session) dial() {
	dialer := websocket.Dialer{HandshakeTimeout: s.cfg.HandshakeTimeout}

	header := http.Header{}
	if s.cfg.AuthToken != "" {
		header.Set("Authorization", "Bearer "+s.cfg.AuthToken)
	}

	conn, _, err := dialer.Dial(s.cfg.URL, header)
	if err != nil {
		s.logger.Warn("Connection attempt failed",
			zap.String("url", s.cfg.URL),
			zap.Error(err))

		s.mutex.Lock()
		if s.closed {
			s.mutex.Unlock()
			return
		}
		s.setStateLocked(models.StateDisconnected)
		s.mutex.Unlock()

		s.scheduleReconnect()
		return
	}

	s.mutex.Lock()
	if s.closed {
		s.mutex.Unlock()
		conn.Close()
		return
	}
	s.conn = conn
	s.setStateLocked(models.StateConnected)
	s.mutex.Unlock()

	s.logger.Info("Connected to detection backend", zap.String("url", s.cfg.URL))

	go s.readLoop(conn)
}

// readLoop processes inbound events strictly in arrival order. It is the only
// goroutine that handles frames, which keeps detection processing serialized.
func (s *Session) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Error("Stream connection lost", zap.Error(err))
			}
			s.handleDisconnect()
			return
		}

		event, err := decodeEvent(data)
		if err != nil {
			s.logger.Warn("Dropping undecodable event", zap.Error(err))
			continue
		}

		switch ev := event.(type) {
		case CameraStarted:
			s.handleCameraStarted()
		case CameraStopped:
			s.handleCameraStopped()
		case CameraError:
			s.handleCameraError(ev)
		case DetectionFrame:
			s.handleDetectionFrame(ev)
		}
	}
}

// StartStreaming issues the start command with the latest known fix. Silently
// dropped unless the session is connected; the UI gates availability on the
// connection state.
func (s *Session) StartStreaming() {
	s.mutex.RLock()
	state := s.state
	conn := s.conn
	s.mutex.RUnlock()

	// StateError with a live connection means a camera_error tore down only
	// the streaming sub-state; re-issuing start recovers it.
	if conn == nil || (state != models.StateConnected && state != models.StateStreaming && state != models.StateError) {
		s.logger.Debug("Ignoring start command", zap.String("state", string(state)))
		return
	}

	var fix *models.GeoFix
	if s.fixes != nil {
		fix = s.fixes.Latest()
	}

	s.send(startCameraCommand{
		Type:        cmdStartCamera,
		CameraID:    s.cfg.CameraID,
		GPSLocation: fix,
	})
}

// StopStreaming issues the stop command. Valid only while streaming.
func (s *Session) StopStreaming() {
	s.mutex.RLock()
	state := s.state
	s.mutex.RUnlock()

	if state != models.StateStreaming {
		s.logger.Debug("Ignoring stop command", zap.String("state", string(state)))
		return
	}

	s.send(stopCameraCommand{Type: cmdStopCamera})
}

func (s *Session) send(command any) {
	s.mutex.RLock()
	conn := s.conn
	s.mutex.RUnlock()
	if conn == nil {
		return
	}

	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()

	conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	if err := conn.WriteJSON(command); err != nil {
		s.logger.Error("Failed to send command", zap.Error(err))
	}
}

func (s *Session) handleCameraStarted() {
	now := time.Now()

	s.mutex.Lock()
	s.setStateLocked(models.StateStreaming)
	s.sessionID = uuid.NewString()
	if s.stats.SessionStartedAt == nil {
		startedAt := now
		s.stats.SessionStartedAt = &startedAt
	}
	sessionID := s.sessionID
	s.mutex.Unlock()

	s.logger.Info("Camera streaming started", zap.String("session_id", sessionID))
}

func (s *Session) handleCameraStopped() {
	s.mutex.Lock()
	s.setStateLocked(models.StateConnected)
	s.latestFrame = nil
	s.latestDetection = nil
	s.mutex.Unlock()

	s.logger.Info("Camera streaming stopped")
}

// handleCameraError surfaces the backend message as an error state without
// tearing down the connection. The last good frame stays visible.
func (s *Session) handleCameraError(event CameraError) {
	s.mutex.Lock()
	s.setStateLocked(models.StateError)
	s.mutex.Unlock()

	s.logger.Error("Camera error reported by backend", zap.String("message", event.Message))
}

// handleDetectionFrame is the only path that writes to the history store.
func (s *Session) handleDetectionFrame(frame DetectionFrame) {
	now := time.Now()

	img, err := DecodeFrame(frame.Frame)
	if err != nil {
		// Keep showing the previous frame rather than blanking the feed.
		s.logger.Warn("Failed to decode frame image", zap.Error(err))
	}

	var fix *models.GeoFix
	if s.fixes != nil {
		fix = s.fixes.Latest()
	}

	s.mutex.Lock()
	if img != nil {
		s.latestFrame = img
	}
	event := models.DetectionEvent{
		Source:      models.SourceLive,
		Timestamp:   now,
		TargetCount: frame.Detections.Count,
		Confidences: frame.Detections.Confidences,
		Location:    fix,
		SessionID:   s.sessionID,
	}
	s.latestDetection = &event
	s.stats.TotalFrames++
	s.stats.TotalDetections += frame.Detections.Count
	s.stats.CurrentThreats = frame.Detections.Count
	updatedAt := now
	s.stats.LastUpdateAt = &updatedAt
	s.frameCount++
	s.mutex.Unlock()

	if s.metrics != nil {
		s.metrics.FramesReceived.Add(1)
		s.metrics.DetectionsTotal.Add(uint64(frame.Detections.Count))
	}

	// Durable history is best effort: a failed append is logged and dropped,
	// the live view keeps running on in-memory state.
	if err := s.store.Append(event); err != nil {
		s.logger.Warn("Failed to persist detection event", zap.Error(err))
		if s.metrics != nil {
			s.metrics.HistoryAppendFailures.Add(1)
		}
	} else if s.metrics != nil {
		s.metrics.HistoryAppends.Add(1)
	}
}

func (s *Session) handleDisconnect() {
	s.mutex.Lock()
	s.conn = nil
	if s.closed {
		s.mutex.Unlock()
		return
	}
	s.setStateLocked(models.StateDisconnected)
	s.mutex.Unlock()

	s.scheduleReconnect()
}

// scheduleReconnect arms a single fixed-delay retry. Retries continue
// indefinitely; the unattended camera link should always try to come back
// online.
func (s *Session) scheduleReconnect() {
	s.mutex.Lock()
	if s.closed || s.reconnectPending {
		s.mutex.Unlock()
		return
	}
	s.reconnectPending = true
	s.reconnectTimer = time.AfterFunc(s.cfg.ReconnectDelay, func() {
		s.mutex.Lock()
		s.reconnectPending = false
		closed := s.closed
		s.mutex.Unlock()
		if closed {
			return
		}
		if s.metrics != nil {
			s.metrics.Reconnects.Add(1)
		}
		s.logger.Info("Attempting to reconnect")
		s.Connect()
	})
	s.mutex.Unlock()

	s.logger.Info("Reconnect scheduled", zap.Duration("delay", s.cfg.ReconnectDelay))
}

func (s *Session) fpsLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.mutex.Lock()
			s.stats.FPS = s.frameCount
			s.frameCount = 0
			s.mutex.Unlock()
		case <-s.done:
			return
		}
	}
}

// Close tears the session down: the connection is closed without triggering
// the reconnect policy and the FPS timer stops.
func (s *Session) Close() error {
	s.mutex.Lock()
	if s.closed {
		s.mutex.Unlock()
		return nil
	}
	s.closed = true
	conn := s.conn
	s.conn = nil
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
	}
	s.reconnectPending = false
	s.setStateLocked(models.StateDisconnected)
	s.mutex.Unlock()

	close(s.done)

	if conn != nil {
		deadline := time.Now().Add(time.Second)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		conn.Close()
	}

	s.logger.Info("Stream session closed")
	return nil
}

// setStateLocked updates the state and mirrors it into the metrics gauge.
// Callers must hold s.mutex.
func (s *Session) setStateLocked(state models.ConnectionState) {
	s.state = state
	if s.metrics != nil {
		s.metrics.ConnectionState.Store(stateCode(state))
	}
}

func stateCode(state models.ConnectionState) uint64 {
	switch state {
	case models.StateConnecting:
		return 1
	case models.StateConnected:
		return 2
	case models.StateStreaming:
		return 3
	case models.StateError:
		return 4
	default:
		return 0
	}
}

func (s *Session) State() models.ConnectionState {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.state
}

// Stats returns a consistent snapshot of the live counters.
func (s *Session) Stats() models.StreamStats {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.stats
}

func (s *Session) LatestDetection() *models.DetectionEvent {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.latestDetection
}

func (s *Session) LatestFrame() image.Image {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.latestFrame
}
