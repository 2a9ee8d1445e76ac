package models

import "time"

type Source string

const (
	SourceLive   Source = "live_camera"
	SourceUpload Source = "upload"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// SeverityForCount maps a target count onto the fixed threat buckets.
func SeverityForCount(count int) Severity {
	switch {
	case count == 0:
		return SeverityLow
	case count <= 2:
		return SeverityMedium
	case count <= 5:
		return SeverityHigh
	default:
		return SeverityCritical
	}
}

// GeoFix is a single geolocation reading. Immutable once created; the stream
// session only ever holds the most recent one.
type GeoFix struct {
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Accuracy   float64   `json:"accuracy"` // meters
	CapturedAt time.Time `json:"timestamp"`
}

// DetectionEvent is the unit persisted in the history store and consumed by
// the analytics engine. Events are immutable after creation.
type DetectionEvent struct {
	Source      Source    `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	TargetCount int       `json:"target_count"`
	Confidences []float64 `json:"confidences,omitempty"`
	Location    *GeoFix   `json:"location,omitempty"`
	SessionID   string    `json:"session_id,omitempty"`
}

type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateStreaming    ConnectionState = "streaming"
	StateError        ConnectionState = "error"
)

// StreamStats is the live counter block shown on the camera dashboard.
type StreamStats struct {
	TotalDetections  int        `json:"total_detections"`
	CurrentThreats   int        `json:"current_threats"`
	FPS              int        `json:"fps"`
	TotalFrames      int        `json:"total_frames"`
	LastUpdateAt     *time.Time `json:"last_update,omitempty"`
	SessionStartedAt *time.Time `json:"session_start_time,omitempty"`
}
