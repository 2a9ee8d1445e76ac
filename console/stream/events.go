package stream

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/guard-x/console/console/models"
)

const (
	cmdStartCamera = "start_camera"
	cmdStopCamera  = "stop_camera"
)

// startCameraCommand carries the camera selector and the operator's latest
// position fix (nullable) to the backend.
type startCameraCommand struct {
	Type        string         `json:"type"`
	CameraID    int            `json:"camera_id"`
	GPSLocation *models.GeoFix `json:"gps_location"`
}

type stopCameraCommand struct {
	Type string `json:"type"`
}

// DetectionSummary is the per-frame detection block sent by the backend.
type DetectionSummary struct {
	Count       int       `json:"count"`
	Confidences []float64 `json:"confidences"`
}

// Inbound event variants. Each backend message decodes to exactly one of
// these, so the session dispatch switch stays exhaustive.
type (
	CameraStarted struct{}
	CameraStopped struct{}

	CameraError struct {
		Message string
	}

	DetectionFrame struct {
		Frame      string
		Detections DetectionSummary
	}
)

var ErrUnknownEvent = errors.New("unknown event type")

type eventEnvelope struct {
	Type       string            `json:"type"`
	Message    string            `json:"message"`
	Frame      string            `json:"frame"`
	Detections *DetectionSummary `json:"detections"`
}

// decodeEvent turns a raw backend message into one of the typed variants.
func decodeEvent(data []byte) (any, error) {
	var envelope eventEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode event: %w", err)
	}

	switch envelope.Type {
	case "camera_started":
		return CameraStarted{}, nil
	case "camera_stopped":
		return CameraStopped{}, nil
	case "camera_error":
		return CameraError{Message: envelope.Message}, nil
	case "detection_frame":
		frame := DetectionFrame{Frame: envelope.Frame}
		if envelope.Detections != nil {
			frame.Detections = *envelope.Detections
		}
		return frame, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, envelope.Type)
	}
}
