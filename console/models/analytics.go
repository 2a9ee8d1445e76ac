package models

import "time"

type SourceFilter string

const (
	FilterAll    SourceFilter = "all"
	FilterLive   SourceFilter = "live"
	FilterUpload SourceFilter = "upload"
)

type AnalyticsStats struct {
	TotalScans       int     `json:"total_scans"`
	LiveScans        int     `json:"live_scans"`
	UploadScans      int     `json:"upload_scans"`
	TotalDetections  int     `json:"total_detections"`
	AvgPerScan       float64 `json:"avg_detections_per_scan"`
	LocationsTracked int     `json:"locations_tracked"`
}

// HourBucket is one slot of the dense 24-entry hourly activity table.
type HourBucket struct {
	Hour       int    `json:"hour"`
	Label      string `json:"time"` // "HH:00"
	Live       int    `json:"live"`
	Upload     int    `json:"upload"`
	Total      int    `json:"total"`
	Detections int    `json:"detections"`
}

type SeverityHistogram struct {
	Low      int `json:"low"`
	Medium   int `json:"medium"`
	High     int `json:"high"`
	Critical int `json:"critical"`
}

// ActivityEntry is one row of the recent-activity feed. AvgConfidence is nil
// when the event carried no confidence scores.
type ActivityEntry struct {
	Source        Source    `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	Detections    int       `json:"detections"`
	Location      *GeoFix   `json:"location,omitempty"`
	AvgConfidence *float64  `json:"avg_confidence,omitempty"`
}

// AnalyticsView is the full derived dashboard payload for one window/filter
// combination. It is a pure function of its inputs.
type AnalyticsView struct {
	RangeHours int               `json:"range_hours"`
	Source     SourceFilter      `json:"source"`
	Stats      AnalyticsStats    `json:"stats"`
	Hourly     []HourBucket      `json:"hourly"`
	Severity   SeverityHistogram `json:"severity"`
	Recent     []ActivityEntry   `json:"recent"`
}
