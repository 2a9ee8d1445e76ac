package analytics

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/guard-x/console/console/models"
)

var (
	ErrInvalidRange  = errors.New("invalid analytics range")
	ErrInvalidFilter = errors.New("invalid source filter")
)

// validRanges are the window sizes the dashboard offers: last hour, 6 hours,
// 24 hours and 7 days.
var validRanges = map[int]bool{1: true, 6: true, 24: true, 168: true}

// Engine derives dashboard aggregates from the merged detection histories.
// ComputeView is a pure function of its inputs and the clock, so identical
// inputs always produce an identical view.
type Engine struct {
	logger *zap.Logger
	clock  func() time.Time
}

func NewEngine(logger *zap.Logger) *Engine {
	return &Engine{
		logger: logger,
		clock:  time.Now,
	}
}

// ComputeView filters both histories to the trailing window, applies the
// source filter and derives scalar stats, the dense hourly table, the threat
// severity histogram and the recent-activity feed.
func (e *Engine) ComputeView(live, upload []models.DetectionEvent, rangeHours int, source models.SourceFilter) (*models.AnalyticsView, error) {
	if !validRanges[rangeHours] {
		return nil, fmt.Errorf("%w: %d hours", ErrInvalidRange, rangeHours)
	}
	switch source {
	case models.FilterAll, models.FilterLive, models.FilterUpload:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidFilter, source)
	}

	now := e.clock()
	cutoff := now.Add(-time.Duration(rangeHours) * time.Hour)

	liveFiltered := filterWindow(live, cutoff, now)
	uploadFiltered := filterWindow(upload, cutoff, now)

	var selected []models.DetectionEvent
	switch source {
	case models.FilterLive:
		selected = liveFiltered
	case models.FilterUpload:
		selected = uploadFiltered
	default:
		selected = make([]models.DetectionEvent, 0, len(uploadFiltered)+len(liveFiltered))
		selected = append(selected, uploadFiltered...)
		selected = append(selected, liveFiltered...)
		sort.SliceStable(selected, func(i, j int) bool {
			return selected[i].Timestamp.Before(selected[j].Timestamp)
		})
	}

	view := &models.AnalyticsView{
		RangeHours: rangeHours,
		Source:     source,
		Stats:      computeStats(selected),
		Hourly:     computeHourly(selected, now),
		Severity:   computeSeverity(selected),
		Recent:     computeRecent(selected),
	}
	return view, nil
}

func filterWindow(events []models.DetectionEvent, cutoff, now time.Time) []models.DetectionEvent {
	filtered := make([]models.DetectionEvent, 0, len(events))
	for _, event := range events {
		if event.Timestamp.After(cutoff) && !event.Timestamp.After(now) {
			filtered = append(filtered, event)
		}
	}
	return filtered
}

func computeStats(events []models.DetectionEvent) models.AnalyticsStats {
	stats := models.AnalyticsStats{TotalScans: len(events)}

	for _, event := range events {
		stats.TotalDetections += event.TargetCount
		switch event.Source {
		case models.SourceLive:
			stats.LiveScans++
		case models.SourceUpload:
			stats.UploadScans++
		}
		if event.Location != nil {
			stats.LocationsTracked++
		}
	}

	if len(events) > 0 {
		avg := float64(stats.TotalDetections) / float64(len(events))
		stats.AvgPerScan = math.Round(avg*10) / 10
	}
	return stats
}

// computeHourly builds the dense hour-of-day table anchored to the trailing
// 24 hours ending now. Buckets with no events stay zero-filled so charts get
// a fixed-length series.
func computeHourly(events []models.DetectionEvent, now time.Time) []models.HourBucket {
	buckets := make([]models.HourBucket, 0, 24)
	index := make(map[int]int, 24)

	for i := 23; i >= 0; i-- {
		hour := now.Add(-time.Duration(i) * time.Hour).Hour()
		index[hour] = len(buckets)
		buckets = append(buckets, models.HourBucket{
			Hour:  hour,
			Label: fmt.Sprintf("%02d:00", hour),
		})
	}

	for _, event := range events {
		i, ok := index[event.Timestamp.Hour()]
		if !ok {
			continue
		}
		buckets[i].Total++
		buckets[i].Detections += event.TargetCount
		if event.Source == models.SourceLive {
			buckets[i].Live++
		} else {
			buckets[i].Upload++
		}
	}

	return buckets
}

func computeSeverity(events []models.DetectionEvent) models.SeverityHistogram {
	var histogram models.SeverityHistogram
	for _, event := range events {
		switch models.SeverityForCount(event.TargetCount) {
		case models.SeverityLow:
			histogram.Low++
		case models.SeverityMedium:
			histogram.Medium++
		case models.SeverityHigh:
			histogram.High++
		case models.SeverityCritical:
			histogram.Critical++
		}
	}
	return histogram
}

// computeRecent returns the last 10 events most-recent-first, each annotated
// with its mean confidence when scores are present.
func computeRecent(events []models.DetectionEvent) []models.ActivityEntry {
	start := len(events) - 10
	if start < 0 {
		start = 0
	}
	tail := events[start:]

	recent := make([]models.ActivityEntry, 0, len(tail))
	for i := len(tail) - 1; i >= 0; i-- {
		event := tail[i]
		entry := models.ActivityEntry{
			Source:     event.Source,
			Timestamp:  event.Timestamp,
			Detections: event.TargetCount,
			Location:   event.Location,
		}
		if len(event.Confidences) > 0 {
			sum := 0.0
			for _, confidence := range event.Confidences {
				sum += confidence
			}
			avg := sum / float64(len(event.Confidences))
			entry.AvgConfidence = &avg
		}
		recent = append(recent, entry)
	}
	return recent
}
