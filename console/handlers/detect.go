package handlers

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/guard-x/console/console/backend"
	"github.com/guard-x/console/console/history"
	"github.com/guard-x/console/console/metrics"
	"github.com/guard-x/console/console/models"
)

// Detector runs detection on one uploaded image. Satisfied by
// *backend.Client.
type Detector interface {
	Detect(ctx context.Context, filename string, imageData []byte) (*backend.DetectResult, error)
}

// DetectHandler proxies uploaded images to the detection backend and feeds
// the resulting events into the in-memory upload history the analytics
// engine merges with the live log.
type DetectHandler struct {
	detector Detector
	uploads  history.Store
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

func NewDetectHandler(detector Detector, uploads history.Store, m *metrics.Metrics, logger *zap.Logger) *DetectHandler {
	return &DetectHandler{
		detector: detector,
		uploads:  uploads,
		metrics:  m,
		logger:   logger,
	}
}

func (h *DetectHandler) Detect(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file uploaded"})
		return
	}
	defer file.Close()

	if !isValidImageFile(header.Filename) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid file type"})
		return
	}

	imageData, err := io.ReadAll(file)
	if err != nil {
		h.logger.Error("Failed to read uploaded file", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process file"})
		return
	}

	result, err := h.detector.Detect(c.Request.Context(), header.Filename, imageData)
	if err != nil {
		h.logger.Error("Upload detection failed",
			zap.Error(err),
			zap.String("filename", header.Filename))
		if h.metrics != nil {
			h.metrics.UploadFailures.Add(1)
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": "Detection backend unavailable"})
		return
	}

	event := models.DetectionEvent{
		Source:      models.SourceUpload,
		Timestamp:   time.Now(),
		TargetCount: result.Count,
		Confidences: result.Confidences,
	}
	if err := h.uploads.Append(event); err != nil {
		h.logger.Warn("Failed to record upload detection", zap.Error(err))
	}
	if h.metrics != nil {
		h.metrics.UploadDetections.Add(1)
	}

	c.JSON(http.StatusOK, gin.H{
		"detection": result,
		"severity":  models.SeverityForCount(result.Count),
		"timestamp": event.Timestamp,
	})
}

func isValidImageFile(filename string) bool {
	validExtensions := []string{".jpg", ".jpeg", ".png", ".bmp", ".webp"}

	filename = strings.ToLower(filename)
	for _, ext := range validExtensions {
		if strings.HasSuffix(filename, ext) {
			return true
		}
	}
	return false
}
