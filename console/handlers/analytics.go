package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/guard-x/console/console/analytics"
	"github.com/guard-x/console/console/history"
	"github.com/guard-x/console/console/models"
)

// rangeHours maps the dashboard's range selector values onto window sizes.
var rangeHours = map[string]int{
	"1h":  1,
	"6h":  6,
	"24h": 24,
	"7d":  168,
}

type AnalyticsHandler struct {
	engine  *analytics.Engine
	live    history.Store
	uploads history.Store
	logger  *zap.Logger
}

func NewAnalyticsHandler(engine *analytics.Engine, live, uploads history.Store, logger *zap.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{
		engine:  engine,
		live:    live,
		uploads: uploads,
		logger:  logger,
	}
}

func (h *AnalyticsHandler) GetAnalytics(c *gin.Context) {
	hours, ok := rangeHours[c.DefaultQuery("range", "24h")]
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid range, expected one of 1h, 6h, 24h, 7d"})
		return
	}
	source := models.SourceFilter(c.DefaultQuery("source", "all"))

	liveEvents, err := h.live.ReadAll()
	if err != nil {
		h.logger.Error("Failed to read live history", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read detection history"})
		return
	}

	uploadEvents, err := h.uploads.ReadAll()
	if err != nil {
		h.logger.Error("Failed to read upload history", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read detection history"})
		return
	}

	view, err := h.engine.ComputeView(liveEvents, uploadEvents, hours, source)
	if err != nil {
		if errors.Is(err, analytics.ErrInvalidRange) || errors.Is(err, analytics.ErrInvalidFilter) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("Analytics computation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Analytics computation failed"})
		return
	}

	c.JSON(http.StatusOK, view)
}
