package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/guard-x/console/console/models"
)

// StreamController is the slice of the stream session the HTTP surface
// drives. Satisfied by *stream.Session.
type StreamController interface {
	State() models.ConnectionState
	Stats() models.StreamStats
	LatestDetection() *models.DetectionEvent
	StartStreaming()
	StopStreaming()
}

type SessionHandler struct {
	session StreamController
	logger  *zap.Logger
}

func NewSessionHandler(session StreamController, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{
		session: session,
		logger:  logger,
	}
}

func (h *SessionHandler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connection_state": h.session.State(),
		"stats":            h.session.Stats(),
		"latest_detection": h.session.LatestDetection(),
	})
}

// Start issues the start command. The session drops it silently unless the
// connection is up, so the response always reports the current state for the
// UI to gate on.
func (h *SessionHandler) Start(c *gin.Context) {
	h.session.StartStreaming()
	c.JSON(http.StatusAccepted, gin.H{
		"connection_state": h.session.State(),
	})
}

func (h *SessionHandler) Stop(c *gin.Context) {
	h.session.StopStreaming()
	c.JSON(http.StatusAccepted, gin.H{
		"connection_state": h.session.State(),
	})
}
