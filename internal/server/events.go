package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/tripdeal/bargain/internal/auditlog/domain"
	"gorm.io/datatypes"
)

type clientEvent struct {
	SessionID string         `json:"sessionId"`
	Payload   map[string]any `json:"payload"`
}

type logClientEventsRequest struct {
	EventType string        `json:"eventType"`
	Events    []clientEvent `json:"events"`
	BatchID   string        `json:"batchId"`
}

// LogClientEvents fans client telemetry into the audit queue. The queue is
// best-effort: a full queue drops events but the endpoint still returns 200.
func (s *Server) LogClientEvents(c *gin.Context) {
	var req logClientEventsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if len(req.Events) == 0 {
		AbortWithError(c, newValidationError("events", "invalid_events", "events must not be empty"))
		return
	}

	eventType := strings.TrimSpace(req.EventType)
	if eventType == "" {
		eventType = auditdomain.EventClientTelemetry
	}

	for _, event := range req.Events {
		signals := datatypes.JSONMap{}
		for k, v := range event.Payload {
			signals[k] = v
		}
		if req.BatchID != "" {
			signals["batch_id"] = req.BatchID
		}

		s.auditSvc.Record(c.Request.Context(), &auditdomain.NegotiationEvent{
			SessionID: strings.TrimSpace(event.SessionID),
			EventType: eventType,
			Signals:   signals,
		})
	}

	c.JSON(http.StatusOK, gin.H{"accepted": len(req.Events)})
}
