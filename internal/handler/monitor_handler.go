package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-client/internal/middleware"
	"github.com/stemsi/exstem-client/internal/monitor"
	"github.com/stemsi/exstem-client/internal/response"
	"github.com/stemsi/exstem-client/internal/service"
)

const (
	keepAliveInterval = 30 * time.Second
	healthTimeout     = 2 * time.Second
)

// MonitorHandler exposes the Redis monitor feed and kiosk health.
type MonitorHandler struct {
	publisher *monitor.Publisher
	sessions  *service.ExamSessionService
	log       zerolog.Logger
}

// NewMonitorHandler creates a new MonitorHandler. publisher may be nil when
// Redis is not configured.
func NewMonitorHandler(publisher *monitor.Publisher, sessions *service.ExamSessionService, log zerolog.Logger) *MonitorHandler {
	return &MonitorHandler{
		publisher: publisher,
		sessions:  sessions,
		log:       log.With().Str("component", "monitor_handler").Logger(),
	}
}

// SessionEvents godoc
// GET /api/v1/sessions/:id/monitor
// Streams the session's lifecycle events as Server-Sent Events.
func (h *MonitorHandler) SessionEvents(c *gin.Context) {
	entry := middleware.GetEntry(c)
	snap := entry.Session.Snapshot()
	if snap.Exam == nil {
		response.FailError(c, response.NoActiveSession("monitor session"))
		return
	}

	reqCtx := c.Request.Context()
	pubsub := h.publisher.Subscribe(reqCtx, snap.Exam.SessionID)
	if pubsub == nil {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}
	defer pubsub.Close()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	c.SSEvent("message", map[string]interface{}{
		"type":       "snapshot",
		"session_id": snap.Exam.SessionID,
		"state":      snap.State,
		"answered":   len(snap.Answers),
		"remaining":  snap.Remaining,
	})
	c.Writer.Flush()

	ch := pubsub.Channel()
	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	pingPayload, _ := json.Marshal(map[string]string{"type": "ping"})

	log := h.log.With().Str("session_id", snap.Exam.SessionID).Logger()
	log.Info().Msg("Monitor attached")

	for {
		select {
		case <-reqCtx.Done():
			log.Info().Msg("Monitor detached")
			return

		case <-entry.Session.Done():
			// Drain what Redis already delivered, then end the stream.
			for {
				select {
				case msg, ok := <-ch:
					if !ok {
						return
					}
					writeSSE(c, []byte(msg.Payload))
				default:
					return
				}
			}

		case msg, ok := <-ch:
			if !ok {
				return
			}
			// Forward raw JSON without decoding.
			writeSSE(c, []byte(msg.Payload))

		case <-keepAlive.C:
			writeSSE(c, pingPayload)
		}
	}
}

// Health godoc
// GET /health
func (h *MonitorHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	body := gin.H{
		"status":   "ok",
		"sessions": len(h.sessions.Handles()),
	}
	if active, err := h.publisher.ActiveSessions(ctx); err != nil {
		h.log.Warn().Err(err).Msg("Failed to list active sessions")
		body["monitor"] = "unavailable"
	} else {
		body["active_sessions"] = len(active)
	}

	c.JSON(http.StatusOK, body)
}

func writeSSE(c *gin.Context, payload []byte) {
	c.Writer.Write([]byte("data: "))
	c.Writer.Write(payload)
	c.Writer.Write([]byte("\n\n"))
	c.Writer.Flush()
}
