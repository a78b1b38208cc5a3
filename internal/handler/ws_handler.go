package handler

import (
	"maps"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-client/internal/middleware"
	"github.com/stemsi/exstem-client/internal/model"
	"github.com/stemsi/exstem-client/internal/progress"
	"github.com/stemsi/exstem-client/internal/response"
	"github.com/stemsi/exstem-client/internal/service"
	"github.com/stemsi/exstem-client/internal/session"
	ws "github.com/stemsi/exstem-client/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams a session's countdown and state and accepts its actions.
type WSHandler struct {
	sessions *service.ExamSessionService
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(sessions *service.ExamSessionService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		sessions: sessions,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// SessionStream godoc
// WS /ws/v1/sessions/:id/stream
// Pushes tick/state/graded events and accepts select/next/previous/submit/ping.
func (h *WSHandler) SessionStream(c *gin.Context) {
	entry := middleware.GetEntry(c)

	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	conn := ws.Wrap(raw)
	defer conn.Close()

	wsLog := h.log.With().
		Str("handle", entry.Handle).
		Str("subject", entry.Subject).
		Logger()
	wsLog.Info().Msg("Client connected")

	updates, stop := entry.Session.Updates()
	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		h.pump(conn, entry, updates, wsLog)
	}()

	for {
		var msg ws.RequestPayload
		if err := conn.ReadRequest(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			break
		}

		switch msg.Action {
		case ws.ActionSelect:
			h.handleSelect(conn, entry.Session, &msg)
		case ws.ActionNext:
			h.reply(conn, entry.Session.GoNext())
		case ws.ActionPrevious:
			h.reply(conn, entry.Session.GoPrevious())
		case ws.ActionSubmit:
			h.handleSubmit(conn, entry.Session)
		case ws.ActionPing:
			conn.WriteTyped(ws.PongResponse{Event: ws.EventPong})
		default:
			wsLog.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
			conn.WriteError(response.ErrInvalidPayload)
		}
	}

	stop()
	<-pumpDone
}

// pump forwards snapshots until the session ends or the client leaves.
// A snapshot that only moved the countdown is sent as a tick.
func (h *WSHandler) pump(conn *ws.Conn, entry *service.Entry, updates <-chan session.Snapshot, log zerolog.Logger) {
	var last *session.Snapshot
	terminal := false

	for snap := range updates {
		if snap.State.Terminal() {
			terminal = true
			break
		}

		var err error
		if last != nil && onlyTimeChanged(*last, snap) {
			err = conn.WriteTyped(ws.TickResponse{
				Event:         ws.EventTick,
				Remaining:     snap.Remaining,
				RemainingText: progress.FormatRemaining(snap.Remaining),
			})
		} else {
			err = conn.WriteTyped(ws.StateResponse{
				Event:    ws.EventState,
				View:     progress.FromSnapshot(snap),
				Question: progress.CurrentQuestion(snap),
			})
		}
		if err != nil {
			log.Debug().Err(err).Msg("Stream write failed")
			return
		}
		last = &snap
	}

	if terminal {
		// The terminal snapshot is published before Done closes.
		<-entry.Session.Done()
	} else {
		select {
		case <-entry.Session.Done():
		default:
			// Unsubscribed by the reader.
			return
		}
	}

	res, _, err := h.sessions.TakeOutcome(entry)
	if err != nil {
		conn.WriteError(response.CodeOf(err))
	} else {
		snap := entry.Session.Snapshot()
		conn.WriteTyped(ws.GradedResponse{
			Event:     ws.EventGraded,
			Status:    "completed",
			Score:     res.Result.Score,
			Forced:    snap.Forced,
			Result:    res.Result,
			NewBadges: res.NewBadges,
		})
	}
	conn.WriteClose("session finished")
}

func (h *WSHandler) handleSelect(conn *ws.Conn, s *session.Session, msg *ws.RequestPayload) {
	if msg.QuestionID == "" || msg.Option == nil {
		conn.WriteError(response.ErrValidation)
		return
	}
	h.reply(conn, s.SelectAnswer(msg.QuestionID, *msg.Option))
}

func (h *WSHandler) handleSubmit(conn *ws.Conn, s *session.Session) {
	snap := s.Snapshot()
	if snap.State == model.SessionStateActive && !progress.FromSnapshot(snap).CanSubmit {
		conn.WriteError(response.ErrValidation)
		return
	}
	h.reply(conn, s.RequestSubmit())
}

// reply reports a failed action. Successful actions are answered by the next
// state event.
func (h *WSHandler) reply(conn *ws.Conn, err error) {
	if err != nil {
		conn.WriteError(response.CodeOf(err))
	}
}

func onlyTimeChanged(prev, next session.Snapshot) bool {
	return prev.State == next.State &&
		prev.Index == next.Index &&
		prev.Exam == next.Exam &&
		maps.Equal(prev.Answers, next.Answers)
}
