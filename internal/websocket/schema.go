package websocket

import (
	"github.com/stemsi/exstem-client/internal/model"
	"github.com/stemsi/exstem-client/internal/progress"
	"github.com/stemsi/exstem-client/internal/response"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionSelect   Action = "select"
	ActionNext     Action = "next"
	ActionPrevious Action = "previous"
	ActionSubmit   Action = "submit"
	ActionPing     Action = "ping"
)

// RequestPayload is every client message. Only select uses the answer fields.
type RequestPayload struct {
	Action     Action `json:"action"`
	QuestionID string `json:"question_id,omitempty"`
	Option     *int   `json:"option,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventTick   Event = "tick"
	EventState  Event = "state"
	EventGraded Event = "graded"
	EventError  Event = "error"
	EventPong   Event = "pong"
)

// TickResponse is sent once per second while the exam is active.
type TickResponse struct {
	Event         Event  `json:"event"`
	Remaining     int    `json:"remaining"`
	RemainingText string `json:"remaining_text"`
}

// StateResponse is sent whenever navigation, answers or the lifecycle state change.
type StateResponse struct {
	Event    Event                  `json:"event"`
	View     progress.View          `json:"view"`
	Question *progress.QuestionView `json:"question,omitempty"`
}

// GradedResponse carries the single result of the session.
type GradedResponse struct {
	Event     Event            `json:"event"`
	Status    string           `json:"status"`
	Score     float64          `json:"score"`
	Forced    bool             `json:"forced"`
	Result    model.ExamResult `json:"result"`
	NewBadges []string         `json:"new_badges"`
}

type ErrorResponse struct {
	Event Event            `json:"event"`
	Code  response.ErrCode `json:"code"`
	Error string           `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
