package monitor

import "time"

// EventType names a session lifecycle event.
type EventType string

const (
	EventStarted    EventType = "started"
	EventAnswered   EventType = "answered"
	EventSubmitting EventType = "submitting"
	EventExpired    EventType = "expired"
	EventCompleted  EventType = "completed"
	EventFailed     EventType = "failed"
)

// Event is the JSON payload published on a session's monitor channel.
type Event struct {
	Type       EventType `json:"type"`
	SessionID  string    `json:"session_id"`
	Subject    string    `json:"subject,omitempty"`
	QuestionID string    `json:"question_id,omitempty"`
	Option     *int      `json:"option,omitempty"`
	Answered   int       `json:"answered"`
	Remaining  int       `json:"remaining"`
	Score      *float64  `json:"score,omitempty"`
	Error      string    `json:"error,omitempty"`
	At         time.Time `json:"at"`
}
