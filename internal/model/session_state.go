package model

// SessionState enumerates exam session lifecycle states.
type SessionState string

const (
	SessionStateLoading    SessionState = "LOADING"
	SessionStateActive     SessionState = "ACTIVE"
	SessionStateSubmitting SessionState = "SUBMITTING"
	SessionStateCompleted  SessionState = "COMPLETED"
	SessionStateFailed     SessionState = "FAILED"
)

// Terminal reports whether no further transition can happen.
func (s SessionState) Terminal() bool {
	return s == SessionStateCompleted || s == SessionStateFailed
}
