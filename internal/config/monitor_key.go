package config

import "fmt"

type MonitorKeyStruct struct{}

// SessionChannel returns the Redis PubSub channel name for a session's lifecycle events
func (MonitorKeyStruct) SessionChannel(sessionID string) string {
	return fmt.Sprintf("exam:%s:monitor", sessionID)
}

// ActiveSessionsKey returns the Redis set holding sessions that have not completed yet
func (MonitorKeyStruct) ActiveSessionsKey() string {
	return "exam:active_sessions"
}

var MonitorKey = MonitorKeyStruct{}
