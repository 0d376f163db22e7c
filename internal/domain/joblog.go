package domain

import (
	"encoding/json"
	"time"
)

// LogLevel is the severity of a worker-emitted log line.
type LogLevel string

const (
	LogDebug    LogLevel = "DEBUG"
	LogInfo     LogLevel = "INFO"
	LogWarning  LogLevel = "WARNING"
	LogError    LogLevel = "ERROR"
	LogCritical LogLevel = "CRITICAL"
)

// NewLogLevel validates and returns a log level.
func NewLogLevel(s string) (LogLevel, error) {
	switch LogLevel(s) {
	case LogDebug, LogInfo, LogWarning, LogError, LogCritical:
		return LogLevel(s), nil
	}
	return "", ErrInvalidLogLevel
}

// JobLog is a structured execution log line from a worker. The coordinator
// stores these for operators but never reads them for decisions.
type JobLog struct {
	ID       string
	JobID    string
	Level    LogLevel
	Message  string
	Metadata json.RawMessage
	LoggedAt time.Time
}
