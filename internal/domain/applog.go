package domain

import "time"

// LogEntry is one persisted application log record.
type LogEntry struct {
	ID        int64     `json:"id"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Component string    `json:"component,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
