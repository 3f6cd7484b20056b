// Package notifications delivers user-visible notices about connections
// and sync results.
package notifications

import (
	"time"

	"github.com/quantumlife/planner/internal/core"
)

// Level is the severity of a notice
type Level string

const (
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelInfo    Level = "info"
)

// Notice is a user-visible message
type Notice struct {
	ID       string        `json:"id"`
	Level    Level         `json:"level"`
	Title    string        `json:"title"`
	Message  string        `json:"message,omitempty"`
	Provider core.Provider `json:"provider,omitempty"`
	At       time.Time     `json:"at"`
}

// Success builds a success notice.
func Success(title, message string) Notice {
	return Notice{Level: LevelSuccess, Title: title, Message: message}
}

// Info builds an informational notice.
func Info(title, message string) Notice {
	return Notice{Level: LevelInfo, Title: title, Message: message}
}

// Warning builds a warning notice carrying the user-facing text of err.
func Warning(title string, p core.Provider, err error) Notice {
	return Notice{Level: LevelWarning, Title: title, Message: core.UserMessage(err), Provider: p}
}

// WebSocketMessage for real-time notice delivery
type WebSocketMessage struct {
	Type    string `json:"type"`
	Payload Notice `json:"payload"`
}
