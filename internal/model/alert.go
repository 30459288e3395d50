package model

import (
	"fmt"
	"strings"
	"time"
)

// Level represents the severity level of an alert. Levels are ordered:
// comparisons with < and > follow INFO < WARN < ERROR < FATAL.
type Level int

const (
	LevelInfo Level = iota
	LevelWarn
	LevelError
	LevelFatal
)

// String returns the display name used when rendering an alert.
func (l Level) String() string {
	switch l {
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelFatal:
		return "FATAL"
	default:
		return fmt.Sprintf("LEVEL(%d)", int(l))
	}
}

// ParseLevel parses a level name from configuration. Names are matched
// case-insensitively; unknown names fall back to INFO.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	case "fatal", "critical":
		return LevelFatal
	default:
		return LevelInfo
	}
}

// EventKind tags an alert with the structured lifecycle transition that
// produced it, so downstream rewriting never has to infer the transition
// from message text.
type EventKind string

const (
	KindNone        EventKind = ""
	KindConnected   EventKind = "connected"
	KindReconnected EventKind = "reconnected"
	KindActivated   EventKind = "activated"
	KindInactivated EventKind = "inactivated"
)

// Alert represents a notification event to be dispatched. An Alert is
// constructed once by a classifier and never mutated afterwards.
type Alert struct {
	Level      Level     `json:"level"`
	ObjectID   int64     `json:"object_id"`
	ObjectName string    `json:"object_name"`
	ObjectType string    `json:"object_type"`
	Kind       EventKind `json:"kind,omitempty"`
	Title      string    `json:"title"`
	Message    string    `json:"message"`
	Time       time.Time `json:"time"`
}
