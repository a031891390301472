package audit

import (
	"log/slog"
	"strings"
	"time"
)

// Level is the severity of an audit entry.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// SlogLevel maps the level to its slog equivalent. Unknown levels map to
// info.
func (l Level) SlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseLevel parses a configuration log level ("debug", "info", "warn",
// "error"). Unknown values parse as info.
func ParseLevel(s string) Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

// Audit event kinds.
const (
	EventRetentionScheduled = "RETENTION_SCHEDULED"
	EventDeletionPass       = "DELETION_PASS"
	EventDeletionCompleted  = "DELETION_COMPLETED"
	EventDeletionRetry      = "DELETION_RETRY"
	EventDeletionFailed     = "DELETION_FAILED"
	EventTokenGenerated     = "TOKEN_GENERATED"
	EventTokenAccess        = "TOKEN_ACCESS"
	EventTokenRevoked       = "TOKEN_REVOKED"
	EventProcessingComplete = "PROCESSING_COMPLETE"
)

// SystemInfo identifies the process that wrote an entry.
type SystemInfo struct {
	NodeID    string `json:"nodeId"`
	ProcessID int    `json:"processId"`
	Version   string `json:"version"`
}

// Entry is one audit log record.
type Entry struct {
	Timestamp time.Time      `json:"timestamp"`
	Event     string         `json:"event"`
	Level     Level          `json:"level"`
	Data      map[string]any `json:"data"`
	SessionID string         `json:"sessionId"`
	Sequence  uint64         `json:"sequence"`
	System    SystemInfo     `json:"systemInfo"`
}

// Writer is the write side of the audit log.
type Writer interface {
	Write(event string, data map[string]any, level Level)
}
