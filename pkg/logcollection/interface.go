package logcollection

import (
	"context"
	"time"
)

// ===== CORE INTERFACES =====

// StructuredLogger hides the logging backend behind printf and field based methods
type StructuredLogger interface {
	// Simple logging, compatible with logging.Logger
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})

	LogWithContext(ctx context.Context, level LogLevel, msg string, fields ...LogField)
	LogWithFields(level LogLevel, msg string, fields ...LogField)

	WithFields(fields ...LogField) StructuredLogger
	WithError(err error) StructuredLogger
	WithService(serviceID string) StructuredLogger

	Sync() error
}

// LineCollector receives the output of supervised child processes
type LineCollector interface {
	Collect(serviceID string, stream StreamType, line string)
	Status(serviceID string) (ServiceLogStatus, bool)
	Recent(serviceID string) []CollectedLine
	// Forget drops the counters and tail of a service that will not run again
	Forget(serviceID string)
}

// ===== CORE TYPES =====

type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

func (l LogLevel) String() string {
	switch l {
	case DebugLevel:
		return "debug"
	case InfoLevel:
		return "info"
	case WarnLevel:
		return "warn"
	case ErrorLevel:
		return "error"
	default:
		return "unknown"
	}
}

// StreamType identifies the source stream of a child process line
type StreamType string

const (
	StdoutStream StreamType = "stdout"
	StderrStream StreamType = "stderr"
)

// CollectedLine is one captured line of child output
type CollectedLine struct {
	Timestamp time.Time  `json:"timestamp"`
	Stream    StreamType `json:"stream"`
	Line      string     `json:"line"`
}

// ServiceLogStatus reports collection counters for one service
type ServiceLogStatus struct {
	ServiceID   string    `json:"service_id"`
	StdoutLines int64     `json:"stdout_lines"`
	StderrLines int64     `json:"stderr_lines"`
	TotalBytes  int64     `json:"total_bytes"`
	LastLineAt  time.Time `json:"last_line_at"`
}
