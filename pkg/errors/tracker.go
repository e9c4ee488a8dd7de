package errors

import "context"

// Tracker reports failures to an external service. Tags are indexed by the
// service; a "user_id" tag identifies the requester.
type Tracker interface {
	CaptureError(ctx context.Context, err error, tags map[string]string) error
	// CaptureMessage reports a notable condition that is not an error.
	CaptureMessage(ctx context.Context, message string, level Level, tags map[string]string) error
	// Flush blocks until queued events are sent or ctx ends.
	Flush(ctx context.Context) error
}

// Level is the severity of a captured message.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)
