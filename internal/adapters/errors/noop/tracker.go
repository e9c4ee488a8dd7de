package noop

import (
	"context"

	"finanalyst/pkg/errors"
)

// Tracker discards everything. Used when error tracking is disabled.
type Tracker struct{}

var _ errors.Tracker = (*Tracker)(nil)

func New() *Tracker {
	return &Tracker{}
}

func (t *Tracker) CaptureError(context.Context, error, map[string]string) error { return nil }

func (t *Tracker) CaptureMessage(context.Context, string, errors.Level, map[string]string) error {
	return nil
}

func (t *Tracker) Flush(context.Context) error { return nil }
