package sentry

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"

	"finanalyst/pkg/errors"
)

const defaultFlushTimeout = 2 * time.Second

// Options configures the Sentry client.
type Options struct {
	DSN         string
	Environment string
	Release     string
	Debug       bool
}

// Tracker implements error tracking via Sentry
type Tracker struct {
	hub *sentry.Hub
}

var _ errors.Tracker = (*Tracker)(nil)

// New creates a new Sentry tracker
func New(opts Options) (*Tracker, error) {
	if opts.DSN == "" {
		return nil, errors.Wrap(errors.ErrInvalidInput, "sentry dsn is required")
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              opts.DSN,
		Environment:      opts.Environment,
		Release:          opts.Release,
		Debug:            opts.Debug,
		AttachStacktrace: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "sentry init")
	}

	return &Tracker{hub: sentry.CurrentHub()}, nil
}

// CaptureError sends an error to Sentry. The user_id tag also becomes the
// event's user.
func (t *Tracker) CaptureError(ctx context.Context, err error, tags map[string]string) error {
	hub := t.hub.Clone()
	hub.ConfigureScope(func(scope *sentry.Scope) {
		applyTags(scope, tags)
	})
	hub.CaptureException(err)
	return nil
}

// CaptureMessage sends message at level with tags
func (t *Tracker) CaptureMessage(ctx context.Context, message string, level errors.Level, tags map[string]string) error {
	hub := t.hub.Clone()
	hub.ConfigureScope(func(scope *sentry.Scope) {
		applyTags(scope, tags)
		scope.SetLevel(convertLevel(level))
	})
	hub.CaptureMessage(message)
	return nil
}

// Flush waits for pending events, bounded by ctx.
func (t *Tracker) Flush(ctx context.Context) error {
	timeout := defaultFlushTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if !sentry.Flush(timeout) {
		return errors.Wrap(errors.ErrTimeout, "sentry flush")
	}
	return nil
}

func applyTags(scope *sentry.Scope, tags map[string]string) {
	for k, v := range tags {
		if v == "" {
			continue
		}
		scope.SetTag(k, v)
	}
	if userID := tags["user_id"]; userID != "" {
		scope.SetUser(sentry.User{ID: userID})
	}
}

func convertLevel(level errors.Level) sentry.Level {
	switch level {
	case errors.LevelWarning:
		return sentry.LevelWarning
	case errors.LevelError:
		return sentry.LevelError
	default:
		return sentry.LevelInfo
	}
}
