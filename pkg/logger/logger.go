package logger

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"finanalyst/pkg/errors"
)

var (
	mu     sync.RWMutex
	global *Logger
)

// Logger is a sugared zap logger. Error-level entries are also sent to the
// error tracker when one is set.
type Logger struct {
	*zap.SugaredLogger
	tracker errors.Tracker
}

// Init replaces the global logger. Production writes JSON; any other
// environment writes colored console output.
func Init(level string, env string) error {
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	if env == "production" {
		cfg = zap.NewProductionConfig()
	}

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	z, err := cfg.Build(zap.AddCallerSkip(1), zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		return errors.Wrap(err, "build logger")
	}

	mu.Lock()
	global = &Logger{SugaredLogger: z.Sugar()}
	mu.Unlock()
	return nil
}

// New wraps an existing zap logger.
func New(z *zap.Logger) *Logger {
	return &Logger{SugaredLogger: z.Sugar()}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return New(zap.NewNop())
}

// SetErrorTracker makes the global logger report errors.
func SetErrorTracker(tracker errors.Tracker) {
	mu.Lock()
	defer mu.Unlock()
	if global != nil {
		global.tracker = tracker
	}
}

// Get returns the global logger, creating a development one if Init was
// never called.
func Get() *Logger {
	mu.RLock()
	l := global
	mu.RUnlock()
	if l != nil {
		return l
	}

	mu.Lock()
	defer mu.Unlock()
	if global == nil {
		z, _ := zap.NewDevelopment()
		global = New(z)
	}
	return global
}

// With returns a child logger that keeps the tracker.
func (l *Logger) With(args ...interface{}) *Logger {
	return &Logger{SugaredLogger: l.SugaredLogger.With(args...), tracker: l.tracker}
}

func (l *Logger) Error(args ...interface{}) {
	l.SugaredLogger.Error(args...)
	l.report(errors.Wrapf(errors.ErrInternal, "%s", fmt.Sprint(args...)))
}

func (l *Logger) Errorf(template string, args ...interface{}) {
	l.SugaredLogger.Errorf(template, args...)
	l.report(fmt.Errorf(template, args...))
}

// Errorw reports the first error value among keysAndValues, wrapped with msg.
func (l *Logger) Errorw(msg string, keysAndValues ...interface{}) {
	l.SugaredLogger.Errorw(msg, keysAndValues...)
	for _, v := range keysAndValues {
		if err, ok := v.(error); ok {
			l.report(errors.Wrap(err, msg))
			return
		}
	}
}

func (l *Logger) report(err error) {
	if l.tracker == nil || err == nil {
		return
	}
	_ = l.tracker.CaptureError(context.Background(), err, map[string]string{"component": "logger"})
}

// Sync flushes the global logger.
func Sync() error {
	mu.RLock()
	defer mu.RUnlock()
	if global == nil {
		return nil
	}
	return global.Sync()
}
