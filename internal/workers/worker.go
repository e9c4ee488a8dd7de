package workers

import (
	"context"
	"sync"
	"time"

	"finanalyst/pkg/logger"
)

// Worker is a periodic housekeeping job.
type Worker interface {
	Name() string
	// Run performs one pass and returns; the scheduler repeats it every Interval.
	Run(ctx context.Context) error
	Interval() time.Duration
	// Enabled is fixed at construction. Disabled workers are never scheduled.
	Enabled() bool
}

// WorkerWithHealth is a worker whose runs the scheduler records.
type WorkerWithHealth interface {
	Worker
	Health() WorkerHealth
	Record(duration time.Duration, err error)
}

// WorkerHealth is a snapshot of a worker's run history.
type WorkerHealth struct {
	LastRun     time.Time
	LastError   error
	RunCount    int64
	ErrorCount  int64
	AvgDuration time.Duration
}

// BaseWorker carries the name, schedule and run history shared by the
// janitor and the reaper.
type BaseWorker struct {
	name     string
	interval time.Duration
	enabled  bool
	log      *logger.Logger

	mu     sync.Mutex
	health WorkerHealth
	total  time.Duration
}

// NewBaseWorker creates a base worker
func NewBaseWorker(name string, interval time.Duration, enabled bool) *BaseWorker {
	return &BaseWorker{
		name:     name,
		interval: interval,
		enabled:  enabled && interval > 0,
		log:      logger.Get().With("worker", name),
	}
}

func (w *BaseWorker) Name() string            { return w.name }
func (w *BaseWorker) Interval() time.Duration { return w.interval }
func (w *BaseWorker) Enabled() bool           { return w.enabled }
func (w *BaseWorker) Log() *logger.Logger     { return w.log }

// Health returns a copy of the run history.
func (w *BaseWorker) Health() WorkerHealth {
	w.mu.Lock()
	defer w.mu.Unlock()

	h := w.health
	if h.RunCount > 0 {
		h.AvgDuration = w.total / time.Duration(h.RunCount)
	}
	return h
}

// Record adds one finished pass. A nil err clears the last error.
func (w *BaseWorker) Record(duration time.Duration, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.health.LastRun = time.Now()
	w.health.LastError = err
	w.health.RunCount++
	w.total += duration
	if err != nil {
		w.health.ErrorCount++
	}
}
