package workers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"finanalyst/internal/metrics"
	"finanalyst/pkg/errors"
	"finanalyst/pkg/logger"
)

const defaultStopTimeout = 30 * time.Second

// Scheduler runs registered workers on their intervals until stopped.
type Scheduler struct {
	workers     []Worker
	stopTimeout time.Duration

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.RWMutex
	log     *logger.Logger
	started bool
}

// NewScheduler creates a scheduler. A nil log uses the global logger.
func NewScheduler(log *logger.Logger) *Scheduler {
	if log == nil {
		log = logger.Get()
	}
	return &Scheduler{
		stopTimeout: defaultStopTimeout,
		log:         log.With("component", "scheduler"),
	}
}

// RegisterWorker adds a worker. Registration after Start is ignored.
func (s *Scheduler) RegisterWorker(w Worker) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		s.log.Warnw("Cannot register worker after scheduler has started", "worker", w.Name())
		return
	}

	s.workers = append(s.workers, w)
	s.log.Infow("Worker registered", "worker", w.Name(), "interval", w.Interval())
}

// Start launches every enabled worker in its own goroutine.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return errors.Wrap(errors.ErrInternal, "scheduler already started")
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)

	for _, w := range s.workers {
		if !w.Enabled() {
			s.log.Infow("Skipping disabled worker", "worker", w.Name())
			continue
		}
		s.wg.Add(1)
		go s.runWorker(w)
	}

	s.log.Infow("Worker scheduler started", "workers", len(s.workers))
	return nil
}

// Stop cancels the workers and waits for in-flight runs to return.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return errors.Wrap(errors.ErrInternal, "scheduler not started")
	}
	s.cancel()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
		s.log.Info("All workers stopped")
	case <-time.After(s.stopTimeout):
		err = errors.Wrapf(errors.ErrTimeout, "workers still running after %s", s.stopTimeout)
		s.log.Warnw("Worker shutdown timed out", "timeout", s.stopTimeout)
	}

	s.mu.Lock()
	s.started = false
	s.mu.Unlock()
	return err
}

func (s *Scheduler) runWorker(w Worker) {
	defer s.wg.Done()

	ticker := time.NewTicker(w.Interval())
	defer ticker.Stop()

	s.execute(w)
	for {
		select {
		case <-s.ctx.Done():
			s.log.Debugw("Worker stopping", "worker", w.Name())
			return
		case <-ticker.C:
			s.execute(w)
		}
	}
}

// execute runs one pass. Panics are turned into errors so one worker cannot
// take the scheduler down.
func (s *Scheduler) execute(w Worker) {
	start := time.Now()

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = errors.Wrap(errors.ErrInternal, fmt.Sprintf("panic: %v", r))
			}
		}()
		err = w.Run(s.ctx)
	}()

	duration := time.Since(start)
	metrics.RecordWorkerExecution(w.Name(), duration, err)

	if h, ok := w.(WorkerWithHealth); ok {
		h.Record(duration, err)
	}

	if err != nil {
		s.log.Errorw("Worker run failed", "worker", w.Name(), "duration", duration, "error", err)
		return
	}
	s.log.Debugw("Worker run completed", "worker", w.Name(), "duration", duration)
}

// Check fails when the last run of any worker failed. It serves as a
// health check.
func (s *Scheduler) Check(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var errs errors.MultiError
	for _, w := range s.workers {
		h, ok := w.(WorkerWithHealth)
		if !ok || !w.Enabled() {
			continue
		}
		if last := h.Health().LastError; last != nil {
			errs.Add(errors.Wrap(last, w.Name()))
		}
	}
	return errs.ToError()
}

// IsRunning reports whether the scheduler has been started and not stopped.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}
