package clickhouse

import (
	"context"
	"sync"
	"time"

	"finanalyst/pkg/logger"
)

// FlushFunc writes one batch. It owns the slice it receives.
type FlushFunc[T any] func(ctx context.Context, batch []T) error

// BatchWriter buffers rows and hands them to FlushFunc when the buffer is
// full or MaxAge has passed. ClickHouse handles a few large inserts far better
// than many single-row ones.
type BatchWriter[T any] struct {
	flush   FlushFunc[T]
	table   string
	maxSize int
	maxAge  time.Duration
	log     *logger.Logger

	mu        sync.Mutex
	buffer    []T
	lastFlush time.Time
	flushed   int64
	failed    int64

	stopCh  chan struct{}
	done    chan struct{}
	running bool
}

// BatchWriterConfig configures a BatchWriter.
type BatchWriterConfig[T any] struct {
	Flush        FlushFunc[T]
	Table        string        // used in logs
	MaxBatchSize int           // default 500
	MaxAge       time.Duration // default 5s
}

// NewBatchWriter creates a stopped writer; call Start for time-based flushes.
func NewBatchWriter[T any](cfg BatchWriterConfig[T]) *BatchWriter[T] {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 500
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 5 * time.Second
	}

	return &BatchWriter[T]{
		flush:     cfg.Flush,
		table:     cfg.Table,
		maxSize:   cfg.MaxBatchSize,
		maxAge:    cfg.MaxAge,
		buffer:    make([]T, 0, cfg.MaxBatchSize),
		lastFlush: time.Now(),
		log:       logger.Get().With("component", "batch_writer", "table", cfg.Table),
	}
}

// Start launches the periodic flush loop. It ends when ctx is cancelled or
// Stop is called, flushing whatever is left.
func (w *BatchWriter[T]) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.done = make(chan struct{})

	go w.loop(ctx, w.stopCh, w.done)
	w.log.Debugf("Batch writer started (max_size=%d, max_age=%s)", w.maxSize, w.maxAge)
}

// Add buffers row and flushes synchronously once the buffer is full.
func (w *BatchWriter[T]) Add(ctx context.Context, row T) error {
	w.mu.Lock()
	w.buffer = append(w.buffer, row)
	full := len(w.buffer) >= w.maxSize
	w.mu.Unlock()

	if full {
		return w.Flush(ctx)
	}
	return nil
}

// Flush writes everything buffered so far.
func (w *BatchWriter[T]) Flush(ctx context.Context) error {
	w.mu.Lock()
	if len(w.buffer) == 0 {
		w.mu.Unlock()
		return nil
	}
	batch := w.buffer
	w.buffer = make([]T, 0, w.maxSize)
	w.lastFlush = time.Now()
	w.mu.Unlock()

	start := time.Now()
	if err := w.flush(ctx, batch); err != nil {
		w.mu.Lock()
		w.failed += int64(len(batch))
		w.mu.Unlock()
		w.log.Errorw("Batch flush failed", "rows", len(batch), "error", err)
		return err
	}

	w.mu.Lock()
	w.flushed += int64(len(batch))
	w.mu.Unlock()
	w.log.Debugf("Flushed %d rows in %s", len(batch), time.Since(start))
	return nil
}

func (w *BatchWriter[T]) loop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.maxAge)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.finalFlush()
			return
		case <-stop:
			w.finalFlush()
			return
		case <-ticker.C:
			if err := w.Flush(ctx); err != nil && ctx.Err() == nil {
				w.log.Warnw("Periodic flush failed", "error", err)
			}
		}
	}
}

func (w *BatchWriter[T]) finalFlush() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := w.Flush(ctx); err != nil {
		w.log.Errorw("Final flush failed", "error", err)
	}
}

// Stop ends the flush loop and waits for the final flush.
func (w *BatchWriter[T]) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	stop, done := w.stopCh, w.done
	w.mu.Unlock()

	close(stop)
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// BatchWriterStats is a snapshot of writer state.
type BatchWriterStats struct {
	Buffered     int
	Flushed      int64
	Failed       int64
	LastFlushAge time.Duration
	Running      bool
}

// Stats returns the current writer state.
func (w *BatchWriter[T]) Stats() BatchWriterStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return BatchWriterStats{
		Buffered:     len(w.buffer),
		Flushed:      w.flushed,
		Failed:       w.failed,
		LastFlushAge: time.Since(w.lastFlush),
		Running:      w.running,
	}
}
