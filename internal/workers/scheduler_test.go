package workers

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finanalyst/pkg/errors"
	"finanalyst/pkg/logger"
)

type countingWorker struct {
	*BaseWorker
	runs atomic.Int32
	run  func(ctx context.Context) error
}

func newCountingWorker(name string, interval time.Duration, enabled bool) *countingWorker {
	return &countingWorker{BaseWorker: NewBaseWorker(name, interval, enabled)}
}

func (w *countingWorker) Run(ctx context.Context) error {
	w.runs.Add(1)
	if w.run != nil {
		return w.run(ctx)
	}
	return nil
}

func startScheduler(t *testing.T, ctx context.Context, ws ...Worker) *Scheduler {
	t.Helper()
	s := NewScheduler(logger.Nop())
	for _, w := range ws {
		s.RegisterWorker(w)
	}
	require.NoError(t, s.Start(ctx))
	return s
}

func TestScheduler_RunsImmediatelyThenOnInterval(t *testing.T) {
	w := newCountingWorker("upload_janitor", 50*time.Millisecond, true)
	s := startScheduler(t, context.Background(), w)
	assert.True(t, s.IsRunning())

	require.Eventually(t, func() bool { return w.runs.Load() >= 3 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())
}

func TestScheduler_SkipsDisabledWorkers(t *testing.T) {
	on := newCountingWorker("run_reaper", 50*time.Millisecond, true)
	off := newCountingWorker("upload_janitor", 50*time.Millisecond, false)
	s := startScheduler(t, context.Background(), on, off)

	require.Eventually(t, func() bool { return on.runs.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, s.Stop())
	assert.Zero(t, off.runs.Load())
}

func TestScheduler_StopWaitsForRunInFlight(t *testing.T) {
	started := make(chan struct{})
	var finished atomic.Bool

	w := newCountingWorker("slow", time.Hour, true)
	w.run = func(context.Context) error {
		close(started)
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
		return nil
	}
	s := startScheduler(t, context.Background(), w)

	<-started
	require.NoError(t, s.Stop())
	assert.True(t, finished.Load())
}

func TestScheduler_ParentCancellationStopsWorkers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	w := newCountingWorker("reaper", 20*time.Millisecond, true)
	s := startScheduler(t, ctx, w)

	require.Eventually(t, func() bool { return w.runs.Load() >= 1 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, s.Stop())

	after := w.runs.Load()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, after, w.runs.Load())
}

func TestScheduler_StartTwice(t *testing.T) {
	s := startScheduler(t, context.Background(), newCountingWorker("janitor", time.Hour, true))
	assert.Error(t, s.Start(context.Background()))
	require.NoError(t, s.Stop())
}

func TestScheduler_StopWithoutStart(t *testing.T) {
	assert.Error(t, NewScheduler(logger.Nop()).Stop())
}

func TestScheduler_RecordsHealth(t *testing.T) {
	ok := newCountingWorker("ok-worker", time.Hour, true)
	boom := newCountingWorker("panicking-worker", time.Hour, true)
	boom.run = func(context.Context) error { panic("boom") }

	s := startScheduler(t, context.Background(), ok, boom)
	require.Eventually(t, func() bool {
		return ok.Health().RunCount == 1 && boom.Health().RunCount == 1
	}, time.Second, 10*time.Millisecond)
	require.NoError(t, s.Stop())

	assert.Zero(t, ok.Health().ErrorCount)
	h := boom.Health()
	assert.Equal(t, int64(1), h.ErrorCount)
	require.Error(t, h.LastError)
	assert.Contains(t, h.LastError.Error(), "panic: boom")

	err := s.Check(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicking-worker")
	assert.True(t, errors.Is(err, errors.ErrInternal))
}

func TestScheduler_CheckHealthy(t *testing.T) {
	w := newCountingWorker("janitor", time.Hour, true)
	s := startScheduler(t, context.Background(), w)
	require.Eventually(t, func() bool { return w.Health().RunCount == 1 }, time.Second, 10*time.Millisecond)
	require.NoError(t, s.Stop())

	assert.NoError(t, s.Check(context.Background()))
}
