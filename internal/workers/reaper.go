package workers

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// StaleRuns fails runs that stopped making progress.
type StaleRuns interface {
	FailStale(ctx context.Context, before time.Time, reason string) ([]uuid.UUID, error)
}

// RunReaper marks runs abandoned by a dead process as failed, so clients
// polling them get an answer.
type RunReaper struct {
	*BaseWorker
	runs  StaleRuns
	after time.Duration
	now   func() time.Time
}

// NewRunReaper creates the reaper. Runs unfinished for longer than after are failed.
func NewRunReaper(runs StaleRuns, after, interval time.Duration) *RunReaper {
	return &RunReaper{
		BaseWorker: NewBaseWorker("run_reaper", interval, runs != nil && after > 0),
		runs:       runs,
		after:      after,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Run fails every stale run.
func (r *RunReaper) Run(ctx context.Context) error {
	ids, err := r.runs.FailStale(ctx, r.now().Add(-r.after), "abandoned: no progress for "+r.after.String())
	if err != nil {
		return err
	}
	if len(ids) > 0 {
		r.Log().Warnw("Failed stale analysis runs", "count", len(ids), "run_ids", ids)
	}
	return nil
}
