package workers

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finanalyst/pkg/errors"
)

type fakeStaleRuns struct {
	before time.Time
	reason string
	ids    []uuid.UUID
	err    error
}

func (f *fakeStaleRuns) FailStale(_ context.Context, before time.Time, reason string) ([]uuid.UUID, error) {
	f.before, f.reason = before, reason
	return f.ids, f.err
}

func TestRunReaper_Run(t *testing.T) {
	runs := &fakeStaleRuns{ids: []uuid.UUID{uuid.New()}}
	r := NewRunReaper(runs, 2*time.Hour, time.Minute)
	now := time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	require.True(t, r.Enabled())
	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, now.Add(-2*time.Hour), runs.before)
	assert.Contains(t, runs.reason, "2h0m0s")
}

func TestRunReaper_PropagatesErrors(t *testing.T) {
	r := NewRunReaper(&fakeStaleRuns{err: errors.ErrUnavailable}, time.Hour, time.Minute)
	assert.True(t, errors.Is(r.Run(context.Background()), errors.ErrUnavailable))
}

func TestRunReaper_DisabledWithoutStore(t *testing.T) {
	assert.False(t, NewRunReaper(nil, time.Hour, time.Minute).Enabled())
}
