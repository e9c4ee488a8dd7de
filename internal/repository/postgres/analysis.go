package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"finanalyst/internal/domain/analysis"
	"finanalyst/internal/metrics"
	"finanalyst/pkg/errors"
)

// Compile-time check
var _ analysis.Repository = (*AnalysisRepository)(nil)

const runColumns = `
	id, query, file_path, document_sha256, document_readable, source, status, final_output, error,
	prompt_tokens, completion_tokens, cost_usd, created_at, started_at, completed_at`

// AnalysisRepository implements analysis.Repository using sqlx
type AnalysisRepository struct {
	db DBTX
}

// NewAnalysisRepository creates a new analysis repository
func NewAnalysisRepository(db DBTX) *AnalysisRepository {
	return &AnalysisRepository{db: db}
}

// observe records query latency; call as defer observe(op)(&err).
func observe(op string) func(*error) {
	start := time.Now()
	return func(err *error) {
		metrics.RecordDBQuery("postgres", op, time.Since(start), *err)
	}
}

// Create inserts a new run. Zero ID and CreatedAt are filled in.
func (r *AnalysisRepository) Create(ctx context.Context, run *analysis.Run) (err error) {
	defer observe("analysis_create")(&err)

	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = analysis.StatusPending
	}
	if !run.Status.Valid() {
		return errors.Wrapf(errors.ErrInvalidInput, "status %q", run.Status)
	}

	query := `
		INSERT INTO analysis_runs (` + runColumns + `)
		VALUES (
			:id, :query, :file_path, :document_sha256, :document_readable, :source, :status, :final_output, :error,
			:prompt_tokens, :completion_tokens, :cost_usd, :created_at, :started_at, :completed_at
		)`

	_, err = r.db.NamedExecContext(ctx, query, run)
	return err
}

// GetByID retrieves a run by ID
func (r *AnalysisRepository) GetByID(ctx context.Context, id uuid.UUID) (_ *analysis.Run, err error) {
	defer observe("analysis_get")(&err)

	var run analysis.Run
	err = r.db.GetContext(ctx, &run, `SELECT `+runColumns+` FROM analysis_runs WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(errors.ErrNotFound, "analysis %s", id)
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// List returns runs newest first
func (r *AnalysisRepository) List(ctx context.Context, limit, offset int) ([]*analysis.Run, error) {
	if limit <= 0 {
		limit = 20
	}

	var runs []*analysis.Run
	query := `
		SELECT ` + runColumns + `
		FROM analysis_runs
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`

	err := r.db.SelectContext(ctx, &runs, query, limit, offset)
	return runs, err
}

// MarkRunning moves a pending run to running
func (r *AnalysisRepository) MarkRunning(ctx context.Context, id uuid.UUID, startedAt time.Time) error {
	query := `
		UPDATE analysis_runs
		SET status = 'running', started_at = $2
		WHERE id = $1 AND status = 'pending'`

	return r.transition(ctx, id, query, id, startedAt)
}

// RecordDocument stores what inspecting the document found. Terminal runs
// are left untouched.
func (r *AnalysisRepository) RecordDocument(ctx context.Context, id uuid.UUID, sha256 string, readable bool) error {
	query := `
		UPDATE analysis_runs
		SET document_sha256 = $2, document_readable = $3
		WHERE id = $1 AND status IN ('pending', 'running')`

	return r.transition(ctx, id, query, id, sha256, readable)
}

// Complete stores the final output and usage of a run
func (r *AnalysisRepository) Complete(ctx context.Context, id uuid.UUID, finalOutput string, promptTokens, completionTokens int, cost decimal.Decimal, completedAt time.Time) error {
	query := `
		UPDATE analysis_runs
		SET status = 'completed',
		    final_output = $2,
		    prompt_tokens = $3,
		    completion_tokens = $4,
		    cost_usd = $5,
		    completed_at = $6,
		    started_at = COALESCE(started_at, $6)
		WHERE id = $1 AND status IN ('pending', 'running')`

	return r.transition(ctx, id, query, id, finalOutput, promptTokens, completionTokens, cost, completedAt)
}

// Fail records the failure reason of a run
func (r *AnalysisRepository) Fail(ctx context.Context, id uuid.UUID, reason string, completedAt time.Time) error {
	query := `
		UPDATE analysis_runs
		SET status = 'failed',
		    error = $2,
		    completed_at = $3,
		    started_at = COALESCE(started_at, $3)
		WHERE id = $1 AND status IN ('pending', 'running')`

	return r.transition(ctx, id, query, id, reason, completedAt)
}

// FailStale fails runs that have not finished since before: running ones by
// start time, pending ones by creation time. It returns the affected IDs.
func (r *AnalysisRepository) FailStale(ctx context.Context, before time.Time, reason string) (ids []uuid.UUID, err error) {
	defer observe("analysis_fail_stale")(&err)

	query := `
		UPDATE analysis_runs
		SET status = 'failed',
		    error = $2,
		    completed_at = NOW(),
		    started_at = COALESCE(started_at, NOW())
		WHERE (status = 'running' AND started_at < $1)
		   OR (status = 'pending' AND created_at < $1)
		RETURNING id`

	err = r.db.SelectContext(ctx, &ids, query, before, reason)
	return ids, err
}

// transition runs a guarded status update. Zero affected rows means the run
// is missing or already terminal.
func (r *AnalysisRepository) transition(ctx context.Context, id uuid.UUID, query string, args ...interface{}) (err error) {
	defer observe("analysis_transition")(&err)

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.Wrapf(errors.ErrNotFound, "analysis %s in a non-terminal state", id)
	}
	return nil
}

// SaveTaskOutput upserts the output of one task
func (r *AnalysisRepository) SaveTaskOutput(ctx context.Context, out *analysis.TaskOutput) (err error) {
	defer observe("task_output_save")(&err)

	if out.ID == uuid.Nil {
		out.ID = uuid.New()
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO task_outputs (id, run_id, task_key, agent_role, raw_output, summary, position, created_at)
		VALUES (:id, :run_id, :task_key, :agent_role, :raw_output, :summary, :position, :created_at)
		ON CONFLICT (run_id, task_key) DO UPDATE SET
			agent_role = EXCLUDED.agent_role,
			raw_output = EXCLUDED.raw_output,
			summary = EXCLUDED.summary,
			position = EXCLUDED.position`

	_, err = r.db.NamedExecContext(ctx, query, out)
	return err
}

// GetTaskOutputs returns task outputs in execution order
func (r *AnalysisRepository) GetTaskOutputs(ctx context.Context, runID uuid.UUID) ([]*analysis.TaskOutput, error) {
	var outputs []*analysis.TaskOutput

	query := `
		SELECT id, run_id, task_key, agent_role, raw_output, summary, position, created_at
		FROM task_outputs
		WHERE run_id = $1
		ORDER BY position ASC`

	err := r.db.SelectContext(ctx, &outputs, query, runID)
	return outputs, err
}
