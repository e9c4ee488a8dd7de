package analysis

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finanalyst/internal/agents"
	"finanalyst/internal/crew"
	"finanalyst/internal/domain/analysis"
	"finanalyst/internal/domain/document"
	"finanalyst/internal/events"
	"finanalyst/pkg/errors"
	"finanalyst/pkg/logger"
)

type fakeCrew struct {
	calls int
	in    crew.Inputs
	opts  crew.RunOptions
	err   error
}

func (f *fakeCrew) Kickoff(_ context.Context, in crew.Inputs, opts crew.RunOptions) (*crew.Output, error) {
	f.calls++
	f.in, f.opts = in, opts
	if opts.Progress != nil {
		opts.Progress(crew.Event{RunID: opts.RunID, Kind: crew.EventTaskStarted, Task: "verification"})
	}
	if f.err != nil {
		return nil, f.err
	}
	return &crew.Output{
		RunID:  opts.RunID,
		Inputs: in,
		Raw:    "Risk is moderate.",
		Tasks: []crew.TaskOutput{
			{Key: agents.TaskVerification, Role: "Financial Document Verifier", Raw: "Valid report.", Summary: "Valid report."},
			{Key: agents.TaskRiskAssessment, Role: "Risk Assessment Specialist", Raw: "Risk is moderate.", Summary: "Risk is moderate."},
		},
		Usage: agents.UsageSummary{
			Calls: 2, PromptTokens: 300, CompletionTokens: 100, TotalTokens: 400,
			CostUSD: decimal.RequireFromString("0.000256"),
		},
		Duration: 3 * time.Second,
	}, nil
}

type memRepo struct {
	analysis.Repository

	mu      sync.Mutex
	runs    map[uuid.UUID]*analysis.Run
	outputs map[uuid.UUID][]*analysis.TaskOutput
}

func newMemRepo() *memRepo {
	return &memRepo{runs: map[uuid.UUID]*analysis.Run{}, outputs: map[uuid.UUID][]*analysis.TaskOutput{}}
}

func (m *memRepo) Create(_ context.Context, run *analysis.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *run
	m.runs[run.ID] = &cp
	return nil
}

func (m *memRepo) GetByID(_ context.Context, id uuid.UUID) (*analysis.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, errors.ErrNotFound
	}
	cp := *run
	return &cp, nil
}

func (m *memRepo) MarkRunning(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[id].Status = analysis.StatusRunning
	m.runs[id].StartedAt = &at
	return nil
}

func (m *memRepo) RecordDocument(_ context.Context, id uuid.UUID, sha string, readable bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[id].DocumentSHA256 = sha
	m.runs[id].DocumentReadable = &readable
	return nil
}

func (m *memRepo) Complete(_ context.Context, id uuid.UUID, final string, p, c int, cost decimal.Decimal, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.runs[id]
	r.Status, r.FinalOutput, r.PromptTokens, r.CompletionTokens, r.CostUSD, r.CompletedAt = analysis.StatusCompleted, final, p, c, cost, &at
	return nil
}

func (m *memRepo) Fail(_ context.Context, id uuid.UUID, reason string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.runs[id]
	r.Status, r.Error, r.CompletedAt = analysis.StatusFailed, reason, &at
	return nil
}

func (m *memRepo) SaveTaskOutput(_ context.Context, o *analysis.TaskOutput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outputs[o.RunID] = append(m.outputs[o.RunID], o)
	return nil
}

func (m *memRepo) GetTaskOutputs(_ context.Context, id uuid.UUID) ([]*analysis.TaskOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.outputs[id], nil
}

type fakePublisher struct {
	requested []events.AnalysisRequested
	completed []events.AnalysisCompleted
	err       error
}

func (f *fakePublisher) PublishAnalysisRequested(_ context.Context, e events.AnalysisRequested) error {
	if f.err != nil {
		return f.err
	}
	f.requested = append(f.requested, e)
	return nil
}

func (f *fakePublisher) PublishAnalysisCompleted(_ context.Context, e events.AnalysisCompleted) error {
	f.completed = append(f.completed, e)
	return nil
}

type fakeDocs struct{ err error }

func (f fakeDocs) Load(_ context.Context, path string) (*document.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &document.Document{SHA256: "sha-" + filepath.Base(path), Path: path, Text: "text"}, nil
}

type memStore struct{ data map[string][]byte }

func (m *memStore) Get(_ context.Context, key string, dest interface{}) error {
	b, ok := m.data[key]
	if !ok {
		return errors.ErrNotFound
	}
	return json.Unmarshal(b, dest)
}

func (m *memStore) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.data[key] = b
	return nil
}

type captureTracker struct {
	errs     []error
	tags     []map[string]string
	messages []string
}

func (c *captureTracker) CaptureError(_ context.Context, err error, tags map[string]string) error {
	c.errs = append(c.errs, err)
	c.tags = append(c.tags, tags)
	return nil
}

func (c *captureTracker) CaptureMessage(_ context.Context, msg string, _ errors.Level, _ map[string]string) error {
	c.messages = append(c.messages, msg)
	return nil
}

func (c *captureTracker) Flush(context.Context) error { return nil }

type fixture struct {
	crew *fakeCrew
	repo *memRepo
	pub  *fakePublisher
	svc  *Service
}

func newFixture(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()
	f := &fixture{crew: &fakeCrew{}, repo: newMemRepo(), pub: &fakePublisher{}}
	cfg := Config{
		Crew:       f.crew,
		Repository: f.repo,
		Documents:  fakeDocs{},
		Publisher:  f.pub,
		Log:        logger.Nop(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	svc, err := NewService(cfg)
	require.NoError(t, err)
	f.svc = svc
	return f
}

func TestNewService_RequiresCrew(t *testing.T) {
	_, err := NewService(Config{})
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))
}

func TestService_RunPersistsAndPublishes(t *testing.T) {
	f := newFixture(t, nil)

	var seen []crew.EventKind
	res, err := f.svc.Run(context.Background(), Request{
		Query:    "Assess risk",
		FilePath: "data/q2.pdf",
		UserID:   "api",
		Source:   analysis.SourceAPI,
		Progress: func(e crew.Event) { seen = append(seen, e.Kind) },
	})
	require.NoError(t, err)
	assert.Equal(t, "Risk is moderate.", res.Raw)
	assert.Equal(t, "sha-q2.pdf", res.DocumentSHA256)
	assert.False(t, res.Cached)
	assert.Equal(t, []crew.EventKind{crew.EventTaskStarted}, seen)

	run, outputs, err := f.svc.Get(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, analysis.StatusCompleted, run.Status)
	assert.Equal(t, "sha-q2.pdf", run.DocumentSHA256)
	require.NotNil(t, run.DocumentReadable)
	assert.True(t, *run.DocumentReadable)
	assert.Equal(t, 300, run.PromptTokens)
	require.Len(t, outputs, 2)
	assert.Equal(t, "verification", outputs[0].TaskKey)
	assert.Equal(t, 1, outputs[1].Position)

	require.Len(t, f.pub.completed, 1)
	done := f.pub.completed[0]
	assert.Equal(t, "completed", done.Status)
	assert.Equal(t, "0.000256", done.CostUSD)
	assert.Equal(t, 3*time.Second, done.Duration)
	assert.Equal(t, "api", done.UserID)
}

func TestService_RunDefaultsInputs(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.Run(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, crew.DefaultQuery, f.crew.in.Query)
	assert.Equal(t, crew.DefaultFilePath, f.crew.in.FilePath)
	assert.Equal(t, "cli", f.crew.opts.Source)
	assert.NotEqual(t, uuid.Nil, f.crew.opts.RunID)
}

func TestService_RunFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.crew.err = errors.Wrap(errors.ErrTimeout, "task verification")

	id := uuid.New()
	_, err := f.svc.Run(context.Background(), Request{RunID: id, Source: analysis.SourceWorker})
	require.Error(t, err)

	run, err := f.repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, analysis.StatusFailed, run.Status)
	assert.Contains(t, run.Error, "task verification")

	require.Len(t, f.pub.completed, 1)
	assert.Equal(t, "failed", f.pub.completed[0].Status)
}

func TestService_FailureCapture(t *testing.T) {
	tracker := &captureTracker{}
	f := newFixture(t, func(c *Config) { c.Tracker = tracker })

	f.crew.err = errors.Wrap(errors.ErrQuotaExceeded, "daily limit")
	_, err := f.svc.Run(context.Background(), Request{UserID: "tg:1"})
	require.Error(t, err)
	assert.Empty(t, tracker.errs, "spent budgets are not errors")
	assert.Equal(t, []string{"AI budget exhausted"}, tracker.messages)

	f.crew.err = errors.Wrap(errors.ErrExternal, "llm provider")
	_, err = f.svc.Run(context.Background(), Request{UserID: "tg:1", Source: analysis.SourceTelegram})
	require.Error(t, err)
	require.Len(t, tracker.errs, 1)
	assert.Equal(t, "tg:1", tracker.tags[0]["user_id"])
	assert.Equal(t, "telegram", tracker.tags[0]["source"])
}

func TestService_UnreadableDocumentStillRuns(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.Documents = fakeDocs{err: errors.ErrDocumentUnreadable} })

	res, err := f.svc.Run(context.Background(), Request{FilePath: "data/missing.pdf"})
	require.NoError(t, err)
	assert.Empty(t, res.DocumentSHA256)
	assert.Equal(t, 1, f.crew.calls)

	run, err := f.repo.GetByID(context.Background(), res.RunID)
	require.NoError(t, err)
	require.NotNil(t, run.DocumentReadable)
	assert.False(t, *run.DocumentReadable)
}

func TestService_RemovesUploadedFile(t *testing.T) {
	f := newFixture(t, nil)
	path := filepath.Join(t.TempDir(), "financial_document_x.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4"), 0o600))

	_, err := f.svc.Run(context.Background(), Request{FilePath: path, RemoveFile: true})
	require.NoError(t, err)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestService_ResumesEnqueuedRun(t *testing.T) {
	f := newFixture(t, nil)

	id, err := f.svc.Enqueue(context.Background(), Request{Query: "q", FilePath: "data/a.pdf", Source: analysis.SourceTelegram, UserID: "tg:1"})
	require.NoError(t, err)
	require.Len(t, f.pub.requested, 1)
	assert.Equal(t, "tg:1", f.pub.requested[0].UserID)

	run, _ := f.repo.GetByID(context.Background(), id)
	assert.Equal(t, analysis.StatusPending, run.Status)
	assert.Empty(t, run.DocumentSHA256)
	assert.Nil(t, run.DocumentReadable)

	_, err = f.svc.Run(context.Background(), Request{RunID: id, Query: "q", FilePath: "data/a.pdf", Source: analysis.SourceWorker})
	require.NoError(t, err)

	run, _ = f.repo.GetByID(context.Background(), id)
	assert.Equal(t, analysis.StatusCompleted, run.Status)
	assert.Equal(t, "sha-a.pdf", run.DocumentSHA256, "the worker fingerprints queued runs")
	require.NotNil(t, run.DocumentReadable)
	assert.True(t, *run.DocumentReadable)

	// A redelivered job for a finished run is refused.
	_, err = f.svc.Run(context.Background(), Request{RunID: id})
	assert.True(t, errors.Is(err, errors.ErrAlreadyExists))
	assert.Equal(t, 1, f.crew.calls)
}

func TestService_EnqueueUnavailable(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.Publisher = nil })
	_, err := f.svc.Enqueue(context.Background(), Request{})
	assert.True(t, errors.Is(err, errors.ErrUnavailable))
}

func TestService_EnqueuePublishFailureFailsRun(t *testing.T) {
	f := newFixture(t, nil)
	f.pub.err = errors.New("broker down")

	id := uuid.New()
	_, err := f.svc.Enqueue(context.Background(), Request{RunID: id})
	require.Error(t, err)

	run, _ := f.repo.GetByID(context.Background(), id)
	assert.Equal(t, analysis.StatusFailed, run.Status)
}

func TestService_ResultCache(t *testing.T) {
	store := &memStore{data: map[string][]byte{}}
	f := newFixture(t, func(c *Config) { c.Cache = NewResultCache(store, time.Hour) })
	ctx := context.Background()

	first, err := f.svc.Run(ctx, Request{Query: "q", FilePath: "data/a.pdf"})
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := f.svc.Run(ctx, Request{Query: "q", FilePath: "data/a.pdf"})
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, 1, f.crew.calls)
	assert.Equal(t, first.Raw, second.Raw)
	assert.NotEqual(t, first.RunID, second.RunID)
	assert.True(t, second.Usage.CostUSD.IsZero())

	_, err = f.svc.Run(ctx, Request{Query: "another question", FilePath: "data/a.pdf"})
	require.NoError(t, err)
	assert.Equal(t, 2, f.crew.calls)
}

func TestService_WithoutRepository(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.Repository = nil })

	_, err := f.svc.Run(context.Background(), Request{})
	require.NoError(t, err)
	assert.False(t, f.svc.Persistent())

	_, _, err = f.svc.Get(context.Background(), uuid.New())
	assert.True(t, errors.Is(err, errors.ErrUnavailable))
}

func TestNewResultCache_Disabled(t *testing.T) {
	assert.Nil(t, NewResultCache(&memStore{}, 0))
	assert.Nil(t, NewResultCache(nil, time.Hour))

	var c *ResultCache
	assert.Nil(t, c.Get(context.Background(), "sha", "q", nil))
}
