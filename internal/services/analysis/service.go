package analysis

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"

	"finanalyst/internal/agents"
	"finanalyst/internal/crew"
	"finanalyst/internal/domain/analysis"
	"finanalyst/internal/domain/document"
	"finanalyst/internal/events"
	"finanalyst/pkg/errors"
	"finanalyst/pkg/logger"
)

// Crew runs the agents over one document.
type Crew interface {
	Kickoff(ctx context.Context, in crew.Inputs, opts crew.RunOptions) (*crew.Output, error)
}

// Documents parses financial documents.
type Documents interface {
	Load(ctx context.Context, path string) (*document.Document, error)
}

// EventPublisher announces runs on the event bus.
type EventPublisher interface {
	PublishAnalysisRequested(ctx context.Context, e events.AnalysisRequested) error
	PublishAnalysisCompleted(ctx context.Context, e events.AnalysisCompleted) error
}

// Config wires a Service. Only Crew is required.
type Config struct {
	Crew       Crew
	Repository analysis.Repository
	Documents  Documents
	Publisher  EventPublisher
	Cache      *ResultCache
	Progress   *ProgressHub
	Tracker    errors.Tracker
	Log        *logger.Logger
}

// Service runs analyses and keeps their record: run rows, task outputs,
// completion events and live progress.
type Service struct {
	crew      Crew
	repo      analysis.Repository
	docs      Documents
	publisher EventPublisher
	cache     *ResultCache
	progress  *ProgressHub
	tracker   errors.Tracker
	log       *logger.Logger
	now       func() time.Time
}

// NewService creates the analysis service
func NewService(cfg Config) (*Service, error) {
	if cfg.Crew == nil {
		return nil, errors.Wrap(errors.ErrInvalidInput, "crew is required")
	}
	if cfg.Progress == nil {
		cfg.Progress = NewProgressHub()
	}
	if cfg.Log == nil {
		cfg.Log = logger.Get()
	}
	return &Service{
		crew:      cfg.Crew,
		repo:      cfg.Repository,
		docs:      cfg.Documents,
		publisher: cfg.Publisher,
		cache:     cfg.Cache,
		progress:  cfg.Progress,
		tracker:   cfg.Tracker,
		log:       cfg.Log.With("component", "analysis_service"),
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// Request describes one analysis.
type Request struct {
	RunID    uuid.UUID
	Query    string
	FilePath string
	UserID   string
	Source   analysis.Source
	Tasks    []agents.TaskKey
	// RemoveFile deletes FilePath when the run ends, for uploads.
	RemoveFile bool
	Progress   crew.ProgressFunc
}

// Result is a finished analysis.
type Result struct {
	*crew.Output
	DocumentSHA256 string `json:"document_sha256,omitempty"`
	Cached         bool   `json:"cached"`
}

// Persistent reports whether runs are stored.
func (s *Service) Persistent() bool { return s.repo != nil }

// Queued reports whether Enqueue is available.
func (s *Service) Queued() bool { return s.publisher != nil && s.repo != nil }

// Progress returns the live progress hub.
func (s *Service) Progress() *ProgressHub { return s.progress }

// Run executes an analysis synchronously.
func (s *Service) Run(ctx context.Context, req Request) (res *Result, err error) {
	in := crew.Inputs{Query: req.Query, FilePath: req.FilePath}.WithDefaults()
	if req.RunID == uuid.Nil {
		req.RunID = uuid.New()
	}
	if req.Source == "" {
		req.Source = analysis.SourceCLI
	}
	log := s.log.With("run_id", req.RunID, "source", req.Source)

	if req.RemoveFile {
		defer func() {
			if rmErr := os.Remove(in.FilePath); rmErr != nil && !os.IsNotExist(rmErr) {
				log.Warnw("Failed to remove uploaded document", "path", in.FilePath, "error", rmErr)
			}
		}()
	}

	s.progress.Start(req.RunID)
	defer s.progress.Close(req.RunID)

	sha, readable := s.inspect(ctx, in.FilePath, log)

	if err := s.begin(ctx, req, in, sha, readable); err != nil {
		return nil, err
	}

	// Bookkeeping after this point must survive a cancelled request.
	bg := context.WithoutCancel(ctx)

	if cached := s.cache.Get(ctx, sha, in.Query, req.Tasks); cached != nil {
		log.Infow("Serving cached analysis", "document", sha)
		cached.RunID = req.RunID
		cached.StartedAt = s.now()
		cached.Usage = agents.UsageSummary{}
		res = &Result{Output: cached, DocumentSHA256: sha, Cached: true}
		s.emit(req, crew.Event{RunID: req.RunID, Kind: crew.EventRunCompleted, Output: cached.Raw, Timestamp: s.now()})
		s.finish(bg, req, res, nil)
		return res, nil
	}

	out, err := s.crew.Kickoff(ctx, in, crew.RunOptions{
		RunID:    req.RunID,
		UserID:   req.UserID,
		Source:   string(req.Source),
		Tasks:    req.Tasks,
		Progress: func(e crew.Event) { s.emit(req, e) },
	})
	if err != nil {
		s.finish(bg, req, nil, err)
		return nil, err
	}

	res = &Result{Output: out, DocumentSHA256: sha}
	s.cache.Set(bg, sha, in.Query, req.Tasks, out)
	s.finish(bg, req, res, nil)
	return res, nil
}

// Enqueue stores a pending run and hands it to the worker through Kafka.
func (s *Service) Enqueue(ctx context.Context, req Request) (uuid.UUID, error) {
	if !s.Queued() {
		return uuid.Nil, errors.Wrap(errors.ErrUnavailable, "async analysis needs postgres and kafka")
	}

	in := crew.Inputs{Query: req.Query, FilePath: req.FilePath}.WithDefaults()
	if req.RunID == uuid.Nil {
		req.RunID = uuid.New()
	}

	run := &analysis.Run{
		ID:       req.RunID,
		Query:    in.Query,
		FilePath: in.FilePath,
		Source:   req.Source,
		Status:   analysis.StatusPending,
	}
	if err := s.repo.Create(ctx, run); err != nil {
		return uuid.Nil, errors.Wrap(err, "create run")
	}

	tasks := make([]string, len(req.Tasks))
	for i, t := range req.Tasks {
		tasks[i] = t.String()
	}

	err := s.publisher.PublishAnalysisRequested(ctx, events.AnalysisRequested{
		RunID:      req.RunID,
		Query:      in.Query,
		FilePath:   in.FilePath,
		UserID:     req.UserID,
		Source:     string(req.Source),
		Tasks:      tasks,
		RemoveFile: req.RemoveFile,
	})
	if err != nil {
		if failErr := s.repo.Fail(context.WithoutCancel(ctx), req.RunID, "enqueue: "+err.Error(), s.now()); failErr != nil {
			s.log.Errorw("Failed to mark unqueued run as failed", "run_id", req.RunID, "error", failErr)
		}
		return uuid.Nil, errors.Wrap(err, "enqueue analysis")
	}

	s.log.Infow("Analysis enqueued", "run_id", req.RunID, "source", req.Source)
	return req.RunID, nil
}

// Get returns a stored run with its task outputs.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*analysis.Run, []*analysis.TaskOutput, error) {
	if s.repo == nil {
		return nil, nil, errors.Wrap(errors.ErrUnavailable, "analysis history needs postgres")
	}
	run, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	outputs, err := s.repo.GetTaskOutputs(ctx, id)
	if err != nil {
		return nil, nil, errors.Wrap(err, "load task outputs")
	}
	return run, outputs, nil
}

// List returns stored runs, newest first.
func (s *Service) List(ctx context.Context, limit, offset int) ([]*analysis.Run, error) {
	if s.repo == nil {
		return nil, errors.Wrap(errors.ErrUnavailable, "analysis history needs postgres")
	}
	return s.repo.List(ctx, limit, offset)
}

// inspect parses the document to fingerprint it. An unreadable document does
// not stop the run: the read tool reports the error to the agents. readable
// is nil when no document service is wired.
func (s *Service) inspect(ctx context.Context, path string, log *logger.Logger) (string, *bool) {
	if s.docs == nil {
		return "", nil
	}
	doc, err := s.docs.Load(ctx, path)
	if err != nil {
		log.Warnw("Document unreadable, agents will see the read error", "path", path, "error", err)
		readable := false
		return "", &readable
	}
	readable := true
	return doc.SHA256, &readable
}

// begin creates or resumes the run row, records the document check and marks
// the run running.
func (s *Service) begin(ctx context.Context, req Request, in crew.Inputs, sha string, readable *bool) error {
	if s.repo == nil {
		return nil
	}

	run, err := s.repo.GetByID(ctx, req.RunID)
	switch {
	case errors.Is(err, errors.ErrNotFound):
		run = &analysis.Run{
			ID:               req.RunID,
			Query:            in.Query,
			FilePath:         in.FilePath,
			DocumentSHA256:   sha,
			DocumentReadable: readable,
			Source:           req.Source,
			Status:           analysis.StatusPending,
		}
		if err := s.repo.Create(ctx, run); err != nil {
			return errors.Wrap(err, "create run")
		}
	case err != nil:
		return errors.Wrap(err, "load run")
	case run.Status.Terminal():
		return errors.Wrapf(errors.ErrAlreadyExists, "run %s already %s", run.ID, run.Status)
	case readable != nil:
		// Enqueued rows are created before anyone has looked at the document.
		if err := s.repo.RecordDocument(ctx, req.RunID, sha, *readable); err != nil {
			return errors.Wrap(err, "record document")
		}
	}

	if run.Status == analysis.StatusPending {
		if err := s.repo.MarkRunning(ctx, req.RunID, s.now()); err != nil {
			return errors.Wrap(err, "mark run running")
		}
	}
	return nil
}

func (s *Service) emit(req Request, e crew.Event) {
	s.progress.Publish(e)
	if req.Progress != nil {
		req.Progress(e)
	}
}

// finish records the outcome. Failures here are logged, never returned: the
// analysis itself already succeeded or failed.
func (s *Service) finish(ctx context.Context, req Request, res *Result, runErr error) {
	completed := events.AnalysisCompleted{
		RunID:  req.RunID,
		UserID: req.UserID,
		Source: string(req.Source),
	}

	if runErr != nil {
		completed.Status = string(analysis.StatusFailed)
		completed.Error = runErr.Error()
		if s.repo != nil {
			if err := s.repo.Fail(ctx, req.RunID, runErr.Error(), s.now()); err != nil {
				s.log.Errorw("Failed to record run failure", "run_id", req.RunID, "error", err)
			}
		}
		s.capture(ctx, req, runErr)
	} else {
		out := res.Output
		completed.Status = string(analysis.StatusCompleted)
		completed.FinalOutput = out.Raw
		completed.PromptTokens = out.Usage.PromptTokens
		completed.CompletionTokens = out.Usage.CompletionTokens
		completed.CostUSD = out.Usage.CostUSD.StringFixed(6)
		completed.Duration = out.Duration
		if s.repo != nil {
			s.persist(ctx, req.RunID, out)
		}
	}

	if s.publisher != nil {
		if err := s.publisher.PublishAnalysisCompleted(ctx, completed); err != nil {
			s.log.Errorw("Failed to publish completion", "run_id", req.RunID, "error", err)
		}
	}
}

// capture reports unexpected failures. Spent budgets become warnings; bad
// input is not reported at all.
func (s *Service) capture(ctx context.Context, req Request, err error) {
	if s.tracker == nil {
		return
	}
	if errors.Is(err, errors.ErrQuotaExceeded) || errors.Is(err, errors.ErrExecutionLimitExceeded) {
		_ = s.tracker.CaptureMessage(ctx, "AI budget exhausted", errors.LevelWarning, map[string]string{
			"source":  string(req.Source),
			"user_id": req.UserID,
		})
		return
	}
	for _, expected := range []error{
		errors.ErrInvalidInput,
		errors.ErrDocumentUnreadable,
		errors.ErrDocumentEmpty,
		errors.ErrUnsupportedFormat,
		context.Canceled,
	} {
		if errors.Is(err, expected) {
			return
		}
	}
	tags := map[string]string{
		"run_id":  req.RunID.String(),
		"source":  string(req.Source),
		"user_id": req.UserID,
	}
	if task, ok := errors.FailedTask(err); ok {
		tags["task"] = task
	}
	_ = s.tracker.CaptureError(ctx, err, tags)
}

func (s *Service) persist(ctx context.Context, runID uuid.UUID, out *crew.Output) {
	for i, t := range out.Tasks {
		err := s.repo.SaveTaskOutput(ctx, &analysis.TaskOutput{
			RunID:     runID,
			TaskKey:   t.Key.String(),
			AgentRole: t.Role,
			RawOutput: t.Raw,
			Summary:   t.Summary,
			Position:  i,
		})
		if err != nil {
			s.log.Errorw("Failed to save task output", "run_id", runID, "task", t.Key, "error", err)
		}
	}

	err := s.repo.Complete(ctx, runID, out.Raw,
		int(out.Usage.PromptTokens), int(out.Usage.CompletionTokens), out.Usage.CostUSD, s.now())
	if err != nil {
		s.log.Errorw("Failed to record run completion", "run_id", runID, "error", err)
	}
}
