package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"finanalyst/internal/agents"
	"finanalyst/internal/domain/analysis"
	"finanalyst/internal/domain/stats"
	"finanalyst/internal/report"
	analysissvc "finanalyst/internal/services/analysis"
	"finanalyst/internal/workers"
	"finanalyst/pkg/errors"
	"finanalyst/pkg/logger"
)

// UploadPrefix names every saved upload; the janitor matches on it.
const UploadPrefix = workers.UploadPrefix

// Analyzer is the analysis service as seen by the HTTP layer.
type Analyzer interface {
	Run(ctx context.Context, req analysissvc.Request) (*analysissvc.Result, error)
	Enqueue(ctx context.Context, req analysissvc.Request) (uuid.UUID, error)
	Get(ctx context.Context, id uuid.UUID) (*analysis.Run, []*analysis.TaskOutput, error)
	List(ctx context.Context, limit, offset int) ([]*analysis.Run, error)
	Progress() *analysissvc.ProgressHub
}

// ToolStats reads tool usage analytics.
type ToolStats interface {
	RunEvents(ctx context.Context, runID uuid.UUID) ([]stats.ToolUsageEvent, error)
	Usage(ctx context.Context, f stats.UsageFilter) ([]stats.ToolUsageAggregated, error)
}

// HandlerConfig wires a Handler. Stats may be nil.
type HandlerConfig struct {
	Analyzer    Analyzer
	Stats       ToolStats
	Definitions *agents.Definitions
	UploadDir   string
	MaxUploadMB int64
	Log         *logger.Logger
}

// Handler serves the /api/v1 routes.
type Handler struct {
	analyzer  Analyzer
	stats     ToolStats
	defs      *agents.Definitions
	uploadDir string
	maxUpload int64
	validate  *validator.Validate
	log       *logger.Logger
}

// NewHandler creates the API handler.
func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.MaxUploadMB <= 0 {
		cfg.MaxUploadMB = 32
	}
	if cfg.UploadDir == "" {
		cfg.UploadDir = "data"
	}
	if cfg.Log == nil {
		cfg.Log = logger.Get()
	}
	return &Handler{
		analyzer:  cfg.Analyzer,
		stats:     cfg.Stats,
		defs:      cfg.Definitions,
		uploadDir: cfg.UploadDir,
		maxUpload: cfg.MaxUploadMB << 20,
		validate:  validator.New(),
		log:       cfg.Log.With("component", "api"),
	}
}

// Routes mounts the handler on r.
func (h *Handler) Routes(r *mux.Router) {
	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/analyze", h.handleAnalyze).Methods(http.MethodPost)
	api.HandleFunc("/analyses", h.handleList).Methods(http.MethodGet)
	api.HandleFunc("/analyses/{id}", h.handleGet).Methods(http.MethodGet)
	api.HandleFunc("/analyses/{id}/stream", h.handleStream).Methods(http.MethodGet)
	api.HandleFunc("/analyses/{id}/tools", h.handleRunTools).Methods(http.MethodGet)
	api.HandleFunc("/stats/tools", h.handleToolStats).Methods(http.MethodGet)
	api.HandleFunc("/agents", h.handleAgents).Methods(http.MethodGet)
}

type analyzeForm struct {
	Query string   `validate:"max=4000"`
	Tasks []string `validate:"dive,required"`
	Async bool
}

// APIResponse is the envelope of every JSON answer.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func (h *Handler) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		h.writeError(w, errors.Wrapf(errors.ErrInvalidInput, "multipart form: %v", err))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	form := analyzeForm{
		Query: strings.TrimSpace(r.FormValue("query")),
		Tasks: splitList(r.FormValue("tasks")),
	}
	form.Async, _ = strconv.ParseBool(r.FormValue("async"))
	if err := h.validate.Struct(form); err != nil {
		h.writeError(w, errors.Wrapf(errors.ErrInvalidInput, "%v", err))
		return
	}

	tasks, err := h.taskKeys(form.Tasks)
	if err != nil {
		h.writeError(w, err)
		return
	}

	path, err := h.saveUpload(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	req := analysissvc.Request{
		Query:      form.Query,
		FilePath:   path,
		UserID:     "api",
		Source:     analysis.SourceAPI,
		Tasks:      tasks,
		RemoveFile: true,
	}

	if form.Async {
		id, err := h.analyzer.Enqueue(r.Context(), req)
		if err != nil {
			_ = os.Remove(path)
			h.writeError(w, err)
			return
		}
		h.writeJSON(w, http.StatusAccepted, APIResponse{Success: true, Data: map[string]string{
			"run_id": id.String(),
			"status": string(analysis.StatusPending),
		}})
		return
	}

	res, err := h.analyzer.Run(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: res})
}

// saveUpload stores the "file" part under a fresh name after checking it is a PDF.
func (h *Handler) saveUpload(r *http.Request) (string, error) {
	file, header, err := r.FormFile("file")
	if err != nil {
		return "", errors.Wrap(errors.ErrInvalidInput, "a PDF must be uploaded in the file field")
	}
	defer file.Close()

	magic := make([]byte, 5)
	if _, err := io.ReadFull(file, magic); err != nil || !bytes.Equal(magic, []byte("%PDF-")) {
		return "", errors.Wrapf(errors.ErrUnsupportedFormat, "%s is not a PDF", header.Filename)
	}

	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		return "", errors.Wrap(err, "create upload dir")
	}
	path := filepath.Join(h.uploadDir, UploadPrefix+uuid.NewString()+".pdf")

	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", errors.Wrap(err, "create upload")
	}
	_, err = io.Copy(out, io.MultiReader(bytes.NewReader(magic), file))
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(path)
		return "", errors.Wrap(err, "save upload")
	}

	h.log.Debugw("Upload saved", "name", header.Filename, "path", path, "size", header.Size)
	return path, nil
}

func (h *Handler) taskKeys(names []string) ([]agents.TaskKey, error) {
	keys := make([]agents.TaskKey, 0, len(names))
	for _, n := range names {
		key := agents.TaskKey(n)
		if h.defs != nil {
			if _, ok := h.defs.Task(key); !ok {
				return nil, errors.NewValidationError("tasks", "unknown task", n)
			}
		}
		keys = append(keys, key)
	}
	return keys, nil
}

type runView struct {
	*analysis.Run
	Outputs []*analysis.TaskOutput `json:"tasks"`
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, errors.Wrap(errors.ErrInvalidInput, "invalid run id"))
		return
	}

	run, outputs, err := h.analyzer.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if r.URL.Query().Get("format") == "html" {
		page, err := report.HTML(report.FromRun(run, outputs))
		if err != nil {
			h.writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(page)
		return
	}

	h.writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: runView{Run: run, Outputs: outputs}})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	runs, err := h.analyzer.List(r.Context(), limit, offset)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: runs})
}

type runToolsView struct {
	Summary []stats.ToolSummary    `json:"summary"`
	Events  []stats.ToolUsageEvent `json:"events"`
}

func (h *Handler) handleRunTools(w http.ResponseWriter, r *http.Request) {
	if h.stats == nil {
		h.writeError(w, errors.Wrap(errors.ErrUnavailable, "tool analytics need ClickHouse"))
		return
	}
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, errors.Wrap(errors.ErrInvalidInput, "invalid run id"))
		return
	}

	events, err := h.stats.RunEvents(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: runToolsView{
		Summary: stats.Summarize(events),
		Events:  events,
	}})
}

func (h *Handler) handleToolStats(w http.ResponseWriter, r *http.Request) {
	if h.stats == nil {
		h.writeError(w, errors.Wrap(errors.ErrUnavailable, "tool analytics need ClickHouse"))
		return
	}

	q := r.URL.Query()
	window := 24 * time.Hour
	if raw := q.Get("since"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			h.writeError(w, errors.NewValidationError("since", "must be a positive duration", raw))
			return
		}
		window = d
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	usage, err := h.stats.Usage(r.Context(), stats.UsageFilter{
		Agent: q.Get("agent"),
		Tool:  q.Get("tool"),
		Since: time.Now().Add(-window).Truncate(time.Hour),
		Limit: limit,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: usage})
}

func (h *Handler) handleAgents(w http.ResponseWriter, _ *http.Request) {
	if h.defs == nil {
		h.writeError(w, errors.Wrap(errors.ErrUnavailable, "crew definitions not loaded"))
		return
	}
	h.writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: h.defs})
}

func (h *Handler) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Warnw("Failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	code := StatusCode(err)
	if code >= http.StatusInternalServerError {
		h.log.Errorw("Request failed", "status", code, "error", err)
	}
	h.writeJSON(w, code, APIResponse{Error: err.Error()})
}

// StatusCode maps domain errors to HTTP status codes.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, errors.ErrInvalidInput),
		errors.Is(err, errors.ErrUnsupportedFormat),
		errors.Is(err, errors.ErrDocumentUnreadable),
		errors.Is(err, errors.ErrDocumentEmpty),
		errors.Is(err, errors.ErrMissingInput):
		return http.StatusBadRequest
	case errors.Is(err, errors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errors.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, errors.ErrQuotaExceeded),
		errors.Is(err, errors.ErrExecutionLimitExceeded),
		errors.Is(err, errors.ErrRateLimitExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, errors.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, errors.ErrUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
