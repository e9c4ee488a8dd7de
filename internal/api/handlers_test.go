package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finanalyst/internal/agents"
	"finanalyst/internal/api/health"
	"finanalyst/internal/crew"
	"finanalyst/internal/domain/analysis"
	analysissvc "finanalyst/internal/services/analysis"
	"finanalyst/pkg/errors"
	"finanalyst/pkg/logger"
)

type fakeAnalyzer struct {
	req      analysissvc.Request
	fileSeen bool
	runErr   error
	runs     map[uuid.UUID]*analysis.Run
	hub      *analysissvc.ProgressHub
}

func newFakeAnalyzer() *fakeAnalyzer {
	return &fakeAnalyzer{runs: map[uuid.UUID]*analysis.Run{}, hub: analysissvc.NewProgressHub()}
}

func (f *fakeAnalyzer) Run(_ context.Context, req analysissvc.Request) (*analysissvc.Result, error) {
	f.req = req
	_, err := os.Stat(req.FilePath)
	f.fileSeen = err == nil
	if f.runErr != nil {
		return nil, f.runErr
	}
	return &analysissvc.Result{Output: &crew.Output{
		RunID:  uuid.New(),
		Inputs: crew.Inputs{Query: req.Query, FilePath: req.FilePath},
		Raw:    "Moderate risk.",
	}}, nil
}

func (f *fakeAnalyzer) Enqueue(_ context.Context, req analysissvc.Request) (uuid.UUID, error) {
	f.req = req
	return uuid.New(), nil
}

func (f *fakeAnalyzer) Get(_ context.Context, id uuid.UUID) (*analysis.Run, []*analysis.TaskOutput, error) {
	run, ok := f.runs[id]
	if !ok {
		return nil, nil, errors.Wrapf(errors.ErrNotFound, "analysis %s", id)
	}
	return run, []*analysis.TaskOutput{{RunID: id, TaskKey: "verification", AgentRole: "Verifier", RawOutput: "Valid."}}, nil
}

func (f *fakeAnalyzer) List(context.Context, int, int) ([]*analysis.Run, error) {
	return nil, errors.Wrap(errors.ErrUnavailable, "analysis history needs postgres")
}

func (f *fakeAnalyzer) Progress() *analysissvc.ProgressHub { return f.hub }

func newTestServer(t *testing.T, a *fakeAnalyzer) (*httptest.Server, string) {
	t.Helper()
	defs, err := agents.DefaultDefinitions()
	require.NoError(t, err)

	dir := t.TempDir()
	h := NewHandler(HandlerConfig{Analyzer: a, Definitions: defs, UploadDir: dir, MaxUploadMB: 1, Log: logger.Nop()})
	srv := NewServer(ServerConfig{ServiceName: "finanalyst", Version: "test"}, health.New(logger.Nop(), "finanalyst", "test"), h, logger.Nop())

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, dir
}

func multipartBody(t *testing.T, fields map[string]string, file []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if file != nil {
		fw, err := mw.CreateFormFile("file", "report.pdf")
		require.NoError(t, err)
		_, err = fw.Write(file)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func post(t *testing.T, url string, fields map[string]string, file []byte) *http.Response {
	t.Helper()
	body, ctype := multipartBody(t, fields, file)
	resp, err := http.Post(url+"/api/v1/analyze", ctype, body)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeResponse(t *testing.T, resp *http.Response) APIResponse {
	t.Helper()
	var out APIResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestAnalyze_Sync(t *testing.T) {
	a := newFakeAnalyzer()
	ts, dir := newTestServer(t, a)

	resp := post(t, ts.URL, map[string]string{"query": "Is debt rising?", "tasks": "verification, risk_assessment"}, []byte("%PDF-1.7 body"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decodeResponse(t, resp)
	assert.True(t, out.Success)

	assert.True(t, a.fileSeen, "upload saved before the run")
	assert.True(t, strings.HasPrefix(a.req.FilePath, dir))
	assert.Contains(t, a.req.FilePath, UploadPrefix)
	assert.True(t, a.req.RemoveFile)
	assert.Equal(t, "Is debt rising?", a.req.Query)
	assert.Equal(t, analysis.SourceAPI, a.req.Source)
	assert.Equal(t, []agents.TaskKey{agents.TaskVerification, agents.TaskRiskAssessment}, a.req.Tasks)
}

func TestAnalyze_Async(t *testing.T) {
	a := newFakeAnalyzer()
	ts, _ := newTestServer(t, a)

	resp := post(t, ts.URL, map[string]string{"async": "true"}, []byte("%PDF-1.4"))
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	data := decodeResponse(t, resp).Data.(map[string]interface{})
	assert.Equal(t, "pending", data["status"])
	assert.NotEmpty(t, data["run_id"])
}

func TestAnalyze_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]string
		file   []byte
	}{
		{"missing file", map[string]string{"query": "q"}, nil},
		{"not a pdf", nil, []byte("hello world")},
		{"unknown task", map[string]string{"tasks": "forecast"}, []byte("%PDF-1.4")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newFakeAnalyzer()
			ts, _ := newTestServer(t, a)

			resp := post(t, ts.URL, tt.fields, tt.file)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.False(t, decodeResponse(t, resp).Success)
			assert.Empty(t, a.req.FilePath, "crew not started")
		})
	}
}

func TestAnalyze_RunErrorStatus(t *testing.T) {
	a := newFakeAnalyzer()
	a.runErr = errors.Wrap(errors.ErrQuotaExceeded, "daily budget")
	ts, _ := newTestServer(t, a)

	resp := post(t, ts.URL, nil, []byte("%PDF-1.4"))
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestGetAnalysis(t *testing.T) {
	a := newFakeAnalyzer()
	id := uuid.New()
	a.runs[id] = &analysis.Run{ID: id, Query: "q", FilePath: "data/sample.pdf", Status: analysis.StatusCompleted}
	ts, _ := newTestServer(t, a)

	resp, err := http.Get(ts.URL + "/api/v1/analyses/" + id.String())
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data := decodeResponse(t, resp).Data.(map[string]interface{})
	assert.Equal(t, "completed", data["status"])
	assert.Len(t, data["tasks"], 1)

	resp, err = http.Get(ts.URL + "/api/v1/analyses/" + id.String() + "?format=html")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/html; charset=utf-8", resp.Header.Get("Content-Type"))

	resp, err = http.Get(ts.URL + "/api/v1/analyses/" + uuid.NewString())
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/api/v1/analyses/not-a-uuid")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListAnalyses_Unavailable(t *testing.T) {
	ts, _ := newTestServer(t, newFakeAnalyzer())

	resp, err := http.Get(ts.URL + "/api/v1/analyses")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestAgents(t *testing.T) {
	ts, _ := newTestServer(t, newFakeAnalyzer())

	resp, err := http.Get(ts.URL + "/api/v1/agents")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Data agents.Definitions `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Len(t, out.Data.Tasks, 4)
}

func TestStream(t *testing.T) {
	a := newFakeAnalyzer()
	ts, _ := newTestServer(t, a)
	id := uuid.New()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/analyses/" + id.String() + "/stream"

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err, "run not active")
	if resp != nil {
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		resp.Body.Close()
	}

	a.hub.Start(id)
	a.hub.Publish(crew.Event{RunID: id, Kind: crew.EventRunStarted})

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	var e crew.Event
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.ReadJSON(&e))
	assert.Equal(t, crew.EventRunStarted, e.Kind)

	a.hub.Publish(crew.Event{RunID: id, Kind: crew.EventRunCompleted, Output: "done"})
	require.NoError(t, conn.ReadJSON(&e))
	assert.Equal(t, "done", e.Output)

	a.hub.Close(id)
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{errors.Wrap(errors.ErrInvalidInput, "x"), http.StatusBadRequest},
		{errors.NewValidationError("query", "too long", nil), http.StatusBadRequest},
		{errors.Wrap(errors.ErrNotFound, "x"), http.StatusNotFound},
		{errors.Wrap(errors.ErrAlreadyExists, "x"), http.StatusConflict},
		{errors.Wrap(errors.ErrTimeout, "x"), http.StatusGatewayTimeout},
		{errors.Wrap(errors.ErrUnavailable, "x"), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusCode(tt.err), tt.err.Error())
	}
}
