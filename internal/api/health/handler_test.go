package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finanalyst/pkg/errors"
	"finanalyst/pkg/logger"
)

func ok(context.Context) error   { return nil }
func down(context.Context) error { return errors.ErrUnavailable }

func decode(t *testing.T, rec *httptest.ResponseRecorder) HealthStatus {
	t.Helper()
	var s HealthStatus
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&s))
	return s
}

func TestHandler(t *testing.T) {
	tests := []struct {
		name       string
		checks     map[string]CheckFunc
		healthCode int
		healthWant string
		readyCode  int
	}{
		{"no backends", nil, http.StatusOK, "healthy", http.StatusOK},
		{"all up", map[string]CheckFunc{"postgres": ok, "redis": ok}, http.StatusOK, "healthy", http.StatusOK},
		{"partial", map[string]CheckFunc{"postgres": ok, "redis": down}, http.StatusOK, "degraded", http.StatusServiceUnavailable},
		{"all down", map[string]CheckFunc{"redis": down}, http.StatusServiceUnavailable, "unhealthy", http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New(logger.Nop(), "finanalyst", "test")
			for name, c := range tt.checks {
				h.Register(name, c)
			}

			rec := httptest.NewRecorder()
			h.HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
			assert.Equal(t, tt.healthCode, rec.Code)
			s := decode(t, rec)
			assert.Equal(t, tt.healthWant, s.Status)
			assert.Len(t, s.Checks, len(tt.checks))

			rec = httptest.NewRecorder()
			h.HandleReadiness(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
			assert.Equal(t, tt.readyCode, rec.Code)
		})
	}
}

func TestHandleLiveness(t *testing.T) {
	rec := httptest.NewRecorder()
	New(logger.Nop(), "finanalyst", "test").HandleLiveness(rec, httptest.NewRequest(http.MethodGet, "/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"alive"}`, rec.Body.String())
}
