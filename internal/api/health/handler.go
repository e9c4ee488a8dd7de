package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"finanalyst/pkg/logger"
)

// CheckFunc pings one backend.
type CheckFunc func(ctx context.Context) error

// Handler serves the probe endpoints. Only configured backends are checked,
// so a deployment without Redis is not reported unhealthy for it.
type Handler struct {
	log         *logger.Logger
	checks      map[string]CheckFunc
	startTime   time.Time
	serviceName string
	version     string
}

// New creates a health handler.
func New(log *logger.Logger, serviceName, version string) *Handler {
	return &Handler{
		log:         log.With("component", "health"),
		checks:      make(map[string]CheckFunc),
		startTime:   time.Now(),
		serviceName: serviceName,
		version:     version,
	}
}

// Register adds a backend check. Call before serving.
func (h *Handler) Register(name string, check CheckFunc) {
	h.checks[name] = check
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status    string                     `json:"status"` // healthy, degraded, unhealthy
	Service   string                     `json:"service"`
	Version   string                     `json:"version"`
	Uptime    string                     `json:"uptime"`
	Timestamp string                     `json:"timestamp"`
	Checks    map[string]ComponentHealth `json:"checks"`
}

// ComponentHealth represents health of a single component
type ComponentHealth struct {
	Status       string `json:"status"`
	ResponseTime string `json:"response_time,omitempty"`
	Error        string `json:"error,omitempty"`
}

// HandleLiveness returns 200 while the process is up.
func (h *Handler) HandleLiveness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// HandleReadiness returns 503 unless every backend answers.
func (h *Handler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status, healthy := h.run(ctx)
	code := http.StatusOK
	if healthy < len(status.Checks) {
		status.Status = "unhealthy"
		code = http.StatusServiceUnavailable
		h.log.Warnw("Readiness check failed", "checks", status.Checks)
	}
	writeJSON(w, code, status)
}

// HandleHealth reports every backend; partial failure is degraded, not down.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	status, healthy := h.run(ctx)
	code := http.StatusOK
	switch total := len(status.Checks); {
	case total > 0 && healthy == 0:
		status.Status = "unhealthy"
		code = http.StatusServiceUnavailable
	case healthy < total:
		status.Status = "degraded"
	}
	writeJSON(w, code, status)
}

func (h *Handler) run(ctx context.Context) (HealthStatus, int) {
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := HealthStatus{
		Status:    "healthy",
		Service:   h.serviceName,
		Version:   h.version,
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    make(map[string]ComponentHealth, len(names)),
	}

	healthy := 0
	for _, name := range names {
		start := time.Now()
		err := h.checks[name](ctx)
		c := ComponentHealth{Status: "healthy", ResponseTime: time.Since(start).String()}
		if err != nil {
			c.Status = "unhealthy"
			c.Error = err.Error()
			h.log.Errorw("Health check failed", "backend", name, "error", err)
		} else {
			healthy++
		}
		status.Checks[name] = c
	}
	return status, healthy
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
