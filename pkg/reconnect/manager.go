// Package reconnect paces retries against a flaky dependency with
// exponential backoff and a circuit breaker.
package reconnect

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"finanalyst/pkg/errors"
	"finanalyst/pkg/logger"
)

// ErrCircuitOpen is returned while the breaker refuses attempts.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Config configures the reconnect manager
type Config struct {
	MinBackoff        time.Duration // first wait, e.g. 1s
	MaxBackoff        time.Duration // cap, e.g. 1m
	BackoffMultiplier float64
	// MaxRetries consecutive failures open the circuit. Zero never opens it.
	MaxRetries        int
	CircuitResetAfter time.Duration
	// Jitter is the fraction of the backoff added at random, 0..1.
	Jitter float64
}

// Manager tracks consecutive failures of one connection. Safe for
// concurrent use.
type Manager struct {
	cfg Config

	mu                  sync.Mutex
	currentBackoff      time.Duration
	consecutiveFailures int
	totalFailures       int
	circuitOpenedAt     time.Time

	now    func() time.Time
	logger *logger.Logger
}

// NewManager creates a manager, filling unset fields with defaults.
func NewManager(cfg Config, log *logger.Logger) *Manager {
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = time.Second
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = time.Minute
		if cfg.MaxBackoff < cfg.MinBackoff {
			cfg.MaxBackoff = cfg.MinBackoff
		}
	}
	if cfg.BackoffMultiplier < 1 {
		cfg.BackoffMultiplier = 2.0
	}
	if cfg.CircuitResetAfter <= 0 {
		cfg.CircuitResetAfter = 5 * time.Minute
	}
	if cfg.Jitter < 0 || cfg.Jitter > 1 {
		cfg.Jitter = 0
	}
	if log == nil {
		log = logger.Get()
	}

	return &Manager{
		cfg:            cfg,
		currentBackoff: cfg.MinBackoff,
		now:            time.Now,
		logger:         log,
	}
}

// ShouldRetry reports whether the circuit lets another attempt through. An
// open circuit half-opens once CircuitResetAfter has passed.
func (m *Manager) ShouldRetry() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allowLocked()
}

func (m *Manager) allowLocked() bool {
	if m.circuitOpenedAt.IsZero() {
		return true
	}
	return m.now().Sub(m.circuitOpenedAt) >= m.cfg.CircuitResetAfter
}

// Backoff returns the wait before the next attempt, with jitter applied.
func (m *Manager) Backoff() time.Duration {
	m.mu.Lock()
	d := m.currentBackoff
	m.mu.Unlock()
	return CalculateJitter(d, m.cfg.Jitter)
}

// RecordFailure grows the backoff and opens the circuit after MaxRetries
// consecutive failures.
func (m *Manager) RecordFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.consecutiveFailures++
	m.totalFailures++

	next := time.Duration(float64(m.currentBackoff) * m.cfg.BackoffMultiplier)
	if next > m.cfg.MaxBackoff {
		next = m.cfg.MaxBackoff
	}
	m.currentBackoff = next

	if m.cfg.MaxRetries > 0 && m.consecutiveFailures >= m.cfg.MaxRetries {
		if m.circuitOpenedAt.IsZero() {
			m.logger.Errorw("Circuit breaker opened",
				"consecutive_failures", m.consecutiveFailures,
				"reset_after", m.cfg.CircuitResetAfter,
			)
		}
		// A failed half-open probe restarts the wait.
		m.circuitOpenedAt = m.now()
	}
}

// RecordSuccess resets backoff and closes the circuit.
func (m *Manager) RecordSuccess() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.consecutiveFailures > 0 {
		m.logger.Infow("Connection restored", "after_failures", m.consecutiveFailures)
	}
	m.currentBackoff = m.cfg.MinBackoff
	m.consecutiveFailures = 0
	m.circuitOpenedAt = time.Time{}
}

// Stats contains reconnection statistics
type Stats struct {
	ConsecutiveFailures int
	TotalFailures       int
	CurrentBackoff      time.Duration
	CircuitOpen         bool
}

// GetStats returns a snapshot of the manager state.
func (m *Manager) GetStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		ConsecutiveFailures: m.consecutiveFailures,
		TotalFailures:       m.totalFailures,
		CurrentBackoff:      m.currentBackoff,
		CircuitOpen:         !m.circuitOpenedAt.IsZero(),
	}
}

// Wait sleeps for the current backoff, or until the circuit half-opens when
// it is open. It returns ctx.Err() if ctx ends first.
func (m *Manager) Wait(ctx context.Context) error {
	m.mu.Lock()
	wait := m.currentBackoff
	if !m.circuitOpenedAt.IsZero() {
		if rest := m.cfg.CircuitResetAfter - m.now().Sub(m.circuitOpenedAt); rest > wait {
			wait = rest
		}
	}
	m.mu.Unlock()

	timer := time.NewTimer(CalculateJitter(wait, m.cfg.Jitter))
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReconnectWithBackoff makes one attempt if the circuit allows it, waiting
// the current backoff first.
func (m *Manager) ReconnectWithBackoff(ctx context.Context, reconnectFn func(context.Context) error) error {
	if !m.ShouldRetry() {
		return ErrCircuitOpen
	}

	if err := m.Wait(ctx); err != nil {
		return err
	}

	if err := reconnectFn(ctx); err != nil {
		m.RecordFailure()
		return errors.Wrap(err, "reconnection failed")
	}

	m.RecordSuccess()
	return nil
}

// CalculateJitter adds up to jitterPercent of duration at random.
func CalculateJitter(duration time.Duration, jitterPercent float64) time.Duration {
	if jitterPercent <= 0 || jitterPercent > 1 || duration <= 0 {
		return duration
	}
	return duration + time.Duration(rand.Float64()*jitterPercent*float64(duration))
}
