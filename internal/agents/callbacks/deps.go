package callbacks

import (
	"context"

	"golang.org/x/time/rate"

	"finanalyst/pkg/logger"
)

// UsageSink receives token usage reported by model responses and returns
// the cost of the call in USD.
type UsageSink interface {
	Record(ctx context.Context, agent string, promptTokens, completionTokens int64) float64
}

// BudgetGuard rejects model calls once the current run has spent its budget.
type BudgetGuard interface {
	Check(ctx context.Context) error
}

// Deps contains dependencies for creating the callbacks of one agent instance.
type Deps struct {
	Agent   string // agent key used for metrics and limiter lookups
	Model   string
	MaxIter int
	Limiter *rate.Limiter // nil disables max_rpm
	Verbose bool

	Usage  UsageSink
	Budget BudgetGuard
	Log    *logger.Logger
}

func (d Deps) logger() *logger.Logger {
	if d.Log != nil {
		return d.Log
	}
	return logger.Get()
}

// logf logs at info for verbose agents and at debug otherwise.
func (d Deps) logf(log *logger.Logger, template string, args ...interface{}) {
	if d.Verbose {
		log.Infof(template, args...)
		return
	}
	log.Debugf(template, args...)
}
