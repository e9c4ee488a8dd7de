package agents

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"finanalyst/pkg/errors"
	"finanalyst/pkg/logger"
)

// CostGuard stops crews that overspend. The per-run cap is checked before
// every model call; the daily cap per requester before a run starts.
type CostGuard struct {
	perRun   decimal.Decimal
	perDay   decimal.Decimal
	spending CostCache
	log      *logger.Logger
}

// CostCache keeps each requester's spending for the current day.
type CostCache interface {
	GetDailySpending(ctx context.Context, userID string) (decimal.Decimal, error)
	IncrementSpending(ctx context.Context, userID string, amount decimal.Decimal, ttl time.Duration) error
}

// dailyWarnRatio is the share of the daily cap after which runs are logged.
var dailyWarnRatio = decimal.RequireFromString("0.8")

// NewCostGuard disables a cap that is zero. Without a cache the daily cap is
// off as well.
func NewCostGuard(perRun, perDay decimal.Decimal, cache CostCache) *CostGuard {
	return &CostGuard{
		perRun:   perRun,
		perDay:   perDay,
		spending: cache,
		log:      logger.Get().With("component", "cost_guard"),
	}
}

// Check fails once the run on ctx has spent its budget.
func (cg *CostGuard) Check(ctx context.Context) error {
	if !cg.perRun.IsPositive() {
		return nil
	}
	usage := RunUsageFromContext(ctx)
	if usage == nil {
		return nil
	}

	spent := usage.Cost()
	if spent.LessThan(cg.perRun) {
		return nil
	}
	cg.log.Warnw("Run cost limit reached",
		"spent_usd", spent.StringFixed(4),
		"limit_usd", cg.perRun.StringFixed(4),
		"calls", usage.Summary().Calls)
	return errors.Wrapf(errors.ErrExecutionLimitExceeded, "run spent $%s of $%s",
		spent.StringFixed(4), cg.perRun.StringFixed(4))
}

func (cg *CostGuard) dailyEnabled() bool {
	return cg.spending != nil && cg.perDay.IsPositive()
}

// CheckDailyLimit fails when userID has used up today's budget. A cache
// outage lets the run through.
func (cg *CostGuard) CheckDailyLimit(ctx context.Context, userID string) error {
	if !cg.dailyEnabled() {
		return nil
	}

	spent, err := cg.spending.GetDailySpending(ctx, userID)
	if err != nil {
		cg.log.Errorw("Daily spending unavailable, allowing run", "user_id", userID, "error", err)
		return nil
	}

	switch {
	case spent.GreaterThanOrEqual(cg.perDay):
		cg.log.Warnw("Daily cost limit reached",
			"user_id", userID,
			"spent_usd", spent.StringFixed(2),
			"limit_usd", cg.perDay.StringFixed(2))
		return errors.Wrapf(errors.ErrQuotaExceeded, "daily AI budget used: $%s of $%s",
			spent.StringFixed(2), cg.perDay.StringFixed(2))
	case spent.GreaterThanOrEqual(cg.perDay.Mul(dailyWarnRatio)):
		cg.log.Warnw("Daily cost limit approaching",
			"user_id", userID,
			"spent_usd", spent.StringFixed(2),
			"limit_usd", cg.perDay.StringFixed(2))
	}
	return nil
}

// RecordRun adds a finished run's cost to the requester's day.
func (cg *CostGuard) RecordRun(ctx context.Context, userID string, cost decimal.Decimal) {
	if !cg.dailyEnabled() || !cost.IsPositive() {
		return
	}
	if err := cg.spending.IncrementSpending(ctx, userID, cost, 24*time.Hour); err != nil {
		cg.log.Errorw("Failed to record daily spending", "user_id", userID, "error", err)
	}
}

// RemainingDailyBudget never returns a negative amount.
func (cg *CostGuard) RemainingDailyBudget(ctx context.Context, userID string) (decimal.Decimal, error) {
	if !cg.dailyEnabled() {
		return decimal.Zero, errors.Wrap(errors.ErrUnavailable, "daily budget is not configured")
	}

	spent, err := cg.spending.GetDailySpending(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.Max(cg.perDay.Sub(spent), decimal.Zero), nil
}

// RedisCostCache stores daily spending as a float counter per requester.
type RedisCostCache struct {
	redis *redis.Client
}

func NewRedisCostCache(client *redis.Client) *RedisCostCache {
	return &RedisCostCache{redis: client}
}

func dailyKey(userID string) string {
	return fmt.Sprintf("finanalyst:cost:daily:%s", userID)
}

func (rc *RedisCostCache) GetDailySpending(ctx context.Context, userID string) (decimal.Decimal, error) {
	val, err := rc.redis.Get(ctx, dailyKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "get daily spending")
	}

	spending, err := decimal.NewFromString(val)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "parse spending %q", val)
	}
	return spending, nil
}

// IncrementSpending starts the expiry with the first increment of the day.
func (rc *RedisCostCache) IncrementSpending(ctx context.Context, userID string, amount decimal.Decimal, ttl time.Duration) error {
	key := dailyKey(userID)

	if err := rc.redis.IncrByFloat(ctx, key, amount.InexactFloat64()).Err(); err != nil {
		return errors.Wrap(err, "increment spending")
	}

	if err := rc.redis.ExpireNX(ctx, key, ttl).Err(); err != nil {
		return errors.Wrap(err, "expire spending")
	}
	return nil
}
