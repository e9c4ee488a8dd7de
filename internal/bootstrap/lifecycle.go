package bootstrap

import (
	"context"
	"strconv"
	"sync"
	"time"

	chclient "finanalyst/internal/adapters/clickhouse"
	"finanalyst/internal/adapters/kafka"
	pgclient "finanalyst/internal/adapters/postgres"
	redisclient "finanalyst/internal/adapters/redis"
	"finanalyst/internal/adapters/telegram"
	"finanalyst/internal/api"
	chrepo "finanalyst/internal/repository/clickhouse"
	"finanalyst/internal/workers"
	"finanalyst/pkg/errors"
	"finanalyst/pkg/logger"
)

// Components lists what Shutdown tears down. Any field may be nil.
type Components struct {
	WG              *sync.WaitGroup
	HTTPServer      *api.Server
	TelegramBot     *telegram.Bot
	WorkerScheduler *workers.Scheduler
	Consumers       map[string]*kafka.Consumer
	KafkaProducer   *kafka.Producer
	ToolUsage       *chrepo.ToolUsageWriter
	PG              *pgclient.Client
	CH              *chclient.Client
	Redis           *redisclient.Client
	ErrorTracker    errors.Tracker
}

// Lifecycle manages graceful shutdown of components
type Lifecycle struct {
	shutdownTimeout time.Duration
	// A queued analysis in flight gets this long to finish.
	drainTimeout time.Duration
}

// NewLifecycle creates a new lifecycle manager
func NewLifecycle() *Lifecycle {
	return &Lifecycle{
		shutdownTimeout: 2 * time.Minute,
		drainTimeout:    90 * time.Second,
	}
}

// Shutdown performs coordinated cleanup in this order:
//  1. stop accepting requests and chat updates
//  2. stop workers
//  3. close Kafka consumers, then wait for their goroutines
//  4. close the producer after the consumers that publish through it
//  5. flush tool usage, errors and logs
//  6. close databases last, since everything above may still use them
func (l *Lifecycle) Shutdown(c Components, log *logger.Logger) {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), l.shutdownTimeout)
	defer shutdownCancel()

	log.Info("[1/7] Stopping HTTP server and Telegram bot...")
	if c.HTTPServer != nil {
		httpCtx, httpCancel := context.WithTimeout(shutdownCtx, 15*time.Second)
		if err := c.HTTPServer.Shutdown(httpCtx); err != nil {
			log.Errorw("HTTP server shutdown failed", "error", err)
		}
		httpCancel()
	}
	if c.TelegramBot != nil {
		c.TelegramBot.Stop()
	}

	log.Info("[2/7] Stopping background workers...")
	if c.WorkerScheduler != nil && c.WorkerScheduler.IsRunning() {
		if err := c.WorkerScheduler.Stop(); err != nil {
			log.Errorw("Workers shutdown failed", "error", err)
		} else {
			log.Info("✓ Workers stopped")
		}
	}

	// Consumers finish the message in hand before they return, so wait
	// for goroutines before closing readers under them.
	log.Info("[3/7] Waiting for consumers...")
	if c.WG != nil {
		l.waitForGoroutines(c.WG, l.drainTimeout, log)
	}
	l.closeKafkaConsumers(c.Consumers, log)

	log.Info("[4/7] Closing Kafka producer...")
	if c.KafkaProducer != nil {
		if err := c.KafkaProducer.Close(); err != nil {
			log.Errorw("Kafka producer close failed", "error", err)
		} else {
			log.Info("✓ Kafka producer closed")
		}
	}

	log.Info("[5/7] Flushing tool usage...")
	if c.ToolUsage != nil {
		if err := c.ToolUsage.Stop(shutdownCtx); err != nil {
			log.Errorw("Tool usage flush failed", "error", err)
		}
	}

	log.Info("[6/7] Flushing error tracker and logs...")
	l.flushErrorTracker(shutdownCtx, c.ErrorTracker, log)
	_ = logger.Sync()

	log.Info("[7/7] Closing database connections...")
	l.closeDatabases(c.PG, c.CH, c.Redis, log)

	log.Info("✅ Graceful shutdown complete")
}

func (l *Lifecycle) closeKafkaConsumers(consumers map[string]*kafka.Consumer, log *logger.Logger) {
	for name, consumer := range consumers {
		if consumer == nil {
			continue
		}
		if err := consumer.Close(); err != nil {
			log.Errorw("Kafka consumer close failed", "consumer", name, "error", err)
		}
	}
}

// waitForGoroutines waits for all goroutines with a timeout
func (l *Lifecycle) waitForGoroutines(wg *sync.WaitGroup, timeout time.Duration, log *logger.Logger) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("✓ All goroutines finished")
	case <-time.After(timeout):
		log.Warnw("⚠ Some goroutines did not finish within timeout", "timeout", timeout)
	}
}

func (l *Lifecycle) flushErrorTracker(ctx context.Context, tracker errors.Tracker, log *logger.Logger) {
	if tracker == nil {
		return
	}

	flushCtx, flushCancel := context.WithTimeout(ctx, 3*time.Second)
	defer flushCancel()

	if err := tracker.Flush(flushCtx); err != nil {
		log.Warnw("Error tracker flush failed", "error", err)
	}
}

func (l *Lifecycle) closeDatabases(pg *pgclient.Client, ch *chclient.Client, rdb *redisclient.Client, log *logger.Logger) {
	var errs errors.MultiError

	if pg != nil {
		errs.Add(errors.Wrap(pg.Close(), "postgres"))
	}
	if ch != nil {
		errs.Add(errors.Wrap(ch.Close(), "clickhouse"))
	}
	if rdb != nil {
		errs.Add(errors.Wrap(rdb.Close(), "redis"))
	}

	if errs.HasErrors() {
		log.Errorw("Database close errors", "error", errs.ToError())
	} else {
		log.Info("✓ Database connections closed")
	}
}

func itoa(i int) string { return strconv.Itoa(i) }
