package consumers

import (
	"context"
	"sync"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"finanalyst/internal/adapters/kafka"
	"finanalyst/internal/agents"
	"finanalyst/internal/domain/analysis"
	"finanalyst/internal/events"
	analysissvc "finanalyst/internal/services/analysis"
	"finanalyst/pkg/errors"
	"finanalyst/pkg/logger"
)

// MessageSource delivers Kafka messages to a handler until ctx ends.
// *kafka.Consumer satisfies it.
type MessageSource interface {
	Consume(ctx context.Context, handler kafka.MessageHandler) error
	Close() error
}

// Runner executes one analysis.
type Runner interface {
	Run(ctx context.Context, req analysissvc.Request) (*analysissvc.Result, error)
}

// AnalysisConsumer runs queued analyses. Each source is a reader in the same
// consumer group, so partitions spread across them and every source handles
// one job at a time.
type AnalysisConsumer struct {
	sources []MessageSource
	runner  Runner
	timeout time.Duration
	log     *logger.Logger
}

// NewAnalysisConsumer creates the job consumer. timeout bounds a single run;
// zero leaves it to the crew.
func NewAnalysisConsumer(sources []MessageSource, runner Runner, timeout time.Duration, log *logger.Logger) *AnalysisConsumer {
	return &AnalysisConsumer{
		sources: sources,
		runner:  runner,
		timeout: timeout,
		log:     log.With("component", "analysis_consumer"),
	}
}

// Start blocks until ctx is cancelled and every source has drained.
func (c *AnalysisConsumer) Start(ctx context.Context) error {
	c.log.Infow("Starting analysis consumer", "readers", len(c.sources))

	var wg sync.WaitGroup
	for i, src := range c.sources {
		wg.Add(1)
		go func(i int, src MessageSource) {
			defer wg.Done()
			defer func() {
				if err := src.Close(); err != nil {
					c.log.Errorw("Failed to close reader", "reader", i, "error", err)
				}
			}()
			if err := src.Consume(ctx, c.Handle); err != nil && ctx.Err() == nil {
				c.log.Errorw("Reader stopped", "reader", i, "error", err)
			}
		}(i, src)
	}
	wg.Wait()

	c.log.Info("Analysis consumer stopped")
	return nil
}

// Handle runs the analysis described by msg. Redelivered jobs for finished
// runs are acknowledged without running again.
func (c *AnalysisConsumer) Handle(ctx context.Context, msg kafkago.Message) error {
	job, err := events.DecodeAnalysisRequested(msg)
	if err != nil {
		return errors.Wrap(err, "decode analysis job")
	}

	log := c.log.With("run_id", job.RunID, "user_id", job.UserID)
	log.Infow("Analysis job received", "file", job.FilePath, "tasks", job.Tasks)

	tasks := make([]agents.TaskKey, len(job.Tasks))
	for i, t := range job.Tasks {
		tasks[i] = agents.TaskKey(t)
	}

	// A shutdown must not abandon a run halfway; the timeout still applies.
	runCtx := context.WithoutCancel(ctx)
	if c.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, c.timeout)
		defer cancel()
	}

	res, err := c.runner.Run(runCtx, analysissvc.Request{
		RunID:      job.RunID,
		Query:      job.Query,
		FilePath:   job.FilePath,
		UserID:     job.UserID,
		Source:     analysis.SourceWorker,
		Tasks:      tasks,
		RemoveFile: job.RemoveFile,
	})
	switch {
	case errors.Is(err, errors.ErrAlreadyExists):
		log.Infow("Skipping finished run")
		return nil
	case err != nil:
		// The run is already recorded as failed; retrying would pay twice.
		log.Errorw("Analysis failed", "error", err)
		return nil
	}

	log.Infow("Analysis completed",
		"cached", res.Cached,
		"cost_usd", res.Usage.CostUSD.StringFixed(6),
		"duration", res.Duration,
	)
	return nil
}
