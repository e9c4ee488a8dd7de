package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	"finanalyst/internal/metrics"
	"finanalyst/pkg/logger"
	"finanalyst/pkg/reconnect"
)

// Consumer reads one topic as a member of a consumer group.
type Consumer struct {
	reader  *kafka.Reader
	topic   string
	backoff *reconnect.Manager
	log     *logger.Logger
}

type ConsumerConfig struct {
	Brokers []string
	GroupID string
	Topic   string
}

// maxEventBytes bounds one fetch. Events are small JSON documents.
const maxEventBytes = 1 << 20

func NewConsumer(cfg ConsumerConfig) *Consumer {
	log := logger.Get().With("component", "kafka_consumer", "topic", cfg.Topic)

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		Topic:       cfg.Topic,
		MinBytes:    1,
		MaxBytes:    maxEventBytes,
		MaxWait:     time.Second,
		// A new group starts with requests queued before it existed.
		StartOffset: kafka.FirstOffset,
	})

	log.Infow("Kafka consumer created", "brokers", cfg.Brokers, "group_id", cfg.GroupID)

	return &Consumer{
		reader: reader,
		topic:  cfg.Topic,
		backoff: reconnect.NewManager(reconnect.Config{
			MinBackoff: 500 * time.Millisecond,
			MaxBackoff: 30 * time.Second,
			Jitter:     0.2,
		}, log),
		log: log,
	}
}

type MessageHandler func(ctx context.Context, msg kafka.Message) error

// Consume reads messages until ctx is cancelled. Messages are fetched and
// committed only after the handler returns, so a crash mid-run redelivers
// the job. Handler errors are logged and the message is committed anyway.
func (c *Consumer) Consume(ctx context.Context, handler MessageHandler) error {
	c.log.Info("Consumer started")

	for {
		msg, err := c.fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.log.Info("Consumer stopped")
				return ctx.Err()
			}
			c.backoff.RecordFailure()
			c.log.Errorw("Failed to read message", "error", err, "retry_in", c.backoff.Backoff())
			if err := c.backoff.Wait(ctx); err != nil {
				c.log.Info("Consumer stopped")
				return err
			}
			continue
		}
		c.backoff.RecordSuccess()

		c.log.Debugw("Received message", "key", string(msg.Key), "offset", msg.Offset)

		err = handler(ctx, msg)
		metrics.RecordKafkaMessage(c.topic, "consume", err)
		if err != nil {
			c.log.Errorw("Failed to handle message", "key", string(msg.Key), "error", err)
		}

		if err := c.reader.CommitMessages(context.WithoutCancel(ctx), msg); err != nil {
			c.log.Errorw("Failed to commit message", "offset", msg.Offset, "error", err)
		}
	}
}

// fetch checks for shutdown before blocking on the next message.
func (c *Consumer) fetch(ctx context.Context) (kafka.Message, error) {
	select {
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	default:
	}

	msg, err := c.reader.FetchMessage(ctx)
	if err != nil && ctx.Err() != nil {
		return kafka.Message{}, ctx.Err()
	}
	return msg, err
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
