package kafka

import (
	"context"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"finanalyst/internal/metrics"
	"finanalyst/pkg/errors"
	"finanalyst/pkg/logger"
)

// Producer publishes run events. One writer is opened lazily per topic.
type Producer struct {
	mu      sync.Mutex
	writers map[string]*kafka.Writer
	brokers []string
	timeout time.Duration
	log     *logger.Logger
}

type ProducerConfig struct {
	Brokers []string
	// WriteTimeout defaults to 10s.
	WriteTimeout time.Duration
}

func NewProducer(cfg ProducerConfig) *Producer {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return &Producer{
		writers: make(map[string]*kafka.Writer),
		brokers: cfg.Brokers,
		timeout: cfg.WriteTimeout,
		log:     logger.Get().With("component", "kafka_producer"),
	}
}

func (p *Producer) writer(topic string) *kafka.Writer {
	p.mu.Lock()
	defer p.mu.Unlock()

	if w, ok := p.writers[topic]; ok {
		return w
	}

	w := &kafka.Writer{
		Addr:                   kafka.TCP(p.brokers...),
		Topic:                  topic,
		// Keyed by run id, so one run's events stay ordered on one partition.
		Balancer:               &kafka.Hash{},
		WriteTimeout:           p.timeout,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}

	p.writers[topic] = w
	return w
}

// PublishBinary writes one encoded event and blocks until all replicas ack.
func (p *Producer) PublishBinary(ctx context.Context, topic string, key, value []byte, headers ...kafka.Header) error {
	msg := kafka.Message{
		Key:     key,
		Value:   value,
		Headers: headers,
		Time:    time.Now(),
	}

	err := p.writer(topic).WriteMessages(ctx, msg)
	metrics.RecordKafkaMessage(topic, "produce", err)
	if err != nil {
		p.log.Errorw("Failed to publish", "topic", topic, "error", err)
		return errors.Wrapf(err, "publish to %s", topic)
	}

	p.log.Debugw("Published", "topic", topic, "key", string(key), "size_bytes", len(value))
	return nil
}

func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs errors.MultiError
	for topic, w := range p.writers {
		if err := w.Close(); err != nil {
			errs.Add(errors.Wrapf(err, "close writer %s", topic))
		}
	}
	return errs.ToError()
}
