package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"google.golang.org/protobuf/types/known/structpb"

	kafkaadapter "finanalyst/internal/adapters/kafka"
	"finanalyst/pkg/errors"
	"finanalyst/pkg/logger"
)

// Producer sends encoded messages. *kafka.Producer from the adapters
// package satisfies it.
type Producer interface {
	PublishBinary(ctx context.Context, topic string, key, value []byte, headers ...kafka.Header) error
}

// Publisher publishes analysis events to Kafka
type Publisher struct {
	producer Producer
	log      *logger.Logger
	now      func() time.Time
}

// NewPublisher creates a new event publisher
func NewPublisher(producer Producer, log *logger.Logger) *Publisher {
	if log == nil {
		log = logger.Get()
	}
	return &Publisher{
		producer: producer,
		log:      log.With("component", "event_publisher"),
		now:      time.Now,
	}
}

// PublishAnalysisRequested enqueues a run for the worker
func (p *Publisher) PublishAnalysisRequested(ctx context.Context, e AnalysisRequested) error {
	payload, err := e.toStruct()
	if err != nil {
		return errors.Wrap(err, "build analysis.requested payload")
	}
	return p.publish(ctx, kafkaadapter.TopicAnalysisRequested, TypeAnalysisRequested, e.RunID, payload)
}

// PublishAnalysisCompleted announces the outcome of a run
func (p *Publisher) PublishAnalysisCompleted(ctx context.Context, e AnalysisCompleted) error {
	payload, err := e.toStruct()
	if err != nil {
		return errors.Wrap(err, "build analysis.completed payload")
	}
	return p.publish(ctx, kafkaadapter.TopicAnalysisCompleted, TypeAnalysisCompleted, e.RunID, payload)
}

func (p *Publisher) publish(ctx context.Context, topic, eventType string, runID uuid.UUID, payload *structpb.Struct) error {
	msg, err := encode(eventType, runID, payload, p.now())
	if err != nil {
		return err
	}

	if err := p.producer.PublishBinary(ctx, topic, msg.Key, msg.Value, msg.Headers...); err != nil {
		return errors.Wrap(err, "send to kafka")
	}

	p.log.Debugw("Event published", "topic", topic, "run_id", runID, "size_bytes", len(msg.Value))
	return nil
}
