package events

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finanalyst/pkg/errors"
	"finanalyst/pkg/logger"
)

type captureProducer struct {
	topic string
	msg   kafka.Message
	err   error
}

func (c *captureProducer) PublishBinary(_ context.Context, topic string, key, value []byte, headers ...kafka.Header) error {
	c.topic = topic
	c.msg = kafka.Message{Topic: topic, Key: key, Value: value, Headers: headers}
	return c.err
}

func newTestPublisher(p Producer) *Publisher {
	pub := NewPublisher(p, logger.Nop())
	pub.now = func() time.Time { return time.Date(2025, 3, 31, 12, 0, 0, 0, time.UTC) }
	return pub
}

func TestPublisher_AnalysisRequested(t *testing.T) {
	prod := &captureProducer{}
	pub := newTestPublisher(prod)
	id := uuid.New()

	err := pub.PublishAnalysisRequested(context.Background(), AnalysisRequested{
		RunID:      id,
		Query:      "Is the dividend sustainable?",
		FilePath:   "data/financial_document_x.pdf",
		UserID:     "tg:42",
		Source:     "telegram",
		Tasks:      []string{"verification"},
		RemoveFile: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "analysis.requested", prod.topic)
	assert.Equal(t, id.String(), string(prod.msg.Key))

	env, err := Decode(prod.msg)
	require.NoError(t, err)
	assert.Equal(t, TypeAnalysisRequested, env.Type)
	assert.NotEmpty(t, env.ID)
	assert.True(t, env.Timestamp.Equal(time.Date(2025, 3, 31, 12, 0, 0, 0, time.UTC)))

	got, err := DecodeAnalysisRequested(prod.msg)
	require.NoError(t, err)
	assert.Equal(t, id, got.RunID)
	assert.Equal(t, "Is the dividend sustainable?", got.Query)
	assert.Equal(t, []string{"verification"}, got.Tasks)
	assert.True(t, got.RemoveFile)
	assert.Equal(t, "tg:42", got.UserID)
}

func TestPublisher_AnalysisCompletedSanitizesText(t *testing.T) {
	prod := &captureProducer{}
	pub := newTestPublisher(prod)

	err := pub.PublishAnalysisCompleted(context.Background(), AnalysisCompleted{
		RunID:            uuid.New(),
		Status:           "completed",
		FinalOutput:      "Margin\xff held",
		PromptTokens:     1200,
		CompletionTokens: 300,
		CostUSD:          "0.000945",
		Duration:         90 * time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, "analysis.completed", prod.topic)

	got, err := DecodeAnalysisCompleted(prod.msg)
	require.NoError(t, err)
	assert.Equal(t, "Margin held", got.FinalOutput)
	assert.Equal(t, int64(1200), got.PromptTokens)
	assert.Equal(t, 90*time.Second, got.Duration)
	assert.Equal(t, "0.000945", got.CostUSD)
}

func TestDecode_WrongType(t *testing.T) {
	prod := &captureProducer{}
	pub := newTestPublisher(prod)
	require.NoError(t, pub.PublishAnalysisCompleted(context.Background(), AnalysisCompleted{RunID: uuid.New()}))

	_, err := DecodeAnalysisRequested(prod.msg)
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))
}

func TestDecode_Garbage(t *testing.T) {
	_, err := DecodeAnalysisRequested(kafka.Message{Value: []byte("not protobuf at all")})
	assert.Error(t, err)
}

func TestPublisher_ProducerError(t *testing.T) {
	pub := newTestPublisher(&captureProducer{err: errors.New("broker down")})
	err := pub.PublishAnalysisRequested(context.Background(), AnalysisRequested{RunID: uuid.New()})
	assert.ErrorContains(t, err, "broker down")
}
