package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"

	"finanalyst/pkg/errors"
)

// Event types carried in the event-type header.
const (
	TypeAnalysisRequested = "analysis.requested"
	TypeAnalysisCompleted = "analysis.completed"
)

// Header keys set on every message.
const (
	HeaderEventID   = "event-id"
	HeaderEventType = "event-type"
	HeaderEventTime = "event-time" // protobuf-encoded google.protobuf.Timestamp
)

// AnalysisRequested asks a worker to run the crew over a stored document.
type AnalysisRequested struct {
	RunID    uuid.UUID
	Query    string
	FilePath string
	UserID   string
	Source   string
	// Tasks restricts the run to a subset of tasks, in crew order.
	Tasks []string
	// RemoveFile deletes FilePath once the run finishes.
	RemoveFile bool
}

// AnalysisCompleted reports the outcome of a run.
type AnalysisCompleted struct {
	RunID            uuid.UUID
	UserID           string
	Source           string
	Status           string
	FinalOutput      string
	Error            string
	PromptTokens     int64
	CompletionTokens int64
	CostUSD          string
	Duration         time.Duration
}

// Envelope is a decoded message with its metadata.
type Envelope struct {
	ID        string
	Type      string
	Timestamp time.Time
	Payload   *structpb.Struct
}

func (e AnalysisRequested) toStruct() (*structpb.Struct, error) {
	tasks := make([]interface{}, len(e.Tasks))
	for i, t := range e.Tasks {
		tasks[i] = t
	}
	return structpb.NewStruct(map[string]interface{}{
		"run_id":      e.RunID.String(),
		"query":       SanitizeUTF8(e.Query),
		"file_path":   e.FilePath,
		"user_id":     e.UserID,
		"source":      e.Source,
		"tasks":       tasks,
		"remove_file": e.RemoveFile,
	})
}

func (e AnalysisCompleted) toStruct() (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]interface{}{
		"run_id":            e.RunID.String(),
		"user_id":           e.UserID,
		"source":            e.Source,
		"status":            e.Status,
		"final_output":      SanitizeUTF8(e.FinalOutput),
		"error":             SanitizeUTF8(e.Error),
		"prompt_tokens":     float64(e.PromptTokens),
		"completion_tokens": float64(e.CompletionTokens),
		"cost_usd":          e.CostUSD,
		"duration_ms":       float64(e.Duration.Milliseconds()),
	})
}

// encode builds a Kafka message keyed by run id.
func encode(eventType string, runID uuid.UUID, payload *structpb.Struct, at time.Time) (kafka.Message, error) {
	value, err := proto.Marshal(payload)
	if err != nil {
		return kafka.Message{}, errors.Wrap(err, "marshal payload")
	}
	ts, err := proto.Marshal(timestamppb.New(at))
	if err != nil {
		return kafka.Message{}, errors.Wrap(err, "marshal timestamp")
	}

	return kafka.Message{
		Key:   []byte(runID.String()),
		Value: value,
		Headers: []kafka.Header{
			{Key: HeaderEventID, Value: []byte(newEventID())},
			{Key: HeaderEventType, Value: []byte(eventType)},
			{Key: HeaderEventTime, Value: ts},
		},
	}, nil
}

// Decode parses the payload and headers of a message.
func Decode(msg kafka.Message) (*Envelope, error) {
	env := &Envelope{Payload: &structpb.Struct{}}
	if err := proto.Unmarshal(msg.Value, env.Payload); err != nil {
		return nil, errors.Wrapf(errors.ErrInvalidInput, "decode payload: %v", err)
	}

	for _, h := range msg.Headers {
		switch h.Key {
		case HeaderEventID:
			env.ID = string(h.Value)
		case HeaderEventType:
			env.Type = string(h.Value)
		case HeaderEventTime:
			var ts timestamppb.Timestamp
			if err := proto.Unmarshal(h.Value, &ts); err != nil {
				return nil, errors.Wrapf(errors.ErrInvalidInput, "decode timestamp: %v", err)
			}
			env.Timestamp = ts.AsTime()
		}
	}
	if env.Timestamp.IsZero() {
		env.Timestamp = msg.Time
	}
	return env, nil
}

func str(s *structpb.Struct, key string) string {
	return s.GetFields()[key].GetStringValue()
}

func num(s *structpb.Struct, key string) int64 {
	return int64(s.GetFields()[key].GetNumberValue())
}

func runID(s *structpb.Struct) (uuid.UUID, error) {
	id, err := uuid.Parse(str(s, "run_id"))
	if err != nil {
		return uuid.Nil, errors.Wrapf(errors.ErrInvalidInput, "run_id: %v", err)
	}
	return id, nil
}

// DecodeAnalysisRequested decodes a job message.
func DecodeAnalysisRequested(msg kafka.Message) (AnalysisRequested, error) {
	env, err := Decode(msg)
	if err != nil {
		return AnalysisRequested{}, err
	}
	if env.Type != "" && env.Type != TypeAnalysisRequested {
		return AnalysisRequested{}, errors.Wrapf(errors.ErrInvalidInput, "unexpected event type %q", env.Type)
	}

	id, err := runID(env.Payload)
	if err != nil {
		return AnalysisRequested{}, err
	}

	var tasks []string
	for _, v := range env.Payload.GetFields()["tasks"].GetListValue().GetValues() {
		tasks = append(tasks, v.GetStringValue())
	}

	return AnalysisRequested{
		RunID:      id,
		Query:      str(env.Payload, "query"),
		FilePath:   str(env.Payload, "file_path"),
		UserID:     str(env.Payload, "user_id"),
		Source:     str(env.Payload, "source"),
		Tasks:      tasks,
		RemoveFile: env.Payload.GetFields()["remove_file"].GetBoolValue(),
	}, nil
}

// DecodeAnalysisCompleted decodes a completion message.
func DecodeAnalysisCompleted(msg kafka.Message) (AnalysisCompleted, error) {
	env, err := Decode(msg)
	if err != nil {
		return AnalysisCompleted{}, err
	}
	if env.Type != "" && env.Type != TypeAnalysisCompleted {
		return AnalysisCompleted{}, errors.Wrapf(errors.ErrInvalidInput, "unexpected event type %q", env.Type)
	}

	id, err := runID(env.Payload)
	if err != nil {
		return AnalysisCompleted{}, err
	}

	return AnalysisCompleted{
		RunID:            id,
		UserID:           str(env.Payload, "user_id"),
		Source:           str(env.Payload, "source"),
		Status:           str(env.Payload, "status"),
		FinalOutput:      str(env.Payload, "final_output"),
		Error:            str(env.Payload, "error"),
		PromptTokens:     num(env.Payload, "prompt_tokens"),
		CompletionTokens: num(env.Payload, "completion_tokens"),
		CostUSD:          str(env.Payload, "cost_usd"),
		Duration:         time.Duration(num(env.Payload, "duration_ms")) * time.Millisecond,
	}, nil
}
