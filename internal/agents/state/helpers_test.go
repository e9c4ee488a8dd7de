package state

import (
	"iter"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/adk/session"
)

func TestStateHelpers_Inputs(t *testing.T) {
	started := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	state := newTestState(Inputs("run-1", "What is the revenue trend?", "data/sample.pdf", started))

	assert.Equal(t, "What is the revenue trend?", GetQuery(state))
	assert.Equal(t, "data/sample.pdf", GetFilePath(state))
	assert.Equal(t, "run-1", GetRunID(state))

	got, err := GetStartedAt(state)
	require.NoError(t, err)
	assert.True(t, started.Equal(got))
}

func TestStateHelpers_MissingValues(t *testing.T) {
	state := newTestState(nil)

	assert.Empty(t, GetQuery(state))
	assert.Empty(t, GetCurrentTask(state))

	_, err := GetStartedAt(state)
	assert.ErrorIs(t, err, session.ErrStateKeyNotExist)
}

func TestStateHelpers_TaskOutputs(t *testing.T) {
	state := newTestState(map[string]any{
		"verification":               "The document is a quarterly report.",
		"analyze_financial_document": "",
		"investment_analysis":        42,
	})

	require.NoError(t, SetCurrentTask(state, "risk_assessment"))
	assert.Equal(t, "risk_assessment", GetCurrentTask(state))

	out, ok := GetTaskOutput(state, "verification")
	assert.True(t, ok)
	assert.Equal(t, "The document is a quarterly report.", out)

	_, ok = GetTaskOutput(state, "analyze_financial_document")
	assert.False(t, ok, "empty output means the task has not answered yet")

	outputs := TaskOutputs(state, []string{
		"verification", "analyze_financial_document", "investment_analysis", "risk_assessment",
	})
	require.Len(t, outputs, 1)
	assert.Equal(t, "verification", outputs[0].Task)
}

func TestStateHelpers_TemporaryState(t *testing.T) {
	state := newTestState(nil)

	require.NoError(t, IncrementToolCallCount(state))
	assert.Equal(t, 1, GetToolCallCount(state))

	require.NoError(t, IncrementToolCallCount(state))
	assert.Equal(t, 2, GetToolCallCount(state))
}

// newTestState creates a test state implementation
func newTestState(initial map[string]any) session.State {
	data := make(map[string]any, len(initial))
	for k, v := range initial {
		data[k] = v
	}
	return &testState{data: data}
}

type testState struct {
	data map[string]any
}

func (s *testState) Get(key string) (any, error) {
	if val, ok := s.data[key]; ok {
		return val, nil
	}
	return nil, session.ErrStateKeyNotExist
}

func (s *testState) Set(key string, val any) error {
	s.data[key] = val
	return nil
}

func (s *testState) All() iter.Seq2[string, any] {
	return func(yield func(string, any) bool) {
		for k, v := range s.data {
			if !yield(k, v) {
				return
			}
		}
	}
}
