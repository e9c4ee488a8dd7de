package embeddings

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finanalyst/pkg/errors"
)

func TestNewProviderWithoutKey(t *testing.T) {
	_, err := NewProvider(Config{Model: "text-embedding-3-small"})
	assert.ErrorIs(t, err, errors.ErrUnavailable)
}

func TestNewProviderDimensions(t *testing.T) {
	small, err := NewProvider(Config{APIKey: "sk-test"})
	require.NoError(t, err)
	assert.Equal(t, 1536, small.Dimensions())
	assert.Equal(t, "text-embedding-3-small", small.Name())

	large, err := NewProvider(Config{APIKey: "sk-test", Model: "text-embedding-3-large"})
	require.NoError(t, err)
	assert.Equal(t, 3072, large.Dimensions())
}
