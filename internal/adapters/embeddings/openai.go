package embeddings

import (
	"context"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"finanalyst/pkg/errors"
	"finanalyst/pkg/logger"
)

// maxBatchInputs is the per-request input limit of the embeddings endpoint.
const maxBatchInputs = 2048

// OpenAIProvider implements embedding generation using official OpenAI Go SDK
type OpenAIProvider struct {
	client     openai.Client // NewClient returns Client (not *Client)
	model      openai.EmbeddingModel
	dimensions int
	timeout    time.Duration
	log        *logger.Logger
}

// NewOpenAIProvider creates a new OpenAI embedding provider. baseURL may point
// at any OpenAI-compatible embeddings endpoint; empty uses the default.
func NewOpenAIProvider(apiKey, model, baseURL string, timeout time.Duration) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, errors.Wrapf(errors.ErrInvalidInput, "openai API key is required")
	}

	if model == "" {
		model = openai.EmbeddingModelTextEmbedding3Small
	}
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	return &OpenAIProvider{
		client:     openai.NewClient(opts...),
		model:      openai.EmbeddingModel(model),
		dimensions: getDimensions(model),
		timeout:    timeout,
		log:        logger.Get().With("component", "openai_embeddings", "model", model),
	}, nil
}

// GenerateEmbedding creates a vector embedding for the given text
func (p *OpenAIProvider) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, errors.Wrapf(errors.ErrInvalidInput, "text cannot be empty")
	}

	vectors, err := p.embed(ctx, openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)}, 1)
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// GenerateBatchEmbeddings creates embeddings for multiple texts, splitting
// the input into requests of at most maxBatchInputs texts.
func (p *OpenAIProvider) GenerateBatchEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, errors.Wrapf(errors.ErrInvalidInput, "texts cannot be empty")
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxBatchInputs {
		end := min(start+maxBatchInputs, len(texts))
		part := texts[start:end]

		vectors, err := p.embed(ctx, openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: part}, len(part))
		if err != nil {
			return nil, errors.Wrapf(err, "batch %d-%d", start, end)
		}
		out = append(out, vectors...)
	}
	return out, nil
}

func (p *OpenAIProvider) embed(ctx context.Context, input openai.EmbeddingNewParamsInputUnion, want int) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	response, err := p.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: input,
		Model: p.model,
	})
	if err != nil {
		return nil, errors.Wrapf(errors.ErrExternal, "openai embeddings: %v", err)
	}

	if len(response.Data) != want {
		return nil, errors.Wrapf(errors.ErrInternal, "expected %d embeddings, got %d", want, len(response.Data))
	}

	// Data is not guaranteed to be ordered; Index is authoritative.
	vectors := make([][]float32, want)
	for _, data := range response.Data {
		if data.Index < 0 || int(data.Index) >= want {
			return nil, errors.Wrapf(errors.ErrInternal, "embedding index %d out of range", data.Index)
		}
		vec := make([]float32, len(data.Embedding))
		for j, val := range data.Embedding {
			vec[j] = float32(val)
		}
		vectors[data.Index] = vec
	}

	p.log.Debugw("Generated embeddings",
		"inputs", want,
		"tokens_used", response.Usage.TotalTokens)

	return vectors, nil
}

// Dimensions returns the dimensionality of embeddings
func (p *OpenAIProvider) Dimensions() int {
	return p.dimensions
}

// Name returns the model name (e.g., "text-embedding-3-small")
func (p *OpenAIProvider) Name() string {
	return string(p.model)
}

// getDimensions returns embedding dimensions for known OpenAI models
func getDimensions(model string) int {
	switch model {
	case openai.EmbeddingModelTextEmbedding3Large:
		return 3072
	default:
		return 1536
	}
}
