package embeddings

import "context"

// Provider turns document chunks and search queries into vectors.
type Provider interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
	// GenerateBatchEmbeddings keeps the order of texts in its result.
	GenerateBatchEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	// Name is the model name. It is stored with every chunk so that a search
	// never compares vectors from two different models.
	Name() string
}
