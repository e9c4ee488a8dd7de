package document

import (
	"context"

	"github.com/pgvector/pgvector-go"
)

// Repository stores document chunks and answers similarity queries
type Repository interface {
	StoreChunks(ctx context.Context, chunks []*Chunk) error
	CountChunks(ctx context.Context, documentSHA256, model string) (int, error)
	SearchSimilar(ctx context.Context, documentSHA256, model string, embedding pgvector.Vector, limit int) ([]*Chunk, error)
	DeleteByDocument(ctx context.Context, documentSHA256 string) (int64, error)
}
