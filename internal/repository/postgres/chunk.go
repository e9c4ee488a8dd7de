package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"finanalyst/internal/domain/document"
)

// EmbeddingDimensions is the width of document_chunks.embedding.
const EmbeddingDimensions = 1536

// Compile-time check
var _ document.Repository = (*ChunkRepository)(nil)

// ChunkRepository implements document.Repository using sqlx and pgvector
type ChunkRepository struct {
	db DBTX
}

// NewChunkRepository creates a new chunk repository
func NewChunkRepository(db DBTX) *ChunkRepository {
	return &ChunkRepository{db: db}
}

// StoreChunks upserts chunks keyed by document, model and index
func (r *ChunkRepository) StoreChunks(ctx context.Context, chunks []*document.Chunk) (err error) {
	if len(chunks) == 0 {
		return nil
	}
	defer observe("chunks_store")(&err)

	query := `
		INSERT INTO document_chunks (
			id, document_sha256, chunk_index, content, embedding, embedding_model, created_at
		) VALUES (
			:id, :document_sha256, :chunk_index, :content, :embedding, :embedding_model, :created_at
		)
		ON CONFLICT (document_sha256, embedding_model, chunk_index) DO UPDATE SET
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding`

	now := time.Now().UTC()
	for _, c := range chunks {
		if c.ID == uuid.Nil {
			c.ID = uuid.New()
		}
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
	}

	// A document is either fully indexed or not at all.
	return inTx(ctx, r.db, func(db DBTX) error {
		for _, c := range chunks {
			if _, err := db.NamedExecContext(ctx, query, c); err != nil {
				return err
			}
		}
		return nil
	})
}

// CountChunks counts chunks of one document embedded with model
func (r *ChunkRepository) CountChunks(ctx context.Context, documentSHA256, model string) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM document_chunks WHERE document_sha256 = $1 AND embedding_model = $2`,
		documentSHA256, model)
	return n, err
}

// SearchSimilar performs semantic search using pgvector cosine similarity
func (r *ChunkRepository) SearchSimilar(ctx context.Context, documentSHA256, model string, embedding pgvector.Vector, limit int) (_ []*document.Chunk, err error) {
	defer observe("chunks_search")(&err)

	var chunks []*document.Chunk
	query := `
		SELECT id, document_sha256, chunk_index, content, embedding, embedding_model, created_at,
		       1 - (embedding <=> $3) AS similarity
		FROM document_chunks
		WHERE document_sha256 = $1 AND embedding_model = $2
		ORDER BY embedding <=> $3
		LIMIT $4`

	err = r.db.SelectContext(ctx, &chunks, query, documentSHA256, model, embedding, limit)
	if err != nil {
		return nil, err
	}
	return chunks, nil
}

// DeleteByDocument removes every chunk of a document
func (r *ChunkRepository) DeleteByDocument(ctx context.Context, documentSHA256 string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM document_chunks WHERE document_sha256 = $1`, documentSHA256)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
