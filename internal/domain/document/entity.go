package document

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// Document is a parsed financial report.
type Document struct {
	SHA256 string
	Path   string
	Pages  int
	Text   string
}

// Chunk is a slice of document text with its embedding
type Chunk struct {
	ID             uuid.UUID `db:"id"`
	DocumentSHA256 string    `db:"document_sha256"`
	ChunkIndex     int       `db:"chunk_index"`
	Content        string    `db:"content"`

	// Embedding metadata (search only compares chunks of the same model)
	Embedding      pgvector.Vector `db:"embedding"`
	EmbeddingModel string          `db:"embedding_model"`

	CreatedAt time.Time `db:"created_at"`

	// Similarity is filled by search queries only
	Similarity float64 `db:"similarity"`
}
