package document

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"golang.org/x/sync/singleflight"

	"finanalyst/internal/adapters/embeddings"
	domain "finanalyst/internal/domain/document"
	"finanalyst/internal/metrics"
	"finanalyst/pkg/errors"
	"finanalyst/pkg/logger"
)

const (
	indexLockTTL  = 2 * time.Minute
	indexLockPoll = 500 * time.Millisecond
)

// Locker serializes indexing of one document across processes.
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key string) error
}

// Indexer embeds document chunks and answers similarity searches.
type Indexer struct {
	embedder embeddings.Provider
	chunks   *domain.Service
	chunker  *Chunker
	locker   Locker
	group    singleflight.Group
	log      *logger.Logger
}

// NewIndexer creates an indexer over the chunk store.
func NewIndexer(embedder embeddings.Provider, chunks *domain.Service, chunker *Chunker) *Indexer {
	return &Indexer{
		embedder: embedder,
		chunks:   chunks,
		chunker:  chunker,
		log:      logger.Get().With("component", "document_indexer"),
	}
}

// WithLocker makes Index hold a lock per document while it embeds.
func (i *Indexer) WithLocker(l Locker) *Indexer {
	i.locker = l
	return i
}

// Index splits, embeds and stores doc unless it is already indexed for the
// current embedding model. Concurrent calls for one document share the work.
func (i *Indexer) Index(ctx context.Context, doc *domain.Document) (int, error) {
	n, err, _ := i.group.Do(doc.SHA256, func() (interface{}, error) {
		release, err := i.lock(ctx, doc.SHA256)
		if err != nil {
			return 0, err
		}
		defer release()
		return i.index(ctx, doc)
	})
	if err != nil {
		return 0, err
	}
	return n.(int), nil
}

func (i *Indexer) index(ctx context.Context, doc *domain.Document) (int, error) {
	model := i.embedder.Name()

	indexed, err := i.chunks.IsIndexed(ctx, doc.SHA256, model)
	if err != nil {
		return 0, err
	}
	if indexed {
		return 0, nil
	}

	parts, err := i.chunker.Split(doc.Text)
	if err != nil {
		return 0, err
	}
	if len(parts) == 0 {
		return 0, errors.Wrapf(errors.ErrDocumentEmpty, "document %s", doc.SHA256)
	}

	start := time.Now()
	vectors, err := i.embedder.GenerateBatchEmbeddings(ctx, parts)
	if err != nil {
		return 0, errors.Wrap(err, "embed chunks")
	}

	now := time.Now().UTC()
	chunks := make([]*domain.Chunk, len(parts))
	for idx, content := range parts {
		chunks[idx] = &domain.Chunk{
			ID:             uuid.New(),
			DocumentSHA256: doc.SHA256,
			ChunkIndex:     idx,
			Content:        content,
			Embedding:      pgvector.NewVector(vectors[idx]),
			EmbeddingModel: model,
			CreatedAt:      now,
		}
	}

	if err := i.chunks.StoreChunks(ctx, chunks); err != nil {
		return 0, err
	}
	metrics.DocumentChunksIndexed.Add(float64(len(chunks)))

	i.log.Infow("Document indexed",
		"document", doc.SHA256,
		"chunks", len(chunks),
		"duration", time.Since(start),
	)
	return len(chunks), nil
}

// lock waits until this process owns the document. The holder of the lock
// may finish the work, in which case index finds the chunks and returns.
// Lock backend failures degrade to unlocked indexing.
func (i *Indexer) lock(ctx context.Context, sha string) (func(), error) {
	if i.locker == nil {
		return func() {}, nil
	}

	key := "index:" + sha
	for {
		ok, err := i.locker.AcquireLock(ctx, key, indexLockTTL)
		if err != nil {
			i.log.Warnw("Index lock unavailable", "document", sha, "error", err)
			return func() {}, nil
		}
		if ok {
			return func() {
				if err := i.locker.ReleaseLock(context.WithoutCancel(ctx), key); err != nil {
					i.log.Warnw("Failed to release index lock", "document", sha, "error", err)
				}
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), "wait for index lock")
		case <-time.After(indexLockPoll):
		}
	}
}

// Search returns the k chunks of the document closest to query.
func (i *Indexer) Search(ctx context.Context, sha, query string, k int) ([]*domain.Chunk, error) {
	vec, err := i.embedder.GenerateEmbedding(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "embed query")
	}
	return i.chunks.SearchSimilar(ctx, sha, i.embedder.Name(), pgvector.NewVector(vec), k)
}
