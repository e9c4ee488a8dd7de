package document

import (
	"context"
	"os"

	domain "finanalyst/internal/domain/document"
	"finanalyst/internal/metrics"
	"finanalyst/pkg/errors"
	"finanalyst/pkg/logger"
)

// Service loads financial documents through the cache and, when an indexer
// is configured, makes them searchable.
type Service struct {
	reader  *Reader
	cache   Cache
	indexer *Indexer
	log     *logger.Logger
}

// NewService wires the document pipeline. cache and indexer may be nil.
func NewService(reader *Reader, cache Cache, indexer *Indexer) *Service {
	if cache == nil {
		cache = NoopCache{}
	}
	return &Service{
		reader:  reader,
		cache:   cache,
		indexer: indexer,
		log:     logger.Get().With("component", "documents"),
	}
}

// Load returns the parsed document at path.
func (s *Service) Load(ctx context.Context, path string) (*domain.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	sha := Checksum(data)

	cached, ok, err := s.cache.Get(ctx, sha)
	if err != nil {
		s.log.Warnw("Document cache unavailable", "path", path, "error", err)
	}
	if ok {
		metrics.RecordDocumentParse(true, nil)
		cached.Path = path
		return cached, nil
	}

	doc, err := s.reader.Parse(ctx, path, data)
	metrics.RecordDocumentParse(false, err)
	if err != nil {
		return nil, err
	}

	if err := s.cache.Set(ctx, doc); err != nil {
		s.log.Warnw("Failed to cache document text", "path", path, "error", err)
	}
	s.log.Debugw("Document parsed", "path", path, "pages", doc.Pages, "sha256", sha)
	return doc, nil
}

// ReadText returns the normalized text of the document at path.
func (s *Service) ReadText(ctx context.Context, path string) (string, error) {
	doc, err := s.Load(ctx, path)
	if err != nil {
		return "", err
	}
	return doc.Text, nil
}

// Searchable reports whether similarity search is available.
func (s *Service) Searchable() bool {
	return s.indexer != nil
}

// Index makes the document at path searchable and returns the number of
// chunks written (zero when it was already indexed).
func (s *Service) Index(ctx context.Context, path string) (int, error) {
	if s.indexer == nil {
		return 0, errors.Wrap(errors.ErrUnavailable, "document indexing not configured")
	}
	doc, err := s.Load(ctx, path)
	if err != nil {
		return 0, err
	}
	return s.indexer.Index(ctx, doc)
}

// Search returns the passages of the document at path most relevant to query.
func (s *Service) Search(ctx context.Context, path, query string, k int) ([]*domain.Chunk, error) {
	if s.indexer == nil {
		return nil, errors.Wrap(errors.ErrUnavailable, "document search not configured")
	}
	doc, err := s.Load(ctx, path)
	if err != nil {
		return nil, err
	}
	if _, err := s.indexer.Index(ctx, doc); err != nil {
		return nil, err
	}
	return s.indexer.Search(ctx, doc.SHA256, query, k)
}
