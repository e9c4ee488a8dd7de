package document

import (
	"context"

	"github.com/pgvector/pgvector-go"

	"finanalyst/pkg/errors"
	"finanalyst/pkg/logger"
)

const defaultSearchLimit = 5

// Service validates chunk operations before they reach storage.
type Service struct {
	repo Repository
	log  *logger.Logger
}

// NewService constructs a document service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, log: logger.Get().With("component", "document_service")}
}

// StoreChunks persists the embedded chunks of one document.
func (s *Service) StoreChunks(ctx context.Context, chunks []*Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	sha := chunks[0].DocumentSHA256
	for _, c := range chunks {
		if c == nil || c.DocumentSHA256 == "" || c.DocumentSHA256 != sha {
			return errors.Wrap(errors.ErrInvalidInput, "chunks must belong to one document")
		}
	}
	if err := s.repo.StoreChunks(ctx, chunks); err != nil {
		return errors.Wrap(err, "store chunks")
	}
	s.log.Debugw("Stored document chunks", "document", sha, "count", len(chunks))
	return nil
}

// IsIndexed reports whether the document already has chunks for model.
func (s *Service) IsIndexed(ctx context.Context, documentSHA256, model string) (bool, error) {
	if documentSHA256 == "" {
		return false, errors.ErrInvalidInput
	}
	n, err := s.repo.CountChunks(ctx, documentSHA256, model)
	if err != nil {
		return false, errors.Wrap(err, "count chunks")
	}
	return n > 0, nil
}

// SearchSimilar performs vector search inside one document.
func (s *Service) SearchSimilar(ctx context.Context, documentSHA256, model string, embedding pgvector.Vector, limit int) ([]*Chunk, error) {
	if documentSHA256 == "" {
		return nil, errors.ErrInvalidInput
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	results, err := s.repo.SearchSimilar(ctx, documentSHA256, model, embedding, limit)
	if err != nil {
		return nil, errors.Wrap(err, "search chunks")
	}
	return results, nil
}
