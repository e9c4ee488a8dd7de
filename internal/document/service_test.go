package document

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "finanalyst/internal/domain/document"
	"finanalyst/internal/testsupport"
	"finanalyst/pkg/errors"
)

type memoryCache struct {
	docs map[string]*domain.Document
	gets int
}

func (c *memoryCache) Get(_ context.Context, sha string) (*domain.Document, bool, error) {
	c.gets++
	d, ok := c.docs[sha]
	if !ok {
		return nil, false, nil
	}
	cp := *d
	return &cp, true, nil
}

func (c *memoryCache) Set(_ context.Context, doc *domain.Document) error {
	cp := *doc
	cp.Path = ""
	c.docs[doc.SHA256] = &cp
	return nil
}

func TestService_LoadUsesCache(t *testing.T) {
	dir := t.TempDir()
	path := testsupport.WritePDF(t, dir, "q3.pdf", "Quarterly revenue 10M")

	cache := &memoryCache{docs: map[string]*domain.Document{}}
	svc := NewService(NewReader(), cache, nil)

	first, err := svc.Load(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, cache.docs, 1)

	// Poison the cached copy to prove the second load is served from it.
	cache.docs[first.SHA256].Text = "cached text"

	second, err := svc.Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "cached text", second.Text)
	assert.Equal(t, path, second.Path)
	assert.Equal(t, 2, cache.gets)
}

func TestService_SearchUnavailableWithoutIndexer(t *testing.T) {
	svc := NewService(NewReader(), nil, nil)

	assert.False(t, svc.Searchable())
	_, err := svc.Search(context.Background(), "data/sample.pdf", "revenue", 3)
	assert.ErrorIs(t, err, errors.ErrUnavailable)
}
