package shared

import (
	"context"

	domain "finanalyst/internal/domain/document"
	"finanalyst/internal/domain/stats"
	"finanalyst/pkg/logger"
)

// DocumentSource is the slice of the document service the tools use.
type DocumentSource interface {
	ReadText(ctx context.Context, path string) (string, error)
	Searchable() bool
	Search(ctx context.Context, path, query string, k int) ([]*domain.Chunk, error)
}

// StatsRecorder persists tool usage events. stats.Repository satisfies it.
type StatsRecorder interface {
	InsertToolUsage(ctx context.Context, event *stats.ToolUsageEvent) error
}

// Deps bundles dependencies required by concrete tool implementations
type Deps struct {
	Documents   DocumentSource
	Stats       StatsRecorder
	DefaultPath string
	Log         *logger.Logger
}

// HasDocuments reports whether a document source is wired
func (d Deps) HasDocuments() bool {
	return d.Documents != nil
}

// HasSearch reports whether similarity search over documents is available
func (d Deps) HasSearch() bool {
	return d.Documents != nil && d.Documents.Searchable()
}

// Logger returns the configured logger or the global one
func (d Deps) Logger() *logger.Logger {
	if d.Log != nil {
		return d.Log
	}
	return logger.Get()
}
