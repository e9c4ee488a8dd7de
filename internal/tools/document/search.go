package document

import (
	"fmt"
	"strings"
	"time"

	"google.golang.org/adk/tool"

	"finanalyst/internal/tools/shared"
	"finanalyst/pkg/errors"
)

var errUnconfigured = errors.Wrap(errors.ErrUnavailable, "document source not configured")

const (
	defaultSearchResults = 5
	maxSearchResults     = 20
)

// SearchArgs are the arguments of search_financial_document.
type SearchArgs struct {
	Path  string `json:"path,omitempty" jsonschema:"Path of the PDF file. Defaults to data/sample.pdf"`
	Query string `json:"query" jsonschema:"What to look for in the document"`
	K     int    `json:"k,omitempty" jsonschema:"Number of passages to return (1-20, default 5)"`
}

// NewSearchTool returns a retrieval tool over the indexed document. Only
// registered when an embedding store is configured.
func NewSearchTool(deps shared.Deps) (tool.Tool, error) {
	defaultPath := deps.DefaultPath
	if defaultPath == "" {
		defaultPath = DefaultPath
	}
	log := deps.Logger()

	fn := func(ctx tool.Context, args SearchArgs) (string, error) {
		if !deps.HasSearch() {
			return "", errors.Wrap(errors.ErrUnavailable, "search_financial_document: document search not configured")
		}
		query := strings.TrimSpace(args.Query)
		if query == "" {
			return "", errors.Wrap(errors.ErrInvalidInput, "search_financial_document: query is required")
		}
		path := args.Path
		if path == "" {
			path = defaultPath
		}
		k := args.K
		switch {
		case k <= 0:
			k = defaultSearchResults
		case k > maxSearchResults:
			k = maxSearchResults
		}

		chunks, err := deps.Documents.Search(ctx, path, query, k)
		if err != nil {
			log.Warnw("Tool: search_financial_document failed", "path", path, "error", err)
			return "", errors.Wrap(err, "search_financial_document")
		}
		if len(chunks) == 0 {
			return "No matching passages found.", nil
		}

		var b strings.Builder
		for i, c := range chunks {
			fmt.Fprintf(&b, "[%d] (chunk %d, similarity %.2f)\n%s\n\n", i+1, c.ChunkIndex, c.Similarity, c.Content)
		}
		log.Debugw("Tool: search_financial_document success", "path", path, "results", len(chunks))
		return strings.TrimRight(b.String(), "\n"), nil
	}

	return shared.NewToolBuilder(
		"search_financial_document",
		"Search the financial document for the passages most relevant to a question",
		fn,
		deps,
	).
		WithRetry(2, 500*time.Millisecond).
		WithTimeout(time.Minute).
		WithStats().
		Build()
}
