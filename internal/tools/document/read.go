package document

import (
	"context"
	"time"

	"google.golang.org/adk/tool"

	docs "finanalyst/internal/document"
	"finanalyst/internal/tools/shared"
	"finanalyst/pkg/errors"
)

// DefaultPath is read when the caller names no file.
const DefaultPath = "data/sample.pdf"

// readTimeout bounds one document read.
var readTimeout = 2 * time.Minute

// ReadArgs are the arguments of read_financial_document.
type ReadArgs struct {
	Path string `json:"path,omitempty" jsonschema:"Path of the PDF file. Defaults to data/sample.pdf"`
}

// NewReadTool returns the PDF reader tool. Failures are reported to the model
// as "Error reading PDF: ..." text rather than as tool errors.
func NewReadTool(deps shared.Deps) (tool.Tool, error) {
	defaultPath := deps.DefaultPath
	if defaultPath == "" {
		defaultPath = DefaultPath
	}
	log := deps.Logger()

	fn := func(ctx tool.Context, args ReadArgs) (string, error) {
		path := args.Path
		if path == "" {
			path = defaultPath
		}
		if !deps.HasDocuments() {
			log.Errorw("Tool: read_financial_document called without document source")
			return docs.ErrorText(errUnconfigured), nil
		}

		log.Debugw("Tool: read_financial_document called", "path", path)
		text, err := readWithin(ctx, deps.Documents, path, readTimeout)
		if err != nil {
			log.Warnw("Tool: read_financial_document failed", "path", path, "error", err)
			return docs.ErrorText(err), nil
		}

		log.Debugw("Tool: read_financial_document success", "path", path, "chars", len(text))
		return text, nil
	}

	return shared.NewToolBuilder(
		"read_financial_document",
		"Tool to read data from a pdf file from a path",
		fn,
		deps,
	).
		WithStats().
		Build()
}

type readResult struct {
	text string
	err  error
}

func readWithin(parent context.Context, src shared.DocumentSource, path string, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	done := make(chan readResult, 1)
	go func() {
		text, err := src.ReadText(ctx, path)
		done <- readResult{text: text, err: err}
	}()

	select {
	case res := <-done:
		return res.text, res.err
	case <-ctx.Done():
		if errors.Is(parent.Err(), context.Canceled) {
			return "", parent.Err()
		}
		return "", errors.Wrapf(errors.ErrTimeout, "reading %s took longer than %s", path, timeout)
	}
}
