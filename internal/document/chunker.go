package document

import (
	"github.com/tmc/langchaingo/textsplitter"

	"finanalyst/pkg/errors"
)

const (
	defaultChunkSize    = 1000
	defaultChunkOverlap = 150
)

// Chunker splits document text into overlapping windows for embedding.
type Chunker struct {
	splitter textsplitter.RecursiveCharacter
}

// NewChunker builds a recursive character splitter. Non-positive sizes fall
// back to the defaults; an overlap not smaller than the size is rejected.
func NewChunker(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		size = defaultChunkSize
	}
	if overlap < 0 {
		overlap = defaultChunkOverlap
	}
	if overlap >= size {
		return nil, errors.Wrapf(errors.ErrInvalidInput, "chunk overlap %d must be below chunk size %d", overlap, size)
	}

	return &Chunker{
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(size),
			textsplitter.WithChunkOverlap(overlap),
			textsplitter.WithSeparators([]string{"\n", ". ", " ", ""}),
		),
	}, nil
}

// Split returns the non-empty chunks of text.
func (c *Chunker) Split(text string) ([]string, error) {
	parts, err := c.splitter.SplitText(text)
	if err != nil {
		return nil, errors.Wrap(err, "split text")
	}

	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out, nil
}
