package document

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"

	domain "finanalyst/internal/domain/document"
	"finanalyst/pkg/errors"
)

// Reader extracts plain text from PDF reports.
type Reader struct{}

// NewReader creates a PDF reader.
func NewReader() *Reader {
	return &Reader{}
}

// Read loads the file at path and extracts its normalized text.
func (r *Reader) Read(ctx context.Context, path string) (*domain.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return r.Parse(ctx, path, data)
}

// Parse extracts text from an in-memory PDF. Pages are visited in order;
// within a page every double newline is collapsed until none remain, and
// each page is terminated by a single newline.
func (r *Reader) Parse(ctx context.Context, path string, data []byte) (doc *domain.Document, err error) {
	// The pdf package panics on some malformed inputs.
	defer func() {
		if rec := recover(); rec != nil {
			doc = nil
			err = errors.Wrapf(errors.ErrDocumentUnreadable, "%s: %v", path, rec)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, errors.Wrapf(errors.ErrDocumentUnreadable, "%s: %v", path, err)
	}

	var text strings.Builder
	pages := reader.NumPage()
	for i := 1; i <= pages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			return nil, errors.Wrapf(errors.ErrDocumentUnreadable, "%s page %d: %v", path, i, err)
		}
		text.WriteString(NormalizePage(content))
		text.WriteString("\n")
	}

	return &domain.Document{
		SHA256: Checksum(data),
		Path:   path,
		Pages:  pages,
		Text:   text.String(),
	}, nil
}

// NormalizePage collapses runs of blank lines into single newlines.
func NormalizePage(content string) string {
	for strings.Contains(content, "\n\n") {
		content = strings.ReplaceAll(content, "\n\n", "\n")
	}
	return content
}

// Checksum returns the hex SHA-256 of data.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ErrorText renders a read failure the way the document tool reports it.
func ErrorText(err error) string {
	return fmt.Sprintf("Error reading PDF: %v", err)
}
