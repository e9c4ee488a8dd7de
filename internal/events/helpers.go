package events

import (
	"strings"

	"github.com/google/uuid"
)

// SanitizeUTF8 drops invalid UTF-8 sequences. structpb rejects such strings,
// and text extracted from PDFs regularly contains them.
func SanitizeUTF8(s string) string {
	return strings.ToValidUTF8(s, "")
}

// newEventID returns a unique event id.
func newEventID() string {
	return uuid.NewString()
}
