package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeUTF8(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain text", "Net revenue 4.2B", "Net revenue 4.2B"},
		{"empty", "", ""},
		{"currency symbols kept", "Umsatz 3,1 Mrd. €, ¥ 12", "Umsatz 3,1 Mrd. €, ¥ 12"},
		{"cp1252 apostrophe from a Type1 font", "Revenue\x92s growth 12%", "Revenues growth 12%"},
		{"several stray bytes", "EBITDA\xff margin\xfe 31%\xfd", "EBITDA margin 31%"},
		{"truncated multibyte rune", "Q3 \xe2\x82", "Q3 "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeUTF8(tt.input))
		})
	}
}

func TestNewEventIDUnique(t *testing.T) {
	assert.NotEqual(t, newEventID(), newEventID())
}
