package templates

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
)

func TestEscapeMarkdownV2(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "plain text unchanged",
			input:    "Revenue grew",
			expected: "Revenue grew",
		},
		{
			name:     "backslash escaped first",
			input:    `C:\reports\q2`,
			expected: `C:\\reports\\q2`,
		},
		{
			name:     "every reserved character",
			input:    "_*[]()~`>#+-=|{}.!",
			expected: "\\_\\*\\[\\]\\(\\)\\~\\`\\>\\#\\+\\-\\=\\|\\{\\}\\.\\!",
		},
		{
			name:     "figures from a report",
			input:    "EPS $1.27 (+12.4% y/y)",
			expected: "EPS $1\\.27 \\(\\+12\\.4% y/y\\)",
		},
		{
			name:     "markdown emphasis from an agent",
			input:    "**Buy** - target_price",
			expected: "\\*\\*Buy\\*\\* \\- target\\_price",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, EscapeMarkdownV2(tt.input))
		})
	}
}

func TestEscapeMarkdownV2Code(t *testing.T) {
	assert.Equal(t, "risk_assessment", EscapeMarkdownV2Code("risk_assessment"))
	assert.Equal(t, "\\`x\\`", EscapeMarkdownV2Code("`x`"))
	assert.Equal(t, "a\\\\b", EscapeMarkdownV2Code(`a\b`))
}

func TestSafeTextV2(t *testing.T) {
	assert.Equal(t, "Net loss \\(restated\\)", SafeTextV2("Net loss\xff (restated)"))
	assert.Equal(t, "", SafeTextV2(""))
}

func TestFuncs(t *testing.T) {
	reg, err := NewRegistryFromFS(fstest.MapFS{
		"t/x.tmpl": {Data: []byte("{{md .A}} `{{code .B}}` [{{trim .C}}]")},
	}, ".")
	if err != nil {
		t.Fatalf("init registry: %v", err)
	}

	out, err := reg.Render("t/x", map[string]string{"A": "1.5x", "B": "a`b", "C": "  ok \n"})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	assert.Equal(t, "1\\.5x `a\\`b` [ok]", out)
}
