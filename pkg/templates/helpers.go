package templates

import (
	"strings"
	"text/template"
)

// markdownV2 escapes every character Telegram MarkdownV2 reserves outside
// entities. The backslash goes first so later escapes are not doubled.
var markdownV2 = strings.NewReplacer(
	"\\", "\\\\",
	"_", "\\_",
	"*", "\\*",
	"[", "\\[",
	"]", "\\]",
	"(", "\\(",
	")", "\\)",
	"~", "\\~",
	"`", "\\`",
	">", "\\>",
	"#", "\\#",
	"+", "\\+",
	"-", "\\-",
	"=", "\\=",
	"|", "\\|",
	"{", "\\{",
	"}", "\\}",
	".", "\\.",
	"!", "\\!",
)

// Inside pre and code entities only '`' and '\' are reserved.
var markdownV2Code = strings.NewReplacer(
	"\\", "\\\\",
	"`", "\\`",
)

// EscapeMarkdownV2 escapes text for Telegram MarkdownV2.
func EscapeMarkdownV2(text string) string {
	return markdownV2.Replace(text)
}

// EscapeMarkdownV2Code escapes text placed inside a code or pre entity.
func EscapeMarkdownV2Code(code string) string {
	return markdownV2Code.Replace(code)
}

// SafeTextV2 drops invalid UTF-8, which Telegram rejects, and escapes the
// rest for MarkdownV2. Agent output goes through here.
func SafeTextV2(text string) string {
	return EscapeMarkdownV2(strings.ToValidUTF8(text, ""))
}

// Funcs are available to every template:
//
//	md    escape for Telegram MarkdownV2
//	code  escape inside a MarkdownV2 code span
//	trim  strip surrounding whitespace
func Funcs() template.FuncMap {
	return template.FuncMap{
		"md":   SafeTextV2,
		"code": EscapeMarkdownV2Code,
		"trim": strings.TrimSpace,
	}
}
