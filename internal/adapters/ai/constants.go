package ai

// ProviderName identifies a chat backend. It prefixes model references
// such as "groq/llama-3.3-70b-versatile".
type ProviderName string

const (
	ProviderNameGroq      ProviderName = "groq"
	ProviderNameAnthropic ProviderName = "anthropic"
	ProviderNameOpenAI    ProviderName = "openai"
	ProviderNameGoogle    ProviderName = "google"
	ProviderNameDeepSeek  ProviderName = "deepseek"
)

func (p ProviderName) String() string { return string(p) }

// IsValid reports whether p is a backend this package can construct.
func (p ProviderName) IsValid() bool {
	switch p {
	case ProviderNameGroq, ProviderNameAnthropic, ProviderNameOpenAI, ProviderNameGoogle, ProviderNameDeepSeek:
		return true
	}
	return false
}

// ProviderModelName is a model id as the provider's API expects it.
type ProviderModelName string

// Models with known pricing. See catalog.go.
const (
	ModelLlama33Versatile ProviderModelName = "llama-3.3-70b-versatile"
	ModelLlama31Instant   ProviderModelName = "llama-3.1-8b-instant"
	ModelClaude45Sonnet   ProviderModelName = "claude-sonnet-4-5-20250929"
	ModelClaude35Haiku    ProviderModelName = "claude-3-5-haiku-latest"
	ModelGPT4oMini        ProviderModelName = "gpt-4o-mini"
	ModelGPT4o            ProviderModelName = "gpt-4o"
	ModelGemini25Flash    ProviderModelName = "gemini-2.5-flash"
	ModelDeepSeekChat     ProviderModelName = "deepseek-chat"
)

const (
	groqBaseURL     = "https://api.groq.com/openai/v1"
	deepSeekBaseURL = "https://api.deepseek.com/v1"
)
