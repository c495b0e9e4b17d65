// Package provider implements extraction.Extractor on top of hosted model APIs and a
// local Ollama server.
package provider

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/theimaginaryfoundation/quotemine/extraction"
)

const (
	OpenAI    = "openai"
	Anthropic = "anthropic"
	Ollama    = "ollama"
)

// DefaultModel is the model used when none is configured.
func DefaultModel(provider string) string {
	switch provider {
	case Anthropic:
		return "claude-sonnet-4-5"
	case Ollama:
		return DefaultOllamaModel
	default:
		return "gpt-5-mini"
	}
}

// NeedsCredential reports whether provider requires an API key.
func NeedsCredential(provider string) bool {
	return provider != Ollama
}

// DefaultMaxOutputTokens caps one reply.
const DefaultMaxOutputTokens = 8000

// Format selects the reply shape requested from the service.
type Format int

const (
	// FormatText requests free text.
	FormatText Format = iota
	// FormatQuotes requests an extraction.QuoteEnvelope.
	FormatQuotes
	// FormatItems requests an extraction.ItemEnvelope.
	FormatItems
)

// Config selects and configures a backend.
type Config struct {
	Provider        string
	Model           string
	APIKey          string
	BaseURL         string
	MaxOutputTokens int64
	// FlexTier asks OpenAI for the flex service tier.
	FlexTier bool
	Retry    RetryPolicy
	Logger   *zap.Logger
}

func (c Config) withDefaults() Config {
	if c.MaxOutputTokens <= 0 {
		c.MaxOutputTokens = DefaultMaxOutputTokens
	}
	if c.Retry.RateLimitWaits == nil && c.Retry.ServerErrorWaits == nil {
		c.Retry = DefaultRetryPolicy()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// KeyEnv is the environment variable holding the key for provider.
func KeyEnv(provider string) string {
	switch provider {
	case Anthropic:
		return "ANTHROPIC_API_KEY"
	default:
		return "OPENAI_API_KEY"
	}
}

// ResolveAPIKey returns explicit if set, otherwise the provider's key variable. It fails
// with extraction.ErrMissingCredential when neither is set, except for Ollama, which
// runs without one.
func ResolveAPIKey(provider, explicit string) (string, error) {
	if key := strings.TrimSpace(explicit); key != "" {
		return key, nil
	}
	if !NeedsCredential(provider) {
		return "", nil
	}
	if key := strings.TrimSpace(os.Getenv(KeyEnv(provider))); key != "" {
		return key, nil
	}
	return "", eris.Wrapf(extraction.ErrMissingCredential, "ResolveAPIKey: set %s or api_key", KeyEnv(provider))
}

// New builds the extractor for cfg.Provider.
func New(cfg Config, format Format) (extraction.Extractor, error) {
	switch cfg.Provider {
	case OpenAI, "":
		return NewOpenAIExtractor(cfg, format)
	case Anthropic:
		return NewAnthropicExtractor(cfg)
	case Ollama:
		return NewOllamaExtractor(cfg, format)
	default:
		return nil, eris.Errorf("provider.New: unknown provider %q", cfg.Provider)
	}
}
