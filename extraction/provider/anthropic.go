package provider

import (
	"context"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/theimaginaryfoundation/quotemine/extraction"
)

// AnthropicExtractor sends requests through the Anthropic Messages API. Structured
// output is requested through the instructions only; replies go through the same
// tolerant parser as any other backend.
type AnthropicExtractor struct {
	client    anthropic.Client
	model     string
	maxOutput int64
	retry     RetryPolicy
	log       *zap.Logger
}

func NewAnthropicExtractor(cfg Config) (*AnthropicExtractor, error) {
	if cfg.APIKey == "" {
		return nil, eris.Wrap(extraction.ErrMissingCredential, "NewAnthropicExtractor")
	}
	if cfg.Model == "" {
		return nil, eris.New("NewAnthropicExtractor: model is empty")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey), option.WithMaxRetries(0)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	cfg = cfg.withDefaults()
	return &AnthropicExtractor{
		client:    anthropic.NewClient(opts...),
		model:     cfg.Model,
		maxOutput: cfg.MaxOutputTokens,
		retry:     cfg.Retry,
		log:       cfg.Logger,
	}, nil
}

// Extract implements extraction.Extractor.
func (a *AnthropicExtractor) Extract(ctx context.Context, req extraction.ExtractionRequest) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: a.maxOutput,
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(req.InputText))},
	}
	if req.Instructions != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.Instructions}}
	}

	msg, err := callWithRetry(ctx, a.retry, a.log, func(ctx context.Context) (*anthropic.Message, error) {
		return a.client.Messages.New(ctx, params)
	})
	if err != nil {
		return "", eris.Wrap(err, "AnthropicExtractor.Extract")
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", eris.New("AnthropicExtractor.Extract: empty output")
	}
	return text, nil
}
