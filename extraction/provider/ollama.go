package provider

import (
	"context"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/theimaginaryfoundation/quotemine/extraction"
)

const (
	// DefaultOllamaBaseURL is the OpenAI-compatible endpoint of a local Ollama server.
	DefaultOllamaBaseURL = "http://localhost:11434/v1/"
	DefaultOllamaModel   = "llama3.2"
)

// OllamaExtractor runs requests against a local model through Ollama's
// OpenAI-compatible chat completions endpoint. No credential is needed. Local models
// do not honor strict schemas, so JSON formats only ask for a JSON object and the
// tolerant parser does the rest.
type OllamaExtractor struct {
	client    *openai.Client
	model     string
	format    Format
	maxOutput int64
	retry     RetryPolicy
	log       *zap.Logger
}

func NewOllamaExtractor(cfg Config, format Format) (*OllamaExtractor, error) {
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaModel
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultOllamaBaseURL
	}
	key := cfg.APIKey
	if key == "" {
		// The SDK sends a bearer header regardless; Ollama ignores it.
		key = "ollama"
	}
	client := openai.NewClient(option.WithAPIKey(key), option.WithBaseURL(baseURL), option.WithMaxRetries(0))
	cfg = cfg.withDefaults()
	return &OllamaExtractor{
		client:    &client,
		model:     cfg.Model,
		format:    format,
		maxOutput: cfg.MaxOutputTokens,
		retry:     cfg.Retry,
		log:       cfg.Logger,
	}, nil
}

func (o *OllamaExtractor) params(req extraction.ExtractionRequest) openai.ChatCompletionNewParams {
	var msgs []openai.ChatCompletionMessageParamUnion
	if req.Instructions != "" {
		msgs = append(msgs, openai.SystemMessage(req.Instructions))
	}
	msgs = append(msgs, openai.UserMessage(req.InputText))

	params := openai.ChatCompletionNewParams{
		Model:     openai.ChatModel(o.model),
		Messages:  msgs,
		MaxTokens: openai.Int(o.maxOutput),
	}
	if o.format != FormatText {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}
	return params
}

// Extract implements extraction.Extractor.
func (o *OllamaExtractor) Extract(ctx context.Context, req extraction.ExtractionRequest) (string, error) {
	params := o.params(req)
	resp, err := callWithRetry(ctx, o.retry, o.log, func(ctx context.Context) (*openai.ChatCompletion, error) {
		return o.client.Chat.Completions.New(ctx, params)
	})
	if err != nil {
		return "", eris.Wrap(err, "OllamaExtractor.Extract")
	}
	if len(resp.Choices) == 0 {
		return "", eris.New("OllamaExtractor.Extract: no choices")
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", eris.New("OllamaExtractor.Extract: empty output")
	}
	return text, nil
}
