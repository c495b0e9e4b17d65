package provider

import (
	"context"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/theimaginaryfoundation/quotemine/extraction"
)

var (
	quoteEnvelopeSchema = GenerateSchema[extraction.QuoteEnvelope]()
	itemEnvelopeSchema  = GenerateSchema[extraction.ItemEnvelope]()
)

// OpenAIExtractor sends requests through the OpenAI Responses API.
type OpenAIExtractor struct {
	client    *openai.Client
	model     string
	format    Format
	maxOutput int64
	flex      bool
	retry     RetryPolicy
	log       *zap.Logger
}

func NewOpenAIExtractor(cfg Config, format Format) (*OpenAIExtractor, error) {
	if cfg.APIKey == "" {
		return nil, eris.Wrap(extraction.ErrMissingCredential, "NewOpenAIExtractor")
	}
	if cfg.Model == "" {
		return nil, eris.New("NewOpenAIExtractor: model is empty")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey), option.WithMaxRetries(0)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := openai.NewClient(opts...)
	cfg = cfg.withDefaults()
	return &OpenAIExtractor{
		client:    &client,
		model:     cfg.Model,
		format:    format,
		maxOutput: cfg.MaxOutputTokens,
		flex:      cfg.FlexTier,
		retry:     cfg.Retry,
		log:       cfg.Logger,
	}, nil
}

func (o *OpenAIExtractor) params(req extraction.ExtractionRequest) responses.ResponseNewParams {
	params := responses.ResponseNewParams{
		Model:           o.model,
		MaxOutputTokens: openai.Int(o.maxOutput),
		Instructions:    openai.String(req.Instructions),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: []responses.ResponseInputItemUnionParam{
				responses.ResponseInputItemParamOfMessage(req.InputText, responses.EasyInputMessageRoleUser),
			},
		},
	}
	if o.flex {
		params.ServiceTier = responses.ResponseNewParamsServiceTierFlex
	}

	var schema map[string]any
	var name, desc string
	switch o.format {
	case FormatQuotes:
		schema, name, desc = quoteEnvelopeSchema, "QuoteEnvelope", "Verbatim quotes JSON"
	case FormatItems:
		schema, name, desc = itemEnvelopeSchema, "ItemEnvelope", "Reconstructed apps JSON"
	}
	if schema != nil {
		params.Text = responses.ResponseTextConfigParam{
			Format: responses.ResponseFormatTextConfigUnionParam{
				OfJSONSchema: &responses.ResponseFormatTextJSONSchemaConfigParam{
					Name:        name,
					Schema:      schema,
					Strict:      openai.Bool(true),
					Description: openai.String(desc),
					Type:        "json_schema",
				},
			},
		}
	}
	return params
}

// Extract implements extraction.Extractor.
func (o *OpenAIExtractor) Extract(ctx context.Context, req extraction.ExtractionRequest) (string, error) {
	params := o.params(req)
	resp, err := callWithRetry(ctx, o.retry, o.log, func(ctx context.Context) (*responses.Response, error) {
		return o.client.Responses.New(ctx, params)
	})
	if err != nil {
		return "", eris.Wrap(err, "OpenAIExtractor.Extract")
	}
	text := strings.TrimSpace(resp.OutputText())
	if text == "" {
		return "", eris.New("OpenAIExtractor.Extract: empty output")
	}
	return text, nil
}
