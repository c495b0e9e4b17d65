package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/theimaginaryfoundation/quotemine/extraction"
)

var fastRetry = RetryPolicy{
	RateLimitWaits:   []time.Duration{time.Millisecond},
	ServerErrorWaits: []time.Duration{time.Millisecond, time.Millisecond},
}

func TestGenerateSchema_Strict(t *testing.T) {
	t.Parallel()

	schema := GenerateSchema[extraction.QuoteEnvelope]()
	assert.NotContains(t, schema, "$schema")
	assert.Equal(t, false, schema["additionalProperties"])
	assert.ElementsMatch(t, []string{"quotes"}, schema["required"])

	quotes := schema["properties"].(map[string]any)["quotes"].(map[string]any)
	item := quotes["items"].(map[string]any)
	assert.Equal(t, false, item["additionalProperties"])
	assert.ElementsMatch(t, []string{"page_start", "page_end", "category", "tags", "quote"}, item["required"])
}

func TestClassify(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  error
		want errorClass
	}{
		{nil, classPermanent},
		{errors.New("429 Too Many Requests"), classRateLimit},
		{errors.New("rate limit reached"), classRateLimit},
		{errors.New("500 internal server error"), classServer},
		{errors.New("model overloaded"), classServer},
		{errors.New("400 bad request"), classPermanent},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, classify(tc.err), "%v", tc.err)
	}
}

func TestCallWithRetry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	var n int
	out, err := callWithRetry(ctx, fastRetry, zap.NewNop(), func(context.Context) (string, error) {
		n++
		if n < 3 {
			return "", errors.New("500 internal server error")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 3, n)

	n = 0
	_, err = callWithRetry(ctx, fastRetry, zap.NewNop(), func(context.Context) (string, error) {
		n++
		return "", errors.New("429 too many requests")
	})
	assert.Error(t, err)
	assert.Equal(t, 2, n)

	n = 0
	_, err = callWithRetry(ctx, fastRetry, zap.NewNop(), func(context.Context) (string, error) {
		n++
		return "", errors.New("invalid request")
	})
	assert.EqualError(t, err, "invalid request")
	assert.Equal(t, 1, n)
}

func TestCallWithRetry_CancelDuringWait(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	policy := RetryPolicy{RateLimitWaits: []time.Duration{time.Hour}}
	_, err := callWithRetry(ctx, policy, zap.NewNop(), func(context.Context) (int, error) {
		cancel()
		return 0, errors.New("rate limit")
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCallWithRetry_WaitBeyondDeadlineFailsFast(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	policy := RetryPolicy{RateLimitWaits: []time.Duration{time.Hour}}

	var n int
	start := time.Now()
	_, err := callWithRetry(ctx, policy, zap.NewNop(), func(context.Context) (int, error) {
		n++
		return 0, errors.New("429 too many requests")
	})
	require.Error(t, err)
	assert.NotErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "429 too many requests")
	assert.Equal(t, 1, n)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestDefaultRetryPolicy_FitsCallTimeout(t *testing.T) {
	t.Parallel()

	var total time.Duration
	for _, w := range DefaultRetryPolicy().RateLimitWaits {
		total += w
	}
	assert.Less(t, total, extraction.DefaultCallTimeout)
	total = 0
	for _, w := range DefaultRetryPolicy().ServerErrorWaits {
		total += w
	}
	assert.Less(t, total, extraction.DefaultCallTimeout)
}

func TestResolveAPIKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", " env-key ")

	key, err := ResolveAPIKey(OpenAI, "")
	require.NoError(t, err)
	assert.Equal(t, "env-key", key)

	key, err = ResolveAPIKey(OpenAI, "explicit")
	require.NoError(t, err)
	assert.Equal(t, "explicit", key)

	_, err = ResolveAPIKey(Anthropic, "")
	assert.ErrorIs(t, err, extraction.ErrMissingCredential)

	key, err = ResolveAPIKey(Ollama, "")
	require.NoError(t, err)
	assert.Empty(t, key)
}

func TestNew(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Provider: "bogus", Model: "m", APIKey: "k"}, FormatText)
	assert.Error(t, err)

	_, err = New(Config{Provider: OpenAI, Model: "m"}, FormatText)
	assert.ErrorIs(t, err, extraction.ErrMissingCredential)

	ex, err := New(Config{Provider: Anthropic, Model: "m", APIKey: "k"}, FormatText)
	require.NoError(t, err)
	assert.IsType(t, &AnthropicExtractor{}, ex)

	ex, err = New(Config{Provider: Ollama}, FormatText)
	require.NoError(t, err)
	assert.IsType(t, &OllamaExtractor{}, ex)
	assert.Equal(t, DefaultOllamaModel, ex.(*OllamaExtractor).model)
}

func TestDefaultModel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "gpt-5-mini", DefaultModel(OpenAI))
	assert.Equal(t, "gpt-5-mini", DefaultModel(""))
	assert.Equal(t, "llama3.2", DefaultModel(Ollama))
	assert.True(t, NeedsCredential(Anthropic))
	assert.False(t, NeedsCredential(Ollama))
}

const chatReply = `{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "created": 1,
  "model": "llama3.2",
  "choices": [{
    "index": 0,
    "finish_reason": "stop",
    "message": {"role": "assistant", "content": %q}
  }],
  "usage": {"prompt_tokens": 3, "completion_tokens": 2, "total_tokens": 5}
}`

func TestOllamaExtractor_Extract(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = io.WriteString(w, `{"error":{"message":"model loading","type":"server_error"}}`)
			return
		}
		assert.Equal(t, "/chat/completions", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, chatReply, ` {"quotes": []} `)
	}))
	t.Cleanup(srv.Close)

	ex, err := NewOllamaExtractor(Config{BaseURL: srv.URL, MaxOutputTokens: 77, Retry: fastRetry}, FormatQuotes)
	require.NoError(t, err)

	out, err := ex.Extract(context.Background(), extraction.ExtractionRequest{Instructions: "INSTR", InputText: "TEXT"})
	require.NoError(t, err)
	assert.Equal(t, `{"quotes": []}`, out)
	assert.Equal(t, int32(2), calls.Load())

	assert.Equal(t, "llama3.2", body["model"])
	assert.Equal(t, float64(77), body["max_tokens"])
	format := body["response_format"].(map[string]any)
	assert.Equal(t, "json_object", format["type"])
	msgs := body["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	assert.Equal(t, "user", msgs[1].(map[string]any)["role"])
}

func TestOllamaExtractor_TextFormatHasNoResponseFormat(t *testing.T) {
	t.Parallel()

	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, chatReply, "COMPILATIONS\nbody")
	}))
	t.Cleanup(srv.Close)

	ex, err := NewOllamaExtractor(Config{Model: "qwen2.5", BaseURL: srv.URL, Retry: fastRetry}, FormatText)
	require.NoError(t, err)
	out, err := ex.Extract(context.Background(), extraction.ExtractionRequest{InputText: "TEXT"})
	require.NoError(t, err)
	assert.Equal(t, "COMPILATIONS\nbody", out)
	assert.Equal(t, "qwen2.5", body["model"])
	assert.NotContains(t, body, "response_format")
	assert.Len(t, body["messages"], 1)
}

const responsesReply = `{
  "id": "resp_1",
  "object": "response",
  "created_at": 1,
  "model": "gpt-5-mini",
  "status": "completed",
  "output": [{
    "type": "message",
    "id": "msg_1",
    "role": "assistant",
    "status": "completed",
    "content": [{"type": "output_text", "text": %q, "annotations": []}]
  }]
}`

func TestOpenAIExtractor_Extract(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = io.WriteString(w, `{"error":{"message":"busy","type":"server_error"}}`)
			return
		}
		assert.Equal(t, "/responses", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, responsesReply, ` {"quotes": []} `)
	}))
	t.Cleanup(srv.Close)

	ex, err := NewOpenAIExtractor(Config{Model: "gpt-5-mini", APIKey: "k", BaseURL: srv.URL, Retry: fastRetry}, FormatQuotes)
	require.NoError(t, err)

	out, err := ex.Extract(context.Background(), extraction.ExtractionRequest{Instructions: "INSTR", InputText: "TEXT"})
	require.NoError(t, err)
	assert.Equal(t, `{"quotes": []}`, out)
	assert.Equal(t, int32(2), calls.Load())

	assert.Equal(t, "gpt-5-mini", body["model"])
	assert.Equal(t, "INSTR", body["instructions"])
	format := body["text"].(map[string]any)["format"].(map[string]any)
	assert.Equal(t, "json_schema", format["type"])
	assert.Equal(t, "QuoteEnvelope", format["name"])
	assert.Equal(t, true, format["strict"])
}

func TestOpenAIExtractor_PermanentError(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"message":"bad","type":"invalid_request_error"}}`)
	}))
	t.Cleanup(srv.Close)

	ex, err := NewOpenAIExtractor(Config{Model: "m", APIKey: "k", BaseURL: srv.URL, Retry: fastRetry}, FormatText)
	require.NoError(t, err)
	_, err = ex.Extract(context.Background(), extraction.ExtractionRequest{InputText: "x"})
	assert.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestAnthropicExtractor_Extract(t *testing.T) {
	t.Parallel()

	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
  "id": "msg_1",
  "type": "message",
  "role": "assistant",
  "model": "claude-test",
  "content": [{"type": "text", "text": "COMPILATIONS\n"}, {"type": "text", "text": "body"}],
  "stop_reason": "end_turn",
  "usage": {"input_tokens": 3, "output_tokens": 2}
}`)
	}))
	t.Cleanup(srv.Close)

	ex, err := NewAnthropicExtractor(Config{Model: "claude-test", APIKey: "k", BaseURL: srv.URL, MaxOutputTokens: 123, Retry: fastRetry})
	require.NoError(t, err)

	out, err := ex.Extract(context.Background(), extraction.ExtractionRequest{Instructions: "SYS", InputText: "TEXT"})
	require.NoError(t, err)
	assert.Equal(t, "COMPILATIONS\nbody", out)
	assert.Equal(t, "claude-test", body["model"])
	assert.Equal(t, float64(123), body["max_tokens"])
	system := body["system"].([]any)
	assert.Equal(t, "SYS", system[0].(map[string]any)["text"])
}
