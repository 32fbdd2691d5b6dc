// internal/llmclient/gemini_client_test.go
package llmclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/api/googleapi"
	"google.golang.org/genai"

	"github.com/xkilldash9x/autoapply/internal/config"
)

// fakeModels scripts GenerateContent and EmbedContent results.
type fakeModels struct {
	mu        sync.Mutex
	responses []*genai.GenerateContentResponse
	errs      []error
	calls     int
	contents  [][]*genai.Content
	configs   []*genai.GenerateContentConfig
	embed     func(contents []*genai.Content) (*genai.EmbedContentResponse, error)
}

func (f *fakeModels) GenerateContent(_ context.Context, _ string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	f.contents = append(f.contents, contents)
	f.configs = append(f.configs, cfg)
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i < len(f.responses) {
		return f.responses[i], nil
	}
	return textResponse("default"), nil
}

func (f *fakeModels) EmbedContent(_ context.Context, _ string, contents []*genai.Content, _ *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error) {
	return f.embed(contents)
}

func textResponse(s string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: genai.NewContentFromText(s, genai.RoleModel)}},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{
			PromptTokenCount: 10, CandidatesTokenCount: 5, TotalTokenCount: 15,
		},
	}
}

func testLLMConfig() config.LLMConfig {
	cfg := config.NewDefaultConfig().LLM()
	cfg.APIKey = "test-key"
	cfg.MaxRetries = 2
	cfg.RequestsPerMinute = 0
	cfg.CircuitBreaker.Enabled = false
	return cfg
}

func newTestClient(t *testing.T, m models, cfg config.LLMConfig, logger *zap.Logger) *GeminiClient {
	t.Helper()
	c := newGeminiClient(m, cfg, logger)
	c.newBackOff = func() backoff.BackOff {
		return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, uint64(cfg.MaxRetries))
	}
	return c
}

func TestNewGeminiClient_RequiresKey(t *testing.T) {
	cfg := testLLMConfig()
	cfg.APIKey = ""
	_, err := NewGeminiClient(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key is required")
}

func TestGenerate(t *testing.T) {
	t.Run("Success Logs Usage", func(t *testing.T) {
		core, logs := observer.New(zapcore.InfoLevel)
		m := &fakeModels{responses: []*genai.GenerateContentResponse{textResponse(`{"ok":true}`)}}
		c := newTestClient(t, m, testLLMConfig(), zap.New(core))

		temp := float32(0.7)
		out, err := c.Generate(context.Background(), GenerationRequest{
			SystemPrompt:   "system",
			ContextPrompts: []string{"profile"},
			UserPrompt:     "question",
			Options:        GenerationOptions{Temperature: &temp, ForceJSONFormat: true},
		})
		require.NoError(t, err)
		assert.Equal(t, `{"ok":true}`, out)

		require.Len(t, m.contents, 1)
		assert.Len(t, m.contents[0], 2, "context prompt and user prompt are separate turns")
		gc := m.configs[0]
		assert.Equal(t, "application/json", gc.ResponseMIMEType)
		require.NotNil(t, gc.Temperature)
		assert.Equal(t, temp, *gc.Temperature)
		require.NotNil(t, gc.SystemInstruction)

		entries := logs.FilterMessage("LLM generation complete.").All()
		require.Len(t, entries, 1)
		assert.EqualValues(t, 15, entries[0].ContextMap()["total_tokens"])
	})

	t.Run("Retries Transient Errors", func(t *testing.T) {
		m := &fakeModels{
			errs: []error{&googleapi.Error{Code: 429}, &googleapi.Error{Code: 503}},
			responses: []*genai.GenerateContentResponse{nil, nil, textResponse("third time")},
		}
		c := newTestClient(t, m, testLLMConfig(), zap.NewNop())
		out, err := c.Generate(context.Background(), GenerationRequest{UserPrompt: "q"})
		require.NoError(t, err)
		assert.Equal(t, "third time", out)
		assert.Equal(t, 3, m.calls)
	})

	t.Run("Permanent Error Stops Immediately", func(t *testing.T) {
		m := &fakeModels{errs: []error{&googleapi.Error{Code: 400, Message: "bad request"}}}
		c := newTestClient(t, m, testLLMConfig(), zap.NewNop())
		_, err := c.Generate(context.Background(), GenerationRequest{UserPrompt: "q"})
		require.Error(t, err)
		assert.Equal(t, 1, m.calls)
	})

	t.Run("Empty Response", func(t *testing.T) {
		m := &fakeModels{responses: []*genai.GenerateContentResponse{textResponse("   ")}}
		c := newTestClient(t, m, testLLMConfig(), zap.NewNop())
		_, err := c.Generate(context.Background(), GenerationRequest{UserPrompt: "q"})
		assert.ErrorIs(t, err, ErrEmptyResponse)
	})

	t.Run("Blocked Prompt", func(t *testing.T) {
		resp := textResponse("")
		resp.PromptFeedback = &genai.GenerateContentResponsePromptFeedback{BlockReason: genai.BlockedReasonSafety}
		m := &fakeModels{responses: []*genai.GenerateContentResponse{resp}}
		c := newTestClient(t, m, testLLMConfig(), zap.NewNop())
		_, err := c.Generate(context.Background(), GenerationRequest{UserPrompt: "q"})
		assert.ErrorIs(t, err, ErrBlocked)
		assert.Equal(t, 1, m.calls)
	})

	t.Run("Circuit Breaker Opens", func(t *testing.T) {
		cfg := testLLMConfig()
		cfg.MaxRetries = 0
		cfg.CircuitBreaker = config.CircuitBreakerConfig{
			Enabled: true, MaxRequests: 1, MinRequests: 2,
			Interval: time.Minute, Timeout: time.Minute, FailureThreshold: 0.5,
		}
		boom := &googleapi.Error{Code: 500}
		m := &fakeModels{errs: []error{boom, boom, boom}}
		c := newTestClient(t, m, cfg, zap.NewNop())

		for i := 0; i < 2; i++ {
			_, err := c.Generate(context.Background(), GenerationRequest{UserPrompt: "q"})
			require.Error(t, err)
		}
		_, err := c.Generate(context.Background(), GenerationRequest{UserPrompt: "q"})
		assert.ErrorIs(t, err, ErrUnavailable)
		assert.Equal(t, 2, m.calls, "an open breaker must not reach the API")
	})
}

func TestEmbed(t *testing.T) {
	m := &fakeModels{embed: func(contents []*genai.Content) (*genai.EmbedContentResponse, error) {
		resp := &genai.EmbedContentResponse{}
		for i := range contents {
			resp.Embeddings = append(resp.Embeddings, &genai.ContentEmbedding{Values: []float32{float32(i), 1}})
		}
		return resp, nil
	}}
	c := newTestClient(t, m, testLLMConfig(), zap.NewNop())

	texts := make([]string, embedBatch+3)
	for i := range texts {
		texts[i] = fmt.Sprintf("label %d", i)
	}
	vecs, err := c.Embed(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, len(texts))
	assert.Equal(t, []float32{2, 1}, vecs[embedBatch+2], "second batch restarts indexing")

	m.embed = func([]*genai.Content) (*genai.EmbedContentResponse, error) {
		return &genai.EmbedContentResponse{}, nil
	}
	_, err = c.Embed(context.Background(), []string{"one"})
	assert.Error(t, err, "a vector count mismatch is an error")
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"Nil", nil, false},
		{"Canceled", context.Canceled, false},
		{"Too Many Requests", &googleapi.Error{Code: 429}, true},
		{"Bad Gateway", fmt.Errorf("wrapped: %w", &googleapi.Error{Code: 502}), true},
		{"Bad Request", &googleapi.Error{Code: 400}, false},
		{"Quota Message", errors.New("Error 429, Message: quota, Status: RESOURCE_EXHAUSTED"), true},
		{"Plain", errors.New("invalid argument"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isRetryable(tt.err))
		})
	}
}

func TestNewClient(t *testing.T) {
	_, err := NewClient(context.Background(), config.LLMConfig{Provider: config.ProviderNone}, nil)
	assert.ErrorIs(t, err, ErrDisabled)

	_, err = NewClient(context.Background(), config.LLMConfig{Provider: "mystery"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported LLM provider")
}
