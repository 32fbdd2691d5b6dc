// internal/llmclient/gemini_client.go
package llmclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"
	"google.golang.org/genai"

	"github.com/xkilldash9x/autoapply/internal/config"
)

var (
	// ErrEmptyResponse is returned when the model produced no text.
	ErrEmptyResponse = errors.New("llm returned an empty response")
	// ErrBlocked is returned when the prompt was refused by safety filters.
	ErrBlocked = errors.New("llm blocked the request")
	// ErrUnavailable is returned while the circuit breaker is open.
	ErrUnavailable = errors.New("llm temporarily unavailable")
)

// GenerationOptions tune a single request.
type GenerationOptions struct {
	Temperature     *float32
	ForceJSONFormat bool
	Schema          *genai.Schema
}

// GenerationRequest is one prompt exchange. ContextPrompts are sent as
// separate user turns ahead of UserPrompt.
type GenerationRequest struct {
	SystemPrompt   string
	ContextPrompts []string
	UserPrompt     string
	Options        GenerationOptions
}

// Generator produces text for a request.
type Generator interface {
	Generate(ctx context.Context, req GenerationRequest) (string, error)
}

// Embedder maps texts to vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// models is the slice of the genai Models service the client calls.
type models interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

// GeminiClient talks to Gemini through the genai SDK with rate limiting,
// retries and a circuit breaker.
type GeminiClient struct {
	models     models
	cfg        config.LLMConfig
	breaker    *gobreaker.CircuitBreaker[*genai.GenerateContentResponse]
	limiter    *rate.Limiter
	newBackOff func() backoff.BackOff
	logger     *zap.Logger
}

var (
	_ Generator = (*GeminiClient)(nil)
	_ Embedder  = (*GeminiClient)(nil)
)

// NewGeminiClient initializes the client.
func NewGeminiClient(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return newGeminiClient(client.Models, cfg, logger), nil
}

func newGeminiClient(m models, cfg config.LLMConfig, logger *zap.Logger) *GeminiClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("llm_client.gemini")

	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.RequestsPerMinute))
	}

	c := &GeminiClient{
		models:  m,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
	}
	c.newBackOff = func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = time.Second
		b.MaxInterval = 30 * time.Second
		b.MaxElapsedTime = 2 * time.Minute
		return backoff.WithMaxRetries(b, uint64(max(cfg.MaxRetries, 0)))
	}

	if cb := cfg.CircuitBreaker; cb.Enabled {
		c.breaker = gobreaker.NewCircuitBreaker[*genai.GenerateContentResponse](gobreaker.Settings{
			Name:        "llm-" + cfg.Model,
			MaxRequests: cb.MaxRequests,
			Interval:    cb.Interval,
			Timeout:     cb.Timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				if counts.Requests < cb.MinRequests || counts.Requests == 0 {
					return false
				}
				return float64(counts.TotalFailures)/float64(counts.Requests) >= cb.FailureThreshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("LLM circuit breaker changed state.",
					zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
			},
		})
	}
	return c
}

// Generate sends the prompts and returns the model's text.
func (c *GeminiClient) Generate(ctx context.Context, req GenerationRequest) (string, error) {
	contents := make([]*genai.Content, 0, len(req.ContextPrompts)+1)
	for _, p := range req.ContextPrompts {
		contents = append(contents, genai.NewContentFromText(p, genai.RoleUser))
	}
	contents = append(contents, genai.NewContentFromText(req.UserPrompt, genai.RoleUser))
	gc := c.buildConfig(req)

	call := func() (*genai.GenerateContentResponse, error) {
		return c.generateWithRetry(ctx, contents, gc)
	}

	start := time.Now()
	var (
		resp *genai.GenerateContentResponse
		err  error
	)
	if c.breaker != nil {
		resp, err = c.breaker.Execute(call)
	} else {
		resp, err = call()
	}
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return "", err
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyResponse
	}

	fields := []zap.Field{zap.Duration("duration", time.Since(start))}
	if u := resp.UsageMetadata; u != nil {
		fields = append(fields,
			zap.Int32("prompt_tokens", u.PromptTokenCount),
			zap.Int32("completion_tokens", u.CandidatesTokenCount),
			zap.Int32("total_tokens", u.TotalTokenCount))
	}
	c.logger.Info("LLM generation complete.", fields...)
	return text, nil
}

func (c *GeminiClient) generateWithRetry(ctx context.Context, contents []*genai.Content, gc *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	var resp *genai.GenerateContentResponse
	op := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		r, err := c.models.GenerateContent(ctx, c.cfg.Model, contents, gc)
		if err != nil {
			if !isRetryable(err) {
				return backoff.Permanent(err)
			}
			c.logger.Warn("Retryable LLM error.", zap.Error(err))
			return err
		}
		if r.PromptFeedback != nil && r.PromptFeedback.BlockReason != "" {
			return backoff.Permanent(fmt.Errorf("%w: %s", ErrBlocked, r.PromptFeedback.BlockReason))
		}
		resp = r
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(c.newBackOff(), ctx)); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *GeminiClient) buildConfig(req GenerationRequest) *genai.GenerateContentConfig {
	gc := &genai.GenerateContentConfig{
		MaxOutputTokens: c.cfg.MaxOutputTokens,
	}
	temp := c.cfg.Temperature
	if req.Options.Temperature != nil {
		temp = *req.Options.Temperature
	}
	gc.Temperature = &temp
	if req.SystemPrompt != "" {
		gc.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if req.Options.ForceJSONFormat || req.Options.Schema != nil {
		gc.ResponseMIMEType = "application/json"
		gc.ResponseSchema = req.Options.Schema
	}
	return gc
}

// embedBatch is the most texts sent in one embedding call.
const embedBatch = 100

// Embed returns one vector per text using the embedding model.
func (c *GeminiClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += embedBatch {
		end := min(start+embedBatch, len(texts))
		contents := make([]*genai.Content, 0, end-start)
		for _, t := range texts[start:end] {
			contents = append(contents, genai.NewContentFromText(t, genai.RoleUser))
		}

		var res *genai.EmbedContentResponse
		op := func() error {
			if err := c.limiter.Wait(ctx); err != nil {
				return backoff.Permanent(err)
			}
			r, err := c.models.EmbedContent(ctx, c.cfg.EmbeddingModel, contents, &genai.EmbedContentConfig{TaskType: "SEMANTIC_SIMILARITY"})
			if err != nil {
				if !isRetryable(err) {
					return backoff.Permanent(err)
				}
				return err
			}
			res = r
			return nil
		}
		if err := backoff.Retry(op, backoff.WithContext(c.newBackOff(), ctx)); err != nil {
			return nil, fmt.Errorf("embedding batch %d: %w", start/embedBatch, err)
		}
		if len(res.Embeddings) != end-start {
			return nil, fmt.Errorf("embedding batch %d: got %d vectors for %d texts", start/embedBatch, len(res.Embeddings), end-start)
		}
		for _, e := range res.Embeddings {
			out = append(out, e.Values)
		}
	}
	return out, nil
}

// isRetryable reports transient failures: network errors, rate limiting and
// server errors.
func isRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.Code)
	}
	// genai reports HTTP failures with the status in the message.
	msg := err.Error()
	for _, marker := range []string{"RESOURCE_EXHAUSTED", "UNAVAILABLE", "INTERNAL", "Error 429", "Error 500", "Error 502", "Error 503", "Error 504"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}
