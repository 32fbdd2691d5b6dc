// internal/llmclient/answerer.go
package llmclient

import (
	"context"
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/autoapply/internal/jobdata"
	"github.com/xkilldash9x/autoapply/internal/llmutil"
	"github.com/xkilldash9x/autoapply/internal/observability"
	"github.com/xkilldash9x/autoapply/internal/profile"
	"github.com/xkilldash9x/autoapply/internal/question"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Answerer answers batches of form questions from the candidate profile.
type Answerer struct {
	gen         Generator
	profile     *profile.Profile
	profileJSON []byte
	useSchema   bool
	metrics     *observability.Metrics
	logger      *zap.Logger
}

// AnswererOption customizes an Answerer.
type AnswererOption func(*Answerer)

// WithMetrics records batch outcomes.
func WithMetrics(m *observability.Metrics) AnswererOption {
	return func(a *Answerer) { a.metrics = m }
}

// WithResponseSchema asks the model for schema-constrained output.
func WithResponseSchema(enabled bool) AnswererOption {
	return func(a *Answerer) { a.useSchema = enabled }
}

// NewAnswerer renders the sanitized profile once.
func NewAnswerer(gen Generator, p *profile.Profile, logger *zap.Logger, opts ...AnswererOption) (*Answerer, error) {
	if gen == nil {
		return nil, fmt.Errorf("answerer requires a generator")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Answerer{gen: gen, profile: p, useSchema: true, logger: logger.Named("llm_answerer")}
	for _, opt := range opts {
		opt(a)
	}
	if p != nil {
		view, err := p.ForLLM()
		if err != nil {
			return nil, fmt.Errorf("failed to prepare profile for prompt: %w", err)
		}
		if a.profileJSON, err = json.MarshalIndent(view, "", "  "); err != nil {
			return nil, fmt.Errorf("failed to encode profile: %w", err)
		}
	}
	return a, nil
}

// Answer sends the batch as one request. Responses for ids that were not
// asked are dropped; questions the model skipped are simply absent.
func (a *Answerer) Answer(ctx context.Context, reqs []question.LLMRequest, job jobdata.Details) ([]question.LLMResponse, error) {
	if len(reqs) == 0 {
		return nil, nil
	}
	req := GenerationRequest{
		SystemPrompt: SystemPrompt(job),
		UserPrompt:   BatchPrompt(reqs, a.snippets),
		Options:      GenerationOptions{ForceJSONFormat: true},
	}
	if len(a.profileJSON) > 0 {
		req.ContextPrompts = []string{ContextPrompt(a.profileJSON)}
	}
	if a.useSchema {
		req.Options.Schema = responseSchema()
	}

	a.logger.Info("Sending question batch to LLM.", zap.Int("questions", len(reqs)))
	raw, err := a.gen.Generate(ctx, req)
	if err != nil {
		a.metrics.LLMBatch("error")
		return nil, fmt.Errorf("llm batch failed: %w", err)
	}

	parsed, err := llmutil.ParseJSONResponse[[]question.LLMResponse](raw)
	if err != nil {
		a.metrics.LLMBatch("unparseable")
		return nil, fmt.Errorf("failed to parse llm batch response: %w", err)
	}

	asked := make(map[string]question.LLMRequest, len(reqs))
	for _, r := range reqs {
		asked[r.QuestionID] = r
	}
	out := make([]question.LLMResponse, 0, len(*parsed))
	for _, resp := range *parsed {
		r, ok := asked[resp.QuestionID]
		if !ok {
			a.logger.Debug("Dropping answer for unknown question.", zap.String("question_id", resp.QuestionID))
			continue
		}
		out = append(out, shape(r, resp))
		delete(asked, resp.QuestionID)
	}
	for qid := range asked {
		a.logger.Debug("LLM left question unanswered.", zap.String("question_id", qid))
	}
	a.metrics.LLMBatch("ok")
	return out, nil
}

func (a *Answerer) snippets(r question.LLMRequest) map[string]any {
	if a.profile == nil || len(r.RelevantDBKeys) == 0 {
		return nil
	}
	return a.profile.Snippets(r.RelevantDBKeys)
}

// shape folds schema arrays back into scalars for single-value questions.
func shape(r question.LLMRequest, resp question.LLMResponse) question.LLMResponse {
	multi := r.Type == question.KindMultiselect || (r.Type == question.KindCheckbox && len(r.Options) > 1)
	if multi {
		resp.Response.List = true
		return resp
	}
	if resp.Response.List {
		first := ""
		if len(resp.Response.Values) > 0 {
			first = resp.Response.Values[0]
		}
		resp.Response = question.Text(first)
	}
	return resp
}
