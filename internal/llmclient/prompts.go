// internal/llmclient/prompts.go
package llmclient

import (
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/xkilldash9x/autoapply/internal/jobdata"
	"github.com/xkilldash9x/autoapply/internal/question"
)

const answerRules = `You answer job application form questions on behalf of a candidate.

You are given a structured candidate profile (ground truth), the job being
applied for, and a batch of form questions. Questions may carry hints,
related profile entries and the options the form offers.

Answer priority, highest first:
1. Legal and compliance facts (work authorization, visa status, citizenship,
   criminal record, age, disability) must be copied from the profile and are
   never inferred or optimized.
2. Eligibility constraints (location, remote work, start date, relocation):
   when several truthful answers exist, pick the one that keeps the candidate
   eligible for this job.
3. Fit with the job title, description and required skills.
4. Profile data as factual backing; summarize or select rather than copy.
5. Hints, only when they make the answer clearer.

Never invent facts the profile does not support. When data is missing, infer
conservatively. Never answer with placeholders, templates or instructions such
as "[City]", "XXX" or "your email here". Never use markdown; URLs are plain text.`

const outputRules = `Output rules:
- Reply with a JSON array only, one object per question:
  [{"questionId": "<id>", "response": <answer>}]
- response is a string for single-value questions and an array of strings for
  multi-choice questions.
- When options are listed, every answer must be copied exactly from them.
- Required questions must get a non-empty answer.
- No explanations, no extra keys, no text around the JSON.`

// SystemPrompt renders the rules and the job being applied for.
func SystemPrompt(job jobdata.Details) string {
	var b strings.Builder
	b.WriteString(answerRules)
	if fields := job.Fields(); len(fields) > 0 {
		b.WriteString("\n\n=== Job Details ===\n")
		for _, f := range fields {
			fmt.Fprintf(&b, "\n%s:\n%s\n", f[0], f[1])
		}
		b.WriteString("\n=== End Job Details ===")
	}
	b.WriteString("\n\n")
	b.WriteString(outputRules)
	return b.String()
}

// ContextPrompt carries the sanitized profile.
func ContextPrompt(profileJSON []byte) string {
	return "Candidate profile (primary source of truth):\n" + string(profileJSON)
}

// QuestionPrompt renders one question block.
func QuestionPrompt(req question.LLMRequest, snippets map[string]any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "--- Question %s ---\n", req.QuestionID)
	fmt.Fprintf(&b, "Label: %s\n", strings.TrimSpace(req.Label))
	fmt.Fprintf(&b, "Type: %s\n", req.Type)
	fmt.Fprintf(&b, "Required: %t\n", req.Required)
	b.WriteString(kindGuidance(req))
	if len(req.Options) > 0 {
		b.WriteString("Options:\n")
		for _, o := range req.Options {
			fmt.Fprintf(&b, "  - %s\n", o)
		}
	}
	if len(req.Hints) > 0 {
		fmt.Fprintf(&b, "Hints (may not be relevant): %s\n", strings.Join(req.Hints, "; "))
	}
	if len(snippets) > 0 {
		if raw, err := json.Marshal(snippets); err == nil {
			fmt.Fprintf(&b, "Related profile entries: %s\n", raw)
		}
	}
	if req.Reason != "" {
		fmt.Fprintf(&b, "Previous attempt: %s\n", req.Reason)
	}
	return b.String()
}

func kindGuidance(req question.LLMRequest) string {
	switch {
	case req.Type == question.KindTextarea:
		return "Answer: a realistic first-person paragraph, 30 to 60 words, at most 150.\n"
	case req.Type == question.KindMultiselect || (req.Type == question.KindCheckbox && len(req.Options) > 1):
		return "Answer: an array with every option that applies.\n"
	case req.Type.IsSingleChoice() || req.Type == question.KindCheckbox:
		return "Answer: exactly one option.\n"
	case req.Type == question.KindDate:
		return "Answer: a date as YYYY-MM-DD.\n"
	case req.Type == question.KindNumber:
		return "Answer: digits only.\n"
	default:
		return "Answer: one short line.\n"
	}
}

// BatchPrompt renders every question of a batch.
func BatchPrompt(reqs []question.LLMRequest, snippets func(question.LLMRequest) map[string]any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Answer the following %d questions.\n\n", len(reqs))
	for _, r := range reqs {
		var s map[string]any
		if snippets != nil {
			s = snippets(r)
		}
		b.WriteString(QuestionPrompt(r, s))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// responseSchema constrains the batch reply. Responses are sent as string
// arrays; single values come back as one-element arrays.
func responseSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeArray,
		Items: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"questionId": {Type: genai.TypeString},
				"response": {
					Type:  genai.TypeArray,
					Items: &genai.Schema{Type: genai.TypeString},
				},
			},
			Required: []string{"questionId", "response"},
		},
	}
}
