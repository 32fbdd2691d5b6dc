// File: internal/ats/forms.go
package ats

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/autoapply/internal/browser/dom"
	"github.com/xkilldash9x/autoapply/internal/config"
	"github.com/xkilldash9x/autoapply/internal/engine"
	"github.com/xkilldash9x/autoapply/internal/fields"
	"github.com/xkilldash9x/autoapply/internal/question"
)

// PlaceholderBlacklist holds dropdown entries that are never a real answer.
var PlaceholderBlacklist = []string{"Select...", "Please select", "Select One", "--"}

// kindValidators keep only the fields a handler can drive.
var kindValidators = map[question.Kind]dom.Validator{
	question.KindRadio:       dom.Any(dom.InputTypeIs("radio"), dom.RoleIs("radio")),
	question.KindCheckbox:    dom.Any(dom.InputTypeIs("checkbox"), dom.RoleIs("checkbox")),
	question.KindSelect:      dom.TagIs("select"),
	question.KindDropdown:    dom.Any(dom.TagIs("select"), dom.ListboxTrigger, dom.RoleIs("combobox")),
	question.KindMultiselect: dom.Any(dom.ListboxTrigger, dom.RoleIs("combobox"), dom.TagIs("input")),
	question.KindFile:        dom.InputTypeIs("file"),
}

// FormManager routes answers to field handlers with a per-question policy.
type FormManager struct {
	registry *fields.Registry
	timeouts config.TimeoutsConfig
	base     fields.Options
	// Tune adjusts options for platform widgets after the shared policy ran.
	Tune   func(q question.Question, opts *fields.Options)
	logger *zap.Logger
}

// NewFormManager builds a form manager. base usually comes from
// fields.DefaultOptions with the platform's selectors filled in.
func NewFormManager(registry *fields.Registry, timeouts config.TimeoutsConfig, base fields.Options, logger *zap.Logger) *FormManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if base.Blacklist == nil {
		base.Blacklist = PlaceholderBlacklist
	}
	return &FormManager{registry: registry, timeouts: timeouts, base: base, logger: logger.Named("forms")}
}

var _ engine.FormManager = (*FormManager)(nil)

// Locators returns the XPaths of the fields the kind's handler accepts,
// or every field when none match.
func (m *FormManager) Locators(q question.Question) []string {
	v, ok := kindValidators[q.Kind]
	if !ok {
		return q.XPaths()
	}
	var out []string
	for _, f := range q.Fields {
		if v(f) {
			out = append(out, f.XPath)
		}
	}
	if len(out) == 0 {
		return q.XPaths()
	}
	return out
}

// Execute normalizes the answer and runs the kind's handler.
func (m *FormManager) Execute(ctx context.Context, page dom.Page, q question.Question, ans question.Answered, p engine.Payload) question.ExecutionResult {
	opts := m.OptionsFor(q, p)
	var h fields.Handler
	if ans.Meta.Location {
		h = m.registry.Location()
	} else {
		var ok bool
		if h, ok = m.registry.For(q.Kind); !ok {
			return question.Fail(question.ReasonNormalizeFailed, "no handler for "+q.Kind.String())
		}
	}
	m.logger.Debug("Executing question.",
		zap.String("label", q.Label),
		zap.Stringer("kind", q.Kind),
		zap.String("source", string(ans.Source)),
		zap.Int("remaining", p.RemainingAttempts))
	return fields.Run(ctx, h, page, ans.Locators, ans.Value, len(q.Fields), opts)
}

// OptionsFor applies the threshold and selection policy for one attempt.
func (m *FormManager) OptionsFor(q question.Question, p engine.Payload) fields.Options {
	opts := m.base
	opts.Blacklist = append([]string(nil), m.base.Blacklist...)

	// On the last attempt of a required choice the best option wins.
	if p.Required && p.RemainingAttempts <= 0 && q.Kind.IsSingleChoice() {
		opts.Threshold = 0
	}
	if q.Kind == question.KindCheckbox && q.Required && opts.Min == 0 {
		opts.Min = 1
	}
	if q.Kind == question.KindCheckbox && len(q.Fields) > 1 && opts.Max == 0 {
		opts.Max = fields.Unlimited
	}
	if m.Tune != nil {
		m.Tune(q, &opts)
	}
	// A required group cannot succeed with a cap of zero; the last attempt
	// allows one box.
	if q.Kind == question.KindCheckbox && p.Required && p.RemainingAttempts <= 0 && opts.Max == 0 {
		opts.Max = 1
	}
	return opts
}

// Timeout prefers the known entry's budget, then the per-type map.
func (m *FormManager) Timeout(q question.Question, meta question.Meta) time.Duration {
	if meta.Timeout > 0 {
		return meta.Timeout
	}
	return m.timeouts.Handler(q.Kind.String())
}

// Options lists what a choice widget offers, for model requests.
func (m *FormManager) Options(ctx context.Context, page dom.Page, q question.Question) []string {
	h, ok := m.registry.For(q.Kind)
	if !ok {
		return nil
	}
	opts, err := h.Inspect(ctx, page, m.Locators(q), m.base)
	if err != nil {
		m.logger.Debug("Could not inspect options.", zap.String("label", q.Label), zap.Error(err))
		return nil
	}
	return filterPlaceholders(opts, m.base.Blacklist)
}

func filterPlaceholders(opts, blacklist []string) []string {
	out := opts[:0:0]
	for _, o := range opts {
		if isPlaceholder(o) || inList(o, blacklist) {
			continue
		}
		out = append(out, o)
	}
	return out
}

func inList(s string, list []string) bool {
	for _, l := range list {
		if l == s {
			return true
		}
	}
	return false
}
