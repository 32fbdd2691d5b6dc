// File: internal/fields/multiselect.go
package fields

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/autoapply/internal/browser/dom"
	"github.com/xkilldash9x/autoapply/internal/normalize"
	"github.com/xkilldash9x/autoapply/internal/question"
	"github.com/xkilldash9x/autoapply/internal/similarity"
)

// MultiselectHandler drives prompt-style multiselects: the input is opened
// (and optionally searched) once per candidate and the best option clicked.
type MultiselectHandler struct {
	logger *zap.Logger
}

func (h *MultiselectHandler) Normalize(value any, _ int) (any, error) {
	return normalize.Choices(value)
}

func (h *MultiselectHandler) Execute(ctx context.Context, page dom.Page, locators []string, value any, opts Options) question.ExecutionResult {
	candidates, ok := value.([]string)
	if !ok {
		return question.Fail(question.ReasonNormalizeFailed, "multiselect value is not a list")
	}
	els, snap, fail := resolveLocators(ctx, page, locators, opts.Budget, nil)
	if fail != nil {
		return *fail
	}
	input := els[0]
	for _, el := range els {
		if dom.Fillable(el) {
			input = el
			break
		}
	}

	limit := opts.Max
	if opts.Exact > 0 {
		limit = opts.Exact
	}
	selected := selectedLabels(snap, opts.SelectedSelector)
	var observed, chosen []string
	for _, c := range candidates {
		if limit >= 0 && len(selected) >= limit {
			break
		}
		if _, dup := similarity.Best(selected, []string{c}, opts.Threshold); dup {
			continue
		}
		label, res := h.pick(ctx, page, input, c, opts)
		observed = mergeLabels(observed, res.Options)
		if !res.OK() {
			if res.Reason != question.ReasonNoMatch {
				return res.WithOptions(observed)
			}
			continue
		}
		chosen = append(chosen, label)
		selected = append(selected, label)
	}
	_ = page.PressKey(ctx, input.XPath, "Escape")

	if len(selected) == 0 || len(selected) < opts.Min {
		return question.Fail(question.ReasonNoMatch, fmt.Sprintf("%d options selected", len(selected))).WithOptions(observed)
	}
	if opts.SelectedSelector != "" && len(chosen) > 0 {
		after, err := refresh(ctx, page)
		if err != nil {
			return opFailure("snapshot", err)
		}
		pills := selectedLabels(after, opts.SelectedSelector)
		for _, label := range chosen {
			if _, ok := similarity.Best(pills, []string{label}, 90); !ok {
				return question.Fail(question.ReasonStateNotObserved, fmt.Sprintf("%q not shown as selected", label)).WithOptions(observed)
			}
		}
	}
	orNop(h.logger).Debug("Multiselect committed.", zap.Strings("chosen", chosen))
	return question.OK().WithOptions(observed)
}

// pick opens the widget for one candidate and clicks its best option.
func (h *MultiselectHandler) pick(ctx context.Context, page dom.Page, input dom.Element, candidate string, opts Options) (string, question.ExecutionResult) {
	if err := page.Click(ctx, input.XPath); err != nil {
		return "", opFailure("click", err)
	}
	if opts.Search {
		if err := page.TypeText(ctx, input.XPath, candidate); err != nil {
			return "", opFailure("type", err)
		}
	}
	options, err := waitOptions(ctx, page, opts)
	if err != nil {
		h.clearSearch(ctx, page, input, opts)
		return "", question.Fail(question.ReasonNoMatch, "no options for "+candidate)
	}
	labels := make([]string, 0, len(options))
	kept := options[:0]
	for _, o := range options {
		label := strings.TrimSpace(o.Text())
		if blacklisted(label, opts.Blacklist) {
			continue
		}
		kept = append(kept, o)
		labels = append(labels, label)
	}
	match, found := similarity.Best(labels, []string{candidate}, opts.Threshold)
	if !found {
		h.clearSearch(ctx, page, input, opts)
		return "", question.Fail(question.ReasonNoMatch, "no option matched "+candidate).WithOptions(labels)
	}
	if err := page.Click(ctx, kept[match.Option].XPath); err != nil {
		return "", opFailure("click", err).WithOptions(labels)
	}
	return labels[match.Option], question.OK().WithOptions(labels)
}

func (h *MultiselectHandler) clearSearch(ctx context.Context, page dom.Page, input dom.Element, opts Options) {
	if opts.Search {
		_ = page.Clear(ctx, input.XPath)
	}
}

func (h *MultiselectHandler) Inspect(ctx context.Context, page dom.Page, locators []string, opts Options) ([]string, error) {
	els, _, fail := resolveLocators(ctx, page, locators, opts.Budget, nil)
	if fail != nil {
		return nil, fmt.Errorf("%s: %s", fail.Reason, fail.Detail)
	}
	if err := page.Click(ctx, els[0].XPath); err != nil {
		return nil, err
	}
	defer func() { _ = page.PressKey(ctx, els[0].XPath, "Escape") }()
	options, err := waitOptions(ctx, page, opts)
	if err != nil {
		return nil, err
	}
	var labels []string
	for _, o := range options {
		if label := strings.TrimSpace(o.Text()); !blacklisted(label, opts.Blacklist) {
			labels = append(labels, label)
		}
	}
	return labels, nil
}

func selectedLabels(snap *dom.Snapshot, selector string) []string {
	if selector == "" || snap == nil {
		return nil
	}
	var out []string
	for _, el := range snap.FindAll(selector) {
		if t := strings.TrimSpace(el.Text()); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func mergeLabels(into, more []string) []string {
	seen := make(map[string]bool, len(into))
	for _, l := range into {
		seen[l] = true
	}
	for _, l := range more {
		if !seen[l] {
			seen[l] = true
			into = append(into, l)
		}
	}
	return into
}
