// File: internal/fields/select.go
package fields

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/autoapply/internal/browser/dom"
	"github.com/xkilldash9x/autoapply/internal/normalize"
	"github.com/xkilldash9x/autoapply/internal/question"
	"github.com/xkilldash9x/autoapply/internal/similarity"
)

// SelectHandler handles native <select> elements and ARIA listbox
// dropdowns opened by a trigger button.
type SelectHandler struct {
	logger *zap.Logger
}

func (h *SelectHandler) Normalize(value any, _ int) (any, error) {
	return normalize.Choices(value)
}

func (h *SelectHandler) Execute(ctx context.Context, page dom.Page, locators []string, value any, opts Options) question.ExecutionResult {
	candidates, ok := value.([]string)
	if !ok {
		return question.Fail(question.ReasonNormalizeFailed, "select value is not a list")
	}
	els, _, fail := resolveLocators(ctx, page, locators, opts.Budget, nil)
	if fail != nil {
		return *fail
	}
	target := els[0]
	if target.Tag() == "select" {
		return h.executeNative(ctx, page, target, candidates, opts)
	}
	return h.executeListbox(ctx, page, target, candidates, opts)
}

func (h *SelectHandler) executeNative(ctx context.Context, page dom.Page, sel dom.Element, candidates []string, opts Options) question.ExecutionResult {
	labels, values := nativeOptions(sel, opts.Blacklist)
	match, found := similarity.Best(labels, candidates, opts.Threshold)
	if !found {
		return question.Fail(question.ReasonNoMatch, "no option matched").WithOptions(labels)
	}
	want := values[match.Option]
	if cur, ok := sel.SelectedOption(); !ok || cur.OptionValue() != want {
		if err := page.SelectOption(ctx, sel.XPath, want); err != nil {
			return opFailure("select", err).WithOptions(labels)
		}
	}

	snap, err := refresh(ctx, page)
	if err != nil {
		return opFailure("snapshot", err)
	}
	after, ok := snap.Find(sel.XPath)
	if !ok {
		return question.Fail(question.ReasonStateNotObserved, "select vanished after commit")
	}
	if cur, ok := after.SelectedOption(); !ok || cur.OptionValue() != want {
		return question.Fail(question.ReasonStateNotObserved, fmt.Sprintf("option %q not selected", labels[match.Option])).WithOptions(labels)
	}
	return question.OK()
}

func (h *SelectHandler) executeListbox(ctx context.Context, page dom.Page, trigger dom.Element, candidates []string, opts Options) question.ExecutionResult {
	options, labels, res := openListbox(ctx, page, trigger, opts)
	if res != nil {
		return *res
	}
	match, found := similarity.Best(labels, candidates, opts.Threshold)
	if !found {
		_ = page.PressKey(ctx, trigger.XPath, "Escape")
		return question.Fail(question.ReasonNoMatch, "no listbox option matched").WithOptions(labels)
	}
	chosen := options[match.Option]
	want := labels[match.Option]
	orNop(h.logger).Debug("Selecting listbox option.", zap.String("label", want), zap.Float64("score", match.Score))

	if err := page.Focus(ctx, chosen.XPath); err != nil {
		return opFailure("focus", err).WithOptions(labels)
	}
	if err := page.PressKey(ctx, chosen.XPath, "Enter"); err != nil {
		return opFailure("key", err).WithOptions(labels)
	}
	if h.observed(ctx, page, trigger, want, opts) {
		return question.OK()
	}

	// Some listboxes ignore keyboard commits. The option may be gone once the
	// listbox closes.
	if err := page.Click(ctx, chosen.XPath); err != nil && !errors.Is(err, dom.ErrElementNotFound) {
		return opFailure("click", err).WithOptions(labels)
	}
	if h.observed(ctx, page, trigger, want, opts) {
		return question.OK()
	}
	return question.Fail(question.ReasonStateNotObserved, fmt.Sprintf("trigger does not show %q", want)).WithOptions(labels)
}

// observed waits briefly for the trigger to display the chosen label.
func (h *SelectHandler) observed(ctx context.Context, page dom.Page, trigger dom.Element, want string, opts Options) bool {
	b := opts.Budget
	b.Validate = func(els []dom.Element) bool {
		return len(els) == 1 && showsLabel(els[0], want)
	}
	_, _, err := dom.Resilient(ctx, page, func(s *dom.Snapshot) []dom.Element {
		if el, ok := s.Find(trigger.XPath); ok {
			return []dom.Element{el}
		}
		return nil
	}, b)
	return err == nil
}

func (h *SelectHandler) Inspect(ctx context.Context, page dom.Page, locators []string, opts Options) ([]string, error) {
	els, _, fail := resolveLocators(ctx, page, locators, opts.Budget, nil)
	if fail != nil {
		return nil, fmt.Errorf("%s: %s", fail.Reason, fail.Detail)
	}
	if els[0].Tag() == "select" {
		labels, _ := nativeOptions(els[0], opts.Blacklist)
		return labels, nil
	}
	_, labels, res := openListbox(ctx, page, els[0], opts)
	if res != nil {
		return nil, fmt.Errorf("%s: %s", res.Reason, res.Detail)
	}
	_ = page.PressKey(ctx, els[0].XPath, "Escape")
	return labels, nil
}

// nativeOptions lists selectable option labels and their values.
func nativeOptions(sel dom.Element, blacklist []string) (labels, values []string) {
	for _, opt := range sel.Options() {
		label := strings.TrimSpace(opt.Text())
		if opt.Disabled() || blacklisted(label, blacklist) {
			continue
		}
		if opt.OptionValue() == "" && blacklisted(label, placeholderLabels) {
			continue
		}
		labels = append(labels, label)
		values = append(values, opt.OptionValue())
	}
	return labels, values
}

var placeholderLabels = []string{"select", "select...", "select one", "please select", "choose", "choose one", "--", "-"}

// openListbox clicks the trigger and waits for visible options.
func openListbox(ctx context.Context, page dom.Page, trigger dom.Element, opts Options) ([]dom.Element, []string, *question.ExecutionResult) {
	if err := page.Click(ctx, trigger.XPath); err != nil {
		res := opFailure("click", err)
		return nil, nil, &res
	}
	options, err := waitOptions(ctx, page, opts)
	if err != nil {
		res := question.Fail(question.ReasonLocatorMissing, "listbox options did not appear")
		return nil, nil, &res
	}
	var kept []dom.Element
	var labels []string
	for _, o := range options {
		label := strings.TrimSpace(o.Text())
		if blacklisted(label, opts.Blacklist) {
			continue
		}
		kept = append(kept, o)
		labels = append(labels, label)
	}
	if len(kept) == 0 {
		res := question.Fail(question.ReasonNoMatch, "listbox has no selectable options")
		return nil, nil, &res
	}
	return kept, labels, nil
}

func waitOptions(ctx context.Context, page dom.Page, opts Options) ([]dom.Element, error) {
	sel := opts.OptionSelector
	if sel == "" {
		sel = DefaultOptions().OptionSelector
	}
	resolve := func(s *dom.Snapshot) []dom.Element {
		var out []dom.Element
		for _, el := range s.FindAll(sel) {
			if dom.Visible(el) {
				out = append(out, el)
			}
		}
		return out
	}
	els, _, err := dom.Resilient(ctx, page, resolve, opts.Budget)
	return els, err
}

// showsLabel reports whether a trigger displays label.
func showsLabel(el dom.Element, label string) bool {
	want := similarity.Canonicalize(label)
	if want == "" {
		return false
	}
	for _, shown := range []string{el.Text(), el.Value(), el.Attr("aria-label"), el.Attr("value")} {
		got := similarity.Canonicalize(shown)
		if got == "" {
			continue
		}
		if got == want || strings.Contains(got, want) || similarity.Score(got, want) >= 90 {
			return true
		}
	}
	return false
}
