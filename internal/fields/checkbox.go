// File: internal/fields/checkbox.go
package fields

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/xkilldash9x/autoapply/internal/browser/dom"
	"github.com/xkilldash9x/autoapply/internal/normalize"
	"github.com/xkilldash9x/autoapply/internal/question"
	"github.com/xkilldash9x/autoapply/internal/similarity"
)

var isCheckbox = dom.Any(dom.InputTypeIs("checkbox"), dom.RoleIs("checkbox"))

// CheckboxHandler checks the subset of a group that matches the candidates,
// within the Min, Max and Exact constraints.
type CheckboxHandler struct {
	logger *zap.Logger
}

func (h *CheckboxHandler) Normalize(value any, groupSize int) (any, error) {
	return normalize.Checkbox(value, groupSize)
}

func (h *CheckboxHandler) Execute(ctx context.Context, page dom.Page, locators []string, value any, opts Options) question.ExecutionResult {
	sel, ok := value.(normalize.Selection)
	if !ok {
		return question.Fail(question.ReasonNormalizeFailed, "checkbox value is not a selection")
	}
	boxes, snap, fail := resolveLocators(ctx, page, locators, opts.Budget, isCheckbox)
	if fail != nil {
		return *fail
	}
	labels := labelsOf(snap, boxes)

	var chosen []int
	switch {
	case sel.CheckAll:
		for i := range boxes {
			chosen = append(chosen, i)
		}
	case len(boxes) == 1:
		chosen = singleBox(labels[0], sel.Candidates, opts.Threshold)
	default:
		perOption := similarity.BestPerOption(labels, sel.Candidates)
		scores := make([]float64, len(perOption))
		for i, m := range perOption {
			scores[i] = m.Score
		}
		chosen = pickSelections(scores, bestOptionPerCandidate(labels, sel.Candidates), opts)
	}

	if len(chosen) < opts.Min {
		return question.Fail(question.ReasonNoMatch, fmt.Sprintf("%d selections, need at least %d", len(chosen), opts.Min)).WithOptions(labels)
	}

	want := make(map[int]bool, len(chosen))
	for _, i := range chosen {
		want[i] = true
	}
	for i, box := range boxes {
		if box.Checked() == want[i] {
			continue
		}
		if err := page.SetChecked(ctx, box.XPath, want[i]); err != nil {
			return opFailure("set checked", err).WithOptions(labels)
		}
	}

	after, err := refresh(ctx, page)
	if err != nil {
		return opFailure("snapshot", err)
	}
	for i, box := range boxes {
		el, ok := after.Find(box.XPath)
		if !ok || el.Checked() != want[i] {
			return question.Fail(question.ReasonStateNotObserved, fmt.Sprintf("checkbox %q state not observed", labels[i])).WithOptions(labels)
		}
	}
	orNop(h.logger).Debug("Checkbox group committed.", zap.Int("selected", len(chosen)), zap.Int("group", len(boxes)))
	return question.OK()
}

func (h *CheckboxHandler) Inspect(ctx context.Context, page dom.Page, locators []string, opts Options) ([]string, error) {
	boxes, snap, fail := resolveLocators(ctx, page, locators, opts.Budget, isCheckbox)
	if fail != nil {
		return nil, fmt.Errorf("%s: %s", fail.Reason, fail.Detail)
	}
	return labelsOf(snap, boxes), nil
}

// singleBox decides a lone checkbox: a boolean-like candidate decides
// directly, otherwise the box is checked when its label matches.
func singleBox(label string, candidates []string, threshold float64) []int {
	for _, c := range candidates {
		if b, err := normalize.Bool(c); err == nil {
			if b {
				return []int{0}
			}
			return nil
		}
	}
	if _, ok := similarity.Best([]string{label}, candidates, threshold); ok {
		return []int{0}
	}
	return nil
}

// bestOptionPerCandidate returns, per candidate, the option it matches best.
func bestOptionPerCandidate(options, candidates []string) []int {
	out := make([]int, 0, len(candidates))
	for j := range candidates {
		if m, ok := similarity.Best(options, candidates[j:j+1], 0); ok {
			out = append(out, m.Option)
		}
	}
	return out
}

// pickSelections chooses option indices from per-option scores. With Exact
// set it takes the top Exact options at or above the threshold, ties going
// to field order. Otherwise every option that is some candidate's best match
// and reaches the threshold is chosen, capped at Max by score.
func pickSelections(scores []float64, candidateBest []int, opts Options) []int {
	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return scores[order[a]] > scores[order[b]] })

	var picked []int
	if opts.Exact > 0 {
		for _, i := range order {
			if len(picked) == opts.Exact {
				break
			}
			if scores[i] >= opts.Threshold {
				picked = append(picked, i)
			}
		}
	} else {
		isBest := make(map[int]bool, len(candidateBest))
		for _, i := range candidateBest {
			isBest[i] = true
		}
		for _, i := range order {
			if isBest[i] && scores[i] >= opts.Threshold {
				picked = append(picked, i)
			}
		}
		if opts.Max >= 0 && len(picked) > opts.Max {
			picked = picked[:opts.Max]
		}
	}
	sort.Ints(picked)
	return picked
}
