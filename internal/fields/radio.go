// File: internal/fields/radio.go
package fields

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/autoapply/internal/browser/dom"
	"github.com/xkilldash9x/autoapply/internal/normalize"
	"github.com/xkilldash9x/autoapply/internal/question"
	"github.com/xkilldash9x/autoapply/internal/similarity"
)

var isRadio = dom.Any(dom.InputTypeIs("radio"), dom.RoleIs("radio"))

// RadioHandler selects the single radio whose label best matches one of the
// candidates.
type RadioHandler struct {
	logger *zap.Logger
}

func (h *RadioHandler) Normalize(value any, _ int) (any, error) {
	return normalize.Choices(value)
}

func (h *RadioHandler) Execute(ctx context.Context, page dom.Page, locators []string, value any, opts Options) question.ExecutionResult {
	candidates, ok := value.([]string)
	if !ok {
		return question.Fail(question.ReasonNormalizeFailed, "radio value is not a list")
	}
	radios, snap, fail := resolveLocators(ctx, page, locators, opts.Budget, isRadio)
	if fail != nil {
		return *fail
	}
	labels := labelsOf(snap, radios)

	match, found := similarity.Best(labels, candidates, opts.Threshold)
	if !found {
		return question.Fail(question.ReasonNoMatch, fmt.Sprintf("no radio label reached %.0f", opts.Threshold)).WithOptions(labels)
	}
	chosen := radios[match.Option]
	orNop(h.logger).Debug("Selecting radio.", zap.String("label", labels[match.Option]), zap.Float64("score", match.Score))

	if !chosen.Checked() {
		if err := page.Click(ctx, chosen.XPath); err != nil {
			return opFailure("click", err).WithOptions(labels)
		}
	}

	after, err := refresh(ctx, page)
	if err != nil {
		return opFailure("snapshot", err)
	}
	checked := 0
	chosenChecked := false
	for _, r := range radios {
		if el, ok := after.Find(r.XPath); ok && el.Checked() {
			checked++
			if r.XPath == chosen.XPath {
				chosenChecked = true
			}
		}
	}
	if checked != 1 || !chosenChecked {
		return question.Fail(question.ReasonStateNotObserved, fmt.Sprintf("%d radios checked after commit", checked)).WithOptions(labels)
	}
	return question.OK()
}

func (h *RadioHandler) Inspect(ctx context.Context, page dom.Page, locators []string, opts Options) ([]string, error) {
	radios, snap, fail := resolveLocators(ctx, page, locators, opts.Budget, isRadio)
	if fail != nil {
		return nil, fmt.Errorf("%s: %s", fail.Reason, fail.Detail)
	}
	return labelsOf(snap, radios), nil
}
