// File: internal/fields/input.go
package fields

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/autoapply/internal/browser/dom"
	"github.com/xkilldash9x/autoapply/internal/normalize"
	"github.com/xkilldash9x/autoapply/internal/question"
)

// InputHandler fills text-like inputs, textareas and contenteditables.
type InputHandler struct {
	Kind   question.Kind
	logger *zap.Logger
}

func (h *InputHandler) Normalize(value any, _ int) (any, error) {
	switch h.Kind {
	case question.KindNumber:
		return normalize.Number(value)
	case question.KindDate:
		return normalize.Date(value)
	}
	return normalize.Text(value)
}

func (h *InputHandler) Execute(ctx context.Context, page dom.Page, locators []string, value any, opts Options) question.ExecutionResult {
	want, ok := value.(string)
	if !ok {
		return question.Fail(question.ReasonNormalizeFailed, "input value is not a string")
	}
	els, _, fail := resolveLocators(ctx, page, locators, opts.Budget, dom.Fillable)
	if fail != nil {
		return *fail
	}
	target := els[0]

	// Spin buttons re-render on focus, so they are filled without it.
	focus := opts.DispatchFocus && !dom.SpinButton(target)
	if err := page.Fill(ctx, target.XPath, want, focus); err != nil {
		return opFailure("fill", err)
	}

	snap, err := refresh(ctx, page)
	if err != nil {
		return opFailure("snapshot", err)
	}
	after, found := snap.Find(target.XPath)
	if !found {
		return question.Fail(question.ReasonStateNotObserved, "input vanished after fill")
	}
	if got := after.Value(); !sameText(got, want) {
		orNop(h.logger).Debug("Input value not observed after fill.", zap.String("xpath", target.XPath), zap.String("want", want), zap.String("got", got))
		return question.Fail(question.ReasonStateNotObserved, "value not observed after fill")
	}
	return question.OK()
}

func (h *InputHandler) Inspect(context.Context, dom.Page, []string, Options) ([]string, error) {
	return nil, nil
}

// sameText compares values ignoring surrounding and repeated whitespace,
// and formatting characters masks insert into phone and number fields.
func sameText(got, want string) bool {
	if strings.Join(strings.Fields(got), " ") == strings.Join(strings.Fields(want), " ") {
		return true
	}
	strip := func(s string) string {
		return strings.Map(func(r rune) rune {
			switch r {
			case ' ', '-', '(', ')', ',', '.':
				return -1
			}
			return r
		}, s)
	}
	return got != "" && strip(got) == strip(want)
}
