// File: internal/fields/handler.go

// Package fields implements one handler per widget family. A handler
// normalizes a value into the shape it needs, commits it to the page and
// reports whether the committed state was observed.
package fields

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/autoapply/internal/browser/dom"
	"github.com/xkilldash9x/autoapply/internal/question"
)

// Unlimited disables the maximum selection cap.
const Unlimited = -1

// Options tunes a single execution.
type Options struct {
	// Threshold is the minimum similarity score, 0..100.
	Threshold float64
	// Selection constraints for checkbox groups and multiselects. Exact
	// of 0 means unset; Max of Unlimited means no cap.
	Min, Max, Exact int
	// Blacklist holds placeholder option labels that are never chosen.
	Blacklist []string
	// DispatchFocus focuses a text input before filling.
	DispatchFocus bool
	Budget        dom.Budget

	// OptionSelector finds options of an open listbox.
	OptionSelector string
	// SelectedSelector finds chosen items of a multiselect.
	SelectedSelector string
	// Search types the candidate into the widget before picking.
	Search bool

	// File upload confirmation polling.
	FilenameSelector string
	ProgressSelector string
	AllowMultiple    bool
	Timeout          time.Duration
	PollInterval     time.Duration
}

// DefaultOptions returns the baseline options used by form managers.
func DefaultOptions() Options {
	return Options{
		Threshold:      50,
		Max:            Unlimited,
		DispatchFocus:  true,
		Budget:         dom.DefaultBudget(),
		OptionSelector: "//*[@role='listbox']//*[@role='option']",
		Timeout:        30 * time.Second,
		PollInterval:   500 * time.Millisecond,
	}
}

// Handler is the capability set every widget handler provides.
type Handler interface {
	// Normalize coerces value for a group of groupSize fields.
	Normalize(value any, groupSize int) (any, error)
	// Execute commits a normalized value. Failures are reported in the
	// result, never as panics or errors.
	Execute(ctx context.Context, page dom.Page, locators []string, value any, opts Options) question.ExecutionResult
	// Inspect lists the options the widget offers without selecting.
	Inspect(ctx context.Context, page dom.Page, locators []string, opts Options) ([]string, error)
}

// Registry maps question kinds to handlers.
type Registry struct {
	handlers map[question.Kind]Handler
	location *LocationHandler
}

// Deps are the collaborators handlers reach outside the page.
type Deps struct {
	Fetcher  ResourceFetcher
	Searcher LocationSearcher
	Logger   *zap.Logger
}

// NewRegistry wires the standard handlers.
func NewRegistry(deps Deps) *Registry {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("fields")

	r := &Registry{handlers: make(map[question.Kind]Handler)}
	for _, k := range []question.Kind{question.KindText, question.KindEmail, question.KindTel, question.KindURL,
		question.KindSearch, question.KindPassword, question.KindTextarea} {
		r.handlers[k] = &InputHandler{Kind: k, logger: logger}
	}
	r.handlers[question.KindNumber] = &InputHandler{Kind: question.KindNumber, logger: logger}
	r.handlers[question.KindDate] = &InputHandler{Kind: question.KindDate, logger: logger}
	r.handlers[question.KindRadio] = &RadioHandler{logger: logger}
	r.handlers[question.KindCheckbox] = &CheckboxHandler{logger: logger}
	sel := &SelectHandler{logger: logger}
	r.handlers[question.KindSelect] = sel
	r.handlers[question.KindDropdown] = sel
	r.handlers[question.KindMultiselect] = &MultiselectHandler{logger: logger}
	r.handlers[question.KindFile] = &FileHandler{Fetcher: deps.Fetcher, logger: logger}
	r.location = &LocationHandler{Searcher: deps.Searcher, logger: logger}
	return r
}

// For returns the handler for k.
func (r *Registry) For(k question.Kind) (Handler, bool) {
	h, ok := r.handlers[k]
	return h, ok
}

// Register replaces the handler for k.
func (r *Registry) Register(k question.Kind, h Handler) { r.handlers[k] = h }

// Location returns the location autocomplete handler.
func (r *Registry) Location() *LocationHandler { return r.location }

// Run normalizes then executes, converting normalization failures and
// panics into results.
func Run(ctx context.Context, h Handler, page dom.Page, locators []string, value any, groupSize int, opts Options) (res question.ExecutionResult) {
	defer func() {
		if r := recover(); r != nil {
			res = question.Fail(question.ReasonCrash, fmt.Sprintf("handler panic: %v\n%s", r, debug.Stack()))
		}
	}()
	normalized, err := h.Normalize(value, groupSize)
	if err != nil {
		return question.Fail(question.ReasonNormalizeFailed, err.Error())
	}
	return h.Execute(ctx, page, locators, normalized, opts)
}

// resolveLocators waits for any locator to match. Hidden inputs are
// accepted when allowHidden is set (file inputs are usually hidden).
func resolveLocators(ctx context.Context, page dom.Page, locators []string, b dom.Budget, keep dom.Validator) ([]dom.Element, *dom.Snapshot, *question.ExecutionResult) {
	if len(locators) == 0 {
		res := question.Fail(question.ReasonLocatorMissing, "no locators")
		return nil, nil, &res
	}
	resolver := func(snap *dom.Snapshot) []dom.Element {
		var out []dom.Element
		seen := make(map[string]bool)
		for _, l := range locators {
			for _, el := range snap.FindAll(l) {
				if seen[el.XPath] || (keep != nil && !keep(el)) {
					continue
				}
				seen[el.XPath] = true
				out = append(out, el)
			}
		}
		return out
	}
	els, snap, err := dom.Resilient(ctx, page, resolver, b)
	if err != nil {
		var res question.ExecutionResult
		switch {
		case errors.Is(err, dom.ErrElementNotFound):
			res = question.Fail(question.ReasonLocatorMissing, strings.Join(locators, " | "))
		case errors.Is(err, context.DeadlineExceeded):
			res = question.Fail(question.ReasonTimeout, err.Error())
		default:
			res = question.Fail(question.ReasonCrash, err.Error())
		}
		return nil, nil, &res
	}
	return els, snap, nil
}

// opFailure converts a page operation error into a result.
func opFailure(op string, err error) question.ExecutionResult {
	switch {
	case errors.Is(err, dom.ErrElementNotFound):
		return question.Fail(question.ReasonLocatorMissing, fmt.Sprintf("%s: %v", op, err))
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return question.Fail(question.ReasonTimeout, fmt.Sprintf("%s: %v", op, err))
	}
	return question.Fail(question.ReasonCrash, fmt.Sprintf("%s: %v", op, err))
}

// labelsOf returns the accessible label of each element.
func labelsOf(snap *dom.Snapshot, els []dom.Element) []string {
	out := make([]string, len(els))
	for i, el := range els {
		out[i] = el.AccessibleLabel(snap.Root)
	}
	return out
}

// blacklisted reports placeholder labels.
func blacklisted(label string, blacklist []string) bool {
	l := strings.TrimSpace(strings.ToLower(label))
	if l == "" {
		return true
	}
	for _, b := range blacklist {
		if l == strings.TrimSpace(strings.ToLower(b)) {
			return true
		}
	}
	return false
}

// refresh re-reads the page.
func refresh(ctx context.Context, page dom.Page) (*dom.Snapshot, error) {
	return page.Snapshot(ctx)
}

func orNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
