// File: internal/fields/location.go
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

// LocationThreshold is the minimum score for an autocomplete suggestion.
const LocationThreshold = 75

// LocationSearcher suggests canonical location names for a query.
type LocationSearcher interface {
	SearchLocations(ctx context.Context, query string) ([]string, error)
}

// LocationHandler types a location into an autocomplete input and clicks
// the suggestion that best matches the query or the searcher's results.
type LocationHandler struct {
	Searcher LocationSearcher
	logger   *zap.Logger
}

func (h *LocationHandler) Normalize(value any, _ int) (any, error) {
	return normalize.Text(value)
}

func (h *LocationHandler) Execute(ctx context.Context, page dom.Page, locators []string, value any, opts Options) question.ExecutionResult {
	query, ok := value.(string)
	if !ok || strings.TrimSpace(query) == "" {
		return question.Fail(question.ReasonNormalizeFailed, "location value is not text")
	}
	logger := orNop(h.logger)

	candidates := []string{query}
	if h.Searcher != nil {
		names, err := h.Searcher.SearchLocations(ctx, query)
		if err != nil {
			logger.Warn("Location search failed, matching against the query only.", zap.String("query", query), zap.Error(err))
		}
		candidates = append(candidates, names...)
	}

	inputs, _, fail := resolveLocators(ctx, page, locators, opts.Budget, dom.Fillable)
	if fail != nil {
		return *fail
	}
	input := inputs[0]
	if err := page.Clear(ctx, input.XPath); err != nil {
		return opFailure("clear", err)
	}
	if err := page.TypeText(ctx, input.XPath, query); err != nil {
		return opFailure("type", err)
	}

	options, err := waitOptions(ctx, page, opts)
	if err != nil {
		return question.Fail(question.ReasonLocatorMissing, "location suggestions did not appear")
	}
	labels := make([]string, len(options))
	for i, o := range options {
		labels[i] = strings.TrimSpace(o.Text())
	}

	threshold := opts.Threshold
	if threshold < LocationThreshold {
		threshold = LocationThreshold
	}
	match, found := similarity.Best(labels, candidates, threshold)
	if !found {
		return question.Fail(question.ReasonNoMatch, fmt.Sprintf("no suggestion for %q reached %.0f", query, threshold)).WithOptions(labels)
	}
	if err := page.Click(ctx, options[match.Option].XPath); err != nil {
		return opFailure("click", err).WithOptions(labels)
	}

	snap, err := refresh(ctx, page)
	if err != nil {
		return opFailure("snapshot", err)
	}
	if after, ok := snap.Find(input.XPath); ok && strings.TrimSpace(after.Value()) == "" {
		return question.Fail(question.ReasonStateNotObserved, "location input empty after selection").WithOptions(labels)
	}
	logger.Debug("Location selected.", zap.String("label", labels[match.Option]), zap.Float64("score", match.Score))
	return question.OK()
}

func (h *LocationHandler) Inspect(context.Context, dom.Page, []string, Options) ([]string, error) {
	return nil, nil
}
