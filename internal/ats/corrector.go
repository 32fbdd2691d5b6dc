// File: internal/ats/corrector.go
package ats

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/autoapply/internal/browser/dom"
	"github.com/xkilldash9x/autoapply/internal/engine"
	"github.com/xkilldash9x/autoapply/internal/question"
)

// ErrNoContainer is returned when a removal finds nothing to remove.
var ErrNoContainer = errors.New("no container to remove")

// Corrector removes repeatable sub-form instances. It always deletes the
// last instance: removing by index would shift the ones after it.
type Corrector struct {
	subForms []SubForm
	budget   dom.Budget
	logger   *zap.Logger
}

// NewCorrector builds a corrector over the page's sub-forms.
func NewCorrector(subForms []SubForm, budget dom.Budget, logger *zap.Logger) *Corrector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Corrector{subForms: subForms, budget: budget, logger: logger.Named("corrector")}
}

var _ engine.Corrector = (*Corrector)(nil)

// Apply implements engine.Corrector.
func (c *Corrector) Apply(ctx context.Context, page dom.Page, corr question.Correction) error {
	if corr.Kind == question.MarkQuestionFailed {
		return nil
	}
	var sf SubForm
	found := false
	for _, s := range c.subForms {
		if s.Kind == corr.Kind {
			sf, found = s, true
			break
		}
	}
	if !found {
		return fmt.Errorf("no sub-form for %s", corr.Kind)
	}

	snap, err := page.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("snapshot before %s: %w", corr.Kind, err)
	}
	instances := snap.FindAll(sf.Container)
	before := len(instances)
	if before == 0 {
		return fmt.Errorf("%s: %w", corr.Kind, ErrNoContainer)
	}
	last := instances[before-1]
	remove, ok := last.QueryOne(sf.Remove)
	if !ok {
		return fmt.Errorf("%s: remove button not found in %s", corr.Kind, last.XPath)
	}
	if err := page.Click(ctx, remove.XPath); err != nil {
		return fmt.Errorf("click remove for %s: %w", corr.Kind, err)
	}

	if sf.Confirm != "" {
		b := c.budget
		b.Validate = nil
		els, _, err := dom.Resilient(ctx, page, dom.Union([]string{sf.Confirm}), b)
		if err != nil && !errors.Is(err, dom.ErrElementNotFound) {
			return err
		}
		if len(els) > 0 {
			if err := page.Click(ctx, els[0].XPath); err != nil {
				return fmt.Errorf("confirm removal for %s: %w", corr.Kind, err)
			}
		}
	}

	b := c.budget
	b.Validate = func(els []dom.Element) bool { return len(els) < before }
	els, _, err := dom.Resilient(ctx, page, dom.Union([]string{sf.Container}), b)
	if err != nil {
		return fmt.Errorf("%s: container count did not drop from %d: %w", corr.Kind, before, err)
	}
	c.logger.Info("Removed sub-form container.",
		zap.Stringer("kind", corr.Kind),
		zap.Int("container_idx", corr.ContainerIdx),
		zap.Int("remaining", len(els)))
	return nil
}

// Expand clicks the sub-form's Add button until want instances exist. It
// never removes instances and returns the final count.
func Expand(ctx context.Context, page dom.Page, sf SubForm, want int, budget dom.Budget) (int, error) {
	if sf.Add == "" {
		return 0, fmt.Errorf("sub-form %s has no add button", sf.Kind)
	}
	snap, err := page.Snapshot(ctx)
	if err != nil {
		return 0, fmt.Errorf("snapshot before expanding %s: %w", sf.Kind, err)
	}
	have := len(snap.FindAll(sf.Container))
	for have < want {
		add, ok := snap.Find(sf.Add)
		if !ok {
			return have, fmt.Errorf("add button for %s: %w", sf.Kind, dom.ErrElementNotFound)
		}
		if err := page.Click(ctx, add.XPath); err != nil {
			return have, fmt.Errorf("click add for %s: %w", sf.Kind, err)
		}
		before := have
		b := budget
		b.Validate = func(els []dom.Element) bool { return len(els) > before }
		els, next, err := dom.Resilient(ctx, page, dom.Union([]string{sf.Container}), b)
		if err != nil {
			return have, fmt.Errorf("new %s instance not observed: %w", sf.Kind, err)
		}
		have, snap = len(els), next
	}
	return have, nil
}
