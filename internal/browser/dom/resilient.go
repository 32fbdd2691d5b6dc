// File: internal/browser/dom/resilient.go
package dom

import (
	"context"
	"fmt"
	"time"
)

// Resolver finds elements in a snapshot.
type Resolver func(*Snapshot) []Element

// Budget bounds Resilient. Validate defaults to a non-empty result of
// connected elements.
type Budget struct {
	Retries         int
	Delay           time.Duration
	MutationTimeout time.Duration
	Validate        func([]Element) bool
}

// DefaultBudget is used by handlers that are not given one.
func DefaultBudget() Budget {
	return Budget{Retries: 1, Delay: 250 * time.Millisecond, MutationTimeout: 1500 * time.Millisecond}
}

func defaultValidate(els []Element) bool {
	if len(els) == 0 {
		return false
	}
	for _, e := range els {
		if !e.Valid() {
			return false
		}
	}
	return true
}

// NormalizeResolver turns an XPath, a list of XPaths (first non-empty match
// wins, in order) or a function into a Resolver.
func NormalizeResolver(spec any) (Resolver, error) {
	switch s := spec.(type) {
	case Resolver:
		return s, nil
	case func(*Snapshot) []Element:
		return s, nil
	case string:
		return func(snap *Snapshot) []Element { return snap.FindAll(s) }, nil
	case []string:
		locators := append([]string(nil), s...)
		return func(snap *Snapshot) []Element {
			for _, l := range locators {
				if els := snap.FindAll(l); len(els) > 0 {
					return els
				}
			}
			return nil
		}, nil
	case nil:
		return nil, fmt.Errorf("nil resolver")
	}
	return nil, fmt.Errorf("unsupported resolver type %T", spec)
}

// Union resolves every locator and concatenates the results, dropping
// duplicates.
func Union(locators []string) Resolver {
	return func(snap *Snapshot) []Element {
		seen := make(map[string]bool)
		var out []Element
		for _, l := range locators {
			for _, el := range snap.FindAll(l) {
				if !seen[el.XPath] {
					seen[el.XPath] = true
					out = append(out, el)
				}
			}
		}
		return out
	}
}

// Resilient resolves elements, waiting on DOM mutations when the first
// attempt does not validate. Each cycle re-resolves on every mutation until
// MutationTimeout; up to Retries further cycles follow, Delay apart. It
// returns the validated elements with the snapshot they came from, or
// ErrElementNotFound.
func Resilient(ctx context.Context, page Page, resolve Resolver, b Budget) ([]Element, *Snapshot, error) {
	validate := b.Validate
	if validate == nil {
		validate = defaultValidate
	}

	try := func() ([]Element, *Snapshot, bool, error) {
		snap, err := page.Snapshot(ctx)
		if err != nil {
			return nil, nil, false, err
		}
		els := resolve(snap)
		return els, snap, validate(els), nil
	}

	els, snap, ok, err := try()
	if err != nil {
		return nil, nil, err
	}
	if ok {
		return els, snap, nil
	}

	for cycle := 0; cycle <= b.Retries; cycle++ {
		deadline := time.Now().Add(b.MutationTimeout)
		for {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				break
			}
			mutated, err := page.WaitForMutation(ctx, remaining)
			if err != nil {
				return nil, nil, err
			}
			if !mutated {
				break
			}
			if els, snap, ok, err = try(); err != nil {
				return nil, nil, err
			} else if ok {
				return els, snap, nil
			}
		}
		if cycle == b.Retries {
			break
		}
		if err := Sleep(ctx, b.Delay); err != nil {
			return nil, nil, err
		}
		if els, snap, ok, err = try(); err != nil {
			return nil, nil, err
		} else if ok {
			return els, snap, nil
		}
	}
	return nil, snap, ErrElementNotFound
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
