// File: internal/question/known.go
package question

import (
	"time"

	"github.com/xkilldash9x/autoapply/internal/browser/dom"
	"github.com/xkilldash9x/autoapply/internal/profile"
)

// Action tells the resolver what to do with a matched known entry.
type Action uint8

const (
	ActionResolve Action = iota
	ActionSkip
	ActionSkipIfDataUnavailable
	ActionForceSkip
)

func (a Action) String() string {
	switch a {
	case ActionResolve:
		return "RESOLVE"
	case ActionSkip:
		return "SKIP"
	case ActionSkipIfDataUnavailable:
		return "SKIP_IF_DATA_UNAVAILABLE"
	case ActionForceSkip:
		return "FORCE_SKIP"
	}
	return "UNKNOWN"
}

// ValueFunc computes an answer from the profile. ok=false means no data.
type ValueFunc func(p *profile.Profile) (value any, ok bool)

// KnownEntry is a hand-authored rule for a question recognised by its DOM
// attributes.
type KnownEntry struct {
	Name        string
	Types       TypeSet
	DBAnswerKey string
	Value       any
	ValueFunc   ValueFunc
	Validator   dom.Validator
	Action      Action
	Locators    []string
	Timeout     time.Duration
	// Location marks current-location inputs served by autocomplete search.
	Location bool
	Notes    string
}

// Matches reports whether the question's kind is accepted and one of its
// fields satisfies the validator.
func (e KnownEntry) Matches(q Question) bool {
	if e.Validator == nil || !e.Types.Has(q.Kind) {
		return false
	}
	for _, f := range q.Fields {
		if e.Validator(f) {
			return true
		}
	}
	return false
}

// Catalog is an ordered list of known entries; the first match wins.
type Catalog []KnownEntry

// Match returns the first entry matching q.
func (c Catalog) Match(q Question) (KnownEntry, bool) {
	for _, e := range c {
		if e.Matches(q) {
			return e, true
		}
	}
	return KnownEntry{}, false
}

// ForceSkipBank is the union of validators of FORCE_SKIP entries.
func (c Catalog) ForceSkipBank() dom.Validator {
	var bank []dom.Validator
	for _, e := range c {
		if e.Action == ActionForceSkip && e.Validator != nil {
			bank = append(bank, e.Validator)
		}
	}
	return dom.Any(bank...)
}
