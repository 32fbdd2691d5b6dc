// File: internal/ats/prefill.go
package ats

import (
	"strings"

	"golang.org/x/net/html"

	"github.com/xkilldash9x/autoapply/internal/browser/dom"
	"github.com/xkilldash9x/autoapply/internal/engine"
	"github.com/xkilldash9x/autoapply/internal/normalize"
	"github.com/xkilldash9x/autoapply/internal/question"
	"github.com/xkilldash9x/autoapply/internal/similarity"
)

var _ engine.PrefillChecker = (*FormManager)(nil)

// Agrees reports whether the value the page already shows for q matches the
// answer, after the kind's normalization. Kinds whose state the snapshot
// cannot show reliably (multiselects, uploads, location autocompletes)
// never agree, so they are always driven by their handler.
func (m *FormManager) Agrees(q question.Question, ans question.Answered) bool {
	if ans.Meta.Location || q.Kind == question.KindMultiselect || q.Kind == question.KindFile {
		return false
	}
	h, ok := m.registry.For(q.Kind)
	if !ok {
		return false
	}
	v, err := h.Normalize(ans.Value, len(q.Fields))
	if err != nil {
		return false
	}
	root := docRoot(q.Base)
	switch want := v.(type) {
	case string:
		got := q.Base.Value()
		if q.Base.IsContentEditable() {
			got = q.Base.Text()
		}
		return strings.EqualFold(strings.TrimSpace(got), strings.TrimSpace(want))
	case []string:
		return allMatch(shownChoices(q, root), want, m.base.Threshold)
	case normalize.Selection:
		return m.selectionAgrees(q, root, want)
	}
	return false
}

func (m *FormManager) selectionAgrees(q question.Question, root *html.Node, want normalize.Selection) bool {
	boxes := checkboxes(q)
	if len(boxes) == 0 {
		return false
	}
	var checked []string
	for _, b := range boxes {
		if b.Checked() {
			checked = append(checked, b.AccessibleLabel(root))
		}
	}
	switch {
	case want.CheckAll:
		return len(checked) == len(boxes)
	case len(boxes) == 1:
		for _, c := range want.Candidates {
			if b, err := normalize.Bool(c); err == nil {
				return b == (len(checked) == 1)
			}
		}
	}
	return allMatch(checked, want.Candidates, m.base.Threshold)
}

// shownChoices returns the labels a single choice widget currently shows.
func shownChoices(q question.Question, root *html.Node) []string {
	switch q.Kind {
	case question.KindRadio:
		var out []string
		for _, f := range q.Fields {
			if kindValidators[question.KindRadio](f) && f.Checked() {
				out = append(out, f.AccessibleLabel(root))
			}
		}
		return out
	case question.KindSelect, question.KindDropdown:
		if q.Base.Tag() == "select" {
			if opt, ok := q.Base.SelectedOption(); ok {
				return []string{opt.Text()}
			}
			return nil
		}
		if q.Base.Tag() == "input" {
			return []string{q.Base.Value()}
		}
		return []string{q.Base.Text()}
	}
	return nil
}

func checkboxes(q question.Question) []dom.Element {
	var out []dom.Element
	for _, f := range q.Fields {
		if kindValidators[question.KindCheckbox](f) {
			out = append(out, f)
		}
	}
	return out
}

// allMatch reports whether shown is non-empty, free of placeholders, and
// every label reaches threshold against some candidate.
func allMatch(shown, candidates []string, threshold float64) bool {
	if len(shown) == 0 || len(candidates) == 0 {
		return false
	}
	for _, s := range shown {
		if isPlaceholder(s) || inList(s, PlaceholderBlacklist) {
			return false
		}
		if _, ok := similarity.Best([]string{s}, candidates, threshold); !ok {
			return false
		}
	}
	return true
}

func docRoot(el dom.Element) *html.Node {
	n := el.Node
	if n == nil {
		return nil
	}
	for n.Parent != nil {
		n = n.Parent
	}
	return n
}
