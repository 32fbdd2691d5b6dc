// File: internal/question/question.go

// Package question holds the data model shared by discovery, resolution,
// execution and the resolution engine.
package question

import (
	"github.com/xkilldash9x/autoapply/internal/browser/dom"
)

// Question is one logical form field discovered in the current iteration.
// Fields keeps every input-capable descendant in document order; Base is the
// field the Kind was derived from.
type Question struct {
	ID       string
	Label    string
	Fields   []dom.Element
	Base     dom.Element
	Kind     Kind
	Required bool
	// Set reports whether the page already carries a value for the question.
	Set bool
	// Container is the position of the repeatable sub-form the question
	// lives in, or -1.
	Container int
}

// New builds a question and derives its identity from the label and a
// stable serialization of its fields.
func New(label string, fields []dom.Element, base dom.Element, kind Kind, required bool) Question {
	return Question{
		ID:        dom.Fingerprint(label, fields),
		Label:     label,
		Fields:    fields,
		Base:      base,
		Kind:      kind,
		Required:  required,
		Container: -1,
	}
}

// XPaths returns the locators of every field.
func (q Question) XPaths() []string {
	out := make([]string, 0, len(q.Fields))
	for _, f := range q.Fields {
		out = append(out, f.XPath)
	}
	return out
}

// Index returns questions keyed by ID.
func Index(qs []Question) map[string]Question {
	m := make(map[string]Question, len(qs))
	for _, q := range qs {
		m[q.ID] = q
	}
	return m
}
