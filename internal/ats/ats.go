// File: internal/ats/ats.go

// Package ats holds the machinery every applicant tracking system shares:
// question discovery over a selector catalog, the layered answer resolver,
// the form manager that routes answers to field handlers, the correction
// applier for repeatable sub-forms and the page runner that drives a tab
// from the job posting to the confirmation page.
package ats

import (
	"context"
	"errors"

	"github.com/xkilldash9x/autoapply/internal/browser/dom"
	"github.com/xkilldash9x/autoapply/internal/jobdata"
	"github.com/xkilldash9x/autoapply/internal/question"
	"github.com/xkilldash9x/autoapply/internal/tabstate"
)

// ErrUnrecognizedPage is returned when a flow cannot classify the document.
var ErrUnrecognizedPage = errors.New("unrecognized page")

// PageKind classifies a document. Platforms add their own kinds for the
// steps of their application flow.
type PageKind string

// Kinds every platform understands.
const (
	PageUnknown        PageKind = "unknown"
	PageLanding        PageKind = "landing"
	PageAuth           PageKind = "auth"
	PageApplication    PageKind = "application"
	PageReview         PageKind = "review"
	PageSubmitted      PageKind = "submitted"
	PageAlreadyApplied PageKind = "already_applied"
	PageNotFound       PageKind = "not_found"
	PageError          PageKind = "page_error"
)

// Terminal reports kinds that end the page loop.
func (k PageKind) Terminal() bool {
	switch k {
	case PageSubmitted, PageAlreadyApplied, PageNotFound, PageUnknown:
		return true
	}
	return false
}

// SubForm describes a repeatable container such as one work experience.
type SubForm struct {
	Kind question.CorrectionKind
	// Container matches every instance of the sub-form in document order.
	Container string
	// Remove is the delete button, relative to a container.
	Remove string
	// Confirm is an optional confirmation button shown after Remove.
	Confirm string
	// Add is the document-level button that appends an instance.
	Add string
}

// Selectors is the DOM contract of one page. Relative paths start with ".".
type Selectors struct {
	// Containers match question containers.
	Containers []string
	// Labels are relative label paths tried in order.
	Labels []string
	// Fields matches input-capable descendants of a container.
	Fields string
	// Ignore drops fields that must never be answered.
	Ignore dom.Validator
	// Multiselect marks base fields that accept several values.
	Multiselect dom.Validator
	// SelectedItems finds chosen items of a multiselect, relative to its
	// container.
	SelectedItems string
	// UploadedFile finds an uploaded file name, relative to a container.
	UploadedFile string

	Submit   string
	Errors   string
	Progress string
	// Interstitial matches a follow-up prompt, such as an emailed security
	// code, that a submit can raise instead of advancing.
	Interstitial string

	SubForms []SubForm
}

// Catalog maps page kinds to their selectors.
type Catalog map[PageKind]Selectors

// SubForm returns the sub-form for a correction kind.
func (s Selectors) SubForm(kind question.CorrectionKind) (SubForm, bool) {
	for _, sf := range s.SubForms {
		if sf.Kind == kind {
			return sf, true
		}
	}
	return SubForm{}, false
}

// Step is a flow's verdict on a page.
type Step struct {
	// Done ends the loop with Result.
	Done   bool
	Result tabstate.Result
	Reason string
}

// Next continues with the following page.
func Next() Step { return Step{} }

// Finish ends the run.
func Finish(result tabstate.Result, reason string) Step {
	return Step{Done: true, Result: result, Reason: reason}
}

// Flow is the platform specific part of a run.
type Flow interface {
	Name() string
	// Classify maps the current document to a page kind.
	Classify(snap *dom.Snapshot) PageKind
	// JobSelectors locate the posting details for the LLM context.
	JobSelectors() jobdata.Selectors
	// Handle processes one non-terminal page.
	Handle(ctx context.Context, r *Runner, kind PageKind, snap *dom.Snapshot) (Step, error)
}
