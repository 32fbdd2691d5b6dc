// File: internal/ats/lever/flow.go

// Package lever drives jobs.lever.co postings: the posting page and the
// single page application form, whose location field is an autocomplete
// backed by Lever's location search.
package lever

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/autoapply/internal/ats"
	"github.com/xkilldash9x/autoapply/internal/browser/dom"
	"github.com/xkilldash9x/autoapply/internal/fields"
	"github.com/xkilldash9x/autoapply/internal/jobdata"
	"github.com/xkilldash9x/autoapply/internal/tabstate"
)

// Name identifies the platform in results and metrics.
const Name = "lever"

// Flow is the Lever ats.Flow.
type Flow struct {
	logger *zap.Logger
}

var _ ats.Flow = (*Flow)(nil)

// New builds a Lever flow.
func New(logger *zap.Logger) *Flow {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Flow{logger: logger.Named(Name)}
}

// Matches reports whether rawURL is a Lever posting.
func Matches(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	switch strings.ToLower(u.Hostname()) {
	case "jobs.lever.co", "jobs.eu.lever.co":
		return true
	}
	return false
}

func (f *Flow) Name() string { return Name }

func (f *Flow) JobSelectors() jobdata.Selectors { return jobSelectors }

// Classify maps the document to a page kind.
func (f *Flow) Classify(snap *dom.Snapshot) ats.PageKind {
	switch {
	case snap.Exists(xpSuccess), strings.HasSuffix(strings.TrimRight(snap.URL, "/"), "/thanks"):
		return ats.PageSubmitted
	case snap.Exists(xpNotFound):
		return ats.PageNotFound
	case snap.Exists(xpForm):
		return ats.PageApplication
	case snap.Exists(xpApplyButton):
		return ats.PageLanding
	}
	return ats.PageUnknown
}

// Handle implements ats.Flow.
func (f *Flow) Handle(ctx context.Context, r *ats.Runner, kind ats.PageKind, snap *dom.Snapshot) (ats.Step, error) {
	if kind == ats.PageLanding {
		el, ok := snap.Find(xpApplyButton)
		if !ok {
			return ats.Step{}, fmt.Errorf("apply button: %w", dom.ErrElementNotFound)
		}
		f.logger.Info("Opening the application form.")
		return ats.Next(), r.Page().Click(ctx, el.XPath)
	}
	out, err := r.FillAndSubmit(ctx, f.PageSpec())
	if err != nil {
		return ats.Step{}, fmt.Errorf("application form: %w", err)
	}
	if !out.Advanced && len(out.Errors) > 0 {
		return ats.Finish(tabstate.ResultFailed, "application form rejected: "+strings.Join(out.Errors, "; ")), nil
	}
	return ats.Next(), nil
}

// PageSpec describes the application form.
func (f *Flow) PageSpec() ats.PageSpec {
	return ats.PageSpec{
		Kind:      ats.PageApplication,
		Selectors: Selectors,
		Known:     KnownQuestions,
		Fields:    fieldOptions,
	}
}

func fieldOptions(o *fields.Options) {
	o.OptionSelector = xpLocationOpt + " | //*[@role='option']"
	o.FilenameSelector = xpFilename
	o.ProgressSelector = xpUploading
}
