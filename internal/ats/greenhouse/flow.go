// File: internal/ats/greenhouse/flow.go

// Package greenhouse drives Greenhouse job boards. The application is a
// single form; a submit may ask for a security code emailed to the
// candidate before the application is accepted.
package greenhouse

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
const Name = "greenhouse"

// Flow is the Greenhouse ats.Flow.
type Flow struct {
	Security *SecurityCode
	logger   *zap.Logger
}

var _ ats.Flow = (*Flow)(nil)

// New builds a Greenhouse flow.
func New(logger *zap.Logger) *Flow {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named(Name)
	return &Flow{Security: NewSecurityCode(logger), logger: logger}
}

// Matches reports whether rawURL is a Greenhouse board.
func Matches(rawURL string) bool {
	switch hostOf(rawURL) {
	case "boards.greenhouse.io", "job-boards.greenhouse.io", "boards.eu.greenhouse.io", "job-boards.eu.greenhouse.io":
		return true
	}
	return false
}

func (f *Flow) Name() string { return Name }

func (f *Flow) JobSelectors() jobdata.Selectors { return jobSelectors }

// Classify maps the document to a page kind. The security code prompt is
// rendered inside the application form, so it is checked first.
func (f *Flow) Classify(snap *dom.Snapshot) ats.PageKind {
	switch {
	case snap.Exists(xpConfirmation), strings.Contains(snap.URL, "/confirmation"):
		return ats.PageSubmitted
	case snap.Exists(xpFlashError), strings.Contains(snap.URL, "error=true"):
		return ats.PageNotFound
	}
	for _, el := range snap.FindAll(xpSecurityInput) {
		if !el.Hidden() {
			return PageSecurityCode
		}
	}
	if snap.Exists(xpForm) {
		return ats.PageApplication
	}
	if snap.Exists(xpApplyButton) {
		return ats.PageLanding
	}
	return ats.PageUnknown
}

// Handle implements ats.Flow.
func (f *Flow) Handle(ctx context.Context, r *ats.Runner, kind ats.PageKind, snap *dom.Snapshot) (ats.Step, error) {
	switch kind {
	case ats.PageLanding:
		el, ok := snap.Find(xpApplyButton)
		if !ok {
			return ats.Step{}, fmt.Errorf("apply button: %w", dom.ErrElementNotFound)
		}
		return ats.Next(), r.Page().Click(ctx, el.XPath)
	case PageSecurityCode:
		return f.Security.Handle(ctx, r, snap)
	}

	out, err := r.FillAndSubmit(ctx, f.PageSpec())
	if err != nil {
		return ats.Step{}, fmt.Errorf("application form: %w", err)
	}
	switch {
	case out.Interstitial:
		f.logger.Info("Submit asked for a security code.")
	case !out.Advanced && len(out.Errors) > 0:
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
	o.OptionSelector = xpOption
	o.SelectedSelector = xpMultiValue
	o.Search = true
	o.FilenameSelector = xpFilename
}

// Company returns the board token used to look up the security code mail:
// the scraped company name, else the board slug from the URL.
func Company(job, rawURL string) string {
	if job = strings.TrimSpace(job); job != "" {
		return job
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	if v := u.Query().Get("for"); v != "" {
		return v
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) == 0 || parts[0] == "embed" {
		return ""
	}
	return parts[0]
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
