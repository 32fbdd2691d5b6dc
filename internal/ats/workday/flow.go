// File: internal/ats/workday/flow.go

// Package workday drives Workday candidate portals: the posting page, the
// sign-in or create-account gate, and the multi-step application wizard.
package workday

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/autoapply/internal/ats"
	"github.com/xkilldash9x/autoapply/internal/browser/dom"
	"github.com/xkilldash9x/autoapply/internal/fields"
	"github.com/xkilldash9x/autoapply/internal/jobdata"
	"github.com/xkilldash9x/autoapply/internal/tabstate"
)

// Name identifies the platform in results and metrics.
const Name = "workday"

// Flow is the Workday ats.Flow.
type Flow struct {
	Auth   *Auth
	logger *zap.Logger

	mu       sync.Mutex
	expanded map[ats.PageKind]bool
}

var _ ats.Flow = (*Flow)(nil)

// New builds a Workday flow.
func New(logger *zap.Logger) *Flow {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named(Name)
	return &Flow{Auth: NewAuth(logger), logger: logger, expanded: make(map[ats.PageKind]bool)}
}

// Matches reports whether url belongs to a Workday tenant.
func Matches(url string) bool {
	u := strings.ToLower(url)
	return strings.Contains(u, ".myworkdayjobs.com") || strings.Contains(u, ".myworkday.com") || strings.Contains(u, "wd1.myworkdaysite.com")
}

func (f *Flow) Name() string { return Name }

func (f *Flow) JobSelectors() jobdata.Selectors { return jobSelectors }

// Classify maps the document to a page kind. Terminal markers win over the
// wizard's progress bar.
func (f *Flow) Classify(snap *dom.Snapshot) ats.PageKind {
	switch {
	case snap.Exists(xpCongratulations):
		return ats.PageSubmitted
	case snap.Exists(xpAlreadyApplied):
		return ats.PageAlreadyApplied
	case snap.Exists(xpPageNotFound):
		return ats.PageNotFound
	case snap.Exists(xpErrorPage):
		return ats.PageError
	}
	for _, el := range snap.FindAll(xpAuthPassword) {
		if !el.Hidden() {
			return ats.PageAuth
		}
	}
	if step, ok := snap.Find(xpProgressStep); ok {
		title := strings.ToLower(step.Text())
		for _, s := range stepKinds {
			if strings.Contains(title, s.title) {
				return s.kind
			}
		}
		return ats.PageApplication
	}
	if snap.Exists(xpApplyManually) || snap.Exists(xpApplyButton) {
		return ats.PageLanding
	}
	return ats.PageUnknown
}

// Handle implements ats.Flow.
func (f *Flow) Handle(ctx context.Context, r *ats.Runner, kind ats.PageKind, snap *dom.Snapshot) (ats.Step, error) {
	switch kind {
	case ats.PageLanding:
		return ats.Next(), f.startApplication(ctx, r, snap)
	case ats.PageAuth:
		return f.Auth.Handle(ctx, r, snap)
	case PageApplicationReview:
		out, err := r.SubmitAndWait(ctx, Selectors[PageApplicationReview])
		if err != nil {
			return ats.Step{}, err
		}
		if len(out.Errors) > 0 {
			return ats.Finish(tabstate.ResultFailed, "review page rejected the application: "+strings.Join(out.Errors, "; ")), nil
		}
		return ats.Next(), nil
	}

	spec := f.PageSpec(r, kind)
	out, err := r.FillAndSubmit(ctx, spec)
	if err != nil {
		return ats.Step{}, fmt.Errorf("%s: %w", kind, err)
	}
	if len(out.Errors) > 0 {
		f.logger.Warn("Step still reports errors.", zap.String("page", string(kind)), zap.Strings("errors", out.Errors))
	}
	return ats.Next(), nil
}

// PageSpec returns the form description for a wizard step.
func (f *Flow) PageSpec(r *ats.Runner, kind ats.PageKind) ats.PageSpec {
	sel, ok := Selectors[kind]
	if !ok {
		sel = formSelectors()
	}
	spec := ats.PageSpec{
		Kind:      kind,
		Selectors: sel,
		Known:     KnownQuestions,
		Fields:    fieldOptions,
	}
	if kind == PageMyExperience {
		spec.InitIteration = func(ctx context.Context, page dom.Page) error {
			return f.initExperience(ctx, r, page)
		}
	}
	return spec
}

func fieldOptions(o *fields.Options) {
	o.OptionSelector = xpPromptOption
	o.SelectedSelector = "//*[@data-automation-id='selectedItem']"
	o.Search = true
	o.FilenameSelector = "//*[@data-automation-id='file-upload-item-name']"
	o.ProgressSelector = xpUploadProgress
}

func (f *Flow) startApplication(ctx context.Context, r *ats.Runner, snap *dom.Snapshot) error {
	target := xpApplyButton
	if snap.Exists(xpApplyManually) {
		target = xpApplyManually
	}
	el, ok := snap.Find(target)
	if !ok {
		return fmt.Errorf("apply button: %w", dom.ErrElementNotFound)
	}
	f.logger.Info("Starting application.", zap.String("button", el.AutomationID()))
	return r.Page().Click(ctx, el.XPath)
}

// initExperience uploads the resume and adds one sub-form per profile
// entry. It runs before every discovery but acts only once per run.
func (f *Flow) initExperience(ctx context.Context, r *ats.Runner, page dom.Page) error {
	f.mu.Lock()
	done := f.expanded[PageMyExperience]
	f.expanded[PageMyExperience] = true
	f.mu.Unlock()
	if done {
		return nil
	}

	snap, err := page.Snapshot(ctx)
	if err != nil {
		return err
	}
	if input, ok := snap.Find(xpResumeInput); ok && !snap.Exists(xpUploadedFile) {
		if err := f.uploadResume(ctx, r, page, input); err != nil {
			f.logger.Warn("Resume upload failed.", zap.Error(err))
		}
	}
	p := r.Profile()
	wants := []struct {
		sf ats.SubForm
		n  int
	}{
		{workSubForm, len(p.WorkExperiences)},
		{educationSubForm, len(p.Education)},
		{websiteSubForm, len(p.OtherURLs)},
	}
	for _, w := range wants {
		if w.n == 0 {
			continue
		}
		have, err := ats.Expand(ctx, page, w.sf, w.n, r.Budget())
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.logger.Warn("Could not add every sub-form.", zap.Stringer("kind", w.sf.Kind), zap.Int("have", have), zap.Int("want", w.n), zap.Error(err))
		}
	}
	return nil
}

func (f *Flow) uploadResume(ctx context.Context, r *ats.Runner, page dom.Page, input dom.Element) error {
	path, ok := r.Resume(ctx)
	if !ok {
		return errors.New("profile has no resume")
	}
	if err := page.SetFiles(ctx, input.XPath, []string{path}); err != nil {
		return fmt.Errorf("set resume file: %w", err)
	}
	if _, _, err := dom.Resilient(ctx, page, dom.Union([]string{xpUploadedFile}), r.Budget()); err != nil {
		return fmt.Errorf("uploaded resume not shown: %w", err)
	}
	f.logger.Info("Uploaded resume.", zap.String("path", path))
	return nil
}
