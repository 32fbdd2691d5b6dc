// File: internal/ats/runner.go
package ats

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/autoapply/internal/browser/dom"
	"github.com/xkilldash9x/autoapply/internal/channel"
	"github.com/xkilldash9x/autoapply/internal/config"
	"github.com/xkilldash9x/autoapply/internal/engine"
	"github.com/xkilldash9x/autoapply/internal/fields"
	"github.com/xkilldash9x/autoapply/internal/jobdata"
	"github.com/xkilldash9x/autoapply/internal/labels"
	"github.com/xkilldash9x/autoapply/internal/observability"
	"github.com/xkilldash9x/autoapply/internal/profile"
	"github.com/xkilldash9x/autoapply/internal/question"
	"github.com/xkilldash9x/autoapply/internal/tabstate"
)

// ErrNoSubmit is returned when a page has no submit control.
var ErrNoSubmit = errors.New("submit button not found")

// stablePolls is the number of identical consecutive polls that make the
// document stable.
const stablePolls = 3

// RunnerConfig holds the page loop budgets.
type RunnerConfig struct {
	Engine engine.Options
	// ErrorPasses is how many errorOnly passes follow a submit that left
	// errors on the page.
	ErrorPasses int
	Timeouts    config.TimeoutsConfig
	// MaxPages bounds the number of classified pages in one run.
	MaxPages int
	// MaxReloads bounds reloads of error pages.
	MaxReloads int
	// MaxStuck is how many times a page may fail to change before the run
	// fails.
	MaxStuck          int
	UseNearestAddress bool
}

// DefaultRunnerConfig derives budgets from the loaded configuration.
func DefaultRunnerConfig(cfg config.Interface) RunnerConfig {
	ec := cfg.Engine()
	opts := engine.DefaultOptions()
	if ec.MaxIterations > 0 {
		opts.MaxIterations = ec.MaxIterations
	}
	if ec.MaxAttemptsPerQuestion > 0 {
		opts.MaxAttemptsPerQuestion = ec.MaxAttemptsPerQuestion
	}
	if ec.BatchDelayMs >= 0 {
		opts.BatchDelay = time.Duration(ec.BatchDelayMs) * time.Millisecond
	}
	opts.ErrorOnly = ec.ErrorOnly
	opts.LLMCacheMaxFailures = ec.LLMCacheMaxFailures
	return RunnerConfig{
		Engine:            opts,
		ErrorPasses:       ec.ErrorPasses,
		Timeouts:          cfg.Timeouts(),
		MaxPages:          25,
		MaxReloads:        2,
		MaxStuck:          2,
		UseNearestAddress: cfg.Services().UseNearestAddress,
	}
}

// RunnerDeps are the collaborators shared by every page of a run.
type RunnerDeps struct {
	Page       dom.Page
	Channel    channel.Channel
	Profile    *profile.Profile
	Labels     *labels.Catalog
	Matcher    labels.Matcher
	Registry   *fields.Registry
	Controller *engine.Controller
	Metrics    *observability.Metrics
	// JobID selects server-side job data; empty means scrape the page.
	JobID string
}

// PageSpec is what a flow supplies to fill one form page.
type PageSpec struct {
	Kind      PageKind
	Selectors Selectors
	Known     question.Catalog
	// InitIteration runs before each discovery.
	InitIteration func(ctx context.Context, page dom.Page) error
	// Fields adjusts the handler options for the page's widgets.
	Fields func(opts *fields.Options)
	// Tune adjusts options per question.
	Tune func(q question.Question, opts *fields.Options)
}

// SubmitOutcome describes what a submit led to.
type SubmitOutcome struct {
	// Advanced is true when the page moved on.
	Advanced bool
	// Errors lists validation messages left on the page.
	Errors []string
	// Interstitial is true when the submit raised a follow-up prompt.
	Interstitial bool
}

// Runner drives one tab through a platform flow.
type Runner struct {
	flow   Flow
	deps   RunnerDeps
	cfg    RunnerConfig
	state  *tabstate.Store
	ctrl   *engine.Controller
	job    jobdata.Details
	logger *zap.Logger
	now    func() time.Time
}

// NewRunner validates deps and builds a Runner.
func NewRunner(flow Flow, deps RunnerDeps, cfg RunnerConfig, logger *zap.Logger) (*Runner, error) {
	if flow == nil {
		return nil, errors.New("runner requires a flow")
	}
	if deps.Page == nil || deps.Channel == nil {
		return nil, errors.New("runner requires a page and a channel")
	}
	if deps.Profile == nil || deps.Labels == nil || deps.Matcher == nil || deps.Registry == nil {
		return nil, errors.New("runner requires a profile, label catalog, matcher and field registry")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Controller == nil {
		deps.Controller = engine.NewController()
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 25
	}
	if cfg.MaxStuck <= 0 {
		cfg.MaxStuck = 2
	}
	return &Runner{
		flow:   flow,
		deps:   deps,
		cfg:    cfg,
		state:  deps.Channel.TabState(),
		ctrl:   deps.Controller,
		logger: logger.Named("runner").With(zap.String("platform", flow.Name())),
		now:    time.Now,
	}, nil
}

func (r *Runner) Page() dom.Page { return r.deps.Page }
func (r *Runner) Channel() channel.Channel { return r.deps.Channel }
func (r *Runner) Profile() *profile.Profile { return r.deps.Profile }
func (r *Runner) State() *tabstate.Store { return r.state }
func (r *Runner) Job() jobdata.Details { return r.job }
func (r *Runner) Logger() *zap.Logger { return r.logger }
func (r *Runner) Controller() *engine.Controller { return r.ctrl }
func (r *Runner) Config() RunnerConfig { return r.cfg }

// Run drives the tab until a terminal page, an abort or a failure. The
// result is always recorded in tab state and reported to the server.
func (r *Runner) Run(ctx context.Context) (result tabstate.Result, err error) {
	r.logger.Info("Starting application run.")
	r.state.Patch(map[string]any{
		tabstate.KeyState:   tabstate.StateRunning,
		tabstate.KeyRunning: true,
	}, tabstate.Options{UpdateUI: true})

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Run panicked.", zap.Any("panic", rec))
			result, err = tabstate.ResultFailed, fmt.Errorf("run panicked: %v", rec)
		}
		r.finish(result, err)
	}()

	if err := r.loadJob(ctx); err != nil {
		return r.verdict(err)
	}

	reloads, stuck := 0, 0
	for n := 0; n < r.cfg.MaxPages; n++ {
		if err := r.ctrl.Check(); err != nil {
			return r.verdict(err)
		}
		if err := r.WaitStable(ctx); err != nil {
			return r.verdict(err)
		}
		snap, err := r.deps.Page.Snapshot(ctx)
		if err != nil {
			return r.verdict(fmt.Errorf("snapshot page: %w", err))
		}
		kind := r.flow.Classify(snap)
		r.deps.Metrics.PageProcessed(r.flow.Name(), string(kind))
		r.logger.Info("Classified page.", zap.String("page", string(kind)), zap.String("url", snap.URL))

		switch kind {
		case PageSubmitted, PageAlreadyApplied:
			return tabstate.ResultApplied, nil
		case PageNotFound:
			return tabstate.ResultJobExpired, nil
		case PageUnknown:
			if n == 0 {
				return tabstate.ResultUnsupportedPlatform, nil
			}
			changed, err := r.WaitChanged(ctx, snap)
			if err != nil {
				return r.verdict(err)
			}
			if !changed {
				return tabstate.ResultFailed, fmt.Errorf("%w at %s", ErrUnrecognizedPage, snap.URL)
			}
			continue
		case PageError:
			if reloads >= r.cfg.MaxReloads {
				return tabstate.ResultFailed, fmt.Errorf("page kept failing after %d reloads", reloads)
			}
			reloads++
			r.logger.Warn("Error page, reloading.", zap.Int("reload", reloads))
			if err := r.deps.Page.Reload(ctx); err != nil {
				return r.verdict(fmt.Errorf("reload: %w", err))
			}
			continue
		}

		step, err := r.flow.Handle(ctx, r, kind, snap)
		if err != nil {
			return r.verdict(err)
		}
		if step.Done {
			if step.Reason != "" {
				r.logger.Info("Flow finished the run.", zap.String("reason", step.Reason))
			}
			if step.Result == tabstate.ResultFailed {
				return step.Result, errors.New(step.Reason)
			}
			return step.Result, nil
		}
		changed, err := r.WaitChanged(ctx, snap)
		if err != nil {
			return r.verdict(err)
		}
		if changed {
			stuck = 0
			continue
		}
		stuck++
		r.logger.Warn("Page did not change after handling.", zap.String("page", string(kind)), zap.Int("stuck", stuck))
		if stuck >= r.cfg.MaxStuck {
			return tabstate.ResultFailed, fmt.Errorf("page %s did not advance", kind)
		}
	}
	return tabstate.ResultFailed, fmt.Errorf("no terminal page after %d pages", r.cfg.MaxPages)
}

// verdict maps an error to its terminal result.
func (r *Runner) verdict(err error) (tabstate.Result, error) {
	if errors.Is(err, engine.ErrAborted) || r.ctrl.Aborted() {
		return tabstate.ResultAborted, err
	}
	return tabstate.ResultFailed, err
}

func (r *Runner) finish(result tabstate.Result, err error) {
	logFields := []zap.Field{zap.String("result", string(result))}
	if err != nil {
		logFields = append(logFields, zap.Error(err))
	}
	r.state.Finish(result)
	// The report must go out even when the run context is cancelled.
	rctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if rerr := r.deps.Channel.ReportResult(rctx, result, r.job, r.flow.Name()); rerr != nil {
		r.logger.Warn("Failed to report result.", zap.Error(rerr))
	}
	if result == tabstate.ResultApplied {
		r.logger.Info("Application run finished.", logFields...)
		return
	}
	r.logger.Warn("Application run finished without applying.", logFields...)
}

// loadJob fetches job data from the server or scrapes the posting.
func (r *Runner) loadJob(ctx context.Context) error {
	if r.deps.JobID != "" {
		job, err := r.deps.Channel.FetchJobData(ctx, r.deps.JobID)
		switch {
		case err == nil:
			r.setJob(job)
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			r.logger.Warn("Could not fetch job data, scraping the page.", zap.Error(err))
		}
	}
	if err := r.WaitStable(ctx); err != nil {
		return err
	}
	snap, err := r.deps.Page.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("snapshot for job data: %w", err)
	}
	job, err := jobdata.NewScraper().Scrape(snap, r.flow.JobSelectors())
	if err != nil {
		r.logger.Warn("Job data scrape was incomplete.", zap.Error(err))
	}
	if job.ID == "" {
		job.ID = r.deps.JobID
	}
	r.setJob(job)
	return nil
}

func (r *Runner) setJob(job jobdata.Details) {
	r.job = job
	r.state.Patch(map[string]any{
		tabstate.KeyJobID:   job.ID,
		tabstate.KeyJobData: job,
	}, tabstate.Options{})
	r.logger.Info("Job data loaded.", zap.String("title", job.Title), zap.String("company", job.Company))
}

// Fill runs the resolution engine over one form page.
func (r *Runner) Fill(ctx context.Context, spec PageSpec, opts engine.Options) (*engine.Result, error) {
	platform, err := r.platform(spec)
	if err != nil {
		return nil, err
	}
	eng, err := engine.New(r.deps.Page, platform, r.deps.Channel, opts, r.logger,
		engine.WithController(r.ctrl),
		engine.WithMetrics(r.deps.Metrics),
		engine.WithJob(r.job))
	if err != nil {
		return nil, fmt.Errorf("build engine: %w", err)
	}
	return eng.Run(ctx)
}

func (r *Runner) platform(spec PageSpec) (engine.Platform, error) {
	resolver, err := NewResolver(ResolverDeps{
		Known:             spec.Known,
		Labels:            r.deps.Labels,
		Matcher:           r.deps.Matcher,
		Profile:           r.deps.Profile,
		Channel:           r.deps.Channel,
		Job:               r.Job,
		UseNearestAddress: r.cfg.UseNearestAddress,
	}, r.logger)
	if err != nil {
		return engine.Platform{}, err
	}
	base := fields.DefaultOptions()
	base.Budget = r.Budget()
	if spec.Fields != nil {
		spec.Fields(&base)
	}
	forms := NewFormManager(r.deps.Registry, r.cfg.Timeouts, base, r.logger)
	forms.Tune = spec.Tune
	return engine.Platform{
		Name:          r.flow.Name(),
		Discoverer:    NewCrawler(spec.Selectors, spec.Known, r.logger),
		Resolver:      resolver,
		Forms:         forms,
		Corrector:     NewCorrector(spec.Selectors.SubForms, r.Budget(), r.logger),
		InitIteration: spec.InitIteration,
	}, nil
}

// Budget is the locator retry budget derived from the timeouts config.
func (r *Runner) Budget() dom.Budget {
	b := dom.DefaultBudget()
	t := r.cfg.Timeouts
	if t.MutationTimeout > 0 {
		b.MutationTimeout = t.MutationTimeout
	}
	if t.ResolveRetries > 0 {
		b.Retries = t.ResolveRetries
	}
	if t.ResolveDelay > 0 {
		b.Delay = t.ResolveDelay
	}
	return b
}

// Resume returns the resume path to upload for the current job.
func (r *Runner) Resume(ctx context.Context) (string, bool) {
	return BestResume(ctx, r.deps.Channel, r.deps.Profile, r.job, r.deps.Profile.LLMResumeSelectionEnabled, r.logger)
}

// FillAndSubmit fills the page, submits it and, while validation errors
// remain, runs errorOnly passes with reduced budgets.
func (r *Runner) FillAndSubmit(ctx context.Context, spec PageSpec) (SubmitOutcome, error) {
	res, err := r.Fill(ctx, spec, r.cfg.Engine)
	if err != nil {
		return SubmitOutcome{}, err
	}
	if len(res.Unresolved) > 0 {
		r.logger.Info("Submitting with unresolved questions.", zap.Int("unresolved", len(res.Unresolved)))
	}
	out, err := r.SubmitAndWait(ctx, spec.Selectors)
	if err != nil {
		return out, err
	}
	if out.Interstitial {
		r.logger.Info("Submit raised a follow-up prompt.", zap.Strings("errors", out.Errors))
		return out, nil
	}
	for pass := 1; pass <= r.cfg.ErrorPasses && !out.Advanced && len(out.Errors) > 0; pass++ {
		r.logger.Info("Page reported errors after submit, retrying invalid questions.",
			zap.Int("pass", pass), zap.Strings("errors", out.Errors))
		if _, err := r.Fill(ctx, spec, errorPassOptions(r.cfg.Engine)); err != nil {
			return out, err
		}
		if out, err = r.SubmitAndWait(ctx, spec.Selectors); err != nil {
			return out, err
		}
	}
	if out.Advanced {
		r.completeQuestionnaire()
	}
	return out, nil
}

// errorPassOptions halves the budgets for a pass over invalid questions.
func errorPassOptions(o engine.Options) engine.Options {
	o.ErrorOnly = true
	o.MaxIterations = max(2, o.MaxIterations/2)
	o.MaxAttemptsPerQuestion = max(2, o.MaxAttemptsPerQuestion-1)
	return o
}

func (r *Runner) completeQuestionnaire() {
	n, _ := r.state.Value(tabstate.KeyQuestionnairesCompleted)
	count, _ := n.(int)
	r.state.Patch(map[string]any{tabstate.KeyQuestionnairesCompleted: count + 1}, tabstate.Options{UpdateUI: true})
}

// SubmitAndWait clicks the page's submit control and waits until the
// control disappears, errors show, the progress step changes or the URL
// changes.
func (r *Runner) SubmitAndWait(ctx context.Context, sel Selectors) (SubmitOutcome, error) {
	if err := r.ctrl.Check(); err != nil {
		return SubmitOutcome{}, err
	}
	els, snap, err := dom.Resilient(ctx, r.deps.Page, dom.Union([]string{sel.Submit}), r.Budget())
	if err != nil {
		if errors.Is(err, dom.ErrElementNotFound) {
			return SubmitOutcome{}, ErrNoSubmit
		}
		return SubmitOutcome{}, err
	}
	progress := progressText(snap, sel.Progress)
	url := snap.URL

	if err := r.deps.Page.Click(ctx, els[0].XPath); err != nil {
		return SubmitOutcome{}, fmt.Errorf("click submit: %w", err)
	}
	r.logger.Debug("Clicked submit.", zap.String("xpath", els[0].XPath))

	timeout := r.cfg.Timeouts.Submit
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	deadline := r.now().Add(timeout)
	for {
		after, err := r.deps.Page.Snapshot(ctx)
		if err != nil {
			return SubmitOutcome{}, fmt.Errorf("snapshot after submit: %w", err)
		}
		if sel.Interstitial != "" && visible(after, sel.Interstitial) {
			return SubmitOutcome{Interstitial: true, Errors: errorTexts(after, sel.Errors)}, nil
		}
		if errs := errorTexts(after, sel.Errors); len(errs) > 0 {
			return SubmitOutcome{Errors: errs}, nil
		}
		if after.URL != url || !after.Exists(sel.Submit) ||
			(sel.Progress != "" && progressText(after, sel.Progress) != progress) {
			return SubmitOutcome{Advanced: true}, nil
		}
		remaining := deadline.Sub(r.now())
		if remaining <= 0 {
			r.logger.Warn("Submit produced no visible change.")
			return SubmitOutcome{}, nil
		}
		if _, err := r.deps.Page.WaitForMutation(ctx, min(remaining, r.poll())); err != nil {
			return SubmitOutcome{}, err
		}
	}
}

// WaitStable waits until the document is unchanged for several polls, up to
// the stability timeout. A document that never settles is not an error.
func (r *Runner) WaitStable(ctx context.Context) error {
	timeout := r.cfg.Timeouts.DOMStability
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	deadline := r.now().Add(timeout)
	last, same := "", 0
	for {
		snap, err := r.deps.Page.Snapshot(ctx)
		if err != nil {
			return fmt.Errorf("snapshot while waiting for stability: %w", err)
		}
		if doc := snap.HTML(); doc == last {
			same++
		} else {
			last, same = doc, 1
		}
		if same >= stablePolls {
			return nil
		}
		if !r.now().Before(deadline) {
			r.logger.Debug("Document did not settle, continuing.")
			return nil
		}
		if err := dom.Sleep(ctx, r.poll()); err != nil {
			return err
		}
	}
}

// WaitChanged waits until the document or URL differs from before. It
// reports false when the change timeout elapses first.
func (r *Runner) WaitChanged(ctx context.Context, before *dom.Snapshot) (bool, error) {
	timeout := r.cfg.Timeouts.DOMChange
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	deadline := r.now().Add(timeout)
	prev := before.HTML()
	for {
		snap, err := r.deps.Page.Snapshot(ctx)
		if err != nil {
			return false, fmt.Errorf("snapshot while waiting for change: %w", err)
		}
		if snap.URL != before.URL || snap.HTML() != prev {
			return true, nil
		}
		remaining := deadline.Sub(r.now())
		if remaining <= 0 {
			return false, nil
		}
		if _, err := r.deps.Page.WaitForMutation(ctx, min(remaining, r.poll())); err != nil {
			return false, err
		}
	}
}

func (r *Runner) poll() time.Duration {
	if p := r.cfg.Timeouts.StabilityPoll; p > 0 {
		return p
	}
	return 400 * time.Millisecond
}

func progressText(snap *dom.Snapshot, xpath string) string {
	if xpath == "" {
		return ""
	}
	if el, ok := snap.Find(xpath); ok {
		return el.Text()
	}
	return ""
}

func visible(snap *dom.Snapshot, xpath string) bool {
	for _, el := range snap.FindAll(xpath) {
		if !el.Hidden() {
			return true
		}
	}
	return false
}

func errorTexts(snap *dom.Snapshot, xpath string) []string {
	if xpath == "" {
		return nil
	}
	var out []string
	for _, el := range snap.FindAll(xpath) {
		if el.Hidden() {
			continue
		}
		if t := strings.TrimSpace(el.Text()); t != "" {
			out = append(out, t)
		}
	}
	return out
}
