// File: internal/engine/engine.go

// Package engine runs the iterative question resolution loop shared by every
// ATS: discover, resolve, execute, correct and escalate to the LLM until the
// page settles or the iteration budget runs out.
package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/autoapply/internal/browser/dom"
	"github.com/xkilldash9x/autoapply/internal/jobdata"
	"github.com/xkilldash9x/autoapply/internal/observability"
	"github.com/xkilldash9x/autoapply/internal/question"
)

// Discoverer extracts the current questions. With errorOnly set it returns
// only questions flagged invalid by the page.
type Discoverer interface {
	Discover(ctx context.Context, page dom.Page, errorOnly bool) ([]question.Question, error)
}

// Resolver produces a value (or a reason there is none) for one question.
type Resolver interface {
	Resolve(ctx context.Context, page dom.Page, q question.Question, locators []string) question.Resolution
}

// Payload carries the attempt accounting a form manager may use to relax
// its matching policy.
type Payload struct {
	Attempt           int
	RemainingAttempts int
	Required          bool
}

// FormManager routes an answered question to its field handler.
type FormManager interface {
	// Locators filters the question's fields through the kind's validator.
	Locators(q question.Question) []string
	Execute(ctx context.Context, page dom.Page, q question.Question, ans question.Answered, p Payload) question.ExecutionResult
	// Timeout is the execution budget for the question.
	Timeout(q question.Question, meta question.Meta) time.Duration
	// Options lists the choices the page offers for a choice question.
	Options(ctx context.Context, page dom.Page, q question.Question) []string
}

// PrefillChecker is an optional FormManager capability. It reports whether
// the value the page already shows for a question agrees with an answer.
type PrefillChecker interface {
	Agrees(q question.Question, ans question.Answered) bool
}

// Corrector applies one structural correction to the page.
type Corrector interface {
	Apply(ctx context.Context, page dom.Page, c question.Correction) error
}

// LLM answers a batch of questions.
type LLM interface {
	SendQuestionsToLLM(ctx context.Context, reqs []question.LLMRequest, job jobdata.Details) ([]question.LLMResponse, error)
}

// Platform bundles the ATS specific collaborators.
type Platform struct {
	Name       string
	Discoverer Discoverer
	Resolver   Resolver
	Forms      FormManager
	Corrector  Corrector
	// InitIteration runs before each discovery when set.
	InitIteration func(ctx context.Context, page dom.Page) error
	// CommitSelectors overrides dom.CommitSelectors for the exit sweep.
	CommitSelectors []string
	CommitStrategy  dom.CommitStrategy
}

// Options are the loop budgets.
type Options struct {
	ErrorOnly              bool
	MaxIterations          int
	MaxAttemptsPerQuestion int
	BatchDelay             time.Duration
	// LLMCacheMaxFailures drops a cached LLM answer after that many failed
	// executions so the question is asked again. Zero keeps answers forever.
	LLMCacheMaxFailures int
	// Parallelism caps concurrent question executors; zero is unbounded.
	Parallelism int
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions() Options {
	return Options{
		MaxIterations:          8,
		MaxAttemptsPerQuestion: 3,
		BatchDelay:             250 * time.Millisecond,
	}
}

func (o Options) validate() error {
	if o.MaxIterations < 1 {
		return fmt.Errorf("max iterations must be at least 1, got %d", o.MaxIterations)
	}
	if o.MaxAttemptsPerQuestion < 1 {
		return fmt.Errorf("max attempts per question must be at least 1, got %d", o.MaxAttemptsPerQuestion)
	}
	if o.BatchDelay < 0 {
		return fmt.Errorf("batch delay must not be negative")
	}
	return nil
}

// Result is what a run leaves behind.
type Result struct {
	// Questions is the final discovery after the commit sweep.
	Questions []question.Question
	// Unresolved excludes resolved questions and optional ones the page
	// already carries a value for.
	Unresolved []question.Question
	Iterations int
	LLMCalls   int
	Resolved   []string
	Exhausted  []string
	Vanished   []string
}

// Engine runs the resolution loop on one page.
type Engine struct {
	page     dom.Page
	platform Platform
	llm      LLM
	job      jobdata.Details
	ctrl     *Controller
	opts     Options
	metrics  *observability.Metrics
	logger   *zap.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// Option configures an Engine.
type Option func(*Engine)

// WithMetrics records resolution counters.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithController shares an abort controller with the orchestrator.
func WithController(c *Controller) Option {
	return func(e *Engine) { e.ctrl = c }
}

// WithJob attaches job details to LLM batches.
func WithJob(job jobdata.Details) Option {
	return func(e *Engine) { e.job = job }
}

// New validates the collaborators and returns an Engine.
func New(page dom.Page, platform Platform, llm LLM, opts Options, logger *zap.Logger, options ...Option) (*Engine, error) {
	if page == nil {
		return nil, errors.New("engine requires a page")
	}
	if platform.Discoverer == nil || platform.Resolver == nil || platform.Forms == nil {
		return nil, errors.New("engine requires a discoverer, resolver and form manager")
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		page:     page,
		platform: platform,
		llm:      llm,
		opts:     opts,
		logger:   logger.Named("engine").With(zap.String("platform", platform.Name)),
		sleep:    dom.Sleep,
	}
	for _, o := range options {
		o(e)
	}
	if e.ctrl == nil {
		e.ctrl = NewController()
	}
	return e, nil
}

// Run executes the loop and the exit sweep. The only error that escapes a
// question is ErrAborted; discovery failures end the run.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	ctx, cancel := e.ctrl.Bind(ctx)
	defer cancel()

	st := newState()
	res := &Result{}

loop:
	for iter := 1; iter <= e.opts.MaxIterations; iter++ {
		if err := e.ctrl.Check(); err != nil {
			return nil, err
		}
		res.Iterations = iter
		log := e.logger.With(zap.Int("iteration", iter))

		if e.platform.InitIteration != nil {
			if err := e.platform.InitIteration(ctx, e.page); err != nil {
				return nil, e.abortOr(fmt.Errorf("init iteration: %w", err))
			}
		}

		current, err := e.platform.Discoverer.Discover(ctx, e.page, e.opts.ErrorOnly)
		if err != nil {
			return nil, e.abortOr(fmt.Errorf("discover questions: %w", err))
		}
		if gone := st.prune(question.Index(current)); len(gone) > 0 {
			log.Debug("Questions vanished.", zap.Strings("ids", gone))
		}

		st.beginRound()
		pending := st.pending(current)
		if !e.opts.ErrorOnly {
			pending = e.acceptPrefilled(ctx, st, pending)
		}
		if len(pending) == 0 {
			log.Debug("No unresolved questions left.")
			break
		}

		last := iter == e.opts.MaxIterations
		g, gctx := errgroup.WithContext(ctx)
		if e.opts.Parallelism > 0 {
			g.SetLimit(e.opts.Parallelism)
		}
		for _, q := range pending {
			q := q
			g.Go(func() error { return e.execute(gctx, st, q, last) })
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		applied, err := e.applyCorrections(ctx, st)
		if err != nil {
			return nil, err
		}

		progress, enqueued := st.round()
		gate := Decide(Round{Resolved: progress, Corrections: applied, Queued: st.queueLen(), Enqueued: enqueued})
		log.Debug("Iteration complete.",
			zap.Int("unresolved", len(pending)),
			zap.Int("progress", progress),
			zap.Int("corrections", applied),
			zap.Int("enqueued", enqueued),
			zap.Stringer("gate", gate))

		switch gate {
		case GateStop:
			break loop
		case GateEscalate:
			sent, err := e.escalate(ctx, st)
			if err != nil {
				return nil, err
			}
			if sent {
				res.LLMCalls++
			}
		}

		if iter < e.opts.MaxIterations && e.opts.BatchDelay > 0 {
			if err := e.sleep(ctx, e.opts.BatchDelay); err != nil {
				return nil, e.abortOr(err)
			}
		}
	}

	if err := e.ctrl.Check(); err != nil {
		return nil, err
	}
	return e.finish(ctx, st, res)
}

// acceptPrefilled resolves questions the page already carries a value for
// before any attempt was spent on them, so a settled page needs no handler.
// Optional questions keep whatever the page shows. A required one is kept
// only when the form manager confirms the shown value agrees with the
// resolver's answer; otherwise it is filled like any other question.
func (e *Engine) acceptPrefilled(ctx context.Context, st *state, pending []question.Question) []question.Question {
	checker, _ := e.platform.Forms.(PrefillChecker)
	out := pending[:0:0]
	for _, q := range pending {
		if q.Set && st.attemptsFor(q.ID) == 0 {
			if _, answered := st.cached(q.ID); !answered && e.prefillAgrees(ctx, checker, q) {
				st.markResolved(q.ID)
				continue
			}
		}
		out = append(out, q)
	}
	return out
}

func (e *Engine) prefillAgrees(ctx context.Context, checker PrefillChecker, q question.Question) bool {
	if !q.Required {
		return true
	}
	if checker == nil {
		return false
	}
	switch r := e.platform.Resolver.Resolve(ctx, e.page, q, e.platform.Forms.Locators(q)).(type) {
	case question.Answered:
		return checker.Agrees(q, r)
	case question.Skipped:
		return true
	}
	return false
}

// execute is one question's executor for the round. It returns an error
// only on abort.
func (e *Engine) execute(ctx context.Context, st *state, q question.Question, last bool) (err error) {
	if !st.tryStart(q.ID) {
		return nil
	}
	defer st.finish(q.ID)

	log := e.logger.With(zap.String("qid", q.ID), zap.String("label", q.Label), zap.Stringer("kind", q.Kind))
	defer func() {
		if r := recover(); r != nil {
			log.Error("Question executor panicked.", zap.Any("panic", r), zap.String("stack", string(debug.Stack())))
			err = nil
		}
	}()

	maxAttempts := e.opts.MaxAttemptsPerQuestion
	cached, hasCached := st.cached(q.ID)
	if maxAttempts > 2 && st.attemptsFor(q.ID) == maxAttempts-1 && !last && !hasCached {
		opts := e.observedOptions(ctx, q)
		if st.enqueueLLM(e.llmRequest(q, question.NoMeta(), opts, "final attempt reserved for the model")) {
			log.Debug("Reserved the last attempt for the model.")
		}
		return nil
	}

	attempt, ok := st.nextAttempt(q.ID, maxAttempts)
	if !ok {
		log.Info("Question exhausted its attempts.", zap.Int("attempts", attempt))
		e.metrics.QuestionExhausted(e.platform.Name)
		return nil
	}

	if e.opts.ErrorOnly || q.Kind == question.KindCheckbox {
		if cerr := dom.ClearFields(ctx, e.page, q.Fields); cerr != nil {
			log.Debug("Could not clear fields.", zap.Error(cerr))
		}
	}

	locators := e.platform.Forms.Locators(q)

	var resolution question.Resolution
	if hasCached {
		meta := question.NoMeta()
		meta.ContainerIdx = q.Container
		resolution = question.Answered{Value: cached.Value(), Locators: locators, Source: question.SourceLLM, Meta: meta}
	} else {
		resolution = e.platform.Resolver.Resolve(ctx, e.page, q, locators)
	}

	if err := e.ctrl.Check(); err != nil {
		return err
	}

	switch r := resolution.(type) {
	case question.Answered:
		return e.answer(ctx, st, q, r, attempt, log)
	case question.NeedsLLM:
		opts := e.observedOptions(ctx, q)
		req := e.llmRequest(q, r.Meta, opts, r.PromptHint)
		st.enqueueLLM(req)
	case question.Skipped:
		log.Debug("Question skipped.", zap.String("reason", r.Reason))
		st.markResolved(q.ID)
	case question.StructuralFailure:
		st.enqueueCorrection(r.Correction)
	case question.Failed:
		if r.Correction != nil {
			st.enqueueCorrection(*r.Correction)
		} else {
			log.Warn("Question could not be resolved.", zap.String("reason", r.Reason))
		}
	default:
		log.Warn("Unknown resolution.", zap.String("type", fmt.Sprintf("%T", resolution)))
	}
	return nil
}

func (e *Engine) answer(ctx context.Context, st *state, q question.Question, ans question.Answered, attempt int, log *zap.Logger) error {
	if len(ans.Locators) == 0 {
		ans.Locators = e.platform.Forms.Locators(q)
	}
	remaining := e.opts.MaxAttemptsPerQuestion - attempt
	payload := Payload{Attempt: attempt, RemainingAttempts: remaining, Required: q.Required}

	result := e.race(ctx, q, ans, payload, log)
	if err := e.ctrl.Check(); err != nil {
		return err
	}

	if result.OK() {
		st.markResolved(q.ID)
		e.metrics.QuestionResolved(e.platform.Name, string(ans.Source))
		log.Debug("Question resolved.", zap.String("source", string(ans.Source)), zap.Int("attempt", attempt))
		return nil
	}

	log.Debug("Handler failed.",
		zap.String("reason", string(result.Reason)),
		zap.String("detail", result.Detail),
		zap.Int("attempt", attempt))

	if result.Correction != nil {
		st.enqueueCorrection(*result.Correction)
	}
	if q.Required && remaining <= 1 {
		if c, ok := question.ContainerCorrection(ans.Meta, q.ID); ok {
			st.enqueueCorrection(c)
		}
	}

	if remaining <= 0 {
		st.markExhausted(q.ID)
		e.metrics.QuestionExhausted(e.platform.Name)
		log.Info("Question exhausted its attempts.", zap.Int("attempts", attempt))
		return nil
	}
	if ans.Source == question.SourceLLM {
		if !st.cacheFailed(q.ID, e.opts.LLMCacheMaxFailures) {
			return nil
		}
		log.Info("Dropped a cached model answer after repeated failures.")
	}
	if result.Reason == question.ReasonNormalizeFailed && ans.Source != question.SourceLLM && len(result.Options) == 0 {
		result.Options = e.observedOptions(ctx, q)
	}
	reason := string(result.Reason)
	if result.Detail != "" {
		reason += ": " + result.Detail
	}
	st.enqueueLLM(e.llmRequest(q, ans.Meta, result.Options, "previous answer "+quoteValue(ans.Value)+" failed ("+reason+")"))
	return nil
}

// handlerGrace is how long a timed out handler gets to notice its cancelled
// context before the question is released.
const handlerGrace = 2 * time.Second

// race runs the form manager against the question's timeout. On timeout the
// handler's context is cancelled and race waits up to handlerGrace for it to
// return, so the in-flight guard is normally released only once the handler
// stopped touching the page. A handler that ignores cancellation past the
// grace keeps running in the background and may still change the page.
func (e *Engine) race(ctx context.Context, q question.Question, ans question.Answered, p Payload, log *zap.Logger) question.ExecutionResult {
	timeout := e.platform.Forms.Timeout(q, ans.Meta)
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	done := make(chan question.ExecutionResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error("Form manager panicked.", zap.Any("panic", r))
				done <- question.Fail(question.ReasonCrash, fmt.Sprint(r))
			}
		}()
		done <- e.platform.Forms.Execute(hctx, e.page, q, ans, p)
	}()

	var result question.ExecutionResult
	select {
	case result = <-done:
		if !result.OK() && errors.Is(hctx.Err(), context.DeadlineExceeded) {
			result = question.Fail(question.ReasonTimeout, fmt.Sprintf("no result within %s", timeout))
		}
	case <-hctx.Done():
		result = question.Fail(question.ReasonTimeout, fmt.Sprintf("no result within %s", timeout))
		cancel()
		grace := time.NewTimer(handlerGrace)
		select {
		case <-done:
		case <-grace.C:
			log.Warn("Handler ignored its cancelled context, it may still change the page.", zap.Duration("grace", handlerGrace))
		}
		grace.Stop()
	}
	e.metrics.ObserveHandler(q.Kind.String(), result.Status.String(), time.Since(start))
	return result
}

func (e *Engine) observedOptions(ctx context.Context, q question.Question) []string {
	if q.Kind.IsTextual() || q.Kind == question.KindFile || q.Kind == question.KindDate {
		return nil
	}
	return e.platform.Forms.Options(ctx, e.page, q)
}

func (e *Engine) llmRequest(q question.Question, meta question.Meta, options []string, reason string) question.LLMRequest {
	var keys []string
	if meta.DBAnswerKey != "" {
		keys = append(keys, meta.DBAnswerKey)
	}
	for _, k := range meta.MatchedLabelCandidates {
		if k != meta.DBAnswerKey {
			keys = append(keys, k)
		}
	}
	return question.LLMRequest{
		QuestionID:     q.ID,
		Label:          q.Label,
		Type:           q.Kind,
		Required:       q.Required,
		Options:        options,
		Hints:          append([]string(nil), meta.Hints...),
		RelevantDBKeys: keys,
		Reason:         reason,
	}
}

// applyCorrections applies the queued corrections in insertion order and
// returns how many took effect.
func (e *Engine) applyCorrections(ctx context.Context, st *state) (int, error) {
	applied := 0
	for _, c := range st.takeCorrections() {
		if err := e.ctrl.Check(); err != nil {
			return applied, err
		}
		log := e.logger.With(zap.Stringer("correction", c.Kind), zap.String("qid", c.QuestionID))
		if c.Kind == question.MarkQuestionFailed {
			st.markExhausted(c.QuestionID)
			e.metrics.CorrectionApplied(c.Kind.String())
			applied++
			log.Info("Question marked as failed.", zap.String("reason", c.Reason))
			continue
		}
		if e.platform.Corrector == nil {
			log.Warn("No corrector configured, dropping correction.")
			continue
		}
		if err := e.platform.Corrector.Apply(ctx, e.page, c); err != nil {
			if errors.Is(err, ErrAborted) {
				return applied, err
			}
			log.Warn("Correction failed.", zap.Error(err))
			continue
		}
		e.metrics.CorrectionApplied(c.Kind.String())
		applied++
		log.Info("Correction applied.", zap.Int("container", c.ContainerIdx))
	}
	return applied, nil
}

// escalate sends the queue as one batch and reports whether a request went
// out. A failed call is logged and the queue cleared; it never fails the run
// unless aborted.
func (e *Engine) escalate(ctx context.Context, st *state) (bool, error) {
	if err := e.ctrl.Check(); err != nil {
		return false, err
	}
	reqs := st.drainQueue()
	if e.llm == nil {
		e.logger.Warn("No model configured, dropping queued questions.", zap.Int("count", len(reqs)))
		return false, nil
	}
	e.logger.Info("Escalating questions to the model.", zap.Int("count", len(reqs)))
	resps, err := e.llm.SendQuestionsToLLM(ctx, reqs, e.job)
	if cerr := e.ctrl.Check(); cerr != nil {
		return true, cerr
	}
	if err != nil {
		e.logger.Warn("Model batch failed.", zap.Error(err))
		return true, nil
	}
	for _, r := range resps {
		if r.Response.Empty() {
			continue
		}
		st.cache(r.QuestionID, r.Response)
	}
	return true, nil
}

func (e *Engine) finish(ctx context.Context, st *state, res *Result) (*Result, error) {
	selectors := e.platform.CommitSelectors
	if len(selectors) == 0 {
		selectors = dom.CommitSelectors
	}
	if n, err := dom.ForceCommitFields(ctx, e.page, selectors, e.platform.CommitStrategy, e.logger); err != nil {
		e.logger.Warn("Commit sweep failed.", zap.Error(err))
	} else if n > 0 {
		e.logger.Debug("Committed fields.", zap.Int("count", n))
	}

	qs, err := e.platform.Discoverer.Discover(ctx, e.page, false)
	if err != nil {
		return nil, e.abortOr(fmt.Errorf("final discovery: %w", err))
	}
	res.Questions = qs
	for _, q := range qs {
		if st.isResolved(q.ID) || (q.Set && !q.Required) {
			continue
		}
		res.Unresolved = append(res.Unresolved, q)
	}
	res.Resolved, res.Exhausted, res.Vanished = st.snapshot()
	return res, nil
}

// abortOr prefers the abort error over whatever the cancelled operation
// reported.
func (e *Engine) abortOr(err error) error {
	if cerr := e.ctrl.Check(); cerr != nil {
		return cerr
	}
	return err
}

func quoteValue(v any) string {
	switch t := v.(type) {
	case string:
		return fmt.Sprintf("%q", t)
	case []string:
		return "[" + strings.Join(t, ", ") + "]"
	default:
		return fmt.Sprintf("%v", t)
	}
}
