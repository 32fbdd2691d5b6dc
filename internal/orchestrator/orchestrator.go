// File: internal/orchestrator/orchestrator.go
// Description: Picks the ATS flow for a job URL, assembles the per-run
// collaborators around the shared browser tab and drives it to a result.

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/autoapply/internal/ats"
	"github.com/xkilldash9x/autoapply/internal/ats/greenhouse"
	"github.com/xkilldash9x/autoapply/internal/ats/lever"
	"github.com/xkilldash9x/autoapply/internal/ats/workday"
	"github.com/xkilldash9x/autoapply/internal/browser/dom"
	"github.com/xkilldash9x/autoapply/internal/channel"
	"github.com/xkilldash9x/autoapply/internal/config"
	"github.com/xkilldash9x/autoapply/internal/engine"
	"github.com/xkilldash9x/autoapply/internal/fields"
	"github.com/xkilldash9x/autoapply/internal/jobdata"
	"github.com/xkilldash9x/autoapply/internal/labels"
	"github.com/xkilldash9x/autoapply/internal/network"
	"github.com/xkilldash9x/autoapply/internal/observability"
	"github.com/xkilldash9x/autoapply/internal/profile"
	"github.com/xkilldash9x/autoapply/internal/tabstate"
)

// Platform ties an ATS flow to the URLs it serves.
type Platform struct {
	Name    string
	Matches func(url string) bool
	NewFlow func(logger *zap.Logger) ats.Flow
	// LocationSearch enables the Lever location search for the run.
	LocationSearch bool
}

// DefaultPlatforms lists the supported applicant tracking systems.
func DefaultPlatforms() []Platform {
	return []Platform{
		{Name: workday.Name, Matches: workday.Matches, NewFlow: func(l *zap.Logger) ats.Flow { return workday.New(l) }},
		{Name: greenhouse.Name, Matches: greenhouse.Matches, NewFlow: func(l *zap.Logger) ats.Flow { return greenhouse.New(l) }},
		{Name: lever.Name, Matches: lever.Matches, NewFlow: func(l *zap.Logger) ats.Flow { return lever.New(l) }, LocationSearch: true},
	}
}

// Deps are the collaborators shared by every run in the process.
type Deps struct {
	Page       dom.Page
	Channel    channel.Channel
	Profile    *profile.Profile
	Labels     *labels.Catalog
	Matcher    labels.Matcher
	Fetcher    fields.ResourceFetcher
	Controller *engine.Controller
	Metrics    *observability.Metrics
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithPlatforms replaces the platform table.
func WithPlatforms(p []Platform) Option {
	return func(o *Orchestrator) { o.platforms = p }
}

// WithSearchClient configures the HTTP client behind location search.
func WithSearchClient(opts ...network.JSONClientOption) Option {
	return func(o *Orchestrator) { o.searchOpts = opts }
}

// Orchestrator runs one application per call to Apply.
type Orchestrator struct {
	cfg        config.Interface
	deps       Deps
	platforms  []Platform
	searchOpts []network.JSONClientOption
	logger     *zap.Logger
}

// New validates deps and builds an Orchestrator.
func New(cfg config.Interface, deps Deps, logger *zap.Logger, opts ...Option) (*Orchestrator, error) {
	if cfg == nil || logger == nil {
		return nil, errors.New("cannot initialize orchestrator with nil config or logger")
	}
	if deps.Page == nil || deps.Channel == nil || deps.Profile == nil || deps.Labels == nil || deps.Matcher == nil {
		return nil, errors.New("cannot initialize orchestrator with nil dependencies")
	}
	o := &Orchestrator{
		cfg:       cfg,
		deps:      deps,
		platforms: DefaultPlatforms(),
		logger:    logger.Named("orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Detect picks the platform for rawURL. A non-empty override selects a
// platform by name regardless of the URL.
func (o *Orchestrator) Detect(rawURL, override string) (Platform, bool) {
	for _, p := range o.platforms {
		if override != "" {
			if strings.EqualFold(p.Name, override) {
				return p, true
			}
			continue
		}
		if p.Matches != nil && p.Matches(rawURL) {
			return p, true
		}
	}
	return Platform{}, false
}

// Apply opens the job URL when given, then runs the matching platform flow
// until a terminal result. Unsupported URLs end the run without touching
// the page.
func (o *Orchestrator) Apply(ctx context.Context, ac config.ApplyConfig) (tabstate.Result, error) {
	page := o.deps.Page
	current, err := page.URL(ctx)
	if err != nil {
		return tabstate.ResultFailed, fmt.Errorf("read tab url: %w", err)
	}
	target := ac.URL
	if target == "" {
		target = current
	}

	p, ok := o.Detect(target, ac.Platform)
	if !ok {
		return o.unsupported(ctx, target)
	}
	o.logger.Info("Platform detected.", zap.String("platform", p.Name), zap.String("url", target))

	if ac.URL != "" && ac.URL != current {
		if err := page.Navigate(ctx, ac.URL); err != nil {
			return tabstate.ResultFailed, fmt.Errorf("navigate to %s: %w", ac.URL, err)
		}
	}

	registry, err := o.registry(p)
	if err != nil {
		return tabstate.ResultFailed, err
	}
	runner, err := ats.NewRunner(p.NewFlow(o.logger), ats.RunnerDeps{
		Page:       page,
		Channel:    o.deps.Channel,
		Profile:    o.deps.Profile,
		Labels:     o.deps.Labels,
		Matcher:    o.deps.Matcher,
		Registry:   registry,
		Controller: o.deps.Controller,
		Metrics:    o.deps.Metrics,
		JobID:      ac.JobID,
	}, ats.DefaultRunnerConfig(o.cfg), o.logger)
	if err != nil {
		return tabstate.ResultFailed, fmt.Errorf("build %s runner: %w", p.Name, err)
	}
	return runner.Run(ctx)
}

// registry builds the field handlers for one run. Only platforms with a
// location search get a searcher.
func (o *Orchestrator) registry(p Platform) (*fields.Registry, error) {
	d := fields.Deps{Fetcher: o.deps.Fetcher, Logger: o.logger}
	if p.LocationSearch {
		s, err := lever.NewSearcher(o.deps.Channel, o.cfg.Services().LeverSearchURL, o.logger, o.searchOpts...)
		if err != nil {
			return nil, fmt.Errorf("location search: %w", err)
		}
		d.Searcher = s
	}
	return fields.NewRegistry(d), nil
}

func (o *Orchestrator) unsupported(ctx context.Context, target string) (tabstate.Result, error) {
	o.logger.Warn("No flow handles this URL.", zap.String("url", target))
	result := tabstate.ResultUnsupportedPlatform
	o.deps.Channel.TabState().Finish(result)
	if err := o.deps.Channel.ReportResult(ctx, result, jobdata.Details{URL: target}, ""); err != nil {
		o.logger.Warn("Failed to report result.", zap.Error(err))
	}
	return result, nil
}
