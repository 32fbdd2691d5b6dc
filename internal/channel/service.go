// File: internal/channel/service.go
package channel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"

	"github.com/xkilldash9x/autoapply/internal/config"
	"github.com/xkilldash9x/autoapply/internal/jobdata"
	"github.com/xkilldash9x/autoapply/internal/network"
	"github.com/xkilldash9x/autoapply/internal/profile"
	"github.com/xkilldash9x/autoapply/internal/question"
	"github.com/xkilldash9x/autoapply/internal/similarity"
	"github.com/xkilldash9x/autoapply/internal/tabstate"
)

// resumeMatchThreshold is the minimum similarity for a local category or
// region match.
const resumeMatchThreshold = 60

// Service implements Channel over the companion HTTP server, a local LLM
// answerer and an in-process tab state.
type Service struct {
	client    *network.JSONClient
	answerer  Answerer
	profile   *profile.Profile
	state     *tabstate.Store
	cfg       config.ServicesConfig
	resumeDir string
	logger    *zap.Logger
}

var _ Channel = (*Service)(nil)

// ServiceDeps are the collaborators of a Service. Client and Answerer may
// be nil; the calls that need them then fall back or fail with
// ErrUnavailable.
type ServiceDeps struct {
	Client    *network.JSONClient
	Answerer  Answerer
	Profile   *profile.Profile
	State     *tabstate.Store
	Config    config.ServicesConfig
	ResumeDir string
	Logger    *zap.Logger
}

// NewService assembles a Service.
func NewService(d ServiceDeps) *Service {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	state := d.State
	if state == nil {
		state = tabstate.New(logger)
	}
	return &Service{
		client:    d.Client,
		answerer:  d.Answerer,
		profile:   d.Profile,
		state:     state,
		cfg:       d.Config,
		resumeDir: d.ResumeDir,
		logger:    logger.Named("channel"),
	}
}

// NewServiceFromConfig builds the JSON client from configuration. An empty
// base URL leaves the service in local-only mode.
func NewServiceFromConfig(cfg config.ServicesConfig, resumeDir string, p *profile.Profile, answerer Answerer, state *tabstate.Store, logger *zap.Logger) (*Service, error) {
	var client *network.JSONClient
	if cfg.BaseURL != "" {
		hc := network.NewDefaultClientConfig()
		hc.RequestTimeout = timeoutOr(cfg.Timeout, network.DefaultRequestTimeout)
		hc.Logger = logger
		var err error
		client, err = network.NewJSONClient(cfg.BaseURL, logger,
			network.WithHTTPClient(network.NewClient(hc)),
			network.WithRateLimit(cfg.RequestsPerSecond))
		if err != nil {
			return nil, err
		}
	}
	return NewService(ServiceDeps{
		Client: client, Answerer: answerer, Profile: p, State: state,
		Config: cfg, ResumeDir: resumeDir, Logger: logger,
	}), nil
}

func (s *Service) TabState() *tabstate.Store { return s.state }

type envelope[T any] struct {
	Success bool     `json:"success"`
	Payload T        `json:"payload"`
	Errors  []string `json:"errors,omitempty"`
	Error   string   `json:"error,omitempty"`
}

func (e envelope[T]) err(op string) error {
	if e.Success {
		return nil
	}
	msgs := e.Errors
	if e.Error != "" {
		msgs = append(msgs, e.Error)
	}
	if len(msgs) == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %s", op, strings.Join(msgs, "; "))
}

func (s *Service) call(ctx context.Context, method, path string, query url.Values, in, out any) error {
	if s.client == nil {
		return fmt.Errorf("%s: %w", path, ErrUnavailable)
	}
	err := s.client.Do(ctx, method, path, query, in, out)
	var se *network.StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		return fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	return err
}

func (s *Service) FetchRecentVerificationURL(ctx context.Context, query string, topK, maxAgeMinutes int) (string, error) {
	var resp envelope[string]
	err := s.call(ctx, http.MethodPost, "fetch-recent-verification-url", nil, map[string]any{
		"query": query, "topKSearch": topK, "maxAgeMinutes": maxAgeMinutes,
	}, &resp)
	if err != nil {
		return "", err
	}
	if err := resp.err("fetch verification url"); err != nil {
		return "", err
	}
	if resp.Payload == "" {
		return "", fmt.Errorf("fetch verification url: %w", ErrNotFound)
	}
	return resp.Payload, nil
}

// ResolveVerificationURL follows the link directly; verification endpoints
// confirm on GET and redirect to the landing page.
func (s *Service) ResolveVerificationURL(ctx context.Context, link string) (string, error) {
	if s.client == nil {
		return "", fmt.Errorf("resolve verification url: %w", ErrUnavailable)
	}
	_, final, err := s.client.Get(ctx, link)
	if err != nil {
		return "", fmt.Errorf("resolve verification url: %w", err)
	}
	s.logger.Info("Verification link resolved.", zap.String("via", final))
	return final, nil
}

func (s *Service) FetchGreenhouseVerificationPasscode(ctx context.Context, company string, maxAgeMinutes int) (string, error) {
	var resp envelope[string]
	err := s.call(ctx, http.MethodPost, "fetch-greenhouse-passcode", nil, map[string]any{
		"company": company, "maxAgeMinutes": maxAgeMinutes,
	}, &resp)
	if err != nil {
		return "", err
	}
	if err := resp.err("fetch greenhouse passcode"); err != nil {
		return "", err
	}
	code := strings.TrimSpace(resp.Payload)
	if code == "" {
		return "", fmt.Errorf("fetch greenhouse passcode: %w", ErrNotFound)
	}
	return code, nil
}

// LeverLocationToken prefers the configured token over asking the server.
func (s *Service) LeverLocationToken(ctx context.Context) (string, error) {
	if s.cfg.LeverToken != "" {
		return s.cfg.LeverToken, nil
	}
	var resp struct {
		Token *string `json:"token"`
	}
	if err := s.call(ctx, http.MethodGet, "lever-location-token", nil, nil, &resp); err != nil {
		return "", err
	}
	if resp.Token == nil || *resp.Token == "" {
		return "", fmt.Errorf("lever location token: %w", ErrNotFound)
	}
	return *resp.Token, nil
}

type resumeMeta struct {
	Category string `json:"category"`
	Region   string `json:"region"`
	FilePath string `json:"file_path"`
}

// BestResume asks the server when allowed, then falls back to matching the
// profile's resume categories and regions locally.
func (s *Service) BestResume(ctx context.Context, job jobdata.Details, useLLM bool) (string, error) {
	if useLLM && s.client != nil && s.profile != nil && s.profile.LLMResumeSelectionEnabled {
		rctx, cancel := context.WithTimeout(ctx, timeoutOr(s.cfg.ResumeTimeout, time.Minute))
		var meta resumeMeta
		err := s.call(rctx, http.MethodPost, "get-best-fit-resume", nil, map[string]any{
			"role_description":    job.Title + "\n\n" + job.Description,
			"company_description": job.Company,
			"location":            job.Locations,
		}, &meta)
		cancel()
		switch {
		case err == nil && meta.FilePath != "":
			return s.resumePath(meta.FilePath)
		case err != nil && ctx.Err() != nil:
			return "", ctx.Err()
		case err != nil:
			s.logger.Warn("Best-fit resume service failed, choosing locally.", zap.Error(err))
		}
	}
	r, ok := LocalBestResume(s.profile, job)
	if !ok {
		return "", fmt.Errorf("best resume: %w", ErrNotFound)
	}
	return s.resumePath(r.ResumeStoredPath)
}

// LocalBestResume narrows resumes by category against the job title, then by
// region against the job locations, and falls back to the primary resume.
func LocalBestResume(p *profile.Profile, job jobdata.Details) (profile.Resume, bool) {
	if p == nil || len(p.Resumes) == 0 {
		return profile.Resume{}, false
	}
	pool := p.Resumes
	if job.Title != "" {
		if narrowed := bestBy(pool, []string{job.Title}, func(r profile.Resume) string { return r.ResumeCategory }); len(narrowed) > 0 {
			pool = narrowed
		}
	}
	if len(job.Locations) > 0 {
		if narrowed := bestBy(pool, job.Locations, func(r profile.Resume) string { return r.ResumeRegion }); len(narrowed) > 0 {
			pool = narrowed
		}
	}
	if len(pool) < len(p.Resumes) {
		return pool[0], true
	}
	return p.PrimaryResume()
}

// bestBy keeps the resumes whose attribute is the best match above the
// threshold; ties are all kept in profile order.
func bestBy(resumes []profile.Resume, targets []string, attr func(profile.Resume) string) []profile.Resume {
	var (
		best float64
		out  []profile.Resume
	)
	for _, r := range resumes {
		a := attr(r)
		if a == "" {
			continue
		}
		score := 0.0
		for _, t := range targets {
			score = max(score, similarity.Score(a, t), containment(a, t))
		}
		switch {
		case score < resumeMatchThreshold:
		case score > best:
			best, out = score, []profile.Resume{r}
		case score == best:
			out = append(out, r)
		}
	}
	return out
}

// containment scores a category wholly named inside a longer title, such as
// "Backend" in "Senior Backend Engineer".
func containment(attr, target string) float64 {
	a, t := similarity.Canonicalize(attr), similarity.Canonicalize(target)
	if a != "" && strings.Contains(" "+t+" ", " "+a+" ") {
		return 90
	}
	return 0
}

func (s *Service) resumePath(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("best resume: %w", ErrNotFound)
	}
	expanded, err := homedir.Expand(p)
	if err != nil {
		return "", err
	}
	if filepath.IsAbs(expanded) || s.resumeDir == "" {
		return expanded, nil
	}
	dir, err := homedir.Expand(s.resumeDir)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, expanded), nil
}

// NearestAddress asks the server which profile address is closest to the
// job. Without the server the primary address is returned.
func (s *Service) NearestAddress(ctx context.Context, locations []string) (profile.Address, error) {
	if s.client != nil && len(locations) > 0 {
		var resp envelope[*profile.Address]
		err := s.call(ctx, http.MethodPost, "get-nearest-address", nil, map[string]any{
			"location": strings.Join(locations, "; "),
		}, &resp)
		if err == nil && resp.Success && resp.Payload != nil {
			return *resp.Payload, nil
		}
		if ctx.Err() != nil {
			return profile.Address{}, ctx.Err()
		}
		if err == nil {
			err = resp.err("nearest address")
		}
		s.logger.Warn("Nearest address service failed, using primary address.", zap.Error(err))
	}
	if s.profile != nil {
		if a, ok := s.profile.PrimaryAddress(); ok {
			return a, nil
		}
	}
	return profile.Address{}, fmt.Errorf("nearest address: %w", ErrNotFound)
}

// SendQuestionsToLLM uses the local answerer, or the server's resolver when
// no answerer is configured.
func (s *Service) SendQuestionsToLLM(ctx context.Context, reqs []question.LLMRequest, job jobdata.Details) ([]question.LLMResponse, error) {
	if len(reqs) == 0 {
		return nil, nil
	}
	if s.answerer != nil {
		return s.answerer.Answer(ctx, reqs, job)
	}
	var resp envelope[[]question.LLMResponse]
	err := s.call(ctx, http.MethodPost, "resolve-questions-with-llm", nil, map[string]any{
		"questions":   reqs,
		"job_details": jobDetailsMap(job),
	}, &resp)
	if err != nil {
		return nil, err
	}
	if err := resp.err("resolve questions"); err != nil {
		return nil, err
	}
	return resp.Payload, nil
}

func jobDetailsMap(job jobdata.Details) map[string]string {
	out := make(map[string]string)
	for k, v := range job.Extra {
		out[k] = v
	}
	if job.Title != "" {
		out["title"] = job.Title
	}
	if job.Description != "" {
		out["description"] = job.Description
	}
	if loc := job.Location(); loc != "" {
		out["location"] = loc
	}
	if job.Company != "" {
		out["company"] = job.Company
	}
	return out
}

// FetchJobData returns the job cached in tab state, else asks the server.
func (s *Service) FetchJobData(ctx context.Context, jobID string) (jobdata.Details, error) {
	if cached, ok := s.state.Value(tabstate.KeyJobData); ok {
		if d, ok := cached.(jobdata.Details); ok && (jobID == "" || d.ID == jobID) {
			return d, nil
		}
	}
	if jobID == "" {
		return jobdata.Details{}, fmt.Errorf("job data: %w", ErrNotFound)
	}
	var d jobdata.Details
	if err := s.call(ctx, http.MethodGet, "job-data/"+url.PathEscape(jobID), nil, nil, &d); err != nil {
		return jobdata.Details{}, err
	}
	if d.ID == "" {
		d.ID = jobID
	}
	s.state.Patch(map[string]any{tabstate.KeyJobID: d.ID, tabstate.KeyJobData: d}, tabstate.Options{})
	return d, nil
}

// ReportResult posts the terminal result. Without a server it is a no-op.
func (s *Service) ReportResult(ctx context.Context, result tabstate.Result, job jobdata.Details, source string) error {
	if s.client == nil {
		return nil
	}
	var resp envelope[any]
	err := s.call(ctx, http.MethodPost, "set-job-execution-result", nil, map[string]any{
		"result":      string(result),
		"id":          job.ID,
		"fingerprint": s.state.RunID(),
		"soft_data":   jobDetailsMap(job),
		"source":      source,
	}, &resp)
	if err != nil {
		return err
	}
	return resp.err("report result")
}
