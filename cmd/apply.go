// File: cmd/apply.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/autoapply/internal/browser/dom"
	"github.com/xkilldash9x/autoapply/internal/browser/session"
	"github.com/xkilldash9x/autoapply/internal/channel"
	"github.com/xkilldash9x/autoapply/internal/config"
	"github.com/xkilldash9x/autoapply/internal/engine"
	"github.com/xkilldash9x/autoapply/internal/fields"
	"github.com/xkilldash9x/autoapply/internal/labels"
	"github.com/xkilldash9x/autoapply/internal/llmclient"
	"github.com/xkilldash9x/autoapply/internal/observability"
	"github.com/xkilldash9x/autoapply/internal/orchestrator"
	"github.com/xkilldash9x/autoapply/internal/profile"
	"github.com/xkilldash9x/autoapply/internal/tabstate"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// browserTab is the page the run drives plus its shutdown.
type browserTab interface {
	dom.Page
	Close()
}

// openBrowser is swapped out in tests.
var openBrowser = func(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (browserTab, error) {
	return session.NewSession(ctx, cfg, logger)
}

// runSummary is written to --output when set.
type runSummary struct {
	URL        string          `json:"url"`
	Result     tabstate.Result `json:"result"`
	Error      string          `json:"error,omitempty"`
	RunID      string          `json:"runId"`
	State      tabstate.State  `json:"state"`
	FinishedAt time.Time       `json:"finishedAt"`
}

func newApplyCmd() *cobra.Command {
	var (
		ac            config.ApplyConfig
		headless      bool
		errorOnly     bool
		maxIterations int
	)
	applyCmd := &cobra.Command{
		Use:   "apply [job-url]",
		Short: "Fill out and submit the application behind a job posting",
		Long: `Opens the job posting in a browser tab, detects the applicant tracking
system and drives its application forms until the application is submitted
or the run ends with a failure result.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				ac.URL = args[0]
			}
			if ac.URL == "" {
				return errors.New("a job URL is required, either as an argument or with --url")
			}
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("headless") {
				cfg.SetBrowserHeadless(headless)
			}
			if flags.Changed("error-only") {
				cfg.SetEngineErrorOnly(errorOnly)
			}
			if flags.Changed("max-iterations") {
				cfg.SetEngineMaxIterations(maxIterations)
			}
			cfg.SetApplyConfig(ac)

			result, err := runApply(cmd.Context(), cfg, observability.GetLogger())
			fmt.Fprintf(cmd.OutOrStdout(), "Result: %s\n", result)
			return err
		},
	}
	flags := applyCmd.Flags()
	flags.StringVarP(&ac.URL, "url", "u", "", "Job posting URL.")
	flags.StringVar(&ac.JobID, "job-id", "", "Server-side job id used to fetch job details.")
	flags.StringVarP(&ac.Platform, "platform", "p", "", "Force a platform (workday, greenhouse, lever) instead of detecting it.")
	flags.StringVarP(&ac.Output, "output", "o", "", "Write a JSON run summary to this path.")
	flags.BoolVar(&headless, "headless", false, "Run Chrome headless. (Overrides config/env)")
	flags.BoolVar(&errorOnly, "error-only", false, "Only answer questions the page flags as invalid. (Overrides config/env)")
	flags.IntVar(&maxIterations, "max-iterations", 0, "Resolution passes per page. (Overrides config/env)")
	return applyCmd
}

// runApply wires the run's collaborators and drives one application.
func runApply(ctx context.Context, cfg config.Interface, logger *zap.Logger) (tabstate.Result, error) {
	ac := cfg.Apply()
	logger.Info("Starting application.", zap.String("url", ac.URL), zap.String("version", Version))

	metrics := observability.NewMetrics()
	if err := observability.StartMetricsServer(ctx, cfg.Metrics(), metrics, logger); err != nil {
		return tabstate.ResultFailed, err
	}

	p, err := profile.Load(cfg.Profile().Path)
	if err != nil {
		return tabstate.ResultFailed, fmt.Errorf("load profile: %w", err)
	}
	cat, err := loadCatalog(cfg.Profile().LabelCatalogPath)
	if err != nil {
		return tabstate.ResultFailed, err
	}

	var embedder labels.Embedder
	var answerer channel.Answerer
	llm, err := llmclient.NewClient(ctx, cfg.LLM(), logger)
	switch {
	case errors.Is(err, llmclient.ErrDisabled):
		logger.Info("LLM disabled, questions go to the companion server.")
	case err != nil:
		return tabstate.ResultFailed, fmt.Errorf("create llm client: %w", err)
	default:
		embedder = llm
		a, err := llmclient.NewAnswerer(llm, p, logger, llmclient.WithMetrics(metrics))
		if err != nil {
			return tabstate.ResultFailed, fmt.Errorf("create answerer: %w", err)
		}
		answerer = a
	}
	matcher := labels.NewMatcher(cfg.Profile().LabelMatcher, cat, embedder, cfg.LLM().LabelThreshold, logger)

	state := tabstate.New(logger)
	svc, err := channel.NewServiceFromConfig(cfg.Services(), cfg.Profile().ResumeDir, p, answerer, state, logger)
	if err != nil {
		return tabstate.ResultFailed, fmt.Errorf("create channel: %w", err)
	}

	tab, err := openBrowser(ctx, cfg.Browser(), logger)
	if err != nil {
		return tabstate.ResultFailed, fmt.Errorf("open browser: %w", err)
	}
	defer tab.Close()

	ctrl := engine.NewController()
	stop := context.AfterFunc(ctx, func() { ctrl.Abort("interrupted") })
	defer stop()

	orch, err := orchestrator.New(cfg, orchestrator.Deps{
		Page:       tab,
		Channel:    svc,
		Profile:    p,
		Labels:     cat,
		Matcher:    matcher,
		Fetcher:    fields.LocalFetcher{},
		Controller: ctrl,
		Metrics:    metrics,
	}, logger)
	if err != nil {
		return tabstate.ResultFailed, err
	}

	result, runErr := orch.Apply(ctx, ac)
	if ac.Output != "" {
		if err := writeSummary(ac.Output, ac.URL, result, runErr, state); err != nil {
			logger.Warn("Failed to write run summary.", zap.String("path", ac.Output), zap.Error(err))
		}
	}
	return result, runErr
}

func loadCatalog(path string) (*labels.Catalog, error) {
	if path == "" {
		return labels.DefaultCatalog()
	}
	cat, err := labels.LoadCatalog(path)
	if err != nil {
		return nil, fmt.Errorf("load label catalog: %w", err)
	}
	return cat, nil
}

func writeSummary(path, url string, result tabstate.Result, runErr error, state *tabstate.Store) error {
	resolved, err := homedir.Expand(path)
	if err != nil {
		return err
	}
	sum := runSummary{
		URL:        url,
		Result:     result,
		RunID:      state.RunID(),
		State:      state.Get(),
		FinishedAt: time.Now().UTC(),
	}
	if runErr != nil {
		sum.Error = runErr.Error()
	}
	if dir := filepath.Dir(resolved); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(resolved)
	if err != nil {
		return err
	}
	if err := encodeSummary(f, sum); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func encodeSummary(w io.Writer, sum runSummary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(sum)
}
