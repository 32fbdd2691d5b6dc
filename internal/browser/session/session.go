// internal/browser/session/session.go
package session

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/autoapply/internal/browser/dom"
	"github.com/xkilldash9x/autoapply/internal/browser/shim"
	"github.com/xkilldash9x/autoapply/internal/config"
)

//go:embed helpers.js
var helperTemplate string

// Session drives one Chrome tab and implements dom.Page over it.
type Session struct {
	id          string
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	logger      *zap.Logger
	cfg         config.BrowserConfig
	helpers     *shim.Bundle
	closeOnce   sync.Once
}

var _ dom.Page = (*Session)(nil)

// AllocatorOptions builds Chrome launch options from configuration. Args
// entries of the form key=value become valued flags; bare entries become
// boolean flags.
func AllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("enable-automation", true),
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
	}
	if cfg.Headless {
		opts = append(opts, chromedp.Headless)
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(cfg.UserDataDir))
	}
	if cfg.WindowWidth > 0 && cfg.WindowHeight > 0 {
		opts = append(opts, chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight))
	}
	for _, arg := range cfg.Args {
		key, value, found := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if found {
			opts = append(opts, chromedp.Flag(key, value))
		} else {
			opts = append(opts, chromedp.Flag(key, true))
		}
	}
	return opts
}

// NewSession launches Chrome and opens a tab with the page helpers
// installed on every new document.
func NewSession(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Session, error) {
	helpers, err := buildHelpers()
	if err != nil {
		return nil, err
	}

	id := uuid.New().String()
	log := logger.Named("session").With(zap.String("session_id", id))

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, AllocatorOptions(cfg)...)
	ctxOpts := []chromedp.ContextOption{chromedp.WithErrorf(log.Sugar().Errorf)}
	if cfg.Debug {
		ctxOpts = append(ctxOpts, chromedp.WithDebugf(log.Sugar().Debugf))
	}
	tabCtx, cancel := chromedp.NewContext(allocCtx, ctxOpts...)

	s := &Session{
		id:          id,
		ctx:         tabCtx,
		cancel:      cancel,
		allocCancel: allocCancel,
		logger:      log,
		cfg:         cfg,
		helpers:     helpers,
	}

	err = chromedp.Run(tabCtx, chromedp.ActionFunc(func(c context.Context) error {
		_, err := page.AddScriptToEvaluateOnNewDocument(helpers.Script()).Do(c)
		return err
	}))
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to start browser tab: %w", err)
	}
	log.Info("Browser session started.", zap.Bool("headless", cfg.Headless))
	return s, nil
}

func buildHelpers() (*shim.Bundle, error) {
	b, err := shim.Build(helperTemplate, shim.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to build page helpers: %w", err)
	}
	return b, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Close shuts the tab and the browser process.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		shutdownCtx, cancel := context.WithTimeout(Detach(s.ctx), 5*time.Second)
		defer cancel()
		if err := chromedp.Cancel(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Debug("Tab cancel returned an error.", zap.Error(err))
		}
		s.cancel()
		s.allocCancel()
		s.logger.Info("Browser session closed.")
	})
}

func (s *Session) runActions(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := CombineContext(s.ctx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

func awaitPromise(p *runtime.EvaluateParams) *runtime.EvaluateParams {
	return p.WithAwaitPromise(true)
}

func (s *Session) call(ctx context.Context, out any, fn string, args ...any) error {
	script, err := s.helpers.Call(fn, args...)
	if err != nil {
		return err
	}
	if out == nil {
		var discard any
		out = &discard
	}
	err = s.runActions(ctx, chromedp.Evaluate(script, out, awaitPromise))
	if err != nil && strings.Contains(err.Error(), "element not found") {
		return fmt.Errorf("%w: %s: %v", dom.ErrElementNotFound, fn, err)
	}
	return err
}

// -- dom.Page --

func (s *Session) Snapshot(ctx context.Context) (*dom.Snapshot, error) {
	var markup, url string
	if err := s.call(ctx, &markup, "snapshot"); err != nil {
		return nil, fmt.Errorf("failed to serialize document: %w", err)
	}
	if err := s.runActions(ctx, chromedp.Location(&url)); err != nil {
		return nil, fmt.Errorf("failed to read location: %w", err)
	}
	return dom.ParseSnapshotString(markup, url)
}

func (s *Session) URL(ctx context.Context) (string, error) {
	var url string
	err := s.runActions(ctx, chromedp.Location(&url))
	return url, err
}

func (s *Session) Fill(ctx context.Context, xpath, value string, focus bool) error {
	return s.call(ctx, nil, "fill", xpath, value, focus)
}

func (s *Session) SetChecked(ctx context.Context, xpath string, checked bool) error {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return err
	}
	el, ok := snap.Find(xpath)
	if !ok {
		return fmt.Errorf("%w: %s", dom.ErrElementNotFound, xpath)
	}
	if el.Checked() == checked {
		return nil
	}
	return s.Click(ctx, xpath)
}

func (s *Session) SelectOption(ctx context.Context, xpath, value string) error {
	return s.call(ctx, nil, "selectOption", xpath, value)
}

func (s *Session) Click(ctx context.Context, xpath string) error {
	return s.call(ctx, nil, "click", xpath)
}

func (s *Session) Focus(ctx context.Context, xpath string) error {
	return s.call(ctx, nil, "focus", xpath)
}

func (s *Session) PressKey(ctx context.Context, xpath, key string) error {
	return s.call(ctx, nil, "pressKey", xpath, key)
}

func (s *Session) TypeText(ctx context.Context, xpath, text string) error {
	return s.runActions(ctx, chromedp.SendKeys(xpath, text, chromedp.BySearch))
}

func (s *Session) SetFiles(ctx context.Context, xpath string, files []string) error {
	return s.runActions(ctx, chromedp.SetUploadFiles(xpath, files, chromedp.BySearch, chromedp.NodeReady))
}

func (s *Session) Commit(ctx context.Context, xpath string) error {
	return s.call(ctx, nil, "commit", xpath)
}

func (s *Session) Clear(ctx context.Context, xpath string) error {
	return s.call(ctx, nil, "clear", xpath)
}

func (s *Session) WaitForMutation(ctx context.Context, timeout time.Duration) (bool, error) {
	var mutated bool
	waitCtx, cancel := context.WithTimeout(ctx, timeout+2*time.Second)
	defer cancel()
	if err := s.call(waitCtx, &mutated, "waitForMutation", timeout.Milliseconds()); err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		// Navigation destroys the execution context mid-wait; that is a change.
		if strings.Contains(err.Error(), "context was destroyed") || strings.Contains(err.Error(), "Cannot find context") {
			return true, nil
		}
		return false, err
	}
	return mutated, nil
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	s.logger.Debug("Navigating.", zap.String("url", url))
	return s.runActions(ctx, chromedp.Navigate(url), chromedp.WaitReady("body", chromedp.ByQuery))
}

func (s *Session) Reload(ctx context.Context) error {
	return s.runActions(ctx, chromedp.Reload(), chromedp.WaitReady("body", chromedp.ByQuery))
}

func (s *Session) Back(ctx context.Context) error {
	return s.runActions(ctx, chromedp.NavigateBack())
}

func (s *Session) Evaluate(ctx context.Context, script string, out any) error {
	if out == nil {
		var discard any
		out = &discard
	}
	return s.runActions(ctx, chromedp.Evaluate(script, out, awaitPromise))
}
