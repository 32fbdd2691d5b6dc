// File: internal/ats/workday/auth.go
package workday

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/xkilldash9x/autoapply/internal/ats"
	"github.com/xkilldash9x/autoapply/internal/browser/dom"
	"github.com/xkilldash9x/autoapply/internal/channel"
	"github.com/xkilldash9x/autoapply/internal/tabstate"
)

// Verification mail search parameters.
const (
	verifyQuery         = "Workday verify your account"
	verifyTopK          = 5
	verifyMaxAgeMinutes = 15
)

var errNoVerificationLink = errors.New("verification link not delivered yet")

// Field validators for the sign-in and create-account forms.
var (
	EmailField    = dom.All(dom.Visible, dom.Any(dom.AutomationID("email"), dom.InputTypeIs("email")))
	PasswordField = dom.All(dom.Visible, dom.AutomationID("password"))
	ConfirmField  = dom.All(dom.Visible, dom.AutomationID("verifyPassword"))
)

// Messages Workday shows after a rejected sign-in.
var (
	wrongPasswordText = []string{
		"wrong email address or password",
		"invalid username or password",
		"incorrect password",
		"password is incorrect",
	}
	verifyText = []string{
		"verify your account",
		"verify your email",
		"verification email",
		"has not been verified",
	}
	accountExistsText = []string{
		"already exists",
		"already in use",
	}
)

type authOutcome int

const (
	authStalled authOutcome = iota
	authAdvanced
	authWrongPassword
	authNeedsVerification
	authAccountExists
	authRejected
)

type authField struct {
	name  string
	v     dom.Validator
	value string
}

// Auth signs in to, or creates, the candidate account.
type Auth struct {
	// NewBackOff paces verification link polling.
	NewBackOff func() backoff.BackOff
	logger     *zap.Logger
}

// NewAuth builds the sign-in sub-flow.
func NewAuth(logger *zap.Logger) *Auth {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Auth{NewBackOff: verifyBackOff, logger: logger.Named("auth")}
}

// verifyBackOff polls three times: 4s, then 6.4s, capped at 20s.
func verifyBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 4 * time.Second
	b.Multiplier = 1.6
	b.MaxInterval = 20 * time.Second
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	return backoff.WithMaxRetries(b, 2)
}

// Handle processes one auth page.
func (a *Auth) Handle(ctx context.Context, r *ats.Runner, snap *dom.Snapshot) (ats.Step, error) {
	p := r.Profile()
	if p.Email == "" || p.Password == "" {
		return ats.Finish(tabstate.ResultFailed, "account credentials missing from profile"), nil
	}
	if !snap.Exists(xpAuthVerifyPassword) {
		return a.signIn(ctx, r)
	}
	if r.State().Get().Bool(tabstate.KeySignupAttempted) {
		a.logger.Info("Account was created earlier in this run, switching to sign in.")
		return ats.Next(), a.click(ctx, r, xpSignInLink)
	}
	return a.createAccount(ctx, r)
}

func (a *Auth) signIn(ctx context.Context, r *ats.Runner) (ats.Step, error) {
	p := r.Profile()
	passwords := []string{p.Password}
	if p.SecondaryPassword != "" && p.SecondaryPassword != p.Password {
		passwords = append(passwords, p.SecondaryPassword)
	}
	verified := false
	for i := 0; i < len(passwords); {
		outcome, msgs, err := a.submit(ctx, r, xpSignIn, p.Email, passwords[i], false)
		if err != nil {
			return ats.Step{}, err
		}
		switch outcome {
		case authAdvanced:
			a.logger.Info("Signed in.", zap.Int("password", i+1))
			return ats.Next(), nil
		case authNeedsVerification:
			if verified {
				return ats.Finish(tabstate.ResultFailed, "account still unverified after following the link"), nil
			}
			if err := a.verify(ctx, r); err != nil {
				return ats.Step{}, err
			}
			verified = true
		case authWrongPassword:
			a.logger.Info("Password rejected.", zap.Int("password", i+1), zap.Strings("errors", msgs))
			i++
		case authAccountExists, authRejected:
			return ats.Step{}, fmt.Errorf("sign in rejected: %s", strings.Join(msgs, "; "))
		default:
			return ats.Step{}, errors.New("sign in produced no visible change")
		}
	}
	return ats.Finish(tabstate.ResultFailed, "every password was rejected"), nil
}

func (a *Auth) createAccount(ctx context.Context, r *ats.Runner) (ats.Step, error) {
	p := r.Profile()
	r.State().Patch(map[string]any{tabstate.KeySignupAttempted: true}, tabstate.Options{})
	outcome, msgs, err := a.submit(ctx, r, xpCreateAccount, p.Email, p.Password, true)
	if err != nil {
		return ats.Step{}, err
	}
	switch outcome {
	case authAdvanced:
		a.logger.Info("Account created.")
		return ats.Next(), nil
	case authAccountExists:
		a.logger.Info("Account already exists, switching to sign in.")
		return ats.Next(), a.click(ctx, r, xpSignInLink)
	case authNeedsVerification:
		return ats.Next(), a.verify(ctx, r)
	case authStalled:
		return ats.Step{}, errors.New("account creation produced no visible change")
	}
	return ats.Step{}, fmt.Errorf("account creation rejected: %s", strings.Join(msgs, "; "))
}

// submit fills the form and clicks button, classifying what follows.
func (a *Auth) submit(ctx context.Context, r *ats.Runner, button, email, password string, confirm bool) (authOutcome, []string, error) {
	page := r.Page()
	snap, err := page.Snapshot(ctx)
	if err != nil {
		return authStalled, nil, fmt.Errorf("snapshot auth page: %w", err)
	}
	inputs := snap.FindAll("//input")
	targets := []authField{
		{"email", EmailField, email},
		{"password", PasswordField, password},
	}
	if confirm {
		targets = append(targets, authField{"verify password", ConfirmField, password})
	}
	for _, t := range targets {
		el, ok := first(inputs, t.v)
		if !ok {
			return authStalled, nil, fmt.Errorf("%s field: %w", t.name, dom.ErrElementNotFound)
		}
		if err := page.Fill(ctx, el.XPath, t.value, true); err != nil {
			return authStalled, nil, fmt.Errorf("fill %s: %w", t.name, err)
		}
	}
	if consent, ok := snap.Find(xpAuthConsent); ok && confirm && !consent.Checked() {
		if err := page.Click(ctx, consent.XPath); err != nil {
			return authStalled, nil, fmt.Errorf("accept terms: %w", err)
		}
	}

	out, err := r.SubmitAndWait(ctx, ats.Selectors{
		Submit: button,
		Errors: xpAuthError + " | " + xpVerifyPrompt,
	})
	if err != nil {
		return authStalled, nil, err
	}
	if out.Advanced {
		return authAdvanced, nil, nil
	}
	if len(out.Errors) == 0 {
		return authStalled, nil, nil
	}
	all := strings.ToLower(strings.Join(out.Errors, " "))
	switch {
	case containsAny(all, verifyText):
		return authNeedsVerification, out.Errors, nil
	case containsAny(all, wrongPasswordText):
		return authWrongPassword, out.Errors, nil
	case containsAny(all, accountExistsText):
		return authAccountExists, out.Errors, nil
	}
	return authRejected, out.Errors, nil
}

// verify polls the mail service for the verification link and opens it.
func (a *Auth) verify(ctx context.Context, r *ats.Runner) error {
	var link string
	op := func() error {
		u, err := r.Channel().FetchRecentVerificationURL(ctx, verifyQuery, verifyTopK, verifyMaxAgeMinutes)
		switch {
		case errors.Is(err, channel.ErrUnavailable):
			return backoff.Permanent(err)
		case err != nil:
			return err
		case u == "":
			return errNoVerificationLink
		}
		link = u
		return nil
	}
	notify := func(err error, wait time.Duration) {
		a.logger.Info("Verification link not found, polling again.", zap.Error(err), zap.Duration("wait", wait))
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(a.NewBackOff(), ctx), notify); err != nil {
		return fmt.Errorf("fetch verification link: %w", err)
	}
	via, err := r.Channel().ResolveVerificationURL(ctx, link)
	if err != nil {
		return fmt.Errorf("open verification link: %w", err)
	}
	a.logger.Info("Account verified.", zap.String("via", via))
	return nil
}

func (a *Auth) click(ctx context.Context, r *ats.Runner, xpath string) error {
	els, _, err := dom.Resilient(ctx, r.Page(), dom.Union([]string{xpath}), r.Budget())
	if err != nil {
		return fmt.Errorf("find %s: %w", xpath, err)
	}
	return r.Page().Click(ctx, els[0].XPath)
}

func first(els []dom.Element, v dom.Validator) (dom.Element, bool) {
	for _, el := range els {
		if v(el) {
			return el, true
		}
	}
	return dom.Element{}, false
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
