// File: internal/ats/greenhouse/security.go
package greenhouse

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

// codeMaxAgeMinutes bounds how old a security code mail may be.
const codeMaxAgeMinutes = 10

var (
	errNoCode          = errors.New("security code not delivered yet")
	errCodeLength      = errors.New("security code does not fit the inputs")
	errNoSecurityInput = errors.New("security code input not found")
)

// SecurityCode answers the emailed security code prompt.
type SecurityCode struct {
	// NewBackOff paces mail polling.
	NewBackOff func() backoff.BackOff
	logger     *zap.Logger
}

// NewSecurityCode builds the security code sub-flow.
func NewSecurityCode(logger *zap.Logger) *SecurityCode {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SecurityCode{NewBackOff: codeBackOff, logger: logger.Named("security_code")}
}

// codeBackOff polls three times, 5s apart and growing.
func codeBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Second
	b.Multiplier = 1.5
	b.MaxInterval = 15 * time.Second
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	return backoff.WithMaxRetries(b, 2)
}

// Handle fetches the code, enters it and submits the form again.
func (s *SecurityCode) Handle(ctx context.Context, r *ats.Runner, snap *dom.Snapshot) (ats.Step, error) {
	company := Company(r.Job().Company, snap.URL)
	if company == "" {
		return ats.Finish(tabstate.ResultFailed, "cannot tell which company sent the security code"), nil
	}
	code, err := s.fetch(ctx, r.Channel(), company)
	if err != nil {
		if errors.Is(err, channel.ErrUnavailable) || errors.Is(err, errNoCode) || errors.Is(err, channel.ErrNotFound) {
			return ats.Finish(tabstate.ResultFailed, "security code unavailable: "+err.Error()), nil
		}
		return ats.Step{}, err
	}
	if err := Enter(ctx, r.Page(), snap, code); err != nil {
		return ats.Step{}, err
	}
	s.logger.Info("Entered security code.", zap.String("company", company))

	out, err := r.SubmitAndWait(ctx, securitySelectors)
	if err != nil {
		return ats.Step{}, err
	}
	if !out.Advanced && len(out.Errors) > 0 {
		return ats.Finish(tabstate.ResultFailed, "security code rejected: "+strings.Join(out.Errors, "; ")), nil
	}
	return ats.Next(), nil
}

func (s *SecurityCode) fetch(ctx context.Context, ch channel.Channel, company string) (string, error) {
	var code string
	op := func() error {
		c, err := ch.FetchGreenhouseVerificationPasscode(ctx, company, codeMaxAgeMinutes)
		switch {
		case errors.Is(err, channel.ErrUnavailable):
			return backoff.Permanent(err)
		case errors.Is(err, channel.ErrNotFound):
			return errNoCode
		case err != nil:
			return err
		}
		if c = strings.TrimSpace(c); c == "" {
			return errNoCode
		}
		code = c
		return nil
	}
	notify := func(err error, wait time.Duration) {
		s.logger.Info("Security code not found, polling again.", zap.Error(err), zap.Duration("wait", wait))
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(s.NewBackOff(), ctx), notify); err != nil {
		return "", fmt.Errorf("fetch security code for %s: %w", company, err)
	}
	return code, nil
}

// Enter types code into the prompt: the whole code into a single input, or
// one character per input when the board renders a box per character.
func Enter(ctx context.Context, page dom.Page, snap *dom.Snapshot, code string) error {
	var inputs []dom.Element
	for _, el := range snap.FindAll(xpSecurityInput) {
		if !el.Hidden() {
			inputs = append(inputs, el)
		}
	}
	switch {
	case len(inputs) == 0:
		return errNoSecurityInput
	case len(inputs) == 1:
		return page.Fill(ctx, inputs[0].XPath, code, true)
	}
	chars := []rune(code)
	if len(chars) != len(inputs) {
		return fmt.Errorf("%w: %d characters for %d inputs", errCodeLength, len(chars), len(inputs))
	}
	for i, el := range inputs {
		if err := page.Fill(ctx, el.XPath, string(chars[i]), true); err != nil {
			return fmt.Errorf("fill security input %d: %w", i, err)
		}
	}
	return nil
}
