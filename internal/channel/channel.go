// File: internal/channel/channel.go

// Package channel is the request/response surface the engine uses to reach
// services outside the page: the companion server, the LLM and tab state.
package channel

import (
	"context"
	"errors"
	"time"

	"github.com/xkilldash9x/autoapply/internal/jobdata"
	"github.com/xkilldash9x/autoapply/internal/profile"
	"github.com/xkilldash9x/autoapply/internal/question"
	"github.com/xkilldash9x/autoapply/internal/tabstate"
)

// ErrNotFound is returned when a service has no answer for the request.
var ErrNotFound = errors.New("not found")

// ErrUnavailable is returned when the backing service is not configured.
var ErrUnavailable = errors.New("service unavailable")

// Channel is every external call the engine and the page flows make.
type Channel interface {
	// FetchRecentVerificationURL searches recent mail for a verification
	// link matching query.
	FetchRecentVerificationURL(ctx context.Context, query string, topK, maxAgeMinutes int) (string, error)
	// ResolveVerificationURL opens a verification link and returns where it
	// landed.
	ResolveVerificationURL(ctx context.Context, url string) (string, error)
	// FetchGreenhouseVerificationPasscode returns the emailed security code.
	FetchGreenhouseVerificationPasscode(ctx context.Context, company string, maxAgeMinutes int) (string, error)
	LeverLocationToken(ctx context.Context) (string, error)
	// BestResume returns the resume path best suited to the job. useLLM
	// allows the server-side classifier; without it the choice is local.
	BestResume(ctx context.Context, job jobdata.Details, useLLM bool) (string, error)
	NearestAddress(ctx context.Context, locations []string) (profile.Address, error)
	SendQuestionsToLLM(ctx context.Context, reqs []question.LLMRequest, job jobdata.Details) ([]question.LLMResponse, error)
	FetchJobData(ctx context.Context, jobID string) (jobdata.Details, error)
	// ReportResult records the run's terminal result with the server.
	ReportResult(ctx context.Context, result tabstate.Result, job jobdata.Details, source string) error
	TabState() *tabstate.Store
}

// Answerer answers LLM batches locally.
type Answerer interface {
	Answer(ctx context.Context, reqs []question.LLMRequest, job jobdata.Details) ([]question.LLMResponse, error)
}

// timeoutOr returns d, or fallback when d is not positive.
func timeoutOr(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}
