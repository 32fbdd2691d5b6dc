// File: internal/mocks/mocks.go
package mocks

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/autoapply/internal/config"
	"github.com/xkilldash9x/autoapply/internal/jobdata"
	"github.com/xkilldash9x/autoapply/internal/profile"
	"github.com/xkilldash9x/autoapply/internal/question"
	"github.com/xkilldash9x/autoapply/internal/tabstate"
)

// -- Config Mock --

// MockConfig mocks the config.Interface.
type MockConfig struct {
	mock.Mock
}

var _ config.Interface = (*MockConfig)(nil)

// --- Getters ---

func (m *MockConfig) Logger() config.LoggerConfig {
	args := m.Called()
	return args.Get(0).(config.LoggerConfig)
}

func (m *MockConfig) Browser() config.BrowserConfig {
	args := m.Called()
	return args.Get(0).(config.BrowserConfig)
}

func (m *MockConfig) Engine() config.EngineConfig {
	args := m.Called()
	return args.Get(0).(config.EngineConfig)
}

func (m *MockConfig) Timeouts() config.TimeoutsConfig {
	args := m.Called()
	return args.Get(0).(config.TimeoutsConfig)
}

func (m *MockConfig) LLM() config.LLMConfig {
	args := m.Called()
	return args.Get(0).(config.LLMConfig)
}

func (m *MockConfig) Services() config.ServicesConfig {
	args := m.Called()
	return args.Get(0).(config.ServicesConfig)
}

func (m *MockConfig) Profile() config.ProfileConfig {
	args := m.Called()
	return args.Get(0).(config.ProfileConfig)
}

func (m *MockConfig) Metrics() config.MetricsConfig {
	args := m.Called()
	return args.Get(0).(config.MetricsConfig)
}

func (m *MockConfig) Apply() config.ApplyConfig {
	args := m.Called()
	return args.Get(0).(config.ApplyConfig)
}

// --- Setters ---

func (m *MockConfig) SetApplyConfig(ac config.ApplyConfig) { m.Called(ac) }
func (m *MockConfig) SetEngineErrorOnly(b bool)          { m.Called(b) }
func (m *MockConfig) SetEngineMaxIterations(n int)       { m.Called(n) }
func (m *MockConfig) SetBrowserHeadless(b bool)          { m.Called(b) }

// -- Channel Mock --

// MockChannel mocks channel.Channel. TabState is backed by a real store so
// flows can read and patch it without expectations.
type MockChannel struct {
	mock.Mock

	once  sync.Once
	State *tabstate.Store
}

func (m *MockChannel) FetchRecentVerificationURL(ctx context.Context, query string, topK, maxAgeMinutes int) (string, error) {
	args := m.Called(ctx, query, topK, maxAgeMinutes)
	return args.String(0), args.Error(1)
}

func (m *MockChannel) ResolveVerificationURL(ctx context.Context, url string) (string, error) {
	args := m.Called(ctx, url)
	return args.String(0), args.Error(1)
}

func (m *MockChannel) FetchGreenhouseVerificationPasscode(ctx context.Context, company string, maxAgeMinutes int) (string, error) {
	args := m.Called(ctx, company, maxAgeMinutes)
	return args.String(0), args.Error(1)
}

func (m *MockChannel) LeverLocationToken(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockChannel) BestResume(ctx context.Context, job jobdata.Details, useLLM bool) (string, error) {
	args := m.Called(ctx, job, useLLM)
	return args.String(0), args.Error(1)
}

func (m *MockChannel) NearestAddress(ctx context.Context, locations []string) (profile.Address, error) {
	args := m.Called(ctx, locations)
	addr, _ := args.Get(0).(profile.Address)
	return addr, args.Error(1)
}

func (m *MockChannel) SendQuestionsToLLM(ctx context.Context, reqs []question.LLMRequest, job jobdata.Details) ([]question.LLMResponse, error) {
	args := m.Called(ctx, reqs, job)
	resps, _ := args.Get(0).([]question.LLMResponse)
	return resps, args.Error(1)
}

func (m *MockChannel) FetchJobData(ctx context.Context, jobID string) (jobdata.Details, error) {
	args := m.Called(ctx, jobID)
	job, _ := args.Get(0).(jobdata.Details)
	return job, args.Error(1)
}

func (m *MockChannel) ReportResult(ctx context.Context, result tabstate.Result, job jobdata.Details, source string) error {
	args := m.Called(ctx, result, job, source)
	return args.Error(0)
}

func (m *MockChannel) TabState() *tabstate.Store {
	m.once.Do(func() {
		if m.State == nil {
			m.State = tabstate.New(nil)
		}
	})
	return m.State
}
