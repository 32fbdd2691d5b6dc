// File: internal/ats/runner_test.go
package ats

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/autoapply/internal/browser/dom"
	"github.com/xkilldash9x/autoapply/internal/browser/dom/domtest"
	"github.com/xkilldash9x/autoapply/internal/config"
	"github.com/xkilldash9x/autoapply/internal/engine"
	"github.com/xkilldash9x/autoapply/internal/fields"
	"github.com/xkilldash9x/autoapply/internal/jobdata"
	"github.com/xkilldash9x/autoapply/internal/labels"
	"github.com/xkilldash9x/autoapply/internal/mocks"
	"github.com/xkilldash9x/autoapply/internal/tabstate"
)

const applicationBody = `<h1 id="title">Backend Engineer</h1>
<div class="field"><label for="fn">First Name*</label><input id="fn" type="text"></div>
<button id="submit">Submit</button>`

// fakeFlow classifies by marker elements and fills application pages.
type fakeFlow struct {
	handle func(ctx context.Context, r *Runner, kind PageKind, snap *dom.Snapshot) (Step, error)
}

func (f *fakeFlow) Name() string { return "fake" }

func (f *fakeFlow) Classify(snap *dom.Snapshot) PageKind {
	switch {
	case snap.Exists("//*[@id='done']"):
		return PageSubmitted
	case snap.Exists("//*[@id='gone']"):
		return PageNotFound
	case snap.Exists("//*[@id='oops']"):
		return PageError
	case snap.Exists("//button[@id='submit']"):
		return PageApplication
	}
	return PageUnknown
}

func (f *fakeFlow) JobSelectors() jobdata.Selectors {
	return jobdata.Selectors{Title: "//h1[@id='title']"}
}

func (f *fakeFlow) Handle(ctx context.Context, r *Runner, kind PageKind, snap *dom.Snapshot) (Step, error) {
	if f.handle != nil {
		return f.handle(ctx, r, kind, snap)
	}
	if _, err := r.FillAndSubmit(ctx, PageSpec{Kind: kind, Selectors: genericSelectors()}); err != nil {
		return Step{}, err
	}
	return Next(), nil
}

func testRunnerConfig() RunnerConfig {
	return RunnerConfig{
		Engine: engine.Options{MaxIterations: 3, MaxAttemptsPerQuestion: 2},
		Timeouts: config.TimeoutsConfig{
			DefaultHandler:  2 * time.Second,
			DOMStability:    200 * time.Millisecond,
			StabilityPoll:   5 * time.Millisecond,
			DOMChange:       200 * time.Millisecond,
			Submit:          300 * time.Millisecond,
			MutationTimeout: 100 * time.Millisecond,
		},
		ErrorPasses: 1,
		MaxPages:    6,
		MaxReloads:  1,
	}
}

func newTestRunner(t *testing.T, flow Flow, page dom.Page, ch *mocks.MockChannel, ctrl *engine.Controller, jobID string) *Runner {
	t.Helper()
	cat, err := labels.DefaultCatalog()
	require.NoError(t, err)
	deps := RunnerDeps{
		Page:       page,
		Channel:    ch,
		Profile:    testProfile(),
		Labels:     cat,
		Matcher:    labels.NewLexicalMatcher(cat, 0.8),
		Registry:   fields.NewRegistry(fields.Deps{Logger: zaptest.NewLogger(t)}),
		Controller: ctrl,
		JobID:      jobID,
	}
	r, err := NewRunner(flow, deps, testRunnerConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)
	return r
}

func newBodyPage(t *testing.T, body string) *domtest.FakePage {
	t.Helper()
	page, err := domtest.New("<html><body>"+body+"</body></html>", testURL)
	require.NoError(t, err)
	return page
}

func expectReport(ch *mocks.MockChannel, result tabstate.Result) {
	ch.On("ReportResult", mock.Anything, result, mock.Anything, "fake").Return(nil).Once()
}

func TestNewRunnerValidation(t *testing.T) {
	_, err := NewRunner(nil, RunnerDeps{}, RunnerConfig{}, nil)
	assert.Error(t, err)
	_, err = NewRunner(&fakeFlow{}, RunnerDeps{Page: newBodyPage(t, ""), Channel: new(mocks.MockChannel)}, RunnerConfig{}, nil)
	assert.Error(t, err, "profile and catalogs are required")
}

func TestRunnerAppliesThroughApplicationPage(t *testing.T) {
	page := newBodyPage(t, applicationBody)
	page.OnClick("//button[@id='submit']", func(p *domtest.FakePage, _ dom.Element) {
		_ = p.SetBody(`<p id="done">Thanks for applying</p>`, testURL+"/done")
	})
	ch := new(mocks.MockChannel)
	expectReport(ch, tabstate.ResultApplied)

	r := newTestRunner(t, &fakeFlow{}, page, ch, nil, "")
	result, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, tabstate.ResultApplied, result)

	fills := page.Calls("fill")
	require.NotEmpty(t, fills)
	assert.Equal(t, "Jane", fills[0].Value)

	st := ch.TabState()
	got, ok := st.Result()
	require.True(t, ok)
	assert.Equal(t, tabstate.ResultApplied, got)
	assert.False(t, st.Get().Bool(tabstate.KeyRunning))
	n, _ := st.Value(tabstate.KeyQuestionnairesCompleted)
	assert.Equal(t, 1, n)
	assert.Equal(t, "Backend Engineer", r.Job().Title)
	ch.AssertExpectations(t)
}

func TestRunnerTerminalPages(t *testing.T) {
	cases := []struct {
		name string
		body string
		want tabstate.Result
	}{
		{"already submitted", `<p id="done">Applied</p>`, tabstate.ResultApplied},
		{"posting removed", `<p id="gone">This job is no longer available</p>`, tabstate.ResultJobExpired},
		{"unrecognised first page", `<p>Welcome</p>`, tabstate.ResultUnsupportedPlatform},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ch := new(mocks.MockChannel)
			expectReport(ch, tc.want)
			r := newTestRunner(t, &fakeFlow{}, newBodyPage(t, tc.body), ch, nil, "")
			got, err := r.Run(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
			ch.AssertExpectations(t)
		})
	}
}

func TestRunnerReloadsErrorPages(t *testing.T) {
	page := newBodyPage(t, `<p id="oops">Something went wrong</p>`)
	page.OnReload = func(p *domtest.FakePage) {
		_ = p.SetBody(`<p id="done">Applied</p>`, "")
	}
	ch := new(mocks.MockChannel)
	expectReport(ch, tabstate.ResultApplied)

	got, err := newTestRunner(t, &fakeFlow{}, page, ch, nil, "").Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, tabstate.ResultApplied, got)
	assert.Len(t, page.Calls("reload"), 1)

	t.Run("gives up after the reload budget", func(t *testing.T) {
		page := newBodyPage(t, `<p id="oops">Something went wrong</p>`)
		ch := new(mocks.MockChannel)
		expectReport(ch, tabstate.ResultFailed)
		got, err := newTestRunner(t, &fakeFlow{}, page, ch, nil, "").Run(context.Background())
		assert.Error(t, err)
		assert.Equal(t, tabstate.ResultFailed, got)
	})
}

func TestRunnerAbort(t *testing.T) {
	ctrl := engine.NewController()
	ctrl.Abort("user closed the tab")
	ch := new(mocks.MockChannel)
	expectReport(ch, tabstate.ResultAborted)

	got, err := newTestRunner(t, &fakeFlow{}, newBodyPage(t, applicationBody), ch, ctrl, "").Run(context.Background())
	assert.ErrorIs(t, err, engine.ErrAborted)
	assert.Equal(t, tabstate.ResultAborted, got)

	state := ch.TabState().Get()
	assert.Equal(t, tabstate.StateAborted, state.String(tabstate.KeyState))
	assert.False(t, state.Bool(tabstate.KeyRunning))
}

func TestRunnerFlowErrors(t *testing.T) {
	flow := &fakeFlow{handle: func(context.Context, *Runner, PageKind, *dom.Snapshot) (Step, error) {
		return Step{}, errors.New("flow broke")
	}}
	ch := new(mocks.MockChannel)
	expectReport(ch, tabstate.ResultFailed)

	got, err := newTestRunner(t, flow, newBodyPage(t, applicationBody), ch, nil, "").Run(context.Background())
	assert.EqualError(t, err, "flow broke")
	assert.Equal(t, tabstate.ResultFailed, got)

	t.Run("stuck page", func(t *testing.T) {
		flow := &fakeFlow{handle: func(context.Context, *Runner, PageKind, *dom.Snapshot) (Step, error) {
			return Next(), nil
		}}
		ch := new(mocks.MockChannel)
		expectReport(ch, tabstate.ResultFailed)
		got, err := newTestRunner(t, flow, newBodyPage(t, applicationBody), ch, nil, "").Run(context.Background())
		assert.ErrorContains(t, err, "did not advance")
		assert.Equal(t, tabstate.ResultFailed, got)
	})
}

func TestRunnerJobData(t *testing.T) {
	page := newBodyPage(t, `<p id="done">Applied</p>`)
	ch := new(mocks.MockChannel)
	job := jobdata.Details{ID: "42", Title: "Platform Engineer", Company: "Initech"}
	ch.On("FetchJobData", mock.Anything, "42").Return(job, nil).Once()
	ch.On("ReportResult", mock.Anything, tabstate.ResultApplied, job, "fake").Return(nil).Once()

	_, err := newTestRunner(t, &fakeFlow{}, page, ch, nil, "42").Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "42", ch.TabState().Get().String(tabstate.KeyJobID))
	ch.AssertExpectations(t)
}

func TestSubmitAndWait(t *testing.T) {
	ctx := context.Background()
	sel := genericSelectors()

	t.Run("validation errors", func(t *testing.T) {
		page := newBodyPage(t, applicationBody)
		page.OnClick("//button[@id='submit']", func(p *domtest.FakePage, _ dom.Element) {
			_ = p.AppendHTML("//body", `<div class="error">First Name is required</div>`)
		})
		r := newTestRunner(t, &fakeFlow{}, page, new(mocks.MockChannel), nil, "")
		out, err := r.SubmitAndWait(ctx, sel)
		require.NoError(t, err)
		assert.False(t, out.Advanced)
		assert.Equal(t, []string{"First Name is required"}, out.Errors)
	})

	t.Run("url change advances", func(t *testing.T) {
		page := newBodyPage(t, applicationBody)
		page.OnClick("//button[@id='submit']", func(p *domtest.FakePage, _ dom.Element) {
			p.SetURL(testURL + "/step-2")
		})
		r := newTestRunner(t, &fakeFlow{}, page, new(mocks.MockChannel), nil, "")
		out, err := r.SubmitAndWait(ctx, sel)
		require.NoError(t, err)
		assert.True(t, out.Advanced)
	})

	t.Run("no visible change", func(t *testing.T) {
		r := newTestRunner(t, &fakeFlow{}, newBodyPage(t, applicationBody), new(mocks.MockChannel), nil, "")
		out, err := r.SubmitAndWait(ctx, sel)
		require.NoError(t, err)
		assert.Equal(t, SubmitOutcome{}, out)
	})

	t.Run("missing submit", func(t *testing.T) {
		r := newTestRunner(t, &fakeFlow{}, newBodyPage(t, `<p>nothing</p>`), new(mocks.MockChannel), nil, "")
		_, err := r.SubmitAndWait(ctx, sel)
		assert.ErrorIs(t, err, ErrNoSubmit)
	})
}

func TestFillAndSubmitErrorPass(t *testing.T) {
	page := newBodyPage(t, applicationBody+`<div class="field"><label for="em">Email</label><input id="em" type="email"></div>`)
	clicks := 0
	page.OnClick("//button[@id='submit']", func(p *domtest.FakePage, _ dom.Element) {
		clicks++
		if clicks == 1 {
			p.SetAttr("//input[@id='em']", "aria-invalid", "true")
			_ = p.AppendHTML("//body", `<div class="error" id="err">Email is invalid</div>`)
			return
		}
		p.Remove("//div[@id='err']")
		_ = p.SetBody(`<p id="done">Thanks</p>`, testURL+"/done")
	})
	ch := new(mocks.MockChannel)
	r := newTestRunner(t, &fakeFlow{}, page, ch, nil, "")

	out, err := r.FillAndSubmit(context.Background(), PageSpec{Kind: PageApplication, Selectors: genericSelectors()})
	require.NoError(t, err)
	assert.True(t, out.Advanced)
	assert.Equal(t, 2, clicks)
}

func TestErrorPassOptions(t *testing.T) {
	o := errorPassOptions(engine.Options{MaxIterations: 8, MaxAttemptsPerQuestion: 3})
	assert.True(t, o.ErrorOnly)
	assert.Equal(t, 4, o.MaxIterations)
	assert.Equal(t, 2, o.MaxAttemptsPerQuestion)

	o = errorPassOptions(engine.Options{MaxIterations: 1, MaxAttemptsPerQuestion: 1})
	assert.Equal(t, 2, o.MaxIterations)
	assert.Equal(t, 2, o.MaxAttemptsPerQuestion)
}

func TestFillAndSubmitInterstitial(t *testing.T) {
	page := newBodyPage(t, applicationBody)
	clicks := 0
	page.OnClick("//button[@id='submit']", func(p *domtest.FakePage, _ dom.Element) {
		clicks++
		_ = p.AppendHTML("//body", `<div class="error">Enter the code we emailed you</div><input id="security_code" type="text">`)
	})
	r := newTestRunner(t, &fakeFlow{}, page, new(mocks.MockChannel), nil, "")
	sel := genericSelectors()
	sel.Interstitial = "//input[@id='security_code']"

	out, err := r.FillAndSubmit(context.Background(), PageSpec{Kind: PageApplication, Selectors: sel})
	require.NoError(t, err)
	assert.True(t, out.Interstitial)
	assert.False(t, out.Advanced)
	assert.Equal(t, []string{"Enter the code we emailed you"}, out.Errors)
	assert.Equal(t, 1, clicks, "a follow-up prompt skips the error passes")
}
