// File: internal/ats/greenhouse/flow_test.go
package greenhouse

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/autoapply/internal/ats"
	"github.com/xkilldash9x/autoapply/internal/browser/dom"
	"github.com/xkilldash9x/autoapply/internal/browser/dom/domtest"
	"github.com/xkilldash9x/autoapply/internal/channel"
	"github.com/xkilldash9x/autoapply/internal/config"
	"github.com/xkilldash9x/autoapply/internal/engine"
	"github.com/xkilldash9x/autoapply/internal/fields"
	"github.com/xkilldash9x/autoapply/internal/labels"
	"github.com/xkilldash9x/autoapply/internal/mocks"
	"github.com/xkilldash9x/autoapply/internal/profile"
	"github.com/xkilldash9x/autoapply/internal/question"
	"github.com/xkilldash9x/autoapply/internal/tabstate"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const boardURL = "https://job-boards.greenhouse.io/acme/jobs/4012345"

func testProfile(resume string) *profile.Profile {
	return &profile.Profile{
		Email:       "jane@example.com",
		FirstName:   "Jane",
		LastName:    "Doe",
		PhoneNumber: "5125550100",
		EmploymentInfo: profile.EmploymentInfo{
			WorkAuthorization: true,
		},
		Resumes: []profile.Resume{{ResumeName: "general", ResumeStoredPath: resume}},
	}
}

// writeResume creates a resume the local fetcher can stat.
func writeResume(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "general.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4"), 0o600))
	return path
}

func loadPage(t *testing.T) *domtest.FakePage {
	t.Helper()
	page, err := domtest.Load(filepath.Join("testdata", "application.html"), boardURL)
	require.NoError(t, err)
	return page
}

func fastFlow(t *testing.T) *Flow {
	f := New(zaptest.NewLogger(t))
	f.Security.NewBackOff = func() backoff.BackOff {
		return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 2)
	}
	return f
}

func newRunner(t *testing.T, flow *Flow, page dom.Page, ch *mocks.MockChannel, p *profile.Profile) *ats.Runner {
	t.Helper()
	cat, err := labels.DefaultCatalog()
	require.NoError(t, err)
	r, err := ats.NewRunner(flow, ats.RunnerDeps{
		Page:     page,
		Channel:  ch,
		Profile:  p,
		Labels:   cat,
		Matcher:  labels.NewLexicalMatcher(cat, 0.8),
		Registry: fields.NewRegistry(fields.Deps{Logger: zaptest.NewLogger(t)}),
	}, ats.RunnerConfig{
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
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return r
}

func parse(t *testing.T, body, url string) *dom.Snapshot {
	t.Helper()
	snap, err := dom.ParseSnapshotString("<html><body>"+body+"</body></html>", url)
	require.NoError(t, err)
	return snap
}

func TestMatches(t *testing.T) {
	assert.True(t, Matches(boardURL))
	assert.True(t, Matches("https://boards.greenhouse.io/acme/jobs/123?gh_src=abc"))
	assert.False(t, Matches("https://jobs.lever.co/acme/123"))
	assert.False(t, Matches("https://greenhouse.io.evil.test/acme"))
}

func TestClassify(t *testing.T) {
	f := New(nil)
	cases := []struct {
		name string
		body string
		url  string
		want ats.PageKind
	}{
		{"application form", `<form id="application-form"><input id="first_name"></form>`, boardURL, ats.PageApplication},
		{"classic form", `<form id="application_form"><input id="first_name"></form>`, boardURL, ats.PageApplication},
		{"security code", `<form id="application-form"><input id="security-input-0"></form>`, boardURL, PageSecurityCode},
		{"hidden security code", `<form id="application-form"><div style="display:none"><input id="security_code"></div></form>`, boardURL, ats.PageApplication},
		{"confirmation", `<div id="application_confirmation">Thank you for applying.</div>`, boardURL, ats.PageSubmitted},
		{"confirmation url", `<h1>Thanks</h1>`, boardURL + "/confirmation", ats.PageSubmitted},
		{"closed posting", `<div id="flash-error">The job you are looking for is no longer open.</div>`, boardURL, ats.PageNotFound},
		{"posting with apply button", `<a id="apply_button" href="#app">Apply</a>`, boardURL, ats.PageLanding},
		{"anything else", `<p>hello</p>`, boardURL, ats.PageUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, f.Classify(parse(t, tc.body, tc.url)))
		})
	}
}

func TestCompany(t *testing.T) {
	assert.Equal(t, "Acme Corp", Company(" Acme Corp ", boardURL))
	assert.Equal(t, "acme", Company("", boardURL))
	assert.Equal(t, "globex", Company("", "https://boards.greenhouse.io/embed/job_app?for=globex&token=1"))
	assert.Empty(t, Company("", "https://boards.greenhouse.io/embed/job_app"))
}

func TestDiscovery(t *testing.T) {
	page := loadPage(t)
	c := ats.NewCrawler(Selectors, KnownQuestions, zaptest.NewLogger(t))
	qs, err := c.Discover(context.Background(), page, false)
	require.NoError(t, err)

	var got []string
	kinds := make(map[string]question.Kind)
	for _, q := range qs {
		got = append(got, q.Label)
		kinds[q.Label] = q.Kind
	}
	assert.Equal(t, []string{"First Name", "Last Name", "Email", "Phone", "Resume/CV", "Are you legally authorized to work?"}, got)
	assert.Equal(t, question.KindFile, kinds["Resume/CV"])
	assert.Equal(t, question.KindSelect, kinds["Are you legally authorized to work?"])
}

// The form is submitted, the board asks for the emailed security code, the
// code is fetched and entered and the second submit is accepted.
func TestRunWithSecurityCode(t *testing.T) {
	resume := writeResume(t)
	page := loadPage(t)
	page.OnFiles("//input[@id='resume']", func(p *domtest.FakePage, _ dom.Element) {
		_ = p.AppendHTML("//div[@id='resume-card']", `<div class="file-upload__filename">general.pdf</div>`)
	})
	submits := 0
	page.OnClick("//*[@id='submit_app']", func(p *domtest.FakePage, _ dom.Element) {
		submits++
		if submits == 1 {
			_ = p.AppendHTML("//div[@id='security-slot']", `<div class="email-verification">
				<p>Enter the security code sent to your email.</p>
				<input id="security_code" type="text" maxlength="8">
				<div class="helper-text helper-text--error">A security code is required.</div></div>`)
			return
		}
		_ = p.SetBody(`<div id="application_confirmation"><h1>Thank you for applying.</h1></div>`, boardURL+"/confirmation")
	})

	ch := new(mocks.MockChannel)
	ch.On("BestResume", mock.Anything, mock.Anything, false).Return("", channel.ErrNotFound)
	ch.On("FetchGreenhouseVerificationPasscode", mock.Anything, "acme", codeMaxAgeMinutes).Return("", channel.ErrNotFound).Once()
	ch.On("FetchGreenhouseVerificationPasscode", mock.Anything, "acme", codeMaxAgeMinutes).Return("Q7XK2M9P", nil).Once()
	ch.On("ReportResult", mock.Anything, tabstate.ResultApplied, mock.Anything, Name).Return(nil).Once()

	r := newRunner(t, fastFlow(t), page, ch, testProfile(resume))
	result, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, tabstate.ResultApplied, result)
	assert.Equal(t, 2, submits)

	var filled []string
	for _, c := range page.Calls("fill") {
		filled = append(filled, c.Value)
	}
	assert.Subset(t, filled, []string{"Jane", "Doe", "jane@example.com", "Q7XK2M9P"})
	assert.Equal(t, "Q7XK2M9P", filled[len(filled)-1], "the code is entered after the form")
	files := page.Calls("files")
	require.Len(t, files, 1)
	assert.Equal(t, resume, files[0].Value)
	selects := page.Calls("select")
	require.NotEmpty(t, selects)
	assert.Equal(t, "1", selects[len(selects)-1].Value, "the Yes option")

	got, ok := ch.TabState().Result()
	require.True(t, ok)
	assert.Equal(t, tabstate.ResultApplied, got)
	assert.Equal(t, "Backend Engineer", r.Job().Title)
	ch.AssertExpectations(t)
}
