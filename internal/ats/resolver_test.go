// File: internal/ats/resolver_test.go
package ats

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/autoapply/internal/browser/dom"
	"github.com/xkilldash9x/autoapply/internal/channel"
	"github.com/xkilldash9x/autoapply/internal/jobdata"
	"github.com/xkilldash9x/autoapply/internal/labels"
	"github.com/xkilldash9x/autoapply/internal/mocks"
	"github.com/xkilldash9x/autoapply/internal/profile"
	"github.com/xkilldash9x/autoapply/internal/question"
)

func testProfile() *profile.Profile {
	return &profile.Profile{
		Email:     "jane@example.com",
		FirstName: "Jane",
		LastName:  "Doe",
		EmploymentInfo: profile.EmploymentInfo{
			WorkAuthorization:          true,
			VisaSponsorshipRequirement: false,
		},
		WorkExperiences: []profile.WorkExperience{
			{Company: "Initech", JobTitle: "Engineer", StartDate: "2021-01"},
			{Company: "Globex", JobTitle: "Intern", StartDate: "2019-06", EndDate: "2020-12"},
		},
		Addresses: []profile.Address{
			{AddressLine1: "1 Main St", City: "Austin", State: "TX", PostalCode: "78701", Country: "United States"},
			{AddressLine1: "9 Pine Rd", City: "Seattle", State: "WA", PostalCode: "98101", Country: "United States"},
		},
		Resumes: []profile.Resume{
			{ResumeName: "general", ResumeStoredPath: "/resumes/general.pdf"},
		},
	}
}

var testKnown = question.Catalog{
	{Name: "honeypot", Types: question.AnyType, Validator: dom.AttrEquals("id", "honeypot"), Action: question.ActionForceSkip},
	{Name: "referral", Types: question.TextTypes, Validator: dom.AttrEquals("id", "referral"), Action: question.ActionSkip},
	{
		Name:        "work company",
		Types:       question.TextTypes,
		DBAnswerKey: "workExperiences[].company",
		Validator:   dom.AttrPrefix("id", "company-"),
		Action:      question.ActionSkipIfDataUnavailable,
		Locators:    []string{"//input[@data-extra='company']"},
	},
	{Name: "address city", Types: question.TextTypes, DBAnswerKey: "address.city", Validator: dom.AttrEquals("id", "addr-city")},
	{
		Name:      "full legal name",
		Types:     question.TextTypes,
		Validator: dom.AttrEquals("id", "legal"),
		ValueFunc: func(p *profile.Profile) (any, bool) { return p.FullName(), true },
	},
	{Name: "location", Types: question.TextTypes, DBAnswerKey: "address.location", Validator: dom.AttrEquals("id", "loc"), Location: true},
}

// field builds a question around one element.
func field(t *testing.T, markup string, kind question.Kind, label string, required bool) question.Question {
	t.Helper()
	snap, err := dom.ParseSnapshotString("<html><body><div>"+markup+"</div></body></html>", testURL)
	require.NoError(t, err)
	els := snap.FindAll("//div/*")
	require.NotEmpty(t, els)
	return question.New(label, els, els[0], kind, required)
}

func newTestResolver(t *testing.T, p *profile.Profile, ch channel.Channel, job jobdata.Details) *Resolver {
	t.Helper()
	cat, err := labels.DefaultCatalog()
	require.NoError(t, err)
	deps := ResolverDeps{
		Known:   testKnown,
		Labels:  cat,
		Matcher: labels.NewLexicalMatcher(cat, 0.8),
		Profile: p,
		Channel: ch,
		Job:     func() jobdata.Details { return job },
	}
	r, err := NewResolver(deps, zaptest.NewLogger(t))
	require.NoError(t, err)
	return r
}

func TestNewResolverValidation(t *testing.T) {
	_, err := NewResolver(ResolverDeps{}, nil)
	assert.Error(t, err)

	cat, err := labels.DefaultCatalog()
	require.NoError(t, err)
	_, err = NewResolver(ResolverDeps{Profile: testProfile(), Labels: cat}, nil)
	assert.Error(t, err, "a matcher is required")
}

func TestResolverKnownElements(t *testing.T) {
	ctx := context.Background()
	r := newTestResolver(t, testProfile(), nil, jobdata.Details{})

	t.Run("container index fills the answer key", func(t *testing.T) {
		q := field(t, `<input id="company-1" type="text">`, question.KindText, "Company", true)
		q.Container = 1
		res := r.Resolve(ctx, nil, q, []string{"//input[@id='company-1']"})
		ans, ok := res.(question.Answered)
		require.True(t, ok, "%T", res)
		assert.Equal(t, "Globex", ans.Value)
		assert.Equal(t, question.SourceElement, ans.Source)
		assert.Equal(t, "workExperiences[1].company", ans.Meta.DBAnswerKey)
		assert.Equal(t, 1, ans.Meta.DBAnswerKeyIdx)
		assert.Equal(t, 1, ans.Meta.ContainerIdx)
		assert.Equal(t, "work company", ans.Meta.Entry)
		assert.Equal(t, []string{"//input[@id='company-1']", "//input[@data-extra='company']"}, ans.Locators)
	})

	t.Run("missing container data skips", func(t *testing.T) {
		q := field(t, `<input id="company-4" type="text">`, question.KindText, "Company", true)
		q.Container = 4
		res := r.Resolve(ctx, nil, q, nil)
		assert.IsType(t, question.Skipped{}, res)
	})

	t.Run("force skip", func(t *testing.T) {
		q := field(t, `<input id="honeypot" type="text">`, question.KindText, "Leave blank", true)
		assert.IsType(t, question.Skipped{}, r.Resolve(ctx, nil, q, nil))
	})

	t.Run("skip when optional", func(t *testing.T) {
		q := field(t, `<input id="referral" type="text">`, question.KindText, "Referral", false)
		assert.IsType(t, question.Skipped{}, r.Resolve(ctx, nil, q, nil))
	})

	t.Run("skip entry still resolves required questions", func(t *testing.T) {
		q := field(t, `<input id="referral" type="text">`, question.KindText, "Referral", true)
		res := r.Resolve(ctx, nil, q, nil)
		assert.NotEqual(t, question.Skipped{}, res)
		assert.IsType(t, question.NeedsLLM{}, res)
	})

	t.Run("address prefix uses the primary address", func(t *testing.T) {
		q := field(t, `<input id="addr-city" type="text">`, question.KindText, "City", true)
		ans, ok := r.Resolve(ctx, nil, q, nil).(question.Answered)
		require.True(t, ok)
		assert.Equal(t, "Austin", ans.Value)
	})

	t.Run("value functions", func(t *testing.T) {
		q := field(t, `<input id="legal" type="text">`, question.KindText, "Signature", true)
		ans, ok := r.Resolve(ctx, nil, q, nil).(question.Answered)
		require.True(t, ok)
		assert.Equal(t, "Jane Doe", ans.Value)
	})

	t.Run("location entries route to the location handler", func(t *testing.T) {
		q := field(t, `<input id="loc" type="text">`, question.KindText, "Current location", true)
		ans, ok := r.Resolve(ctx, nil, q, nil).(question.Answered)
		require.True(t, ok)
		assert.True(t, ans.Meta.Location)
		assert.Equal(t, "Austin, TX", ans.Value)
	})
}

func TestResolverLabels(t *testing.T) {
	ctx := context.Background()
	r := newTestResolver(t, testProfile(), nil, jobdata.Details{})

	t.Run("general key", func(t *testing.T) {
		q := field(t, `<input id="fn" type="text">`, question.KindText, "First Name", true)
		ans, ok := r.Resolve(ctx, nil, q, nil).(question.Answered)
		require.True(t, ok)
		assert.Equal(t, "Jane", ans.Value)
		assert.Equal(t, question.SourceLabel, ans.Source)
		assert.Equal(t, "firstName", ans.Meta.DBAnswerKey)
		assert.Equal(t, -1, ans.Meta.DBAnswerKeyIdx)
		assert.Equal(t, "firstName", ans.Meta.MatchedLabelCandidates[0])
	})

	t.Run("booleans become yes or no for choices", func(t *testing.T) {
		q := field(t, `<input type="radio" name="s" value="y"><input type="radio" name="s" value="n">`,
			question.KindRadio, "Will you require sponsorship", true)
		ans, ok := r.Resolve(ctx, nil, q, nil).(question.Answered)
		require.True(t, ok)
		assert.Equal(t, "No", ans.Value)
	})

	t.Run("booleans stay booleans for text", func(t *testing.T) {
		q := field(t, `<input type="text">`, question.KindText, "Are you legally authorized to work", true)
		ans, ok := r.Resolve(ctx, nil, q, nil).(question.Answered)
		require.True(t, ok)
		assert.Equal(t, true, ans.Value)
	})

	t.Run("address group", func(t *testing.T) {
		q := field(t, `<input type="text">`, question.KindText, "Postal Code", true)
		ans, ok := r.Resolve(ctx, nil, q, nil).(question.Answered)
		require.True(t, ok)
		assert.Equal(t, "78701", ans.Value)
	})
}

func TestResolverServices(t *testing.T) {
	ctx := context.Background()
	job := jobdata.Details{ID: "42", Title: "Backend Engineer", Locations: []string{"Seattle, WA"}}

	t.Run("nearest address is asked once", func(t *testing.T) {
		p := testProfile()
		p.LLMAddressSelectionEnabled = true
		ch := new(mocks.MockChannel)
		ch.On("NearestAddress", mock.Anything, []string{"Seattle, WA"}).Return(p.Addresses[1], nil).Once()
		r := newTestResolver(t, p, ch, job)

		city := field(t, `<input type="text">`, question.KindText, "City", true)
		state := field(t, `<input type="text">`, question.KindText, "State", true)
		a1, ok := r.Resolve(ctx, nil, city, nil).(question.Answered)
		require.True(t, ok)
		a2, ok := r.Resolve(ctx, nil, state, nil).(question.Answered)
		require.True(t, ok)
		assert.Equal(t, "Seattle", a1.Value)
		assert.Equal(t, "WA", a2.Value)
		ch.AssertExpectations(t)
	})

	t.Run("nearest address failure falls back to primary", func(t *testing.T) {
		p := testProfile()
		p.LLMAddressSelectionEnabled = true
		ch := new(mocks.MockChannel)
		ch.On("NearestAddress", mock.Anything, mock.Anything).Return(profile.Address{}, errors.New("boom"))
		r := newTestResolver(t, p, ch, job)

		q := field(t, `<input type="text">`, question.KindText, "City", true)
		ans, ok := r.Resolve(ctx, nil, q, nil).(question.Answered)
		require.True(t, ok)
		assert.Equal(t, "Austin", ans.Value)
	})

	t.Run("file questions use the resume picker without the model", func(t *testing.T) {
		p := testProfile()
		p.LLMResumeSelectionEnabled = true
		ch := new(mocks.MockChannel)
		ch.On("BestResume", mock.Anything, job, false).Return("/resumes/backend.pdf", nil).Once()
		r := newTestResolver(t, p, ch, job)

		q := field(t, `<input type="file">`, question.KindFile, "Attach here", true)
		ans, ok := r.Resolve(ctx, nil, q, nil).(question.Answered)
		require.True(t, ok)
		assert.Equal(t, "/resumes/backend.pdf", ans.Value)
		assert.Equal(t, question.SourceQuestionType, ans.Source)
		ch.AssertExpectations(t)
	})

	t.Run("resume label asks the model when enabled", func(t *testing.T) {
		p := testProfile()
		p.LLMResumeSelectionEnabled = true
		ch := new(mocks.MockChannel)
		ch.On("BestResume", mock.Anything, job, true).Return("", channel.ErrNotFound).Once()
		r := newTestResolver(t, p, ch, job)

		q := field(t, `<input type="file">`, question.KindFile, "Resume/CV", true)
		ans, ok := r.Resolve(ctx, nil, q, nil).(question.Answered)
		require.True(t, ok)
		assert.Equal(t, "/resumes/general.pdf", ans.Value)
		assert.Equal(t, question.SourceLabel, ans.Source)
		ch.AssertExpectations(t)
	})
}

func TestResolverDefaultsAndEscalation(t *testing.T) {
	ctx := context.Background()
	r := newTestResolver(t, testProfile(), nil, jobdata.Details{})

	t.Run("consent checkbox", func(t *testing.T) {
		q := field(t, `<input type="checkbox">`, question.KindCheckbox, "I acknowledge the privacy notice", true)
		ans, ok := r.Resolve(ctx, nil, q, nil).(question.Answered)
		require.True(t, ok)
		assert.Equal(t, true, ans.Value)
		assert.Equal(t, question.SourceQuestionType, ans.Source)
	})

	t.Run("unknown question needs the model", func(t *testing.T) {
		q := field(t, `<textarea></textarea>`, question.KindTextarea, "Describe a hard bug you fixed", true)
		q.Container = -1
		res := r.Resolve(ctx, nil, q, nil)
		need, ok := res.(question.NeedsLLM)
		require.True(t, ok, "%T", res)
		assert.Equal(t, -1, need.Meta.ContainerIdx)
		assert.Equal(t, -1, need.Meta.DBAnswerKeyIdx)
	})
}

func TestExpandKey(t *testing.T) {
	assert.Equal(t, "education[2].school", expandKey("education[].school", 2))
	assert.Equal(t, "education[0].school", expandKey("education[].school", -1))
	assert.Equal(t, "email", expandKey("email", 3))
}

func TestAddressField(t *testing.T) {
	a := testProfile().Addresses[0]
	v, ok := AddressField(a, "state")
	assert.True(t, ok)
	assert.Equal(t, "TX", v)

	_, ok = AddressField(a, "addressLine2")
	assert.False(t, ok, "empty parts are missing data")

	_, ok = AddressField(a, "planet")
	assert.False(t, ok)
}
