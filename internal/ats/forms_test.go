// File: internal/ats/forms_test.go
package ats

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/autoapply/internal/browser/dom"
	"github.com/xkilldash9x/autoapply/internal/browser/dom/domtest"
	"github.com/xkilldash9x/autoapply/internal/config"
	"github.com/xkilldash9x/autoapply/internal/engine"
	"github.com/xkilldash9x/autoapply/internal/fields"
	"github.com/xkilldash9x/autoapply/internal/question"
)

// recordingHandler captures what the form manager hands to a handler.
type recordingHandler struct {
	mu        sync.Mutex
	value     any
	locators  []string
	opts      fields.Options
	groupSize int
	options   []string
}

func (h *recordingHandler) Normalize(value any, groupSize int) (any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.groupSize = groupSize
	return value, nil
}

func (h *recordingHandler) Execute(_ context.Context, _ dom.Page, locators []string, value any, opts fields.Options) question.ExecutionResult {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.value, h.locators, h.opts = value, locators, opts
	return question.OK()
}

func (h *recordingHandler) Inspect(context.Context, dom.Page, []string, fields.Options) ([]string, error) {
	return h.options, nil
}

func fastFieldOptions() fields.Options {
	opts := fields.DefaultOptions()
	opts.Budget = dom.Budget{Retries: 0, MutationTimeout: 100 * time.Millisecond}
	opts.PollInterval = 10 * time.Millisecond
	opts.Timeout = 100 * time.Millisecond
	return opts
}

func testTimeouts() config.TimeoutsConfig {
	return config.TimeoutsConfig{
		HandlerSeconds: map[string]int{"radio": 4, "file": 30},
		DefaultHandler: 6 * time.Second,
	}
}

func newTestForms(t *testing.T) (*FormManager, *fields.Registry) {
	t.Helper()
	reg := fields.NewRegistry(fields.Deps{Logger: zaptest.NewLogger(t)})
	return NewFormManager(reg, testTimeouts(), fastFieldOptions(), zaptest.NewLogger(t)), reg
}

func TestFormManagerThresholdPolicy(t *testing.T) {
	m, _ := newTestForms(t)
	radio := field(t, `<input type="radio" name="a"><input type="radio" name="a">`, question.KindRadio, "Pick", true)
	text := field(t, `<input type="text">`, question.KindText, "Name", true)

	cases := []struct {
		name string
		q    question.Question
		p    engine.Payload
		want float64
	}{
		{"required choice on an early attempt", radio, engine.Payload{Attempt: 1, RemainingAttempts: 2, Required: true}, 50},
		{"required choice on the last attempt", radio, engine.Payload{Attempt: 3, RemainingAttempts: 0, Required: true}, 0},
		{"optional choice on the last attempt", radio, engine.Payload{Attempt: 3, RemainingAttempts: 0, Required: false}, 50},
		{"text on the last attempt", text, engine.Payload{Attempt: 3, RemainingAttempts: 0, Required: true}, 50},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, m.OptionsFor(tc.q, tc.p).Threshold)
		})
	}
}

func TestFormManagerSelectionPolicy(t *testing.T) {
	m, _ := newTestForms(t)

	single := field(t, `<input type="checkbox">`, question.KindCheckbox, "I agree", true)
	opts := m.OptionsFor(single, engine.Payload{Required: true, RemainingAttempts: 2})
	assert.Equal(t, 1, opts.Min, "required checkboxes need a selection")
	assert.Equal(t, fields.Unlimited, opts.Max)
	assert.Equal(t, PlaceholderBlacklist, opts.Blacklist)

	optional := single
	optional.Required = false
	assert.Equal(t, 0, m.OptionsFor(optional, engine.Payload{}).Min)

	t.Run("tune runs last", func(t *testing.T) {
		m.Tune = func(q question.Question, o *fields.Options) {
			if q.Kind == question.KindCheckbox {
				o.Exact = 2
				o.Min = 0
			}
		}
		defer func() { m.Tune = nil }()
		o := m.OptionsFor(single, engine.Payload{Required: true})
		assert.Equal(t, 2, o.Exact)
		assert.Equal(t, 0, o.Min)
	})

	t.Run("last attempt lifts a zero cap", func(t *testing.T) {
		group := field(t, `<input type="checkbox"><input type="checkbox"><input type="checkbox">`,
			question.KindCheckbox, "Skills", true)
		require.Len(t, group.Fields, 3)
		m.Tune = func(q question.Question, o *fields.Options) { o.Max = 0 }
		defer func() { m.Tune = nil }()

		tests := []struct {
			name      string
			required  bool
			remaining int
			wantMax   int
		}{
			{"required last attempt", true, 0, 1},
			{"required with attempts left", true, 1, 0},
			{"optional last attempt", false, 0, 0},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				o := m.OptionsFor(group, engine.Payload{Required: tt.required, RemainingAttempts: tt.remaining})
				assert.Equal(t, tt.wantMax, o.Max)
				assert.Equal(t, 1, o.Min)
			})
		}
	})

	t.Run("blacklist is copied per call", func(t *testing.T) {
		o := m.OptionsFor(single, engine.Payload{})
		o.Blacklist[0] = "mutated"
		assert.Equal(t, "Select...", PlaceholderBlacklist[0])
	})
}

func TestFormManagerTimeout(t *testing.T) {
	m, _ := newTestForms(t)
	radio := field(t, `<input type="radio">`, question.KindRadio, "Pick", true)
	text := field(t, `<input type="text">`, question.KindText, "Name", true)

	assert.Equal(t, 4*time.Second, m.Timeout(radio, question.NoMeta()))
	assert.Equal(t, 6*time.Second, m.Timeout(text, question.NoMeta()))

	meta := question.NoMeta()
	meta.Timeout = 45 * time.Second
	assert.Equal(t, 45*time.Second, m.Timeout(radio, meta), "known entries override the type budget")
}

func TestFormManagerLocators(t *testing.T) {
	m, _ := newTestForms(t)
	q := field(t, `<input id="r1" type="radio" name="a"><input id="r2" type="radio" name="a"><input id="other" type="text">`,
		question.KindRadio, "Pick", true)
	locs := m.Locators(q)
	require.Len(t, locs, 2)
	for _, l := range locs {
		assert.NotContains(t, l, "other")
	}

	t.Run("falls back to every field", func(t *testing.T) {
		q := field(t, `<div role="button" id="odd"></div>`, question.KindFile, "Upload", true)
		assert.Equal(t, q.XPaths(), m.Locators(q))
	})
}

func TestFormManagerExecute(t *testing.T) {
	ctx := context.Background()
	m, reg := newTestForms(t)
	rec := &recordingHandler{options: []string{"Select One", "Python", "Go", "--"}}
	reg.Register(question.KindText, rec)
	reg.Register(question.KindDropdown, rec)

	q := field(t, `<input type="text"><input type="text">`, question.KindText, "Name", true)
	ans := question.Answered{Value: "Jane", Locators: []string{"//x"}, Source: question.SourceLabel, Meta: question.NoMeta()}
	res := m.Execute(ctx, nil, q, ans, engine.Payload{Attempt: 1, RemainingAttempts: 2, Required: true})
	require.True(t, res.OK())
	assert.Equal(t, "Jane", rec.value)
	assert.Equal(t, []string{"//x"}, rec.locators)
	assert.Equal(t, 2, rec.groupSize)
	assert.Equal(t, float64(50), rec.opts.Threshold)

	t.Run("options drop placeholders", func(t *testing.T) {
		dd := field(t, `<button aria-haspopup="listbox">Select One</button>`, question.KindDropdown, "Language", true)
		assert.Equal(t, []string{"Python", "Go"}, m.Options(ctx, nil, dd))
	})

	t.Run("kinds without a handler fail", func(t *testing.T) {
		u := field(t, `<div></div>`, question.KindUnknown, "Mystery", true)
		res := m.Execute(ctx, nil, u, ans, engine.Payload{})
		assert.False(t, res.OK())
		assert.Equal(t, question.ReasonNormalizeFailed, res.Reason)
	})
}

func TestFormManagerLocationOverride(t *testing.T) {
	ctx := context.Background()
	m, reg := newTestForms(t)
	rec := &recordingHandler{}
	reg.Register(question.KindText, rec)

	page, err := domtest.New(`<html><body><input id="loc" type="text"><ul role="listbox" id="lb"></ul></body></html>`, testURL)
	require.NoError(t, err)
	page.OnType("//input[@id='loc']", func(p *domtest.FakePage, _ dom.Element) {
		_ = p.AppendHTML("//ul[@id='lb']", `<li role="option">Austin, TX</li><li role="option">Boston, MA</li>`)
	})

	q := field(t, `<input id="loc" type="text">`, question.KindText, "Current location", true)
	meta := question.NoMeta()
	meta.Location = true
	ans := question.Answered{Value: "Austin, TX", Locators: []string{"//input[@id='loc']"}, Source: question.SourceElement, Meta: meta}

	res := m.Execute(ctx, page, q, ans, engine.Payload{Attempt: 1, RemainingAttempts: 2, Required: true})
	require.True(t, res.OK(), res.Detail)
	assert.Nil(t, rec.value, "the text handler is bypassed")
	clicks := page.Calls("click")
	require.Len(t, clicks, 1)
	assert.Contains(t, clicks[0].XPath, "li")
}
