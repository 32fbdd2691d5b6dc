// File: internal/fields/fields_test.go
package fields

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/antchfx/htmlquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/autoapply/internal/browser/dom"
	"github.com/xkilldash9x/autoapply/internal/browser/dom/domtest"
	"github.com/xkilldash9x/autoapply/internal/normalize"
	"github.com/xkilldash9x/autoapply/internal/question"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func fastOptions() Options {
	opts := DefaultOptions()
	opts.Budget = dom.Budget{Retries: 0, MutationTimeout: 50 * time.Millisecond}
	opts.PollInterval = 10 * time.Millisecond
	opts.Timeout = 60 * time.Millisecond
	return opts
}

func newPage(t *testing.T, body string) *domtest.FakePage {
	t.Helper()
	page, err := domtest.New("<html><body>"+body+"</body></html>", "https://jobs.example.test/apply")
	require.NoError(t, err)
	return page
}

func setText(p *domtest.FakePage, xpath, text string) {
	p.Mutate(func(root *html.Node) {
		n := htmlquery.FindOne(root, xpath)
		if n == nil {
			return
		}
		for c := n.FirstChild; c != nil; {
			next := c.NextSibling
			n.RemoveChild(c)
			c = next
		}
		n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	})
}

// -- Input --

func TestInputHandler(t *testing.T) {
	ctx := context.Background()

	t.Run("fills and verifies", func(t *testing.T) {
		page := newPage(t, `<label for="email">Email</label><input id="email" type="email">`)
		h := &InputHandler{Kind: question.KindEmail}
		res := Run(ctx, h, page, []string{"//input[@id='email']"}, "jane@example.com", 1, fastOptions())
		require.True(t, res.OK(), res.Detail)
		assert.Equal(t, "jane@example.com", page.Attr("//input[@id='email']", "value"))
	})

	t.Run("spin buttons are filled without focus", func(t *testing.T) {
		page := newPage(t, `<input id="years" type="number">`)
		h := &InputHandler{Kind: question.KindNumber}
		res := Run(ctx, h, page, []string{"//input[@id='years']"}, 7.0, 1, fastOptions())
		require.True(t, res.OK(), res.Detail)
		assert.Equal(t, "7", page.Attr("//input[@id='years']", "value"))
	})

	t.Run("missing locator", func(t *testing.T) {
		page := newPage(t, `<input id="a">`)
		h := &InputHandler{Kind: question.KindText}
		res := Run(ctx, h, page, []string{"//input[@id='nope']"}, "x", 1, fastOptions())
		assert.Equal(t, question.ReasonLocatorMissing, res.Reason)
	})

	t.Run("empty value fails normalization", func(t *testing.T) {
		page := newPage(t, `<input id="a">`)
		h := &InputHandler{Kind: question.KindText}
		res := Run(ctx, h, page, []string{"//input[@id='a']"}, "   ", 1, fastOptions())
		assert.Equal(t, question.ReasonNormalizeFailed, res.Reason)
		assert.Empty(t, page.Calls("fill"))
	})
}

func TestSameText(t *testing.T) {
	tests := []struct {
		got, want string
		same      bool
	}{
		{"Jane  Doe", "Jane Doe", true},
		{"(555) 123-4567", "5551234567", true},
		{"", "x", false},
		{"abc", "abd", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.same, sameText(tt.got, tt.want), "%q vs %q", tt.got, tt.want)
	}
}

// -- Radio --

const radioHTML = `
<fieldset>
  <label><input type="radio" name="auth" id="auth-yes" value="1"> Yes</label>
  <label><input type="radio" name="auth" id="auth-no" value="0"> No</label>
</fieldset>`

func TestRadioHandler(t *testing.T) {
	ctx := context.Background()
	locators := []string{"//input[@name='auth']"}

	t.Run("checks best label", func(t *testing.T) {
		page := newPage(t, radioHTML)
		res := Run(ctx, &RadioHandler{}, page, locators, false, 2, fastOptions())
		require.True(t, res.OK(), res.Detail)
		assert.True(t, page.Exists("//input[@id='auth-no'][@checked]"))
		assert.False(t, page.Exists("//input[@id='auth-yes'][@checked]"))
	})

	t.Run("already checked is left alone", func(t *testing.T) {
		page := newPage(t, radioHTML)
		page.SetAttr("//input[@id='auth-yes']", "checked", "")
		res := Run(ctx, &RadioHandler{}, page, locators, "Yes", 2, fastOptions())
		require.True(t, res.OK(), res.Detail)
		assert.Empty(t, page.Calls("click"))
	})

	t.Run("no match reports options", func(t *testing.T) {
		page := newPage(t, radioHTML)
		opts := fastOptions()
		opts.Threshold = 90
		res := Run(ctx, &RadioHandler{}, page, locators, "Purple", 2, opts)
		assert.Equal(t, question.ReasonNoMatch, res.Reason)
		assert.Equal(t, []string{"Yes", "No"}, res.Options)
	})

	t.Run("inspect", func(t *testing.T) {
		page := newPage(t, radioHTML)
		labels, err := (&RadioHandler{}).Inspect(ctx, page, locators, fastOptions())
		require.NoError(t, err)
		assert.Equal(t, []string{"Yes", "No"}, labels)
	})
}

// -- Checkbox --

func TestPickSelections(t *testing.T) {
	tests := []struct {
		name          string
		scores        []float64
		candidateBest []int
		threshold     float64
		min, max, ex  int
		want          []int
	}{
		{name: "exact takes top score", scores: []float64{50, 40, 40}, ex: 1, max: Unlimited, want: []int{0}},
		{name: "exact ties go to field order", scores: []float64{40, 40, 40}, ex: 1, max: Unlimited, want: []int{0}},
		{name: "exact two", scores: []float64{40, 90, 70}, ex: 2, max: Unlimited, want: []int{1, 2}},
		{name: "exact respects threshold", scores: []float64{40, 90, 70}, ex: 2, threshold: 80, max: Unlimited, want: []int{1}},
		{name: "candidate best matches", scores: []float64{80, 10, 60}, candidateBest: []int{2, 0}, threshold: 50, max: Unlimited, want: []int{0, 2}},
		{name: "max caps by score", scores: []float64{80, 10, 60}, candidateBest: []int{2, 0}, threshold: 50, max: 1, want: []int{0}},
		{name: "below threshold", scores: []float64{80, 30}, candidateBest: []int{1}, threshold: 50, max: Unlimited, want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := Options{Threshold: tt.threshold, Min: tt.min, Max: tt.max, Exact: tt.ex}
			assert.Equal(t, tt.want, pickSelections(tt.scores, tt.candidateBest, opts))
		})
	}
}

const skillsHTML = `
<div id="skills">
  <input type="checkbox" id="s-py"><label for="s-py">Python</label>
  <input type="checkbox" id="s-java" checked><label for="s-java">Java</label>
  <input type="checkbox" id="s-go"><label for="s-go">Go</label>
</div>`

func TestCheckboxHandler(t *testing.T) {
	ctx := context.Background()
	locators := []string{"//div[@id='skills']//input[@type='checkbox']"}

	t.Run("checks matches and unchecks the rest", func(t *testing.T) {
		page := newPage(t, skillsHTML)
		res := Run(ctx, &CheckboxHandler{}, page, locators, []string{"Python", "Go"}, 3, fastOptions())
		require.True(t, res.OK(), res.Detail)
		assert.True(t, page.Exists("//input[@id='s-py'][@checked]"))
		assert.True(t, page.Exists("//input[@id='s-go'][@checked]"))
		assert.False(t, page.Exists("//input[@id='s-java'][@checked]"))
	})

	t.Run("true checks the whole group", func(t *testing.T) {
		page := newPage(t, skillsHTML)
		res := Run(ctx, &CheckboxHandler{}, page, locators, true, 3, fastOptions())
		require.True(t, res.OK(), res.Detail)
		assert.Equal(t, 3, page.Count("//input[@type='checkbox'][@checked]"))
	})

	t.Run("false on a group fails normalization", func(t *testing.T) {
		page := newPage(t, skillsHTML)
		res := Run(ctx, &CheckboxHandler{}, page, locators, false, 3, fastOptions())
		assert.Equal(t, question.ReasonNormalizeFailed, res.Reason)
	})

	t.Run("single consent box", func(t *testing.T) {
		page := newPage(t, `<label><input type="checkbox" id="agree"> I agree to the terms</label>`)
		res := Run(ctx, &CheckboxHandler{}, page, []string{"//input[@id='agree']"}, true, 1, fastOptions())
		require.True(t, res.OK(), res.Detail)
		assert.True(t, page.Exists("//input[@id='agree'][@checked]"))
	})

	t.Run("minimum not reached", func(t *testing.T) {
		page := newPage(t, skillsHTML)
		opts := fastOptions()
		opts.Min = 2
		res := Run(ctx, &CheckboxHandler{}, page, locators, []string{"Python"}, 3, opts)
		assert.Equal(t, question.ReasonNoMatch, res.Reason)
		assert.Equal(t, []string{"Python", "Java", "Go"}, res.Options)
	})
}

// -- Select --

const countryHTML = `
<label for="country">Country</label>
<select id="country">
  <option value="">Select...</option>
  <option value="us">United States</option>
  <option value="ca">Canada</option>
  <option value="xx" disabled>Retired</option>
</select>`

func TestSelectHandlerNative(t *testing.T) {
	ctx := context.Background()
	locators := []string{"//select[@id='country']"}

	page := newPage(t, countryHTML)
	h := &SelectHandler{}
	labels, err := h.Inspect(ctx, page, locators, fastOptions())
	require.NoError(t, err)
	assert.Equal(t, []string{"United States", "Canada"}, labels)

	res := Run(ctx, h, page, locators, "Canada", 1, fastOptions())
	require.True(t, res.OK(), res.Detail)
	assert.True(t, page.Exists("//option[@value='ca'][@selected]"))

	res = Run(ctx, h, page, locators, "Atlantis", 1, func() Options { o := fastOptions(); o.Threshold = 90; return o }())
	assert.Equal(t, question.ReasonNoMatch, res.Reason)
}

const listboxHTML = `
<div id="q"><label id="src-label">How did you hear about us?</label>
<button id="src" aria-haspopup="listbox" aria-labelledby="src-label">Select One</button></div>
<div id="portal"></div>`

func listboxPage(t *testing.T) *domtest.FakePage {
	page := newPage(t, listboxHTML)
	page.OnClick("//button[@id='src']", func(p *domtest.FakePage, _ dom.Element) {
		if p.Exists("//ul[@role='listbox']") {
			return
		}
		_ = p.AppendHTML("//div[@id='portal']", `<ul role="listbox">
<li role="option" id="o-li">LinkedIn</li><li role="option" id="o-ref">Employee Referral</li><li role="option" id="o-web">Company Website</li></ul>`)
	})
	page.OnKey("Enter", "//li[@role='option']", func(p *domtest.FakePage, el dom.Element) {
		setText(p, "//button[@id='src']", el.Text())
		p.Remove("//ul[@role='listbox']")
	})
	return page
}

func TestSelectHandlerListbox(t *testing.T) {
	ctx := context.Background()
	locators := []string{"//button[@id='src']"}

	t.Run("selects through keyboard", func(t *testing.T) {
		page := listboxPage(t)
		res := Run(ctx, &SelectHandler{}, page, locators, "Referral from employee", 1, fastOptions())
		require.True(t, res.OK(), res.Detail)
		keys := page.Calls("key")
		require.NotEmpty(t, keys)
		assert.Equal(t, "//*[@id='o-ref']", keys[0].XPath)
		assert.Equal(t, "Enter", keys[0].Value)
		assert.Len(t, page.Calls("focus"), 1)
	})

	t.Run("no match closes the listbox", func(t *testing.T) {
		page := listboxPage(t)
		opts := fastOptions()
		opts.Threshold = 95
		res := Run(ctx, &SelectHandler{}, page, locators, "Carrier pigeon", 1, opts)
		assert.Equal(t, question.ReasonNoMatch, res.Reason)
		assert.Equal(t, []string{"LinkedIn", "Employee Referral", "Company Website"}, res.Options)
		keys := page.Calls("key")
		require.Len(t, keys, 1)
		assert.Equal(t, "Escape", keys[0].Value)
	})

	t.Run("unacknowledged selection", func(t *testing.T) {
		page := newPage(t, listboxHTML+`<ul role="listbox"><li role="option">LinkedIn</li></ul>`)
		res := Run(ctx, &SelectHandler{}, page, locators, "LinkedIn", 1, fastOptions())
		assert.Equal(t, question.ReasonStateNotObserved, res.Reason)
	})
}

// -- Multiselect --

func TestMultiselectHandler(t *testing.T) {
	ctx := context.Background()
	page := newPage(t, `<input id="skills" role="combobox"><div id="pills"></div><div id="portal"></div>`)
	page.OnClick("//input[@id='skills']", func(p *domtest.FakePage, _ dom.Element) {
		if !p.Exists("//ul[@role='listbox']") {
			_ = p.AppendHTML("//div[@id='portal']", `<ul role="listbox"><li role="option">Python</li><li role="option">C++</li><li role="option">Java</li></ul>`)
		}
	})
	page.OnClick("//li[@role='option']", func(p *domtest.FakePage, el dom.Element) {
		_ = p.AppendHTML("//div[@id='pills']", "<span>"+el.Text()+"</span>")
		p.Remove("//ul[@role='listbox']")
	})

	opts := fastOptions()
	opts.SelectedSelector = "//div[@id='pills']/span"
	res := Run(ctx, &MultiselectHandler{}, page, []string{"//input[@id='skills']"}, []any{"Python", "C++"}, 1, opts)
	require.True(t, res.OK(), res.Detail)
	assert.Equal(t, 2, page.Count("//div[@id='pills']/span"))
	assert.ElementsMatch(t, []string{"Python", "C++", "Java"}, res.Options)

	// Already-selected candidates are not picked again.
	page.ResetCalls()
	res = Run(ctx, &MultiselectHandler{}, page, []string{"//input[@id='skills']"}, "Python", 1, opts)
	require.True(t, res.OK(), res.Detail)
	assert.Empty(t, page.Calls("click"))
}

// -- File --

func TestFileHandler(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	resume := filepath.Join(dir, "jane_doe_resume.pdf")
	require.NoError(t, os.WriteFile(resume, []byte("%PDF-1.4"), 0o600))
	locators := []string{"//input[@type='file']"}

	t.Run("recorded on the input", func(t *testing.T) {
		page := newPage(t, `<input type="file" id="resume" style="display:none">`)
		res := Run(ctx, &FileHandler{}, page, locators, resume, 1, fastOptions())
		require.True(t, res.OK(), res.Detail)
		assert.Equal(t, resume, page.Attr("//input[@id='resume']", "data-files"))
	})

	t.Run("waits for the filename display", func(t *testing.T) {
		page := newPage(t, `<input type="file" id="resume"><div id="status"></div>`)
		page.OnFiles("//input[@id='resume']", func(p *domtest.FakePage, _ dom.Element) {
			_ = p.AppendHTML("//div[@id='status']", `<span class="filename">jane_doe_resume.pdf</span>`)
		})
		opts := fastOptions()
		opts.FilenameSelector = "//span[@class='filename']"
		res := Run(ctx, &FileHandler{}, page, locators, resume, 1, opts)
		require.True(t, res.OK(), res.Detail)
	})

	t.Run("progress never finishes", func(t *testing.T) {
		page := newPage(t, `<input type="file" id="resume"><div class="progress">Uploading</div>`)
		opts := fastOptions()
		opts.ProgressSelector = "//div[@class='progress']"
		res := Run(ctx, &FileHandler{}, page, locators, resume, 1, opts)
		assert.Equal(t, question.ReasonStateNotObserved, res.Reason)
	})

	t.Run("missing file", func(t *testing.T) {
		page := newPage(t, `<input type="file" id="resume">`)
		res := Run(ctx, &FileHandler{}, page, locators, filepath.Join(dir, "nope.pdf"), 1, fastOptions())
		assert.Equal(t, question.ReasonNormalizeFailed, res.Reason)
		assert.Empty(t, page.Calls("files"))
	})
}

// -- Location --

type stubSearcher struct {
	names []string
	err   error
}

func (s stubSearcher) SearchLocations(context.Context, string) ([]string, error) {
	return s.names, s.err
}

func locationPage(t *testing.T, suggestions string) *domtest.FakePage {
	page := newPage(t, `<input id="location-input" name="location"><div id="dropdown"></div>`)
	page.OnType("//input[@id='location-input']", func(p *domtest.FakePage, _ dom.Element) {
		_ = p.AppendHTML("//div[@id='dropdown']", `<div role="listbox">`+suggestions+`</div>`)
	})
	return page
}

func TestLocationHandler(t *testing.T) {
	ctx := context.Background()
	locators := []string{"//input[@id='location-input']"}

	t.Run("clicks the best suggestion", func(t *testing.T) {
		page := locationPage(t, `<div role="option" id="sf">San Francisco, CA</div><div role="option" id="sfe">San Fernando, CA</div>`)
		h := &LocationHandler{Searcher: stubSearcher{names: []string{"San Francisco, CA"}}}
		res := Run(ctx, h, page, locators, "San Francisco, CA", 1, fastOptions())
		require.True(t, res.OK(), res.Detail)
		clicks := page.Calls("click")
		require.Len(t, clicks, 1)
		assert.Equal(t, "//*[@id='sf']", clicks[0].XPath)
	})

	t.Run("search failure still matches the query", func(t *testing.T) {
		page := locationPage(t, `<div role="option" id="sf">San Francisco, CA</div>`)
		h := &LocationHandler{Searcher: stubSearcher{err: errors.New("503")}}
		res := Run(ctx, h, page, locators, "San Francisco, CA", 1, fastOptions())
		require.True(t, res.OK(), res.Detail)
	})

	t.Run("nothing close enough", func(t *testing.T) {
		page := locationPage(t, `<div role="option">Paris, France</div>`)
		res := Run(ctx, &LocationHandler{}, page, locators, "San Francisco, CA", 1, fastOptions())
		assert.Equal(t, question.ReasonNoMatch, res.Reason)
		assert.Equal(t, []string{"Paris, France"}, res.Options)
	})
}

// -- Registry and Run --

type panicHandler struct{}

func (panicHandler) Normalize(v any, _ int) (any, error) { return v, nil }
func (panicHandler) Execute(context.Context, dom.Page, []string, any, Options) question.ExecutionResult {
	panic("boom")
}
func (panicHandler) Inspect(context.Context, dom.Page, []string, Options) ([]string, error) {
	return nil, nil
}

func TestRunRecoversPanics(t *testing.T) {
	page := newPage(t, `<input id="a">`)
	res := Run(context.Background(), panicHandler{}, page, []string{"//input"}, "x", 1, fastOptions())
	assert.Equal(t, question.ReasonCrash, res.Reason)
	assert.Contains(t, res.Detail, "boom")
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(Deps{})
	for _, k := range []question.Kind{question.KindText, question.KindEmail, question.KindNumber, question.KindTextarea,
		question.KindRadio, question.KindCheckbox, question.KindSelect, question.KindDropdown,
		question.KindMultiselect, question.KindFile, question.KindDate} {
		_, ok := r.For(k)
		assert.True(t, ok, k.String())
	}
	_, ok := r.For(question.KindUnknown)
	assert.False(t, ok)
	require.NotNil(t, r.Location())

	r.Register(question.KindUnknown, panicHandler{})
	_, ok = r.For(question.KindUnknown)
	assert.True(t, ok)

	h, _ := r.For(question.KindCheckbox)
	v, err := h.Normalize([]string{"a", "A", "b"}, 3)
	require.NoError(t, err)
	assert.Equal(t, normalize.Selection{Candidates: []string{"a", "b"}}, v)
}
