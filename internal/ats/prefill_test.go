// File: internal/ats/prefill_test.go
package ats

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xkilldash9x/autoapply/internal/question"
)

func TestFormManagerAgrees(t *testing.T) {
	m, _ := newTestForms(t)
	answered := func(v any) question.Answered {
		return question.Answered{Value: v, Source: question.SourceLabel, Meta: question.NoMeta()}
	}

	tests := []struct {
		name   string
		markup string
		kind   question.Kind
		value  any
		want   bool
	}{
		{"text matches ignoring case", `<input type="text" value="Ada ">`, question.KindText, "ada", true},
		{"text differs", `<input type="text" value="Grace">`, question.KindText, "Ada", false},
		{"empty text", `<input type="text">`, question.KindText, "Ada", false},
		{
			"checked radio matches",
			`<input type="radio" id="y" checked><label for="y">Yes</label><input type="radio" id="n"><label for="n">No</label>`,
			question.KindRadio, "Yes", true,
		},
		{
			"checked radio differs",
			`<input type="radio" id="y"><label for="y">Yes</label><input type="radio" id="n" checked><label for="n">No</label>`,
			question.KindRadio, "Yes", false,
		},
		{
			"select shows the answer",
			`<select><option value="">Select...</option><option value="us" selected>United States</option></select>`,
			question.KindSelect, "United States", true,
		},
		{
			"select left on its placeholder",
			`<select><option value="" selected>Select...</option><option value="us">United States</option></select>`,
			question.KindSelect, "Select...", false,
		},
		{"single box checked and wanted", `<input type="checkbox" aria-label="I agree" checked>`, question.KindCheckbox, true, true},
		{"single box unchecked but wanted", `<input type="checkbox" aria-label="I agree">`, question.KindCheckbox, true, false},
		{"single box checked but unwanted", `<input type="checkbox" aria-label="I agree" checked>`, question.KindCheckbox, false, false},
		{
			"group shows the chosen boxes",
			`<input type="checkbox" id="go" checked><label for="go">Go</label><input type="checkbox" id="rs"><label for="rs">Rust</label>`,
			question.KindCheckbox, []string{"Go"}, true,
		},
		{
			"group shows another box",
			`<input type="checkbox" id="go" checked><label for="go">Go</label><input type="checkbox" id="rs"><label for="rs">Rust</label>`,
			question.KindCheckbox, []string{"Rust"}, false,
		},
		{"multiselect is always driven", `<input role="combobox" value="Go">`, question.KindMultiselect, []string{"Go"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := field(t, tt.markup, tt.kind, "Question", true)
			assert.Equal(t, tt.want, m.Agrees(q, answered(tt.value)))
		})
	}

	t.Run("location answers are always driven", func(t *testing.T) {
		q := field(t, `<input type="text" value="Berlin">`, question.KindText, "City", true)
		ans := answered("Berlin")
		ans.Meta.Location = true
		assert.False(t, m.Agrees(q, ans))
	})
}
