// File: internal/question/question_test.go
package question

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/autoapply/internal/browser/dom"
)

func TestKindParsing(t *testing.T) {
	for k := KindText; k < kindCount; k++ {
		parsed, ok := ParseKind(k.String())
		assert.True(t, ok, k.String())
		assert.Equal(t, k, parsed)
	}
	_, ok := ParseKind("hologram")
	assert.False(t, ok)
	_, ok = ParseKind("unknown")
	assert.False(t, ok, "unknown is not a parseable type")

	var k Kind
	require.NoError(t, k.UnmarshalText([]byte("multiselect")))
	assert.Equal(t, KindMultiselect, k)
	assert.Error(t, k.UnmarshalText([]byte("hologram")))

	assert.True(t, KindEmail.IsTextual())
	assert.False(t, KindRadio.IsTextual())
	assert.True(t, KindDropdown.IsSingleChoice())
	assert.False(t, KindCheckbox.IsSingleChoice())
}

func TestTypeSet(t *testing.T) {
	s := Types(KindRadio, KindSelect)
	assert.True(t, s.Has(KindRadio))
	assert.False(t, s.Has(KindText))
	assert.Equal(t, "radio|select", s.String())
	assert.True(t, AnyType.Has(KindDate))
	assert.True(t, TextTypes.Has(KindTextarea))
	assert.False(t, TextTypes.Has(KindFile))
}

func TestAnswerJSON(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    Answer
		wantErr bool
	}{
		{name: "string", in: `"Yes"`, want: Text("Yes")},
		{name: "list", in: `["Python", "C++"]`, want: List("Python", "C++")},
		{name: "number", in: `5`, want: Text("5")},
		{name: "decimal", in: `2.50`, want: Text("2.5")},
		{name: "mixed list", in: `["a", 3, true]`, want: List("a", "3", "true")},
		{name: "null", in: `null`, want: Answer{}},
		{name: "object", in: `{"a": 1}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var a Answer
			err := json.Unmarshal([]byte(tt.in), &a)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, a)
		})
	}

	var resp LLMResponse
	require.NoError(t, json.Unmarshal([]byte(`{"questionId":"q1","response":["x"]}`), &resp))
	assert.Equal(t, "q1", resp.QuestionID)
	assert.Equal(t, []string{"x"}, resp.Response.Value())

	out, err := json.Marshal(LLMRequest{QuestionID: "q1", Label: "Skills", Type: KindMultiselect, Options: []string{"Go"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"questionId":"q1","labelText":"Skills","type":"multiselect","required":false,"options":["Go"]}`, string(out))

	out, err = json.Marshal(List())
	require.NoError(t, err)
	assert.Equal(t, `[]`, string(out))
	assert.True(t, Text("  ").Empty())
	assert.Equal(t, "", Answer{}.Value())
}

func TestContainerCorrection(t *testing.T) {
	meta := NoMeta()
	meta.DBAnswerKey = "workExperiences[2].company"
	meta.DBAnswerKeyIdx = 2
	meta.ContainerIdx = 1

	c, ok := ContainerCorrection(meta, "qid")
	require.True(t, ok)
	assert.Equal(t, RemoveWorkContainer, c.Kind)
	assert.Equal(t, 1, c.ContainerIdx)
	assert.Equal(t, 2, c.DBAnswerKeyIdx)
	assert.Equal(t, "REMOVE_WORK_CONTAINER", c.Kind.String())

	meta.DBAnswerKey = "otherURLs[0]"
	c, ok = ContainerCorrection(meta, "qid")
	require.True(t, ok)
	assert.Equal(t, RemoveWebsiteContainer, c.Kind)

	meta.DBAnswerKey = "email"
	_, ok = ContainerCorrection(meta, "qid")
	assert.False(t, ok)
}

func TestCatalogMatch(t *testing.T) {
	snap, err := dom.ParseSnapshotString(`<html><body>
<input id="email" data-automation-id="email">
<input id="ssn" data-automation-id="ssn">
</body></html>`, "https://x.test")
	require.NoError(t, err)
	email, _ := snap.Find("//input[@id='email']")
	ssn, _ := snap.Find("//input[@id='ssn']")

	catalog := Catalog{
		{Name: "email-radio", Types: Types(KindRadio), Validator: dom.AutomationID("email")},
		{Name: "email", Types: TextTypes, Validator: dom.AutomationID("email"), DBAnswerKey: "email"},
		{Name: "ssn", Types: AnyType, Validator: dom.AutomationID("ssn"), Action: ActionForceSkip},
	}

	q := New("Email", []dom.Element{email}, email, KindEmail, true)
	entry, ok := catalog.Match(q)
	require.True(t, ok)
	assert.Equal(t, "email", entry.Name, "kind filter skips the radio entry")

	bank := catalog.ForceSkipBank()
	assert.True(t, bank(ssn))
	assert.False(t, bank(email))

	other := New("Other", []dom.Element{email}, email, KindFile, false)
	_, ok = catalog.Match(other)
	assert.False(t, ok)
}

func TestQuestionIdentity(t *testing.T) {
	snap, err := dom.ParseSnapshotString(`<html><body><input id="a" name="first"></body></html>`, "")
	require.NoError(t, err)
	el, _ := snap.Find("//input")
	q1 := New("First name", []dom.Element{el}, el, KindText, true)
	q2 := New("First name", []dom.Element{el}, el, KindText, true)
	q3 := New("Last name", []dom.Element{el}, el, KindText, true)

	assert.Equal(t, q1.ID, q2.ID)
	assert.NotEqual(t, q1.ID, q3.ID)
	assert.Equal(t, -1, q1.Container)
	assert.Equal(t, []string{el.XPath}, q1.XPaths())
	assert.Len(t, Index([]Question{q1, q2, q3}), 2)
}
