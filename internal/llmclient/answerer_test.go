// internal/llmclient/answerer_test.go
package llmclient

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/autoapply/internal/jobdata"
	"github.com/xkilldash9x/autoapply/internal/profile"
	"github.com/xkilldash9x/autoapply/internal/question"
)

// MockGenerator is a testify mock of Generator.
type MockGenerator struct {
	mock.Mock
}

func (m *MockGenerator) Generate(ctx context.Context, req GenerationRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

const answererProfile = `{
  "firstName": "Ada",
  "lastName": "Lovelace",
  "email": "ada@example.com",
  "skills": ["Go", "Python", "C++"],
  "password": "hunter2",
  "addresses": [{"city": "London"}]
}`

func testProfile(t *testing.T) *profile.Profile {
	t.Helper()
	p, err := profile.Parse([]byte(answererProfile))
	require.NoError(t, err)
	return p
}

func TestAnswerer_Answer(t *testing.T) {
	reqs := []question.LLMRequest{
		{QuestionID: "q1", Label: "Languages you know", Type: question.KindMultiselect, Required: true, Options: []string{"Go", "Python", "C++", "Java"}, RelevantDBKeys: []string{"skills"}},
		{QuestionID: "q2", Label: "Why this role?", Type: question.KindTextarea},
		{QuestionID: "q3", Label: "Authorized to work?", Type: question.KindRadio, Options: []string{"Yes", "No"}},
	}
	job := jobdata.Details{Title: "Backend Engineer", Locations: []string{"Remote"}}

	gen := new(MockGenerator)
	gen.On("Generate", mock.Anything, mock.MatchedBy(func(r GenerationRequest) bool {
		return r.Options.ForceJSONFormat &&
			r.Options.Schema != nil &&
			len(r.ContextPrompts) == 1
	})).Return("Sure! ```json\n"+`[
  {"questionId": "q1", "response": ["Python", "C++"]},
  {"questionId": "q2", "response": ["I build reliable services."]},
  {"questionId": "q3", "response": "Yes"},
  {"questionId": "ghost", "response": "boo"}
]`+"\n```", nil).Once()

	a, err := NewAnswerer(gen, testProfile(t), zap.NewNop())
	require.NoError(t, err)

	got, err := a.Answer(context.Background(), reqs, job)
	require.NoError(t, err)
	require.Len(t, got, 3, "unknown question ids are dropped")

	assert.Equal(t, question.List("Python", "C++"), got[0].Response)
	assert.Equal(t, question.Text("I build reliable services."), got[1].Response, "single-value answers are unwrapped")
	assert.Equal(t, question.Text("Yes"), got[2].Response)
	gen.AssertExpectations(t)

	call := gen.Calls[0].Arguments.Get(1).(GenerationRequest)
	assert.Contains(t, call.SystemPrompt, "Backend Engineer")
	assert.Contains(t, call.UserPrompt, "Languages you know")
	assert.Contains(t, call.UserPrompt, `"skills":["Go","Python","C++"]`)
	assert.NotContains(t, call.ContextPrompts[0], "hunter2", "passwords never reach the model")
	assert.NotContains(t, call.ContextPrompts[0], "London", "addresses never reach the model")
}

func TestAnswerer_Errors(t *testing.T) {
	reqs := []question.LLMRequest{{QuestionID: "q1", Label: "Name", Type: question.KindText}}

	t.Run("Generator Failure", func(t *testing.T) {
		gen := new(MockGenerator)
		gen.On("Generate", mock.Anything, mock.Anything).Return("", ErrUnavailable)
		a, err := NewAnswerer(gen, nil, nil)
		require.NoError(t, err)
		_, err = a.Answer(context.Background(), reqs, jobdata.Details{})
		assert.True(t, errors.Is(err, ErrUnavailable))
	})

	t.Run("Unparseable Response", func(t *testing.T) {
		gen := new(MockGenerator)
		gen.On("Generate", mock.Anything, mock.Anything).Return("I cannot help with that.", nil)
		a, err := NewAnswerer(gen, nil, nil)
		require.NoError(t, err)
		_, err = a.Answer(context.Background(), reqs, jobdata.Details{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse")
	})

	t.Run("Empty Batch Skips The Call", func(t *testing.T) {
		gen := new(MockGenerator)
		a, err := NewAnswerer(gen, nil, nil)
		require.NoError(t, err)
		got, err := a.Answer(context.Background(), nil, jobdata.Details{})
		assert.NoError(t, err)
		assert.Nil(t, got)
		gen.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
	})

	t.Run("Nil Generator", func(t *testing.T) {
		_, err := NewAnswerer(nil, nil, nil)
		assert.Error(t, err)
	})
}

func TestQuestionPrompt(t *testing.T) {
	tests := []struct {
		name string
		req  question.LLMRequest
		want string
	}{
		{"Textarea", question.LLMRequest{Type: question.KindTextarea}, "30 to 60 words"},
		{"Multiselect", question.LLMRequest{Type: question.KindMultiselect}, "every option that applies"},
		{"Checkbox Group", question.LLMRequest{Type: question.KindCheckbox, Options: []string{"a", "b"}}, "every option that applies"},
		{"Single Checkbox", question.LLMRequest{Type: question.KindCheckbox, Options: []string{"I agree"}}, "exactly one option"},
		{"Radio", question.LLMRequest{Type: question.KindRadio}, "exactly one option"},
		{"Date", question.LLMRequest{Type: question.KindDate}, "YYYY-MM-DD"},
		{"Text", question.LLMRequest{Type: question.KindText}, "one short line"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Contains(t, QuestionPrompt(tt.req, nil), tt.want)
		})
	}

	t.Run("Reason And Hints", func(t *testing.T) {
		out := QuestionPrompt(question.LLMRequest{
			QuestionID: "q9", Label: "  Start date ", Type: question.KindText,
			Hints: []string{"availability"}, Reason: "no_match",
		}, nil)
		assert.Contains(t, out, "--- Question q9 ---")
		assert.Contains(t, out, "Label: Start date\n")
		assert.Contains(t, out, "Hints (may not be relevant): availability")
		assert.Contains(t, out, "Previous attempt: no_match")
	})
}

func TestSystemPrompt_NoJob(t *testing.T) {
	out := SystemPrompt(jobdata.Details{})
	assert.NotContains(t, out, "Job Details")
	assert.Contains(t, out, "Output rules")
}
