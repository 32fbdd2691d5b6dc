// File: internal/question/llm.go
package question

import (
	"bytes"
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// LLMRequest describes one question sent to the remote model.
type LLMRequest struct {
	QuestionID     string   `json:"questionId"`
	Label          string   `json:"labelText"`
	Type           Kind     `json:"type"`
	Required       bool     `json:"required"`
	Options        []string `json:"options,omitempty"`
	Hints          []string `json:"hints,omitempty"`
	RelevantDBKeys []string `json:"relevantDBKeys,omitempty"`
	Reason         string   `json:"reason,omitempty"`
}

// LLMResponse is the model's answer to one request.
type LLMResponse struct {
	QuestionID string `json:"questionId"`
	Response   Answer `json:"response"`
}

// Answer is a string or a list of strings on the wire.
type Answer struct {
	Values []string
	List   bool
}

// Text builds a single-string answer.
func Text(s string) Answer { return Answer{Values: []string{s}} }

// List builds a list answer.
func List(values ...string) Answer { return Answer{Values: values, List: true} }

// Value returns a string or []string.
func (a Answer) Value() any {
	if a.List {
		return append([]string(nil), a.Values...)
	}
	if len(a.Values) == 0 {
		return ""
	}
	return a.Values[0]
}

func (a Answer) Empty() bool {
	for _, v := range a.Values {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func (a Answer) MarshalJSON() ([]byte, error) {
	if a.List {
		if a.Values == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(a.Values)
	}
	if len(a.Values) == 0 {
		return []byte(`""`), nil
	}
	return json.Marshal(a.Values[0])
}

func (a *Answer) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*a = Answer{}
		return nil
	case len(b) > 0 && b[0] == '[':
		var raw []any
		if err := json.Unmarshal(b, &raw); err != nil {
			return err
		}
		values := make([]string, 0, len(raw))
		for _, v := range raw {
			values = append(values, stringify(v))
		}
		*a = Answer{Values: values, List: true}
		return nil
	default:
		var raw any
		if err := json.Unmarshal(b, &raw); err != nil {
			return err
		}
		if _, isObj := raw.(map[string]any); isObj {
			return fmt.Errorf("llm response must be a string or a list, got object")
		}
		*a = Answer{Values: []string{stringify(raw)}}
		return nil
	}
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	case float64:
		return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%f", t), "0"), ".")
	default:
		return fmt.Sprint(t)
	}
}
