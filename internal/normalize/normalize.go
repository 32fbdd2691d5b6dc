// Package normalize coerces heterogeneous answer values into the shape each
// field handler expects. Every function is idempotent: feeding its own output
// back in returns the same value.
package normalize

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ErrNormalize is wrapped by every coercion failure.
var ErrNormalize = errors.New("normalize failed")

// Error describes a value that could not be coerced to Target.
type Error struct {
	Target string
	Value  any
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("cannot normalize %T to %s: %s", e.Value, e.Target, e.Reason)
}

func (e *Error) Unwrap() error { return ErrNormalize }

func fail(target string, v any, reason string) error {
	return &Error{Target: target, Value: v, Reason: reason}
}

const (
	Yes = "Yes"
	No  = "No"
)

// lookupKeys are looked up, in order, when an object stands in for a scalar.
var lookupKeys = []string{"label", "value", "text", "name", "title"}

// YesNo maps a boolean to the canonical affirmative/negative answer.
func YesNo(b bool) string {
	if b {
		return Yes
	}
	return No
}

// Text coerces v to a trimmed, non-empty string.
func Text(v any) (string, error) {
	s, err := scalarString("text", v)
	if err != nil {
		return "", err
	}
	if s == "" {
		return "", fail("text", v, "empty after trim")
	}
	return s, nil
}

// Number coerces v to a decimal string. NaN and infinities are rejected.
func Number(v any) (string, error) {
	switch n := v.(type) {
	case float64:
		return formatFloat(v, n)
	case float32:
		return formatFloat(v, float64(n))
	case int:
		return strconv.Itoa(n), nil
	case int64:
		return strconv.FormatInt(n, 10), nil
	case int32:
		return strconv.FormatInt(int64(n), 10), nil
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return "", fail("number", v, err.Error())
		}
		return formatFloat(v, f)
	}
	s, err := scalarString("number", v)
	if err != nil {
		return "", err
	}
	cleaned := strings.ReplaceAll(s, ",", "")
	f, perr := strconv.ParseFloat(cleaned, 64)
	if perr != nil {
		return "", fail("number", v, fmt.Sprintf("%q is not numeric", s))
	}
	return formatFloat(v, f)
}

func formatFloat(orig any, f float64) (string, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", fail("number", orig, "not a finite number")
	}
	return strconv.FormatFloat(f, 'f', -1, 64), nil
}

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"01/02/2006",
	"1/2/2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"2006-01",
	"01/2006",
	"January 2006",
	"Jan 2006",
	"2006",
}

// Date coerces v to an ISO YYYY-MM-DD string. Partial dates resolve to the
// first day of the period.
func Date(v any) (string, error) {
	if t, ok := v.(time.Time); ok {
		if t.IsZero() {
			return "", fail("date", v, "zero time")
		}
		return t.Format("2006-01-02"), nil
	}
	s, err := scalarString("date", v)
	if err != nil {
		return "", err
	}
	if s == "" {
		return "", fail("date", v, "empty after trim")
	}
	for _, layout := range dateLayouts {
		if t, perr := time.Parse(layout, s); perr == nil {
			return t.Format("2006-01-02"), nil
		}
	}
	return "", fail("date", v, fmt.Sprintf("unrecognized date %q", s))
}

// Bool interprets common affirmative and negative spellings.
func Bool(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case *bool:
		if b == nil {
			return false, fail("bool", v, "nil pointer")
		}
		return *b, nil
	}
	s, err := scalarString("bool", v)
	if err != nil {
		return false, err
	}
	switch strings.ToLower(s) {
	case "yes", "y", "true", "1", "on", "checked", "agree", "i agree":
		return true, nil
	case "no", "n", "false", "0", "off", "unchecked", "disagree":
		return false, nil
	}
	return false, fail("bool", v, fmt.Sprintf("%q is not a boolean", s))
}

// Choices coerces v to a trimmed, de-duplicated list preserving first-seen
// order. Booleans become Yes/No.
func Choices(v any) ([]string, error) {
	var raw []string
	switch c := v.(type) {
	case []string:
		raw = c
	case []any:
		for _, item := range c {
			s, err := scalarString("choices", item)
			if err != nil {
				return nil, err
			}
			raw = append(raw, s)
		}
	case map[string]any:
		if s, ok := scalarFromObject(c); ok {
			raw = []string{s}
		} else {
			raw = sortedKeys(c)
		}
	default:
		s, err := scalarString("choices", v)
		if err != nil {
			return nil, err
		}
		raw = []string{s}
	}

	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		key := strings.ToLower(s)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil, fail("choices", v, "empty after trim")
	}
	return out, nil
}

// Selection is the normalized target of a checkbox group.
type Selection struct {
	CheckAll   bool
	Candidates []string
}

// Checkbox normalizes a value for a checkbox group of groupSize boxes. A
// boolean on a multi-box group means "check all"; on a single box it becomes
// Yes/No like any other choice.
func Checkbox(v any, groupSize int) (Selection, error) {
	switch c := v.(type) {
	case Selection:
		return c, nil
	case bool:
		if groupSize > 1 {
			if !c {
				return Selection{}, fail("checkbox", v, "false cannot select a multi-checkbox group")
			}
			return Selection{CheckAll: true}, nil
		}
		return Selection{Candidates: []string{YesNo(c)}}, nil
	}
	choices, err := Choices(v)
	if err != nil {
		return Selection{}, err
	}
	return Selection{Candidates: choices}, nil
}

func scalarString(target string, v any) (string, error) {
	switch s := v.(type) {
	case nil:
		return "", fail(target, v, "nil value")
	case string:
		return strings.TrimSpace(s), nil
	case *string:
		if s == nil {
			return "", fail(target, v, "nil pointer")
		}
		return strings.TrimSpace(*s), nil
	case bool:
		return YesNo(s), nil
	case time.Time:
		if s.IsZero() {
			return "", fail(target, v, "zero time")
		}
		return s.Format("2006-01-02"), nil
	case float64, float32, int, int64, int32, json.Number:
		return Number(s)
	case []string, []any:
		list, err := Choices(s)
		if err != nil {
			return "", err
		}
		return strings.Join(list, ", "), nil
	case map[string]any:
		if str, ok := scalarFromObject(s); ok {
			return str, nil
		}
		return strings.Join(sortedKeys(s), ", "), nil
	case map[string]string:
		obj := make(map[string]any, len(s))
		for k, val := range s {
			obj[k] = val
		}
		return scalarString(target, obj)
	case fmt.Stringer:
		return strings.TrimSpace(s.String()), nil
	}
	return "", fail(target, v, "unsupported type")
}

func scalarFromObject(obj map[string]any) (string, bool) {
	for _, key := range lookupKeys {
		if raw, ok := obj[key]; ok {
			if s, err := scalarString("object", raw); err == nil && s != "" {
				return s, true
			}
		}
	}
	return "", false
}

func sortedKeys(obj map[string]any) []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
