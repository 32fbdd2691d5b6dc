// internal/llmutil/parser.go
package llmutil

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrNoJSON is returned when a response carries no JSON value at all.
var ErrNoJSON = errors.New("no JSON value found in response")

var (
	// Backticks are written as \x60 because Go raw strings cannot hold them.

	// fencedRegex extracts the body of a markdown code fence with any
	// language tag.
	fencedRegex = regexp.MustCompile("(?s)\x60\x60\x60[a-zA-Z]*\\s*(.*?)\\s*\x60\x60\x60")
)

// ParseJSONResponse parses a model response into T. Fenced output and JSON
// embedded in prose are both accepted: every balanced top-level value is
// tried in order until one decodes into T.
func ParseJSONResponse[T any](response string) (*T, error) {
	response = strings.TrimSpace(response)

	var result T
	if err := json.Unmarshal([]byte(StripFences(response)), &result); err == nil {
		return &result, nil
	}

	candidates := ExtractJSONObjects(response)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w (truncated): %s", ErrNoJSON, truncateString(response, 200))
	}
	var lastErr error
	for _, c := range candidates {
		var out T
		if err := json.Unmarshal([]byte(c), &out); err != nil {
			lastErr = err
			continue
		}
		return &out, nil
	}
	return nil, fmt.Errorf("failed to unmarshal LLM JSON response: %w. Extracted JSON (truncated): %s", lastErr, truncateString(candidates[0], 500))
}

// ExtractJSONObjects returns every balanced top-level JSON object or array
// in s, in order. Brackets inside string literals are ignored.
func ExtractJSONObjects(s string) []string {
	var out []string
	var stack []byte
	start := -1
	inString, escaped := false, false

	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			if start >= 0 {
				inString = true
			}
		case '{', '[':
			if start < 0 {
				start = i
			}
			stack = append(stack, c)
		case '}', ']':
			if len(stack) == 0 {
				continue
			}
			open := stack[len(stack)-1]
			if (open == '{') != (c == '}') {
				// Mismatched close; abandon this candidate.
				stack, start = stack[:0], -1
				continue
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				out = append(out, s[start:i+1])
				start = -1
			}
		}
	}
	return out
}

// StripFences removes a surrounding markdown code fence.
func StripFences(content string) string {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		if matches := fencedRegex.FindStringSubmatch(content); len(matches) > 1 {
			return strings.TrimSpace(matches[1])
		}
	}
	return content
}

func truncateString(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	// Byte truncation; good enough for error messages.
	return s[:maxLen] + "..."
}
