// File: internal/profile/sanitize.go
package profile

import (
	"fmt"
	"strings"
)

// llmDropKeys never leave the process in LLM context.
var llmDropKeys = []string{
	"password",
	"secondaryPassword",
	"addresses",
	"primaryAddressContainerIdx",
	"llmAddressSelectionEnabled",
	"resumes",
	"primaryResumeContainerIdx",
	"llmResumeSelectionEnabled",
	"useSalaryRange",
}

var typography = strings.NewReplacer(
	"—", "-",
	"–", "-",
	"’", "'",
	"‘", "'",
	"“", `"`,
	"”", `"`,
)

// NormalizeTypography replaces dashes and curly quotes with ASCII.
func NormalizeTypography(s string) string {
	return typography.Replace(s)
}

// ForLLM returns a generic copy of the profile without secrets, addresses or
// resume storage, with typography normalized in every string.
func (p *Profile) ForLLM() (map[string]any, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode profile: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode profile: %w", err)
	}
	for _, key := range llmDropKeys {
		delete(doc, key)
	}
	return normalizeTree(doc).(map[string]any), nil
}

// Snippets resolves each key against the profile, skipping keys that do not
// resolve. Used to attach relevant profile fragments to LLM questions.
func (p *Profile) Snippets(keys []string) map[string]any {
	out := make(map[string]any, len(keys))
	for _, key := range keys {
		if isDropped(key) {
			continue
		}
		if v, err := p.LookupString(key); err == nil {
			out[key] = v
		}
	}
	return out
}

func isDropped(key string) bool {
	path, err := ParsePath(key)
	if err != nil {
		return true
	}
	for _, d := range llmDropKeys {
		if path.Root() == d {
			return true
		}
	}
	return false
}

func normalizeTree(v any) any {
	switch t := v.(type) {
	case string:
		return NormalizeTypography(t)
	case []any:
		for i := range t {
			t[i] = normalizeTree(t[i])
		}
		return t
	case map[string]any:
		for k, val := range t {
			t[k] = normalizeTree(val)
		}
		return t
	}
	return v
}
