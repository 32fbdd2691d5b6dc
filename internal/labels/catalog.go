// File: internal/labels/catalog.go

// Package labels maps free-text question labels to profile data through a
// catalog of label definitions.
package labels

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/autoapply/internal/profile"
	"github.com/xkilldash9x/autoapply/internal/question"
)

//go:embed default_labels.yaml
var defaultCatalogYAML []byte

// Group says how a definition's value is produced.
type Group string

const (
	GroupGeneral Group = ""
	// GroupAddress values come from the chosen address; Field names the
	// address part (city, state, postalCode, ...).
	GroupAddress Group = "address"
	// GroupResume values are the path of the chosen resume file.
	GroupResume Group = "resume"
)

// ValueFunc computes a definition's value for a question.
type ValueFunc func(q question.Question, p *profile.Profile) (value any, ok bool)

// HintFunc produces free text sent to the model with the question.
type HintFunc func(q question.Question, p *profile.Profile) string

// Definition is one catalog entry.
type Definition struct {
	Key         string   `yaml:"key"`
	Phrases     []string `yaml:"phrases"`
	Group       Group    `yaml:"group,omitempty"`
	Field       string   `yaml:"field,omitempty"`
	DBAnswerKey string   `yaml:"dbAnswerKey,omitempty"`
	Value       any      `yaml:"value,omitempty"`
	Hint        string   `yaml:"hint,omitempty"`

	ValueFunc ValueFunc `yaml:"-"`
	HintFunc  HintFunc  `yaml:"-"`
}

// HintFor returns the static hint or the hint function's output.
func (d Definition) HintFor(q question.Question, p *profile.Profile) string {
	if d.HintFunc != nil {
		if h := d.HintFunc(q, p); h != "" {
			return h
		}
	}
	return d.Hint
}

// Catalog is an immutable set of definitions indexed by key.
type Catalog struct {
	defs  []Definition
	byKey map[string]int
}

type catalogFile struct {
	Labels []Definition `yaml:"labels"`
}

// DefaultCatalog returns the built-in catalog with the built-in value
// functions attached.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultCatalogYAML)
}

// LoadCatalog reads a catalog file. A leading "~" is expanded. An empty path
// returns the built-in catalog.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog()
	}
	resolved, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("could not resolve label catalog path '%s': %w", path, err)
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("failed to read label catalog '%s': %w", resolved, err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes catalog YAML and attaches built-in functions by key.
func ParseCatalog(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to decode label catalog: %w", err)
	}
	c := &Catalog{byKey: make(map[string]int, len(file.Labels))}
	for i, d := range file.Labels {
		d.Key = strings.TrimSpace(d.Key)
		if d.Key == "" {
			return nil, fmt.Errorf("label definition %d has no key", i)
		}
		if _, dup := c.byKey[d.Key]; dup {
			return nil, fmt.Errorf("duplicate label key %q", d.Key)
		}
		if len(d.Phrases) == 0 {
			return nil, fmt.Errorf("label %q has no phrases", d.Key)
		}
		switch d.Group {
		case GroupGeneral, GroupResume:
		case GroupAddress:
			if d.Field == "" {
				return nil, fmt.Errorf("address label %q needs a field", d.Key)
			}
		default:
			return nil, fmt.Errorf("label %q has unknown group %q", d.Key, d.Group)
		}
		if d.DBAnswerKey != "" {
			if _, err := profile.ParsePath(d.DBAnswerKey); err != nil {
				return nil, fmt.Errorf("label %q: %w", d.Key, err)
			}
		}
		if fn, ok := builtinValues[d.Key]; ok && d.ValueFunc == nil {
			d.ValueFunc = fn
		}
		if fn, ok := builtinHints[d.Key]; ok && d.HintFunc == nil {
			d.HintFunc = fn
		}
		c.byKey[d.Key] = len(c.defs)
		c.defs = append(c.defs, d)
	}
	return c, nil
}

// Get returns the definition for key.
func (c *Catalog) Get(key string) (Definition, bool) {
	i, ok := c.byKey[key]
	if !ok {
		return Definition{}, false
	}
	return c.defs[i], true
}

// Definitions returns the definitions in file order.
func (c *Catalog) Definitions() []Definition {
	return append([]Definition(nil), c.defs...)
}

// Len is the number of definitions.
func (c *Catalog) Len() int { return len(c.defs) }

// Resolve produces the value of a general definition: the function first,
// then the literal, then the profile path.
func (d Definition) Resolve(q question.Question, p *profile.Profile) (any, bool) {
	if d.ValueFunc != nil {
		if v, ok := d.ValueFunc(q, p); ok {
			return v, true
		}
	}
	if d.Value != nil {
		return d.Value, true
	}
	if d.DBAnswerKey != "" && p != nil {
		v, err := p.LookupString(d.DBAnswerKey)
		if err == nil && !empty(v) {
			return v, true
		}
	}
	return nil, false
}

func empty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []string:
		return len(t) == 0
	}
	return false
}
