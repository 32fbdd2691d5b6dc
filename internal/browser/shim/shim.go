// internal/browser/shim/shim.go
package shim

import (
	"fmt"
	"regexp"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/autoapply/internal/browser/dom"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ConfigPlaceholder marks where the helper template expects its config object.
const ConfigPlaceholder = "/*{{AUTOAPPLY_HELPER_CONFIG}}*/"

var (
	identifier = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)
	dataAttr   = regexp.MustCompile(`^data-[a-z0-9-]+$`)
)

// Config is what the page helpers read at install time.
type Config struct {
	// Namespace is the window property the helpers live under.
	Namespace string `json:"namespace"`
	// HiddenAttr is written on snapshot nodes the browser does not render.
	HiddenAttr string `json:"hiddenAttr"`
}

// DefaultConfig matches the attribute the dom package reads back.
func DefaultConfig() Config {
	return Config{Namespace: "__autoapply", HiddenAttr: dom.HiddenAttr}
}

func (c Config) Validate() error {
	if !identifier.MatchString(c.Namespace) {
		return fmt.Errorf("helper namespace %q is not a JavaScript identifier", c.Namespace)
	}
	if !dataAttr.MatchString(c.HiddenAttr) {
		return fmt.Errorf("hidden marker %q must be a data- attribute", c.HiddenAttr)
	}
	return nil
}

// Bundle is the installed helper script plus the namespace calls go through.
type Bundle struct {
	script    string
	namespace string
}

// Build injects cfg into the helper template.
func Build(template string, cfg Config) (*Bundle, error) {
	if template == "" {
		return nil, fmt.Errorf("template is empty")
	}
	if !strings.Contains(template, ConfigPlaceholder) {
		return nil, fmt.Errorf("template does not contain the required placeholder: %s", ConfigPlaceholder)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode helper config: %w", err)
	}
	return &Bundle{
		script:    strings.Replace(template, ConfigPlaceholder, string(b), 1),
		namespace: cfg.Namespace,
	}, nil
}

// Script is the source installed on every new document.
func (b *Bundle) Script() string { return b.script }

// Namespace is the window property holding the helpers.
func (b *Bundle) Namespace() string { return b.namespace }

// Call renders an invocation of helper fn with JSON-encoded arguments. The
// bundle is prepended so calls also work on documents that predate the
// persistent injection; the helpers skip reinstalling when already present.
func (b *Bundle) Call(fn string, args ...any) (string, error) {
	if !identifier.MatchString(fn) {
		return "", fmt.Errorf("helper name %q is not a JavaScript identifier", fn)
	}
	encoded := make([]string, len(args))
	for i, a := range args {
		raw, err := json.Marshal(a)
		if err != nil {
			return "", fmt.Errorf("failed to encode argument %d for %s: %w", i, fn, err)
		}
		encoded[i] = string(raw)
	}
	return fmt.Sprintf("%s\nwindow.%s.%s(%s)", b.script, b.namespace, fn, strings.Join(encoded, ", ")), nil
}
