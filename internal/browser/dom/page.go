// File: internal/browser/dom/page.go

// Package dom provides mutation-aware element resolution and the commit and
// clearing primitives the field handlers are built on. Reads work on parsed
// HTML snapshots; writes go through a Page. Selectors are XPath.
package dom

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

var (
	// ErrElementNotFound is returned when a resolver yields nothing valid
	// within its budget.
	ErrElementNotFound = errors.New("element not found")
	// ErrNotSupported is returned by pages that cannot perform an operation.
	ErrNotSupported = errors.New("operation not supported by page")
)

// HiddenAttr is written onto snapshot nodes whose computed style hides them.
const HiddenAttr = "data-aa-hidden"

// Page is the set of operations the engine needs from a live document.
// Every write dispatches the event sequence a user interaction would.
type Page interface {
	// Snapshot serializes the live document, mirroring value, checked and
	// selected properties into attributes.
	Snapshot(ctx context.Context) (*Snapshot, error)
	URL(ctx context.Context) (string, error)

	// Fill sets a value via the native prototype setter then fires input
	// and change. When focus is true the element is focused first.
	Fill(ctx context.Context, xpath, value string, focus bool) error
	// SetChecked sets a checkbox or radio state through a user click.
	SetChecked(ctx context.Context, xpath string, checked bool) error
	// SelectOption sets a native select's value and fires change.
	SelectOption(ctx context.Context, xpath, value string) error
	// Click dispatches pointerdown, mousedown, pointerup, mouseup and click
	// at the element's center.
	Click(ctx context.Context, xpath string) error
	Focus(ctx context.Context, xpath string) error
	// PressKey sends keydown and keyup for a named key (Enter, Tab, Escape,
	// ArrowDown, Backspace) to the element.
	PressKey(ctx context.Context, xpath, key string) error
	// TypeText types text into the focused element key by key.
	TypeText(ctx context.Context, xpath, text string) error
	// SetFiles assigns local files to a file input.
	SetFiles(ctx context.Context, xpath string, files []string) error
	// Commit dispatches a composed, bubbling focusout sequence and blurs.
	Commit(ctx context.Context, xpath string) error
	// Clear empties a field: native setter plus input, change, blur and
	// focusout, or unchecking for checkbox and radio.
	Clear(ctx context.Context, xpath string) error

	// WaitForMutation blocks until a subtree mutation under body happens or
	// timeout elapses. It reports whether a mutation was observed.
	WaitForMutation(ctx context.Context, timeout time.Duration) (bool, error)

	Navigate(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	Back(ctx context.Context) error
	// Evaluate runs a script and decodes its JSON result into out.
	Evaluate(ctx context.Context, script string, out any) error
}

// Snapshot is a parsed copy of the document at one point in time.
type Snapshot struct {
	Root  *html.Node
	URL   string
	Taken time.Time
}

// ParseSnapshot parses serialized HTML into a Snapshot.
func ParseSnapshot(r io.Reader, url string) (*Snapshot, error) {
	root, err := htmlquery.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DOM snapshot: %w", err)
	}
	return &Snapshot{Root: root, URL: url, Taken: time.Now()}, nil
}

// ParseSnapshotString is ParseSnapshot over a string.
func ParseSnapshotString(doc, url string) (*Snapshot, error) {
	return ParseSnapshot(strings.NewReader(doc), url)
}

// Find returns the first element matching xpath.
func (s *Snapshot) Find(xpath string) (Element, bool) {
	if s == nil || s.Root == nil || xpath == "" {
		return Element{}, false
	}
	els := s.FindAll(xpath)
	if len(els) == 0 {
		return Element{}, false
	}
	return els[0], true
}

// FindAll returns every element matching xpath, in document order.
// Malformed expressions match nothing.
func (s *Snapshot) FindAll(xpath string) []Element {
	if s == nil || s.Root == nil || xpath == "" {
		return nil
	}
	nodes, err := htmlquery.QueryAll(s.Root, xpath)
	if err != nil {
		return nil
	}
	return wrap(nodes)
}

// Exists reports whether xpath matches anything.
func (s *Snapshot) Exists(xpath string) bool {
	_, ok := s.Find(xpath)
	return ok
}

// Body returns the body element or the document root.
func (s *Snapshot) Body() Element {
	if el, ok := s.Find("//body"); ok {
		return el
	}
	return Element{Node: s.Root}
}

// Size counts element nodes, used to measure DOM change between snapshots.
func (s *Snapshot) Size() int {
	if s == nil || s.Root == nil {
		return 0
	}
	count := 0
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			count++
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(s.Root)
	return count
}

// HTML renders the snapshot back to markup.
func (s *Snapshot) HTML() string {
	if s == nil || s.Root == nil {
		return ""
	}
	return htmlquery.OutputHTML(s.Root, true)
}

func wrap(nodes []*html.Node) []Element {
	out := make([]Element, 0, len(nodes))
	for _, n := range nodes {
		if n.Type != html.ElementNode {
			continue
		}
		if !(Element{Node: n}).Inert() {
			out = append(out, NewElement(n))
		}
	}
	return out
}
