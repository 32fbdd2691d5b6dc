// File: internal/browser/dom/element.go
package dom

import (
	"strings"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

// Element is a snapshot node together with the XPath that addresses it in
// the live document.
type Element struct {
	Node  *html.Node
	XPath string
}

// NewElement wraps a node and computes its unique XPath.
func NewElement(n *html.Node) Element {
	return Element{Node: n, XPath: GenerateUniqueXPath(n)}
}

// Valid reports whether the element refers to a node.
func (e Element) Valid() bool { return e.Node != nil }

func (e Element) Attr(name string) string {
	if e.Node == nil {
		return ""
	}
	return htmlquery.SelectAttr(e.Node, name)
}

func (e Element) HasAttr(name string) bool {
	if e.Node == nil {
		return false
	}
	for _, a := range e.Node.Attr {
		if a.Key == name {
			return true
		}
	}
	return false
}

// Tag returns the lowercase tag name.
func (e Element) Tag() string {
	if e.Node == nil {
		return ""
	}
	return strings.ToLower(e.Node.Data)
}

// InputType returns the lowercase type of an input, "text" when unset.
func (e Element) InputType() string {
	if e.Tag() != "input" {
		return ""
	}
	t := strings.ToLower(strings.TrimSpace(e.Attr("type")))
	if t == "" {
		return "text"
	}
	return t
}

func (e Element) ID() string   { return e.Attr("id") }
func (e Element) Name() string { return e.Attr("name") }
func (e Element) Role() string { return strings.ToLower(e.Attr("role")) }

// AutomationID returns data-automation-id, the Workday element handle.
func (e Element) AutomationID() string { return e.Attr("data-automation-id") }

// Value returns the field's current value. Native selects report the
// selected option's value; contenteditable elements their text.
func (e Element) Value() string {
	switch e.Tag() {
	case "select":
		if opt, ok := e.SelectedOption(); ok {
			return opt.OptionValue()
		}
		return ""
	case "textarea":
		if e.HasAttr("value") {
			return e.Attr("value")
		}
		return visibleText(e.Node)
	case "input":
		return e.Attr("value")
	}
	if e.IsContentEditable() {
		return strings.TrimSpace(visibleText(e.Node))
	}
	return e.Attr("value")
}

// Checked reports the checked state of a checkbox or radio.
func (e Element) Checked() bool {
	return e.HasAttr("checked") || e.Attr("aria-checked") == "true"
}

func (e Element) Disabled() bool {
	return e.HasAttr("disabled") || e.Attr("aria-disabled") == "true"
}

// Hidden reports elements hidden by type, attribute, inline style or the
// computed-visibility marker written at snapshot time. Ancestors count.
func (e Element) Hidden() bool {
	if e.Node == nil {
		return true
	}
	if e.InputType() == "hidden" {
		return true
	}
	for n := e.Node; n != nil && n.Type == html.ElementNode; n = n.Parent {
		el := Element{Node: n}
		if el.HasAttr("hidden") || el.Attr(HiddenAttr) == "true" {
			return true
		}
		style := strings.ReplaceAll(strings.ToLower(el.Attr("style")), " ", "")
		if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
			return true
		}
	}
	return false
}

func (e Element) IsContentEditable() bool {
	v, ok := e.attrLookup("contenteditable")
	if !ok {
		return false
	}
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "" || v == "true" || v == "plaintext-only"
}

func (e Element) attrLookup(name string) (string, bool) {
	if e.Node == nil {
		return "", false
	}
	for _, a := range e.Node.Attr {
		if a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

// Text returns the collapsed inner text.
func (e Element) Text() string {
	if e.Node == nil {
		return ""
	}
	return strings.Join(strings.Fields(visibleText(e.Node)), " ")
}

// inertTags never render text. Snapshots keep them so sibling positions
// match the live document, but text and queries skip them.
var inertTags = map[string]bool{"script": true, "style": true, "noscript": true, "template": true, "svg": true}

// Inert reports whether the element is, or sits inside, an inert element.
func (e Element) Inert() bool {
	for n := e.Node; n != nil; n = n.Parent {
		if n.Type == html.ElementNode && inertTags[strings.ToLower(n.Data)] {
			return true
		}
	}
	return false
}

func visibleText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
			return
		case html.ElementNode:
			if inertTags[strings.ToLower(n.Data)] {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

// Query returns descendants matching a relative XPath such as ".//input".
func (e Element) Query(xpath string) []Element {
	if e.Node == nil {
		return nil
	}
	nodes, err := htmlquery.QueryAll(e.Node, xpath)
	if err != nil {
		return nil
	}
	return wrap(nodes)
}

// QueryOne returns the first descendant matching xpath.
func (e Element) QueryOne(xpath string) (Element, bool) {
	all := e.Query(xpath)
	if len(all) == 0 {
		return Element{}, false
	}
	return all[0], true
}

// Contains reports whether other is e or one of its descendants.
func (e Element) Contains(other Element) bool {
	for n := other.Node; n != nil; n = n.Parent {
		if n == e.Node {
			return true
		}
	}
	return false
}

// Closest returns the nearest ancestor (or self) satisfying v.
func (e Element) Closest(v Validator) (Element, bool) {
	for n := e.Node; n != nil && n.Type == html.ElementNode; n = n.Parent {
		if v(Element{Node: n}) {
			return NewElement(n), true
		}
	}
	return Element{}, false
}

// queryRaw is Query without XPath generation, for predicates.
func (e Element) queryRaw(xpath string) []Element {
	if e.Node == nil {
		return nil
	}
	nodes, err := htmlquery.QueryAll(e.Node, xpath)
	if err != nil {
		return nil
	}
	out := make([]Element, 0, len(nodes))
	for _, n := range nodes {
		if el := (Element{Node: n}); n.Type == html.ElementNode && !el.Inert() {
			out = append(out, el)
		}
	}
	return out
}

// Options returns the option children of a native select.
func (e Element) Options() []Element {
	if e.Tag() != "select" {
		return nil
	}
	return e.Query(".//option")
}

// SelectedOption returns the selected option of a native select, falling
// back to the first option as browsers do.
func (e Element) SelectedOption() (Element, bool) {
	opts := e.Options()
	for _, o := range opts {
		if o.HasAttr("selected") {
			return o, true
		}
	}
	if len(opts) > 0 && !e.HasAttr("multiple") {
		return opts[0], true
	}
	return Element{}, false
}

// OptionValue returns an option's value attribute or its text.
func (e Element) OptionValue() string {
	if v, ok := e.attrLookup("value"); ok {
		return v
	}
	return e.Text()
}

// IsFormControl reports real, non-hidden form controls.
func (e Element) IsFormControl() bool {
	switch e.Tag() {
	case "input":
		return e.InputType() != "hidden"
	case "textarea", "select":
		return true
	}
	return false
}

// IsComboBox reports ARIA combobox or listbox triggers.
func (e Element) IsComboBox() bool {
	role := e.Role()
	popup := strings.ToLower(e.Attr("aria-haspopup"))
	return role == "combobox" || role == "listbox" || popup == "listbox"
}

// AccessibleLabel resolves the element's accessible name: aria-label,
// aria-labelledby, label[for], a wrapping label, an adjacent label, then
// title, placeholder and value.
func (e Element) AccessibleLabel(root *html.Node) string {
	if v := strings.TrimSpace(e.Attr("aria-label")); v != "" {
		return v
	}
	if ids := strings.Fields(e.Attr("aria-labelledby")); len(ids) > 0 && root != nil {
		var parts []string
		for _, id := range ids {
			if n := htmlquery.FindOne(root, "//*[@id="+xpathLiteral(id)+"]"); n != nil {
				if t := (Element{Node: n}).Text(); t != "" {
					parts = append(parts, t)
				}
			}
		}
		if len(parts) > 0 {
			return strings.Join(parts, " ")
		}
	}
	if id := e.ID(); id != "" && root != nil {
		if n := htmlquery.FindOne(root, "//label[@for="+xpathLiteral(id)+"]"); n != nil {
			if t := (Element{Node: n}).Text(); t != "" {
				return t
			}
		}
	}
	for n := e.Node.Parent; n != nil && n.Type == html.ElementNode; n = n.Parent {
		if strings.EqualFold(n.Data, "label") {
			if t := (Element{Node: n}).Text(); t != "" {
				return t
			}
			break
		}
	}
	for sib := e.Node.NextSibling; sib != nil; sib = sib.NextSibling {
		if sib.Type == html.ElementNode {
			if strings.EqualFold(sib.Data, "label") {
				if t := (Element{Node: sib}).Text(); t != "" {
					return t
				}
			}
			break
		}
	}
	for _, attr := range []string{"title", "placeholder"} {
		if v := strings.TrimSpace(e.Attr(attr)); v != "" {
			return v
		}
	}
	if e.Role() == "option" || e.Tag() == "option" || e.Tag() == "button" {
		return e.Text()
	}
	return strings.TrimSpace(e.Attr("value"))
}
