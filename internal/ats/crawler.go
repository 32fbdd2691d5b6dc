// File: internal/ats/crawler.go
package ats

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/autoapply/internal/browser/dom"
	"github.com/xkilldash9x/autoapply/internal/question"
)

var (
	pleaseSelect = regexp.MustCompile(`(?i)\bplease select\b[^*]*`)
	dashRun      = regexp.MustCompile(`\s*-{2,}\s*`)
	spaceRun     = regexp.MustCompile(`\s+`)
)

// requiredMarks end a label of a required question.
var requiredMarks = []string{"*", "✱"}

// placeholderValues are trigger texts that mean "nothing chosen".
var placeholderValues = []string{"select one", "select...", "select", "please select", "--"}

// Crawler extracts questions from a page using its selector catalog.
type Crawler struct {
	sel Selectors
	// skip is the force-skip bank of the platform's known questions.
	skip   dom.Validator
	logger *zap.Logger
}

// NewCrawler builds a crawler for one page's selectors.
func NewCrawler(sel Selectors, known question.Catalog, logger *zap.Logger) *Crawler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Crawler{sel: sel, skip: known.ForceSkipBank(), logger: logger.Named("crawler")}
}

// Discover returns the questions on the page in document order.
func (c *Crawler) Discover(ctx context.Context, page dom.Page, errorOnly bool) ([]question.Question, error) {
	snap, err := page.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot for discovery: %w", err)
	}
	qs := c.Questions(snap)
	if !errorOnly {
		return qs, nil
	}
	out := qs[:0]
	for _, q := range qs {
		if (q.Required && !q.Set) || invalid(q) {
			out = append(out, q)
		}
	}
	return out, nil
}

// invalid reports questions the page flagged after a submit.
func invalid(q question.Question) bool {
	for _, f := range q.Fields {
		if f.Attr("aria-invalid") == "true" {
			return true
		}
	}
	return false
}

// Questions runs discovery on a snapshot.
func (c *Crawler) Questions(snap *dom.Snapshot) []question.Question {
	var out []question.Question
	seen := make(map[string]bool)
	for _, container := range c.containers(snap) {
		label, rawLabel := c.label(snap, container)
		for _, group := range c.groups(container) {
			q := c.build(snap, container, group, label, rawLabel)
			if c.forceSkipped(q) {
				c.logger.Debug("Dropping force-skipped question.", zap.String("label", q.Label))
				continue
			}
			if seen[q.ID] {
				continue
			}
			seen[q.ID] = true
			out = append(out, q)
		}
	}
	return out
}

// containers returns visible containers, keeping only the innermost when
// selectors match nested elements.
func (c *Crawler) containers(snap *dom.Snapshot) []dom.Element {
	var all []dom.Element
	seen := make(map[string]bool)
	for _, sel := range c.sel.Containers {
		for _, el := range snap.FindAll(sel) {
			if seen[el.XPath] || el.Hidden() {
				continue
			}
			seen[el.XPath] = true
			all = append(all, el)
		}
	}
	out := make([]dom.Element, 0, len(all))
	for i, el := range all {
		inner := true
		for j, other := range all {
			if i != j && el.Node != other.Node && el.Contains(other) {
				inner = false
				break
			}
		}
		if inner {
			out = append(out, el)
		}
	}
	sortDocumentOrder(snap.Root, out)
	return out
}

// label derives the question text by precedence: the catalog's label paths,
// a legend, an ancestor aria-label, then the first field's accessible name.
// It returns the cleaned label and the raw text used for the required mark.
func (c *Crawler) label(snap *dom.Snapshot, container dom.Element) (string, string) {
	raw := ""
	for _, rel := range c.sel.Labels {
		if el, ok := container.QueryOne(rel); ok {
			if t := el.Text(); t != "" {
				raw = t
				break
			}
		}
	}
	if raw == "" {
		if el, ok := container.QueryOne(".//legend"); ok {
			raw = el.Text()
		}
	}
	if raw == "" {
		if fs, ok := container.Closest(dom.TagIs("fieldset")); ok {
			if el, ok := fs.QueryOne("./legend"); ok {
				raw = el.Text()
			}
		}
	}
	if raw == "" {
		if el, ok := container.Closest(func(e dom.Element) bool { return strings.TrimSpace(e.Attr("aria-label")) != "" }); ok {
			raw = el.Attr("aria-label")
		}
	}
	if raw == "" {
		if fields := c.fields(container); len(fields) > 0 {
			raw = fields[0].AccessibleLabel(snap.Root)
		}
	}
	return CleanLabel(raw), strings.TrimSpace(raw)
}

// CleanLabel strips "Please select" prompts, dash separators and required
// marks.
func CleanLabel(s string) string {
	s = pleaseSelect.ReplaceAllString(s, "")
	s = dashRun.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)
	for {
		trimmed := s
		for _, m := range requiredMarks {
			trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, m))
		}
		if trimmed == s {
			break
		}
		s = trimmed
	}
	return strings.TrimSpace(spaceRun.ReplaceAllString(s, " "))
}

// fields returns the container's usable input-capable descendants.
func (c *Crawler) fields(container dom.Element) []dom.Element {
	rel := c.sel.Fields
	if rel == "" {
		rel = defaultFields
	}
	var out []dom.Element
	seen := make(map[*html.Node]bool)
	for _, el := range container.Query(rel) {
		if seen[el.Node] {
			continue
		}
		seen[el.Node] = true
		if el.Disabled() {
			continue
		}
		// File inputs are routinely hidden behind a styled button.
		if el.Hidden() && el.InputType() != "file" {
			continue
		}
		if c.sel.Ignore != nil && c.sel.Ignore(el) {
			continue
		}
		out = append(out, el)
	}
	sortDocumentOrder(container.Node, out)
	return out
}

const defaultFields = ".//input | .//textarea | .//select | .//button[@aria-haspopup='listbox'] | .//*[@role='combobox'] | .//*[@contenteditable='true']"

// groups splits a container's fields into logical questions. Radios with
// different names inside one container become separate groups.
func (c *Crawler) groups(container dom.Element) [][]dom.Element {
	fields := c.fields(container)
	if len(fields) == 0 {
		return nil
	}
	radioGroups := make(map[string][]dom.Element)
	var names []string
	var rest []dom.Element
	for _, f := range fields {
		if f.InputType() == "radio" && f.Name() != "" {
			if _, ok := radioGroups[f.Name()]; !ok {
				names = append(names, f.Name())
			}
			radioGroups[f.Name()] = append(radioGroups[f.Name()], f)
			continue
		}
		rest = append(rest, f)
	}
	if len(names) <= 1 {
		return [][]dom.Element{fields}
	}
	out := make([][]dom.Element, 0, len(names)+1)
	for _, n := range names {
		out = append(out, radioGroups[n])
	}
	if len(rest) > 0 {
		out = append(out, rest)
	}
	return out
}

func (c *Crawler) build(snap *dom.Snapshot, container dom.Element, fields []dom.Element, label, rawLabel string) question.Question {
	base := BaseField(fields)
	kind := c.kindOf(base, container)
	legend := containerLegend(container)
	if kind == question.KindRadio && len(fields) > 1 {
		// A radio group split from its container is labelled by its legend.
		if fs, ok := fields[0].Closest(dom.TagIs("fieldset")); ok && container.Contains(fs) && fs.Node != container.Node {
			if lg, ok := fs.QueryOne("./legend"); ok && lg.Text() != "" {
				rawLabel, legend = lg.Text(), lg.Text()
				label = CleanLabel(rawLabel)
			}
		}
	}
	required := isRequired(fields, rawLabel, legend)
	q := question.New(label, fields, base, kind, required)
	q.Set = c.isSet(snap, container, fields, base, kind)
	q.Container = c.containerIndex(snap, container)
	return q
}

// containerLegend returns the legend describing the container, if any.
func containerLegend(container dom.Element) string {
	if lg, ok := container.QueryOne(".//legend"); ok {
		return lg.Text()
	}
	if fs, ok := container.Closest(dom.TagIs("fieldset")); ok {
		if lg, ok := fs.QueryOne("./legend"); ok {
			return lg.Text()
		}
	}
	return ""
}

// BaseField picks the field a question's kind derives from: an enabled
// native select, then a combobox or listbox, then a real form control, then
// a button, then the first field.
func BaseField(fields []dom.Element) dom.Element {
	for _, f := range fields {
		if f.Tag() == "select" && !f.Disabled() {
			return f
		}
	}
	for _, f := range fields {
		if f.IsComboBox() {
			return f
		}
	}
	for _, f := range fields {
		if f.IsFormControl() {
			return f
		}
	}
	for _, f := range fields {
		if f.Tag() == "button" {
			return f
		}
	}
	return fields[0]
}

func (c *Crawler) kindOf(base, container dom.Element) question.Kind {
	multi := c.sel.Multiselect
	if multi == nil {
		multi = func(e dom.Element) bool { return e.Attr("aria-multiselectable") == "true" }
	}
	if multi(base) {
		return question.KindMultiselect
	}
	if _, ok := base.Closest(multi); ok {
		return question.KindMultiselect
	}
	switch base.Tag() {
	case "select":
		return question.KindSelect
	case "textarea":
		return question.KindTextarea
	case "button":
		if base.IsComboBox() {
			return question.KindDropdown
		}
		return question.KindUnknown
	case "input":
		if base.IsComboBox() {
			return question.KindDropdown
		}
		switch base.InputType() {
		case "email":
			return question.KindEmail
		case "number":
			return question.KindNumber
		case "tel":
			return question.KindTel
		case "url":
			return question.KindURL
		case "search":
			return question.KindSearch
		case "password":
			return question.KindPassword
		case "radio":
			return question.KindRadio
		case "checkbox":
			return question.KindCheckbox
		case "file":
			return question.KindFile
		case "date":
			return question.KindDate
		}
		return question.KindText
	}
	if base.IsComboBox() {
		return question.KindDropdown
	}
	if base.IsContentEditable() {
		return question.KindTextarea
	}
	return question.KindUnknown
}

// isRequired checks the label mark, native required, aria-required on the
// fields and their descendants, and a starred legend.
func isRequired(fields []dom.Element, rawLabel, legend string) bool {
	if endsWithMark(rawLabel) || endsWithMark(legend) {
		return true
	}
	ariaRequired := dom.Descendant(dom.AttrEquals("aria-required", "true"))
	for _, f := range fields {
		if f.HasAttr("required") || ariaRequired(f) {
			return true
		}
	}
	return false
}

func endsWithMark(s string) bool {
	s = strings.TrimSpace(s)
	for _, m := range requiredMarks {
		if strings.HasSuffix(s, m) {
			return true
		}
	}
	return false
}

func (c *Crawler) isSet(snap *dom.Snapshot, container dom.Element, fields []dom.Element, base dom.Element, kind question.Kind) bool {
	switch kind {
	case question.KindRadio, question.KindCheckbox:
		for _, f := range fields {
			if f.Checked() {
				return true
			}
		}
		return false
	case question.KindSelect:
		opt, ok := base.SelectedOption()
		return ok && strings.TrimSpace(opt.OptionValue()) != "" && !isPlaceholder(opt.Text())
	case question.KindDropdown:
		if base.Tag() == "input" {
			return strings.TrimSpace(base.Value()) != ""
		}
		return !isPlaceholder(base.Text())
	case question.KindMultiselect:
		if c.sel.SelectedItems == "" {
			return false
		}
		return len(container.Query(c.sel.SelectedItems)) > 0
	case question.KindFile:
		if c.sel.UploadedFile == "" {
			return false
		}
		return len(container.Query(c.sel.UploadedFile)) > 0
	}
	for _, f := range fields {
		if f.IsContentEditable() && f.Text() != "" {
			return true
		}
		if strings.TrimSpace(f.Value()) != "" {
			return true
		}
	}
	return false
}

func isPlaceholder(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return true
	}
	for _, p := range placeholderValues {
		if s == p {
			return true
		}
	}
	return false
}

// containerIndex is the position of the sub-form instance holding the
// container, or -1.
func (c *Crawler) containerIndex(snap *dom.Snapshot, container dom.Element) int {
	for _, sf := range c.sel.SubForms {
		for i, inst := range snap.FindAll(sf.Container) {
			if inst.Contains(container) {
				return i
			}
		}
	}
	return -1
}

func (c *Crawler) forceSkipped(q question.Question) bool {
	if c.skip == nil || len(q.Fields) == 0 {
		return false
	}
	for _, f := range q.Fields {
		if !c.skip(f) {
			return false
		}
	}
	return true
}

// sortDocumentOrder orders elements as they appear in the document.
func sortDocumentOrder(root *html.Node, els []dom.Element) {
	if len(els) < 2 || root == nil {
		return
	}
	pos := make(map[*html.Node]int, len(els))
	for _, e := range els {
		pos[e.Node] = -1
	}
	i := 0
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if _, ok := pos[n]; ok {
			pos[n] = i
		}
		i++
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	sort.SliceStable(els, func(a, b int) bool { return pos[els[a].Node] < pos[els[b].Node] })
}
