// File: internal/browser/dom/domtest/fake.go

// Package domtest provides an in-memory dom.Page over a parsed HTML tree so
// discovery, handlers and the engine can be exercised against saved ATS
// snapshots without a browser.
package domtest

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/autoapply/internal/browser/dom"
)

// Call records one write operation.
type Call struct {
	Op    string
	XPath string
	Value string
}

// Hook runs after an operation matched by its XPath. It may mutate the page
// through the FakePage helpers.
type Hook func(p *FakePage, el dom.Element)

type hook struct {
	match string
	fn    Hook
}

// FakePage implements dom.Page on an html tree. Writes update attributes
// the way a snapshot of a real page would show them.
type FakePage struct {
	mu      sync.Mutex
	root    *html.Node
	url     string
	calls   []Call
	changed chan struct{}
	fail    map[string]error

	clickHooks []hook
	keyHooks   map[string][]hook
	typeHooks  []hook
	fileHooks  []hook

	// OnNavigate, OnReload and OnBack replace the document on navigation.
	OnNavigate func(p *FakePage, url string)
	OnReload   func(p *FakePage)
	OnBack     func(p *FakePage)
	// EvalFunc answers Evaluate calls.
	EvalFunc func(script string, out any) error
}

var _ dom.Page = (*FakePage)(nil)

// New parses doc into a FakePage at url.
func New(doc, url string) (*FakePage, error) {
	root, err := htmlquery.Parse(strings.NewReader(doc))
	if err != nil {
		return nil, fmt.Errorf("failed to parse fake document: %w", err)
	}
	return &FakePage{
		root:     root,
		url:      url,
		changed:  make(chan struct{}),
		fail:     make(map[string]error),
		keyHooks: make(map[string][]hook),
	}, nil
}

// Load reads a saved snapshot from disk.
func Load(path, url string) (*FakePage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return New(string(data), url)
}

// -- Configuration --

// OnClick registers fn for clicks on elements matched by xpath.
func (p *FakePage) OnClick(xpath string, fn Hook) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clickHooks = append(p.clickHooks, hook{match: xpath, fn: fn})
}

// OnKey registers fn for key presses on elements matched by xpath.
func (p *FakePage) OnKey(key, xpath string, fn Hook) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keyHooks[key] = append(p.keyHooks[key], hook{match: xpath, fn: fn})
}

// OnType registers fn for typing into elements matched by xpath.
func (p *FakePage) OnType(xpath string, fn Hook) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.typeHooks = append(p.typeHooks, hook{match: xpath, fn: fn})
}

// OnFiles registers fn for file assignment on elements matched by xpath.
func (p *FakePage) OnFiles(xpath string, fn Hook) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fileHooks = append(p.fileHooks, hook{match: xpath, fn: fn})
}

// FailOn makes every subsequent op return err. A nil err clears it.
func (p *FakePage) FailOn(op string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		delete(p.fail, op)
		return
	}
	p.fail[op] = err
}

// Calls returns the recorded writes, optionally filtered by op.
func (p *FakePage) Calls(ops ...string) []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(ops) == 0 {
		return append([]Call(nil), p.calls...)
	}
	var out []Call
	for _, c := range p.calls {
		for _, op := range ops {
			if c.Op == op {
				out = append(out, c)
			}
		}
	}
	return out
}

// ResetCalls forgets recorded writes.
func (p *FakePage) ResetCalls() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = nil
}

// -- Mutation helpers usable from hooks --

// Mutate runs fn on the live tree and signals a mutation.
func (p *FakePage) Mutate(fn func(root *html.Node)) {
	p.mu.Lock()
	fn(p.root)
	p.bumpLocked()
	p.mu.Unlock()
}

// SetAttr sets an attribute on every element matched by xpath.
func (p *FakePage) SetAttr(xpath, key, val string) {
	p.Mutate(func(root *html.Node) {
		for _, n := range htmlquery.Find(root, xpath) {
			setAttr(n, key, val)
		}
	})
}

// RemoveAttr removes an attribute from every element matched by xpath.
func (p *FakePage) RemoveAttr(xpath, key string) {
	p.Mutate(func(root *html.Node) {
		for _, n := range htmlquery.Find(root, xpath) {
			removeAttr(n, key)
		}
	})
}

// Remove detaches every element matched by xpath.
func (p *FakePage) Remove(xpath string) {
	p.Mutate(func(root *html.Node) {
		for _, n := range htmlquery.Find(root, xpath) {
			if n.Parent != nil {
				n.Parent.RemoveChild(n)
			}
		}
	})
}

// AppendHTML parses markup and appends it to the first element matched by
// parentXPath.
func (p *FakePage) AppendHTML(parentXPath, markup string) error {
	var err error
	p.Mutate(func(root *html.Node) {
		parent := htmlquery.FindOne(root, parentXPath)
		if parent == nil {
			err = fmt.Errorf("append target %q not found", parentXPath)
			return
		}
		var nodes []*html.Node
		nodes, err = html.ParseFragment(strings.NewReader(markup), parent)
		for _, n := range nodes {
			parent.AppendChild(n)
		}
	})
	return err
}

// SetBody replaces the body content and optionally the URL.
func (p *FakePage) SetBody(markup, url string) error {
	root, err := htmlquery.Parse(strings.NewReader("<html><body>" + markup + "</body></html>"))
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.root = root
	if url != "" {
		p.url = url
	}
	p.bumpLocked()
	p.mu.Unlock()
	return nil
}

// SetDocument replaces the whole document.
func (p *FakePage) SetDocument(doc, url string) error {
	root, err := htmlquery.Parse(strings.NewReader(doc))
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.root = root
	if url != "" {
		p.url = url
	}
	p.bumpLocked()
	p.mu.Unlock()
	return nil
}

// SetURL changes the reported URL.
func (p *FakePage) SetURL(url string) {
	p.mu.Lock()
	p.url = url
	p.mu.Unlock()
}

// Exists reports whether xpath matches in the live tree.
func (p *FakePage) Exists(xpath string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return htmlquery.FindOne(p.root, xpath) != nil
}

// Attr reads an attribute from the first match of xpath in the live tree.
func (p *FakePage) Attr(xpath, key string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := htmlquery.FindOne(p.root, xpath)
	if n == nil {
		return ""
	}
	return htmlquery.SelectAttr(n, key)
}

// Count returns how many elements xpath matches in the live tree.
func (p *FakePage) Count(xpath string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(htmlquery.Find(p.root, xpath))
}

func (p *FakePage) bumpLocked() {
	close(p.changed)
	p.changed = make(chan struct{})
}

// -- dom.Page --

func (p *FakePage) Snapshot(ctx context.Context) (*dom.Snapshot, error) {
	if err := p.check(ctx, "snapshot"); err != nil {
		return nil, err
	}
	p.mu.Lock()
	markup := htmlquery.OutputHTML(p.root, true)
	url := p.url
	p.mu.Unlock()
	return dom.ParseSnapshotString(markup, url)
}

func (p *FakePage) URL(ctx context.Context) (string, error) {
	if err := p.check(ctx, "url"); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, nil
}

func (p *FakePage) Fill(ctx context.Context, xpath, value string, focus bool) error {
	return p.write(ctx, "fill", xpath, value, func(n *html.Node) error {
		setAttr(n, "value", value)
		return nil
	}, nil)
}

func (p *FakePage) SetChecked(ctx context.Context, xpath string, checked bool) error {
	if err := p.check(ctx, "setChecked"); err != nil {
		return err
	}
	p.mu.Lock()
	n := htmlquery.FindOne(p.root, xpath)
	if n == nil {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", dom.ErrElementNotFound, xpath)
	}
	current := hasAttr(n, "checked")
	p.mu.Unlock()
	if current == checked {
		return nil
	}
	return p.Click(ctx, xpath)
}

func (p *FakePage) SelectOption(ctx context.Context, xpath, value string) error {
	return p.write(ctx, "select", xpath, value, func(n *html.Node) error {
		var target *html.Node
		for _, opt := range htmlquery.Find(n, ".//option") {
			v, ok := attrLookup(opt, "value")
			if !ok {
				v = strings.TrimSpace(htmlquery.InnerText(opt))
			}
			if v == value && target == nil {
				target = opt
			}
		}
		if target == nil {
			return fmt.Errorf("option %q not found", value)
		}
		for _, opt := range htmlquery.Find(n, ".//option") {
			removeAttr(opt, "selected")
		}
		setAttr(target, "selected", "")
		return nil
	}, nil)
}

func (p *FakePage) Click(ctx context.Context, xpath string) error {
	return p.write(ctx, "click", xpath, "", func(n *html.Node) error {
		if !strings.EqualFold(n.Data, "input") {
			return nil
		}
		switch strings.ToLower(htmlquery.SelectAttr(n, "type")) {
		case "checkbox":
			if hasAttr(n, "checked") {
				removeAttr(n, "checked")
			} else {
				setAttr(n, "checked", "")
			}
		case "radio":
			name := htmlquery.SelectAttr(n, "name")
			if name != "" {
				for _, other := range htmlquery.Find(p.root, "//input[@type='radio'][@name="+dom.Literal(name)+"]") {
					removeAttr(other, "checked")
				}
			}
			setAttr(n, "checked", "")
		}
		return nil
	}, p.clickHooks)
}

func (p *FakePage) Focus(ctx context.Context, xpath string) error {
	return p.write(ctx, "focus", xpath, "", nil, nil)
}

func (p *FakePage) PressKey(ctx context.Context, xpath, key string) error {
	p.mu.Lock()
	hooks := p.keyHooks[key]
	p.mu.Unlock()
	return p.write(ctx, "key", xpath, key, nil, hooks)
}

func (p *FakePage) TypeText(ctx context.Context, xpath, text string) error {
	return p.write(ctx, "type", xpath, text, func(n *html.Node) error {
		setAttr(n, "value", htmlquery.SelectAttr(n, "value")+text)
		return nil
	}, p.typeHooks)
}

func (p *FakePage) SetFiles(ctx context.Context, xpath string, files []string) error {
	joined := strings.Join(files, ",")
	return p.write(ctx, "files", xpath, joined, func(n *html.Node) error {
		setAttr(n, "data-files", joined)
		return nil
	}, p.fileHooks)
}

func (p *FakePage) Commit(ctx context.Context, xpath string) error {
	return p.write(ctx, "commit", xpath, "", nil, nil)
}

func (p *FakePage) Clear(ctx context.Context, xpath string) error {
	return p.write(ctx, "clear", xpath, "", func(n *html.Node) error {
		switch strings.ToLower(htmlquery.SelectAttr(n, "type")) {
		case "checkbox", "radio":
			removeAttr(n, "checked")
		default:
			setAttr(n, "value", "")
		}
		return nil
	}, nil)
}

func (p *FakePage) WaitForMutation(ctx context.Context, timeout time.Duration) (bool, error) {
	p.mu.Lock()
	ch := p.changed
	p.mu.Unlock()

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-ch:
		return true, nil
	case <-t.C:
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (p *FakePage) Navigate(ctx context.Context, url string) error {
	if err := p.record(ctx, "navigate", "", url); err != nil {
		return err
	}
	if p.OnNavigate != nil {
		p.OnNavigate(p, url)
	} else {
		p.SetURL(url)
	}
	return nil
}

func (p *FakePage) Reload(ctx context.Context) error {
	if err := p.record(ctx, "reload", "", ""); err != nil {
		return err
	}
	if p.OnReload != nil {
		p.OnReload(p)
	}
	return nil
}

func (p *FakePage) Back(ctx context.Context) error {
	if err := p.record(ctx, "back", "", ""); err != nil {
		return err
	}
	if p.OnBack != nil {
		p.OnBack(p)
	}
	return nil
}

func (p *FakePage) Evaluate(ctx context.Context, script string, out any) error {
	if err := p.record(ctx, "evaluate", "", script); err != nil {
		return err
	}
	if p.EvalFunc == nil {
		return dom.ErrNotSupported
	}
	return p.EvalFunc(script, out)
}

// -- internals --

func (p *FakePage) check(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fail[op]
}

func (p *FakePage) record(ctx context.Context, op, xpath, value string) error {
	if err := p.check(ctx, op); err != nil {
		return err
	}
	p.mu.Lock()
	p.calls = append(p.calls, Call{Op: op, XPath: xpath, Value: value})
	p.mu.Unlock()
	return nil
}

// write applies mutate to the node at xpath, records the call, signals a
// mutation, then runs matching hooks outside the lock.
func (p *FakePage) write(ctx context.Context, op, xpath, value string, mutate func(*html.Node) error, hooks []hook) error {
	if err := p.check(ctx, op); err != nil {
		return err
	}
	p.mu.Lock()
	n := htmlquery.FindOne(p.root, xpath)
	if n == nil {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", dom.ErrElementNotFound, xpath)
	}
	if mutate != nil {
		if err := mutate(n); err != nil {
			p.mu.Unlock()
			return err
		}
	}
	p.calls = append(p.calls, Call{Op: op, XPath: xpath, Value: value})
	if mutate != nil {
		p.bumpLocked()
	}
	var matched []Hook
	for _, h := range hooks {
		for _, m := range htmlquery.Find(p.root, h.match) {
			if m == n {
				matched = append(matched, h.fn)
				break
			}
		}
	}
	el := dom.NewElement(n)
	p.mu.Unlock()

	for _, fn := range matched {
		fn(p, el)
	}
	return nil
}

func attrLookup(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func hasAttr(n *html.Node, key string) bool {
	_, ok := attrLookup(n, key)
	return ok
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func removeAttr(n *html.Node, key string) {
	out := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Key != key {
			out = append(out, a)
		}
	}
	n.Attr = out
}
