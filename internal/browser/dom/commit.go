// File: internal/browser/dom/commit.go
package dom

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// commitMu serializes commit sweeps; concurrent sweeps fight over focus.
var commitMu sync.Mutex

// CommitStrategy delivers an element's current value to the host
// framework's state model.
type CommitStrategy interface {
	Commit(ctx context.Context, page Page, snap *Snapshot, el Element) error
}

// FocusOutCommit dispatches focusout and blur. For a listbox trigger whose
// listbox is open it focuses the active option and presses Tab instead.
type FocusOutCommit struct{}

func (FocusOutCommit) Commit(ctx context.Context, page Page, snap *Snapshot, el Element) error {
	if ListboxTrigger(el) && el.Attr("aria-expanded") == "true" {
		if opt, ok := activeOption(snap, el); ok {
			if err := page.Focus(ctx, opt.XPath); err != nil {
				return err
			}
			return page.PressKey(ctx, opt.XPath, "Tab")
		}
	}
	return page.Commit(ctx, el.XPath)
}

func activeOption(snap *Snapshot, trigger Element) (Element, bool) {
	if id := trigger.Attr("aria-activedescendant"); id != "" {
		if opt, ok := snap.Find("//*[@id=" + xpathLiteral(id) + "]"); ok {
			return opt, true
		}
	}
	for _, ref := range []string{trigger.Attr("aria-controls"), trigger.Attr("aria-owns")} {
		if ref == "" {
			continue
		}
		if opt, ok := snap.Find("//*[@id=" + xpathLiteral(ref) + "]//*[@role='option'][@aria-selected='true']"); ok {
			return opt, true
		}
	}
	return snap.Find("//*[@role='listbox']//*[@role='option'][@aria-selected='true']")
}

func hasValue(el Element) bool {
	switch {
	case ListboxTrigger(el):
		t := strings.TrimSpace(el.Text())
		return t != "" && !strings.EqualFold(t, "select one")
	case el.IsContentEditable():
		return el.Text() != ""
	}
	return el.Value() != ""
}

// ForceCommitFields walks selectors and commits each element that currently
// holds a value. A nil strategy means FocusOutCommit. Per-element failures
// are logged and skipped.
func ForceCommitFields(ctx context.Context, page Page, selectors []string, strategy CommitStrategy, logger *zap.Logger) (int, error) {
	commitMu.Lock()
	defer commitMu.Unlock()

	if strategy == nil {
		strategy = FocusOutCommit{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	snap, err := page.Snapshot(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to snapshot before commit: %w", err)
	}

	committed := 0
	seen := make(map[string]bool)
	for _, sel := range selectors {
		for _, el := range snap.FindAll(sel) {
			if seen[el.XPath] || !hasValue(el) {
				continue
			}
			seen[el.XPath] = true
			if err := ctx.Err(); err != nil {
				return committed, err
			}
			if err := strategy.Commit(ctx, page, snap, el); err != nil {
				logger.Debug("Commit failed", zap.String("xpath", el.XPath), zap.Error(err))
				continue
			}
			committed++
		}
	}
	return committed, nil
}

// CommitSelectors are the field families swept after the engine loop.
var CommitSelectors = []string{
	"//*[@role='spinbutton']",
	"//input[@type='number']",
	"//input[not(@type) or @type='text' or @type='email' or @type='tel' or @type='url' or @type='search']",
	"//textarea",
	"//*[@contenteditable='true' or @contenteditable='']",
	"//button[@aria-haspopup='listbox']",
}

// ClearFields empties each element. Checkboxes and radios that are already
// unchecked are left alone.
func ClearFields(ctx context.Context, page Page, els []Element) error {
	for _, el := range els {
		if t := el.InputType(); (t == "checkbox" || t == "radio") && !el.Checked() {
			continue
		}
		if err := page.Clear(ctx, el.XPath); err != nil {
			return fmt.Errorf("failed to clear %s: %w", el.XPath, err)
		}
	}
	return nil
}

// Click clicks el and reports whether it existed.
func Click(ctx context.Context, page Page, el Element) bool {
	if !el.Valid() {
		return false
	}
	return page.Click(ctx, el.XPath) == nil
}

// ClickAll clicks every element and returns how many clicks landed.
func ClickAll(ctx context.Context, page Page, els []Element) int {
	n := 0
	for _, el := range els {
		if Click(ctx, page, el) {
			n++
		}
	}
	return n
}
