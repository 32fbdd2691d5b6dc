// File: internal/browser/dom/validator.go
package dom

import (
	"regexp"
	"strings"
)

// Validator is a predicate over a snapshot element.
type Validator func(Element) bool

// Any matches when any of vs matches. With no validators it matches nothing.
func Any(vs ...Validator) Validator {
	return func(e Element) bool {
		for _, v := range vs {
			if v != nil && v(e) {
				return true
			}
		}
		return false
	}
}

// All matches when every validator matches.
func All(vs ...Validator) Validator {
	return func(e Element) bool {
		for _, v := range vs {
			if v == nil || !v(e) {
				return false
			}
		}
		return true
	}
}

func Not(v Validator) Validator {
	return func(e Element) bool { return !v(e) }
}

// Descendant matches elements that satisfy v themselves or contain a
// descendant that does.
func Descendant(v Validator) Validator {
	return func(e Element) bool {
		if v(e) {
			return true
		}
		for _, d := range e.queryRaw(".//*") {
			if v(d) {
				return true
			}
		}
		return false
	}
}

func TagIs(tags ...string) Validator {
	return func(e Element) bool {
		tag := e.Tag()
		for _, t := range tags {
			if tag == t {
				return true
			}
		}
		return false
	}
}

func InputTypeIs(types ...string) Validator {
	return func(e Element) bool {
		it := e.InputType()
		if it == "" {
			return false
		}
		for _, t := range types {
			if it == t {
				return true
			}
		}
		return false
	}
}

func RoleIs(roles ...string) Validator {
	return func(e Element) bool {
		r := e.Role()
		for _, want := range roles {
			if r == want {
				return true
			}
		}
		return false
	}
}

// AttrEquals matches an exact attribute value.
func AttrEquals(name, value string) Validator {
	return func(e Element) bool {
		v, ok := e.attrLookup(name)
		return ok && v == value
	}
}

// AttrPrefix matches attribute values starting with prefix.
func AttrPrefix(name, prefix string) Validator {
	return func(e Element) bool {
		v, ok := e.attrLookup(name)
		return ok && strings.HasPrefix(v, prefix)
	}
}

// AttrContains matches attribute values containing sub, case-insensitively.
func AttrContains(name, sub string) Validator {
	sub = strings.ToLower(sub)
	return func(e Element) bool {
		v, ok := e.attrLookup(name)
		return ok && strings.Contains(strings.ToLower(v), sub)
	}
}

// AttrMatches matches attribute values against a regular expression.
func AttrMatches(name string, re *regexp.Regexp) Validator {
	return func(e Element) bool {
		v, ok := e.attrLookup(name)
		return ok && re.MatchString(v)
	}
}

// AutomationID matches Workday's data-automation-id.
func AutomationID(id string) Validator { return AttrEquals("data-automation-id", id) }

// Visible matches elements that are not hidden.
func Visible(e Element) bool { return !e.Hidden() }

// Enabled matches elements that are not disabled.
func Enabled(e Element) bool { return !e.Disabled() }

// Connected matches elements that resolve to a node.
func Connected(e Element) bool { return e.Valid() }

// Fillable matches text-like inputs, textareas and contenteditables.
func Fillable(e Element) bool {
	switch e.Tag() {
	case "textarea":
		return true
	case "input":
		switch e.InputType() {
		case "hidden", "submit", "button", "reset", "image", "checkbox", "radio", "file":
			return false
		}
		return true
	}
	return e.IsContentEditable()
}

// SpinButton matches numeric steppers.
func SpinButton(e Element) bool {
	return e.Role() == "spinbutton" || e.InputType() == "number"
}

// ListboxTrigger matches buttons that open an ARIA listbox.
func ListboxTrigger(e Element) bool {
	return strings.EqualFold(e.Attr("aria-haspopup"), "listbox") ||
		(e.Tag() == "button" && e.Role() == "combobox")
}
