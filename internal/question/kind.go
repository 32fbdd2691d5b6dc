// File: internal/question/kind.go
package question

import (
	"fmt"
	"strings"
)

// Kind is the widget type of a question, derived from its base field.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindText
	KindEmail
	KindNumber
	KindTel
	KindURL
	KindSearch
	KindPassword
	KindTextarea
	KindRadio
	KindCheckbox
	KindSelect
	KindMultiselect
	KindDropdown
	KindFile
	KindDate
	kindCount
)

var kindNames = [...]string{
	KindUnknown:     "unknown",
	KindText:        "text",
	KindEmail:       "email",
	KindNumber:      "number",
	KindTel:         "tel",
	KindURL:         "url",
	KindSearch:      "search",
	KindPassword:    "password",
	KindTextarea:    "textarea",
	KindRadio:       "radio",
	KindCheckbox:    "checkbox",
	KindSelect:      "select",
	KindMultiselect: "multiselect",
	KindDropdown:    "dropdown",
	KindFile:        "file",
	KindDate:        "date",
}

func (k Kind) String() string {
	if k >= kindCount {
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
	return kindNames[k]
}

// ParseKind maps a type name to its Kind. Unknown names return KindUnknown
// and false.
func ParseKind(s string) (Kind, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range kindNames {
		if name == s && Kind(i) != KindUnknown {
			return Kind(i), true
		}
	}
	return KindUnknown, false
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Kind) UnmarshalText(b []byte) error {
	parsed, ok := ParseKind(string(b))
	if !ok {
		return fmt.Errorf("unknown question type %q", string(b))
	}
	*k = parsed
	return nil
}

// IsTextual reports kinds filled by setting a string value.
func (k Kind) IsTextual() bool {
	switch k {
	case KindText, KindEmail, KindNumber, KindTel, KindURL, KindSearch, KindPassword, KindTextarea, KindDate:
		return true
	}
	return false
}

// IsSingleChoice reports kinds that select exactly one option.
func (k Kind) IsSingleChoice() bool {
	return k == KindRadio || k == KindSelect || k == KindDropdown
}

// TypeSet is a set of kinds, used by catalog entries that accept several.
type TypeSet uint32

// AnyType matches every kind.
const AnyType TypeSet = 1<<kindCount - 1

// Types builds a set from kinds.
func Types(kinds ...Kind) TypeSet {
	var s TypeSet
	for _, k := range kinds {
		s |= 1 << k
	}
	return s
}

// TextTypes is the set of textual kinds.
var TextTypes = Types(KindText, KindEmail, KindNumber, KindTel, KindURL, KindSearch, KindPassword, KindTextarea, KindDate)

func (s TypeSet) Has(k Kind) bool { return s&(1<<k) != 0 }

func (s TypeSet) String() string {
	var names []string
	for k := KindText; k < kindCount; k++ {
		if s.Has(k) {
			names = append(names, k.String())
		}
	}
	return strings.Join(names, "|")
}
