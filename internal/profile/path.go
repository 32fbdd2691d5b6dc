// File: internal/profile/path.go
package profile

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"
)

var (
	// ErrInvalidPath reports a path string that does not follow the grammar.
	ErrInvalidPath = errors.New("invalid profile path")
	// ErrPathNotFound reports a well-formed path with no value behind it.
	ErrPathNotFound = errors.New("profile path not found")
)

// Segment is one step of a Path: a named key or a list index.
type Segment struct {
	Key     string
	Index   int
	IsIndex bool
}

// Path is a parsed profile path. Grammar:
//
//	path    = key { "." key | "[" index "]" | "[" key "]" }
//	key     = 1*( any char except ".[]" )
//	index   = 1*DIGIT
type Path []Segment

// ParsePath parses strings such as "workExperiences[0].company" or
// "work[experience][0].title".
func ParsePath(s string) (Path, error) {
	if strings.TrimSpace(s) == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidPath)
	}
	var (
		path Path
		buf  strings.Builder
	)
	flushKey := func() {
		if buf.Len() > 0 {
			path = append(path, Segment{Key: buf.String()})
			buf.Reset()
		}
	}
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '.':
			if buf.Len() == 0 && (i == 0 || s[i-1] != ']') {
				return nil, fmt.Errorf("%w: empty key in %q", ErrInvalidPath, s)
			}
			flushKey()
		case '[':
			flushKey()
			end := strings.IndexByte(s[i:], ']')
			if end < 0 {
				return nil, fmt.Errorf("%w: unclosed bracket in %q", ErrInvalidPath, s)
			}
			inner := s[i+1 : i+end]
			if inner == "" {
				return nil, fmt.Errorf("%w: empty brackets in %q", ErrInvalidPath, s)
			}
			if n, err := strconv.Atoi(inner); err == nil {
				if n < 0 {
					return nil, fmt.Errorf("%w: negative index in %q", ErrInvalidPath, s)
				}
				path = append(path, Segment{Index: n, IsIndex: true})
			} else {
				path = append(path, Segment{Key: inner})
			}
			i += end
		case ']':
			return nil, fmt.Errorf("%w: stray ']' in %q", ErrInvalidPath, s)
		default:
			buf.WriteByte(c)
		}
	}
	if strings.HasSuffix(s, ".") {
		return nil, fmt.Errorf("%w: trailing '.' in %q", ErrInvalidPath, s)
	}
	flushKey()
	if len(path) == 0 || path[0].IsIndex {
		return nil, fmt.Errorf("%w: path must start with a key: %q", ErrInvalidPath, s)
	}
	return path, nil
}

// MustParsePath is ParsePath for static catalog paths.
func MustParsePath(s string) Path {
	p, err := ParsePath(s)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Path) String() string {
	var b strings.Builder
	for i, seg := range p {
		if seg.IsIndex {
			fmt.Fprintf(&b, "[%d]", seg.Index)
			continue
		}
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(seg.Key)
	}
	return b.String()
}

// Root returns the first key of the path.
func (p Path) Root() string {
	if len(p) == 0 {
		return ""
	}
	return p[0].Key
}

// FirstIndex returns the first list index in the path, used to tie an answer
// to a repeatable sub-form container.
func (p Path) FirstIndex() (int, bool) {
	for _, seg := range p {
		if seg.IsIndex {
			return seg.Index, true
		}
	}
	return 0, false
}

// Lookup evaluates path against the profile. It never creates intermediate
// values: nil pointers, missing map keys and out-of-range indices yield
// ErrPathNotFound.
func (p *Profile) Lookup(path Path) (any, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: nil profile", ErrPathNotFound)
	}
	v := reflect.ValueOf(*p)
	for i, seg := range path {
		v = indirect(v)
		if !v.IsValid() {
			return nil, notFound(path, i)
		}
		if seg.IsIndex {
			if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
				return nil, notFound(path, i)
			}
			if seg.Index >= v.Len() {
				return nil, notFound(path, i)
			}
			v = v.Index(seg.Index)
			continue
		}
		switch v.Kind() {
		case reflect.Struct:
			idx, ok := fieldIndex(v.Type(), seg.Key)
			if !ok {
				return nil, notFound(path, i)
			}
			v = v.Field(idx)
		case reflect.Map:
			if v.Type().Key().Kind() != reflect.String {
				return nil, notFound(path, i)
			}
			mv := v.MapIndex(reflect.ValueOf(seg.Key).Convert(v.Type().Key()))
			if !mv.IsValid() {
				return nil, notFound(path, i)
			}
			v = mv
		default:
			return nil, notFound(path, i)
		}
	}
	v = indirect(v)
	if !v.IsValid() {
		return nil, notFound(path, len(path)-1)
	}
	return v.Interface(), nil
}

// LookupString parses and evaluates s in one step.
func (p *Profile) LookupString(s string) (any, error) {
	path, err := ParsePath(s)
	if err != nil {
		return nil, err
	}
	return p.Lookup(path)
}

// Get is LookupString with a fallback for missing or malformed paths.
func (p *Profile) Get(s string, fallback any) any {
	v, err := p.LookupString(s)
	if err != nil {
		return fallback
	}
	return v
}

func notFound(path Path, at int) error {
	return fmt.Errorf("%w: %s (at segment %d)", ErrPathNotFound, path, at)
}

func indirect(v reflect.Value) reflect.Value {
	for v.IsValid() && (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

// fieldCache maps a struct type to its json-name -> field index table.
var fieldCache sync.Map

func fieldIndex(t reflect.Type, name string) (int, bool) {
	cached, ok := fieldCache.Load(t)
	if !ok {
		table := make(map[string]int, t.NumField())
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}
			tag := strings.Split(f.Tag.Get("json"), ",")[0]
			switch tag {
			case "-":
				continue
			case "":
				tag = f.Name
			}
			table[tag] = i
		}
		cached, _ = fieldCache.LoadOrStore(t, table)
	}
	idx, ok := cached.(map[string]int)[name]
	return idx, ok
}
