// File: internal/browser/dom/fingerprint.go
package dom

import (
	"hash"
	"hash/fnv"
	"strconv"
	"strings"
	"sync"
)

var hasherPool = sync.Pool{
	New: func() interface{} { return fnv.New64a() },
}

// fingerprintAttrs are the attributes that identify a field across
// re-renders. Values and checked state are left out so filling a field does
// not change its identity.
var fingerprintAttrs = []string{"id", "name", "type", "role", "data-automation-id", "data-qa", "aria-label"}

// Fingerprint derives a stable question identity from its label and fields.
func Fingerprint(label string, fields []Element) string {
	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(label))
	for _, f := range fields {
		sb.WriteString("|")
		sb.WriteString(f.Tag())
		for _, attr := range fingerprintAttrs {
			if v := f.Attr(attr); v != "" {
				sb.WriteString("[" + attr + "=" + v + "]")
			}
		}
		sb.WriteString("@" + f.XPath)
	}

	hasher := hasherPool.Get().(hash.Hash64)
	defer func() {
		hasher.Reset()
		hasherPool.Put(hasher)
	}()

	_, _ = hasher.Write([]byte(sb.String()))
	return strconv.FormatUint(hasher.Sum64(), 16)
}
