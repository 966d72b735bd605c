package monitor

import (
	"encoding/hex"
	"strings"
	"unicode"

	"golang.org/x/crypto/blake2b"
)

// Normalize trims s and collapses every whitespace run to a single space, so
// re-copies that differ only in incidental whitespace compare equal.
func Normalize(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(s))

	space := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			if !space {
				b.WriteByte(' ')
				space = true
			}
			continue
		}
		space = false
		b.WriteRune(r)
	}
	return b.String()
}

// Signature identifies normalized text for duplicate detection.
type Signature [blake2b.Size256]byte

// Sign returns the signature of already-normalized text.
func Sign(normalized string) Signature {
	return blake2b.Sum256([]byte(normalized))
}

// String returns a short hex prefix for logs.
func (s Signature) String() string {
	return hex.EncodeToString(s[:6])
}
