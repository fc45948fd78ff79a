// Package utils holds small helpers shared across image-sorter packages.
package utils

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultLogLength is the length at which SanitizeForLog truncates.
const DefaultLogLength = 100

// SanitizeForLog makes a user- or model-supplied string safe to embed in a
// single log line. Line breaks and tabs are escaped, other control and
// non-printable characters become '?', and backslashes are doubled so that
// escapes cannot be forged. The result is truncated to DefaultLogLength runes.
func SanitizeForLog(s string) string {
	return SanitizeForLogN(s, DefaultLogLength)
}

// SanitizeForLogN is SanitizeForLog with an explicit rune limit. A limit of
// zero or less disables truncation.
func SanitizeForLogN(s string, limit int) string {
	if s == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(s))
	runes := 0
	for _, r := range s {
		if limit > 0 && runes >= limit {
			b.WriteString("...[truncated]")
			break
		}
		runes++
		switch {
		case r == '\n':
			b.WriteString(`\n`)
		case r == '\r':
			b.WriteString(`\r`)
		case r == '\t':
			b.WriteString(`\t`)
		case r == '\\':
			b.WriteString(`\\`)
		case r == utf8.RuneError, unicode.IsControl(r), !unicode.IsPrint(r):
			b.WriteByte('?')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
