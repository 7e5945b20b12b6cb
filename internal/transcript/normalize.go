package transcript

import (
	"strings"
	"unicode"
)

// Normalize canonicalizes text for comparison: lower-cased, everything except
// word characters, whitespace and '?' dropped, whitespace runs collapsed to a
// single space, and trimmed. Normalize(Normalize(s)) == Normalize(s).
func Normalize(s string) string {
	if s == "" {
		return ""
	}
	lower := strings.ToLower(s)

	var b strings.Builder
	b.Grow(len(lower))
	pendingSpace := false
	for _, r := range lower {
		switch {
		case unicode.IsSpace(r):
			pendingSpace = true
		case isWordRune(r) || r == '?':
			if pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pendingSpace = false
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isWordRune(r rune) bool {
	if r == unicode.ReplacementChar {
		return false
	}
	return r == '_' || unicode.IsLetter(r) || unicode.IsNumber(r)
}

// Tokens returns the space separated words of the normalized text.
func Tokens(s string) []string {
	return strings.Fields(Normalize(s))
}
