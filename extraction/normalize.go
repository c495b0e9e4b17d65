package extraction

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeText returns the comparison form of s: NFC composed, whitespace runs
// collapsed to a single space, and trimmed.
func NormalizeText(s string) string {
	if s == "" {
		return ""
	}
	return strings.Join(strings.Fields(norm.NFC.String(s)), " ")
}

// DedupKey is the exact-dedup key for a quote: its normalized text, lower-cased.
func DedupKey(s string) string {
	return strings.ToLower(NormalizeText(s))
}
