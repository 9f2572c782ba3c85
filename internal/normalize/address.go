// Package normalize canonicalizes free-text donor fields for equality checks.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Address folds a street address so that spellings differing only in case,
// punctuation, whitespace, or diacritics compare equal:
//
//	"1400 Crystal City Dr." -> "1400crystalcitydr"
//	"12 Rue Émile-Zola"     -> "12rueemilezola"
//
// Empty input yields empty output. Callers must not treat two empty results
// as a match.
func Address(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}

	// Transformers carry state, so build a fresh chain per call.
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, raw)
	if err != nil {
		folded = raw
	}

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range strings.ToLower(folded) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
