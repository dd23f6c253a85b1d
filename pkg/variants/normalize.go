package variants

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// NormalizeForAggregation canonicalizes text for reading comparison: NFD
// decomposition, strip combining marks, lowercase, collapse whitespace,
// remove punctuation. Two readings with equal NormalizeForAggregation output
// are treated as the same reading for support-set merging.
func NormalizeForAggregation(text string) string {
	decomposed := norm.NFD.String(text)

	stripped := make([]rune, 0, len(decomposed))
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue // strip combining marks (accents, breathing)
		}
		stripped = append(stripped, r)
	}

	var b strings.Builder
	b.Grow(len(decomposed))
	for i, r := range stripped {
		// A capital sigma ending a word lowercases to final sigma (ς).
		if r == 'Σ' && i > 0 && unicode.IsLetter(stripped[i-1]) && (i+1 == len(stripped) || !unicode.IsLetter(stripped[i+1])) {
			b.WriteRune('ς')
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}

	collapsed := collapseWhitespace(b.String())
	return stripPunctuation(collapsed)
}

// StripAccents removes combining marks only (no lowercasing, no punctuation
// stripping), used for theological-keyword matching against text that has
// already been through NormalizeForAggregation.
func StripAccents(text string) string {
	decomposed := norm.NFD.String(text)
	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func collapseWhitespace(s string) string {
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}

func stripPunctuation(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsPunct(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
