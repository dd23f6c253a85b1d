package pipeline

import "strings"

// basicGlosses is a small Greek-to-English gloss table used when no richer
// lexicon pack is installed; it exists to exercise LiteralTranslator in
// tests and as a default fallback, not as a scholarly lexicon.
var basicGlosses = map[string]string{
	"θεος":    "God",
	"κυριος":  "Lord",
	"ιησους":  "Jesus",
	"χριστος": "Christ",
	"πνευμα":  "spirit",
	"λογος":   "word",
	"ανθρωπος": "man",
	"υιος":    "son",
	"πατηρ":   "father",
	"κοσμος":  "world",
	"ζωη":     "life",
	"αγαπη":   "love",
	"αληθεια": "truth",
	"φως":     "light",
	"εν":      "in",
	"και":     "and",
	"ο":       "the",
	"η":       "the",
	"το":      "the",
}

// LiteralTranslator renders a word-for-word gloss, assigning every produced
// claim a low type (well within readable mode's allowance) since it makes
// no interpretive leaps beyond dictionary lookup.
type LiteralTranslator struct{}

// Translate implements Translator with a deterministic token-level gloss.
// It carries no claim-taxonomy or confidence-scoring sophistication — those
// formulas belong to a richer strategy plugged in at the same interface.
func (LiteralTranslator) Translate(spineText string, tctx TranslationContext) (TranslationOutput, error) {
	var b strings.Builder
	words := strings.Fields(spineText)
	for i, w := range words {
		if i > 0 {
			b.WriteByte(' ')
		}
		key := strings.ToLower(strings.Trim(w, ".,;·"))
		if gloss, ok := basicGlosses[key]; ok {
			b.WriteString(gloss)
		} else {
			b.WriteString(w)
		}
	}

	var claims []Claim
	for verseID := range tctx.Tokens {
		claims = append(claims, Claim{
			Type:        1,
			VerseID:     verseID,
			Description: "literal gloss",
			Detail:      "word-for-word dictionary substitution, no syntactic reordering",
		})
	}

	return TranslationOutput{
		CombinedText: b.String(),
		Claims:       claims,
		Confidence: Confidence{
			Textual:      1.0,
			Grammatical:  0.5,
			Lexical:      0.6,
			Interpretive: 0.1,
		},
	}, nil
}
