package variants

import (
	"fmt"
	"strings"
)

// theologicalTerms is the fixed, accent-stripped set of theological keywords
// whose presence/absence between spine and alternate readings forces major
// significance.
var theologicalTerms = map[string]string{
	"θεος": "God", "θεου": "God", "θεον": "God", "θεω": "God",
	"χριστος": "Christ", "χριστου": "Christ", "χριστον": "Christ",
	"ιησους": "Jesus", "ιησου": "Jesus", "ιησουν": "Jesus",
	"κυριος": "Lord", "κυριου": "Lord", "κυριον": "Lord",
	"πνευμα": "Spirit", "πνευματος": "Spirit",
	"υιος": "Son", "υιου": "Son", "υιον": "Son",
	"πατηρ": "Father", "πατρος": "Father",
	"μονογενης": "only-begotten",
	"αμαρτια":   "sin", "αμαρτιας": "sin",
	"πιστις": "faith", "πιστεως": "faith",
}

// functionWords are Greek articles and particles ignored when distinguishing
// a real lexical change from a mere function-word variation.
var functionWords = map[string]bool{
	"ο": true, "η": true, "το": true, "τον": true, "την": true,
	"του": true, "της": true, "τω": true, "τη": true,
	"και": true, "δε": true, "γαρ": true, "αλλα": true, "ουν": true, "τε": true,
}

// ClassifyVariant classifies the kind of textual variation between a spine
// reading and its alternates: word-count delta determines omission/addition,
// equal multisets are word_order, high similarity with zero delta is
// spelling, else substitution.
func ClassifyVariant(spineNormalized string, alternateNormalized []string) Classification {
	spineWords := strings.Fields(spineNormalized)

	for _, altNorm := range alternateNormalized {
		altWords := strings.Fields(altNorm)
		delta := len(spineWords) - len(altWords)

		switch {
		case delta > 2:
			return ClassificationOmission
		case delta < -2:
			return ClassificationAddition
		case delta != 0:
			common := intersectionSize(spineWords, altWords)
			if float64(common) > float64(len(spineWords))*0.7 {
				if delta > 0 {
					return ClassificationOmission
				}
				return ClassificationAddition
			}
			return ClassificationSubstitution
		default:
			if sameMultiset(spineWords, altWords) {
				return ClassificationWordOrder
			}
			if similarityRatio(spineNormalized, altNorm) > 0.9 {
				return ClassificationSpelling
			}
			return ClassificationSubstitution
		}
	}
	return ClassificationSubstitution
}

// DetermineSignificance applies first-match-wins rules to rate the
// editorial weight of a variant.
func DetermineSignificance(spineNormalized string, alternateNormalized []string, classification Classification) Significance {
	spineStripped := StripAccents(spineNormalized)
	for _, altNorm := range alternateNormalized {
		altStripped := StripAccents(altNorm)
		for term := range theologicalTerms {
			if strings.Contains(spineStripped, term) != strings.Contains(altStripped, term) {
				return SignificanceMajor
			}
		}
	}

	if classification == ClassificationSpelling {
		return SignificanceTrivial
	}
	if classification == ClassificationWordOrder {
		return SignificanceMinor
	}

	spineWords := strings.Fields(spineNormalized)
	maxDiff := 0
	for _, altNorm := range alternateNormalized {
		altWords := strings.Fields(altNorm)
		d := abs(len(spineWords) - len(altWords))
		if d > maxDiff {
			maxDiff = d
		}
	}

	if maxDiff >= 3 {
		return SignificanceSignificant
	}
	if classification == ClassificationOmission || classification == ClassificationAddition {
		if maxDiff >= 2 {
			return SignificanceSignificant
		}
		return SignificanceMinor
	}
	return SignificanceMinor
}

// ClassifyReason produces the short {code, summary, detail} explanation for
// a variant, evaluated in the same priority order as significance.
func ClassifyReason(spineNormalized string, alternateNormalized []string, classification Classification) Reason {
	spineStripped := StripAccents(spineNormalized)
	for _, altNorm := range alternateNormalized {
		altStripped := StripAccents(altNorm)
		for term, meaning := range theologicalTerms {
			inSpine := strings.Contains(spineStripped, term)
			inAlt := strings.Contains(altStripped, term)
			if inSpine != inAlt {
				if inSpine {
					return Reason{
						Code:    "theological_keyword",
						Summary: fmt.Sprintf("Theological term change (%s)", meaning),
						Detail:  fmt.Sprintf("Spine has %q (%s), alternate does not", term, meaning),
					}
				}
				return Reason{
					Code:    "theological_keyword",
					Summary: fmt.Sprintf("Theological term change (%s)", meaning),
					Detail:  fmt.Sprintf("Alternate has %q (%s), spine does not", term, meaning),
				}
			}
		}
	}

	spineWordSet := wordSet(StripAccents(spineNormalized))
	for _, altNorm := range alternateNormalized {
		altWordSet := wordSet(StripAccents(altNorm))
		diff := symmetricDifference(spineWordSet, altWordSet)
		if len(diff) > 0 && allFunctionWords(diff) {
			return Reason{
				Code:    "article_particle",
				Summary: "Function word variation",
				Detail:  fmt.Sprintf("Difference in: %s", strings.Join(diff, ", ")),
			}
		}
	}

	switch classification {
	case ClassificationWordOrder:
		return Reason{Code: "word_order", Summary: "Word order difference", Detail: "Same words in different order"}
	case ClassificationSpelling:
		return Reason{Code: "spelling", Summary: "Spelling variation", Detail: "Orthographic difference only"}
	case ClassificationOmission:
		return Reason{Code: "omission", Summary: "Text omission", Detail: "Words present in one reading but not the other"}
	case ClassificationAddition:
		return Reason{Code: "addition", Summary: "Text addition", Detail: "Additional words in one reading"}
	default:
		return Reason{Code: "lexical", Summary: "Lexical variation", Detail: "Different word choice"}
	}
}

func intersectionSize(a, b []string) int {
	set := make(map[string]bool, len(a))
	for _, w := range a {
		set[w] = true
	}
	n := 0
	seen := make(map[string]bool)
	for _, w := range b {
		if set[w] && !seen[w] {
			n++
			seen[w] = true
		}
	}
	return n
}

func sameMultiset(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	counts := make(map[string]int, len(a))
	for _, w := range a {
		counts[w]++
	}
	for _, w := range b {
		counts[w]--
	}
	for _, c := range counts {
		if c != 0 {
			return false
		}
	}
	return true
}

func wordSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(s) {
		set[w] = true
	}
	return set
}

func symmetricDifference(a, b map[string]bool) []string {
	var out []string
	for w := range a {
		if !b[w] {
			out = append(out, w)
		}
	}
	for w := range b {
		if !a[w] {
			out = append(out, w)
		}
	}
	return out
}

func allFunctionWords(words []string) bool {
	for _, w := range words {
		if !functionWords[w] {
			return false
		}
	}
	return true
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// similarityRatio is a SequenceMatcher-analog: 2*M / T where M is the number
// of matching characters found by a greedy longest-common-substring sweep and
// T is the combined length of both strings. This mirrors Python's
// difflib.SequenceMatcher.ratio() closely enough for the >0.9 threshold used
// to detect spelling-only variation.
func similarityRatio(a, b string) float64 {
	if a == "" && b == "" {
		return 1.0
	}
	matches := matchingCharacters(a, b)
	return 2.0 * float64(matches) / float64(len(a)+len(b))
}

// matchingCharacters recursively finds the longest matching block between a
// and b, then recurses on the left and right remainders, summing match
// lengths — the same divide-and-conquer approach SequenceMatcher uses.
func matchingCharacters(a, b string) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	ai, bi, size := longestCommonSubstring(a, b)
	if size == 0 {
		return 0
	}
	left := matchingCharacters(a[:ai], b[:bi])
	right := matchingCharacters(a[ai+size:], b[bi+size:])
	return size + left + right
}

func longestCommonSubstring(a, b string) (aStart, bStart, length int) {
	runesA := []rune(a)
	runesB := []rune(b)
	na, nb := len(runesA), len(runesB)
	if na == 0 || nb == 0 {
		return 0, 0, 0
	}

	prev := make([]int, nb+1)
	cur := make([]int, nb+1)
	bestLen, bestAEndRune, bestBEndRune := 0, 0, 0

	for i := 1; i <= na; i++ {
		for j := 1; j <= nb; j++ {
			if runesA[i-1] == runesB[j-1] {
				cur[j] = prev[j-1] + 1
				if cur[j] > bestLen {
					bestLen = cur[j]
					bestAEndRune = i
					bestBEndRune = j
				}
			} else {
				cur[j] = 0
			}
		}
		prev, cur = cur, prev
		for j := range cur {
			cur[j] = 0
		}
	}

	if bestLen == 0 {
		return 0, 0, 0
	}
	aStartRune := bestAEndRune - bestLen
	bStartRune := bestBEndRune - bestLen
	aStart = len(string(runesA[:aStartRune]))
	bStart = len(string(runesB[:bStartRune]))
	length = len(string(runesA[aStartRune:bestAEndRune]))
	return aStart, bStart, length
}
