package pipeline

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Angelice80/redletters/pkg/errs"
)

// bookAliases maps case-insensitive abbreviations to canonical book names.
// Only a representative subset is carried; installed spine packs are free to
// recognize additional book names not listed here.
var bookAliases = map[string]string{
	"jn":    "John",
	"john":  "John",
	"mt":    "Matthew",
	"matt":  "Matthew",
	"mk":    "Mark",
	"mark":  "Mark",
	"lk":    "Luke",
	"luke":  "Luke",
	"rom":   "Romans",
	"1cor":  "1Corinthians",
	"2cor":  "2Corinthians",
	"gal":   "Galatians",
	"eph":   "Ephesians",
	"phil":  "Philippians",
	"col":   "Colossians",
	"heb":   "Hebrews",
	"jas":   "James",
	"rev":   "Revelation",
}

// ParsedRef is a resolved passage reference.
type ParsedRef struct {
	Book         string
	StartChapter int
	StartVerse   int
	EndChapter   int
	EndVerse     int
	VerseIDs     []string
	NormalizedRef string
}

// ParseReference accepts "Book C:V", "Book C:V-V2" (hyphen or en-dash), and
// canonical "Book.Chapter.Verse" ranges ("Book.C.V-Book.C.V2"), resolving
// book aliases case-insensitively.
func ParseReference(raw string) (*ParsedRef, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errs.BadReference(raw)
	}

	if strings.Contains(raw, ".") {
		return parseCanonicalRef(raw)
	}
	return parseHumanRef(raw)
}

func parseHumanRef(raw string) (*ParsedRef, error) {
	lastSpace := strings.LastIndex(raw, " ")
	if lastSpace < 0 {
		return nil, errs.BadReference(raw)
	}
	bookPart := strings.TrimSpace(raw[:lastSpace])
	rest := strings.TrimSpace(raw[lastSpace+1:])

	book := resolveBook(bookPart)
	if book == "" {
		return nil, errs.BadReference(raw)
	}

	rest = strings.ReplaceAll(rest, "–", "-")
	colonIdx := strings.Index(rest, ":")
	if colonIdx < 0 {
		return nil, errs.BadReference(raw)
	}
	chapterStr := rest[:colonIdx]
	versePart := rest[colonIdx+1:]

	chapter, err := strconv.Atoi(chapterStr)
	if err != nil {
		return nil, errs.BadReference(raw)
	}

	startVerse, endVerse, err := parseVerseSpan(versePart)
	if err != nil {
		return nil, errs.BadReference(raw)
	}

	return buildParsedRef(book, chapter, startVerse, chapter, endVerse, raw)
}

func parseVerseSpan(s string) (start, end int, err error) {
	if dash := strings.Index(s, "-"); dash >= 0 {
		start, err = strconv.Atoi(strings.TrimSpace(s[:dash]))
		if err != nil {
			return 0, 0, err
		}
		end, err = strconv.Atoi(strings.TrimSpace(s[dash+1:]))
		if err != nil {
			return 0, 0, err
		}
		return start, end, nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, 0, err
	}
	return v, v, nil
}

func parseCanonicalRef(raw string) (*ParsedRef, error) {
	raw = strings.ReplaceAll(raw, "–", "-")
	parts := strings.SplitN(raw, "-", 2)
	startID, err := splitCanonicalVerse(parts[0])
	if err != nil {
		return nil, errs.BadReference(raw)
	}
	if len(parts) == 1 {
		return buildParsedRef(startID.book, startID.chapter, startID.verse, startID.chapter, startID.verse, raw)
	}
	endID, err := splitCanonicalVerse(parts[1])
	if err != nil {
		return nil, errs.BadReference(raw)
	}
	if endID.book == "" {
		endID.book = startID.book
	}
	if endID.book != startID.book {
		return nil, errs.BadReference(raw)
	}
	return buildParsedRef(startID.book, startID.chapter, startID.verse, endID.chapter, endID.verse, raw)
}

type canonicalParts struct {
	book    string
	chapter int
	verse   int
}

func splitCanonicalVerse(s string) (canonicalParts, error) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) != 3 {
		return canonicalParts{}, fmt.Errorf("expected Book.Chapter.Verse, got %q", s)
	}
	ch, err := strconv.Atoi(parts[1])
	if err != nil {
		return canonicalParts{}, err
	}
	v, err := strconv.Atoi(parts[2])
	if err != nil {
		return canonicalParts{}, err
	}
	book := resolveBook(parts[0])
	if book == "" {
		return canonicalParts{}, fmt.Errorf("unrecognized book %q", parts[0])
	}
	return canonicalParts{book: book, chapter: ch, verse: v}, nil
}

func resolveBook(s string) string {
	key := strings.ToLower(strings.TrimSpace(s))
	if canonical, ok := bookAliases[key]; ok {
		return canonical
	}
	if s != "" {
		return strings.TrimSpace(s)
	}
	return ""
}

func buildParsedRef(book string, startCh, startV, endCh, endV int, raw string) (*ParsedRef, error) {
	if startCh <= 0 || startV <= 0 || endCh <= 0 || endV <= 0 {
		return nil, errs.BadReference(raw)
	}
	// Ranges span verses within one chapter; verse counts differ per chapter
	// so a cross-chapter span cannot be enumerated without consulting a spine.
	if endCh != startCh || endV < startV {
		return nil, errs.BadReference(raw)
	}

	var verseIDs []string
	for v := startV; v <= endV; v++ {
		verseIDs = append(verseIDs, fmt.Sprintf("%s.%d.%d", book, startCh, v))
	}

	normalized := verseIDs[0]
	if len(verseIDs) > 1 {
		normalized = verseIDs[0] + "-" + verseIDs[len(verseIDs)-1]
	}

	return &ParsedRef{
		Book:          book,
		StartChapter:  startCh,
		StartVerse:    startV,
		EndChapter:    endCh,
		EndVerse:      endV,
		VerseIDs:      verseIDs,
		NormalizedRef: normalized,
	}, nil
}
