// Package ids provides the identifier primitives shared across every
// redletters component: VerseID parsing/formatting and colon-joined stable
// IDs built from tuples of values.
package ids

import (
	"fmt"
	"strconv"
	"strings"
)

// VerseID is the canonical "Book.Chapter.Verse" cross-component reference,
// e.g. "John.1.18".
type VerseID struct {
	Book    string
	Chapter int
	Verse   int
}

// String renders the canonical Book.Chapter.Verse form.
func (v VerseID) String() string {
	return fmt.Sprintf("%s.%d.%d", v.Book, v.Chapter, v.Verse)
}

// ParseVerseID parses the canonical "Book.Chapter.Verse" form. It does not
// perform book-alias resolution; callers needing abbreviated-name support use
// pkg/pipeline's reference parser first.
func ParseVerseID(s string) (VerseID, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return VerseID{}, fmt.Errorf("ids: invalid verse id %q: expected Book.Chapter.Verse", s)
	}
	chapter, err := strconv.Atoi(parts[1])
	if err != nil {
		return VerseID{}, fmt.Errorf("ids: invalid chapter in %q: %w", s, err)
	}
	verse, err := strconv.Atoi(parts[2])
	if err != nil {
		return VerseID{}, fmt.Errorf("ids: invalid verse in %q: %w", s, err)
	}
	if parts[0] == "" {
		return VerseID{}, fmt.Errorf("ids: invalid verse id %q: empty book", s)
	}
	return VerseID{Book: parts[0], Chapter: chapter, Verse: verse}, nil
}

// StableID joins a tuple of values into a colon-separated stable identifier.
// Every value is rendered with fmt.Sprint, so callers should pass
// already-canonical string/int representations.
func StableID(parts ...interface{}) string {
	s := make([]string, len(parts))
	for i, p := range parts {
		s[i] = fmt.Sprint(p)
	}
	return strings.Join(s, ":")
}
