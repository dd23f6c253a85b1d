// Package spine declares the abstract spine-provider capability that the
// variant builder and pipeline orchestrator consume. Concrete providers
// (fixture-backed, installed-pack-backed) are narrow adapters behind this
// interface; ingest of any specific third-party file format is out of scope.
package spine

import "context"

// Token is an opaque-beyond-these-fields record for a single word position in
// a verse. Lemma/morph/pos are optional so fixture providers can omit them.
type Token struct {
	Position    int    `json:"position"`
	SurfaceText string `json:"surface_text"`
	Lemma       string `json:"lemma,omitempty"`
	Morph       string `json:"morph,omitempty"`
	POS         string `json:"pos,omitempty"`
}

// Provider is the capability set every spine implementation must offer.
type Provider interface {
	// GetVerseText returns the verse's full surface text.
	GetVerseText(ctx context.Context, ref string) (string, error)
	// GetVerseTokens returns the verse's tokenized form.
	GetVerseTokens(ctx context.Context, ref string) ([]Token, error)
	// HasVerse reports whether the provider has text for ref.
	HasVerse(ctx context.Context, ref string) (bool, error)
	// SourceKey identifies the provider/pack backing this text, used for
	// provenance attachment in TranslateResponse.
	SourceKey() string
}

// FixtureProvider is an in-memory Provider, used for tests and for installs
// that bundle their spine text directly as Go data rather than an
// installed-pack file tree.
type FixtureProvider struct {
	key    string
	verses map[string]string
}

// NewFixtureProvider builds a FixtureProvider from a ref->text map. Tokens are
// derived by naive whitespace splitting; fixture providers are for tests and
// for the "default spine" bootstrap, not for scholarly-grade tokenization.
func NewFixtureProvider(sourceKey string, verses map[string]string) *FixtureProvider {
	cp := make(map[string]string, len(verses))
	for k, v := range verses {
		cp[k] = v
	}
	return &FixtureProvider{key: sourceKey, verses: cp}
}

func (p *FixtureProvider) GetVerseText(_ context.Context, ref string) (string, error) {
	text, ok := p.verses[ref]
	if !ok {
		return "", ErrVerseNotFound(ref)
	}
	return text, nil
}

func (p *FixtureProvider) GetVerseTokens(ctx context.Context, ref string) ([]Token, error) {
	text, err := p.GetVerseText(ctx, ref)
	if err != nil {
		return nil, err
	}
	return tokenize(text), nil
}

func (p *FixtureProvider) HasVerse(_ context.Context, ref string) (bool, error) {
	_, ok := p.verses[ref]
	return ok, nil
}

func (p *FixtureProvider) SourceKey() string { return p.key }

func tokenize(text string) []Token {
	var tokens []Token
	pos := 0
	start := -1
	flush := func(end int) {
		if start >= 0 {
			tokens = append(tokens, Token{Position: pos, SurfaceText: text[start:end]})
			pos++
			start = -1
		}
	}
	for i, r := range text {
		if r == ' ' || r == '\t' || r == '\n' {
			flush(i)
		} else if start < 0 {
			start = i
		}
	}
	flush(len(text))
	return tokens
}

// VerseNotFoundError reports that a provider has no text for a requested ref.
type VerseNotFoundError struct{ Ref string }

func (e *VerseNotFoundError) Error() string { return "spine: verse not found: " + e.Ref }

// ErrVerseNotFound constructs a VerseNotFoundError.
func ErrVerseNotFound(ref string) error { return &VerseNotFoundError{Ref: ref} }
