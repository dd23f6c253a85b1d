package spine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixtureProvider_VerseLookup(t *testing.T) {
	ctx := context.Background()
	p := NewFixtureProvider("fixture", map[string]string{
		"John.1.18": "μονογενης θεος",
	})

	text, err := p.GetVerseText(ctx, "John.1.18")
	require.NoError(t, err)
	assert.Equal(t, "μονογενης θεος", text)

	ok, err := p.HasVerse(ctx, "John.1.18")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = p.HasVerse(ctx, "John.1.19")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, "fixture", p.SourceKey())
}

func TestFixtureProvider_VerseNotFound(t *testing.T) {
	p := NewFixtureProvider("fixture", nil)
	_, err := p.GetVerseText(context.Background(), "John.1.18")
	require.Error(t, err)
	var nf *VerseNotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "John.1.18", nf.Ref)
}

func TestFixtureProvider_TokenizesByWhitespace(t *testing.T) {
	p := NewFixtureProvider("fixture", map[string]string{
		"John.1.1": "εν αρχη ην ο λογος",
	})
	tokens, err := p.GetVerseTokens(context.Background(), "John.1.1")
	require.NoError(t, err)
	require.Len(t, tokens, 5)
	assert.Equal(t, 0, tokens[0].Position)
	assert.Equal(t, "εν", tokens[0].SurfaceText)
	assert.Equal(t, 4, tokens[4].Position)
	assert.Equal(t, "λογος", tokens[4].SurfaceText)
}

func TestPackProvider_ReadsVersesJSON(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "verses.json"),
		[]byte(`{"John.1.18":"μονογενης θεος","John.1.19":"και αυτη εστιν"}`), 0o644))

	p := NewPackProvider("sblgnt", dir)
	assert.Equal(t, "sblgnt", p.SourceKey())

	text, err := p.GetVerseText(ctx, "John.1.18")
	require.NoError(t, err)
	assert.Equal(t, "μονογενης θεος", text)

	tokens, err := p.GetVerseTokens(ctx, "John.1.19")
	require.NoError(t, err)
	assert.Len(t, tokens, 3)

	ok, err := p.HasVerse(ctx, "Mark.1.1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPackProvider_MissingFileSurfacesError(t *testing.T) {
	p := NewPackProvider("empty", t.TempDir())
	_, err := p.GetVerseText(context.Background(), "John.1.18")
	require.Error(t, err)
}
