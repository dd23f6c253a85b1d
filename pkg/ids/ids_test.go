package ids

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVerseID_RoundTrip(t *testing.T) {
	v, err := ParseVerseID("John.1.18")
	require.NoError(t, err)
	assert.Equal(t, VerseID{Book: "John", Chapter: 1, Verse: 18}, v)
	assert.Equal(t, "John.1.18", v.String())
}

func TestParseVerseID_Invalid(t *testing.T) {
	_, err := ParseVerseID("John.1")
	assert.Error(t, err)
	_, err = ParseVerseID("John.x.18")
	assert.Error(t, err)
	_, err = ParseVerseID(".1.18")
	assert.Error(t, err)
}

func TestStableID_JoinsWithColon(t *testing.T) {
	assert.Equal(t, "a:1:true", StableID("a", 1, true))
}
