package canonicalize

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSON_SortsKeys(t *testing.T) {
	input := map[string]interface{}{"c": 3, "a": 1, "b": 2}
	b, err := JSON(input)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"b":2,"c":3}`, string(b))
}

func TestJSON_RecursiveSorting(t *testing.T) {
	input := map[string]interface{}{
		"z": map[string]interface{}{"y": "foo", "x": "bar"},
		"a": 1,
	}
	b, err := JSON(input)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"z":{"x":"bar","y":"foo"}}`, string(b))
}

func TestJSON_NoHTMLEscaping(t *testing.T) {
	input := map[string]string{"html": "<a>&</a>"}
	b, err := JSON(input)
	require.NoError(t, err)
	assert.Equal(t, `{"html":"<a>&</a>"}`, string(b))
}

func TestContentHash_Deterministic(t *testing.T) {
	v := map[string]interface{}{"b": 2, "a": []interface{}{1, 2, 3}}
	h1, err := ContentHash(v)
	require.NoError(t, err)
	h2, err := ContentHash(v)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestContentHashElided(t *testing.T) {
	type doc struct {
		A    string `json:"a"`
		Hash string `json:"doc_hash"`
	}
	withHash := doc{A: "x", Hash: "whatever"}
	withoutHash := doc{A: "x", Hash: ""}

	h1, err := ContentHashElided(withHash, "doc_hash")
	require.NoError(t, err)
	h2, err := ContentHashElided(withoutHash, "doc_hash")
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestFileHash_StreamsInChunks(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/f.bin"
	data := make([]byte, 200*1024)
	for i := range data {
		data[i] = byte(i % 251)
	}
	require.NoError(t, os.WriteFile(path, data, 0o644))

	h1, err := FileHash(path)
	require.NoError(t, err)
	h2 := HashBytes(data)
	assert.Equal(t, h2, h1)
}

func TestConcatHash_OrderSensitive(t *testing.T) {
	a := ConcatHash([]string{"aa", "bb"})
	b := ConcatHash([]string{"bb", "aa"})
	assert.NotEqual(t, a, b)
}
