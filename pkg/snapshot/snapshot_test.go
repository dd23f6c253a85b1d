package snapshot

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Angelice80/redletters/pkg/canonicalize"
)

func writeFixture(t *testing.T, dir, name, content string) FileEntry {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	hash, err := canonicalize.FileHash(path)
	require.NoError(t, err)
	return FileEntry{Path: name, SHA256: hash, SizeBytes: int64(len(content))}
}

func TestGenerator_Generate_SortsByPath(t *testing.T) {
	dir := t.TempDir()
	b := writeFixture(t, dir, "b.json", "b")
	a := writeFixture(t, dir, "a.json", "a")

	gen := NewGenerator("1.0.0-test")
	snap := gen.Generate([]FileEntry{b, a}, nil, nil, "")

	require.Equal(t, "a.json", snap.ExportHashes[0].Path)
	require.Equal(t, "b.json", snap.ExportHashes[1].Path)
	require.Equal(t, SchemaVersion, snap.SchemaVersion)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	entry := writeFixture(t, dir, "apparatus.jsonl", "{}\n")

	gen := NewGenerator("1.0.0-test")
	snap := gen.Generate([]FileEntry{entry}, []PackInfo{{PackID: "sblgnt-canonical", Version: "1.0.0"}}, map[string]string{"apparatus": "1.0.0"}, "lockhash")

	path := filepath.Join(dir, "snapshot.json")
	hash, size, err := Save(path, snap)
	require.NoError(t, err)
	require.NotEmpty(t, hash)
	require.Greater(t, size, int64(0))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, snap.ExportHashes, loaded.ExportHashes)
	require.Equal(t, "lockhash", loaded.LockfileHash)
}

func TestVerifier_Verify_DetectsMismatchAndMissing(t *testing.T) {
	dir := t.TempDir()
	ok := writeFixture(t, dir, "ok.json", "ok")
	gone := FileEntry{Path: "gone.json", SHA256: "deadbeef"}
	tampered := writeFixture(t, dir, "tampered.json", "original")

	snap := &Snapshot{ExportHashes: []FileEntry{ok, gone, tampered}}

	// Tamper after the hash was captured.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tampered.json"), []byte("mutated"), 0o644))

	v := NewVerifier()
	result, err := v.Verify(dir, snap)
	require.NoError(t, err)
	require.False(t, result.Valid)
	require.Contains(t, result.Missing, "gone.json")
	require.Contains(t, result.Mismatched, "tampered.json")
	require.NotContains(t, result.Mismatched, "ok.json")
}

func TestVerifier_VerifyWithRecompute_RejectsEmptySnapshot(t *testing.T) {
	v := NewVerifier()
	_, err := v.VerifyWithRecompute(t.TempDir(), &Snapshot{})
	require.Error(t, err)
}
