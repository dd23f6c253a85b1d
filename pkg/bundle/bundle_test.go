package bundle

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeInput(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestCreator_Create_SortsArtifactsByTypeThenPath(t *testing.T) {
	srcDir := t.TempDir()
	lockfile := writeInput(t, srcDir, "lockfile.json", `{"schema_version":"1.0.0"}`)
	snap := writeInput(t, srcDir, "snapshot.json", `{"schema_version":"1.0.0"}`)
	translation := writeInput(t, srcDir, "translation.jsonl", "{}\n")
	apparatus := writeInput(t, srcDir, "apparatus.jsonl", "{}\n")

	bundleDir := filepath.Join(t.TempDir(), "bundle")
	creator := NewCreator("1.0.0-test")
	manifest, err := creator.Create(context.Background(), bundleDir, lockfile, snap, []InputFile{
		{SourcePath: translation, BundlePath: "translation.jsonl"},
		{SourcePath: apparatus, BundlePath: "apparatus.jsonl"},
	}, nil, false)
	require.NoError(t, err)

	require.Len(t, manifest.Artifacts, 4)
	require.Equal(t, ArtifactApparatus, manifest.Artifacts[0].ArtifactType)
	require.Equal(t, ArtifactLockfile, manifest.Artifacts[1].ArtifactType)
	require.Equal(t, ArtifactSnapshot, manifest.Artifacts[2].ArtifactType)
	require.Equal(t, ArtifactTranslation, manifest.Artifacts[3].ArtifactType)
	require.NotEmpty(t, manifest.ContentHash)
}

// Bundle tamper detection: scenario 6 of the end-to-end test seeds.
func TestVerifier_Verify_DetectsTamperedArtifact(t *testing.T) {
	srcDir := t.TempDir()
	lockfile := writeInput(t, srcDir, "lockfile.json", `{"schema_version":"1.0.0"}`)
	snap := writeInput(t, srcDir, "snapshot.json", `{"schema_version":"1.0.0"}`)
	apparatus := writeInput(t, srcDir, "apparatus.jsonl", `{"ref":"John.1.18"}`+"\n")

	bundleDir := filepath.Join(t.TempDir(), "bundle")
	creator := NewCreator("1.0.0-test")
	_, err := creator.Create(context.Background(), bundleDir, lockfile, snap, []InputFile{
		{SourcePath: apparatus, BundlePath: "apparatus.jsonl"},
	}, nil, false)
	require.NoError(t, err)

	verifier := NewVerifier()
	result, err := verifier.Verify(bundleDir)
	require.NoError(t, err)
	require.True(t, result.Valid)
	require.Empty(t, result.Failures)

	require.NoError(t, os.WriteFile(filepath.Join(bundleDir, "apparatus.jsonl"), []byte(`{"ref":"John.1.19"}`+"\n"), 0o644))

	result, err = verifier.Verify(bundleDir)
	require.NoError(t, err)
	require.False(t, result.Valid)

	var sawHashMismatch bool
	for _, f := range result.Failures {
		if f.Kind == FailureHashMismatch && f.Path == "apparatus.jsonl" {
			sawHashMismatch = true
		}
	}
	require.True(t, sawHashMismatch)
}

func TestVerifier_Verify_MissingArtifact(t *testing.T) {
	srcDir := t.TempDir()
	lockfile := writeInput(t, srcDir, "lockfile.json", `{}`)
	snap := writeInput(t, srcDir, "snapshot.json", `{}`)
	apparatus := writeInput(t, srcDir, "apparatus.jsonl", "{}\n")

	bundleDir := filepath.Join(t.TempDir(), "bundle")
	creator := NewCreator("1.0.0-test")
	_, err := creator.Create(context.Background(), bundleDir, lockfile, snap, []InputFile{
		{SourcePath: apparatus, BundlePath: "apparatus.jsonl"},
	}, nil, false)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(bundleDir, "apparatus.jsonl")))

	verifier := NewVerifier()
	result, err := verifier.Verify(bundleDir)
	require.NoError(t, err)
	require.False(t, result.Valid)
	require.Equal(t, FailureMissingArtifact, result.Failures[0].Kind)
}

func TestCreator_Create_Zip_RoundTrips(t *testing.T) {
	srcDir := t.TempDir()
	lockfile := writeInput(t, srcDir, "lockfile.json", `{}`)
	snap := writeInput(t, srcDir, "snapshot.json", `{}`)

	bundleDir := filepath.Join(t.TempDir(), "bundle")
	creator := NewCreator("1.0.0-test")
	_, err := creator.Create(context.Background(), bundleDir, lockfile, snap, nil, nil, true)
	require.NoError(t, err)
	require.FileExists(t, bundleDir+".zip")

	extractDir := filepath.Join(t.TempDir(), "extracted")
	dest, err := OpenZip(bundleDir+".zip", extractDir)
	require.NoError(t, err)
	require.FileExists(t, filepath.Join(dest, "manifest.json"))
}
