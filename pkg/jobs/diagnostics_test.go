package jobs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Angelice80/redletters/pkg/canonicalize"
	"github.com/Angelice80/redletters/pkg/errs"
)

func writeArtifactFile(t *testing.T, dir, name, content string) (path, hash string) {
	t.Helper()
	path = filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path, canonicalize.HashBytes([]byte(content))
}

func TestIntegrityReport_MatchMismatchMissing(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	dir := t.TempDir()
	createTestJob(t, store, "j1")

	okPath, okHash := writeArtifactFile(t, dir, "good.json", `{"a":1}`)
	id, err := store.RegisterArtifact(ctx, "j1", "good.json", okPath, "output")
	require.NoError(t, err)
	require.NoError(t, store.CompleteArtifact(ctx, id, 7, okHash))

	badPath, badHash := writeArtifactFile(t, dir, "bad.json", `{"b":2}`)
	id, err = store.RegisterArtifact(ctx, "j1", "bad.json", badPath, "output")
	require.NoError(t, err)
	require.NoError(t, store.CompleteArtifact(ctx, id, 7, badHash))
	require.NoError(t, os.WriteFile(badPath, []byte(`{"b":3}`), 0o644))

	id, err = store.RegisterArtifact(ctx, "j1", "gone.json", filepath.Join(dir, "gone.json"), "output")
	require.NoError(t, err)
	require.NoError(t, store.CompleteArtifact(ctx, id, 7, "0000"))

	report, err := GenerateIntegrityReport(ctx, store, false, 1<<20)
	require.NoError(t, err)

	byName := map[string]IntegrityStatus{}
	for _, r := range report.Results {
		byName[r.Name] = r.Status
	}
	assert.Equal(t, IntegrityMatch, byName["good.json"])
	assert.Equal(t, IntegrityMismatch, byName["bad.json"])
	assert.Equal(t, IntegrityMissing, byName["gone.json"])
	assert.Equal(t, 1, report.Summary["ok"])
	assert.Equal(t, 2, report.Summary["fail"])
}

func TestIntegrityReport_SkipsLargeFilesUnlessFullMode(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	dir := t.TempDir()
	createTestJob(t, store, "j1")

	path, hash := writeArtifactFile(t, dir, "big.json", `{"payload":"xxxxxxxxxxxxxxxxxxxxxxxx"}`)
	id, err := store.RegisterArtifact(ctx, "j1", "big.json", path, "output")
	require.NoError(t, err)
	require.NoError(t, store.CompleteArtifact(ctx, id, 40, hash))

	// Threshold below the file size: skipped in default mode.
	report, err := GenerateIntegrityReport(ctx, store, false, 10)
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, IntegritySkippedLarge, report.Results[0].Status)

	// Same threshold, full-integrity mode: hashed anyway.
	report, err = GenerateIntegrityReport(ctx, store, true, 10)
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, IntegrityMatch, report.Results[0].Status)
}

func TestIntegrityReport_ThresholdCapturedAtConstruction(t *testing.T) {
	report := NewIntegrityReport(false, 1234)
	t.Setenv("REDLETTERS_INTEGRITY_SIZE_THRESHOLD", "999999999")
	assert.Equal(t, int64(1234), report.SizeThresholdBytes,
		"threshold must not be re-read from the environment after construction")
}

func TestBuildDiagnosticsBundle_ContainsExpectedFiles(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	createTestJob(t, store, "j1")

	bundle, err := BuildDiagnosticsBundle(ctx, store, "0.1.0-test", false, 1<<20)
	require.NoError(t, err)

	for _, name := range []string{
		"system_info.json", "job_summary.json", "recent_events.jsonl",
		"integrity_report.json", "integrity_report.txt", "config_sanitized.json",
	} {
		assert.Contains(t, bundle.Files, name)
	}
}

func TestBuildDiagnosticsBundle_ScrubsSecretTokens(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	createTestJob(t, store, "j1")

	secret := "rl_" + "AAAABBBBCCCCDDDDEEEEFFFF"
	_, err := store.PersistEvent(ctx, &Event{
		JobID: "j1", Kind: EventLog, Level: LogLevelInfo,
		Message: "token leaked: " + secret,
		Payload: map[string]interface{}{"token": secret},
	})
	require.NoError(t, err)

	bundle, err := BuildDiagnosticsBundle(ctx, store, "0.1.0-test", false, 1<<20)
	require.NoError(t, err)

	for name, content := range bundle.Files {
		assert.False(t, secretTokenPattern.Match(content), "secret token leaked into %s", name)
	}
	assert.Contains(t, string(bundle.Files["recent_events.jsonl"]), "***REDACTED***")
}

func TestVerifyNoSecrets_AbortsOnMatch(t *testing.T) {
	bundle := &DiagnosticsBundle{Files: map[string][]byte{
		"leaky.json": []byte(`{"token":"rl_AAAABBBBCCCCDDDDEEEEFFFF"}`),
	}}
	err := verifyNoSecrets(bundle)
	require.Error(t, err)
	var e *errs.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, errs.KindSecurityError, e.Kind)
}

func TestWriteDiagnosticsDirAndZip(t *testing.T) {
	bundle := &DiagnosticsBundle{Files: map[string][]byte{
		"a.json": []byte(`{}`),
		"b.txt":  []byte("ok"),
	}}

	dir := filepath.Join(t.TempDir(), "diag")
	require.NoError(t, WriteDiagnosticsDir(bundle, dir))
	for name := range bundle.Files {
		_, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err)
	}

	zipPath := filepath.Join(t.TempDir(), "diag.zip")
	require.NoError(t, WriteDiagnosticsZip(bundle, zipPath))
	info, err := os.Stat(zipPath)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}
