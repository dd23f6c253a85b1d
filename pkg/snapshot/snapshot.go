// Package snapshot produces and verifies the point-in-time record of a
// scholarly run's export set: a per-file hash list, the installed-pack pins
// that produced them, and the schema versions in force, so a later auditor
// can confirm nothing was substituted after the fact.
package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"time"

	"github.com/Angelice80/redletters/pkg/canonicalize"
	"github.com/Angelice80/redletters/pkg/errs"
)

// SchemaVersion is the semver this package's own document shape carries.
const SchemaVersion = "1.0.0"

// FileEntry is one exported file's hash, as recorded in a Snapshot.
type FileEntry struct {
	Path          string `json:"path"`
	SHA256        string `json:"sha256"`
	SizeBytes     int64  `json:"size_bytes"`
	SchemaVersion string `json:"schema_version,omitempty"`
}

// PackInfo is one installed pack's pin, as surfaced in a snapshot.
type PackInfo struct {
	PackID      string `json:"pack_id"`
	Version     string `json:"version"`
	License     string `json:"license"`
	ContentHash string `json:"content_hash"`
}

// Snapshot is the canonical snapshot.json document. ExportHashes (plus
// ToolVersion) is the characteristic-key pair the output validator uses to
// autodetect this artifact type.
type Snapshot struct {
	SchemaVersion  string            `json:"schema_version"`
	ToolVersion    string            `json:"tool_version"`
	GeneratedAt    time.Time         `json:"generated_at"`
	ExportHashes   []FileEntry       `json:"export_hashes"`
	Packs          []PackInfo        `json:"packs"`
	SchemaVersions map[string]string `json:"schema_versions,omitempty"`
	LockfileHash   string            `json:"lockfile_hash,omitempty"`
	GitCommit      string            `json:"git_commit,omitempty"`
}

// Generator builds Snapshot documents.
type Generator struct {
	toolVersion string
}

// NewGenerator constructs a Generator stamping every snapshot with
// toolVersion.
func NewGenerator(toolVersion string) *Generator {
	return &Generator{toolVersion: toolVersion}
}

// Generate takes the entries in files (paths relative to the bundle/export
// root) as given, sorts them by path, and assembles a Snapshot. It does not
// hash any file itself; each entry's SHA256 is recorded as the caller
// supplied it.
// schemaVersions maps artifact-type name to the schema_version its exporter
// used; lockfileHash is the pinned lockfile's lockfile_hash, empty if none.
func (g *Generator) Generate(files []FileEntry, packs []PackInfo, schemaVersions map[string]string, lockfileHash string) *Snapshot {
	entries := make([]FileEntry, len(files))
	copy(entries, files)
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })

	pins := make([]PackInfo, len(packs))
	copy(pins, packs)
	sort.Slice(pins, func(i, j int) bool { return pins[i].PackID < pins[j].PackID })

	return &Snapshot{
		SchemaVersion:  SchemaVersion,
		ToolVersion:    g.toolVersion,
		GeneratedAt:    time.Now().UTC(),
		ExportHashes:   entries,
		Packs:          pins,
		SchemaVersions: schemaVersions,
		LockfileHash:   lockfileHash,
		GitCommit:      getGitCommit(),
	}
}

// Save writes snap as canonical JSON to path, returning its own hash so
// callers can cross-reference it from a bundle manifest.
func Save(path string, snap *Snapshot) (string, int64, error) {
	raw, err := canonicalize.JSON(snap)
	if err != nil {
		return "", 0, fmt.Errorf("snapshot: encoding: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return "", 0, fmt.Errorf("snapshot: writing %s: %w", path, err)
	}
	return canonicalize.HashBytes(raw), int64(len(raw)), nil
}

// Load reads a Snapshot document from path.
func Load(path string) (*Snapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("snapshot: reading %s: %w", path, err)
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("snapshot: parsing %s: %w", path, err)
	}
	return &snap, nil
}

// getGitCommit reports the current HEAD commit on a best-effort basis; an
// empty string means either not a git checkout or git unavailable, never a
// fatal condition.
func getGitCommit() string {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", "rev-parse", "HEAD")
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return ""
	}
	return trimNewline(out.String())
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

// VerificationResult is the outcome of re-hashing an export set against a
// recorded Snapshot.
type VerificationResult struct {
	Valid    bool     `json:"valid"`
	Mismatched []string `json:"mismatched,omitempty"`
	Missing    []string `json:"missing,omitempty"`
}

// Verifier re-hashes files under root and compares against a Snapshot.
type Verifier struct{}

// NewVerifier constructs a Verifier.
func NewVerifier() *Verifier { return &Verifier{} }

// Verify compares every ExportHashes entry in snap against the file at
// filepath.Join(root, entry.Path), without recomputing entries snap doesn't
// list.
func (v *Verifier) Verify(root string, snap *Snapshot) (*VerificationResult, error) {
	result := &VerificationResult{Valid: true}
	for _, entry := range snap.ExportHashes {
		full := filepath.Join(root, entry.Path)
		if _, err := os.Stat(full); err != nil {
			result.Valid = false
			result.Missing = append(result.Missing, entry.Path)
			continue
		}
		hash, err := canonicalize.FileHash(full)
		if err != nil {
			return nil, fmt.Errorf("snapshot: hashing %s: %w", full, err)
		}
		if hash != entry.SHA256 {
			result.Valid = false
			result.Mismatched = append(result.Mismatched, entry.Path)
		}
	}
	return result, nil
}

// VerifyWithRecompute is Verify plus a final structural error if the
// snapshot itself is empty of export hashes, a condition that otherwise
// would report a vacuous valid=true.
func (v *Verifier) VerifyWithRecompute(root string, snap *Snapshot) (*VerificationResult, error) {
	if len(snap.ExportHashes) == 0 {
		return nil, errs.BundleIntegrityFailed("snapshot has no export_hashes entries to verify")
	}
	return v.Verify(root, snap)
}
