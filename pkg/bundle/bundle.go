// Package bundle produces and verifies the deterministic, hash-addressed
// bundle manifest: a sorted, content-hashed record of the lockfile,
// snapshot, and every export artifact a scholarly run produced, with
// tamper detection on re-verification.
package bundle

import (
	"archive/zip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Angelice80/redletters/pkg/canonicalize"
	"github.com/Angelice80/redletters/pkg/errs"
)

// SchemaVersion is the semver this package's manifest document carries.
const SchemaVersion = "1.0.0"

// ArtifactType classifies one file inside a bundle.
type ArtifactType string

const (
	ArtifactApparatus   ArtifactType = "apparatus"
	ArtifactCitations   ArtifactType = "citations"
	ArtifactDossier     ArtifactType = "dossier"
	ArtifactLockfile    ArtifactType = "lockfile"
	ArtifactQuote       ArtifactType = "quote"
	ArtifactSchema      ArtifactType = "schema"
	ArtifactSnapshot    ArtifactType = "snapshot"
	ArtifactTranslation ArtifactType = "translation"
	ArtifactUnknown     ArtifactType = "unknown"
)

// artifactTypeOrder is the fixed sort priority for ArtifactType, matching
// the sorted-then-hashed order content_hash is computed over. Unknown types
// sort last via the fallback in typeOrderIndex.
var artifactTypeOrder = map[ArtifactType]int{
	ArtifactApparatus:   0,
	ArtifactCitations:   1,
	ArtifactDossier:     2,
	ArtifactLockfile:    3,
	ArtifactQuote:       4,
	ArtifactSchema:      5,
	ArtifactSnapshot:    6,
	ArtifactTranslation: 7,
}

func typeOrderIndex(t ArtifactType) int {
	if idx, ok := artifactTypeOrder[t]; ok {
		return idx
	}
	return len(artifactTypeOrder)
}

// classifyArtifactType infers an artifact's type from its base filename.
// Unrecognized names classify as ArtifactUnknown rather than erroring, so a
// bundle can still carry ad hoc supplementary files.
func classifyArtifactType(name string) ArtifactType {
	switch {
	case name == "lockfile.json":
		return ArtifactLockfile
	case name == "snapshot.json":
		return ArtifactSnapshot
	case name == "citations.json":
		return ArtifactCitations
	case name == "quote.json":
		return ArtifactQuote
	case name == "dossier.json":
		return ArtifactDossier
	case name == "apparatus.jsonl":
		return ArtifactApparatus
	case name == "translation.jsonl":
		return ArtifactTranslation
	case strings.HasSuffix(name, ".schema.json") || strings.HasPrefix(name, "schemas/"):
		return ArtifactSchema
	default:
		return ArtifactUnknown
	}
}

// ArtifactEntry is one file recorded in a BundleManifest.
type ArtifactEntry struct {
	Path          string       `json:"path"`
	ArtifactType  ArtifactType `json:"artifact_type"`
	SHA256        string       `json:"sha256"`
	SchemaVersion string       `json:"schema_version,omitempty"`
}

// BundleManifest is the canonical manifest.json document.
type BundleManifest struct {
	SchemaVersion   string          `json:"schema_version"`
	ToolVersion     string          `json:"tool_version"`
	CreatedUTC      time.Time       `json:"created_utc"`
	LockfileHash    string          `json:"lockfile_hash,omitempty"`
	SnapshotHash    string          `json:"snapshot_hash,omitempty"`
	Artifacts       []ArtifactEntry `json:"artifacts"`
	ContentHash     string          `json:"content_hash"`
	SchemasIncluded bool            `json:"schemas_included"`
	Notes           string          `json:"notes,omitempty"`
}

// sortArtifacts orders entries by (artifact_type_order_index, path). The
// index ordering, not the lexical type string, is what the content hash is
// defined over; every code path sorts this one way.
func sortArtifacts(entries []ArtifactEntry) {
	sort.Slice(entries, func(i, j int) bool {
		oi, oj := typeOrderIndex(entries[i].ArtifactType), typeOrderIndex(entries[j].ArtifactType)
		if oi != oj {
			return oi < oj
		}
		return entries[i].Path < entries[j].Path
	})
}

// computeContentHash hashes the concatenation of each entry's sha256 hex
// string, in (artifact_type_order_index, path) order. entries must already
// be sorted by sortArtifacts.
func computeContentHash(entries []ArtifactEntry) string {
	hashes := make([]string, len(entries))
	for i, e := range entries {
		hashes[i] = e.SHA256
	}
	return canonicalize.ConcatHash(hashes)
}

// InputFile is one file the caller wants copied into the bundle.
type InputFile struct {
	// SourcePath is the file's current location on disk.
	SourcePath string
	// BundlePath is its path inside the bundle directory, typically just
	// the base filename.
	BundlePath string
	// SchemaVersion is the schema_version the producing exporter stamped,
	// if known.
	SchemaVersion string
}

// Creator produces bundles.
type Creator struct {
	toolVersion string
}

// NewCreator constructs a Creator stamping every manifest with toolVersion.
func NewCreator(toolVersion string) *Creator {
	return &Creator{toolVersion: toolVersion}
}

// Create copies lockfilePath, snapshotPath, and every artifact in
// artifactFiles into bundleDir, hashes each copy, sorts and writes
// manifest.json, and optionally a schemas/ directory and a bundle.zip
// sibling archive.
func (c *Creator) Create(ctx context.Context, bundleDir, lockfilePath, snapshotPath string, artifactFiles []InputFile, schemaFiles []InputFile, makeZip bool) (*BundleManifest, error) {
	if err := os.MkdirAll(bundleDir, 0o755); err != nil {
		return nil, fmt.Errorf("bundle: creating bundle dir: %w", err)
	}

	var entries []ArtifactEntry

	lockEntry, err := copyAndHash(lockfilePath, filepath.Join(bundleDir, "lockfile.json"))
	if err != nil {
		return nil, fmt.Errorf("bundle: copying lockfile: %w", err)
	}
	entries = append(entries, ArtifactEntry{Path: "lockfile.json", ArtifactType: ArtifactLockfile, SHA256: lockEntry})

	snapEntry, err := copyAndHash(snapshotPath, filepath.Join(bundleDir, "snapshot.json"))
	if err != nil {
		return nil, fmt.Errorf("bundle: copying snapshot: %w", err)
	}
	entries = append(entries, ArtifactEntry{Path: "snapshot.json", ArtifactType: ArtifactSnapshot, SHA256: snapEntry})

	for _, f := range artifactFiles {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hash, err := copyAndHash(f.SourcePath, filepath.Join(bundleDir, f.BundlePath))
		if err != nil {
			return nil, fmt.Errorf("bundle: copying artifact %s: %w", f.BundlePath, err)
		}
		entries = append(entries, ArtifactEntry{
			Path:          f.BundlePath,
			ArtifactType:  classifyArtifactType(filepath.Base(f.BundlePath)),
			SHA256:        hash,
			SchemaVersion: f.SchemaVersion,
		})
	}

	schemasIncluded := len(schemaFiles) > 0
	if schemasIncluded {
		if err := os.MkdirAll(filepath.Join(bundleDir, "schemas"), 0o755); err != nil {
			return nil, fmt.Errorf("bundle: creating schemas dir: %w", err)
		}
		for _, f := range schemaFiles {
			bundlePath := filepath.Join("schemas", f.BundlePath)
			hash, err := copyAndHash(f.SourcePath, filepath.Join(bundleDir, bundlePath))
			if err != nil {
				return nil, fmt.Errorf("bundle: copying schema %s: %w", f.BundlePath, err)
			}
			entries = append(entries, ArtifactEntry{Path: bundlePath, ArtifactType: ArtifactSchema, SHA256: hash})
		}
	}

	sortArtifacts(entries)

	manifest := &BundleManifest{
		SchemaVersion:   SchemaVersion,
		ToolVersion:     c.toolVersion,
		CreatedUTC:      time.Now().UTC(),
		LockfileHash:    lockEntry,
		SnapshotHash:    snapEntry,
		Artifacts:       entries,
		ContentHash:     computeContentHash(entries),
		SchemasIncluded: schemasIncluded,
	}

	raw, err := canonicalize.JSON(manifest)
	if err != nil {
		return nil, fmt.Errorf("bundle: encoding manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(bundleDir, "manifest.json"), raw, 0o644); err != nil {
		return nil, fmt.Errorf("bundle: writing manifest: %w", err)
	}

	if makeZip {
		if err := zipDir(bundleDir, bundleDir+".zip"); err != nil {
			return nil, fmt.Errorf("bundle: zipping bundle: %w", err)
		}
	}

	return manifest, nil
}

func copyAndHash(src, dst string) (string, error) {
	data, err := os.ReadFile(src)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return "", err
	}
	return canonicalize.HashBytes(data), nil
}

func zipDir(srcDir, zipPath string) error {
	f, err := os.Create(zipPath)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	w := zip.NewWriter(f)
	defer func() { _ = w.Close() }()

	var paths []string
	err = filepath.Walk(srcDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return err
	}
	sort.Strings(paths)

	for _, path := range paths {
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		zw, err := w.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		if _, err := zw.Write(data); err != nil {
			return err
		}
	}
	return nil
}

// FailureKind classifies one verification failure.
type FailureKind string

const (
	FailureMissingArtifact     FailureKind = "missing_artifact"
	FailureHashMismatch        FailureKind = "hash_mismatch"
	FailureContentHashMismatch FailureKind = "content_hash_mismatch"
)

// Failure is one artifact-level or manifest-level verification failure.
type Failure struct {
	Kind FailureKind `json:"kind"`
	Path string      `json:"path,omitempty"`
	Detail string    `json:"detail,omitempty"`
}

// VerifyResult is the outcome of verifying a bundle.
type VerifyResult struct {
	Valid    bool      `json:"valid"`
	Failures []Failure `json:"failures"`
}

// Verifier verifies bundles produced by Creator.
type Verifier struct{}

// NewVerifier constructs a Verifier.
func NewVerifier() *Verifier { return &Verifier{} }

// Verify loads manifest.json from bundleDir, re-hashes every listed
// artifact, and classifies any discrepancy.
func (v *Verifier) Verify(bundleDir string) (*VerifyResult, error) {
	manifestPath := filepath.Join(bundleDir, "manifest.json")
	raw, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("bundle: reading manifest: %w", err)
	}
	var manifest BundleManifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return nil, fmt.Errorf("bundle: parsing manifest: %w", err)
	}

	result := &VerifyResult{Valid: true}
	recomputed := make([]ArtifactEntry, 0, len(manifest.Artifacts))

	for _, entry := range manifest.Artifacts {
		full := filepath.Join(bundleDir, entry.Path)
		hash, err := canonicalize.FileHash(full)
		if err != nil {
			result.Valid = false
			result.Failures = append(result.Failures, Failure{Kind: FailureMissingArtifact, Path: entry.Path, Detail: err.Error()})
			recomputed = append(recomputed, entry)
			continue
		}
		if hash != entry.SHA256 {
			result.Valid = false
			result.Failures = append(result.Failures, Failure{Kind: FailureHashMismatch, Path: entry.Path})
		}
		recomputed = append(recomputed, ArtifactEntry{Path: entry.Path, ArtifactType: entry.ArtifactType, SHA256: hash})
	}

	sortArtifacts(recomputed)
	if computeContentHash(recomputed) != manifest.ContentHash {
		result.Valid = false
		result.Failures = append(result.Failures, Failure{Kind: FailureContentHashMismatch})
	}

	if manifest.LockfileHash != "" {
		if hash, err := canonicalize.FileHash(filepath.Join(bundleDir, "lockfile.json")); err == nil && hash != manifest.LockfileHash {
			result.Valid = false
			result.Failures = append(result.Failures, Failure{Kind: FailureHashMismatch, Path: "lockfile.json", Detail: "manifest lockfile_hash mismatch"})
		}
	}
	if manifest.SnapshotHash != "" {
		if hash, err := canonicalize.FileHash(filepath.Join(bundleDir, "snapshot.json")); err == nil && hash != manifest.SnapshotHash {
			result.Valid = false
			result.Failures = append(result.Failures, Failure{Kind: FailureHashMismatch, Path: "snapshot.json", Detail: "manifest snapshot_hash mismatch"})
		}
	}

	return result, nil
}

// VerifyOrError is a convenience for callers that want the
// BundleIntegrityFailed error taxonomy rather than a boolean result.
func (v *Verifier) VerifyOrError(bundleDir string) (*VerifyResult, error) {
	result, err := v.Verify(bundleDir)
	if err != nil {
		return nil, err
	}
	if !result.Valid {
		var parts []string
		for _, f := range result.Failures {
			parts = append(parts, fmt.Sprintf("%s:%s", f.Kind, f.Path))
		}
		return result, errs.BundleIntegrityFailed(strings.Join(parts, ", "))
	}
	return result, nil
}

// OpenZip extracts a bundle zip archive (as produced by Create with
// makeZip=true) to destDir, returning destDir for chaining into Verify.
func OpenZip(zipPath, destDir string) (string, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return "", fmt.Errorf("bundle: opening zip %s: %w", zipPath, err)
	}
	defer func() { _ = r.Close() }()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", err
	}
	for _, f := range r.File {
		target := filepath.Join(destDir, f.Name)
		if !strings.HasPrefix(target, filepath.Clean(destDir)+string(os.PathSeparator)) {
			return "", fmt.Errorf("bundle: zip entry %q escapes destination", f.Name)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return "", err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return "", err
		}
		rc, err := f.Open()
		if err != nil {
			return "", err
		}
		out, err := os.Create(target)
		if err != nil {
			_ = rc.Close()
			return "", err
		}
		_, copyErr := io.Copy(out, rc)
		_ = rc.Close()
		_ = out.Close()
		if copyErr != nil {
			return "", copyErr
		}
	}
	return destDir, nil
}
