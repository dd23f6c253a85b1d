// Package export renders the schema-versioned artifact files a scholarly
// run produces: the apparatus and translation JSONL streams, the citations
// and quote JSON documents, and the variant dossier. Every writer flows
// through pkg/canonicalize so two exports of the same underlying data are
// byte-identical.
package export

import (
	"context"
	"fmt"
	"os"

	"github.com/Angelice80/redletters/pkg/canonicalize"
	"github.com/Angelice80/redletters/pkg/variants"
)

// SchemaVersion is the semver carried by every exported document and JSONL
// record. Bumped only when an artifact's shape changes incompatibly.
const SchemaVersion = "1.0.0"

// FileResult describes one artifact file written to disk: its hash and
// size feed directly into the snapshot and bundle manifest without a
// second read-back pass.
type FileResult struct {
	Path          string `json:"path"`
	SchemaVersion string `json:"schema_version"`
	SHA256        string `json:"sha256"`
	SizeBytes     int64  `json:"size_bytes"`
	RecordCount   int    `json:"record_count,omitempty"`
}

// writeJSONLRecords canonically encodes each record on its own line, then
// hashes the whole file's bytes in one pass so FileResult.SHA256 matches
// what a later bundle/snapshot re-hash will compute.
func writeJSONLRecords(path string, records []interface{}) (FileResult, error) {
	var buf []byte
	for _, rec := range records {
		line, err := canonicalize.JSON(rec)
		if err != nil {
			return FileResult{}, fmt.Errorf("export: encoding record: %w", err)
		}
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return FileResult{}, fmt.Errorf("export: writing %s: %w", path, err)
	}
	return FileResult{
		Path:          path,
		SchemaVersion: SchemaVersion,
		SHA256:        canonicalize.HashBytes(buf),
		SizeBytes:     int64(len(buf)),
		RecordCount:   len(records),
	}, nil
}

// writeJSONDocument canonically encodes a single object to path.
func writeJSONDocument(path string, doc interface{}) (FileResult, error) {
	raw, err := canonicalize.JSON(doc)
	if err != nil {
		return FileResult{}, fmt.Errorf("export: encoding %s: %w", path, err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return FileResult{}, fmt.Errorf("export: writing %s: %w", path, err)
	}
	return FileResult{
		Path:          path,
		SchemaVersion: SchemaVersion,
		SHA256:        canonicalize.HashBytes(raw),
		SizeBytes:     int64(len(raw)),
	}, nil
}

// VariantLookup is the narrow capability the apparatus and dossier
// exporters need, satisfied by *variants.Store without importing its sqlite
// internals here.
type VariantLookup interface {
	ListByVerse(ctx context.Context, ref string) ([]*variants.VariantUnit, error)
	ListSignificant(ctx context.Context, ref string) ([]*variants.VariantUnit, error)
}

var _ VariantLookup = (*variants.Store)(nil)
