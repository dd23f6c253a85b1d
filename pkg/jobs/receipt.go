package jobs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/Angelice80/redletters/pkg/canonicalize"
)

// writeReceiptFile renders receipt as canonical JSON and writes it to
// <workspacePath>/receipt.json using the durability sequence a receipt
// demands: write to a uniquely-named temp file, flush and fsync it, rename
// it into place (POSIX atomic), fsync the parent directory on a best-effort
// basis, then chmod 0444 so the file can never again be mutated in place.
// The returned hash is computed from the in-memory bytes, never a re-read.
func writeReceiptFile(workspacePath string, receipt *Receipt) (hash string, size int64, err error) {
	content, err := canonicalize.JSON(receipt)
	if err != nil {
		return "", 0, fmt.Errorf("jobs: canonicalizing receipt: %w", err)
	}

	receiptPath := filepath.Join(workspacePath, "receipt.json")
	tempPath := filepath.Join(workspacePath, fmt.Sprintf("receipt.json.tmp.%d.%s", os.Getpid(), uuid.NewString()[:8]))

	f, err := os.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return "", 0, fmt.Errorf("jobs: opening temp receipt: %w", err)
	}
	if _, err := f.Write(content); err != nil {
		_ = f.Close()
		_ = os.Remove(tempPath)
		return "", 0, fmt.Errorf("jobs: writing temp receipt: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tempPath)
		return "", 0, fmt.Errorf("jobs: fsyncing temp receipt: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tempPath)
		return "", 0, fmt.Errorf("jobs: closing temp receipt: %w", err)
	}

	if err := os.Rename(tempPath, receiptPath); err != nil {
		return "", 0, fmt.Errorf("jobs: renaming receipt into place: %w", err)
	}

	if dir, derr := os.Open(workspacePath); derr == nil {
		_ = dir.Sync()
		_ = dir.Close()
	}

	if err := os.Chmod(receiptPath, 0444); err != nil {
		return "", 0, fmt.Errorf("jobs: making receipt immutable: %w", err)
	}

	return canonicalize.HashBytes(content), int64(len(content)), nil
}

// marshalReceiptForDB renders the receipt for the jobs.receipt_json column,
// using plain (non-canonical) JSON since this copy is for display, not
// hashing — the hash is always computed from the file bytes.
func marshalReceiptForDB(receipt *Receipt) (string, error) {
	b, err := json.Marshal(receipt)
	if err != nil {
		return "", fmt.Errorf("jobs: marshaling receipt for storage: %w", err)
	}
	return string(b), nil
}
