// Package lockfile generates, saves, and verifies the pinned installed-pack
// lockfile.
package lockfile

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/Angelice80/redletters/pkg/canonicalize"
	"github.com/Angelice80/redletters/pkg/sources"
)

const SchemaVersion = "1.0.0"

// PackPin is one pinned pack entry.
type PackPin struct {
	PackID        string             `json:"pack_id"`
	Version       string             `json:"version"`
	Role          sources.Role       `json:"role"`
	License       string             `json:"license"`
	ContentHash   string             `json:"content_hash"`
	InstallSource sources.InstallKind `json:"install_source"`
}

// Lockfile is the canonical pinned-pack-set document.
type Lockfile struct {
	SchemaVersion string    `json:"schema_version"`
	ToolVersion   string    `json:"tool_version"`
	GeneratedAt   time.Time `json:"generated_at"`
	Packs         []PackPin `json:"packs"`
	LockfileHash  string    `json:"lockfile_hash"`
}

// Generate projects an installer's currently-installed packs into a
// deterministic Lockfile: sorted by pack_id, hash computed with the hash
// field elided.
func Generate(toolVersion string, installed []sources.InstalledPack) (*Lockfile, error) {
	pins := make([]PackPin, 0, len(installed))
	for _, p := range installed {
		pins = append(pins, PackPin{
			PackID:        p.PackID,
			Version:       p.Version,
			Role:          p.Role,
			License:       p.License,
			ContentHash:   p.ContentHash,
			InstallSource: p.InstallSource,
		})
	}
	sort.Slice(pins, func(i, j int) bool { return pins[i].PackID < pins[j].PackID })

	lf := &Lockfile{
		SchemaVersion: SchemaVersion,
		ToolVersion:   toolVersion,
		GeneratedAt:   time.Now().UTC(),
		Packs:         pins,
	}

	hash, err := canonicalize.ContentHashElided(lf, "lockfile_hash")
	if err != nil {
		return nil, fmt.Errorf("lockfile: hashing: %w", err)
	}
	lf.LockfileHash = hash
	return lf, nil
}

// Save writes the lockfile as canonical, pretty-printed JSON with sorted
// keys. Pretty printing is a presentation nicety layered on top of the
// canonical bytes used for hashing; it does not affect LockfileHash.
func Save(path string, lf *Lockfile) error {
	raw, err := canonicalize.JSON(lf)
	if err != nil {
		return fmt.Errorf("lockfile: encoding: %w", err)
	}
	pretty, err := prettyPrint(raw)
	if err != nil {
		return fmt.Errorf("lockfile: pretty-printing: %w", err)
	}
	return os.WriteFile(path, pretty, 0o644)
}

// Load reads a Lockfile from disk.
func Load(path string) (*Lockfile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("lockfile: reading %s: %w", path, err)
	}
	var lf Lockfile
	if err := unmarshalStrict(raw, &lf); err != nil {
		return nil, fmt.Errorf("lockfile: parsing %s: %w", path, err)
	}
	return &lf, nil
}

// PackStatus classifies one pack's lockfile-vs-disk state.
type PackStatus string

const (
	StatusOK           PackStatus = "ok"
	StatusMissing      PackStatus = "missing"
	StatusHashMismatch PackStatus = "hash_mismatch"
	StatusExtra        PackStatus = "extra"
)

// VerifyResult is the outcome of comparing a Lockfile against the currently
// installed set. VersionDrift records, for every hash-mismatched pack,
// whether the installed version is ahead of, behind, or equal to the pin, or
// "unknown" when either version does not parse as semver.
type VerifyResult struct {
	Valid        bool                  `json:"valid"`
	Statuses     map[string]PackStatus `json:"statuses"`
	VersionDrift map[string]string     `json:"version_drift,omitempty"`
	Forced       bool                  `json:"forced,omitempty"`
	ForcedAt     *time.Time            `json:"forced_at,omitempty"`
}

// classifyDrift compares an installed version against a pinned version.
func classifyDrift(pinned, installed string) string {
	pv, perr := semver.NewVersion(pinned)
	iv, ierr := semver.NewVersion(installed)
	if perr != nil || ierr != nil {
		return "unknown"
	}
	switch iv.Compare(pv) {
	case 1:
		return "installed_newer"
	case -1:
		return "installed_older"
	default:
		return "same_version"
	}
}

// Verify classifies each pinned pack as ok/missing/hash_mismatch, and flags
// any currently-installed pack absent from the lockfile as extra.
func Verify(lf *Lockfile, installed []sources.InstalledPack) *VerifyResult {
	installedByID := make(map[string]sources.InstalledPack, len(installed))
	for _, p := range installed {
		installedByID[p.PackID] = p
	}

	statuses := make(map[string]PackStatus)
	drift := make(map[string]string)
	valid := true
	for _, pin := range lf.Packs {
		cur, ok := installedByID[pin.PackID]
		switch {
		case !ok:
			statuses[pin.PackID] = StatusMissing
			valid = false
		case cur.ContentHash != pin.ContentHash:
			statuses[pin.PackID] = StatusHashMismatch
			drift[pin.PackID] = classifyDrift(pin.Version, cur.Version)
			valid = false
		default:
			statuses[pin.PackID] = StatusOK
		}
		delete(installedByID, pin.PackID)
	}
	for extraID := range installedByID {
		statuses[extraID] = StatusExtra
	}

	result := &VerifyResult{Valid: valid, Statuses: statuses}
	if len(drift) > 0 {
		result.VersionDrift = drift
	}
	return result
}

// Installer is the narrow capability Sync needs from pkg/sources.Installer,
// kept as an interface so lockfile stays independent of the installer's
// concrete fetch machinery.
type Installer interface {
	Install(ctx context.Context, packID string, acceptEULA, force bool) (*sources.InstalledPack, error)
}

// Sync installs every pack pinned in lf that is missing from disk by passing
// the pin's pack ID to inst.Install. The installer resolves the pack's
// install source and version from its own catalog; the pin's recorded
// install_source and version are not passed to it. Hash mismatches are only
// accepted (and re-synced) when force is true.
func Sync(ctx context.Context, inst Installer, lf *Lockfile, installed []sources.InstalledPack, force bool) (*VerifyResult, error) {
	result := Verify(lf, installed)

	for _, pin := range lf.Packs {
		status := result.Statuses[pin.PackID]
		switch status {
		case StatusMissing:
			if _, err := inst.Install(ctx, pin.PackID, true, force); err != nil {
				return nil, fmt.Errorf("lockfile: syncing missing pack %q: %w", pin.PackID, err)
			}
		case StatusHashMismatch:
			if !force {
				continue
			}
			if _, err := inst.Install(ctx, pin.PackID, true, force); err != nil {
				return nil, fmt.Errorf("lockfile: re-syncing mismatched pack %q: %w", pin.PackID, err)
			}
		}
	}

	if force {
		now := time.Now().UTC()
		result.Forced = true
		result.ForcedAt = &now
	}
	return result, nil
}
