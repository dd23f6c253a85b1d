package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/Angelice80/redletters/pkg/canonicalize"
	"github.com/Angelice80/redletters/pkg/errs"
)

// Fetcher materializes a catalog pack's files under destDir. Concrete
// fetchers for git/zip transports are injected by the caller; this core only
// requires that a Fetcher either succeeds or returns a *errs.Error of kind
// NetworkError/ManualInstallRequired.
type Fetcher interface {
	Fetch(ctx context.Context, pack SourcePack, destDir string) error
}

// LocalFetcher copies a pack's files from SourcePack.Location, a local
// directory, satisfying the "local" install source. It is always available
// with no injected dependency.
type LocalFetcher struct{}

func (LocalFetcher) Fetch(_ context.Context, pack SourcePack, destDir string) error {
	if pack.InstallSource != InstallLocal {
		return errs.New(errs.KindManualInstallRequired,
			fmt.Sprintf("pack %q install_source %q has no local fetcher registered", pack.PackID, pack.InstallSource))
	}
	info, err := os.Stat(pack.Location)
	if err != nil {
		return errs.Wrap(errs.KindNetworkError, fmt.Sprintf("reading local source %s", pack.Location), err)
	}
	if !info.IsDir() {
		return errs.New(errs.KindManualInstallRequired, fmt.Sprintf("local source %s is not a directory", pack.Location))
	}
	return copyTree(pack.Location, destDir)
}

func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		return os.WriteFile(target, data, 0o644)
	})
}

// Installer installs/uninstalls catalog packs into a content-addressed data
// root, rewriting the manifest atomically on every change.
type Installer struct {
	dataRoot string
	catalog  *Catalog
	fetchers map[InstallKind]Fetcher
	logger   *slog.Logger
}

// NewInstaller constructs an Installer rooted at dataRoot. A LocalFetcher is
// registered by default for InstallLocal; callers register additional
// fetchers (git/zip) via RegisterFetcher. A nil logger discards.
func NewInstaller(dataRoot string, catalog *Catalog, logger *slog.Logger) *Installer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Installer{
		dataRoot: dataRoot,
		catalog:  catalog,
		fetchers: map[InstallKind]Fetcher{
			InstallLocal: LocalFetcher{},
		},
		logger: logger,
	}
}

// RegisterFetcher installs a transport-specific Fetcher for an InstallKind.
func (in *Installer) RegisterFetcher(kind InstallKind, f Fetcher) {
	in.fetchers[kind] = f
}

func (in *Installer) manifestPath() string {
	return filepath.Join(in.dataRoot, "installed_sources.json")
}

func (in *Installer) loadManifest() (*Manifest, error) {
	path := in.manifestPath()
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Manifest{Packs: map[string]InstalledPack{}}, nil
		}
		return nil, fmt.Errorf("sources: reading manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("sources: parsing manifest: %w", err)
	}
	if m.Packs == nil {
		m.Packs = map[string]InstalledPack{}
	}
	return &m, nil
}

// saveManifest rewrites installed_sources.json atomically: temp file, fsync,
// rename.
func (in *Installer) saveManifest(m *Manifest) error {
	if err := os.MkdirAll(in.dataRoot, 0o755); err != nil {
		return fmt.Errorf("sources: creating data root: %w", err)
	}
	raw, err := canonicalize.JSON(m)
	if err != nil {
		return fmt.Errorf("sources: encoding manifest: %w", err)
	}

	path := in.manifestPath()
	tmp := path + fmt.Sprintf(".tmp.%d", os.Getpid())
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("sources: creating temp manifest: %w", err)
	}
	if _, err := f.Write(raw); err != nil {
		_ = f.Close()
		return fmt.Errorf("sources: writing temp manifest: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sources: fsync temp manifest: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("sources: closing temp manifest: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("sources: renaming manifest into place: %w", err)
	}
	if dir, err := os.Open(in.dataRoot); err == nil {
		_ = dir.Sync() // best effort
		_ = dir.Close()
	}
	return nil
}

// Install installs a catalog pack. acceptEULA must be true for any pack whose
// license requires it unless force is set.
func (in *Installer) Install(ctx context.Context, packID string, acceptEULA, force bool) (*InstalledPack, error) {
	pack, ok := in.catalog.Get(packID)
	if !ok {
		return nil, errs.SourceNotFound(packID)
	}

	// Pack versions feed lockfile pins and version-drift reporting, so a
	// non-empty version must parse as semver before anything hits disk.
	if pack.Version != "" {
		if _, err := semver.NewVersion(pack.Version); err != nil {
			return nil, fmt.Errorf("sources: pack %q version %q is not a valid semver: %w", packID, pack.Version, err)
		}
	}

	if pack.RequiresEULA() && !acceptEULA && !force {
		return nil, errs.EulaRequired(packID)
	}

	fetcher, ok := in.fetchers[pack.InstallSource]
	if !ok {
		return nil, errs.New(errs.KindManualInstallRequired,
			fmt.Sprintf("no fetcher registered for install_source %q of pack %q", pack.InstallSource, packID))
	}

	installPath := filepath.Join(in.dataRoot, packID)
	if err := os.RemoveAll(installPath); err != nil {
		return nil, fmt.Errorf("sources: clearing previous install dir: %w", err)
	}
	if err := os.MkdirAll(installPath, 0o755); err != nil {
		return nil, fmt.Errorf("sources: creating install dir: %w", err)
	}

	if err := fetcher.Fetch(ctx, pack, installPath); err != nil {
		return nil, err
	}

	fileCount, contentHash, err := hashInstalledTree(installPath)
	if err != nil {
		return nil, fmt.Errorf("sources: hashing installed pack %q: %w", packID, err)
	}

	installed := InstalledPack{
		SourcePack:  pack,
		InstallPath: installPath,
		InstalledAt: time.Now().UTC(),
		FileCount:   fileCount,
		ContentHash: contentHash,
	}
	// Only set eula_accepted_at when the pack actually requires an EULA; a
	// permissively-licensed pack never needed acceptance in the first place.
	if pack.RequiresEULA() {
		now := time.Now().UTC()
		installed.EulaAcceptedAt = &now
	}

	m, err := in.loadManifest()
	if err != nil {
		return nil, err
	}
	m.Packs[packID] = installed
	if err := in.saveManifest(m); err != nil {
		return nil, err
	}

	in.logger.Info("pack installed",
		"pack_id", packID,
		"version", pack.Version,
		"file_count", fileCount,
		"content_hash", contentHash)

	return &installed, nil
}

// Uninstall removes an installed pack's files and manifest entry.
func (in *Installer) Uninstall(packID string) error {
	m, err := in.loadManifest()
	if err != nil {
		return err
	}
	installed, ok := m.Packs[packID]
	if !ok {
		return errs.New(errs.KindNotInstalled, fmt.Sprintf("pack %q is not installed", packID))
	}
	if err := os.RemoveAll(installed.InstallPath); err != nil {
		return fmt.Errorf("sources: removing install dir: %w", err)
	}
	delete(m.Packs, packID)
	if err := in.saveManifest(m); err != nil {
		return err
	}
	in.logger.Info("pack uninstalled", "pack_id", packID)
	return nil
}

// IsInstalled reports whether a pack is currently installed.
func (in *Installer) IsInstalled(packID string) (bool, error) {
	m, err := in.loadManifest()
	if err != nil {
		return false, err
	}
	_, ok := m.Packs[packID]
	return ok, nil
}

// Get returns the InstalledPack record for packID.
func (in *Installer) Get(packID string) (*InstalledPack, error) {
	m, err := in.loadManifest()
	if err != nil {
		return nil, err
	}
	p, ok := m.Packs[packID]
	if !ok {
		return nil, errs.New(errs.KindNotInstalled, fmt.Sprintf("pack %q is not installed", packID))
	}
	return &p, nil
}

// Installed returns every currently-installed pack.
func (in *Installer) Installed() ([]InstalledPack, error) {
	m, err := in.loadManifest()
	if err != nil {
		return nil, err
	}
	out := make([]InstalledPack, 0, len(m.Packs))
	for _, p := range m.Packs {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PackID < out[j].PackID })
	return out, nil
}

// Status reports install/eula/role/license status for every catalog entry.
func (in *Installer) Status() (map[string]Status, error) {
	m, err := in.loadManifest()
	if err != nil {
		return nil, err
	}
	out := make(map[string]Status, len(in.catalog.packs))
	for id, p := range in.catalog.packs {
		_, installed := m.Packs[id]
		out[id] = Status{
			Installed:    installed,
			RequiresEULA: p.RequiresEULA(),
			Role:         p.Role,
			License:      p.License,
		}
	}
	return out, nil
}

// hashInstalledTree computes content_hash: SHA-256 over the sorted list of
// (relative_path, SHA-256 of the file's bytes) pairs.
func hashInstalledTree(root string) (fileCount int, contentHash string, err error) {
	type entry struct {
		relPath string
		data    []byte
	}
	var entries []entry

	walkErr := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		entries = append(entries, entry{relPath: filepath.ToSlash(rel), data: data})
		return nil
	})
	if walkErr != nil {
		return 0, "", walkErr
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].relPath < entries[j].relPath })

	pairs := make([]interface{}, 0, len(entries))
	for _, e := range entries {
		pairs = append(pairs, map[string]interface{}{
			"path":  e.relPath,
			"bytes": canonicalize.HashBytes(e.data),
		})
	}
	hash, err := canonicalize.ContentHash(pairs)
	if err != nil {
		return 0, "", err
	}
	return len(entries), hash, nil
}
