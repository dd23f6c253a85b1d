// Package run implements the end-to-end scholarly run: lockfile generation,
// gate checking, translation, full artifact export, snapshot, bundling, and
// a deterministic run log tying every produced file back to a single
// invocation. Every primitive it touches (lockfile, pipeline, gate, export,
// snapshot, bundle) already exists as its own package; this package is pure
// orchestration.
package run

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/Angelice80/redletters/pkg/bundle"
	"github.com/Angelice80/redletters/pkg/canonicalize"
	"github.com/Angelice80/redletters/pkg/export"
	"github.com/Angelice80/redletters/pkg/gate"
	"github.com/Angelice80/redletters/pkg/lockfile"
	"github.com/Angelice80/redletters/pkg/pipeline"
	"github.com/Angelice80/redletters/pkg/snapshot"
	"github.com/Angelice80/redletters/pkg/sources"
	"github.com/Angelice80/redletters/pkg/validate"
)

// SchemaVersion is the run_log.json schema version.
const SchemaVersion = "1.0.0"

// Stage names emitted to the progress callback, in the order they fire.
const (
	StageLockfile           = "lockfile"
	StageGatesCheck         = "gates_check"
	StageTranslate          = "translate"
	StageExportApparatus    = "export_apparatus"
	StageExportTranslation  = "export_translation"
	StageExportCitations    = "export_citations"
	StageExportQuote        = "export_quote"
	StageSnapshot           = "snapshot"
	StageBundle             = "bundle"
	StageFinalize           = "finalize"
)

// Command records the parameters a run was invoked with.
type Command struct {
	Reference      string `json:"reference"`
	OutputDir      string `json:"output_dir"`
	Mode           pipeline.Mode `json:"mode"`
	IncludeSchemas bool   `json:"include_schemas"`
	CreateZip      bool   `json:"create_zip"`
	Force          bool   `json:"force"`
}

// LogFile is one file this run produced.
type LogFile struct {
	Path          string `json:"path"`
	ArtifactType  string `json:"artifact_type"`
	SHA256        string `json:"sha256"`
	SchemaVersion string `json:"schema_version,omitempty"`
}

// Validation is one pass/fail check recorded during the run.
type Validation struct {
	Check    string   `json:"check"`
	Passed   bool     `json:"passed"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// GatesSummary records pending-gate state and, if --force was used, the
// recorded acknowledgement of responsibility for bypassing it.
type GatesSummary struct {
	PendingCount          int      `json:"pending_count"`
	PendingRefs           []string `json:"pending_refs"`
	Forced                bool     `json:"forced,omitempty"`
	ForcedResponsibility  string   `json:"forced_responsibility,omitempty"`
}

// PackSummary is one pack's identity as recorded in the run log.
type PackSummary struct {
	PackID  string `json:"pack_id"`
	Version string `json:"version"`
	Role    sources.Role `json:"role"`
	License string `json:"license,omitempty"`
}

// PacksSummary is the full installed-pack set used by this run.
type PacksSummary struct {
	Count        int           `json:"count"`
	Packs        []PackSummary `json:"packs"`
	LockfileHash string        `json:"lockfile_hash,omitempty"`
}

// Log is the deterministic run_log.json document.
type Log struct {
	SchemaVersion string        `json:"schema_version"`
	ToolVersion   string        `json:"tool_version"`
	Command       Command       `json:"command"`
	StartedAt     time.Time     `json:"started_at"`
	CompletedAt   time.Time     `json:"completed_at"`
	Reference     string        `json:"reference"`
	VerseIDs      []string      `json:"verse_ids"`
	Mode          pipeline.Mode `json:"mode"`
	PacksSummary  *PacksSummary `json:"packs_summary,omitempty"`
	FilesCreated  []LogFile     `json:"files_created"`
	Validations   []Validation  `json:"validations"`
	Gates         *GatesSummary `json:"gates,omitempty"`
	Success       bool          `json:"success"`
	Errors        []string      `json:"errors,omitempty"`
	ContentHash   string        `json:"content_hash"`
}

// computeContentHash hashes the sorted-by-path sha256 set of every file this
// run produced. It uses the same ConcatHash aggregation as the bundle
// manifest, but the bundle orders its entries by artifact type first, so
// the two orderings differ.
func (l *Log) computeContentHash() string {
	files := append([]LogFile(nil), l.FilesCreated...)
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	hashes := make([]string, len(files))
	for i, f := range files {
		hashes[i] = f.SHA256
	}
	return canonicalize.ConcatHash(hashes)
}

// Save computes the content hash and writes the run log as canonical,
// pretty-printed JSON.
func (l *Log) Save(path string) (string, int64, error) {
	l.ContentHash = l.computeContentHash()
	raw, err := canonicalize.JSON(l)
	if err != nil {
		return "", 0, fmt.Errorf("run: encoding log: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return "", 0, fmt.Errorf("run: writing %s: %w", path, err)
	}
	return canonicalize.HashBytes(raw), int64(len(raw)), nil
}

// ProgressFunc receives (stage, message) as the run advances.
type ProgressFunc func(stage, message string)

// CancelFunc reports whether cancellation has been requested; checked
// between every stage.
type CancelFunc func() bool

// Result is what a run produces, successful or not.
type Result struct {
	Success     bool
	Log         *Log
	OutputDir   string
	BundleDir   string
	Errors      []string
	GateBlocked bool
	GateRefs    []string
	Cancelled   bool
}

// Runner orchestrates a complete scholarly run over already-constructed
// collaborators. Nothing here opens a database or installs a pack — that is
// the caller's job, matching the narrow-dependency-injection shape the rest
// of this codebase uses.
type Runner struct {
	Orchestrator *pipeline.Orchestrator
	Translator   pipeline.Translator
	VariantStore export.VariantLookup
	Ledger       *gate.Ledger
	Installer    *sources.Installer
	ToolVersion  string
	SessionID    string
	Logger       *slog.Logger

	Progress ProgressFunc
	Cancel   CancelFunc
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.New(slog.DiscardHandler)
}

func (r *Runner) emit(stage, message string) {
	r.logger().Debug("run stage", "stage", stage, "message", message)
	if r.Progress != nil {
		r.Progress(stage, message)
	}
}

func (r *Runner) cancelled() bool {
	return r.Cancel != nil && r.Cancel()
}

func cancelledResult() *Result {
	return &Result{Success: false, Cancelled: true, Errors: []string{"run cancelled"}}
}

// Run executes a complete scholarly run for reference, writing every
// artifact under outputDir.
func (r *Runner) Run(ctx context.Context, reference, outputDir string, mode pipeline.Mode, includeSchemas, createZip, force bool) (*Result, error) {
	startedAt := time.Now().UTC()
	cmd := Command{
		Reference:      reference,
		OutputDir:      outputDir,
		Mode:           mode,
		IncludeSchemas: includeSchemas,
		CreateZip:      createZip,
		Force:          force,
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("run: creating output dir: %w", err)
	}

	parsed, err := pipeline.ParseReference(reference)
	if err != nil {
		return r.errorResult(cmd, startedAt, reference, nil, mode, nil, nil,
			fmt.Sprintf("reference parse error: %v", err)), nil
	}

	var filesCreated []LogFile
	var validations []Validation
	var runErrors []string

	// 1. Lockfile
	r.emit(StageLockfile, "generating lockfile from installed packs")
	lockfilePath := filepath.Join(outputDir, "lockfile.json")
	installed, err := r.Installer.Installed()
	if err != nil {
		return r.errorResult(cmd, startedAt, parsed.NormalizedRef, parsed.VerseIDs, mode, nil, nil,
			fmt.Sprintf("lockfile generation failed: %v", err)), nil
	}
	lf, err := lockfile.Generate(r.ToolVersion, installed)
	if err != nil {
		return r.errorResult(cmd, startedAt, parsed.NormalizedRef, parsed.VerseIDs, mode, nil, nil,
			fmt.Sprintf("lockfile generation failed: %v", err)), nil
	}
	if err := lockfile.Save(lockfilePath, lf); err != nil {
		return r.errorResult(cmd, startedAt, parsed.NormalizedRef, parsed.VerseIDs, mode, nil, nil,
			fmt.Sprintf("lockfile generation failed: %v", err)), nil
	}
	lfHash, err := canonicalize.FileHash(lockfilePath)
	if err != nil {
		return r.errorResult(cmd, startedAt, parsed.NormalizedRef, parsed.VerseIDs, mode, nil, nil,
			fmt.Sprintf("lockfile hashing failed: %v", err)), nil
	}
	filesCreated = append(filesCreated, LogFile{Path: "lockfile.json", ArtifactType: "lockfile", SHA256: lfHash, SchemaVersion: lockfile.SchemaVersion})
	validations = append(validations, Validation{Check: "lockfile_generation", Passed: true})

	packsSummary := &PacksSummary{Count: len(lf.Packs), LockfileHash: lf.LockfileHash}
	for _, p := range lf.Packs {
		packsSummary.Packs = append(packsSummary.Packs, PackSummary{PackID: p.PackID, Version: p.Version, Role: p.Role, License: p.License})
	}

	if r.cancelled() {
		return cancelledResult(), nil
	}

	// 2. Gate check
	r.emit(StageGatesCheck, "checking for pending gates")
	state, err := r.Ledger.LoadSessionState(ctx, r.SessionID)
	if err != nil {
		return r.errorResult(cmd, startedAt, parsed.NormalizedRef, parsed.VerseIDs, mode, packsSummary, nil,
			fmt.Sprintf("gate check failed: %v", err)), nil
	}

	var pendingRefs []string
	for _, vid := range parsed.VerseIDs {
		significant, err := r.VariantStore.ListSignificant(ctx, vid)
		if err != nil {
			return r.errorResult(cmd, startedAt, parsed.NormalizedRef, parsed.VerseIDs, mode, packsSummary, nil,
				fmt.Sprintf("gate check failed: %v", err)), nil
		}
		for _, vu := range significant {
			if _, ok := state.AckedVariants[vu.Ref]; !ok {
				pendingRefs = append(pendingRefs, vu.Ref)
			}
		}
	}

	gates := &GatesSummary{PendingCount: len(pendingRefs), PendingRefs: pendingRefs}

	if len(pendingRefs) > 0 && !force {
		return &Result{
			Success:     false,
			GateBlocked: true,
			GateRefs:    pendingRefs,
			Errors: []string{fmt.Sprintf(
				"blocked by %d pending gate(s): %s. Use force to proceed with responsibility recorded.",
				len(pendingRefs), firstFew(pendingRefs, 5))},
		}, nil
	}

	if len(pendingRefs) > 0 && force {
		gates.Forced = true
		gates.ForcedResponsibility = fmt.Sprintf(
			"bypassed %d pending gate(s) with force at %s; pending refs: %s",
			len(pendingRefs), time.Now().UTC().Format(time.RFC3339), joinRefs(pendingRefs))
		for _, ref := range pendingRefs {
			if err := r.Ledger.AcknowledgeVariant(ctx, r.SessionID, ref, 0, "forced by --force run"); err != nil {
				return r.errorResult(cmd, startedAt, parsed.NormalizedRef, parsed.VerseIDs, mode, packsSummary, gates,
					fmt.Sprintf("forced acknowledgement failed: %v", err)), nil
			}
		}
	}

	validations = append(validations, Validation{
		Check:    "gate_check",
		Passed:   len(pendingRefs) == 0 || force,
		Warnings: pendingWarnings(pendingRefs),
	})

	if r.cancelled() {
		return cancelledResult(), nil
	}

	// 3. Translate
	r.emit(StageTranslate, fmt.Sprintf("translating %s", parsed.NormalizedRef))
	resp, gateResp, err := r.Orchestrator.TranslatePassage(ctx, reference, mode, r.SessionID, r.Translator)
	if err != nil {
		return r.errorResult(cmd, startedAt, parsed.NormalizedRef, parsed.VerseIDs, mode, packsSummary, gates,
			fmt.Sprintf("translation failed: %v", err)), nil
	}
	if gateResp != nil {
		return r.errorResult(cmd, startedAt, parsed.NormalizedRef, parsed.VerseIDs, mode, packsSummary, gates,
			fmt.Sprintf("unexpected gate response after acknowledgement: %s", gateResp.Kind)), nil
	}
	validations = append(validations, Validation{Check: "translation", Passed: true})

	if r.cancelled() {
		return cancelledResult(), nil
	}

	// 4. Export artifacts
	r.emit(StageExportApparatus, "exporting apparatus")
	apparatusPath := filepath.Join(outputDir, "apparatus.jsonl")
	if fr, err := export.ExportApparatus(ctx, r.VariantStore, parsed.VerseIDs, apparatusPath); err != nil {
		runErrors = append(runErrors, fmt.Sprintf("apparatus export failed: %v", err))
		validations = append(validations, Validation{Check: "apparatus_export", Passed: false, Errors: []string{err.Error()}})
	} else {
		filesCreated = append(filesCreated, LogFile{Path: "apparatus.jsonl", ArtifactType: "apparatus", SHA256: fr.SHA256, SchemaVersion: fr.SchemaVersion})
		validations = append(validations, Validation{Check: "apparatus_export", Passed: true})
	}

	r.emit(StageExportTranslation, "exporting translation")
	translationPath := filepath.Join(outputDir, "translation.jsonl")
	if fr, err := export.ExportTranslation(resp, translationPath); err != nil {
		runErrors = append(runErrors, fmt.Sprintf("translation export failed: %v", err))
		validations = append(validations, Validation{Check: "translation_export", Passed: false, Errors: []string{err.Error()}})
	} else {
		filesCreated = append(filesCreated, LogFile{Path: "translation.jsonl", ArtifactType: "translation", SHA256: fr.SHA256, SchemaVersion: fr.SchemaVersion})
		validations = append(validations, Validation{Check: "translation_export", Passed: true})
	}

	r.emit(StageExportCitations, "exporting citations")
	citationsPath := filepath.Join(outputDir, "citations.json")
	installedMap := make(map[string]sources.SourcePack, len(installed))
	for _, p := range installed {
		installedMap[p.PackID] = p.SourcePack
	}
	if fr, err := export.ExportCitations(resp, installedMap, citationsPath); err != nil {
		runErrors = append(runErrors, fmt.Sprintf("citations export failed: %v", err))
		validations = append(validations, Validation{Check: "citations_export", Passed: false, Errors: []string{err.Error()}})
	} else {
		filesCreated = append(filesCreated, LogFile{Path: "citations.json", ArtifactType: "citations", SHA256: fr.SHA256, SchemaVersion: fr.SchemaVersion})
		validations = append(validations, Validation{Check: "citations_export", Passed: true})
	}

	r.emit(StageExportQuote, "exporting quote")
	quotePath := filepath.Join(outputDir, "quote.json")
	if fr, err := export.ExportQuote(resp, resp.Text, quotePath); err != nil {
		runErrors = append(runErrors, fmt.Sprintf("quote export failed: %v", err))
		validations = append(validations, Validation{Check: "quote_export", Passed: false, Errors: []string{err.Error()}})
	} else {
		filesCreated = append(filesCreated, LogFile{Path: "quote.json", ArtifactType: "quote", SHA256: fr.SHA256, SchemaVersion: fr.SchemaVersion})
		validations = append(validations, Validation{Check: "quote_export", Passed: true})
	}

	// 5. Snapshot
	r.emit(StageSnapshot, "creating snapshot")
	snapshotPath := filepath.Join(outputDir, "snapshot.json")
	var snapFiles []snapshot.FileEntry
	schemaVersions := map[string]string{}
	for _, fc := range filesCreated {
		if fc.ArtifactType == "lockfile" {
			continue
		}
		var size int64
		if info, err := os.Stat(filepath.Join(outputDir, fc.Path)); err == nil {
			size = info.Size()
		}
		snapFiles = append(snapFiles, snapshot.FileEntry{Path: fc.Path, SHA256: fc.SHA256, SizeBytes: size, SchemaVersion: fc.SchemaVersion})
		if fc.SchemaVersion != "" {
			schemaVersions[fc.ArtifactType] = fc.SchemaVersion
		}
	}
	var snapPacks []snapshot.PackInfo
	for _, p := range lf.Packs {
		snapPacks = append(snapPacks, snapshot.PackInfo{PackID: p.PackID, Version: p.Version, ContentHash: p.ContentHash})
	}
	snapGen := snapshot.NewGenerator(r.ToolVersion)
	snap := snapGen.Generate(snapFiles, snapPacks, schemaVersions, lf.LockfileHash)
	if _, _, err := snapshot.Save(snapshotPath, snap); err != nil {
		runErrors = append(runErrors, fmt.Sprintf("snapshot generation failed: %v", err))
		validations = append(validations, Validation{Check: "snapshot_generation", Passed: false, Errors: []string{err.Error()}})
	} else {
		snapHash, _ := canonicalize.FileHash(snapshotPath)
		filesCreated = append(filesCreated, LogFile{Path: "snapshot.json", ArtifactType: "snapshot", SHA256: snapHash, SchemaVersion: snapshot.SchemaVersion})
		validations = append(validations, Validation{Check: "snapshot_generation", Passed: true})
	}

	if r.cancelled() {
		return cancelledResult(), nil
	}

	// 6. Bundle
	r.emit(StageBundle, "creating bundle")
	bundleDir := filepath.Join(outputDir, "bundle")
	var artifactInputs []bundle.InputFile
	for _, fc := range filesCreated {
		if fc.ArtifactType == "lockfile" || fc.ArtifactType == "snapshot" {
			continue
		}
		artifactInputs = append(artifactInputs, bundle.InputFile{
			SourcePath:    filepath.Join(outputDir, fc.Path),
			BundlePath:    fc.Path,
			SchemaVersion: fc.SchemaVersion,
		})
	}

	var schemaInputs []bundle.InputFile
	if includeSchemas {
		schemaDir := filepath.Join(outputDir, ".schemas")
		paths, err := validate.WriteSchemas(schemaDir)
		if err != nil {
			runErrors = append(runErrors, fmt.Sprintf("schema extraction failed: %v", err))
		}
		for _, p := range paths {
			schemaInputs = append(schemaInputs, bundle.InputFile{SourcePath: p, BundlePath: filepath.Join("schema", filepath.Base(p))})
		}
	}

	bundleCreator := bundle.NewCreator(r.ToolVersion)
	manifest, err := bundleCreator.Create(ctx, bundleDir, lockfilePath, snapshotPath, artifactInputs, schemaInputs, createZip)
	if err != nil {
		runErrors = append(runErrors, fmt.Sprintf("bundle creation failed: %v", err))
		validations = append(validations, Validation{Check: "bundle_creation", Passed: false, Errors: []string{err.Error()}})
	} else {
		validations = append(validations, Validation{Check: "bundle_creation", Passed: true})
		_ = manifest
	}

	// 7. Verify bundle
	verifier := bundle.NewVerifier()
	verifyResult, err := verifier.Verify(bundleDir)
	if err != nil {
		runErrors = append(runErrors, fmt.Sprintf("bundle verification failed: %v", err))
		validations = append(validations, Validation{Check: "bundle_verification", Passed: false, Errors: []string{err.Error()}})
	} else if !verifyResult.Valid {
		for _, f := range verifyResult.Failures {
			runErrors = append(runErrors, fmt.Sprintf("bundle verification failed: %s (%s)", f.Kind, f.Detail))
		}
		validations = append(validations, Validation{Check: "bundle_verification", Passed: false})
	} else {
		validations = append(validations, Validation{Check: "bundle_verification", Passed: true})
	}

	// 8. Finalize run log
	r.emit(StageFinalize, "writing run log")
	completedAt := time.Now().UTC()
	success := len(runErrors) == 0
	if !success {
		r.logger().Warn("run completed with errors", "error_count", len(runErrors))
	}

	log := &Log{
		SchemaVersion: SchemaVersion,
		ToolVersion:   r.ToolVersion,
		Command:       cmd,
		StartedAt:     startedAt,
		CompletedAt:   completedAt,
		Reference:     parsed.NormalizedRef,
		VerseIDs:      parsed.VerseIDs,
		Mode:          mode,
		PacksSummary:  packsSummary,
		FilesCreated:  filesCreated,
		Validations:   validations,
		Gates:         gates,
		Success:       success,
		Errors:        runErrors,
	}

	runLogPath := filepath.Join(outputDir, "run_log.json")
	if _, _, err := log.Save(runLogPath); err != nil {
		return nil, fmt.Errorf("run: saving run log: %w", err)
	}

	return &Result{
		Success:   success,
		Log:       log,
		OutputDir: outputDir,
		BundleDir: bundleDir,
		Errors:    runErrors,
	}, nil
}

func (r *Runner) errorResult(cmd Command, startedAt time.Time, reference string, verseIDs []string, mode pipeline.Mode, packs *PacksSummary, gates *GatesSummary, message string) *Result {
	log := &Log{
		SchemaVersion: SchemaVersion,
		ToolVersion:   r.ToolVersion,
		Command:       cmd,
		StartedAt:     startedAt,
		CompletedAt:   time.Now().UTC(),
		Reference:     reference,
		VerseIDs:      verseIDs,
		Mode:          mode,
		PacksSummary:  packs,
		Gates:         gates,
		Success:       false,
		Errors:        []string{message},
	}
	return &Result{Success: false, Log: log, Errors: []string{message}}
}

func firstFew(refs []string, n int) string {
	if len(refs) <= n {
		return joinRefs(refs)
	}
	return joinRefs(refs[:n]) + ", ..."
}

func joinRefs(refs []string) string {
	out := ""
	for i, r := range refs {
		if i > 0 {
			out += ", "
		}
		out += r
	}
	return out
}

func pendingWarnings(refs []string) []string {
	if len(refs) == 0 {
		return nil
	}
	warnings := make([]string, len(refs))
	for i, ref := range refs {
		warnings[i] = fmt.Sprintf("pending gate: %s", ref)
	}
	return warnings
}
