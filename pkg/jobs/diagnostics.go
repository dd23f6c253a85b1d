package jobs

import (
	"archive/zip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"time"

	"github.com/Angelice80/redletters/pkg/canonicalize"
	"github.com/Angelice80/redletters/pkg/errs"
)

// secretTokenPattern matches the token shape diagnostics exports must never
// leak.
var secretTokenPattern = regexp.MustCompile(`rl_[A-Za-z0-9_-]{20,}`)

// IntegrityStatus classifies one artifact or receipt's on-disk state
// relative to its recorded database hash.
type IntegrityStatus string

const (
	IntegrityMatch          IntegrityStatus = "MATCH"
	IntegrityMismatch       IntegrityStatus = "MISMATCH"
	IntegrityMissing        IntegrityStatus = "MISSING"
	IntegrityDBOnly         IntegrityStatus = "DB_ONLY"
	IntegrityFileOnly       IntegrityStatus = "FILE_ONLY"
	IntegritySkippedLarge   IntegrityStatus = "SKIPPED_LARGE"
	IntegritySkippedDisable IntegrityStatus = "SKIPPED_DISABLED"
)

// IntegrityResult is one artifact or receipt's integrity check outcome.
type IntegrityResult struct {
	JobID        string          `json:"job_id"`
	ArtifactType string          `json:"artifact_type"`
	Name         string          `json:"name"`
	Path         string          `json:"path"`
	Status       IntegrityStatus `json:"status"`
	ExpectedHash string          `json:"expected_hash,omitempty"`
	ActualHash   string          `json:"actual_hash,omitempty"`
	SizeBytes    int64           `json:"size_bytes,omitempty"`
	Reason       string          `json:"reason,omitempty"`
}

// IntegrityFailure is the compact shape surfaced in IntegrityReport.Failures.
type IntegrityFailure struct {
	JobID    string `json:"job_id"`
	Path     string `json:"path"`
	Expected string `json:"expected,omitempty"`
	Actual   string `json:"actual,omitempty"`
	Reason   string `json:"reason"`
}

// IntegrityReport is the complete per-job, per-artifact integrity scan
// bundled into every diagnostics export. SizeThresholdBytes is captured
// once at construction; a threshold change mid-run never affects an
// in-flight report.
type IntegrityReport struct {
	GeneratedAt        time.Time         `json:"generated_at"`
	FullIntegrityMode  bool              `json:"full_integrity_mode"`
	SizeThresholdBytes int64             `json:"size_threshold_bytes"`
	Summary            map[string]int    `json:"summary"`
	Results            []IntegrityResult `json:"results"`
	Failures           []IntegrityFailure `json:"failures"`
}

// NewIntegrityReport constructs an empty report with sizeThreshold captured
// once, immune to any later change to REDLETTERS_INTEGRITY_SIZE_THRESHOLD.
func NewIntegrityReport(fullIntegrity bool, sizeThreshold int64) *IntegrityReport {
	return &IntegrityReport{
		GeneratedAt:        time.Now().UTC(),
		FullIntegrityMode:  fullIntegrity,
		SizeThresholdBytes: sizeThreshold,
		Summary:            map[string]int{"ok": 0, "warn": 0, "fail": 0, "skipped": 0},
	}
}

func (r *IntegrityReport) addResult(res IntegrityResult) {
	r.Results = append(r.Results, res)
	switch res.Status {
	case IntegrityMatch:
		r.Summary["ok"]++
	case IntegritySkippedLarge, IntegritySkippedDisable:
		r.Summary["skipped"]++
	case IntegrityFileOnly, IntegrityDBOnly:
		r.Summary["warn"]++
		r.Failures = append(r.Failures, IntegrityFailure{
			JobID: res.JobID, Path: res.Path, Expected: res.ExpectedHash, Actual: res.ActualHash,
			Reason: pick(res.Reason, string(res.Status)),
		})
	default: // MISMATCH, MISSING
		r.Summary["fail"]++
		r.Failures = append(r.Failures, IntegrityFailure{
			JobID: res.JobID, Path: res.Path, Expected: res.ExpectedHash, Actual: res.ActualHash,
			Reason: pick(res.Reason, string(res.Status)),
		})
	}
}

func pick(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}

func hashFileOrEmpty(path string) string {
	hash, err := canonicalize.FileHash(path)
	if err != nil {
		return ""
	}
	return hash
}

func checkReceiptIntegrity(job *Job) *IntegrityResult {
	if job.WorkspacePath == "" {
		return nil
	}
	receiptPath := filepath.Join(job.WorkspacePath, "receipt.json")
	info, statErr := os.Stat(receiptPath)
	exists := statErr == nil

	if job.ReceiptHash == "" {
		if !exists {
			return nil
		}
		return &IntegrityResult{
			JobID: job.JobID, ArtifactType: "receipt", Name: "receipt.json", Path: receiptPath,
			Status: IntegrityFileOnly, ActualHash: hashFileOrEmpty(receiptPath),
			Reason: "receipt file exists but no hash stored in the job row",
		}
	}
	if !exists {
		return &IntegrityResult{
			JobID: job.JobID, ArtifactType: "receipt", Name: "receipt.json", Path: receiptPath,
			Status: IntegrityMissing, ExpectedHash: job.ReceiptHash,
			Reason: "receipt file missing but the job row has a hash",
		}
	}
	actual := hashFileOrEmpty(receiptPath)
	if actual == job.ReceiptHash {
		return &IntegrityResult{
			JobID: job.JobID, ArtifactType: "receipt", Name: "receipt.json", Path: receiptPath,
			Status: IntegrityMatch, ExpectedHash: job.ReceiptHash, ActualHash: actual, SizeBytes: info.Size(),
		}
	}
	return &IntegrityResult{
		JobID: job.JobID, ArtifactType: "receipt", Name: "receipt.json", Path: receiptPath,
		Status: IntegrityMismatch, ExpectedHash: job.ReceiptHash, ActualHash: actual, SizeBytes: info.Size(),
		Reason: "receipt hash mismatch - possible tampering",
	}
}

func checkArtifactIntegrity(jobID string, a ArtifactInfo, fullIntegrity bool, sizeThreshold int64) IntegrityResult {
	info, statErr := os.Stat(a.Path)
	exists := statErr == nil

	if a.SHA256 == "" {
		if exists {
			return IntegrityResult{
				JobID: jobID, ArtifactType: a.ArtifactType, Name: a.Name, Path: a.Path,
				Status: IntegrityFileOnly, Reason: "artifact file exists but no hash stored in the job row",
			}
		}
		return IntegrityResult{
			JobID: jobID, ArtifactType: a.ArtifactType, Name: a.Name, Path: a.Path,
			Status: IntegrityDBOnly, Reason: "artifact registered but file not found and no hash recorded",
		}
	}
	if !exists {
		return IntegrityResult{
			JobID: jobID, ArtifactType: a.ArtifactType, Name: a.Name, Path: a.Path,
			Status: IntegrityMissing, ExpectedHash: a.SHA256, Reason: "artifact file missing but the job row has a hash",
		}
	}
	if !fullIntegrity && info.Size() > sizeThreshold {
		return IntegrityResult{
			JobID: jobID, ArtifactType: a.ArtifactType, Name: a.Name, Path: a.Path,
			Status: IntegritySkippedLarge, ExpectedHash: a.SHA256, SizeBytes: info.Size(),
			Reason: fmt.Sprintf("file size %d exceeds threshold %d", info.Size(), sizeThreshold),
		}
	}
	actual := hashFileOrEmpty(a.Path)
	if actual == a.SHA256 {
		return IntegrityResult{
			JobID: jobID, ArtifactType: a.ArtifactType, Name: a.Name, Path: a.Path,
			Status: IntegrityMatch, ExpectedHash: a.SHA256, ActualHash: actual, SizeBytes: info.Size(),
		}
	}
	return IntegrityResult{
		JobID: jobID, ArtifactType: a.ArtifactType, Name: a.Name, Path: a.Path,
		Status: IntegrityMismatch, ExpectedHash: a.SHA256, ActualHash: actual, SizeBytes: info.Size(),
		Reason: "artifact hash mismatch - possible tampering",
	}
}

// GenerateIntegrityReport scans every job's receipt and every registered
// artifact, cross-checking the job-row hash against the file on disk.
func GenerateIntegrityReport(ctx context.Context, store *Store, fullIntegrity bool, sizeThreshold int64) (*IntegrityReport, error) {
	report := NewIntegrityReport(fullIntegrity, sizeThreshold)

	jobs, err := store.ListJobs(ctx, nil, 1000)
	if err != nil {
		return nil, fmt.Errorf("jobs: listing jobs for integrity report: %w", err)
	}
	for _, job := range jobs {
		if res := checkReceiptIntegrity(job); res != nil {
			report.addResult(*res)
		}
		artifacts, err := store.ListArtifacts(ctx, job.JobID)
		if err != nil {
			return nil, fmt.Errorf("jobs: listing artifacts for %s: %w", job.JobID, err)
		}
		for _, a := range artifacts {
			if a.ArtifactType == "receipt" {
				continue
			}
			report.addResult(checkArtifactIntegrity(job.JobID, a, fullIntegrity, sizeThreshold))
		}
	}
	return report, nil
}

// DiagnosticsBundle is the in-memory set of named files a diagnostics
// export writes to disk (and, on request, zips). Keeping this as a plain
// map lets the scrub-and-abort step inspect every byte before anything
// touches the filesystem.
type DiagnosticsBundle struct {
	Files map[string][]byte
}

// SystemInfo is the sanitized host/runtime snapshot every diagnostics
// bundle includes. Only an explicit safe allow-list of environment
// variables is captured; PATH/HOME/USER and anything resembling a
// credential are never read.
type SystemInfo struct {
	Timestamp       time.Time         `json:"timestamp"`
	ToolVersion     string            `json:"tool_version"`
	GoVersion       string            `json:"go_version"`
	OS              string            `json:"os"`
	Arch            string            `json:"arch"`
	NumCPU          int               `json:"num_cpu"`
	Environment     map[string]string `json:"environment"`
}

var safeEnvAllowList = []string{"LANG", "LC_ALL", "TERM"}

func collectSystemInfo(toolVersion string) SystemInfo {
	env := make(map[string]string)
	for _, key := range safeEnvAllowList {
		if v, ok := os.LookupEnv(key); ok {
			env[key] = v
		}
	}
	return SystemInfo{
		Timestamp:   time.Now().UTC(),
		ToolVersion: toolVersion,
		GoVersion:   runtime.Version(),
		OS:          runtime.GOOS,
		Arch:        runtime.GOARCH,
		NumCPU:      runtime.NumCPU(),
		Environment: env,
	}
}

// JobSummaryEntry is one job's sanitized identity in job_summary.json —
// config_json and idempotency_key are deliberately excluded since they may
// carry caller-supplied paths.
type JobSummaryEntry struct {
	JobID       string     `json:"job_id"`
	State       State      `json:"state"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ErrorCode   string     `json:"error_code,omitempty"`
}

// JobSummary aggregates recent job state for the diagnostics bundle.
type JobSummary struct {
	TotalJobs  int                `json:"total_jobs"`
	ByState    map[string]int     `json:"by_state"`
	RecentJobs []JobSummaryEntry  `json:"recent_jobs"`
}

func buildJobSummary(jobs []*Job) JobSummary {
	summary := JobSummary{TotalJobs: len(jobs), ByState: map[string]int{}}
	for i, job := range jobs {
		summary.ByState[string(job.State)]++
		if i < 20 {
			summary.RecentJobs = append(summary.RecentJobs, JobSummaryEntry{
				JobID: job.JobID, State: job.State, CreatedAt: job.CreatedAt,
				CompletedAt: job.CompletedAt, ErrorCode: job.ErrorCode,
			})
		}
	}
	return summary
}

// scrubSecrets redacts every secretTokenPattern match in s.
func scrubSecrets(s string) string {
	return secretTokenPattern.ReplaceAllString(s, "***REDACTED***")
}

// BuildDiagnosticsBundle assembles system_info.json, job_summary.json,
// recent_events.jsonl (scrubbed), integrity_report.json/.txt, and a
// config_sanitized.json, then re-scans every byte for the secret token
// pattern before returning. It never writes to disk itself — callers decide
// whether to write a directory or a zip.
func BuildDiagnosticsBundle(ctx context.Context, store *Store, toolVersion string, fullIntegrity bool, sizeThreshold int64) (*DiagnosticsBundle, error) {
	bundle := &DiagnosticsBundle{Files: map[string][]byte{}}

	sysInfo := collectSystemInfo(toolVersion)
	sysRaw, err := json.MarshalIndent(sysInfo, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("jobs: encoding system_info: %w", err)
	}
	bundle.Files["system_info.json"] = sysRaw

	jobs, err := store.ListJobs(ctx, nil, 1000)
	if err != nil {
		return nil, fmt.Errorf("jobs: listing jobs for summary: %w", err)
	}
	summaryRaw, err := json.MarshalIndent(buildJobSummary(jobs), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("jobs: encoding job_summary: %w", err)
	}
	bundle.Files["job_summary.json"] = summaryRaw

	current, err := store.CurrentSequence(ctx)
	if err != nil {
		return nil, fmt.Errorf("jobs: reading current sequence: %w", err)
	}
	since := current - 1000
	if since < 0 {
		since = 0
	}
	events, err := store.EventsSince(ctx, since, "")
	if err != nil {
		return nil, fmt.Errorf("jobs: reading recent events: %w", err)
	}
	var logLines []byte
	for _, ev := range events {
		scrubbed := *ev
		scrubbed.Message = scrubSecrets(ev.Message)
		if ev.Payload != nil {
			rawPayload, _ := json.Marshal(ev.Payload)
			scrubbedPayload := scrubSecrets(string(rawPayload))
			var decoded map[string]interface{}
			if json.Unmarshal([]byte(scrubbedPayload), &decoded) == nil {
				scrubbed.Payload = decoded
			}
		}
		line, err := json.Marshal(scrubbed)
		if err != nil {
			return nil, fmt.Errorf("jobs: encoding event for diagnostics: %w", err)
		}
		logLines = append(logLines, line...)
		logLines = append(logLines, '\n')
	}
	bundle.Files["recent_events.jsonl"] = logLines

	report, err := GenerateIntegrityReport(ctx, store, fullIntegrity, sizeThreshold)
	if err != nil {
		return nil, fmt.Errorf("jobs: generating integrity report: %w", err)
	}
	reportJSON, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("jobs: encoding integrity_report.json: %w", err)
	}
	bundle.Files["integrity_report.json"] = reportJSON
	bundle.Files["integrity_report.txt"] = []byte(renderIntegrityReportText(report))

	bundle.Files["config_sanitized.json"] = []byte(`{"note":"no local config file format is defined by this core; callers may append their own sanitized config before writing this bundle"}` + "\n")

	if err := verifyNoSecrets(bundle); err != nil {
		return nil, err
	}
	return bundle, nil
}

func renderIntegrityReportText(r *IntegrityReport) string {
	mode := "DEFAULT"
	if r.FullIntegrityMode {
		mode = "FULL"
	}
	out := fmt.Sprintf("INTEGRITY REPORT\nGenerated: %s\nMode: %s\nSize threshold: %d bytes\n\nSUMMARY\n  ok:      %d\n  warn:    %d\n  fail:    %d\n  skipped: %d\n",
		r.GeneratedAt.Format(time.RFC3339), mode, r.SizeThresholdBytes,
		r.Summary["ok"], r.Summary["warn"], r.Summary["fail"], r.Summary["skipped"])
	if len(r.Failures) > 0 {
		out += "\nFAILURES\n"
		for _, f := range r.Failures {
			out += fmt.Sprintf("  [%s] %s: %s\n", f.Reason, f.JobID, f.Path)
		}
	}
	return out
}

// verifyNoSecrets is the belt-and-suspenders re-scan: even though every
// writer above scrubs at the source, this pass inspects the fully-assembled
// bundle and aborts the export rather than ever emitting a match.
func verifyNoSecrets(bundle *DiagnosticsBundle) error {
	var violations []string
	names := make([]string, 0, len(bundle.Files))
	for name := range bundle.Files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if secretTokenPattern.Match(bundle.Files[name]) {
			violations = append(violations, name)
		}
	}
	if len(violations) > 0 {
		return errs.SecurityError(fmt.Sprintf("token pattern found in diagnostics files: %v", violations))
	}
	return nil
}

// WriteDiagnosticsDir writes bundle's files into dir.
func WriteDiagnosticsDir(bundle *DiagnosticsBundle, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("jobs: creating diagnostics dir: %w", err)
	}
	names := make([]string, 0, len(bundle.Files))
	for name := range bundle.Files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), bundle.Files[name], 0o644); err != nil {
			return fmt.Errorf("jobs: writing %s: %w", name, err)
		}
	}
	return nil
}

// WriteDiagnosticsZip writes bundle's files into a single zip archive at
// zipPath, sorted by name for determinism.
func WriteDiagnosticsZip(bundle *DiagnosticsBundle, zipPath string) error {
	f, err := os.Create(zipPath)
	if err != nil {
		return fmt.Errorf("jobs: creating diagnostics zip: %w", err)
	}
	defer func() { _ = f.Close() }()

	w := zip.NewWriter(f)
	names := make([]string, 0, len(bundle.Files))
	for name := range bundle.Files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		zw, err := w.Create(name)
		if err != nil {
			return fmt.Errorf("jobs: adding %s to zip: %w", name, err)
		}
		if _, err := io.Copy(zw, newByteReader(bundle.Files[name])); err != nil {
			return fmt.Errorf("jobs: writing %s into zip: %w", name, err)
		}
	}
	return w.Close()
}

func newByteReader(b []byte) io.Reader {
	return &byteReader{data: b}
}

type byteReader struct {
	data []byte
	pos  int
}

func (r *byteReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}
