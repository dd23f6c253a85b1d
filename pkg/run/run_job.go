package run

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/Angelice80/redletters/pkg/jobs"
	"github.com/Angelice80/redletters/pkg/pipeline"
)

// stagePercents maps each run stage to the monotonic progress value a job
// progress event reports when the stage begins.
var stagePercents = map[string]int{
	StageLockfile:          10,
	StageGatesCheck:        20,
	StageTranslate:         35,
	StageExportApparatus:   45,
	StageExportTranslation: 55,
	StageExportCitations:   60,
	StageExportQuote:       65,
	StageSnapshot:          75,
	StageBundle:            85,
	StageFinalize:          95,
}

// JobResult pairs the scholarly run's own outcome with the job-engine
// receipt that recorded it.
type JobResult struct {
	JobID   string
	Receipt *jobs.Receipt
	Run     *Result
}

// ExecuteAsJob runs a complete scholarly run under the job engine: the run
// is created as a durable job, claimed, streamed as progress events, and
// closed out with an immutable receipt whatever the outcome. The runner's
// Progress and Cancel hooks are replaced for the duration so stage
// transitions become persisted events and job-level cancellation reaches
// the run's between-stage checks.
func ExecuteAsJob(ctx context.Context, mgr *jobs.Manager, runner *Runner, reference, outputDir string, mode pipeline.Mode, includeSchemas, createZip, force bool, idempotencyKey string) (*JobResult, error) {
	cfg := jobs.Config{
		Kind: "scholarly_run",
		Params: map[string]interface{}{
			"reference":       reference,
			"output_dir":      outputDir,
			"mode":            string(mode),
			"include_schemas": includeSchemas,
			"create_zip":      createZip,
			"force":           force,
		},
	}

	job, err := mgr.CreateJob(ctx, cfg, idempotencyKey)
	if err != nil {
		return nil, err
	}
	if job.State.Terminal() {
		// Idempotency-key replay of an already-finished job: hand back its
		// job ID instead of running again. Receipt and Run are left nil; the
		// recorded receipt is not loaded here.
		return &JobResult{JobID: job.JobID}, nil
	}

	claimed, err := mgr.StartJob(ctx, job.JobID)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, fmt.Errorf("run: job %s was claimed by another worker", job.JobID)
	}

	prevProgress, prevCancel := runner.Progress, runner.Cancel
	defer func() { runner.Progress, runner.Cancel = prevProgress, prevCancel }()

	runner.Progress = func(stage, message string) {
		pct := stagePercents[stage]
		_ = mgr.UpdateProgress(ctx, job.JobID, stage, &pct, nil, nil, message)
		if prevProgress != nil {
			prevProgress(stage, message)
		}
	}
	runner.Cancel = func() bool {
		if mgr.CancelRequested(job.JobID) {
			return true
		}
		return prevCancel != nil && prevCancel()
	}

	result, runErr := runner.Run(ctx, reference, outputDir, mode, includeSchemas, createZip, force)
	if runErr != nil {
		receipt, failErr := mgr.FailJob(ctx, job.JobID, "E_EXECUTION", runErr.Error(), nil)
		if failErr != nil {
			return nil, failErr
		}
		return &JobResult{JobID: job.JobID, Receipt: receipt, Run: result}, runErr
	}

	if result.Cancelled {
		receipt, err := mgr.CancelJob(ctx, job.JobID)
		if err != nil {
			return nil, err
		}
		return &JobResult{JobID: job.JobID, Receipt: receipt, Run: result}, nil
	}

	// A gate block is a legitimate terminal response, not a failure: the job
	// completes with the block recorded in its scholarly result.
	scholarly := map[string]interface{}{
		"success":      result.Success,
		"gate_blocked": result.GateBlocked,
	}
	if result.GateBlocked {
		scholarly["pending_refs"] = result.GateRefs
	}
	if result.Log != nil {
		scholarly["content_hash"] = result.Log.ContentHash
	}

	var outputs []jobs.ArtifactInfo
	if result.Log != nil {
		for _, f := range result.Log.FilesCreated {
			outputs = append(outputs, jobs.ArtifactInfo{
				Name:         f.Path,
				Path:         filepath.Join(outputDir, f.Path),
				ArtifactType: f.ArtifactType,
				SHA256:       f.SHA256,
			})
		}
	}

	if !result.Success && !result.GateBlocked {
		receipt, err := mgr.FailJob(ctx, job.JobID, "E_EXECUTION", firstFew(result.Errors, 3), nil)
		if err != nil {
			return nil, err
		}
		return &JobResult{JobID: job.JobID, Receipt: receipt, Run: result}, nil
	}

	receipt, err := mgr.CompleteJob(ctx, job.JobID, outputs, scholarly)
	if err != nil {
		return nil, err
	}
	return &JobResult{JobID: job.JobID, Receipt: receipt, Run: result}, nil
}
