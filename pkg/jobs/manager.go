package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Angelice80/redletters/pkg/canonicalize"
)

// SourcePinsFunc supplies the installed-pack version pins a receipt embeds;
// Manager accepts it as a dependency rather than reaching into pkg/sources
// directly, so engine-only callers (no source catalog configured) can pass a
// func that always returns an empty map.
type SourcePinsFunc func(ctx context.Context) (map[string]string, error)

// Manager implements the job lifecycle: create, claim, progress, completion,
// failure, cancellation, orphan recovery, and stale-claim reaping.
type Manager struct {
	store         *Store
	broadcaster   *Broadcaster
	workspaceBase string
	sourcePins    SourcePinsFunc
	safeMode      bool
	logger        *slog.Logger

	mu             sync.Mutex
	cancelRequests map[string]bool
}

// NewManager constructs a Manager rooted at workspaceBase, where each job
// gets its own <workspaceBase>/<job_id>/{input,output,temp} tree. A nil
// logger discards.
func NewManager(store *Store, broadcaster *Broadcaster, workspaceBase string, sourcePins SourcePinsFunc, safeMode bool, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{
		store:          store,
		broadcaster:    broadcaster,
		workspaceBase:  workspaceBase,
		sourcePins:     sourcePins,
		safeMode:       safeMode,
		logger:         logger,
		cancelRequests: make(map[string]bool),
	}
}

func generateJobID() string {
	now := time.Now().UTC()
	return fmt.Sprintf("job_%s_%s", now.Format("20060102_150405"), uuid.NewString()[:8])
}

func generateRunID() string { return uuid.NewString() }

// CreateJob creates a new queued job with its workspace tree, or returns the
// existing job if idempotencyKey was already used.
func (m *Manager) CreateJob(ctx context.Context, cfg Config, idempotencyKey string) (*Job, error) {
	jobID := generateJobID()
	workspacePath := filepath.Join(m.workspaceBase, jobID)

	configHash, err := canonicalize.ContentHash(cfg)
	if err != nil {
		return nil, fmt.Errorf("jobs: hashing config: %w", err)
	}

	for _, sub := range []string{"input", "output", "temp"} {
		if err := os.MkdirAll(filepath.Join(workspacePath, sub), 0755); err != nil {
			return nil, fmt.Errorf("jobs: creating workspace dir: %w", err)
		}
	}

	job, existing, err := m.store.CreateJob(ctx, jobID, cfg, configHash, idempotencyKey, workspacePath)
	if err != nil {
		return nil, err
	}
	if existing {
		return job, nil
	}

	if err := m.emitStateChange(ctx, jobID, "", StateQueued); err != nil {
		return nil, err
	}
	m.logger.Info("job created", "job_id", jobID, "kind", cfg.Kind, "config_hash", configHash)
	return job, nil
}

// StartJob attempts to claim and start job_id, returning true if this
// caller won the claim.
func (m *Manager) StartJob(ctx context.Context, jobID string) (bool, error) {
	if m.safeMode {
		return false, fmt.Errorf("jobs: engine is in safe mode, jobs are disabled")
	}
	claimed, err := m.store.ClaimJob(ctx, jobID)
	if err != nil {
		return false, err
	}
	if !claimed {
		return false, nil
	}
	if err := m.emitStateChange(ctx, jobID, StateQueued, StateRunning); err != nil {
		return false, err
	}
	return true, nil
}

// RequestCancel sets the cooperative cancellation flag a running executor
// polls between stages.
func (m *Manager) RequestCancel(jobID string) {
	m.mu.Lock()
	m.cancelRequests[jobID] = true
	m.mu.Unlock()
}

// CancelRequested reports whether RequestCancel has been called for jobID.
func (m *Manager) CancelRequested(jobID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelRequests[jobID]
}

// UpdateProgress records a progress tick, refreshes the heartbeat, and
// persists+broadcasts a progress event (plus an optional log event).
func (m *Manager) UpdateProgress(ctx context.Context, jobID, phase string, percent, itemsCompleted, itemsTotal *int, message string) error {
	if err := m.store.UpdateProgress(ctx, jobID, percent, phase); err != nil {
		return err
	}
	if err := m.store.Heartbeat(ctx, jobID); err != nil {
		return err
	}

	ev := &Event{
		JobID:           jobID,
		Kind:            EventProgress,
		Phase:           phase,
		ProgressPercent: percent,
		ItemsCompleted:  itemsCompleted,
		ItemsTotal:      itemsTotal,
	}
	if err := m.persistAndBroadcast(ctx, ev); err != nil {
		return err
	}

	if message != "" {
		return m.Log(ctx, jobID, LogLevelInfo, "progress", message, nil)
	}
	return nil
}

// Log emits a structured log event for jobID.
func (m *Manager) Log(ctx context.Context, jobID string, level LogLevel, subsystem, message string, payload map[string]interface{}) error {
	ev := &Event{
		JobID:     jobID,
		Kind:      EventLog,
		Level:     level,
		Subsystem: subsystem,
		Message:   message,
		Payload:   payload,
	}
	return m.persistAndBroadcast(ctx, ev)
}

// CompleteJob transitions jobID to completed and writes its receipt.
func (m *Manager) CompleteJob(ctx context.Context, jobID string, outputs []ArtifactInfo, scholarlyResult map[string]interface{}) (*Receipt, error) {
	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("jobs: job not found: %s", jobID)
	}

	if err := m.store.UpdateState(ctx, jobID, StateCompleted, "", "", nil); err != nil {
		return nil, err
	}
	if err := m.emitStateChange(ctx, jobID, job.State, StateCompleted); err != nil {
		return nil, err
	}

	return m.generateReceipt(ctx, job, "completed", outputs, "", "", nil, scholarlyResult)
}

// FailJob transitions jobID to failed and writes a failure receipt.
func (m *Manager) FailJob(ctx context.Context, jobID, errorCode, errorMessage string, errorDetails map[string]interface{}) (*Receipt, error) {
	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("jobs: job not found: %s", jobID)
	}

	if err := m.store.UpdateState(ctx, jobID, StateFailed, errorCode, errorMessage, errorDetails); err != nil {
		return nil, err
	}
	if err := m.emitStateChange(ctx, jobID, job.State, StateFailed); err != nil {
		return nil, err
	}

	return m.generateReceipt(ctx, job, "failed", nil, errorCode, errorMessage, errorDetails, nil)
}

// CancelJob cancels a queued or running job: running jobs pass through
// cancelling first so a cooperative worker gets a chance to observe
// CancelRequested and wind down.
func (m *Manager) CancelJob(ctx context.Context, jobID string) (*Receipt, error) {
	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, nil
	}

	m.RequestCancel(jobID)
	oldState := job.State

	if oldState == StateRunning {
		if err := m.store.UpdateState(ctx, jobID, StateCancelling, "", "", nil); err != nil {
			return nil, err
		}
		if err := m.emitStateChange(ctx, jobID, oldState, StateCancelling); err != nil {
			return nil, err
		}
		oldState = StateCancelling
	}

	if err := m.store.UpdateState(ctx, jobID, StateCancelled, "", "", nil); err != nil {
		return nil, err
	}
	if err := m.emitStateChange(ctx, jobID, oldState, StateCancelled); err != nil {
		return nil, err
	}

	return m.generateReceipt(ctx, job, "cancelled", nil, "", "", nil, nil)
}

// RecoverOrphanedJobs fails every job stuck in running/cancelling with
// E_ENGINE_CRASH, called once on engine start.
func (m *Manager) RecoverOrphanedJobs(ctx context.Context) ([]string, error) {
	orphaned, err := m.store.GetOrphanedJobs(ctx)
	if err != nil {
		return nil, err
	}
	var recovered []string
	for _, job := range orphaned {
		m.logger.Warn("failing orphaned job from previous engine run", "job_id", job.JobID, "state", string(job.State))
		if _, err := m.FailJob(ctx, job.JobID, "E_ENGINE_CRASH", "Engine terminated unexpectedly", map[string]interface{}{
			"recovered_from_state": string(job.State),
		}); err != nil {
			return recovered, err
		}
		recovered = append(recovered, job.JobID)
	}
	return recovered, nil
}

// ReapStaleClaims re-queues jobs whose heartbeat is older than timeout,
// releasing the claim rather than failing the job outright since the work
// may simply have lost its worker, not crashed irrecoverably.
func (m *Manager) ReapStaleClaims(ctx context.Context, timeout time.Duration) ([]string, error) {
	cutoff := time.Now().UTC().Add(-timeout)
	stale, err := m.store.GetStaleClaims(ctx, cutoff)
	if err != nil {
		return nil, err
	}
	var reaped []string
	for _, job := range stale {
		m.logger.Warn("re-queueing stale claim", "job_id", job.JobID, "timeout", timeout.String())
		if err := m.store.ReleaseClaim(ctx, job.JobID); err != nil {
			return reaped, err
		}
		if err := m.emitStateChange(ctx, job.JobID, StateRunning, StateQueued); err != nil {
			return reaped, err
		}
		reaped = append(reaped, job.JobID)
	}
	return reaped, nil
}

func (m *Manager) emitStateChange(ctx context.Context, jobID string, oldState, newState State) error {
	ev := &Event{JobID: jobID, Kind: EventStateChanged, OldState: oldState, NewState: newState}
	return m.persistAndBroadcast(ctx, ev)
}

func (m *Manager) persistAndBroadcast(ctx context.Context, ev *Event) error {
	if _, err := m.store.PersistEvent(ctx, ev); err != nil {
		return err
	}
	m.broadcaster.Broadcast(ctx, ev)
	return nil
}

func (m *Manager) generateReceipt(ctx context.Context, job *Job, status string, outputs []ArtifactInfo, errorCode, errorMessage string, errorDetails map[string]interface{}, scholarlyResult map[string]interface{}) (*Receipt, error) {
	pins := map[string]string{}
	if m.sourcePins != nil {
		var err error
		pins, err = m.sourcePins(ctx)
		if err != nil {
			return nil, fmt.Errorf("jobs: fetching source pins: %w", err)
		}
	}

	receipt := &Receipt{
		SchemaVersion: receiptSchemaVersion,
		JobID:         job.JobID,
		RunID:         generateRunID(),
		ReceiptStatus: status,
		Timestamps: ReceiptTimestamps{
			Created:   job.CreatedAt,
			Started:   job.StartedAt,
			Completed: time.Now().UTC(),
		},
		ConfigSnapshot:  job.Config,
		SourcePins:      pins,
		Outputs:         outputs,
		InputsSummary:   map[string]interface{}{"paths": job.Config.InputPaths},
		ErrorCode:       errorCode,
		ErrorMessage:    errorMessage,
		ErrorDetails:    errorDetails,
		ScholarlyResult: scholarlyResult,
	}

	hash, size, err := writeReceiptFile(job.WorkspacePath, receipt)
	if err != nil {
		return nil, err
	}
	m.logger.Info("receipt written", "job_id", job.JobID, "receipt_status", status, "receipt_hash", hash)

	artifactID, err := m.store.RegisterArtifact(ctx, job.JobID, "receipt.json", filepath.Join(job.WorkspacePath, "receipt.json"), "receipt")
	if err != nil {
		return nil, err
	}
	if err := m.store.CompleteArtifact(ctx, artifactID, size, hash); err != nil {
		return nil, err
	}

	receiptJSON, err := marshalReceiptForDB(receipt)
	if err != nil {
		return nil, err
	}
	if err := m.store.SetReceipt(ctx, job.JobID, receiptJSON, hash); err != nil {
		return nil, err
	}

	return receipt, nil
}
