package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store is the sqlite-backed job and event log. Every event commit advances
// a singleton global sequence counter and, when the event belongs to a job,
// that job's own per-job counter, inside the same transaction as the row
// insert — so a reader replaying `sequence_number > N` can never observe a
// gap or an event the database has not already committed.
type Store struct {
	db *sql.DB
}

// NewStore opens (and migrates) a job store against an existing *sql.DB.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS sequence_state (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	last_sequence INTEGER NOT NULL
);
INSERT OR IGNORE INTO sequence_state (id, last_sequence) VALUES (1, 0);

CREATE TABLE IF NOT EXISTS jobs (
	job_id TEXT PRIMARY KEY,
	state TEXT NOT NULL,
	config_json TEXT NOT NULL,
	config_hash TEXT NOT NULL,
	idempotency_key TEXT,
	workspace_path TEXT NOT NULL,
	created_at TEXT NOT NULL,
	started_at TEXT,
	completed_at TEXT,
	progress_percent INTEGER,
	progress_phase TEXT,
	error_code TEXT,
	error_message TEXT,
	error_details_json TEXT,
	receipt_json TEXT,
	receipt_hash TEXT,
	last_heartbeat_at TEXT,
	job_sequence INTEGER NOT NULL DEFAULT 0,
	UNIQUE(idempotency_key)
);

CREATE TABLE IF NOT EXISTS job_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	sequence_number INTEGER NOT NULL UNIQUE,
	job_id TEXT,
	job_sequence INTEGER,
	kind TEXT NOT NULL,
	timestamp TEXT NOT NULL,
	payload_json TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_job_events_job_id ON job_events(job_id);

CREATE TABLE IF NOT EXISTS artifacts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id TEXT NOT NULL,
	name TEXT NOT NULL,
	path TEXT NOT NULL,
	artifact_type TEXT NOT NULL,
	size_bytes INTEGER,
	sha256 TEXT
);
CREATE INDEX IF NOT EXISTS idx_artifacts_job_id ON artifacts(job_id);
`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("jobs: migrating schema: %w", err)
	}
	return nil
}

// CreateJob inserts a new queued job. If idempotencyKey is non-empty and
// already in use, the existing job is returned instead (existing=true).
func (s *Store) CreateJob(ctx context.Context, jobID string, cfg Config, configHash, idempotencyKey, workspacePath string) (*Job, bool, error) {
	if idempotencyKey != "" {
		if existing, err := s.GetJobByIdempotencyKey(ctx, idempotencyKey); err != nil {
			return nil, false, err
		} else if existing != nil {
			return existing, true, nil
		}
	}

	configJSON, err := json.Marshal(cfg)
	if err != nil {
		return nil, false, fmt.Errorf("jobs: marshaling config: %w", err)
	}

	now := nowUTC()
	var idemKey interface{}
	if idempotencyKey != "" {
		idemKey = idempotencyKey
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (job_id, state, config_json, config_hash, idempotency_key, workspace_path, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		jobID, StateQueued, string(configJSON), configHash, idemKey, workspacePath, now.Format(time.RFC3339Nano))
	if err != nil {
		return nil, false, fmt.Errorf("jobs: inserting job: %w", err)
	}

	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, false, err
	}
	return job, false, nil
}

// GetJob fetches a job by id, or nil if absent.
func (s *Store) GetJob(ctx context.Context, jobID string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, jobSelectColumns+" WHERE job_id = ?", jobID)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("jobs: get %s: %w", jobID, err)
	}
	return job, nil
}

// GetJobByIdempotencyKey fetches a job by its idempotency key, or nil.
func (s *Store) GetJobByIdempotencyKey(ctx context.Context, key string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, jobSelectColumns+" WHERE idempotency_key = ?", key)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("jobs: get by idempotency key: %w", err)
	}
	return job, nil
}

// ListJobs returns jobs optionally filtered by state, most recently created
// first, bounded by limit.
func (s *Store) ListJobs(ctx context.Context, states []State, limit int) ([]*Job, error) {
	query := jobSelectColumns
	args := []interface{}{}
	if len(states) > 0 {
		placeholders := ""
		for i, st := range states {
			if i > 0 {
				placeholders += ","
			}
			placeholders += "?"
			args = append(args, st)
		}
		query += " WHERE state IN (" + placeholders + ")"
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("jobs: listing: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("jobs: scanning job: %w", err)
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// ClaimJob atomically transitions job_id from queued to running via
// UPDATE ... WHERE state='queued'. Returns true if this caller won the
// claim.
func (s *Store) ClaimJob(ctx context.Context, jobID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET state = ?, started_at = ?, last_heartbeat_at = ?
		WHERE job_id = ? AND state = ?`,
		StateRunning, nowUTC().Format(time.RFC3339Nano), nowUTC().Format(time.RFC3339Nano), jobID, StateQueued)
	if err != nil {
		return false, fmt.Errorf("jobs: claiming %s: %w", jobID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("jobs: rows affected: %w", err)
	}
	return n > 0, nil
}

// Heartbeat updates last_heartbeat_at for a running job.
func (s *Store) Heartbeat(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE jobs SET last_heartbeat_at = ? WHERE job_id = ?`,
		nowUTC().Format(time.RFC3339Nano), jobID)
	if err != nil {
		return fmt.Errorf("jobs: heartbeat %s: %w", jobID, err)
	}
	return nil
}

// UpdateState transitions a job's state, optionally setting completion
// fields and error details in the same statement.
func (s *Store) UpdateState(ctx context.Context, jobID string, newState State, errCode, errMsg string, errDetails map[string]interface{}) error {
	var completedAt interface{}
	if newState.Terminal() {
		completedAt = nowUTC().Format(time.RFC3339Nano)
	}
	var errDetailsJSON interface{}
	if errDetails != nil {
		b, err := json.Marshal(errDetails)
		if err != nil {
			return fmt.Errorf("jobs: marshaling error details: %w", err)
		}
		errDetailsJSON = string(b)
	}
	var errCodeVal, errMsgVal interface{}
	if errCode != "" {
		errCodeVal = errCode
	}
	if errMsg != "" {
		errMsgVal = errMsg
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET state = ?, completed_at = COALESCE(?, completed_at),
			error_code = COALESCE(?, error_code), error_message = COALESCE(?, error_message),
			error_details_json = COALESCE(?, error_details_json)
		WHERE job_id = ?`,
		newState, completedAt, errCodeVal, errMsgVal, errDetailsJSON, jobID)
	if err != nil {
		return fmt.Errorf("jobs: updating state for %s: %w", jobID, err)
	}
	return nil
}

// UpdateProgress sets the job's cached progress fields (the event itself is
// persisted separately via PersistEvent).
func (s *Store) UpdateProgress(ctx context.Context, jobID string, percent *int, phase string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE jobs SET progress_percent = ?, progress_phase = ? WHERE job_id = ?`,
		percent, phase, jobID)
	if err != nil {
		return fmt.Errorf("jobs: updating progress for %s: %w", jobID, err)
	}
	return nil
}

// SetReceipt stores the rendered receipt JSON and its hash on the job row.
func (s *Store) SetReceipt(ctx context.Context, jobID, receiptJSON, receiptHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE jobs SET receipt_json = ?, receipt_hash = ? WHERE job_id = ?`,
		receiptJSON, receiptHash, jobID)
	if err != nil {
		return fmt.Errorf("jobs: setting receipt for %s: %w", jobID, err)
	}
	return nil
}

// GetOrphanedJobs returns jobs stuck in running/cancelling, used by
// RecoverOrphanedJobs on engine start.
func (s *Store) GetOrphanedJobs(ctx context.Context) ([]*Job, error) {
	return s.ListJobs(ctx, []State{StateRunning, StateCancelling}, 10000)
}

// GetStaleClaims returns running jobs whose last heartbeat is older than
// cutoff, used by the stale-claim reaper to re-queue abandoned work.
func (s *Store) GetStaleClaims(ctx context.Context, cutoff time.Time) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, jobSelectColumns+` WHERE state = ? AND (last_heartbeat_at IS NULL OR last_heartbeat_at < ?)`,
		StateRunning, cutoff.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("jobs: listing stale claims: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("jobs: scanning stale job: %w", err)
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// ReleaseClaim re-queues a job previously claimed as running, the one
// sanctioned (running -> queued) transition outside the normal state
// machine, used to recover from a stale claim without a crash label.
func (s *Store) ReleaseClaim(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET state = ?, started_at = NULL, last_heartbeat_at = NULL
		WHERE job_id = ? AND state = ?`, StateQueued, jobID, StateRunning)
	if err != nil {
		return fmt.Errorf("jobs: releasing claim on %s: %w", jobID, err)
	}
	return nil
}

// CurrentSequence returns the global event sequence counter's current
// value, used by the diagnostics exporter to bound its recent-events scan.
func (s *Store) CurrentSequence(ctx context.Context) (int64, error) {
	var seq int64
	if err := s.db.QueryRowContext(ctx, `SELECT last_sequence FROM sequence_state WHERE id = 1`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("jobs: reading current sequence: %w", err)
	}
	return seq, nil
}

// PersistEvent commits ev inside a single transaction that also advances the
// global sequence counter (and, if ev.JobID is set, that job's per-job
// counter), returning the sequence number assigned. No subscriber may
// observe the event before this call returns.
func (s *Store) PersistEvent(ctx context.Context, ev *Event) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("jobs: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `UPDATE sequence_state SET last_sequence = last_sequence + 1 WHERE id = 1`); err != nil {
		return 0, fmt.Errorf("jobs: advancing sequence: %w", err)
	}
	var seq int64
	if err := tx.QueryRowContext(ctx, `SELECT last_sequence FROM sequence_state WHERE id = 1`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("jobs: reading sequence: %w", err)
	}
	ev.SequenceNumber = seq

	if ev.JobID != "" {
		if _, err := tx.ExecContext(ctx, `UPDATE jobs SET job_sequence = job_sequence + 1 WHERE job_id = ?`, ev.JobID); err != nil {
			return 0, fmt.Errorf("jobs: advancing job sequence: %w", err)
		}
		var jobSeq int64
		if err := tx.QueryRowContext(ctx, `SELECT job_sequence FROM jobs WHERE job_id = ?`, ev.JobID).Scan(&jobSeq); err != nil {
			return 0, fmt.Errorf("jobs: reading job sequence: %w", err)
		}
		ev.JobSequence = jobSeq
	}

	ev.Timestamp = nowUTC()
	payload, err := json.Marshal(ev)
	if err != nil {
		return 0, fmt.Errorf("jobs: marshaling event payload: %w", err)
	}

	var jobIDVal interface{}
	var jobSeqVal interface{}
	if ev.JobID != "" {
		jobIDVal = ev.JobID
		jobSeqVal = ev.JobSequence
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO job_events (sequence_number, job_id, job_sequence, kind, timestamp, payload_json)
		VALUES (?, ?, ?, ?, ?, ?)`,
		seq, jobIDVal, jobSeqVal, ev.Kind, ev.Timestamp.Format(time.RFC3339Nano), string(payload))
	if err != nil {
		return 0, fmt.Errorf("jobs: inserting event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("jobs: commit event: %w", err)
	}
	return seq, nil
}

// EventsSince returns every event with sequence_number > since, ascending,
// optionally filtered to a single job. Gap-free by construction.
func (s *Store) EventsSince(ctx context.Context, since int64, jobID string) ([]*Event, error) {
	query := `SELECT payload_json FROM job_events WHERE sequence_number > ?`
	args := []interface{}{since}
	if jobID != "" {
		query += ` AND job_id = ?`
		args = append(args, jobID)
	}
	query += ` ORDER BY sequence_number ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("jobs: replaying events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Event
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("jobs: scanning event payload: %w", err)
		}
		var ev Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return nil, fmt.Errorf("jobs: unmarshaling event payload: %w", err)
		}
		out = append(out, &ev)
	}
	return out, rows.Err()
}

// RegisterArtifact inserts an artifact row with no hash yet, returning its id.
func (s *Store) RegisterArtifact(ctx context.Context, jobID, name, path, artifactType string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO artifacts (job_id, name, path, artifact_type) VALUES (?, ?, ?, ?)`,
		jobID, name, path, artifactType)
	if err != nil {
		return 0, fmt.Errorf("jobs: registering artifact: %w", err)
	}
	return res.LastInsertId()
}

// CompleteArtifact fills in the size and hash once the file has been written.
func (s *Store) CompleteArtifact(ctx context.Context, artifactID, sizeBytes int64, sha256 string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE artifacts SET size_bytes = ?, sha256 = ? WHERE id = ?`,
		sizeBytes, sha256, artifactID)
	if err != nil {
		return fmt.Errorf("jobs: completing artifact %d: %w", artifactID, err)
	}
	return nil
}

// ListArtifacts returns every artifact registered against jobID.
func (s *Store) ListArtifacts(ctx context.Context, jobID string) ([]ArtifactInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, path, artifact_type, COALESCE(size_bytes, 0), COALESCE(sha256, '')
		FROM artifacts WHERE job_id = ? ORDER BY id ASC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("jobs: listing artifacts for %s: %w", jobID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []ArtifactInfo
	for rows.Next() {
		var a ArtifactInfo
		if err := rows.Scan(&a.Name, &a.Path, &a.ArtifactType, &a.SizeBytes, &a.SHA256); err != nil {
			return nil, fmt.Errorf("jobs: scanning artifact: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// AllArtifacts returns every artifact across every job, ordered by id.
func (s *Store) AllArtifacts(ctx context.Context) ([]struct {
	JobID string
	ArtifactInfo
}, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT job_id, name, path, artifact_type, COALESCE(size_bytes, 0), COALESCE(sha256, '')
		FROM artifacts ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("jobs: listing all artifacts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []struct {
		JobID string
		ArtifactInfo
	}
	for rows.Next() {
		var row struct {
			JobID string
			ArtifactInfo
		}
		if err := rows.Scan(&row.JobID, &row.Name, &row.Path, &row.ArtifactType, &row.SizeBytes, &row.SHA256); err != nil {
			return nil, fmt.Errorf("jobs: scanning artifact row: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

const jobSelectColumns = `
	SELECT job_id, state, config_json, config_hash, COALESCE(idempotency_key, ''), workspace_path,
	       created_at, started_at, completed_at, progress_percent, COALESCE(progress_phase, ''),
	       COALESCE(error_code, ''), COALESCE(error_message, ''), error_details_json,
	       COALESCE(receipt_json, ''), COALESCE(receipt_hash, ''), last_heartbeat_at
	FROM jobs`

type jobScannable interface {
	Scan(dest ...interface{}) error
}

func scanJob(row jobScannable) (*Job, error) {
	var j Job
	var configJSON, createdAt string
	var startedAt, completedAt, lastHeartbeat, errDetailsJSON sql.NullString
	if err := row.Scan(&j.JobID, &j.State, &configJSON, &j.ConfigHash, &j.IdempotencyKey, &j.WorkspacePath,
		&createdAt, &startedAt, &completedAt, &j.ProgressPercent, &j.ProgressPhase,
		&j.ErrorCode, &j.ErrorMessage, &errDetailsJSON, &j.ReceiptJSON, &j.ReceiptHash, &lastHeartbeat); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(configJSON), &j.Config); err != nil {
		return nil, fmt.Errorf("jobs: unmarshaling config for %s: %w", j.JobID, err)
	}
	if errDetailsJSON.Valid && errDetailsJSON.String != "" {
		if err := json.Unmarshal([]byte(errDetailsJSON.String), &j.ErrorDetails); err != nil {
			return nil, fmt.Errorf("jobs: unmarshaling error details for %s: %w", j.JobID, err)
		}
	}
	j.CreatedAt = mustParseTimeField(createdAt)
	if startedAt.Valid && startedAt.String != "" {
		t := mustParseTimeField(startedAt.String)
		j.StartedAt = &t
	}
	if completedAt.Valid && completedAt.String != "" {
		t := mustParseTimeField(completedAt.String)
		j.CompletedAt = &t
	}
	if lastHeartbeat.Valid && lastHeartbeat.String != "" {
		t := mustParseTimeField(lastHeartbeat.String)
		j.LastHeartbeatAt = &t
	}
	return &j, nil
}

func mustParseTimeField(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nowUTC() time.Time { return time.Now().UTC() }
