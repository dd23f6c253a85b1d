// Package jobs implements the persist-before-send job engine: a durable
// event log with gap-free sequence numbers, a claim-by-UPDATE job state
// machine, atomic immutable receipt emission, and a diagnostics bundle
// exporter with tamper-evident integrity checking.
package jobs

import "time"

// State is a job's position in the lifecycle state machine.
type State string

const (
	StateQueued     State = "queued"
	StateRunning    State = "running"
	StateCancelling State = "cancelling"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
	StateCancelled  State = "cancelled"
)

// Terminal reports whether a state has no further transitions.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Config is the caller-supplied job definition, hashed for idempotency-key
// bookkeeping and embedded verbatim in the eventual receipt.
type Config struct {
	Kind       string                 `json:"kind"`
	InputPaths []string               `json:"input_paths,omitempty"`
	Params     map[string]interface{} `json:"params,omitempty"`
}

// Job is a row of the job table plus its derived config.
type Job struct {
	JobID             string
	State             State
	Config            Config
	ConfigHash        string
	IdempotencyKey    string
	WorkspacePath     string
	CreatedAt         time.Time
	StartedAt         *time.Time
	CompletedAt       *time.Time
	ProgressPercent   *int
	ProgressPhase     string
	ErrorCode         string
	ErrorMessage      string
	ErrorDetails      map[string]interface{}
	ReceiptJSON       string
	ReceiptHash       string
	LastHeartbeatAt   *time.Time
}

// LogLevel mirrors the severity levels a job emits through Log.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// EventKind distinguishes the three event payload shapes a job can emit.
type EventKind string

const (
	EventStateChanged EventKind = "state_changed"
	EventProgress     EventKind = "progress"
	EventLog          EventKind = "log"
)

// Event is one row of the append-only event log. SequenceNumber is the
// global, gap-free ordering key; JobSequence is the same job's own
// monotonic counter, independently useful for per-job replay.
type Event struct {
	SequenceNumber int64                  `json:"sequence_number"`
	JobID          string                 `json:"job_id,omitempty"`
	JobSequence    int64                  `json:"job_sequence,omitempty"`
	Kind           EventKind              `json:"kind"`
	Timestamp      time.Time              `json:"timestamp"`
	OldState       State                  `json:"old_state,omitempty"`
	NewState       State                  `json:"new_state,omitempty"`
	Phase          string                 `json:"phase,omitempty"`
	ProgressPercent *int                  `json:"progress_percent,omitempty"`
	ItemsCompleted *int                   `json:"items_completed,omitempty"`
	ItemsTotal     *int                   `json:"items_total,omitempty"`
	Level          LogLevel               `json:"level,omitempty"`
	Subsystem      string                 `json:"subsystem,omitempty"`
	Message        string                 `json:"message,omitempty"`
	Payload        map[string]interface{} `json:"payload,omitempty"`
}

// ArtifactInfo is a file registered against a job, hashed on completion.
type ArtifactInfo struct {
	Name         string `json:"name"`
	Path         string `json:"path"`
	ArtifactType string `json:"artifact_type"`
	SizeBytes    int64  `json:"size_bytes,omitempty"`
	SHA256       string `json:"sha256,omitempty"`
}

// ReceiptTimestamps records the three points in a job's life a receipt cares
// about.
type ReceiptTimestamps struct {
	Created   time.Time  `json:"created"`
	Started   *time.Time `json:"started,omitempty"`
	Completed time.Time  `json:"completed"`
}

// Receipt is the immutable, hash-registered record written to
// <workspace>/receipt.json on completion, failure, or cancellation.
type Receipt struct {
	SchemaVersion    string                 `json:"schema_version"`
	JobID            string                 `json:"job_id"`
	RunID            string                 `json:"run_id"`
	ReceiptStatus    string                 `json:"receipt_status"`
	Timestamps       ReceiptTimestamps      `json:"timestamps"`
	ConfigSnapshot   Config                 `json:"config_snapshot"`
	SourcePins       map[string]string      `json:"source_pins"`
	Outputs          []ArtifactInfo         `json:"outputs"`
	InputsSummary    map[string]interface{} `json:"inputs_summary"`
	ErrorCode        string                 `json:"error_code,omitempty"`
	ErrorMessage     string                 `json:"error_message,omitempty"`
	ErrorDetails     map[string]interface{} `json:"error_details,omitempty"`
	ScholarlyResult  map[string]interface{} `json:"scholarly_result,omitempty"`
}

const receiptSchemaVersion = "1.0.0"
