// Package model holds the shared domain records described in spec §3.
// Ids are stored as strings throughout: commit_id/row_hash are hex digests,
// job ids are UUIDs, dataset/ref names are user-chosen strings.
package model

import "time"

// Dataset is the top-level versioned container; unique by (Name, CreatedBy).
type Dataset struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Tags        []string  `json:"tags,omitempty"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Commit is immutable once created; ParentCommitID is empty for a root
// commit.
type Commit struct {
	ID             string    `json:"id"`
	DatasetID      string    `json:"dataset_id"`
	ParentCommitID string    `json:"parent_commit_id,omitempty"`
	Message        string    `json:"message"`
	AuthorID       string    `json:"author_id"`
	AuthoredAt     time.Time `json:"authored_at"`
	CommittedAt    time.Time `json:"committed_at"`
}

// ManifestEntry binds a logical row position within a commit to the
// content-addressed row that occupies it.
type ManifestEntry struct {
	LogicalRowID string `json:"logical_row_id"`
	RowHash      string `json:"row_hash"`
}

// ColumnSchema describes one inferred column.
type ColumnSchema struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
}

// TableSchema is the inferred shape of one logical table (sheet/CSV/row
// group) inside a commit.
type TableSchema struct {
	Columns []ColumnSchema `json:"columns"`
}

// TableSchemas maps table_key to its inferred schema, the per-commit
// schema shape the Open Question resolution (DESIGN.md) settled on.
type TableSchemas map[string]TableSchema

// CommitSchema is the one-per-commit schema record, keyed by table_key.
type CommitSchema struct {
	CommitID string       `json:"commit_id"`
	Tables   TableSchemas `json:"tables"`
}

// Ref is a named, movable pointer into a dataset's commit DAG.
type Ref struct {
	DatasetID string `json:"dataset_id"`
	Name      string `json:"name"`
	CommitID  string `json:"commit_id,omitempty"`
}

const MainRef = "main"

// PermissionKind is one of the three permission levels; admin implies
// write implies read (§4.4).
type PermissionKind string

const (
	PermissionRead  PermissionKind = "read"
	PermissionWrite PermissionKind = "write"
	PermissionAdmin PermissionKind = "admin"
)

// rank orders permission kinds so Satisfies can compare them.
var rank = map[PermissionKind]int{
	PermissionRead:  1,
	PermissionWrite: 2,
	PermissionAdmin: 3,
}

// Satisfies reports whether holding `have` is sufficient to exercise
// `required` under the admin ⊃ write ⊃ read hierarchy.
func (have PermissionKind) Satisfies(required PermissionKind) bool {
	return rank[have] >= rank[required]
}

// Permission grants one user one kind of access to one dataset.
type Permission struct {
	DatasetID string         `json:"dataset_id"`
	UserID    string         `json:"user_id"`
	Kind      PermissionKind `json:"kind"`
}

// JobStatus is the state-machine position of an Analysis Run (§4.12).
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// RunType is the kind of asynchronous operation a job performs.
type RunType string

const (
	RunImport      RunType = "import"
	RunSampling    RunType = "sampling"
	RunExploration RunType = "exploration"
	RunProfiling   RunType = "profiling"
)

// Job is an Analysis Run record (§3 "Analysis Run (Job)").
type Job struct {
	ID             string          `json:"id"`
	RunType        RunType         `json:"run_type"`
	Status         JobStatus       `json:"status"`
	DatasetID      string          `json:"dataset_id"`
	SourceCommitID string          `json:"source_commit_id,omitempty"`
	UserID         string          `json:"user_id"`
	Params         map[string]any  `json:"run_parameters"`
	OutputSummary  map[string]any  `json:"output_summary,omitempty"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	HeartbeatAt    time.Time       `json:"heartbeat_at"`
}

// Progress is the substructure stored under Params["progress"].
type Progress struct {
	BytesProcessed int64 `json:"bytes_processed"`
	TotalBytes     int64 `json:"total_bytes"`
	RowsProcessed  int64 `json:"rows_processed"`
}

// Checkpoint is the substructure stored under Params["checkpoint"], see
// §4.7 stage 7. A resumed worker reopens the staged file from byte zero
// (the three row readers are not all seekable at arbitrary offsets) but
// uses RowsEmittedPerSheet to skip straight past rows it already wrote,
// and Manifest to avoid re-hashing or re-reading them from the row
// store.
type Checkpoint struct {
	RowsEmittedPerSheet map[string]int64 `json:"rows_emitted_per_sheet"`
	ManifestLength      int              `json:"manifest_length"`
	ParentAtStart       string           `json:"parent_at_start"`
	Manifest            []ManifestEntry  `json:"manifest"`
}

// Event is a structured domain-mutation record (§4.11).
type Event struct {
	ID            string         `json:"id"`
	Type          string         `json:"event_type"`
	AggregateID   string         `json:"aggregate_id"`
	AggregateType string         `json:"aggregate_type"`
	UserID        string         `json:"user_id"`
	Payload       map[string]any `json:"payload"`
	OccurredAt    time.Time      `json:"occurred_at"`
	CorrelationID string         `json:"correlation_id"`
}

// SearchDocument is the materialized search-index summary of §4.10.
type SearchDocument struct {
	DatasetID     string    `json:"dataset_id"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	Creator       string    `json:"creator"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	Tags          []string  `json:"tags"`
	SearchTextBlob string   `json:"search_text_blob"`
}
