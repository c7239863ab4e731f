package core

import "time"

// Store defines the interface for run-history persistence.
type Store interface {
	Open(path string) error
	Close() error
	InitSchema() error

	// Run operations
	CreateRun(mode RunMode) (*RunRecord, error)
	GetRun(id string) (*RunRecord, error)
	CompleteRun(id string, status RunRecordStatus, errMsg string) error
	ListRuns(limit int) ([]*RunRecord, error)

	// Per-node result operations
	RecordResult(result *TestResult) error
	GetResultsForRun(runID string) ([]*TestResult, error)
}

// RunRecordStatus represents the overall status of a persisted run.
type RunRecordStatus string

// Run record status constants.
const (
	RunStatusRunning   RunRecordStatus = "running"
	RunStatusCompleted RunRecordStatus = "completed"
	RunStatusFailed    RunRecordStatus = "failed"
	RunStatusCancelled RunRecordStatus = "cancelled"
)

// RunRecord is one persisted execution.
type RunRecord struct {
	ID          string
	Mode        RunMode
	Status      RunRecordStatus
	StartedAt   time.Time
	CompletedAt *time.Time
	Error       string
}

// TestResult is the persisted terminal state of one node within a run.
type TestResult struct {
	ID         int64
	RunID      string
	NodeID     string
	Status     TestStatus
	Message    string
	DurationMS int64
}
