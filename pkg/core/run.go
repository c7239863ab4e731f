package core

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RunMode selects how resolved commands are executed.
type RunMode string

// Run mode constants.
const (
	ModeRun      RunMode = "run"
	ModeTerminal RunMode = "run-in-terminal"
	ModeDebug    RunMode = "debug"
	ModeCoverage RunMode = "coverage"
)

// TestStatus is the lifecycle state of one node within a run.
type TestStatus string

// Test status constants.
const (
	StatusEnqueued TestStatus = "enqueued"
	StatusStarted  TestStatus = "started"
	StatusPassed   TestStatus = "passed"
	StatusFailed   TestStatus = "failed"
	StatusErrored  TestStatus = "errored"
	StatusSkipped  TestStatus = "skipped"
)

// Terminal reports whether the status ends a node's lifecycle for the run.
func (s TestStatus) Terminal() bool {
	switch s {
	case StatusPassed, StatusFailed, StatusErrored, StatusSkipped:
		return true
	default:
		return false
	}
}

// RunRequest is an immutable snapshot of a selection to execute.
type RunRequest struct {
	Included   []*TestNode
	Excluded   []*TestNode
	Mode       RunMode
	Continuous bool
}

// ResolvedCommand is one concrete shell invocation returned by the
// analysis collaborator for a runnable group of tests.
type ResolvedCommand struct {
	CommandLine   string   `json:"commandLine" mapstructure:"commandLine"`
	WorkingDir    string   `json:"workingDir,omitempty" mapstructure:"workingDir"`
	ReporterPaths []string `json:"reporterPaths,omitempty" mapstructure:"reporterPaths"`
	// NodeIDs lists the selection nodes this command will execute.
	NodeIDs []string `json:"nodeIds,omitempty" mapstructure:"nodeIds"`
}

// TestRun is the mutable aggregate for one execution. It maps node IDs to
// statuses, buffers process output, and optionally carries coverage.
// Created at execution start, sealed exactly once at completion or
// cancellation. Safe for concurrent use.
type TestRun struct {
	ID        string
	Mode      RunMode
	CreatedAt time.Time

	mu        sync.Mutex
	statuses  map[string]TestStatus
	messages  map[string]string
	startedAt map[string]time.Time
	durations map[string]time.Duration
	output    bytes.Buffer
	coverage  []*FileCoverage
	sealed    bool
	sealedAt  time.Time
}

// NewTestRun creates an empty run for the given mode.
func NewTestRun(mode RunMode) *TestRun {
	return &TestRun{
		ID:        uuid.NewString(),
		Mode:      mode,
		CreatedAt: time.Now().UTC(),
		statuses:  make(map[string]TestStatus),
		messages:  make(map[string]string),
		startedAt: make(map[string]time.Time),
		durations: make(map[string]time.Duration),
	}
}

// Enqueue marks a node as waiting to execute. It is a no-op after sealing.
func (r *TestRun) Enqueue(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return
	}
	r.statuses[id] = StatusEnqueued
}

// Start marks a node as running and records its start timestamp.
func (r *TestRun) Start(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return
	}
	r.statuses[id] = StatusStarted
	r.startedAt[id] = time.Now().UTC()
}

// Finish records a terminal status for a node. A node must not receive
// two terminal statuses in one run; a second terminal write is rejected.
func (r *TestRun) Finish(id string, status TestStatus, message string) error {
	if !status.Terminal() {
		return fmt.Errorf("status %q is not terminal", status)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return fmt.Errorf("run %s already sealed", r.ID)
	}
	if cur, ok := r.statuses[id]; ok && cur.Terminal() {
		return fmt.Errorf("node %s already finished as %s", id, cur)
	}
	r.statuses[id] = status
	if message != "" {
		r.messages[id] = message
	}
	if started, ok := r.startedAt[id]; ok {
		r.durations[id] = time.Since(started)
	}
	return nil
}

// Status returns the node's current status and whether it is known to the run.
func (r *TestRun) Status(id string) (TestStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.statuses[id]
	return s, ok
}

// Message returns the failure or error message recorded for a node.
func (r *TestRun) Message(id string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.messages[id]
}

// StartedAt returns the recorded start timestamp for a node.
func (r *TestRun) StartedAt(id string) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.startedAt[id]
	return t, ok
}

// Duration returns the recorded wall time between start and finish.
func (r *TestRun) Duration(id string) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.durations[id]
}

// Statuses returns a copy of every node status recorded so far.
func (r *TestRun) Statuses() map[string]TestStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]TestStatus, len(r.statuses))
	for id, s := range r.statuses {
		out[id] = s
	}
	return out
}

// AppendOutput adds process output to the run's append-only buffer.
func (r *TestRun) AppendOutput(p []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.output.Write(p)
}

// Output returns the buffered process output.
func (r *TestRun) Output() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.output.String()
}

// AttachCoverage attaches per-file coverage records to the run.
func (r *TestRun) AttachCoverage(files []*FileCoverage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return
	}
	r.coverage = files
}

// Coverage returns the attached coverage records, or nil.
func (r *TestRun) Coverage() []*FileCoverage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.coverage
}

// Seal finalizes the run. Only the first call has any effect; it returns
// false if the run was already sealed.
func (r *TestRun) Seal() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return false
	}
	r.sealed = true
	r.sealedAt = time.Now().UTC()
	return true
}

// Sealed reports whether the run has been finalized.
func (r *TestRun) Sealed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sealed
}

// SealedAt returns the finalization timestamp (zero until sealed).
func (r *TestRun) SealedAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sealedAt
}
