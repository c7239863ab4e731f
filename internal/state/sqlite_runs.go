package state

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/testwire-labs/testwire/pkg/core"
)

// CreateRun records a new execution in running state.
func (s *SQLiteStore) CreateRun(mode core.RunMode) (*core.RunRecord, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	record := &core.RunRecord{
		ID:        uuid.NewString(),
		Mode:      mode,
		Status:    core.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	s.logger.Debug("creating run", "id", record.ID, "mode", mode)

	_, err := s.db.Exec(
		`INSERT INTO runs (id, mode, status, started_at) VALUES (?, ?, ?, ?)`,
		record.ID, string(record.Mode), string(record.Status), record.StartedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	return record, nil
}

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(id string) (*core.RunRecord, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	row := s.db.QueryRow(
		`SELECT id, mode, status, started_at, completed_at, error FROM runs WHERE id = ?`, id)
	record, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return record, nil
}

// CompleteRun marks a run as finished with the given status.
func (s *SQLiteStore) CompleteRun(id string, status core.RunRecordStatus, errMsg string) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	now := time.Now().UTC()
	var errVal *string
	if errMsg != "" {
		errVal = &errMsg
	}
	_, err := s.db.Exec(
		`UPDATE runs SET status = ?, completed_at = ?, error = ? WHERE id = ?`,
		string(status), now, errVal, id,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	return nil
}

// ListRuns retrieves the most recent runs up to the given limit.
func (s *SQLiteStore) ListRuns(limit int) ([]*core.RunRecord, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	rows, err := s.db.Query(
		`SELECT id, mode, status, started_at, completed_at, error
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var out []*core.RunRecord
	for rows.Next() {
		record, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

// RecordResult stores the terminal state of one node within a run.
// Re-recording the same node replaces the earlier row.
func (s *SQLiteStore) RecordResult(result *core.TestResult) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	res, err := s.db.Exec(
		`INSERT INTO test_results (run_id, node_id, status, message, duration_ms)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (run_id, node_id) DO UPDATE
		 SET status = excluded.status, message = excluded.message, duration_ms = excluded.duration_ms`,
		result.RunID, result.NodeID, string(result.Status), result.Message, result.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("failed to record result: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		result.ID = id
	}
	return nil
}

// GetResultsForRun retrieves every recorded result for a run.
func (s *SQLiteStore) GetResultsForRun(runID string) ([]*core.TestResult, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	rows, err := s.db.Query(
		`SELECT id, run_id, node_id, status, message, duration_ms
		 FROM test_results WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get results: %w", err)
	}
	defer rows.Close()

	var out []*core.TestResult
	for rows.Next() {
		r := &core.TestResult{}
		var status string
		if err := rows.Scan(&r.ID, &r.RunID, &r.NodeID, &status, &r.Message, &r.DurationMS); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		r.Status = core.TestStatus(status)
		out = append(out, r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*core.RunRecord, error) {
	record := &core.RunRecord{}
	var mode, status string
	var completed sql.NullTime
	var errMsg sql.NullString
	if err := row.Scan(&record.ID, &mode, &status, &record.StartedAt, &completed, &errMsg); err != nil {
		return nil, err
	}
	record.Mode = core.RunMode(mode)
	record.Status = core.RunRecordStatus(status)
	if completed.Valid {
		t := completed.Time
		record.CompletedAt = &t
	}
	if errMsg.Valid {
		record.Error = errMsg.String
	}
	return record, nil
}
