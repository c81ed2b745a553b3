package detect

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DecodeRun is the persisted bookkeeping row for one decode pass: where the
// predictions came from, where the decoded records went, and the decoder
// parameters used.
type DecodeRun struct {
	RunID           string          `json:"run_id"`
	SourcePath      string          `json:"source_path"`
	OutputPath      string          `json:"output_path"`
	NumClasses      int             `json:"num_classes"`
	NumExamples     int             `json:"num_examples"`
	NumBoxesEmitted int             `json:"num_boxes_emitted"`
	ParamsJSON      json.RawMessage `json:"params_json,omitempty"`
	CreatedAt       int64           `json:"created_at"`
}

// RunStore provides persistence for decode runs.
type RunStore struct {
	db *sql.DB
}

// NewRunStore creates a RunStore backed by the given database.
func NewRunStore(db *sql.DB) *RunStore {
	return &RunStore{db: db}
}

// Insert persists a new decode run. If RunID is empty, a UUID is generated.
func (s *RunStore) Insert(run *DecodeRun) error {
	if run.RunID == "" {
		run.RunID = uuid.New().String()
	}
	if run.CreatedAt == 0 {
		run.CreatedAt = time.Now().UnixNano()
	}

	var paramsStr interface{}
	if len(run.ParamsJSON) > 0 {
		paramsStr = string(run.ParamsJSON)
	}

	return retryOnBusy(func() error {
		_, err := s.db.Exec(`
			INSERT INTO decode_runs (
				run_id, source_path, output_path, num_classes,
				num_examples, num_boxes_emitted, params_json, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			run.RunID, run.SourcePath, run.OutputPath, run.NumClasses,
			run.NumExamples, run.NumBoxesEmitted, paramsStr, run.CreatedAt,
		)
		return err
	})
}

// Get returns a single decode run by ID.
func (s *RunStore) Get(runID string) (*DecodeRun, error) {
	row := s.db.QueryRow(`
		SELECT run_id, source_path, output_path, num_classes,
		       num_examples, num_boxes_emitted, params_json, created_at
		FROM decode_runs
		WHERE run_id = ?`, runID)

	var r DecodeRun
	var paramsStr sql.NullString
	err := row.Scan(
		&r.RunID, &r.SourcePath, &r.OutputPath, &r.NumClasses,
		&r.NumExamples, &r.NumBoxesEmitted, &paramsStr, &r.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("decode run %s not found", runID)
		}
		return nil, fmt.Errorf("scan decode run: %w", err)
	}
	if paramsStr.Valid {
		r.ParamsJSON = json.RawMessage(paramsStr.String)
	}
	return &r, nil
}

// ListRecent returns up to limit runs, newest first.
func (s *RunStore) ListRecent(limit int) ([]*DecodeRun, error) {
	rows, err := s.db.Query(`
		SELECT run_id, source_path, output_path, num_classes,
		       num_examples, num_boxes_emitted, params_json, created_at
		FROM decode_runs
		ORDER BY created_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query decode runs: %w", err)
	}
	defer rows.Close()

	var runs []*DecodeRun
	for rows.Next() {
		var r DecodeRun
		var paramsStr sql.NullString
		if err := rows.Scan(
			&r.RunID, &r.SourcePath, &r.OutputPath, &r.NumClasses,
			&r.NumExamples, &r.NumBoxesEmitted, &paramsStr, &r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan decode run: %w", err)
		}
		if paramsStr.Valid {
			r.ParamsJSON = json.RawMessage(paramsStr.String)
		}
		runs = append(runs, &r)
	}
	return runs, rows.Err()
}

// Delete removes a decode run by ID.
func (s *RunStore) Delete(runID string) error {
	return retryOnBusy(func() error {
		result, err := s.db.Exec(`DELETE FROM decode_runs WHERE run_id = ?`, runID)
		if err != nil {
			return err
		}
		n, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("decode run %s not found", runID)
		}
		return nil
	})
}

// isSQLiteBusy reports whether err looks like sqlite lock contention.
func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

// retryOnBusy retries fn a few times with backoff when sqlite reports the
// database busy. Other errors return immediately.
func retryOnBusy(fn func() error) error {
	const maxAttempts = 5
	delay := 10 * time.Millisecond
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = fn()
		if err == nil || !isSQLiteBusy(err) {
			return err
		}
		time.Sleep(delay)
		delay *= 2
	}
	return err
}
