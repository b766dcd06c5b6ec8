package task

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/paperdash/paperdash/errors"
)

// Store is the SQLite-backed HistoryStore implementation.
type Store struct {
	db *sql.DB
}

// NewStore creates a new task history store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

var _ HistoryStore = (*Store)(nil)

// Save upserts a result snapshot. Called on every state transition, so it
// must tolerate both first-write and update.
func (s *Store) Save(r *Result) error {
	configJSON, err := json.Marshal(r.Config)
	if err != nil {
		return errors.Wrap(err, "failed to marshal config snapshot")
	}

	query := `
		INSERT INTO task_results (
			id, status, mode, config, progress, error,
			start_time, end_time, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			progress = excluded.progress,
			error = excluded.error,
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			updated_at = excluded.updated_at
	`

	errMsg := sql.NullString{String: r.Error, Valid: r.Error != ""}
	var startTime, endTime interface{}
	if r.StartTime != nil {
		startTime = r.StartTime.Format(time.RFC3339Nano)
	}
	if r.EndTime != nil {
		endTime = r.EndTime.Format(time.RFC3339Nano)
	}

	_, err = s.db.Exec(query,
		r.ID,
		r.Status,
		r.Mode,
		string(configJSON),
		r.Progress,
		errMsg,
		startTime,
		endTime,
		r.CreatedAt.Format(time.RFC3339Nano),
		r.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		err = errors.Wrap(err, "failed to save task result")
		err = errors.WithDetail(err, fmt.Sprintf("Task ID: %s", r.ID))
		err = errors.WithDetail(err, fmt.Sprintf("Status: %s", r.Status))
		return err
	}

	return nil
}

// Load retrieves a result snapshot by ID
func (s *Store) Load(id string) (*Result, error) {
	query := `
		SELECT id, status, mode, config, progress, error,
		       start_time, end_time, created_at, updated_at
		FROM task_results
		WHERE id = ?
	`

	r, err := scanResult(s.db.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("task result %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load task result %s", id)
	}
	return r, nil
}

// ListByStatus returns all results in the given status, newest first
func (s *Store) ListByStatus(status Status) ([]*Result, error) {
	query := `
		SELECT id, status, mode, config, progress, error,
		       start_time, end_time, created_at, updated_at
		FROM task_results
		WHERE status = ?
		ORDER BY created_at DESC
	`

	rows, err := s.db.Query(query, status)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list %s task results", status)
	}
	defer rows.Close()

	var results []*Result
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan task result")
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// ListRecent returns the most recent results regardless of status
func (s *Store) ListRecent(limit int) ([]*Result, error) {
	query := `
		SELECT id, status, mode, config, progress, error,
		       start_time, end_time, created_at, updated_at
		FROM task_results
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list recent task results")
	}
	defer rows.Close()

	var results []*Result
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan task result")
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// Delete removes a single result snapshot
func (s *Store) Delete(id string) error {
	if _, err := s.db.Exec("DELETE FROM task_results WHERE id = ?", id); err != nil {
		return errors.Wrapf(err, "failed to delete task result %s", id)
	}
	return nil
}

// DeleteOlderThan removes terminal results older than the retention window.
// Returns the number of rows removed.
func (s *Store) DeleteOlderThan(olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan).Format(time.RFC3339Nano)
	res, err := s.db.Exec(`
		DELETE FROM task_results
		WHERE status IN (?, ?, ?) AND updated_at < ?
	`, StatusCompleted, StatusFailed, StatusStopped, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete old task results")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to count deleted task results")
	}
	return int(n), nil
}

// scanner abstracts *sql.Row and *sql.Rows for scanResult
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanResult(row scanner) (*Result, error) {
	var r Result
	var configJSON string
	var errMsg, startTime, endTime sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(
		&r.ID,
		&r.Status,
		&r.Mode,
		&configJSON,
		&r.Progress,
		&errMsg,
		&startTime,
		&endTime,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(configJSON), &r.Config); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal config snapshot for task %s", r.ID)
	}
	if errMsg.Valid {
		r.Error = errMsg.String
	}

	r.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse created_at for task %s", r.ID)
	}
	r.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse updated_at for task %s", r.ID)
	}
	if startTime.Valid {
		t, err := time.Parse(time.RFC3339Nano, startTime.String)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse start_time for task %s", r.ID)
		}
		r.StartTime = &t
	}
	if endTime.Valid {
		t, err := time.Parse(time.RFC3339Nano, endTime.String)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse end_time for task %s", r.ID)
		}
		r.EndTime = &t
	}

	return &r, nil
}
