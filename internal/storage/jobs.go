package storage

import (
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"
)

// DefaultMaxAttempts is used when a job is enqueued without a limit.
const DefaultMaxAttempts = 3

func (s *Store) EnqueueJob(job Job) error {
	ts := now()
	runAfter := ts
	if !job.RunAfter.IsZero() {
		runAfter = formatTime(job.RunAfter)
	}
	maxAttempts := job.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = DefaultMaxAttempts
	}
	_, err := s.db.Exec(`
		INSERT INTO jobs (id, type, lane, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at)
		VALUES (?, ?, ?, ?, 'pending', 0, ?, ?, ?, ?)`,
		job.ID, job.Type, job.Lane, job.PayloadJSON, maxAttempts, runAfter, ts, ts,
	)
	return err
}

const jobColumns = `id, type, lane, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at, last_error`

func scanJob(row scanner) (Job, error) {
	var j Job
	var runAfter, createdAt, updatedAt string
	var lastError sql.NullString
	if err := row.Scan(&j.ID, &j.Type, &j.Lane, &j.PayloadJSON, &j.Status, &j.Attempts, &j.MaxAttempts,
		&runAfter, &createdAt, &updatedAt, &lastError); err != nil {
		return Job{}, err
	}
	j.LastError = lastError.String
	var err error
	if j.RunAfter, err = parseTime("run_after", runAfter); err != nil {
		return Job{}, fmt.Errorf("job %s: %w", j.ID, err)
	}
	if j.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return Job{}, fmt.Errorf("job %s: %w", j.ID, err)
	}
	if j.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
		return Job{}, fmt.Errorf("job %s: %w", j.ID, err)
	}
	return j, nil
}

func (s *Store) GetJob(id string) (Job, error) {
	j, err := scanJob(s.db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return Job{}, ErrNotFound
	}
	return j, err
}

// ClaimNextJob marks the oldest runnable job in one of lanes as running and
// returns it. It returns nil when nothing is runnable.
func (s *Store) ClaimNextJob(lanes []string) (*Job, error) {
	if len(lanes) == 0 {
		return nil, nil
	}

	ts := now()
	placeholders := strings.Repeat(",?", len(lanes)-1)
	query := `SELECT ` + jobColumns + `
		FROM jobs
		WHERE status = 'pending' AND run_after <= ? AND lane IN (?` + placeholders + `)
		ORDER BY run_after ASC, created_at ASC
		LIMIT 1`

	args := make([]any, 0, len(lanes)+1)
	args = append(args, ts)
	for _, l := range lanes {
		args = append(args, l)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}
	defer tx.Rollback()

	j, err := scanJob(tx.QueryRow(query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("selecting next job: %w", err)
	}

	res, err := tx.Exec(`UPDATE jobs SET status = 'running', updated_at = ? WHERE id = ? AND status = 'pending'`, ts, j.ID)
	if err != nil {
		return nil, fmt.Errorf("updating job status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("checking updated job rows: %w", err)
	}
	if n != 1 {
		return nil, nil
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	j.Status = "running"
	if j.UpdatedAt, err = parseTime("updated_at", ts); err != nil {
		return nil, err
	}
	return &j, nil
}

func (s *Store) CompleteJob(id string) error {
	return expectOne(s.db.Exec(`UPDATE jobs SET status = 'completed', updated_at = ? WHERE id = ?`, now(), id))
}

// FailJob records a failed attempt. The job is retried with exponential
// back-off until it reaches max_attempts, then marked failed.
func (s *Store) FailJob(id string, errMsg string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning fail transaction: %w", err)
	}
	defer tx.Rollback()

	var attempts, maxAttempts int
	err = tx.QueryRow(`SELECT attempts, max_attempts FROM jobs WHERE id = ?`, id).Scan(&attempts, &maxAttempts)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	t := time.Now().UTC()
	attempts++

	if attempts >= maxAttempts {
		_, err = tx.Exec(`UPDATE jobs SET status = 'failed', attempts = ?, last_error = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, formatTime(t), id)
	} else {
		backoff := time.Duration(math.Pow(2, float64(attempts))) * time.Second
		_, err = tx.Exec(`UPDATE jobs SET status = 'pending', attempts = ?, last_error = ?, run_after = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, formatTime(t.Add(backoff)), formatTime(t), id)
	}
	if err != nil {
		return err
	}
	return tx.Commit()
}

// RequeueStale returns jobs left running by a crashed worker to the queue.
func (s *Store) RequeueStale(olderThan time.Duration) (int64, error) {
	cutoff := formatTime(time.Now().Add(-olderThan))
	res, err := s.db.Exec(`UPDATE jobs SET status = 'pending', updated_at = ? WHERE status = 'running' AND updated_at < ?`,
		now(), cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// JobCounts returns job counts keyed by lane then status.
func (s *Store) JobCounts() (map[string]map[string]int, error) {
	rows, err := s.db.Query(`SELECT lane, status, COUNT(*) FROM jobs GROUP BY lane, status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]map[string]int)
	for rows.Next() {
		var lane, status string
		var n int
		if err := rows.Scan(&lane, &status, &n); err != nil {
			return nil, err
		}
		if out[lane] == nil {
			out[lane] = make(map[string]int)
		}
		out[lane][status] = n
	}
	return out, rows.Err()
}
