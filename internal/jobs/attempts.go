package jobs

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// NextAttemptNumber returns the attempt number the retry engine should use
// for its next attempt on a job. Numbers are monotonic per job across
// retry sequences.
func (s *Store) NextAttemptNumber(ctx context.Context, jobID string) (int, error) {
	var max sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(attempt_number) FROM retry_attempts WHERE job_id = ?`, jobID,
	).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("next attempt number: %w", err)
	}
	return int(max.Int64) + 1, nil
}

// RecordAttempt appends one retry-attempt record. The attempt history is
// append-only; outcomes are never rewritten.
func (s *Store) RecordAttempt(ctx context.Context, jobID string, attemptNumber int, success bool, attemptErr string) (*RetryAttempt, error) {
	attemptedAt := time.Now().UTC()
	res, err := s.execWithRetry(ctx,
		`INSERT INTO retry_attempts (job_id, attempt_number, attempted_at, success, error)
         VALUES (?, ?, ?, ?, ?)`,
		jobID,
		attemptNumber,
		formatTime(attemptedAt),
		boolToInt(success),
		nullableString(attemptErr),
	)
	if err != nil {
		return nil, fmt.Errorf("record attempt: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("attempt insert id: %w", err)
	}
	return &RetryAttempt{
		ID:            id,
		JobID:         jobID,
		AttemptNumber: attemptNumber,
		AttemptedAt:   attemptedAt,
		Success:       success,
		Error:         attemptErr,
	}, nil
}

// AttemptsForJob returns the retry history for a job in attempt order.
func (s *Store) AttemptsForJob(ctx context.Context, jobID string) ([]*RetryAttempt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_id, attempt_number, attempted_at, success, error
         FROM retry_attempts WHERE job_id = ? ORDER BY attempt_number`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	var out []*RetryAttempt
	for rows.Next() {
		var (
			attempt     RetryAttempt
			attemptedAt string
			success     int
			errText     sql.NullString
		)
		if err := rows.Scan(&attempt.ID, &attempt.JobID, &attempt.AttemptNumber, &attemptedAt, &success, &errText); err != nil {
			return nil, err
		}
		attempt.Success = success != 0
		attempt.Error = errText.String
		if parsed, parseErr := parseTimeString(attemptedAt); parseErr == nil {
			attempt.AttemptedAt = parsed
		}
		out = append(out, &attempt)
	}
	return out, rows.Err()
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
