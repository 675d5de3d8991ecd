package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const jobColumns = "id, external_id, title, state, progress_percent, error_code, error_message, duration_seconds, playback_url, revision, created_at, updated_at"

// Create registers a new tracked job in the queued state. The external
// identifier may be empty when the upload has not finished yet.
func (s *Store) Create(ctx context.Context, title, externalID string) (*Job, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, errors.New("job title is required")
	}

	id := uuid.NewString()
	now := formatTime(time.Now())
	_, err := s.execWithRetry(ctx,
		`INSERT INTO jobs (id, external_id, title, state, progress_percent, revision, created_at, updated_at)
         VALUES (?, ?, ?, ?, 0, 1, ?, ?)`,
		id,
		nullableString(strings.TrimSpace(externalID)),
		title,
		StateQueued,
		now,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return s.GetByID(ctx, id)
}

// AttachExternalID records the identifier assigned by the external service
// once the upload completes.
func (s *Store) AttachExternalID(ctx context.Context, id, externalID string) (*Job, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return nil, errors.New("external id is required")
	}
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs SET external_id = ?, revision = revision + 1, updated_at = ? WHERE id = ?`,
		externalID,
		formatTime(time.Now()),
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("attach external id: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return nil, ErrNotFound
	}
	return s.GetByID(ctx, id)
}

// GetByID fetches a job by its owned identifier.
func (s *Store) GetByID(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// GetByExternalID resolves the external service's identifier to a job.
func (s *Store) GetByExternalID(ctx context.Context, externalID string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE external_id = ?`, externalID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job by external id: %w", err)
	}
	return job, nil
}

// List returns jobs filtered by state set (or all jobs when no state is
// provided), ordered by creation time.
func (s *Store) List(ctx context.Context, states ...State) ([]*Job, error) {
	baseQuery := `SELECT ` + jobColumns + ` FROM jobs`
	orderClause := ` ORDER BY created_at`

	var (
		rows *sql.Rows
		err  error
	)
	if len(states) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(states))
		args := make([]any, len(states))
		for i, state := range states {
			args[i] = state
		}
		rows, err = s.db.QueryContext(ctx, baseQuery+` WHERE state IN (`+placeholders+`)`+orderClause, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// ListNonTerminal returns jobs the reconciliation poller should check.
func (s *Store) ListNonTerminal(ctx context.Context) ([]*Job, error) {
	return s.List(ctx, StateQueued, StateInProgress)
}

// ListFailed returns jobs eligible for the retry engine.
func (s *Store) ListFailed(ctx context.Context) ([]*Job, error) {
	return s.List(ctx, StateFailed)
}

// UpsertState performs the idempotent, revision-guarded state write shared
// by the webhook ingestor, the reconciliation poller, and the retry engine.
//
// The write is a no-op (not an error) when the change is not a valid
// forward transition, when it is a redundant redelivery, or when the
// expected revision is stale and the stored state is already terminal or
// already equal to the requested state. A stale revision for a change that
// would still apply reports Conflict so the caller can re-read and retry.
func (s *Store) UpsertState(ctx context.Context, id string, change StateChange, expectedRevision int64) (UpsertResult, error) {
	if _, ok := stateSet[change.State]; !ok {
		return UpsertResult{}, fmt.Errorf("unknown state %q", change.State)
	}
	change.ProgressPercent = clampProgress(change.ProgressPercent)

	var result UpsertResult
	err := retryOnBusy(ctx, func() error {
		r, txErr := s.upsertStateTx(ctx, id, change, expectedRevision)
		if txErr != nil {
			return txErr
		}
		result = r
		return nil
	})
	if err != nil {
		return UpsertResult{}, err
	}
	return result, nil
}

func (s *Store) upsertStateTx(ctx context.Context, id string, change StateChange, expectedRevision int64) (UpsertResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("begin upsert tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	current, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return UpsertResult{}, ErrNotFound
	}
	if err != nil {
		return UpsertResult{}, fmt.Errorf("read job for upsert: %w", err)
	}

	result := UpsertResult{Previous: current.State, Job: current}

	if !changeApplies(current, change) {
		return result, nil
	}
	if expectedRevision != current.Revision {
		if current.State.Terminal() || current.State == change.State {
			return result, nil
		}
		result.Conflict = true
		return result, nil
	}

	updated := applyChange(*current, change)
	updated.Revision = current.Revision + 1
	updated.UpdatedAt = time.Now().UTC()

	res, err := tx.ExecContext(ctx,
		`UPDATE jobs
         SET state = ?, progress_percent = ?, error_code = ?, error_message = ?,
             duration_seconds = ?, playback_url = ?, revision = ?, updated_at = ?
         WHERE id = ? AND revision = ?`,
		updated.State,
		updated.ProgressPercent,
		nullableString(updated.ErrorCode),
		nullableString(updated.ErrorMessage),
		nullableInt64(updated.DurationSeconds),
		nullableString(updated.PlaybackURL),
		updated.Revision,
		formatTime(updated.UpdatedAt),
		id,
		current.Revision,
	)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("update job state: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return UpsertResult{}, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		result.Conflict = true
		return result, nil
	}

	if err := tx.Commit(); err != nil {
		return UpsertResult{}, fmt.Errorf("commit upsert: %w", err)
	}

	result.Applied = true
	result.Transitioned = updated.State != result.Previous
	result.Job = &updated
	return result, nil
}

// applyChange computes the stored row for a validated transition. Field
// handling depends on the target state: progress and cleared errors for
// in-progress, playback metadata for ready, error details for failed.
func applyChange(current Job, change StateChange) Job {
	updated := current
	updated.State = change.State
	switch change.State {
	case StateInProgress:
		updated.ProgressPercent = change.ProgressPercent
		updated.ErrorCode = ""
		updated.ErrorMessage = ""
	case StateReady:
		updated.ProgressPercent = 100
		updated.ErrorCode = ""
		updated.ErrorMessage = ""
		if change.DurationSeconds > 0 {
			updated.DurationSeconds = change.DurationSeconds
		}
		if change.PlaybackURL != "" {
			updated.PlaybackURL = change.PlaybackURL
		}
	case StateFailed:
		updated.ErrorCode = change.ErrorCode
		updated.ErrorMessage = change.ErrorMessage
	}
	return updated
}

// Stuck returns non-terminal jobs whose last state-relevant write is older
// than the threshold. Read-only; escalation is the caller's concern.
func (s *Store) Stuck(ctx context.Context, threshold time.Duration) ([]*Job, error) {
	cutoff := formatTime(time.Now().Add(-threshold))
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE state IN (?, ?) AND updated_at < ? ORDER BY updated_at`,
		StateQueued,
		StateInProgress,
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("query stuck jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// Stats returns a count of jobs grouped by state.
func (s *Store) Stats(ctx context.Context) (map[State]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(1) FROM jobs GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[State]int)
	for rows.Next() {
		var state State
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, err
		}
		stats[state] = count
	}
	return stats, rows.Err()
}

// Health aggregates job counts for diagnostic output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	health := HealthSummary{}
	for state, count := range stats {
		health.Total += count
		switch state {
		case StateQueued:
			health.Queued += count
		case StateInProgress:
			health.InProgress += count
		case StateReady:
			health.Ready += count
		case StateFailed:
			health.Failed += count
		}
	}
	return health, nil
}

func collectJobs(rows *sql.Rows) ([]*Job, error) {
	var out []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id         string
		externalID sql.NullString
		title      string
		stateStr   string
		progress   sql.NullInt64
		errorCode  sql.NullString
		errorMsg   sql.NullString
		duration   sql.NullInt64
		playback   sql.NullString
		revision   int64
		createdRaw string
		updatedRaw string
	)

	if err := scanner.Scan(
		&id,
		&externalID,
		&title,
		&stateStr,
		&progress,
		&errorCode,
		&errorMsg,
		&duration,
		&playback,
		&revision,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	job := &Job{
		ID:              id,
		ExternalID:      externalID.String,
		Title:           title,
		State:           State(stateStr),
		ProgressPercent: int(progress.Int64),
		ErrorCode:       errorCode.String,
		ErrorMessage:    errorMsg.String,
		DurationSeconds: duration.Int64,
		PlaybackURL:     playback.String,
		Revision:        revision,
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		job.UpdatedAt = updated
	}
	return job, nil
}
