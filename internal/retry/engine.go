// Package retry recovers failed jobs with bounded exponential backoff.
// It is the only path that retries a failed job; the reconciliation
// poller leaves failed jobs alone.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"vodwatch/internal/config"
	"vodwatch/internal/jobs"
	"vodwatch/internal/logging"
	"vodwatch/internal/metrics"
	"vodwatch/internal/notifications"
	"vodwatch/internal/reconcile"
	"vodwatch/internal/services"
	"vodwatch/internal/services/transcoder"
)

// ErrRetryInFlight is returned when a job is already mid-retry. A single
// job never retries concurrently with itself.
var ErrRetryInFlight = errors.New("retry already in flight for job")

// Policy bounds a retry sequence.
type Policy struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultPolicy mirrors the configuration defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:   3,
		InitialDelay: 5 * time.Second,
		MaxDelay:     300 * time.Second,
		Multiplier:   2,
	}
}

// PolicyFromConfig builds a policy from daemon configuration.
func PolicyFromConfig(cfg *config.Config) Policy {
	policy := Policy{
		MaxRetries:   cfg.Retry.MaxRetries,
		InitialDelay: time.Duration(cfg.Retry.InitialDelay) * time.Second,
		MaxDelay:     time.Duration(cfg.Retry.MaxDelay) * time.Second,
		Multiplier:   cfg.Retry.BackoffMultiplier,
	}
	return policy.normalized()
}

func (p Policy) normalized() Policy {
	defaults := DefaultPolicy()
	if p.MaxRetries <= 0 {
		p.MaxRetries = defaults.MaxRetries
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = defaults.InitialDelay
	}
	if p.MaxDelay < p.InitialDelay {
		p.MaxDelay = defaults.MaxDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = defaults.Multiplier
	}
	return p
}

// BackoffDelay returns the sleep before the next attempt in a sequence.
// attempt is 1-based within the current sequence; the delay is a pure
// function of it: min(initial * multiplier^(attempt-1), max).
func (p Policy) BackoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if max := float64(p.MaxDelay); delay > max {
		delay = max
	}
	return time.Duration(delay)
}

// Outcome reports one job's retry sequence result.
type Outcome struct {
	JobID     string
	Recovered bool
	Attempts  int
	Orphaned  bool
}

// Engine executes retry sequences for failed jobs.
type Engine struct {
	store      *jobs.Store
	client     transcoder.StatusClient
	applier    *reconcile.Applier
	dispatcher *notifications.Dispatcher
	logger     *slog.Logger

	// sleep is swappable so tests run without real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error

	mu    sync.Mutex
	locks map[string]*jobLock
}

type jobLock struct {
	mu   sync.Mutex
	refs int
}

// NewEngine constructs a retry engine.
func NewEngine(store *jobs.Store, client transcoder.StatusClient, applier *reconcile.Applier, dispatcher *notifications.Dispatcher, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Engine{
		store:      store,
		client:     client,
		applier:    applier,
		dispatcher: dispatcher,
		logger:     logger,
		sleep:      sleepCtx,
		locks:      make(map[string]*jobLock),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// acquireLock takes the per-job lock, or reports false when another
// retry already holds it. Entries are refcounted so the map does not
// grow with every job ever retried.
func (e *Engine) acquireLock(jobID string) (*jobLock, bool) {
	e.mu.Lock()
	lock, ok := e.locks[jobID]
	if !ok {
		lock = &jobLock{}
		e.locks[jobID] = lock
	}
	lock.refs++
	e.mu.Unlock()

	if !lock.mu.TryLock() {
		e.releaseLock(jobID, lock)
		return nil, false
	}
	return lock, true
}

func (e *Engine) releaseLock(jobID string, lock *jobLock) {
	e.mu.Lock()
	lock.refs--
	if lock.refs == 0 {
		delete(e.locks, jobID)
	}
	e.mu.Unlock()
}

// RetryJob runs one bounded retry sequence against a failed job. It
// returns the outcome; exhaustion is reported, not an error. A second
// concurrent call for the same job fails fast with ErrRetryInFlight.
func (e *Engine) RetryJob(ctx context.Context, jobID string, policy Policy) (Outcome, error) {
	policy = policy.normalized()

	lock, ok := e.acquireLock(jobID)
	if !ok {
		return Outcome{JobID: jobID}, ErrRetryInFlight
	}
	defer func() {
		lock.mu.Unlock()
		e.releaseLock(jobID, lock)
	}()

	job, err := e.store.GetByID(ctx, jobID)
	if err != nil {
		return Outcome{JobID: jobID}, err
	}
	if job == nil {
		return Outcome{JobID: jobID}, jobs.ErrNotFound
	}
	if job.State != jobs.StateFailed {
		return Outcome{JobID: jobID}, services.Wrap(services.ErrValidation, "retry", "retry job",
			"job is not failed (state "+string(job.State)+")", nil)
	}
	if job.Orphaned() {
		return Outcome{JobID: jobID}, services.Wrap(services.ErrValidation, "retry", "retry job",
			"job is orphaned; re-submit the source instead", nil)
	}
	if job.ExternalID == "" {
		return Outcome{JobID: jobID}, services.Wrap(services.ErrValidation, "retry", "retry job",
			"job has no external id", nil)
	}

	outcome := Outcome{JobID: jobID}
	for attempt := 1; attempt <= policy.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return outcome, err
		}

		number, err := e.store.NextAttemptNumber(ctx, jobID)
		if err != nil {
			return outcome, err
		}
		outcome.Attempts++

		status, fetchErr := e.client.FetchStatus(ctx, job.ExternalID)
		if fetchErr == nil && recoverable(status.State) {
			if _, err := e.store.RecordAttempt(ctx, jobID, number, true, ""); err != nil {
				return outcome, err
			}
			if _, err := e.applier.Apply(ctx, job, status.StateChange()); err != nil {
				return outcome, err
			}
			metrics.RetryAttempts.WithLabelValues("recovered").Inc()
			e.logger.Info("job recovered by retry",
				logging.String(logging.FieldJobID, jobID),
				logging.String(logging.FieldState, string(status.State)),
				logging.Int("attempt", number))
			outcome.Recovered = true
			return outcome, nil
		}

		reason := describeAttemptFailure(status, fetchErr)
		if _, err := e.store.RecordAttempt(ctx, jobID, number, false, reason); err != nil {
			return outcome, err
		}
		metrics.RetryAttempts.WithLabelValues("failed").Inc()
		e.logger.Warn("retry attempt failed",
			logging.String(logging.FieldJobID, jobID),
			logging.Int("attempt", number),
			logging.String("reason", reason))

		if fetchErr != nil && services.IsPermanent(fetchErr) {
			outcome.Orphaned = true
			if _, err := e.applier.Apply(ctx, job, jobs.StateChange{
				State:        jobs.StateFailed,
				ErrorCode:    jobs.ErrorCodeOrphaned,
				ErrorMessage: "external service no longer knows this job",
			}); err != nil {
				return outcome, err
			}
			return outcome, nil
		}

		if attempt < policy.MaxRetries {
			if err := e.sleep(ctx, policy.BackoffDelay(attempt)); err != nil {
				return outcome, err
			}
		}
	}

	metrics.RetryAttempts.WithLabelValues("exhausted").Inc()
	if e.dispatcher != nil {
		title := job.Title
		attempts := outcome.Attempts
		e.dispatcher.Dispatch("retry_exhausted", func(ctx context.Context) error {
			return e.dispatcher.Service().NotifyRetryExhausted(ctx, title, attempts)
		})
	}
	e.logger.Warn("retry sequence exhausted",
		logging.String(logging.FieldJobID, jobID),
		logging.Int("attempts", outcome.Attempts))
	return outcome, nil
}

// recoverable reports whether an external state justifies reopening a
// failed job. A still-failed report is not a recovery.
func recoverable(state jobs.State) bool {
	return state == jobs.StateReady || state == jobs.StateInProgress
}

func describeAttemptFailure(status transcoder.JobStatus, fetchErr error) string {
	if fetchErr != nil {
		return fetchErr.Error()
	}
	if status.ErrorMessage != "" {
		return status.ErrorMessage
	}
	if status.ErrorCode != "" {
		return status.ErrorCode
	}
	return "external service still reports " + string(status.State)
}

// RetryAllFailed runs a retry sequence for every failed job and returns
// per-job outcomes. Jobs already mid-retry and orphaned jobs are skipped;
// one job's failure never stops the sweep.
func (e *Engine) RetryAllFailed(ctx context.Context, policy Policy) ([]Outcome, int, error) {
	failed, err := e.store.ListFailed(ctx)
	if err != nil {
		return nil, 0, err
	}

	var outcomes []Outcome
	recovered := 0
	for _, job := range failed {
		if err := ctx.Err(); err != nil {
			return outcomes, recovered, err
		}
		if job.Orphaned() || job.ExternalID == "" {
			continue
		}
		outcome, err := e.RetryJob(ctx, job.ID, policy)
		if err != nil {
			if errors.Is(err, ErrRetryInFlight) {
				continue
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return outcomes, recovered, err
			}
			e.logger.Warn("retry sweep entry failed",
				logging.String(logging.FieldJobID, job.ID),
				logging.Error(err))
			continue
		}
		outcomes = append(outcomes, outcome)
		if outcome.Recovered {
			recovered++
		}
	}
	return outcomes, recovered, nil
}
