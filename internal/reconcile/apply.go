// Package reconcile keeps local job state converged with the external
// transcoding service. It owns the shared state-apply path used by the
// webhook ingestor and the poller, the periodic reconciliation cycle, and
// the stuck-job sweep.
package reconcile

import (
	"context"
	"log/slog"

	"vodwatch/internal/jobs"
	"vodwatch/internal/logging"
	"vodwatch/internal/notifications"
	"vodwatch/internal/services"
)

// applyRetries bounds re-reads after a revision conflict. Two writers
// racing settle within one retry; the bound guards against livelock.
const applyRetries = 3

// Applier funnels every state write through the store's revision-guarded
// upsert and fires user notifications on terminal transitions.
type Applier struct {
	store      *jobs.Store
	dispatcher *notifications.Dispatcher
	logger     *slog.Logger
}

// NewApplier constructs the shared state-apply path.
func NewApplier(store *jobs.Store, dispatcher *notifications.Dispatcher, logger *slog.Logger) *Applier {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Applier{store: store, dispatcher: dispatcher, logger: logger}
}

// Apply attempts a state change against a job, re-reading and retrying
// when a concurrent writer bumped the revision first. A change that no
// longer applies after a re-read is dropped silently; both writers were
// converging on the same truth.
func (a *Applier) Apply(ctx context.Context, job *jobs.Job, change jobs.StateChange) (jobs.UpsertResult, error) {
	current := job
	for attempt := 0; attempt < applyRetries; attempt++ {
		result, err := a.store.UpsertState(ctx, current.ID, change, current.Revision)
		if err != nil {
			return jobs.UpsertResult{}, err
		}
		if !result.Conflict {
			if result.Applied {
				a.logApplied(current, result)
				a.notify(result)
			}
			return result, nil
		}

		reread, err := a.store.GetByID(ctx, current.ID)
		if err != nil {
			return jobs.UpsertResult{}, err
		}
		if reread == nil {
			return jobs.UpsertResult{}, jobs.ErrNotFound
		}
		current = reread
	}
	return jobs.UpsertResult{}, services.Wrap(services.ErrConflict, "reconcile", "apply",
		"revision conflict persisted across retries for job "+job.ID, nil)
}

func (a *Applier) logApplied(before *jobs.Job, result jobs.UpsertResult) {
	if result.Transitioned {
		a.logger.Info("job state changed",
			logging.String(logging.FieldJobID, before.ID),
			logging.String(logging.FieldExternal, before.ExternalID),
			logging.String("from", string(result.Previous)),
			logging.String(logging.FieldState, string(result.Job.State)))
		return
	}
	a.logger.Debug("job progress updated",
		logging.String(logging.FieldJobID, before.ID),
		logging.Int("progress", result.Job.ProgressPercent))
}

// notify fires at most one user notification per terminal transition. The
// shared apply path is the only writer, so a replayed webhook or a poll of
// an already-terminal job can never notify twice.
func (a *Applier) notify(result jobs.UpsertResult) {
	if a.dispatcher == nil || !result.Transitioned {
		return
	}
	job := result.Job
	switch job.State {
	case jobs.StateReady:
		a.dispatcher.Dispatch("job_ready", func(ctx context.Context) error {
			return a.dispatcher.Service().NotifyJobReady(ctx, job.Title, job.PlaybackURL)
		})
	case jobs.StateFailed:
		if job.Orphaned() {
			a.dispatcher.Dispatch("job_orphaned", func(ctx context.Context) error {
				return a.dispatcher.Service().NotifyJobOrphaned(ctx, job.Title, job.ExternalID)
			})
			return
		}
		a.dispatcher.Dispatch("job_failed", func(ctx context.Context) error {
			return a.dispatcher.Service().NotifyJobFailed(ctx, job.Title, job.ErrorCode, job.ErrorMessage)
		})
	}
}
