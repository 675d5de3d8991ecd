package reconcile

import (
	"context"
	"log/slog"
	"time"

	"vodwatch/internal/jobs"
	"vodwatch/internal/logging"
	"vodwatch/internal/metrics"
	"vodwatch/internal/services"
	"vodwatch/internal/services/transcoder"
)

// Poller sweeps every non-terminal job against the external source of
// truth. It is the safety net for missed webhooks.
type Poller struct {
	store   *jobs.Store
	client  transcoder.StatusClient
	applier *Applier
	logger  *slog.Logger
	pacing  time.Duration
}

// CycleReport summarizes one reconciliation pass.
type CycleReport struct {
	Checked   int
	Applied   int
	Recovered int
	Skipped   int
	Errors    int
}

// NewPoller constructs a reconciliation poller. Pacing spaces out status
// fetches so a large backlog does not hammer the external service.
func NewPoller(store *jobs.Store, client transcoder.StatusClient, applier *Applier, logger *slog.Logger, pacing time.Duration) *Poller {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Poller{store: store, client: client, applier: applier, logger: logger, pacing: pacing}
}

// RunCycle reconciles every non-terminal job once. A failure on one job
// never blocks the rest of the cycle; per-job errors are counted and the
// cycle keeps going.
func (p *Poller) RunCycle(ctx context.Context) (CycleReport, error) {
	var report CycleReport

	pending, err := p.store.ListNonTerminal(ctx)
	if err != nil {
		return report, err
	}

	for i, job := range pending {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if i > 0 && p.pacing > 0 {
			select {
			case <-time.After(p.pacing):
			case <-ctx.Done():
				return report, ctx.Err()
			}
		}

		if job.ExternalID == "" {
			report.Skipped++
			continue
		}
		report.Checked++
		p.reconcileJob(ctx, job, &report)
	}

	metrics.PollCycles.Inc()
	p.logger.Info("reconciliation cycle complete",
		logging.Int("checked", report.Checked),
		logging.Int("applied", report.Applied),
		logging.Int("recovered", report.Recovered),
		logging.Int("skipped", report.Skipped),
		logging.Int("errors", report.Errors))
	return report, nil
}

func (p *Poller) reconcileJob(ctx context.Context, job *jobs.Job, report *CycleReport) {
	started := time.Now()
	status, err := p.client.FetchStatus(ctx, job.ExternalID)
	metrics.StatusFetchDuration.Observe(time.Since(started).Seconds())

	if err != nil {
		if services.IsPermanent(err) {
			p.orphanJob(ctx, job, report)
			return
		}
		report.Errors++
		metrics.PollJobErrors.Inc()
		p.logger.Warn("status check failed",
			logging.String(logging.FieldJobID, job.ID),
			logging.String(logging.FieldExternal, job.ExternalID),
			logging.Error(err))
		return
	}

	result, err := p.applier.Apply(ctx, job, status.StateChange())
	if err != nil {
		report.Errors++
		metrics.PollJobErrors.Inc()
		p.logger.Warn("state apply failed",
			logging.String(logging.FieldJobID, job.ID),
			logging.Error(err))
		return
	}
	if result.Applied {
		report.Applied++
		if result.Transitioned && result.Job.State.Terminal() {
			report.Recovered++
			metrics.JobsRecovered.Inc()
		}
	}
}

// orphanJob marks a job the external service no longer knows. Orphaned
// jobs are terminal for the automatic paths; only a manual re-submission
// can revive them.
func (p *Poller) orphanJob(ctx context.Context, job *jobs.Job, report *CycleReport) {
	change := jobs.StateChange{
		State:        jobs.StateFailed,
		ErrorCode:    jobs.ErrorCodeOrphaned,
		ErrorMessage: "external service no longer knows this job",
	}
	result, err := p.applier.Apply(ctx, job, change)
	if err != nil {
		report.Errors++
		metrics.PollJobErrors.Inc()
		p.logger.Error("failed to mark job orphaned",
			logging.String(logging.FieldJobID, job.ID),
			logging.Error(err))
		return
	}
	if result.Applied {
		report.Applied++
		p.logger.Warn("job orphaned",
			logging.String(logging.FieldJobID, job.ID),
			logging.String(logging.FieldExternal, job.ExternalID))
	}
}
