package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"vodwatch/internal/config"
	"vodwatch/internal/jobs"
	"vodwatch/internal/logging"
	"vodwatch/internal/metrics"
	"vodwatch/internal/notifications"
)

// Manager runs the reconciliation poller and the stuck-job sweep as
// background loops.
type Manager struct {
	store        *jobs.Store
	poller       *Poller
	dispatcher   *notifications.Dispatcher
	logger       *slog.Logger
	pollInterval time.Duration

	stuckThreshold time.Duration
	sweepInterval  time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// alerted tracks stuck jobs already escalated so every sweep does not
	// repeat the same alert. Entries clear once the job moves again.
	alerted map[string]struct{}
}

// NewManager constructs the background reconciliation manager.
func NewManager(cfg *config.Config, store *jobs.Store, poller *Poller, dispatcher *notifications.Dispatcher, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{
		store:          store,
		poller:         poller,
		dispatcher:     dispatcher,
		logger:         logger,
		pollInterval:   time.Duration(cfg.Reconcile.PollInterval) * time.Second,
		stuckThreshold: time.Duration(cfg.Reconcile.StuckThresholdMinutes) * time.Minute,
		sweepInterval:  time.Duration(cfg.Reconcile.StuckSweepInterval) * time.Second,
		alerted:        make(map[string]struct{}),
	}
}

// Start begins background processing.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.New("reconciliation already running")
	}
	if m.pollInterval <= 0 {
		return errors.New("poll interval must be positive")
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true

	m.wg.Add(2)
	go m.runPollLoop(runCtx)
	go m.runStuckSweep(runCtx)
	return nil
}

// Stop terminates background processing and waits for completion.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

// Running reports whether the background loops are active.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Manager) runPollLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if _, err := m.poller.RunCycle(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			m.logger.Error("reconciliation cycle failed",
				logging.Error(err),
				logging.String(logging.FieldEventType, "reconcile_cycle_failed"))
		}
	}
}

func (m *Manager) runStuckSweep(ctx context.Context) {
	defer m.wg.Done()

	if m.sweepInterval <= 0 || m.stuckThreshold <= 0 {
		return
	}
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if err := m.sweepStuck(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			m.logger.Error("stuck-job sweep failed",
				logging.Error(err),
				logging.String(logging.FieldEventType, "stuck_sweep_failed"))
		}
	}
}

// sweepStuck flags non-terminal jobs that have stopped moving. Detection
// only observes and escalates; it never changes job state.
func (m *Manager) sweepStuck(ctx context.Context) error {
	stuck, err := m.store.Stuck(ctx, m.stuckThreshold)
	if err != nil {
		return err
	}

	stuckIDs := make(map[string]struct{}, len(stuck))
	var fresh []string
	for _, job := range stuck {
		stuckIDs[job.ID] = struct{}{}
		if _, seen := m.alerted[job.ID]; seen {
			continue
		}
		m.alerted[job.ID] = struct{}{}
		fresh = append(fresh, job.Title)
		metrics.StuckJobsDetected.Inc()
		m.logger.Warn("job appears stuck",
			logging.String(logging.FieldJobID, job.ID),
			logging.String(logging.FieldExternal, job.ExternalID),
			logging.String(logging.FieldState, string(job.State)),
			logging.Duration("threshold", m.stuckThreshold))
	}

	// Jobs that moved since the last sweep become eligible for a fresh
	// alert if they stall again.
	for id := range m.alerted {
		if _, still := stuckIDs[id]; !still {
			delete(m.alerted, id)
		}
	}

	if len(fresh) > 0 && m.dispatcher != nil {
		threshold := m.stuckThreshold
		m.dispatcher.Dispatch("stuck_jobs", func(ctx context.Context) error {
			return m.dispatcher.Service().NotifyStuckJobs(ctx, fresh, threshold)
		})
	}
	return nil
}

// StuckJobs returns the current stuck set using an override threshold when
// positive, otherwise the configured one.
func (m *Manager) StuckJobs(ctx context.Context, threshold time.Duration) ([]*jobs.Job, error) {
	if threshold <= 0 {
		threshold = m.stuckThreshold
	}
	return m.store.Stuck(ctx, threshold)
}
