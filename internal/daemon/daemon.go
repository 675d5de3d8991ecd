// Package daemon wires the reconciliation loop, retry engine, webhook
// ingress, and operator API into a single-instance background service.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"vodwatch/internal/api"
	"vodwatch/internal/config"
	"vodwatch/internal/ingest"
	"vodwatch/internal/jobs"
	"vodwatch/internal/logging"
	"vodwatch/internal/metrics"
	"vodwatch/internal/notifications"
	"vodwatch/internal/reconcile"
	"vodwatch/internal/retry"
	"vodwatch/internal/services/transcoder"
)

// Daemon coordinates the background services and enforces single-instance
// execution.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *jobs.Store

	manager    *reconcile.Manager
	poller     *reconcile.Poller
	engine     *retry.Engine
	ingestor   *ingest.Ingestor
	jobsSvc    *api.JobsService
	dispatcher *notifications.Dispatcher

	apiSrv *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	Reconciling  bool
	DBPath       string
	LockFilePath string
	Jobs         jobs.HealthSummary
}

// New constructs a daemon with its dependency graph fully wired.
func New(cfg *config.Config, store *jobs.Store, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || store == nil {
		return nil, errors.New("daemon requires config and store")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	notifier := notifications.NewService(cfg)
	dispatcher := notifications.NewDispatcher(notifier, logger.With(logging.String(logging.FieldComponent, "notifications")),
		metrics.NotificationFailures.Inc)
	applier := reconcile.NewApplier(store, dispatcher, logger.With(logging.String(logging.FieldComponent, "reconcile")))
	client := transcoder.NewClient(cfg)
	poller := reconcile.NewPoller(store, client, applier,
		logger.With(logging.String(logging.FieldComponent, "poller")),
		time.Duration(cfg.Reconcile.PacingDelayMS)*time.Millisecond)
	manager := reconcile.NewManager(cfg, store, poller, dispatcher,
		logger.With(logging.String(logging.FieldComponent, "reconcile")))
	engine := retry.NewEngine(store, client, applier, dispatcher,
		logger.With(logging.String(logging.FieldComponent, "retry")))
	ingestor := ingest.NewIngestor(cfg.Webhook.Secret, store, applier,
		logger.With(logging.String(logging.FieldComponent, "ingest")))

	lockPath := cfg.LockFilePath()
	d := &Daemon{
		cfg:        cfg,
		logger:     logger,
		store:      store,
		manager:    manager,
		poller:     poller,
		engine:     engine,
		ingestor:   ingestor,
		jobsSvc:    api.NewJobsService(store),
		dispatcher: dispatcher,
		lockPath:   lockPath,
		lock:       flock.New(lockPath),
	}

	apiSrv, err := newAPIServer(cfg, d, logger.With(logging.String(logging.FieldComponent, "api-server")))
	if err != nil {
		return nil, err
	}
	d.apiSrv = apiSrv
	return d, nil
}

// Start acquires the instance lock and launches background processing.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another vodwatch daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if err := d.manager.Start(runCtx); err != nil {
		_ = d.lock.Unlock()
		cancel()
		d.cancel = nil
		return fmt.Errorf("start reconciliation: %w", err)
	}
	if d.apiSrv != nil {
		if err := d.apiSrv.start(runCtx); err != nil {
			d.manager.Stop()
			_ = d.lock.Unlock()
			cancel()
			d.cancel = nil
			return err
		}
	}

	d.running.Store(true)
	d.logger.Info("vodwatch daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Stop stops background processing and releases the instance lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.manager.Stop()
	if d.apiSrv != nil {
		d.apiSrv.stop()
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("vodwatch daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Status returns current daemon diagnostics.
func (d *Daemon) Status(ctx context.Context) Status {
	health, err := d.store.Health(ctx)
	if err != nil {
		d.logger.Warn("health query failed", logging.Error(err))
	}
	return Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		Reconciling:  d.manager.Running(),
		DBPath:       d.store.Path(),
		LockFilePath: d.lockPath,
		Jobs:         health,
	}
}

// RunPollCycle triggers one reconciliation cycle synchronously.
func (d *Daemon) RunPollCycle(ctx context.Context) (reconcile.CycleReport, error) {
	return d.poller.RunCycle(ctx)
}

// RetryJob runs the retry engine against one failed job. maxRetries
// overrides the configured bound when positive.
func (d *Daemon) RetryJob(ctx context.Context, jobID string, maxRetries int) (retry.Outcome, error) {
	policy := retry.PolicyFromConfig(d.cfg)
	if maxRetries > 0 {
		policy.MaxRetries = maxRetries
	}
	return d.engine.RetryJob(ctx, jobID, policy)
}

// RetryAllFailed sweeps the retry engine across every failed job.
func (d *Daemon) RetryAllFailed(ctx context.Context, maxRetries int) ([]retry.Outcome, int, error) {
	policy := retry.PolicyFromConfig(d.cfg)
	if maxRetries > 0 {
		policy.MaxRetries = maxRetries
	}
	return d.engine.RetryAllFailed(ctx, policy)
}

// StuckJobs returns jobs without progress past the threshold; zero uses
// the configured threshold.
func (d *Daemon) StuckJobs(ctx context.Context, threshold time.Duration) ([]*jobs.Job, error) {
	return d.manager.StuckJobs(ctx, threshold)
}

// TestNotification sends a notification through the configured channel.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	if err := d.dispatcher.Service().TestNotification(ctx); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}
