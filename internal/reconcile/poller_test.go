package reconcile

import (
	"context"
	"testing"

	"vodwatch/internal/jobs"
	"vodwatch/internal/services"
	"vodwatch/internal/services/transcoder"
)

type fakeStatusClient struct {
	statuses map[string]transcoder.JobStatus
	errs     map[string]error
	calls    []string
}

func (f *fakeStatusClient) FetchStatus(_ context.Context, externalID string) (transcoder.JobStatus, error) {
	f.calls = append(f.calls, externalID)
	if err, ok := f.errs[externalID]; ok {
		return transcoder.JobStatus{}, err
	}
	status, ok := f.statuses[externalID]
	if !ok {
		return transcoder.JobStatus{}, services.Wrap(services.ErrPermanent, "transcoder", "fetch status", "unknown job", nil)
	}
	return status, nil
}

func newTestPoller(t *testing.T, store *jobs.Store, client transcoder.StatusClient) (*Poller, *recordingNotifier) {
	t.Helper()
	applier, notifier := newTestApplier(t, store)
	return NewPoller(store, client, applier, nil, 0), notifier
}

func TestCycleRecoversMissedCompletion(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job, _ := store.Create(ctx, "silent finisher", "ext-silent")
	mustInProgress(t, store, job.ID, 40)

	// The completion webhook was lost; only the poller can observe it.
	client := &fakeStatusClient{statuses: map[string]transcoder.JobStatus{
		"ext-silent": {
			ExternalID:      "ext-silent",
			State:           jobs.StateReady,
			ProgressPercent: 100,
			DurationSeconds: 512,
			PlaybackURL:     "https://cdn.example/s.m3u8",
		},
	}}
	poller, notifier := newTestPoller(t, store, client)

	report, err := poller.RunCycle(ctx)
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if report.Checked != 1 || report.Recovered != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}

	reread, _ := store.GetByID(ctx, job.ID)
	if reread.State != jobs.StateReady || reread.PlaybackURL != "https://cdn.example/s.m3u8" {
		t.Fatalf("job not recovered: %+v", reread)
	}
	waitFor(t, func() bool { return notifier.readyCount() == 1 })
}

func TestCycleIsolatesPerJobFailures(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	broken, _ := store.Create(ctx, "broken fetch", "ext-broken")
	mustInProgress(t, store, broken.ID, 10)
	healthy, _ := store.Create(ctx, "healthy", "ext-healthy")
	mustInProgress(t, store, healthy.ID, 10)

	client := &fakeStatusClient{
		errs: map[string]error{
			"ext-broken": services.Wrap(services.ErrTransient, "transcoder", "fetch status", "connection refused", nil),
		},
		statuses: map[string]transcoder.JobStatus{
			"ext-healthy": {ExternalID: "ext-healthy", State: jobs.StateReady, ProgressPercent: 100},
		},
	}
	poller, _ := newTestPoller(t, store, client)

	report, err := poller.RunCycle(ctx)
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if report.Errors != 1 {
		t.Fatalf("expected 1 error, got %d", report.Errors)
	}

	reread, _ := store.GetByID(ctx, healthy.ID)
	if reread.State != jobs.StateReady {
		t.Fatalf("healthy job must still reconcile: %s", reread.State)
	}
	stillBroken, _ := store.GetByID(ctx, broken.ID)
	if stillBroken.State != jobs.StateInProgress {
		t.Fatalf("transient failure must not change state: %s", stillBroken.State)
	}
}

func TestCycleOrphansUnknownJobs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job, _ := store.Create(ctx, "vanished", "ext-vanished")
	mustInProgress(t, store, job.ID, 30)

	client := &fakeStatusClient{} // every lookup reports unknown
	poller, notifier := newTestPoller(t, store, client)

	if _, err := poller.RunCycle(ctx); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	reread, _ := store.GetByID(ctx, job.ID)
	if !reread.Orphaned() {
		t.Fatalf("expected orphaned job, got %+v", reread)
	}
	waitFor(t, func() bool { return notifier.orphanedCount() == 1 })
}

func TestCycleSkipsJobsWithoutExternalID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Create(ctx, "not yet uploaded", ""); err != nil {
		t.Fatalf("create: %v", err)
	}

	client := &fakeStatusClient{}
	poller, _ := newTestPoller(t, store, client)

	report, err := poller.RunCycle(ctx)
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if report.Skipped != 1 || report.Checked != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if len(client.calls) != 0 {
		t.Fatalf("no fetch expected, got %v", client.calls)
	}
}

func TestCycleStopsOnCancel(t *testing.T) {
	store := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := &fakeStatusClient{}
	poller, _ := newTestPoller(t, store, client)

	a, _ := store.Create(context.Background(), "a", "ext-c1")
	mustInProgress(t, store, a.ID, 5)

	if _, err := poller.RunCycle(ctx); err == nil {
		t.Fatal("expected error from canceled context")
	}
}

func mustInProgress(t *testing.T, store *jobs.Store, id string, progress int) {
	t.Helper()
	ctx := context.Background()
	job, err := store.GetByID(ctx, id)
	if err != nil || job == nil {
		t.Fatalf("load job: %v", err)
	}
	result, err := store.UpsertState(ctx, id, jobs.StateChange{State: jobs.StateInProgress, ProgressPercent: progress}, job.Revision)
	if err != nil || !result.Applied {
		t.Fatalf("move to in_progress: %v %+v", err, result)
	}
}
