package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"vodwatch/internal/api"
	"vodwatch/internal/config"
	"vodwatch/internal/ingest"
	"vodwatch/internal/jobs"
	"vodwatch/internal/testsupport"
)

func startDaemon(t *testing.T, opts ...testsupport.ConfigOption) (*Daemon, *config.Config, string) {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	store := testsupport.MustOpenStore(t, cfg)

	d, err := New(cfg, store, nil)
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := d.Start(ctx); err != nil {
		t.Fatalf("start daemon: %v", err)
	}
	t.Cleanup(func() {
		d.Stop()
		cancel()
	})
	return d, cfg, "http://" + d.apiSrv.addr()
}

func postJSON(t *testing.T, url string, payload any) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	return resp
}

func decodeInto(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestRegisterListAndDescribe(t *testing.T) {
	_, _, base := startDaemon(t)

	resp := postJSON(t, base+"/api/jobs", api.RegisterJobRequest{Title: "town hall recording", ExternalID: "ext-api-1"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var created api.JobView
	decodeInto(t, resp, &created)
	if created.State != "queued" || created.ID == "" {
		t.Fatalf("unexpected created job: %+v", created)
	}

	listResp, err := http.Get(base + "/api/jobs")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var list api.JobListResponse
	decodeInto(t, listResp, &list)
	if len(list.Jobs) != 1 || list.Jobs[0].ID != created.ID {
		t.Fatalf("unexpected listing: %+v", list)
	}

	detailResp, err := http.Get(base + "/api/jobs/" + created.ID)
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	var detail api.JobDetailResponse
	decodeInto(t, detailResp, &detail)
	if detail.Job.Title != "town hall recording" {
		t.Fatalf("unexpected detail: %+v", detail)
	}

	missing, err := http.Get(base + "/api/jobs/no-such-id")
	if err != nil {
		t.Fatalf("missing: %v", err)
	}
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", missing.StatusCode)
	}
}

func TestListRejectsUnknownStateFilter(t *testing.T) {
	_, _, base := startDaemon(t)
	resp, err := http.Get(base + "/api/jobs?state=exploded")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestWebhookEndToEnd(t *testing.T) {
	d, cfg, base := startDaemon(t)
	ctx := context.Background()

	job, err := d.store.Create(ctx, "webhook target", "ext-api-wh")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	body := []byte(`{"externalId":"ext-api-wh","state":"in_progress","progress":35}`)
	req, _ := http.NewRequest(http.MethodPost, base+"/webhooks/transcoder", bytes.NewReader(body))
	req.Header.Set(ingest.SignatureHeader, ingest.Sign(cfg.Webhook.Secret, body))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	reread, _ := d.store.GetByID(ctx, job.ID)
	if reread.ProgressPercent != 35 {
		t.Fatalf("webhook not applied: %+v", reread)
	}
}

func TestMonitorSnapshotAndPoll(t *testing.T) {
	external := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"state":"ready","progressPercent":100,"playbackUrl":"https://cdn.example/m.m3u8"}`)
	}))
	defer external.Close()

	d, _, base := startDaemon(t, testsupport.WithTranscoderURL(external.URL))
	ctx := context.Background()

	job, _ := d.store.Create(ctx, "monitored", "ext-api-mon")
	current, _ := d.store.GetByID(ctx, job.ID)
	if _, err := d.store.UpsertState(ctx, job.ID, jobs.StateChange{State: jobs.StateInProgress, ProgressPercent: 10}, current.Revision); err != nil {
		t.Fatalf("seed: %v", err)
	}

	snapResp, err := http.Get(base + "/admin/jobs/monitor?includeStuck=true")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	var snapshot api.MonitorResponse
	decodeInto(t, snapResp, &snapshot)
	if snapshot.Counts.InProgress != 1 {
		t.Fatalf("unexpected snapshot: %+v", snapshot)
	}

	pollResp := postJSON(t, base+"/admin/jobs/monitor", struct{}{})
	var poll api.PollResponse
	decodeInto(t, pollResp, &poll)
	if poll.Checked != 1 || poll.Recovered != 1 {
		t.Fatalf("unexpected poll result: %+v", poll)
	}
	if poll.Counts.Ready != 1 {
		t.Fatalf("aggregate not updated: %+v", poll.Counts)
	}
}

func TestRetryEndpointUnknownJob(t *testing.T) {
	_, _, base := startDaemon(t)
	resp := postJSON(t, base+"/admin/jobs/retry", api.RetryRequest{JobID: "no-such-job"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestBearerAuthEnforced(t *testing.T) {
	_, _, base := startDaemon(t, testsupport.WithAPIToken("secret-token"))

	resp, err := http.Get(base + "/api/status")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, base+"/api/status", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	authed, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("authed get: %v", err)
	}
	defer authed.Body.Close()
	if authed.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", authed.StatusCode)
	}

	var status api.DaemonStatus
	if err := json.NewDecoder(authed.Body).Decode(&status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !status.Running {
		t.Fatalf("daemon should report running: %+v", status)
	}
}
