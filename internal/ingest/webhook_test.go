package ingest

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"vodwatch/internal/jobs"
	"vodwatch/internal/notifications"
	"vodwatch/internal/reconcile"
)

const testSecret = "webhook-secret"

func newTestIngestor(t *testing.T) (*Ingestor, *jobs.Store) {
	t.Helper()
	store, err := jobs.OpenPath(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	dispatcher := notifications.NewDispatcher(nil, nil, nil)
	applier := reconcile.NewApplier(store, dispatcher, nil)
	return NewIngestor(testSecret, store, applier, nil), store
}

func deliver(t *testing.T, ingestor *Ingestor, body string, sign bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/transcoder", bytes.NewReader([]byte(body)))
	if sign {
		req.Header.Set(SignatureHeader, Sign(testSecret, []byte(body)))
	}
	recorder := httptest.NewRecorder()
	ingestor.ServeHTTP(recorder, req)
	return recorder
}

func TestWebhookAppliesTransition(t *testing.T) {
	ingestor, store := newTestIngestor(t)
	ctx := context.Background()

	job, _ := store.Create(ctx, "signed delivery", "ext-wh1")

	resp := deliver(t, ingestor, `{"externalId":"ext-wh1","state":"in_progress","progress":25}`, true)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	reread, _ := store.GetByID(ctx, job.ID)
	if reread.State != jobs.StateInProgress || reread.ProgressPercent != 25 {
		t.Fatalf("transition not applied: %+v", reread)
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	ingestor, store := newTestIngestor(t)
	_, _ = store.Create(context.Background(), "unsigned", "ext-wh2")

	resp := deliver(t, ingestor, `{"externalId":"ext-wh2","state":"in_progress"}`, false)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}

	body := `{"externalId":"ext-wh2","state":"in_progress"}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/transcoder", bytes.NewReader([]byte(body)))
	req.Header.Set(SignatureHeader, Sign("wrong-secret", []byte(body)))
	recorder := httptest.NewRecorder()
	ingestor.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong secret, got %d", recorder.Code)
	}
}

func TestWebhookSignaturePrefixAccepted(t *testing.T) {
	ingestor, store := newTestIngestor(t)
	_, _ = store.Create(context.Background(), "prefixed", "ext-wh3")

	body := `{"externalId":"ext-wh3","state":"in_progress","progress":5}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/transcoder", bytes.NewReader([]byte(body)))
	req.Header.Set(SignatureHeader, "sha256="+Sign(testSecret, []byte(body)))
	recorder := httptest.NewRecorder()
	ingestor.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
}

func TestWebhookUnknownJobDiscarded(t *testing.T) {
	ingestor, _ := newTestIngestor(t)

	resp := deliver(t, ingestor, `{"externalId":"ext-ghost","state":"ready"}`, true)
	if resp.Code != http.StatusOK {
		t.Fatalf("unknown job must still acknowledge, got %d", resp.Code)
	}
}

func TestWebhookMalformedBodyAcknowledged(t *testing.T) {
	ingestor, _ := newTestIngestor(t)

	if resp := deliver(t, ingestor, `{not json`, true); resp.Code != http.StatusOK {
		t.Fatalf("malformed body must still acknowledge, got %d", resp.Code)
	}
	if resp := deliver(t, ingestor, `{"externalId":"ext-x","state":"exploded"}`, true); resp.Code != http.StatusOK {
		t.Fatalf("unknown status must still acknowledge, got %d", resp.Code)
	}
}

func TestWebhookReplayIsIdempotent(t *testing.T) {
	ingestor, store := newTestIngestor(t)
	ctx := context.Background()

	job, _ := store.Create(ctx, "replayed", "ext-wh4")
	deliver(t, ingestor, `{"externalId":"ext-wh4","state":"in_progress","progress":50}`, true)
	deliver(t, ingestor, `{"externalId":"ext-wh4","state":"ready","playbackUrl":"https://cdn.example/r.m3u8"}`, true)

	before, _ := store.GetByID(ctx, job.ID)

	resp := deliver(t, ingestor, `{"externalId":"ext-wh4","state":"ready","playbackUrl":"https://cdn.example/r.m3u8"}`, true)
	if resp.Code != http.StatusOK {
		t.Fatalf("replay must acknowledge, got %d", resp.Code)
	}

	after, _ := store.GetByID(ctx, job.ID)
	if after.Revision != before.Revision {
		t.Fatalf("replay must not change the row: %d -> %d", before.Revision, after.Revision)
	}
}

func TestWebhookProgressRegressionDropped(t *testing.T) {
	ingestor, store := newTestIngestor(t)
	ctx := context.Background()

	job, _ := store.Create(ctx, "out of order", "ext-wh5")
	deliver(t, ingestor, `{"externalId":"ext-wh5","state":"in_progress","progress":60}`, true)
	deliver(t, ingestor, `{"externalId":"ext-wh5","state":"in_progress","progress":30}`, true)

	reread, _ := store.GetByID(ctx, job.ID)
	if reread.ProgressPercent != 60 {
		t.Fatalf("stale progress must not regress: %d", reread.ProgressPercent)
	}
}

func TestWebhookAcknowledgesWhenStoreUnavailable(t *testing.T) {
	ingestor, store := newTestIngestor(t)
	_, _ = store.Create(context.Background(), "backend down", "ext-wh6")

	if err := store.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	resp := deliver(t, ingestor, `{"externalId":"ext-wh6","state":"in_progress","progress":40}`, true)
	if resp.Code != http.StatusOK {
		t.Fatalf("authenticated delivery must acknowledge even when processing fails, got %d", resp.Code)
	}
}

func TestWebhookMethodNotAllowed(t *testing.T) {
	ingestor, _ := newTestIngestor(t)
	req := httptest.NewRequest(http.MethodGet, "/webhooks/transcoder", nil)
	recorder := httptest.NewRecorder()
	ingestor.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", recorder.Code)
	}
}
