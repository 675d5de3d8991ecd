package transcoder

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"vodwatch/internal/jobs"
	"vodwatch/internal/services"
)

func newServerClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClientWith(server.URL, "test-key", 5*time.Second, server.Client())
}

func TestFetchStatusReady(t *testing.T) {
	client := newServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/status" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("id"); got != "ext-1" {
			t.Errorf("unexpected id query %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("missing bearer token, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"state":"complete","progressPercent":100,"durationSeconds":640,"playbackUrl":"https://cdn.example/1.m3u8"}`))
	})

	status, err := client.FetchStatus(context.Background(), "ext-1")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if status.State != jobs.StateReady {
		t.Fatalf("expected ready, got %s", status.State)
	}
	if status.DurationSeconds != 640 || status.PlaybackURL != "https://cdn.example/1.m3u8" {
		t.Fatalf("metadata not carried: %+v", status)
	}
}

func TestFetchStatusProcessing(t *testing.T) {
	client := newServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"state":"processing","progressPercent":42}`))
	})

	status, err := client.FetchStatus(context.Background(), "ext-2")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if status.State != jobs.StateInProgress || status.ProgressPercent != 42 {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestFetchStatusFailedGetsDefaultCode(t *testing.T) {
	client := newServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"state":"error","errorMessage":"encoder crashed"}`))
	})

	status, err := client.FetchStatus(context.Background(), "ext-3")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if status.State != jobs.StateFailed || status.ErrorCode != "external_failure" {
		t.Fatalf("expected failed with default code: %+v", status)
	}
}

func TestFetchStatusNotFoundIsPermanent(t *testing.T) {
	client := newServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such job", http.StatusNotFound)
	})

	_, err := client.FetchStatus(context.Background(), "ext-gone")
	if !services.IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if !IsNotFound(err) {
		t.Fatalf("expected not-found classification, got %v", err)
	}
}

func TestFetchStatusServerErrorIsTransient(t *testing.T) {
	client := newServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})

	_, err := client.FetchStatus(context.Background(), "ext-5xx")
	if !services.IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestFetchStatusNetworkErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	client := NewClientWith(url, "", time.Second, nil)
	_, err := client.FetchStatus(context.Background(), "ext-net")
	if !services.IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestFetchStatusUnknownVocabulary(t *testing.T) {
	client := newServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"state":"hibernating"}`))
	})

	_, err := client.FetchStatus(context.Background(), "ext-6")
	if err == nil {
		t.Fatal("expected error for unknown status value")
	}
	if services.IsPermanent(err) {
		t.Fatalf("unknown vocabulary must not orphan the job: %v", err)
	}
}

func TestFetchStatusRequiresExternalID(t *testing.T) {
	client := NewClientWith("https://transcoder.example", "", time.Second, nil)
	_, err := client.FetchStatus(context.Background(), "  ")
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
