// Package transcoder talks to the external transcoding service's status
// API. It is the authoritative source of truth the reconciliation poller
// consults; webhooks are only a latency optimization on top of it.
package transcoder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"vodwatch/internal/config"
	"vodwatch/internal/jobs"
	"vodwatch/internal/services"
)

// HTTPDoer describes the HTTP client used by the status client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// StatusClient fetches the authoritative status of an external job.
type StatusClient interface {
	FetchStatus(ctx context.Context, externalID string) (JobStatus, error)
}

// JobStatus is the normalized view of one external job's status report.
type JobStatus struct {
	ExternalID      string
	State           jobs.State
	ProgressPercent int
	ErrorCode       string
	ErrorMessage    string
	DurationSeconds int64
	PlaybackURL     string
}

// statusResponse mirrors the transcoding service's wire format.
type statusResponse struct {
	State           string `json:"state"`
	ProgressPercent int    `json:"progressPercent"`
	ErrorCode       string `json:"errorCode,omitempty"`
	ErrorMessage    string `json:"errorMessage,omitempty"`
	DurationSeconds int64  `json:"durationSeconds,omitempty"`
	PlaybackURL     string `json:"playbackUrl,omitempty"`
}

// externalStates maps the service's status vocabulary onto job states.
var externalStates = map[string]jobs.State{
	"queued":      jobs.StateQueued,
	"pending":     jobs.StateQueued,
	"processing":  jobs.StateInProgress,
	"in_progress": jobs.StateInProgress,
	"transcoding": jobs.StateInProgress,
	"ready":       jobs.StateReady,
	"complete":    jobs.StateReady,
	"completed":   jobs.StateReady,
	"failed":      jobs.StateFailed,
	"error":       jobs.StateFailed,
}

const defaultRequestTimeout = 10 * time.Second

// Client is the HTTP-backed status client.
type Client struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	client  HTTPDoer
}

// NewClient constructs a status client from configuration.
func NewClient(cfg *config.Config) *Client {
	timeout := defaultRequestTimeout
	if cfg.Transcoder.RequestTimeout > 0 {
		timeout = time.Duration(cfg.Transcoder.RequestTimeout) * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.Transcoder.BaseURL), "/"),
		apiKey:  strings.TrimSpace(cfg.Transcoder.APIKey),
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}
}

// NewClientWith constructs a status client with an explicit HTTP doer.
// Used by tests and by callers that manage transport settings themselves.
func NewClientWith(baseURL, apiKey string, timeout time.Duration, doer HTTPDoer) *Client {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	if doer == nil {
		doer = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:  strings.TrimSpace(apiKey),
		timeout: timeout,
		client:  doer,
	}
}

// FetchStatus retrieves and normalizes the status of one external job.
//
// Network errors, timeouts, and 5xx responses classify as transient; a 404
// or 410 means the service no longer knows the job and classifies as
// permanent so the caller can mark the job orphaned.
func (c *Client) FetchStatus(ctx context.Context, externalID string) (JobStatus, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return JobStatus{}, services.Wrap(services.ErrValidation, "transcoder", "fetch status", "external id is required", nil)
	}
	if c.baseURL == "" {
		return JobStatus{}, services.Wrap(services.ErrValidation, "transcoder", "fetch status", "base URL is not configured", nil)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	statusURL := fmt.Sprintf("%s/status?id=%s", c.baseURL, url.QueryEscape(externalID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, statusURL, nil)
	if err != nil {
		return JobStatus{}, services.Wrap(services.ErrValidation, "transcoder", "fetch status", "build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return JobStatus{}, services.Wrap(services.ErrTransient, "transcoder", "fetch status", "request failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return JobStatus{}, services.Wrap(services.ErrPermanent, "transcoder", "fetch status",
			fmt.Sprintf("job %s unknown to service (status %d)", externalID, resp.StatusCode), nil)
	case resp.StatusCode >= http.StatusInternalServerError:
		return JobStatus{}, services.Wrap(services.ErrTransient, "transcoder", "fetch status",
			fmt.Sprintf("service returned %d", resp.StatusCode), nil)
	default:
		return JobStatus{}, services.Wrap(services.ErrTransient, "transcoder", "fetch status",
			fmt.Sprintf("unexpected response %d", resp.StatusCode), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return JobStatus{}, services.Wrap(services.ErrTransient, "transcoder", "fetch status", "read response", err)
	}

	var payload statusResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return JobStatus{}, services.Wrap(services.ErrTransient, "transcoder", "fetch status", "decode response", err)
	}
	return normalizeStatus(externalID, payload)
}

func normalizeStatus(externalID string, payload statusResponse) (JobStatus, error) {
	state, ok := externalStates[strings.ToLower(strings.TrimSpace(payload.State))]
	if !ok {
		return JobStatus{}, services.Wrap(services.ErrTransient, "transcoder", "fetch status",
			fmt.Sprintf("unknown external state %q", payload.State), nil)
	}
	status := JobStatus{
		ExternalID:      externalID,
		State:           state,
		ProgressPercent: payload.ProgressPercent,
		ErrorCode:       strings.TrimSpace(payload.ErrorCode),
		ErrorMessage:    strings.TrimSpace(payload.ErrorMessage),
		DurationSeconds: payload.DurationSeconds,
		PlaybackURL:     strings.TrimSpace(payload.PlaybackURL),
	}
	if status.State == jobs.StateFailed && status.ErrorCode == "" {
		status.ErrorCode = "external_failure"
	}
	return status, nil
}

// StateChange converts a fetched status into the store's write request.
func (s JobStatus) StateChange() jobs.StateChange {
	return jobs.StateChange{
		State:           s.State,
		ProgressPercent: s.ProgressPercent,
		ErrorCode:       s.ErrorCode,
		ErrorMessage:    s.ErrorMessage,
		DurationSeconds: s.DurationSeconds,
		PlaybackURL:     s.PlaybackURL,
	}
}

var _ StatusClient = (*Client)(nil)

// IsNotFound reports whether err represents the service no longer knowing
// the job.
func IsNotFound(err error) bool {
	return errors.Is(err, services.ErrPermanent)
}
