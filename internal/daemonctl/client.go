// Package daemonctl is the HTTP client the CLI uses to talk to a running
// daemon's API.
package daemonctl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"vodwatch/internal/api"
)

// ErrNotFound is returned when the daemon reports a missing resource.
var ErrNotFound = errors.New("not found")

// Client calls the daemon API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New constructs a client for the daemon at baseURL ("host:port" or a full
// URL). token may be empty when the daemon runs without authentication.
func New(baseURL, token string) *Client {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL != "" && !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   strings.TrimSpace(token),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Status fetches daemon runtime information.
func (c *Client) Status(ctx context.Context) (*api.DaemonStatus, error) {
	var status api.DaemonStatus
	if err := c.get(ctx, "/api/status", &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// ListJobs fetches jobs, optionally filtered by state names.
func (c *Client) ListJobs(ctx context.Context, states ...string) ([]api.JobView, error) {
	path := "/api/jobs"
	if len(states) > 0 {
		values := url.Values{}
		for _, state := range states {
			values.Add("state", state)
		}
		path += "?" + values.Encode()
	}
	var resp api.JobListResponse
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

// DescribeJob fetches one job with its retry history.
func (c *Client) DescribeJob(ctx context.Context, id string) (*api.JobDetailResponse, error) {
	var detail api.JobDetailResponse
	if err := c.get(ctx, "/api/jobs/"+url.PathEscape(id), &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

// RegisterJob creates a tracked job.
func (c *Client) RegisterJob(ctx context.Context, title, externalID string) (*api.JobView, error) {
	var view api.JobView
	if err := c.post(ctx, "/api/jobs", api.RegisterJobRequest{Title: title, ExternalID: externalID}, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// Monitor fetches the aggregate monitor view.
func (c *Client) Monitor(ctx context.Context, includeStuck bool, stuckThresholdMinutes int) (*api.MonitorResponse, error) {
	path := "/admin/jobs/monitor"
	values := url.Values{}
	if includeStuck {
		values.Set("includeStuck", "true")
	}
	if stuckThresholdMinutes > 0 {
		values.Set("stuckThresholdMinutes", strconv.Itoa(stuckThresholdMinutes))
	}
	if encoded := values.Encode(); encoded != "" {
		path += "?" + encoded
	}
	var resp api.MonitorResponse
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Poll runs one reconciliation cycle synchronously.
func (c *Client) Poll(ctx context.Context) (*api.PollResponse, error) {
	var resp api.PollResponse
	if err := c.post(ctx, "/admin/jobs/monitor", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Retry triggers the retry engine for one job, or all failed jobs when
// jobID is empty.
func (c *Client) Retry(ctx context.Context, jobID string, maxRetries int) (*api.RetryResponse, error) {
	var resp api.RetryResponse
	if err := c.post(ctx, "/admin/jobs/retry", api.RetryRequest{JobID: jobID, MaxRetries: maxRetries}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TestNotification asks the daemon to send a test notification.
func (c *Client) TestNotification(ctx context.Context) (*api.TestNotificationResponse, error) {
	var resp api.TestNotificationResponse
	if err := c.post(ctx, "/admin/notifications/test", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	if c.baseURL == "" {
		return errors.New("daemon address is not configured")
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("daemon unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode >= 300 {
		return errors.New(readErrorMessage(resp))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func readErrorMessage(resp *http.Response) string {
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err == nil {
		var wire struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &wire) == nil && strings.TrimSpace(wire.Error) != "" {
			return wire.Error
		}
		if trimmed := strings.TrimSpace(string(data)); trimmed != "" {
			return trimmed
		}
	}
	return fmt.Sprintf("daemon returned %d", resp.StatusCode)
}
