// Package notifications delivers user-facing push notifications over ntfy.
package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"vodwatch/internal/config"
)

const userAgent = "Vodwatch-Go/0.1.0"

// Service defines the notification surface exposed to the reconciliation
// and retry components.
type Service interface {
	NotifyJobReady(ctx context.Context, title, playbackURL string) error
	NotifyJobFailed(ctx context.Context, title, errorCode, errorMessage string) error
	NotifyRetryExhausted(ctx context.Context, title string, attempts int) error
	NotifyJobOrphaned(ctx context.Context, title, externalID string) error
	NotifyStuckJobs(ctx context.Context, titles []string, threshold time.Duration) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint:     topic,
		dashboardURL: strings.TrimSpace(cfg.Notifications.DashboardURL),
		client:       &http.Client{Timeout: timeout},
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint     string
	dashboardURL string
	client       *http.Client
}

func (n *ntfyService) NotifyJobReady(ctx context.Context, title, playbackURL string) error {
	title = strings.TrimSpace(title)
	message := fmt.Sprintf("Ready to watch: %s", title)
	if playbackURL = strings.TrimSpace(playbackURL); playbackURL != "" {
		message = fmt.Sprintf("%s\n%s", message, playbackURL)
	}
	data := payload{
		title:   "Vodwatch - Video Ready",
		message: message,
		tags:    []string{"vodwatch", "job", "ready"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyJobFailed(ctx context.Context, title, errorCode, errorMessage string) error {
	title = strings.TrimSpace(title)
	errorCode = strings.TrimSpace(errorCode)
	if errorCode == "" {
		errorCode = "unknown"
	}
	message := fmt.Sprintf("Transcode failed: %s (%s)", title, errorCode)
	if errorMessage = strings.TrimSpace(errorMessage); errorMessage != "" {
		message = fmt.Sprintf("%s\n%s", message, errorMessage)
	}
	if n.dashboardURL != "" {
		message = fmt.Sprintf("%s\n%s", message, n.dashboardURL)
	}
	data := payload{
		title:    "Vodwatch - Transcode Failed",
		message:  message,
		tags:     []string{"vodwatch", "job", "failed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyRetryExhausted(ctx context.Context, title string, attempts int) error {
	title = strings.TrimSpace(title)
	data := payload{
		title:    "Vodwatch - Retries Exhausted",
		message:  fmt.Sprintf("Gave up on %s after %d attempts\nManual intervention required", title, attempts),
		tags:     []string{"vodwatch", "retry", "exhausted"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyJobOrphaned(ctx context.Context, title, externalID string) error {
	title = strings.TrimSpace(title)
	data := payload{
		title:    "Vodwatch - Job Orphaned",
		message:  fmt.Sprintf("Transcoding service no longer knows %s (external id %s)\nRe-submit the source file", title, strings.TrimSpace(externalID)),
		tags:     []string{"vodwatch", "job", "orphaned"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyStuckJobs(ctx context.Context, titles []string, threshold time.Duration) error {
	if len(titles) == 0 {
		return nil
	}
	threshold = threshold.Round(time.Minute)
	var builder strings.Builder
	fmt.Fprintf(&builder, "%d job(s) without progress for over %s:", len(titles), threshold)
	for _, title := range titles {
		builder.WriteString("\n- ")
		builder.WriteString(strings.TrimSpace(title))
	}
	data := payload{
		title:    "Vodwatch - Stuck Jobs",
		message:  builder.String(),
		tags:     []string{"vodwatch", "stuck", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Vodwatch - Test",
		message:  "Notification system test",
		tags:     []string{"vodwatch", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyJobReady(context.Context, string, string) error           { return nil }
func (noopService) NotifyJobFailed(context.Context, string, string, string) error  { return nil }
func (noopService) NotifyRetryExhausted(context.Context, string, int) error        { return nil }
func (noopService) NotifyJobOrphaned(context.Context, string, string) error        { return nil }
func (noopService) NotifyStuckJobs(context.Context, []string, time.Duration) error { return nil }
func (noopService) TestNotification(context.Context) error                         { return nil }
