// Package testsupport provides constructors shared by package tests.
package testsupport

import (
	"path/filepath"
	"testing"

	"vodwatch/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.APIBind = "127.0.0.1:0"
	cfg.Transcoder.BaseURL = "http://127.0.0.1:1/transcoder"
	cfg.Webhook.Secret = "test-webhook-secret"
	cfg.Reconcile.PacingDelayMS = 0

	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return &cfg
}

// WithTranscoderURL points the status client at a test server.
func WithTranscoderURL(url string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Transcoder.BaseURL = url
	}
}

// WithWebhookSecret overrides the webhook shared secret.
func WithWebhookSecret(secret string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Webhook.Secret = secret
	}
}

// WithAPIToken enables bearer authentication on the daemon API.
func WithAPIToken(token string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Paths.APIToken = token
	}
}
