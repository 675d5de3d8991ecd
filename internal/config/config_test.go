package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.normalize(); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Reconcile.PollInterval != 300 {
		t.Fatalf("expected 300s poll interval, got %d", cfg.Reconcile.PollInterval)
	}
	if cfg.Retry.MaxRetries != 3 || cfg.Retry.InitialDelay != 5 || cfg.Retry.MaxDelay != 300 {
		t.Fatalf("unexpected retry defaults: %+v", cfg.Retry)
	}
}

func TestLoadParsesFileAndNormalizes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[paths]
data_dir = "` + filepath.Join(dir, "data") + `"
log_dir = "` + filepath.Join(dir, "logs") + `"

[transcoder]
base_url = "https://transcoder.example.com/"
request_timeout = 0

[reconcile]
poll_interval = 60
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("expected config at %s, got %s exists=%v", path, resolved, exists)
	}
	if cfg.Transcoder.BaseURL != "https://transcoder.example.com" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.Transcoder.BaseURL)
	}
	if cfg.Transcoder.RequestTimeout != 10 {
		t.Fatalf("expected zero timeout repaired to 10, got %d", cfg.Transcoder.RequestTimeout)
	}
	if cfg.Reconcile.PollInterval != 60 {
		t.Fatalf("expected 60s poll interval, got %d", cfg.Reconcile.PollInterval)
	}
}

func TestLoadRejectsBadTranscoderURL(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("[transcoder]\nbase_url = \"not a url\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, _, _, err := Load(path); err == nil {
		t.Fatal("expected validation error for relative base_url")
	}
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("[webhook]\nsecret = \"from-file\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(EnvWebhookSecret, "from-env")
	t.Setenv(EnvAPIToken, "token-env")

	cfg, _, _, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Webhook.Secret != "from-env" {
		t.Fatalf("expected env override, got %q", cfg.Webhook.Secret)
	}
	if cfg.Paths.APIToken != "token-env" {
		t.Fatalf("expected env token, got %q", cfg.Paths.APIToken)
	}
}

func TestCreateSampleWritesEmbeddedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(data), "[reconcile]") {
		t.Fatal("sample config missing reconcile section")
	}
}
