package config

import (
	"os"
	"strings"
)

// Environment variables that override file-based secrets. Kept out of the
// sample config so deployments can inject them via the environment or a
// .env file loaded by the daemon entrypoint.
const (
	EnvAPIToken      = "VODWATCH_API_TOKEN"
	EnvWebhookSecret = "VODWATCH_WEBHOOK_SECRET"
	EnvNtfyTopic     = "VODWATCH_NTFY_TOPIC"
	EnvTranscoderKey = "VODWATCH_TRANSCODER_API_KEY"
)

func (c *Config) applyEnvOverrides() {
	if v := strings.TrimSpace(os.Getenv(EnvAPIToken)); v != "" {
		c.Paths.APIToken = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvWebhookSecret)); v != "" {
		c.Webhook.Secret = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvNtfyTopic)); v != "" {
		c.Notifications.NtfyTopic = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvTranscoderKey)); v != "" {
		c.Transcoder.APIKey = v
	}
}
