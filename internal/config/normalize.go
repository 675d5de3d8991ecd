package config

import "strings"

func (c *Config) normalize() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return err
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return err
	}

	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	c.Transcoder.BaseURL = strings.TrimRight(strings.TrimSpace(c.Transcoder.BaseURL), "/")
	c.Transcoder.APIKey = strings.TrimSpace(c.Transcoder.APIKey)
	c.Webhook.Secret = strings.TrimSpace(c.Webhook.Secret)
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	c.Notifications.DashboardURL = strings.TrimRight(strings.TrimSpace(c.Notifications.DashboardURL), "/")
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))

	if c.Transcoder.RequestTimeout <= 0 {
		c.Transcoder.RequestTimeout = 10
	}
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = 10
	}
	if c.Reconcile.PollInterval <= 0 {
		c.Reconcile.PollInterval = 300
	}
	if c.Reconcile.PacingDelayMS < 0 {
		c.Reconcile.PacingDelayMS = 0
	}
	if c.Reconcile.StuckThresholdMinutes <= 0 {
		c.Reconcile.StuckThresholdMinutes = 60
	}
	if c.Reconcile.StuckSweepInterval <= 0 {
		c.Reconcile.StuckSweepInterval = 600
	}
	if c.Retry.MaxRetries <= 0 {
		c.Retry.MaxRetries = 3
	}
	if c.Retry.InitialDelay <= 0 {
		c.Retry.InitialDelay = 5
	}
	if c.Retry.MaxDelay <= 0 {
		c.Retry.MaxDelay = 300
	}
	if c.Retry.BackoffMultiplier <= 1 {
		c.Retry.BackoffMultiplier = 2
	}
	return nil
}
