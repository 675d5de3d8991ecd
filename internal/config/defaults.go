package config

// Default returns a configuration populated with shipping defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: "~/.local/share/vodwatch",
			LogDir:  "~/.local/share/vodwatch/logs",
			APIBind: "127.0.0.1:7474",
		},
		Transcoder: Transcoder{
			RequestTimeout: 10,
		},
		Notifications: Notifications{
			RequestTimeout: 10,
		},
		Reconcile: Reconcile{
			PollInterval:          300,
			PacingDelayMS:         250,
			StuckThresholdMinutes: 60,
			StuckSweepInterval:    600,
		},
		Retry: Retry{
			MaxRetries:        3,
			InitialDelay:      5,
			MaxDelay:          300,
			BackoffMultiplier: 2,
		},
		Logging: Logging{
			Format: "console",
			Level:  "info",
		},
	}
}
