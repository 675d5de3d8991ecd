package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate checks invariants that Load cannot repair silently.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Paths.DataDir) == "" {
		problems = append(problems, "paths.data_dir must not be empty")
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		problems = append(problems, "paths.log_dir must not be empty")
	}

	if c.Transcoder.BaseURL != "" {
		parsed, err := url.Parse(c.Transcoder.BaseURL)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			problems = append(problems, fmt.Sprintf("transcoder.base_url %q is not an absolute URL", c.Transcoder.BaseURL))
		}
	}

	switch c.Logging.Format {
	case "", "console", "json":
	default:
		problems = append(problems, fmt.Sprintf("logging.format %q must be console or json", c.Logging.Format))
	}

	if c.Retry.MaxDelay < c.Retry.InitialDelay {
		problems = append(problems, "retry.max_delay must be >= retry.initial_delay")
	}

	if len(problems) == 0 {
		return nil
	}
	return errors.New("invalid configuration: " + strings.Join(problems, "; "))
}
