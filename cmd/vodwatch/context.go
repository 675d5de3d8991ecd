package main

import (
	"fmt"
	"os"
	"strings"

	"vodwatch/internal/config"
	"vodwatch/internal/daemonctl"
)

// commandContext resolves configuration and the daemon client lazily so
// commands that never touch them (config init) pay nothing.
type commandContext struct {
	configFlag *string
	apiFlag    *string
	tokenFlag  *string

	cfg        *config.Config
	configPath string
	loaded     bool
}

func newCommandContext(configFlag, apiFlag, tokenFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag, apiFlag: apiFlag, tokenFlag: tokenFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	if c.loaded {
		return c.cfg, nil
	}
	path := ""
	if c.configFlag != nil {
		path = strings.TrimSpace(*c.configFlag)
	}
	cfg, resolved, _, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	c.cfg = cfg
	c.configPath = resolved
	c.loaded = true
	return cfg, nil
}

// client builds a daemon API client from flags, environment, and config,
// in that order of precedence.
func (c *commandContext) client() (*daemonctl.Client, error) {
	address := ""
	if c.apiFlag != nil {
		address = strings.TrimSpace(*c.apiFlag)
	}
	token := ""
	if c.tokenFlag != nil {
		token = strings.TrimSpace(*c.tokenFlag)
	}
	if token == "" {
		token = strings.TrimSpace(os.Getenv(config.EnvAPIToken))
	}

	if address == "" || token == "" {
		cfg, err := c.ensureConfig()
		if err != nil {
			return nil, err
		}
		if address == "" {
			address = cfg.Paths.APIBind
		}
		if token == "" {
			token = cfg.Paths.APIToken
		}
	}
	if address == "" {
		return nil, fmt.Errorf("daemon address not configured; set api_bind or pass --api")
	}
	return daemonctl.New(address, token), nil
}
