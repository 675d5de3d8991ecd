// Package config loads and validates the vodwatch TOML configuration.
//
// Configuration resolution order: explicit --config path, then
// ~/.config/vodwatch/config.toml, then ./vodwatch.toml. Missing files are
// not an error; defaults apply. Secrets (API token, webhook secret, ntfy
// topic, transcoder key) may be overridden from the environment so they
// can stay out of the config file.
package config
