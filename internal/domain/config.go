// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import (
	"strings"
	"time"
)

// Config represents the application configuration
type Config struct {
	Version       string
	Host          string `toml:"host" mapstructure:"host"`
	Port          int    `toml:"port" mapstructure:"port"`
	BaseURL       string `toml:"baseUrl" mapstructure:"baseUrl"`
	LogLevel      string `toml:"logLevel" mapstructure:"logLevel"`
	LogPath       string `toml:"logPath" mapstructure:"logPath"`
	LogMaxSize    int    `toml:"logMaxSize" mapstructure:"logMaxSize"`
	LogMaxBackups int    `toml:"logMaxBackups" mapstructure:"logMaxBackups"`
	DataDir       string `toml:"dataDir" mapstructure:"dataDir"`
	PprofEnabled  bool   `toml:"pprofEnabled" mapstructure:"pprofEnabled"`

	MetricsEnabled bool   `toml:"metricsEnabled" mapstructure:"metricsEnabled"`
	MetricsHost    string `toml:"metricsHost" mapstructure:"metricsHost"`
	MetricsPort    int    `toml:"metricsPort" mapstructure:"metricsPort"`

	// Debrid API
	APIToken     string        `toml:"apiToken" mapstructure:"apiToken"`
	APIBaseURL   string        `toml:"apiBaseUrl" mapstructure:"apiBaseUrl"`
	APITimeout   time.Duration `toml:"apiTimeout" mapstructure:"apiTimeout"`
	APIRateLimit int           `toml:"apiRateLimit" mapstructure:"apiRateLimit"`

	// Tracker
	PollInterval time.Duration `toml:"pollInterval" mapstructure:"pollInterval"`
	PruneAfter   time.Duration `toml:"pruneAfter" mapstructure:"pruneAfter"`
	PageSize     int           `toml:"pageSize" mapstructure:"pageSize"`

	// CompletionCommand runs once per finished torrent. Empty disables the hook.
	CompletionCommand string        `toml:"completionCommand" mapstructure:"completionCommand"`
	CompletionTimeout time.Duration `toml:"completionTimeout" mapstructure:"completionTimeout"`
}

// HasAPIToken reports whether a debrid API token is configured.
func (c *Config) HasAPIToken() bool {
	return strings.TrimSpace(c.APIToken) != ""
}

// RedactString replaces a string with asterisks of the same length
func RedactString(s string) string {
	if len(s) == 0 {
		return ""
	}

	return strings.Repeat("*", len(s))
}
