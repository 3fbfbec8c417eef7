// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

// Config holds the application level configuration loaded from config.toml
// and SWEEPARR__* environment variables. Per-instance cleaner behavior lives
// in the database (models.CleanerConfig), not here.
type Config struct {
	SessionSecret string `mapstructure:"sessionSecret"`

	LogLevel      string `mapstructure:"logLevel"`
	LogPath       string `mapstructure:"logPath"`
	LogMaxSize    int    `mapstructure:"logMaxSize"`
	LogMaxBackups int    `mapstructure:"logMaxBackups"`

	DataDir string `mapstructure:"dataDir"`

	// Cleaner scheduler cadence in minutes. Each tick runs the queue cleaner
	// for every active instance whose cleaner config is enabled.
	CleanerIntervalMins int `mapstructure:"cleanerIntervalMins"`

	// Bounded timeout in seconds applied to every remote *arr call.
	ArrTimeoutSeconds int `mapstructure:"arrTimeoutSeconds"`

	MetricsEnabled bool   `mapstructure:"metricsEnabled"`
	MetricsHost    string `mapstructure:"metricsHost"`
	MetricsPort    int    `mapstructure:"metricsPort"`

	Version string
}

const redacted = "<redacted>"

// RedactString replaces a secret with a placeholder for JSON/log output.
func RedactString(s string) string {
	if s == "" {
		return ""
	}
	return redacted
}

// IsRedactedString reports whether a value is the redaction placeholder,
// meaning the caller did not intend to change the underlying secret.
func IsRedactedString(s string) bool {
	return s == redacted
}
