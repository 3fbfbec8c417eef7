// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/sweeparr/internal/domain"
)

func writeConfigFile(t *testing.T, dir, content string) string {
	t.Helper()
	configPath := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))
	return configPath
}

func TestNewAppliesDefaults(t *testing.T) {
	configPath := writeConfigFile(t, t.TempDir(), "sessionSecret = \"test-secret\"\n")

	cfg, err := New(configPath)
	require.NoError(t, err)

	assert.Equal(t, "test-secret", cfg.Config.SessionSecret)
	assert.Equal(t, "INFO", cfg.Config.LogLevel)
	assert.Equal(t, 50, cfg.Config.LogMaxSize)
	assert.Equal(t, 3, cfg.Config.LogMaxBackups)
	assert.Equal(t, 15, cfg.Config.CleanerIntervalMins)
	assert.Equal(t, 30, cfg.Config.ArrTimeoutSeconds)
	assert.False(t, cfg.Config.MetricsEnabled)
	assert.Equal(t, "127.0.0.1", cfg.Config.MetricsHost)
	assert.Equal(t, 9713, cfg.Config.MetricsPort)
}

func TestNewCreatesDefaultConfig(t *testing.T) {
	tmpDir := t.TempDir()

	cfg, err := New(tmpDir)
	require.NoError(t, err)

	// First run writes config.toml with a generated session secret.
	written, err := os.ReadFile(filepath.Join(tmpDir, "config.toml"))
	require.NoError(t, err)
	assert.Contains(t, string(written), "sessionSecret")

	require.NotEmpty(t, cfg.Config.SessionSecret)
	_, err = hex.DecodeString(cfg.Config.SessionSecret)
	assert.NoError(t, err, "generated secret is hex encoded")
}

func TestNewEnvOverrides(t *testing.T) {
	t.Setenv(envPrefix+"LOG_LEVEL", "DEBUG")
	t.Setenv(envPrefix+"CLEANER_INTERVAL_MINS", "5")
	t.Setenv(envPrefix+"ARR_TIMEOUT_SECONDS", "60")
	t.Setenv(envPrefix+"METRICS_ENABLED", "true")
	t.Setenv(envPrefix+"METRICS_PORT", "9999")

	configPath := writeConfigFile(t, t.TempDir(), "sessionSecret = \"test-secret\"\nlogLevel = \"INFO\"\n")

	cfg, err := New(configPath)
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.Config.LogLevel, "env beats file")
	assert.Equal(t, 5, cfg.Config.CleanerIntervalMins)
	assert.Equal(t, 60, cfg.Config.ArrTimeoutSeconds)
	assert.True(t, cfg.Config.MetricsEnabled)
	assert.Equal(t, 9999, cfg.Config.MetricsPort)
}

func TestDatabasePathResolution(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(t *testing.T, tmpDir string) (configPath string, envDataDir string, expectedDBPath string)
	}{
		{
			name: "default_next_to_config",
			prepare: func(t *testing.T, tmpDir string) (string, string, string) {
				configPath := writeConfigFile(t, tmpDir, "sessionSecret = \"test-secret\"\n")
				return configPath, "", filepath.Join(tmpDir, "sweeparr.db")
			},
		},
		{
			name: "explicit_data_dir_in_config",
			prepare: func(t *testing.T, tmpDir string) (string, string, string) {
				dataDir := filepath.Join(tmpDir, "data")
				require.NoError(t, os.MkdirAll(dataDir, 0o755))
				content := fmt.Sprintf("sessionSecret = \"test-secret\"\ndataDir = %q\n", dataDir)
				configPath := writeConfigFile(t, tmpDir, content)
				return configPath, "", filepath.Join(dataDir, "sweeparr.db")
			},
		},
		{
			name: "env_var_override",
			prepare: func(t *testing.T, tmpDir string) (string, string, string) {
				configDataDir := filepath.Join(tmpDir, "config-data")
				envDataDir := filepath.Join(tmpDir, "env-data")
				require.NoError(t, os.MkdirAll(configDataDir, 0o755))
				require.NoError(t, os.MkdirAll(envDataDir, 0o755))
				content := fmt.Sprintf("sessionSecret = \"test-secret\"\ndataDir = %q\n", configDataDir)
				configPath := writeConfigFile(t, tmpDir, content)
				return configPath, envDataDir, filepath.Join(envDataDir, "sweeparr.db")
			},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			configPath, envValue, expectedDBPath := tt.prepare(t, tmpDir)
			if envValue != "" {
				t.Setenv(envPrefix+"DATA_DIR", envValue)
			}

			cfg, err := New(configPath)
			require.NoError(t, err)

			assert.Equal(t, filepath.Clean(expectedDBPath), filepath.Clean(cfg.GetDatabasePath()))
		})
	}
}

func TestGenerateSecureTokenHexOutput(t *testing.T) {
	tests := []struct {
		name   string
		length int
	}{
		{name: "standard_32_bytes", length: 32},
		{name: "small_token", length: 8},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			token, err := generateSecureToken(tt.length)
			require.NoError(t, err)
			require.NotEmpty(t, token)

			assert.Len(t, token, tt.length*2)
			_, err = hex.DecodeString(token)
			require.NoError(t, err)
		})
	}
}

func TestGetEncryptionKey(t *testing.T) {
	tests := []struct {
		name   string
		secret string
	}{
		{name: "truncates_long_secret", secret: strings.Repeat("a", encryptionKeySize+8)},
		{name: "pads_short_secret", secret: "short"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			cfg := &AppConfig{Config: &domain.Config{SessionSecret: tt.secret}}

			key := cfg.GetEncryptionKey()
			require.Len(t, key, encryptionKeySize)

			if len(tt.secret) >= encryptionKeySize {
				assert.Equal(t, []byte(tt.secret[:encryptionKeySize]), key)
			} else {
				expected := make([]byte, encryptionKeySize)
				copy(expected, []byte(tt.secret))
				assert.Equal(t, expected, key)
			}
		})
	}
}

func TestConfigDirResolution(t *testing.T) {
	tests := []struct {
		name           string
		input          string
		setupFile      bool
		fileIsDir      bool
		expectedSuffix string
	}{
		{
			name:           "toml_file_extension",
			input:          "/path/to/custom.toml",
			expectedSuffix: "custom.toml",
		},
		{
			name:           "TOML_file_extension_uppercase",
			input:          "/path/to/CONFIG.TOML",
			expectedSuffix: "CONFIG.TOML",
		},
		{
			name:           "directory_path",
			input:          "/path/to/config",
			expectedSuffix: "config.toml",
		},
		{
			name:           "existing_file_without_toml",
			input:          "/path/to/configfile",
			setupFile:      true,
			fileIsDir:      false,
			expectedSuffix: "configfile",
		},
		{
			name:           "existing_directory",
			input:          "/path/to/configdir",
			setupFile:      true,
			fileIsDir:      true,
			expectedSuffix: "config.toml",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			inputPath := filepath.Join(tmpDir, filepath.Base(tt.input))

			if tt.setupFile {
				if tt.fileIsDir {
					err := os.MkdirAll(inputPath, 0o755)
					require.NoError(t, err)
				} else {
					err := os.WriteFile(inputPath, []byte("test"), 0o644)
					require.NoError(t, err)
				}
			}

			c := &AppConfig{}
			result := c.resolveConfigPath(inputPath)
			assert.True(t, strings.HasSuffix(result, tt.expectedSuffix),
				"Expected result %s to end with %s", result, tt.expectedSuffix)
		})
	}
}

func TestSessionSecretFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	secretFile := filepath.Join(tmpDir, "secret.txt")
	require.NoError(t, os.WriteFile(secretFile, []byte("secret-from-file\n"), 0o600))

	tests := []struct {
		name     string
		envValue string
		fileEnv  bool
		expected string
	}{
		{
			name:     "file_env_only",
			fileEnv:  true,
			expected: "secret-from-file",
		},
		{
			name:     "plain_env_only",
			envValue: "secret-from-env",
			expected: "secret-from-env",
		},
		{
			name:     "file_env_wins_over_plain",
			envValue: "secret-from-env",
			fileEnv:  true,
			expected: "secret-from-file",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			envVar := envPrefix + "SESSION_SECRET"
			if tt.envValue != "" {
				t.Setenv(envVar, tt.envValue)
			}
			if tt.fileEnv {
				t.Setenv(envVar+"_FILE", secretFile)
			}

			configPath := writeConfigFile(t, t.TempDir(), "sessionSecret = \"from-config\"\n")

			cfg, err := New(configPath)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, cfg.Config.SessionSecret)
		})
	}
}
