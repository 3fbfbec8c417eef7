// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package cleaner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/sweeparr/internal/models"
)

func TestParseRunConfig(t *testing.T) {
	t.Run("valid config with all lists", func(t *testing.T) {
		cfg := models.DefaultCleanerConfig(1)
		cfg.WhitelistEnabled = true
		cfg.WhitelistPatternsJSON = `[{"type":"tracker","pattern":"private.example"}]`
		cfg.RemoveErrorPatterns = true
		cfg.ErrorPatternsJSON = `["tracker down","connection refused"]`
		cfg.ImportBlockPatternsJSON = `["not an upgrade"]`

		rc, err := parseRunConfig(cfg)
		require.NoError(t, err)
		assert.Len(t, rc.WhitelistPatterns, 1)
		assert.Equal(t, []string{"tracker down", "connection refused"}, rc.ErrorPatterns)
		assert.Equal(t, []string{"not an upgrade"}, rc.ImportBlockPatterns)
	})

	t.Run("malformed whitelist JSON aborts", func(t *testing.T) {
		cfg := models.DefaultCleanerConfig(1)
		cfg.WhitelistEnabled = true
		cfg.WhitelistPatternsJSON = `{"not":"a list"}`

		_, err := parseRunConfig(cfg)
		require.Error(t, err)
		assert.ErrorIs(t, err, &ConfigError{})
	})

	t.Run("unknown whitelist type aborts", func(t *testing.T) {
		cfg := models.DefaultCleanerConfig(1)
		cfg.WhitelistEnabled = true
		cfg.WhitelistPatternsJSON = `[{"type":"indexer","pattern":"x"}]`

		_, err := parseRunConfig(cfg)
		assert.ErrorIs(t, err, &ConfigError{})
	})

	t.Run("malformed error patterns abort", func(t *testing.T) {
		cfg := models.DefaultCleanerConfig(1)
		cfg.RemoveErrorPatterns = true
		cfg.ErrorPatternsJSON = `["unterminated`

		_, err := parseRunConfig(cfg)
		assert.ErrorIs(t, err, &ConfigError{})
	})

	t.Run("empty pattern entry aborts", func(t *testing.T) {
		cfg := models.DefaultCleanerConfig(1)
		cfg.RemoveErrorPatterns = true
		cfg.ErrorPatternsJSON = `["valid", "  "]`

		_, err := parseRunConfig(cfg)
		assert.ErrorIs(t, err, &ConfigError{})
	})

	t.Run("disabled lists are not parsed", func(t *testing.T) {
		// Malformed JSON in a disabled feature must not abort the run.
		cfg := models.DefaultCleanerConfig(1)
		cfg.WhitelistEnabled = false
		cfg.WhitelistPatternsJSON = `broken`
		cfg.RemoveErrorPatterns = false
		cfg.ErrorPatternsJSON = `broken`

		rc, err := parseRunConfig(cfg)
		require.NoError(t, err)
		assert.Empty(t, rc.WhitelistPatterns)
		assert.Empty(t, rc.ErrorPatterns)
	})

	t.Run("import block patterns parsed when either import rule is on", func(t *testing.T) {
		cfg := models.DefaultCleanerConfig(1)
		cfg.RemoveImportBlocked = false
		cfg.RemoveImportPending = true
		cfg.ImportBlockPatternsJSON = `broken`

		_, err := parseRunConfig(cfg)
		assert.ErrorIs(t, err, &ConfigError{})
	})
}
