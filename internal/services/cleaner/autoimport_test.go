// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package cleaner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/autobrr/sweeparr/internal/models"
)

func autoImportConfig() *runConfig {
	cfg := models.DefaultCleanerConfig(1)
	cfg.AutoImportEnabled = true
	cfg.AutoImportSafeOnly = false
	return &runConfig{CleanerConfig: cfg}
}

func TestEvaluateAutoImportEligibility(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("disabled", func(t *testing.T) {
		cfg := autoImportConfig()
		cfg.AutoImportEnabled = false
		ok, reason := evaluateAutoImportEligibility(nil, cfg, nil, now)
		assert.False(t, ok)
		assert.Contains(t, reason, "disabled")
	})

	t.Run("no record is eligible", func(t *testing.T) {
		ok, _ := evaluateAutoImportEligibility(nil, autoImportConfig(), nil, now)
		assert.True(t, ok)
	})

	t.Run("max attempts reached", func(t *testing.T) {
		record := &models.StrikeRecord{ImportAttempts: 3}
		ok, reason := evaluateAutoImportEligibility(nil, autoImportConfig(), record, now)
		assert.False(t, ok)
		assert.Contains(t, reason, "max import attempts")
	})

	t.Run("cooldown active", func(t *testing.T) {
		lastAttempt := now.Add(-10 * time.Minute)
		record := &models.StrikeRecord{ImportAttempts: 1, LastImportAttempt: &lastAttempt}
		ok, reason := evaluateAutoImportEligibility(nil, autoImportConfig(), record, now)
		assert.False(t, ok)
		assert.Contains(t, reason, "cooldown")
	})

	t.Run("cooldown expired", func(t *testing.T) {
		lastAttempt := now.Add(-45 * time.Minute)
		record := &models.StrikeRecord{ImportAttempts: 1, LastImportAttempt: &lastAttempt}
		ok, _ := evaluateAutoImportEligibility(nil, autoImportConfig(), record, now)
		assert.True(t, ok)
	})

	t.Run("blocking keyword", func(t *testing.T) {
		texts := []string{"Download contains a password protected archive"}
		ok, reason := evaluateAutoImportEligibility(texts, autoImportConfig(), nil, now)
		assert.False(t, ok)
		assert.Contains(t, reason, "blocks auto-import")
	})

	t.Run("safe-only requires a safe status", func(t *testing.T) {
		cfg := autoImportConfig()
		cfg.AutoImportSafeOnly = true

		ok, reason := evaluateAutoImportEligibility([]string{"Unable to parse file"}, cfg, nil, now)
		assert.False(t, ok)
		assert.Contains(t, reason, "safe-only")

		ok, _ = evaluateAutoImportEligibility([]string{"Not an upgrade for existing file"}, cfg, nil, now)
		assert.True(t, ok)
	})

	t.Run("safe-only with no texts is blocked", func(t *testing.T) {
		// The live removal path passes no texts; with safe-only on it will
		// never trigger an import there.
		cfg := autoImportConfig()
		cfg.AutoImportSafeOnly = true
		ok, _ := evaluateAutoImportEligibility(nil, cfg, nil, now)
		assert.False(t, ok)
	})
}
