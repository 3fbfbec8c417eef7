// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package cleaner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/sweeparr/internal/arr"
	"github.com/autobrr/sweeparr/internal/models"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// allRulesConfig enables every rule with the stock thresholds.
func allRulesConfig() *runConfig {
	cfg := models.DefaultCleanerConfig(1)
	cfg.RemoveSlow = true
	cfg.RemoveErrorPatterns = false
	cfg.RemoveImportPending = true
	cfg.RemoveSeeding = true
	return &runConfig{CleanerConfig: cfg}
}

func queueItem(mutate func(*arr.QueueItem)) *arr.QueueItem {
	item := &arr.QueueItem{
		ID:         1,
		Title:      "Show.S01E01.1080p",
		DownloadID: "abc123",
		Protocol:   arr.ProtocolTorrent,
		Size:       1 << 30,
		SizeLeft:   0,
		Added:      testNow.Add(-30 * time.Minute),
	}
	if mutate != nil {
		mutate(item)
	}
	return item
}

func statusMsg(texts ...string) []arr.StatusMessage {
	messages := make([]arr.StatusMessage, 0, len(texts))
	for _, text := range texts {
		messages = append(messages, arr.StatusMessage{Title: text})
	}
	return messages
}

func TestEvaluateQueueItemFailed(t *testing.T) {
	cfg := allRulesConfig()

	tests := []struct {
		name   string
		mutate func(*arr.QueueItem)
	}{
		{
			name: "import failed state",
			mutate: func(i *arr.QueueItem) {
				i.TrackedDownloadState = "importFailed"
			},
		},
		{
			name: "error status",
			mutate: func(i *arr.QueueItem) {
				i.TrackedDownloadStatus = "error"
				i.ErrorMessage = "disk full"
			},
		},
		{
			name: "failure keyword in status message",
			mutate: func(i *arr.QueueItem) {
				i.StatusMessages = statusMsg("Download failed: connection reset")
			},
		},
		{
			name: "encrypted download",
			mutate: func(i *arr.QueueItem) {
				i.StatusMessages = statusMsg("The download is encrypted")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			match := evaluateQueueItem(queueItem(tt.mutate), cfg, testNow)
			require.NotNil(t, match)
			assert.Equal(t, RuleFailed, match.Rule)
		})
	}

	t.Run("disabled rule does not match", func(t *testing.T) {
		disabled := allRulesConfig()
		disabled.RemoveFailed = false
		item := queueItem(func(i *arr.QueueItem) {
			i.TrackedDownloadState = "importFailed"
		})
		assert.Nil(t, evaluateQueueItem(item, disabled, testNow))
	})
}

func TestEvaluateQueueItemStalled(t *testing.T) {
	cfg := allRulesConfig()

	t.Run("warning with stall keyword", func(t *testing.T) {
		item := queueItem(func(i *arr.QueueItem) {
			i.TrackedDownloadStatus = "warning"
			i.StatusMessages = statusMsg("The download is stalled with no connections")
			i.SizeLeft = 1 << 29
		})
		match := evaluateQueueItem(item, cfg, testNow)
		require.NotNil(t, match)
		assert.Equal(t, RuleStalled, match.Rule)
	})

	t.Run("never started past threshold", func(t *testing.T) {
		item := queueItem(func(i *arr.QueueItem) {
			i.SizeLeft = i.Size
			i.Added = testNow.Add(-2 * time.Hour)
		})
		match := evaluateQueueItem(item, cfg, testNow)
		require.NotNil(t, match)
		assert.Equal(t, RuleStalled, match.Rule)
	})

	t.Run("never started but young", func(t *testing.T) {
		item := queueItem(func(i *arr.QueueItem) {
			i.SizeLeft = i.Size
			i.Added = testNow.Add(-10 * time.Minute)
		})
		assert.Nil(t, evaluateQueueItem(item, cfg, testNow))
	})
}

func TestEvaluateQueueItemSlow(t *testing.T) {
	cfg := allRulesConfig()

	t.Run("below threshold after grace period", func(t *testing.T) {
		// 10 MiB done in 2 hours is about 1.4 KB/s, far below 100 KB/s.
		item := queueItem(func(i *arr.QueueItem) {
			i.Added = testNow.Add(-2 * time.Hour)
			i.Size = 1 << 30
			i.SizeLeft = i.Size - 10*(1<<20)
		})
		match := evaluateQueueItem(item, cfg, testNow)
		require.NotNil(t, match)
		assert.Equal(t, RuleSlow, match.Rule)
		assert.Contains(t, match.Reason, "below threshold")
	})

	t.Run("fast download is left alone", func(t *testing.T) {
		// 900 MiB done in 1 hour is about 256 KB/s.
		item := queueItem(func(i *arr.QueueItem) {
			i.Added = testNow.Add(-time.Hour)
			i.Size = 1 << 30
			i.SizeLeft = i.Size - 900*(1<<20)
		})
		assert.Nil(t, evaluateQueueItem(item, cfg, testNow))
	})

	t.Run("within grace period", func(t *testing.T) {
		item := queueItem(func(i *arr.QueueItem) {
			i.Added = testNow.Add(-10 * time.Minute)
			i.Size = 1 << 30
			i.SizeLeft = i.Size - 1024
		})
		assert.Nil(t, evaluateQueueItem(item, cfg, testNow))
	})

	t.Run("completed download is not slow", func(t *testing.T) {
		item := queueItem(func(i *arr.QueueItem) {
			i.Added = testNow.Add(-3 * time.Hour)
			i.SizeLeft = 0
		})
		assert.Nil(t, evaluateQueueItem(item, cfg, testNow))
	})
}

func TestEvaluateQueueItemErrorPattern(t *testing.T) {
	cfg := allRulesConfig()
	cfg.RemoveErrorPatterns = true
	cfg.ErrorPatterns = []string{"tracker is down"}

	item := queueItem(func(i *arr.QueueItem) {
		i.SizeLeft = 1 << 29
		i.StatusMessages = statusMsg("The Tracker is DOWN for maintenance")
	})

	match := evaluateQueueItem(item, cfg, testNow)
	require.NotNil(t, match)
	assert.Equal(t, RuleErrorPattern, match.Rule)
	assert.Contains(t, match.Reason, "tracker is down")
}

func TestEvaluateQueueItemImportBlocked(t *testing.T) {
	base := func(level models.CleanupLevel) *runConfig {
		cfg := allRulesConfig()
		cfg.ImportBlockCleanupLevel = level
		return cfg
	}

	blocked := func(texts ...string) *arr.QueueItem {
		return queueItem(func(i *arr.QueueItem) {
			i.TrackedDownloadState = "importBlocked"
			i.StatusMessages = statusMsg(texts...)
		})
	}

	t.Run("safe tier cleaned at safe level", func(t *testing.T) {
		match := evaluateQueueItem(blocked("Not an upgrade for existing episode file"), base(models.CleanupLevelSafe), testNow)
		require.NotNil(t, match)
		assert.Equal(t, RuleImportBlocked, match.Rule)
	})

	t.Run("review tier protected at safe level", func(t *testing.T) {
		assert.Nil(t, evaluateQueueItem(blocked("Unable to parse file"), base(models.CleanupLevelSafe), testNow))
	})

	t.Run("review tier cleaned at moderate level", func(t *testing.T) {
		match := evaluateQueueItem(blocked("Unable to parse file"), base(models.CleanupLevelModerate), testNow)
		require.NotNil(t, match)
		assert.Equal(t, RuleImportBlocked, match.Rule)
	})

	t.Run("technical tier protected at moderate level", func(t *testing.T) {
		// A technical-tier hit is final at moderate; it must not leak into
		// the unmatched-status fallback.
		assert.Nil(t, evaluateQueueItem(blocked("Download contains a RAR archive"), base(models.CleanupLevelModerate), testNow))
	})

	t.Run("technical tier cleaned at aggressive level", func(t *testing.T) {
		match := evaluateQueueItem(blocked("Download contains a RAR archive"), base(models.CleanupLevelAggressive), testNow)
		require.NotNil(t, match)
		assert.Equal(t, RuleImportBlocked, match.Rule)
	})

	t.Run("unrecognized status treated as review tier", func(t *testing.T) {
		assert.Nil(t, evaluateQueueItem(blocked("Requires manual intervention"), base(models.CleanupLevelSafe), testNow))

		match := evaluateQueueItem(blocked("Requires manual intervention"), base(models.CleanupLevelModerate), testNow)
		require.NotNil(t, match)
		assert.Contains(t, match.Reason, "needs review")
	})

	t.Run("no status texts never cleaned", func(t *testing.T) {
		assert.Nil(t, evaluateQueueItem(blocked(), base(models.CleanupLevelAggressive), testNow))
	})
}

func TestEvaluateImportBlockedStatusPatternModes(t *testing.T) {
	texts := []string{"Not an upgrade for existing episode file"}

	t.Run("include mode replaces tiers", func(t *testing.T) {
		// Safe-tier status, but include mode only matches custom patterns.
		_, ok := evaluateImportBlockedStatus(texts, models.CleanupLevelAggressive, models.PatternModeInclude, []string{"something else"})
		assert.False(t, ok)

		reason, ok := evaluateImportBlockedStatus(texts, models.CleanupLevelSafe, models.PatternModeInclude, []string{"not an upgrade"})
		assert.True(t, ok)
		assert.Contains(t, reason, "matched pattern")
	})

	t.Run("exclude mode protects matches", func(t *testing.T) {
		_, ok := evaluateImportBlockedStatus(texts, models.CleanupLevelSafe, models.PatternModeExclude, []string{"not an upgrade"})
		assert.False(t, ok, "excluded status must be protected")

		// Non-matching exclude falls through to the default tiers.
		_, ok = evaluateImportBlockedStatus(texts, models.CleanupLevelSafe, models.PatternModeExclude, []string{"something else"})
		assert.True(t, ok)
	})

	t.Run("defaults mode ignores custom patterns", func(t *testing.T) {
		_, ok := evaluateImportBlockedStatus(texts, models.CleanupLevelSafe, models.PatternModeDefaults, nil)
		assert.True(t, ok)
	})
}

func TestEvaluateQueueItemEstimatedCompletion(t *testing.T) {
	cfg := allRulesConfig()
	cfg.EstimatedCompletionMultiplier = 2.0
	cfg.RemoveSlow = false // keep the slow rule from matching first

	t.Run("exceeded multiple of estimate", func(t *testing.T) {
		estimated := testNow.Add(-5 * time.Hour).Add(time.Hour) // 1h estimate, added 5h ago
		item := queueItem(func(i *arr.QueueItem) {
			i.Added = testNow.Add(-5 * time.Hour)
			i.EstimatedCompletionTime = &estimated
			i.SizeLeft = 1 << 20
		})
		match := evaluateQueueItem(item, cfg, testNow)
		require.NotNil(t, match)
		assert.Equal(t, RuleStalled, match.Rule)
		assert.Contains(t, match.Reason, "estimated completion")
	})

	t.Run("within allowance", func(t *testing.T) {
		estimated := testNow.Add(-90 * time.Minute).Add(time.Hour)
		item := queueItem(func(i *arr.QueueItem) {
			i.Added = testNow.Add(-90 * time.Minute)
			i.EstimatedCompletionTime = &estimated
			i.SizeLeft = 1 << 20
		})
		assert.Nil(t, evaluateQueueItem(item, cfg, testNow))
	})

	t.Run("disabled with zero multiplier", func(t *testing.T) {
		estimated := testNow.Add(-5 * time.Hour).Add(time.Hour)
		item := queueItem(func(i *arr.QueueItem) {
			i.Added = testNow.Add(-5 * time.Hour)
			i.EstimatedCompletionTime = &estimated
			i.SizeLeft = 1 << 20
		})
		zero := allRulesConfig()
		zero.EstimatedCompletionMultiplier = 0
		zero.RemoveSlow = false
		assert.Nil(t, evaluateQueueItem(item, zero, testNow))
	})
}

func TestEvaluateQueueItemImportPending(t *testing.T) {
	cfg := allRulesConfig()

	pending := func(age time.Duration, texts ...string) *arr.QueueItem {
		return queueItem(func(i *arr.QueueItem) {
			i.TrackedDownloadState = "importPending"
			i.Added = testNow.Add(-age)
			i.StatusMessages = statusMsg(texts...)
		})
	}

	t.Run("recoverable status never flagged", func(t *testing.T) {
		assert.Nil(t, evaluateQueueItem(pending(3*time.Hour, "Waiting to import"), cfg, testNow))
	})

	t.Run("blocked style status delegates to tiers", func(t *testing.T) {
		match := evaluateQueueItem(pending(5*time.Minute, "Episode already imported"), cfg, testNow)
		require.NotNil(t, match)
		assert.Equal(t, RuleImportPending, match.Rule)
	})

	t.Run("aged out past threshold", func(t *testing.T) {
		match := evaluateQueueItem(pending(2*time.Hour), cfg, testNow)
		require.NotNil(t, match)
		assert.Equal(t, RuleImportPending, match.Rule)
		assert.Contains(t, match.Reason, "over 60 minutes")
	})

	t.Run("young with no status left alone", func(t *testing.T) {
		assert.Nil(t, evaluateQueueItem(pending(5*time.Minute), cfg, testNow))
	})
}

func TestEvaluateQueueItemSeedingTimeout(t *testing.T) {
	cfg := allRulesConfig()

	t.Run("torrent complete past timeout", func(t *testing.T) {
		item := queueItem(func(i *arr.QueueItem) {
			i.Added = testNow.Add(-80 * time.Hour)
			i.TrackedDownloadState = "seeding"
			i.SizeLeft = 0
		})
		match := evaluateQueueItem(item, cfg, testNow)
		require.NotNil(t, match)
		assert.Equal(t, RuleSeedingTimeout, match.Rule)
	})

	t.Run("usenet never matches", func(t *testing.T) {
		item := queueItem(func(i *arr.QueueItem) {
			i.Added = testNow.Add(-80 * time.Hour)
			i.Protocol = arr.ProtocolUsenet
			i.SizeLeft = 0
		})
		assert.Nil(t, evaluateQueueItem(item, cfg, testNow))
	})

	t.Run("incomplete torrent not matched", func(t *testing.T) {
		slowOff := allRulesConfig()
		slowOff.RemoveSlow = false
		slowOff.RemoveStalled = false
		item := queueItem(func(i *arr.QueueItem) {
			i.Added = testNow.Add(-80 * time.Hour)
			i.SizeLeft = 1 << 29
		})
		assert.Nil(t, evaluateQueueItem(item, slowOff, testNow))
	})
}

func TestEvaluateQueueItemRulePriority(t *testing.T) {
	cfg := allRulesConfig()

	// An item that is both failed and stalled reports the failed rule.
	item := queueItem(func(i *arr.QueueItem) {
		i.TrackedDownloadState = "importFailed"
		i.TrackedDownloadStatus = "warning"
		i.StatusMessages = statusMsg("The download is stalled")
		i.SizeLeft = i.Size
		i.Added = testNow.Add(-3 * time.Hour)
	})

	match := evaluateQueueItem(item, cfg, testNow)
	require.NotNil(t, match)
	assert.Equal(t, RuleFailed, match.Rule, "failed outranks stalled")
}

func TestEvaluateQueueItemHealthy(t *testing.T) {
	cfg := allRulesConfig()

	// Actively downloading at a good rate, nothing wrong.
	item := queueItem(func(i *arr.QueueItem) {
		i.Added = testNow.Add(-time.Hour)
		i.Size = 1 << 30
		i.SizeLeft = 1 << 28
	})

	assert.Nil(t, evaluateQueueItem(item, cfg, testNow))
}
