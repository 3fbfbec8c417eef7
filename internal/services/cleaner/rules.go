// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package cleaner

import (
	"fmt"
	"strings"
	"time"

	"github.com/autobrr/sweeparr/internal/arr"
	"github.com/autobrr/sweeparr/internal/models"
)

// Rule identifies which cleanup rule matched a queue item.
type Rule string

const (
	RuleFailed         Rule = "failed"
	RuleStalled        Rule = "stalled"
	RuleSlow           Rule = "slow"
	RuleErrorPattern   Rule = "error_pattern"
	RuleImportBlocked  Rule = "import_blocked"
	RuleImportPending  Rule = "import_pending"
	RuleSeedingTimeout Rule = "seeding_timeout"
)

// RuleMatch is the verdict of evaluateQueueItem for one item.
type RuleMatch struct {
	Rule   Rule
	Reason string
}

// evaluateQueueItem applies the cleanup rules to one item in fixed priority
// order and returns the first match, or nil when the item is healthy. The
// function is pure: no I/O, no shared state, so dry runs and previews make
// exactly the decisions a live run would.
func evaluateQueueItem(item *arr.QueueItem, cfg *runConfig, now time.Time) *RuleMatch {
	texts := item.StatusTexts()
	state := strings.ToLower(item.TrackedDownloadState)
	status := strings.ToLower(item.TrackedDownloadStatus)
	ageMinutes := now.Sub(item.Added).Minutes()

	// 1. failed
	if cfg.RemoveFailed {
		switch {
		case state == arr.StateImportFailed:
			return &RuleMatch{Rule: RuleFailed, Reason: "Import failed"}
		case status == "error":
			reason := "Download errored"
			if item.ErrorMessage != "" {
				reason = fmt.Sprintf("Download errored: %s", item.ErrorMessage)
			}
			return &RuleMatch{Rule: RuleFailed, Reason: reason}
		case strings.Contains(state, "failed"):
			return &RuleMatch{Rule: RuleFailed, Reason: fmt.Sprintf("Download state is %s", item.TrackedDownloadState)}
		}
		if text, _, ok := matchesKeywords(texts, failureKeywords); ok {
			return &RuleMatch{Rule: RuleFailed, Reason: fmt.Sprintf("Download failed: %s", text)}
		}
	}

	// 2. stalled
	if cfg.RemoveStalled {
		if status == "warning" {
			if text, _, ok := matchesKeywords(texts, stallKeywords); ok {
				return &RuleMatch{Rule: RuleStalled, Reason: fmt.Sprintf("Download stalled: %s", text)}
			}
		}
		// Never started: still at full size-left after the threshold.
		if item.Size > 0 && item.SizeLeft >= item.Size && ageMinutes > float64(cfg.StalledThresholdMins) {
			return &RuleMatch{
				Rule:   RuleStalled,
				Reason: fmt.Sprintf("Download has not started after %d minutes", int(ageMinutes)),
			}
		}
	}

	// 3. slow
	if cfg.RemoveSlow && item.SizeLeft > 0 && item.Size > item.SizeLeft {
		if ageMinutes > float64(cfg.SlowGracePeriodMins) {
			elapsedSeconds := now.Sub(item.Added).Seconds()
			if elapsedSeconds > 0 {
				bytesPerSecond := float64(item.Size-item.SizeLeft) / elapsedSeconds
				thresholdBytes := float64(cfg.SlowSpeedThresholdKBs) * 1024
				if bytesPerSecond < thresholdBytes {
					return &RuleMatch{
						Rule: RuleSlow,
						Reason: fmt.Sprintf("Average speed %.1f KB/s below threshold %d KB/s",
							bytesPerSecond/1024, cfg.SlowSpeedThresholdKBs),
					}
				}
			}
		}
	}

	// 4. error_pattern
	if cfg.RemoveErrorPatterns && len(cfg.ErrorPatterns) > 0 {
		if text, pattern, ok := matchesPatterns(texts, cfg.ErrorPatterns); ok {
			return &RuleMatch{
				Rule:   RuleErrorPattern,
				Reason: fmt.Sprintf("Matched error pattern %q: %s", pattern, text),
			}
		}
	}

	// 5. import_blocked
	if cfg.RemoveImportBlocked && state == arr.StateImportBlocked {
		if reason, ok := evaluateImportBlockedStatus(texts, cfg.ImportBlockCleanupLevel, cfg.ImportBlockPatternMode, cfg.ImportBlockPatterns); ok {
			return &RuleMatch{Rule: RuleImportBlocked, Reason: reason}
		}
	}

	// 6. stalled, estimated-completion variant
	if cfg.RemoveStalled && cfg.EstimatedCompletionMultiplier > 0 &&
		item.EstimatedCompletionTime != nil && !item.Added.IsZero() && item.SizeLeft > 0 {
		estimated := item.EstimatedCompletionTime.Sub(item.Added)
		if estimated > 0 {
			allowed := time.Duration(float64(estimated) * cfg.EstimatedCompletionMultiplier)
			if now.Sub(item.Added) > allowed {
				return &RuleMatch{
					Rule: RuleStalled,
					Reason: fmt.Sprintf("Exceeded %.1fx the estimated completion time",
						cfg.EstimatedCompletionMultiplier),
				}
			}
		}
	}

	// 7. import_pending
	if cfg.RemoveImportPending && state == arr.StateImportPending {
		if _, _, recovering := matchesKeywords(texts, recoverableImportKeywords); !recovering {
			if reason, ok := evaluateImportBlockedStatus(texts, cfg.ImportBlockCleanupLevel, cfg.ImportBlockPatternMode, cfg.ImportBlockPatterns); ok {
				return &RuleMatch{Rule: RuleImportPending, Reason: reason}
			}
			if ageMinutes > float64(cfg.ImportPendingThresholdMins) {
				return &RuleMatch{
					Rule:   RuleImportPending,
					Reason: fmt.Sprintf("Import pending for over %d minutes", cfg.ImportPendingThresholdMins),
				}
			}
		}
	}

	// 8. seeding_timeout (torrents only)
	if cfg.RemoveSeeding && strings.EqualFold(item.Protocol, arr.ProtocolTorrent) {
		complete := item.SizeLeft == 0 ||
			state == arr.StateSeeding || state == arr.StateImportPending || state == arr.StateImporting
		if complete && ageMinutes >= float64(cfg.SeedingTimeoutHours)*60 {
			return &RuleMatch{
				Rule:   RuleSeedingTimeout,
				Reason: fmt.Sprintf("In queue for over %d hours after completing", cfg.SeedingTimeoutHours),
			}
		}
	}

	return nil
}

// evaluateImportBlockedStatus decides whether accumulated status texts
// justify cleaning an import-blocked (or import-pending) item, given the
// cleanup level and the custom pattern mode.
func evaluateImportBlockedStatus(texts []string, level models.CleanupLevel, mode models.PatternMode, customPatterns []string) (string, bool) {
	if len(texts) == 0 {
		return "", false
	}

	switch {
	case mode == models.PatternModeInclude && len(customPatterns) > 0:
		// Custom patterns fully replace the built-in tiers.
		if text, pattern, ok := matchesPatterns(texts, customPatterns); ok {
			return fmt.Sprintf("Import blocked, matched pattern %q: %s", pattern, text), true
		}
		return "", false

	case mode == models.PatternModeExclude && len(customPatterns) > 0:
		// Protected by an exclude pattern; otherwise fall through to defaults.
		if _, _, ok := matchesPatterns(texts, customPatterns); ok {
			return "", false
		}
	}

	allowReview := level == models.CleanupLevelModerate || level == models.CleanupLevelAggressive
	allowTechnical := level == models.CleanupLevelAggressive

	// Default tiers, most conservative first. A tier hit is final: a
	// technical-tier status at moderate level stays protected rather than
	// falling through to the review fallback below.
	if text, _, ok := matchesKeywords(texts, importBlockSafeKeywords); ok {
		return fmt.Sprintf("Import blocked (safe to clean): %s", text), true
	}

	if text, _, ok := matchesKeywords(texts, importBlockReviewKeywords); ok {
		if allowReview {
			return fmt.Sprintf("Import blocked (needs review): %s", text), true
		}
		return "", false
	}

	if text, _, ok := matchesKeywords(texts, importBlockTechnicalKeywords); ok {
		if allowTechnical {
			return fmt.Sprintf("Import blocked (technical failure): %s", text), true
		}
		return "", false
	}

	// An unrecognized status is treated as review tier, with the raw status
	// text as the reason. Kept as-is from the original behavior; it can mask
	// genuinely safe or technical failures behind a generic reason.
	if allowReview {
		return fmt.Sprintf("Import blocked (needs review): %s", texts[0]), true
	}

	return "", false
}
