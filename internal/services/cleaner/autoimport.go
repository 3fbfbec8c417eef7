// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package cleaner

import (
	"fmt"
	"time"

	"github.com/autobrr/sweeparr/internal/models"
)

// evaluateAutoImportEligibility decides whether an import-blocked or
// import-pending item should get an import attempt before removal. The
// strike record supplies attempt bookkeeping; nil means no attempts yet.
//
// Note the live removal path calls this with an empty status-text list, so
// the keyword checks only take effect in the preview path. That asymmetry is
// carried over from the original behavior on purpose.
func evaluateAutoImportEligibility(statusTexts []string, cfg *runConfig, record *models.StrikeRecord, now time.Time) (bool, string) {
	if !cfg.AutoImportEnabled {
		return false, "auto-import disabled"
	}

	if record != nil {
		if record.ImportAttempts >= cfg.AutoImportMaxAttempts {
			return false, fmt.Sprintf("max import attempts reached (%d/%d)", record.ImportAttempts, cfg.AutoImportMaxAttempts)
		}
		if record.LastImportAttempt != nil {
			cooldown := time.Duration(cfg.AutoImportCooldownMins) * time.Minute
			if elapsed := now.Sub(*record.LastImportAttempt); elapsed < cooldown {
				return false, fmt.Sprintf("import cooldown active (%s remaining)", (cooldown - elapsed).Round(time.Minute))
			}
		}
	}

	if text, _, ok := matchesKeywords(statusTexts, autoImportNeverKeywords); ok {
		return false, fmt.Sprintf("status blocks auto-import: %s", text)
	}

	if cfg.AutoImportSafeOnly {
		if _, _, ok := matchesKeywords(statusTexts, autoImportSafeKeywords); !ok {
			return false, "safe-only mode: no safe status matched"
		}
	}

	return true, "eligible for auto-import"
}
