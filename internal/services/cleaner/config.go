// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package cleaner

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/autobrr/sweeparr/internal/models"
)

// runConfig is a CleanerConfig with its opaque JSON pattern lists parsed and
// validated. Parsing happens exactly once at run entry; any failure aborts
// the run with a ConfigError before anything is touched.
type runConfig struct {
	*models.CleanerConfig

	WhitelistPatterns   []WhitelistPattern
	ErrorPatterns       []string
	ImportBlockPatterns []string
}

func parseRunConfig(cfg *models.CleanerConfig) (*runConfig, error) {
	rc := &runConfig{CleanerConfig: cfg}

	if cfg.WhitelistEnabled {
		if err := json.Unmarshal([]byte(cfg.WhitelistPatternsJSON), &rc.WhitelistPatterns); err != nil {
			return nil, &ConfigError{Field: "whitelistPatterns", Err: err}
		}
		if err := validateWhitelistPatterns(rc.WhitelistPatterns); err != nil {
			return nil, &ConfigError{Field: "whitelistPatterns", Err: err}
		}
	}

	if cfg.RemoveErrorPatterns {
		patterns, err := parsePatternList(cfg.ErrorPatternsJSON)
		if err != nil {
			return nil, &ConfigError{Field: "errorPatterns", Err: err}
		}
		rc.ErrorPatterns = patterns
	}

	if cfg.RemoveImportBlocked || cfg.RemoveImportPending {
		patterns, err := parsePatternList(cfg.ImportBlockPatternsJSON)
		if err != nil {
			return nil, &ConfigError{Field: "importBlockPatterns", Err: err}
		}
		rc.ImportBlockPatterns = patterns
	}

	return rc, nil
}

func parsePatternList(raw string) ([]string, error) {
	var patterns []string
	if err := json.Unmarshal([]byte(raw), &patterns); err != nil {
		return nil, err
	}

	for _, p := range patterns {
		if strings.TrimSpace(p) == "" {
			return nil, fmt.Errorf("pattern list contains an empty entry")
		}
	}
	return patterns, nil
}
