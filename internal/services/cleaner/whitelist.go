// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package cleaner

import (
	"fmt"
	"strings"

	"github.com/autobrr/sweeparr/internal/arr"
)

// WhitelistPattern protects matching queue items from every cleanup rule.
type WhitelistPattern struct {
	Type    string `json:"type"`
	Pattern string `json:"pattern"`
}

const (
	whitelistTypeTracker  = "tracker"
	whitelistTypeTag      = "tag"
	whitelistTypeCategory = "category"
	whitelistTypeTitle    = "title"
)

var whitelistTypeLabels = map[string]string{
	whitelistTypeTracker:  "Tracker",
	whitelistTypeTag:      "Tag",
	whitelistTypeCategory: "Category",
	whitelistTypeTitle:    "Title",
}

// validateWhitelistPatterns rejects unknown pattern types and empty patterns.
// Ambiguous protection rules abort the run rather than silently not protecting.
func validateWhitelistPatterns(patterns []WhitelistPattern) error {
	for i, p := range patterns {
		patternType := strings.ToLower(strings.TrimSpace(p.Type))
		if _, ok := whitelistTypeLabels[patternType]; !ok {
			return fmt.Errorf("pattern %d has unknown type %q: must be tracker, tag, category or title", i, p.Type)
		}
		if strings.TrimSpace(p.Pattern) == "" {
			return fmt.Errorf("pattern %d has an empty pattern", i)
		}
	}
	return nil
}

// checkWhitelist reports whether any pattern protects the item. The first
// matching pattern short-circuits.
func checkWhitelist(item *arr.QueueItem, patterns []WhitelistPattern) (string, bool) {
	for _, p := range patterns {
		patternType := strings.ToLower(strings.TrimSpace(p.Type))
		pattern := strings.ToLower(strings.TrimSpace(p.Pattern))
		if pattern == "" {
			continue
		}

		var matched bool
		switch patternType {
		case whitelistTypeTracker:
			matched = strings.Contains(strings.ToLower(item.Indexer), pattern)
		case whitelistTypeTag:
			for _, tag := range item.Tags {
				if strings.Contains(strings.ToLower(tag), pattern) {
					matched = true
					break
				}
			}
		case whitelistTypeCategory:
			matched = strings.Contains(strings.ToLower(item.Category), pattern)
		case whitelistTypeTitle:
			matched = strings.Contains(strings.ToLower(item.Title), pattern)
		}

		if matched {
			return fmt.Sprintf("Whitelisted: %s matches: %s", whitelistTypeLabels[patternType], p.Pattern), true
		}
	}

	return "", false
}
