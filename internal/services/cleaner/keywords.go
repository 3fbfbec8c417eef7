// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package cleaner

import "strings"

// Built-in keyword sets matched against queue item status texts. These are
// static configuration data; only the user-supplied custom pattern lists go
// through JSON validation.

// failureKeywords mark a download the *arr service has given up on.
var failureKeywords = []string{
	"download failed",
	"failed to download",
	"could not be downloaded",
	"unable to download",
	"encrypted",
	"unpack failed",
	"extraction failed",
}

// stallKeywords appear on warning-status items whose transfer is going nowhere.
var stallKeywords = []string{
	"stalled",
	"is stalled",
	"no connections",
	"no seeds",
	"download client is unavailable",
	"waiting for download client",
}

// Import-block keyword tiers, ordered by how safe automatic cleanup is.
//
// safe: the service decided the release is unwanted; removing loses nothing.
var importBlockSafeKeywords = []string{
	"quality not wanted",
	"not an upgrade",
	"not a custom format upgrade",
	"not a preferred word upgrade",
	"already imported",
	"already exists",
	"duplicate",
	"sample",
	"upgrade for existing",
}

// review: likely junk, but a human might still want the files.
var importBlockReviewKeywords = []string{
	"unable to parse",
	"title mismatch",
	"unexpected file",
	"does not match",
	"episode doesn't match",
	"series doesn't match",
	"no series found",
	"no movie found",
	"unknown series",
	"unknown movie",
}

// technical: failures in handling the payload itself.
var importBlockTechnicalKeywords = []string{
	"no files found",
	"missing",
	"corrupt",
	"invalid video file",
	"unsupported",
	"archive",
	"rar",
	"password protected",
	"not a valid",
}

// recoverableImportKeywords mark import-pending items the service is still
// actively working on; those are never flagged.
var recoverableImportKeywords = []string{
	"downloading",
	"importing",
	"processing",
	"will retry",
	"retrying",
	"waiting to import",
}

// autoImportNeverKeywords disqualify an item from auto-import regardless of
// other settings.
var autoImportNeverKeywords = []string{
	"corrupt",
	"sample",
	"password protected",
	"archive",
	"rar",
	"incomplete",
	"invalid video file",
}

// autoImportSafeKeywords are the statuses considered safe to force an import
// for when safe-only mode is on.
var autoImportSafeKeywords = []string{
	"quality not wanted",
	"not an upgrade",
	"not a custom format upgrade",
	"already imported",
	"already exists",
	"duplicate",
	"upgrade for existing",
}

// matchesKeywords searches status texts in source order for any of the given
// keywords, case-insensitively. It returns the first matching text and the
// keyword that hit.
func matchesKeywords(texts []string, keywords []string) (matchedText, matchedKeyword string, ok bool) {
	for _, text := range texts {
		lower := strings.ToLower(text)
		for _, keyword := range keywords {
			if strings.Contains(lower, keyword) {
				return text, keyword, true
			}
		}
	}
	return "", "", false
}

// matchesPatterns is matchesKeywords for user-supplied custom patterns, which
// are plain substrings, not regexes.
func matchesPatterns(texts []string, patterns []string) (matchedText, matchedPattern string, ok bool) {
	for _, text := range texts {
		lower := strings.ToLower(text)
		for _, pattern := range patterns {
			p := strings.ToLower(strings.TrimSpace(pattern))
			if p == "" {
				continue
			}
			if strings.Contains(lower, p) {
				return text, pattern, true
			}
		}
	}
	return "", "", false
}

// textMatchesKeywords checks a single text against a keyword set.
func textMatchesKeywords(text string, keywords []string) (string, bool) {
	lower := strings.ToLower(text)
	for _, keyword := range keywords {
		if strings.Contains(lower, keyword) {
			return keyword, true
		}
	}
	return "", false
}
