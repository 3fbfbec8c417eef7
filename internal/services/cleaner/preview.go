// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package cleaner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/autobrr/sweeparr/internal/models"
)

// PreviewAction is what a live run would do with a queue item.
type PreviewAction string

const (
	PreviewActionRemove    PreviewAction = "remove"
	PreviewActionWarn      PreviewAction = "warn"
	PreviewActionWhitelist PreviewAction = "whitelist"
	PreviewActionSkip      PreviewAction = "skip"
)

// AutoImportPreview explains whether an item would get an import attempt
// before removal. Unlike the live path, the preview evaluates eligibility
// against the item's real status texts, so it can surface keyword blocks the
// live path never checks.
type AutoImportPreview struct {
	Eligible bool   `json:"eligible"`
	Reason   string `json:"reason"`
}

// PreviewItem is one queue item's projected outcome.
type PreviewItem struct {
	ID         int64              `json:"id"`
	DownloadID string             `json:"downloadId,omitempty"`
	Title      string             `json:"title"`
	State      string             `json:"state,omitempty"`
	Action     PreviewAction      `json:"action"`
	Rule       string             `json:"rule,omitempty"`
	Reason     string             `json:"reason"`
	Strikes    int                `json:"strikes,omitempty"`
	AutoImport *AutoImportPreview `json:"autoImport,omitempty"`
}

// PreviewResult is the full projection of what a live run would do right
// now, with per-item detail a run report does not carry.
type PreviewResult struct {
	InstanceID   int                   `json:"instanceId"`
	InstanceName string                `json:"instanceName"`
	GeneratedAt  time.Time             `json:"generatedAt"`
	QueueSize    int                   `json:"queueSize"`
	QueueByState map[string]int        `json:"queueByState"`
	Items        []PreviewItem         `json:"items"`
	RuleSummary  map[string]int        `json:"ruleSummary"`
	Config       *models.CleanerConfig `json:"config"`
}

// ExecuteEnhancedPreview classifies the current queue exactly as a live run
// would, including simulated strike increments and the removal cap, without
// mutating anything locally or remotely.
func (s *Service) ExecuteEnhancedPreview(ctx context.Context, instanceID int) (*PreviewResult, error) {
	now := s.now()

	instance, err := s.instanceStore.Get(ctx, instanceID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load instance %d", instanceID)
	}

	storedCfg, err := s.configStore.Get(ctx, instanceID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load cleaner config")
	}

	cfg, err := parseRunConfig(storedCfg)
	if err != nil {
		return nil, err
	}

	client, err := s.clientFor(instance)
	if err != nil {
		return nil, err
	}

	queue, err := client.GetQueue(ctx)
	if err != nil {
		return nil, &FetchError{Err: err}
	}

	result := &PreviewResult{
		InstanceID:   instance.ID,
		InstanceName: instance.Name,
		GeneratedAt:  now,
		QueueSize:    len(queue),
		QueueByState: map[string]int{},
		RuleSummary:  map[string]int{},
		Config:       storedCfg,
	}

	for _, item := range queue {
		state := strings.ToLower(item.TrackedDownloadState)
		if state == "" {
			state = "unknown"
		}
		result.QueueByState[state]++
	}

	if len(queue) == 0 {
		return result, nil
	}

	classified := classifyQueue(queue, cfg, now)

	for _, item := range classified.tooYoung {
		result.Items = append(result.Items, PreviewItem{
			ID:         item.ID,
			DownloadID: item.DownloadID,
			Title:      item.Title,
			State:      item.TrackedDownloadState,
			Action:     PreviewActionSkip,
			Reason:     fmt.Sprintf("Queue item younger than minimum age of %d minutes", cfg.MinQueueAgeMins),
		})
	}

	for _, c := range classified.whitelisted {
		result.Items = append(result.Items, PreviewItem{
			ID:         c.item.ID,
			DownloadID: c.item.DownloadID,
			Title:      c.item.Title,
			State:      c.item.TrackedDownloadState,
			Action:     PreviewActionWhitelist,
			Reason:     c.match.Reason,
		})
	}

	decisions, err := s.previewStrikes(ctx, instanceID, cfg, classified)
	if err != nil {
		return nil, &LedgerError{Err: err}
	}

	records, err := s.strikeStore.GetAll(ctx, instanceID)
	if err != nil {
		return nil, &LedgerError{Err: err}
	}

	removals, warnings := splitByThreshold(classified.matched, decisions, cfg.StrikesEnabled)

	capped := removals
	if cfg.MaxRemovalsPerRun > 0 && len(removals) > cfg.MaxRemovalsPerRun {
		capped = removals[:cfg.MaxRemovalsPerRun]
		for _, c := range removals[cfg.MaxRemovalsPerRun:] {
			result.Items = append(result.Items, PreviewItem{
				ID:         c.item.ID,
				DownloadID: c.item.DownloadID,
				Title:      c.item.Title,
				State:      c.item.TrackedDownloadState,
				Action:     PreviewActionSkip,
				Rule:       string(c.match.Rule),
				Reason:     fmt.Sprintf("Removal cap of %d reached (%s)", cfg.MaxRemovalsPerRun, c.match.Reason),
				Strikes:    strikeCount(decisions, c.item.DownloadID),
			})
		}
	}

	for _, c := range capped {
		preview := PreviewItem{
			ID:         c.item.ID,
			DownloadID: c.item.DownloadID,
			Title:      c.item.Title,
			State:      c.item.TrackedDownloadState,
			Action:     PreviewActionRemove,
			Rule:       string(c.match.Rule),
			Reason:     c.match.Reason,
			Strikes:    strikeCount(decisions, c.item.DownloadID),
		}

		if (c.match.Rule == RuleImportBlocked || c.match.Rule == RuleImportPending) && c.item.DownloadID != "" {
			eligible, why := evaluateAutoImportEligibility(c.item.StatusTexts(), cfg, records[c.item.DownloadID], now)
			preview.AutoImport = &AutoImportPreview{Eligible: eligible, Reason: why}
		}

		result.Items = append(result.Items, preview)
		result.RuleSummary[string(c.match.Rule)]++
	}

	for _, w := range warnings {
		result.Items = append(result.Items, PreviewItem{
			ID:         w.ID,
			DownloadID: w.DownloadID,
			Title:      w.Title,
			State:      stateFor(classified.matched, w.ID),
			Action:     PreviewActionWarn,
			Rule:       w.Rule,
			Reason:     w.Reason,
			Strikes:    w.Strikes,
		})
		result.RuleSummary[w.Rule]++
	}

	for _, item := range classified.healthy {
		result.Items = append(result.Items, PreviewItem{
			ID:         item.ID,
			DownloadID: item.DownloadID,
			Title:      item.Title,
			State:      item.TrackedDownloadState,
			Action:     PreviewActionSkip,
			Reason:     "No cleanup rule matched",
		})
	}

	return result, nil
}

// previewStrikes always simulates, regardless of the instance's dry-run
// setting: a preview never writes.
func (s *Service) previewStrikes(ctx context.Context, instanceID int, cfg *runConfig, classified classification) (map[string]models.StrikeDecision, error) {
	if !cfg.StrikesEnabled {
		decisions := make(map[string]models.StrikeDecision, len(classified.matched))
		for _, c := range classified.matched {
			if c.item.DownloadID == "" {
				continue
			}
			decisions[c.item.DownloadID] = models.StrikeDecision{
				DownloadID:  c.item.DownloadID,
				StrikeCount: 1,
				AtThreshold: true,
			}
		}
		return decisions, nil
	}

	candidates := make([]models.StrikeCandidate, 0, len(classified.matched))
	for _, c := range classified.matched {
		candidates = append(candidates, models.StrikeCandidate{
			DownloadID: c.item.DownloadID,
			Rule:       string(c.match.Rule),
			Reason:     c.match.Reason,
		})
	}

	return s.strikeStore.SimulateStrikes(ctx, instanceID, candidates, cfg.MaxStrikes)
}

func stateFor(matched []classifiedItem, id int64) string {
	for _, c := range matched {
		if c.item.ID == id {
			return c.item.TrackedDownloadState
		}
	}
	return ""
}
