// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package cleaner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/sweeparr/internal/arr"
	"github.com/autobrr/sweeparr/internal/metrics"
	"github.com/autobrr/sweeparr/internal/models"
)

// QueueAPI is the slice of the *arr API the cleaner needs.
type QueueAPI interface {
	GetQueue(ctx context.Context) ([]arr.QueueItem, error)
	DeleteQueueItem(ctx context.Context, id int64, opts arr.DeleteOptions) error
	ManualImport(ctx context.Context, downloadID string) error
}

// RunStatus summarizes how a cleaner run ended.
type RunStatus string

const (
	// RunStatusCompleted means every planned action succeeded.
	RunStatusCompleted RunStatus = "completed"
	// RunStatusPartial means some removals failed but the run finished.
	RunStatusPartial RunStatus = "partial"
	// RunStatusError means the run aborted before or during its action phase.
	RunStatusError RunStatus = "error"
)

// ResultItem is one queue item's outcome in a run report.
type ResultItem struct {
	ID         int64  `json:"id"`
	DownloadID string `json:"downloadId,omitempty"`
	Title      string `json:"title"`
	Rule       string `json:"rule,omitempty"`
	Reason     string `json:"reason"`
	Strikes    int    `json:"strikes,omitempty"`
}

// RunResult is the report of one cleaner run against one instance.
type RunResult struct {
	InstanceID   int           `json:"instanceId"`
	InstanceName string        `json:"instanceName"`
	DryRun       bool          `json:"dryRun"`
	Status       RunStatus     `json:"status"`
	Message      string        `json:"message"`
	QueueSize    int           `json:"queueSize"`
	StartedAt    time.Time     `json:"startedAt"`
	Duration     time.Duration `json:"duration"`

	Removed      []ResultItem `json:"removed"`
	AutoImported []ResultItem `json:"autoImported"`
	Warned       []ResultItem `json:"warned"`
	Skipped      []ResultItem `json:"skipped"`
	Whitelisted  []ResultItem `json:"whitelisted"`
}

// Service runs the queue cleaner against registered *arr instances.
type Service struct {
	instanceStore  *models.InstanceStore
	configStore    *models.CleanerConfigStore
	strikeStore    *models.StrikeStore
	timeoutSeconds int

	// newClient and now are swappable for tests.
	newClient func(host, apiKey string) QueueAPI
	now       func() time.Time
}

func NewService(instanceStore *models.InstanceStore, configStore *models.CleanerConfigStore, strikeStore *models.StrikeStore, timeoutSeconds int) *Service {
	s := &Service{
		instanceStore:  instanceStore,
		configStore:    configStore,
		strikeStore:    strikeStore,
		timeoutSeconds: timeoutSeconds,
		now:            time.Now,
	}
	s.newClient = func(host, apiKey string) QueueAPI {
		return arr.NewClient(host, apiKey, s.timeoutSeconds)
	}
	return s
}

// classifiedItem pairs a queue item with its rule verdict.
type classifiedItem struct {
	item  arr.QueueItem
	match *RuleMatch
}

// classification is the outcome of the pure decision phase shared by live
// runs, dry runs and previews.
type classification struct {
	matched     []classifiedItem
	whitelisted []classifiedItem // match carries the whitelist reason
	tooYoung    []arr.QueueItem
	healthy     []arr.QueueItem
}

// classifyQueue applies the age guard, the whitelist and the cleanup rules to
// every queue item. It performs no I/O so every execution mode classifies
// identically.
func classifyQueue(items []arr.QueueItem, cfg *runConfig, now time.Time) classification {
	var c classification

	for _, item := range items {
		if cfg.MinQueueAgeMins > 0 && now.Sub(item.Added).Minutes() < float64(cfg.MinQueueAgeMins) {
			c.tooYoung = append(c.tooYoung, item)
			continue
		}

		if cfg.WhitelistEnabled {
			if reason, ok := checkWhitelist(&item, cfg.WhitelistPatterns); ok {
				c.whitelisted = append(c.whitelisted, classifiedItem{
					item:  item,
					match: &RuleMatch{Reason: reason},
				})
				continue
			}
		}

		if match := evaluateQueueItem(&item, cfg, now); match != nil {
			c.matched = append(c.matched, classifiedItem{item: item, match: match})
			continue
		}

		c.healthy = append(c.healthy, item)
	}

	return c
}

// ExecuteQueueCleaner runs one full cleaner pass against an instance,
// honoring the instance's dry-run mode. A dry run makes exactly the removal
// decisions a live run would, including simulated strike increments, and
// mutates nothing.
func (s *Service) ExecuteQueueCleaner(ctx context.Context, instanceID int) (*RunResult, error) {
	startedAt := s.now()

	instance, err := s.instanceStore.Get(ctx, instanceID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load instance %d", instanceID)
	}

	result := &RunResult{
		InstanceID:   instance.ID,
		InstanceName: instance.Name,
		StartedAt:    startedAt,
		Status:       RunStatusCompleted,
	}

	fail := func(err error) (*RunResult, error) {
		result.Status = RunStatusError
		result.Message = err.Error()
		result.Duration = s.now().Sub(startedAt)
		metrics.RunsTotal.WithLabelValues(instance.Name, string(RunStatusError)).Inc()
		return result, err
	}

	storedCfg, err := s.configStore.Get(ctx, instanceID)
	if err != nil {
		return fail(errors.Wrap(err, "failed to load cleaner config"))
	}
	result.DryRun = storedCfg.DryRunMode

	cfg, err := parseRunConfig(storedCfg)
	if err != nil {
		return fail(err)
	}

	client, err := s.clientFor(instance)
	if err != nil {
		return fail(err)
	}

	logger := log.With().
		Str("instance", instance.Name).
		Bool("dryRun", cfg.DryRunMode).
		Logger()

	queue, err := client.GetQueue(ctx)
	if err != nil {
		return fail(&FetchError{Err: err})
	}
	result.QueueSize = len(queue)

	if len(queue) == 0 {
		result.Message = "Queue is empty"
		result.Duration = s.now().Sub(startedAt)
		metrics.RunsTotal.WithLabelValues(instance.Name, string(result.Status)).Inc()
		logger.Debug().Msg("queue cleaner run finished: empty queue")
		return result, nil
	}

	classified := classifyQueue(queue, cfg, startedAt)

	for _, c := range classified.whitelisted {
		result.Whitelisted = append(result.Whitelisted, newResultItem(c, 0))
	}

	decisions, err := s.resolveStrikes(ctx, instanceID, cfg, classified, queue)
	if err != nil {
		// Matched items are reported as skipped rather than removed without
		// strike protection.
		ledgerErr := &LedgerError{Err: err}
		for _, c := range classified.matched {
			item := newResultItem(c, 0)
			item.Reason = "Skipped: strike system unavailable"
			result.Skipped = append(result.Skipped, item)
		}
		return fail(ledgerErr)
	}

	removals, warned := splitByThreshold(classified.matched, decisions, cfg.StrikesEnabled)
	result.Warned = warned

	// Removal cap: overflow is skipped this run, not silently dropped.
	if cfg.MaxRemovalsPerRun > 0 && len(removals) > cfg.MaxRemovalsPerRun {
		for _, c := range removals[cfg.MaxRemovalsPerRun:] {
			item := newResultItem(c, strikeCount(decisions, c.item.DownloadID))
			item.Reason = fmt.Sprintf("Skipped: removal cap of %d reached (%s)", cfg.MaxRemovalsPerRun, c.match.Reason)
			result.Skipped = append(result.Skipped, item)
		}
		removals = removals[:cfg.MaxRemovalsPerRun]
	}

	if cfg.DryRunMode {
		s.reportDryRun(result, removals, decisions)
		result.Duration = s.now().Sub(startedAt)
		metrics.RunsTotal.WithLabelValues(instance.Name, string(result.Status)).Inc()
		metrics.RunDuration.WithLabelValues(instance.Name).Observe(result.Duration.Seconds())
		logger.Info().
			Int("queueSize", result.QueueSize).
			Int("wouldRemove", len(result.Removed)).
			Int("warned", len(result.Warned)).
			Msg("queue cleaner dry run finished")
		return result, nil
	}

	s.executeRemovals(ctx, instance, client, cfg, removals, decisions, result, logger)

	result.Message = runMessage(result)
	result.Duration = s.now().Sub(startedAt)
	metrics.RunsTotal.WithLabelValues(instance.Name, string(result.Status)).Inc()
	metrics.RunDuration.WithLabelValues(instance.Name).Observe(result.Duration.Seconds())
	metrics.ItemsRemovedTotal.WithLabelValues(instance.Name).Add(float64(len(result.Removed)))

	logger.Info().
		Int("queueSize", result.QueueSize).
		Int("removed", len(result.Removed)).
		Int("autoImported", len(result.AutoImported)).
		Int("warned", len(result.Warned)).
		Int("skipped", len(result.Skipped)).
		Str("status", string(result.Status)).
		Msg("queue cleaner run finished")

	return result, nil
}

func (s *Service) clientFor(instance *models.Instance) (QueueAPI, error) {
	apiKey, err := s.instanceStore.GetDecryptedAPIKey(instance)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decrypt api key")
	}
	return s.newClient(instance.Host, apiKey), nil
}

// resolveStrikes runs the ledger pass appropriate to the execution mode.
// With strikes disabled every match is immediately at threshold.
func (s *Service) resolveStrikes(ctx context.Context, instanceID int, cfg *runConfig, classified classification, queue []arr.QueueItem) (map[string]models.StrikeDecision, error) {
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

	if cfg.DryRunMode {
		return s.strikeStore.SimulateStrikes(ctx, instanceID, candidates, cfg.MaxStrikes)
	}

	activeIDs := make([]string, 0, len(queue))
	for _, item := range queue {
		if item.DownloadID != "" {
			activeIDs = append(activeIDs, item.DownloadID)
		}
	}

	return s.strikeStore.ApplyStrikes(ctx, instanceID, candidates, activeIDs, cfg.MaxStrikes)
}

// splitByThreshold partitions matched items into removals and warnings. Items
// without a download id cannot be strike-tracked and go straight to removal.
func splitByThreshold(matched []classifiedItem, decisions map[string]models.StrikeDecision, strikesEnabled bool) (removals []classifiedItem, warned []ResultItem) {
	for _, c := range matched {
		if c.item.DownloadID == "" || !strikesEnabled {
			removals = append(removals, c)
			continue
		}

		decision, ok := decisions[c.item.DownloadID]
		if !ok || decision.AtThreshold {
			removals = append(removals, c)
			continue
		}

		item := newResultItem(c, decision.StrikeCount)
		item.Reason = fmt.Sprintf("Strike %d: %s", decision.StrikeCount, c.match.Reason)
		warned = append(warned, item)
	}
	return removals, warned
}

func (s *Service) reportDryRun(result *RunResult, removals []classifiedItem, decisions map[string]models.StrikeDecision) {
	for _, c := range removals {
		item := newResultItem(c, strikeCount(decisions, c.item.DownloadID))
		item.Reason = fmt.Sprintf("[DRY RUN] Would remove: %s", c.match.Reason)
		result.Removed = append(result.Removed, item)
	}
	for i := range result.Warned {
		result.Warned[i].Reason = "[DRY RUN] Would warn: " + result.Warned[i].Reason
	}

	result.Message = fmt.Sprintf("[DRY RUN] Would remove %d, warn %d, whitelist %d of %d queue items",
		len(result.Removed), len(result.Warned), len(result.Whitelisted), result.QueueSize)
}

// executeRemovals performs the live action phase: auto-import where eligible,
// removal otherwise, then the deferred strike-record deletion for confirmed
// removals only.
func (s *Service) executeRemovals(ctx context.Context, instance *models.Instance, client QueueAPI, cfg *runConfig, removals []classifiedItem, decisions map[string]models.StrikeDecision, result *RunResult, logger zerolog.Logger) {
	records, err := s.strikeStore.GetAll(ctx, instance.ID)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to load strike records for auto-import bookkeeping")
		records = map[string]*models.StrikeRecord{}
	}

	var confirmed []string

	for _, c := range removals {
		item := c.item
		strikes := strikeCount(decisions, item.DownloadID)

		if s.tryAutoImport(ctx, instance.ID, client, cfg, c, records, result, logger) {
			continue
		}

		opts := arr.DeleteOptions{
			RemoveFromClient: cfg.RemoveFromClient,
			Blocklist:        cfg.AddToBlocklist,
			SkipRedownload:   !cfg.SearchAfterRemoval,
			ChangeCategory:   cfg.ChangeCategoryEnabled && strings.EqualFold(item.Protocol, arr.ProtocolTorrent),
		}

		if err := client.DeleteQueueItem(ctx, item.ID, opts); err != nil {
			logger.Error().Err(err).Int64("id", item.ID).Str("title", item.Title).Msg("failed to remove queue item")
			skipped := newResultItem(c, strikes)
			skipped.Reason = fmt.Sprintf("Removal failed: %v", err)
			result.Skipped = append(result.Skipped, skipped)
			result.Status = RunStatusPartial
			continue
		}

		removed := newResultItem(c, strikes)
		removed.Reason = fmt.Sprintf("Removed: %s", c.match.Reason)
		result.Removed = append(result.Removed, removed)

		if item.DownloadID != "" {
			confirmed = append(confirmed, item.DownloadID)
		}

		logger.Info().
			Str("title", item.Title).
			Str("rule", string(c.match.Rule)).
			Str("reason", c.match.Reason).
			Msg("removed queue item")
	}

	// Deferred deletion: records go only for confirmed removals. A failure
	// here leaves records behind, which the next run's GC reconciles.
	if len(confirmed) > 0 {
		if err := s.strikeStore.DeleteRecords(ctx, instance.ID, confirmed); err != nil {
			logger.Warn().Err(err).Msg("failed to delete strike records for removed items")
		}
	}
}

// tryAutoImport attempts a manual import for import-blocked and
// import-pending items before falling back to removal. Eligibility here is
// checked without status texts, so only the attempt/cooldown limits and the
// configuration gate apply on the live path.
func (s *Service) tryAutoImport(ctx context.Context, instanceID int, client QueueAPI, cfg *runConfig, c classifiedItem, records map[string]*models.StrikeRecord, result *RunResult, logger zerolog.Logger) bool {
	item := c.item
	if item.DownloadID == "" {
		return false
	}
	if c.match.Rule != RuleImportBlocked && c.match.Rule != RuleImportPending {
		return false
	}

	eligible, why := evaluateAutoImportEligibility(nil, cfg, records[item.DownloadID], s.now())
	if !eligible {
		logger.Debug().Str("title", item.Title).Str("reason", why).Msg("auto-import not attempted")
		return false
	}

	if err := client.ManualImport(ctx, item.DownloadID); err != nil {
		logger.Warn().Err(err).Str("title", item.Title).Msg("auto-import failed, falling back to removal")
		if recErr := s.strikeStore.RecordImportAttempt(ctx, instanceID, item.DownloadID, s.now(), err.Error()); recErr != nil {
			logger.Warn().Err(recErr).Msg("failed to record import attempt")
		}
		return false
	}

	// The strike record stays; if the import succeeds the item leaves the
	// queue and the next run's stale GC clears it.
	if err := s.strikeStore.RecordImportAttempt(ctx, instanceID, item.DownloadID, s.now(), ""); err != nil {
		logger.Warn().Err(err).Msg("failed to record import attempt")
	}

	imported := newResultItem(c, 0)
	imported.Reason = fmt.Sprintf("Triggered import instead of removal (%s)", c.match.Reason)
	result.AutoImported = append(result.AutoImported, imported)
	metrics.AutoImportsTotal.WithLabelValues(result.InstanceName).Inc()

	logger.Info().Str("title", item.Title).Msg("triggered auto-import for queue item")
	return true
}

func newResultItem(c classifiedItem, strikes int) ResultItem {
	item := ResultItem{
		ID:         c.item.ID,
		DownloadID: c.item.DownloadID,
		Title:      c.item.Title,
		Reason:     c.match.Reason,
		Strikes:    strikes,
	}
	if c.match.Rule != "" {
		item.Rule = string(c.match.Rule)
	}
	return item
}

func strikeCount(decisions map[string]models.StrikeDecision, downloadID string) int {
	if downloadID == "" {
		return 0
	}
	return decisions[downloadID].StrikeCount
}

func runMessage(result *RunResult) string {
	return fmt.Sprintf("Removed %d, auto-imported %d, warned %d, skipped %d, whitelisted %d of %d queue items",
		len(result.Removed), len(result.AutoImported), len(result.Warned),
		len(result.Skipped), len(result.Whitelisted), result.QueueSize)
}
