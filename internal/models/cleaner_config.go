// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/autobrr/sweeparr/internal/dbinterface"
)

// CleanupLevel gates how aggressively import-blocked statuses are cleaned.
type CleanupLevel string

const (
	CleanupLevelSafe       CleanupLevel = "safe"
	CleanupLevelModerate   CleanupLevel = "moderate"
	CleanupLevelAggressive CleanupLevel = "aggressive"
)

// PatternMode controls how custom import-block patterns interact with the
// built-in keyword tiers.
type PatternMode string

const (
	PatternModeDefaults PatternMode = "defaults"
	PatternModeInclude  PatternMode = "include"
	PatternModeExclude  PatternMode = "exclude"
)

const (
	defaultStalledThresholdMins       = 60
	defaultSlowSpeedThresholdKBs      = 100
	defaultSlowGracePeriodMins        = 30
	defaultImportPendingThresholdMins = 60
	defaultSeedingTimeoutHours        = 72
	defaultMaxStrikes                 = 3
	defaultMinQueueAgeMins            = 10
	defaultAutoImportMaxAttempts      = 3
	defaultAutoImportCooldownMins     = 30
)

// CleanerConfig is the per-instance queue cleaner configuration. Pattern
// lists are carried as opaque JSON strings and parsed exactly once at run
// entry; a parse failure there aborts the whole run.
type CleanerConfig struct {
	InstanceID int  `json:"instanceId"`
	Enabled    bool `json:"enabled"`
	DryRunMode bool `json:"dryRunMode"`

	RemoveFailed bool `json:"removeFailed"`

	RemoveStalled        bool `json:"removeStalled"`
	StalledThresholdMins int  `json:"stalledThresholdMins"`

	RemoveSlow            bool `json:"removeSlow"`
	SlowSpeedThresholdKBs int  `json:"slowSpeedThresholdKBs"`
	SlowGracePeriodMins   int  `json:"slowGracePeriodMins"`

	RemoveErrorPatterns bool   `json:"removeErrorPatterns"`
	ErrorPatternsJSON   string `json:"errorPatternsJson"`

	RemoveImportBlocked     bool         `json:"removeImportBlocked"`
	ImportBlockCleanupLevel CleanupLevel `json:"importBlockCleanupLevel"`
	ImportBlockPatternMode  PatternMode  `json:"importBlockPatternMode"`
	ImportBlockPatternsJSON string       `json:"importBlockPatternsJson"`

	RemoveImportPending        bool `json:"removeImportPending"`
	ImportPendingThresholdMins int  `json:"importPendingThresholdMins"`

	// Zero disables the estimated-completion stall check.
	EstimatedCompletionMultiplier float64 `json:"estimatedCompletionMultiplier"`

	RemoveSeeding       bool `json:"removeSeeding"`
	SeedingTimeoutHours int  `json:"seedingTimeoutHours"`

	StrikesEnabled bool `json:"strikesEnabled"`
	MaxStrikes     int  `json:"maxStrikes"`

	// Zero means no cap.
	MaxRemovalsPerRun int `json:"maxRemovalsPerRun"`
	MinQueueAgeMins   int `json:"minQueueAgeMins"`

	WhitelistEnabled      bool   `json:"whitelistEnabled"`
	WhitelistPatternsJSON string `json:"whitelistPatternsJson"`

	AutoImportEnabled      bool `json:"autoImportEnabled"`
	AutoImportMaxAttempts  int  `json:"autoImportMaxAttempts"`
	AutoImportCooldownMins int  `json:"autoImportCooldownMins"`
	AutoImportSafeOnly     bool `json:"autoImportSafeOnly"`

	RemoveFromClient      bool `json:"removeFromClient"`
	AddToBlocklist        bool `json:"addToBlocklist"`
	SearchAfterRemoval    bool `json:"searchAfterRemoval"`
	ChangeCategoryEnabled bool `json:"changeCategoryEnabled"`

	UpdatedAt time.Time `json:"updatedAt"`
}

// CleanerConfigStore manages persistence for CleanerConfig.
type CleanerConfigStore struct {
	db dbinterface.Querier
}

func NewCleanerConfigStore(db dbinterface.Querier) *CleanerConfigStore {
	return &CleanerConfigStore{db: db}
}

// DefaultCleanerConfig returns conservative defaults for a new instance:
// dry-run on, destructive rules limited to failed/stalled/import-blocked at
// the safe level.
func DefaultCleanerConfig(instanceID int) *CleanerConfig {
	return &CleanerConfig{
		InstanceID:                 instanceID,
		Enabled:                    false,
		DryRunMode:                 true,
		RemoveFailed:               true,
		RemoveStalled:              true,
		StalledThresholdMins:       defaultStalledThresholdMins,
		RemoveSlow:                 false,
		SlowSpeedThresholdKBs:      defaultSlowSpeedThresholdKBs,
		SlowGracePeriodMins:        defaultSlowGracePeriodMins,
		RemoveErrorPatterns:        false,
		ErrorPatternsJSON:          "[]",
		RemoveImportBlocked:        true,
		ImportBlockCleanupLevel:    CleanupLevelSafe,
		ImportBlockPatternMode:     PatternModeDefaults,
		ImportBlockPatternsJSON:    "[]",
		RemoveImportPending:        false,
		ImportPendingThresholdMins: defaultImportPendingThresholdMins,
		RemoveSeeding:              false,
		SeedingTimeoutHours:        defaultSeedingTimeoutHours,
		StrikesEnabled:             true,
		MaxStrikes:                 defaultMaxStrikes,
		MaxRemovalsPerRun:          0,
		MinQueueAgeMins:            defaultMinQueueAgeMins,
		WhitelistEnabled:           false,
		WhitelistPatternsJSON:      "[]",
		AutoImportEnabled:          false,
		AutoImportMaxAttempts:      defaultAutoImportMaxAttempts,
		AutoImportCooldownMins:     defaultAutoImportCooldownMins,
		AutoImportSafeOnly:         true,
		RemoveFromClient:           true,
		AddToBlocklist:             true,
		SearchAfterRemoval:         true,
		ChangeCategoryEnabled:      false,
	}
}

// Get returns the cleaner config for an instance, falling back to defaults
// when none has been saved yet.
func (s *CleanerConfigStore) Get(ctx context.Context, instanceID int) (*CleanerConfig, error) {
	row := s.db.QueryRowContext(ctx, selectCleanerConfig+` WHERE instance_id = ?`, instanceID)
	cfg, err := scanCleanerConfig(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return DefaultCleanerConfig(instanceID), nil
		}
		return nil, err
	}
	return cfg, nil
}

// List returns saved configs for all instances. Instances without overrides
// are omitted.
func (s *CleanerConfigStore) List(ctx context.Context) ([]*CleanerConfig, error) {
	rows, err := s.db.QueryContext(ctx, selectCleanerConfig)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*CleanerConfig
	for rows.Next() {
		cfg, err := scanCleanerConfig(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, cfg)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// Upsert saves a cleaner config, creating or updating as needed.
func (s *CleanerConfigStore) Upsert(ctx context.Context, cfg *CleanerConfig) (*CleanerConfig, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	coerced := sanitizeCleanerConfig(cfg)

	const stmt = `INSERT INTO cleaner_configs (
		instance_id, enabled, dry_run_mode,
		remove_failed,
		remove_stalled, stalled_threshold_mins,
		remove_slow, slow_speed_threshold_kbs, slow_grace_period_mins,
		remove_error_patterns, error_patterns_json,
		remove_import_blocked, import_block_cleanup_level, import_block_pattern_mode, import_block_patterns_json,
		remove_import_pending, import_pending_threshold_mins,
		estimated_completion_multiplier,
		remove_seeding, seeding_timeout_hours,
		strikes_enabled, max_strikes, max_removals_per_run, min_queue_age_mins,
		whitelist_enabled, whitelist_patterns_json,
		auto_import_enabled, auto_import_max_attempts, auto_import_cooldown_mins, auto_import_safe_only,
		remove_from_client, add_to_blocklist, search_after_removal, change_category_enabled,
		updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	ON CONFLICT(instance_id) DO UPDATE SET
		enabled = excluded.enabled,
		dry_run_mode = excluded.dry_run_mode,
		remove_failed = excluded.remove_failed,
		remove_stalled = excluded.remove_stalled,
		stalled_threshold_mins = excluded.stalled_threshold_mins,
		remove_slow = excluded.remove_slow,
		slow_speed_threshold_kbs = excluded.slow_speed_threshold_kbs,
		slow_grace_period_mins = excluded.slow_grace_period_mins,
		remove_error_patterns = excluded.remove_error_patterns,
		error_patterns_json = excluded.error_patterns_json,
		remove_import_blocked = excluded.remove_import_blocked,
		import_block_cleanup_level = excluded.import_block_cleanup_level,
		import_block_pattern_mode = excluded.import_block_pattern_mode,
		import_block_patterns_json = excluded.import_block_patterns_json,
		remove_import_pending = excluded.remove_import_pending,
		import_pending_threshold_mins = excluded.import_pending_threshold_mins,
		estimated_completion_multiplier = excluded.estimated_completion_multiplier,
		remove_seeding = excluded.remove_seeding,
		seeding_timeout_hours = excluded.seeding_timeout_hours,
		strikes_enabled = excluded.strikes_enabled,
		max_strikes = excluded.max_strikes,
		max_removals_per_run = excluded.max_removals_per_run,
		min_queue_age_mins = excluded.min_queue_age_mins,
		whitelist_enabled = excluded.whitelist_enabled,
		whitelist_patterns_json = excluded.whitelist_patterns_json,
		auto_import_enabled = excluded.auto_import_enabled,
		auto_import_max_attempts = excluded.auto_import_max_attempts,
		auto_import_cooldown_mins = excluded.auto_import_cooldown_mins,
		auto_import_safe_only = excluded.auto_import_safe_only,
		remove_from_client = excluded.remove_from_client,
		add_to_blocklist = excluded.add_to_blocklist,
		search_after_removal = excluded.search_after_removal,
		change_category_enabled = excluded.change_category_enabled,
		updated_at = CURRENT_TIMESTAMP`

	_, err := s.db.ExecContext(ctx, stmt,
		coerced.InstanceID,
		boolToSQLite(coerced.Enabled),
		boolToSQLite(coerced.DryRunMode),
		boolToSQLite(coerced.RemoveFailed),
		boolToSQLite(coerced.RemoveStalled),
		coerced.StalledThresholdMins,
		boolToSQLite(coerced.RemoveSlow),
		coerced.SlowSpeedThresholdKBs,
		coerced.SlowGracePeriodMins,
		boolToSQLite(coerced.RemoveErrorPatterns),
		coerced.ErrorPatternsJSON,
		boolToSQLite(coerced.RemoveImportBlocked),
		string(coerced.ImportBlockCleanupLevel),
		string(coerced.ImportBlockPatternMode),
		coerced.ImportBlockPatternsJSON,
		boolToSQLite(coerced.RemoveImportPending),
		coerced.ImportPendingThresholdMins,
		coerced.EstimatedCompletionMultiplier,
		boolToSQLite(coerced.RemoveSeeding),
		coerced.SeedingTimeoutHours,
		boolToSQLite(coerced.StrikesEnabled),
		coerced.MaxStrikes,
		coerced.MaxRemovalsPerRun,
		coerced.MinQueueAgeMins,
		boolToSQLite(coerced.WhitelistEnabled),
		coerced.WhitelistPatternsJSON,
		boolToSQLite(coerced.AutoImportEnabled),
		coerced.AutoImportMaxAttempts,
		coerced.AutoImportCooldownMins,
		boolToSQLite(coerced.AutoImportSafeOnly),
		boolToSQLite(coerced.RemoveFromClient),
		boolToSQLite(coerced.AddToBlocklist),
		boolToSQLite(coerced.SearchAfterRemoval),
		boolToSQLite(coerced.ChangeCategoryEnabled),
	)
	if err != nil {
		return nil, err
	}

	return s.Get(ctx, coerced.InstanceID)
}

const selectCleanerConfig = `SELECT instance_id, enabled, dry_run_mode,
	remove_failed,
	remove_stalled, stalled_threshold_mins,
	remove_slow, slow_speed_threshold_kbs, slow_grace_period_mins,
	remove_error_patterns, error_patterns_json,
	remove_import_blocked, import_block_cleanup_level, import_block_pattern_mode, import_block_patterns_json,
	remove_import_pending, import_pending_threshold_mins,
	estimated_completion_multiplier,
	remove_seeding, seeding_timeout_hours,
	strikes_enabled, max_strikes, max_removals_per_run, min_queue_age_mins,
	whitelist_enabled, whitelist_patterns_json,
	auto_import_enabled, auto_import_max_attempts, auto_import_cooldown_mins, auto_import_safe_only,
	remove_from_client, add_to_blocklist, search_after_removal, change_category_enabled,
	updated_at
	FROM cleaner_configs`

func boolToSQLite(v bool) int {
	if v {
		return 1
	}
	return 0
}

// sanitizeCleanerConfig clamps numeric fields and normalizes enums. It never
// touches the pattern JSON blobs: validating those is the run's job, and a
// malformed blob must surface as a ConfigError there, not be silently reset.
func sanitizeCleanerConfig(cfg *CleanerConfig) *CleanerConfig {
	clone := *cfg
	if clone.StalledThresholdMins <= 0 {
		clone.StalledThresholdMins = defaultStalledThresholdMins
	}
	if clone.SlowSpeedThresholdKBs <= 0 {
		clone.SlowSpeedThresholdKBs = defaultSlowSpeedThresholdKBs
	}
	if clone.SlowGracePeriodMins <= 0 {
		clone.SlowGracePeriodMins = defaultSlowGracePeriodMins
	}
	if clone.ImportPendingThresholdMins <= 0 {
		clone.ImportPendingThresholdMins = defaultImportPendingThresholdMins
	}
	if clone.EstimatedCompletionMultiplier < 0 {
		clone.EstimatedCompletionMultiplier = 0
	}
	if clone.SeedingTimeoutHours <= 0 {
		clone.SeedingTimeoutHours = defaultSeedingTimeoutHours
	}
	if clone.MaxStrikes <= 0 {
		clone.MaxStrikes = defaultMaxStrikes
	}
	if clone.MaxRemovalsPerRun < 0 {
		clone.MaxRemovalsPerRun = 0
	}
	if clone.MinQueueAgeMins < 0 {
		clone.MinQueueAgeMins = 0
	}
	if clone.AutoImportMaxAttempts <= 0 {
		clone.AutoImportMaxAttempts = defaultAutoImportMaxAttempts
	}
	if clone.AutoImportCooldownMins < 0 {
		clone.AutoImportCooldownMins = defaultAutoImportCooldownMins
	}

	switch clone.ImportBlockCleanupLevel {
	case CleanupLevelSafe, CleanupLevelModerate, CleanupLevelAggressive:
	default:
		clone.ImportBlockCleanupLevel = CleanupLevelSafe
	}
	switch clone.ImportBlockPatternMode {
	case PatternModeDefaults, PatternModeInclude, PatternModeExclude:
	default:
		clone.ImportBlockPatternMode = PatternModeDefaults
	}

	if strings.TrimSpace(clone.ErrorPatternsJSON) == "" {
		clone.ErrorPatternsJSON = "[]"
	}
	if strings.TrimSpace(clone.WhitelistPatternsJSON) == "" {
		clone.WhitelistPatternsJSON = "[]"
	}
	if strings.TrimSpace(clone.ImportBlockPatternsJSON) == "" {
		clone.ImportBlockPatternsJSON = "[]"
	}

	return &clone
}

func scanCleanerConfig(scanner interface{ Scan(dest ...any) error }) (*CleanerConfig, error) {
	var (
		cfg                CleanerConfig
		enabled            int
		dryRun             int
		removeFailed       int
		removeStalled      int
		removeSlow         int
		removeErrPatterns  int
		removeImportBlock  int
		cleanupLevel       string
		patternMode        string
		removeImportPend   int
		removeSeeding      int
		strikesEnabled     int
		whitelistEnabled   int
		autoImportEnabled  int
		autoImportSafeOnly int
		removeFromClient   int
		addToBlocklist     int
		searchAfterRemoval int
		changeCategory     int
		updatedAt          sql.NullTime
	)

	if err := scanner.Scan(
		&cfg.InstanceID,
		&enabled,
		&dryRun,
		&removeFailed,
		&removeStalled,
		&cfg.StalledThresholdMins,
		&removeSlow,
		&cfg.SlowSpeedThresholdKBs,
		&cfg.SlowGracePeriodMins,
		&removeErrPatterns,
		&cfg.ErrorPatternsJSON,
		&removeImportBlock,
		&cleanupLevel,
		&patternMode,
		&cfg.ImportBlockPatternsJSON,
		&removeImportPend,
		&cfg.ImportPendingThresholdMins,
		&cfg.EstimatedCompletionMultiplier,
		&removeSeeding,
		&cfg.SeedingTimeoutHours,
		&strikesEnabled,
		&cfg.MaxStrikes,
		&cfg.MaxRemovalsPerRun,
		&cfg.MinQueueAgeMins,
		&whitelistEnabled,
		&cfg.WhitelistPatternsJSON,
		&autoImportEnabled,
		&cfg.AutoImportMaxAttempts,
		&cfg.AutoImportCooldownMins,
		&autoImportSafeOnly,
		&removeFromClient,
		&addToBlocklist,
		&searchAfterRemoval,
		&changeCategory,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	cfg.Enabled = enabled == 1
	cfg.DryRunMode = dryRun == 1
	cfg.RemoveFailed = removeFailed == 1
	cfg.RemoveStalled = removeStalled == 1
	cfg.RemoveSlow = removeSlow == 1
	cfg.RemoveErrorPatterns = removeErrPatterns == 1
	cfg.RemoveImportBlocked = removeImportBlock == 1
	cfg.ImportBlockCleanupLevel = CleanupLevel(cleanupLevel)
	cfg.ImportBlockPatternMode = PatternMode(patternMode)
	cfg.RemoveImportPending = removeImportPend == 1
	cfg.RemoveSeeding = removeSeeding == 1
	cfg.StrikesEnabled = strikesEnabled == 1
	cfg.WhitelistEnabled = whitelistEnabled == 1
	cfg.AutoImportEnabled = autoImportEnabled == 1
	cfg.AutoImportSafeOnly = autoImportSafeOnly == 1
	cfg.RemoveFromClient = removeFromClient == 1
	cfg.AddToBlocklist = addToBlocklist == 1
	cfg.SearchAfterRemoval = searchAfterRemoval == 1
	cfg.ChangeCategoryEnabled = changeCategory == 1
	if updatedAt.Valid {
		cfg.UpdatedAt = updatedAt.Time
	}

	return sanitizeCleanerConfig(&cfg), nil
}
