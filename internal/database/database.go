// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// DB wraps the sqlite handle and implements dbinterface.Querier.
type DB struct {
	*sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS instances (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	service_type TEXT NOT NULL,
	host TEXT NOT NULL,
	api_key_encrypted TEXT NOT NULL,
	is_active BOOLEAN NOT NULL DEFAULT 1,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS cleaner_configs (
	instance_id INTEGER PRIMARY KEY,
	enabled BOOLEAN NOT NULL DEFAULT 0,
	dry_run_mode BOOLEAN NOT NULL DEFAULT 1,

	remove_failed BOOLEAN NOT NULL DEFAULT 1,
	remove_stalled BOOLEAN NOT NULL DEFAULT 1,
	stalled_threshold_mins INTEGER NOT NULL DEFAULT 60,
	remove_slow BOOLEAN NOT NULL DEFAULT 0,
	slow_speed_threshold_kbs INTEGER NOT NULL DEFAULT 100,
	slow_grace_period_mins INTEGER NOT NULL DEFAULT 30,
	remove_error_patterns BOOLEAN NOT NULL DEFAULT 0,
	error_patterns_json TEXT NOT NULL DEFAULT '[]',
	remove_import_blocked BOOLEAN NOT NULL DEFAULT 1,
	import_block_cleanup_level TEXT NOT NULL DEFAULT 'safe',
	import_block_pattern_mode TEXT NOT NULL DEFAULT 'defaults',
	import_block_patterns_json TEXT NOT NULL DEFAULT '[]',
	remove_import_pending BOOLEAN NOT NULL DEFAULT 0,
	import_pending_threshold_mins INTEGER NOT NULL DEFAULT 60,
	estimated_completion_multiplier REAL NOT NULL DEFAULT 0,
	remove_seeding BOOLEAN NOT NULL DEFAULT 0,
	seeding_timeout_hours INTEGER NOT NULL DEFAULT 72,

	strikes_enabled BOOLEAN NOT NULL DEFAULT 1,
	max_strikes INTEGER NOT NULL DEFAULT 3,
	max_removals_per_run INTEGER NOT NULL DEFAULT 0,
	min_queue_age_mins INTEGER NOT NULL DEFAULT 10,

	whitelist_enabled BOOLEAN NOT NULL DEFAULT 0,
	whitelist_patterns_json TEXT NOT NULL DEFAULT '[]',

	auto_import_enabled BOOLEAN NOT NULL DEFAULT 0,
	auto_import_max_attempts INTEGER NOT NULL DEFAULT 3,
	auto_import_cooldown_mins INTEGER NOT NULL DEFAULT 30,
	auto_import_safe_only BOOLEAN NOT NULL DEFAULT 1,

	remove_from_client BOOLEAN NOT NULL DEFAULT 1,
	add_to_blocklist BOOLEAN NOT NULL DEFAULT 1,
	search_after_removal BOOLEAN NOT NULL DEFAULT 1,
	change_category_enabled BOOLEAN NOT NULL DEFAULT 0,

	updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	FOREIGN KEY (instance_id) REFERENCES instances(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS strike_records (
	instance_id INTEGER NOT NULL,
	download_id TEXT NOT NULL,
	strike_count INTEGER NOT NULL DEFAULT 0,
	last_rule TEXT,
	last_reason TEXT,
	import_attempts INTEGER NOT NULL DEFAULT 0,
	last_import_attempt TIMESTAMP,
	last_import_error TEXT,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (instance_id, download_id),
	FOREIGN KEY (instance_id) REFERENCES instances(id) ON DELETE CASCADE
);
`

// migrations are applied in order on top of the base schema. The sqlite
// user_version pragma tracks which have run.
var migrations = []string{}

// New opens (creating if needed) the sweeparr database and applies migrations.
func New(dbPath string) (*DB, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	sqlDB, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// The strike ledger transaction must be serialized; sqlite only supports
	// one writer anyway, so cap the pool at a single connection.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)

	db := &DB{sqlDB}
	if err := db.applyPragmas(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, err
	}

	return db, nil
}

func (db *DB) applyPragmas() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	return nil
}

func (db *DB) migrate() error {
	ctx := context.Background()

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("failed to read user_version: %w", err)
	}

	for i := version; i < len(migrations); i++ {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", i+1, err)
		}

		if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", i+1)); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to bump user_version to %d: %w", i+1, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", i+1, err)
		}
		log.Debug().Int("version", i+1).Msg("Applied database migration")
	}

	return nil
}
