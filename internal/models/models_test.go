// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

// setupTestDB opens an in-memory database with the sweeparr schema.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err, "Failed to open test database")
	t.Cleanup(func() { _ = db.Close() })

	// A single connection keeps :memory: stable across the test.
	db.SetMaxOpenConns(1)

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	require.NoError(t, err)

	_, err = db.Exec(`
		CREATE TABLE instances (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			service_type TEXT NOT NULL,
			host TEXT NOT NULL,
			api_key_encrypted TEXT NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT 1,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE cleaner_configs (
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

		CREATE TABLE strike_records (
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
	`)
	require.NoError(t, err, "Failed to create test schema")

	return db
}

func testEncryptionKey() []byte {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	return key
}

// createTestInstance registers one instance and returns its id.
func createTestInstance(t *testing.T, ctx context.Context, db *sql.DB, name string) int {
	t.Helper()

	store, err := NewInstanceStore(db, testEncryptionKey())
	require.NoError(t, err)

	instance, err := store.Create(ctx, name, ServiceTypeSonarr, "http://localhost:8989", "test-api-key")
	require.NoError(t, err)

	return instance.ID
}
