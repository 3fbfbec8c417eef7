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

var ErrStrikeRecordNotFound = errors.New("strike record not found")

// StrikeRecord is the durable per-download retry counter, keyed by
// (instance, downloadId). A record survives until its item is confirmed
// removed or vanishes from the queue.
type StrikeRecord struct {
	InstanceID        int        `json:"instanceId"`
	DownloadID        string     `json:"downloadId"`
	StrikeCount       int        `json:"strikeCount"`
	LastRule          string     `json:"lastRule"`
	LastReason        string     `json:"lastReason"`
	ImportAttempts    int        `json:"importAttempts"`
	LastImportAttempt *time.Time `json:"lastImportAttempt,omitempty"`
	LastImportError   string     `json:"lastImportError,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

// StrikeCandidate is one rule-matched queue item entering the ledger pass.
type StrikeCandidate struct {
	DownloadID string
	Rule       string
	Reason     string
}

// StrikeDecision is the ledger's verdict for one candidate.
type StrikeDecision struct {
	DownloadID  string
	StrikeCount int
	// AtThreshold means the item should be removed this run. Its record is
	// deliberately NOT deleted here; deletion happens only after the remote
	// removal is confirmed.
	AtThreshold bool
}

// StrikeStore manages persistence for StrikeRecord.
type StrikeStore struct {
	db dbinterface.Querier
}

func NewStrikeStore(db dbinterface.Querier) *StrikeStore {
	return &StrikeStore{db: db}
}

// ApplyStrikes runs the ledger pass for one instance inside a single
// transaction: increment the strike count of every candidate, and garbage
// collect records whose download no longer appears in the queue snapshot.
// Records that reach maxStrikes are updated but never deleted here; callers
// delete them via DeleteRecords once the remote removal has succeeded.
func (s *StrikeStore) ApplyStrikes(ctx context.Context, instanceID int, candidates []StrikeCandidate, activeDownloadIDs []string, maxStrikes int) (map[string]StrikeDecision, error) {
	if maxStrikes <= 0 {
		return nil, fmt.Errorf("maxStrikes must be positive, got %d", maxStrikes)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin strike transaction: %w", err)
	}
	defer tx.Rollback()

	decisions := make(map[string]StrikeDecision, len(candidates))

	for _, candidate := range candidates {
		downloadID := strings.TrimSpace(candidate.DownloadID)
		if downloadID == "" {
			continue
		}

		var existing int
		err := tx.QueryRowContext(ctx,
			`SELECT strike_count FROM strike_records WHERE instance_id = ? AND download_id = ?`,
			instanceID, downloadID,
		).Scan(&existing)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("failed to read strike record for %s: %w", downloadID, err)
		}

		newCount := existing + 1

		_, err = tx.ExecContext(ctx, `
			INSERT INTO strike_records (instance_id, download_id, strike_count, last_rule, last_reason)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(instance_id, download_id) DO UPDATE SET
				strike_count = excluded.strike_count,
				last_rule = excluded.last_rule,
				last_reason = excluded.last_reason,
				updated_at = CURRENT_TIMESTAMP
		`, instanceID, downloadID, newCount, candidate.Rule, candidate.Reason)
		if err != nil {
			return nil, fmt.Errorf("failed to write strike record for %s: %w", downloadID, err)
		}

		decisions[downloadID] = StrikeDecision{
			DownloadID:  downloadID,
			StrikeCount: newCount,
			AtThreshold: newCount >= maxStrikes,
		}
	}

	// Stale-record GC: a record whose download is gone from the queue has
	// nothing left to protect.
	if err := deleteStaleRecords(ctx, tx, instanceID, activeDownloadIDs); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit strike transaction: %w", err)
	}

	return decisions, nil
}

// SimulateStrikes computes the decisions ApplyStrikes would make without
// writing anything. Dry runs and previews use this so they classify items
// exactly as a live run would.
func (s *StrikeStore) SimulateStrikes(ctx context.Context, instanceID int, candidates []StrikeCandidate, maxStrikes int) (map[string]StrikeDecision, error) {
	if maxStrikes <= 0 {
		return nil, fmt.Errorf("maxStrikes must be positive, got %d", maxStrikes)
	}

	decisions := make(map[string]StrikeDecision, len(candidates))

	for _, candidate := range candidates {
		downloadID := strings.TrimSpace(candidate.DownloadID)
		if downloadID == "" {
			continue
		}

		var existing int
		err := s.db.QueryRowContext(ctx,
			`SELECT strike_count FROM strike_records WHERE instance_id = ? AND download_id = ?`,
			instanceID, downloadID,
		).Scan(&existing)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("failed to read strike record for %s: %w", downloadID, err)
		}

		newCount := existing + 1
		decisions[downloadID] = StrikeDecision{
			DownloadID:  downloadID,
			StrikeCount: newCount,
			AtThreshold: newCount >= maxStrikes,
		}
	}

	return decisions, nil
}

func deleteStaleRecords(ctx context.Context, tx *sql.Tx, instanceID int, activeDownloadIDs []string) error {
	if len(activeDownloadIDs) == 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM strike_records WHERE instance_id = ?`, instanceID); err != nil {
			return fmt.Errorf("failed to clear strike records: %w", err)
		}
		return nil
	}

	placeholders := strings.TrimRight(strings.Repeat("?,", len(activeDownloadIDs)), ",")
	args := make([]any, 0, len(activeDownloadIDs)+1)
	args = append(args, instanceID)
	for _, id := range activeDownloadIDs {
		args = append(args, id)
	}

	query := fmt.Sprintf(
		`DELETE FROM strike_records WHERE instance_id = ? AND download_id NOT IN (%s)`,
		placeholders,
	)
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to delete stale strike records: %w", err)
	}

	return nil
}

// Get returns one strike record or ErrStrikeRecordNotFound.
func (s *StrikeStore) Get(ctx context.Context, instanceID int, downloadID string) (*StrikeRecord, error) {
	row := s.db.QueryRowContext(ctx, selectStrikeRecord+` WHERE instance_id = ? AND download_id = ?`,
		instanceID, downloadID)

	record, err := scanStrikeRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrStrikeRecordNotFound
		}
		return nil, err
	}
	return record, nil
}

// GetAll returns every strike record for an instance keyed by downloadId.
func (s *StrikeStore) GetAll(ctx context.Context, instanceID int) (map[string]*StrikeRecord, error) {
	rows, err := s.db.QueryContext(ctx, selectStrikeRecord+` WHERE instance_id = ?`, instanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make(map[string]*StrikeRecord)
	for rows.Next() {
		record, err := scanStrikeRecord(rows)
		if err != nil {
			return nil, err
		}
		records[record.DownloadID] = record
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return records, nil
}

// DeleteRecords removes strike records for downloads whose remote removal has
// been confirmed. It is phase two of the ledger's deferred deletion: never
// call it for an item whose removal failed.
func (s *StrikeStore) DeleteRecords(ctx context.Context, instanceID int, downloadIDs []string) error {
	if len(downloadIDs) == 0 {
		return nil
	}

	placeholders := strings.TrimRight(strings.Repeat("?,", len(downloadIDs)), ",")
	args := make([]any, 0, len(downloadIDs)+1)
	args = append(args, instanceID)
	for _, id := range downloadIDs {
		args = append(args, id)
	}

	query := fmt.Sprintf(
		`DELETE FROM strike_records WHERE instance_id = ? AND download_id IN (%s)`,
		placeholders,
	)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to delete strike records: %w", err)
	}

	return nil
}

// RecordImportAttempt updates auto-import bookkeeping on a strike record,
// creating one with a zero strike count if none exists. Import attempts are
// tracked independently of rule-violation strikes.
func (s *StrikeStore) RecordImportAttempt(ctx context.Context, instanceID int, downloadID string, attemptedAt time.Time, importErr string) error {
	downloadID = strings.TrimSpace(downloadID)
	if downloadID == "" {
		return errors.New("download id cannot be empty")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO strike_records (instance_id, download_id, strike_count, import_attempts, last_import_attempt, last_import_error)
		VALUES (?, ?, 0, 1, ?, ?)
		ON CONFLICT(instance_id, download_id) DO UPDATE SET
			import_attempts = import_attempts + 1,
			last_import_attempt = excluded.last_import_attempt,
			last_import_error = excluded.last_import_error,
			updated_at = CURRENT_TIMESTAMP
	`, instanceID, downloadID, attemptedAt.UTC(), nullableString(importErr))
	if err != nil {
		return fmt.Errorf("failed to record import attempt for %s: %w", downloadID, err)
	}

	return nil
}

const selectStrikeRecord = `SELECT instance_id, download_id, strike_count, last_rule, last_reason,
	import_attempts, last_import_attempt, last_import_error, created_at, updated_at
	FROM strike_records`

func nullableString(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

func scanStrikeRecord(scanner interface{ Scan(dest ...any) error }) (*StrikeRecord, error) {
	var (
		record            StrikeRecord
		lastRule          sql.NullString
		lastReason        sql.NullString
		lastImportAttempt sql.NullTime
		lastImportError   sql.NullString
		createdAt         sql.NullTime
		updatedAt         sql.NullTime
	)

	if err := scanner.Scan(
		&record.InstanceID,
		&record.DownloadID,
		&record.StrikeCount,
		&lastRule,
		&lastReason,
		&record.ImportAttempts,
		&lastImportAttempt,
		&lastImportError,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	record.LastRule = lastRule.String
	record.LastReason = lastReason.String
	if lastImportAttempt.Valid {
		t := lastImportAttempt.Time
		record.LastImportAttempt = &t
	}
	record.LastImportError = lastImportError.String
	if createdAt.Valid {
		record.CreatedAt = createdAt.Time
	}
	if updatedAt.Valid {
		record.UpdatedAt = updatedAt.Time
	}

	return &record, nil
}
