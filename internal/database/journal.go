/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"meal-ledger-go/internal/models"
	"meal-ledger-go/internal/store"

	"go.uber.org/zap"
)

// JournalService stores the audit trail of meal-credit mutations
type JournalService struct {
	db *sql.DB
}

func NewJournalService(db *sql.DB) *JournalService {
	return &JournalService{
		db: db,
	}
}

func (s *JournalService) InitSchema() error {
	schema := `
	-- Ledger Journal (Audit Trail of every applied grant/debit/credit)
	CREATE TABLE IF NOT EXISTS ledger_journal (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		reservation_id TEXT NOT NULL DEFAULT '',
		entry_type TEXT NOT NULL,
		meals INTEGER NOT NULL,
		remaining_before INTEGER NOT NULL,
		remaining_after INTEGER NOT NULL,
		total_before INTEGER NOT NULL,
		total_after INTEGER NOT NULL,
		override BOOLEAN NOT NULL DEFAULT 0,
		reason TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_journal_account ON ledger_journal(account_id);
	CREATE INDEX IF NOT EXISTS idx_ledger_journal_reservation ON ledger_journal(reservation_id);
	CREATE INDEX IF NOT EXISTS idx_ledger_journal_created_at ON ledger_journal(created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Record appends an entry; re-recording the same entry id is a no-op.
func (s *JournalService) Record(ctx context.Context, entry models.LedgerEntry) error {
	var existingId string
	err := s.db.QueryRowContext(ctx, queryCheckDuplicateLedgerEntry, entry.Id).Scan(&existingId)
	if err == nil {
		zap.L().Warn("Duplicate ledger entry detected, skipping",
			zap.String("entry_id", entry.Id),
			zap.String("account_id", entry.AccountId))
		return nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to check for duplicate ledger entry: %w", mapError(err))
	}

	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx, queryInsertLedgerEntry,
		entry.Id, entry.AccountId, entry.ReservationId, string(entry.Type), entry.Meals,
		entry.RemainingBefore, entry.RemainingAfter, entry.TotalBefore, entry.TotalAfter,
		entry.Override, entry.Reason, createdAt.UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to insert ledger entry: %w", mapError(err))
	}

	zap.L().Debug("Ledger entry journaled",
		zap.String("entry_id", entry.Id),
		zap.String("account_id", entry.AccountId),
		zap.String("type", string(entry.Type)),
		zap.Int("meals", entry.Meals))
	return nil
}

// Entries returns journal entries for one account, or for all accounts when accountId is empty.
func (s *JournalService) Entries(ctx context.Context, accountId string) ([]models.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, queryGetLedgerEntries, accountId, accountId)
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger entries: %w", mapError(err))
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var entries []models.LedgerEntry
	for rows.Next() {
		var entry models.LedgerEntry
		var entryType string
		var createdAt int64
		err := rows.Scan(&entry.Id, &entry.AccountId, &entry.ReservationId, &entryType, &entry.Meals,
			&entry.RemainingBefore, &entry.RemainingAfter, &entry.TotalBefore, &entry.TotalAfter,
			&entry.Override, &entry.Reason, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entry.Type = models.EntryType(entryType)
		entry.CreatedAt = time.Unix(0, createdAt).UTC()
		entries = append(entries, entry)
	}

	// Check for errors during iteration
	if err := rows.Err(); err != nil {
		zap.L().Error("Error during ledger entry row iteration", zap.Error(err))
		return nil, fmt.Errorf("error iterating ledger entry rows: %w", err)
	}
	return entries, nil
}

// ReconcileCard verifies that a card's remaining balance matches the sum of its journal
func (s *JournalService) ReconcileCard(ctx context.Context, card models.MealCard) error {
	zap.L().Info("Reconciling meal card", zap.String("account_id", card.Id))

	var calculated int
	if err := s.db.QueryRowContext(ctx, queryReconcileRemaining, card.Id).Scan(&calculated); err != nil {
		return fmt.Errorf("failed to calculate balance from journal: %w", mapError(err))
	}

	if calculated != card.RemainingMeals {
		zap.L().Error("Meal card reconciliation failed",
			zap.String("account_id", card.Id),
			zap.Int("current_remaining", card.RemainingMeals),
			zap.Int("calculated_remaining", calculated),
			zap.Int("difference", card.RemainingMeals-calculated))
		return fmt.Errorf("%w: card %s remaining=%d, journal=%d", store.ErrQuantityMismatch, card.Id, card.RemainingMeals, calculated)
	}

	zap.L().Info("Meal card reconciliation successful",
		zap.String("account_id", card.Id),
		zap.Int("remaining", card.RemainingMeals))
	return nil
}
