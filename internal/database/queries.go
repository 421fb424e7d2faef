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

const (
	// Record queries
	queryListRecordsPage = `
		SELECT id, fields, created_at
		FROM records
		WHERE collection = ?
		  AND (created_at > ? OR (created_at = ? AND id > ?))
		ORDER BY created_at, id
		LIMIT ?`

	queryGetRecord = `
		SELECT id, fields, created_at
		FROM records
		WHERE collection = ? AND id = ?`

	queryInsertRecord = `
		INSERT INTO records (id, collection, fields, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`

	queryUpdateRecord = `
		UPDATE records
		SET fields = ?, updated_at = ?
		WHERE collection = ? AND id = ?`

	queryDeleteRecord = `
		DELETE FROM records
		WHERE collection = ? AND id = ?`

	// Ledger journal queries
	queryInsertLedgerEntry = `
		INSERT INTO ledger_journal (
			id, account_id, reservation_id, entry_type, meals,
			remaining_before, remaining_after, total_before, total_after,
			override, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	queryCheckDuplicateLedgerEntry = `
		SELECT id
		FROM ledger_journal
		WHERE id = ?`

	queryGetLedgerEntries = `
		SELECT id, account_id, reservation_id, entry_type, meals,
		       remaining_before, remaining_after, total_before, total_after,
		       override, reason, created_at
		FROM ledger_journal
		WHERE (? = '' OR account_id = ?)
		ORDER BY created_at, id`

	queryReconcileRemaining = `
		SELECT COALESCE(SUM(CASE entry_type WHEN 'debit' THEN -meals ELSE meals END), 0)
		FROM ledger_journal
		WHERE account_id = ?`
)
