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
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"meal-ledger-go/internal/models"
	"meal-ledger-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ListAll returns every record of a collection in creation order, reading page by page.
func (s *Service) ListAll(ctx context.Context, collection string) ([]models.Record, error) {
	zap.L().Debug("Listing records", zap.String("collection", collection))

	var records []models.Record
	var lastCreated int64 = -1
	lastId := ""
	for {
		page, err := s.listPage(ctx, collection, lastCreated, lastId)
		if err != nil {
			return nil, err
		}
		records = append(records, page...)
		if len(page) < s.pageSize {
			break
		}
		last := page[len(page)-1]
		lastCreated = last.CreatedAt.UnixNano()
		lastId = last.Id
	}

	zap.L().Debug("Listed records", zap.String("collection", collection), zap.Int("count", len(records)))
	return records, nil
}

func (s *Service) listPage(ctx context.Context, collection string, afterCreated int64, afterId string) ([]models.Record, error) {
	rows, err := s.db.QueryContext(ctx, queryListRecordsPage, collection, afterCreated, afterCreated, afterId, s.pageSize)
	if err != nil {
		zap.L().Error("Failed to query records", zap.String("collection", collection), zap.Error(err))
		return nil, fmt.Errorf("unable to query records: %w", mapError(err))
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var page []models.Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		page = append(page, *record)
	}

	// Check for errors during iteration
	if err := rows.Err(); err != nil {
		zap.L().Error("Error during record row iteration", zap.Error(err))
		return nil, fmt.Errorf("error iterating record rows: %w", mapError(err))
	}
	return page, nil
}

func (s *Service) Get(ctx context.Context, collection, id string) (*models.Record, error) {
	record, err := scanRecord(s.db.QueryRowContext(ctx, queryGetRecord, collection, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s/%s: %w", collection, id, store.ErrRecordNotFound)
		}
		return nil, err
	}
	return record, nil
}

func (s *Service) Create(ctx context.Context, collection string, fields map[string]any) (*models.Record, error) {
	payload, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("unable to encode fields: %w", err)
	}

	id := "rec" + uuid.New().String()
	now := s.now().UTC()
	if _, err := s.db.ExecContext(ctx, queryInsertRecord, id, collection, string(payload), now.UnixNano(), now.UnixNano()); err != nil {
		zap.L().Error("Failed to insert record", zap.String("collection", collection), zap.Error(err))
		return nil, fmt.Errorf("unable to insert record: %w", mapError(err))
	}

	zap.L().Debug("Record created", zap.String("collection", collection), zap.String("id", id))

	// built from the payload rather than read back, so a failure after commit cannot hide the write
	record := &models.Record{Id: id, CreatedAt: time.Unix(0, now.UnixNano()).UTC(), Fields: make(map[string]any)}
	if err := json.Unmarshal(payload, &record.Fields); err != nil {
		return nil, fmt.Errorf("unable to decode fields of %s: %w", id, err)
	}
	return record, nil
}

// Update merges fields into the stored record; a nil value clears that field.
func (s *Service) Update(ctx context.Context, collection, id string, fields map[string]any) (*models.Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", mapError(err))
	}
	defer tx.Rollback()

	current, err := scanRecord(tx.QueryRowContext(ctx, queryGetRecord, collection, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s/%s: %w", collection, id, store.ErrRecordNotFound)
		}
		return nil, err
	}

	merged := store.MergeFields(current.Fields, fields)
	payload, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("unable to encode fields: %w", err)
	}

	result, err := tx.ExecContext(ctx, queryUpdateRecord, string(payload), s.now().UTC().UnixNano(), collection, id)
	if err != nil {
		return nil, fmt.Errorf("unable to update record: %w", mapError(err))
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("unable to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, fmt.Errorf("record update failed - %w", store.ErrConcurrentModification)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", mapError(err))
	}

	current.Fields = merged
	return current, nil
}

func (s *Service) Delete(ctx context.Context, collection, id string) error {
	result, err := s.db.ExecContext(ctx, queryDeleteRecord, collection, id)
	if err != nil {
		return fmt.Errorf("unable to delete record: %w", mapError(err))
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("unable to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%s/%s: %w", collection, id, store.ErrRecordNotFound)
	}

	zap.L().Info("Record deleted", zap.String("collection", collection), zap.String("id", id))
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*models.Record, error) {
	var (
		record    models.Record
		payload   string
		createdAt int64
	)
	if err := row.Scan(&record.Id, &payload, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("unable to scan record row: %w", mapError(err))
	}

	record.CreatedAt = time.Unix(0, createdAt).UTC()
	record.Fields = make(map[string]any)
	if err := json.Unmarshal([]byte(payload), &record.Fields); err != nil {
		return nil, fmt.Errorf("unable to decode fields of %s: %w", record.Id, err)
	}
	return &record, nil
}
