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

package store

import (
	"context"
	"errors"

	"meal-ledger-go/internal/models"
)

// Sentinel errors shared across all backend implementations and the ledger/reconcile layers.
var (
	ErrAccountNotFound        = errors.New("account not found")
	ErrInsufficientBalance    = errors.New("insufficient meal balance")
	ErrAmbiguousIdentity      = errors.New("ambiguous identity")
	ErrClassificationUnknown  = errors.New("classification unknown")
	ErrGatewayUnavailable     = errors.New("gateway unavailable")
	ErrQuantityMismatch       = errors.New("quantity mismatch")
	ErrRecordNotFound         = errors.New("record not found")
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrInvalidMeals           = errors.New("meal count must be positive")
	ErrExceedsTotal           = errors.New("credit would exceed total meals")
	ErrAlreadyLinked          = errors.New("reservation already linked to a meal card")
	ErrNotLinked              = errors.New("reservation is not linked to a meal card")
	ErrUnpairedDebit          = errors.New("debit requires a reservation reference")
	ErrReasonRequired         = errors.New("correction requires a reason")
	// ErrWriteUncertain means a create may or may not have been applied; re-read before writing again.
	ErrWriteUncertain = errors.New("write outcome unknown")
)

// Gateway is the record store contract: whole-collection reads plus single-record writes.
// Implementations handle pagination inside ListAll and report transient failures as
// ErrGatewayUnavailable. A failed Create that may still have been applied is reported as
// ErrWriteUncertain instead.
type Gateway interface {
	ListAll(ctx context.Context, collection string) ([]models.Record, error)
	Create(ctx context.Context, collection string, fields map[string]any) (*models.Record, error)
	Update(ctx context.Context, collection, id string, fields map[string]any) (*models.Record, error)
	Delete(ctx context.Context, collection, id string) error
}

// Getter is implemented by backends that can fetch one record by id.
type Getter interface {
	Get(ctx context.Context, collection, id string) (*models.Record, error)
}

// Get fetches one record, scanning the collection when the backend has no direct lookup.
func Get(ctx context.Context, gw Gateway, collection, id string) (*models.Record, error) {
	if g, ok := gw.(Getter); ok {
		return g.Get(ctx, collection, id)
	}
	records, err := gw.ListAll(ctx, collection)
	if err != nil {
		return nil, err
	}
	for i := range records {
		if records[i].Id == id {
			return &records[i], nil
		}
	}
	return nil, ErrRecordNotFound
}
