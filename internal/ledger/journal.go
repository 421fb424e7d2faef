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

package ledger

import (
	"context"

	"meal-ledger-go/internal/models"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Journal receives every applied ledger mutation
type Journal interface {
	Record(ctx context.Context, entry models.LedgerEntry) error
}

// Journals fans an entry out to several sinks, attempting all of them
type Journals []Journal

func (js Journals) Record(ctx context.Context, entry models.LedgerEntry) error {
	var err error
	for _, j := range js {
		err = multierr.Append(err, j.Record(ctx, entry))
	}
	return err
}

// LogJournal writes entries to the structured log only
type LogJournal struct{}

func (LogJournal) Record(_ context.Context, entry models.LedgerEntry) error {
	zap.L().Info("Ledger entry",
		zap.String("entry_id", entry.Id),
		zap.String("account_id", entry.AccountId),
		zap.String("reservation_id", entry.ReservationId),
		zap.String("type", string(entry.Type)),
		zap.Int("meals", entry.Meals),
		zap.Int("remaining_after", entry.RemainingAfter),
		zap.Bool("override", entry.Override))
	return nil
}
