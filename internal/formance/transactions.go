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

package formance

import (
	"context"
	"fmt"
	"strconv"

	"meal-ledger-go/internal/models"

	"github.com/formancehq/formance-sdk-go/v3/pkg/models/operations"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/shared"
	"go.uber.org/zap"
)

// ---------------------------------------------------------------------------
// Numscript templates. Metadata is set inside each script via set_tx_meta()
// so the Formance transaction is self-describing.
// ---------------------------------------------------------------------------

const numscriptGrant = `vars {
  asset $asset
  number $meals
  account $card_id
  string $reason
  string $override
}

send [$asset $meals] (
  source = @world
  destination = @cards:$card_id
)

set_tx_meta("entry_type", "grant")
set_tx_meta("reason", $reason)
set_tx_meta("override", $override)
`

const numscriptDebit = `vars {
  asset $asset
  number $meals
  account $card_id
  account $reservation_id
  string $reason
  string $override
}

send [$asset $meals] (
  source = @cards:$card_id allowing unbounded overdraft
  destination = @reservations:$reservation_id
)

set_tx_meta("entry_type", "debit")
set_tx_meta("reason", $reason)
set_tx_meta("override", $override)
`

const numscriptCredit = `vars {
  asset $asset
  number $meals
  account $card_id
  account $reservation_id
  string $reason
  string $override
}

send [$asset $meals] (
  source = @reservations:$reservation_id allowing unbounded overdraft
  destination = @cards:$card_id
)

set_tx_meta("entry_type", "credit")
set_tx_meta("reason", $reason)
set_tx_meta("override", $override)
`

// postTransaction builds the Formance transaction mirroring one ledger entry.
// The entry id is the reference, so replays are rejected by the stack as conflicts.
func postTransaction(entry models.LedgerEntry) (shared.V2PostTransaction, error) {
	vars := map[string]string{
		"asset":    mealAsset,
		"meals":    strconv.Itoa(entry.Meals),
		"card_id":  accountSegment(entry.AccountId),
		"reason":   entry.Reason,
		"override": strconv.FormatBool(entry.Override),
	}

	var script string
	switch entry.Type {
	case models.EntryGrant:
		script = numscriptGrant
	case models.EntryDebit:
		script = numscriptDebit
		vars["reservation_id"] = accountSegment(entry.ReservationId)
	case models.EntryCredit:
		script = numscriptCredit
		vars["reservation_id"] = accountSegment(entry.ReservationId)
	default:
		return shared.V2PostTransaction{}, fmt.Errorf("unsupported ledger entry type %q", entry.Type)
	}
	if entry.Type != models.EntryGrant && entry.ReservationId == "" {
		return shared.V2PostTransaction{}, fmt.Errorf("%s entry %s has no reservation", entry.Type, entry.Id)
	}

	postTx := shared.V2PostTransaction{
		Reference: strPtr(entry.Id),
		Script: &shared.V2PostTransactionScript{
			Plain: script,
			Vars:  vars,
		},
	}
	if !entry.CreatedAt.IsZero() {
		ts := entry.CreatedAt
		postTx.Timestamp = &ts
	}
	return postTx, nil
}

// Record mirrors one ledger entry. Re-recording the same entry is a no-op.
func (m *Mirror) Record(ctx context.Context, entry models.LedgerEntry) error {
	postTx, err := postTransaction(entry)
	if err != nil {
		return err
	}

	_, err = m.client.Ledger.V2.CreateTransaction(ctx, operations.V2CreateTransactionRequest{
		Ledger:            m.ledger,
		V2PostTransaction: postTx,
	})
	if err != nil {
		if isConflictError(err) {
			return nil // idempotent
		}
		return fmt.Errorf("error mirroring %s to formance: %w", entry.Type, err)
	}

	zap.L().Info("Ledger entry mirrored in Formance",
		zap.String("entry_id", entry.Id),
		zap.String("account_id", entry.AccountId),
		zap.String("type", string(entry.Type)),
		zap.Int("meals", entry.Meals))
	return nil
}
