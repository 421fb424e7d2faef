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
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"meal-ledger-go/internal/models"
	"meal-ledger-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Ledger applies meal-credit mutations to cards in the record store.
// Mutations on one card are serialized; the store offers no transactions.
type Ledger struct {
	gw           store.Gateway
	cards        string
	reservations string
	tiers        map[string]int
	journal      Journal
	locks        *keyedLocks
	now          func() time.Time
}

// Adjustment describes one debit or credit
type Adjustment struct {
	AccountId     string
	Meals         int
	ReservationId string
	// Override lets correction tooling bypass the balance checks; it is always logged
	Override bool
	Reason   string
}

func New(gw store.Gateway, cfg models.LedgerConfig, tiers map[string]int, journal Journal) *Ledger {
	if journal == nil {
		journal = LogJournal{}
	}
	return &Ledger{
		gw:           gw,
		cards:        cfg.CardsCollection,
		reservations: cfg.ReservationsCollection,
		tiers:        tiers,
		journal:      journal,
		locks:        newKeyedLocks(),
		now:          time.Now,
	}
}

// Card loads a meal card, mapping a missing record onto ErrAccountNotFound
func (l *Ledger) Card(ctx context.Context, accountId string) (*models.MealCard, error) {
	if accountId == "" {
		return nil, fmt.Errorf("%w: empty account id", store.ErrAccountNotFound)
	}
	rec, err := store.Get(ctx, l.gw, l.cards, accountId)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", store.ErrAccountNotFound, accountId)
		}
		return nil, fmt.Errorf("failed to load meal card %s: %w", accountId, err)
	}
	card := models.MealCardFromRecord(*rec)
	return &card, nil
}

// Grant records a fresh purchase of meals: total and remaining both grow
func (l *Ledger) Grant(ctx context.Context, accountId string, meals int, reason string) (*models.MealCard, error) {
	return l.apply(ctx, models.EntryGrant, Adjustment{AccountId: accountId, Meals: meals, Reason: reason})
}

// Debit consumes meals for a reservation. Without Override it fails with
// ErrInsufficientBalance rather than driving remaining below zero.
func (l *Ledger) Debit(ctx context.Context, adj Adjustment) (*models.MealCard, error) {
	if adj.ReservationId == "" {
		return nil, fmt.Errorf("%w: card %s", store.ErrUnpairedDebit, adj.AccountId)
	}
	return l.apply(ctx, models.EntryDebit, adj)
}

// Credit reverses a debit. Without Override it never lifts remaining above total.
func (l *Ledger) Credit(ctx context.Context, adj Adjustment) (*models.MealCard, error) {
	return l.apply(ctx, models.EntryCredit, adj)
}

// Correct credits meals back outside any reservation, e.g. once a missed payment is settled.
// A reason is required and is journaled with the entry. With override the credit may lift
// remaining above total.
func (l *Ledger) Correct(ctx context.Context, accountId string, meals int, reason string, override bool) (*models.MealCard, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: card %s", store.ErrReasonRequired, accountId)
	}
	return l.apply(ctx, models.EntryCredit, Adjustment{AccountId: accountId, Meals: meals, Override: override, Reason: reason})
}

func (l *Ledger) apply(ctx context.Context, entryType models.EntryType, adj Adjustment) (*models.MealCard, error) {
	if adj.Meals <= 0 {
		return nil, fmt.Errorf("%w: %d", store.ErrInvalidMeals, adj.Meals)
	}

	unlock := l.locks.lock("card:" + adj.AccountId)
	defer unlock()

	card, err := l.Card(ctx, adj.AccountId)
	if err != nil {
		return nil, err
	}

	entry := models.LedgerEntry{
		Id:              uuid.NewString(),
		AccountId:       card.Id,
		ReservationId:   adj.ReservationId,
		Type:            entryType,
		Meals:           adj.Meals,
		RemainingBefore: card.RemainingMeals,
		TotalBefore:     card.TotalMeals,
		Override:        adj.Override,
		Reason:          adj.Reason,
	}

	fields := make(map[string]any, 2)
	switch entryType {
	case models.EntryGrant:
		card.TotalMeals += adj.Meals
		card.RemainingMeals += adj.Meals
		fields[models.FieldTotalMeals] = card.TotalMeals
	case models.EntryDebit:
		if card.RemainingMeals-adj.Meals < 0 && !adj.Override {
			return nil, fmt.Errorf("%w: card %s has %d meals, %d requested",
				store.ErrInsufficientBalance, card.Id, card.RemainingMeals, adj.Meals)
		}
		card.RemainingMeals -= adj.Meals
	case models.EntryCredit:
		if card.RemainingMeals+adj.Meals > card.TotalMeals && !adj.Override {
			return nil, fmt.Errorf("%w: card %s has %d of %d meals, credit of %d",
				store.ErrExceedsTotal, card.Id, card.RemainingMeals, card.TotalMeals, adj.Meals)
		}
		card.RemainingMeals += adj.Meals
	}
	fields[models.FieldRemainingMeals] = card.RemainingMeals

	if _, err := l.gw.Update(ctx, l.cards, card.Id, fields); err != nil {
		return nil, fmt.Errorf("failed to apply %s to card %s: %w", entryType, card.Id, err)
	}

	entry.RemainingAfter = card.RemainingMeals
	entry.TotalAfter = card.TotalMeals
	entry.CreatedAt = l.now()

	logFields := []zap.Field{
		zap.String("account_id", card.Id),
		zap.String("type", string(entryType)),
		zap.Int("meals", adj.Meals),
		zap.Int("remaining_before", entry.RemainingBefore),
		zap.Int("remaining_after", entry.RemainingAfter),
		zap.Int("total_after", entry.TotalAfter),
		zap.String("reservation_id", adj.ReservationId),
	}
	switch {
	case adj.Override:
		zap.L().Warn("Ledger override applied", append(logFields, zap.String("reason", adj.Reason))...)
	case entry.IsCorrection():
		zap.L().Warn("Ledger correction applied", append(logFields, zap.String("reason", adj.Reason))...)
	default:
		zap.L().Info("Ledger mutation applied", logFields...)
	}

	// the card is the balance of record; a journal failure is reported but does not undo it
	if err := l.journal.Record(ctx, entry); err != nil {
		zap.L().Error("Failed to journal ledger mutation",
			zap.String("entry_id", entry.Id),
			zap.String("account_id", card.Id),
			zap.Error(err))
	}

	return card, nil
}

// keyedLocks serializes work per key. Entries are reference counted and dropped
// when the last holder or waiter unlocks, so the map only holds keys in use.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	sync.Mutex
	refs int
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[string]*keyedLock)}
}

func (k *keyedLocks) lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &keyedLock{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (k *keyedLocks) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
