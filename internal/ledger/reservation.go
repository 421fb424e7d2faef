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
	"time"

	"meal-ledger-go/internal/models"
	"meal-ledger-go/internal/store"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// CardRequest is a meal card purchase
type CardRequest struct {
	Identity        models.Identity
	Tier            string
	WeeklyDelivery  bool
	FrozenAddon     bool
	DeliveryAddress string
}

// OpenCard creates an empty card and grants the meals of its tier, so the
// opening balance is journaled like any other purchase.
func (l *Ledger) OpenCard(ctx context.Context, req CardRequest) (*models.MealCard, error) {
	meals, ok := l.tiers[req.Tier]
	if !ok || meals <= 0 {
		return nil, fmt.Errorf("unknown meal card tier %q", req.Tier)
	}
	if req.Identity.FullName() == "" {
		return nil, errors.New("meal card requires a customer name")
	}
	address := strings.TrimSpace(req.DeliveryAddress)
	if address != "" && !req.WeeklyDelivery {
		return nil, errors.New("delivery address given without weekly delivery")
	}
	if req.WeeklyDelivery && address == "" {
		return nil, errors.New("weekly delivery requires a delivery address")
	}

	card := models.MealCard{
		Identity:        req.Identity,
		Tier:            req.Tier,
		WeeklyDelivery:  req.WeeklyDelivery,
		FrozenAddon:     req.FrozenAddon,
		DeliveryAddress: address,
	}
	rec, err := l.gw.Create(ctx, l.cards, card.Fields())
	if err != nil {
		return nil, fmt.Errorf("failed to create meal card: %w", err)
	}

	zap.L().Info("Meal card created",
		zap.String("account_id", rec.Id),
		zap.String("tier", req.Tier),
		zap.String("name", req.Identity.FullName()))

	return l.Grant(ctx, rec.Id, meals, "card purchase: "+req.Tier)
}

// ReserveRequest is a meal service booking, optionally paid from a card
type ReserveRequest struct {
	Identity      models.Identity
	Date          time.Time
	MealType      models.MealType
	Quantity      int
	CardId        string
	PaymentMethod models.PaymentMethod
	Notes         string
	Staff         string
	Override      bool
}

// Reserve creates the reservation and, when a card is named, links it.
// A failed debit never leaves the reservation looking card-paid: payment becomes
// Unknown, the reservation is flagged for follow-up and the failure is returned.
func (l *Ledger) Reserve(ctx context.Context, req ReserveRequest) (*models.Reservation, error) {
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("%w: %d", store.ErrInvalidMeals, req.Quantity)
	}

	payment := req.PaymentMethod
	if req.CardId != "" {
		payment = models.PaymentPending
	} else if payment == "" {
		payment = models.PaymentUnknown
	}

	res := models.Reservation{
		Identity:      req.Identity,
		Date:          req.Date,
		MealType:      req.MealType,
		Quantity:      req.Quantity,
		PaymentMethod: payment,
		Notes:         req.Notes,
		Status:        models.StatusReserved,
		Staff:         req.Staff,
		NeedsFollowUp: payment == models.PaymentUnknown,
	}
	rec, err := l.gw.Create(ctx, l.reservations, res.Fields())
	if err != nil {
		return nil, fmt.Errorf("failed to create reservation: %w", err)
	}
	created := models.ReservationFromRecord(*rec)

	if req.CardId == "" {
		return &created, nil
	}

	linked, linkErr := l.Link(ctx, created.Id, req.CardId, req.Override)
	if linkErr == nil {
		return linked, nil
	}

	note := fmt.Sprintf("Meal card %s not charged: %v", req.CardId, linkErr)
	if created.Notes != "" {
		note = created.Notes + "\n" + note
	}
	zap.L().Warn("Meal card debit failed, reservation flagged for follow-up",
		zap.String("reservation_id", created.Id),
		zap.String("account_id", req.CardId),
		zap.Error(linkErr))

	updated, err := l.gw.Update(ctx, l.reservations, created.Id, map[string]any{
		models.FieldPaymentMethod: string(models.PaymentUnknown),
		models.FieldNeedsFollowUp: true,
		models.FieldNotes:         note,
	})
	if err != nil {
		return &created, multierr.Combine(linkErr, fmt.Errorf("failed to flag reservation %s: %w", created.Id, err))
	}
	flagged := models.ReservationFromRecord(*updated)
	return &flagged, linkErr
}

// Reservation loads one reservation
func (l *Ledger) Reservation(ctx context.Context, reservationId string) (*models.Reservation, error) {
	rec, err := store.Get(ctx, l.gw, l.reservations, reservationId)
	if err != nil {
		return nil, fmt.Errorf("failed to load reservation %s: %w", reservationId, err)
	}
	res := models.ReservationFromRecord(*rec)
	return &res, nil
}

// Link pays a reservation from a card: the debit is applied first, then the
// reservation is marked card-paid. If the reservation update fails the debit is reversed.
func (l *Ledger) Link(ctx context.Context, reservationId, accountId string, override bool) (*models.Reservation, error) {
	unlock := l.locks.lock("reservation:" + reservationId)
	defer unlock()

	res, err := l.Reservation(ctx, reservationId)
	if err != nil {
		return nil, err
	}
	if res.Linked() {
		return nil, fmt.Errorf("%w: reservation %s uses card %s", store.ErrAlreadyLinked, res.Id, res.CardId)
	}
	if res.Status == models.StatusCancelled {
		return nil, fmt.Errorf("reservation %s is cancelled", res.Id)
	}

	adj := Adjustment{
		AccountId:     accountId,
		Meals:         res.Quantity,
		ReservationId: res.Id,
		Override:      override,
		Reason:        "reservation link",
	}
	if _, err := l.Debit(ctx, adj); err != nil {
		return nil, err
	}

	updated, err := l.gw.Update(ctx, l.reservations, res.Id, map[string]any{
		models.FieldMealCard:      accountId,
		models.FieldPaymentMethod: string(models.PaymentMealCard),
		models.FieldNeedsFollowUp: false,
	})
	if err != nil {
		return nil, l.compensate(ctx, models.EntryCredit, adj, fmt.Errorf("failed to link reservation %s: %w", res.Id, err))
	}

	linked := models.ReservationFromRecord(*updated)
	return &linked, nil
}

// Unlink returns a reservation's meals to its card and records the new payment method.
// If the reservation update fails the credit is reversed.
func (l *Ledger) Unlink(ctx context.Context, reservationId string, payment models.PaymentMethod) (*models.Reservation, error) {
	unlock := l.locks.lock("reservation:" + reservationId)
	defer unlock()

	res, err := l.Reservation(ctx, reservationId)
	if err != nil {
		return nil, err
	}
	return l.unlink(ctx, res, payment, nil)
}

func (l *Ledger) unlink(ctx context.Context, res *models.Reservation, payment models.PaymentMethod, extra map[string]any) (*models.Reservation, error) {
	if !res.Linked() {
		return nil, fmt.Errorf("%w: %s", store.ErrNotLinked, res.Id)
	}

	adj := Adjustment{
		AccountId:     res.CardId,
		Meals:         res.Quantity,
		ReservationId: res.Id,
		Reason:        "reservation unlink",
	}
	if _, err := l.Credit(ctx, adj); err != nil {
		return nil, err
	}

	fields := map[string]any{
		models.FieldMealCard:      "",
		models.FieldPaymentMethod: string(payment),
	}
	for k, v := range extra {
		fields[k] = v
	}
	updated, err := l.gw.Update(ctx, l.reservations, res.Id, fields)
	if err != nil {
		return nil, l.compensate(ctx, models.EntryDebit, adj, fmt.Errorf("failed to unlink reservation %s: %w", res.Id, err))
	}

	unlinked := models.ReservationFromRecord(*updated)
	return &unlinked, nil
}

// Cancel marks a reservation cancelled, returning its meals to the card first when linked
func (l *Ledger) Cancel(ctx context.Context, reservationId string) (*models.Reservation, error) {
	unlock := l.locks.lock("reservation:" + reservationId)
	defer unlock()

	res, err := l.Reservation(ctx, reservationId)
	if err != nil {
		return nil, err
	}
	cancelled := map[string]any{models.FieldStatus: string(models.StatusCancelled)}

	if res.Linked() {
		return l.unlink(ctx, res, models.PaymentOther, cancelled)
	}
	updated, err := l.gw.Update(ctx, l.reservations, res.Id, cancelled)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel reservation %s: %w", res.Id, err)
	}
	out := models.ReservationFromRecord(*updated)
	return &out, nil
}

// Fulfill marks a reservation served
func (l *Ledger) Fulfill(ctx context.Context, reservationId string) (*models.Reservation, error) {
	updated, err := l.gw.Update(ctx, l.reservations, reservationId, map[string]any{
		models.FieldStatus: string(models.StatusFulfilled),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fulfill reservation %s: %w", reservationId, err)
	}
	out := models.ReservationFromRecord(*updated)
	return &out, nil
}

// compensate reverses an applied mutation after its paired reservation write failed
func (l *Ledger) compensate(ctx context.Context, reverse models.EntryType, adj Adjustment, cause error) error {
	adj.Override = true
	adj.Reason = "compensation: " + cause.Error()

	var err error
	if reverse == models.EntryCredit {
		_, err = l.Credit(ctx, adj)
	} else {
		_, err = l.Debit(ctx, adj)
	}
	if err != nil {
		zap.L().Error("Failed to reverse ledger mutation, card needs manual correction",
			zap.String("account_id", adj.AccountId),
			zap.String("reservation_id", adj.ReservationId),
			zap.Int("meals", adj.Meals),
			zap.Error(err))
		return multierr.Combine(cause, fmt.Errorf("reversal failed: %w", err))
	}
	return cause
}
