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

package models

import (
	"time"
)

const (
	FieldCardTier        = "Card Tier"
	FieldTotalMeals      = "Total Meals"
	FieldRemainingMeals  = "Remaining Meals"
	FieldWeeklyDelivery  = "Weekly Delivery"
	FieldFrozenAddon     = "Frozen Addon"
	FieldDeliveryAddress = "Delivery Address"

	FieldDate          = "Date"
	FieldMealType      = "Meal Type"
	FieldQuantity      = "Quantity"
	FieldMealCard      = "Meal Card"
	FieldNotes         = "Notes"
	FieldStatus        = "Status"
	FieldStaff         = "Staff"
	FieldNeedsFollowUp = "Needs Follow-Up"
)

// CardState is the externally visible state of a meal card
type CardState string

const (
	CardActive    CardState = "Active"
	CardExhausted CardState = "Exhausted"
)

// MealCard is a prepaid meal-credit balance tied to one customer
type MealCard struct {
	Id              string    `json:"id"`
	Identity        Identity  `json:"identity"`
	Tier            string    `json:"tier"`
	TotalMeals      int       `json:"total_meals"`
	RemainingMeals  int       `json:"remaining_meals"`
	WeeklyDelivery  bool      `json:"weekly_delivery"`
	FrozenAddon     bool      `json:"frozen_addon"`
	DeliveryAddress string    `json:"delivery_address,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// State reports Exhausted once no meals remain; a top-up makes the card Active again
func (c MealCard) State() CardState {
	if c.RemainingMeals > 0 {
		return CardActive
	}
	return CardExhausted
}

// MealCardFromRecord decodes a meal card record
func MealCardFromRecord(r Record) MealCard {
	return MealCard{
		Id:              r.Id,
		Identity:        IdentityFromRecord(r),
		Tier:            r.String(FieldCardTier),
		TotalMeals:      r.Int(FieldTotalMeals),
		RemainingMeals:  r.Int(FieldRemainingMeals),
		WeeklyDelivery:  r.Bool(FieldWeeklyDelivery),
		FrozenAddon:     r.Bool(FieldFrozenAddon),
		DeliveryAddress: r.String(FieldDeliveryAddress),
		CreatedAt:       r.CreatedAt,
	}
}

// Fields encodes the card for a create call
func (c MealCard) Fields() map[string]any {
	fields := map[string]any{
		FieldCardTier:       c.Tier,
		FieldTotalMeals:     c.TotalMeals,
		FieldRemainingMeals: c.RemainingMeals,
		FieldWeeklyDelivery: c.WeeklyDelivery,
		FieldFrozenAddon:    c.FrozenAddon,
	}
	if c.DeliveryAddress != "" {
		fields[FieldDeliveryAddress] = c.DeliveryAddress
	}
	c.Identity.fields(fields)
	return fields
}

// MealType is how a reserved meal is served
type MealType string

const (
	MealToGo     MealType = "To-Go"
	MealDineIn   MealType = "Dine-In"
	MealDelivery MealType = "Delivery"
)

// ReservationStatus tracks a meal service reservation
type ReservationStatus string

const (
	StatusReserved  ReservationStatus = "Reserved"
	StatusFulfilled ReservationStatus = "Fulfilled"
	StatusCancelled ReservationStatus = "Cancelled"
)

// Reservation is a single meal-service event, optionally paid from a meal card
type Reservation struct {
	Id            string            `json:"id"`
	Identity      Identity          `json:"identity"`
	Date          time.Time         `json:"date"`
	MealType      MealType          `json:"meal_type"`
	Quantity      int               `json:"quantity"`
	CardId        string            `json:"card_id,omitempty"`
	PaymentMethod PaymentMethod     `json:"payment_method"`
	Notes         string            `json:"notes,omitempty"`
	Status        ReservationStatus `json:"status"`
	Staff         string            `json:"staff,omitempty"`
	NeedsFollowUp bool              `json:"needs_follow_up"`
	CreatedAt     time.Time         `json:"created_at"`
}

// Linked reports whether the reservation is paid from a meal card
func (r Reservation) Linked() bool { return r.CardId != "" }

// ReservationFromRecord decodes a reservation record
func ReservationFromRecord(r Record) Reservation {
	return Reservation{
		Id:            r.Id,
		Identity:      IdentityFromRecord(r),
		Date:          r.Time(FieldDate),
		MealType:      MealType(r.String(FieldMealType)),
		Quantity:      r.Int(FieldQuantity),
		CardId:        r.String(FieldMealCard),
		PaymentMethod: ParsePaymentMethod(r.String(FieldPaymentMethod)),
		Notes:         r.String(FieldNotes),
		Status:        ReservationStatus(r.String(FieldStatus)),
		Staff:         r.String(FieldStaff),
		NeedsFollowUp: r.Bool(FieldNeedsFollowUp),
		CreatedAt:     r.CreatedAt,
	}
}

// Fields encodes the reservation for a create call
func (r Reservation) Fields() map[string]any {
	fields := map[string]any{
		FieldMealType:      string(r.MealType),
		FieldQuantity:      r.Quantity,
		FieldMealCard:      r.CardId,
		FieldPaymentMethod: string(r.PaymentMethod),
		FieldNotes:         r.Notes,
		FieldStatus:        string(r.Status),
		FieldStaff:         r.Staff,
		FieldNeedsFollowUp: r.NeedsFollowUp,
	}
	if !r.Date.IsZero() {
		fields[FieldDate] = r.Date.Format("2006-01-02")
	}
	r.Identity.fields(fields)
	return fields
}

// EntryType is the kind of a meal-credit ledger mutation
type EntryType string

const (
	EntryGrant  EntryType = "grant"
	EntryDebit  EntryType = "debit"
	EntryCredit EntryType = "credit"
)

// LedgerEntry is the audit record of a single applied meal-credit mutation
type LedgerEntry struct {
	Id              string    `db:"id"`
	AccountId       string    `db:"account_id"`
	ReservationId   string    `db:"reservation_id"`
	Type            EntryType `db:"entry_type"`
	Meals           int       `db:"meals"`
	RemainingBefore int       `db:"remaining_before"`
	RemainingAfter  int       `db:"remaining_after"`
	TotalBefore     int       `db:"total_before"`
	TotalAfter      int       `db:"total_after"`
	Override        bool      `db:"override"`
	Reason          string    `db:"reason"`
	CreatedAt       time.Time `db:"created_at"`
}

// IsCorrection reports a credit made outside any reservation with a recorded reason
func (e LedgerEntry) IsCorrection() bool {
	return e.Type == EntryCredit && e.ReservationId == "" && e.Reason != ""
}
