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
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Collection field names shared by ticket, card and reservation tables
const (
	FieldFirstName = "First Name"
	FieldLastName  = "Last Name"
	FieldEmail     = "Email"
	FieldPhone     = "Phone"

	FieldMemberCount    = "Member Count"
	FieldNonMemberCount = "Non-Member Count"
	FieldSubtotal       = "Subtotal"
	FieldPaymentMethod  = "Payment Method"
	FieldAmountPaid     = "Amount Paid"
	FieldPurchaseDate   = "Purchase Date"
	FieldRefunded       = "Refunded"
	FieldExternalRef    = "External Ref"
)

// Identity is the person a transaction, card or reservation belongs to
type Identity struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

// FullName joins first and last name with a single space
func (i Identity) FullName() string {
	return strings.TrimSpace(strings.TrimSpace(i.FirstName) + " " + strings.TrimSpace(i.LastName))
}

// IdentityFromRecord reads the shared identity fields of a record
func IdentityFromRecord(r Record) Identity {
	return Identity{
		FirstName: r.String(FieldFirstName),
		LastName:  r.String(FieldLastName),
		Email:     r.String(FieldEmail),
		Phone:     r.String(FieldPhone),
	}
}

func (i Identity) fields(into map[string]any) {
	into[FieldFirstName] = i.FirstName
	into[FieldLastName] = i.LastName
	into[FieldEmail] = i.Email
	into[FieldPhone] = i.Phone
}

// Tier is a membership price classification for a purchased unit
type Tier string

const (
	TierMember    Tier = "Member"
	TierNonMember Tier = "Non-Member"
	TierSplit     Tier = "Split"
	TierUnknown   Tier = "Unknown"
)

// TierCounts is the quantity breakdown of a transaction by tier
type TierCounts struct {
	Member    int `json:"member"`
	NonMember int `json:"non_member"`
}

func (c TierCounts) Total() int { return c.Member + c.NonMember }

func (c TierCounts) IsZero() bool { return c.Member == 0 && c.NonMember == 0 }

func (c TierCounts) Add(other TierCounts) TierCounts {
	return TierCounts{Member: c.Member + other.Member, NonMember: c.NonMember + other.NonMember}
}

// Tier reports Member or NonMember for a single-tier breakdown and Split when both are present
func (c TierCounts) Tier() Tier {
	switch {
	case c.Member > 0 && c.NonMember > 0:
		return TierSplit
	case c.Member > 0:
		return TierMember
	case c.NonMember > 0:
		return TierNonMember
	}
	return TierUnknown
}

// PaymentMethod is how a transaction or reservation was paid
type PaymentMethod string

const (
	PaymentCash     PaymentMethod = "Cash"
	PaymentCheck    PaymentMethod = "Check"
	PaymentCard     PaymentMethod = "Card"
	PaymentComp     PaymentMethod = "Comp"
	PaymentOther    PaymentMethod = "Other"
	PaymentPending  PaymentMethod = "Pending"
	PaymentMealCard PaymentMethod = "Meal Card"
	PaymentUnknown  PaymentMethod = "Unknown"
)

// ParsePaymentMethod maps free text from exports onto a known method, defaulting to Other
func ParsePaymentMethod(value string) PaymentMethod {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "cash":
		return PaymentCash
	case "check", "cheque":
		return PaymentCheck
	case "card", "credit card", "credit", "debit", "stripe", "square":
		return PaymentCard
	case "comp", "complimentary", "free":
		return PaymentComp
	case "pending", "unpaid":
		return PaymentPending
	case "meal card":
		return PaymentMealCard
	case "unknown":
		return PaymentUnknown
	case "":
		return PaymentOther
	}
	return PaymentOther
}

// Transaction is an event-ticket purchase record
type Transaction struct {
	Id            string          `json:"id,omitempty"`
	Identity      Identity        `json:"identity"`
	Counts        TierCounts      `json:"counts"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	AmountPaid    decimal.Decimal `json:"amount_paid"`
	PurchasedAt   time.Time       `json:"purchased_at"`
	Refunded      bool            `json:"refunded"`
	ExternalRef   string          `json:"external_ref,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Quantity is the total number of tickets across tiers
func (t Transaction) Quantity() int { return t.Counts.Total() }

// TransactionFromRecord decodes a ticket-table record
func TransactionFromRecord(r Record) Transaction {
	return Transaction{
		Id:       r.Id,
		Identity: IdentityFromRecord(r),
		Counts: TierCounts{
			Member:    r.Int(FieldMemberCount),
			NonMember: r.Int(FieldNonMemberCount),
		},
		Subtotal:      r.Decimal(FieldSubtotal),
		PaymentMethod: ParsePaymentMethod(r.String(FieldPaymentMethod)),
		AmountPaid:    r.Decimal(FieldAmountPaid),
		PurchasedAt:   r.Time(FieldPurchaseDate),
		Refunded:      r.Bool(FieldRefunded),
		ExternalRef:   r.String(FieldExternalRef),
		CreatedAt:     r.CreatedAt,
	}
}

// Fields encodes the transaction for a create or update call
func (t Transaction) Fields() map[string]any {
	fields := map[string]any{
		FieldMemberCount:    t.Counts.Member,
		FieldNonMemberCount: t.Counts.NonMember,
		FieldSubtotal:       t.Subtotal.InexactFloat64(),
		FieldPaymentMethod:  string(t.PaymentMethod),
		FieldAmountPaid:     t.AmountPaid.InexactFloat64(),
		FieldRefunded:       t.Refunded,
	}
	t.Identity.fields(fields)
	if !t.PurchasedAt.IsZero() {
		fields[FieldPurchaseDate] = t.PurchasedAt.UTC().Format(time.RFC3339)
	}
	if t.ExternalRef != "" {
		fields[FieldExternalRef] = t.ExternalRef
	}
	return fields
}

// LineItem is one row of an external ticket-sales export
type LineItem struct {
	Identity      Identity        `json:"identity"`
	PurchasedAt   time.Time       `json:"purchased_at"`
	Details       string          `json:"details"`
	AmountPaid    decimal.Decimal `json:"amount_paid"`
	PaymentMethod PaymentMethod   `json:"payment_method,omitempty"`
	ExternalRef   string          `json:"external_ref,omitempty"`
	Refunded      bool            `json:"refunded,omitempty"`
}
