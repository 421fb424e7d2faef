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
	"github.com/shopspring/decimal"
)

// Quantity is a tier breakdown with the amount paid for it
type Quantity struct {
	Counts TierCounts      `json:"counts"`
	Amount decimal.Decimal `json:"amount"`
}

// Mismatch is a batch line whose identity already exists with different totals
type Mismatch struct {
	RecordId string   `json:"record_id"`
	Identity Identity `json:"identity"`
	Expected Quantity `json:"expected"`
	Actual   Quantity `json:"actual"`
}

// SkippedItem is a batch line already present in the store
type SkippedItem struct {
	RecordId string   `json:"record_id"`
	Identity Identity `json:"identity"`
}

// ItemIssue is a batch line that halted with an error; the run continued past it
type ItemIssue struct {
	Index    int      `json:"index"`
	Identity Identity `json:"identity"`
	Details  string   `json:"details,omitempty"`
	Reason   string   `json:"reason"`
	Err      error    `json:"-"`
}

// PaymentTotal accumulates tickets and money per payment method
type PaymentTotal struct {
	Tickets int             `json:"tickets"`
	Amount  decimal.Decimal `json:"amount"`
}

// Summary is the end-of-run reconciliation report
type Summary struct {
	Collection            string                         `json:"collection"`
	Created               []Transaction                  `json:"created"`
	Skipped               []SkippedItem                  `json:"skipped"`
	Mismatches            []Mismatch                     `json:"mismatches"`
	Unclassified          []ItemIssue                    `json:"unclassified"`
	Failed                []ItemIssue                    `json:"failed"`
	AmountWarnings        []ItemIssue                    `json:"amount_warnings"`
	Unkeyed               []ItemIssue                    `json:"unkeyed"`
	TotalsByTier          map[Tier]int                   `json:"totals_by_tier"`
	TotalsByPaymentMethod map[PaymentMethod]PaymentTotal `json:"totals_by_payment_method"`
}

// NewSummary returns an empty summary for a collection
func NewSummary(collection string) *Summary {
	return &Summary{
		Collection:            collection,
		TotalsByTier:          make(map[Tier]int),
		TotalsByPaymentMethod: make(map[PaymentMethod]PaymentTotal),
	}
}

func (s *Summary) CreatedCount() int { return len(s.Created) }

func (s *Summary) SkippedCount() int { return len(s.Skipped) }

// TotalTickets sums the per-tier totals
func (s *Summary) TotalTickets() int {
	total := 0
	for _, n := range s.TotalsByTier {
		total += n
	}
	return total
}

// AddTotals accumulates a classified, non-refunded transaction into the running totals
func (s *Summary) AddTotals(tx Transaction) {
	if tx.Refunded {
		return
	}
	if tx.Counts.Member > 0 {
		s.TotalsByTier[TierMember] += tx.Counts.Member
	}
	if tx.Counts.NonMember > 0 {
		s.TotalsByTier[TierNonMember] += tx.Counts.NonMember
	}
	method := tx.PaymentMethod
	if method == "" {
		method = PaymentOther
	}
	pt := s.TotalsByPaymentMethod[method]
	pt.Tickets += tx.Quantity()
	pt.Amount = pt.Amount.Add(tx.AmountPaid)
	s.TotalsByPaymentMethod[method] = pt
}
