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
	"fmt"
	"sort"

	"meal-ledger-go/internal/models"
)

// PairingIssue is a reservation or journal entry breaking debit/reservation pairing
type PairingIssue struct {
	ReservationId string
	AccountId     string
	Reason        string
}

func (p PairingIssue) String() string {
	return fmt.Sprintf("reservation=%s card=%s: %s", p.ReservationId, p.AccountId, p.Reason)
}

// VerifyPairing checks the journal against reservations: a linked reservation must
// net a debit of its quantity on its card, an unlinked one must net zero, and every
// debit or credit must reference a known reservation. Grants and reasoned corrections
// stand alone.
func VerifyPairing(reservations []models.Reservation, entries []models.LedgerEntry) []PairingIssue {
	type net struct {
		meals    int
		accounts map[string]int
	}
	nets := make(map[string]*net)
	known := make(map[string]struct{}, len(reservations))
	for _, r := range reservations {
		known[r.Id] = struct{}{}
	}

	var issues []PairingIssue
	for _, e := range entries {
		if e.Type == models.EntryGrant || e.IsCorrection() {
			continue
		}
		if _, ok := known[e.ReservationId]; !ok {
			issues = append(issues, PairingIssue{
				ReservationId: e.ReservationId,
				AccountId:     e.AccountId,
				Reason:        fmt.Sprintf("%s of %d meals references no reservation", e.Type, e.Meals),
			})
			continue
		}
		n, ok := nets[e.ReservationId]
		if !ok {
			n = &net{accounts: make(map[string]int)}
			nets[e.ReservationId] = n
		}
		delta := e.Meals
		if e.Type == models.EntryCredit {
			delta = -delta
		}
		n.meals += delta
		n.accounts[e.AccountId] += delta
	}

	for _, r := range reservations {
		n := nets[r.Id]
		if n == nil {
			n = &net{accounts: map[string]int{}}
		}
		if r.Linked() {
			if n.meals != r.Quantity || n.accounts[r.CardId] != r.Quantity {
				issues = append(issues, PairingIssue{
					ReservationId: r.Id,
					AccountId:     r.CardId,
					Reason:        fmt.Sprintf("linked for %d meals but card %s nets %d debited", r.Quantity, r.CardId, n.accounts[r.CardId]),
				})
			}
			continue
		}
		if n.meals != 0 {
			issues = append(issues, PairingIssue{
				ReservationId: r.Id,
				Reason:        fmt.Sprintf("not linked but %d meals remain debited", n.meals),
			})
		}
	}

	sort.SliceStable(issues, func(i, j int) bool { return issues[i].ReservationId < issues[j].ReservationId })
	return issues
}
