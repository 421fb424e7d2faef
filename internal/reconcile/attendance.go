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

package reconcile

import (
	"meal-ledger-go/internal/identity"
	"meal-ledger-go/internal/models"

	"github.com/shopspring/decimal"
)

// Attendance is everything one person bought for an event
type Attendance struct {
	Identity       models.Identity
	Counts         models.TierCounts
	Amount         decimal.Decimal
	PaymentMethods []models.PaymentMethod
	TransactionIds []string
}

// MergeAttendance folds the live transactions of each identity into one attendance entry,
// ordered by first appearance. Refunded transactions are left out; identities without a
// usable email or name are never merged.
func MergeAttendance(transactions []models.Transaction, resolver *identity.Resolver) []Attendance {
	var out []Attendance
	index := make(map[string]int)

	for _, tx := range transactions {
		if tx.Refunded {
			continue
		}
		key := resolver.Key(tx.Identity)
		if key.Usable() {
			if i, ok := index[key.String()]; ok {
				a := &out[i]
				a.Counts = a.Counts.Add(tx.Counts)
				a.Amount = a.Amount.Add(tx.AmountPaid)
				a.TransactionIds = append(a.TransactionIds, tx.Id)
				a.PaymentMethods = appendMethod(a.PaymentMethods, tx.PaymentMethod)
				continue
			}
			index[key.String()] = len(out)
		}
		out = append(out, Attendance{
			Identity:       tx.Identity,
			Counts:         tx.Counts,
			Amount:         tx.AmountPaid,
			PaymentMethods: appendMethod(nil, tx.PaymentMethod),
			TransactionIds: []string{tx.Id},
		})
	}
	return out
}

func appendMethod(methods []models.PaymentMethod, m models.PaymentMethod) []models.PaymentMethod {
	if m == "" {
		return methods
	}
	for _, existing := range methods {
		if existing == m {
			return methods
		}
	}
	return append(methods, m)
}
