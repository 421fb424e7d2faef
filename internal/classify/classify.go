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

package classify

import (
	"fmt"
	"strings"
	"unicode"

	"meal-ledger-go/internal/models"
	"meal-ledger-go/internal/store"

	"github.com/shopspring/decimal"
)

// Band is an inclusive per-unit price range mapping onto one tier
type Band struct {
	Tier models.Tier
	Low  decimal.Decimal
	High decimal.Decimal
	// Unit is the nominal ticket price used for amount checks; zero means the band midpoint
	Unit decimal.Decimal
}

// containsTotal reports whether total/units falls within the band, edges included, without dividing
func (b Band) containsTotal(total, units decimal.Decimal) bool {
	return total.GreaterThanOrEqual(b.Low.Mul(units)) && total.LessThanOrEqual(b.High.Mul(units))
}

// UnitPrice returns the configured unit or the band midpoint
func (b Band) UnitPrice() decimal.Decimal {
	if !b.Unit.IsZero() {
		return b.Unit
	}
	return b.Low.Add(b.High).Div(decimal.NewFromInt(2))
}

// Event is the pricing configuration of one ticketed event table
type Event struct {
	Collection string
	Bands      []Band
	// Labels maps ticket labels from sales exports onto tiers, case-insensitively
	Labels    map[string]models.Tier
	Tolerance decimal.Decimal
}

// Result is the outcome of classifying one purchase
type Result struct {
	Tier         models.Tier
	Counts       models.TierCounts
	PricePerUnit decimal.Decimal
	// Inferred is set when the tier came from the price rather than explicit counts
	Inferred bool
}

// Classify trusts explicit tier counts and otherwise infers the tier from the price per unit.
// A price outside every band yields TierUnknown with ErrClassificationUnknown; it is never defaulted.
func (e Event) Classify(explicit models.TierCounts, amountPaid decimal.Decimal, quantity int) (Result, error) {
	if !explicit.IsZero() {
		return Result{Tier: explicit.Tier(), Counts: explicit}, nil
	}
	if quantity <= 0 {
		return Result{Tier: models.TierUnknown}, fmt.Errorf("%w: quantity is %d", store.ErrClassificationUnknown, quantity)
	}

	// bands are tested against the exact total so no rounding can pull a price over an edge
	units := decimal.NewFromInt(int64(quantity))
	price := amountPaid.Div(units)
	for _, band := range e.Bands {
		if !band.containsTotal(amountPaid, units) {
			continue
		}
		result := Result{Tier: band.Tier, PricePerUnit: price, Inferred: true}
		switch band.Tier {
		case models.TierMember:
			result.Counts.Member = quantity
		case models.TierNonMember:
			result.Counts.NonMember = quantity
		}
		return result, nil
	}

	return Result{Tier: models.TierUnknown, PricePerUnit: price},
		fmt.Errorf("%w: %s for %d is %s per unit, outside every configured band",
			store.ErrClassificationUnknown, amountPaid.StringFixed(2), quantity, price.Round(4).String())
}

// TierForLabel maps a ticket label onto a tier using the configured labels,
// then the built-in member/non-member wording. ok is false for labels that name no tier.
func (e Event) TierForLabel(label string) (models.Tier, bool) {
	needle := strings.ToLower(strings.TrimSpace(label))
	for name, tier := range e.Labels {
		if strings.ToLower(strings.TrimSpace(name)) == needle {
			return tier, true
		}
	}

	letters := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) {
			return unicode.ToLower(r)
		}
		return -1
	}, label)
	switch {
	case strings.Contains(letters, "nonmember"):
		return models.TierNonMember, true
	case strings.Contains(letters, "member"):
		return models.TierMember, true
	}
	return models.TierUnknown, false
}

// ClassifyItem parses a line item's details text and classifies it.
// Lines with unrecognized labels fall back to price inference only when no line named a tier.
func (e Event) ClassifyItem(item models.LineItem) (Result, error) {
	lines, err := ParseDetails(item.Details)
	if err != nil {
		return Result{Tier: models.TierUnknown}, err
	}

	var explicit models.TierCounts
	unlabeled := 0
	for _, line := range lines {
		tier, ok := e.TierForLabel(line.Label)
		switch {
		case !ok:
			unlabeled += line.Quantity
		case tier == models.TierMember:
			explicit.Member += line.Quantity
		case tier == models.TierNonMember:
			explicit.NonMember += line.Quantity
		default:
			unlabeled += line.Quantity
		}
	}

	if unlabeled > 0 && !explicit.IsZero() {
		return Result{Tier: models.TierUnknown},
			fmt.Errorf("%w: %d tickets carry no tier label alongside labeled tickets", store.ErrClassificationUnknown, unlabeled)
	}
	return e.Classify(explicit, item.AmountPaid, explicit.Total()+unlabeled)
}

// CheckAmount compares the amount paid with the nominal price of the counts.
// Disagreement beyond tolerance is returned for reporting only.
func (e Event) CheckAmount(counts models.TierCounts, amountPaid decimal.Decimal) error {
	var expected decimal.Decimal
	for _, share := range []struct {
		tier  models.Tier
		count int
	}{{models.TierMember, counts.Member}, {models.TierNonMember, counts.NonMember}} {
		if share.count == 0 {
			continue
		}
		band, ok := e.band(share.tier)
		if !ok {
			return nil
		}
		expected = expected.Add(band.UnitPrice().Mul(decimal.NewFromInt(int64(share.count))))
	}

	if expected.Sub(amountPaid).Abs().GreaterThan(e.Tolerance) {
		return fmt.Errorf("%w: paid %s, expected %s for %d member and %d non-member tickets",
			store.ErrQuantityMismatch, amountPaid.StringFixed(2), expected.StringFixed(2), counts.Member, counts.NonMember)
	}
	return nil
}

func (e Event) band(tier models.Tier) (Band, bool) {
	for _, b := range e.Bands {
		if b.Tier == tier {
			return b, true
		}
	}
	return Band{}, false
}
