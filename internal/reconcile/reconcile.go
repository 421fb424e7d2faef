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
	"context"
	"errors"
	"fmt"

	"meal-ledger-go/internal/classify"
	"meal-ledger-go/internal/identity"
	"meal-ledger-go/internal/models"
	"meal-ledger-go/internal/store"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Driver imports external ticket-sales batches into one event table without duplicating what is already there
type Driver struct {
	gw       store.Gateway
	resolver *identity.Resolver
	event    classify.Event
}

func NewDriver(gw store.Gateway, resolver *identity.Resolver, event classify.Event) *Driver {
	return &Driver{gw: gw, resolver: resolver, event: event}
}

// Run reads the event table and reconciles the batch against it
func (d *Driver) Run(ctx context.Context, batch []models.LineItem) (*models.Summary, error) {
	existing, err := d.gw.ListAll(ctx, d.event.Collection)
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", d.event.Collection, err)
	}
	zap.L().Info("Loaded existing transactions",
		zap.String("collection", d.event.Collection),
		zap.Int("count", len(existing)))
	return d.Reconcile(ctx, batch, existing)
}

// group is the merged purchase of one identity within a batch
type group struct {
	tx      models.Transaction
	indexes []int
	details []string
}

// Reconcile processes line items in batch order. Lines of the same person are merged
// first so a repeat run compares like with like; each group is then skipped, reported
// as a mismatch, or created. A failure halts only its own group.
func (d *Driver) Reconcile(ctx context.Context, batch []models.LineItem, existing []models.Record) (*models.Summary, error) {
	summary := models.NewSummary(d.event.Collection)

	groups := d.classifyAndMerge(batch, summary)

	pool := make([]models.Transaction, 0, len(existing))
	known := make(map[string]bool, len(existing))
	for _, r := range existing {
		pool = append(pool, models.TransactionFromRecord(r))
		known[r.Id] = true
	}

	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		candidates := d.candidates(g.tx, pool)
		var agreeing *models.Transaction
		var differing []models.Transaction
		for i := range candidates {
			if d.agrees(g.tx, candidates[i]) {
				agreeing = &candidates[i]
				break
			}
			differing = append(differing, candidates[i])
		}

		switch {
		case agreeing != nil:
			summary.Skipped = append(summary.Skipped, models.SkippedItem{RecordId: agreeing.Id, Identity: g.tx.Identity})
			summary.AddTotals(g.tx)
			zap.L().Debug("Transaction already imported",
				zap.String("record_id", agreeing.Id),
				zap.String("name", g.tx.Identity.FullName()))

		case len(differing) == 1:
			existingTx := differing[0]
			summary.Mismatches = append(summary.Mismatches, models.Mismatch{
				RecordId: existingTx.Id,
				Identity: g.tx.Identity,
				Expected: models.Quantity{Counts: g.tx.Counts, Amount: g.tx.AmountPaid},
				Actual:   models.Quantity{Counts: existingTx.Counts, Amount: existingTx.AmountPaid},
			})
			summary.AddTotals(g.tx)
			zap.L().Warn("Existing transaction differs from batch",
				zap.String("record_id", existingTx.Id),
				zap.String("name", g.tx.Identity.FullName()),
				zap.Int("batch_quantity", g.tx.Quantity()),
				zap.Int("existing_quantity", existingTx.Quantity()))

		case len(differing) > 1:
			err := fmt.Errorf("%w: %d existing transactions match %s", store.ErrAmbiguousIdentity, len(differing), g.tx.Identity.FullName())
			summary.Failed = append(summary.Failed, d.issue(g, err))
			summary.AddTotals(g.tx)

		default:
			rec, err := d.create(ctx, g.tx, known)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return summary, ctxErr
				}
				summary.Failed = append(summary.Failed, d.issue(g, fmt.Errorf("failed to create transaction: %w", err)))
				zap.L().Error("Failed to create transaction",
					zap.String("collection", d.event.Collection),
					zap.String("name", g.tx.Identity.FullName()),
					zap.Error(err))
				continue
			}
			created := g.tx
			created.Id = rec.Id
			created.CreatedAt = rec.CreatedAt
			pool = append(pool, created)
			known[rec.Id] = true
			summary.Created = append(summary.Created, created)
			summary.AddTotals(created)
			if !d.resolver.Key(created.Identity).Usable() && created.ExternalRef == "" {
				summary.Unkeyed = append(summary.Unkeyed, d.issue(g, errUnkeyed))
				zap.L().Warn("Transaction created without identity or external reference",
					zap.String("record_id", rec.Id),
					zap.Int("index", g.indexes[0]))
			}
			zap.L().Info("Transaction created",
				zap.String("record_id", rec.Id),
				zap.String("name", created.Identity.FullName()),
				zap.Int("member_count", created.Counts.Member),
				zap.Int("non_member_count", created.Counts.NonMember))
		}
	}

	zap.L().Info("Reconciliation complete",
		zap.String("collection", d.event.Collection),
		zap.Int("created", summary.CreatedCount()),
		zap.Int("skipped", summary.SkippedCount()),
		zap.Int("mismatches", len(summary.Mismatches)),
		zap.Int("unclassified", len(summary.Unclassified)),
		zap.Int("failed", len(summary.Failed)))
	return summary, nil
}

// errUnkeyed marks a created line that nothing can match on a later run
var errUnkeyed = errors.New("no usable name, email or external reference; a rerun will create it again")

// create writes a new transaction. A create whose outcome is unknown is never re-issued:
// the collection is re-read and a matching record not seen before is adopted. When none
// is found the group fails, and a rerun creates it once the store is reachable.
func (d *Driver) create(ctx context.Context, tx models.Transaction, known map[string]bool) (*models.Record, error) {
	rec, err := d.gw.Create(ctx, d.event.Collection, tx.Fields())
	if err == nil || !errors.Is(err, store.ErrWriteUncertain) {
		return rec, err
	}

	zap.L().Warn("Create outcome unknown, re-reading collection",
		zap.String("collection", d.event.Collection),
		zap.String("name", tx.Identity.FullName()),
		zap.Error(err))

	records, listErr := d.gw.ListAll(ctx, d.event.Collection)
	if listErr != nil {
		return nil, multierr.Append(err, fmt.Errorf("unable to re-read %s: %w", d.event.Collection, listErr))
	}
	for i := range records {
		if known[records[i].Id] {
			continue
		}
		stored := models.TransactionFromRecord(records[i])
		if len(d.candidates(tx, []models.Transaction{stored})) == 1 && d.agrees(tx, stored) {
			zap.L().Info("Create had been applied, adopting stored record",
				zap.String("record_id", records[i].Id),
				zap.String("name", tx.Identity.FullName()))
			return &records[i], nil
		}
	}
	return nil, fmt.Errorf("%w: no matching record found on re-read", err)
}

// classifyAndMerge classifies every line and folds lines of one identity into a group, in first-appearance order
func (d *Driver) classifyAndMerge(batch []models.LineItem, summary *models.Summary) []*group {
	var groups []*group
	byKey := make(map[string]*group)

	for i, item := range batch {
		result, err := d.event.ClassifyItem(item)
		if err != nil {
			summary.Unclassified = append(summary.Unclassified, models.ItemIssue{
				Index:    i,
				Identity: item.Identity,
				Details:  item.Details,
				Reason:   err.Error(),
				Err:      err,
			})
			zap.L().Warn("Line item could not be classified",
				zap.Int("index", i),
				zap.String("name", item.Identity.FullName()),
				zap.String("details", item.Details),
				zap.Error(err))
			continue
		}
		if !result.Inferred {
			if err := d.event.CheckAmount(result.Counts, item.AmountPaid); err != nil {
				summary.AmountWarnings = append(summary.AmountWarnings, models.ItemIssue{
					Index:    i,
					Identity: item.Identity,
					Details:  item.Details,
					Reason:   err.Error(),
					Err:      err,
				})
			}
		}

		key := d.resolver.Key(item.Identity)
		mergeKey := ""
		if key.Usable() {
			mergeKey = fmt.Sprintf("%s|refunded=%t", key.String(), item.Refunded)
		}
		if g, ok := byKey[mergeKey]; ok && mergeKey != "" {
			mergeInto(g, item, result.Counts)
			g.indexes = append(g.indexes, i)
			g.details = append(g.details, item.Details)
			continue
		}

		payment := item.PaymentMethod
		if payment == "" {
			payment = models.PaymentOther
		}
		g := &group{
			tx: models.Transaction{
				Identity:      item.Identity,
				Counts:        result.Counts,
				Subtotal:      item.AmountPaid,
				PaymentMethod: payment,
				AmountPaid:    item.AmountPaid,
				PurchasedAt:   item.PurchasedAt,
				Refunded:      item.Refunded,
				ExternalRef:   item.ExternalRef,
			},
			indexes: []int{i},
			details: []string{item.Details},
		}
		groups = append(groups, g)
		if mergeKey != "" {
			byKey[mergeKey] = g
		}
	}
	return groups
}

func mergeInto(g *group, item models.LineItem, counts models.TierCounts) {
	g.tx.Counts = g.tx.Counts.Add(counts)
	g.tx.AmountPaid = g.tx.AmountPaid.Add(item.AmountPaid)
	g.tx.Subtotal = g.tx.Subtotal.Add(item.AmountPaid)
	if !item.PurchasedAt.IsZero() && (g.tx.PurchasedAt.IsZero() || item.PurchasedAt.Before(g.tx.PurchasedAt)) {
		g.tx.PurchasedAt = item.PurchasedAt
	}
	if g.tx.ExternalRef == "" {
		g.tx.ExternalRef = item.ExternalRef
	}
	// lines paid different ways are reported under Other
	if item.PaymentMethod != "" && item.PaymentMethod != g.tx.PaymentMethod {
		g.tx.PaymentMethod = models.PaymentOther
	}
	if g.tx.Identity.Phone == "" {
		g.tx.Identity.Phone = item.Identity.Phone
	}
}

// candidates are existing transactions with the same external reference or the same exact identity.
// Refunded and live purchases never match each other.
func (d *Driver) candidates(tx models.Transaction, pool []models.Transaction) []models.Transaction {
	key := d.resolver.Key(tx.Identity)
	var out []models.Transaction
	for _, existing := range pool {
		if existing.Refunded != tx.Refunded {
			continue
		}
		if tx.ExternalRef != "" && existing.ExternalRef == tx.ExternalRef {
			out = append(out, existing)
			continue
		}
		if key.Usable() && d.resolver.Same(tx.Identity, existing.Identity) {
			out = append(out, existing)
		}
	}
	return out
}

// agrees compares tier counts exactly and amounts within tolerance when both sides recorded one
func (d *Driver) agrees(batch, existing models.Transaction) bool {
	if batch.Counts != existing.Counts {
		return false
	}
	if batch.AmountPaid.IsZero() || existing.AmountPaid.IsZero() {
		return true
	}
	return batch.AmountPaid.Sub(existing.AmountPaid).Abs().LessThanOrEqual(d.event.Tolerance)
}

func (d *Driver) issue(g *group, err error) models.ItemIssue {
	details := ""
	if len(g.details) > 0 {
		details = g.details[0]
	}
	return models.ItemIssue{
		Index:    g.indexes[0],
		Identity: g.tx.Identity,
		Details:  details,
		Reason:   err.Error(),
		Err:      err,
	}
}

// ValidateTotal compares the run's ticket total with the count the operator expects from the export
func ValidateTotal(summary *models.Summary, expected int) error {
	if expected <= 0 {
		return nil
	}
	if got := summary.TotalTickets(); got != expected {
		return fmt.Errorf("%w: expected %d tickets, reconciled %d", store.ErrQuantityMismatch, expected, got)
	}
	return nil
}
