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

package dedupe

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"meal-ledger-go/internal/identity"
	"meal-ledger-go/internal/models"
	"meal-ledger-go/internal/store"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// KeyFunc returns the composite duplicate key of a record; an empty key excludes the record
type KeyFunc func(models.Record) string

// Group is a set of records sharing one key. The survivor is kept and every duplicate is a deletion candidate.
type Group struct {
	Key        string
	Survivor   models.Record
	Duplicates []models.Record
	// Ambiguous is set when the earliest creation time is shared, so the survivor was picked by id
	Ambiguous bool
}

// FindDuplicates groups records by key and returns groups of size > 1 ordered by key.
// The earliest record survives; ties on creation time are broken by id.
func FindDuplicates(records []models.Record, keyFn KeyFunc) []Group {
	buckets := make(map[string][]models.Record)
	for _, r := range records {
		key := keyFn(r)
		if key == "" {
			continue
		}
		buckets[key] = append(buckets[key], r)
	}

	var groups []Group
	for key, members := range buckets {
		if len(members) < 2 {
			continue
		}
		sorted := append([]models.Record(nil), members...)
		sort.SliceStable(sorted, func(i, j int) bool {
			if !sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
				return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
			}
			return sorted[i].Id < sorted[j].Id
		})
		groups = append(groups, Group{
			Key:        key,
			Survivor:   sorted[0],
			Duplicates: sorted[1:],
			Ambiguous:  sorted[0].CreatedAt.Equal(sorted[1].CreatedAt),
		})
	}

	sort.Slice(groups, func(i, j int) bool { return groups[i].Key < groups[j].Key })
	return groups
}

// TransactionKey keys ticket records on normalized name, reliable email and quantity.
// With includeDate the purchase day joins the key so separate purchases on different days stay distinct.
func TransactionKey(resolver *identity.Resolver, includeDate bool) KeyFunc {
	return func(r models.Record) string {
		tx := models.TransactionFromRecord(r)
		name := identity.NormalizeName(tx.Identity.FullName())
		email := resolver.NormalizeEmail(tx.Identity.Email)
		if name == "" && email == "" {
			return ""
		}
		parts := []string{name, email, strconv.Itoa(tx.Quantity())}
		if includeDate {
			day := ""
			if !tx.PurchasedAt.IsZero() {
				day = tx.PurchasedAt.UTC().Format("2006-01-02")
			}
			parts = append(parts, day)
		}
		return strings.Join(parts, "|")
	}
}

// IdentityKey keys records on identity alone, for card and roster tables with one row per person
func IdentityKey(resolver *identity.Resolver) KeyFunc {
	return func(r models.Record) string {
		return resolver.Key(models.IdentityFromRecord(r)).String()
	}
}

// DeletionResult reports what an explicit deletion pass did
type DeletionResult struct {
	Deleted []string
	Skipped []string
}

// DeleteMarked removes the duplicates of confirmed groups. The collection is re-read first;
// a duplicate is deleted only while both it and its survivor still exist.
func DeleteMarked(ctx context.Context, gw store.Gateway, collection string, groups []Group, concurrency int) (*DeletionResult, error) {
	current, err := gw.ListAll(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to re-read %s before deletion: %w", collection, err)
	}
	present := make(map[string]struct{}, len(current))
	for _, r := range current {
		present[r.Id] = struct{}{}
	}

	result := &DeletionResult{}
	var toDelete []string
	for _, g := range groups {
		if _, ok := present[g.Survivor.Id]; !ok {
			zap.L().Warn("Survivor no longer exists, skipping group",
				zap.String("collection", collection),
				zap.String("key", g.Key),
				zap.String("survivor_id", g.Survivor.Id))
			for _, d := range g.Duplicates {
				result.Skipped = append(result.Skipped, d.Id)
			}
			continue
		}
		for _, d := range g.Duplicates {
			if _, ok := present[d.Id]; !ok {
				result.Skipped = append(result.Skipped, d.Id)
				continue
			}
			toDelete = append(toDelete, d.Id)
		}
	}

	if concurrency < 1 {
		concurrency = 1
	}
	deleted := make([]bool, len(toDelete))
	errs := make([]error, len(toDelete))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, id := range toDelete {
		g.Go(func() error {
			if err := gw.Delete(gctx, collection, id); err != nil {
				errs[i] = fmt.Errorf("delete %s: %w", id, err)
				return nil
			}
			deleted[i] = true
			zap.L().Info("Deleted duplicate record",
				zap.String("collection", collection),
				zap.String("record_id", id))
			return nil
		})
	}
	_ = g.Wait()

	for i, id := range toDelete {
		if deleted[i] {
			result.Deleted = append(result.Deleted, id)
		}
	}
	return result, multierr.Combine(errs...)
}
