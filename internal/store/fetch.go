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

package store

import (
	"context"
	"fmt"

	"meal-ledger-go/internal/models"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// FetchCollections lists several collections with at most limit calls in flight.
func FetchCollections(ctx context.Context, gw Gateway, limit int, collections ...string) (map[string][]models.Record, error) {
	results := make([][]models.Record, len(collections))

	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, collection := range collections {
		g.Go(func() error {
			records, err := gw.ListAll(gctx, collection)
			if err != nil {
				return fmt.Errorf("unable to list %s: %w", collection, err)
			}
			results[i] = records
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string][]models.Record, len(collections))
	for i, collection := range collections {
		out[collection] = results[i]
		zap.L().Debug("Fetched collection",
			zap.String("collection", collection),
			zap.Int("count", len(results[i])))
	}
	return out, nil
}
