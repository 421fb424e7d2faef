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

package main

import (
	"context"
	"flag"
	"fmt"
	"strings"

	"meal-ledger-go/internal/batch"
	"meal-ledger-go/internal/common"
	"meal-ledger-go/internal/config"
	"meal-ledger-go/internal/identity"
	"meal-ledger-go/internal/models"
	"meal-ledger-go/internal/store"

	"go.uber.org/zap"
)

func splitList(value string) []string {
	var out []string
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func printEntries(title string, entries []identity.Entry) {
	fmt.Printf("│  %s (%d)\n", title, len(entries))
	for i, e := range entries {
		fmt.Printf("│  %s %-20s %-30s %s\n",
			common.BoxPrefix(i == len(entries)-1), e.RecordId, e.Identity.FullName(), e.Identity.Email)
	}
}

func main() {
	ctx := context.Background()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	nameFlag := flag.String("name", "", "Full name to search for (required)")
	emailFlag := flag.String("email", "", "Email, sharpens exact matching (optional)")
	collectionsFlag := flag.String("collections", "", "Comma separated tables to search (default: meal cards and reservations)")
	flag.Parse()

	if strings.TrimSpace(*nameFlag) == "" {
		flag.Usage()
		logger.Fatal("--name is required")
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	collections := splitList(*collectionsFlag)
	if len(collections) == 0 {
		collections = []string{cfg.Ledger.CardsCollection, cfg.Ledger.ReservationsCollection}
	}

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	records, err := store.FetchCollections(ctx, services.Gateway, cfg.Gateway.Concurrency, collections...)
	if err != nil {
		logger.Fatal("Failed to read collections", zap.Error(err))
	}

	first, last := batch.SplitName(*nameFlag)
	candidate := models.Identity{FirstName: first, LastName: last, Email: *emailFlag}

	common.PrintHeader(fmt.Sprintf("NAME SEARCH: %s (tokens: %s)", *nameFlag, strings.Join(identity.Tokens(*nameFlag), ", ")), common.DefaultWidth)

	exactTotal, fuzzyTotal := 0, 0
	for _, collection := range collections {
		entries := identity.EntriesFromRecords(records[collection])
		exact := services.Resolver.Resolve(candidate, entries)
		fuzzy := identity.ResolveFuzzy(*nameFlag, entries)

		common.PrintSection("%s (%d records)", collection, len(entries))
		printEntries("Exact matches", exact.Matches)
		printEntries("Possible matches (review manually)", fuzzy.Matches)

		exactTotal += len(exact.Matches)
		fuzzyTotal += len(fuzzy.Matches)
	}

	common.PrintFooter(fmt.Sprintf("SUMMARY: %d exact, %d possible matches across %d tables", exactTotal, fuzzyTotal, len(collections)), common.DefaultWidth)
}
