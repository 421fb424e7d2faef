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

	"meal-ledger-go/internal/common"
	"meal-ledger-go/internal/config"
	"meal-ledger-go/internal/dedupe"
	"meal-ledger-go/internal/identity"
	"meal-ledger-go/internal/models"

	"go.uber.org/zap"
)

const (
	keyTransaction = "transaction"
	keyIdentity    = "identity"
)

func keyFunc(kind string, withDate bool, resolver *identity.Resolver) (dedupe.KeyFunc, error) {
	switch kind {
	case keyTransaction:
		return dedupe.TransactionKey(resolver, withDate), nil
	case keyIdentity:
		return dedupe.IdentityKey(resolver), nil
	}
	return nil, fmt.Errorf("unknown key %q, expected %s or %s", kind, keyTransaction, keyIdentity)
}

func describe(r models.Record) string {
	id := models.IdentityFromRecord(r)
	return fmt.Sprintf("%-20s %-28s %-28s created %s",
		r.Id, id.FullName(), id.Email, r.CreatedAt.Format("2006-01-02 15:04:05"))
}

func printGroups(groups []dedupe.Group) {
	for _, g := range groups {
		common.PrintSection("Key: %s", g.Key)
		if g.Ambiguous {
			fmt.Println("│  ! Survivor chosen by id: records share the earliest creation time")
		}
		fmt.Printf("│  keep   %s\n", describe(g.Survivor))
		common.PrintBoxSeparator(78)
		for i, d := range g.Duplicates {
			fmt.Printf("%s delete %s\n", common.BoxPrefix(i == len(g.Duplicates)-1), describe(d))
		}
	}
}

func main() {
	ctx := context.Background()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	collectionFlag := flag.String("collection", "", "Table to scan for duplicates (required)")
	keyFlag := flag.String("key", keyTransaction, "Duplicate key: transaction (name, email, quantity) or identity")
	withDateFlag := flag.Bool("with-date", true, "Include the purchase day in transaction keys")
	confirmFlag := flag.Bool("confirm", false, "Delete the listed duplicates; without it the tool only reports")
	flag.Parse()

	if *collectionFlag == "" {
		flag.Usage()
		logger.Fatal("--collection is required")
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	keyFn, err := keyFunc(*keyFlag, *withDateFlag, services.Resolver)
	if err != nil {
		logger.Fatal("Invalid key", zap.Error(err))
	}

	records, err := services.Gateway.ListAll(ctx, *collectionFlag)
	if err != nil {
		logger.Fatal("Failed to read collection", zap.String("collection", *collectionFlag), zap.Error(err))
	}

	groups := dedupe.FindDuplicates(records, keyFn)
	duplicates := 0
	for _, g := range groups {
		duplicates += len(g.Duplicates)
	}

	common.PrintHeader(fmt.Sprintf("DUPLICATE REPORT: %s", *collectionFlag), common.DefaultWidth)
	printGroups(groups)
	common.PrintFooter(fmt.Sprintf("SUMMARY: %d groups, %d duplicate records out of %d", len(groups), duplicates, len(records)), common.DefaultWidth)

	if !*confirmFlag {
		if duplicates > 0 {
			fmt.Println("Review the groups above and re-run with --confirm to delete the duplicates.")
		}
		return
	}

	result, err := dedupe.DeleteMarked(ctx, services.Gateway, *collectionFlag, groups, cfg.Gateway.Concurrency)
	if err != nil && result == nil {
		logger.Fatal("Deletion aborted", zap.Error(err))
	}
	if err != nil {
		logger.Error("Some duplicates could not be deleted", zap.Error(err))
	}

	logger.Info("Duplicate deletion completed",
		zap.String("collection", *collectionFlag),
		zap.Int("deleted", len(result.Deleted)),
		zap.Int("skipped", len(result.Skipped)))
}
