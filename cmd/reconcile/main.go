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
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"meal-ledger-go/internal/batch"
	"meal-ledger-go/internal/common"
	"meal-ledger-go/internal/config"
	"meal-ledger-go/internal/identity"
	"meal-ledger-go/internal/models"
	"meal-ledger-go/internal/reconcile"
	"meal-ledger-go/internal/store"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type reconcileRequest struct {
	file       string
	collection string
	expected   int
	dryRun     bool
	reportPath string
	attendance bool
}

func parseAndValidateFlags() (*reconcileRequest, error) {
	fileFlag := flag.String("file", "", "Ticket sales export, .csv or .xlsx (required)")
	collectionFlag := flag.String("collection", "", "Event table to reconcile into (required)")
	expectedFlag := flag.Int("expected", 0, "Ticket count reported by the export, checked against the run total (optional)")
	dryRunFlag := flag.Bool("dry-run", false, "Reconcile against a copy of the table without writing")
	reportFlag := flag.String("xlsx", "", "Write the run report to this .xlsx file (optional)")
	attendanceFlag := flag.Bool("attendance", false, "Print the attendance roster of the event after the run")
	flag.Parse()

	if *fileFlag == "" || *collectionFlag == "" {
		return nil, fmt.Errorf("required flags: --file, --collection")
	}

	return &reconcileRequest{
		file:       *fileFlag,
		collection: *collectionFlag,
		expected:   *expectedFlag,
		dryRun:     *dryRunFlag,
		reportPath: *reportFlag,
		attendance: *attendanceFlag,
	}, nil
}

func readBatch(path string) ([]models.LineItem, error) {
	items, err := batch.ReadFile(path)
	if err != nil && len(items) == 0 {
		return nil, err
	}
	for _, rowErr := range multierr.Errors(err) {
		zap.L().Warn("Skipping unreadable batch row", zap.Error(rowErr))
	}
	return items, nil
}

// dryRunGateway copies the event table into memory so the run can be previewed
func dryRunGateway(ctx context.Context, gw store.Gateway, collection string) (store.Gateway, error) {
	existing, err := gw.ListAll(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", collection, err)
	}
	mem := store.NewMemory()
	mem.Seed(collection, existing...)
	zap.L().Info("Dry run: changes will not be written",
		zap.String("collection", collection),
		zap.Int("existing", len(existing)))
	return mem, nil
}

// printAttendance lists each attendee once, with their purchases merged
func printAttendance(ctx context.Context, gw store.Gateway, collection string, resolver *identity.Resolver) error {
	records, err := gw.ListAll(ctx, collection)
	if err != nil {
		return fmt.Errorf("unable to read %s: %w", collection, err)
	}
	transactions := make([]models.Transaction, len(records))
	for i, r := range records {
		transactions[i] = models.TransactionFromRecord(r)
	}
	roster := reconcile.MergeAttendance(transactions, resolver)

	common.PrintHeader(fmt.Sprintf("ATTENDANCE: %s", collection), common.WideWidth)
	tickets := 0
	for i, a := range roster {
		methods := make([]string, len(a.PaymentMethods))
		for j, m := range a.PaymentMethods {
			methods[j] = string(m)
		}
		fmt.Printf("%s %-30s member=%d non_member=%d paid=%s (%s)\n",
			common.BoxPrefix(i == len(roster)-1),
			a.Identity.FullName(),
			a.Counts.Member,
			a.Counts.NonMember,
			a.Amount.StringFixed(2),
			strings.Join(methods, ", "))
		tickets += a.Counts.Total()
	}
	common.PrintFooter(fmt.Sprintf("ATTENDEES: %d (%d tickets)", len(roster), tickets), common.WideWidth)
	return nil
}

func writeReport(path string, summary *models.Summary) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("unable to create %s: %w", path, err)
	}
	if err := batch.WriteReport(file, summary); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func main() {
	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	req, err := parseAndValidateFlags()
	if err != nil {
		flag.Usage()
		logger.Fatal("Invalid arguments", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	book, err := common.LoadPriceBands(cfg.Reconcile.PriceBandsFile, cfg.Reconcile.AmountTolerance)
	if err != nil {
		logger.Fatal("Failed to load price bands", zap.Error(err))
	}
	event, err := book.Event(req.collection)
	if err != nil {
		logger.Fatal("Event is not configured", zap.Error(err))
	}

	items, err := readBatch(req.file)
	if err != nil {
		logger.Fatal("Failed to read batch", zap.String("file", req.file), zap.Error(err))
	}
	logger.Info("Batch loaded", zap.String("file", req.file), zap.Int("line_items", len(items)))

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	gw := services.Gateway
	if req.dryRun {
		if gw, err = dryRunGateway(ctx, gw, req.collection); err != nil {
			logger.Fatal("Failed to prepare dry run", zap.Error(err))
		}
	}

	driver := reconcile.NewDriver(gw, services.Resolver, event)
	summary, err := driver.Run(ctx, items)
	if summary != nil {
		common.PrintSummary(summary)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("Reconciliation interrupted; items above were processed")
			return
		}
		logger.Fatal("Reconciliation failed", zap.Error(err))
	}

	if err := reconcile.ValidateTotal(summary, req.expected); err != nil {
		logger.Warn("Ticket total does not match the export", zap.Error(err))
	}

	if req.reportPath != "" {
		if err := writeReport(req.reportPath, summary); err != nil {
			logger.Error("Failed to write report", zap.Error(err))
		} else {
			logger.Info("Report written", zap.String("file", req.reportPath))
		}
	}

	if req.attendance {
		if err := printAttendance(ctx, gw, req.collection, services.Resolver); err != nil {
			logger.Error("Failed to build attendance roster", zap.Error(err))
		}
	}

	logger.Info("Reconciliation completed",
		zap.String("collection", req.collection),
		zap.Bool("dry_run", req.dryRun),
		zap.Int("created", summary.CreatedCount()),
		zap.Int("skipped", summary.SkippedCount()),
		zap.Int("mismatches", len(summary.Mismatches)))
}
