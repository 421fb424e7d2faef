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

	"meal-ledger-go/internal/common"
	"meal-ledger-go/internal/config"
	"meal-ledger-go/internal/ledger"
	"meal-ledger-go/internal/models"
	"meal-ledger-go/internal/store"

	"go.uber.org/zap"
)

type cardStats struct {
	totalCards     int
	exhaustedCards int
	driftedCards   int
	mirrorMismatch int
}

func formatId(id string) string {
	if id == "" {
		return "none"
	}
	if len(id) > 12 {
		return id[:12] + "..."
	}
	return id
}

func printCardHeader(card models.MealCard) {
	common.PrintSection("Card: %s (%s)", card.Identity.FullName(), card.Identity.Email)
	fmt.Printf("│  ID: %s  Tier: %s  State: %s\n", card.Id, card.Tier, card.State())
	fmt.Printf("│  Meals: %d of %d remaining\n", card.RemainingMeals, card.TotalMeals)
	if card.WeeklyDelivery {
		fmt.Printf("│  Weekly delivery to: %s (frozen addon: %t)\n", card.DeliveryAddress, card.FrozenAddon)
	}
	common.PrintBoxSeparator(78)
}

func printReservations(reservations []models.Reservation) {
	if len(reservations) == 0 {
		fmt.Println("└  no linked reservations")
		return
	}
	for i, r := range reservations {
		fmt.Printf("%s %s %-10s x%d %-10s (%s)\n",
			common.BoxPrefix(i == len(reservations)-1),
			r.Date.Format("2006-01-02"),
			r.MealType,
			r.Quantity,
			r.Status,
			formatId(r.Id))
	}
}

func matchesFilter(card models.MealCard, email string) bool {
	return email == "" || strings.EqualFold(strings.TrimSpace(card.Identity.Email), strings.TrimSpace(email))
}

func processCard(ctx context.Context, card models.MealCard, linked []models.Reservation, services *common.Services, stats *cardStats) {
	stats.totalCards++
	if card.State() == models.CardExhausted {
		stats.exhaustedCards++
	}

	printCardHeader(card)
	printReservations(linked)

	if err := services.DbService.Journal().ReconcileCard(ctx, card); err != nil {
		stats.driftedCards++
		fmt.Printf("   ! journal drift: %v\n", err)
	}

	if services.Mirror != nil {
		balance, err := services.Mirror.Balance(ctx, card.Id)
		if err != nil {
			zap.L().Warn("Failed to read mirrored balance", zap.String("account_id", card.Id), zap.Error(err))
			return
		}
		if balance != int64(card.RemainingMeals) {
			stats.mirrorMismatch++
			fmt.Printf("   ! formance balance %d differs from card\n", balance)
		}
	}
}

func main() {
	ctx := context.Background()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	emailFlag := flag.String("email", "", "Filter by card holder email (optional)")
	flag.Parse()

	logger.Info("Starting meal card report")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	collections, err := store.FetchCollections(ctx, services.Gateway, cfg.Gateway.Concurrency,
		cfg.Ledger.CardsCollection, cfg.Ledger.ReservationsCollection)
	if err != nil {
		logger.Fatal("Failed to load meal cards", zap.Error(err))
	}

	var reservations []models.Reservation
	byCard := make(map[string][]models.Reservation)
	for _, r := range collections[cfg.Ledger.ReservationsCollection] {
		res := models.ReservationFromRecord(r)
		reservations = append(reservations, res)
		if res.Linked() {
			byCard[res.CardId] = append(byCard[res.CardId], res)
		}
	}

	common.PrintHeader("MEAL CARD REPORT", common.DefaultWidth)

	stats := cardStats{}
	for _, r := range collections[cfg.Ledger.CardsCollection] {
		card := models.MealCardFromRecord(r)
		if !matchesFilter(card, *emailFlag) {
			continue
		}
		processCard(ctx, card, byCard[card.Id], services, &stats)
	}

	entries, err := services.DbService.Journal().Entries(ctx, "")
	if err != nil {
		logger.Fatal("Failed to read ledger journal", zap.Error(err))
	}
	issues := ledger.VerifyPairing(reservations, entries)
	if len(issues) > 0 {
		common.PrintSection("Pairing issues (%d)", len(issues))
		for i, issue := range issues {
			fmt.Printf("%s %s\n", common.BoxPrefix(i == len(issues)-1), issue)
		}
	}

	summary := fmt.Sprintf("SUMMARY: %d cards (%d exhausted), %d with journal drift, %d pairing issues",
		stats.totalCards, stats.exhaustedCards, stats.driftedCards, len(issues))
	common.PrintFooter(summary, common.DefaultWidth)

	logger.Info("Meal card report completed",
		zap.Int("cards", stats.totalCards),
		zap.Int("exhausted", stats.exhaustedCards),
		zap.Int("journal_drift", stats.driftedCards),
		zap.Int("mirror_mismatch", stats.mirrorMismatch),
		zap.Int("pairing_issues", len(issues)))
}
