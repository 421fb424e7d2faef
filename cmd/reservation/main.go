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
	"strings"
	"time"

	"meal-ledger-go/internal/common"
	"meal-ledger-go/internal/config"
	"meal-ledger-go/internal/ledger"
	"meal-ledger-go/internal/models"
	"meal-ledger-go/internal/store"

	"go.uber.org/zap"
)

const usage = `usage: reservation <command> [flags]

commands:
  open-card   sell a meal card and grant its meals
  top-up      grant extra meals to an existing card
  correct     add meals back to a card outside any reservation (--reason required)
  reserve     book a meal, paid from a card when --card is given
  link        pay an existing reservation from a card
  unlink      return a reservation's meals to its card
  cancel      cancel a reservation, returning card meals
  fulfill     mark a reservation served
`

// command is one subcommand bound to its parsed flags
type command func(ctx context.Context, l *ledger.Ledger) error

func identityFlags(fs *flag.FlagSet) func() models.Identity {
	first := fs.String("first", "", "First name")
	last := fs.String("last", "", "Last name")
	email := fs.String("email", "", "Email")
	phone := fs.String("phone", "", "Phone")
	return func() models.Identity {
		return models.Identity{FirstName: *first, LastName: *last, Email: *email, Phone: *phone}
	}
}

func parseCommand(args []string, cardTiers map[string]int) (command, error) {
	if len(args) == 0 {
		return nil, errors.New("missing command")
	}
	name, args := args[0], args[1:]
	fs := flag.NewFlagSet(name, flag.ExitOnError)

	switch name {
	case "open-card":
		identity := identityFlags(fs)
		tier := fs.String("tier", "", fmt.Sprintf("Card tier (%s) (required)", strings.Join(tierNames(cardTiers), ", ")))
		weekly := fs.Bool("weekly-delivery", false, "Deliver meals weekly")
		frozen := fs.Bool("frozen-addon", false, "Add frozen meals to deliveries")
		address := fs.String("address", "", "Delivery address (required with --weekly-delivery)")
		_ = fs.Parse(args)
		return func(ctx context.Context, l *ledger.Ledger) error {
			card, err := l.OpenCard(ctx, ledger.CardRequest{
				Identity:        identity(),
				Tier:            *tier,
				WeeklyDelivery:  *weekly,
				FrozenAddon:     *frozen,
				DeliveryAddress: *address,
			})
			if err != nil {
				return err
			}
			printCard(card)
			return nil
		}, nil

	case "top-up":
		card := fs.String("card", "", "Card id (required)")
		meals := fs.Int("meals", 0, "Meals to add (required)")
		reason := fs.String("reason", "top-up", "Reason recorded in the journal")
		_ = fs.Parse(args)
		return func(ctx context.Context, l *ledger.Ledger) error {
			updated, err := l.Grant(ctx, *card, *meals, *reason)
			if err != nil {
				return err
			}
			printCard(updated)
			return nil
		}, nil

	case "correct":
		card := fs.String("card", "", "Card id (required)")
		meals := fs.Int("meals", 0, "Meals to add back (required)")
		reason := fs.String("reason", "", "Why the meals are added back, e.g. a settled missed payment (required)")
		override := fs.Bool("override", false, "Allow remaining meals to exceed the card total")
		_ = fs.Parse(args)
		return func(ctx context.Context, l *ledger.Ledger) error {
			updated, err := l.Correct(ctx, *card, *meals, *reason, *override)
			if err != nil {
				return err
			}
			printCard(updated)
			return nil
		}, nil

	case "reserve":
		identity := identityFlags(fs)
		date := fs.String("date", time.Now().Format("2006-01-02"), "Service date, YYYY-MM-DD")
		mealType := fs.String("meal-type", string(models.MealDineIn), "To-Go, Dine-In or Delivery")
		quantity := fs.Int("quantity", 1, "Meals reserved")
		card := fs.String("card", "", "Pay from this meal card (optional)")
		payment := fs.String("payment", "", "Payment method when no card is used")
		notes := fs.String("notes", "", "Notes")
		staff := fs.String("staff", "", "Staff member taking the reservation")
		override := fs.Bool("override", false, "Allow the card balance to go negative")
		_ = fs.Parse(args)
		return func(ctx context.Context, l *ledger.Ledger) error {
			day, err := time.Parse("2006-01-02", *date)
			if err != nil {
				return fmt.Errorf("invalid --date: %w", err)
			}
			req := ledger.ReserveRequest{
				Identity: identity(),
				Date:     day,
				MealType: models.MealType(*mealType),
				Quantity: *quantity,
				CardId:   *card,
				Notes:    *notes,
				Staff:    *staff,
				Override: *override,
			}
			if *payment != "" {
				req.PaymentMethod = models.ParsePaymentMethod(*payment)
			}
			res, err := l.Reserve(ctx, req)
			if res != nil {
				printReservation(res)
			}
			return err
		}, nil

	case "link":
		id := fs.String("id", "", "Reservation id (required)")
		card := fs.String("card", "", "Card id (required)")
		override := fs.Bool("override", false, "Allow the card balance to go negative")
		_ = fs.Parse(args)
		return func(ctx context.Context, l *ledger.Ledger) error {
			res, err := l.Link(ctx, *id, *card, *override)
			if err != nil {
				return err
			}
			printReservation(res)
			return nil
		}, nil

	case "unlink":
		id := fs.String("id", "", "Reservation id (required)")
		payment := fs.String("payment", string(models.PaymentOther), "New payment method")
		_ = fs.Parse(args)
		return func(ctx context.Context, l *ledger.Ledger) error {
			res, err := l.Unlink(ctx, *id, models.ParsePaymentMethod(*payment))
			if err != nil {
				return err
			}
			printReservation(res)
			return nil
		}, nil

	case "cancel", "fulfill":
		id := fs.String("id", "", "Reservation id (required)")
		_ = fs.Parse(args)
		return func(ctx context.Context, l *ledger.Ledger) error {
			var res *models.Reservation
			var err error
			if name == "cancel" {
				res, err = l.Cancel(ctx, *id)
			} else {
				res, err = l.Fulfill(ctx, *id)
			}
			if err != nil {
				return err
			}
			printReservation(res)
			return nil
		}, nil
	}
	return nil, fmt.Errorf("unknown command %q", name)
}

func tierNames(tiers map[string]int) []string {
	names := make([]string, 0, len(tiers))
	for name := range tiers {
		names = append(names, name)
	}
	return names
}

func printCard(card *models.MealCard) {
	common.PrintSection("Card: %s (%s)", card.Identity.FullName(), card.Identity.Email)
	fmt.Printf("│  ID: %s  Tier: %s\n", card.Id, card.Tier)
	fmt.Printf("└  Meals: %d of %d remaining (%s)\n", card.RemainingMeals, card.TotalMeals, card.State())
}

func printReservation(res *models.Reservation) {
	common.PrintSection("Reservation: %s", res.Id)
	fmt.Printf("│  %s, %s x%d for %s\n", res.Date.Format("2006-01-02"), res.MealType, res.Quantity, res.Identity.FullName())
	fmt.Printf("│  Payment: %s  Card: %s  Status: %s\n", res.PaymentMethod, res.CardId, res.Status)
	if res.NeedsFollowUp {
		fmt.Println("│  ! Needs follow-up")
	}
	fmt.Printf("└  Notes: %s\n", res.Notes)
}

func main() {
	ctx := context.Background()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	book, err := common.LoadPriceBands(cfg.Reconcile.PriceBandsFile, cfg.Reconcile.AmountTolerance)
	if err != nil {
		logger.Fatal("Failed to load card tiers", zap.Error(err))
	}

	run, err := parseCommand(os.Args[1:], book.CardTiers)
	if err != nil {
		fmt.Fprint(os.Stderr, usage)
		logger.Fatal("Invalid arguments", zap.Error(err))
	}

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	if err := run(ctx, services.Ledger(book.CardTiers)); err != nil {
		switch {
		case errors.Is(err, store.ErrInsufficientBalance):
			logger.Error("Card balance too low; reservation needs another payment method", zap.Error(err))
		case errors.Is(err, store.ErrReasonRequired):
			logger.Error("Corrections must say why meals are added back; pass --reason", zap.Error(err))
		case errors.Is(err, store.ErrExceedsTotal):
			logger.Error("Card would hold more meals than it was sold; pass --override to allow", zap.Error(err))
		case errors.Is(err, store.ErrAccountNotFound), errors.Is(err, store.ErrRecordNotFound):
			logger.Error("Card or reservation not found", zap.Error(err))
		default:
			logger.Error("Command failed", zap.Error(err))
		}
		services.Close()
		loggerCleanup()
		os.Exit(1)
	}
}
