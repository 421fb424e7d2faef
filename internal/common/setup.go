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

package common

import (
	"context"
	"log"
	"strings"

	"meal-ledger-go/internal/config"
	"meal-ledger-go/internal/database"
	"meal-ledger-go/internal/formance"
	"meal-ledger-go/internal/identity"
	"meal-ledger-go/internal/ledger"
	"meal-ledger-go/internal/models"
	"meal-ledger-go/internal/store"
	"meal-ledger-go/internal/tablestore"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// init loads environment variables from .env file if it exists
func init() {
	// Try to load .env file - if it doesn't exist, that's okay
	// Environment variables can be set via other means (shell export, docker, etc.)
	if err := godotenv.Load(); err != nil {
		log.Printf("Note: No .env file found or unable to load it: %v\n", err)
		log.Println("Make sure to set environment variables via export or other means")
	} else {
		log.Println("✓ Loaded environment variables from .env file")
	}
}

// Services holds the record store and its audit sinks for one tool run
type Services struct {
	DbService *database.Service
	Gateway   store.Gateway
	Mirror    *formance.Mirror
	Resolver  *identity.Resolver
	cfg       *models.Config
}

func InitializeLogger() (*zap.Logger, func()) {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	zap.ReplaceGlobals(logger)

	cleanup := func() {
		if err := logger.Sync(); err != nil {
			if !isIgnorableSyncError(err) {
				log.Printf("Failed to sync logger: %v\n", err)
			}
		}
	}

	return logger, cleanup
}

// InitializeServices opens the local database (record store and ledger journal), picks the
// configured gateway backend and connects the Formance mirror when it is configured.
func InitializeServices(ctx context.Context, cfg *models.Config) (*Services, error) {
	dbService, err := database.NewService(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	gateway, err := initializeGateway(cfg, dbService)
	if err != nil {
		dbService.Close()
		return nil, err
	}

	services := &Services{
		DbService: dbService,
		Gateway:   gateway,
		Resolver:  identity.NewResolver(cfg.Reconcile.PlaceholderEmails),
		cfg:       cfg,
	}

	if cfg.Formance.Enabled() {
		mirror, err := formance.NewMirror(ctx, cfg.Formance)
		if err != nil {
			dbService.Close()
			return nil, err
		}
		services.Mirror = mirror
	} else {
		zap.L().Info("Formance mirror disabled")
	}

	return services, nil
}

func initializeGateway(cfg *models.Config, dbService *database.Service) (store.Gateway, error) {
	policy := store.RetryPolicy{
		MaxAttempts: cfg.Gateway.MaxRetries + 1,
		Wait:        cfg.Gateway.RetryWait,
		MaxWait:     cfg.Gateway.RetryMaxWait,
		CallTimeout: cfg.Gateway.CallTimeout,
	}

	switch cfg.Gateway.Backend {
	case config.BackendRemote:
		client, err := tablestore.NewClient(cfg.Gateway)
		if err != nil {
			return nil, err
		}
		// resty already retries each HTTP request; the decorator only bounds the whole call
		policy.MaxAttempts = 1
		zap.L().Info("Using remote table service",
			zap.String("base_url", cfg.Gateway.BaseURL),
			zap.String("base_id", cfg.Gateway.BaseId))
		return store.NewRetrying(client, policy), nil
	default:
		zap.L().Info("Using local record store", zap.String("path", cfg.Database.Path))
		return store.NewRetrying(dbService, policy), nil
	}
}

// Ledger wires a meal-credit ledger whose mutations are journaled locally and,
// when enabled, mirrored to Formance
func (cs *Services) Ledger(cardTiers map[string]int) *ledger.Ledger {
	journals := ledger.Journals{cs.DbService.Journal()}
	if cs.Mirror != nil {
		journals = append(journals, cs.Mirror)
	}
	return ledger.New(cs.Gateway, cs.cfg.Ledger, cardTiers, journals)
}

func (cs *Services) Close() {
	if cs.DbService != nil {
		cs.DbService.Close()
	}
}

func isIgnorableSyncError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "sync /dev/stderr: inappropriate ioctl for device") ||
		strings.Contains(msg, "sync /dev/stdout: inappropriate ioctl for device")
}
