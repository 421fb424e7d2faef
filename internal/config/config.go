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

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"meal-ledger-go/internal/models"

	"github.com/shopspring/decimal"
)

const (
	BackendSQLite = "sqlite"
	BackendRemote = "remote"
)

func Load() (*models.Config, error) {
	connMaxLifetime, err := getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	if err != nil {
		return nil, err
	}

	connMaxIdleTime, err := getEnvDuration("DB_CONN_MAX_IDLE_TIME", 30*time.Second)
	if err != nil {
		return nil, err
	}

	pingTimeout, err := getEnvDuration("DB_PING_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}

	retryWait, err := getEnvDuration("GATEWAY_RETRY_WAIT", 500*time.Millisecond)
	if err != nil {
		return nil, err
	}

	retryMaxWait, err := getEnvDuration("GATEWAY_RETRY_MAX_WAIT", 10*time.Second)
	if err != nil {
		return nil, err
	}

	callTimeout, err := getEnvDuration("GATEWAY_CALL_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}

	tolerance, err := getEnvDecimal("AMOUNT_TOLERANCE", decimal.RequireFromString("0.50"))
	if err != nil {
		return nil, err
	}

	backend := strings.ToLower(getEnvString("STORE_BACKEND", BackendSQLite))
	if backend != BackendSQLite && backend != BackendRemote {
		return nil, fmt.Errorf("invalid STORE_BACKEND %q: expected %s or %s", backend, BackendSQLite, BackendRemote)
	}

	return &models.Config{
		Database: models.DatabaseConfig{
			Path:            getEnvString("DATABASE_PATH", "meals.db"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: connMaxLifetime,
			ConnMaxIdleTime: connMaxIdleTime,
			PingTimeout:     pingTimeout,
			PageSize:        getEnvInt("DB_PAGE_SIZE", 100),
		},
		Gateway: models.GatewayConfig{
			Backend:        backend,
			BaseURL:        getEnvString("TABLESTORE_BASE_URL", "https://api.airtable.com"),
			APIKey:         os.Getenv("TABLESTORE_API_KEY"),
			BaseId:         os.Getenv("TABLESTORE_BASE_ID"),
			MaxRetries:     getEnvInt("GATEWAY_MAX_RETRIES", 3),
			RetryWait:      retryWait,
			RetryMaxWait:   retryMaxWait,
			CallTimeout:    callTimeout,
			Concurrency:    getEnvInt("GATEWAY_CONCURRENCY", 4),
			RemotePageSize: getEnvInt("TABLESTORE_PAGE_SIZE", 100),
		},
		Ledger: models.LedgerConfig{
			CardsCollection:        getEnvString("CARDS_COLLECTION", "Meal Cards"),
			ReservationsCollection: getEnvString("RESERVATIONS_COLLECTION", "Reservations"),
		},
		Reconcile: models.ReconcileConfig{
			PriceBandsFile:    getEnvString("PRICE_BANDS_FILE", "pricebands.yaml"),
			AmountTolerance:   tolerance,
			PlaceholderEmails: getEnvList("PLACEHOLDER_EMAILS"),
		},
		Formance: models.FormanceConfig{
			StackURL:     os.Getenv("FORMANCE_STACK_URL"),
			ClientID:     os.Getenv("FORMANCE_CLIENT_ID"),
			ClientSecret: os.Getenv("FORMANCE_CLIENT_SECRET"),
			LedgerName:   getEnvString("FORMANCE_LEDGER", "meal-credits"),
		},
	}, nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("invalid duration for %s: %q (%w)", key, value, err)
		}
		return duration, nil
	}
	return defaultValue, nil
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) (decimal.Decimal, error) {
	if value := os.Getenv(key); value != "" {
		d, err := decimal.NewFromString(value)
		if err != nil {
			return decimal.Zero, fmt.Errorf("invalid decimal for %s: %q (%w)", key, value, err)
		}
		return d, nil
	}
	return defaultValue, nil
}

// getEnvList splits a comma separated value, dropping blanks
func getEnvList(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
