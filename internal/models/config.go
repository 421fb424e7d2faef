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

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Config represents the application configuration
type Config struct {
	Database  DatabaseConfig
	Gateway   GatewayConfig
	Ledger    LedgerConfig
	Reconcile ReconcileConfig
	Formance  FormanceConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
	PageSize        int
}

// GatewayConfig selects and tunes the record store backend
type GatewayConfig struct {
	Backend        string // "sqlite" or "remote"
	BaseURL        string
	APIKey         string
	BaseId         string
	MaxRetries     int
	RetryWait      time.Duration
	RetryMaxWait   time.Duration
	CallTimeout    time.Duration
	Concurrency    int
	RemotePageSize int
}

// LedgerConfig names the meal card collections
type LedgerConfig struct {
	CardsCollection        string
	ReservationsCollection string
}

// ReconcileConfig holds batch import settings
type ReconcileConfig struct {
	PriceBandsFile    string
	AmountTolerance   decimal.Decimal
	PlaceholderEmails []string
}

// FormanceConfig holds the optional Formance mirror settings.
// The mirror is enabled only when StackURL, ClientID and ClientSecret are all set.
type FormanceConfig struct {
	StackURL     string
	ClientID     string
	ClientSecret string
	LedgerName   string
}

// Enabled reports whether enough settings are present to reach a Formance stack
func (c FormanceConfig) Enabled() bool {
	return c.StackURL != "" && c.ClientID != "" && c.ClientSecret != ""
}
