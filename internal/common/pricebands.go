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
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"meal-ledger-go/internal/classify"
	"meal-ledger-go/internal/models"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v2"
)

type BandConfig struct {
	Tier string `yaml:"tier"`
	Low  string `yaml:"low"`
	High string `yaml:"high"`
	Unit string `yaml:"unit"`
}

type EventConfig struct {
	Collection string            `yaml:"collection"`
	Tolerance  string            `yaml:"tolerance"`
	Labels     map[string]string `yaml:"labels"`
	Bands      []BandConfig      `yaml:"bands"`
}

type CardTierConfig struct {
	Tier  string `yaml:"tier"`
	Meals int    `yaml:"meals"`
}

type PriceBandsConfig struct {
	Events []EventConfig    `yaml:"events"`
	Cards  []CardTierConfig `yaml:"cards"`
}

// PriceBook is the validated pricing of every event table plus the meal card tiers
type PriceBook struct {
	Events    map[string]classify.Event
	CardTiers map[string]int
}

// Event returns the pricing of one event table
func (p *PriceBook) Event(collection string) (classify.Event, error) {
	event, ok := p.Events[collection]
	if !ok {
		return classify.Event{}, fmt.Errorf("no price bands configured for %q", collection)
	}
	return event, nil
}

// LoadPriceBands reads the price band file; events without a tolerance use defaultTolerance
func LoadPriceBands(bandsFile string, defaultTolerance decimal.Decimal) (*PriceBook, error) {
	var bandsPath string
	if filepath.IsAbs(bandsFile) {
		bandsPath = bandsFile
	} else {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		bandsPath = filepath.Join(wd, bandsFile)
	}

	data, err := os.ReadFile(bandsPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", bandsFile, err)
	}
	return ParsePriceBands(data, defaultTolerance)
}

func ParsePriceBands(data []byte, defaultTolerance decimal.Decimal) (*PriceBook, error) {
	var config PriceBandsConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("unable to parse price bands: %w", err)
	}

	book := &PriceBook{
		Events:    make(map[string]classify.Event, len(config.Events)),
		CardTiers: make(map[string]int, len(config.Cards)),
	}

	for i, ec := range config.Events {
		if ec.Collection == "" {
			return nil, fmt.Errorf("event at index %d missing collection", i)
		}
		if _, dup := book.Events[ec.Collection]; dup {
			return nil, fmt.Errorf("event %q configured twice", ec.Collection)
		}
		event, err := ec.toEvent(defaultTolerance)
		if err != nil {
			return nil, fmt.Errorf("event %q: %w", ec.Collection, err)
		}
		book.Events[ec.Collection] = event
	}

	for i, card := range config.Cards {
		if card.Tier == "" {
			return nil, fmt.Errorf("card tier at index %d missing name", i)
		}
		if card.Meals <= 0 {
			return nil, fmt.Errorf("card tier %q must grant a positive number of meals", card.Tier)
		}
		book.CardTiers[card.Tier] = card.Meals
	}

	return book, nil
}

func (ec EventConfig) toEvent(defaultTolerance decimal.Decimal) (classify.Event, error) {
	event := classify.Event{
		Collection: ec.Collection,
		Tolerance:  defaultTolerance,
		Labels:     make(map[string]models.Tier, len(ec.Labels)),
	}
	if ec.Tolerance != "" {
		tolerance, err := decimal.NewFromString(ec.Tolerance)
		if err != nil {
			return classify.Event{}, fmt.Errorf("invalid tolerance %q", ec.Tolerance)
		}
		event.Tolerance = tolerance
	}

	for label, tierName := range ec.Labels {
		tier, err := parseTier(tierName)
		if err != nil {
			return classify.Event{}, fmt.Errorf("label %q: %w", label, err)
		}
		event.Labels[label] = tier
	}

	if len(ec.Bands) == 0 {
		return classify.Event{}, fmt.Errorf("no price bands")
	}
	for i, bc := range ec.Bands {
		band, err := bc.toBand()
		if err != nil {
			return classify.Event{}, fmt.Errorf("band at index %d: %w", i, err)
		}
		for _, other := range event.Bands {
			if band.Low.LessThanOrEqual(other.High) && other.Low.LessThanOrEqual(band.High) {
				return classify.Event{}, fmt.Errorf("band at index %d overlaps the %s band", i, other.Tier)
			}
		}
		event.Bands = append(event.Bands, band)
	}
	return event, nil
}

func (bc BandConfig) toBand() (classify.Band, error) {
	tier, err := parseTier(bc.Tier)
	if err != nil {
		return classify.Band{}, err
	}
	low, err := decimal.NewFromString(bc.Low)
	if err != nil {
		return classify.Band{}, fmt.Errorf("invalid low price %q", bc.Low)
	}
	high := low
	if bc.High != "" {
		if high, err = decimal.NewFromString(bc.High); err != nil {
			return classify.Band{}, fmt.Errorf("invalid high price %q", bc.High)
		}
	}
	if high.LessThan(low) {
		return classify.Band{}, fmt.Errorf("high price %s below low price %s", high, low)
	}
	band := classify.Band{Tier: tier, Low: low, High: high}
	if bc.Unit != "" {
		if band.Unit, err = decimal.NewFromString(bc.Unit); err != nil {
			return classify.Band{}, fmt.Errorf("invalid unit price %q", bc.Unit)
		}
	}
	return band, nil
}

func parseTier(name string) (models.Tier, error) {
	switch strings.ToLower(strings.NewReplacer("-", "", " ", "", "_", "").Replace(name)) {
	case "member":
		return models.TierMember, nil
	case "nonmember":
		return models.TierNonMember, nil
	}
	return models.TierUnknown, fmt.Errorf("unknown tier %q", name)
}
