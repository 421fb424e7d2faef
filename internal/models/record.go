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
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Record is a single row of a named collection in the record store
type Record struct {
	Id        string         `json:"id"`
	CreatedAt time.Time      `json:"createdTime"`
	Fields    map[string]any `json:"fields"`
}

// String returns the field as trimmed text, or "" when absent
func (r Record) String(field string) string {
	v, ok := r.Fields[field]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case []any:
		// linked-record fields arrive as a list of ids
		if len(t) == 0 {
			return ""
		}
		return strings.TrimSpace(fmt.Sprint(t[0]))
	case []string:
		if len(t) == 0 {
			return ""
		}
		return strings.TrimSpace(t[0])
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

// Int returns the field as an integer; non-numeric values read as 0
func (r Record) Int(field string) int {
	switch t := r.Fields[field].(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			f, _ := t.Float64()
			return int(f)
		}
		return int(n)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0
		}
		return n
	}
	return 0
}

// Decimal returns the field as a decimal; non-numeric values read as zero
func (r Record) Decimal(field string) decimal.Decimal {
	switch t := r.Fields[field].(type) {
	case decimal.Decimal:
		return t
	case int:
		return decimal.NewFromInt(int64(t))
	case int64:
		return decimal.NewFromInt(t)
	case float64:
		return decimal.NewFromFloat(t)
	case json.Number:
		d, err := decimal.NewFromString(t.String())
		if err != nil {
			return decimal.Zero
		}
		return d
	case string:
		d, err := ParseAmount(t)
		if err != nil {
			return decimal.Zero
		}
		return d
	}
	return decimal.Zero
}

// Bool returns the field as a boolean checkbox value
func (r Record) Bool(field string) bool {
	switch t := r.Fields[field].(type) {
	case bool:
		return t
	case string:
		b, _ := strconv.ParseBool(strings.TrimSpace(t))
		return b
	case float64:
		return t != 0
	case int:
		return t != 0
	}
	return false
}

// Time returns the field parsed as a date or timestamp, or the zero time
func (r Record) Time(field string) time.Time {
	switch t := r.Fields[field].(type) {
	case time.Time:
		return t
	case string:
		parsed, err := ParseTimestamp(t)
		if err != nil {
			return time.Time{}
		}
		return parsed
	}
	return time.Time{}
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"1/2/2006 15:04:05",
	"1/2/2006 15:04",
	"1/2/2006 3:04 PM",
	"1/2/2006",
	"Jan 2, 2006",
	"January 2, 2006",
}

// ParseTimestamp accepts the date formats seen in store fields and ticketing exports
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", value)
}

// ParseAmount parses a money value, tolerating a currency symbol and thousands separators
func ParseAmount(value string) (decimal.Decimal, error) {
	cleaned := strings.NewReplacer("$", "", ",", "", " ", "").Replace(strings.TrimSpace(value))
	if cleaned == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", value, err)
	}
	return d, nil
}
