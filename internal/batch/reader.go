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

package batch

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"meal-ledger-go/internal/models"

	"github.com/xuri/excelize/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type column int

const (
	colFirstName column = iota
	colLastName
	colFullName
	colEmail
	colPhone
	colPurchaseDate
	colDetails
	colAmount
	colPaymentMethod
	colExternalRef
	colRefunded
)

// headerAliases maps lower-cased export headers onto line item columns
var headerAliases = map[string]column{
	"first name":     colFirstName,
	"firstname":      colFirstName,
	"first":          colFirstName,
	"given name":     colFirstName,
	"last name":      colLastName,
	"lastname":       colLastName,
	"last":           colLastName,
	"surname":        colLastName,
	"family name":    colLastName,
	"name":           colFullName,
	"full name":      colFullName,
	"customer name":  colFullName,
	"buyer":          colFullName,
	"email":          colEmail,
	"e-mail":         colEmail,
	"email address":  colEmail,
	"phone":          colPhone,
	"phone number":   colPhone,
	"mobile":         colPhone,
	"purchase date":  colPurchaseDate,
	"order date":     colPurchaseDate,
	"date":           colPurchaseDate,
	"purchased at":   colPurchaseDate,
	"created":        colPurchaseDate,
	"details":        colDetails,
	"items":          colDetails,
	"line items":     colDetails,
	"tickets":        colDetails,
	"description":    colDetails,
	"amount":         colAmount,
	"amount paid":    colAmount,
	"total":          colAmount,
	"paid":           colAmount,
	"payment method": colPaymentMethod,
	"payment":        colPaymentMethod,
	"method":         colPaymentMethod,
	"order id":       colExternalRef,
	"order number":   colExternalRef,
	"order":          colExternalRef,
	"transaction id": colExternalRef,
	"external ref":   colExternalRef,
	"reference":      colExternalRef,
	"refunded":       colRefunded,
	"refund":         colRefunded,
}

// RowError is a data row that could not be read; Row is 1-based and counts the header
type RowError struct {
	Row int
	Err error
}

func (e *RowError) Error() string { return fmt.Sprintf("row %d: %v", e.Row, e.Err) }

func (e *RowError) Unwrap() error { return e.Err }

// ReadFile reads a CSV or XLSX export chosen by file extension
func ReadFile(path string) ([]models.LineItem, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("unable to open %s: %w", path, err)
	}
	defer file.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return ReadXLSX(file, "")
	case ".csv", ".txt":
		return ReadCSV(file)
	}
	return nil, fmt.Errorf("unsupported batch file type: %s", path)
}

// ReadCSV reads line items from a CSV export with a header row.
// Rows that fail to parse are skipped and returned together as a combined error
// alongside the rows that did parse.
func ReadCSV(r io.Reader) ([]models.LineItem, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("unable to parse CSV: %w", err)
	}
	return parseRows(rows)
}

// ReadXLSX reads line items from a workbook; an empty sheet name reads the first sheet
func ReadXLSX(r io.Reader, sheet string) ([]models.LineItem, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("unable to open workbook: %w", err)
	}
	defer f.Close()

	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("unable to read sheet %s: %w", sheet, err)
	}
	return parseRows(rows)
}

func parseRows(rows [][]string) ([]models.LineItem, error) {
	if len(rows) == 0 {
		return nil, errors.New("batch file is empty")
	}

	columns, err := mapHeader(rows[0])
	if err != nil {
		return nil, err
	}

	var items []models.LineItem
	var rowErrs error
	for i, row := range rows[1:] {
		if blank(row) {
			continue
		}
		item, err := parseRow(columns, row)
		if err != nil {
			rowErrs = multierr.Append(rowErrs, &RowError{Row: i + 2, Err: err})
			continue
		}
		items = append(items, item)
	}

	zap.L().Info("Batch file read",
		zap.Int("rows", len(rows)-1),
		zap.Int("line_items", len(items)),
		zap.Int("row_errors", len(multierr.Errors(rowErrs))))
	return items, rowErrs
}

func mapHeader(header []string) (map[column]int, error) {
	columns := make(map[column]int)
	for i, name := range header {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		col, ok := headerAliases[key]
		if !ok {
			continue
		}
		if _, seen := columns[col]; !seen {
			columns[col] = i
		}
	}

	_, hasFull := columns[colFullName]
	_, hasFirst := columns[colFirstName]
	_, hasLast := columns[colLastName]
	if !hasFull && !hasFirst && !hasLast {
		return nil, errors.New("batch header has no name columns")
	}
	if _, ok := columns[colDetails]; !ok {
		return nil, errors.New("batch header has no details column")
	}
	if _, ok := columns[colAmount]; !ok {
		return nil, errors.New("batch header has no amount column")
	}
	return columns, nil
}

func parseRow(columns map[column]int, row []string) (models.LineItem, error) {
	cell := func(c column) string {
		i, ok := columns[c]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	identity := models.Identity{
		FirstName: cell(colFirstName),
		LastName:  cell(colLastName),
		Email:     cell(colEmail),
		Phone:     cell(colPhone),
	}
	if identity.FirstName == "" && identity.LastName == "" {
		identity.FirstName, identity.LastName = SplitName(cell(colFullName))
	}
	if identity.FullName() == "" && identity.Email == "" {
		return models.LineItem{}, errors.New("no name or email")
	}

	amount, err := models.ParseAmount(cell(colAmount))
	if err != nil {
		return models.LineItem{}, err
	}
	purchasedAt, err := models.ParseTimestamp(cell(colPurchaseDate))
	if err != nil {
		return models.LineItem{}, err
	}

	item := models.LineItem{
		Identity:    identity,
		PurchasedAt: purchasedAt,
		Details:     cell(colDetails),
		AmountPaid:  amount,
		ExternalRef: cell(colExternalRef),
		Refunded:    parseFlag(cell(colRefunded)),
	}
	if raw := cell(colPaymentMethod); raw != "" {
		item.PaymentMethod = models.ParsePaymentMethod(raw)
	}
	return item, nil
}

// SplitName splits a full name at the last space; single words become the first name
func SplitName(full string) (string, string) {
	full = strings.Join(strings.Fields(full), " ")
	i := strings.LastIndex(full, " ")
	if i < 0 {
		return full, ""
	}
	return full[:i], full[i+1:]
}

func parseFlag(raw string) bool {
	switch strings.ToLower(raw) {
	case "yes", "y", "true", "1", "refunded", "x":
		return true
	}
	return false
}

func blank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
