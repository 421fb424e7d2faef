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
	"fmt"
	"io"
	"sort"

	"meal-ledger-go/internal/models"

	"github.com/xuri/excelize/v2"
)

const (
	sheetSummary        = "Summary"
	sheetCreated        = "Created"
	sheetSkipped        = "Skipped"
	sheetMismatches     = "Mismatches"
	sheetUnclassified   = "Unclassified"
	sheetFailed         = "Failed"
	sheetAmountWarnings = "Amount Warnings"
	sheetUnkeyed        = "Unkeyed"
)

// table is one report sheet: a header row, column widths and data rows
type table struct {
	name    string
	headers []string
	widths  []float64
	rows    [][]any
}

// WriteReport exports the reconciliation summary as a workbook with one sheet per outcome
func WriteReport(w io.Writer, summary *models.Summary) error {
	f := excelize.NewFile()
	defer f.Close()

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	for i, t := range reportTables(summary) {
		index, err := f.NewSheet(t.name)
		if err != nil {
			return fmt.Errorf("failed to create sheet %s: %w", t.name, err)
		}
		if i == 0 {
			f.SetActiveSheet(index)
		}
		if err := writeTable(f, t, headerStyle); err != nil {
			return err
		}
	}

	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("failed to remove default sheet: %w", err)
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

func writeTable(f *excelize.File, t table, headerStyle int) error {
	for col, header := range t.headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(t.name, cell, header); err != nil {
			return fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(t.name, cell, cell, headerStyle); err != nil {
			return fmt.Errorf("failed to set header style: %w", err)
		}

		if col < len(t.widths) && t.widths[col] > 0 {
			name, err := excelize.ColumnNumberToName(col + 1)
			if err != nil {
				return fmt.Errorf("failed to convert column number: %w", err)
			}
			if err := f.SetColWidth(t.name, name, name, t.widths[col]); err != nil {
				return fmt.Errorf("failed to set column width: %w", err)
			}
		}
	}

	for r, row := range t.rows {
		for c, value := range row {
			if value == nil || value == "" {
				continue
			}
			if err := setCellValue(f, t.name, c+1, r+2, value); err != nil {
				return fmt.Errorf("failed to set %s cell at row %d, col %d: %w", t.name, r+2, c+1, err)
			}
		}
	}

	if err := f.SetPanes(t.name, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("failed to freeze panes: %w", err)
	}
	return nil
}

func setCellValue(f *excelize.File, sheet string, col, row int, value any) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return err
	}
	return f.SetCellValue(sheet, cell, value)
}

func reportTables(s *models.Summary) []table {
	overview := table{
		name:    sheetSummary,
		headers: []string{"Metric", "Value"},
		widths:  []float64{32, 16},
		rows: [][]any{
			{"Collection", s.Collection},
			{"Created", s.CreatedCount()},
			{"Skipped (already imported)", s.SkippedCount()},
			{"Mismatches", len(s.Mismatches)},
			{"Unclassified", len(s.Unclassified)},
			{"Failed", len(s.Failed)},
			{"Amount warnings", len(s.AmountWarnings)},
			{"Created without key", len(s.Unkeyed)},
			{"Total tickets", s.TotalTickets()},
		},
	}
	for _, tier := range []models.Tier{models.TierMember, models.TierNonMember} {
		overview.rows = append(overview.rows, []any{fmt.Sprintf("%s tickets", tier), s.TotalsByTier[tier]})
	}
	methods := make([]string, 0, len(s.TotalsByPaymentMethod))
	for m := range s.TotalsByPaymentMethod {
		methods = append(methods, string(m))
	}
	sort.Strings(methods)
	for _, m := range methods {
		pt := s.TotalsByPaymentMethod[models.PaymentMethod(m)]
		overview.rows = append(overview.rows,
			[]any{fmt.Sprintf("%s tickets", m), pt.Tickets},
			[]any{fmt.Sprintf("%s amount", m), pt.Amount.InexactFloat64()})
	}

	created := table{
		name:    sheetCreated,
		headers: []string{"Record ID", "First Name", "Last Name", "Email", "Member", "Non-Member", "Amount Paid", "Payment Method"},
		widths:  []float64{20, 18, 18, 28, 10, 12, 14, 16},
	}
	for _, tx := range s.Created {
		created.rows = append(created.rows, []any{
			tx.Id, tx.Identity.FirstName, tx.Identity.LastName, tx.Identity.Email,
			tx.Counts.Member, tx.Counts.NonMember, tx.AmountPaid.InexactFloat64(), string(tx.PaymentMethod),
		})
	}

	skipped := table{
		name:    sheetSkipped,
		headers: []string{"Record ID", "First Name", "Last Name", "Email"},
		widths:  []float64{20, 18, 18, 28},
	}
	for _, item := range s.Skipped {
		skipped.rows = append(skipped.rows, []any{item.RecordId, item.Identity.FirstName, item.Identity.LastName, item.Identity.Email})
	}

	mismatches := table{
		name: sheetMismatches,
		headers: []string{"Record ID", "Name", "Email",
			"Batch Member", "Batch Non-Member", "Batch Amount",
			"Existing Member", "Existing Non-Member", "Existing Amount"},
		widths: []float64{20, 28, 28, 14, 18, 14, 16, 20, 16},
	}
	for _, m := range s.Mismatches {
		mismatches.rows = append(mismatches.rows, []any{
			m.RecordId, m.Identity.FullName(), m.Identity.Email,
			m.Expected.Counts.Member, m.Expected.Counts.NonMember, m.Expected.Amount.InexactFloat64(),
			m.Actual.Counts.Member, m.Actual.Counts.NonMember, m.Actual.Amount.InexactFloat64(),
		})
	}

	return []table{
		overview,
		created,
		skipped,
		mismatches,
		issueTable(sheetUnclassified, s.Unclassified),
		issueTable(sheetFailed, s.Failed),
		issueTable(sheetAmountWarnings, s.AmountWarnings),
		issueTable(sheetUnkeyed, s.Unkeyed),
	}
}

func issueTable(name string, issues []models.ItemIssue) table {
	t := table{
		name:    name,
		headers: []string{"Line", "Name", "Email", "Details", "Reason"},
		widths:  []float64{8, 28, 28, 30, 60},
	}
	for _, issue := range issues {
		t.rows = append(t.rows, []any{issue.Index + 1, issue.Identity.FullName(), issue.Identity.Email, issue.Details, issue.Reason})
	}
	return t
}
