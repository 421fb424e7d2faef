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
	"sort"

	"meal-ledger-go/internal/models"
)

// PrintSummary writes the end-of-run reconciliation report, naming every item an operator must resolve
func PrintSummary(s *models.Summary) {
	PrintHeader(fmt.Sprintf("RECONCILIATION REPORT: %s", s.Collection), WideWidth)

	fmt.Printf("Created:           %d\n", s.CreatedCount())
	fmt.Printf("Already imported:  %d\n", s.SkippedCount())
	fmt.Printf("Mismatches:        %d\n", len(s.Mismatches))
	fmt.Printf("Unclassified:      %d\n", len(s.Unclassified))
	fmt.Printf("Failed:            %d\n", len(s.Failed))
	fmt.Printf("Amount warnings:   %d\n", len(s.AmountWarnings))
	fmt.Printf("Created w/o key:   %d\n", len(s.Unkeyed))

	if len(s.Created) > 0 {
		PrintSection("Created (%d)", len(s.Created))
		for i, tx := range s.Created {
			fmt.Printf("%s %-30s member=%d non_member=%d paid=%s (%s)\n",
				BoxPrefix(i == len(s.Created)-1),
				tx.Identity.FullName(),
				tx.Counts.Member,
				tx.Counts.NonMember,
				tx.AmountPaid.StringFixed(2),
				tx.Id)
		}
	}

	if len(s.Mismatches) > 0 {
		PrintSection("Mismatches (%d)", len(s.Mismatches))
		for i, m := range s.Mismatches {
			isLast := i == len(s.Mismatches)-1
			fmt.Printf("%s %-30s record %s\n", BoxPrefix(isLast), m.Identity.FullName(), m.RecordId)
			fmt.Printf("%s   batch:    member=%d non_member=%d paid=%s\n",
				BoxDetailPrefix(isLast), m.Expected.Counts.Member, m.Expected.Counts.NonMember, m.Expected.Amount.StringFixed(2))
			fmt.Printf("%s   existing: member=%d non_member=%d paid=%s\n",
				BoxDetailPrefix(isLast), m.Actual.Counts.Member, m.Actual.Counts.NonMember, m.Actual.Amount.StringFixed(2))
		}
	}

	printIssues("Unclassified", s.Unclassified)
	printIssues("Failed", s.Failed)
	printIssues("Amount warnings", s.AmountWarnings)
	printIssues("Created without identity or reference", s.Unkeyed)

	fmt.Println()
	PrintBoxSeparator(WideWidth - 2)
	for _, tier := range []models.Tier{models.TierMember, models.TierNonMember} {
		fmt.Printf("│  %-12s tickets: %d\n", tier, s.TotalsByTier[tier])
	}
	methods := make([]string, 0, len(s.TotalsByPaymentMethod))
	for m := range s.TotalsByPaymentMethod {
		methods = append(methods, string(m))
	}
	sort.Strings(methods)
	for _, m := range methods {
		pt := s.TotalsByPaymentMethod[models.PaymentMethod(m)]
		fmt.Printf("│  %-12s tickets: %d  amount: %s\n", m, pt.Tickets, pt.Amount.StringFixed(2))
	}

	PrintFooter(fmt.Sprintf("TOTAL: %d tickets (%d created, %d already imported)",
		s.TotalTickets(), s.CreatedCount(), s.SkippedCount()), WideWidth)
}

func printIssues(title string, issues []models.ItemIssue) {
	if len(issues) == 0 {
		return
	}
	PrintSection("%s (%d)", title, len(issues))
	for i, issue := range issues {
		isLast := i == len(issues)-1
		fmt.Printf("%s line %-4d %-30s %q\n", BoxPrefix(isLast), issue.Index+1, issue.Identity.FullName(), issue.Details)
		fmt.Printf("%s   %s\n", BoxDetailPrefix(isLast), issue.Reason)
	}
}
