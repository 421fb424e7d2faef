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
	"strings"
)

const (
	// DefaultWidth suits single-table tools; WideWidth fits the reconciliation report
	DefaultWidth = 80
	WideWidth    = 100
)

func rule(width int) string {
	return strings.Repeat("=", width)
}

// PrintHeader opens a report with its title between rules
func PrintHeader(title string, width int) {
	fmt.Printf("\n%s\n%s\n%s\n", rule(width), title, rule(width))
}

// PrintFooter closes a report with a summary line between rules
func PrintFooter(message string, width int) {
	fmt.Printf("\n%s\n%s\n%s\n\n", rule(width), message, rule(width))
}

// PrintSection opens a boxed list such as one card or one group of issues
func PrintSection(format string, args ...any) {
	fmt.Printf("\n┌─ "+format+"\n", args...)
}

// PrintBoxSeparator splits a boxed list before its totals
func PrintBoxSeparator(width int) {
	fmt.Println("├" + strings.Repeat("─", width))
}

// BoxPrefix returns the prefix of a list item; the last item closes the box
func BoxPrefix(isLast bool) string {
	if isLast {
		return "└  "
	}
	return "│  "
}

// BoxDetailPrefix returns the prefix for detail lines under list items
func BoxDetailPrefix(isLast bool) string {
	if isLast {
		return "   "
	}
	return "│  "
}
