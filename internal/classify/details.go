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

package classify

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"meal-ledger-go/internal/store"
)

// DetailLine is one "<quantity>x <label>" entry of a sales export details cell
type DetailLine struct {
	Quantity int
	Label    string
}

var (
	detailSeparators = regexp.MustCompile(`[,;\n]+`)
	quantityPrefix   = regexp.MustCompile(`^(\d+)\s*[xX×]\s*(.+)$`)
)

// ParseDetails splits text like "2x Member Dinner, 1x Guest" into quantities per label.
// A bare label counts as one ticket.
func ParseDetails(text string) ([]DetailLine, error) {
	var lines []DetailLine
	for _, segment := range detailSeparators.Split(text, -1) {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}

		m := quantityPrefix.FindStringSubmatch(segment)
		if m == nil {
			if startsWithDigit(segment) {
				return nil, fmt.Errorf("%w: cannot parse %q", store.ErrClassificationUnknown, segment)
			}
			lines = append(lines, DetailLine{Quantity: 1, Label: segment})
			continue
		}

		qty, err := strconv.Atoi(m[1])
		if err != nil || qty <= 0 {
			return nil, fmt.Errorf("%w: invalid quantity in %q", store.ErrClassificationUnknown, segment)
		}
		lines = append(lines, DetailLine{Quantity: qty, Label: strings.TrimSpace(m[2])})
	}

	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: no ticket lines in details", store.ErrClassificationUnknown)
	}
	return lines, nil
}

func startsWithDigit(s string) bool {
	return s[0] >= '0' && s[0] <= '9'
}
