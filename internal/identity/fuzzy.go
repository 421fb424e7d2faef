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

package identity

import (
	"strings"
	"unicode"
)

// FuzzyMatch is an advisory hit for human review; it is never applied automatically.
type FuzzyMatch struct {
	Entry Entry
	Token string
}

// Tokens splits a name into lower-cased words longer than two letters, punctuation removed
func Tokens(fullName string) []string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			return r
		}
		return -1
	}, NormalizeName(fullName))

	var tokens []string
	for _, word := range strings.Fields(cleaned) {
		if len([]rune(word)) > 2 {
			tokens = append(tokens, word)
		}
	}
	return tokens
}

// Fuzzy returns every entry whose full name contains any token of the search name.
// The rule is deliberately loose ("bryan" hits "Bryant") and yields false positives on common words.
func Fuzzy(searchName string, existing []Entry) []FuzzyMatch {
	tokens := Tokens(searchName)
	if len(tokens) == 0 {
		return nil
	}

	var hits []FuzzyMatch
	for _, e := range existing {
		name := NormalizeName(e.Identity.FullName())
		for _, tok := range tokens {
			if strings.Contains(name, tok) {
				hits = append(hits, FuzzyMatch{Entry: e, Token: tok})
				break
			}
		}
	}
	return hits
}

// ResolveFuzzy wraps Fuzzy as a MatchResult for audit tooling
func ResolveFuzzy(searchName string, existing []Entry) MatchResult {
	hits := Fuzzy(searchName, existing)
	if len(hits) == 0 {
		return MatchResult{Kind: MatchNone}
	}
	result := MatchResult{Kind: MatchFuzzy}
	for _, h := range hits {
		result.Matches = append(result.Matches, h.Entry)
	}
	return result
}
