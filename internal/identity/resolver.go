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

	"meal-ledger-go/internal/models"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MatchKind is the strength of an identity match
type MatchKind int

const (
	MatchNone MatchKind = iota
	MatchExact
	MatchFuzzy
)

func (k MatchKind) String() string {
	switch k {
	case MatchExact:
		return "exact"
	case MatchFuzzy:
		return "fuzzy"
	}
	return "none"
}

// Entry is an existing identity with the id of the record carrying it
type Entry struct {
	RecordId string
	Identity models.Identity
}

// EntriesFromRecords reads the identity of every record
func EntriesFromRecords(records []models.Record) []Entry {
	entries := make([]Entry, len(records))
	for i, r := range records {
		entries[i] = Entry{RecordId: r.Id, Identity: models.IdentityFromRecord(r)}
	}
	return entries
}

// MatchResult lists the existing entries a candidate resolved to
type MatchResult struct {
	Kind    MatchKind
	Matches []Entry
}

// Key is the normalized matching key of an identity
type Key struct {
	Email string
	First string
	Last  string
}

// Usable reports whether the key carries either a reliable email or a full name
func (k Key) Usable() bool {
	return k.Email != "" || (k.First != "" && k.Last != "")
}

// String renders the key for grouping: the email when reliable, otherwise the name
func (k Key) String() string {
	if k.Email != "" {
		return "email:" + k.Email
	}
	if k.First == "" && k.Last == "" {
		return ""
	}
	return "name:" + k.First + "|" + k.Last
}

// Resolver decides whether two identities denote the same person.
// Placeholder addresses (e.g. an organizational fallback used when a buyer gave none) count as no email.
type Resolver struct {
	placeholders map[string]struct{}
}

func NewResolver(placeholderEmails []string) *Resolver {
	r := &Resolver{placeholders: make(map[string]struct{}, len(placeholderEmails))}
	for _, e := range placeholderEmails {
		if e = strings.ToLower(strings.TrimSpace(e)); e != "" {
			r.placeholders[e] = struct{}{}
		}
	}
	return r
}

// NormalizeEmail lower-cases an address; blank, malformed and placeholder addresses become ""
func (r *Resolver) NormalizeEmail(email string) string {
	e := strings.ToLower(strings.TrimSpace(email))
	if e == "" || !strings.Contains(e, "@") {
		return ""
	}
	if _, ok := r.placeholders[e]; ok {
		return ""
	}
	return e
}

// NormalizeName lower-cases, strips accents and collapses whitespace
func NormalizeName(name string) string {
	// chained transformers carry state, so each call builds its own
	foldAccents := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(foldAccents, name)
	if err != nil {
		folded = name
	}
	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}

func (r *Resolver) Key(id models.Identity) Key {
	return Key{
		Email: r.NormalizeEmail(id.Email),
		First: NormalizeName(id.FirstName),
		Last:  NormalizeName(id.LastName),
	}
}

// Same applies the exact rule: a shared reliable email, or equal full names when neither side has one
func (r *Resolver) Same(a, b models.Identity) bool {
	return sameKey(r.Key(a), r.Key(b))
}

func sameKey(a, b Key) bool {
	if a.Email != "" || b.Email != "" {
		return a.Email != "" && a.Email == b.Email
	}
	if a.First == "" || a.Last == "" {
		return false
	}
	return a.First == b.First && a.Last == b.Last
}

// Resolve finds the exact matches of a candidate among existing entries.
// A candidate with neither a usable email nor a full name resolves to none and must be treated as new.
func (r *Resolver) Resolve(candidate models.Identity, existing []Entry) MatchResult {
	key := r.Key(candidate)
	if !key.Usable() {
		return MatchResult{Kind: MatchNone}
	}

	var matches []Entry
	for _, e := range existing {
		if sameKey(key, r.Key(e.Identity)) {
			matches = append(matches, e)
		}
	}
	if len(matches) == 0 {
		return MatchResult{Kind: MatchNone}
	}
	return MatchResult{Kind: MatchExact, Matches: matches}
}
