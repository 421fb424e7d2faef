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

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"meal-ledger-go/internal/models"

	"github.com/google/uuid"
)

var _ Gateway = (*Memory)(nil)
var _ Getter = (*Memory)(nil)

// Memory is an in-process Gateway. It backs dry runs (seeded from a real store) and tests.
type Memory struct {
	mu          sync.RWMutex
	collections map[string]map[string]models.Record
	now         func() time.Time
}

// NewMemory returns an empty store stamping records with the wall clock.
func NewMemory() *Memory {
	return &Memory{
		collections: make(map[string]map[string]models.Record),
		now:         time.Now,
	}
}

// WithClock replaces the creation-time source, e.g. for deterministic tests.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
	return m
}

// Seed inserts records verbatim, keeping their ids and creation times.
func (m *Memory) Seed(collection string, records ...models.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.collection(collection)
	for _, r := range records {
		c[r.Id] = clone(r)
	}
}

func (m *Memory) collection(name string) map[string]models.Record {
	c, ok := m.collections[name]
	if !ok {
		c = make(map[string]models.Record)
		m.collections[name] = c
	}
	return c
}

func (m *Memory) ListAll(ctx context.Context, collection string) ([]models.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := make([]models.Record, 0, len(m.collections[collection]))
	for _, r := range m.collections[collection] {
		records = append(records, clone(r))
	}
	sort.Slice(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.Before(records[j].CreatedAt)
		}
		return records[i].Id < records[j].Id
	})
	return records, nil
}

func (m *Memory) Get(ctx context.Context, collection, id string) (*models.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.collections[collection][id]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, ErrRecordNotFound)
	}
	out := clone(r)
	return &out, nil
}

func (m *Memory) Create(ctx context.Context, collection string, fields map[string]any) (*models.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	r := models.Record{
		Id:        "rec" + uuid.New().String(),
		CreatedAt: m.now().UTC(),
		Fields:    make(map[string]any, len(fields)),
	}
	for k, v := range fields {
		r.Fields[k] = v
	}
	m.collection(collection)[r.Id] = r
	out := clone(r)
	return &out, nil
}

func (m *Memory) Update(ctx context.Context, collection, id string, fields map[string]any) (*models.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.collections[collection][id]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, ErrRecordNotFound)
	}
	r = clone(r)
	mergeFields(r.Fields, fields)
	m.collections[collection][id] = r
	out := clone(r)
	return &out, nil
}

func (m *Memory) Delete(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.collections[collection][id]; !ok {
		return fmt.Errorf("%s/%s: %w", collection, id, ErrRecordNotFound)
	}
	delete(m.collections[collection], id)
	return nil
}

// mergeFields applies a partial update; a nil value clears the field.
func mergeFields(dst, src map[string]any) {
	for k, v := range src {
		if v == nil {
			delete(dst, k)
			continue
		}
		dst[k] = v
	}
}

// MergeFields is the partial-update rule every backend follows.
func MergeFields(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	mergeFields(dst, src)
	return dst
}

func clone(r models.Record) models.Record {
	fields := make(map[string]any, len(r.Fields))
	for k, v := range r.Fields {
		fields[k] = v
	}
	r.Fields = fields
	return r
}
