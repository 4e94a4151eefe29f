// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package inbox

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/crmworks/docinbox/internal/models"
)

// MemoryStore is an in-process Repository and CandidateSource. It backs
// tests and the CLI dry-run mode.
type MemoryStore struct {
	mu         sync.Mutex
	items      map[string]models.InboxItem
	byDedupe   map[string]string
	events     map[string][]models.InboundEvent
	candidates map[string][]models.CandidateRecord
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items:      make(map[string]models.InboxItem),
		byDedupe:   make(map[string]string),
		events:     make(map[string][]models.InboundEvent),
		candidates: make(map[string][]models.CandidateRecord),
	}
}

// SetCandidates replaces the candidate records for an owner.
func (m *MemoryStore) SetCandidates(ownerID string, records []models.CandidateRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candidates[ownerID] = append([]models.CandidateRecord(nil), records...)
}

func (m *MemoryStore) Insert(_ context.Context, item *models.InboxItem, ev models.InboundEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byDedupe[item.DedupeKey]; ok && item.DedupeKey != "" {
		return ErrDuplicate
	}
	if _, ok := m.items[item.ID]; ok {
		return ErrDuplicate
	}
	m.items[item.ID] = cloneItem(*item)
	if item.DedupeKey != "" {
		m.byDedupe[item.DedupeKey] = item.ID
	}
	m.events[item.ID] = append(m.events[item.ID], ev)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*models.InboxItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := cloneItem(item)
	return &c, nil
}

func (m *MemoryStore) List(_ context.Context, f ListFilter) ([]models.InboxItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kinds := make(map[models.DocumentKind]bool, len(f.Kinds))
	for _, k := range f.Kinds {
		kinds[k] = true
	}
	statuses := make(map[models.ProcessingStatus]bool, len(f.Statuses))
	for _, s := range f.Statuses {
		statuses[s] = true
	}

	var out []models.InboxItem
	for _, item := range m.items {
		if f.OwnerID != "" && item.OwnerID != f.OwnerID {
			continue
		}
		if len(kinds) > 0 && !kinds[item.DocumentKind] {
			continue
		}
		if len(statuses) > 0 && !statuses[item.Status] {
			continue
		}
		out = append(out, cloneItem(item))
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if f.WorkOrder {
			aFailed, bFailed := a.Status == models.StatusFailed, b.Status == models.StatusFailed
			if aFailed != bFailed {
				return bFailed
			}
			at, bt := workTime(a), workTime(b)
			if !at.Equal(bt) {
				return at.Before(bt)
			}
			return a.ID < b.ID
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *MemoryStore) SaveTransition(_ context.Context, item *models.InboxItem, ev models.InboundEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[item.ID]; !ok {
		return ErrNotFound
	}
	m.items[item.ID] = cloneItem(*item)
	m.events[item.ID] = append(m.events[item.ID], ev)
	return nil
}

func (m *MemoryStore) Events(_ context.Context, itemID string) ([]models.InboundEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.InboundEvent(nil), m.events[itemID]...), nil
}

func (m *MemoryStore) ListCandidates(_ context.Context, ownerID string) ([]models.CandidateRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.CandidateRecord(nil), m.candidates[ownerID]...), nil
}

// workTime is when an item last joined the work queue.
func workTime(item models.InboxItem) time.Time {
	if item.Status == models.StatusFailed {
		return item.UpdatedAt
	}
	return item.CreatedAt
}

func cloneItem(item models.InboxItem) models.InboxItem {
	if item.Signals != nil {
		s := *item.Signals
		item.Signals = &s
	}
	if item.Candidates != nil {
		item.Candidates = append(make([]models.ScoredCandidate, 0, len(item.Candidates)), item.Candidates...)
	}
	if item.ConfirmedAt != nil {
		t := *item.ConfirmedAt
		item.ConfirmedAt = &t
	}
	return item
}
