// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package records

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an in-memory Store for tests and local runs.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(recs ...Record) *MemoryStore {
	s := &MemoryStore{records: make(map[string]Record)}
	for _, rec := range recs {
		s.records[rec.ID] = rec
	}
	return s
}

func (s *MemoryStore) Put(rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = rec
}

func (s *MemoryStore) Get(_ context.Context, id string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return Record{}, fmt.Errorf("record %s: %w", id, ErrRecordNotFound)
	}
	return rec, nil
}

// StaticIDSource yields a fixed ID sequence.
type StaticIDSource []string

var _ IDSource = StaticIDSource(nil)

func (s StaticIDSource) RecordIDs(context.Context) ([]string, error) {
	return append([]string(nil), s...), nil
}
