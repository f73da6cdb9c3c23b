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

package schemaregistry

import (
	"context"
	"fmt"
	"sync"
)

// MemoryRegistry is an in-memory Registry for tests and local runs.
type MemoryRegistry struct {
	mu     sync.Mutex
	tables map[Key]string
}

var _ Registry = (*MemoryRegistry)(nil)

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{tables: make(map[Key]string)}
}

func (r *MemoryRegistry) LookupTableID(_ context.Context, key Key) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.tables[key]
	if !ok {
		return "", ErrNotRegistered
	}
	return id, nil
}

func (r *MemoryRegistry) RegisterTableID(_ context.Context, key Key, tableID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tables[key] = tableID
	return nil
}

// MemoryStudyStore is an in-memory StudyStore for tests and local runs.
type MemoryStudyStore struct {
	mu      sync.Mutex
	studies map[string]Study
}

var _ StudyStore = (*MemoryStudyStore)(nil)

func NewMemoryStudyStore(studies ...Study) *MemoryStudyStore {
	s := &MemoryStudyStore{studies: make(map[string]Study)}
	for _, study := range studies {
		s.studies[study.ID] = study
	}
	return s
}

func (s *MemoryStudyStore) GetStudy(_ context.Context, studyID string) (Study, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	study, ok := s.studies[studyID]
	if !ok {
		return Study{}, fmt.Errorf("study %s: %w", studyID, ErrStudyNotFound)
	}
	return study, nil
}
