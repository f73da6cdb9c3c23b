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

// Package metrics accumulates per-run counters for an export run and
// publishes them once at the end of the run. The accumulator is shared by
// every handler working the run, so all methods are safe for concurrent use.
package metrics

import (
	"maps"
	"slices"
	"sync"
)

// Metrics is a named-counter accumulator for a single export run.
type Metrics struct {
	mu       sync.Mutex
	counters map[string]int64
	sets     map[string]map[string]struct{}
}

func New() *Metrics {
	return &Metrics{
		counters: make(map[string]int64),
		sets:     make(map[string]map[string]struct{}),
	}
}

// Increment bumps the named counter by one.
func (m *Metrics) Increment(name string) {
	m.IncrementBy(name, 1)
}

// IncrementBy bumps the named counter by n.
func (m *Metrics) IncrementBy(name string, n int64) {
	m.mu.Lock()
	m.counters[name] += n
	m.mu.Unlock()
}

// AddUnique records a member of a distinct-value counter, such as the set of
// unique participants seen in a run. The published value is the set size.
func (m *Metrics) AddUnique(name, value string) {
	m.mu.Lock()
	set := m.sets[name]
	if set == nil {
		set = make(map[string]struct{})
		m.sets[name] = set
	}
	set[value] = struct{}{}
	m.mu.Unlock()
}

// Counter returns the current value of a named counter.
func (m *Metrics) Counter(name string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[name]
}

// UniqueCount returns the current cardinality of a distinct-value counter.
func (m *Metrics) UniqueCount(name string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.sets[name]))
}

// Snapshot returns a copy of all counters, with distinct-value counters
// folded in as their set sizes.
func (m *Metrics) Snapshot() map[string]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int64, len(m.counters)+len(m.sets))
	maps.Copy(out, m.counters)
	for name, set := range m.sets {
		out[name] = int64(len(set))
	}
	return out
}

// Names returns the sorted names of all counters in the snapshot.
func (m *Metrics) Names() []string {
	snap := m.Snapshot()
	names := slices.Collect(maps.Keys(snap))
	slices.Sort(names)
	return names
}
