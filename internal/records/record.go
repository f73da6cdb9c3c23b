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

// Package records reads health data records and record-ID sequences from the
// record store.
package records

import (
	"context"
	"errors"
	"sort"
)

// ErrRecordNotFound is returned by Get for a record ID with no stored item.
var ErrRecordNotFound = errors.New("record not found")

// Record is one stored health data record. Fields carries the raw item
// attributes; use the typed getters, which return zero values for absent or
// mistyped attributes.
type Record struct {
	ID     string
	Fields map[string]any
}

// String returns the named field as a string, or "" when absent.
func (r Record) String(name string) string {
	s, _ := r.Fields[name].(string)
	return s
}

// Int64 returns the named field as an int64, or 0 when absent.
func (r Record) Int64(name string) int64 {
	switch v := r.Fields[name].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}

// StringSet returns the named set field sorted ascending. The stored set is
// unordered; sorting here keeps downstream row values deterministic.
func (r Record) StringSet(name string) []string {
	var members []string
	switch v := r.Fields[name].(type) {
	case []string:
		members = append(members, v...)
	case []any:
		for _, m := range v {
			if s, ok := m.(string); ok {
				members = append(members, s)
			}
		}
	}
	sort.Strings(members)
	return members
}

// Store reads records by ID.
type Store interface {
	// Get returns the record for id, or an error wrapping ErrRecordNotFound
	// when no item exists.
	Get(ctx context.Context, id string) (Record, error)
}

// IDSource yields the sequence of record IDs an export run should process.
type IDSource interface {
	RecordIDs(ctx context.Context) ([]string, error)
}
