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

// Package schemaregistry is the durable mapping from a table kind to the
// remote table that holds its rows. Once a table ID is registered for a key
// it is authoritative for every later run; the exporter never diffs the
// remote schema against its own column declarations again.
package schemaregistry

import (
	"context"
	"errors"
)

// Key identifies one table kind in the registry. Name is the logical key
// attribute ("tableName", "schemaKey", ...) and Value the table kind's value
// under it; Value doubles as the remote table's name, which must be unique.
type Key struct {
	Name  string
	Value string
}

// ErrNotRegistered is returned by LookupTableID when no table has been
// registered for the key.
var ErrNotRegistered = errors.New("no table registered for key")

// Registry maps table kinds to remote table IDs.
type Registry interface {
	// LookupTableID returns the remote table ID registered for key, or
	// ErrNotRegistered.
	LookupTableID(ctx context.Context, key Key) (string, error)

	// RegisterTableID durably records the remote table ID for key. Called
	// exactly once per key, at the end of remote table creation.
	RegisterTableID(ctx context.Context, key Key, tableID string) error
}

// Study holds the per-study destination settings: the project the study's
// tables are parented under and the team granted read access to them.
type Study struct {
	ID         string
	ProjectID  string
	ReadTeamID int64
}

// ErrStudyNotFound is returned by GetStudy for an unknown study.
var ErrStudyNotFound = errors.New("study not found")

// StudyStore resolves per-study destination settings.
type StudyStore interface {
	GetStudy(ctx context.Context, studyID string) (Study, error)
}
