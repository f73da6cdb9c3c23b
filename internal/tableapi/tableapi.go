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

// Package tableapi is the client for the remote tabular destination service.
// The exporter only depends on the Client interface; retry and backoff are the
// transport's concern, not reimplemented here.
package tableapi

import (
	"context"
	"io"
)

// ColumnType enumerates the column types the destination service supports.
type ColumnType string

const (
	ColumnTypeString    ColumnType = "STRING"
	ColumnTypeInteger   ColumnType = "INTEGER"
	ColumnTypeLargeText ColumnType = "LARGETEXT"
	// ColumnTypeDate is a millisecond epoch timestamp; the service has no
	// calendar-date type.
	ColumnTypeDate ColumnType = "DATE"
)

// Column describes one destination table column. ID is assigned by the
// service when the column is created.
type Column struct {
	ID          string     `json:"id,omitempty"`
	Name        string     `json:"name"`
	Type        ColumnType `json:"columnType"`
	MaximumSize int64      `json:"maximumSize,omitempty"`
}

// Client is the narrow surface of the destination service the exporter needs.
type Client interface {
	// IsWritable reports whether the service is accepting writes. Checked as
	// a run precondition; a false result aborts the run before any commit.
	IsWritable(ctx context.Context) (bool, error)

	// GetColumns returns the ordered column list of an existing table.
	GetColumns(ctx context.Context, tableID string) ([]Column, error)

	// CreateColumns creates column definitions and returns them with their
	// service-assigned IDs, in request order.
	CreateColumns(ctx context.Context, columns []Column) ([]Column, error)

	// CreateTable creates a table under the given parent project from
	// already-created column IDs and returns the new table ID.
	CreateTable(ctx context.Context, name, parentProjectID string, columnIDs []string) (string, error)

	// SetAccessControl grants the exporter principal full access and the
	// study read team read-only access to the table.
	SetAccessControl(ctx context.Context, tableID string, ownerPrincipal, readerTeam int64) error

	// Upload bulk-loads a TSV stream into the table and returns the number
	// of lines the service processed.
	Upload(ctx context.Context, projectID, tableID string, tsv io.Reader) (int64, error)
}
