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

package exporter

import (
	"bufio"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/afero"

	"github.com/cardinalhq/tablerunner/internal/filestore"
)

// valueSanitizer keeps a staged value from breaking the line/field structure
// of the artifact.
var valueSanitizer = strings.NewReplacer("\t", " ", "\n", " ", "\r", " ")

// RowBuffer is the staging artifact for one table within one run: a TSV file
// in the task workspace plus the line count and record IDs written to it.
//
// A buffer that failed to initialize carries the causing fault instead of a
// writable file; every operation on it returns that fault. A write error is
// sticky for the same reason: once the artifact is suspect, nothing more is
// staged and Finalize surfaces the fault.
type RowBuffer struct {
	mu        sync.Mutex
	columns   []string
	file      afero.File
	w         *bufio.Writer
	ws        *filestore.Workspace
	path      string
	initErr   error
	writeErr  error
	finalized bool
	discarded bool
	lineCount int64
	recordIDs []string
}

// NewRowBuffer creates the staging file and writes the header line. On
// failure the returned buffer carries the initialization fault.
func NewRowBuffer(ws *filestore.Workspace, name string, columns []string) *RowBuffer {
	file, err := ws.Create(name)
	if err != nil {
		return NewFailedRowBuffer(fmt.Errorf("create staging file %s: %w", name, err))
	}
	w := bufio.NewWriter(file)
	if _, err := w.WriteString(strings.Join(columns, "\t") + "\n"); err != nil {
		_ = file.Close()
		_ = ws.Remove(file.Name())
		return NewFailedRowBuffer(fmt.Errorf("write header for %s: %w", name, err))
	}
	return &RowBuffer{
		columns: columns,
		file:    file,
		w:       w,
		ws:      ws,
		path:    file.Name(),
	}
}

// NewFailedRowBuffer returns a buffer in the failed-initialization state.
func NewFailedRowBuffer(err error) *RowBuffer {
	return &RowBuffer{initErr: err}
}

// Columns returns the schema column order the buffer serializes against.
func (b *RowBuffer) Columns() []string {
	return b.columns
}

// Path returns the staging file path, or "" for a failed buffer.
func (b *RowBuffer) Path() string {
	return b.path
}

// WriteRow appends one row. Values are serialized in column order; missing
// columns are written as empty strings and keys not in the schema are
// dropped.
func (b *RowBuffer) WriteRow(recordID string, row map[string]string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.initErr != nil {
		return b.initErr
	}
	if b.writeErr != nil {
		return b.writeErr
	}
	if b.finalized {
		return errors.New("row buffer already finalized")
	}

	fields := make([]string, len(b.columns))
	for i, col := range b.columns {
		fields[i] = valueSanitizer.Replace(row[col])
	}
	if _, err := b.w.WriteString(strings.Join(fields, "\t") + "\n"); err != nil {
		b.writeErr = fmt.Errorf("write row for record %s: %w", recordID, err)
		return b.writeErr
	}
	b.lineCount++
	b.recordIDs = append(b.recordIDs, recordID)
	return nil
}

// Finalize flushes and closes the staging file. It fails if initialization
// failed or if any write error was recorded; a buffer that cannot prove all
// rows reached the artifact must not be committed.
func (b *RowBuffer) Finalize() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.initErr != nil {
		return b.initErr
	}
	if b.finalized {
		return nil
	}
	flushErr := b.w.Flush()
	closeErr := b.file.Close()
	b.finalized = true
	if b.writeErr != nil {
		return b.writeErr
	}
	if flushErr != nil {
		return fmt.Errorf("flush staging file %s: %w", b.path, flushErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close staging file %s: %w", b.path, closeErr)
	}
	return nil
}

// LineCount returns the number of data rows staged.
func (b *RowBuffer) LineCount() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lineCount
}

// RecordIDs returns a snapshot of the record IDs appended, in append order.
func (b *RowBuffer) RecordIDs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.recordIDs...)
}

// Discard deletes the staging artifact. Safe on failed and already-discarded
// buffers.
func (b *RowBuffer) Discard() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.initErr != nil || b.discarded {
		return nil
	}
	if !b.finalized {
		_ = b.w.Flush()
		_ = b.file.Close()
		b.finalized = true
	}
	b.discarded = true
	return b.ws.Remove(b.path)
}
