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
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/cardinalhq/tablerunner/internal/tableapi"
)

// fakeAPI is an in-memory tableapi.Client for exporter tests.
type fakeAPI struct {
	mu sync.Mutex

	notWritable      bool
	createTableCalls int
	nextID           int

	columnsByTable map[string][]tableapi.Column
	aclByTable     map[string][2]int64
	uploadsByTable map[string]string

	// linesProcessedDelta skews the reported lines-processed count to
	// trigger the consistency check.
	linesProcessedDelta int64
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		columnsByTable: make(map[string][]tableapi.Column),
		aclByTable:     make(map[string][2]int64),
		uploadsByTable: make(map[string]string),
	}
}

func (f *fakeAPI) IsWritable(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.notWritable, nil
}

func (f *fakeAPI) GetColumns(_ context.Context, tableID string) ([]tableapi.Column, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cols, ok := f.columnsByTable[tableID]
	if !ok {
		return nil, fmt.Errorf("no table %s", tableID)
	}
	return cols, nil
}

func (f *fakeAPI) CreateColumns(_ context.Context, columns []tableapi.Column) ([]tableapi.Column, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	created := make([]tableapi.Column, len(columns))
	for i, col := range columns {
		f.nextID++
		col.ID = fmt.Sprintf("col-%d", f.nextID)
		created[i] = col
	}
	return created, nil
}

func (f *fakeAPI) CreateTable(_ context.Context, name, parentProjectID string, columnIDs []string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createTableCalls++
	f.nextID++
	tableID := fmt.Sprintf("tbl-%d", f.nextID)
	// GetColumns is only consulted for pre-registered tables; tests seed
	// columnsByTable directly for those.
	f.columnsByTable[tableID] = nil
	_ = name
	_ = parentProjectID
	_ = columnIDs
	return tableID, nil
}

func (f *fakeAPI) SetAccessControl(_ context.Context, tableID string, ownerPrincipal, readerTeam int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aclByTable[tableID] = [2]int64{ownerPrincipal, readerTeam}
	return nil
}

func (f *fakeAPI) Upload(_ context.Context, _, tableID string, tsv io.Reader) (int64, error) {
	data, err := io.ReadAll(tsv)
	if err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploadsByTable[tableID] = string(data)
	lines := int64(strings.Count(string(data), "\n")) - 1 // minus header
	return lines + f.linesProcessedDelta, nil
}

func (f *fakeAPI) upload(tableID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uploadsByTable[tableID]
}

func (f *fakeAPI) tableCreations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createTableCalls
}

var _ tableapi.Client = (*fakeAPI)(nil)

func columnsNamed(names ...string) []tableapi.Column {
	cols := make([]tableapi.Column, len(names))
	for i, name := range names {
		cols[i] = tableapi.Column{ID: fmt.Sprintf("col-%s", name), Name: name, Type: tableapi.ColumnTypeString}
	}
	return cols
}

// failingFetcher simulates an unavailable attachment store.
type failingFetcher struct{}

func (failingFetcher) Fetch(context.Context, string, string) (io.ReadCloser, error) {
	return nil, fmt.Errorf("attachment store unavailable")
}

// staticFetcher serves the same body for every key.
type staticFetcher string

func (f staticFetcher) Fetch(context.Context, string, string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(string(f))), nil
}
