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
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/cardinalhq/tablerunner/internal/filestore"
	"github.com/cardinalhq/tablerunner/internal/metrics"
)

// Task is one export run: its workspace, its metrics accumulator, and the
// buffer state for every table kind touched during the run. Handlers mutate
// only their own kind's entry, through the accessors.
type Task struct {
	ID        string
	RunDate   string
	Tag       string
	Workspace *filestore.Workspace
	Metrics   *metrics.Metrics

	mu      sync.RWMutex
	buffers map[string]*RowBuffer
	success bool
}

func NewTask(ws *filestore.Workspace, runDate, tag string) *Task {
	return &Task{
		ID:        uuid.NewString(),
		RunDate:   runDate,
		Tag:       tag,
		Workspace: ws,
		Metrics:   metrics.New(),
		buffers:   make(map[string]*RowBuffer),
	}
}

// BufferState returns the buffer for the table kind, or nil if no record has
// been routed there yet.
func (t *Task) BufferState(kind string) *RowBuffer {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.buffers[kind]
}

// SetBufferState publishes the buffer for the table kind. The caller holds
// its handler's init lock; this only guards the map itself.
func (t *Task) SetBufferState(kind string, b *RowBuffer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buffers[kind] = b
}

// BufferKinds returns the table kinds with buffer state, sorted for a
// deterministic commit order.
func (t *Task) BufferKinds() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	kinds := make([]string, 0, len(t.buffers))
	for kind := range t.buffers {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// MarkSuccess records that every commit completed. Called by the processor
// only after the whole commit phase passes.
func (t *Task) MarkSuccess() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.success = true
}

func (t *Task) Success() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.success
}

// Close discards any remaining buffers and removes the workspace.
func (t *Task) Close() error {
	t.mu.Lock()
	buffers := make([]*RowBuffer, 0, len(t.buffers))
	for _, b := range t.buffers {
		buffers = append(buffers, b)
	}
	t.mu.Unlock()

	var errs *multierror.Error
	for _, b := range buffers {
		errs = multierror.Append(errs, b.Discard())
	}
	errs = multierror.Append(errs, t.Workspace.Close())
	return errs.ErrorOrNil()
}
