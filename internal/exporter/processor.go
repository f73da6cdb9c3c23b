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

// Package exporter is the per-task write pipeline: task lifecycle, lazy
// destination initialization, row buffering, and the end-of-stream bulk
// commit. Row-level faults are counted and logged; only run-level faults
// propagate, so the queue can redrive the whole run.
package exporter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cardinalhq/tablerunner/internal/filestore"
	"github.com/cardinalhq/tablerunner/internal/logctx"
	"github.com/cardinalhq/tablerunner/internal/metrics"
	"github.com/cardinalhq/tablerunner/internal/records"
	"github.com/cardinalhq/tablerunner/internal/tableapi"
)

// Processor drives one export run end to end.
type Processor struct {
	Store     records.Store
	API       tableapi.Client
	Files     *filestore.Store
	Publisher metrics.Publisher
	TimeLoc   *time.Location

	// Workers bounds concurrent record dispatch. Zero means serial.
	Workers int

	// ProgressPeriod logs progress every N records when positive.
	ProgressPeriod int

	// RecordLoopDelay throttles dispatch between records when positive.
	RecordLoopDelay time.Duration

	// NewManager builds the run's routing manager from the validated
	// request.
	NewManager func(req Request) *Manager
}

// ProcessRun executes one export run. The returned error, if any, is
// run-fatal: the task was not marked successful and the caller should
// arrange a redrive.
func (p *Processor) ProcessRun(ctx context.Context, req Request, source records.IDSource) error {
	req = req.Clone()
	if err := req.Validate(); err != nil {
		return fmt.Errorf("invalid export request: %w", err)
	}

	writable, err := p.API.IsWritable(ctx)
	if err != nil {
		return fmt.Errorf("check writability: %w", err)
	}
	if !writable {
		return ErrNotWritable
	}

	ids, err := source.RecordIDs(ctx)
	if err != nil {
		return fmt.Errorf("resolve record ids: %w", err)
	}

	ws, err := p.Files.NewWorkspace("export-")
	if err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	loc := p.TimeLoc
	if loc == nil {
		loc = time.UTC
	}
	task := NewTask(ws, req.RunLabel(loc), req.Tag)
	ll := logctx.FromContext(ctx).With(
		slog.String("taskId", task.ID),
		slog.String("request", req.String()),
	)
	ctx = logctx.WithLogger(ctx, ll)
	defer func() {
		if err := task.Close(); err != nil {
			ll.Warn("task cleanup failed", slog.Any("error", err))
		}
	}()

	ll.Info("starting export run", slog.Int("recordCount", len(ids)))
	manager := p.NewManager(req)
	p.dispatch(ctx, task, NewFilter(req), manager, ids)

	runErr := p.endOfStream(ctx, task, manager)
	if runErr == nil {
		task.MarkSuccess()
	}

	// Metrics captured so far are published whether or not the run failed.
	if err := p.Publisher.Publish(ctx, task.Metrics); err != nil {
		ll.Warn("publish metrics failed", slog.Any("error", err))
	}

	if runErr != nil {
		ll.Error("export run failed", slog.Any("error", runErr))
		return runErr
	}
	ll.Info("export run succeeded", slog.Int64("recordsProcessed", task.Metrics.Counter("recordsProcessed")))
	return nil
}

// dispatch fans record IDs out to the worker pool. Workers never return an
// error: every per-record fault is counted and logged inside processRecord.
func (p *Processor) dispatch(ctx context.Context, task *Task, filter *Filter, manager *Manager, ids []string) {
	var done atomic.Int64
	g := &errgroup.Group{}
	if p.Workers > 1 {
		g.SetLimit(p.Workers)
	} else {
		g.SetLimit(1)
	}
	for _, id := range ids {
		g.Go(func() error {
			p.processRecord(ctx, task, filter, manager, id)
			if n := done.Add(1); p.ProgressPeriod > 0 && n%int64(p.ProgressPeriod) == 0 {
				logctx.FromContext(ctx).Info("run progress",
					slog.Int64("processed", n),
					slog.Int("total", len(ids)))
			}
			if p.RecordLoopDelay > 0 {
				time.Sleep(p.RecordLoopDelay)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (p *Processor) processRecord(ctx context.Context, task *Task, filter *Filter, manager *Manager, id string) {
	ll := logctx.FromContext(ctx).With(slog.String("recordId", id))

	rec, err := p.Store.Get(ctx, id)
	if errors.Is(err, records.ErrRecordNotFound) {
		task.Metrics.Increment("recordsMissing")
		ll.Warn("record missing from store")
		return
	}
	if err != nil {
		task.Metrics.Increment("recordsErrored")
		ll.Error("record fetch failed", slog.Any("error", err))
		return
	}

	if skip, reason := filter.Exclude(rec); skip {
		task.Metrics.Increment("recordsFiltered." + reason)
		return
	}

	handlers, err := manager.HandlersFor(ctx, rec)
	if err != nil {
		task.Metrics.Increment("recordsErrored")
		ll.Error("record routing failed", slog.Any("error", err))
		return
	}

	// A handler fault is isolated to this (record, handler) pair: the other
	// handlers still receive the record and the loop continues.
	failed := false
	for _, h := range handlers {
		if err := h.Handle(ctx, task, rec); err != nil {
			failed = true
			ll.Error("handler failed for record",
				slog.String("kind", h.Kind()),
				slog.Any("error", err))
		}
	}
	if failed {
		task.Metrics.Increment("recordsErrored")
		return
	}
	task.Metrics.Increment("recordsProcessed")
	if hc := rec.String("healthCode"); hc != "" {
		task.Metrics.AddUnique("uniqueHealthCodes", hc)
	}
}

// endOfStream commits every handler's buffer. The first run-fatal fault
// aborts the remaining commits.
func (p *Processor) endOfStream(ctx context.Context, task *Task, manager *Manager) error {
	for _, h := range manager.All() {
		if err := h.Commit(ctx, task); err != nil {
			return fmt.Errorf("commit %s: %w", h.Kind(), err)
		}
	}
	return nil
}
