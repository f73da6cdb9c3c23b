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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/cardinalhq/tablerunner/internal/logctx"
	"github.com/cardinalhq/tablerunner/internal/records"
	"github.com/cardinalhq/tablerunner/internal/schemaregistry"
	"github.com/cardinalhq/tablerunner/internal/tableapi"
)

const (
	maxExternalIDSize = 128
	maxClientInfoSize = 48
)

// commonColumns is the fixed column prefix shared by every table kind.
// Handler-specific columns follow it when a new remote table is created.
var commonColumns = []tableapi.Column{
	{Name: "recordId", Type: tableapi.ColumnTypeString, MaximumSize: 36},
	{Name: "healthCode", Type: tableapi.ColumnTypeString, MaximumSize: 36},
	{Name: "externalId", Type: tableapi.ColumnTypeString, MaximumSize: maxExternalIDSize},
	{Name: "dataGroups", Type: tableapi.ColumnTypeString, MaximumSize: 100},
	{Name: "uploadDate", Type: tableapi.ColumnTypeString, MaximumSize: 10},
	{Name: "createdOn", Type: tableapi.ColumnTypeDate},
	{Name: "appVersion", Type: tableapi.ColumnTypeString, MaximumSize: maxClientInfoSize},
	{Name: "phoneInfo", Type: tableapi.ColumnTypeString, MaximumSize: maxClientInfoSize},
}

// TableSpec is what a concrete table kind contributes: its registry identity,
// its columns beyond the common prefix, and the per-record field extraction.
type TableSpec interface {
	// RegistryKey identifies the kind in the schema registry. The key value
	// doubles as the remote table name.
	RegistryKey() schemaregistry.Key

	// Columns returns the handler-specific schema columns, excluding the
	// common prefix.
	Columns() []tableapi.Column

	// ExtractFields produces the handler-specific row fields for one record.
	// May fail per record (attachment download, malformed payload).
	ExtractFields(ctx context.Context, rec records.Record) (map[string]string, error)
}

// Env is the shared collaborator set handlers run against.
type Env struct {
	Registry    schemaregistry.Registry
	API         tableapi.Client
	PrincipalID int64
}

// Handler exports one table kind for one study. It lazily initializes its
// remote table and row buffer on the first record of a run, appends one row
// per record, and bulk-commits at end of stream.
type Handler struct {
	spec  TableSpec
	study schemaregistry.Study
	env   *Env

	mu sync.Mutex
}

func NewHandler(spec TableSpec, study schemaregistry.Study, env *Env) *Handler {
	return &Handler{spec: spec, study: study, env: env}
}

// Kind is the buffer-state key for this handler; it equals the remote table
// name.
func (h *Handler) Kind() string {
	return h.spec.RegistryKey().Value
}

// Handle routes one record into this handler's buffer, initializing the
// buffer and remote table on first use.
func (h *Handler) Handle(ctx context.Context, task *Task, rec records.Record) error {
	if err := h.handle(ctx, task, rec); err != nil {
		task.Metrics.Increment(h.Kind() + ".errorCount")
		return err
	}
	task.Metrics.Increment(h.Kind() + ".lineCount")
	return nil
}

func (h *Handler) handle(ctx context.Context, task *Task, rec records.Record) error {
	buf := h.buffer(ctx, task)

	fields, err := h.spec.ExtractFields(ctx, rec)
	if err != nil {
		return fmt.Errorf("extract fields for record %s: %w", rec.ID, err)
	}
	row := h.commonRow(task, rec)
	maps.Copy(row, fields)
	return buf.WriteRow(rec.ID, row)
}

// buffer returns this (task, kind)'s buffer, creating it at most once even
// under concurrent first arrivals. The re-check after acquiring the lock is
// required: remote table creation is non-idempotent.
func (h *Handler) buffer(ctx context.Context, task *Task) *RowBuffer {
	if b := task.BufferState(h.Kind()); b != nil {
		return b
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if b := task.BufferState(h.Kind()); b != nil {
		return b
	}
	b := h.newBuffer(ctx, task)
	task.SetBufferState(h.Kind(), b)
	return b
}

func (h *Handler) newBuffer(ctx context.Context, task *Task) *RowBuffer {
	cols, err := h.tableColumns(ctx)
	if err != nil {
		logctx.FromContext(ctx).Error("table initialization failed",
			slog.String("kind", h.Kind()),
			slog.Any("error", err))
		return NewFailedRowBuffer(fmt.Errorf("initialize table %s: %w", h.Kind(), err))
	}
	names := make([]string, len(cols))
	for i, col := range cols {
		names[i] = col.Name
	}
	return NewRowBuffer(task.Workspace, h.Kind()+".tsv", names)
}

// tableColumns resolves the schema for this run. An already-registered table
// is authoritative: its fetched column order is used as-is, never diffed
// against the handler's own declarations.
func (h *Handler) tableColumns(ctx context.Context) ([]tableapi.Column, error) {
	key := h.spec.RegistryKey()
	id, err := h.env.Registry.LookupTableID(ctx, key)
	if errors.Is(err, schemaregistry.ErrNotRegistered) {
		return h.createTable(ctx, key)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup table id: %w", err)
	}
	cols, err := h.env.API.GetColumns(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get columns for table %s: %w", id, err)
	}
	return cols, nil
}

func (h *Handler) createTable(ctx context.Context, key schemaregistry.Key) ([]tableapi.Column, error) {
	want := append(slices.Clone(commonColumns), h.spec.Columns()...)
	created, err := h.env.API.CreateColumns(ctx, want)
	if err != nil {
		return nil, fmt.Errorf("create columns: %w", err)
	}
	if len(created) != len(want) {
		return nil, fmt.Errorf("created %d columns, want %d", len(created), len(want))
	}

	columnIDs := make([]string, len(created))
	for i, col := range created {
		columnIDs[i] = col.ID
	}
	tableID, err := h.env.API.CreateTable(ctx, key.Value, h.study.ProjectID, columnIDs)
	if err != nil {
		return nil, fmt.Errorf("create table %s: %w", key.Value, err)
	}
	if err := h.env.API.SetAccessControl(ctx, tableID, h.env.PrincipalID, h.study.ReadTeamID); err != nil {
		return nil, fmt.Errorf("set acl on table %s: %w", tableID, err)
	}
	if err := h.env.Registry.RegisterTableID(ctx, key, tableID); err != nil {
		return nil, fmt.Errorf("register table %s: %w", tableID, err)
	}

	logctx.FromContext(ctx).Info("created remote table",
		slog.String("kind", h.Kind()),
		slog.String("tableId", tableID),
		slog.String("projectId", h.study.ProjectID))
	return created, nil
}

func (h *Handler) commonRow(task *Task, rec records.Record) map[string]string {
	row := map[string]string{
		"recordId":   rec.ID,
		"healthCode": rec.String("healthCode"),
		"externalId": truncate(rec.String("externalId"), maxExternalIDSize),
		"dataGroups": strings.Join(rec.StringSet("dataGroups"), ","),
		"uploadDate": task.RunDate,
		"createdOn":  strconv.FormatInt(rec.Int64("createdOn"), 10),
	}

	var meta struct {
		AppVersion string `json:"appVersion"`
		PhoneInfo  string `json:"phoneInfo"`
	}
	if raw := rec.String("metadata"); raw != "" {
		// Malformed client metadata loses these two fields, nothing else.
		_ = json.Unmarshal([]byte(raw), &meta)
	}
	row["appVersion"] = truncate(meta.AppVersion, maxClientInfoSize)
	row["phoneInfo"] = truncate(meta.PhoneInfo, maxClientInfoSize)
	return row
}

// Commit finalizes this handler's buffer and bulk-uploads it. The remote
// lines-processed count must match the staged line count; a mismatch means
// silent data loss and aborts the run.
func (h *Handler) Commit(ctx context.Context, task *Task) error {
	b := task.BufferState(h.Kind())
	if b == nil {
		return nil
	}
	if err := b.Finalize(); err != nil {
		return fmt.Errorf("finalize buffer %s: %w", h.Kind(), err)
	}
	if b.LineCount() == 0 {
		return b.Discard()
	}

	key := h.spec.RegistryKey()
	tableID, err := h.env.Registry.LookupTableID(ctx, key)
	if err != nil {
		return fmt.Errorf("lookup table id for commit of %s: %w", h.Kind(), err)
	}
	file, err := task.Workspace.Open(b.Path())
	if err != nil {
		return fmt.Errorf("open staging file %s: %w", b.Path(), err)
	}
	linesProcessed, err := h.env.API.Upload(ctx, h.study.ProjectID, tableID, file)
	_ = file.Close()
	if err != nil {
		return fmt.Errorf("upload %s to table %s: %w", h.Kind(), tableID, err)
	}
	if linesProcessed != b.LineCount() {
		return &ConsistencyError{TableID: tableID, LineCount: b.LineCount(), LinesProcessed: linesProcessed}
	}

	logctx.FromContext(ctx).Info("committed table",
		slog.String("kind", h.Kind()),
		slog.String("tableId", tableID),
		slog.Int64("lines", b.LineCount()))
	return b.Discard()
}

// truncate limits s to max characters without splitting a rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
