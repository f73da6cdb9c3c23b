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
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/tablerunner/internal/records"
	"github.com/cardinalhq/tablerunner/internal/schemaregistry"
)

var testStudy = schemaregistry.Study{ID: "study-a", ProjectID: "proj-1", ReadTeamID: 77}

func newTestTask(t *testing.T) *Task {
	t.Helper()
	_, ws := newTestWorkspace(t)
	return NewTask(ws, "2026-01-15", "")
}

func summaryRecord(id string) records.Record {
	return records.Record{
		ID: id,
		Fields: map[string]any{
			"studyId":          "study-a",
			"healthCode":       "hc-" + id,
			"userSharingScope": ScopePublic,
			"dataGroups":       []string{"zeta", "alpha"},
			"createdOn":        int64(1456789012345),
			"tableKey":         "tableA",
			"metadata":         `{"appVersion":"version 1.0.2, build 8","phoneInfo":"iPhone 17"}`,
		},
	}
}

func TestHandlerCreatesTableOnFirstUse(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI()
	registry := schemaregistry.NewMemoryRegistry()
	env := &Env{Registry: registry, API: api, PrincipalID: 12345}
	h := NewHandler(summarySpec{tableName: "study-a-summary"}, testStudy, env)
	task := newTestTask(t)

	require.NoError(t, h.Handle(ctx, task, summaryRecord("rec-1")))

	assert.Equal(t, 1, api.tableCreations())
	tableID, err := registry.LookupTableID(ctx, h.spec.RegistryKey())
	require.NoError(t, err)
	assert.Equal(t, [2]int64{12345, 77}, api.aclByTable[tableID])

	b := task.BufferState("study-a-summary")
	require.NotNil(t, b)
	assert.Equal(t, int64(1), b.LineCount())
	// Column order is common prefix then handler columns.
	assert.Equal(t, []string{
		"recordId", "healthCode", "externalId", "dataGroups",
		"uploadDate", "createdOn", "appVersion", "phoneInfo",
		"originalTable",
	}, b.Columns())

	assert.Equal(t, int64(1), task.Metrics.Counter("study-a-summary.lineCount"))
}

func TestHandlerConcurrentFirstUseCreatesOneTable(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI()
	env := &Env{Registry: schemaregistry.NewMemoryRegistry(), API: api, PrincipalID: 12345}
	h := NewHandler(summarySpec{tableName: "study-a-summary"}, testStudy, env)
	task := newTestTask(t)

	const n = 16
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, h.Handle(ctx, task, summaryRecord(fmt.Sprintf("rec-%d", i))))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, api.tableCreations())
	b := task.BufferState("study-a-summary")
	require.NotNil(t, b)
	assert.Equal(t, int64(n), b.LineCount())
}

func TestHandlerUsesRegisteredTableSchema(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI()
	registry := schemaregistry.NewMemoryRegistry()
	h := NewHandler(summarySpec{tableName: "study-a-summary"}, testStudy,
		&Env{Registry: registry, API: api, PrincipalID: 12345})
	task := newTestTask(t)

	// A registered table's remote column order is authoritative, even when
	// it differs from the handler's own declarations.
	require.NoError(t, registry.RegisterTableID(ctx, h.spec.RegistryKey(), "tbl-existing"))
	api.columnsByTable["tbl-existing"] = columnsNamed("healthCode", "recordId", "legacyField")

	require.NoError(t, h.Handle(ctx, task, summaryRecord("rec-1")))

	assert.Equal(t, 0, api.tableCreations())
	b := task.BufferState("study-a-summary")
	require.NotNil(t, b)
	assert.Equal(t, []string{"healthCode", "recordId", "legacyField"}, b.Columns())
}

func TestHandlerCommonRowFields(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI()
	registry := schemaregistry.NewMemoryRegistry()
	env := &Env{Registry: registry, API: api, PrincipalID: 12345}
	h := NewHandler(summarySpec{tableName: "study-a-summary"}, testStudy, env)
	task := newTestTask(t)

	rec := summaryRecord("rec-1")
	rec.Fields["externalId"] = strings.Repeat("x", 200)
	require.NoError(t, h.Handle(ctx, task, rec))
	require.NoError(t, h.Commit(ctx, task))

	tableID, err := registry.LookupTableID(ctx, h.spec.RegistryKey())
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(api.upload(tableID), "\n"), "\n")
	require.Len(t, lines, 2)
	fields := strings.Split(lines[1], "\t")
	require.Len(t, fields, 9)
	assert.Equal(t, "rec-1", fields[0])
	assert.Equal(t, "hc-rec-1", fields[1])
	assert.Len(t, fields[2], maxExternalIDSize)
	// Grouping labels are sorted regardless of input order.
	assert.Equal(t, "alpha,zeta", fields[3])
	assert.Equal(t, "2026-01-15", fields[4])
	assert.Equal(t, "1456789012345", fields[5])
	assert.Equal(t, "version 1.0.2, build 8", fields[6])
	assert.Equal(t, "iPhone 17", fields[7])
	assert.Equal(t, "tableA", fields[8])
}

func TestHandlerCommit(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI()
	registry := schemaregistry.NewMemoryRegistry()
	h := NewHandler(summarySpec{tableName: "study-a-summary"}, testStudy,
		&Env{Registry: registry, API: api, PrincipalID: 12345})
	store, ws := newTestWorkspace(t)
	task := NewTask(ws, "2026-01-15", "")

	require.NoError(t, h.Handle(ctx, task, summaryRecord("rec-1")))
	require.NoError(t, h.Handle(ctx, task, summaryRecord("rec-2")))
	b := task.BufferState("study-a-summary")
	require.NoError(t, h.Commit(ctx, task))

	tableID, err := registry.LookupTableID(ctx, h.spec.RegistryKey())
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(api.upload(tableID), "\n"))

	// Artifact is deleted after a verified upload.
	_, err = store.Fs().Stat(b.Path())
	assert.Error(t, err)
}

func TestHandlerCommitNoBuffer(t *testing.T) {
	h := NewHandler(summarySpec{tableName: "study-a-summary"}, testStudy,
		&Env{Registry: schemaregistry.NewMemoryRegistry(), API: newFakeAPI(), PrincipalID: 12345})
	assert.NoError(t, h.Commit(context.Background(), newTestTask(t)))
}

func TestHandlerCommitEmptyBufferSkipsUpload(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI()
	h := NewHandler(
		surveySpec{tableName: "study-a-survey", fetcher: failingFetcher{}, bucket: "attachments"},
		testStudy,
		&Env{Registry: schemaregistry.NewMemoryRegistry(), API: api, PrincipalID: 12345})
	task := newTestTask(t)

	rec := summaryRecord("rec-1")
	rec.Fields["type"] = KindSurvey
	rec.Fields["answersAttachmentKey"] = "a/rec-1.json"
	// Buffer init succeeds; the per-record extraction fails afterward.
	require.Error(t, h.Handle(ctx, task, rec))
	assert.Equal(t, int64(1), task.Metrics.Counter("study-a-survey.errorCount"))

	require.NoError(t, h.Commit(ctx, task))
	assert.Empty(t, api.uploadsByTable)
}

func TestHandlerCommitConsistencyMismatch(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI()
	api.linesProcessedDelta = -1
	h := NewHandler(summarySpec{tableName: "study-a-summary"}, testStudy,
		&Env{Registry: schemaregistry.NewMemoryRegistry(), API: api, PrincipalID: 12345})
	task := newTestTask(t)

	require.NoError(t, h.Handle(ctx, task, summaryRecord("rec-1")))
	err := h.Commit(ctx, task)
	var ce *ConsistencyError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, int64(1), ce.LineCount)
	assert.Equal(t, int64(0), ce.LinesProcessed)
}

func TestHandlerInitFaultPoisonsRun(t *testing.T) {
	ctx := context.Background()
	cause := errors.New("registry down")
	h := NewHandler(summarySpec{tableName: "study-a-summary"}, testStudy,
		&Env{Registry: failingRegistry{err: cause}, API: newFakeAPI(), PrincipalID: 12345})
	task := newTestTask(t)

	// Every record routed here fails with the stored fault; init is not
	// retried within the task.
	require.ErrorIs(t, h.Handle(ctx, task, summaryRecord("rec-1")), cause)
	require.ErrorIs(t, h.Handle(ctx, task, summaryRecord("rec-2")), cause)
	assert.Equal(t, int64(2), task.Metrics.Counter("study-a-summary.errorCount"))

	// The stored fault surfaces again at commit.
	require.ErrorIs(t, h.Commit(ctx, task), cause)
}

func TestTruncateKeepsRuneBoundaries(t *testing.T) {
	ascii := strings.Repeat("a", maxExternalIDSize)
	assert.Equal(t, ascii, truncate(ascii, maxExternalIDSize))
	assert.Equal(t, ascii, truncate(ascii+"bcd", maxExternalIDSize))

	// A multi-byte rune straddling the limit is dropped whole, never split.
	long := strings.Repeat("a", maxExternalIDSize-1) + "日本語"
	got := truncate(long, maxExternalIDSize)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, maxExternalIDSize, utf8.RuneCountInString(got))
	assert.Equal(t, strings.Repeat("a", maxExternalIDSize-1)+"日", got)

	short := strings.Repeat("日", maxClientInfoSize)
	assert.Equal(t, short, truncate(short, maxClientInfoSize))
}

type failingRegistry struct {
	err error
}

func (r failingRegistry) LookupTableID(context.Context, schemaregistry.Key) (string, error) {
	return "", r.err
}

func (r failingRegistry) RegisterTableID(context.Context, schemaregistry.Key, string) error {
	return r.err
}
