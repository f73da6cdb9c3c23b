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
	"sort"
	"sync"

	"github.com/cardinalhq/tablerunner/internal/records"
	"github.com/cardinalhq/tablerunner/internal/schemaregistry"
	"github.com/cardinalhq/tablerunner/internal/tableapi"
)

// Base table kinds. Every record gets a summary row; survey and fielddata
// rows depend on the record's type field.
const (
	KindSummary   = "summary"
	KindSurvey    = "survey"
	KindFieldData = "fielddata"
)

const registryKeyName = "tableName"

// summarySpec writes one row per exported record into the study's summary
// table.
type summarySpec struct {
	tableName string
}

func (s summarySpec) RegistryKey() schemaregistry.Key {
	return schemaregistry.Key{Name: registryKeyName, Value: s.tableName}
}

func (s summarySpec) Columns() []tableapi.Column {
	return []tableapi.Column{
		{Name: "originalTable", Type: tableapi.ColumnTypeString, MaximumSize: 128},
	}
}

func (s summarySpec) ExtractFields(_ context.Context, rec records.Record) (map[string]string, error) {
	return map[string]string{
		"originalTable": rec.String("tableKey"),
	}, nil
}

// surveySpec writes survey responses. The answers live in a blob-storage
// attachment referenced by the record, so extraction can fail per record.
type surveySpec struct {
	tableName string
	fetcher   records.ObjectFetcher
	bucket    string
}

func (s surveySpec) RegistryKey() schemaregistry.Key {
	return schemaregistry.Key{Name: registryKeyName, Value: s.tableName}
}

func (s surveySpec) Columns() []tableapi.Column {
	return []tableapi.Column{
		{Name: "surveyId", Type: tableapi.ColumnTypeString, MaximumSize: 60},
		{Name: "answers", Type: tableapi.ColumnTypeLargeText},
	}
}

func (s surveySpec) ExtractFields(ctx context.Context, rec records.Record) (map[string]string, error) {
	key := rec.String("answersAttachmentKey")
	if key == "" {
		return nil, fmt.Errorf("record %s has no answers attachment", rec.ID)
	}
	body, err := s.fetcher.Fetch(ctx, s.bucket, key)
	if err != nil {
		return nil, fmt.Errorf("fetch answers attachment: %w", err)
	}
	defer body.Close()
	answers, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read answers attachment: %w", err)
	}
	return map[string]string{
		"surveyId": rec.String("surveyId"),
		"answers":  string(answers),
	}, nil
}

// fieldDataSpec writes generic field data carried inline on the record.
type fieldDataSpec struct {
	tableName string
}

func (s fieldDataSpec) RegistryKey() schemaregistry.Key {
	return schemaregistry.Key{Name: registryKeyName, Value: s.tableName}
}

func (s fieldDataSpec) Columns() []tableapi.Column {
	return []tableapi.Column{
		{Name: "metadata", Type: tableapi.ColumnTypeLargeText},
		{Name: "data", Type: tableapi.ColumnTypeLargeText},
	}
}

func (s fieldDataSpec) ExtractFields(_ context.Context, rec records.Record) (map[string]string, error) {
	return map[string]string{
		"metadata": rec.String("userMetadata"),
		"data":     rec.String("data"),
	}, nil
}

// Manager routes records to handlers. Handlers are created on demand per
// (study, base kind) and live for the length of one run.
type Manager struct {
	env       *Env
	studies   schemaregistry.StudyStore
	fetcher   records.ObjectFetcher
	bucket    string
	prefix    string
	overrides map[string]string
	tables    map[string]struct{}

	mu       sync.Mutex
	handlers map[string]*Handler
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithRegistryPrefix namespaces registry keys and table names, for redirected
// runs.
func WithRegistryPrefix(prefix string) ManagerOption {
	return func(m *Manager) {
		m.prefix = prefix
	}
}

// WithProjectOverrides redirects the given studies' tables to alternate
// destination projects.
func WithProjectOverrides(overrides map[string]string) ManagerOption {
	return func(m *Manager) {
		m.overrides = overrides
	}
}

// WithTableWhitelist restricts routing to the given base kinds.
func WithTableWhitelist(kinds []string) ManagerOption {
	return func(m *Manager) {
		if len(kinds) == 0 {
			return
		}
		m.tables = make(map[string]struct{}, len(kinds))
		for _, kind := range kinds {
			m.tables[kind] = struct{}{}
		}
	}
}

// WithAttachmentSource sets the blob store survey answers are fetched from.
func WithAttachmentSource(fetcher records.ObjectFetcher, bucket string) ManagerOption {
	return func(m *Manager) {
		m.fetcher = fetcher
		m.bucket = bucket
	}
}

func NewManager(env *Env, studies schemaregistry.StudyStore, opts ...ManagerOption) *Manager {
	m := &Manager{
		env:      env,
		studies:  studies,
		handlers: make(map[string]*Handler),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// HandlersFor returns the handlers the record routes to.
func (m *Manager) HandlersFor(ctx context.Context, rec records.Record) ([]*Handler, error) {
	studyID := rec.String("studyId")
	if studyID == "" {
		return nil, fmt.Errorf("record %s has no studyId", rec.ID)
	}
	study, err := m.studies.GetStudy(ctx, studyID)
	if err != nil {
		return nil, fmt.Errorf("resolve study for record %s: %w", rec.ID, err)
	}
	if projectID, ok := m.overrides[studyID]; ok {
		study.ProjectID = projectID
	}

	kinds := []string{KindSummary}
	switch rec.String("type") {
	case KindSurvey:
		kinds = append(kinds, KindSurvey)
	case KindFieldData:
		kinds = append(kinds, KindFieldData)
	}

	var handlers []*Handler
	for _, kind := range kinds {
		if m.tables != nil {
			if _, ok := m.tables[kind]; !ok {
				continue
			}
		}
		handlers = append(handlers, m.handlerFor(kind, study))
	}
	return handlers, nil
}

// All returns every handler created so far, sorted by kind for a
// deterministic commit order.
func (m *Manager) All() []*Handler {
	m.mu.Lock()
	defer m.mu.Unlock()
	handlers := make([]*Handler, 0, len(m.handlers))
	for _, h := range m.handlers {
		handlers = append(handlers, h)
	}
	sort.Slice(handlers, func(i, j int) bool { return handlers[i].Kind() < handlers[j].Kind() })
	return handlers
}

func (m *Manager) handlerFor(kind string, study schemaregistry.Study) *Handler {
	tableName := m.prefix + study.ID + "-" + kind

	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.handlers[tableName]; ok {
		return h
	}

	var spec TableSpec
	switch kind {
	case KindSurvey:
		spec = surveySpec{tableName: tableName, fetcher: m.fetcher, bucket: m.bucket}
	case KindFieldData:
		spec = fieldDataSpec{tableName: tableName}
	default:
		spec = summarySpec{tableName: tableName}
	}
	h := NewHandler(spec, study, m.env)
	m.handlers[tableName] = h
	return h
}
