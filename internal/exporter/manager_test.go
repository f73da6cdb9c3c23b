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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/tablerunner/internal/schemaregistry"
)

func newTestManager(opts ...ManagerOption) *Manager {
	env := &Env{Registry: schemaregistry.NewMemoryRegistry(), API: newFakeAPI(), PrincipalID: 12345}
	return NewManager(env, schemaregistry.NewMemoryStudyStore(testStudy), opts...)
}

func kinds(handlers []*Handler) []string {
	out := make([]string, len(handlers))
	for i, h := range handlers {
		out[i] = h.Kind()
	}
	return out
}

func TestManagerRouting(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(WithAttachmentSource(staticFetcher("{}"), "attachments"))

	handlers, err := m.HandlersFor(ctx, summaryRecord("rec-1"))
	require.NoError(t, err)
	assert.Equal(t, []string{"study-a-summary"}, kinds(handlers))

	rec := summaryRecord("rec-2")
	rec.Fields["type"] = KindSurvey
	handlers, err = m.HandlersFor(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, []string{"study-a-summary", "study-a-survey"}, kinds(handlers))

	rec = summaryRecord("rec-3")
	rec.Fields["type"] = KindFieldData
	handlers, err = m.HandlersFor(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, []string{"study-a-summary", "study-a-fielddata"}, kinds(handlers))

	// Handlers are reused, not recreated, per (study, kind).
	again, err := m.HandlersFor(ctx, summaryRecord("rec-4"))
	require.NoError(t, err)
	assert.Same(t, handlers[0], again[0])

	assert.Equal(t, []string{"study-a-fielddata", "study-a-summary", "study-a-survey"}, kinds(m.All()))
}

func TestManagerUnknownStudy(t *testing.T) {
	m := newTestManager()
	rec := summaryRecord("rec-1")
	rec.Fields["studyId"] = "study-x"
	_, err := m.HandlersFor(context.Background(), rec)
	assert.ErrorIs(t, err, schemaregistry.ErrStudyNotFound)

	rec.Fields["studyId"] = ""
	_, err = m.HandlersFor(context.Background(), rec)
	assert.ErrorContains(t, err, "no studyId")
}

func TestManagerTableWhitelist(t *testing.T) {
	m := newTestManager(WithTableWhitelist([]string{KindSurvey}), WithAttachmentSource(staticFetcher("{}"), "attachments"))

	rec := summaryRecord("rec-1")
	rec.Fields["type"] = KindSurvey
	handlers, err := m.HandlersFor(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, []string{"study-a-survey"}, kinds(handlers))
}

func TestManagerOverrides(t *testing.T) {
	m := newTestManager(
		WithRegistryPrefix("staging-"),
		WithProjectOverrides(map[string]string{"study-a": "proj-staging"}),
	)

	handlers, err := m.HandlersFor(context.Background(), summaryRecord("rec-1"))
	require.NoError(t, err)
	require.Len(t, handlers, 1)
	assert.Equal(t, "staging-study-a-summary", handlers[0].Kind())
	assert.Equal(t, "proj-staging", handlers[0].study.ProjectID)
}
