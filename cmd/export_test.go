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

package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/tablerunner/internal/exporter"
)

func TestBuildRequestFromFlags(t *testing.T) {
	req, err := buildRequest("", "2025-06-01", "", "", "", "nightly", "shared", []string{"study-a"}, []string{"summary"})
	require.NoError(t, err)

	assert.Equal(t, "2025-06-01", req.Date)
	assert.Equal(t, "nightly", req.Tag)
	assert.Equal(t, exporter.SharingModeShared, req.SharingMode)
	assert.Equal(t, []string{"study-a"}, req.StudyWhitelist)
	assert.Equal(t, []string{"summary"}, req.TableWhitelist)
}

func TestBuildRequestRange(t *testing.T) {
	req, err := buildRequest("", "", "2025-06-01T00:00:00Z", "2025-06-02T00:00:00Z", "", "", "", []string{"study-a"}, nil)
	require.NoError(t, err)

	require.NotNil(t, req.StartDateTime)
	require.NotNil(t, req.EndDateTime)
	assert.True(t, req.StartDateTime.Before(*req.EndDateTime))
}

func TestBuildRequestFileWithFlagOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "request.json")
	payload := `{"date":"2025-06-01","tag":"fromfile","sharingMode":"public_only"}`
	require.NoError(t, os.WriteFile(path, []byte(payload), 0o644))

	req, err := buildRequest(path, "", "", "", "", "override", "", nil, nil)
	require.NoError(t, err)

	assert.Equal(t, "2025-06-01", req.Date)
	assert.Equal(t, "override", req.Tag)
	assert.Equal(t, exporter.SharingModePublicOnly, req.SharingMode)
}

func TestBuildRequestInvalid(t *testing.T) {
	_, err := buildRequest("", "", "", "", "", "", "", nil, nil)
	assert.Error(t, err)

	_, err = buildRequest("", "not-a-date", "", "", "", "", "", nil, nil)
	assert.Error(t, err)

	_, err = buildRequest("", "", "bogus", "", "", "", "", nil, nil)
	assert.Error(t, err)
}
