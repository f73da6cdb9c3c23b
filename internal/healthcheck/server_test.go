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

package healthcheck

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func statusOf(t *testing.T, handler http.HandlerFunc) (int, Response) {
	t.Helper()
	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	var resp Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return rec.Code, resp
}

func TestHealthz(t *testing.T) {
	s := NewServer(0)

	code, resp := statusOf(t, s.healthzHandler)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.False(t, resp.Healthy)

	s.SetStatus(StatusHealthy)
	code, resp = statusOf(t, s.healthzHandler)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, resp.Healthy)
}

func TestReadyz(t *testing.T) {
	s := NewServer(0)

	code, _ := statusOf(t, s.readyzHandler)
	assert.Equal(t, http.StatusServiceUnavailable, code)

	s.SetReady(true)
	code, _ = statusOf(t, s.readyzHandler)
	assert.Equal(t, http.StatusOK, code)
}

func TestLivez(t *testing.T) {
	s := NewServer(0)

	code, _ := statusOf(t, s.livezHandler)
	assert.Equal(t, http.StatusOK, code)

	s.SetStatus(StatusUnhealthy)
	code, _ = statusOf(t, s.livezHandler)
	assert.Equal(t, http.StatusServiceUnavailable, code)
}
