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

package filestore

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkspaceLifecycle(t *testing.T) {
	store := NewMem()

	ws, err := store.NewWorkspace("export-")
	require.NoError(t, err)

	f, err := ws.Create("summary.tsv")
	require.NoError(t, err)
	_, err = f.WriteString("hello\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	data, err := afero.ReadFile(store.Fs(), f.Name())
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(data))

	empty, err := store.Empty()
	require.NoError(t, err)
	assert.False(t, empty)

	require.NoError(t, ws.Close())

	empty, err = store.Empty()
	require.NoError(t, err)
	assert.True(t, empty, "closing the workspace must remove all staged files")
}

func TestWorkspaceRemoveSingleFile(t *testing.T) {
	store := NewMem()

	ws, err := store.NewWorkspace("export-")
	require.NoError(t, err)

	f, err := ws.TempFile("*-answers.json")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, ws.Remove(f.Name()))

	_, err = ws.Open(f.Name())
	assert.Error(t, err)

	require.NoError(t, ws.Close())
}
