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

// Package filestore provides run-scoped staging workspaces on top of an
// afero filesystem. Each export run gets its own temp directory; everything
// staged for the run lives under it and is removed when the run ends.
package filestore

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// Store hands out workspaces. Backed by the OS filesystem in production and
// by an in-memory filesystem in tests.
type Store struct {
	fs   afero.Fs
	root string
}

// New returns a Store backed by the OS filesystem, rooted at the system
// temp directory.
func New() *Store {
	return &Store{fs: afero.NewOsFs(), root: os.TempDir()}
}

// NewMem returns a Store backed by an in-memory filesystem. Tests use it to
// assert that a run leaves nothing behind.
func NewMem() *Store {
	return &Store{fs: afero.NewMemMapFs(), root: "/tmp"}
}

// Fs exposes the underlying filesystem for collaborators that stage files
// directly into a workspace.
func (s *Store) Fs() afero.Fs {
	return s.fs
}

// NewWorkspace creates a fresh temp directory for one run.
func (s *Store) NewWorkspace(prefix string) (*Workspace, error) {
	dir, err := afero.TempDir(s.fs, s.root, prefix)
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	return &Workspace{fs: s.fs, dir: dir}, nil
}

// Empty reports whether any workspace files remain under the store root.
// Only meaningful for in-memory stores, where the root is exclusively ours.
func (s *Store) Empty() (bool, error) {
	entries, err := afero.ReadDir(s.fs, s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, err
	}
	return len(entries) == 0, nil
}

// Workspace is the staging directory for a single export run.
type Workspace struct {
	fs  afero.Fs
	dir string
}

// Dir returns the workspace directory path.
func (w *Workspace) Dir() string {
	return w.dir
}

// Create creates (or truncates) a staging file with the given base name.
func (w *Workspace) Create(name string) (afero.File, error) {
	return w.fs.Create(filepath.Join(w.dir, name))
}

// TempFile creates a uniquely-named staging file with the given pattern.
func (w *Workspace) TempFile(pattern string) (afero.File, error) {
	return afero.TempFile(w.fs, w.dir, pattern)
}

// Open opens an existing staging file for reading.
func (w *Workspace) Open(path string) (afero.File, error) {
	return w.fs.Open(path)
}

// Remove deletes a single staging file.
func (w *Workspace) Remove(path string) error {
	return w.fs.Remove(path)
}

// Close removes the workspace directory and everything in it.
func (w *Workspace) Close() error {
	return w.fs.RemoveAll(w.dir)
}
