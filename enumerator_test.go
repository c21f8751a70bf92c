// Package vfsimage
// Copyright (C) 2025 Alex Gaetano Padula & VFSLite Contributors
//
// This library is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 2.1 of the License, or (at your option) any later version.
//
// This library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public
// License along with this library; if not, write to the Free Software
// Foundation, Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301  USA
package vfsimage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTree(t *testing.T, fs *FileSystem) {
	t.Helper()
	for _, p := range []string{"/docs", "/docs/old", "/pics", "/pics/2024"} {
		_, err := fs.CreateFolder(p)
		require.NoError(t, err)
	}
	for _, p := range []string{
		"/readme.md",
		"/docs/a.txt", "/docs/b.md", "/docs/old/c.txt",
		"/pics/x.png", "/pics/2024/y.PNG",
	} {
		_, err := fs.CreateFile(p)
		require.NoError(t, err)
	}
}

func collect(t *testing.T, e *Enumerator) []string {
	t.Helper()
	var paths []string
	for info, err := range e.All() {
		require.NoError(t, err)
		paths = append(paths, info.Path)
	}
	return paths
}

func TestEnumerateFiles(t *testing.T) {
	fs := newTestFS(t, 400)
	buildTree(t, fs)

	tests := []struct {
		name    string
		folder  string
		pattern string
		want    []string
	}{
		{"everything", "/", "", []string{
			"/readme.md", "/docs/a.txt", "/docs/b.md", "/docs/old/c.txt", "/pics/x.png", "/pics/2024/y.PNG",
		}},
		{"subtree", "/docs", "", []string{"/docs/a.txt", "/docs/b.md", "/docs/old/c.txt"}},
		{"name pattern", "/", "*.txt", []string{"/docs/a.txt", "/docs/old/c.txt"}},
		{"case insensitive", "/pics", "*.png", []string{"/pics/x.png", "/pics/2024/y.PNG"}},
		{"relative pattern", "/", "docs/*", []string{"/docs/a.txt", "/docs/b.md"}},
		{"double star", "/", "**/old/*", []string{"/docs/old/c.txt"}},
		{"empty folder", "/pics/2024", "*.txt", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := fs.EnumerateFilesUnderFolder(tt.folder, tt.pattern)
			require.NoError(t, err)
			defer e.Close()
			assert.Equal(t, tt.want, collect(t, e))
		})
	}
	assert.Zero(t, fs.enums.count())
}

func TestEnumerateErrors(t *testing.T) {
	fs := newTestFS(t, 100)

	_, err := fs.EnumerateFilesUnderFolder("/missing", "")
	assert.ErrorIs(t, err, ErrFolderNotFound)
	_, err = fs.EnumerateFilesUnderFolder("/", "[")
	assert.ErrorIs(t, err, ErrInvalidPath)
}

func TestEnumeratorInvalidation(t *testing.T) {
	tests := []struct {
		name    string
		folder  string
		change  func(fs *FileSystem) error
		invalid bool
	}{
		{"file created inside", "/docs", func(fs *FileSystem) error {
			_, err := fs.CreateFile("/docs/new")
			return err
		}, true},
		{"file created below", "/docs", func(fs *FileSystem) error {
			_, err := fs.CreateFile("/docs/old/new")
			return err
		}, true},
		{"ancestor renamed", "/docs/old", func(fs *FileSystem) error {
			_, err := fs.RenameFolder("/docs", "papers")
			return err
		}, true},
		{"file moved in", "/docs", func(fs *FileSystem) error {
			_, err := fs.MoveFile("/pics/x.png", "/docs/old")
			return err
		}, true},
		{"sibling changed", "/docs", func(fs *FileSystem) error {
			_, err := fs.CreateFile("/pics/other")
			return err
		}, false},
		{"contents written", "/docs", func(fs *FileSystem) error {
			f, err := fs.OpenFileForWriting("/docs/a.txt")
			if err != nil {
				return err
			}
			if _, err := f.Write([]byte("text")); err != nil {
				return err
			}
			return f.Close()
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := newTestFS(t, 400)
			buildTree(t, fs)

			e, err := fs.EnumerateFilesUnderFolder(tt.folder, "")
			require.NoError(t, err)
			defer e.Close()

			require.True(t, e.Next())
			require.NoError(t, tt.change(fs))

			for e.Next() {
			}
			if tt.invalid {
				assert.ErrorIs(t, e.Err(), ErrEnumeratorInvalidated)
			} else {
				assert.NoError(t, e.Err())
			}
		})
	}
}

func TestFinishedEnumeratorUnregisters(t *testing.T) {
	fs := newTestFS(t, 400)
	buildTree(t, fs)

	done, err := fs.EnumerateFilesUnderFolder("/docs", "")
	require.NoError(t, err)
	broken, err := fs.EnumerateFilesUnderFolder("/pics", "")
	require.NoError(t, err)
	assert.Equal(t, 2, fs.enums.count())

	assert.Len(t, collect(t, done), 3)
	assert.Equal(t, 1, fs.enums.count())

	require.True(t, broken.Next())
	_, err = fs.CreateFile("/pics/late.png")
	require.NoError(t, err)
	for broken.Next() {
	}
	assert.ErrorIs(t, broken.Err(), ErrEnumeratorInvalidated)
	assert.Zero(t, fs.enums.count())

	assert.False(t, done.Next())
	assert.NoError(t, done.Close())
	assert.NoError(t, broken.Close())
	assert.Zero(t, fs.enums.count())
}

func TestCloseInvalidatesEnumerators(t *testing.T) {
	fs := newTestFS(t, 100)
	_, err := fs.CreateFile("/a")
	require.NoError(t, err)

	e, err := fs.EnumerateFilesUnderFolder("/", "")
	require.NoError(t, err)
	require.NoError(t, fs.Close())

	assert.False(t, e.Next())
	assert.ErrorIs(t, e.Err(), ErrClosed)
}
