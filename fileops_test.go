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

func TestCreateFile(t *testing.T) {
	fs := newTestFS(t, 100)

	info, err := fs.CreateFile("/notes.txt")
	require.NoError(t, err)
	assert.Equal(t, "notes.txt", info.Name)
	assert.Equal(t, "/notes.txt", info.Path)
	assert.Zero(t, info.Size)
	assert.False(t, info.CreatedAt.IsZero())
	assert.Equal(t, info.CreatedAt, info.ModifiedAt)

	files, err := fs.GetAllFilesFrom("/")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, info.ID, files[0].ID)
	verifyClean(t, fs)
}

func TestCreateFileErrors(t *testing.T) {
	fs := newTestFS(t, 100)
	_, err := fs.CreateFile("/taken")
	require.NoError(t, err)
	_, err = fs.CreateFolder("/dir")
	require.NoError(t, err)

	tests := []struct {
		name string
		path string
		want error
	}{
		{"existing file", "/TAKEN", ErrFileAlreadyExists},
		{"existing folder", "/Dir", ErrFolderAlreadyExists},
		{"missing parent", "/nowhere/a", ErrFolderNotFound},
		{"relative", "a", ErrInvalidPath},
		{"root", "/", ErrInvalidPath},
		{"illegal character", "/a:b", ErrInvalidPath},
		{"empty segment", "/dir//a", ErrInvalidPath},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fs.CreateFile(tt.path)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	verifyClean(t, fs)
}

func TestDeleteFileReturnsEveryBlock(t *testing.T) {
	fs := newTestFS(t, testBlocks)
	free := fs.FreeSpaceInBytes()

	_, err := fs.CreateFile("/big")
	require.NoError(t, err)
	writeFile(t, fs, "/big", pattern(3*1024*1024))
	assert.Less(t, fs.FreeSpaceInBytes(), free)

	require.NoError(t, fs.DeleteFile("/BIG"))
	assert.Equal(t, free, fs.FreeSpaceInBytes())

	ok, err := fs.FileExists("/big")
	require.NoError(t, err)
	assert.False(t, ok)
	verifyClean(t, fs)
}

func TestDeleteOpenFileFails(t *testing.T) {
	fs := newTestFS(t, 100)
	_, err := fs.CreateFile("/a")
	require.NoError(t, err)

	f, err := fs.OpenFileForReading("/a")
	require.NoError(t, err)
	assert.ErrorIs(t, fs.DeleteFile("/a"), ErrFileLocked)

	require.NoError(t, f.Close())
	assert.NoError(t, fs.DeleteFile("/a"))
}

func TestRenameFile(t *testing.T) {
	fs := newTestFS(t, 100)
	before, err := fs.CreateFile("/old")
	require.NoError(t, err)
	_, err = fs.CreateFile("/other")
	require.NoError(t, err)

	after, err := fs.RenameFile("/old", "new")
	require.NoError(t, err)
	assert.Equal(t, "/new", after.Path)
	assert.Equal(t, before.ID, after.ID)
	assert.NotEqual(t, before.Version, after.Version)
	assert.Equal(t, before.ModifiedAt, after.ModifiedAt)

	_, err = fs.RenameFile("/new", "OTHER")
	assert.ErrorIs(t, err, ErrFileAlreadyExists)
	_, err = fs.RenameFile("/new", "bad/name")
	assert.ErrorIs(t, err, ErrInvalidName)

	// Changing only the case is allowed.
	_, err = fs.RenameFile("/new", "NEW")
	assert.NoError(t, err)
	ok, err := fs.FileExists("/old")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMoveFile(t *testing.T) {
	fs := newTestFS(t, 200)
	_, err := fs.CreateFolder("/src")
	require.NoError(t, err)
	_, err = fs.CreateFolder("/dst")
	require.NoError(t, err)
	_, err = fs.CreateFile("/src/a")
	require.NoError(t, err)
	writeFile(t, fs, "/src/a", []byte("payload"))

	info, err := fs.MoveFile("/src/a", "/dst")
	require.NoError(t, err)
	assert.Equal(t, "/dst/a", info.Path)
	assert.Equal(t, []byte("payload"), readFile(t, fs, "/dst/a"))

	files, err := fs.GetAllFilesFrom("/src")
	require.NoError(t, err)
	assert.Empty(t, files)

	// A move into the current folder changes nothing.
	again, err := fs.MoveFile("/dst/a", "/dst")
	require.NoError(t, err)
	assert.Equal(t, info.Version, again.Version)
	verifyClean(t, fs)
}

func TestMoveFileErrors(t *testing.T) {
	fs := newTestFS(t, 200)
	_, err := fs.CreateFolder("/dst")
	require.NoError(t, err)
	_, err = fs.CreateFile("/a")
	require.NoError(t, err)
	_, err = fs.CreateFile("/dst/A")
	require.NoError(t, err)

	_, err = fs.MoveFile("/a", "/dst")
	assert.ErrorIs(t, err, ErrFileAlreadyExists)
	_, err = fs.MoveFile("/a", "/missing")
	assert.ErrorIs(t, err, ErrFolderNotFound)
	_, err = fs.MoveFile("/missing", "/dst")
	assert.ErrorIs(t, err, ErrFileNotFound)

	f, err := fs.OpenFileForWriting("/a")
	require.NoError(t, err)
	require.NoError(t, fs.DeleteFile("/dst/A"))
	_, err = fs.MoveFile("/a", "/dst")
	assert.ErrorIs(t, err, ErrFileLocked)
	require.NoError(t, f.Close())

	_, err = fs.MoveFile("/a", "/dst")
	assert.NoError(t, err)
	verifyClean(t, fs)
}

func TestMoveFileWithoutSpace(t *testing.T) {
	fs := newTestFS(t, 60)
	data := pattern(3000)
	for _, p := range []string{"/src", "/dst"} {
		_, err := fs.CreateFolder(p)
		require.NoError(t, err)
	}
	_, err := fs.CreateFile("/src/f")
	require.NoError(t, err)
	writeFile(t, fs, "/src/f", data)
	fillUp(t, fs, "/fill")
	free := fs.FreeSpaceInBytes()

	_, err = fs.MoveFile("/src/f", "/dst")
	assert.ErrorIs(t, err, ErrInsufficientSpace)

	assert.Equal(t, data, readFile(t, fs, "/src/f"))
	moved, err := fs.GetAllFilesFrom("/dst")
	require.NoError(t, err)
	assert.Empty(t, moved)
	assert.Equal(t, free, fs.FreeSpaceInBytes())
	verifyClean(t, fs)
}

func TestCreateRollsBackWhenFull(t *testing.T) {
	fs := newTestFS(t, 40)

	var created int
	for {
		_, err := fs.CreateFile("/f" + string(rune('a'+created%26)) + string(rune('a'+created/26)))
		if err != nil {
			assert.ErrorIs(t, err, ErrInsufficientSpace)
			break
		}
		created++
		require.Less(t, created, 40, "the container never filled up")
	}
	assert.Positive(t, created)

	report := verifyClean(t, fs)
	assert.Equal(t, created, report.Files)
}

func TestSpaceIsConserved(t *testing.T) {
	fs := newTestFS(t, testBlocks)
	free := fs.FreeSpaceInBytes()

	_, err := fs.CreateFolder("/a")
	require.NoError(t, err)
	_, err = fs.CreateFolder("/a/b")
	require.NoError(t, err)
	for _, p := range []string{"/a/one", "/a/b/two", "/three"} {
		_, err := fs.CreateFile(p)
		require.NoError(t, err)
		writeFile(t, fs, p, pattern(5000))
	}
	verifyClean(t, fs)

	for _, p := range []string{"/a/one", "/a/b/two", "/three"} {
		require.NoError(t, fs.DeleteFile(p))
	}
	require.NoError(t, fs.DeleteFolder("/a/b"))
	require.NoError(t, fs.DeleteFolder("/a"))
	assert.Equal(t, free, fs.FreeSpaceInBytes())
	verifyClean(t, fs)
}
