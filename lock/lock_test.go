// Package lock
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
package lock

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vfsimage/internal/id"
)

func ids(n int) []ulid.ULID {
	out := make([]ulid.ULID, n)
	for i := range out {
		out[i] = id.NewGenerator().Generate()
	}
	return out
}

func TestReadersShareWriterExcludes(t *testing.T) {
	c := NewCoordinator()
	file := id.NewGenerator().Generate()

	r1, err := c.Lock(file, nil, Read)
	require.NoError(t, err)
	r2, err := c.Lock(file, nil, Read)
	require.NoError(t, err)

	_, err = c.Lock(file, nil, Write)
	assert.ErrorIs(t, err, ErrCannotAcquire)

	readers, writer := c.Holders(file)
	assert.Equal(t, 2, readers)
	assert.False(t, writer)

	require.NoError(t, c.Release(r1))
	require.NoError(t, c.Release(r2))
	assert.False(t, c.IsFileLocked(file))

	w, err := c.Lock(file, nil, Write)
	require.NoError(t, err)
	_, err = c.Lock(file, nil, Read)
	assert.ErrorIs(t, err, ErrCannotAcquire)
	_, err = c.Lock(file, nil, Write)
	assert.ErrorIs(t, err, ErrCannotAcquire)

	require.NoError(t, c.Release(w))
	assert.Equal(t, 0, c.Count())
}

func TestAncestorsArePinned(t *testing.T) {
	c := NewCoordinator()
	folders := ids(3)
	fileA, fileB := id.NewGenerator().Generate(), id.NewGenerator().Generate()

	a, err := c.Lock(fileA, folders, Read)
	require.NoError(t, err)
	b, err := c.Lock(fileB, folders[:2], Write)
	require.NoError(t, err)

	for _, f := range folders {
		assert.True(t, c.IsFolderLocked(f))
	}

	require.NoError(t, c.Release(a))
	assert.True(t, c.IsFolderLocked(folders[0]))
	assert.True(t, c.IsFolderLocked(folders[1]))
	assert.False(t, c.IsFolderLocked(folders[2]))

	require.NoError(t, c.Release(b))
	for _, f := range folders {
		assert.False(t, c.IsFolderLocked(f))
	}
}

func TestFailedAcquireChangesNothing(t *testing.T) {
	c := NewCoordinator()
	folders := ids(2)
	file := id.NewGenerator().Generate()

	w, err := c.Lock(file, nil, Write)
	require.NoError(t, err)

	_, err = c.Lock(file, folders, Read)
	assert.ErrorIs(t, err, ErrCannotAcquire)
	assert.False(t, c.IsFolderLocked(folders[0]))
	assert.Equal(t, 1, c.Count())

	require.NoError(t, c.Release(w))
}

func TestTokenRules(t *testing.T) {
	c := NewCoordinator()
	file := id.NewGenerator().Generate()
	token := uuid.New()

	require.NoError(t, c.Acquire(token, file, nil, Read))
	assert.ErrorIs(t, c.Acquire(token, file, nil, Read), ErrAlreadyHeld)

	require.NoError(t, c.Release(token))
	assert.ErrorIs(t, c.Release(token), ErrNotFound)
	assert.Error(t, c.Acquire(uuid.New(), file, nil, Kind(9)))
}

func TestConcurrentReaders(t *testing.T) {
	c := NewCoordinator()
	file := id.NewGenerator().Generate()
	folders := ids(2)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token, err := c.Lock(file, folders, Read)
			if !assert.NoError(t, err) {
				return
			}
			assert.NoError(t, c.Release(token))
		}()
	}
	wg.Wait()

	assert.False(t, c.IsFileLocked(file))
	assert.False(t, c.IsFolderLocked(folders[0]))
	assert.Equal(t, 0, c.Count())
}
