// Package lock tracks read and write locks on open files and pins every
// folder above a locked file so it cannot be renamed, moved or deleted.
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
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	ErrCannotAcquire = errors.New("lock is held by another token")
	ErrAlreadyHeld   = errors.New("token already holds a lock")
	ErrNotFound      = errors.New("lock token not found")
)

// Kind is the access a lock grants.
type Kind uint8

const (
	Read Kind = iota + 1
	Write
)

func (k Kind) String() string {
	switch k {
	case Read:
		return "read"
	case Write:
		return "write"
	default:
		return "unknown"
	}
}

type record struct {
	kind      Kind
	file      ulid.ULID
	ancestors []ulid.ULID
}

type fileState struct {
	readers int
	writer  bool
}

// Coordinator grants locks without waiting: a conflicting request fails
// immediately. It is safe for concurrent use.
type Coordinator struct {
	mu      sync.Mutex
	records map[uuid.UUID]record
	files   map[ulid.ULID]*fileState
	folders map[ulid.ULID]int
}

func NewCoordinator() *Coordinator {
	return &Coordinator{
		records: make(map[uuid.UUID]record),
		files:   make(map[ulid.ULID]*fileState),
		folders: make(map[ulid.ULID]int),
	}
}

// Lock acquires a lock under a fresh token and returns the token.
func (c *Coordinator) Lock(file ulid.ULID, ancestors []ulid.ULID, kind Kind) (uuid.UUID, error) {
	token := uuid.New()
	if err := c.Acquire(token, file, ancestors, kind); err != nil {
		return uuid.Nil, err
	}
	return token, nil
}

// Acquire locks file for token. A write lock needs the file to be free; a
// read lock only needs it to have no writer. Each ancestor folder is pinned
// until the token is released.
func (c *Coordinator) Acquire(token uuid.UUID, file ulid.ULID, ancestors []ulid.ULID, kind Kind) error {
	if kind != Read && kind != Write {
		return fmt.Errorf("invalid lock kind %d", kind)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.records[token]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyHeld, token)
	}

	state := c.files[file]
	if state == nil {
		state = &fileState{}
	}
	switch {
	case state.writer:
		return fmt.Errorf("%w: file %s is open for writing", ErrCannotAcquire, file)
	case kind == Write && state.readers > 0:
		return fmt.Errorf("%w: file %s has %d readers", ErrCannotAcquire, file, state.readers)
	}

	if kind == Write {
		state.writer = true
	} else {
		state.readers++
	}
	c.files[file] = state

	for _, folder := range ancestors {
		c.folders[folder]++
	}
	c.records[token] = record{
		kind:      kind,
		file:      file,
		ancestors: append([]ulid.ULID(nil), ancestors...),
	}
	return nil
}

// Release drops the lock held by token.
func (c *Coordinator) Release(token uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.records[token]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, token)
	}
	delete(c.records, token)

	if state := c.files[rec.file]; state != nil {
		if rec.kind == Write {
			state.writer = false
		} else {
			state.readers--
		}
		if !state.writer && state.readers <= 0 {
			delete(c.files, rec.file)
		}
	}

	for _, folder := range rec.ancestors {
		if c.folders[folder] <= 1 {
			delete(c.folders, folder)
		} else {
			c.folders[folder]--
		}
	}
	return nil
}

// IsFileLocked reports whether any token holds a lock on file.
func (c *Coordinator) IsFileLocked(file ulid.ULID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.files[file]
	return ok
}

// IsFolderLocked reports whether a locked file lies somewhere below folder.
func (c *Coordinator) IsFolderLocked(folder ulid.ULID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.folders[folder] > 0
}

// Holders returns the current readers and whether a writer holds file.
func (c *Coordinator) Holders(file ulid.ULID) (readers int, writer bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if state := c.files[file]; state != nil {
		return state.readers, state.writer
	}
	return 0, false
}

// Count returns the number of live tokens.
func (c *Coordinator) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}
