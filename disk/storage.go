// Package disk
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
package disk

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// Storage is the flat byte container a Device lives in.
type Storage interface {
	io.ReaderAt
	io.WriterAt
	Size() (int64, error)
	Truncate(size int64) error
	Sync() error
	Close() error
}

// FileStorage implements Storage using a regular file on the host.
type FileStorage struct {
	f *os.File
}

var _ Storage = (*FileStorage)(nil)

// OpenFile opens (or creates, depending on flag) a host file as Storage.
func OpenFile(name string, flag int, perm os.FileMode) (*FileStorage, error) {
	f, err := os.OpenFile(name, flag, perm)
	if err != nil {
		return nil, fmt.Errorf("failed to open disk file %s: %w", name, err)
	}
	return &FileStorage{f: f}, nil
}

// NewFileStorage wraps an already open file.
func NewFileStorage(f *os.File) *FileStorage {
	return &FileStorage{f: f}
}

func (fs *FileStorage) ReadAt(p []byte, off int64) (int, error) {
	return fs.f.ReadAt(p, off)
}

func (fs *FileStorage) WriteAt(p []byte, off int64) (int, error) {
	return fs.f.WriteAt(p, off)
}

func (fs *FileStorage) Size() (int64, error) {
	fi, err := fs.f.Stat()
	if err != nil {
		return 0, fmt.Errorf("disk stat error: %w", err)
	}
	return fi.Size(), nil
}

func (fs *FileStorage) Truncate(size int64) error {
	if err := fs.f.Truncate(size); err != nil {
		return fmt.Errorf("failed to truncate disk file: %w", err)
	}
	return nil
}

func (fs *FileStorage) Sync() error {
	if err := fs.f.Sync(); err != nil {
		return fmt.Errorf("disk sync error: %w", err)
	}
	return nil
}

func (fs *FileStorage) Close() error {
	if err := fs.f.Close(); err != nil {
		return fmt.Errorf("disk close error: %w", err)
	}
	return nil
}

// MemoryStorage implements Storage using an in-memory byte slice.
// Closing it keeps the contents so a test can reopen the same container.
type MemoryStorage struct {
	mu   sync.RWMutex
	data []byte
}

var _ Storage = (*MemoryStorage)(nil)

// NewMemoryStorage returns an empty in-memory container.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

func (m *MemoryStorage) ReadAt(p []byte, off int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if off < 0 {
		return 0, fmt.Errorf("disk read error: negative offset %d", off)
	}
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m *MemoryStorage) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if off < 0 || off+int64(len(p)) > int64(len(m.data)) {
		return 0, fmt.Errorf("disk write error: offset %d out of range (size %d)", off, len(m.data))
	}
	return copy(m.data[off:], p), nil
}

func (m *MemoryStorage) Size() (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.data)), nil
}

func (m *MemoryStorage) Truncate(size int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if size < 0 {
		return fmt.Errorf("failed to truncate disk: negative size %d", size)
	}
	if size <= int64(len(m.data)) {
		m.data = m.data[:size]
		return nil
	}
	grown := make([]byte, size)
	copy(grown, m.data)
	m.data = grown
	return nil
}

func (m *MemoryStorage) Sync() error {
	return nil
}

func (m *MemoryStorage) Close() error {
	return nil
}

// Bytes returns the raw container contents. Tests use it to corrupt images.
func (m *MemoryStorage) Bytes() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data
}
