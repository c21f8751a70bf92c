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
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"vfsimage/addressing"
	"vfsimage/lock"
	"vfsimage/node"
	"vfsimage/stream"
)

// File is an open file. Any number of readers or a single writer may have
// a file open at once. Close releases the lock; it is never released
// implicitly.
type File struct {
	fs     *FileSystem
	path   string
	node   *node.Node
	token  uuid.UUID
	mode   lock.Kind
	stream *stream.Stream

	mu     sync.Mutex
	closed bool
	dirty  bool
}

var (
	_ io.ReadWriteSeeker = (*File)(nil)
	_ io.Closer          = (*File)(nil)
)

// OpenFileForReading opens a file for shared reading. It fails with
// ErrFileLocked while the file is open for writing.
func (fs *FileSystem) OpenFileForReading(path string) (*File, error) {
	return fs.open("open_read", path, lock.Read)
}

// OpenFileForWriting opens a file for exclusive writing. It fails with
// ErrFileLocked while the file is open at all.
func (fs *FileSystem) OpenFileForWriting(path string) (*File, error) {
	return fs.open("open_write", path, lock.Write)
}

func (fs *FileSystem) open(op, path string, kind lock.Kind) (*File, error) {
	start := time.Now()
	fs.mu.Lock()
	f, err := fs.openFile(path, kind)
	fs.mu.Unlock()
	return f, fs.finish(op, path, start, err)
}

func (fs *FileSystem) openFile(path string, kind lock.Kind) (*File, error) {
	if err := fs.checkOpen(); err != nil {
		return nil, err
	}
	loc, err := fs.resolveFile(path)
	if err != nil {
		return nil, err
	}
	token, err := fs.locks.Lock(loc.node.ID, ancestorIDs(loc.ancestors), kind)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrFileLocked, loc.path, err)
	}

	f := &File{
		fs:    fs,
		path:  loc.path,
		node:  loc.node,
		token: token,
		mode:  kind,
	}
	contents := addressing.Open(fs.dev, fs.alloc, loc.node.File.Contents, f.saveContents)
	f.stream = stream.New(fs.dev, contents)

	fs.metrics.OpenHandles.WithLabelValues(kind.String()).Inc()
	return f, nil
}

// saveContents persists a new contents length in the file node.
func (f *File) saveContents(def addressing.Definition) error {
	updated := f.node.Clone()
	updated.File.Contents = def
	if err := f.fs.nodes.Write(updated); err != nil {
		return err
	}
	f.node.File.Contents = def
	return nil
}

// Path returns the path the file was opened with, in canonical form.
func (f *File) Path() string {
	return f.path
}

// Info describes the file as seen through this handle.
func (f *File) Info() FileInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fileInfo(f.node, f.path)
}

func (f *File) Read(p []byte) (int, error) {
	if err := f.usable(false); err != nil {
		return 0, err
	}
	n, err := f.stream.Read(p)
	f.fs.metrics.BytesRead.Add(float64(n))
	if err == io.EOF {
		return n, err
	}
	return n, f.wrap("read", err)
}

func (f *File) Write(p []byte) (int, error) {
	if err := f.usable(true); err != nil {
		return 0, err
	}
	n, err := f.stream.Write(p)
	f.fs.metrics.BytesWritten.Add(float64(n))
	if n > 0 {
		f.markDirty()
	}
	return n, f.wrap("write", err)
}

func (f *File) Seek(offset int64, whence int) (int64, error) {
	if err := f.usable(false); err != nil {
		return 0, err
	}
	pos, err := f.stream.Seek(offset, whence)
	return pos, f.wrap("seek", err)
}

// Position returns the cursor. After Close it keeps returning the last
// cursor of the handle.
func (f *File) Position() int64 {
	return f.stream.Position()
}

// SetPosition moves the cursor, which must stay within [0, Length].
func (f *File) SetPosition(position int64) error {
	if err := f.usable(false); err != nil {
		return err
	}
	return f.wrap("set_position", f.stream.SetPosition(position))
}

// Length returns the file size in bytes. After Close it returns the size
// the handle last saw, which later writers may have changed.
func (f *File) Length() int64 {
	return f.stream.Length()
}

// SetLength grows the file with zeros or cuts it short.
func (f *File) SetLength(length int64) error {
	if err := f.usable(true); err != nil {
		return err
	}
	if err := f.stream.SetLength(length); err != nil {
		return f.wrap("set_length", err)
	}
	f.markDirty()
	return nil
}

// Truncate empties the file.
func (f *File) Truncate() error {
	return f.SetLength(0)
}

// MoveToEnd places the cursor at the end of the file.
func (f *File) MoveToEnd() error {
	if err := f.usable(false); err != nil {
		return err
	}
	f.stream.MoveToEnd()
	return nil
}

// Close releases the lock. A handle that wrote records the modification
// time and a new version first.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return newError("close", f.path, ErrClosed)
	}
	f.closed = true
	f.fs.metrics.OpenHandles.WithLabelValues(f.mode.String()).Dec()

	var err error
	if f.dirty && !f.fs.closed.Load() {
		updated := f.node.Clone()
		updated.Touch(f.fs.now())
		if err = f.fs.nodes.Write(updated); err == nil {
			f.node = updated
		}
	}
	if rerr := f.fs.locks.Release(f.token); rerr != nil {
		err = errors.Join(err, rerr)
	}
	if err != nil {
		f.fs.log.Warn("close file", zap.String("path", f.path), zap.Error(err))
	}
	return f.wrap("close", err)
}

func (f *File) usable(write bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case f.closed:
		return newError("file", f.path, ErrClosed)
	case f.fs.closed.Load():
		return newError("file", f.path, ErrClosed)
	case write && f.mode != lock.Write:
		return newError("write", f.path, ErrNotWritable)
	}
	return nil
}

func (f *File) markDirty() {
	f.mu.Lock()
	f.dirty = true
	f.mu.Unlock()
}

func (f *File) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return newError(op, f.path, err)
}
