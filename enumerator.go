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
	"fmt"
	"iter"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/oklog/ulid/v2"

	"vfsimage/node"
)

// registry tracks live enumerators so structural changes can invalidate
// them. Enumerators leave it through Close.
type registry struct {
	mu   sync.Mutex
	next uint64
	live map[uint64]*Enumerator
}

func newRegistry() *registry {
	return &registry{live: make(map[uint64]*Enumerator)}
}

func (r *registry) add(e *Enumerator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	e.handle = r.next
	r.live[e.handle] = e
}

func (r *registry) remove(e *Enumerator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.live, e.handle)
}

func (r *registry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}

// invalidate marks every enumerator affected by a change to the last folder
// of chain, where chain runs from the root to that folder. An enumerator is
// affected when the changed folder is its folder, one of its ancestors or
// anything below it.
func (r *registry) invalidate(chain []ulid.ULID) {
	if len(chain) == 0 {
		return
	}
	changed := chain[len(chain)-1]

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.live {
		if slices.Contains(chain, e.folder) || slices.Contains(e.lineage, changed) {
			e.invalid = true
		}
	}
}

func (r *registry) invalidateAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.live {
		e.invalid = true
	}
}

type pendingFolder struct {
	index int32
	rel   string // path relative to the enumerated folder, "" for itself
}

// Enumerator walks the files below a folder, depth first, one step per call
// to Next. Any structural change to the walked tree or to the folders above
// it ends the walk with ErrEnumeratorInvalidated. Close must be called when
// done.
type Enumerator struct {
	fs      *FileSystem
	handle  uint64
	path    string
	folder  ulid.ULID
	lineage []ulid.ULID
	pattern string
	byName  bool

	// Guarded by fs.mu and, for invalid, the registry mutex.
	pending []pendingFolder
	files   []FileInfo
	invalid bool

	current FileInfo
	err     error
	done    bool
}

// EnumerateFilesUnderFolder starts a walk over every file below path. A
// non-empty pattern filters files with doublestar glob syntax, compared
// case-insensitively. A pattern without a separator matches the file name;
// otherwise it matches the path relative to the folder.
func (fs *FileSystem) EnumerateFilesUnderFolder(path, pattern string) (*Enumerator, error) {
	start := time.Now()
	fs.mu.Lock()
	e, err := fs.enumerate(path, pattern)
	fs.mu.Unlock()
	return e, fs.finish("enumerate", path, start, err)
}

func (fs *FileSystem) enumerate(path, pattern string) (*Enumerator, error) {
	if err := fs.checkOpen(); err != nil {
		return nil, err
	}
	pattern = strings.ToLower(strings.ReplaceAll(pattern, `\`, Separator))
	if pattern != "" && !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("%w: bad pattern %q", ErrInvalidPath, pattern)
	}
	loc, err := fs.resolveFolder(path)
	if err != nil {
		return nil, err
	}

	e := &Enumerator{
		fs:      fs,
		path:    loc.path,
		folder:  loc.node.ID,
		lineage: loc.lineage(),
		pattern: pattern,
		byName:  !strings.Contains(pattern, Separator),
		pending: []pendingFolder{{index: loc.node.BlockIndex}},
	}
	fs.enums.add(e)
	return e, nil
}

// Next advances to the next matching file. It returns false at the end of
// the walk or on error; Err tells which. A finished walk no longer needs
// Close.
func (e *Enumerator) Next() bool {
	if e.done || e.err != nil {
		return false
	}

	e.fs.mu.Lock()
	defer e.fs.mu.Unlock()

	for {
		if err := e.check(); err != nil {
			e.stop(err)
			return false
		}
		if len(e.files) > 0 {
			f := e.files[0]
			e.files = e.files[1:]
			if e.match(f) {
				e.current = f
				return true
			}
			continue
		}
		if len(e.pending) == 0 {
			e.stop(nil)
			return false
		}
		if err := e.expand(); err != nil {
			e.stop(err)
			return false
		}
	}
}

// stop ends the walk and unregisters the enumerator.
func (e *Enumerator) stop(err error) {
	if err != nil {
		e.err = newError("enumerate", e.path, err)
	} else {
		e.done = true
	}
	e.fs.enums.remove(e)
}

// File returns the file Next stopped at.
func (e *Enumerator) File() FileInfo {
	return e.current
}

// Err returns the error that ended the walk, if any.
func (e *Enumerator) Err() error {
	return e.err
}

// Close unregisters the enumerator. It is safe to call more than once.
func (e *Enumerator) Close() error {
	e.fs.enums.remove(e)
	e.done = true
	return nil
}

// All yields the remaining files, then the walk error if there is one.
func (e *Enumerator) All() iter.Seq2[FileInfo, error] {
	return func(yield func(FileInfo, error) bool) {
		for e.Next() {
			if !yield(e.File(), nil) {
				return
			}
		}
		if e.err != nil {
			yield(FileInfo{}, e.err)
		}
	}
}

func (e *Enumerator) check() error {
	if err := e.fs.checkOpen(); err != nil {
		return err
	}
	e.fs.enums.mu.Lock()
	invalid := e.invalid
	e.fs.enums.mu.Unlock()
	if invalid {
		return ErrEnumeratorInvalidated
	}
	return nil
}

// expand reads the next pending folder: its files become the next results
// and its subfolders are walked before the remaining pending folders.
func (e *Enumerator) expand() error {
	next := e.pending[0]
	e.pending = e.pending[1:]

	folder, err := e.fs.nodes.ReadFolder(next.index)
	if err != nil {
		return err
	}

	files, err := e.fs.children(folder, node.KindFile)
	if err != nil {
		return err
	}
	for _, f := range files {
		rel := joinRel(next.rel, f.Name)
		e.files = append(e.files, fileInfo(f, childPath(e.path, rel)))
	}

	folders, err := e.fs.children(folder, node.KindFolder)
	if err != nil {
		return err
	}
	sub := make([]pendingFolder, 0, len(folders)+len(e.pending))
	for _, f := range folders {
		sub = append(sub, pendingFolder{index: f.BlockIndex, rel: joinRel(next.rel, f.Name)})
	}
	e.pending = append(sub, e.pending...)
	return nil
}

func (e *Enumerator) match(f FileInfo) bool {
	if e.pattern == "" {
		return true
	}
	subject := strings.ToLower(strings.TrimPrefix(f.Path, e.path))
	subject = strings.TrimPrefix(subject, Separator)
	if e.byName {
		subject = strings.ToLower(f.Name)
	}
	ok, err := doublestar.Match(e.pattern, subject)
	return err == nil && ok
}

func joinRel(rel, name string) string {
	if rel == "" {
		return name
	}
	return rel + Separator + name
}
