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
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"vfsimage/lock"
	"vfsimage/node"
)

// Progress receives the completed fraction of a copy, between 0 and 1.
type Progress func(fraction float64)

// reporter throttles progress reports. The first report and the final one
// are always delivered.
type reporter struct {
	fn    Progress
	total int64
	done  int64
	limit rate.Sometimes
}

func newReporter(fn Progress, interval time.Duration) *reporter {
	return &reporter{fn: fn, limit: rate.Sometimes{First: 1, Interval: interval}}
}

func (r *reporter) fraction() float64 {
	if r.total <= 0 {
		return 1
	}
	return min(float64(r.done)/float64(r.total), 1)
}

func (r *reporter) advance(n int64) {
	r.done += n
	if r.fn == nil {
		return
	}
	r.limit.Do(func() { r.fn(r.fraction()) })
}

func (r *reporter) complete() {
	if r.fn != nil {
		r.fn(1)
	}
}

// CopyFile copies the contents of src into a new file at dst. The source
// stays open for reading until the copy ends, so it cannot change meanwhile.
// When ctx is cancelled or anything fails, the partial copy is deleted.
func (fs *FileSystem) CopyFile(ctx context.Context, src, dst string, progress Progress) (FileInfo, error) {
	start := time.Now()
	rep := newReporter(progress, fs.cfg.ProgressInterval)

	fs.mu.Lock()
	in, err := fs.openFile(src, lock.Read)
	fs.mu.Unlock()
	if err != nil {
		return FileInfo{}, fs.finish("copy_file", src, start, err)
	}
	defer in.Close()

	rep.total = in.stream.Length()
	rep.advance(0)
	info, err := fs.copyContents(ctx, in, dst, rep)
	if err == nil {
		rep.complete()
	}
	return info, fs.finish("copy_file", src, start, err)
}

// CopyFolder copies the folder at src, with everything below it, into the
// folder dstParent. The copy keeps the source folder name. When ctx is
// cancelled or anything fails, the partial copy is deleted.
func (fs *FileSystem) CopyFolder(ctx context.Context, src, dstParent string, progress Progress) (FolderInfo, error) {
	start := time.Now()
	info, err := fs.copyFolder(ctx, src, dstParent, newReporter(progress, fs.cfg.ProgressInterval))
	return info, fs.finish("copy_folder", src, start, err)
}

// copyContents creates dst and streams in into it in chunks.
func (fs *FileSystem) copyContents(ctx context.Context, in *File, dst string, rep *reporter) (FileInfo, error) {
	fs.mu.Lock()
	out, err := fs.createAndOpen(dst)
	fs.mu.Unlock()
	if err != nil {
		return FileInfo{}, err
	}

	if err := fs.pump(ctx, in, out, rep); err != nil {
		return FileInfo{}, errors.Join(err, fs.discard(out))
	}
	if err := out.Close(); err != nil {
		fs.mu.Lock()
		derr := fs.deleteFilePath(out.path)
		fs.mu.Unlock()
		return FileInfo{}, errors.Join(err, derr)
	}
	return fileInfo(out.node, out.path), nil
}

// createAndOpen creates dst and opens it for writing before anyone else can.
func (fs *FileSystem) createAndOpen(dst string) (*File, error) {
	if _, err := fs.createFile(dst); err != nil {
		return nil, err
	}
	return fs.openFile(dst, lock.Write)
}

// pump sizes out to the length of in, then copies one chunk at a time.
func (fs *FileSystem) pump(ctx context.Context, in, out *File, rep *reporter) error {
	length := in.stream.Length()
	if err := out.stream.SetLength(length); err != nil {
		return err
	}
	out.markDirty()
	if err := in.stream.SetPosition(0); err != nil {
		return err
	}

	buf := make([]byte, fs.cfg.CopyChunkSize)
	for copied := int64(0); copied < length; {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrTaskCancelled, err)
		}
		n, err := in.stream.Read(buf)
		if n > 0 {
			fs.metrics.BytesRead.Add(float64(n))
			if _, werr := out.stream.Write(buf[:n]); werr != nil {
				return werr
			}
			fs.metrics.BytesWritten.Add(float64(n))
			copied += int64(n)
			rep.advance(int64(n))
		}
		if err == io.EOF && copied < length {
			return fmt.Errorf("%w: %s ended at %d of %d bytes", ErrInconsistentData, in.path, copied, length)
		}
		if err != nil && err != io.EOF {
			return err
		}
	}
	return nil
}

// discard closes and deletes a partially written copy.
func (fs *FileSystem) discard(out *File) error {
	cerr := out.Close()
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.closed.Load() {
		return cerr
	}
	fs.metrics.Rollbacks.WithLabelValues("copy_file").Inc()
	fs.log.Warn("discarding partial copy", zap.String("path", out.path))
	return errors.Join(cerr, fs.deleteFilePath(out.path))
}

// treeEntry is a file or folder below a copied folder, by relative path.
type treeEntry struct {
	rel    string
	folder bool
	size   int64
}

// snapshot lists everything below loc, parents before children.
func (fs *FileSystem) snapshot(loc *location) ([]treeEntry, error) {
	var out []treeEntry
	var walk func(folder *node.Node, rel string) error
	walk = func(folder *node.Node, rel string) error {
		files, err := fs.children(folder, node.KindFile)
		if err != nil {
			return err
		}
		for _, f := range files {
			out = append(out, treeEntry{rel: joinRel(rel, f.Name), size: f.File.Contents.Length})
		}
		folders, err := fs.children(folder, node.KindFolder)
		if err != nil {
			return err
		}
		for _, f := range folders {
			sub := joinRel(rel, f.Name)
			out = append(out, treeEntry{rel: sub, folder: true})
			if err := walk(f, sub); err != nil {
				return err
			}
		}
		return nil
	}
	return out, walk(loc.node, "")
}

func (fs *FileSystem) copyFolder(ctx context.Context, src, dstParent string, rep *reporter) (FolderInfo, error) {
	fs.mu.Lock()
	if err := fs.checkOpen(); err != nil {
		fs.mu.Unlock()
		return FolderInfo{}, err
	}
	source, entries, target, err := fs.prepareFolderCopy(src, dstParent)
	fs.mu.Unlock()
	if err != nil {
		return FolderInfo{}, err
	}

	for _, e := range entries {
		rep.total += e.size
	}
	rep.advance(0)

	if err := fs.copyEntries(ctx, source, target.Path, entries, rep); err != nil {
		fs.mu.Lock()
		defer fs.mu.Unlock()
		if fs.closed.Load() {
			return FolderInfo{}, err
		}
		fs.metrics.Rollbacks.WithLabelValues("copy_folder").Inc()
		fs.log.Warn("discarding partial copy", zap.String("path", target.Path), zap.Error(err))
		loc, rerr := fs.resolveFolder(target.Path)
		if rerr == nil {
			rerr = fs.deleteTree(loc)
		}
		return FolderInfo{}, errors.Join(err, rerr)
	}

	rep.complete()
	return target, nil
}

// prepareFolderCopy lists the source tree and creates the top destination
// folder. Copying a folder into itself or below itself is rejected.
func (fs *FileSystem) prepareFolderCopy(src, dstParent string) (string, []treeEntry, FolderInfo, error) {
	loc, err := fs.resolveFolder(src)
	if err != nil {
		return "", nil, FolderInfo{}, err
	}
	dst, err := fs.resolveFolder(dstParent)
	if err != nil {
		return "", nil, FolderInfo{}, err
	}
	if slices.Contains(dst.lineage(), loc.node.ID) {
		return "", nil, FolderInfo{}, fmt.Errorf("%w: %s is inside %s", ErrInvalidPath, dst.path, loc.path)
	}

	entries, err := fs.snapshot(loc)
	if err != nil {
		return "", nil, FolderInfo{}, err
	}
	target, err := fs.createFolder(childPath(dst.path, loc.node.Name))
	if err != nil {
		return "", nil, FolderInfo{}, err
	}
	return loc.path, entries, target, nil
}

// copyEntries recreates entries below target. Folders come before their
// contents, so every parent exists when a child is created.
func (fs *FileSystem) copyEntries(ctx context.Context, source, target string, entries []treeEntry, rep *reporter) error {
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrTaskCancelled, err)
		}
		dst := childPath(target, e.rel)
		if e.folder {
			fs.mu.Lock()
			_, err := fs.createFolder(dst)
			fs.mu.Unlock()
			if err != nil {
				return err
			}
			continue
		}

		fs.mu.Lock()
		in, err := fs.openFile(childPath(source, e.rel), lock.Read)
		fs.mu.Unlock()
		if err != nil {
			return err
		}
		_, err = fs.copyContents(ctx, in, dst, rep)
		if cerr := in.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return err
		}
	}
	return nil
}
