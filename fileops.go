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
	"time"

	"vfsimage/addressing"
	"vfsimage/node"
)

// CreateFile creates an empty file. The parent folder must exist and hold
// no file or folder of the same name, compared case-insensitively.
func (fs *FileSystem) CreateFile(path string) (FileInfo, error) {
	start := time.Now()
	fs.mu.Lock()
	info, err := fs.createFile(path)
	fs.mu.Unlock()
	return info, fs.finish("create_file", path, start, err)
}

// DeleteFile removes a file and frees its blocks. An open file cannot be
// deleted.
func (fs *FileSystem) DeleteFile(path string) error {
	start := time.Now()
	fs.mu.Lock()
	err := fs.deleteFilePath(path)
	fs.mu.Unlock()
	return fs.finish("delete_file", path, start, err)
}

// RenameFile gives a file a new name in the same folder.
func (fs *FileSystem) RenameFile(path, newName string) (FileInfo, error) {
	start := time.Now()
	fs.mu.Lock()
	info, err := fs.renameFile(path, newName)
	fs.mu.Unlock()
	return info, fs.finish("rename_file", path, start, err)
}

// MoveFile moves a file into another folder, keeping its name.
func (fs *FileSystem) MoveFile(path, destinationFolder string) (FileInfo, error) {
	start := time.Now()
	fs.mu.Lock()
	info, err := fs.moveFile(path, destinationFolder)
	fs.mu.Unlock()
	return info, fs.finish("move_file", path, start, err)
}

func (fs *FileSystem) createFile(path string) (FileInfo, error) {
	if err := fs.checkOpen(); err != nil {
		return FileInfo{}, err
	}
	parent, name, err := fs.resolveParent(path)
	if err != nil {
		return FileInfo{}, err
	}
	target := childPath(parent.path, name)
	if err := fs.checkCollision(parent.node, target, name, 0); err != nil {
		return FileInfo{}, err
	}

	n, err := fs.newFileNode(name)
	if err != nil {
		return FileInfo{}, err
	}
	if err := fs.addReference(parent.node, node.KindFile, n.BlockIndex); err != nil {
		return FileInfo{}, errors.Join(err, fs.release("create_file", n.BlockIndex, n.File.Contents.HeaderBlock))
	}

	fs.enums.invalidate(parent.lineage())
	return fileInfo(n, target), nil
}

// newFileNode allocates and writes the node and contents header of a new
// file. On failure nothing stays allocated.
func (fs *FileSystem) newFileNode(name string) (*node.Node, error) {
	blocks, err := fs.alloc.AcquireMany(2)
	if err != nil {
		return nil, err
	}
	n := node.NewFile(name, fs.ids.Generate(), blocks[0],
		addressing.Definition{HeaderBlock: blocks[1]}, fs.now())
	if err := fs.nodes.Write(n); err != nil {
		return nil, errors.Join(err, fs.release("create_file", blocks...))
	}
	return n, nil
}

func (fs *FileSystem) deleteFilePath(path string) error {
	if err := fs.checkOpen(); err != nil {
		return err
	}
	loc, err := fs.resolveFile(path)
	if err != nil {
		return err
	}
	return fs.deleteFile(loc)
}

// deleteFile unlinks the file first, so its blocks are only freed once no
// folder refers to it.
func (fs *FileSystem) deleteFile(loc *location) error {
	if fs.locks.IsFileLocked(loc.node.ID) {
		return fmt.Errorf("%w: %s", ErrFileLocked, loc.path)
	}
	if err := fs.removeReference(loc.parent(), node.KindFile, loc.node.BlockIndex); err != nil {
		return err
	}

	contents := addressing.Open(fs.dev, fs.alloc, loc.node.File.Contents, nil)
	if err := contents.Destroy(); err != nil {
		return err
	}
	if err := fs.alloc.Release(loc.node.BlockIndex); err != nil {
		return err
	}

	fs.enums.invalidate(ancestorIDs(loc.ancestors))
	return nil
}

func (fs *FileSystem) renameFile(path, newName string) (FileInfo, error) {
	if err := fs.checkOpen(); err != nil {
		return FileInfo{}, err
	}
	if err := node.ValidateName(newName); err != nil {
		return FileInfo{}, err
	}
	loc, err := fs.resolveFile(path)
	if err != nil {
		return FileInfo{}, err
	}
	if fs.locks.IsFileLocked(loc.node.ID) {
		return FileInfo{}, fmt.Errorf("%w: %s", ErrFileLocked, loc.path)
	}

	target := childPath(parentPath(loc.path), newName)
	if err := fs.checkCollision(loc.parent(), target, newName, loc.node.BlockIndex); err != nil {
		return FileInfo{}, err
	}

	loc.node.Name = newName
	loc.node.Renew()
	if err := fs.nodes.Write(loc.node); err != nil {
		return FileInfo{}, err
	}

	fs.enums.invalidate(ancestorIDs(loc.ancestors))
	return fileInfo(loc.node, target), nil
}

// moveFile links the file into the destination before unlinking it from
// its current folder, so a failure never leaves it unreachable.
func (fs *FileSystem) moveFile(path, destinationFolder string) (FileInfo, error) {
	if err := fs.checkOpen(); err != nil {
		return FileInfo{}, err
	}
	loc, err := fs.resolveFile(path)
	if err != nil {
		return FileInfo{}, err
	}
	dst, err := fs.resolveFolder(destinationFolder)
	if err != nil {
		return FileInfo{}, err
	}
	if fs.locks.IsFileLocked(loc.node.ID) {
		return FileInfo{}, fmt.Errorf("%w: %s", ErrFileLocked, loc.path)
	}

	target := childPath(dst.path, loc.node.Name)
	if dst.node.BlockIndex == loc.parent().BlockIndex {
		return fileInfo(loc.node, target), nil
	}
	if err := fs.checkCollision(dst.node, target, loc.node.Name, 0); err != nil {
		return FileInfo{}, err
	}

	index := loc.node.BlockIndex
	if err := fs.addReference(dst.node, node.KindFile, index); err != nil {
		return FileInfo{}, err
	}
	if err := fs.removeReference(loc.parent(), node.KindFile, index); err != nil {
		fs.metrics.Rollbacks.WithLabelValues("move_file").Inc()
		return FileInfo{}, errors.Join(err, fs.removeReference(dst.node, node.KindFile, index))
	}

	fs.enums.invalidate(ancestorIDs(loc.ancestors))
	fs.enums.invalidate(dst.lineage())
	return fileInfo(loc.node, target), nil
}
