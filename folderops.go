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
	"slices"
	"time"

	"vfsimage/addressing"
	"vfsimage/node"
)

// CreateFolder creates an empty folder. The parent folder must exist and
// hold no file or folder of the same name.
func (fs *FileSystem) CreateFolder(path string) (FolderInfo, error) {
	start := time.Now()
	fs.mu.Lock()
	info, err := fs.createFolder(path)
	fs.mu.Unlock()
	return info, fs.finish("create_folder", path, start, err)
}

// DeleteFolder removes an empty folder. The root cannot be deleted.
func (fs *FileSystem) DeleteFolder(path string) error {
	start := time.Now()
	fs.mu.Lock()
	err := fs.deleteFolderPath(path)
	fs.mu.Unlock()
	return fs.finish("delete_folder", path, start, err)
}

// RenameFolder gives a folder a new name in the same parent.
func (fs *FileSystem) RenameFolder(path, newName string) (FolderInfo, error) {
	start := time.Now()
	fs.mu.Lock()
	info, err := fs.renameFolder(path, newName)
	fs.mu.Unlock()
	return info, fs.finish("rename_folder", path, start, err)
}

// MoveFolder moves a folder, with everything below it, into another folder.
func (fs *FileSystem) MoveFolder(path, destinationFolder string) (FolderInfo, error) {
	start := time.Now()
	fs.mu.Lock()
	info, err := fs.moveFolder(path, destinationFolder)
	fs.mu.Unlock()
	return info, fs.finish("move_folder", path, start, err)
}

func (fs *FileSystem) createFolder(path string) (FolderInfo, error) {
	if err := fs.checkOpen(); err != nil {
		return FolderInfo{}, err
	}
	parent, name, err := fs.resolveParent(path)
	if err != nil {
		return FolderInfo{}, err
	}
	target := childPath(parent.path, name)
	if err := fs.checkCollision(parent.node, target, name, 0); err != nil {
		return FolderInfo{}, err
	}

	n, err := fs.newFolderNode(name, parent.node.BlockIndex)
	if err != nil {
		return FolderInfo{}, err
	}
	if err := fs.addReference(parent.node, node.KindFolder, n.BlockIndex); err != nil {
		return FolderInfo{}, errors.Join(err, fs.release("create_folder",
			n.BlockIndex, n.Folder.Files.HeaderBlock, n.Folder.Folders.HeaderBlock))
	}

	fs.enums.invalidate(parent.lineage())
	return folderInfo(n, target), nil
}

// newFolderNode allocates and writes a folder node with its two empty child
// lists. On failure nothing stays allocated.
func (fs *FileSystem) newFolderNode(name string, parent int32) (*node.Node, error) {
	blocks, err := fs.alloc.AcquireMany(3)
	if err != nil {
		return nil, err
	}
	n := node.NewFolder(name, fs.ids.Generate(), blocks[0],
		addressing.Definition{HeaderBlock: blocks[1]},
		addressing.Definition{HeaderBlock: blocks[2]},
		parent, fs.now())
	if err := fs.nodes.Write(n); err != nil {
		return nil, errors.Join(err, fs.release("create_folder", blocks...))
	}
	return n, nil
}

func (fs *FileSystem) deleteFolderPath(path string) error {
	if err := fs.checkOpen(); err != nil {
		return err
	}
	loc, err := fs.resolveFolder(path)
	if err != nil {
		return err
	}
	return fs.deleteFolder(loc)
}

func (fs *FileSystem) deleteFolder(loc *location) error {
	if loc.isRoot() {
		return fmt.Errorf("%w: the root cannot be deleted", ErrInvalidPath)
	}
	if fs.locks.IsFolderLocked(loc.node.ID) {
		return fmt.Errorf("%w: %s", ErrFolderLocked, loc.path)
	}
	if loc.node.Folder.Files.Length > 0 || loc.node.Folder.Folders.Length > 0 {
		return fmt.Errorf("%w: %s", ErrFolderNotEmpty, loc.path)
	}
	if err := fs.removeReference(loc.parent(), node.KindFolder, loc.node.BlockIndex); err != nil {
		return err
	}

	for _, def := range []addressing.Definition{loc.node.Folder.Files, loc.node.Folder.Folders} {
		if err := addressing.Open(fs.dev, fs.alloc, def, nil).Destroy(); err != nil {
			return err
		}
	}
	if err := fs.alloc.Release(loc.node.BlockIndex); err != nil {
		return err
	}

	fs.enums.invalidate(loc.lineage())
	return nil
}

// deleteTree removes a folder and everything below it.
func (fs *FileSystem) deleteTree(loc *location) error {
	below := append(slices.Clone(loc.ancestors), loc.node)

	files, err := fs.children(loc.node, node.KindFile)
	if err != nil {
		return err
	}
	for _, f := range files {
		child := &location{node: f, ancestors: below, path: childPath(loc.path, f.Name)}
		if err := fs.deleteFile(child); err != nil {
			return err
		}
	}

	folders, err := fs.children(loc.node, node.KindFolder)
	if err != nil {
		return err
	}
	for _, f := range folders {
		child := &location{node: f, ancestors: below, path: childPath(loc.path, f.Name)}
		if err := fs.deleteTree(child); err != nil {
			return err
		}
	}
	return fs.deleteFolder(loc)
}

func (fs *FileSystem) renameFolder(path, newName string) (FolderInfo, error) {
	if err := fs.checkOpen(); err != nil {
		return FolderInfo{}, err
	}
	if err := node.ValidateName(newName); err != nil {
		return FolderInfo{}, err
	}
	loc, err := fs.resolveFolder(path)
	if err != nil {
		return FolderInfo{}, err
	}
	if loc.isRoot() {
		return FolderInfo{}, fmt.Errorf("%w: the root cannot be renamed", ErrInvalidPath)
	}
	if fs.locks.IsFolderLocked(loc.node.ID) {
		return FolderInfo{}, fmt.Errorf("%w: %s", ErrFolderLocked, loc.path)
	}

	target := childPath(parentPath(loc.path), newName)
	if err := fs.checkCollision(loc.parent(), target, newName, loc.node.BlockIndex); err != nil {
		return FolderInfo{}, err
	}

	loc.node.Name = newName
	loc.node.Renew()
	if err := fs.nodes.Write(loc.node); err != nil {
		return FolderInfo{}, err
	}

	fs.enums.invalidate(loc.lineage())
	return folderInfo(loc.node, target), nil
}

// moveFolder links the folder into the destination before unlinking it
// from its parent. Moving a folder below itself is rejected.
func (fs *FileSystem) moveFolder(path, destinationFolder string) (FolderInfo, error) {
	if err := fs.checkOpen(); err != nil {
		return FolderInfo{}, err
	}
	loc, err := fs.resolveFolder(path)
	if err != nil {
		return FolderInfo{}, err
	}
	if loc.isRoot() {
		return FolderInfo{}, fmt.Errorf("%w: the root cannot be moved", ErrInvalidPath)
	}
	dst, err := fs.resolveFolder(destinationFolder)
	if err != nil {
		return FolderInfo{}, err
	}
	if slices.Contains(dst.lineage(), loc.node.ID) {
		return FolderInfo{}, fmt.Errorf("%w: %s is inside %s", ErrInvalidPath, dst.path, loc.path)
	}
	if fs.locks.IsFolderLocked(loc.node.ID) {
		return FolderInfo{}, fmt.Errorf("%w: %s", ErrFolderLocked, loc.path)
	}

	target := childPath(dst.path, loc.node.Name)
	oldParent := loc.parent()
	if dst.node.BlockIndex == oldParent.BlockIndex {
		return folderInfo(loc.node, target), nil
	}
	if err := fs.checkCollision(dst.node, target, loc.node.Name, 0); err != nil {
		return FolderInfo{}, err
	}

	index := loc.node.BlockIndex
	if err := fs.addReference(dst.node, node.KindFolder, index); err != nil {
		return FolderInfo{}, err
	}
	undo := func(cause error) error {
		fs.metrics.Rollbacks.WithLabelValues("move_folder").Inc()
		return errors.Join(cause, fs.removeReference(dst.node, node.KindFolder, index))
	}
	if err := fs.removeReference(oldParent, node.KindFolder, index); err != nil {
		return FolderInfo{}, undo(err)
	}

	moved := loc.node.Clone()
	moved.Folder.Parent = dst.node.BlockIndex
	moved.Renew()
	if err := fs.nodes.Write(moved); err != nil {
		return FolderInfo{}, undo(errors.Join(err, fs.addReference(oldParent, node.KindFolder, index)))
	}

	fs.enums.invalidate(loc.lineage())
	fs.enums.invalidate(dst.lineage())
	return folderInfo(moved, target), nil
}
