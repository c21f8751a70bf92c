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
	"time"

	"vfsimage/node"
)

// GetAllFilesFrom lists the files directly inside a folder, in creation
// order.
func (fs *FileSystem) GetAllFilesFrom(path string) ([]FileInfo, error) {
	start := time.Now()
	fs.mu.Lock()
	infos, err := fs.listFiles(path)
	fs.mu.Unlock()
	return infos, fs.finish("list_files", path, start, err)
}

// GetAllFoldersFrom lists the folders directly inside a folder, in creation
// order.
func (fs *FileSystem) GetAllFoldersFrom(path string) ([]FolderInfo, error) {
	start := time.Now()
	fs.mu.Lock()
	infos, err := fs.listFolders(path)
	fs.mu.Unlock()
	return infos, fs.finish("list_folders", path, start, err)
}

// FileInfoAt describes the file at path.
func (fs *FileSystem) FileInfoAt(path string) (FileInfo, error) {
	start := time.Now()
	fs.mu.Lock()
	info, err := fs.fileInfoAt(path)
	fs.mu.Unlock()
	return info, fs.finish("stat_file", path, start, err)
}

// FolderInfoAt describes the folder at path.
func (fs *FileSystem) FolderInfoAt(path string) (FolderInfo, error) {
	start := time.Now()
	fs.mu.Lock()
	info, err := fs.folderInfoAt(path)
	fs.mu.Unlock()
	return info, fs.finish("stat_folder", path, start, err)
}

// FileExists reports whether path names a file. Errors other than a missing
// file or folder on the way are returned.
func (fs *FileSystem) FileExists(path string) (bool, error) {
	_, err := fs.FileInfoAt(path)
	return exists(err)
}

// FolderExists reports whether path names a folder.
func (fs *FileSystem) FolderExists(path string) (bool, error) {
	_, err := fs.FolderInfoAt(path)
	return exists(err)
}

func exists(err error) (bool, error) {
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrFileNotFound), errors.Is(err, ErrFolderNotFound):
		return false, nil
	default:
		return false, err
	}
}

func (fs *FileSystem) listFiles(path string) ([]FileInfo, error) {
	if err := fs.checkOpen(); err != nil {
		return nil, err
	}
	loc, err := fs.resolveFolder(path)
	if err != nil {
		return nil, err
	}
	files, err := fs.children(loc.node, node.KindFile)
	if err != nil {
		return nil, err
	}
	infos := make([]FileInfo, len(files))
	for i, f := range files {
		infos[i] = fileInfo(f, childPath(loc.path, f.Name))
	}
	return infos, nil
}

func (fs *FileSystem) listFolders(path string) ([]FolderInfo, error) {
	if err := fs.checkOpen(); err != nil {
		return nil, err
	}
	loc, err := fs.resolveFolder(path)
	if err != nil {
		return nil, err
	}
	folders, err := fs.children(loc.node, node.KindFolder)
	if err != nil {
		return nil, err
	}
	infos := make([]FolderInfo, len(folders))
	for i, f := range folders {
		infos[i] = folderInfo(f, childPath(loc.path, f.Name))
	}
	return infos, nil
}

func (fs *FileSystem) fileInfoAt(path string) (FileInfo, error) {
	if err := fs.checkOpen(); err != nil {
		return FileInfo{}, err
	}
	loc, err := fs.resolveFile(path)
	if err != nil {
		return FileInfo{}, err
	}
	return fileInfo(loc.node, loc.path), nil
}

func (fs *FileSystem) folderInfoAt(path string) (FolderInfo, error) {
	if err := fs.checkOpen(); err != nil {
		return FolderInfo{}, err
	}
	loc, err := fs.resolveFolder(path)
	if err != nil {
		return FolderInfo{}, err
	}
	return folderInfo(loc.node, loc.path), nil
}
