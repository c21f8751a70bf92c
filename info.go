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
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"vfsimage/node"
)

// FileInfo describes a file at the time it was looked up.
type FileInfo struct {
	Name       string
	Path       string
	ID         ulid.ULID
	Size       int64
	Version    uuid.UUID
	CreatedAt  time.Time
	ModifiedAt time.Time
}

// FolderInfo describes a folder at the time it was looked up.
type FolderInfo struct {
	Name      string
	Path      string
	ID        ulid.ULID
	Version   uuid.UUID
	CreatedAt time.Time
}

func fileInfo(n *node.Node, path string) FileInfo {
	return FileInfo{
		Name:       n.Name,
		Path:       path,
		ID:         n.ID,
		Size:       n.File.Contents.Length,
		Version:    n.Version,
		CreatedAt:  n.CreatedAt,
		ModifiedAt: n.File.ModifiedAt,
	}
}

func folderInfo(n *node.Node, path string) FolderInfo {
	return FolderInfo{
		Name:      n.Name,
		Path:      path,
		ID:        n.ID,
		Version:   n.Version,
		CreatedAt: n.CreatedAt,
	}
}

// parentPath returns the canonical path of the folder holding path.
func parentPath(path string) string {
	i := strings.LastIndex(path, Separator)
	if i <= 0 {
		return Separator
	}
	return path[:i]
}
