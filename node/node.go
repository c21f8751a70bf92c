// Package node stores file and folder records, one per block.
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
package node

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"vfsimage/addressing"
	"vfsimage/internal/id"
)

// FormatVersion is the record layout written by this package.
const FormatVersion = 1

var ErrInconsistentData = errors.New("inconsistent node data")

// Kind tells a file record from a folder record.
type Kind uint8

const (
	KindFile Kind = iota + 1
	KindFolder
)

// String returns the string representation of the kind
func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindFolder:
		return "folder"
	default:
		return "unknown"
	}
}

// Node is a file or folder record. Exactly one of File and Folder is set,
// matching Kind.
type Node struct {
	Kind       Kind
	Name       string
	ID         ulid.ULID
	BlockIndex int32
	Version    uuid.UUID
	CreatedAt  time.Time

	File   *FileData
	Folder *FolderData
}

// FileData holds what only files have.
type FileData struct {
	Contents   addressing.Definition
	ModifiedAt time.Time
}

// FolderData holds what only folders have. Files and Folders are streams of
// child node block indices.
type FolderData struct {
	Files   addressing.Definition
	Folders addressing.Definition
	Parent  int32 // 0 for the root
}

// NewFile returns a file record with a fresh version.
func NewFile(name string, id ulid.ULID, block int32, contents addressing.Definition, now time.Time) *Node {
	now = now.UTC()
	return &Node{
		Kind:       KindFile,
		Name:       name,
		ID:         id,
		BlockIndex: block,
		Version:    uuid.New(),
		CreatedAt:  now,
		File:       &FileData{Contents: contents, ModifiedAt: now},
	}
}

// NewFolder returns a folder record with a fresh version.
func NewFolder(name string, id ulid.ULID, block int32, files, folders addressing.Definition, parent int32, now time.Time) *Node {
	return &Node{
		Kind:       KindFolder,
		Name:       name,
		ID:         id,
		BlockIndex: block,
		Version:    uuid.New(),
		CreatedAt:  now.UTC(),
		Folder:     &FolderData{Files: files, Folders: folders, Parent: parent},
	}
}

// Renew gives the node a new version without touching its times.
func (n *Node) Renew() {
	n.Version = uuid.New()
}

// Touch records a content change: a new version and, for files, a new
// modification time.
func (n *Node) Touch(now time.Time) {
	n.Renew()
	if n.File != nil {
		n.File.ModifiedAt = now.UTC()
	}
}

// Clone returns a deep copy.
func (n *Node) Clone() *Node {
	c := *n
	if n.File != nil {
		f := *n.File
		c.File = &f
	}
	if n.Folder != nil {
		f := *n.Folder
		c.Folder = &f
	}
	return &c
}

// Record layout, little-endian:
//
//	[0:2]   payload length, excluding these two bytes
//	[2]     format version
//	[3]     kind
//	[4:20]  ULID
//	[20:24] block index
//	[24:40] version UUID
//	[40:48] creation time, Unix nanoseconds
//	[48:50] name length, then the UTF-8 name
//
// then for files: contents header block (4), contents length (8), modified
// time (8); for folders: file stream (12), folder stream (12), parent (4).
const (
	prefixSize     = 2
	fixedSize      = 48
	definitionSize = 12
	fileTailSize   = definitionSize + 8
	folderTailSize = 2*definitionSize + 4
)

// MarshalBinary encodes the record.
func (n *Node) MarshalBinary() ([]byte, error) {
	var tail int
	switch n.Kind {
	case KindFile:
		if n.File == nil {
			return nil, fmt.Errorf("%w: file record without file data", ErrInconsistentData)
		}
		tail = fileTailSize
	case KindFolder:
		if n.Folder == nil {
			return nil, fmt.Errorf("%w: folder record without folder data", ErrInconsistentData)
		}
		tail = folderTailSize
	default:
		return nil, fmt.Errorf("%w: kind %d", ErrInconsistentData, n.Kind)
	}

	name := []byte(n.Name)
	if len(name) > 0xFFFF {
		return nil, fmt.Errorf("%w: name of %d bytes", ErrInconsistentData, len(name))
	}

	total := fixedSize + 2 + len(name) + tail
	buf := make([]byte, total)
	binary.LittleEndian.PutUint16(buf[0:], uint16(total-prefixSize))
	buf[2] = FormatVersion
	buf[3] = byte(n.Kind)
	copy(buf[4:20], n.ID[:])
	binary.LittleEndian.PutUint32(buf[20:], uint32(n.BlockIndex))
	copy(buf[24:40], n.Version[:])
	binary.LittleEndian.PutUint64(buf[40:], uint64(n.CreatedAt.UnixNano()))
	binary.LittleEndian.PutUint16(buf[48:], uint16(len(name)))
	copy(buf[50:], name)

	off := 50 + len(name)
	switch n.Kind {
	case KindFile:
		off = putDefinition(buf, off, n.File.Contents)
		binary.LittleEndian.PutUint64(buf[off:], uint64(n.File.ModifiedAt.UnixNano()))
	case KindFolder:
		off = putDefinition(buf, off, n.Folder.Files)
		off = putDefinition(buf, off, n.Folder.Folders)
		binary.LittleEndian.PutUint32(buf[off:], uint32(n.Folder.Parent))
	}
	return buf, nil
}

// UnmarshalBinary decodes a record written by MarshalBinary. Trailing bytes
// past the recorded length are ignored.
func (n *Node) UnmarshalBinary(data []byte) error {
	if len(data) < fixedSize+2 {
		return fmt.Errorf("%w: record too short", ErrInconsistentData)
	}
	size := int(binary.LittleEndian.Uint16(data[0:])) + prefixSize
	if size > len(data) || size < fixedSize+2 {
		return fmt.Errorf("%w: record length %d", ErrInconsistentData, size)
	}
	data = data[:size]
	if data[2] != FormatVersion {
		return fmt.Errorf("%w: format version %d", ErrInconsistentData, data[2])
	}

	var out Node
	out.Kind = Kind(data[3])
	copy(out.ID[:], data[4:20])
	if id.IsZero(out.ID) {
		return fmt.Errorf("%w: record without id", ErrInconsistentData)
	}
	out.BlockIndex = int32(binary.LittleEndian.Uint32(data[20:]))
	copy(out.Version[:], data[24:40])
	out.CreatedAt = fromNanos(binary.LittleEndian.Uint64(data[40:]))

	nameLen := int(binary.LittleEndian.Uint16(data[48:]))
	off := 50 + nameLen
	if off > len(data) {
		return fmt.Errorf("%w: name overruns record", ErrInconsistentData)
	}
	out.Name = string(data[50:off])

	rest := len(data) - off
	switch out.Kind {
	case KindFile:
		if rest != fileTailSize {
			return fmt.Errorf("%w: file record tail of %d bytes", ErrInconsistentData, rest)
		}
		f := &FileData{}
		f.Contents, off = getDefinition(data, off)
		f.ModifiedAt = fromNanos(binary.LittleEndian.Uint64(data[off:]))
		out.File = f
	case KindFolder:
		if rest != folderTailSize {
			return fmt.Errorf("%w: folder record tail of %d bytes", ErrInconsistentData, rest)
		}
		f := &FolderData{}
		f.Files, off = getDefinition(data, off)
		f.Folders, off = getDefinition(data, off)
		f.Parent = int32(binary.LittleEndian.Uint32(data[off:]))
		out.Folder = f
	default:
		return fmt.Errorf("%w: kind %d", ErrInconsistentData, out.Kind)
	}

	*n = out
	return nil
}

func putDefinition(buf []byte, off int, def addressing.Definition) int {
	binary.LittleEndian.PutUint32(buf[off:], uint32(def.HeaderBlock))
	binary.LittleEndian.PutUint64(buf[off+4:], uint64(def.Length))
	return off + definitionSize
}

func getDefinition(buf []byte, off int) (addressing.Definition, int) {
	return addressing.Definition{
		HeaderBlock: int32(binary.LittleEndian.Uint32(buf[off:])),
		Length:      int64(binary.LittleEndian.Uint64(buf[off+4:])),
	}, off + definitionSize
}

func fromNanos(v uint64) time.Time {
	return time.Unix(0, int64(v)).UTC()
}
