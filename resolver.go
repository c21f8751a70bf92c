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
	"strings"

	"github.com/oklog/ulid/v2"

	"vfsimage/addressing"
	"vfsimage/node"
	"vfsimage/stream"
)

// location is a resolved node with its ancestor folders, root first and
// immediate parent last. The root folder has no ancestors.
type location struct {
	node      *node.Node
	ancestors []*node.Node
	path      string
}

func (l *location) parent() *node.Node {
	return l.ancestors[len(l.ancestors)-1]
}

func (l *location) isRoot() bool {
	return len(l.ancestors) == 0
}

// lineage returns the IDs of the ancestors followed by the node itself.
func (l *location) lineage() []ulid.ULID {
	ids := ancestorIDs(l.ancestors)
	return append(ids, l.node.ID)
}

func ancestorIDs(ancestors []*node.Node) []ulid.ULID {
	ids := make([]ulid.ULID, len(ancestors))
	for i, a := range ancestors {
		ids[i] = a.ID
	}
	return ids
}

func (fs *FileSystem) rootFolder() (*node.Node, error) {
	return fs.nodes.ReadFolder(fs.root)
}

// walk follows folder names from the root.
func (fs *FileSystem) walk(names []string) (*location, error) {
	cur, err := fs.rootFolder()
	if err != nil {
		return nil, err
	}

	loc := &location{node: cur, path: Separator}
	for _, name := range names {
		next, err := fs.findChild(cur, node.KindFolder, name)
		if err != nil {
			return nil, err
		}
		if next == nil {
			return nil, fmt.Errorf("%w: %s", ErrFolderNotFound, childPath(loc.path, name))
		}
		loc.ancestors = append(loc.ancestors, cur)
		loc.path = childPath(loc.path, next.Name)
		loc.node = next
		cur = next
	}
	return loc, nil
}

func (fs *FileSystem) resolveFolder(path string) (*location, error) {
	names, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	return fs.walk(names)
}

func (fs *FileSystem) resolveFile(path string) (*location, error) {
	names, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: the root is not a file", ErrInvalidPath)
	}

	parent, err := fs.walk(names[:len(names)-1])
	if err != nil {
		return nil, err
	}
	name := names[len(names)-1]
	file, err := fs.findChild(parent.node, node.KindFile, name)
	if err != nil {
		return nil, err
	}
	if file == nil {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, childPath(parent.path, name))
	}

	return &location{
		node:      file,
		ancestors: append(parent.ancestors, parent.node),
		path:      childPath(parent.path, file.Name),
	}, nil
}

// resolveParent resolves the folder that would hold path and returns it with
// the final name.
func (fs *FileSystem) resolveParent(path string) (*location, string, error) {
	names, err := splitPath(path)
	if err != nil {
		return nil, "", err
	}
	if len(names) == 0 {
		return nil, "", fmt.Errorf("%w: the root has no parent", ErrInvalidPath)
	}
	parent, err := fs.walk(names[:len(names)-1])
	if err != nil {
		return nil, "", err
	}
	return parent, names[len(names)-1], nil
}

// references returns the child list of folder for kind. Growing or
// shrinking the list rewrites folder.
func (fs *FileSystem) references(folder *node.Node, kind node.Kind) *stream.Stream {
	def := &folder.Folder.Files
	if kind == node.KindFolder {
		def = &folder.Folder.Folders
	}

	save := func(d addressing.Definition) error {
		updated := folder.Clone()
		if kind == node.KindFolder {
			updated.Folder.Folders = d
		} else {
			updated.Folder.Files = d
		}
		if err := fs.nodes.Write(updated); err != nil {
			return err
		}
		*def = d
		return nil
	}
	return stream.New(fs.dev, addressing.Open(fs.dev, fs.alloc, *def, save))
}

func (fs *FileSystem) childIndices(folder *node.Node, kind node.Kind) ([]int32, error) {
	indices, err := fs.references(folder, kind).ReadInt32s()
	if err != nil {
		return nil, fmt.Errorf("%w: children of %q: %w", ErrInconsistentData, folder.Name, err)
	}
	return indices, nil
}

func (fs *FileSystem) children(folder *node.Node, kind node.Kind) ([]*node.Node, error) {
	indices, err := fs.childIndices(folder, kind)
	if err != nil {
		return nil, err
	}

	out := make([]*node.Node, 0, len(indices))
	for _, index := range indices {
		var child *node.Node
		if kind == node.KindFolder {
			child, err = fs.nodes.ReadFolder(index)
		} else {
			child, err = fs.nodes.ReadFile(index)
		}
		if err != nil {
			return nil, err
		}
		out = append(out, child)
	}
	return out, nil
}

// findChild returns the child of kind called name, or nil.
func (fs *FileSystem) findChild(folder *node.Node, kind node.Kind, name string) (*node.Node, error) {
	children, err := fs.children(folder, kind)
	if err != nil {
		return nil, err
	}
	for _, child := range children {
		if strings.EqualFold(child.Name, name) {
			return child, nil
		}
	}
	return nil, nil
}

// checkCollision fails when folder already holds a file or folder called
// name, other than the node at except.
func (fs *FileSystem) checkCollision(folder *node.Node, path, name string, except int32) error {
	for _, kind := range []node.Kind{node.KindFile, node.KindFolder} {
		existing, err := fs.findChild(folder, kind, name)
		if err != nil {
			return err
		}
		if existing == nil || existing.BlockIndex == except {
			continue
		}
		if kind == node.KindFolder {
			return fmt.Errorf("%w: %s", ErrFolderAlreadyExists, path)
		}
		return fmt.Errorf("%w: %s", ErrFileAlreadyExists, path)
	}
	return nil
}

func (fs *FileSystem) addReference(folder *node.Node, kind node.Kind, index int32) error {
	return countError(kind, fs.references(folder, kind).AppendInt32(index))
}

func (fs *FileSystem) removeReference(folder *node.Node, kind node.Kind, index int32) error {
	found, err := fs.references(folder, kind).RemoveInt32(index)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %s %d missing from folder %q", ErrInconsistentData, kind, index, folder.Name)
	}
	return nil
}
