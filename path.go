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

	"vfsimage/node"
)

// Separator is the canonical path separator. Backslash is accepted too.
const Separator = "/"

// splitPath validates an absolute path and returns its names. The root
// yields no names. A single trailing separator is ignored.
func splitPath(path string) ([]string, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidPath)
	}
	path = strings.ReplaceAll(path, `\`, Separator)
	if !strings.HasPrefix(path, Separator) {
		return nil, fmt.Errorf("%w: %q is not absolute", ErrInvalidPath, path)
	}

	path = strings.TrimPrefix(path, Separator)
	if path == "" {
		return nil, nil
	}
	if strings.HasPrefix(path, Separator) {
		return nil, fmt.Errorf("%w: empty segment", ErrInvalidPath)
	}
	path = strings.TrimSuffix(path, Separator)

	names := strings.Split(path, Separator)
	for _, name := range names {
		if name == "" {
			return nil, fmt.Errorf("%w: empty segment", ErrInvalidPath)
		}
		if err := node.ValidateName(name); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidPath, err)
		}
	}
	return names, nil
}

// childPath appends name to a canonical folder path.
func childPath(folder, name string) string {
	if folder == Separator {
		return folder + name
	}
	return folder + Separator + name
}
