// Package node
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
	"fmt"

	"vfsimage/addressing"
)

// Store reads and writes node records on a block device.
type Store struct {
	io addressing.BlockIO
}

func NewStore(bio addressing.BlockIO) *Store {
	return &Store{io: bio}
}

// Write stores n in its own block.
func (s *Store) Write(n *Node) error {
	buf, err := n.MarshalBinary()
	if err != nil {
		return err
	}
	if len(buf) > s.io.BlockSize() {
		return fmt.Errorf("%w: record of %d bytes does not fit a block", ErrInconsistentData, len(buf))
	}
	return s.io.WriteBlock(n.BlockIndex, buf)
}

// Read loads the record at index, whatever its kind.
func (s *Store) Read(index int32) (*Node, error) {
	block, err := s.io.ReadBlock(index)
	if err != nil {
		return nil, err
	}

	n := &Node{}
	if err := n.UnmarshalBinary(block); err != nil {
		return nil, fmt.Errorf("block %d: %w", index, err)
	}
	if n.BlockIndex != index {
		return nil, fmt.Errorf("%w: block %d holds node of block %d", ErrInconsistentData, index, n.BlockIndex)
	}
	return n, nil
}

// ReadFile loads a record that must be a file.
func (s *Store) ReadFile(index int32) (*Node, error) {
	return s.readKind(index, KindFile)
}

// ReadFolder loads a record that must be a folder.
func (s *Store) ReadFolder(index int32) (*Node, error) {
	return s.readKind(index, KindFolder)
}

func (s *Store) readKind(index int32, kind Kind) (*Node, error) {
	n, err := s.Read(index)
	if err != nil {
		return nil, err
	}
	if n.Kind != kind {
		return nil, fmt.Errorf("%w: block %d holds a %s, want a %s", ErrInconsistentData, index, n.Kind, kind)
	}
	return n, nil
}
