// Package addressing
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
package addressing

import (
	"encoding/binary"
	"errors"
	"fmt"
	"iter"

	"vfsimage/alloc"
)

const referenceSize = 4 // little-endian int32 block index

var (
	ErrMaximumSizeExceeded = errors.New("maximum stream size exceeded")
	ErrCorruptStructure    = errors.New("corrupt block reference")
	ErrOrdinalOutOfRange   = errors.New("block ordinal out of range")
)

// BlockIO is the block access the structure needs. *disk.Device satisfies it.
type BlockIO interface {
	ReadBlock(index int32) ([]byte, error)
	WriteBlock(index int32, data []byte) error
	BlockSize() int
}

// Definition locates a stream: its header block and its length in bytes.
type Definition struct {
	HeaderBlock int32
	Length      int64
}

// Saver persists a changed definition, usually by rewriting the owning node.
type Saver func(Definition) error

// Structure grows and shrinks the block tree of one stream. It is not safe
// for concurrent use.
type Structure struct {
	io        BlockIO
	allocator alloc.Allocator
	def       Definition
	save      Saver
	perBlock  int

	header   []int32         // nil until loaded
	indirect map[int][]int32 // header slot -> data block references
}

// ReferencesPerBlock is the number of block references one block holds.
func ReferencesPerBlock(blockSize int) int {
	return blockSize / referenceSize
}

// MaximumSize is the largest stream length a tree over blockSize can address.
func MaximumSize(blockSize int) int64 {
	n := int64(ReferencesPerBlock(blockSize))
	return n*n*int64(blockSize) - 1
}

// Create allocates the header block of a new, empty stream.
func Create(bio BlockIO, allocator alloc.Allocator) (Definition, error) {
	index, err := allocator.AcquireOne()
	if err != nil {
		return Definition{}, err
	}
	if err := bio.WriteBlock(index, nil); err != nil {
		return Definition{}, errors.Join(err, allocator.Release(index))
	}
	return Definition{HeaderBlock: index}, nil
}

// Open returns the structure of an existing stream. Block lists are read
// lazily on first use.
func Open(bio BlockIO, allocator alloc.Allocator, def Definition, save Saver) *Structure {
	if save == nil {
		save = func(Definition) error { return nil }
	}
	return &Structure{
		io:        bio,
		allocator: allocator,
		def:       def,
		save:      save,
		perBlock:  ReferencesPerBlock(bio.BlockSize()),
		indirect:  make(map[int][]int32),
	}
}

// Definition returns the current stream definition.
func (s *Structure) Definition() Definition {
	return s.def
}

// Length returns the stream length in bytes.
func (s *Structure) Length() int64 {
	return s.def.Length
}

// BlockSize returns the payload size of one data block.
func (s *Structure) BlockSize() int {
	return s.io.BlockSize()
}

// MaximumSize returns the largest length SetSize accepts.
func (s *Structure) MaximumSize() int64 {
	return MaximumSize(s.io.BlockSize())
}

// BlockCount returns the number of data blocks the current length needs.
func (s *Structure) BlockCount() int {
	return s.blocksFor(s.def.Length)
}

// SetSize changes the stream length, allocating or releasing blocks as
// needed. The length is only advanced after all new references are written,
// so a failed growth leaves the stream at its previous size.
func (s *Structure) SetSize(size int64) error {
	if size == s.def.Length {
		return nil
	}
	if size < 0 {
		return fmt.Errorf("%w: negative size %d", ErrOrdinalOutOfRange, size)
	}
	if size > s.MaximumSize() {
		return fmt.Errorf("%w: %d > %d", ErrMaximumSizeExceeded, size, s.MaximumSize())
	}
	if err := s.loadHeader(); err != nil {
		return err
	}

	cur := s.blocksFor(s.def.Length)
	want := s.blocksFor(size)
	switch {
	case want > cur:
		return s.grow(cur, want, size)
	case want < cur:
		return s.shrink(cur, want, size)
	default:
		return s.setLength(size)
	}
}

// DataBlock returns the block index holding the given data block ordinal.
func (s *Structure) DataBlock(ordinal int) (int32, error) {
	if ordinal < 0 || ordinal >= s.BlockCount() {
		return 0, fmt.Errorf("%w: %d of %d", ErrOrdinalOutOfRange, ordinal, s.BlockCount())
	}
	if err := s.loadHeader(); err != nil {
		return 0, err
	}

	ci, err := NewCompositeIndex(ordinal, s.perBlock, s.perBlock)
	if err != nil {
		return 0, err
	}
	list, err := s.indirectList(ci.Digit(0))
	if err != nil {
		return 0, err
	}
	return list[ci.Digit(1)], nil
}

// Blocks yields the data blocks of the stream in order. The sequence can be
// ranged over again to restart it.
func (s *Structure) Blocks() iter.Seq2[int32, error] {
	return func(yield func(int32, error) bool) {
		count := s.BlockCount()
		for i := 0; i < count; i++ {
			index, err := s.DataBlock(i)
			if !yield(index, err) || err != nil {
				return
			}
		}
	}
}

// MetadataBlocks returns the header block followed by every single-indirect
// block in use.
func (s *Structure) MetadataBlocks() ([]int32, error) {
	if err := s.loadHeader(); err != nil {
		return nil, err
	}
	return append([]int32{s.def.HeaderBlock}, s.header...), nil
}

// Destroy releases every block of the stream, including its header block.
func (s *Structure) Destroy() error {
	if err := s.SetSize(0); err != nil {
		return err
	}
	return s.allocator.Release(s.def.HeaderBlock)
}

func (s *Structure) grow(cur, want int, size int64) error {
	curSlots, curFill, err := BlockSizes(cur, s.perBlock, s.perBlock)
	if err != nil {
		return err
	}
	wantSlots, _, err := BlockSizes(want, s.perBlock, s.perBlock)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMaximumSizeExceeded, err)
	}

	dataNeeded := want - cur
	acquired, err := s.allocator.AcquireMany(dataNeeded + wantSlots - curSlots)
	if err != nil {
		return err
	}
	rollback := func(cause error) error {
		return errors.Join(cause, s.allocator.ReleaseMany(acquired))
	}

	data := acquired[:dataNeeded]
	header := append([]int32(nil), s.header...)
	updated := make(map[int][]int32)

	if curSlots > 0 && curFill < s.perBlock {
		last, err := s.indirectList(curSlots - 1)
		if err != nil {
			return rollback(err)
		}
		take := min(s.perBlock-curFill, len(data))
		updated[curSlots-1] = append(append([]int32(nil), last...), data[:take]...)
		data = data[take:]
	}
	for _, block := range acquired[dataNeeded:] {
		take := min(s.perBlock, len(data))
		updated[len(header)] = append([]int32(nil), data[:take]...)
		header = append(header, block)
		data = data[take:]
	}

	for slot, list := range updated {
		if err := s.io.WriteBlock(header[slot], encodeReferences(list)); err != nil {
			return rollback(err)
		}
	}
	if len(header) != len(s.header) {
		if err := s.io.WriteBlock(s.def.HeaderBlock, encodeReferences(header)); err != nil {
			return rollback(err)
		}
	}

	def := Definition{HeaderBlock: s.def.HeaderBlock, Length: size}
	if err := s.save(def); err != nil {
		return rollback(err)
	}

	s.def = def
	s.header = header
	for slot, list := range updated {
		s.indirect[slot] = list
	}
	return nil
}

func (s *Structure) shrink(cur, want int, size int64) error {
	curSlots, _, err := BlockSizes(cur, s.perBlock, s.perBlock)
	if err != nil {
		return err
	}
	wantSlots, wantFill, err := BlockSizes(want, s.perBlock, s.perBlock)
	if err != nil {
		return err
	}

	var freed []int32
	var kept []int32
	for slot := curSlots - 1; slot >= 0 && slot >= wantSlots-1; slot-- {
		list, err := s.indirectList(slot)
		if err != nil {
			return err
		}
		keep := 0
		if slot == wantSlots-1 {
			keep = wantFill
		}
		freed = append(freed, list[keep:]...)
		if keep == 0 {
			freed = append(freed, s.header[slot])
		} else {
			kept = list[:keep:keep]
		}
	}

	header := append([]int32(nil), s.header[:wantSlots]...)
	if kept != nil {
		if err := s.io.WriteBlock(header[wantSlots-1], encodeReferences(kept)); err != nil {
			return err
		}
	}
	if wantSlots != curSlots {
		if err := s.io.WriteBlock(s.def.HeaderBlock, encodeReferences(header)); err != nil {
			return err
		}
	}

	def := Definition{HeaderBlock: s.def.HeaderBlock, Length: size}
	if err := s.save(def); err != nil {
		return err
	}

	s.def = def
	s.header = header
	for slot := range s.indirect {
		if slot >= wantSlots {
			delete(s.indirect, slot)
		}
	}
	if kept != nil {
		s.indirect[wantSlots-1] = kept
	}

	// Blocks go back to the allocator only once nothing references them.
	return s.allocator.ReleaseMany(freed)
}

func (s *Structure) setLength(size int64) error {
	def := Definition{HeaderBlock: s.def.HeaderBlock, Length: size}
	if err := s.save(def); err != nil {
		return err
	}
	s.def = def
	return nil
}

func (s *Structure) blocksFor(length int64) int {
	bs := int64(s.io.BlockSize())
	return int((length + bs - 1) / bs)
}

func (s *Structure) loadHeader() error {
	if s.header != nil {
		return nil
	}

	slots, _, err := BlockSizes(s.BlockCount(), s.perBlock, s.perBlock)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptStructure, err)
	}
	if slots == 0 {
		s.header = []int32{}
		return nil
	}

	block, err := s.io.ReadBlock(s.def.HeaderBlock)
	if err != nil {
		return err
	}
	header, err := decodeReferences(block, slots)
	if err != nil {
		return fmt.Errorf("header block %d: %w", s.def.HeaderBlock, err)
	}
	s.header = header
	return nil
}

func (s *Structure) indirectList(slot int) ([]int32, error) {
	if list, ok := s.indirect[slot]; ok {
		return list, nil
	}

	slots, lastFill, err := BlockSizes(s.BlockCount(), s.perBlock, s.perBlock)
	if err != nil {
		return nil, err
	}
	if slot < 0 || slot >= slots {
		return nil, fmt.Errorf("%w: header slot %d of %d", ErrOrdinalOutOfRange, slot, slots)
	}
	fill := s.perBlock
	if slot == slots-1 {
		fill = lastFill
	}

	block, err := s.io.ReadBlock(s.header[slot])
	if err != nil {
		return nil, err
	}
	list, err := decodeReferences(block, fill)
	if err != nil {
		return nil, fmt.Errorf("indirect block %d: %w", s.header[slot], err)
	}
	s.indirect[slot] = list
	return list, nil
}

func encodeReferences(refs []int32) []byte {
	buf := make([]byte, len(refs)*referenceSize)
	for i, ref := range refs {
		binary.LittleEndian.PutUint32(buf[i*referenceSize:], uint32(ref))
	}
	return buf
}

func decodeReferences(block []byte, count int) ([]int32, error) {
	if count*referenceSize > len(block) {
		return nil, fmt.Errorf("%w: %d references do not fit in a block", ErrCorruptStructure, count)
	}
	refs := make([]int32, count)
	for i := range refs {
		ref := int32(binary.LittleEndian.Uint32(block[i*referenceSize:]))
		if ref <= 0 {
			return nil, fmt.Errorf("%w: reference %d is %d", ErrCorruptStructure, i, ref)
		}
		refs[i] = ref
	}
	return refs, nil
}
