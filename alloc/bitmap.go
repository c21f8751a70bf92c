// Package alloc hands out free blocks of a disk from a bitmap.
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
package alloc

import (
	"errors"
	"fmt"
)

var (
	ErrNoFreeBlocks    = errors.New("no free blocks")
	ErrBlockOutOfRange = errors.New("block not managed by allocator")
)

// Allocator is the free-space contract the addressing layer depends on.
type Allocator interface {
	AcquireOne() (int32, error)
	AcquireMany(n int) ([]int32, error)
	Release(index int32) error
	ReleaseMany(indices []int32) error
	FreeCount() int
	Capacity() int
}

// Bitmap is an in-memory first-fit allocator. Bit i stands for block
// offset+i. It is not safe for concurrent use; Persistent adds locking.
type Bitmap struct {
	bits     []byte
	offset   int32
	capacity int
	used     int
	hint     int // no free bit exists below hint
}

var _ Allocator = (*Bitmap)(nil)

// NewBitmap returns an empty bitmap for capacity blocks starting at offset.
func NewBitmap(offset int32, capacity int) *Bitmap {
	return &Bitmap{
		bits:     make([]byte, (capacity+7)/8),
		offset:   offset,
		capacity: capacity,
	}
}

// LoadBitmap rebuilds a bitmap from its serialized bits.
func LoadBitmap(offset int32, capacity int, raw []byte) (*Bitmap, error) {
	need := (capacity + 7) / 8
	if len(raw) < need {
		return nil, fmt.Errorf("bitmap too short: %d bytes for %d blocks", len(raw), capacity)
	}

	b := NewBitmap(offset, capacity)
	copy(b.bits, raw[:need])
	// Bits past capacity in the last byte are not blocks.
	if rem := capacity % 8; rem != 0 {
		b.bits[need-1] &= byte(1<<rem) - 1
	}
	for i := 0; i < capacity; i++ {
		if b.isSet(i) {
			b.used++
		}
	}
	return b, nil
}

// AcquireOne marks the first free block as used and returns its index.
func (b *Bitmap) AcquireOne() (int32, error) {
	for i := b.hint; i < b.capacity; i++ {
		if i%8 == 0 && b.bits[i/8] == 0xFF && i+8 <= b.capacity {
			i += 7
			continue
		}
		if !b.isSet(i) {
			b.set(i)
			b.used++
			b.hint = i + 1
			return b.offset + int32(i), nil
		}
	}
	b.hint = b.capacity
	return 0, ErrNoFreeBlocks
}

// AcquireMany acquires n blocks. On failure every block taken by this call
// is released again before the error is returned.
func (b *Bitmap) AcquireMany(n int) ([]int32, error) {
	if n < 0 {
		return nil, fmt.Errorf("negative block count %d", n)
	}
	blocks := make([]int32, 0, n)
	for len(blocks) < n {
		index, err := b.AcquireOne()
		if err != nil {
			if rerr := b.ReleaseMany(blocks); rerr != nil {
				return nil, errors.Join(err, rerr)
			}
			return nil, err
		}
		blocks = append(blocks, index)
	}
	return blocks, nil
}

// Release marks a block as free. Releasing a block twice is not detected.
func (b *Bitmap) Release(index int32) error {
	i, err := b.bit(index)
	if err != nil {
		return err
	}
	if b.isSet(i) {
		b.used--
	}
	b.clear(i)
	if i < b.hint {
		b.hint = i
	}
	return nil
}

// ReleaseMany releases every block in indices.
func (b *Bitmap) ReleaseMany(indices []int32) error {
	for _, index := range indices {
		if err := b.Release(index); err != nil {
			return err
		}
	}
	return nil
}

// IsUsed reports whether a block is currently allocated.
func (b *Bitmap) IsUsed(index int32) bool {
	i, err := b.bit(index)
	if err != nil {
		return false
	}
	return b.isSet(i)
}

func (b *Bitmap) FreeCount() int {
	return b.capacity - b.used
}

func (b *Bitmap) Capacity() int {
	return b.capacity
}

// Bytes returns the serialized bitmap. The slice aliases internal state.
func (b *Bitmap) Bytes() []byte {
	return b.bits
}

func (b *Bitmap) bit(index int32) (int, error) {
	i := int(index - b.offset)
	if index < b.offset || i >= b.capacity {
		return 0, fmt.Errorf("%w: %d", ErrBlockOutOfRange, index)
	}
	return i, nil
}

func (b *Bitmap) isSet(i int) bool {
	return b.bits[i/8]&(1<<(i%8)) != 0
}

func (b *Bitmap) set(i int) {
	b.bits[i/8] |= 1 << (i % 8)
}

func (b *Bitmap) clear(i int) {
	b.bits[i/8] &^= 1 << (i % 8)
}
