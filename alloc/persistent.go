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
	"sync"

	"vfsimage/disk"
)

// Persistent writes the whole bitmap back to its reserved disk region after
// every mutating call.
type Persistent struct {
	mu     sync.Mutex
	dev    *disk.Device
	bitmap *Bitmap
	first  int32 // first bitmap block
	blocks int   // bitmap blocks
}

var _ Allocator = (*Persistent)(nil)

// NewPersistent creates an empty allocator for a freshly formatted device
// and writes its bitmap.
func NewPersistent(dev *disk.Device) (*Persistent, error) {
	h := dev.Header()
	p := &Persistent{
		dev:    dev,
		bitmap: NewBitmap(int32(h.DataBlocksOffset), int(h.TotalBlocks-h.DataBlocksOffset)),
		first:  int32(h.AllocSetOffset),
		blocks: int(h.AllocSetSize),
	}
	if err := p.flush(); err != nil {
		return nil, err
	}
	return p, nil
}

// LoadPersistent reads the bitmap region of an existing device.
func LoadPersistent(dev *disk.Device) (*Persistent, error) {
	h := dev.Header()
	raw := make([]byte, 0, int(h.AllocSetSize)*dev.BlockSize())
	for i := 0; i < int(h.AllocSetSize); i++ {
		block, err := dev.ReadBlock(int32(h.AllocSetOffset) + int32(i))
		if err != nil {
			return nil, fmt.Errorf("read allocation bitmap: %w", err)
		}
		raw = append(raw, block...)
	}

	bitmap, err := LoadBitmap(int32(h.DataBlocksOffset), int(h.TotalBlocks-h.DataBlocksOffset), raw)
	if err != nil {
		return nil, err
	}
	return &Persistent{
		dev:    dev,
		bitmap: bitmap,
		first:  int32(h.AllocSetOffset),
		blocks: int(h.AllocSetSize),
	}, nil
}

func (p *Persistent) AcquireOne() (int32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	index, err := p.bitmap.AcquireOne()
	if err != nil {
		return 0, err
	}
	if err := p.flush(); err != nil {
		return 0, errors.Join(err, p.bitmap.Release(index))
	}
	return index, nil
}

func (p *Persistent) AcquireMany(n int) ([]int32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	blocks, err := p.bitmap.AcquireMany(n)
	if err != nil {
		return nil, err
	}
	if len(blocks) == 0 {
		return blocks, nil
	}
	if err := p.flush(); err != nil {
		return nil, errors.Join(err, p.bitmap.ReleaseMany(blocks))
	}
	return blocks, nil
}

func (p *Persistent) Release(index int32) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.bitmap.Release(index); err != nil {
		return err
	}
	return p.flush()
}

func (p *Persistent) ReleaseMany(indices []int32) error {
	if len(indices) == 0 {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.bitmap.ReleaseMany(indices); err != nil {
		return err
	}
	return p.flush()
}

func (p *Persistent) FreeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bitmap.FreeCount()
}

func (p *Persistent) Capacity() int {
	return p.bitmap.Capacity()
}

// IsUsed reports whether a block is currently allocated.
func (p *Persistent) IsUsed(index int32) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bitmap.IsUsed(index)
}

func (p *Persistent) flush() error {
	raw := p.bitmap.Bytes()
	size := p.dev.BlockSize()
	for i := 0; i < p.blocks; i++ {
		start := i * size
		if start >= len(raw) {
			// Past the end of the bitmap bytes.
			if err := p.dev.WriteBlock(p.first+int32(i), nil); err != nil {
				return fmt.Errorf("write allocation bitmap: %w", err)
			}
			continue
		}
		end := min(start+size, len(raw))
		if err := p.dev.WriteBlock(p.first+int32(i), raw[start:end]); err != nil {
			return fmt.Errorf("write allocation bitmap: %w", err)
		}
	}
	return nil
}
