// Package disk
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
package disk

import (
	"errors"
	"fmt"
	"math"
	"sync"
)

const (
	Signature uint32 = 0x56465349 // VFSI
	Version   uint16 = 1

	// BlockSize is the only block size this format supports.
	BlockSize = 2048

	HeaderBlock = 0 // Block 0 holds the filesystem header
)

var (
	ErrNotValidContainer    = errors.New("not a valid container")
	ErrBlockOutOfRange      = errors.New("block index out of range")
	ErrBlockTooLarge        = errors.New("data larger than block")
	ErrUnsupportedBlock     = errors.New("unsupported block size")
	ErrInvalidSize          = errors.New("container size is not a multiple of the block size")
	ErrContainerTooSmall    = errors.New("container too small")
	ErrContainerTooLarge    = errors.New("container too large")
	ErrInvalidRootNodeBlock = errors.New("invalid root node block")
)

// Header is a struct for the disk header
type Header struct {
	Signature        uint32 // Magic number to identify our disk format (VFSI)
	Version          uint16 // Version of the disk format
	BlockSize        uint32 // Size of each block in bytes
	TotalBlocks      uint64 // Total number of blocks in the container
	AllocSetOffset   uint64 // First block of the allocation bitmap
	AllocSetSize     uint64 // Number of blocks used by the allocation bitmap
	DataBlocksOffset uint64 // First allocatable block
	RootNodeBlock    uint64 // Block holding the root folder node, 0 until set
}

// Device gives fixed-size block access to a Storage.
type Device struct {
	mu      sync.RWMutex
	storage Storage
	header  Header
}

// Format lays out a fresh container of totalSize bytes on storage.
func Format(storage Storage, blockSize int, totalSize int64) (*Device, error) {
	if blockSize != BlockSize {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedBlock, blockSize)
	}
	if totalSize <= 0 || totalSize%int64(blockSize) != 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, totalSize)
	}

	totalBlocks := totalSize / int64(blockSize)
	if totalBlocks > math.MaxInt32 {
		return nil, fmt.Errorf("%w: %d blocks", ErrContainerTooLarge, totalBlocks)
	}

	bitsPerBlock := int64(blockSize) * 8
	allocSetSize := (totalBlocks + bitsPerBlock - 1) / bitsPerBlock
	dataOffset := 1 + allocSetSize
	if dataOffset >= totalBlocks {
		return nil, fmt.Errorf("%w: %d blocks", ErrContainerTooSmall, totalBlocks)
	}

	if err := storage.Truncate(totalSize); err != nil {
		return nil, err
	}

	d := &Device{
		storage: storage,
		header: Header{
			Signature:        Signature,
			Version:          Version,
			BlockSize:        uint32(blockSize),
			TotalBlocks:      uint64(totalBlocks),
			AllocSetOffset:   1,
			AllocSetSize:     uint64(allocSetSize),
			DataBlocksOffset: uint64(dataOffset),
		},
	}

	// Truncate may have kept old bytes around when the container shrank.
	zero := make([]byte, blockSize)
	for i := int64(1); i < dataOffset; i++ {
		if err := d.WriteBlock(int32(i), zero); err != nil {
			return nil, err
		}
	}

	if err := d.writeHeader(); err != nil {
		return nil, err
	}
	return d, nil
}

// Open reads the header of a previously formatted container.
func Open(storage Storage) (*Device, error) {
	block := make([]byte, BlockSize)
	if _, err := storage.ReadAt(block, 0); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotValidContainer, err)
	}

	header, repaired, err := decodeHeader(block)
	if err != nil {
		return nil, err
	}

	size, err := storage.Size()
	if err != nil {
		return nil, err
	}
	if header.BlockSize != BlockSize ||
		header.TotalBlocks == 0 ||
		header.TotalBlocks > math.MaxInt32 ||
		uint64(size) != header.TotalBlocks*uint64(header.BlockSize) ||
		header.DataBlocksOffset != header.AllocSetOffset+header.AllocSetSize ||
		header.DataBlocksOffset >= header.TotalBlocks {
		return nil, fmt.Errorf("%w: header does not match container", ErrNotValidContainer)
	}

	d := &Device{storage: storage, header: header}
	if repaired {
		if err := d.writeHeader(); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// ReadBlock returns a copy of the block at index.
func (d *Device) ReadBlock(index int32) ([]byte, error) {
	if err := d.checkIndex(index); err != nil {
		return nil, err
	}

	buf := make([]byte, d.header.BlockSize)

	d.mu.RLock()
	defer d.mu.RUnlock()

	if _, err := d.storage.ReadAt(buf, d.offset(index)); err != nil {
		return nil, fmt.Errorf("read block %d: %w", index, err)
	}
	return buf, nil
}

// WriteBlock writes data to the block at index, zero-padding a short buffer.
func (d *Device) WriteBlock(index int32, data []byte) error {
	if err := d.checkIndex(index); err != nil {
		return err
	}
	if len(data) > int(d.header.BlockSize) {
		return fmt.Errorf("%w: %d > %d", ErrBlockTooLarge, len(data), d.header.BlockSize)
	}

	buf := data
	if len(data) < int(d.header.BlockSize) {
		buf = make([]byte, d.header.BlockSize)
		copy(buf, data)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := d.storage.WriteAt(buf, d.offset(index)); err != nil {
		return fmt.Errorf("write block %d: %w", index, err)
	}
	return nil
}

// Header returns a copy of the current header.
func (d *Device) Header() Header {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.header
}

// SetRootNodeBlock records the root folder node location in the header.
func (d *Device) SetRootNodeBlock(index int32) error {
	if index < int32(d.header.DataBlocksOffset) || int64(index) >= int64(d.header.TotalBlocks) {
		return fmt.Errorf("%w: %d", ErrInvalidRootNodeBlock, index)
	}

	d.mu.Lock()
	d.header.RootNodeBlock = uint64(index)
	d.mu.Unlock()

	return d.writeHeader()
}

// BlockSize returns the size of each block in bytes.
func (d *Device) BlockSize() int {
	return int(d.header.BlockSize)
}

// BlockCount returns the total number of blocks including reserved ones.
func (d *Device) BlockCount() int {
	return int(d.header.TotalBlocks)
}

// Sync flushes the underlying storage.
func (d *Device) Sync() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.storage.Sync()
}

// Close syncs and closes the underlying storage.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.storage.Sync(); err != nil {
		return err
	}
	return d.storage.Close()
}

func (d *Device) writeHeader() error {
	d.mu.RLock()
	header := d.header
	d.mu.RUnlock()

	block, err := encodeHeader(header, int(header.BlockSize))
	if err != nil {
		return err
	}
	return d.WriteBlock(HeaderBlock, block)
}

func (d *Device) checkIndex(index int32) error {
	if index < 0 || uint64(index) >= d.header.TotalBlocks {
		return fmt.Errorf("%w: %d (block count %d)", ErrBlockOutOfRange, index, d.header.TotalBlocks)
	}
	return nil
}

func (d *Device) offset(index int32) int64 {
	return int64(index) * int64(d.header.BlockSize)
}
