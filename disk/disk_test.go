// Package disk tests
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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatNewDisk(t *testing.T) {
	testFileName := filepath.Join(t.TempDir(), "test.vfsi")

	storage, err := OpenFile(testFileName, os.O_RDWR|os.O_CREATE, 0644)
	require.NoError(t, err)

	d, err := Format(storage, BlockSize, 100*BlockSize)
	require.NoError(t, err)
	defer d.Close()

	h := d.Header()
	assert.Equal(t, Signature, h.Signature)
	assert.Equal(t, Version, h.Version)
	assert.EqualValues(t, BlockSize, h.BlockSize)
	assert.EqualValues(t, 100, h.TotalBlocks)
	assert.EqualValues(t, 1, h.AllocSetOffset)
	assert.EqualValues(t, 1, h.AllocSetSize)
	assert.EqualValues(t, 2, h.DataBlocksOffset)

	fi, err := os.Stat(testFileName)
	require.NoError(t, err)
	assert.EqualValues(t, 100*BlockSize, fi.Size())
}

func TestFormatRejectsBadGeometry(t *testing.T) {
	tests := []struct {
		name      string
		blockSize int
		size      int64
		want      error
	}{
		{"unsupported block size", 4096, 100 * 4096, ErrUnsupportedBlock},
		{"size not a multiple", BlockSize, 100*BlockSize + 1, ErrInvalidSize},
		{"zero size", BlockSize, 0, ErrInvalidSize},
		{"no room for data", BlockSize, 2 * BlockSize, ErrContainerTooSmall},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Format(NewMemoryStorage(), tt.blockSize, tt.size)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestBitmapRegionGrowsWithDisk(t *testing.T) {
	// One bitmap block covers BlockSize*8 blocks.
	blocks := int64(BlockSize*8 + 1)
	d, err := Format(NewMemoryStorage(), BlockSize, blocks*BlockSize)
	require.NoError(t, err)

	h := d.Header()
	assert.EqualValues(t, 2, h.AllocSetSize)
	assert.EqualValues(t, 3, h.DataBlocksOffset)
}

func TestReadWriteBlock(t *testing.T) {
	d, err := Format(NewMemoryStorage(), BlockSize, 10*BlockSize)
	require.NoError(t, err)

	require.NoError(t, d.WriteBlock(5, []byte("hello")))

	block, err := d.ReadBlock(5)
	require.NoError(t, err)
	require.Len(t, block, BlockSize)
	assert.Equal(t, []byte("hello"), block[:5])
	assert.Equal(t, make([]byte, BlockSize-5), block[5:])

	full := make([]byte, BlockSize)
	for i := range full {
		full[i] = byte(i)
	}
	require.NoError(t, d.WriteBlock(9, full))
	block, err = d.ReadBlock(9)
	require.NoError(t, err)
	assert.Equal(t, full, block)
}

func TestBlockIndexOutOfRange(t *testing.T) {
	d, err := Format(NewMemoryStorage(), BlockSize, 10*BlockSize)
	require.NoError(t, err)

	_, err = d.ReadBlock(-1)
	assert.ErrorIs(t, err, ErrBlockOutOfRange)
	_, err = d.ReadBlock(10)
	assert.ErrorIs(t, err, ErrBlockOutOfRange)
	assert.ErrorIs(t, d.WriteBlock(10, nil), ErrBlockOutOfRange)
	assert.ErrorIs(t, d.WriteBlock(3, make([]byte, BlockSize+1)), ErrBlockTooLarge)
}

func TestOpenRoundTrip(t *testing.T) {
	storage := NewMemoryStorage()
	d, err := Format(storage, BlockSize, 50*BlockSize)
	require.NoError(t, err)
	require.NoError(t, d.SetRootNodeBlock(7))
	require.NoError(t, d.Close())

	reopened, err := Open(storage)
	require.NoError(t, err)
	assert.Equal(t, d.Header(), reopened.Header())
	assert.EqualValues(t, 7, reopened.Header().RootNodeBlock)
}

func TestOpenRejectsForeignData(t *testing.T) {
	storage := NewMemoryStorage()
	require.NoError(t, storage.Truncate(10*BlockSize))
	copy(storage.Bytes(), []byte("definitely not a disk image"))

	_, err := Open(storage)
	assert.ErrorIs(t, err, ErrNotValidContainer)

	_, err = Open(NewMemoryStorage())
	assert.ErrorIs(t, err, ErrNotValidContainer)
}

func TestOpenRejectsResizedContainer(t *testing.T) {
	storage := NewMemoryStorage()
	_, err := Format(storage, BlockSize, 10*BlockSize)
	require.NoError(t, err)
	require.NoError(t, storage.Truncate(12*BlockSize))

	_, err = Open(storage)
	assert.ErrorIs(t, err, ErrNotValidContainer)
}

func TestOpenRepairsDamagedHeaderShards(t *testing.T) {
	storage := NewMemoryStorage()
	d, err := Format(storage, BlockSize, 20*BlockSize)
	require.NoError(t, err)
	require.NoError(t, d.SetRootNodeBlock(4))
	want := d.Header()

	raw := storage.Bytes()
	stride := headerShardSize + headerChecksumSize
	// Damage one data shard and one parity shard.
	raw[headerShardsOffset+1] ^= 0xFF
	raw[headerShardsOffset+5*stride+2] ^= 0xFF

	reopened, err := Open(storage)
	require.NoError(t, err)
	assert.Equal(t, want, reopened.Header())

	// The repair was written back, so a clean decode needs no reconstruction.
	block, err := reopened.ReadBlock(HeaderBlock)
	require.NoError(t, err)
	_, repaired, err := decodeHeader(block)
	require.NoError(t, err)
	assert.False(t, repaired)
}

func TestOpenFailsWithTooManyDamagedShards(t *testing.T) {
	storage := NewMemoryStorage()
	_, err := Format(storage, BlockSize, 20*BlockSize)
	require.NoError(t, err)

	raw := storage.Bytes()
	stride := headerShardSize + headerChecksumSize
	for i := 0; i < headerParityShards+1; i++ {
		raw[headerShardsOffset+i*stride] ^= 0xFF
	}

	_, err = Open(storage)
	assert.ErrorIs(t, err, ErrNotValidContainer)
}
