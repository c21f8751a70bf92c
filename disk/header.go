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
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/reedsolomon"
)

// The header is stored as Reed-Solomon shards so a few damaged bytes in
// block 0 do not make the whole container unreadable.
const (
	headerDataShards   = 4
	headerParityShards = 2
	headerPayloadSize  = 64
	headerShardSize    = headerPayloadSize / headerDataShards
	headerChecksumSize = 8
	headerShardsOffset = 8 // signature(4) + data shards(1) + parity shards(1) + shard size(2)
)

func encodeHeader(h Header, blockSize int) ([]byte, error) {
	payload := make([]byte, headerPayloadSize)
	binary.LittleEndian.PutUint32(payload[0:4], h.Signature)
	binary.LittleEndian.PutUint16(payload[4:6], h.Version)
	binary.LittleEndian.PutUint32(payload[6:10], h.BlockSize)
	binary.LittleEndian.PutUint64(payload[10:18], h.TotalBlocks)
	binary.LittleEndian.PutUint64(payload[18:26], h.AllocSetOffset)
	binary.LittleEndian.PutUint64(payload[26:34], h.AllocSetSize)
	binary.LittleEndian.PutUint64(payload[34:42], h.DataBlocksOffset)
	binary.LittleEndian.PutUint64(payload[42:50], h.RootNodeBlock)

	enc, err := reedsolomon.New(headerDataShards, headerParityShards)
	if err != nil {
		return nil, fmt.Errorf("create header encoder: %w", err)
	}
	shards, err := enc.Split(payload)
	if err != nil {
		return nil, fmt.Errorf("split header: %w", err)
	}
	if err := enc.Encode(shards); err != nil {
		return nil, fmt.Errorf("encode header parity: %w", err)
	}

	block := make([]byte, blockSize)
	binary.LittleEndian.PutUint32(block[0:4], h.Signature)
	block[4] = headerDataShards
	block[5] = headerParityShards
	binary.LittleEndian.PutUint16(block[6:8], headerShardSize)

	off := headerShardsOffset
	for _, shard := range shards {
		copy(block[off:], shard)
		off += headerShardSize
		binary.LittleEndian.PutUint64(block[off:], xxhash.Sum64(shard))
		off += headerChecksumSize
	}
	return block, nil
}

// decodeHeader parses block 0. repaired reports that damaged shards were
// rebuilt from parity and the block should be rewritten.
func decodeHeader(block []byte) (h Header, repaired bool, err error) {
	if len(block) < headerShardsOffset || binary.LittleEndian.Uint32(block[0:4]) != Signature {
		return Header{}, false, fmt.Errorf("%w: missing signature", ErrNotValidContainer)
	}
	if block[4] != headerDataShards || block[5] != headerParityShards ||
		binary.LittleEndian.Uint16(block[6:8]) != headerShardSize {
		return Header{}, false, fmt.Errorf("%w: unknown header layout", ErrNotValidContainer)
	}

	total := headerDataShards + headerParityShards
	if len(block) < headerShardsOffset+total*(headerShardSize+headerChecksumSize) {
		return Header{}, false, fmt.Errorf("%w: truncated header", ErrNotValidContainer)
	}

	shards := make([][]byte, total)
	damaged := 0
	off := headerShardsOffset
	for i := range shards {
		shard := block[off : off+headerShardSize]
		off += headerShardSize
		sum := binary.LittleEndian.Uint64(block[off : off+headerChecksumSize])
		off += headerChecksumSize

		if xxhash.Sum64(shard) != sum {
			damaged++
			continue
		}
		shards[i] = append([]byte(nil), shard...)
	}

	if damaged > headerParityShards {
		return Header{}, false, fmt.Errorf("%w: %d header shards damaged", ErrNotValidContainer, damaged)
	}
	if damaged > 0 {
		enc, err := reedsolomon.New(headerDataShards, headerParityShards)
		if err != nil {
			return Header{}, false, fmt.Errorf("create header encoder: %w", err)
		}
		if err := enc.Reconstruct(shards); err != nil {
			return Header{}, false, fmt.Errorf("%w: %v", ErrNotValidContainer, err)
		}
		repaired = true
	}

	payload := make([]byte, 0, headerPayloadSize)
	for _, shard := range shards[:headerDataShards] {
		payload = append(payload, shard...)
	}

	h = Header{
		Signature:        binary.LittleEndian.Uint32(payload[0:4]),
		Version:          binary.LittleEndian.Uint16(payload[4:6]),
		BlockSize:        binary.LittleEndian.Uint32(payload[6:10]),
		TotalBlocks:      binary.LittleEndian.Uint64(payload[10:18]),
		AllocSetOffset:   binary.LittleEndian.Uint64(payload[18:26]),
		AllocSetSize:     binary.LittleEndian.Uint64(payload[26:34]),
		DataBlocksOffset: binary.LittleEndian.Uint64(payload[34:42]),
		RootNodeBlock:    binary.LittleEndian.Uint64(payload[42:50]),
	}
	if h.Signature != Signature {
		return Header{}, false, fmt.Errorf("%w: header signature mismatch", ErrNotValidContainer)
	}
	if h.Version != Version {
		return Header{}, false, fmt.Errorf("%w: unsupported version %d", ErrNotValidContainer, h.Version)
	}
	return h, repaired, nil
}
