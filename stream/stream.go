// Package stream exposes a block tree as a seekable byte stream.
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
package stream

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"vfsimage/addressing"
)

// ZeroChunkSize bounds the zero buffer used when a stream is extended.
const ZeroChunkSize = 64 * 1024

var (
	ErrInvalidPosition = errors.New("position out of range")
	ErrInvalidLength   = errors.New("invalid stream length")
	ErrInvalidWhence   = errors.New("invalid whence")
)

// Stream is a cursor over one block tree. Each Stream has its own mutex;
// two Streams over the same tree must not be used at the same time.
type Stream struct {
	mu        sync.Mutex
	io        addressing.BlockIO
	structure *addressing.Structure
	position  int64
}

var (
	_ io.Reader = (*Stream)(nil)
	_ io.Writer = (*Stream)(nil)
	_ io.Seeker = (*Stream)(nil)
)

// New returns a stream positioned at the start of structure.
func New(bio addressing.BlockIO, structure *addressing.Structure) *Stream {
	return &Stream{io: bio, structure: structure}
}

func (s *Stream) Position() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position
}

func (s *Stream) Length() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.structure.Length()
}

// SetPosition moves the cursor. The position may equal the length but not
// pass it.
func (s *Stream) SetPosition(position int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setPosition(position)
}

func (s *Stream) Seek(offset int64, whence int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = s.position
	case io.SeekEnd:
		base = s.structure.Length()
	default:
		return s.position, fmt.Errorf("%w: %d", ErrInvalidWhence, whence)
	}
	if err := s.setPosition(base + offset); err != nil {
		return s.position, err
	}
	return s.position, nil
}

// MoveToEnd places the cursor at the end of the stream.
func (s *Stream) MoveToEnd() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.position = s.structure.Length()
}

// Read reads up to len(p) bytes from the cursor. It returns io.EOF only when
// the cursor is already at the end.
func (s *Stream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(p) == 0 {
		return 0, nil
	}
	remaining := s.structure.Length() - s.position
	if remaining <= 0 {
		return 0, io.EOF
	}

	want := int(min(int64(len(p)), remaining))
	bs := int64(s.io.BlockSize())
	read := 0
	for read < want {
		block, err := s.block(int(s.position / bs))
		if err != nil {
			return read, err
		}
		n := copy(p[read:want], block[s.position%bs:])
		read += n
		s.position += int64(n)
	}
	return read, nil
}

// Write writes p at the cursor, growing the stream first when the write
// passes its end. If growth fails nothing is written.
func (s *Stream) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	end := s.position + int64(len(p))
	if end > s.structure.Length() {
		if err := s.structure.SetSize(end); err != nil {
			return 0, err
		}
	}
	return s.writeAt(p)
}

// SetLength grows the stream with zeros or cuts it short. A shrink that
// leaves the cursor past the end moves it back to the end.
func (s *Stream) SetLength(length int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setLength(length)
}

// Truncate empties the stream.
func (s *Stream) Truncate() error {
	return s.SetLength(0)
}

// ReadAll reads the whole stream from the start and leaves the cursor at
// the end.
func (s *Stream) ReadAll() ([]byte, error) {
	s.mu.Lock()
	length := s.structure.Length()
	s.position = 0
	s.mu.Unlock()

	buf := make([]byte, length)
	if _, err := io.ReadFull(s, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (s *Stream) setPosition(position int64) error {
	if position < 0 || position > s.structure.Length() {
		return fmt.Errorf("%w: %d (length %d)", ErrInvalidPosition, position, s.structure.Length())
	}
	s.position = position
	return nil
}

func (s *Stream) setLength(length int64) error {
	if length < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidLength, length)
	}

	current := s.structure.Length()
	if length <= current {
		if err := s.structure.SetSize(length); err != nil {
			return err
		}
		s.position = min(s.position, length)
		return nil
	}

	if err := s.structure.SetSize(length); err != nil {
		return err
	}

	// Fresh blocks may hold bytes of freed streams.
	saved := s.position
	s.position = current
	zero := make([]byte, min(ZeroChunkSize, length-current))
	for s.position < length {
		n := min(int64(len(zero)), length-s.position)
		if _, err := s.writeAt(zero[:n]); err != nil {
			s.position = min(saved, current)
			return errors.Join(err, s.structure.SetSize(current))
		}
	}
	s.position = saved
	return nil
}

// writeAt writes p at the cursor inside the current length.
func (s *Stream) writeAt(p []byte) (int, error) {
	bs := int64(s.io.BlockSize())
	written := 0
	for written < len(p) {
		ordinal := int(s.position / bs)
		offset := int(s.position % bs)
		index, err := s.structure.DataBlock(ordinal)
		if err != nil {
			return written, err
		}

		var (
			block []byte
			n     int
		)
		if offset == 0 && len(p)-written >= int(bs) {
			block = p[written : written+int(bs)]
			n = int(bs)
		} else {
			if block, err = s.io.ReadBlock(index); err != nil {
				return written, err
			}
			n = copy(block[offset:], p[written:])
		}

		if err := s.io.WriteBlock(index, block); err != nil {
			return written, err
		}
		written += n
		s.position += int64(n)
	}
	return written, nil
}

func (s *Stream) block(ordinal int) ([]byte, error) {
	index, err := s.structure.DataBlock(ordinal)
	if err != nil {
		return nil, err
	}
	return s.io.ReadBlock(index)
}

// ReadInt32s decodes the whole stream as little-endian int32 values.
func (s *Stream) ReadInt32s() ([]int32, error) {
	raw, err := s.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a list of int32", ErrInvalidLength, len(raw))
	}

	values := make([]int32, len(raw)/4)
	for i := range values {
		values[i] = int32(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return values, nil
}

// AppendInt32 writes v at the end of the stream.
func (s *Stream) AppendInt32(v int32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(v))

	s.mu.Lock()
	defer s.mu.Unlock()

	s.position = s.structure.Length()
	end := s.position + 4
	if err := s.structure.SetSize(end); err != nil {
		return err
	}
	_, err := s.writeAt(buf[:])
	return err
}

// RemoveInt32 removes the first occurrence of v, keeping the order of the
// remaining values. It reports whether v was present.
func (s *Stream) RemoveInt32(v int32) (bool, error) {
	values, err := s.ReadInt32s()
	if err != nil {
		return false, err
	}

	at := -1
	for i, value := range values {
		if value == v {
			at = i
			break
		}
	}
	if at < 0 {
		return false, nil
	}

	tail := values[at+1:]
	buf := make([]byte, len(tail)*4)
	for i, value := range tail {
		binary.LittleEndian.PutUint32(buf[i*4:], uint32(value))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.position = int64(at) * 4
	if _, err := s.writeAt(buf); err != nil {
		return false, err
	}
	if err := s.setLength(int64(len(values)-1) * 4); err != nil {
		return false, err
	}
	return true, nil
}
