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
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vfsimage/addressing"
	"vfsimage/disk"
	"vfsimage/internal/id"
)

var fixedTime = time.Unix(0, 1700000000123456789).UTC()

func newStore(t *testing.T) (*Store, *disk.Device) {
	t.Helper()
	dev, err := disk.Format(disk.NewMemoryStorage(), disk.BlockSize, 32*disk.BlockSize)
	require.NoError(t, err)
	return NewStore(dev), dev
}

func TestStoreRoundTrip(t *testing.T) {
	store, _ := newStore(t)
	gen := id.NewGenerator()

	file := NewFile("report.txt", gen.Generate(), 5,
		addressing.Definition{HeaderBlock: 6, Length: 10000}, fixedTime)
	folder := NewFolder("Документы", gen.Generate(), 7,
		addressing.Definition{HeaderBlock: 8, Length: 8},
		addressing.Definition{HeaderBlock: 9}, 3, fixedTime)

	for _, n := range []*Node{file, folder} {
		require.NoError(t, store.Write(n))
		got, err := store.Read(n.BlockIndex)
		require.NoError(t, err)
		assert.Equal(t, n, got)
	}

	got, err := store.ReadFile(5)
	require.NoError(t, err)
	assert.Equal(t, KindFile, got.Kind)
	assert.Nil(t, got.Folder)

	got, err = store.ReadFolder(7)
	require.NoError(t, err)
	assert.EqualValues(t, 3, got.Folder.Parent)
}

func TestStoreKindMismatch(t *testing.T) {
	store, _ := newStore(t)
	file := NewFile("a", id.NewGenerator().Generate(), 5, addressing.Definition{HeaderBlock: 6}, fixedTime)
	require.NoError(t, store.Write(file))

	_, err := store.ReadFolder(5)
	assert.ErrorIs(t, err, ErrInconsistentData)
}

func TestStoreRejectsForeignBlocks(t *testing.T) {
	store, dev := newStore(t)

	// Never written.
	_, err := store.Read(10)
	assert.ErrorIs(t, err, ErrInconsistentData)

	file := NewFile("a", id.NewGenerator().Generate(), 5, addressing.Definition{HeaderBlock: 6}, fixedTime)
	buf, err := file.MarshalBinary()
	require.NoError(t, err)

	// A record copied to the wrong block.
	require.NoError(t, dev.WriteBlock(11, buf))
	_, err = store.Read(11)
	assert.ErrorIs(t, err, ErrInconsistentData)

	// A record whose id was wiped.
	wiped := append([]byte(nil), buf...)
	clear(wiped[4:20])
	require.NoError(t, dev.WriteBlock(5, wiped))
	_, err = store.Read(5)
	assert.ErrorIs(t, err, ErrInconsistentData)

	// Unknown format version.
	buf[2] = FormatVersion + 1
	require.NoError(t, dev.WriteBlock(5, buf))
	_, err = store.Read(5)
	assert.ErrorIs(t, err, ErrInconsistentData)
}

func TestTouchChangesVersion(t *testing.T) {
	n := NewFile("a", id.NewGenerator().Generate(), 5, addressing.Definition{HeaderBlock: 6}, fixedTime)
	before := n.Version
	c := n.Clone()

	later := fixedTime.Add(time.Hour)
	n.Touch(later)
	assert.NotEqual(t, before, n.Version)
	assert.Equal(t, later, n.File.ModifiedAt)

	assert.Equal(t, before, c.Version, "clone is independent")
	assert.Equal(t, fixedTime, c.File.ModifiedAt)
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name  string
		input string
		valid bool
	}{
		{"plain", "notes.txt", true},
		{"unicode", "日本語", true},
		{"inner dot and space", "my file.v2.txt", true},
		{"max length", strings.Repeat("é", MaxNameLength), true},
		{"empty", "", false},
		{"too long", strings.Repeat("a", MaxNameLength+1), false},
		{"slash", "a/b", false},
		{"backslash", `a\b`, false},
		{"colon", "c:", false},
		{"star", "*.txt", false},
		{"question", "what?", false},
		{"quote", `say "hi"`, false},
		{"angle", "<x>", false},
		{"pipe", "a|b", false},
		{"control", "tab\there", false},
		{"dot", ".", false},
		{"dot dot", "..", false},
		{"trailing dot", "name.", false},
		{"trailing space", "name ", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.input)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidName)
			}
		})
	}
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "file", KindFile.String())
	assert.Equal(t, "folder", KindFolder.String())
	assert.Equal(t, "unknown", Kind(0).String())
}
