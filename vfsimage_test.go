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
	"bytes"
	"errors"
	"io"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"vfsimage/disk"
)

const testBlocks = 5000

// newTestFS formats an in-memory container of blocks blocks.
func newTestFS(t *testing.T, blocks int64) *FileSystem {
	t.Helper()
	fs, err := Format(disk.NewMemoryStorage(), blocks*disk.BlockSize, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = fs.Close() })
	return fs
}

// verifyClean fails the test unless the container is consistent.
func verifyClean(t *testing.T, fs *FileSystem) Report {
	t.Helper()
	report, err := fs.Verify()
	require.NoError(t, err)
	assert.Zero(t, report.Leaked)
	return report
}

func writeFile(t *testing.T, fs *FileSystem, path string, data []byte) {
	t.Helper()
	f, err := fs.OpenFileForWriting(path)
	require.NoError(t, err)
	_, err = f.Write(data)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func readFile(t *testing.T, fs *FileSystem, path string) []byte {
	t.Helper()
	f, err := fs.OpenFileForReading(path)
	require.NoError(t, err)
	defer f.Close()
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	return data
}

func pattern(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(i*7 + i/251)
	}
	return out
}

// fillUp grows a new file at path until the container has no room for
// another block.
func fillUp(t *testing.T, fs *FileSystem, path string) {
	t.Helper()
	_, err := fs.CreateFile(path)
	require.NoError(t, err)
	f, err := fs.OpenFileForWriting(path)
	require.NoError(t, err)
	for {
		err := f.SetLength(f.Length() + disk.BlockSize)
		if errors.Is(err, ErrInsufficientSpace) {
			break
		}
		require.NoError(t, err)
	}
	require.NoError(t, f.Close())
	require.Less(t, fs.FreeSpaceInBytes(), int64(2*disk.BlockSize))
}

// TestOpenClose tests basic open and close operations
func TestOpenClose(t *testing.T) {
	name := filepath.Join(t.TempDir(), "test_disk.vfs")

	fs, err := OpenPath(name, 100*disk.BlockSize, WithLogger(zaptest.NewLogger(t)))
	if err != nil {
		t.Fatalf("Failed to open filesystem: %v", err)
	}
	if err := fs.Close(); err != nil {
		t.Fatalf("Failed to close filesystem: %v", err)
	}
	if err := fs.Close(); !errors.Is(err, ErrClosed) {
		t.Fatalf("Second close should fail with ErrClosed, got %v", err)
	}

	// Open the same container again to ensure persistence
	fs, err = OpenPath(name, 0, WithLogger(zaptest.NewLogger(t)))
	if err != nil {
		t.Fatalf("Failed to reopen filesystem: %v", err)
	}
	if fs.root == 0 {
		t.Fatal("Root node block should not be 0 (header)")
	}
	if fs.TotalSpaceInBytes() <= fs.FreeSpaceInBytes() {
		t.Fatal("The root folder should occupy space")
	}
	if err := fs.Close(); err != nil {
		t.Fatalf("Failed to close filesystem after reopen: %v", err)
	}
}

// TestReloadKeepsTree writes a file three folders deep, closes the
// container and reads everything back from the host file.
func TestReloadKeepsTree(t *testing.T) {
	name := filepath.Join(t.TempDir(), "reload.vfs")
	data := pattern(10000)

	fs, err := OpenPath(name, testBlocks*disk.BlockSize, WithLogger(zaptest.NewLogger(t)))
	if err != nil {
		t.Fatalf("Failed to open filesystem: %v", err)
	}
	for _, p := range []string{`\A`, `\A\B`, `\A\B\C`} {
		if _, err := fs.CreateFolder(p); err != nil {
			t.Fatalf("Failed to create folder %s: %v", p, err)
		}
	}
	if _, err := fs.CreateFile(`\A\B\C\data.bin`); err != nil {
		t.Fatalf("Failed to create file: %v", err)
	}
	writeFile(t, fs, "/A/B/C/data.bin", data)
	free := fs.FreeSpaceInBytes()
	if err := fs.Close(); err != nil {
		t.Fatalf("Failed to close filesystem: %v", err)
	}

	fs, err = OpenPath(name, 0, WithLogger(zaptest.NewLogger(t)))
	if err != nil {
		t.Fatalf("Failed to reopen filesystem: %v", err)
	}
	defer fs.Close()

	if got := readFile(t, fs, "/a/b/c/DATA.bin"); !bytes.Equal(got, data) {
		t.Fatalf("Data mismatch after reload: got %d bytes", len(got))
	}
	if fs.FreeSpaceInBytes() != free {
		t.Fatalf("Free space changed across reload: %d != %d", fs.FreeSpaceInBytes(), free)
	}
	report := verifyClean(t, fs)
	if report.Folders != 4 || report.Files != 1 {
		t.Fatalf("Unexpected tree after reload: %+v", report)
	}
}

func TestOpenRejectsForeignData(t *testing.T) {
	storage := disk.NewMemoryStorage()
	require.NoError(t, storage.Truncate(16*disk.BlockSize))
	_, err := storage.WriteAt([]byte("not a container"), 0)
	require.NoError(t, err)

	_, err = Open(storage, WithLogger(zaptest.NewLogger(t)))
	assert.ErrorIs(t, err, disk.ErrNotValidContainer)
}

func TestOperationsAfterClose(t *testing.T) {
	fs, err := Format(disk.NewMemoryStorage(), 100*disk.BlockSize, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	_, err = fs.CreateFile("/a")
	require.NoError(t, err)
	f, err := fs.OpenFileForReading("/a")
	require.NoError(t, err)
	require.NoError(t, fs.Close())

	_, err = fs.CreateFolder("/b")
	assert.ErrorIs(t, err, ErrClosed)
	_, err = f.Read(make([]byte, 1))
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, f.Close())
}

func TestInvalidConfigIsRejected(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CopyChunkSize = 0
	_, err := Format(disk.NewMemoryStorage(), 100*disk.BlockSize, WithConfig(cfg))
	assert.Error(t, err)
}

func TestLoggerConfigFollowsConfig(t *testing.T) {
	cfg := DefaultConfig()
	lc := loggerConfig(cfg)
	assert.False(t, lc.Development)
	assert.Equal(t, "info", lc.Level)

	cfg.LogDevelopment = true
	cfg.LogLevel = "warn"
	lc = loggerConfig(cfg)
	assert.True(t, lc.Development)
	assert.Equal(t, "warn", lc.Level)

	fs, err := Format(disk.NewMemoryStorage(), 100*disk.BlockSize, WithConfig(cfg))
	require.NoError(t, err)
	assert.NoError(t, fs.Close())
}

func TestMetricsAreRegistered(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	fs, err := Format(disk.NewMemoryStorage(), 100*disk.BlockSize,
		WithLogger(zaptest.NewLogger(t)), WithRegisterer(reg))
	require.NoError(t, err)
	defer fs.Close()

	_, err = fs.CreateFile("/a")
	require.NoError(t, err)
	_, err = fs.CreateFile("/a")
	require.Error(t, err)

	m := fs.Metrics()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Operations.WithLabelValues("create_file", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Operations.WithLabelValues("create_file", "error")))
	assert.Equal(t, float64(fs.FreeSpaceInBytes()), testutil.ToFloat64(m.FreeBytes))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestErrorsCarryOperationContext(t *testing.T) {
	fs := newTestFS(t, 100)

	_, err := fs.CreateFile("/missing/a")
	require.ErrorIs(t, err, ErrFolderNotFound)

	var opErr *OpError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "create_file", opErr.Op)
	assert.Equal(t, "/missing/a", opErr.Path)
	assert.Contains(t, err.Error(), "create_file /missing/a")
}
