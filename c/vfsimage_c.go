// Package main is the C binding of vfsimage.
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
package main

import (
	"C"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"unsafe"

	"go.uber.org/zap"

	"vfsimage"
	"vfsimage/internal/logging"
)

// Return codes shared by every function. Non-negative values are handles,
// counts or success.
const (
	codeOK              = 0
	codeInvalidHandle   = -1
	codeError           = -2
	codeEOF             = -3
	codeNotFound        = -4
	codeAlreadyExists   = -5
	codeLocked          = -6
	codeNoSpace         = -7
	codeInvalidArgument = -8
	codeNotEmpty        = -9
	codeLimitReached    = -10
	codeInconsistent    = -11
)

var codes = []struct {
	err  error
	code int
}{
	{vfsimage.ErrFileNotFound, codeNotFound},
	{vfsimage.ErrFolderNotFound, codeNotFound},
	{vfsimage.ErrFileAlreadyExists, codeAlreadyExists},
	{vfsimage.ErrFolderAlreadyExists, codeAlreadyExists},
	{vfsimage.ErrFileLocked, codeLocked},
	{vfsimage.ErrFolderLocked, codeLocked},
	{vfsimage.ErrInsufficientSpace, codeNoSpace},
	{vfsimage.ErrInvalidPath, codeInvalidArgument},
	{vfsimage.ErrInvalidName, codeInvalidArgument},
	{vfsimage.ErrNotWritable, codeInvalidArgument},
	{vfsimage.ErrFolderNotEmpty, codeNotEmpty},
	{vfsimage.ErrMaximumFileSizeReached, codeLimitReached},
	{vfsimage.ErrMaximumFileCountReached, codeLimitReached},
	{vfsimage.ErrMaximumFolderCountReached, codeLimitReached},
	{vfsimage.ErrInconsistentData, codeInconsistent},
}

// Store filesystems and open files in maps with a mutex for thread safety
var (
	fsMap   = make(map[int]*vfsimage.FileSystem)
	fileMap = make(map[int]*vfsimage.File)
	mapMu   sync.RWMutex
	nextID  = 1

	log = logging.NewDefault()
)

func store[T any](m map[int]T, v T) int {
	mapMu.Lock()
	defer mapMu.Unlock()
	id := nextID
	m[id] = v
	nextID++
	return id
}

func lookup[T any](m map[int]T, id int) (T, bool) {
	mapMu.RLock()
	defer mapMu.RUnlock()
	v, ok := m[id]
	return v, ok
}

func remove[T any](m map[int]T, id int) {
	mapMu.Lock()
	defer mapMu.Unlock()
	delete(m, id)
}

// code logs err and turns it into a return code.
func code(op string, err error) C.int {
	if err == nil {
		return C.int(codeOK)
	}
	log.Warn("c api call failed", zap.String("op", op), zap.Error(err))
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return C.int(c.code)
		}
	}
	return C.int(codeError)
}

// copyOut copies as much of data as fits into a C buffer.
func copyOut(buffer unsafe.Pointer, bufferSize C.size_t, data []byte) int {
	n := min(len(data), int(bufferSize))
	if n > 0 {
		copy(unsafe.Slice((*byte)(buffer), n), data[:n])
	}
	return n
}

//export vfsi_open
func vfsi_open(hostPath *C.char, totalSize C.longlong) C.int {
	var opts []vfsimage.Option
	if cfg, err := vfsimage.LoadConfig(); err == nil {
		opts = append(opts, vfsimage.WithConfig(cfg))
	} else {
		log.Warn("ignoring environment configuration", zap.Error(err))
	}

	fs, err := vfsimage.OpenPath(C.GoString(hostPath), int64(totalSize), opts...)
	if err != nil {
		return code("open", err)
	}
	return C.int(store(fsMap, fs))
}

//export vfsi_close
func vfsi_close(handle C.int) C.int {
	fs, ok := lookup(fsMap, int(handle))
	if !ok {
		return C.int(codeInvalidHandle)
	}
	remove(fsMap, int(handle))
	return code("close", fs.Close())
}

//export vfsi_free_space
func vfsi_free_space(handle C.int) C.longlong {
	fs, ok := lookup(fsMap, int(handle))
	if !ok {
		return C.longlong(codeInvalidHandle)
	}
	return C.longlong(fs.FreeSpaceInBytes())
}

// pathCall runs a single-path operation on the filesystem behind handle.
func pathCall(op string, handle C.int, path *C.char, fn func(fs *vfsimage.FileSystem, path string) error) C.int {
	fs, ok := lookup(fsMap, int(handle))
	if !ok {
		return C.int(codeInvalidHandle)
	}
	return code(op, fn(fs, C.GoString(path)))
}

//export vfsi_create_file
func vfsi_create_file(handle C.int, path *C.char) C.int {
	return pathCall("create_file", handle, path, func(fs *vfsimage.FileSystem, p string) error {
		_, err := fs.CreateFile(p)
		return err
	})
}

//export vfsi_create_folder
func vfsi_create_folder(handle C.int, path *C.char) C.int {
	return pathCall("create_folder", handle, path, func(fs *vfsimage.FileSystem, p string) error {
		_, err := fs.CreateFolder(p)
		return err
	})
}

//export vfsi_delete_file
func vfsi_delete_file(handle C.int, path *C.char) C.int {
	return pathCall("delete_file", handle, path, (*vfsimage.FileSystem).DeleteFile)
}

//export vfsi_delete_folder
func vfsi_delete_folder(handle C.int, path *C.char) C.int {
	return pathCall("delete_folder", handle, path, (*vfsimage.FileSystem).DeleteFolder)
}

//export vfsi_rename_file
func vfsi_rename_file(handle C.int, path *C.char, newName *C.char) C.int {
	name := C.GoString(newName)
	return pathCall("rename_file", handle, path, func(fs *vfsimage.FileSystem, p string) error {
		_, err := fs.RenameFile(p, name)
		return err
	})
}

//export vfsi_rename_folder
func vfsi_rename_folder(handle C.int, path *C.char, newName *C.char) C.int {
	name := C.GoString(newName)
	return pathCall("rename_folder", handle, path, func(fs *vfsimage.FileSystem, p string) error {
		_, err := fs.RenameFolder(p, name)
		return err
	})
}

//export vfsi_move_file
func vfsi_move_file(handle C.int, path *C.char, destinationFolder *C.char) C.int {
	dst := C.GoString(destinationFolder)
	return pathCall("move_file", handle, path, func(fs *vfsimage.FileSystem, p string) error {
		_, err := fs.MoveFile(p, dst)
		return err
	})
}

//export vfsi_move_folder
func vfsi_move_folder(handle C.int, path *C.char, destinationFolder *C.char) C.int {
	dst := C.GoString(destinationFolder)
	return pathCall("move_folder", handle, path, func(fs *vfsimage.FileSystem, p string) error {
		_, err := fs.MoveFolder(p, dst)
		return err
	})
}

// listing is the JSON shape of a folder listing handed to C.
type listing struct {
	Files   []string `json:"files"`
	Folders []string `json:"folders"`
}

//export vfsi_list
func vfsi_list(handle C.int, path *C.char, buffer unsafe.Pointer, bufferSize C.size_t) C.longlong {
	fs, ok := lookup(fsMap, int(handle))
	if !ok {
		return C.longlong(codeInvalidHandle)
	}
	p := C.GoString(path)

	files, err := fs.GetAllFilesFrom(p)
	if err != nil {
		return C.longlong(code("list", err))
	}
	folders, err := fs.GetAllFoldersFrom(p)
	if err != nil {
		return C.longlong(code("list", err))
	}

	out := listing{Files: make([]string, len(files)), Folders: make([]string, len(folders))}
	for i, f := range files {
		out.Files[i] = f.Name
	}
	for i, f := range folders {
		out.Folders[i] = f.Name
	}
	data, err := json.Marshal(out)
	if err != nil {
		return C.longlong(code("list", err))
	}
	// The full size is returned so callers can retry with a larger buffer.
	copyOut(buffer, bufferSize, data)
	return C.longlong(len(data))
}

func openFile(op string, handle C.int, path *C.char, open func(*vfsimage.FileSystem, string) (*vfsimage.File, error)) C.int {
	fs, ok := lookup(fsMap, int(handle))
	if !ok {
		return C.int(codeInvalidHandle)
	}
	f, err := open(fs, C.GoString(path))
	if err != nil {
		return code(op, err)
	}
	return C.int(store(fileMap, f))
}

//export vfsi_open_read
func vfsi_open_read(handle C.int, path *C.char) C.int {
	return openFile("open_read", handle, path, (*vfsimage.FileSystem).OpenFileForReading)
}

//export vfsi_open_write
func vfsi_open_write(handle C.int, path *C.char) C.int {
	return openFile("open_write", handle, path, (*vfsimage.FileSystem).OpenFileForWriting)
}

//export vfsi_file_read
func vfsi_file_read(fileHandle C.int, buffer unsafe.Pointer, bufferSize C.size_t) C.int {
	f, ok := lookup(fileMap, int(fileHandle))
	if !ok {
		return C.int(codeInvalidHandle)
	}
	n, err := f.Read(unsafe.Slice((*byte)(buffer), int(bufferSize)))
	if err == io.EOF && n == 0 {
		return C.int(codeEOF)
	}
	if err != nil && err != io.EOF {
		return code("read", err)
	}
	return C.int(n)
}

//export vfsi_file_write
func vfsi_file_write(fileHandle C.int, data unsafe.Pointer, dataSize C.size_t) C.int {
	f, ok := lookup(fileMap, int(fileHandle))
	if !ok {
		return C.int(codeInvalidHandle)
	}
	n, err := f.Write(C.GoBytes(data, C.int(dataSize)))
	if err != nil {
		return code("write", err)
	}
	return C.int(n)
}

//export vfsi_file_seek
func vfsi_file_seek(fileHandle C.int, offset C.longlong, whence C.int) C.longlong {
	f, ok := lookup(fileMap, int(fileHandle))
	if !ok {
		return C.longlong(codeInvalidHandle)
	}
	pos, err := f.Seek(int64(offset), int(whence))
	if err != nil {
		return C.longlong(code("seek", err))
	}
	return C.longlong(pos)
}

//export vfsi_file_length
func vfsi_file_length(fileHandle C.int) C.longlong {
	f, ok := lookup(fileMap, int(fileHandle))
	if !ok {
		return C.longlong(codeInvalidHandle)
	}
	return C.longlong(f.Length())
}

//export vfsi_file_set_length
func vfsi_file_set_length(fileHandle C.int, length C.longlong) C.int {
	f, ok := lookup(fileMap, int(fileHandle))
	if !ok {
		return C.int(codeInvalidHandle)
	}
	return code("set_length", f.SetLength(int64(length)))
}

//export vfsi_file_close
func vfsi_file_close(fileHandle C.int) C.int {
	f, ok := lookup(fileMap, int(fileHandle))
	if !ok {
		return C.int(codeInvalidHandle)
	}
	remove(fileMap, int(fileHandle))
	return code("close_file", f.Close())
}

// Required to build as a C shared library
func main() {}
