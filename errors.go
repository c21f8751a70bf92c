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
	"errors"
	"fmt"

	"vfsimage/addressing"
	"vfsimage/alloc"
	"vfsimage/lock"
	"vfsimage/node"
)

var (
	ErrFileNotFound              = errors.New("file not found")
	ErrFolderNotFound            = errors.New("folder not found")
	ErrFileAlreadyExists         = errors.New("file already exists")
	ErrFolderAlreadyExists       = errors.New("folder already exists")
	ErrFolderNotEmpty            = errors.New("folder not empty")
	ErrInvalidPath               = errors.New("invalid path")
	ErrInvalidName               = errors.New("invalid name")
	ErrFileLocked                = errors.New("file is locked")
	ErrFolderLocked              = errors.New("folder contains locked files")
	ErrInsufficientSpace         = errors.New("insufficient space")
	ErrMaximumFileSizeReached    = errors.New("maximum file size reached")
	ErrMaximumFileCountReached   = errors.New("maximum file count reached")
	ErrMaximumFolderCountReached = errors.New("maximum folder count reached")
	ErrTaskCancelled             = errors.New("task cancelled")
	ErrEnumeratorInvalidated     = errors.New("enumerator invalidated by a change")
	ErrNotWritable               = errors.New("file handle is read-only")
	ErrClosed                    = errors.New("closed")

	// ErrInconsistentData means the container is damaged. Unlike the errors
	// above it is not the caller's fault and retrying will not help.
	ErrInconsistentData = errors.New("inconsistent data")
)

var publicErrors = []error{
	ErrFileNotFound, ErrFolderNotFound, ErrFileAlreadyExists, ErrFolderAlreadyExists,
	ErrFolderNotEmpty, ErrInvalidPath, ErrInvalidName, ErrFileLocked, ErrFolderLocked,
	ErrInsufficientSpace, ErrMaximumFileSizeReached, ErrMaximumFileCountReached,
	ErrMaximumFolderCountReached, ErrTaskCancelled, ErrEnumeratorInvalidated,
	ErrNotWritable, ErrClosed, ErrInconsistentData,
}

// OpError represents a filesystem error with additional context.
type OpError struct {
	Op   string
	Path string
	Err  error
}

// Error implements the error interface.
func (e *OpError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *OpError) Unwrap() error {
	return e.Err
}

func newError(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Op: op, Path: path, Err: translate(err)}
}

// translate maps errors of the lower layers onto the public sentinels,
// keeping the original in the chain.
func translate(err error) error {
	if err == nil {
		return nil
	}
	for _, known := range publicErrors {
		if errors.Is(err, known) {
			return err
		}
	}

	var public error
	switch {
	case errors.Is(err, alloc.ErrNoFreeBlocks):
		public = ErrInsufficientSpace
	case errors.Is(err, addressing.ErrMaximumSizeExceeded):
		public = ErrMaximumFileSizeReached
	case errors.Is(err, lock.ErrCannotAcquire):
		public = ErrFileLocked
	case errors.Is(err, node.ErrInvalidName):
		public = ErrInvalidName
	case errors.Is(err, node.ErrInconsistentData),
		errors.Is(err, addressing.ErrCorruptStructure):
		public = ErrInconsistentData
	default:
		return err
	}
	return fmt.Errorf("%w: %w", public, err)
}

// countError maps a full reference stream onto the count error for kind.
func countError(kind node.Kind, err error) error {
	if !errors.Is(err, addressing.ErrMaximumSizeExceeded) {
		return err
	}
	if kind == node.KindFolder {
		return fmt.Errorf("%w: %w", ErrMaximumFolderCountReached, err)
	}
	return fmt.Errorf("%w: %w", ErrMaximumFileCountReached, err)
}
