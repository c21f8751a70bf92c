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
	"time"

	"go.uber.org/zap"

	"vfsimage/addressing"
	"vfsimage/node"
)

// Report summarizes a consistency check.
type Report struct {
	Files      int
	Folders    int
	UsedBlocks int
	// Leaked counts blocks marked in use that no node owns.
	Leaked int
}

// Verify walks the whole tree and checks that every block a node owns is
// marked in use, that no block has two owners and that the allocator has no
// other blocks in use. Any violation is reported as ErrInconsistentData.
func (fs *FileSystem) Verify() (Report, error) {
	start := time.Now()
	fs.mu.Lock()
	report, err := fs.verify()
	fs.mu.Unlock()
	if err == nil {
		fs.log.Info("verified container",
			zap.Int("files", report.Files),
			zap.Int("folders", report.Folders),
			zap.Int("blocks", report.UsedBlocks))
	}
	return report, fs.finish("verify", Separator, start, err)
}

type checker struct {
	fs     *FileSystem
	owners map[int32]string
	report Report
	errs   []error
}

func (fs *FileSystem) verify() (Report, error) {
	if err := fs.checkOpen(); err != nil {
		return Report{}, err
	}
	c := &checker{fs: fs, owners: make(map[int32]string)}

	root, err := fs.rootFolder()
	if err != nil {
		return Report{}, err
	}
	if err := c.folder(root, Separator, 0); err != nil {
		return c.report, err
	}

	c.report.UsedBlocks = fs.alloc.Capacity() - fs.alloc.FreeCount()
	if c.report.UsedBlocks != len(c.owners) {
		c.report.Leaked = max(c.report.UsedBlocks-len(c.owners), 0)
		c.fail("%d blocks in use but %d owned", c.report.UsedBlocks, len(c.owners))
	}
	if len(c.errs) > 0 {
		return c.report, fmt.Errorf("%w: %w", ErrInconsistentData, errors.Join(c.errs...))
	}
	return c.report, nil
}

func (c *checker) fail(format string, args ...any) {
	c.errs = append(c.errs, fmt.Errorf(format, args...))
}

func (c *checker) claim(block int32, owner string) {
	if prev, ok := c.owners[block]; ok {
		c.fail("block %d owned by %s and %s", block, prev, owner)
		return
	}
	c.owners[block] = owner
	if !c.fs.alloc.IsUsed(block) {
		c.fail("block %d of %s is marked free", block, owner)
	}
}

// stream claims every block of one addressed stream.
func (c *checker) stream(def addressing.Definition, owner string) error {
	s := addressing.Open(c.fs.dev, c.fs.alloc, def, nil)
	meta, err := s.MetadataBlocks()
	if err != nil {
		return fmt.Errorf("%s: %w", owner, err)
	}
	for _, b := range meta {
		c.claim(b, owner)
	}
	for b, err := range s.Blocks() {
		if err != nil {
			return fmt.Errorf("%s: %w", owner, err)
		}
		c.claim(b, owner)
	}
	return nil
}

func (c *checker) folder(n *node.Node, path string, parent int32) error {
	if prev, ok := c.owners[n.BlockIndex]; ok {
		c.fail("folder %s is already reachable as %s", path, prev)
		return nil
	}
	c.report.Folders++
	c.claim(n.BlockIndex, path)
	if n.Folder.Parent != parent {
		c.fail("folder %s names parent %d instead of %d", path, n.Folder.Parent, parent)
	}
	if err := c.stream(n.Folder.Files, path+" (files)"); err != nil {
		return err
	}
	if err := c.stream(n.Folder.Folders, path+" (folders)"); err != nil {
		return err
	}

	files, err := c.fs.children(n, node.KindFile)
	if err != nil {
		return err
	}
	for _, f := range files {
		c.report.Files++
		p := childPath(path, f.Name)
		c.claim(f.BlockIndex, p)
		if err := c.stream(f.File.Contents, p); err != nil {
			return err
		}
	}

	folders, err := c.fs.children(n, node.KindFolder)
	if err != nil {
		return err
	}
	for _, f := range folders {
		if err := c.folder(f, childPath(path, f.Name), n.BlockIndex); err != nil {
			return err
		}
	}
	return nil
}
