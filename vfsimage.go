// Package vfsimage is a virtual filesystem stored inside a single host
// file. Files and folders live in fixed-size blocks; file contents are
// addressed through a two-level tree of block references.
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
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"vfsimage/addressing"
	"vfsimage/alloc"
	"vfsimage/disk"
	"vfsimage/internal/config"
	"vfsimage/internal/id"
	"vfsimage/internal/logging"
	"vfsimage/internal/metrics"
	"vfsimage/lock"
	"vfsimage/node"
)

// Config holds filesystem settings.
type Config = config.Config

// DefaultConfig returns the default settings.
func DefaultConfig() *Config { return config.Default() }

// LoadConfig reads settings from VFS_* environment variables.
func LoadConfig() (*Config, error) { return config.Load() }

// LoadConfigFile reads settings from a YAML file.
func LoadConfigFile(path string) (*Config, error) { return config.LoadFile(path) }

// MaximumFileSize is the largest file the container format can address.
var MaximumFileSize = addressing.MaximumSize(disk.BlockSize)

// FileSystem is a folder tree inside one container. All structural changes
// are serialized by one mutex; reads and writes through open files are not.
type FileSystem struct {
	mu      sync.Mutex
	dev     *disk.Device
	alloc   *alloc.Persistent
	nodes   *node.Store
	locks   *lock.Coordinator
	ids     *id.Generator
	root    int32
	cfg     *config.Config
	log     *logging.Logger
	metrics *metrics.Metrics
	enums   *registry
	closed  atomic.Bool
}

type options struct {
	cfg        *config.Config
	logger     *zap.Logger
	registerer prometheus.Registerer
}

// Option configures a FileSystem.
type Option func(*options)

// WithLogger sets the logger. Without it a logger is built from the
// configured level.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithConfig replaces the default settings.
func WithConfig(cfg *Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithRegisterer registers the filesystem metrics on reg instead of a
// private registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

func newFileSystem(opts []Option) (*FileSystem, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.cfg == nil {
		o.cfg = config.Default()
	}
	if err := o.cfg.Validate(); err != nil {
		return nil, err
	}

	log := logging.Wrap(o.logger)
	if o.logger == nil {
		built, err := logging.New(loggerConfig(o.cfg))
		if err != nil {
			return nil, fmt.Errorf("build logger: %w", err)
		}
		log = built
	}

	reg := o.registerer
	if !o.cfg.MetricsEnabled {
		reg = nil
	}

	return &FileSystem{
		locks:   lock.NewCoordinator(),
		ids:     id.NewGenerator(),
		cfg:     o.cfg,
		log:     log,
		metrics: metrics.New(reg),
		enums:   newRegistry(),
	}, nil
}

// loggerConfig picks the logger preset for cfg. The configured level always
// wins over the preset's.
func loggerConfig(cfg *Config) logging.Config {
	lc := logging.DefaultConfig()
	if cfg.LogDevelopment {
		lc = logging.DevelopmentConfig()
	}
	lc.Level = cfg.LogLevel
	return lc
}

// Format lays out an empty filesystem of totalSize bytes on storage.
func Format(storage disk.Storage, totalSize int64, opts ...Option) (*FileSystem, error) {
	fs, err := newFileSystem(opts)
	if err != nil {
		return nil, err
	}

	dev, err := disk.Format(storage, fs.cfg.BlockSize, totalSize)
	if err != nil {
		return nil, err
	}
	allocator, err := alloc.NewPersistent(dev)
	if err != nil {
		return nil, err
	}
	fs.attach(dev, allocator)

	root, err := fs.newFolderNode("", 0)
	if err != nil {
		return nil, fmt.Errorf("create root folder: %w", translate(err))
	}
	if err := dev.SetRootNodeBlock(root.BlockIndex); err != nil {
		return nil, err
	}
	fs.root = root.BlockIndex
	fs.updateFreeSpace()

	fs.log.Info("formatted container",
		zap.Int64("size", totalSize),
		zap.Int64("free", fs.FreeSpaceInBytes()))
	return fs, nil
}

// Open loads a filesystem previously written by Format.
func Open(storage disk.Storage, opts ...Option) (*FileSystem, error) {
	fs, err := newFileSystem(opts)
	if err != nil {
		return nil, err
	}

	dev, err := disk.Open(storage)
	if err != nil {
		return nil, err
	}
	allocator, err := alloc.LoadPersistent(dev)
	if err != nil {
		return nil, err
	}
	fs.attach(dev, allocator)

	root := int32(dev.Header().RootNodeBlock)
	if root == 0 || !allocator.IsUsed(root) {
		return nil, fmt.Errorf("%w: no root folder", ErrInconsistentData)
	}
	if _, err := fs.nodes.ReadFolder(root); err != nil {
		return nil, fmt.Errorf("read root folder: %w", translate(err))
	}
	fs.root = root
	fs.updateFreeSpace()

	fs.log.Debug("opened container", zap.Int64("free", fs.FreeSpaceInBytes()))
	return fs, nil
}

// OpenPath opens the container in the host file name, formatting a new one
// of totalSize bytes when the file is missing or empty. A totalSize of 0
// uses the configured container size.
func OpenPath(name string, totalSize int64, opts ...Option) (*FileSystem, error) {
	storage, err := disk.OpenFile(name, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	size, err := storage.Size()
	if err != nil {
		return nil, errors.Join(err, storage.Close())
	}

	var fs *FileSystem
	if size == 0 {
		if totalSize == 0 {
			o := options{}
			for _, opt := range opts {
				opt(&o)
			}
			totalSize = config.Default().ContainerSize
			if o.cfg != nil {
				totalSize = o.cfg.ContainerSize
			}
		}
		fs, err = Format(storage, totalSize, opts...)
	} else {
		fs, err = Open(storage, opts...)
	}
	if err != nil {
		return nil, errors.Join(err, storage.Close())
	}
	return fs, nil
}

// Close invalidates every enumerator and closes the container. Open files
// must not be used afterwards.
func (fs *FileSystem) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.closed.Swap(true) {
		return ErrClosed
	}
	fs.enums.invalidateAll()
	err := fs.dev.Close()
	_ = fs.log.Sync()
	return err
}

// FreeSpaceInBytes returns the bytes still available for allocation.
func (fs *FileSystem) FreeSpaceInBytes() int64 {
	return int64(fs.alloc.FreeCount()) * int64(fs.dev.BlockSize())
}

// TotalSpaceInBytes returns the allocatable bytes of the container, free or
// not.
func (fs *FileSystem) TotalSpaceInBytes() int64 {
	return int64(fs.alloc.Capacity()) * int64(fs.dev.BlockSize())
}

// Metrics exposes the metric set, for callers that gather it themselves.
func (fs *FileSystem) Metrics() *metrics.Metrics {
	return fs.metrics
}

func (fs *FileSystem) attach(dev *disk.Device, allocator *alloc.Persistent) {
	fs.dev = dev
	fs.alloc = allocator
	fs.nodes = node.NewStore(dev)
}

func (fs *FileSystem) checkOpen() error {
	if fs.closed.Load() {
		return ErrClosed
	}
	return nil
}

func (fs *FileSystem) now() time.Time {
	return time.Now().UTC()
}

func (fs *FileSystem) updateFreeSpace() {
	fs.metrics.FreeBytes.Set(float64(fs.FreeSpaceInBytes()))
}

// finish records an operation and wraps its error.
func (fs *FileSystem) finish(op, path string, start time.Time, err error) error {
	fs.metrics.Observe(op, start, err)
	if err == nil {
		fs.updateFreeSpace()
		fs.log.Debug(op, zap.String("path", path), zap.Duration("took", time.Since(start)))
		return nil
	}

	err = newError(op, path, err)
	if errors.Is(err, ErrInconsistentData) {
		fs.log.Error("container data is inconsistent",
			zap.String("op", op), zap.String("path", path), zap.Error(err))
	}
	return err
}

// release frees blocks taken by an operation that is being undone.
func (fs *FileSystem) release(op string, blocks ...int32) error {
	fs.metrics.Rollbacks.WithLabelValues(op).Inc()
	err := fs.alloc.ReleaseMany(blocks)
	fs.log.Warn("rolled back", zap.String("op", op), zap.Int("blocks", len(blocks)), zap.Error(err))
	return err
}
