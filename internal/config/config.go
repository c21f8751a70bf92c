// Package config loads filesystem settings from the environment or a YAML
// file.
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
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"

	"vfsimage/disk"
)

// Prefix is prepended to every environment variable, e.g. VFS_LOG_LEVEL.
const Prefix = "VFS"

// Config holds all filesystem configuration.
type Config struct {
	BlockSize        int           `envconfig:"BLOCK_SIZE" default:"2048" yaml:"block_size"`
	ContainerSize    int64         `envconfig:"CONTAINER_SIZE" default:"67108864" yaml:"container_size"`
	CopyChunkSize    int           `envconfig:"COPY_CHUNK_SIZE" default:"65536" yaml:"copy_chunk_size"`
	ProgressInterval time.Duration `envconfig:"PROGRESS_INTERVAL" default:"100ms" yaml:"progress_interval"`
	LogLevel         string        `envconfig:"LOG_LEVEL" default:"info" yaml:"log_level"`
	LogDevelopment   bool          `envconfig:"LOG_DEV" default:"false" yaml:"log_development"`
	MetricsEnabled   bool          `envconfig:"METRICS_ENABLED" default:"true" yaml:"metrics_enabled"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFile reads a YAML file. Keys missing from the file keep their
// defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		BlockSize:        disk.BlockSize,
		ContainerSize:    64 << 20,
		CopyChunkSize:    64 << 10,
		ProgressInterval: 100 * time.Millisecond,
		LogLevel:         "info",
		LogDevelopment:   false,
		MetricsEnabled:   true,
	}
}

// Validate rejects settings the on-disk format cannot honour.
func (c *Config) Validate() error {
	var errs []error
	if c.BlockSize != disk.BlockSize {
		errs = append(errs, fmt.Errorf("block size %d is not supported, only %d", c.BlockSize, disk.BlockSize))
	}
	if c.ContainerSize <= 0 || c.ContainerSize%disk.BlockSize != 0 {
		errs = append(errs, fmt.Errorf("container size %d is not a positive multiple of %d", c.ContainerSize, disk.BlockSize))
	}
	if c.CopyChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("copy chunk size must be positive, got %d", c.CopyChunkSize))
	}
	if c.ProgressInterval < 0 {
		errs = append(errs, fmt.Errorf("progress interval must not be negative, got %s", c.ProgressInterval))
	}
	return errors.Join(errs...)
}
