// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package studio

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// MaxConfigFileSize caps config files at 1MB to prevent memory issues
// from oversized files.
const MaxConfigFileSize = 1024 * 1024

const (
	defaultHydrationTimeout = 10 * time.Second
	defaultRegistryInterval = 2 * time.Second
)

// configValidate is the shared validator for store configuration.
var configValidate = validator.New()

// Config configures one document store session.
type Config struct {
	// DocumentID keys the shared room and the local cache directory.
	DocumentID string `yaml:"document_id" validate:"required"`

	// Title is the initial document title used before meta carries one.
	Title string `yaml:"title"`

	// CacheDir is the parent directory for local document caches. Empty
	// disables persistence (useful for tests and ephemeral embeddings).
	CacheDir string `yaml:"cache_dir"`

	// CacheSyncWrites enables synchronous cache writes for durability.
	CacheSyncWrites bool `yaml:"cache_sync_writes"`

	// SyncURL is the websocket base URL of the room server, e.g.
	// "ws://localhost:9040". Empty disables network sync.
	SyncURL string `yaml:"sync_url"`

	// RegistryURL is the catalog endpoint receiving debounced document
	// metadata pushes. Empty disables registry sync.
	RegistryURL string `yaml:"registry_url" validate:"omitempty,url"`

	// HydrationTimeout bounds the wait for the cache's hydration signal.
	// A cache that stays silent past it is treated as corrupt.
	// Default: 10s.
	HydrationTimeout time.Duration `yaml:"hydration_timeout"`

	// RegistryInterval is the minimum spacing between registry pushes.
	// Default: 2s.
	RegistryInterval time.Duration `yaml:"registry_interval"`
}

func (c *Config) applyDefaults() {
	if c.HydrationTimeout <= 0 {
		c.HydrationTimeout = defaultHydrationTimeout
	}
	if c.RegistryInterval <= 0 {
		c.RegistryInterval = defaultRegistryInterval
	}
}

func (c Config) validate() error {
	if err := configValidate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// LoadConfig reads a store configuration from a YAML file.
//
// # Inputs
//
//   - path: YAML file, at most MaxConfigFileSize bytes.
//
// # Outputs
//
//   - Config: Parsed configuration with defaults applied.
//   - error: Non-nil on read, parse or validation failure.
func LoadConfig(path string) (Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Config{}, fmt.Errorf("stat config %s: %w", path, err)
	}
	if info.Size() > MaxConfigFileSize {
		return Config{}, fmt.Errorf("config %s exceeds %d bytes", path, MaxConfigFileSize)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	cfg.applyDefaults()
	return cfg, nil
}
