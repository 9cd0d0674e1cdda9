// Package config loads the pagedb YAML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	flushmanager "github.com/sushant-115/pagedb/core/write_engine/flush_manager"
	"github.com/sushant-115/pagedb/pkg/logger"
	"github.com/sushant-115/pagedb/pkg/telemetry"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPoolSize = 128
	DefaultDataDir  = "data"
)

// StorageConfig controls the buffer pool and where index files live.
type StorageConfig struct {
	DataDir  string `yaml:"data_dir"`
	PoolSize int    `yaml:"pool_size"`
}

// IndexConfig tunes newly created indexes.
type IndexConfig struct {
	// SlotsPerPage overrides the node capacity; 0 derives it from the key length.
	SlotsPerPage int `yaml:"slots_per_page"`
}

// SnapshotConfig controls index snapshots.
type SnapshotConfig struct {
	// Dir defaults to <data_dir>/snapshots.
	Dir             string `yaml:"dir"`
	RateBytesPerSec int64  `yaml:"rate_bytes_per_sec"`
	Verify          bool   `yaml:"verify"`
}

type Config struct {
	Storage   StorageConfig    `yaml:"storage"`
	Index     IndexConfig      `yaml:"index"`
	Snapshot  SnapshotConfig   `yaml:"snapshot"`
	Logger    logger.Config    `yaml:"logger"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// Default returns a configuration that works out of the box.
func Default() Config {
	return Config{
		Storage: StorageConfig{
			DataDir:  DefaultDataDir,
			PoolSize: DefaultPoolSize,
		},
		Snapshot: SnapshotConfig{
			Verify: true,
		},
		Logger: logger.Config{
			Level:      "info",
			Format:     "console",
			OutputFile: "stderr",
		},
		Telemetry: telemetry.Config{
			ServiceName: "pagedb",
		},
	}
}

// Load reads the YAML file at path over the defaults and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: parsing %s: %v", flushmanager.ErrInvalidConfig, path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values the storage layer cannot run with.
func (c Config) Validate() error {
	switch {
	case c.Storage.DataDir == "":
		return fmt.Errorf("%w: storage.data_dir is empty", flushmanager.ErrInvalidConfig)
	case c.Storage.PoolSize < 1:
		return fmt.Errorf("%w: storage.pool_size must be at least 1, got %d", flushmanager.ErrInvalidConfig, c.Storage.PoolSize)
	case c.Index.SlotsPerPage < 0 || c.Index.SlotsPerPage == 1:
		return fmt.Errorf("%w: index.slots_per_page must be 0 or at least 2, got %d", flushmanager.ErrInvalidConfig, c.Index.SlotsPerPage)
	case c.Snapshot.RateBytesPerSec < 0:
		return fmt.Errorf("%w: snapshot.rate_bytes_per_sec is negative", flushmanager.ErrInvalidConfig)
	case c.Telemetry.Enabled && (c.Telemetry.PrometheusPort < 0 || c.Telemetry.PrometheusPort > 65535):
		return fmt.Errorf("%w: telemetry.prometheus_port %d", flushmanager.ErrInvalidConfig, c.Telemetry.PrometheusPort)
	}
	return nil
}

// SnapshotDir returns the configured snapshot directory or its default.
func (c Config) SnapshotDir() string {
	if c.Snapshot.Dir != "" {
		return c.Snapshot.Dir
	}
	return filepath.Join(c.Storage.DataDir, "snapshots")
}
