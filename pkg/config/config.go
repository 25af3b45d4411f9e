package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

// Config is the runtime configuration read from a YAML file.
type Config struct {
	DataDir   string          `yaml:"data_dir"`
	LogLevel  string          `yaml:"log_level"`
	CubeEdge  float64         `yaml:"cube_edge"`
	Universe  int             `yaml:"universe"`
	BlobStore BlobStoreConfig `yaml:"blobstore"`
	Octree    OctreeConfig    `yaml:"octree"`
}

// BlobStoreConfig configures the content addressed blob store.
type BlobStoreConfig struct {
	InMemory    bool `yaml:"in_memory"`
	SyncWrites  bool `yaml:"sync_writes"`
	CacheSize   int  `yaml:"cache_size"`
	Compression bool `yaml:"compression"`
}

// OctreeConfig configures index files built by the database.
type OctreeConfig struct {
	Banner      string `yaml:"banner"`
	MaxPerVoxel int    `yaml:"max_per_voxel"`
	MaxDepth    int    `yaml:"max_depth"`
}

var ErrInvalidConfig = errors.New("invalid config")

// Default returns a config with every field set to its default.
func Default() Config {
	c := Config{BlobStore: BlobStoreConfig{CacheSize: DefaultCacheSize}}
	c.applyDefaults()
	return c
}

// Load reads the YAML file at path. Missing fields take their defaults.
// An empty path returns Default().
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML config data over Default(). Zero values of the other
// fields also fall back to their defaults; cache_size 0 disables the blob
// cache.
func Parse(data []byte) (Config, error) {
	c := Default()
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		c.DataDir = "data/"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.CubeEdge == 0 {
		c.CubeEdge = DefaultCubeEdge
	}
	if c.Universe == 0 {
		c.Universe = DefaultUniverse
	}
	if c.Octree.Banner == "" {
		c.Octree.Banner = DefaultBanner
	}
	if c.Octree.MaxPerVoxel == 0 {
		c.Octree.MaxPerVoxel = DefaultMaxPerVoxel
	}
	if c.Octree.MaxDepth == 0 {
		c.Octree.MaxDepth = DefaultMaxDepth
	}
}

// Validate checks value ranges.
func (c Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: log_level: %v", ErrInvalidConfig, err)
	}
	if c.CubeEdge <= 0 {
		return fmt.Errorf("%w: cube_edge must be positive", ErrInvalidConfig)
	}
	if c.Universe <= 0 {
		return fmt.Errorf("%w: universe must be positive", ErrInvalidConfig)
	}
	if c.BlobStore.CacheSize < 0 {
		return fmt.Errorf("%w: blobstore.cache_size must not be negative", ErrInvalidConfig)
	}
	if c.Octree.MaxPerVoxel < 1 || c.Octree.MaxDepth < 1 {
		return fmt.Errorf("%w: octree limits must be positive", ErrInvalidConfig)
	}
	return nil
}
