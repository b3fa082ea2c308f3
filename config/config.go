package config

import (
	"os"

	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"

	"github.com/mwangala/kcore/bcache"
	"github.com/mwangala/kcore/storage/disk"
)

type PallocConfig struct {
	Units  int `toml:"units"`
	Frames int `toml:"frames"`
}

type BcacheConfig struct {
	Buckets   int `toml:"buckets"`
	Buffers   int `toml:"buffers"`
	BlockSize int `toml:"block_size"`
}

type StorageConfig struct {
	Dir string `toml:"dir"`
}

type Config struct {
	Palloc  PallocConfig  `toml:"palloc"`
	Bcache  BcacheConfig  `toml:"bcache"`
	Storage StorageConfig `toml:"storage"`
}

func Default() *Config {
	return &Config{
		Palloc: PallocConfig{
			Units:  4,
			Frames: 1024,
		},
		Bcache: BcacheConfig{
			Buckets:   bcache.DEFAULT_BUCKETS,
			Buffers:   bcache.DEFAULT_BUFFERS,
			BlockSize: disk.BLOCK_SIZE,
		},
		Storage: StorageConfig{
			Dir: "./data",
		},
	}
}

// Load reads a TOML config file on top of the defaults. An empty path
// returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading config")
	}
	if err := toml.Unmarshal(raw, cfg); err != nil {
		return nil, errors.Wrap(err, "parsing config")
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Palloc.Units < 1 {
		return errors.Errorf("palloc.units must be positive, got %d", c.Palloc.Units)
	}
	if c.Palloc.Frames < 1 {
		return errors.Errorf("palloc.frames must be positive, got %d", c.Palloc.Frames)
	}
	if c.Bcache.Buckets < 1 {
		return errors.Errorf("bcache.buckets must be positive, got %d", c.Bcache.Buckets)
	}
	if c.Bcache.Buffers < 1 {
		return errors.Errorf("bcache.buffers must be positive, got %d", c.Bcache.Buffers)
	}
	if c.Bcache.BlockSize < 1 {
		return errors.Errorf("bcache.block_size must be positive, got %d", c.Bcache.BlockSize)
	}
	if c.Storage.Dir == "" {
		return errors.New("storage.dir must be set")
	}
	return nil
}
