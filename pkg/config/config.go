package config

import (
	"fmt"
	"os"

	"github.com/statera-project/statera/pkg/core/shardtries"
	"github.com/statera-project/statera/pkg/core/storage"
	"gopkg.in/yaml.v3"
)

// DefaultRetentionBlocks is the default trie GC window.
const DefaultRetentionBlocks = 100

// DefaultFlatConfirmationDepth is the default number of blocks the flat
// head stays behind the chain head.
const DefaultFlatConfirmationDepth = 10

// Config is the top-level engine configuration.
type Config struct {
	// DB is the backing store configuration. Engine concurrency tuning
	// (compaction and read-only behavior) is delegated to the per-backend
	// option blocks, there is no separate knob for it.
	DB storage.DBConfiguration `yaml:"DB"`
	// CacheCapacity is the per-shard trie node cache size in entries.
	CacheCapacity int `yaml:"CacheCapacity"`
	// RetentionBlocks is the number of recent blocks whose state roots are
	// kept readable by the garbage collector.
	RetentionBlocks uint32 `yaml:"RetentionBlocks"`
	// FlatConfirmationDepth is how far below the chain head the flat head
	// is allowed to advance. It should not be lower than the expected chain
	// finality depth.
	FlatConfirmationDepth uint32 `yaml:"FlatConfirmationDepth"`
}

// Default returns the configuration used when the file omits a setting.
func Default() Config {
	return Config{
		DB: storage.DBConfiguration{
			Type: "leveldb",
		},
		CacheCapacity:         shardtries.DefaultCacheCapacity,
		RetentionBlocks:       DefaultRetentionBlocks,
		FlatConfirmationDepth: DefaultFlatConfirmationDepth,
	}
}

// TriesConfig converts the configuration into the shardtries one.
func (c Config) TriesConfig() shardtries.Config {
	return shardtries.Config{
		CacheCapacity:   c.CacheCapacity,
		RetentionBlocks: c.RetentionBlocks,
	}
}

// Validate checks the configuration for obvious mistakes.
func (c Config) Validate() error {
	switch c.DB.Type {
	case "leveldb", "boltdb", "inmemory":
	default:
		return fmt.Errorf("unknown storage type: %s", c.DB.Type)
	}
	if c.RetentionBlocks == 0 {
		return fmt.Errorf("RetentionBlocks must be positive")
	}
	return nil
}

// Load reads the configuration from a YAML file applying the defaults for
// omitted settings.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}
	return cfg, cfg.Validate()
}
