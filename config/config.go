package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/brettbedarf/simos/internal/util"
	"gopkg.in/yaml.v3"
)

// Config contains runtime configuration values for the simulated kernel.
type Config struct {
	LogLvl util.LogLevel // Global log level (Default info)

	StorePath string   // File the VFS tree is saved to and loaded from (Default simos-fs.yaml)
	SeedDirs  []string // Directories created on a fresh file system (Default /bin /etc /home /tmp /var)
	// RecursiveDelete allows Delete to remove a non-empty directory and its
	// whole subtree (Default false: only empty directories)
	RecursiveDelete bool

	FrameCount      int  // Number of physical frames in the pool (Default 256)
	FrameSize       int  // Bytes per frame, only used for reporting (Default 4096)
	EvictionEnabled bool // Evict the oldest unpinned allocation on exhaustion (Default true)

	DefaultPriority   int // Priority for processes created without one (Default 1)
	TerminatedLogSize int // Terminated PCBs retained for history (Default 64)
}

// ConfigOverride uses pointer fields to distinguish between unset and zero values
// when loading partial configuration. See [Config] for field descriptions.
type ConfigOverride struct {
	// LogLvl is a CLI style verbosity between 1 (error) and 5 (trace)
	LogLvl            *int      `yaml:"verbose,omitempty" json:"verbose,omitempty" toml:"verbose,omitempty"`
	StorePath         *string   `yaml:"store_path,omitempty" json:"store_path,omitempty" toml:"store_path,omitempty"`
	SeedDirs          *[]string `yaml:"seed_dirs,omitempty" json:"seed_dirs,omitempty" toml:"seed_dirs,omitempty"`
	RecursiveDelete   *bool     `yaml:"recursive_delete,omitempty" json:"recursive_delete,omitempty" toml:"recursive_delete,omitempty"`
	FrameCount        *int      `yaml:"frame_count,omitempty" json:"frame_count,omitempty" toml:"frame_count,omitempty"`
	FrameSize         *int      `yaml:"frame_size,omitempty" json:"frame_size,omitempty" toml:"frame_size,omitempty"`
	EvictionEnabled   *bool     `yaml:"eviction_enabled,omitempty" json:"eviction_enabled,omitempty" toml:"eviction_enabled,omitempty"`
	DefaultPriority   *int      `yaml:"default_priority,omitempty" json:"default_priority,omitempty" toml:"default_priority,omitempty"`
	TerminatedLogSize *int      `yaml:"terminated_log_size,omitempty" json:"terminated_log_size,omitempty" toml:"terminated_log_size,omitempty"`
}

// NewDefaultConfig creates a new Config with all default values.
func NewDefaultConfig() *Config {
	return &Config{
		LogLvl:            DefaultLogLvl,
		StorePath:         DefaultStorePath,
		SeedDirs:          slices.Clone(DefaultSeedDirs),
		RecursiveDelete:   DefaultRecursiveDelete,
		FrameCount:        DefaultFrameCount,
		FrameSize:         DefaultFrameSize,
		EvictionEnabled:   DefaultEvictionEnabled,
		DefaultPriority:   DefaultPriority,
		TerminatedLogSize: DefaultTerminatedLogSize,
	}
}

// NewConfig creates a Config from defaults with override applied on top.
// A nil override yields the defaults.
func NewConfig(override *ConfigOverride) *Config {
	cfg := NewDefaultConfig()
	if override != nil {
		cfg.Merge(override)
	}
	return cfg
}

// Merge applies non-nil values from override onto this Config.
// This allows partial configuration updates while preserving existing values.
func (c *Config) Merge(override *ConfigOverride) {
	if override.LogLvl != nil {
		c.LogLvl = VerboseToLogLevel(*override.LogLvl)
	}
	c.StorePath = util.ValueOrDefault(override.StorePath, c.StorePath)
	if override.SeedDirs != nil {
		c.SeedDirs = slices.Clone(*override.SeedDirs)
	}
	c.RecursiveDelete = util.ValueOrDefault(override.RecursiveDelete, c.RecursiveDelete)
	c.FrameCount = util.ValueOrDefault(override.FrameCount, c.FrameCount)
	c.FrameSize = util.ValueOrDefault(override.FrameSize, c.FrameSize)
	c.EvictionEnabled = util.ValueOrDefault(override.EvictionEnabled, c.EvictionEnabled)
	c.DefaultPriority = util.ValueOrDefault(override.DefaultPriority, c.DefaultPriority)
	c.TerminatedLogSize = util.ValueOrDefault(override.TerminatedLogSize, c.TerminatedLogSize)
}

// Validate reports configuration values the kernel cannot run with.
func (c *Config) Validate() error {
	if c.FrameCount <= 0 {
		return fmt.Errorf("frame_count must be positive, got %d", c.FrameCount)
	}
	if c.FrameSize <= 0 {
		return fmt.Errorf("frame_size must be positive, got %d", c.FrameSize)
	}
	if c.TerminatedLogSize < 0 {
		return fmt.Errorf("terminated_log_size must not be negative, got %d", c.TerminatedLogSize)
	}
	if strings.TrimSpace(c.StorePath) == "" {
		return fmt.Errorf("store_path must not be empty")
	}
	return nil
}

// LoadConfigOverrideFile loads configuration overrides from a file without merging.
// Supports YAML (.yaml, .yml), JSON (.json) and TOML (.toml) formats.
func LoadConfigOverrideFile(path string) (*ConfigOverride, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var override ConfigOverride

	// Determine format by file extension
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &override); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config file: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &override); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config file: %w", err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, &override); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config file: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown config file extension: %s", path)
	}

	return &override, nil
}

// NewConfigFromFile creates a new Config by merging file overrides with defaults.
// This is a convenience function that combines NewDefaultConfig, LoadConfigOverrideFile, and Merge.
func NewConfigFromFile(path string) (*Config, error) {
	cfg := NewDefaultConfig()
	override, err := LoadConfigOverrideFile(path)
	if err != nil {
		return nil, err
	}
	cfg.Merge(override)
	return cfg, nil
}
