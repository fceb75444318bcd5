// Package config loads the host runtime configuration from a YAML file,
// with defaults that work out of the box for local use.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level host configuration.
type Config struct {
	// DataDir holds the plugin database and other runtime state.
	DataDir string `yaml:"data_dir"`

	// PluginDirs are scanned for plugin.json manifests at startup.
	PluginDirs []string `yaml:"plugin_dirs"`

	// Tenant is the tenant identifier plugins are installed under.
	Tenant string `yaml:"tenant"`

	// AutoActivate activates every discovered plugin after install.
	AutoActivate bool `yaml:"auto_activate"`

	// Watch reloads plugins when their manifests change on disk.
	Watch bool `yaml:"watch"`

	Log      LogConfig      `yaml:"log"`
	Defaults DefaultsConfig `yaml:"defaults"`
}

// LogConfig controls the logrus setup.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// Format is "text" or "json".
	Format string `yaml:"format"`
}

// DefaultsConfig sets sandbox policy fallbacks applied when a manifest
// leaves them unset.
type DefaultsConfig struct {
	ExecutionTimeout time.Duration `yaml:"execution_timeout"`
	MemoryCeiling    int64         `yaml:"memory_ceiling_bytes"`
	ChunkCacheSize   int           `yaml:"chunk_cache_size"`
	QueueDepth       int           `yaml:"queue_depth"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		DataDir:    "data",
		PluginDirs: []string{"plugins"},
		Tenant:     "default",
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Defaults: DefaultsConfig{
			ExecutionTimeout: 5 * time.Second,
			MemoryCeiling:    10 * 1024 * 1024,
			ChunkCacheSize:   128,
			QueueDepth:       64,
		},
	}
}

// Load reads the configuration file at path, merged over defaults. A
// missing file is not an error; the defaults are returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("invalid log format %q", c.Log.Format)
	}
	if c.Defaults.ExecutionTimeout < 0 {
		return fmt.Errorf("execution_timeout cannot be negative")
	}
	if c.Defaults.MemoryCeiling < 0 {
		return fmt.Errorf("memory_ceiling_bytes cannot be negative")
	}
	if c.Tenant == "" {
		c.Tenant = "default"
	}
	return nil
}
