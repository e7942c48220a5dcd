// Package config provides per-repository configuration.
//
// Settings live in .beargit/config.yaml. Environment variables override the
// file, which is convenient for one-off invocations and tests.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"beargit/internal/fsutil"
)

// Compression selects how snapshot content is stored.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionZstd Compression = "zstd"
)

// Config holds repository configuration.
type Config struct {
	// Compression is how tracked file content is stored in commits.
	Compression Compression `yaml:"compression"`
	// LockTimeout is how long a mutating command waits for the repository lock.
	LockTimeout time.Duration `yaml:"lock_timeout"`
	// Debug enables debug logging.
	Debug bool `yaml:"debug"`
}

// Default returns the configuration written by init.
func Default() *Config {
	return &Config{
		Compression: CompressionNone,
		LockTimeout: 5 * time.Second,
	}
}

// Load reads the config file at path and applies environment overrides.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to path atomically.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	header := []byte("# beargit repository configuration\n")
	if err := fsutil.WriteFileAtomic(path, append(header, data...), 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// Validate checks field values.
func (c *Config) Validate() error {
	switch c.Compression {
	case CompressionNone, CompressionZstd:
	case "":
		c.Compression = CompressionNone
	default:
		return fmt.Errorf("unknown compression %q (want %q or %q)", c.Compression, CompressionNone, CompressionZstd)
	}
	if c.LockTimeout < 0 {
		return fmt.Errorf("lock_timeout must not be negative, got %s", c.LockTimeout)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Compression = Compression(getEnv("BEARGIT_COMPRESSION", string(c.Compression)))
	c.LockTimeout = getEnvDuration("BEARGIT_LOCK_TIMEOUT", c.LockTimeout)
	c.Debug = getEnvBool("BEARGIT_DEBUG", c.Debug)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
