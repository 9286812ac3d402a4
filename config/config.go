// Package config loads the indexing daemon's TOML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the daemon configuration.
type Config struct {
	Environment string `toml:"Environment"`

	DatabaseURL string `toml:"DatabaseURL"`

	RegistryEndpoint string `toml:"RegistryEndpoint"`
	CacheTTLSeconds  int    `toml:"CacheTTLSeconds"`

	MetricsAddress string `toml:"MetricsAddress"`

	TelemetryEndpoint string `toml:"TelemetryEndpoint"`
	TelemetryInsecure bool   `toml:"TelemetryInsecure"`

	LogFile string `toml:"LogFile"`
}

// CacheTTL returns the service identity cache TTL.
func (c *Config) CacheTTL() time.Duration {
	if c.CacheTTLSeconds <= 0 {
		return 0
	}
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// Load reads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s has unknown keys: %v", path, undecoded)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DatabaseURL is required")
	}
	if c.RegistryEndpoint == "" {
		return fmt.Errorf("RegistryEndpoint is required")
	}
	return nil
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{
		Environment:      "development",
		DatabaseURL:      "postgres://localhost:5432/melodex?sslmode=disable",
		RegistryEndpoint: "http://localhost:8546",
		CacheTTLSeconds:  1800,
		MetricsAddress:   ":9090",
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create config dir: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create default config: %w", err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, fmt.Errorf("write default config: %w", err)
	}
	return cfg, nil
}
