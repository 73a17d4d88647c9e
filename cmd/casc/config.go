package main

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ConfigVersion is bumped whenever Config's on-disk shape changes
// incompatibly.
const ConfigVersion = 1

// Config is the CLI's YAML-loadable settings, overridable by a couple of
// environment variables (NGDP_CACHE_DIR, TACT_KEYS_FILE) plus a couple of
// CLI-only conveniences.
type Config struct {
	Version int `json:"version" yaml:"version"`

	CacheDir    string `json:"cache_dir" yaml:"cache_dir"`
	TACTKeyFile string `json:"tact_keys_file" yaml:"tact_keys_file"`

	TACTHosts   []string `json:"tact_hosts" yaml:"tact_hosts"`
	RibbitHost  string   `json:"ribbit_host" yaml:"ribbit_host"`
	CDNPathRoot string   `json:"cdn_path_root" yaml:"cdn_path_root"`

	MaxInFlight int64 `json:"max_in_flight" yaml:"max_in_flight"`
}

func defaultConfig() *Config {
	return &Config{
		Version:     ConfigVersion,
		TACTHosts:   []string{"level3.blizzard.com"},
		RibbitHost:  "us.version.battle.net",
		CDNPathRoot: "tpr/wow",
		MaxInFlight: 32,
	}
}

// LoadConfig reads a YAML config file (if path is non-empty and exists),
// then applies the environment variable overrides.
func LoadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: reading %q: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %q: %w", path, err)
		}
	}

	if dir := os.Getenv("NGDP_CACHE_DIR"); dir != "" {
		cfg.CacheDir = dir
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = defaultCacheDir()
	}
	if keys := os.Getenv("TACT_KEYS_FILE"); keys != "" {
		cfg.TACTKeyFile = keys
	}

	return cfg, nil
}

func defaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "casc")
	}
	return filepath.Join(os.TempDir(), "casc-cache")
}
