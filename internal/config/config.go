// Package config provides configuration loading and structs for the vaultsearch server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug    bool           `yaml:"debug"`
	Server   ServerConfig   `yaml:"server"`
	Provider ProviderConfig `yaml:"provider"`
	Index    IndexConfig    `yaml:"index"`
	Vault    VaultConfig    `yaml:"vault"`
}

// ServerConfig holds query server settings. Host should stay a loopback address.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// ProviderConfig holds embedding provider settings. An empty Model disables indexing.
type ProviderConfig struct {
	URL               string        `yaml:"url"`
	Token             string        `yaml:"token"`
	Model             string        `yaml:"model"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	QueryCacheSize    int           `yaml:"query_cache_size"`
}

// IndexConfig holds index persistence and sync settings.
type IndexConfig struct {
	SnapshotPath  string `yaml:"snapshot_path"`
	LedgerPath    string `yaml:"ledger_path"`
	// MinChars is the shortest document, in characters, that gets embedded.
	// 0 turns the threshold off; unset means DefaultMinChars.
	MinChars *int `yaml:"min_chars"`
	// Workers and ProgressEvery fall back to their defaults when 0 or negative.
	Workers       int `yaml:"workers"`
	ProgressEvery int `yaml:"progress_every"`
	// PruneMissing deletes entries for documents that vanished while the
	// server was not running during every reconciliation.
	PruneMissing bool `yaml:"prune_missing"`
}

// VaultConfig holds the document roots and the file filter.
type VaultConfig struct {
	Directories []string `yaml:"directories"`
	Extensions  []string `yaml:"extensions"`
	Recursive   *bool    `yaml:"recursive"`
}

// RecursiveOrDefault returns whether to walk and watch recursively; defaults to true when unset.
func (v *VaultConfig) RecursiveOrDefault() bool {
	if v.Recursive != nil {
		return *v.Recursive
	}
	return true
}

// MinCharsOrDefault returns the minimum document length; defaults to DefaultMinChars when unset.
func (c *IndexConfig) MinCharsOrDefault() int {
	if c.MinChars != nil && *c.MinChars >= 0 {
		return *c.MinChars
	}
	return DefaultMinChars
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Index.SnapshotPath = expandPath(cfg.Index.SnapshotPath, configDir)
	cfg.Index.LedgerPath = expandPath(cfg.Index.LedgerPath, configDir)
	for i := range cfg.Vault.Directories {
		cfg.Vault.Directories[i] = expandPath(cfg.Vault.Directories[i], configDir)
	}

	return &cfg, nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// "~/" and other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, strings.TrimPrefix(path, "~/"))
	}
	return path
}
