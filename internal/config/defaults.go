package config

import "time"

const (
	DefaultPort          = 51362
	DefaultProviderURL   = "http://localhost:11434"
	DefaultMinChars      = 100
	DefaultProgressEvery = 10
)

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultPort
	}
	if cfg.Provider.URL == "" {
		cfg.Provider.URL = DefaultProviderURL
	}
	if cfg.Provider.Timeout == 0 {
		cfg.Provider.Timeout = 60 * time.Second
	}
	if cfg.Provider.QueryCacheSize == 0 {
		cfg.Provider.QueryCacheSize = 1000
	}
	if cfg.Index.SnapshotPath == "" {
		cfg.Index.SnapshotPath = "~/.vaultsearch/index.json"
	}
	if cfg.Index.LedgerPath == "" {
		cfg.Index.LedgerPath = "~/.vaultsearch/ledger.db"
	}
	if cfg.Index.MinChars == nil {
		n := DefaultMinChars
		cfg.Index.MinChars = &n
	}
	if cfg.Index.Workers <= 0 {
		cfg.Index.Workers = 1
	}
	if cfg.Index.ProgressEvery <= 0 {
		cfg.Index.ProgressEvery = DefaultProgressEvery
	}
	if cfg.Vault.Extensions == nil {
		cfg.Vault.Extensions = []string{".md"}
	}
	// Recursive defaults to true when unset (nil).
	if len(cfg.Vault.Directories) > 0 && cfg.Vault.Recursive == nil {
		t := true
		cfg.Vault.Recursive = &t
	}
}
