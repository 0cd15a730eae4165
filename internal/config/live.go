package config

import "sync"

// Settings is a point-in-time copy of the runtime-mutable configuration.
type Settings struct {
	ProviderURL string
	Token       string
	Model       string
	Port        int
	MinChars    int
}

// Live holds the settings that may change while the server runs.
// The sync engine and the query server read it on every operation.
type Live struct {
	mu       sync.RWMutex
	settings Settings
}

// NewLive seeds live settings from cfg.
func NewLive(cfg *Config) *Live {
	return &Live{settings: Settings{
		ProviderURL: cfg.Provider.URL,
		Token:       cfg.Provider.Token,
		Model:       cfg.Provider.Model,
		Port:        cfg.Server.Port,
		MinChars:    cfg.Index.MinCharsOrDefault(),
	}}
}

// Get returns a copy of the current settings.
func (l *Live) Get() Settings {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.settings
}

// SetProvider updates the provider address and model.
func (l *Live) SetProvider(url, model string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.settings.ProviderURL = url
	l.settings.Model = model
}

// Apply replaces the settings with those from cfg and returns the previous ones.
// A changed Port only takes effect when the listener is restarted.
func (l *Live) Apply(cfg *Config) Settings {
	next := Settings{
		ProviderURL: cfg.Provider.URL,
		Token:       cfg.Provider.Token,
		Model:       cfg.Provider.Model,
		Port:        cfg.Server.Port,
		MinChars:    cfg.Index.MinCharsOrDefault(),
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	prev := l.settings
	l.settings = next
	return prev
}
