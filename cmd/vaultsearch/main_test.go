package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/hyperjump/vaultsearch/internal/config"
	"github.com/hyperjump/vaultsearch/internal/embedding"
	"github.com/hyperjump/vaultsearch/internal/models"
	"github.com/hyperjump/vaultsearch/internal/server"
	"github.com/hyperjump/vaultsearch/internal/vector"
	"go.uber.org/zap"
)

func TestArgsReorder(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected []string
	}{
		{
			name:     "flags after query are moved first",
			args:     []string{"weekly review", "-top", "3"},
			expected: []string{"-top", "3", "weekly review"},
		},
		{
			name:     "flags first returns unchanged",
			args:     []string{"-top", "3", "weekly review"},
			expected: []string{"-top", "3", "weekly review"},
		},
		{
			name:     "query only returns unchanged",
			args:     []string{"weekly review"},
			expected: []string{"weekly review"},
		},
		{
			name:     "empty args returns unchanged",
			args:     []string{},
			expected: []string{},
		},
		{
			name:     "multiple positionals then flags",
			args:     []string{"one", "two", "-output", "json"},
			expected: []string{"-output", "json", "one", "two"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := argsReorder(tt.args)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("argsReorder() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestJoinArgs(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected string
	}{
		{"single word", []string{"budget"}, "budget"},
		{"multiple words", []string{"quarterly", "planning"}, "quarterly planning"},
		{"single quoted phrase", []string{"quarterly planning"}, "quarterly planning"},
		{"surrounding space trimmed", []string{" ", "budget", " "}, "budget"},
		{"empty", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := joinArgs(tt.args); got != tt.expected {
				t.Errorf("joinArgs() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestConfigPathFromArgs(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{[]string{"-config", "/tmp/a.yaml", "query"}, "/tmp/a.yaml"},
		{[]string{"query", "--config", "/tmp/b.yaml"}, "/tmp/b.yaml"},
		{[]string{"--config=/tmp/c.yaml"}, "/tmp/c.yaml"},
		{[]string{"query", "-config"}, "default"},
		{[]string{"query"}, "default"},
	}
	for _, tt := range tests {
		if got := configPathFromArgs(tt.args, "default"); got != tt.want {
			t.Errorf("configPathFromArgs(%v) = %q, want %q", tt.args, got, tt.want)
		}
	}
}

func TestServerURLFor(t *testing.T) {
	cfg := &config.Config{Server: config.ServerConfig{Host: "127.0.0.1", Port: 51362}}
	if got := serverURLFor(cfg); got != "http://127.0.0.1:51362" {
		t.Errorf("serverURLFor() = %q", got)
	}
	cfg.Server.Host = "::1"
	if got := serverURLFor(cfg); got != "http://[::1]:51362" {
		t.Errorf("serverURLFor(ipv6) = %q", got)
	}
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	orig, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(orig) })
}

func TestLoadConfig_prefersCwdConfigWhenDefaultPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
debug: true
server:
  port: 8080
provider:
  model: "nomic-embed-text"
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	chdir(t, dir)

	cfg, resolved, err := loadConfig(defaultConfigPath)
	if err != nil {
		t.Fatal(err)
	}
	// On macOS, cwd can be /private/var/... while configPath from t.TempDir() is /var/...; compare canonical paths.
	resolvedCanon, _ := filepath.EvalSymlinks(resolved)
	configPathCanon, _ := filepath.EvalSymlinks(configPath)
	if resolvedCanon != configPathCanon {
		t.Errorf("resolved path = %s, want %s", resolved, configPath)
	}
	if !cfg.Debug || cfg.Server.Port != 8080 || cfg.Provider.Model != "nomic-embed-text" {
		t.Errorf("unexpected config: %+v", cfg)
	}
}

func TestLoadConfig_missingDefaultUsesDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	chdir(t, t.TempDir())

	cfg, resolved, err := loadConfig(defaultConfigPath)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != "" {
		t.Errorf("resolved = %q, want empty", resolved)
	}
	if cfg.Server.Port != config.DefaultPort || cfg.Provider.URL != config.DefaultProviderURL {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if want := filepath.Join(home, ".vaultsearch", "index.json"); cfg.Index.SnapshotPath != want {
		t.Errorf("snapshot path = %s, want %s", cfg.Index.SnapshotPath, want)
	}
}

func TestLoadConfig_usesExplicitPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
server:
  host: "127.0.0.1"
  port: 9000
index:
  snapshot_path: "./data/index.json"
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != configPath {
		t.Errorf("resolved path = %s, want %s", resolved, configPath)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if want := filepath.Join(dir, "data", "index.json"); cfg.Index.SnapshotPath != want {
		t.Errorf("snapshot path = %s, want %s", cfg.Index.SnapshotPath, want)
	}
}

func TestLoadConfig_explicitMissingFails(t *testing.T) {
	if _, _, err := loadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for a missing explicit config")
	}
}

// recordingSwitcher forwards provider changes and remembers them.
type recordingSwitcher struct {
	next  providerSwitcher
	calls []string
}

func (r *recordingSwitcher) UpdateProvider(url, model string) {
	r.calls = append(r.calls, url+" "+model)
	r.next.UpdateProvider(url, model)
}

func TestReloadSettings(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	write := func(body string) {
		if err := os.WriteFile(configPath, []byte(body), 0600); err != nil {
			t.Fatal(err)
		}
	}
	write("provider:\n  model: all-minilm\n")
	cfg, err := config.Load(configPath)
	if err != nil {
		t.Fatal(err)
	}
	live := config.NewLive(cfg)
	sw := &recordingSwitcher{next: server.NewServer(vector.NewMemoryIndex(), embedding.NewMockProvider(2), live)}

	write("provider:\n  url: http://10.0.0.2:11434\n  model: nomic-embed-text\nindex:\n  min_chars: 20\n")
	prev, err := reloadSettings(configPath, live, sw, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if prev.Model != "all-minilm" {
		t.Errorf("previous model = %q", prev.Model)
	}
	cur := live.Get()
	if cur.Model != "nomic-embed-text" || cur.ProviderURL != "http://10.0.0.2:11434" || cur.MinChars != 20 {
		t.Errorf("live settings not applied: %+v", cur)
	}
	if len(sw.calls) != 1 || sw.calls[0] != "http://10.0.0.2:11434 nomic-embed-text" {
		t.Errorf("provider updates = %v", sw.calls)
	}

	// Same provider, new threshold: no provider switch.
	write("provider:\n  url: http://10.0.0.2:11434\n  model: nomic-embed-text\nindex:\n  min_chars: 0\n")
	if _, err := reloadSettings(configPath, live, sw, zap.NewNop()); err != nil {
		t.Fatal(err)
	}
	if len(sw.calls) != 1 {
		t.Errorf("unchanged provider should not be switched, got %v", sw.calls)
	}
	if live.Get().MinChars != 0 {
		t.Errorf("min_chars 0 should turn the threshold off, got %d", live.Get().MinChars)
	}

	write("provider: [unclosed")
	if _, err := reloadSettings(configPath, live, sw, zap.NewNop()); err == nil {
		t.Error("expected parse error")
	}
	if live.Get().Model != "nomic-embed-text" {
		t.Error("failed reload must keep current settings")
	}

	if _, err := reloadSettings("", live, sw, zap.NewNop()); err == nil {
		t.Error("expected error without a config file")
	}
}

// fakeOllama answers the provider API with deterministic vectors.
func fakeOllama(t *testing.T) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/embeddings":
			var req struct {
				Model  string `json:"model"`
				Prompt string `json:"prompt"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, `{"error":"bad request"}`, http.StatusBadRequest)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"embedding": embedding.MockVector(req.Prompt, 4)})
		case "/api/tags":
			_, _ = w.Write([]byte(`{"models":[{"name":"test-model"}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func testConfig(t *testing.T, providerURL string) *config.Config {
	t.Helper()
	root := t.TempDir()
	vaultDir := filepath.Join(root, "vault")
	if err := os.MkdirAll(filepath.Join(vaultDir, "notes"), 0755); err != nil {
		t.Fatal(err)
	}
	for name, body := range map[string]string{
		"notes/a.md": strings.Repeat("alpha beta gamma ", 10),
		"notes/b.md": strings.Repeat("delta epsilon zeta ", 10),
		"short.md":   "too short",
	} {
		if err := os.WriteFile(filepath.Join(vaultDir, filepath.FromSlash(name)), []byte(body), 0644); err != nil {
			t.Fatal(err)
		}
	}
	cfg := &config.Config{}
	cfg.Vault.Directories = []string{vaultDir}
	cfg.Provider.URL = providerURL
	cfg.Provider.Model = "test-model"
	cfg.Index.SnapshotPath = filepath.Join(root, "state", "index.json")
	cfg.Index.LedgerPath = filepath.Join(root, "state", "ledger.db")
	config.ApplyDefaults(cfg)
	return cfg
}

func TestComponents_ReconcileAndSnapshot(t *testing.T) {
	ts := fakeOllama(t)
	cfg := testConfig(t, ts.URL)

	components, err := initializeComponents(cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if err := components.Snapshot.Lock(); err != nil {
		t.Fatal(err)
	}
	components.loadSnapshot(zap.NewNop())

	second := vector.NewSnapshotFile(cfg.Index.SnapshotPath)
	if err := second.Lock(); !errors.Is(err, vector.ErrSnapshotLocked) {
		t.Errorf("second Lock() = %v, want ErrSnapshotLocked", err)
	}

	run, err := components.Engine.Reconcile(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if run.Total != 3 || run.Indexed != 2 || run.Skipped != 1 || run.Failed != 0 {
		t.Errorf("unexpected run: %+v", run)
	}
	last, err := components.Ledger.LastRun(context.Background())
	if err != nil || last.ID != run.ID {
		t.Errorf("ledger LastRun() = %+v, %v", last, err)
	}
	components.Close()

	idx, err := readSnapshot(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if idx.Len() != 2 || idx.Dimensions() != 4 {
		t.Errorf("snapshot has %d entries of %d dims, want 2 of 4", idx.Len(), idx.Dimensions())
	}
	if _, ok := idx.Get("notes/a.md"); !ok {
		t.Error("notes/a.md missing from snapshot")
	}

	// Reopening loads the snapshot and finds nothing stale.
	components, err = initializeComponents(cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer components.Close()
	if err := components.Snapshot.Lock(); err != nil {
		t.Fatal(err)
	}
	components.loadSnapshot(zap.NewNop())
	run, err = components.Engine.Reconcile(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if run.Stale != 1 || run.Indexed != 0 {
		t.Errorf("second run should only revisit the short document: %+v", run)
	}
}

func TestInitializeComponents_NoVault(t *testing.T) {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	if _, err := initializeComponents(cfg, zap.NewNop()); err == nil {
		t.Error("expected error without vault directories")
	}
}

func TestEmbedQuery(t *testing.T) {
	ts := fakeOllama(t)
	cfg := testConfig(t, ts.URL)

	vec, err := embedQuery(context.Background(), cfg, "budget")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(vec, embedding.MockVector("budget", 4)) {
		t.Errorf("embedQuery() = %v", vec)
	}

	cfg.Provider.Model = ""
	if _, err := embedQuery(context.Background(), cfg, "budget"); !errors.Is(err, embedding.ErrNoModel) {
		t.Errorf("embedQuery() without model = %v, want ErrNoModel", err)
	}
}

func TestClientRequests(t *testing.T) {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Provider.Model = "test-model"
	idx := vector.NewMemoryIndex()
	idx.Set("notes/a.md", models.IndexEntry{Vector: []float32{1, 0}, MTime: 1})
	idx.Set("notes/b.md", models.IndexEntry{Vector: []float32{0, 1}, MTime: 1})
	srv := server.NewServer(idx, embedding.NewMockProvider(2), config.NewLive(cfg))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	ctx := context.Background()

	var resp models.SearchResponse
	err := postJSON(ctx, ts.URL+"/search/vector", &models.VectorSearchRequest{Vector: []float32{1, 0}, TopN: 1}, &resp)
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) != 1 || resp.Results[0].Path != "notes/a.md" {
		t.Errorf("results = %+v", resp.Results)
	}

	err = postJSON(ctx, ts.URL+"/search/vector", &models.VectorSearchRequest{Vector: []float32{1, 0, 0}}, &resp)
	if err == nil || !strings.Contains(err.Error(), "server returned 500") || !strings.Contains(err.Error(), "dimension") {
		t.Errorf("dimension mismatch error = %v", err)
	}

	var status models.StatusResponse
	if err := getJSON(ctx, ts.URL+"/status", &status); err != nil {
		t.Fatal(err)
	}
	if status.Entries != 2 || status.Model != "test-model" {
		t.Errorf("status = %+v", status)
	}

	if err := getJSON(ctx, ts.URL+"/missing", &status); err == nil || !strings.Contains(err.Error(), "404") {
		t.Errorf("missing route error = %v", err)
	}

	ts.Close()
	if err := getJSON(ctx, ts.URL+"/health", &status); err == nil || !strings.Contains(err.Error(), "is the server running") {
		t.Errorf("closed server error = %v", err)
	}
}
