// Package main is the vaultsearch CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hyperjump/vaultsearch/internal/cli"
	"github.com/hyperjump/vaultsearch/internal/config"
	"github.com/hyperjump/vaultsearch/internal/embedding"
	"github.com/hyperjump/vaultsearch/internal/indexer"
	"github.com/hyperjump/vaultsearch/internal/models"
	"github.com/hyperjump/vaultsearch/internal/storage"
	"github.com/hyperjump/vaultsearch/internal/vault"
	"github.com/hyperjump/vaultsearch/internal/vector"
	"github.com/hyperjump/vaultsearch/pkg/utils"
	"go.uber.org/zap"
)

var version = "dev"

const defaultConfigPath = "~/.vaultsearch/config.yaml"

// clientTimeout bounds CLI requests to a running server. Text search embeds the
// query first, so it has to cover one provider round trip.
const clientTimeout = 90 * time.Second

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	args := os.Args[2:]
	switch command {
	case "serve", "server":
		runServe(args)
	case "reindex":
		runReindex(args)
	case "search":
		runSearch(args)
	case "embed":
		runEmbed(args)
	case "models":
		runModels(args)
	case "status":
		runStatus(args)
	case "version", "--version", "-v":
		fmt.Printf("vaultsearch version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// expandHome resolves a leading "~/" against the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development), and a missing default
// file yields the built-in defaults instead of an error.
// Returns the config and the path that was actually loaded (empty when none was).
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
		resolved := expandHome(path)
		if _, statErr := os.Stat(resolved); errors.Is(statErr, os.ErrNotExist) {
			cfg := &config.Config{}
			config.ApplyDefaults(cfg)
			cfg.Index.SnapshotPath = expandHome(cfg.Index.SnapshotPath)
			cfg.Index.LedgerPath = expandHome(cfg.Index.LedgerPath)
			return cfg, "", nil
		}
		path = resolved
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// configPathFromArgs returns the value of -config/--config from args if present, else defaultPath.
// Flag defaults that depend on the config are computed before the flag set is parsed.
func configPathFromArgs(args []string, defaultPath string) string {
	for i, a := range args {
		if (a == "-config" || a == "--config") && i+1 < len(args) {
			return args[i+1]
		}
		for _, prefix := range []string{"-config=", "--config="} {
			if strings.HasPrefix(a, prefix) {
				return strings.TrimPrefix(a, prefix)
			}
		}
	}
	return defaultPath
}

// argsReorder moves any flags (and their values) that appear after the positional
// arguments to the front so that flag.Parse() sees them. Go's flag package stops
// at the first non-flag argument, so "vaultsearch search meeting notes -top 3"
// would otherwise leave -top unparsed.
func argsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

// joinArgs joins positional args with spaces so multi-word text works the same
// with or without shell quoting.
func joinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// serverURLFor returns the base URL of the query server described by cfg.
func serverURLFor(cfg *config.Config) string {
	return "http://" + net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
}

// defaultServerURL loads the config named in args and returns its server URL.
func defaultServerURL(args []string) string {
	cfg, _, err := loadConfig(configPathFromArgs(args, defaultConfigPath))
	if err != nil {
		return serverURLFor(&config.Config{Server: config.ServerConfig{Host: "127.0.0.1", Port: config.DefaultPort}})
	}
	return serverURLFor(cfg)
}

func parseFormat(s string) cli.OutputFormat {
	format, err := cli.ParseOutputFormat(s)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return format
}

func mustLoadConfig(path string) *config.Config {
	cfg, _, err := loadConfig(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func mustQuietLogger(debug bool) *zap.Logger {
	logger, err := utils.NewQuietLogger(debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}

func fail(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func runReindex(args []string) {
	fs := flag.NewFlagSet("reindex", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	rebuild := fs.Bool("rebuild", false, "clear the index and re-embed every document")
	debug := fs.Bool("debug", false, "enable debug logging")
	outputFormat := fs.String("output", "text", "output format: text, compact, or json")
	_ = fs.Parse(args)
	format := parseFormat(*outputFormat)

	cfg := mustLoadConfig(*configPath)
	// Machine-readable output keeps progress logs to warnings only.
	var logger *zap.Logger
	if format == cli.OutputText || cfg.Debug || *debug {
		l, err := utils.NewLogger(cfg.Debug || *debug)
		if err != nil {
			fail("Failed to create logger: %v", err)
		}
		logger = l
	} else {
		logger = mustQuietLogger(false)
	}
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()
	if err := components.Snapshot.Lock(); err != nil {
		if errors.Is(err, vector.ErrSnapshotLocked) {
			fail("The index is owned by a running server; send it SIGUSR1 to rebuild (%v)", err)
		}
		fail("Failed to lock index: %v", err)
	}
	components.loadSnapshot(logger)

	ctx, stop := notifyShutdown(context.Background())
	defer stop()
	var run *models.RunResult
	if *rebuild {
		run, err = components.Engine.Rebuild(ctx)
	} else {
		run, err = components.Engine.Reconcile(ctx)
	}
	if err != nil {
		fail("Reindex failed: %v", err)
	}
	if err := cli.WriteRun(os.Stdout, run, format); err != nil {
		fail("Output failed: %v", err)
	}
}

// printSearchUsage prints search subcommand usage.
func printSearchUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: vaultsearch search [flags] <query>\n\n")
	fmt.Fprintf(fs.Output(), "Query is all remaining arguments joined by spaces. Multi-word queries work with or without quotes.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
The query is embedded with the configured model and compared against every indexed
document. Use --in to restrict results to specific vault paths.

Examples:
  vaultsearch search project kickoff
  vaultsearch search --top 3 --output compact "weekly review"
  vaultsearch search --in notes/a.md --in notes/b.md budget
  vaultsearch search --server "" offline query      # read the snapshot directly
`)
}

// stringList is a repeatable string flag.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func runSearch(args []string) {
	args = argsReorder(args)
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", defaultServerURL(args), "server URL (empty = read the snapshot and call the provider directly)")
	top := fs.Int("top", models.DefaultTopN, "number of results")
	outputFormat := fs.String("output", "text", "output format: text, compact, or json")
	var allowlist stringList
	fs.Var(&allowlist, "in", "restrict results to this vault path (repeatable)")
	fs.Usage = func() { printSearchUsage(fs) }
	_ = fs.Parse(args)

	query := joinArgs(fs.Args())
	if query == "" {
		printSearchUsage(fs)
		os.Exit(1)
	}
	format := parseFormat(*outputFormat)
	req := &models.TextSearchRequest{Text: query, Allowlist: allowlist, TopN: *top}
	if err := req.Validate(); err != nil {
		fail("Search failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), clientTimeout)
	defer cancel()

	var results []models.SearchResult
	if *serverURL != "" {
		var resp models.SearchResponse
		if err := postJSON(ctx, *serverURL+"/search/text", req, &resp); err != nil {
			fail("Search failed: %v", err)
		}
		results = resp.Results
	} else {
		cfg := mustLoadConfig(*configPath)
		idx, err := readSnapshot(cfg)
		if err != nil {
			fail("Failed to read index: %v", err)
		}
		vec, err := embedQuery(ctx, cfg, query)
		if err != nil {
			fail("Search failed: %v", err)
		}
		results, err = idx.Search(vec, req.Allowlist, req.TopN)
		if err != nil {
			fail("Search failed: %v", err)
		}
	}
	if err := cli.WriteSearchResults(os.Stdout, results, format); err != nil {
		fail("Output failed: %v", err)
	}
}

func runEmbed(args []string) {
	args = argsReorder(args)
	fs := flag.NewFlagSet("embed", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", defaultServerURL(args), "server URL (empty = call the provider directly)")
	outputFormat := fs.String("output", "text", "output format: text, compact, or json")
	_ = fs.Parse(args)

	text := joinArgs(fs.Args())
	if text == "" {
		fmt.Println("Usage: vaultsearch embed [flags] <text>")
		os.Exit(1)
	}
	format := parseFormat(*outputFormat)

	ctx, cancel := context.WithTimeout(context.Background(), clientTimeout)
	defer cancel()

	var vec []float32
	if *serverURL != "" {
		var resp models.EmbedResponse
		if err := postJSON(ctx, *serverURL+"/embed", &models.EmbedRequest{Text: text}, &resp); err != nil {
			fail("Embed failed: %v", err)
		}
		vec = resp.Vector
	} else {
		cfg := mustLoadConfig(*configPath)
		var err error
		if vec, err = embedQuery(ctx, cfg, text); err != nil {
			fail("Embed failed: %v", err)
		}
	}
	if err := cli.WriteVector(os.Stdout, vec, format); err != nil {
		fail("Output failed: %v", err)
	}
}

func runModels(args []string) {
	fs := flag.NewFlagSet("models", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	outputFormat := fs.String("output", "text", "output format: text, compact, or json")
	_ = fs.Parse(args)
	format := parseFormat(*outputFormat)

	cfg := mustLoadConfig(*configPath)
	client := newProvider(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Provider.Timeout)
	defer cancel()
	names, err := client.ListModels(ctx, embedding.Endpoint{URL: cfg.Provider.URL, Token: cfg.Provider.Token})
	if err != nil {
		fail("Listing models failed: %v", err)
	}
	if err := cli.WriteModels(os.Stdout, names, cfg.Provider.Model, format); err != nil {
		fail("Output failed: %v", err)
	}
}

func runStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", defaultServerURL(args), "server URL (empty = read the snapshot and ledger directly)")
	outputFormat := fs.String("output", "text", "output format: text, compact, or json")
	history := fs.Int("runs", 5, "number of recent sync runs to list (0 = none)")
	_ = fs.Parse(args)
	format := parseFormat(*outputFormat)

	cfg := mustLoadConfig(*configPath)
	var status *models.StatusResponse
	if *serverURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		status = &models.StatusResponse{}
		if err := getJSON(ctx, *serverURL+"/status", status); err != nil {
			fail("Status failed: %v", err)
		}
	} else {
		idx, err := readSnapshot(cfg)
		if err != nil {
			fail("Failed to read index: %v", err)
		}
		status = &models.StatusResponse{
			Entries:     idx.Len(),
			SizeBytes:   idx.SizeInBytes(),
			Dimensions:  idx.Dimensions(),
			Model:       cfg.Provider.Model,
			ProviderURL: cfg.Provider.URL,
		}
		if n, err := storage.DiskUsageBytes(cfg.Index.SnapshotPath, cfg.Index.LedgerPath); err == nil {
			status.DiskUsageBytes = n
		}
	}

	// Failures and run history are only kept in the ledger, which the server does not expose.
	var (
		failures []*models.SyncFailure
		runs     []*models.RunResult
	)
	if ledger, err := storage.NewSQLiteLedger(cfg.Index.LedgerPath); err == nil {
		defer ledger.Close()
		ctx := context.Background()
		failures, _ = ledger.Failures(ctx)
		if status.LastRun == nil {
			if run, err := ledger.LastRun(ctx); err == nil {
				status.LastRun = run
			}
		}
		if *history > 0 {
			runs, _ = ledger.ListRuns(ctx, *history)
		}
	}
	if err := cli.WriteStatus(os.Stdout, status, failures, runs, format); err != nil {
		fail("Output failed: %v", err)
	}
}

// Components holds the services shared by serve and reindex.
type Components struct {
	Live     *config.Live
	Index    *vector.MemoryIndex
	Snapshot *vector.SnapshotFile
	Ledger   *storage.SQLiteLedger
	Vault    *vault.FSVault
	Provider *embedding.OllamaClient
	Engine   *indexer.Engine
}

// Close releases the ledger and the snapshot lock.
func (c *Components) Close() {
	if c.Ledger != nil {
		_ = c.Ledger.Close()
	}
	if c.Snapshot != nil {
		_ = c.Snapshot.Unlock()
	}
}

// loadSnapshot restores the index from disk. A malformed snapshot is logged and
// the index starts empty; the next reconcile re-embeds everything.
func (c *Components) loadSnapshot(logger *zap.Logger) {
	if err := c.Snapshot.Load(c.Index); err != nil {
		logger.Warn("snapshot load skipped, starting with an empty index",
			zap.String("path", c.Snapshot.Path()), zap.Error(err))
		return
	}
	logger.Info("snapshot loaded",
		zap.String("path", c.Snapshot.Path()),
		zap.Int("entries", c.Index.Len()),
		zap.Int("dimensions", c.Index.Dimensions()))
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	v, err := vault.NewFSVault(cfg.Vault.Directories,
		vault.WithExtensions(cfg.Vault.Extensions),
		vault.WithRecursive(cfg.Vault.RecursiveOrDefault()),
		vault.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open vault: %w", err)
	}
	ledger, err := storage.NewSQLiteLedger(cfg.Index.LedgerPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}

	live := config.NewLive(cfg)
	idx := vector.NewMemoryIndex()
	snapshot := vector.NewSnapshotFile(cfg.Index.SnapshotPath)
	provider := newProvider(cfg)
	engine := indexer.NewEngine(idx, provider, v, live,
		indexer.WithSnapshot(snapshot),
		indexer.WithLedger(ledger),
		indexer.WithLogger(logger),
		indexer.WithWorkers(cfg.Index.Workers),
		indexer.WithProgressEvery(cfg.Index.ProgressEvery),
		indexer.WithPruneMissing(cfg.Index.PruneMissing),
	)
	return &Components{
		Live:     live,
		Index:    idx,
		Snapshot: snapshot,
		Ledger:   ledger,
		Vault:    v,
		Provider: provider,
		Engine:   engine,
	}, nil
}

func newProvider(cfg *config.Config) *embedding.OllamaClient {
	return embedding.NewOllamaClient(
		embedding.WithTimeout(cfg.Provider.Timeout),
		embedding.WithRateLimit(cfg.Provider.RequestsPerSecond),
	)
}

// readSnapshot loads the snapshot without taking the lock, for read-only commands
// that may run next to a server.
func readSnapshot(cfg *config.Config) (*vector.MemoryIndex, error) {
	idx := vector.NewMemoryIndex()
	if err := vector.NewSnapshotFile(cfg.Index.SnapshotPath).Load(idx); err != nil {
		return nil, err
	}
	return idx, nil
}

func embedQuery(ctx context.Context, cfg *config.Config, text string) ([]float32, error) {
	if cfg.Provider.Model == "" {
		return nil, embedding.ErrNoModel
	}
	ep := embedding.Endpoint{URL: cfg.Provider.URL, Token: cfg.Provider.Token}
	return newProvider(cfg).Embed(ctx, ep, cfg.Provider.Model, text)
}

func postJSON(ctx context.Context, url string, body, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return doJSON(req, out)
}

func getJSON(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	return doJSON(req, out)
}

func doJSON(req *http.Request, out interface{}) error {
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed (is the server running? use --server \"\" to run without it): %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		var e models.ErrorResponse
		if json.Unmarshal(b, &e) == nil && e.Error != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, e.Error)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func printUsage() {
	fmt.Println(`vaultsearch - semantic search index for a folder of notes

Usage:
  vaultsearch serve [flags]            Sync the vault and start the query server
  vaultsearch reindex [flags]          Embed new and changed documents, then exit
  vaultsearch search [flags] <query>   Search documents by meaning
  vaultsearch embed [flags] <text>     Print the embedding of a text
  vaultsearch models [flags]           List models offered by the provider
  vaultsearch status [flags]           Show index, last sync, and failed documents
  vaultsearch version                  Show version
  vaultsearch help                     Show this help

Common Flags:
  --config string    Config file path (default: ~/.vaultsearch/config.yaml, or ./config.yaml if present)
  --output string    Output format: text, compact, or json (default: text)

Serve Flags:
  --debug            Enable debug logging (watcher events, per-document sync)

Reindex Flags:
  --rebuild          Clear the index and re-embed every document (use after changing the model)

Search / Embed / Status Flags:
  --server string    Server URL (default: from config). Use --server "" to work without a running server.
  --top int          Number of search results (default: 10)
  --in string        Restrict search to a vault path; repeatable
  --runs int         Recent sync runs listed by status (default: 5)

Signals (serve):
  SIGHUP             Reload provider URL, token, model and min_chars from the config file
  SIGUSR1            Rebuild the index
  SIGINT, SIGTERM    Save the index and shut down

Examples:
  vaultsearch serve
  vaultsearch reindex --rebuild
  vaultsearch search "quarterly planning"
  vaultsearch search --output json --top 5 budget
  vaultsearch models
  vaultsearch status --output json`)
}
