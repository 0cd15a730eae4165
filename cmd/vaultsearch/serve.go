package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hyperjump/vaultsearch/internal/config"
	"github.com/hyperjump/vaultsearch/internal/embedding"
	"github.com/hyperjump/vaultsearch/internal/indexer"
	"github.com/hyperjump/vaultsearch/internal/server"
	"github.com/hyperjump/vaultsearch/internal/watcher"
	"github.com/hyperjump/vaultsearch/pkg/utils"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// notifyShutdown returns a context cancelled on SIGINT or SIGTERM.
func notifyShutdown(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging (watcher events, per-document sync, requests)")
	_ = fs.Parse(args)

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Strings("vault", cfg.Vault.Directories),
		zap.String("provider", cfg.Provider.URL),
		zap.String("model", cfg.Provider.Model),
		zap.Bool("debug", debugMode),
	)

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()
	if err := components.Snapshot.Lock(); err != nil {
		logger.Fatal("Failed to lock index", zap.Error(err))
	}
	components.loadSnapshot(logger)
	if cfg.Provider.Model == "" {
		logger.Warn("no embedding model selected; indexing is paused until one is configured (edit the config and send SIGHUP)")
	}

	ctx, stop := notifyShutdown(context.Background())
	defer stop()

	watchSvc := watcher.NewWatcher(components.Vault, watcher.WithLogger(logger))
	if err := watchSvc.Start(ctx); err != nil {
		logger.Fatal("Failed to start watcher", zap.Error(err))
	}

	srv := server.NewServer(
		components.Index,
		embedding.NewCachedProvider(components.Provider, cfg.Provider.QueryCacheSize),
		components.Live,
		server.WithLogger(logger),
		server.WithHost(cfg.Server.Host),
		server.WithLastRun(components.Engine.LastRun),
		server.WithDiskPaths(cfg.Index.SnapshotPath, cfg.Index.LedgerPath),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(gctx); err != nil {
			return fmt.Errorf("query server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		_, err := components.Engine.Reconcile(gctx)
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, indexer.ErrNotConfigured) {
			logger.Warn("startup reconcile failed", zap.Error(err))
		}
		return nil
	})
	g.Go(func() error {
		if err := components.Engine.Run(gctx, watchSvc.Events()); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		handleSignals(gctx, logger, resolvedConfigPath, components, srv)
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped", zap.Error(err))
	}

	logger.Info("Shutting down...")
	watchSvc.Stop()
	if err := components.Snapshot.Save(components.Index); err != nil {
		logger.Warn("snapshot save failed", zap.String("path", components.Snapshot.Path()), zap.Error(err))
	}
}

// handleSignals reloads settings on SIGHUP and rebuilds the index on SIGUSR1
// until ctx is done.
func handleSignals(ctx context.Context, logger *zap.Logger, configPath string, c *Components, srv providerSwitcher) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGHUP, syscall.SIGUSR1)
	defer signal.Stop(sigs)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigs:
			switch sig {
			case syscall.SIGHUP:
				prev, err := reloadSettings(configPath, c.Live, srv, logger)
				if err != nil {
					logger.Warn("config reload failed", zap.Error(err))
					continue
				}
				// Indexing was paused without a model; catch up now that one is set.
				if prev.Model == "" && c.Live.Get().Model != "" {
					if _, err := c.Engine.Reconcile(ctx); err != nil && !errors.Is(err, context.Canceled) {
						logger.Warn("reconcile after reload failed", zap.Error(err))
					}
				}
			case syscall.SIGUSR1:
				logger.Info("rebuild requested")
				if _, err := c.Engine.Rebuild(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Warn("rebuild failed", zap.Error(err))
				}
			}
		}
	}
}

// providerSwitcher changes the provider used for query embeddings.
type providerSwitcher interface {
	UpdateProvider(url, model string)
}

// reloadSettings re-reads the config file and applies its runtime-mutable part
// to live. A new provider address or model goes through srv first. It returns
// the settings that were replaced.
func reloadSettings(configPath string, live *config.Live, srv providerSwitcher, logger *zap.Logger) (config.Settings, error) {
	if configPath == "" {
		return config.Settings{}, errors.New("no config file was loaded at startup")
	}
	next, err := config.Load(configPath)
	if err != nil {
		return config.Settings{}, err
	}
	prev := live.Get()
	if next.Provider.URL != prev.ProviderURL || next.Provider.Model != prev.Model {
		srv.UpdateProvider(next.Provider.URL, next.Provider.Model)
	}
	live.Apply(next)
	cur := live.Get()
	logger.Info("config reloaded",
		zap.String("config_path", configPath),
		zap.String("provider", cur.ProviderURL),
		zap.String("model", cur.Model),
		zap.Int("min_chars", cur.MinChars))
	if prev.Model != cur.Model && prev.Model != "" {
		logger.Warn("embedding model changed; existing vectors come from the previous model, send SIGUSR1 to rebuild",
			zap.String("previous", prev.Model), zap.String("current", cur.Model))
	}
	if prev.Port != cur.Port {
		logger.Warn("server port changed; restart to listen on the new port",
			zap.Int("listening", prev.Port), zap.Int("configured", cur.Port))
	}
	return prev, nil
}
