// Package indexer keeps the vector index in step with the vault: it embeds new
// and changed documents, drops deleted ones and persists the result.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/hyperjump/vaultsearch/internal/config"
	"github.com/hyperjump/vaultsearch/internal/embedding"
	"github.com/hyperjump/vaultsearch/internal/models"
	"github.com/hyperjump/vaultsearch/internal/storage"
	"github.com/hyperjump/vaultsearch/internal/vault"
	"github.com/hyperjump/vaultsearch/internal/vector"
	"go.uber.org/zap"
)

// ErrNotConfigured is returned when no embedding model is selected.
var ErrNotConfigured = errors.New("embedding model not configured")

// Outcome is what happened to a single document.
type Outcome string

const (
	OutcomeIndexed Outcome = "indexed"
	OutcomeSkipped Outcome = "skipped" // below the minimum length, entry removed
	OutcomeRemoved Outcome = "removed" // no longer in the vault, entry removed
	OutcomeFailed  Outcome = "failed"  // embed failed, prior entry kept
)

const (
	defaultWorkers       = 1
	defaultProgressEvery = 10
)

// Engine applies vault changes to a vector index.
// Mutating operations (events, reconciliation, rebuild) never interleave.
type Engine struct {
	index    vector.Index
	provider embedding.Provider
	source   vault.Source
	live     *config.Live

	snapshot      *vector.SnapshotFile
	ledger        storage.Ledger
	logger        *zap.Logger
	workers       int
	progressEvery int
	pruneMissing  bool
	now           func() time.Time

	mu sync.Mutex // serializes mutating operations

	lastMu  sync.RWMutex
	lastRun *models.RunResult
}

// Option configures an Engine.
type Option func(*Engine)

// WithSnapshot persists the index to s after every change.
func WithSnapshot(s *vector.SnapshotFile) Option {
	return func(e *Engine) { e.snapshot = s }
}

// WithLedger records runs and embed failures in l.
func WithLedger(l storage.Ledger) Option {
	return func(e *Engine) { e.ledger = l }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithWorkers sets how many documents are embedded concurrently during a run.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithProgressEvery logs run progress every n documents.
func WithProgressEvery(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.progressEvery = n
		}
	}
}

// WithPruneMissing makes reconciliation delete entries whose document is gone from the vault.
func WithPruneMissing(prune bool) Option {
	return func(e *Engine) { e.pruneMissing = prune }
}

// NewEngine creates a sync engine. live supplies the provider address, model
// and minimum document length, read afresh by every operation.
func NewEngine(index vector.Index, provider embedding.Provider, source vault.Source, live *config.Live, opts ...Option) *Engine {
	e := &Engine{
		index:         index,
		provider:      provider,
		source:        source,
		live:          live,
		logger:        zap.NewNop(),
		workers:       defaultWorkers,
		progressEvery: defaultProgressEvery,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// LastRun returns the most recent run completed by this engine.
func (e *Engine) LastRun() (*models.RunResult, bool) {
	e.lastMu.RLock()
	defer e.lastMu.RUnlock()
	if e.lastRun == nil {
		return nil, false
	}
	run := *e.lastRun
	return &run, true
}

// IndexDocument embeds the current content of path and stores it, then saves the snapshot.
func (e *Engine) IndexDocument(ctx context.Context, path string) (Outcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.live.Get()
	if s.Model == "" {
		e.notConfigured()
		return "", ErrNotConfigured
	}
	outcome, changed, err := e.indexDocument(ctx, s, path)
	if changed {
		if saveErr := e.save(); saveErr != nil && err == nil {
			err = saveErr
		}
	}
	return outcome, err
}

// indexDocument applies the per-document rule. changed reports whether the index was modified.
func (e *Engine) indexDocument(ctx context.Context, s config.Settings, path string) (Outcome, bool, error) {
	doc, err := e.source.Read(ctx, path)
	if errors.Is(err, vault.ErrNotFound) {
		changed := e.remove(ctx, path)
		e.logger.Debug("sync document gone", zap.String("path", path))
		return OutcomeRemoved, changed, nil
	}
	if err != nil {
		e.recordFailure(ctx, path, err)
		return OutcomeFailed, false, fmt.Errorf("read %s: %w", path, err)
	}

	if utf8.RuneCountInString(doc.Content) < s.MinChars {
		changed := e.remove(ctx, path)
		e.logger.Debug("sync document below minimum length",
			zap.String("path", path), zap.Int("min_chars", s.MinChars))
		return OutcomeSkipped, changed, nil
	}

	vec, err := e.provider.Embed(ctx, embedding.Endpoint{URL: s.ProviderURL, Token: s.Token}, s.Model, doc.Content)
	if err == nil && len(vec) == 0 {
		err = fmt.Errorf("%w: empty embedding", embedding.ErrProviderResponse)
	}
	if err != nil {
		e.recordFailure(ctx, path, err)
		return OutcomeFailed, false, fmt.Errorf("embed %s: %w", path, err)
	}

	e.index.Set(path, models.IndexEntry{Path: path, Vector: vec, MTime: doc.MTime})
	e.clearFailure(ctx, path)
	e.logger.Debug("sync document indexed", zap.String("path", path), zap.Int("dimensions", len(vec)))
	return OutcomeIndexed, true, nil
}

// remove deletes the entry for path and reports whether one existed. Any
// failure recorded for path is dropped as well.
func (e *Engine) remove(ctx context.Context, path string) bool {
	e.clearFailure(ctx, path)
	if _, ok := e.index.Get(path); !ok {
		return false
	}
	e.index.Delete(path)
	return true
}

func (e *Engine) clearFailure(ctx context.Context, path string) {
	if e.ledger == nil {
		return
	}
	if err := e.ledger.ClearFailure(context.WithoutCancel(ctx), path); err != nil {
		e.logger.Warn("sync ledger clear failure", zap.String("path", path), zap.Error(err))
	}
}

func (e *Engine) recordFailure(ctx context.Context, path string, cause error) {
	e.logger.Warn("sync document failed", zap.String("path", path), zap.Error(cause))
	if e.ledger == nil {
		return
	}
	// A cancelled run still gets its failures written.
	if err := e.ledger.RecordFailure(context.WithoutCancel(ctx), path, cause.Error()); err != nil {
		e.logger.Warn("sync ledger record failure", zap.String("path", path), zap.Error(err))
	}
}

func (e *Engine) save() error {
	if e.snapshot == nil {
		return nil
	}
	if err := e.snapshot.Save(e.index); err != nil {
		e.logger.Error("sync snapshot save failed", zap.String("path", e.snapshot.Path()), zap.Error(err))
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (e *Engine) notConfigured() {
	e.logger.Warn("no embedding model selected; set provider.model in the config to enable indexing")
}
