package indexer

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/hyperjump/vaultsearch/internal/config"
	"github.com/hyperjump/vaultsearch/internal/models"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Reconcile embeds every document that has no entry or whose entry is older
// than the file. With pruning enabled, entries for documents no longer in the
// vault are removed. Individual failures are counted, never fatal.
func (e *Engine) Reconcile(ctx context.Context) (*models.RunResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.live.Get()
	if s.Model == "" {
		e.notConfigured()
		return nil, ErrNotConfigured
	}
	docs, err := e.source.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list vault: %w", err)
	}

	run := e.newRun(models.RunReconcile, s, len(docs))
	var stale []string
	present := make(map[string]struct{}, len(docs))
	for _, d := range docs {
		present[d.Path] = struct{}{}
		if entry, ok := e.index.Get(d.Path); !ok || entry.MTime < d.MTime {
			stale = append(stale, d.Path)
		}
	}
	run.Stale = len(stale)

	changed := false
	if e.pruneMissing {
		for _, entry := range e.index.All() {
			if _, ok := present[entry.Path]; !ok {
				e.remove(ctx, entry.Path)
				run.Pruned++
			}
		}
		changed = run.Pruned > 0
		e.pruneFailures(ctx, present)
	}

	e.logger.Info("sync reconcile started", zap.String("run_id", run.ID),
		zap.Int("documents", run.Total), zap.Int("stale", run.Stale), zap.Int("pruned", run.Pruned))
	return e.finish(ctx, run, e.process(ctx, s, run, stale) || changed)
}

// Rebuild clears the index and embeds every document in the vault. Used after
// the embedding model changes.
func (e *Engine) Rebuild(ctx context.Context) (*models.RunResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.live.Get()
	if s.Model == "" {
		e.notConfigured()
		return nil, ErrNotConfigured
	}
	docs, err := e.source.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list vault: %w", err)
	}

	run := e.newRun(models.RunRebuild, s, len(docs))
	run.Stale = len(docs)
	paths := make([]string, len(docs))
	for i, d := range docs {
		paths[i] = d.Path
	}
	hadEntries := e.index.Len() > 0
	e.index.Clear()

	e.logger.Info("sync rebuild started", zap.String("run_id", run.ID),
		zap.String("model", s.Model), zap.Int("documents", run.Total))
	return e.finish(ctx, run, e.process(ctx, s, run, paths) || hadEntries)
}

func (e *Engine) newRun(kind models.RunKind, s config.Settings, total int) *models.RunResult {
	return &models.RunResult{
		ID:      uuid.New().String(),
		Kind:    kind,
		Model:   s.Model,
		Total:   total,
		Started: e.now(),
	}
}

// process embeds paths with at most e.workers in flight and fills the run
// counters. It reports whether the index changed.
func (e *Engine) process(ctx context.Context, s config.Settings, run *models.RunResult, paths []string) bool {
	var (
		mu      sync.Mutex
		done    int
		changed bool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for _, p := range paths {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			outcome, c, _ := e.indexDocument(gctx, s, p)

			mu.Lock()
			defer mu.Unlock()
			changed = changed || c
			switch outcome {
			case OutcomeIndexed:
				run.Indexed++
			case OutcomeSkipped, OutcomeRemoved:
				run.Skipped++
			case OutcomeFailed:
				run.Failed++
			}
			done++
			if done%e.progressEvery == 0 || done == len(paths) {
				e.logger.Info("sync progress", zap.String("run_id", run.ID),
					zap.Int("done", done), zap.Int("total", len(paths)))
			}
			return nil
		})
	}
	_ = g.Wait()
	return changed
}

// finish saves the snapshot, records the run and returns it. A cancelled
// context is reported after the partial work has been persisted.
func (e *Engine) finish(ctx context.Context, run *models.RunResult, changed bool) (*models.RunResult, error) {
	var err error
	if changed {
		err = e.save()
	}
	run.Finished = e.now()

	e.lastMu.Lock()
	last := *run
	e.lastRun = &last
	e.lastMu.Unlock()

	if e.ledger != nil {
		if lerr := e.ledger.RecordRun(context.WithoutCancel(ctx), run); lerr != nil {
			e.logger.Warn("sync ledger record run", zap.String("run_id", run.ID), zap.Error(lerr))
		}
	}
	e.logger.Info("sync finished", zap.String("run_id", run.ID), zap.String("kind", string(run.Kind)),
		zap.Int("indexed", run.Indexed), zap.Int("skipped", run.Skipped), zap.Int("failed", run.Failed),
		zap.Int("pruned", run.Pruned), zap.Duration("duration", run.Duration()))

	if err == nil {
		err = ctx.Err()
	}
	return run, err
}

// pruneFailures drops ledger failures for documents no longer in the vault,
// including ones that never made it into the index.
func (e *Engine) pruneFailures(ctx context.Context, present map[string]struct{}) {
	if e.ledger == nil {
		return
	}
	failures, err := e.ledger.Failures(ctx)
	if err != nil {
		e.logger.Warn("sync ledger list failures", zap.Error(err))
		return
	}
	for _, f := range failures {
		if _, ok := present[f.Path]; !ok {
			e.clearFailure(ctx, f.Path)
		}
	}
}
