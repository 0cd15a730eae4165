package indexer

import (
	"context"
	"errors"
	"fmt"

	"github.com/hyperjump/vaultsearch/internal/models"
	"go.uber.org/zap"
)

// HandleEvent applies one vault change to the index and saves the snapshot if
// anything changed. A rename drops the old path and embeds the new one from scratch.
func (e *Engine) HandleEvent(ctx context.Context, ev models.ChangeEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.logger.Debug("sync event", zap.String("kind", string(ev.Kind)),
		zap.String("path", ev.Path), zap.String("old_path", ev.OldPath))

	var (
		changed bool
		err     error
	)
	switch ev.Kind {
	case models.EventCreated, models.EventModified:
		changed, err = e.indexForEvent(ctx, ev.Path)
	case models.EventDeleted:
		changed = e.remove(ctx, ev.Path)
	case models.EventRenamed:
		if ev.OldPath != "" && ev.OldPath != ev.Path {
			changed = e.remove(ctx, ev.OldPath)
		}
		var c bool
		c, err = e.indexForEvent(ctx, ev.Path)
		changed = changed || c
	default:
		return fmt.Errorf("unknown event kind %q", ev.Kind)
	}

	if changed {
		if saveErr := e.save(); saveErr != nil {
			return errors.Join(err, saveErr)
		}
	}
	return err
}

func (e *Engine) indexForEvent(ctx context.Context, path string) (bool, error) {
	s := e.live.Get()
	if s.Model == "" {
		e.notConfigured()
		return false, ErrNotConfigured
	}
	_, changed, err := e.indexDocument(ctx, s, path)
	return changed, err
}

// Run consumes events until the channel is closed or ctx is done. Failures are
// logged and do not stop the loop.
func (e *Engine) Run(ctx context.Context, events <-chan models.ChangeEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := e.HandleEvent(ctx, ev); err != nil && !errors.Is(err, ErrNotConfigured) {
				e.logger.Warn("sync event failed", zap.String("kind", string(ev.Kind)),
					zap.String("path", ev.Path), zap.Error(err))
			}
		}
	}
}
