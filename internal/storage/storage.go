// Package storage persists the sync ledger: completed runs and documents whose embedding failed.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/vaultsearch/internal/models"
)

// ErrNoRuns is returned by LastRun when no run has been recorded.
var ErrNoRuns = errors.New("no sync runs recorded")

// Ledger records sync history.
type Ledger interface {
	// Runs
	RecordRun(ctx context.Context, run *models.RunResult) error
	LastRun(ctx context.Context) (*models.RunResult, error)
	ListRuns(ctx context.Context, limit int) ([]*models.RunResult, error)

	// Failures, one row per document path
	RecordFailure(ctx context.Context, path, message string) error
	ClearFailure(ctx context.Context, path string) error
	Failures(ctx context.Context) ([]*models.SyncFailure, error)

	Close() error
}
