package models

import "time"

// RunKind identifies what started a sync run.
type RunKind string

const (
	// RunReconcile re-embeds only documents that are new or changed.
	RunReconcile RunKind = "reconcile"
	// RunRebuild clears the index and re-embeds every document.
	RunRebuild RunKind = "rebuild"
)

// RunResult summarizes one reconciliation or rebuild.
type RunResult struct {
	ID       string    `json:"id"`
	Kind     RunKind   `json:"kind"`
	Model    string    `json:"model"`
	Total    int       `json:"total"`
	Stale    int       `json:"stale"`
	Indexed  int       `json:"indexed"`
	Skipped  int       `json:"skipped"`
	Failed   int       `json:"failed"`
	Pruned   int       `json:"pruned"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
}

// Duration returns how long the run took.
func (r *RunResult) Duration() time.Duration {
	if r.Finished.IsZero() {
		return 0
	}
	return r.Finished.Sub(r.Started)
}

// SyncFailure is a document whose last embed attempt failed.
type SyncFailure struct {
	Path      string    `json:"path"`
	Error     string    `json:"error"`
	Attempts  int       `json:"attempts"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}
