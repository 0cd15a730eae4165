package vector

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/hyperjump/vaultsearch/internal/models"
)

var _ Index = (*MemoryIndex)(nil)

// MemoryIndex is a map-backed index using brute-force cosine search.
// Suitable for personal-scale collections (thousands of documents).
type MemoryIndex struct {
	entries map[string]models.IndexEntry
	mu      sync.RWMutex
}

// NewMemoryIndex creates an empty index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{entries: make(map[string]models.IndexEntry)}
}

// Set inserts or replaces the entry for path. The entry's Path is forced to path
// and its vector is copied. Dimensionality is not checked.
func (m *MemoryIndex) Set(path string, entry models.IndexEntry) {
	vec := make([]float32, len(entry.Vector))
	copy(vec, entry.Vector)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[path] = models.IndexEntry{Path: path, Vector: vec, MTime: entry.MTime}
}

// Delete removes the entry for path. Deleting an absent path is a no-op.
func (m *MemoryIndex) Delete(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, path)
}

// Get returns the entry for path. The returned vector must not be modified.
func (m *MemoryIndex) Get(path string) (models.IndexEntry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[path]
	return e, ok
}

// Clear removes all entries.
func (m *MemoryIndex) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]models.IndexEntry)
}

// All returns every entry sorted by path.
func (m *MemoryIndex) All() []models.IndexEntry {
	m.mu.RLock()
	out := make([]models.IndexEntry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Len returns the number of entries.
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Dimensions returns the vector length of an arbitrary stored entry, or 0 when empty.
func (m *MemoryIndex) Dimensions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.entries {
		return len(e.Vector)
	}
	return 0
}

// Search scores the query against every entry (or only the allowlisted paths when
// allowlist is non-empty) and returns the topN best by descending cosine similarity.
// Equal scores are ordered by path. topN <= 0 means models.DefaultTopN.
// Candidates whose length differs from the query are left out. When no candidate
// has the query's length the search fails with ErrDimensionMismatch.
func (m *MemoryIndex) Search(query []float32, allowlist []string, topN int) ([]models.SearchResult, error) {
	if topN <= 0 {
		topN = models.DefaultTopN
	}
	candidates := m.candidates(allowlist)
	results := make([]models.SearchResult, 0, len(candidates))
	var mismatched *models.IndexEntry
	for i, e := range candidates {
		if len(e.Vector) != len(query) {
			mismatched = &candidates[i]
			continue
		}
		results = append(results, models.SearchResult{Path: e.Path, Score: CosineSimilarity(query, e.Vector)})
	}
	if len(results) == 0 && mismatched != nil {
		return nil, fmt.Errorf("%w: query has %d dimensions, %s has %d",
			ErrDimensionMismatch, len(query), mismatched.Path, len(mismatched.Vector))
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Path < results[j].Path
	})
	if len(results) > topN {
		results = results[:topN]
	}
	return results, nil
}

// candidates snapshots the entries to score under the read lock.
func (m *MemoryIndex) candidates(allowlist []string) []models.IndexEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(allowlist) == 0 {
		out := make([]models.IndexEntry, 0, len(m.entries))
		for _, e := range m.entries {
			out = append(out, e)
		}
		return out
	}
	seen := make(map[string]bool, len(allowlist))
	out := make([]models.IndexEntry, 0, len(allowlist))
	for _, p := range allowlist {
		if seen[p] {
			continue
		}
		seen[p] = true
		if e, ok := m.entries[p]; ok {
			out = append(out, e)
		}
	}
	return out
}

// Serialize returns the full index as a JSON array of entries.
func (m *MemoryIndex) Serialize() ([]byte, error) {
	data, err := json.Marshal(m.All())
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return data, nil
}

// Deserialize replaces the index contents with the entries in data. The whole
// snapshot is parsed and validated before the swap; on error the index is unchanged.
// All vectors must have the same length. When a path appears more than once the last entry wins.
func (m *MemoryIndex) Deserialize(data []byte) error {
	var list []models.IndexEntry
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedSnapshot, err)
	}
	if list == nil {
		return fmt.Errorf("%w: snapshot is not an array", ErrMalformedSnapshot)
	}
	entries := make(map[string]models.IndexEntry, len(list))
	for i, e := range list {
		if e.Path == "" {
			return fmt.Errorf("%w: entry %d has no path", ErrMalformedSnapshot, i)
		}
		if len(e.Vector) == 0 {
			return fmt.Errorf("%w: entry %q has an empty vector", ErrMalformedSnapshot, e.Path)
		}
		if len(e.Vector) != len(list[0].Vector) {
			return fmt.Errorf("%w: entry %q has %d dimensions, %q has %d", ErrMalformedSnapshot,
				e.Path, len(e.Vector), list[0].Path, len(list[0].Vector))
		}
		entries[e.Path] = e
	}
	m.mu.Lock()
	m.entries = entries
	m.mu.Unlock()
	return nil
}

// SizeInBytes returns the length of the serialized snapshot. Informational only.
func (m *MemoryIndex) SizeInBytes() int {
	data, err := m.Serialize()
	if err != nil {
		return 0
	}
	return len(data)
}
