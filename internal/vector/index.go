// Package vector provides the in-memory document vector index and its snapshot persistence.
package vector

import (
	"errors"

	"github.com/hyperjump/vaultsearch/internal/models"
)

var (
	// ErrDimensionMismatch is returned by Search when the query and a candidate differ in length.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrMalformedSnapshot is returned by Deserialize when the snapshot cannot be parsed or validated.
	ErrMalformedSnapshot = errors.New("malformed snapshot")
)

// Index maps document paths to embeddings and answers similarity queries.
// Implementations must be safe for concurrent use.
type Index interface {
	Set(path string, entry models.IndexEntry)
	Delete(path string)
	Get(path string) (models.IndexEntry, bool)
	Clear()
	All() []models.IndexEntry
	Search(query []float32, allowlist []string, topN int) ([]models.SearchResult, error)
	Serialize() ([]byte, error)
	Deserialize(data []byte) error
	SizeInBytes() int
	Len() int
	Dimensions() int
}
