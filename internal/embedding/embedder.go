// Package embedding provides text embedding through an external provider, plus caching.
package embedding

import (
	"context"
	"errors"
)

var (
	// ErrProviderUnreachable is returned when the provider cannot be reached or does not answer in time.
	ErrProviderUnreachable = errors.New("embedding provider unreachable")
	// ErrProviderResponse is returned when the provider answers with an error or an unusable body.
	ErrProviderResponse = errors.New("embedding provider error")
	// ErrNoModel is returned when no embedding model is configured.
	ErrNoModel = errors.New("no embedding model selected")
)

// Endpoint addresses a provider: base URL and optional bearer token.
type Endpoint struct {
	URL   string
	Token string
}

// Provider produces vector embeddings for text. Each call is a single round trip.
type Provider interface {
	Embed(ctx context.Context, ep Endpoint, model, text string) ([]float32, error)
	ListModels(ctx context.Context, ep Endpoint) ([]string, error)
}
