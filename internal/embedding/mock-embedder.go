package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"sync"

	"github.com/hyperjump/vaultsearch/pkg/utils"
)

// MockProvider is a deterministic provider for tests. The same text always gets the
// same unit-length embedding. Texts registered with FailOn make Embed fail.
type MockProvider struct {
	dimensions int
	models     []string

	mu     sync.Mutex
	fail   map[string]error
	calls  int
	byText map[string]int
}

// NewMockProvider returns a provider producing embeddings of the given dimensions.
func NewMockProvider(dimensions int, models ...string) *MockProvider {
	if dimensions <= 0 {
		dimensions = 8
	}
	return &MockProvider{
		dimensions: dimensions,
		models:     models,
		fail:       make(map[string]error),
		byText:     make(map[string]int),
	}
}

// FailOn makes Embed return err (ErrProviderUnreachable when nil) for text.
func (m *MockProvider) FailOn(text string, err error) {
	if err == nil {
		err = ErrProviderUnreachable
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail[text] = err
}

// Recover removes a failure registered with FailOn.
func (m *MockProvider) Recover(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.fail, text)
}

// Calls returns the number of Embed calls made.
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// CallsFor returns the number of Embed calls made for text.
func (m *MockProvider) CallsFor(text string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byText[text]
}

// Embed returns a deterministic embedding based on the text hash.
func (m *MockProvider) Embed(ctx context.Context, ep Endpoint, model, text string) ([]float32, error) {
	m.mu.Lock()
	m.calls++
	m.byText[text]++
	failErr := m.fail[text]
	m.mu.Unlock()

	if model == "" {
		return nil, ErrNoModel
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnreachable, err)
	}
	if failErr != nil {
		return nil, failErr
	}
	return MockVector(text, m.dimensions), nil
}

// ListModels returns the models given to NewMockProvider.
func (m *MockProvider) ListModels(ctx context.Context, ep Endpoint) ([]string, error) {
	return append([]string(nil), m.models...), nil
}

// MockVector derives a unit-length vector of the given dimensions from text.
func MockVector(text string, dimensions int) []float32 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := float64(h.Sum64()%100000) + 1
	emb := make([]float32, dimensions)
	for i := range emb {
		emb[i] = float32(math.Sin(seed*float64(i+1))*0.1 + 0.01)
	}
	utils.NormalizeL2(emb)
	return emb
}
