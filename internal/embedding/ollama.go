package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

var _ Provider = (*OllamaClient)(nil)

const (
	defaultTimeout   = 60 * time.Second
	maxErrorBodySize = 512
)

// OllamaClient talks to an Ollama-compatible HTTP API.
type OllamaClient struct {
	client  *http.Client
	timeout time.Duration
	limiter *rate.Limiter
}

// OllamaOption configures an OllamaClient.
type OllamaOption func(*OllamaClient)

// WithTimeout bounds every call. Zero or negative disables the per-call timeout.
func WithTimeout(d time.Duration) OllamaOption {
	return func(c *OllamaClient) { c.timeout = d }
}

// WithRateLimit caps outgoing requests per second. Zero or negative means unlimited.
func WithRateLimit(perSecond float64) OllamaOption {
	return func(c *OllamaClient) {
		if perSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		} else {
			c.limiter = nil
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) OllamaOption {
	return func(c *OllamaClient) { c.client = hc }
}

// NewOllamaClient returns a client with a 60s per-call timeout and no rate limit.
func NewOllamaClient(opts ...OllamaOption) *OllamaClient {
	c := &OllamaClient{
		client:  &http.Client{},
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

type ollamaErrorResponse struct {
	Error string `json:"error"`
}

// Embed returns the embedding of text computed by model.
func (c *OllamaClient) Embed(ctx context.Context, ep Endpoint, model, text string) ([]float32, error) {
	if model == "" {
		return nil, ErrNoModel
	}
	body, err := json.Marshal(ollamaEmbedRequest{Model: model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("ollama embed: marshal request: %w", err)
	}
	var resp ollamaEmbedResponse
	if err := c.do(ctx, ep, http.MethodPost, "/api/embeddings", body, &resp); err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	if len(resp.Embedding) == 0 {
		return nil, fmt.Errorf("ollama embed: %w: empty embedding for model %q", ErrProviderResponse, model)
	}
	return resp.Embedding, nil
}

// ListModels returns the names of the models installed on the provider.
func (c *OllamaClient) ListModels(ctx context.Context, ep Endpoint) ([]string, error) {
	var resp ollamaTagsResponse
	if err := c.do(ctx, ep, http.MethodGet, "/api/tags", nil, &resp); err != nil {
		return nil, fmt.Errorf("ollama list models: %w", err)
	}
	names := make([]string, 0, len(resp.Models))
	for _, m := range resp.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

func (c *OllamaClient) do(ctx context.Context, ep Endpoint, method, path string, body []byte, out interface{}) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: rate limit wait: %v", ErrProviderUnreachable, err)
		}
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(ep.URL, "/")+path, reader)
	if err != nil {
		return fmt.Errorf("%w: create request: %v", ErrProviderUnreachable, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if ep.Token != "" {
		req.Header.Set("Authorization", "Bearer "+ep.Token)
	}

	httpResp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: timed out: %v", ErrProviderUnreachable, err)
		}
		return fmt.Errorf("%w: %v", ErrProviderUnreachable, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrProviderUnreachable, err)
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d: %s", ErrProviderResponse, httpResp.StatusCode, errorMessage(respBody))
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrProviderResponse, err)
	}
	return nil
}

// errorMessage extracts {"error": "..."} from a provider error body, falling back to the raw text.
func errorMessage(body []byte) string {
	var e ollamaErrorResponse
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return e.Error
	}
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorBodySize {
		s = s[:maxErrorBodySize] + "..."
	}
	return s
}
