package models

import (
	"errors"
	"fmt"
)

// DefaultTopN is the number of results returned when a request does not set top_n.
const DefaultTopN = 10

// ErrInvalidRequest is returned by Validate for malformed query bodies.
var ErrInvalidRequest = errors.New("invalid request")

// EmbedRequest is the body of POST /embed.
type EmbedRequest struct {
	Text string `json:"text"`
}

// Validate ensures the request carries text to embed.
func (r *EmbedRequest) Validate() error {
	if r.Text == "" {
		return fmt.Errorf("%w: text cannot be empty", ErrInvalidRequest)
	}
	return nil
}

// VectorSearchRequest is the body of POST /search/vector.
type VectorSearchRequest struct {
	Vector    []float32 `json:"vector"`
	Allowlist []string  `json:"allowlist,omitempty"`
	TopN      int       `json:"top_n,omitempty"`
}

// Validate checks the vector and normalizes top_n.
func (r *VectorSearchRequest) Validate() error {
	if len(r.Vector) == 0 {
		return fmt.Errorf("%w: vector cannot be empty", ErrInvalidRequest)
	}
	n, err := normalizeTopN(r.TopN)
	if err != nil {
		return err
	}
	r.TopN = n
	return nil
}

// TextSearchRequest is the body of POST /search/text.
type TextSearchRequest struct {
	Text      string   `json:"text"`
	Allowlist []string `json:"allowlist,omitempty"`
	TopN      int      `json:"top_n,omitempty"`
}

// Validate checks the text and normalizes top_n.
func (r *TextSearchRequest) Validate() error {
	if r.Text == "" {
		return fmt.Errorf("%w: text cannot be empty", ErrInvalidRequest)
	}
	n, err := normalizeTopN(r.TopN)
	if err != nil {
		return err
	}
	r.TopN = n
	return nil
}

func normalizeTopN(n int) (int, error) {
	if n < 0 {
		return 0, fmt.Errorf("%w: top_n must not be negative, got %d", ErrInvalidRequest, n)
	}
	if n == 0 {
		return DefaultTopN, nil
	}
	return n, nil
}
