package models

// SearchResult is a single similarity hit.
type SearchResult struct {
	Path  string  `json:"path"`
	Score float64 `json:"score"`
}

// EmbedResponse is the body returned by POST /embed.
type EmbedResponse struct {
	Vector []float32 `json:"vector"`
}

// SearchResponse is the body returned by both search routes.
type SearchResponse struct {
	Results []SearchResult `json:"results"`
}

// ErrorResponse is the body returned with a 500 status.
type ErrorResponse struct {
	Error string `json:"error"`
}

// StatusResponse is the body returned by GET /status.
type StatusResponse struct {
	Entries        int        `json:"entries"`
	SizeBytes      int        `json:"size_bytes"`
	Dimensions     int        `json:"dimensions"`
	Model          string     `json:"model"`
	ProviderURL    string     `json:"provider_url"`
	DiskUsageBytes int64      `json:"disk_usage_bytes,omitempty"`
	LastRun        *RunResult `json:"last_run,omitempty"`
}
