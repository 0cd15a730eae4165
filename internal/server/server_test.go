package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/vaultsearch/internal/config"
	"github.com/hyperjump/vaultsearch/internal/embedding"
	"github.com/hyperjump/vaultsearch/internal/models"
	"github.com/hyperjump/vaultsearch/internal/vector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	srv      *Server
	index    *vector.MemoryIndex
	provider *embedding.MockProvider
	live     *config.Live
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Provider.Model = "nomic-embed-text"
	env := &testEnv{
		index:    vector.NewMemoryIndex(),
		provider: embedding.NewMockProvider(2),
		live:     config.NewLive(cfg),
	}
	env.index.Set("notes/a.md", models.IndexEntry{Vector: []float32{1, 0}, MTime: 1})
	env.index.Set("notes/b.md", models.IndexEntry{Vector: []float32{0, 1}, MTime: 1})
	env.srv = NewServer(env.index, env.provider, env.live, opts...)
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(w, r)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&out))
	return out
}

func TestVectorSearch(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/search/vector", `{"vector":[1,0]}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	resp := decodeBody[models.SearchResponse](t, w)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "notes/a.md", resp.Results[0].Path)
	assert.InDelta(t, 1.0, resp.Results[0].Score, 1e-9)
	assert.Equal(t, "notes/b.md", resp.Results[1].Path)
	assert.InDelta(t, 0.0, resp.Results[1].Score, 1e-9)
}

func TestVectorSearch_AllowlistAndTopN(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/search/vector", `{"vector":[0.7,0.7],"allowlist":["notes/b.md"],"top_n":5}`)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody[models.SearchResponse](t, w)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "notes/b.md", resp.Results[0].Path)
	assert.InDelta(t, 0.7071, resp.Results[0].Score, 1e-3)

	w = env.do(t, http.MethodPost, "/search/vector", `{"vector":[1,0],"top_n":1}`)
	require.Equal(t, http.StatusOK, w.Code)
	resp = decodeBody[models.SearchResponse](t, w)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "notes/a.md", resp.Results[0].Path)

	w = env.do(t, http.MethodPost, "/search/vector", `{"vector":[1,0],"allowlist":["notes/none.md"]}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"results":[]}`, w.Body.String())
}

func TestTextSearch(t *testing.T) {
	env := newTestEnv(t)
	q := embedding.MockVector("query", 2)
	env.index.Set("notes/match.md", models.IndexEntry{Vector: q, MTime: 1})

	w := env.do(t, http.MethodPost, "/search/text", `{"text":"query","top_n":1}`)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody[models.SearchResponse](t, w)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "notes/match.md", resp.Results[0].Path)
	assert.InDelta(t, 1.0, resp.Results[0].Score, 1e-6)
}

func TestEmbed(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/embed", `{"text":"hello"}`)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody[models.EmbedResponse](t, w)
	assert.Equal(t, embedding.MockVector("hello", 2), resp.Vector)
}

func TestErrorsAre500WithMessage(t *testing.T) {
	env := newTestEnv(t)
	env.provider.FailOn("down", nil)

	tests := []struct {
		name    string
		path    string
		body    string
		wantMsg string
	}{
		{"malformed json", "/search/vector", `{"vector":`, "invalid JSON body"},
		{"empty body", "/embed", ``, "invalid JSON body"},
		{"missing text", "/embed", `{}`, "text cannot be empty"},
		{"empty vector", "/search/vector", `{"vector":[]}`, "vector cannot be empty"},
		{"negative top_n", "/search/text", `{"text":"x","top_n":-1}`, "top_n"},
		{"dimension mismatch", "/search/vector", `{"vector":[1,0,0]}`, "dimension mismatch"},
		{"provider failure", "/search/text", `{"text":"down"}`, "unreachable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, tt.path, tt.body)
			require.Equal(t, http.StatusInternalServerError, w.Code)
			resp := decodeBody[models.ErrorResponse](t, w)
			assert.Contains(t, resp.Error, tt.wantMsg)
		})
	}

	// The server keeps serving after errors.
	w := env.do(t, http.MethodPost, "/search/vector", `{"vector":[1,0]}`)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestNoModel(t *testing.T) {
	env := newTestEnv(t)
	env.srv.UpdateProvider("http://localhost:11434", "")

	w := env.do(t, http.MethodPost, "/embed", `{"text":"hello"}`)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, decodeBody[models.ErrorResponse](t, w).Error, "no embedding model")
	assert.Equal(t, 0, env.provider.Calls())

	// Vector search needs no model.
	w = env.do(t, http.MethodPost, "/search/vector", `{"vector":[1,0]}`)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestUpdateProvider(t *testing.T) {
	env := newTestEnv(t)
	env.srv.UpdateProvider("http://127.0.0.1:9999", "all-minilm")
	s := env.live.Get()
	assert.Equal(t, "http://127.0.0.1:9999", s.ProviderURL)
	assert.Equal(t, "all-minilm", s.Model)
}

func TestRoutingAndCORS(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		method string
		path   string
		status int
	}{
		{"preflight known", http.MethodOptions, "/search/text", http.StatusNoContent},
		{"preflight unknown", http.MethodOptions, "/nope", http.StatusNoContent},
		{"unknown path", http.MethodPost, "/nope", http.StatusNotFound},
		{"get on post route", http.MethodGet, "/embed", http.StatusMethodNotAllowed},
		{"put on post route", http.MethodPut, "/search/vector", http.StatusMethodNotAllowed},
		{"post on get route", http.MethodPost, "/health", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, tt.method, tt.path, "")
			assert.Equal(t, tt.status, w.Code)
			assert.Empty(t, w.Body.String())
			assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
			assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "POST")
			assert.Equal(t, "Content-Type", w.Header().Get("Access-Control-Allow-Headers"))
		})
	}

	w := env.do(t, http.MethodPost, "/search/vector", `{"vector":[1,0]}`)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestBodyLimit(t *testing.T) {
	env := newTestEnv(t)
	big := `{"text":"` + strings.Repeat("a", maxBodyBytes+1) + `"}`
	w := env.do(t, http.MethodPost, "/embed", big)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, decodeBody[models.ErrorResponse](t, w).Error, "exceeds")
}

type panicIndex struct{ *vector.MemoryIndex }

func (panicIndex) Search([]float32, []string, int) ([]models.SearchResult, error) {
	panic("boom")
}

func TestPanicRecovered(t *testing.T) {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	srv := NewServer(panicIndex{vector.NewMemoryIndex()}, embedding.NewMockProvider(2), config.NewLive(cfg))

	r := httptest.NewRequest(http.MethodPost, "/search/vector", strings.NewReader(`{"vector":[1]}`))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, r)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	var resp models.ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Contains(t, resp.Error, "boom")
}

func TestHealthAndStatus(t *testing.T) {
	dir := t.TempDir()
	snap := filepath.Join(dir, "index.json")
	require.NoError(t, os.WriteFile(snap, []byte("[]"), 0600))
	run := &models.RunResult{ID: "run-1", Kind: models.RunReconcile, Indexed: 2}
	env := newTestEnv(t,
		WithLastRun(func() (*models.RunResult, bool) { return run, true }),
		WithDiskPaths(snap, filepath.Join(dir, "missing.db")),
	)

	w := env.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	w = env.do(t, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	status := decodeBody[models.StatusResponse](t, w)
	assert.Equal(t, 2, status.Entries)
	assert.Equal(t, 2, status.Dimensions)
	assert.Equal(t, env.index.SizeInBytes(), status.SizeBytes)
	assert.Equal(t, "nomic-embed-text", status.Model)
	assert.Equal(t, config.DefaultProviderURL, status.ProviderURL)
	assert.Equal(t, int64(2), status.DiskUsageBytes)
	require.NotNil(t, status.LastRun)
	assert.Equal(t, "run-1", status.LastRun.ID)
}

func TestStartStop(t *testing.T) {
	env := newTestEnv(t)
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Server.Port = 0
	cfg.Provider.Model = "m"
	env.live.Apply(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- env.srv.Start(ctx) }()

	require.Eventually(t, func() bool { return env.srv.Addr() != nil }, 2*time.Second, 10*time.Millisecond)
	addr := env.srv.Addr().String()
	assert.True(t, strings.HasPrefix(addr, "127.0.0.1:"), addr)

	resp, err := http.Post(fmt.Sprintf("http://%s/search/vector", addr), "application/json",
		bytes.NewReader([]byte(`{"vector":[1,0]}`)))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	require.NoError(t, env.srv.Stop(stopCtx))
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Stop")
	}
}

func TestStart_CancelContext(t *testing.T) {
	env := newTestEnv(t)
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Server.Port = 0
	env.live.Apply(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- env.srv.Start(ctx) }()
	require.Eventually(t, func() bool { return env.srv.Addr() != nil }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}
