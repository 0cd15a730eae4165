package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/hyperjump/vaultsearch/internal/embedding"
	"github.com/hyperjump/vaultsearch/internal/models"
	"github.com/hyperjump/vaultsearch/internal/storage"
	"go.uber.org/zap"
)

func (s *Server) handleEmbed(w http.ResponseWriter, r *http.Request) {
	var req models.EmbedRequest
	if err := s.decode(w, r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	if err := req.Validate(); err != nil {
		s.respondError(w, err)
		return
	}
	vec, err := s.embed(r, req.Text)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, models.EmbedResponse{Vector: vec})
}

func (s *Server) handleVectorSearch(w http.ResponseWriter, r *http.Request) {
	var req models.VectorSearchRequest
	if err := s.decode(w, r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	if err := req.Validate(); err != nil {
		s.respondError(w, err)
		return
	}
	s.search(w, req.Vector, req.Allowlist, req.TopN)
}

func (s *Server) handleTextSearch(w http.ResponseWriter, r *http.Request) {
	var req models.TextSearchRequest
	if err := s.decode(w, r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	if err := req.Validate(); err != nil {
		s.respondError(w, err)
		return
	}
	vec, err := s.embed(r, req.Text)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.search(w, vec, req.Allowlist, req.TopN)
}

func (s *Server) search(w http.ResponseWriter, query []float32, allowlist []string, topN int) {
	results, err := s.index.Search(query, allowlist, topN)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if results == nil {
		results = []models.SearchResult{}
	}
	s.logger.Debug("search", zap.Int("allowlist", len(allowlist)), zap.Int("top_n", topN), zap.Int("results", len(results)))
	s.respondJSON(w, http.StatusOK, models.SearchResponse{Results: results})
}

// embed computes the query embedding with the current provider settings.
func (s *Server) embed(r *http.Request, text string) ([]float32, error) {
	settings := s.live.Get()
	if settings.Model == "" {
		return nil, embedding.ErrNoModel
	}
	ep := embedding.Endpoint{URL: settings.ProviderURL, Token: settings.Token}
	return s.provider.Embed(r.Context(), ep, settings.Model, text)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	settings := s.live.Get()
	resp := models.StatusResponse{
		Entries:     s.index.Len(),
		SizeBytes:   s.index.SizeInBytes(),
		Dimensions:  s.index.Dimensions(),
		Model:       settings.Model,
		ProviderURL: settings.ProviderURL,
	}
	if s.lastRun != nil {
		if run, ok := s.lastRun(); ok {
			resp.LastRun = run
		}
	}
	if len(s.diskPaths) > 0 {
		n, err := storage.DiskUsageBytes(s.diskPaths...)
		if err != nil {
			s.logger.Warn("status: disk usage", zap.Error(err))
		} else {
			resp.DiskUsageBytes = n
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// decode reads a JSON body of at most maxBodyBytes into dst.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("%w: body exceeds %d bytes", models.ErrInvalidRequest, tooLarge.Limit)
		}
		return fmt.Errorf("%w: invalid JSON body: %v", models.ErrInvalidRequest, err)
	}
	return nil
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// respondError reports every failure as a 500 with {"error": message}.
func (s *Server) respondError(w http.ResponseWriter, err error) {
	if errors.Is(err, models.ErrInvalidRequest) {
		s.logger.Debug("invalid request", zap.Error(err))
	} else {
		s.logger.Error("request failed", zap.Error(err))
	}
	s.respondJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: err.Error()})
}
