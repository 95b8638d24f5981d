package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/pprof"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dkoess/semdex/pkg/core/hnsw"
	"github.com/dkoess/semdex/pkg/embeddings"
)

func (s *Server) registerHTTPHandlers(mux *http.ServeMux) {
	mux.HandleFunc("POST /predict", s.handlePredict)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("/debug/pprof/", s.handlePprof)
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	var req PredictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeHTTPError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if len(req.Requests) == 0 {
		s.writeHTTPError(w, http.StatusBadRequest, "requests must not be empty")
		return
	}
	if req.K <= 0 {
		s.writeHTTPError(w, http.StatusBadRequest, "k must be positive")
		return
	}

	texts := make([]string, len(req.Requests))
	for i, q := range req.Requests {
		if q.Query == "" {
			s.writeHTTPError(w, http.StatusBadRequest, "query must not be empty")
			return
		}
		texts[i] = q.Query
	}

	result, err := s.scheduler.Submit(r.Context(), texts, req.K)
	if err != nil {
		status := predictErrorStatus(err)
		s.writeHTTPError(w, status, err.Error())
		return
	}

	s.writeHTTPResponse(w, http.StatusOK, PredictResponse{
		Indices:       result.Indices,
		ModelLatency:  uint64(result.ModelLatency.Nanoseconds()),
		SearchLatency: uint64(result.SearchLatency.Nanoseconds()),
	})
}

// predictErrorStatus maps scheduler failures onto HTTP statuses: backend
// trouble is a gateway problem, a closed scheduler means we are shutting
// down, anything else is on us.
func predictErrorStatus(err error) int {
	var backendErr *embeddings.BackendError
	switch {
	case errors.As(err, &backendErr):
		return http.StatusBadGateway
	case errors.Is(err, ErrSchedulerClosed), errors.Is(err, hnsw.ErrNotBuilt):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	cfg := s.index.Config()
	s.writeHTTPResponse(w, http.StatusOK, StatsResponse{
		Vectors:   s.index.Len(),
		Dim:       cfg.Dim,
		Metric:    string(cfg.Metric),
		Quantized: cfg.Quantized,
		MaxLayer:  s.index.MaxLayer(),
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeHTTPResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePprof(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/debug/pprof/":
		pprof.Index(w, r)
	case r.URL.Path == "/debug/pprof/cmdline":
		pprof.Cmdline(w, r)
	case r.URL.Path == "/debug/pprof/profile":
		pprof.Profile(w, r)
	case r.URL.Path == "/debug/pprof/symbol":
		pprof.Symbol(w, r)
	case r.URL.Path == "/debug/pprof/trace":
		pprof.Trace(w, r)
	case strings.HasPrefix(r.URL.Path, "/debug/pprof/"):
		pprof.Index(w, r)
	default:
		s.writeHTTPError(w, http.StatusNotFound, "unknown pprof endpoint")
	}
}

func (s *Server) writeHTTPResponse(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(payload)
}

func (s *Server) writeHTTPError(w http.ResponseWriter, statusCode int, message string) {
	s.writeHTTPResponse(w, statusCode, errorResponse{Error: message})
}
