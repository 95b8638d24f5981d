package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"log/slog"

	"github.com/dkoess/semdex/pkg/core/hnsw"
	"github.com/dkoess/semdex/pkg/embeddings"
	"github.com/dkoess/semdex/pkg/metrics"
)

// Server ties the HTTP front end to the scheduler and the served index.
type Server struct {
	index     *hnsw.Index
	scheduler *Scheduler
	authToken string

	httpServer *http.Server
}

// NewServer wires a server around a built index. The index must already be
// frozen; building happens offline through the build command.
func NewServer(cfg Config, idx *hnsw.Index, emb embeddings.Embedder) (*Server, error) {
	if !idx.Built() {
		return nil, hnsw.ErrNotBuilt
	}
	maxWait, err := cfg.Scheduler.maxWait()
	if err != nil {
		return nil, &ConfigError{Field: "scheduler.max_wait", Reason: err.Error()}
	}

	s := &Server{
		index:     idx,
		authToken: cfg.AuthToken,
		scheduler: NewScheduler(idx, emb, cfg.Index.EfSearch, cfg.Scheduler.MaxBatchSize, maxWait),
	}
	metrics.IndexedVectors.Set(float64(idx.Len()))

	mux := http.NewServeMux()
	s.registerHTTPHandlers(mux)

	// Chain: Recovery -> Logging -> Auth -> Mux. Recovery sits outermost
	// so it catches everything below it.
	var handler http.Handler = mux
	handler = s.authMiddleware(handler)
	handler = s.LoggingMiddleware(handler)
	handler = s.RecoveryMiddleware(handler)

	rootMux := http.NewServeMux()
	rootMux.HandleFunc("GET /healthz", s.handleHealthz)
	rootMux.Handle("/", handler)

	s.httpServer = &http.Server{
		Addr:    cfg.Addr,
		Handler: rootMux,
	}
	return s, nil
}

// Run starts the HTTP server and blocks until Shutdown.
func (s *Server) Run() error {
	slog.Info("http server listening", "addr", s.httpServer.Addr, "vectors", s.index.Len())
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server startup failed: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections, waits briefly for in-flight
// requests, then stops the scheduler.
func (s *Server) Shutdown() {
	slog.Info("starting graceful shutdown")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown", "error", err)
	}

	s.scheduler.Stop()
}
