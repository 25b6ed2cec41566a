package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/custodia-labs/hmo-assist/internal/core/ports/driving"
	"github.com/custodia-labs/hmo-assist/internal/logging"
	"github.com/custodia-labs/hmo-assist/internal/worker"
)

// Reindexer rebuilds the index in the background
type Reindexer interface {
	Trigger() bool
	Health() worker.Status
}

// Server represents the HTTP server
type Server struct {
	httpServer *http.Server
	router     *http.ServeMux
	version    string
	logger     *zap.Logger

	answers   driving.AnswerService
	chat      driving.ChatService
	health    driving.HealthService
	ingestion driving.IngestionService
	reindexer Reindexer // Optional
}

// Config holds server configuration
type Config struct {
	Host        string
	Port        int
	Version     string
	CORSOrigins []string
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Host:        "0.0.0.0",
		Port:        8000,
		Version:     "dev",
		CORSOrigins: []string{"*"},
	}
}

// Services are the driving ports the server exposes
type Services struct {
	Answers   driving.AnswerService
	Chat      driving.ChatService
	Health    driving.HealthService
	Ingestion driving.IngestionService
	Reindexer Reindexer
}

// NewServer creates a new HTTP server
func NewServer(cfg Config, svc Services, logger *zap.Logger) *Server {
	s := &Server{
		router:    http.NewServeMux(),
		version:   cfg.Version,
		logger:    logging.OrNop(logger),
		answers:   svc.Answers,
		chat:      svc.Chat,
		health:    svc.Health,
		ingestion: svc.Ingestion,
		reindexer: svc.Reindexer,
	}
	s.setupRoutes()

	handler := http.Handler(s.router)
	handler = NewMetricsMiddleware().Handler(handler)
	handler = NewCORSMiddleware(cfg.CORSOrigins).Handler(handler)
	handler = NewLoggingMiddleware(s.logger).Handler(handler)
	handler = NewRequestIDMiddleware().Handler(handler)
	handler = NewRecoveryMiddleware(s.logger).Handler(handler)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 90 * time.Second, // Answers wait on up to three model calls with retries
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	// Probes
	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("GET /ready", s.handleReady)
	s.router.HandleFunc("GET /version", s.handleVersion)
	s.router.Handle("GET /metrics", promhttp.Handler())

	// Assistant
	s.router.HandleFunc("POST /api/v1/answer", s.handleAnswer)
	s.router.HandleFunc("POST /api/v1/chat", s.handleChat)
	s.router.HandleFunc("GET /api/v1/health", s.handleComponentHealth)

	// Index
	s.router.HandleFunc("GET /api/v1/index/stats", s.handleIndexStats)
	s.router.HandleFunc("POST /api/v1/index/rebuild", s.handleIndexRebuild)
	s.router.HandleFunc("GET /api/v1/index/rebuild", s.handleIndexRebuildStatus)
}

// Handler returns the fully wrapped handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Addr returns the listen address
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}

// Stop stops the server
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
