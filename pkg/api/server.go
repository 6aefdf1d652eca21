// Package api exposes the public HTTP surface: the multipart ingest
// endpoint, the passthrough content endpoint, health probes and the
// optional Prometheus scrape target.
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/devhw/tgcdn/internal/logger"
)

// Server is the public HTTP server. It supports graceful shutdown with a
// fixed drain timeout.
type Server struct {
	server       *http.Server
	config       APIConfig
	shutdownOnce sync.Once
}

// NewServer creates the HTTP server in a stopped state. Call Start to begin
// serving.
//
// Defaults are applied here so a directly-constructed server (e.g. in
// tests) behaves the same as one built from loaded config.
func NewServer(config APIConfig, deps Deps) *Server {
	config.applyDefaults()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", config.Port),
		Handler:      NewRouter(deps),
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return &Server{
		server: server,
		config: config,
	}
}

// Start serves until the context is cancelled or the listener fails.
// Cancellation triggers graceful shutdown; nil is returned when the drain
// completes cleanly.
func (s *Server) Start(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "port", s.config.Port)

		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			select {
			case errChan <- err:
			default:
				// Context was cancelled, error is not needed
			}
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("http server shutdown signal received")
		// Don't reuse the cancelled ctx: it would abort the drain
		// immediately.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("http server failed: %w", err)
	}
}

// Stop initiates graceful shutdown. Safe to call multiple times and
// concurrently with Start.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		logger.Debug("http server shutdown initiated")

		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("http server shutdown error: %w", err)
			logger.Error("http server shutdown error", "error", err)
		} else {
			logger.Info("http server stopped gracefully")
		}
	})
	return shutdownErr
}

// Port returns the TCP port the server is configured to listen on.
func (s *Server) Port() int {
	return s.config.Port
}
