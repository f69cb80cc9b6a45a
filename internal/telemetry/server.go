// ============================================================================
// conversa - Agente de voz
// ============================================================================
//
// Package:     telemetry
// Description: HTTP server for the UI feed, metrics, health and snapshots
// Created:     2025-12-15
// License:     MIT
// ============================================================================

package telemetry

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/msto63/conversa/internal/voice"
	"github.com/msto63/conversa/pkg/core/health"
	"github.com/msto63/conversa/pkg/core/logging"
)

// Config holds server configuration
type Config struct {
	Listen       string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns default server configuration
func DefaultConfig() Config {
	return Config{
		Listen:       "127.0.0.1:8765",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// SnapshotFunc returns a fresh pipeline snapshot
type SnapshotFunc func() voice.Snapshot

// Server serves /ws, /metrics, /health and /snapshot
type Server struct {
	httpServer *http.Server
	hub        *Hub
	health     *health.Registry
	snapshot   SnapshotFunc
	logger     *logging.Logger
	config     Config

	mu       sync.Mutex
	listener net.Listener
}

// NewServer creates a telemetry server
func NewServer(cfg Config, hub *Hub, metrics http.Handler, registry *health.Registry, snapshot SnapshotFunc) *Server {
	if cfg.Listen == "" {
		cfg.Listen = DefaultConfig().Listen
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultConfig().ReadTimeout
	}

	s := &Server{
		hub:      hub,
		health:   registry,
		snapshot: snapshot,
		logger:   logging.New("telemetry-server"),
		config:   cfg,
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", hub)
	if metrics != nil {
		mux.Handle("/metrics", metrics)
	}
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/snapshot", s.handleSnapshot)

	// The websocket route must not inherit the write timeout
	s.httpServer = &http.Server{
		Handler:     loggingMiddleware(s.logger, mux),
		ReadTimeout: cfg.ReadTimeout,
	}
	return s
}

// loggingMiddleware adds request logging
func loggingMiddleware(logger *logging.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap response writer to capture status code
		wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapper.statusCode,
			"duration", time.Since(start),
		)
	})
}

// responseWrapper wraps http.ResponseWriter to capture status code
type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWrapper) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrader take over the connection
func (w *responseWrapper) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := w.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}

// StartAsync binds the listener and serves in the background
func (s *Server) StartAsync() error {
	ln, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("telemetry listen %s: %w", s.config.Listen, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("Starting telemetry server", "address", ln.Addr().String())
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server error", "error", err)
		}
	}()
	return nil
}

// Stop gracefully stops the server and disconnects clients
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping telemetry server")
	s.hub.Close()
	return s.httpServer.Shutdown(ctx)
}

// Address returns the bound address, or the configured one before start
func (s *Server) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.config.Listen
}

// HealthRegistry returns the health check registry
func (s *Server) HealthRegistry() *health.Registry {
	return s.health
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": string(health.StatusHealthy)})
		return
	}

	report := s.health.CheckWithTimeout(5 * time.Second)
	code := http.StatusOK
	if report.Status == health.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, report)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.snapshot != nil {
		writeJSON(w, http.StatusOK, s.snapshot())
		return
	}
	if snap, ok := s.hub.LastSnapshot(); ok {
		writeJSON(w, http.StatusOK, snap)
		return
	}
	writeJSON(w, http.StatusNotFound, ErrorPayload{Code: "no_snapshot", Message: "No snapshot available yet"})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
