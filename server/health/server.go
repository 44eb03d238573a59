// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/absmach/mqttscope/session"
	"github.com/absmach/mqttscope/storage"
)

// Config holds health check server configuration.
type Config struct {
	Address         string
	ShutdownTimeout time.Duration
}

// Source is what the server reports on. *client.Client satisfies it.
type Source interface {
	ClientID() string
	State() session.State
	Snapshot(ctx context.Context) (*storage.State, error)
}

// Server provides health check endpoints for monitoring and orchestration.
type Server struct {
	config   Config
	source   Source
	logger   *slog.Logger
	server   *http.Server

	mu       sync.Mutex
	listener net.Listener
}

// New creates a new health check server.
func New(cfg Config, src Source, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		config: cfg,
		source: src,
		logger: logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.HandleFunc("/subscriptions", s.handleSubscriptions)

	s.server = &http.Server{
		Addr:         cfg.Address,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return s
}

// Addr returns the listener's network address.
// Returns "" if server hasn't started listening yet.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Listen starts the health check server and serves until ctx is done.
func (s *Server) Listen(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.logger.Info("Starting health check server", "address", listener.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.logger.Info("Health check server shutdown initiated")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Health check server shutdown error", "error", err)
			return err
		}

		s.logger.Info("Health check server stopped")
		return nil
	}
}

// HealthResponse represents the liveness probe response.
type HealthResponse struct {
	Status string `json:"status"`
}

// handleHealth implements liveness probe.
// Returns 200 OK if the process is alive.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy"})
}

// ReadyResponse represents the readiness probe response.
type ReadyResponse struct {
	Status  string `json:"status"`
	Session string `json:"session"`
	Details string `json:"details,omitempty"`
}

// handleReady implements readiness probe.
// Returns 200 OK while the broker session is connected.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if s.source == nil {
		writeJSON(w, http.StatusServiceUnavailable, ReadyResponse{
			Status:  "not_ready",
			Details: "client not initialized",
		})
		return
	}

	state := s.source.State()
	if state != session.StateConnected {
		writeJSON(w, http.StatusServiceUnavailable, ReadyResponse{
			Status:  "not_ready",
			Session: state.String(),
			Details: "broker session not connected",
		})
		return
	}

	writeJSON(w, http.StatusOK, ReadyResponse{
		Status:  "ready",
		Session: state.String(),
	})
}

// SubscriptionsResponse lists the subscription layout of the client.
type SubscriptionsResponse struct {
	ClientID      string                      `json:"client_id"`
	Subscriptions []storage.SubscriptionState `json:"subscriptions"`
}

func (s *Server) handleSubscriptions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.source == nil {
		http.Error(w, "client not initialized", http.StatusServiceUnavailable)
		return
	}

	state, err := s.source.Snapshot(r.Context())
	if err != nil {
		s.logger.Warn("Failed to snapshot subscriptions", "error", err)
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusOK, SubscriptionsResponse{
		ClientID:      s.source.ClientID(),
		Subscriptions: state.Subscriptions,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
