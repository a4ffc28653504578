/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package api provides the REST surface over providers and sync runs.
package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-logr/logr"

	"github.com/altairalabs/costflow/internal/httputil"
	"github.com/altairalabs/costflow/internal/pipeline"
	"github.com/altairalabs/costflow/internal/provider"
)

// ProviderStore is the provider persistence the API drives. The postgres
// store implements it.
type ProviderStore interface {
	CreateProvider(ctx context.Context, p *provider.Provider) error
	GetProvider(ctx context.Context, id string) (*provider.Provider, error)
	ListProviders(ctx context.Context) ([]*provider.Provider, error)
	UpdateProvider(ctx context.Context, p *provider.Provider) error
	DeactivateProvider(ctx context.Context, id string) error
}

// SyncService is the pipeline surface the API triggers. Implemented by
// pipeline.Service.
type SyncService interface {
	Trigger(ctx context.Context, req pipeline.TriggerRequest) (*pipeline.TriggerResult, error)
	Cancel(ctx context.Context, runID string) (*pipeline.Run, error)
	Retry(ctx context.Context, runID string) (*pipeline.Run, error)
	GetRun(ctx context.Context, runID string) (*pipeline.Run, error)
	Status(ctx context.Context, providerID string, limit int) ([]*pipeline.Run, error)
	Stats(ctx context.Context, providerID string, days int) (*pipeline.Stats, error)
	ValidateProvider(ctx context.Context, providerID string) error
}

// Pinger reports backend liveness for the readiness endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server provides REST API endpoints over providers, runs and stats.
type Server struct {
	providers ProviderStore
	syncs     SyncService
	pinger    Pinger
	log       logr.Logger
}

// NewServer creates a new API server. pinger may be nil; readiness then
// always reports ready.
func NewServer(providers ProviderStore, syncs SyncService, pinger Pinger, log logr.Logger) *Server {
	return &Server{
		providers: providers,
		syncs:     syncs,
		pinger:    pinger,
		log:       log.WithName("api-server"),
	}
}

// Handler returns an http.Handler for the API server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// CORS middleware wrapper
	corsHandler := func(h http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}

			h(w, r)
		}
	}

	// Provider endpoints
	mux.HandleFunc("/api/v1/providers", corsHandler(s.handleProviders))
	mux.HandleFunc("/api/v1/providers/", corsHandler(s.handleProvider))

	// Sync and run endpoints
	mux.HandleFunc("/api/v1/sync", corsHandler(s.handleSync))
	mux.HandleFunc("/api/v1/runs", corsHandler(s.handleRuns))
	mux.HandleFunc("/api/v1/runs/", corsHandler(s.handleRun))

	// Stats endpoint
	mux.HandleFunc("/api/v1/stats", corsHandler(s.handleStats))

	// Health endpoints
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/readyz", s.handleReadyz)

	return mux
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	if err := httputil.WriteJSON(w, status, data); err != nil {
		s.log.Error(err, "failed to encode JSON response")
	}
}

// writeError writes an error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// pathSuffix extracts the remainder of the path after prefix, e.g.
// "abc" or "abc/cancel" for /api/v1/runs/abc/cancel.
func pathSuffix(path, prefix string) string {
	trimmed := strings.TrimPrefix(path, prefix)
	return strings.Trim(trimmed, "/")
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.pinger != nil {
		if err := s.pinger.Ping(r.Context()); err != nil {
			s.writeError(w, http.StatusServiceUnavailable, "database not reachable")
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// Run starts the API server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		s.log.Info("shutting down API server")
		if err := server.Shutdown(context.Background()); err != nil {
			s.log.Error(err, "error shutting down API server")
		}
	}()

	s.log.Info("starting API server", "addr", addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}
