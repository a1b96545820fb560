// Package server exposes analysis results over HTTP as JSON. It is a thin
// serialization surface; all computation happens in the pipeline.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/eddiefleurent/wheeltracker/internal/cache"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

// Server serves the latest analysis snapshot.
type Server struct {
	router *chi.Mux
	server *http.Server
	store  *cache.Store
	logger *logrus.Logger
	port   int
}

// Config holds server settings.
type Config struct {
	Port int
}

// New creates a report server over the given result store.
func New(cfg Config, store *cache.Store, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	s := &Server{
		router: chi.NewRouter(),
		store:  store,
		logger: logger,
		port:   cfg.Port,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(30 * time.Second))

	s.router.Get("/api/health", s.handleHealth)
	s.router.Get("/api/trades", s.handleTrades)
	s.router.Get("/api/cycles", s.handleCycles)
	s.router.Get("/api/analytics", s.handleAnalytics)
	s.router.Get("/api/validation", s.handleValidation)
	s.router.Get("/api/forecast", s.handleForecast)
}

// Start begins listening. Blocks until the server stops.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.logger.WithField("port", s.port).Info("report server listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("report server: %w", err)
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler exposes the router, used by tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"has_result": s.store.Snapshot() != nil,
		"trades":     s.store.TradeCount(),
	})
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot(w)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, snap.Trades)
}

func (s *Server) handleCycles(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot(w)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, snap.Cycles)
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot(w)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"symbols":    snap.Analytics,
		"statistics": snap.Statistics,
	})
}

func (s *Server) handleValidation(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot(w)
	if !ok {
		return
	}
	if snap.Validation == nil {
		// No snapshot feed configured or the fetch failed: the
		// reconciliation view is blocked, not silently empty.
		s.writeError(w, http.StatusServiceUnavailable, "no reconciliation data for this run")
		return
	}
	s.writeJSON(w, http.StatusOK, snap.Validation)
}

func (s *Server) handleForecast(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot(w)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"weekly":  snap.Weekly,
		"monthly": snap.Monthly,
	})
}

func (s *Server) snapshot(w http.ResponseWriter) (*cache.AnalysisSnapshot, bool) {
	snap := s.store.Snapshot()
	if snap == nil {
		s.writeError(w, http.StatusServiceUnavailable, "no analysis has completed yet")
		return nil, false
	}
	return snap, true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("encoding response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
