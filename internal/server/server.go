// Package server exposes the HTTP surface: the provider webhook, the
// operator control endpoints, and the operator event stream.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/craftline/waroute/internal/buffer"
	"github.com/craftline/waroute/internal/config"
	"github.com/craftline/waroute/internal/dedup"
	"github.com/craftline/waroute/internal/events"
	"github.com/craftline/waroute/internal/intervention"
	"github.com/craftline/waroute/internal/router"
)

// MediaResolver resolves a provider media id to a short-lived download URL.
type MediaResolver interface {
	MediaURL(ctx context.Context, mediaID string) (string, error)
}

// Jobs queues background work. Satisfied by the worker pool.
type Jobs interface {
	Submit(name string, run func(context.Context) error) error
}

// Server is the HTTP front of the service.
type Server struct {
	cfg          config.ServerConfig
	dedup        *dedup.Deduplicator
	buffer       *buffer.Engine
	router       *router.Router
	intervention *intervention.Controller
	media        MediaResolver
	hub          *events.Hub
	jobs         Jobs
	limiter      *RateLimiter
	version      string

	httpServer *http.Server
	mux        *http.ServeMux
}

// New assembles the server from its collaborators.
func New(
	cfg config.ServerConfig,
	dd *dedup.Deduplicator,
	buf *buffer.Engine,
	rt *router.Router,
	ctrl *intervention.Controller,
	media MediaResolver,
	hub *events.Hub,
	jobs Jobs,
	version string,
) *Server {
	return &Server{
		cfg:          cfg,
		dedup:        dd,
		buffer:       buf,
		router:       rt,
		intervention: ctrl,
		media:        media,
		hub:          hub,
		jobs:         jobs,
		limiter:      NewRateLimiter(cfg.RateLimitRPM),
		version:      version,
	}
}

// BuildMux creates and caches the mux with all routes registered.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /webhook", s.handleWebhookVerify)
	mux.HandleFunc("POST /webhook", s.handleWebhookEvent)

	mux.HandleFunc("POST /takeover", s.handleTakeover)
	mux.HandleFunc("POST /handback", s.handleHandback)
	mux.HandleFunc("GET /operatormsg", s.handleOperatorPing)
	mux.HandleFunc("POST /operatormsg", s.handleOperatorMessage)
	mux.HandleFunc("GET /media", s.handleMediaURL)

	mux.HandleFunc("GET /ws", s.hub.ServeHTTP)
	mux.HandleFunc("GET /health", s.handleHealth)

	s.mux = mux
	return mux
}

// Start listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.BuildMux(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("server starting", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": s.version})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
