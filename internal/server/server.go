// Package server exposes the backtester over a read-mostly HTTP API plus a
// websocket progress feed.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/daasalpha/alphahunter/internal/config"
	"github.com/daasalpha/alphahunter/internal/persistence"
	"github.com/daasalpha/alphahunter/internal/service"
	"github.com/daasalpha/alphahunter/internal/telemetry"
)

// Server wires the HTTP router, the run services and the progress hub.
type Server struct {
	router    *mux.Router
	server    *http.Server
	cfg       config.ServerConfig
	backtests *service.BacktestService
	screens   *service.ScreenService
	store     persistence.Store // nil when persistence is disabled
	metrics   *telemetry.Metrics
	hub       *Hub
}

// NewServer creates the HTTP server. store may be nil; run lookups then
// return 404 for every ID.
func NewServer(cfg config.ServerConfig, backtests *service.BacktestService,
	screens *service.ScreenService, store persistence.Store,
	metrics *telemetry.Metrics, hub *Hub) *Server {

	s := &Server{
		router:    mux.NewRouter(),
		cfg:       cfg,
		backtests: backtests,
		screens:   screens,
		store:     store,
		metrics:   metrics,
		hub:       hub,
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // backtest runs are synchronous and long
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/backtest", s.handleRunBacktest).Methods(http.MethodPost)
	api.HandleFunc("/backtest", s.handleListRuns).Methods(http.MethodGet)
	api.HandleFunc("/backtest/{id}", s.handleGetRun).Methods(http.MethodGet)
	api.HandleFunc("/screen", s.handleScreen).Methods(http.MethodPost)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	s.router.HandleFunc("/ws/progress", s.hub.handleSubscribe)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()[:8]
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapper, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.status).
			Dur("elapsed", time.Since(start)).
			Msg("http request")
	})
}

// Start begins serving and blocks until the listener closes.
func (s *Server) Start() error {
	log.Info().Str("addr", s.cfg.Addr).Msg("http server listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and closes websocket subscribers.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.server.Shutdown(ctx)
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
