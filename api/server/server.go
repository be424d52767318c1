// Package server assembles the rewards API: routing, CORS, metrics, rate
// limits, health probes, and graceful shutdown.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/xesslabs/ledger/api/handlers"
	"github.com/xesslabs/ledger/api/metrics"
)

type Server struct {
	log      *slog.Logger
	cfg      Config
	handlers *handlers.Handlers
	httpSrv  *http.Server
}

func New(cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	h, err := handlers.New(cfg.HandlerConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create handlers: %w", err)
	}

	s := &Server{
		log:      cfg.HandlerConfig.Logger,
		cfg:      cfg,
		handlers: h,
	}

	s.httpSrv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.router(),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1MB
	}

	return s, nil
}

func (s *Server) router() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-User-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.healthzHandler)
	r.Get("/readyz", s.readyzHandler)
	r.Get("/version", s.versionHandler)

	r.Route("/rewards", func(r chi.Router) {
		r.Get("/proof", s.handlers.Proof)
		r.Get("/claims", s.handlers.ClaimHistory)
		r.Get("/claims/export", s.handlers.ExportClaims)
		r.Get("/epochs/latest", s.handlers.LatestEpoch)
		r.Get("/epochs/{number}", s.handlers.GetEpoch)
		r.Get("/leaderboard", s.handlers.Leaderboard)

		r.Group(func(r chi.Router) {
			r.Use(handlers.ClaimRateLimitMiddleware)
			r.Post("/claim/begin", s.handlers.BeginClaim)
			r.Post("/claim/confirm", s.handlers.ConfirmClaim)
			r.Post("/claim/fail", s.handlers.FailClaim)
		})
	})

	r.Get("/raffles/odds", s.handlers.RaffleOdds)

	r.Route("/ops", func(r chi.Router) {
		r.Post("/sweep-stale", s.handlers.SweepStale)
		r.Post("/epochs", s.handlers.BuildEpoch)
		r.Post("/epochs/published", s.handlers.MarkEpochPublished)
		r.Get("/epochs/next", s.handlers.NextEpoch)
	})

	return r
}

func (s *Server) Run(ctx context.Context) error {
	serveErrCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErrCh <- fmt.Errorf("failed to listen and serve: %w", err)
		}
	}()

	s.log.Info("server: http listening", "address", s.cfg.ListenAddr)

	select {
	case <-ctx.Done():
		s.log.Info("server: stopping", "reason", ctx.Err(), "address", s.cfg.ListenAddr)
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer shutdownCancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
		s.log.Info("server: http server shutdown complete")
		return nil
	case err := <-serveErrCh:
		s.log.Error("server: http server error causing shutdown", "error", err, "address", s.cfg.ListenAddr)
		return err
	}
}

func (s *Server) healthzHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok\n")); err != nil {
		s.log.Error("failed to write healthz response", "error", err)
	}
}

func (s *Server) readyzHandler(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Pool != nil {
		pingCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.cfg.Pool.Ping(pingCtx); err != nil {
			s.log.Debug("readyz: postgres not ready", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			if _, err := w.Write([]byte("database not ready\n")); err != nil {
				s.log.Error("failed to write readyz response", "error", err)
			}
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok\n")); err != nil {
		s.log.Error("failed to write readyz response", "error", err)
	}
}

func (s *Server) versionHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(s.cfg.VersionInfo); err != nil {
		s.log.Error("failed to write version response", "error", err)
	}
}
