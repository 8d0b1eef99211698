// Package server exposes the engine over HTTP.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/malbeclabs/lottery/engine/pkg/metrics"
	"github.com/malbeclabs/lottery/engine/pkg/node"
)

type Server struct {
	log     *slog.Logger
	cfg     Config
	node    *node.Node
	limiter *RateLimiter
	router  chi.Router
	httpSrv *http.Server
}

func New(cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Server{
		log:     cfg.Logger,
		cfg:     cfg,
		node:    cfg.Node,
		limiter: NewRateLimiter(cfg.App.RateLimit.RequestsPerMinute, cfg.App.RateLimit.Burst),
	}
	s.router = s.routes()

	s.httpSrv = &http.Server{
		Addr:              cfg.App.ListenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1MB
	}
	return s, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.App.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.healthzHandler)
	r.Get("/readyz", s.readyzHandler)
	r.Get("/version", s.versionHandler)

	r.Route("/api", func(r chi.Router) {
		r.Get("/stats", s.handleStats)
		r.Get("/categories", s.handleCategories)
		r.Get("/categories/{category}/active", s.handleActiveRound)
		r.Get("/fee", s.handleFee)
		r.Get("/balances/{address}", s.handleBalance)
		r.Get("/events", s.handleEvents)

		r.Get("/rounds", s.handleRounds)
		r.Get("/rounds/unclaimed", s.handleUnclaimedRounds)
		r.Get("/rounds/{id}", s.handleRound)
		r.Get("/rounds/{id}/participants", s.handleParticipants)
		r.Get("/rounds/{id}/tickets/{index}/owner", s.handleTicketOwner)

		r.Get("/accounts/{address}/participated", s.handleParticipated)
		r.Get("/accounts/{address}/won", s.handleWon)
		r.Get("/accounts/{address}/unclaimed-won", s.handleUnclaimedWon)

		r.Group(func(r chi.Router) {
			r.Use(s.limiter.Middleware)
			r.Post("/tickets", s.handleBuyTickets)
			r.Post("/claims", s.handleClaim)
		})

		if s.cfg.App.AdminToken != "" {
			r.Route("/admin", func(r chi.Router) {
				r.Use(s.requireAdmin)
				r.Post("/categories/{category}/pause", s.handlePause)
				r.Post("/categories/{category}/unpause", s.handleUnpause)
				r.Put("/auto-refill", s.handleSetAutoRefill)
				r.Put("/swap-config", s.handleSetSwapConfig)
				r.Put("/fee-interest", s.handleSetFeeInterest)
				r.Post("/withdrawals", s.handleWithdrawExcess)
				r.Post("/stored-fee/withdrawals", s.handleWithdrawStoredFee)
				r.Get("/oracle", s.handleOracle)
				r.Put("/oracle/params", s.handleSetOracleParams)
				r.Put("/oracle/allowed-callers/{address}", s.handleSetAllowedCaller)
				r.Post("/oracle/fulfilments", s.handleFulfil)
				r.Post("/oracle/fulfilments/pending", s.handleFulfilPending)
				if s.cfg.App.Faucet.Enabled {
					r.Post("/faucet", s.handleFaucet)
				}
			})
		}
	})
	return r
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	want := []byte(s.cfg.App.AdminToken)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			s.writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) Run(ctx context.Context) error {
	go s.limiter.Run(ctx)

	serveErrCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("server: http server error", "error", err)
			serveErrCh <- fmt.Errorf("failed to listen and serve: %w", err)
		}
	}()

	s.log.Info("server: http listening", "address", s.cfg.App.ListenAddr, "admin", s.cfg.App.AdminToken != "")

	select {
	case <-ctx.Done():
		s.log.Info("server: stopping", "reason", ctx.Err(), "address", s.cfg.App.ListenAddr)
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), s.cfg.App.ShutdownTimeout)
		defer shutdownCancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
		s.log.Info("server: http server shutdown complete")
		return nil
	case err := <-serveErrCh:
		s.log.Error("server: http server error causing shutdown", "error", err, "address", s.cfg.App.ListenAddr)
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
	if err := s.node.Ready(r.Context()); err != nil {
		s.log.Debug("readyz: node not ready", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		if _, err := w.Write([]byte("node not ready\n")); err != nil {
			s.log.Error("failed to write readyz response", "error", err)
		}
		return
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
