// Package api wires the messaging gateway's HTTP surface: credential
// issuance, the broker's auth callbacks, the request-scoped message gateway,
// and the websocket bridge.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/edvin/messaging/internal/api/handler"
	mw "github.com/edvin/messaging/internal/api/middleware"
	"github.com/edvin/messaging/internal/broker"
	"github.com/edvin/messaging/internal/config"
	"github.com/edvin/messaging/internal/core"
	"github.com/edvin/messaging/internal/model"
)

type Server struct {
	router   chi.Router
	logger   zerolog.Logger
	services *core.Services
	pool     *pgxpool.Pool
	dialer   broker.Dialer
	cfg      *config.Config
}

func NewServer(logger zerolog.Logger, pool *pgxpool.Pool, dialer broker.Dialer, cfg *config.Config) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		logger:   logger,
		services: core.NewServices(pool, cfg),
		pool:     pool,
		dialer:   dialer,
		cfg:      cfg,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(mw.RequestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(mw.Metrics)
}

func (s *Server) setupRoutes() {
	// Prometheus metrics endpoint
	s.router.Handle("/metrics", promhttp.Handler())

	// Health check endpoints
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/readyz", s.handleReadyz)

	// Broker auth callbacks: called by the broker itself, no bearer auth.
	brokerAuth := handler.NewBrokerAuth(s.services.Credential)
	s.router.Route("/rabbitmq-auth", func(r chi.Router) {
		r.Get("/user", brokerAuth.User)
		r.Get("/vhost", brokerAuth.Vhost)
		r.Get("/resource", brokerAuth.Resource)
	})

	s.router.Route("/messaging", func(r chi.Router) {
		r.Use(mw.Auth(s.services.Token))

		index := handler.NewIndex(s.cfg.ServiceName)
		r.Get("/", index.Get)

		// Credential issuance checks the connect scope itself so it can
		// answer 403 with detail rather than being blocked at the router.
		credentials := handler.NewCredentials(s.pool, s.services.Credential)
		r.Post("/credentials", credentials.Create)

		r.Group(func(r chi.Router) {
			r.Use(mw.RequireScope(model.ScopeConnect))

			messages := handler.NewMessages(s.services.Credential, s.dialer, s.cfg.GetFetchDeadline)
			r.Get("/get", messages.Get)
			r.Post("/publish", messages.Publish)

			ws := handler.NewWebSocket(s.services.Credential, s.dialer)
			r.Get("/websocket", ws.Connect)
		})
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true

	if err := s.pool.Ping(ctx); err != nil {
		checks["db"] = err.Error()
		healthy = false
	} else {
		checks["db"] = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	if healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(checks)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
