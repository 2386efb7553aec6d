package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/querygate/server/internal/catalog"
	"github.com/querygate/server/internal/config"
	"github.com/querygate/server/internal/gate"
	"github.com/querygate/server/internal/ledger"
	"github.com/querygate/server/internal/logger"
	"github.com/querygate/server/internal/metrics"
)

var serverStartTime = time.Now()

// Server wires handlers, middleware, and dependencies.
type Server struct {
	handlers
	httpServer *http.Server
}

type handlers struct {
	cfg     *config.Config
	catalog catalog.Repository
	store   ledger.Store
	gate    *gate.Gate
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// New builds the HTTP server with the configured router.
func New(cfg *config.Config, catalogRepo catalog.Repository, store ledger.Store, paymentGate *gate.Gate, metricsCollector *metrics.Metrics, appLogger zerolog.Logger) *Server {
	router := chi.NewRouter()

	s := &Server{
		handlers: handlers{
			cfg:     cfg,
			catalog: catalogRepo,
			store:   store,
			gate:    paymentGate,
			metrics: metricsCollector,
			logger:  appLogger,
		},
		httpServer: &http.Server{
			Addr:         cfg.Server.Address,
			ReadTimeout:  cfg.Server.ReadTimeout.Duration,
			WriteTimeout: cfg.Server.WriteTimeout.Duration,
			IdleTimeout:  cfg.Server.IdleTimeout.Duration,
			Handler:      router,
		},
	}

	s.configureRouter(router)

	return s
}

func (s *Server) configureRouter(router chi.Router) {
	cfg := s.cfg

	if len(cfg.Server.CORSAllowedOrigins) > 0 {
		router.Use(cors.New(cors.Options{
			AllowedOrigins:   cfg.Server.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: false,
			MaxAge:           300,
		}).Handler)
	}

	// Security headers first so every response carries them
	router.Use(securityHeadersMiddleware)

	// Structured logging before RequestID for context propagation
	router.Use(logger.Middleware(s.logger))
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	if cfg.RateLimit.Enabled {
		router.Use(httprate.LimitByIP(cfg.RateLimit.PerIPLimit, cfg.RateLimit.PerIPWindow.Duration))
	}

	prefix := cfg.Server.RoutePrefix

	// Lightweight endpoints with a short timeout (health, discovery, metrics)
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(5 * time.Second))
		r.Get(prefix+"/health", s.health)
		r.Get(prefix+"/ready", s.ready)
		r.Get("/.well-known/payment-options", s.wellKnownPaymentOptions)
		r.Get(prefix+"/v1/datasets", s.listDatasets)
		r.Handle(prefix+"/metrics", promhttp.Handler())
	})

	// Verification endpoints need room for chain lookups and retries
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		r.With(s.gate.Middleware(s.resolveRequirement)).Post(prefix+"/v1/query/{datasetID}", s.runQuery)
		r.Get(prefix+"/v1/payments/{signature}", s.getPayment)
	})
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
