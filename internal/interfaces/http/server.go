// Package http serves the oracle read API, the role-gated admin surface,
// the metrics endpoint, and the websocket event stream.
package http

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/driftwoodfi/oracled/internal/auth"
	"github.com/driftwoodfi/oracled/internal/cache"
	"github.com/driftwoodfi/oracled/internal/metrics"
	"github.com/driftwoodfi/oracled/internal/oracle"
	"github.com/driftwoodfi/oracled/internal/persistence"
)

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultServerConfig returns a local-only server on port 8080.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:         "127.0.0.1",
		Port:         8080,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Deps wires the server to the oracle core and its supporting services.
// Publisher and DB are optional.
type Deps struct {
	Aggregator *oracle.Aggregator
	Sources    map[string]oracle.PriceSource
	Adapters   map[string]*oracle.Adapter
	Thresholds map[string]*oracle.ThresholdedAdapter
	Metrics    *metrics.Registry
	Bus        *oracle.Bus
	Publisher  *cache.Publisher
	DB         *persistence.Manager
	Keys       map[string]auth.Context
	Log        zerolog.Logger
}

// Server is the oracled HTTP server.
type Server struct {
	router *mux.Router
	server *http.Server
	config ServerConfig
	deps   Deps
	log    zerolog.Logger
}

// NewServer builds the server and its routes.
func NewServer(config ServerConfig, deps Deps) *Server {
	s := &Server{
		router: mux.NewRouter(),
		config: config,
		deps:   deps,
		log:    deps.Log,
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      s.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
	return s
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler { return s.router }

func (s *Server) setupRoutes() {
	// Read surface: no authentication, never mutates.
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/price/{asset}", s.handleAssetPrice).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/price-info/{asset}", s.handlePriceInfo).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/assets", s.handleAssets).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/stream", s.handleStream).Methods(http.MethodGet)

	if s.deps.Metrics != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.deps.Metrics.Gatherer(), promhttp.HandlerOpts{}))
		s.router.HandleFunc("/v1/metrics-summary", s.handleMetricsSummary).Methods(http.MethodGet)
	}

	if s.deps.DB != nil && s.deps.DB.Enabled() {
		s.router.HandleFunc("/v1/audit/{asset}", s.handleAudit).Methods(http.MethodGet)
	}

	// Admin surface: every route resolves the caller's roles from its API
	// key; the core performs the actual role check.
	admin := s.router.PathPrefix("/v1/admin").Subrouter()
	admin.Use(s.apiKeyMiddleware)
	admin.HandleFunc("/oracle", s.handleSetOracle).Methods(http.MethodPost)
	admin.HandleFunc("/oracle/{asset}", s.handleRemoveOracle).Methods(http.MethodDelete)
	admin.HandleFunc("/freeze/{asset}", s.handleFreeze).Methods(http.MethodPost)
	admin.HandleFunc("/unfreeze/{asset}", s.handleUnfreeze).Methods(http.MethodPost)
	admin.HandleFunc("/override", s.handleSetOverride).Methods(http.MethodPost)
	admin.HandleFunc("/override/{asset}", s.handleClearOverride).Methods(http.MethodDelete)
	admin.HandleFunc("/override-expiration", s.handleOverrideExpiration).Methods(http.MethodPut)
	admin.HandleFunc("/adapters/{name}/heartbeat", s.handleAdapterHeartbeat).Methods(http.MethodPut)
	admin.HandleFunc("/adapters/{name}/stale-limit", s.handleAdapterStaleLimit).Methods(http.MethodPut)
	admin.HandleFunc("/adapters/{name}/threshold", s.handleSetThreshold).Methods(http.MethodPost)
	admin.HandleFunc("/adapters/{name}/threshold/{asset}", s.handleRemoveThreshold).Methods(http.MethodDelete)
}

// Start begins serving, failing fast when the port is taken.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.server.Addr, err)
	}

	s.log.Info().Str("addr", s.server.Addr).Msg("http server listening")
	if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
