// Package server assembles the gateway HTTP server around pre-built
// handlers.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	apihttp "github.com/kinode-dao/storekeeper/internal/api/http"
	"github.com/kinode-dao/storekeeper/internal/api/middleware"
	"github.com/kinode-dao/storekeeper/internal/api/ws"
	"github.com/kinode-dao/storekeeper/internal/infrastructure/config"
	"github.com/kinode-dao/storekeeper/internal/infrastructure/logging"
	"github.com/kinode-dao/storekeeper/internal/infrastructure/monitoring"
	"github.com/kinode-dao/storekeeper/internal/infrastructure/tracing"
)

// Server wraps the HTTP server serving the gateway API.
type Server struct {
	router  *gin.Engine
	httpSrv *http.Server
	logger  *logging.Logger
}

// New builds the router with the full middleware chain and route
// table. The caller owns the lifecycle of the handler dependencies.
func New(cfg *config.Config, handlers *apihttp.Handlers, relay *ws.Handler, tracer *tracing.Tracer, metrics *monitoring.Metrics, logger *logging.Logger) *Server {
	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(tracer))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		logger.Info("rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	apihttp.Register(router, handlers, relay)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	addr := net.JoinHostPort(cfg.Gateway.Host, cfg.Gateway.Port)
	return &Server{
		router: router,
		httpSrv: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger.Component("server"),
	}
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.httpSrv.Addr
}

// Router exposes the assembled engine for in-process tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Run serves until the listener closes. A clean shutdown returns
// nil.
func (s *Server) Run() error {
	s.logger.Info("starting gateway", zap.String("addr", s.httpSrv.Addr))
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and drains in-flight
// requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down gateway")
	return s.httpSrv.Shutdown(ctx)
}
