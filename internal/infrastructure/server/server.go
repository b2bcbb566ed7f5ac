// Package server assembles the control API: router, middleware, handlers
// and the HTTP listener.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	apihttp "github.com/GriffinCanCode/netlaunch/internal/api/http"
	"github.com/GriffinCanCode/netlaunch/internal/api/middleware"
	"github.com/GriffinCanCode/netlaunch/internal/api/ws"
	"github.com/GriffinCanCode/netlaunch/internal/infrastructure/config"
	"github.com/GriffinCanCode/netlaunch/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/netlaunch/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/netlaunch/internal/launcher"
	"github.com/GriffinCanCode/netlaunch/internal/logging"
)

const shutdownTimeout = 5 * time.Second

// Options configure a Server.
type Options struct {
	Config      config.ServerConfig
	Development bool
	Deps        apihttp.Deps
	// Events feeds the /events stream; nil disables the route.
	Events *launcher.Events
	// Gatherer backs /metrics; nil uses the default registry.
	Gatherer prometheus.Gatherer
	// Tracer traces every request and backs /traces.
	Tracer  *tracing.Tracer
	Logger  *logging.Logger
	Metrics *monitoring.Metrics
}

// Server wraps the HTTP server and dependencies
type Server struct {
	router *gin.Engine
	addr   string
	logger *logging.Logger
}

// New builds the router.
func New(opts Options) *Server {
	logger := opts.Logger.Component("server")

	if !opts.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	if opts.Tracer != nil {
		router.Use(tracing.HTTPMiddleware(opts.Tracer))
	}
	router.Use(monitoring.Middleware(opts.Metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig().WithOrigins(opts.Config.AllowOrigins)))
	if opts.Config.RequestsPerSecond > 0 {
		logger.Info("rate limiting enabled",
			zap.Int("rps", opts.Config.RequestsPerSecond),
			zap.Int("burst", opts.Config.Burst),
		)
		limit := middleware.DefaultRateLimitConfig()
		limit.RequestsPerSecond = opts.Config.RequestsPerSecond
		limit.Burst = opts.Config.Burst
		router.Use(middleware.RateLimit(limit))
	}

	deps := opts.Deps
	if deps.Metrics == nil {
		deps.Metrics = opts.Metrics
	}
	if deps.Traces == nil && opts.Tracer != nil {
		deps.Traces = opts.Tracer
	}
	if deps.Logger == nil {
		deps.Logger = opts.Logger
	}
	handlers := apihttp.NewHandlers(deps)

	router.GET("/", handlers.Root)
	router.GET("/health", handlers.Health)

	// Applications
	router.GET("/apps", handlers.ListApps)
	router.POST("/apps", handlers.LaunchApp)
	router.GET("/apps/:id", handlers.GetApp)
	router.DELETE("/apps/:id", handlers.StopApp)

	// Security
	router.GET("/prompts", handlers.ListPrompts)
	router.POST("/prompts/:id", handlers.AnswerPrompt)
	router.GET("/security/audit", handlers.Audit)
	router.GET("/trust/certificates", handlers.ListCertificates)

	if opts.Events != nil {
		router.GET("/events", ws.NewHandler(opts.Events, opts.Logger).HandleConnection)
	}

	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	router.GET("/metrics/json", handlers.Metrics)
	router.GET("/traces", handlers.ListTraces)

	return &Server{
		router: router,
		addr:   net.JoinHostPort(opts.Config.Host, opts.Config.Port),
		logger: logger,
	}
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Addr is the listen address.
func (s *Server) Addr() string { return s.addr }

// Run serves until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("control api listening", zap.String("addr", s.addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down control api")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
