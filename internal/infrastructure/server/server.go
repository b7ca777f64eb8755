package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzip"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	httpapi "github.com/GriffinCanCode/tracehub/internal/api/http"
	"github.com/GriffinCanCode/tracehub/internal/api/middleware"
	"github.com/GriffinCanCode/tracehub/internal/api/ws"
	"github.com/GriffinCanCode/tracehub/internal/capture"
	"github.com/GriffinCanCode/tracehub/internal/domain/trace"
	"github.com/GriffinCanCode/tracehub/internal/infrastructure/config"
	"github.com/GriffinCanCode/tracehub/internal/infrastructure/logging"
	"github.com/GriffinCanCode/tracehub/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/tracehub/internal/infrastructure/tracing"
)

// Version is reported by GET /
const Version = "1.0.0"

// Server owns the trace store and everything serving it: the hub, the
// fallback routes, metrics and the optional capture proxy.
type Server struct {
	config   *config.Config
	logger   *logging.Logger
	registry *prometheus.Registry
	metrics  *monitoring.Metrics
	tracer   *tracing.Tracer

	store *trace.Store
	stats *trace.Aggregator
	hub   *ws.Hub

	router *gin.Engine
	http   *http.Server
	proxy  *http.Server
}

// New wires a server from cfg. Nothing listens until Run.
func New(cfg *config.Config, logger *logging.Logger) (*Server, error) {
	if logger == nil {
		logger = logging.NewFromLevel(cfg.Logging.Level, cfg.Logging.Development)
	}

	logger.Info("Initializing tracehub",
		zap.String("port", cfg.Server.Port),
		zap.Int("capacity", cfg.Store.Capacity),
		zap.Int("max_body_bytes", cfg.Store.MaxBodyBytes),
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := monitoring.NewMetrics(registry)
	tracer := tracing.New("tracehub", logger, tracing.DefaultBufferSize)

	store := trace.NewStore(trace.Options{
		Capacity:     cfg.Store.Capacity,
		MaxBodyBytes: cfg.Store.MaxBodyBytes,
	}).WithMetrics(metrics)
	stats := trace.NewAggregator(store)

	hub := ws.NewHub(store, stats, ws.Config{
		SendQueueSize:   cfg.Hub.SendQueueSize,
		WriteTimeout:    cfg.Hub.WriteTimeout.Std(),
		PingInterval:    cfg.Hub.PingInterval.Std(),
		PongTimeout:     cfg.Hub.PongTimeout.Std(),
		MaxMessageBytes: cfg.Hub.MaxMessageBytes,
		StatsInterval:   cfg.Hub.StatsInterval.Std(),
	}, logger, metrics)
	store.WithPublisher(hub)

	if !cfg.Logging.Development && gin.Mode() == gin.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	// Producer ids may carry '/'; match on the escaped path so /traces/:id
	// still sees one segment
	router.UseRawPath = true

	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(tracer))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}
	if cfg.Server.Gzip {
		router.Use(middleware.Gzip(gzip.DefaultCompression, "/ws", "/metrics"))
	}

	handlers := httpapi.NewHandlers(store, stats, hub, httpapi.NewHandlerMetrics(metrics), Version)
	handlers.Register(router)
	router.GET("/ws", hub.HandleConnection)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	s := &Server{
		config:   cfg,
		logger:   logger,
		registry: registry,
		metrics:  metrics,
		tracer:   tracer,
		store:    store,
		stats:    stats,
		hub:      hub,
		router:   router,
		http: &http.Server{
			Addr:    net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
			Handler: router,
		},
	}

	if cfg.Capture.Enabled() {
		proxy, err := newProxyServer(cfg, store, logger)
		if err != nil {
			tracer.Close()
			hub.Close()
			return nil, err
		}
		s.proxy = proxy
	}

	logger.Info("Server initialized successfully")
	return s, nil
}

func newProxyServer(cfg *config.Config, store *trace.Store, logger *logging.Logger) (*http.Server, error) {
	upstream, err := url.Parse(cfg.Capture.Upstream)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream %q: %w", cfg.Capture.Upstream, err)
	}
	if upstream.Scheme == "" || upstream.Host == "" {
		return nil, fmt.Errorf("invalid upstream %q: need scheme and host", cfg.Capture.Upstream)
	}

	recorder, err := capture.NewRecorder(store, cfg.Capture.IgnorePaths, logger)
	if err != nil {
		return nil, err
	}

	logger.Info("Capture proxy enabled",
		zap.String("upstream", upstream.String()),
		zap.String("port", cfg.Capture.Port),
		zap.Strings("ignore", cfg.Capture.IgnorePaths),
	)
	return &http.Server{
		Addr:    net.JoinHostPort(cfg.Server.Host, cfg.Capture.Port),
		Handler: capture.NewProxy(upstream, recorder),
	}, nil
}

// Handler returns the hub's HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// ProxyHandler returns the capture proxy, or nil when no upstream is set
func (s *Server) ProxyHandler() http.Handler {
	if s.proxy == nil {
		return nil
	}
	return s.proxy.Handler
}

// Store returns the trace store producers record into
func (s *Server) Store() *trace.Store {
	return s.store
}

// Hub returns the websocket hub
func (s *Server) Hub() *ws.Hub {
	return s.hub
}

// Run serves until ctx is cancelled or a listener fails, then shuts down.
func (s *Server) Run(ctx context.Context) error {
	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go s.hub.Run(hubCtx)

	errCh := make(chan error, 2)
	serve := func(name string, srv *http.Server) {
		s.logger.Info("Starting "+name, zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("%s: %w", name, err)
		}
	}
	go serve("HTTP server", s.http)
	if s.proxy != nil {
		go serve("capture proxy", s.proxy)
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		s.logger.Error("Listener failed", zap.Error(runErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout.Std())
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// Shutdown closes every channel, then drains the listeners.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")

	// Upgraded connections are not tracked by http.Server
	s.hub.Close()

	var errs []error
	if err := s.http.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http server: %w", err))
	}
	if s.proxy != nil {
		if err := s.proxy.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("capture proxy: %w", err))
		}
	}
	s.tracer.Close()

	if dropped := s.tracer.Dropped(); dropped > 0 {
		s.logger.Warn("Request spans dropped", zap.Uint64("count", dropped))
	}
	_ = s.logger.Sync()

	return errors.Join(errs...)
}
