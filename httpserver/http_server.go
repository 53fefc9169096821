/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/acronis/go-ratekeeper/httpserver/middleware"
	"github.com/acronis/go-ratekeeper/log"
	"github.com/acronis/go-ratekeeper/service"
)

// systemEndpoints are excluded from metrics collection and in-flight request limiting.
var systemEndpoints = []string{"/metrics", "/healthz"}

// APIVersion is a type alias for API version.
type APIVersion = int

// APIRoute is a type alias for a single API route.
type APIRoute = func(router chi.Router)

// HTTPRequestMetricsOpts configures HTTP request metrics collection in HTTPServer.
type HTTPRequestMetricsOpts struct {
	Namespace        string
	DurationBuckets  []float64
	ConstLabels      prometheus.Labels
	CustomLabelNames []string
	GetRoutePattern  middleware.RoutePatternGetterFunc
}

// Opts represents options for creating HTTPServer.
type Opts struct {
	// ServiceNameInURL is a prefix for API routes (e.g. "/api/ratekeeper/v1").
	ServiceNameInURL string
	// APIRoutes maps API versions to their route configuration functions.
	APIRoutes map[APIVersion]APIRoute
	// RootMiddlewares are applied to the root router.
	RootMiddlewares []func(http.Handler) http.Handler
	// ErrorDomain is used for error response formatting.
	ErrorDomain string
	// HealthCheck performs the health check logic.
	HealthCheck HealthCheck
	// HealthCheckContext is a context-aware alternative to HealthCheck.
	HealthCheckContext HealthCheckContext
	// MetricsHandler replaces the default Prometheus handler on /metrics.
	MetricsHandler http.Handler
	// HTTPRequestMetrics configures the HTTP request metrics middleware.
	HTTPRequestMetrics HTTPRequestMetricsOpts
	// Handler replaces the default router. No default middlewares are applied to it.
	Handler http.Handler
	// Listener replaces the listener that Start would otherwise create.
	Listener net.Listener
}

func (opts Opts) routerOpts() RouterOpts {
	return RouterOpts{
		ServiceNameInURL:   opts.ServiceNameInURL,
		APIRoutes:          opts.APIRoutes,
		RootMiddlewares:    opts.RootMiddlewares,
		ErrorDomain:        opts.ErrorDomain,
		HealthCheck:        opts.HealthCheck,
		HealthCheckContext: opts.HealthCheckContext,
		MetricsHandler:     opts.MetricsHandler,
	}
}

// HTTPServer wraps http.Server with a chi.Router, request logging, metrics
// collection, panic recovery and health checking.
// It implements the service.Unit and service.MetricsRegisterer interfaces.
type HTTPServer struct {
	URL             string
	HTTPServer      *http.Server
	HTTPRouter      chi.Router
	Logger          log.FieldLogger
	ShutdownTimeout time.Duration

	listener                 net.Listener
	port                     int32
	httpServerDone           atomic.Value
	httpReqPrometheusMetrics *middleware.HTTPRequestPrometheusMetrics
}

var _ service.Unit = (*HTTPServer)(nil)
var _ service.MetricsRegisterer = (*HTTPServer)(nil)

// New creates a new HTTPServer.
// nolint // hugeParam: opts is heavy, it's ok in this case.
func New(cfg *Config, logger log.FieldLogger, opts Opts) (*HTTPServer, error) {
	if opts.Handler != nil {
		return newWithHandler(cfg, logger, opts.Handler, opts.Listener), nil
	}

	promMetrics := middleware.NewHTTPRequestPrometheusMetricsWithOpts(
		middleware.HTTPRequestPrometheusMetricsOpts{
			Namespace:        opts.HTTPRequestMetrics.Namespace,
			DurationBuckets:  opts.HTTPRequestMetrics.DurationBuckets,
			ConstLabels:      opts.HTTPRequestMetrics.ConstLabels,
			CustomLabelNames: opts.HTTPRequestMetrics.CustomLabelNames,
		})
	router := chi.NewRouter()
	if err := applyDefaultMiddlewaresToRouter(router, cfg, logger, opts, promMetrics); err != nil {
		return nil, err
	}
	configureRouter(router, logger, opts.routerOpts())

	srv := newWithHandler(cfg, logger, router, opts.Listener)
	srv.httpReqPrometheusMetrics = promMetrics
	return srv, nil
}

func newWithHandler(cfg *Config, logger log.FieldLogger, handler http.Handler, listener net.Listener) *HTTPServer {
	httpServer := &http.Server{
		Addr:              cfg.Address,
		WriteTimeout:      time.Duration(cfg.Timeouts.Write),
		ReadTimeout:       time.Duration(cfg.Timeouts.Read),
		ReadHeaderTimeout: time.Duration(cfg.Timeouts.ReadHeader),
		IdleTimeout:       time.Duration(cfg.Timeouts.Idle),
		Handler:           handler,
	}

	router, _ := handler.(chi.Router)

	return &HTTPServer{
		URL:             "http://" + httpServer.Addr,
		HTTPServer:      httpServer,
		HTTPRouter:      router,
		Logger:          logger,
		ShutdownTimeout: time.Duration(cfg.Timeouts.Shutdown),
		listener:        listener,
	}
}

// Start runs the HTTP server, blocking until it is stopped.
// It is supposed to be called in a separate goroutine.
// A fatal error is sent to the fatalError channel.
func (s *HTTPServer) Start(fatalError chan<- error) {
	done := make(chan struct{})
	defer close(done)
	s.httpServerDone.Store(done)

	logger := s.Logger.With(
		log.String("address", s.HTTPServer.Addr),
		log.Duration("write_timeout", s.HTTPServer.WriteTimeout),
		log.Duration("read_timeout", s.HTTPServer.ReadTimeout),
		log.Duration("read_header_timeout", s.HTTPServer.ReadHeaderTimeout),
		log.Duration("idle_timeout", s.HTTPServer.IdleTimeout),
		log.Duration("shutdown_timeout", s.ShutdownTimeout),
	)
	logger.Info("starting application HTTP server...")

	if s.listener == nil {
		listener, err := net.Listen("tcp", s.HTTPServer.Addr)
		if err != nil {
			logger.Error("application HTTP server error", log.Error(err))
			fatalError <- err
			return
		}
		s.listener = listener
	}

	if s.listener.Addr().Network() == "tcp" {
		if err := s.storeListenerPort(); err != nil {
			logger.Error("unexpected format of TCP listener address", log.Error(err))
			fatalError <- err
			return
		}
	}

	if err := s.HTTPServer.Serve(s.listener); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			logger.Info("application HTTP server closed")
			return
		}
		logger.Error("application HTTP server error", log.Error(err))
		fatalError <- err
	}
}

func (s *HTTPServer) storeListenerPort() error {
	_, portStr, err := net.SplitHostPort(s.listener.Addr().String())
	if err != nil {
		return err
	}
	port, err := strconv.ParseInt(portStr, 10, 32)
	if err != nil {
		return err
	}
	atomic.StoreInt32(&s.port, int32(port))
	return nil
}

// Stop stops the HTTP server, gracefully or not.
func (s *HTTPServer) Stop(gracefully bool) error {
	if !gracefully {
		s.Logger.Info("closing application HTTP server...")
		if err := s.HTTPServer.Close(); err != nil {
			s.Logger.Error("application HTTP server closing error", log.Error(err))
			return err
		}
		s.waitServeDone()
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.ShutdownTimeout)
	defer cancel()

	s.Logger.Info("shutting down application HTTP server...", log.Duration("timeout", s.ShutdownTimeout))
	if err := s.HTTPServer.Shutdown(ctx); err != nil {
		s.Logger.Error("application HTTP server shutting down error", log.Error(err))
		return err
	}
	s.Logger.Info("application HTTP server shut down")
	s.waitServeDone()
	return nil
}

// waitServeDone waits until Serve returns and the listener is released.
func (s *HTTPServer) waitServeDone() {
	if done, ok := s.httpServerDone.Load().(chan struct{}); ok && done != nil {
		<-done
	}
}

// MustRegisterMetrics registers metrics in the Prometheus client, panicking on error.
func (s *HTTPServer) MustRegisterMetrics() {
	if s.httpReqPrometheusMetrics != nil {
		s.httpReqPrometheusMetrics.MustRegister()
	}
}

// UnregisterMetrics unregisters metrics in the Prometheus client.
func (s *HTTPServer) UnregisterMetrics() {
	if s.httpReqPrometheusMetrics != nil {
		s.httpReqPrometheusMetrics.Unregister()
	}
}

// GetPort returns the local port the server is listening on.
// It is 0 until Start binds the listener.
func (s *HTTPServer) GetPort() int {
	return int(atomic.LoadInt32(&s.port))
}
