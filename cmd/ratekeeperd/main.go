/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Command ratekeeperd runs the admission control service.
// It serves admission decisions over HTTP and keeps the per-key state
// in the configured storage backend.
package main

import (
	"context"
	"fmt"
	golog "log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/acronis/go-ratekeeper/config"
	"github.com/acronis/go-ratekeeper/coordinator"
	"github.com/acronis/go-ratekeeper/httpserver"
	"github.com/acronis/go-ratekeeper/httpserver/middleware"
	"github.com/acronis/go-ratekeeper/keyactor"
	"github.com/acronis/go-ratekeeper/keystate"
	"github.com/acronis/go-ratekeeper/log"
	"github.com/acronis/go-ratekeeper/profserver"
	"github.com/acronis/go-ratekeeper/respcache"
	"github.com/acronis/go-ratekeeper/restapi"
	"github.com/acronis/go-ratekeeper/service"
)

const serviceErrorDomain = coordinator.ErrorDomainRateKeeper

const shutdownTimeout = time.Second * 30

func main() {
	if err := runApp(); err != nil {
		golog.Fatal(err)
	}
}

func runApp() error {
	cfg, err := loadAppConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, loggerClose := log.NewLogger(cfg.Log)
	defer loggerClose()

	store, err := keystate.NewStore(cfg.Storage)
	if err != nil {
		return fmt.Errorf("create key-state storage: %w", err)
	}

	registry := keyactor.NewRegistryWithOpts(store, keyactor.RegistryOpts{
		ShardCount:    cfg.RateKeeper.Actor.ShardCount,
		IdleTimeout:   time.Duration(cfg.RateKeeper.Actor.IdleTimeout),
		CountRejected: cfg.RateKeeper.CountRejected,
	})

	var serviceUnits []service.Unit

	var cache *respcache.Cache
	if cfg.RateKeeper.Cache.Enabled {
		cacheMetrics := respcache.NewPrometheusMetrics()
		cacheMetrics.MustRegister()
		if cache, err = respcache.NewWithOpts(cacheMetrics, respcache.Options{
			MaxEntries: cfg.RateKeeper.Cache.MaxEntries,
		}); err != nil {
			return fmt.Errorf("create rejection cache: %w", err)
		}
		cleanupWorker := service.NewPeriodicWorker(service.WorkerFunc(
			func(ctx context.Context) error {
				cache.CleanupExpired(time.Now().Unix())
				return nil
			},
		), time.Duration(cfg.RateKeeper.Cache.CleanupInterval), log.NewPrefixedLogger(logger, "cache cleanup: "))
		serviceUnits = append(serviceUnits, service.NewWorkerUnit(cleanupWorker))
	}

	restapi.MustInitAndRegisterMetrics("ratekeeper")

	coordinatorMetrics := coordinator.NewPrometheusMetrics()
	coordinatorMetrics.MustRegister()
	coord := coordinator.NewWithOpts(registry, coordinator.Opts{
		Cache:            cache,
		Logger:           log.NewPrefixedLogger(logger, "coordinator: "),
		MetricsCollector: coordinatorMetrics,
	})

	httpServer, err := makeHTTPServer(cfg, coord, store, logger)
	if err != nil {
		return err
	}
	serviceUnits = append(serviceUnits, httpServer)

	if cfg.ProfServer.Enabled {
		serviceUnits = append(serviceUnits, profserver.New(cfg.ProfServer, logger))
	}

	if err = service.New(logger, service.NewCompositeUnit(serviceUnits...)).Start(); err != nil {
		return err
	}

	// Let the actors finish the calls they have already accepted.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err = registry.Shutdown(shutdownCtx); err != nil {
		logger.Error("actors shutdown failed", log.Error(err))
	}
	return nil
}

func makeHTTPServer(
	cfg *AppConfig, coord *coordinator.Coordinator, store keystate.Store, logger log.FieldLogger,
) (*httpserver.HTTPServer, error) {
	decideHandler := coordinator.NewDecideHandler(coord, logger)

	var routeMiddlewares []func(http.Handler) http.Handler
	if cfg.RateKeeper.MaxInFlight > 0 {
		mw, err := middleware.InFlightLimit(cfg.RateKeeper.MaxInFlight, serviceErrorDomain)
		if err != nil {
			return nil, fmt.Errorf("create in-flight limiting middleware: %w", err)
		}
		routeMiddlewares = append(routeMiddlewares, mw)
	}
	if cfg.RateKeeper.Throttle.Enabled {
		mw, err := middleware.LocalThrottleWithOpts(cfg.RateKeeper.Throttle.Rate, serviceErrorDomain,
			middleware.LocalThrottleOpts{MaxBurst: cfg.RateKeeper.Throttle.MaxBurst})
		if err != nil {
			return nil, fmt.Errorf("create throttling middleware: %w", err)
		}
		routeMiddlewares = append(routeMiddlewares, mw)
	}

	apiRoutes := map[httpserver.APIVersion]httpserver.APIRoute{
		1: func(router chi.Router) {
			router.With(routeMiddlewares...).Method(http.MethodGet, "/decide", decideHandler)
		},
	}

	opts := httpserver.Opts{
		ServiceNameInURL:   "ratekeeper",
		ErrorDomain:        serviceErrorDomain,
		APIRoutes:          apiRoutes,
		HealthCheckContext: makeHealthCheck(store),
		HTTPRequestMetrics: httpserver.HTTPRequestMetricsOpts{
			CustomLabelNames: []string{coordinator.MetricsLabelDecision},
		},
	}
	return httpserver.New(cfg.Server, logger, opts)
}

func makeHealthCheck(store keystate.Store) httpserver.HealthCheckContext {
	pinger, ok := store.(keystate.Pinger)
	if !ok {
		return func(_ context.Context) (httpserver.HealthCheckResult, error) {
			return httpserver.HealthCheckResult{"keyStateStorage": httpserver.HealthCheckStatusOK}, nil
		}
	}
	return func(ctx context.Context) (httpserver.HealthCheckResult, error) {
		status := httpserver.HealthCheckStatusOK
		if err := pinger.Ping(ctx); err != nil {
			status = httpserver.HealthCheckStatusFail
		}
		return httpserver.HealthCheckResult{"keyStateStorage": status}, nil
	}
}

func loadAppConfig() (*AppConfig, error) {
	cfgLoader := config.NewDefaultLoader("ratekeeper")
	cfg := NewAppConfig()
	if err := cfgLoader.LoadFromFile("config.yml", config.DataTypeYAML, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
