package trackingservice

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"fleetwise/internal/general/config"
	"fleetwise/internal/general/contracts"
	"fleetwise/internal/general/jwt"
	"fleetwise/internal/general/logger"
	"fleetwise/internal/general/nominatim"
	"fleetwise/internal/general/postgres"
	"fleetwise/internal/general/rabbitmq"
	"fleetwise/internal/general/websocket"
	"fleetwise/internal/software/tracking/handler"
	"fleetwise/internal/software/tracking/service"
)

// Run wires the tracking service and blocks until ctx is cancelled.
func Run(ctx context.Context, maxConcurrent int) error {
	// set up a new logger and context for the tracking service with a static session ID for startup logs
	logger := logger.New("tracking-service")
	ctx = logger.WithSessionID(ctx, "startup-001")

	// load a config from file
	cfg, err := config.LoadFromFile("config/config.yaml")
	if err != nil {
		logger.Error(ctx, "config_load_failed", "Failed to load configuration", err, nil)
		return err
	}

	// set up a Postgres connection pool
	pool, err := postgres.NewPool(ctx, cfg, logger)
	if err != nil {
		logger.Error(ctx, "db_connection_failed", "Failed to initialize Postgres pool", err, nil)
		return err
	}
	defer pool.Close()

	// set up the repos backing the fleet snapshot and trails
	fleetRepo := postgres.NewFleetRepo(pool)
	trackRepo := postgres.NewTrackRepo(pool)

	// optional reverse geocoder
	var geo service.Geocoder
	var nom *nominatim.Client
	if cfg.Geocoder.Enabled {
		nom = nominatim.New(cfg.Geocoder.BaseURL, time.Duration(cfg.Geocoder.DebounceMs)*time.Millisecond, logger)
		defer nom.Close()
		geo = nom
	}

	// set up the tracking service around the map settings
	svc := service.New(logger, service.Settings{
		Provider:        cfg.Map.Provider,
		Style:           cfg.Map.Style,
		MapboxToken:     cfg.Map.MapboxToken,
		ClusterRadiusPx: cfg.Map.ClusterRadiusPx,
		MaxZoom:         cfg.Map.MaxZoom,
	}, fleetRepo, trackRepo, geo)

	// seed the snapshot from the registry and last known positions
	if err := svc.Seed(ctx); err != nil {
		logger.Error(ctx, "seed_failed", "Failed to seed fleet snapshot", err, nil)
		return err
	}

	// periodic stale-vehicle sweep
	go svc.Run(ctx)

	// pick the telemetry feed per config: Postgres NOTIFY or RabbitMQ
	var feed service.FeedSource
	switch cfg.Feed.Source {
	case "rabbitmq":
		rmq, err := rabbitmq.ConnectRabbitMQ(ctx, cfg, logger)
		if err != nil {
			logger.Error(ctx, "rabbitmq_connection_failed", "Failed to connect to RabbitMQ", err, nil)
			return err
		}
		feed = rabbitmq.NewTelemetryFeed(rmq, logger)
	default:
		feed = postgres.NewTelemetryListener(pool, cfg.Feed.Channel, logger)
	}

	// consume the feed with backoff between broken streams
	go func() {
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = time.Second
		bo.MaxInterval = 30 * time.Second
		bo.MaxElapsedTime = 0

		apply := func(report contracts.VehicleTelemetry) {
			svc.Apply(ctx, []contracts.VehicleTelemetry{report})
		}
		for {
			err := feed.Stream(ctx, apply)
			if ctx.Err() != nil {
				return
			}
			delay := bo.NextBackOff()
			logger.Error(ctx, "feed_stream_broken", "Telemetry feed interrupted, retrying", err,
				map[string]any{"source": cfg.Feed.Source, "retry_in": delay.String()})
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}
	}()

	// set up the JWT manager
	jwtManager := jwt.NewManager(cfg.JWT.SecretKey, 2*time.Hour)

	// set up the websocket handler for viewer sessions
	ws := websocket.NewWebSocket(logger, jwtManager, svc)

	// set up the HTTP handler and its routes
	mux := http.NewServeMux()
	httpHandler := handler.NewTrackingHTTPHandler(svc, logger, jwtManager, ws)
	httpHandler.RegisterRoutes(mux)

	// concurrency limiter (global), blocks when capacity is full
	limitedHandler := withConcurrencyLimit(maxConcurrent, mux)

	// set up the server configurations
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Services.TrackingServicePort), // listen on the specified port
		Handler:           limitedHandler,                                       // apply the concurrency limiter to the HTTP handler
		ReadHeaderTimeout: 5 * time.Second,                                      // time to read headers
		ReadTimeout:       10 * time.Second,                                     // time to read full request body
		WriteTimeout:      15 * time.Second,                                     // full response write timeout
		IdleTimeout:       60 * time.Second,                                     // keep-alive window
		BaseContext:       func(net.Listener) context.Context { return ctx },    // pass base ctx to all handlers
	}

	// log service start
	logger.Info(ctx, "service_started",
		fmt.Sprintf("Tracking Service started on port %d", cfg.Services.TrackingServicePort),
		map[string]any{"port": cfg.Services.TrackingServicePort, "max_concurrent": maxConcurrent, "feed": cfg.Feed.Source},
	)

	// start the server in a background goroutine
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	// wait for context cancellation or server error
	select {
	case <-ctx.Done():
		// graceful HTTP shutdown on context cancel
		shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info(ctx, "shutdown_started", "Starting graceful shutdown", nil)
		if err := srv.Shutdown(shCtx); err != nil && err != http.ErrServerClosed {
			logger.Error(ctx, "http_shutdown_failed", "Failed to gracefully shut down HTTP server", err, nil)
		}
	case err := <-errCh:
		// server returned a terminal error at startup or during run
		if err != nil && err != http.ErrServerClosed {
			logger.Error(ctx, "http_server_error", "HTTP server terminated with error", err, map[string]any{"port": cfg.Services.TrackingServicePort})
			return err
		}
		return nil
	}

	return nil
}

// withConcurrencyLimit wraps an http.Handler with a semaphore-based limiter.
// It controls how many HTTP requests can be in-progress at the same time.
func withConcurrencyLimit(n int, next http.Handler) http.Handler {
	if n <= 0 {
		return next
	}
	sem := make(chan struct{}, n)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case sem <- struct{}{}: // acquire
			defer func() { <-sem }() // release
			next.ServeHTTP(w, r)
		case <-r.Context().Done():
			// client canceled or server is shutting down
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		}
	})
}
