package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"unibus/internal/alert"
	"unibus/internal/cache"
	"unibus/internal/config"
	"unibus/internal/handler"
	"unibus/internal/hub"
	"unibus/internal/metrics"
	"unibus/internal/middleware"
	"unibus/internal/store"
	"unibus/internal/timetable"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("starting unibus server",
		"log_level", cfg.LogLevel.String(),
		"http_addr", cfg.HTTPAddr,
		"redis_enabled", cfg.RedisEnabled,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	collector := metrics.NewCollector()

	var storeOpts []store.Option
	var positionCache *cache.Redis
	if cfg.RedisEnabled {
		positionCache, err = cache.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.PositionTTL, logger)
		if err != nil {
			logger.Error("redis unavailable, continuing without persistence", "error", err)
		} else {
			defer positionCache.Close()
			storeOpts = append(storeOpts, store.WithPersister(positionCache))
		}
	}

	positionStore := store.New(logger, storeOpts...)

	if positionCache != nil {
		positions, err := positionCache.LoadPositions(ctx)
		if err != nil {
			logger.Error("warm start failed", "error", err)
		} else if len(positions) > 0 {
			positionStore.Restore(positions)
			logger.Info("restored persisted positions", "count", len(positions))
		}
	}

	wsHub := hub.NewHub(positionStore, collector, logger)
	go wsHub.Run(ctx)

	timetableSource := buildTimetableSource(ctx, cfg, logger)

	httpHandler := handler.NewHTTPHandler(positionStore, timetableSource, logger)
	wsHandler := handler.NewWSHandler(wsHub, positionStore, cfg.ClientBufferSize, logger)
	healthHandler := handler.NewHealthHandler(wsHub, positionStore)
	limiter := middleware.NewRateLimiter(cfg.RateLimitPerWindow, cfg.RateLimitWindow, cfg.RateLimitWhitelist, logger)

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))

	r.Group(func(r chi.Router) {
		r.Use(limiter.Middleware)
		r.Use(handler.GzipMiddleware)
		r.Get("/v1/positions", httpHandler.ListPositions)
		r.Get("/v1/positions/{busID}", httpHandler.GetPosition)
		r.Get("/v1/routes/{routeID}/positions", httpHandler.ListRoutePositions)
		r.Get("/v1/timetable", httpHandler.GetTimetable)
	})

	r.HandleFunc("/v1/ws", wsHandler.ServeWS)

	r.Get("/healthz", healthHandler.Healthz)
	r.Get("/readyz", healthHandler.Readyz)
	r.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		logger.Info("starting HTTP server", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigChan:
	case <-ctx.Done():
	}

	logger.Info("shutdown signal received")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
}

// buildTimetableSource prefers the product database, falls back to a YAML
// file, and tolerates having neither (the timetable endpoint then serves an
// empty list).
func buildTimetableSource(ctx context.Context, cfg *config.Config, logger *slog.Logger) alert.TimetableSource {
	if cfg.TimetableDSN != "" {
		src, err := timetable.NewPostgresSource(ctx, cfg.TimetableDSN)
		if err != nil {
			logger.Error("timetable db unavailable", "error", err)
		} else {
			logger.Info("timetable source: postgres")
			return src
		}
	}
	if cfg.TimetableFile != "" {
		logger.Info("timetable source: file", "path", cfg.TimetableFile)
		return timetable.NewFileSource(cfg.TimetableFile)
	}
	logger.Warn("no timetable source configured")
	return nil
}
