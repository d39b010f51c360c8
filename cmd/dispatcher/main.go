// Command dispatcher runs the event-driven last-mile dispatch service: the
// dispatch core, the simulation driver, and the JSON + WebSocket adapter.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"dispatcher/internal/dispatch"
	"dispatcher/internal/httpapi"
	"dispatcher/internal/simulation"
	"dispatcher/pkg/audit"
	"dispatcher/pkg/cache"
	"dispatcher/pkg/config"
	"dispatcher/pkg/logger"
	"dispatcher/pkg/metrics"
	"dispatcher/pkg/ratelimit"
	"dispatcher/pkg/telemetry"
)

func main() {
	if err := run(); err != nil {
		slog.Error("dispatcher exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadWithServiceDefaults("dispatcher", 8080)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger.InitWithConfig(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		FilePath:   cfg.Log.FilePath,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	})
	log := logger.Log

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tracerProvider, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		Version:     cfg.App.Version,
		Environment: cfg.App.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			log.Warn("tracer shutdown failed", "error", err)
		}
	}()

	m := metrics.InitMetrics(cfg.Metrics.Namespace, cfg.Metrics.Subsystem)
	m.SetServiceInfo(cfg.App.Version, cfg.App.Environment)
	if cfg.Metrics.Enabled {
		go func() {
			if err := metrics.StartMetricsServer(cfg.Metrics.Port); err != nil {
				log.Warn("metrics server stopped", "error", err)
			}
		}()
	}

	auditLogger, err := audit.New(&audit.Config{
		Enabled:        cfg.Audit.Enabled,
		Backend:        cfg.Audit.Backend,
		FilePath:       cfg.Audit.FilePath,
		BufferSize:     cfg.Audit.BufferSize,
		FlushPeriod:    cfg.Audit.FlushPeriod,
		ExcludeMethods: cfg.Audit.ExcludeMethods,
		IncludeRequest: cfg.Audit.IncludeRequest,
	})
	if err != nil {
		return err
	}
	audit.SetGlobal(auditLogger)
	defer auditLogger.Close()

	var limiter ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		limiter, err = ratelimit.New(&ratelimit.Config{
			Requests:        cfg.RateLimit.Requests,
			Window:          cfg.RateLimit.Window,
			Strategy:        cfg.RateLimit.Strategy,
			Backend:         cfg.RateLimit.Backend,
			BurstSize:       cfg.RateLimit.BurstSize,
			CleanupInterval: cfg.RateLimit.CleanupInterval,
			RedisAddr:       cfg.RateLimit.RedisAddr,
		})
		if err != nil {
			return err
		}
		defer limiter.Close()
	}

	core := dispatch.New(log)
	if cfg.Cache.Enabled {
		planCache, err := cache.New(cache.FromConfig(&cfg.Cache))
		if err != nil {
			return err
		}
		defer planCache.Close()
		core = core.WithCache(planCache)
	}
	driver := simulation.New(core, log)
	server := httpapi.New(driver, log, m, auditLogger, limiter).WithCORS(cfg.HTTP.CORS)

	httpServer := &http.Server{
		Addr:         addr(cfg.HTTP.Port),
		Handler:      h2c.NewHandler(server.Routes(), &http2.Server{}),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("dispatcher listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		return err
	case sig := <-sigCh:
		log.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()
	return httpServer.Shutdown(shutdownCtx)
}

func addr(port int) string {
	if port <= 0 {
		port = 8080
	}
	return ":" + strconv.Itoa(port)
}
