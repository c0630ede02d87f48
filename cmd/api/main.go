package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mw "github.com/onkernel/termlab/lib/middleware"
	"github.com/onkernel/termlab/lib/sessions"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		slog.Error("application terminated", "error", err)
		os.Exit(1)
	}
	slog.Info("main() exiting normally")
}

func run() error {
	app, cleanup, err := initializeApp()
	if err != nil {
		return fmt.Errorf("initialize application: %w", err)
	}
	defer func() {
		slog.Info("cleaning up application resources")
		cleanup()
		slog.Info("application cleanup complete")
	}()

	ctx, stop := signal.NotifyContext(app.Ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := app.Logger
	cfg := app.Config

	if cfg.OtelEnabled {
		logger.Info("OpenTelemetry enabled", "endpoint", cfg.OtelEndpoint, "service", cfg.OtelServiceName)
	}
	if cfg.JwtSecret == "" {
		logger.Warn("JWT_SECRET not configured - session endpoints will reject every request")
	}

	limits, err := cfg.ParseLimits()
	if err != nil {
		return err
	}
	logger.Info("lessons loaded", "count", app.Lessons.Len(), "extra_dir", cfg.LessonsDir)

	// HTTP metrics stay inside the API group; the terminal websocket needs
	// the raw Hijacker.
	opts := routerOptions{
		JwtSecret:    cfg.JwtSecret,
		AccessLogger: mw.NewAccessLogger(app.Otel.LogHandler),
	}
	if cfg.OtelEnabled {
		opts.TraceService = cfg.OtelServiceName
		if m, err := mw.NewHTTPMetrics(app.Otel.Meter); err == nil {
			opts.HTTPMetrics = m
		} else {
			logger.Warn("failed to create HTTP metrics", "error", err)
		}
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           newRouter(app.ApiService, logger, opts),
		ReadHeaderTimeout: 10 * time.Second,
	}

	grp, gctx := errgroup.WithContext(ctx)

	grp.Go(func() error {
		logger.Info("starting termlab API", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			return err
		}
		return nil
	})

	grp.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")

		// Use WithoutCancel to preserve context values while preventing cancellation
		shutdownCtx := context.WithoutCancel(gctx)
		shutdownCtx, cancel := context.WithTimeout(shutdownCtx, 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown http server", "error", err)
			return err
		}
		logger.Info("http server shutdown complete")
		return nil
	})

	grp.Go(func() error {
		return reapLoop(gctx, app.SessionManager, limits.ReapInterval, logger)
	})

	err = grp.Wait()
	slog.Info("all goroutines finished")
	return err
}

// reapLoop removes idle sessions every interval until ctx is done.
func reapLoop(ctx context.Context, mgr sessions.Manager, interval time.Duration, logger *slog.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info("session reaper started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := mgr.ReapIdle(ctx); n > 0 {
				logger.Info("reaped idle sessions", "count", n, "remaining", len(mgr.ListSessions(ctx)))
			}
		}
	}
}
