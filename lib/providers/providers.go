package providers

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/onkernel/termlab/cmd/api/config"
	"github.com/onkernel/termlab/lib/lessons"
	"github.com/onkernel/termlab/lib/logger"
	"github.com/onkernel/termlab/lib/otel"
	"github.com/onkernel/termlab/lib/paths"
	"github.com/onkernel/termlab/lib/sessions"
)

// ProvideLogger provides the sessions logger. Records carrying a session ID
// are also appended to that session's transcript when transcripts are on.
func ProvideLogger(cfg *config.Config, p *paths.Paths, provider *otel.Provider) *slog.Logger {
	log := logger.NewSubsystemLogger(logger.SubsystemSessions, logger.NewConfig(), provider.LogHandler)
	if !cfg.TranscriptsEnabled {
		return log
	}
	return slog.New(logger.NewTranscriptHandler(log.Handler(), p.SessionTranscript))
}

// ProvideContext provides a context with logger attached
func ProvideContext(log *slog.Logger) context.Context {
	return logger.AddToContext(context.Background(), log)
}

// ProvideConfig provides the application configuration
func ProvideConfig() *config.Config {
	return config.Load()
}

// ProvidePaths provides the data directory layout
func ProvidePaths(cfg *config.Config) *paths.Paths {
	return paths.New(cfg.DataDir)
}

// ProvideLessons loads the built-in lessons plus LESSONS_DIR, falling back
// to the data directory's lessons folder when it exists.
func ProvideLessons(cfg *config.Config, p *paths.Paths) (*lessons.Catalog, error) {
	dir := cfg.LessonsDir
	if dir == "" {
		if info, err := os.Stat(p.LessonsDir()); err == nil && info.IsDir() {
			dir = p.LessonsDir()
		}
	}
	catalog, err := lessons.Load(dir)
	if err != nil {
		return nil, fmt.Errorf("load lessons from %s: %w", filepath.Clean(dir), err)
	}
	return catalog, nil
}

// ProvideSessionManager provides the session manager
func ProvideSessionManager(cfg *config.Config, catalog *lessons.Catalog, p *paths.Paths, provider *otel.Provider) (sessions.Manager, error) {
	limits, err := cfg.ParseLimits()
	if err != nil {
		return nil, err
	}
	return sessions.NewManager(sessions.Config{
		MaxSessions: cfg.MaxSessions,
		IdleTimeout: limits.IdleTimeout,
		Hostname:    cfg.LabHostname,
		MaxFileSize: limits.MaxFileSize,
		MaxNodes:    cfg.MaxNodes,
		Transcripts: cfg.TranscriptsEnabled,
	}, catalog, p, provider.MeterFor("sessions"), provider.TracerFor("sessions"))
}

// ProvideOtel initializes telemetry. Failures degrade to the no-op provider
// so the lab still serves without a collector.
func ProvideOtel(cfg *config.Config) (*otel.Provider, func()) {
	provider, shutdown, err := otel.Init(context.Background(), otel.Config{
		Enabled:           cfg.OtelEnabled,
		Endpoint:          cfg.OtelEndpoint,
		ServiceName:       cfg.OtelServiceName,
		ServiceInstanceID: cfg.OtelServiceInstanceID,
		Insecure:          cfg.OtelInsecure,
		Version:           cfg.Version,
		Env:               cfg.Env,
	})
	if err != nil {
		slog.Warn("failed to initialize OpenTelemetry, continuing without telemetry", "error", err)
		provider, shutdown, _ = otel.Init(context.Background(), otel.Config{ServiceName: cfg.OtelServiceName})
	}
	return provider, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			slog.Warn("error shutting down OpenTelemetry", "error", err)
		}
	}
}
