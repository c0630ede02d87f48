package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/onkernel/termlab/lib/lessons"
	"github.com/onkernel/termlab/lib/logger"
	"github.com/onkernel/termlab/lib/paths"
	"github.com/onkernel/termlab/lib/sessions"
)

func main() {
	configPath := flag.String("config", os.Getenv("TERMLAB_MCP_CONFIG"), "Path to YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		os.Exit(1)
	}
}

// newManager builds the session manager from the config. Transcripts are
// written only when a data directory is configured.
func newManager(cfg *Config) (sessions.Manager, error) {
	catalog, err := lessons.Load(cfg.LessonsDir)
	if err != nil {
		return nil, fmt.Errorf("load lessons: %w", err)
	}
	var p *paths.Paths
	if cfg.DataDir != "" {
		p = paths.New(cfg.DataDir)
	}
	return sessions.NewManager(sessions.Config{
		MaxSessions: cfg.MaxSessions,
		IdleTimeout: cfg.IdleTimeout,
		Hostname:    cfg.Hostname,
		MaxFileSize: int64(cfg.MaxFileSize.Bytes()),
		MaxNodes:    cfg.MaxNodes,
		Transcripts: p != nil,
	}, catalog, p, nil, nil)
}

func run(configPath string) error {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return err
	}

	// stdout carries the protocol; logs go to stderr
	logCfg := logger.NewConfig()
	logCfg.Output = os.Stderr
	log := logger.NewSubsystemLogger(logger.SubsystemMCP, logCfg, nil)
	if cfg.DataDir != "" {
		log = slog.New(logger.NewTranscriptHandler(log.Handler(), paths.New(cfg.DataDir).SessionTranscript))
	}
	ctx := logger.AddToContext(context.Background(), log)

	mgr, err := newManager(cfg)
	if err != nil {
		return err
	}

	s := server.NewMCPServer(
		"termlab",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	(&labTools{manager: mgr}).register(s)

	if cfg.IdleTimeout > 0 {
		go func() {
			ticker := time.NewTicker(time.Minute)
			defer ticker.Stop()
			for range ticker.C {
				mgr.ReapIdle(ctx)
			}
		}()
	}

	log.InfoContext(ctx, "serving MCP over stdio", "lessons", mgr.Lessons().Len())
	return server.ServeStdio(s,
		server.WithErrorLogger(slog.NewLogLogger(log.Handler(), slog.LevelError)),
		server.WithStdioContextFunc(func(context.Context) context.Context { return ctx }),
	)
}
