package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/onkernel/termlab/lib/logger"
	"golang.org/x/term"
)

func main() {
	lessonID := flag.String("lesson", "", "Lesson to start (see -list)")
	seed := flag.String("seed", "", "Seed for deterministic output")
	hostname := flag.String("hostname", "linux-lab", "Host name of the local lab")
	lessonsDir := flag.String("lessons-dir", os.Getenv("LESSONS_DIR"), "Extra lesson fixtures for the local lab")
	list := flag.Bool("list", false, "List lessons and exit")
	remote := flag.String("remote", "", "API server URL (ws:// or http://); runs locally when empty")
	token := flag.String("token", "", "JWT token (or use TERMLAB_TOKEN env var)")
	sessionID := flag.String("session", "", "Attach to an existing remote session")
	flag.Parse()

	cfg := logger.NewConfig()
	if os.Getenv("LOG_LEVEL") == "" {
		cfg.Level = slog.LevelWarn
	}
	cfg.Output = os.Stderr
	log := logger.NewSubsystemLogger(logger.SubsystemTerm, cfg, nil)
	ctx := logger.AddToContext(context.Background(), log)
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	color.NoColor = !term.IsTerminal(int(os.Stdout.Fd()))

	var (
		b   backend
		err error
	)
	if *remote == "" {
		var lb *localBackend
		lb, err = newLocalBackend(ctx, *lessonsDir, *hostname)
		if err == nil && *list {
			for _, l := range lb.manager.Lessons().List() {
				fmt.Printf("%-24s %s (%d tasks)\n", l.ID, l.Title, l.Tasks)
			}
			return
		}
		b = lb
	} else {
		jwtToken := *token
		if jwtToken == "" {
			jwtToken = os.Getenv("TERMLAB_TOKEN")
		}
		if jwtToken == "" {
			fmt.Fprintf(os.Stderr, "Error: JWT token required (use -token or TERMLAB_TOKEN env var)\n")
			os.Exit(1)
		}
		b, err = newRemoteBackend(*remote, jwtToken)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer b.Close()

	greeting, err := b.Start(ctx, startOptions{LessonID: *lessonID, Seed: *seed, SessionID: *sessionID})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := repl(ctx, os.Stdin, os.Stdout, b, greeting); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
