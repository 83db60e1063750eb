// Package main contains the entrypoint for the curator survey service.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/leisuredna/curator/internal/admin"
	"github.com/leisuredna/curator/internal/config"
	"github.com/leisuredna/curator/internal/curator"
	"github.com/leisuredna/curator/internal/curator/tasks"
	"github.com/leisuredna/curator/internal/database"
	"github.com/leisuredna/curator/internal/gemini"
	"github.com/leisuredna/curator/internal/logger"
	"github.com/leisuredna/curator/internal/server"
	"github.com/leisuredna/curator/internal/session"
	"github.com/leisuredna/curator/internal/transcript"

	_ "modernc.org/sqlite"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	exitCode := run(ctx)
	stop()
	os.Exit(exitCode)
}

// run initializes all components (config, logger, db, model client,
// driver, scheduler, http server), serves until the context is cancelled,
// and returns an exit code.
func run(ctx context.Context) int {
	configPath := flag.String("config", "./config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", *configPath, "error", err)
		return 1
	}

	log := logger.NewLogger(cfg.Logger.Level, cfg.Logger.JSON)
	slog.SetDefault(log)
	log.Info("Logger initialized", "level", cfg.Logger.Level, "json", cfg.Logger.JSON)

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		log.Error("Failed to connect to database", "path", cfg.Database.Path, "error", err)
		return 1
	}
	defer database.CloseDB(db)
	store := database.NewStore(db, log)

	gemClient, err := gemini.NewClient(ctx, cfg.Gemini, log)
	if err != nil {
		log.Error("Failed to initialize Gemini client", "error", err)
		return 1
	}

	transcripts := transcript.NewStore(cfg.Transcript.Path, log)
	sessions := session.NewManager(log)
	gate := admin.NewGate(cfg.Admin.ID, cfg.Admin.Password, log)
	driver := curator.NewDriver(gemClient, transcripts, store, cfg.Gemini, log)

	sched, err := curator.NewScheduler(log, &cfg.Scheduler, tasks.RegisterAllTasks(tasks.TaskDeps{
		Logger:   log,
		Sessions: sessions,
		Store:    store,
		Config:   cfg,
	}))
	if err != nil {
		log.Error("Failed to create scheduler", "error", err)
		return 1
	}

	handler := server.NewHandler(driver, sessions, gate, transcripts, store, log)
	srv := server.New(cfg.Server, handler, log)

	if err := sched.Start(); err != nil {
		log.Error("Failed to start scheduler", "error", err)
		return 1
	}
	defer func() {
		if err := sched.Stop(); err != nil {
			log.Error("Failed to stop scheduler", "error", err)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})

	log.Info("Service started", "addr", cfg.Server.Addr, "transcript", cfg.Transcript.Path, "admin_enabled", gate.Enabled())

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Service stopped due to error", "error", err)
		return 1
	}

	log.Info("Service stopped gracefully.")
	return 0
}
