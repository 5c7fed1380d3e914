package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"panostitch/internal/cli"
	"panostitch/internal/config"
	"panostitch/internal/logging"
	"panostitch/internal/pipeline"
	"panostitch/internal/storage"
)

func main() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	// A missing .env is fine; a malformed one is not.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return err
	}

	logger, err := logging.Setup(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		return err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Paths.DatabasePath), 0o755); err != nil {
		logger.Error("failed to create database directory", "error", err)
		return err
	}
	store, err := storage.Open(cfg.Storage.Driver, cfg.Paths.DatabasePath)
	if err != nil {
		// History is optional; runs still work without it.
		logger.Warn("run history disabled", "path", cfg.Paths.DatabasePath, "error", err)
		store = nil
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engines := cli.NewEngineManager(cfg)
	defer engines.Close()

	runner := pipeline.NewRunner(logger, store, engines, cfg.Output)
	pipe := pipeline.New(ctx, cfg.Server.Concurrency, cfg.Server.QueueSize, logger, store, runner)
	defer pipe.Stop()

	return cli.NewRootCmd(cfg, logger, store, pipe, engines).ExecuteContext(ctx)
}
