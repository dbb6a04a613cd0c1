package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"autoai/internal/api"
	"autoai/internal/config"
	"autoai/internal/db"
	"autoai/internal/executor"
	"autoai/internal/logging"
	"autoai/internal/openai"
	"autoai/internal/scheduler"
	"autoai/internal/secrets"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	envFile := flag.String("env", ".env", "path to the .env file")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		return err
	}

	log := logging.New(logging.Config{Level: cfg.LogLevel, File: cfg.LogFile})

	// First boot generates the encryption key and persists it; losing it
	// makes every stored API key unreadable.
	key, err := cfg.EnsureEncryptionKey(*envFile)
	if err != nil {
		return fmt.Errorf("ensuring encryption key: %w", err)
	}
	codec, err := secrets.NewCodec(key)
	if err != nil {
		return fmt.Errorf("loading encryption key: %w", err)
	}

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}
	}
	database, err := db.New(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer database.Close()

	client := openai.NewClient(log)
	runner := executor.New(database, client, codec, log)

	sched := scheduler.New(database, runner, log)
	if err := sched.Start(); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}
	defer sched.Stop()

	server := api.NewServer(database, sched, codec, cfg.AdminPassword, key, log)

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: server.Router(),
	}

	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Str("database", cfg.DatabasePath).
			Msg("server starting")
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return srv.Shutdown(ctx)
}
