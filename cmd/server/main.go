package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/Tyrowin/quickspeak-relay/internal/server"
	"github.com/Tyrowin/quickspeak-relay/internal/version"
)

func main() {
	configPath := flag.String("config", "", "optional path to a YAML config file")
	envFile := flag.String("env-file", ".env", "dotenv file loaded before reading the environment")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Error("failed to load env file", "path", *envFile, "error", err)
		os.Exit(1)
	}

	cfg, err := server.LoadAndValidate(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	logger.Info("starting QuickSpeak relay",
		"version", version.Version,
		"commit", version.Commit,
		"environment", cfg.Environment,
		"port", cfg.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	relay := server.NewRelay(cfg, logger)
	httpServer := server.CreateServer(cfg.Port, server.SetupRoutes(relay))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		relay.Run()
		return nil
	})

	g.Go(func() error {
		return server.StartServer(httpServer)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown requested")
		// The relay is shut down even if the HTTP server fails to drain.
		return multierr.Append(
			server.ShutdownServer(httpServer, cfg.ShutdownTimeout),
			relay.Shutdown(cfg.ShutdownTimeout),
		)
	})

	if err := g.Wait(); err != nil {
		logger.Error("relay stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("relay stopped")
}

func newLogger(cfg *server.Config) *slog.Logger {
	level, err := server.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
