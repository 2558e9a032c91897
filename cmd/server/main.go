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

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/mcoot/secretgame/internal/api"
	"github.com/mcoot/secretgame/internal/config"
	"github.com/mcoot/secretgame/internal/factory"
	"github.com/mcoot/secretgame/internal/logging"
)

const (
	shutdownTimeout     = 10 * time.Second
	maintenanceInterval = 5 * time.Minute
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "secretgame: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// A missing .env is normal outside local development
	_ = godotenv.Load()

	env, err := config.LoadFromEnv(os.Getenv)
	if err != nil {
		return err
	}
	if err := env.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(os.Stdout, env.LogFormat, env.LogLevel)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := factory.New(ctx, factory.ConfigFromEnv(env, logger))
	if err != nil {
		return fmt.Errorf("create application: %w", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Error("close application", slog.String("error", err.Error()))
		}
	}()

	if err := app.Start(ctx); err != nil {
		return err
	}

	if env.SecretsFile != "" {
		secrets, err := app.Catalog.SeedFromFile(ctx, env.SecretsFile)
		if err != nil {
			logger.Warn("could not seed secret catalog",
				slog.String("path", env.SecretsFile),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("secret catalog seeded", slog.Int("count", len(secrets)))
		}
	}

	router := api.NewRouter(api.RouterConfig{
		Logger:      logger,
		AuthService: app.AuthService,
		Players:     app.Players,
		Engine:      app.Engine,
		Catalog:     app.Catalog,
		Hub:         app.Hub,
		StorageType: app.StorageType,
	})

	serverConfig := api.DefaultServerConfig()
	serverConfig.Host = env.Host
	serverConfig.Port = env.Port
	server := api.NewServer(router, serverConfig, logger)
	server.RegisterOnShutdown(app.Hub.Close)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("server started",
			slog.String("addr", server.Addr()),
			slog.String("storage", app.StorageType),
			slog.String("env", env.AppEnv),
		)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		app.RunMaintenance(gctx, maintenanceInterval)
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("server stopped")
	return nil
}
