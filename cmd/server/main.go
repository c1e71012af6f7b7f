package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"backtester/config"
	"backtester/internal/adapters/logger"
	"backtester/internal/adapters/sqlite"
	"backtester/internal/app"
	"backtester/internal/server"
)

const version = "0.1.0"

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	// 2. Initialize Logger
	appLogger, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize logger: %v", err)
	}
	defer func() { _ = appLogger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Initialize Repository
	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: cfg.DBPath, Logger: appLogger})
	if err != nil {
		appLogger.Error(ctx, err, "Failed to initialize database repository")
		_ = appLogger.Sync()
		os.Exit(1)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(ctx, err, "Error closing database repository")
		}
	}()

	// 4. Initialize Application Service and API
	svc, err := app.NewBacktestService(appLogger, repo, cfg.OutputDir)
	if err != nil {
		appLogger.Error(ctx, err, "Failed to create backtest service")
		return
	}
	srv, err := server.New(svc, appLogger, server.Config{
		Defaults:      cfg.Engine,
		Annualization: cfg.Annualization,
		Version:       version,
	})
	if err != nil {
		appLogger.Error(ctx, err, "Failed to create API server")
		return
	}

	if cfg.LogLevel != logger.LevelDebug {
		gin.SetMode(gin.ReleaseMode)
	}
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// 5. Serve until a shutdown signal arrives
	errCh := make(chan error, 1)
	go func() {
		appLogger.Info(ctx, "HTTP server listening", map[string]interface{}{"addr": cfg.HTTPAddr, "version": version})
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			appLogger.Error(ctx, err, "HTTP server failed")
		}
	case <-ctx.Done():
		appLogger.Info(context.Background(), "Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(shutdownCtx, err, "HTTP server shutdown failed")
	}
	appLogger.Info(shutdownCtx, "Server stopped gracefully.")
}
