package main

import (
	"context"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"os"
	"os/signal"
	"syscall"

	"backtester/config"
	"backtester/internal/adapters/barsource"
	"backtester/internal/adapters/logger"
	"backtester/internal/adapters/sqlite"
	"backtester/internal/app"
	"backtester/internal/domain"
	"backtester/internal/ports"
	"backtester/internal/utils"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}
	if err := cfg.ValidateRunInputs(); err != nil {
		log.Fatalf("FATAL: %v", err)
	}

	// 2. Initialize Logger
	appLogger, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize logger: %v", err)
	}
	defer func() { _ = appLogger.Sync() }()
	appLogger.Info(context.Background(), "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, appLogger); err != nil {
		appLogger.Error(ctx, err, "Backtest exited with error")
		_ = appLogger.Sync()
		os.Exit(1)
	}
	appLogger.Info(ctx, "Application finished gracefully.")
}

func run(ctx context.Context, cfg *config.Config, appLogger ports.Logger) error {
	// 3. Initialize Repository (Database Adapter), optional
	var runRepo ports.RunRepository
	if cfg.DBPath != "" {
		repo, err := sqlite.NewRepository(sqlite.Config{
			DBPath: cfg.DBPath,
			Logger: appLogger,
		})
		if err != nil {
			return err
		}
		defer func() {
			if err := repo.Close(); err != nil {
				appLogger.Error(ctx, err, "Error closing database repository")
			}
		}()
		runRepo = repo
		appLogger.Info(ctx, "Database repository initialized", map[string]interface{}{"path": cfg.DBPath})
	}

	// 4. Initialize Bar Source (CSV, Binance or ClickHouse adapter)
	bars, closeBars, err := barsource.Open(ctx, cfg, appLogger)
	if err != nil {
		return err
	}
	defer func() { _ = closeBars() }()

	// 5. Initialize Application Service
	svc, err := app.NewBacktestService(appLogger, runRepo, cfg.OutputDir)
	if err != nil {
		return err
	}

	// 6. Run
	result, err := svc.Run(ctx, app.RunRequest{
		RunSpec: app.RunSpec{
			Label:         cfg.Symbol + " " + cfg.Interval,
			Symbol:        cfg.Symbol,
			Interval:      cfg.Interval,
			Engine:        cfg.Engine,
			Annualization: cfg.Annualization,
		},
		Bars:    bars,
		Signals: utils.CSVSignalSource{Path: cfg.SignalsPath},
	})
	if err != nil {
		return err
	}

	for _, seg := range []domain.Segment{domain.SegmentOverall, domain.SegmentLong, domain.SegmentShort} {
		tm := result.Metrics.Segment(seg)
		appLogger.Info(ctx, "Segment performance", map[string]interface{}{
			"runID":        result.ID,
			"segment":      string(seg),
			"trades":       tm.TradeCount,
			"winRate":      tm.WinRate,
			"averagePNL":   tm.AveragePNL,
			"totalPNL":     tm.TotalPNL,
			"profitFactor": tm.ProfitFactor,
			"sharpe":       tm.SharpeRatio,
			"maxDrawdown":  tm.MaxDrawdown,
		})
	}
	return nil
}
