package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"backtester/config"
	"backtester/internal/adapters/barsource"
	"backtester/internal/adapters/logger"
	"backtester/internal/adapters/sqlite"
	"backtester/internal/app"
	"backtester/internal/domain"
	"backtester/internal/optimization"
	"backtester/internal/ports"
	"backtester/internal/utils"
)

func main() {
	sweepPath := flag.String("sweep", "sweep.toml", "path to the TOML sweep definition")
	save := flag.Bool("save", false, "store the best run in DB_PATH")
	flag.Parse()

	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}
	if err := cfg.ValidateRunInputs(); err != nil {
		log.Fatalf("FATAL: %v", err)
	}
	sweep, err := config.LoadSweep(*sweepPath)
	if err != nil {
		log.Fatalf("FATAL: Failed to load sweep: %v", err)
	}
	grid, err := sweep.Grid()
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}

	appLogger, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize logger: %v", err)
	}
	defer func() { _ = appLogger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, sweep, grid, *save, appLogger); err != nil {
		appLogger.Error(ctx, err, "Sweep failed")
		_ = appLogger.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, sweep *config.SweepConfig, grid optimization.Grid, save bool, appLogger ports.Logger) error {
	// 2. Load bars and signals once; every run shares them read-only
	source, closeSource, err := barsource.Open(ctx, cfg, appLogger)
	if err != nil {
		return err
	}
	defer func() { _ = closeSource() }()

	var bars []domain.Bar
	var signals []domain.Signal
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		bars, err = source.LoadBars(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		signals, err = utils.CSVSignalSource{Path: cfg.SignalsPath}.LoadSignals(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("load inputs: %w", err)
	}
	appLogger.Info(ctx, "Loaded inputs", map[string]interface{}{"bars": len(bars), "signals": len(signals)})

	// 3. Sweep
	start := time.Now()
	optimizer := optimization.NewOptimizer(optimization.OptimizerConfig{
		Base:          cfg.Engine,
		Grid:          grid,
		Annualization: cfg.Annualization,
		Workers:       sweep.Workers,
	})
	results, err := optimizer.Optimize(ctx, bars, signals)
	if err != nil {
		return err
	}
	appLogger.Info(ctx, "Sweep completed", map[string]interface{}{
		"label":        sweep.Label,
		"combinations": len(results),
		"elapsed":      time.Since(start).String(),
	})

	// 4. Report the best combinations
	for rank, r := range results {
		if rank >= sweep.Top {
			break
		}
		m := r.Metrics.Overall
		appLogger.Info(ctx, "Ranked result", map[string]interface{}{
			"rank":          rank + 1,
			"score":         r.Score,
			"feeRate":       r.Parameters.FeeRate,
			"slippageRate":  r.Parameters.SlippageRate,
			"sameBarPolicy": r.Parameters.SameBarPolicy.String(),
			"entryMode":     r.Parameters.EntryMode.String(),
			"trades":        m.TradeCount,
			"winRate":       m.WinRate,
			"totalPNL":      m.TotalPNL,
			"sharpe":        m.SharpeRatio,
			"maxDrawdown":   m.MaxDrawdown,
			"finalEquity":   r.FinalEquity,
		})
	}

	if !save || len(results) == 0 {
		return nil
	}

	// 5. Store the winner through the application service
	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: cfg.DBPath, Logger: appLogger})
	if err != nil {
		return err
	}
	defer func() { _ = repo.Close() }()

	svc, err := app.NewBacktestService(appLogger, repo, cfg.OutputDir)
	if err != nil {
		return err
	}
	best := results[0]
	label := sweep.Label
	if label == "" {
		label = "sweep"
	}
	_, err = svc.Execute(ctx, app.RunSpec{
		Label:         fmt.Sprintf("%s best (%s)", label, best.Parameters),
		Symbol:        cfg.Symbol,
		Interval:      cfg.Interval,
		Engine:        best.Config,
		Annualization: cfg.Annualization,
	}, bars, signals)
	return err
}
