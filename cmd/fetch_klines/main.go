package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"backtester/config"
	"backtester/internal/adapters/binanceclient"
	"backtester/internal/adapters/logger"
	"backtester/internal/utils"
)

func main() {
	out := flag.String("out", "", "output CSV path (default data/<symbol>_<interval>_<start>_to_<end>.csv)")
	flag.Parse()

	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	appLogger, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize logger: %v", err)
	}
	defer func() { _ = appLogger.Sync() }()
	ctx := context.Background()

	// 3. Initialize Market Data Client (Binance Adapter)
	binanceClient, err := binanceclient.New(binanceclient.Config{
		APIKey:     cfg.APIKey,
		SecretKey:  cfg.SecretKey,
		UseTestnet: cfg.IsTestnet,
		Logger:     appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}
	if err := binanceClient.Ping(ctx); err != nil {
		log.Fatalf("FATAL: Binance is unreachable: %v", err)
	}

	end := cfg.EndTime
	if end.IsZero() {
		end, err = binanceClient.GetServerTime(ctx)
		if err != nil {
			log.Fatalf("FATAL: Failed to read server time: %v", err)
		}
	}
	start := cfg.StartTime
	if start.IsZero() {
		start = end.AddDate(0, -3, 0) // 3 months ago
	}

	appLogger.Info(ctx, "Fetching bars", map[string]interface{}{
		"symbol": cfg.Symbol, "interval": cfg.Interval, "start": start, "end": end,
	})
	bars, err := binanceClient.GetBarsRange(ctx, cfg.Symbol, cfg.Interval, start, end)
	if err != nil {
		log.Fatalf("Error fetching bars: %v", err)
	}
	appLogger.Info(ctx, "Fetched bars", map[string]interface{}{"count": len(bars)})

	filename := *out
	if filename == "" {
		filename = fmt.Sprintf("data/%s_%s_%s_to_%s.csv", cfg.Symbol, cfg.Interval, start.Format("20060102"), end.Format("20060102"))
	}
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		log.Fatalf("Error creating output directory: %v", err)
	}
	if err := utils.WriteBarsToCSV(bars, filename); err != nil {
		appLogger.Error(ctx, err, "Error writing CSV")
		log.Fatalf("Error writing CSV: %v", err)
	}
	appLogger.Info(ctx, "Saved bars", map[string]interface{}{"filename": filename, "from": start.Format(time.RFC3339)})
}
