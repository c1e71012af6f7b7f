// Package barsource selects the configured bar source adapter.
package barsource

import (
	"context"
	"fmt"

	"backtester/config"
	"backtester/internal/adapters/binanceclient"
	"backtester/internal/adapters/clickhouse"
	"backtester/internal/ports"
	"backtester/internal/utils"
)

// Open returns the bar source named by cfg.BarsSource and a function that
// releases its resources.
func Open(ctx context.Context, cfg *config.Config, logger ports.Logger) (ports.BarSource, func() error, error) {
	noop := func() error { return nil }

	switch cfg.BarsSource {
	case config.SourceCSV:
		return utils.CSVBarSource{Path: cfg.BarsPath}, noop, nil

	case config.SourceBinance:
		client, err := binanceclient.New(binanceclient.Config{
			APIKey:     cfg.APIKey,
			SecretKey:  cfg.SecretKey,
			UseTestnet: cfg.IsTestnet,
			Logger:     logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return binanceclient.BarSource{
			Client:   client,
			Symbol:   cfg.Symbol,
			Interval: cfg.Interval,
			Start:    cfg.StartTime,
			End:      cfg.EndTime,
			Limit:    cfg.BarLimit,
		}, noop, nil

	case config.SourceClickHouse:
		src, err := clickhouse.Open(ctx, clickhouse.Config{
			Addr:     cfg.ClickHouseAddr,
			Database: cfg.ClickHouseDatabase,
			Username: cfg.ClickHouseUser,
			Password: cfg.ClickHousePassword,
			Table:    cfg.ClickHouseTable,
			Symbol:   cfg.Symbol,
			Interval: cfg.Interval,
			Start:    cfg.StartTime,
			End:      cfg.EndTime,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return src, src.Close, nil
	}
	return nil, nil, fmt.Errorf("%w: unknown bar source %q", ports.ErrConfigurationError, cfg.BarsSource)
}
