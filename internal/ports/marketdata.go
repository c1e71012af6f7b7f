package ports

import (
	"context"
	"time"

	"backtester/internal/domain"
)

// BarSource provides a finite, time-ordered price series.
// Implementations backed by a materialized collection are restartable.
type BarSource interface {
	LoadBars(ctx context.Context) ([]domain.Bar, error)
}

// SignalSource provides a finite signal feed ordered by timestamp.
type SignalSource interface {
	LoadSignals(ctx context.Context) ([]domain.Signal, error)
}

// MarketDataClient defines the historical market data operations of an exchange.
type MarketDataClient interface {
	// Ping checks the connectivity to the exchange API.
	Ping(ctx context.Context) error

	// GetServerTime retrieves the current server time from the exchange.
	GetServerTime(ctx context.Context) (time.Time, error)

	// GetBars retrieves the most recent bars for the given symbol.
	GetBars(ctx context.Context, symbol, interval string, limit int) ([]domain.Bar, error)

	// GetBarsRange retrieves all bars between start and end, paging as needed.
	GetBarsRange(ctx context.Context, symbol, interval string, start, end time.Time) ([]domain.Bar, error)
}

// BarSlice is a BarSource over bars already in memory.
type BarSlice []domain.Bar

// LoadBars returns the bars.
func (s BarSlice) LoadBars(ctx context.Context) ([]domain.Bar, error) {
	return s, nil
}

// SignalSlice is a SignalSource over signals already in memory.
type SignalSlice []domain.Signal

// LoadSignals returns the signals.
func (s SignalSlice) LoadSignals(ctx context.Context) ([]domain.Signal, error) {
	return s, nil
}
