package binanceclient

import (
	"context"
	"fmt"
	"time"

	"backtester/internal/domain"
	"backtester/internal/ports"
)

// BarSource adapts a MarketDataClient into a ports.BarSource for a fixed window.
// With a zero Start the most recent Limit bars are loaded instead.
type BarSource struct {
	Client   ports.MarketDataClient
	Symbol   string
	Interval string
	Start    time.Time
	End      time.Time
	Limit    int
}

// LoadBars fetches the configured window.
func (s BarSource) LoadBars(ctx context.Context) ([]domain.Bar, error) {
	if s.Client == nil {
		return nil, fmt.Errorf("binance bar source: %w: client is nil", ports.ErrConfigurationError)
	}
	if s.Symbol == "" || s.Interval == "" {
		return nil, fmt.Errorf("binance bar source: %w: symbol and interval are required", ports.ErrConfigurationError)
	}
	if s.Start.IsZero() {
		return s.Client.GetBars(ctx, s.Symbol, s.Interval, s.Limit)
	}
	end := s.End
	if end.IsZero() {
		end = time.Now().UTC()
	}
	return s.Client.GetBarsRange(ctx, s.Symbol, s.Interval, s.Start, end)
}
