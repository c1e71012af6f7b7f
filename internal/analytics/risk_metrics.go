package analytics

import (
	"math"

	"backtester/internal/domain"
)

// Returns converts an equity path into per-bar simple returns.
func Returns(equity []float64) []float64 {
	if len(equity) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		returns = append(returns, (equity[i]-equity[i-1])/equity[i-1])
	}
	return returns
}

// SharpeRatio is mean over sample standard deviation of returns, scaled by
// annualization. NaN when fewer than two returns exist, the deviation is zero
// or any return is not finite.
func SharpeRatio(returns []float64, annualization float64) float64 {
	if len(returns) < 2 {
		return math.NaN()
	}

	var sum float64
	for _, r := range returns {
		if math.IsNaN(r) || math.IsInf(r, 0) {
			return math.NaN()
		}
		sum += r
	}
	mean := sum / float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)
	stdDev := math.Sqrt(variance)

	if stdDev == 0 {
		return math.NaN()
	}
	return mean / stdDev * annualization
}

// MaxDrawdown is the largest decline from a running peak, as a fraction of
// that peak. NaN if the peak is not positive.
func MaxDrawdown(equity []float64) float64 {
	if len(equity) == 0 {
		return 0
	}
	peak := equity[0]
	var maxDD float64
	for _, v := range equity {
		if v > peak {
			peak = v
		}
		if peak <= 0 {
			return math.NaN()
		}
		if dd := (peak - v) / peak; dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD
}

// DrawdownPeriods lists each decline below a running peak until the peak is regained.
func DrawdownPeriods(curve []domain.EquityPoint) []domain.Drawdown {
	drawdowns := make([]domain.Drawdown, 0)
	if len(curve) == 0 {
		return drawdowns
	}

	peak := curve[0].Equity
	var current *domain.Drawdown
	for _, p := range curve {
		if p.Equity >= peak {
			if current != nil {
				current.End = p.Timestamp
				current.Recovered = true
				drawdowns = append(drawdowns, *current)
				current = nil
			}
			peak = p.Equity
			continue
		}

		if current == nil {
			current = &domain.Drawdown{Start: p.Timestamp, Peak: peak, Trough: p.Equity}
		}
		if p.Equity < current.Trough {
			current.Trough = p.Equity
		}
		if peak > 0 {
			current.Depth = (peak - current.Trough) / peak
		}
	}

	// Close any open drawdown
	if current != nil {
		drawdowns = append(drawdowns, *current)
	}
	return drawdowns
}
