package analytics

import (
	"math"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"backtester/internal/domain"
)

// ComputeMetrics calculates the metrics of the long, short and overall segments.
// Inputs are not modified. Segments without trades get zero counts and
// NaN for statistics that need data.
func ComputeMetrics(closed []domain.Position, curve []domain.EquityPoint, annualization float64) domain.SummaryMetrics {
	initial := 0.0
	if len(curve) > 0 {
		initial = curve[0].InitialEquity
	}

	var summary domain.SummaryMetrics
	segments := []struct {
		seg    domain.Segment
		equity func(domain.EquityPoint) float64
		out    *domain.TradeMetrics
	}{
		{domain.SegmentOverall, func(p domain.EquityPoint) float64 { return p.Equity }, &summary.Overall},
		{domain.SegmentLong, func(p domain.EquityPoint) float64 { return initial + p.LongPNL }, &summary.Long},
		{domain.SegmentShort, func(p domain.EquityPoint) float64 { return initial + p.ShortPNL }, &summary.Short},
	}

	// Each segment is a read-only reduction over the same inputs and writes
	// only its own output, so no goroutine can fail.
	var g errgroup.Group
	for _, s := range segments {
		g.Go(func() error {
			path := make([]float64, len(curve))
			for i, p := range curve {
				path[i] = s.equity(p)
			}
			m := tradeStats(s.seg, filter(closed, s.seg), initial)
			m.SharpeRatio = SharpeRatio(Returns(path), annualization)
			m.MaxDrawdown = MaxDrawdown(path)
			*s.out = m
			return nil
		})
	}
	g.Wait()

	summary.Drawdowns = DrawdownPeriods(curve)
	return summary
}

func filter(closed []domain.Position, seg domain.Segment) []domain.Position {
	out := make([]domain.Position, 0, len(closed))
	for _, p := range closed {
		if p.IsOpen() {
			continue
		}
		switch {
		case seg == domain.SegmentOverall,
			seg == domain.SegmentLong && p.Side == domain.Long,
			seg == domain.SegmentShort && p.Side == domain.Short:
			out = append(out, p)
		}
	}
	// Streaks follow the order in which trades closed.
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].ExitTime.Equal(out[j].ExitTime) {
			return out[i].ExitTime.Before(out[j].ExitTime)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// tradeStats computes the per-trade statistics of one segment.
func tradeStats(seg domain.Segment, trades []domain.Position, initial float64) domain.TradeMetrics {
	m := domain.TradeMetrics{
		Segment:     seg,
		ExitReasons: make(map[domain.ExitReason]int),
	}
	if len(trades) == 0 {
		return m
	}

	var grossWin, grossLoss, sumReturn float64
	var consecutiveWins, consecutiveLosses int
	var totalDuration time.Duration

	for i := range trades {
		p := &trades[i]
		m.TradeCount++
		m.TotalPNL += p.PNL
		m.TotalFees += p.FeesPaid()
		m.ExitReasons[p.ExitReason]++
		sumReturn += p.RealReturn()
		totalDuration += p.HoldingTime()

		if p.PNL > 0 {
			m.WinningTrades++
			grossWin += p.PNL
			consecutiveWins++
			consecutiveLosses = 0
		} else {
			m.LosingTrades++
			grossLoss += p.PNL
			consecutiveLosses++
			consecutiveWins = 0
		}
		if consecutiveWins > m.MaxConsecutiveWins {
			m.MaxConsecutiveWins = consecutiveWins
		}
		if consecutiveLosses > m.MaxConsecutiveLosses {
			m.MaxConsecutiveLosses = consecutiveLosses
		}
	}

	n := float64(m.TradeCount)
	m.WinRate = float64(m.WinningTrades) / n
	m.AveragePNL = m.TotalPNL / n
	m.AverageReturn = sumReturn / n
	m.AverageHoldingTime = totalDuration / time.Duration(m.TradeCount)
	if initial > 0 {
		m.TotalReturn = m.TotalPNL / initial
	}
	if m.WinningTrades > 0 {
		m.AverageWin = grossWin / float64(m.WinningTrades)
	}
	if m.LosingTrades > 0 {
		m.AverageLoss = grossLoss / float64(m.LosingTrades)
	}
	if grossLoss != 0 {
		m.ProfitFactor = grossWin / -grossLoss
	}
	m.Expectancy = m.WinRate*m.AverageWin + (1-m.WinRate)*m.AverageLoss
	return m
}

// Sharpe returns the Sharpe ratio of m, or ErrDegenerateStatistic when undefined.
func Sharpe(m domain.TradeMetrics) (float64, error) {
	if math.IsNaN(m.SharpeRatio) || math.IsInf(m.SharpeRatio, 0) {
		return 0, domain.ErrDegenerateStatistic
	}
	return m.SharpeRatio, nil
}

// Drawdown returns the maximum drawdown of m, or ErrDegenerateStatistic when undefined.
func Drawdown(m domain.TradeMetrics) (float64, error) {
	if math.IsNaN(m.MaxDrawdown) {
		return 0, domain.ErrDegenerateStatistic
	}
	return m.MaxDrawdown, nil
}

// MonthlyReturn represents a monthly return value
type MonthlyReturn struct {
	Month  time.Time
	Return float64
}

// MonthlyReturns sums realized PnL by exit month, in calendar order.
func MonthlyReturns(closed []domain.Position) []MonthlyReturn {
	byMonth := make(map[time.Time]float64)
	for _, p := range closed {
		if p.IsOpen() {
			continue
		}
		exit := p.ExitTime.UTC()
		month := time.Date(exit.Year(), exit.Month(), 1, 0, 0, 0, 0, time.UTC)
		byMonth[month] += p.PNL
	}

	returns := make([]MonthlyReturn, 0, len(byMonth))
	for month, profit := range byMonth {
		returns = append(returns, MonthlyReturn{Month: month, Return: profit})
	}
	sort.Slice(returns, func(i, j int) bool {
		return returns[i].Month.Before(returns[j].Month)
	})
	return returns
}
