package analytics

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"
	"testing"
	"time"

	"backtester/internal/backtesting"
	"backtester/internal/domain"
)

var start = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func at(i int) time.Time {
	return start.Add(time.Duration(i) * time.Hour)
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func closedPosition(id int64, side domain.Side, entry, units, pnl, fees float64, exitBar int, reason domain.ExitReason) domain.Position {
	return domain.Position{
		ID:         id,
		Side:       side,
		Units:      units,
		EntryTime:  at(exitBar - 1),
		EntryPrice: entry,
		EntryFee:   fees,
		Status:     domain.StatusClosed,
		ExitTime:   at(exitBar),
		ExitReason: reason,
		PNL:        pnl,
	}
}

func TestComputeMetrics(t *testing.T) {
	closed := []domain.Position{
		closedPosition(3, domain.Long, 100, 2, -20, 0, 3, domain.ExitReasonEndOfData),
		closedPosition(1, domain.Long, 100, 10, 100, 2, 1, domain.ExitReasonTakeProfit),
		closedPosition(2, domain.Short, 50, 10, -50, 1, 2, domain.ExitReasonStopLoss),
	}
	curve := []domain.EquityPoint{
		{Timestamp: at(0), InitialEquity: 1000, Equity: 1000},
		{Timestamp: at(1), InitialEquity: 1000, Equity: 1100, RealizedPNL: 100, LongPNL: 100},
		{Timestamp: at(2), InitialEquity: 1000, Equity: 1050, RealizedPNL: 50, LongPNL: 100, ShortPNL: -50},
		{Timestamp: at(3), InitialEquity: 1000, Equity: 1030, RealizedPNL: 30, LongPNL: 80, ShortPNL: -50},
	}
	closedCopy := append([]domain.Position(nil), closed...)

	metrics := ComputeMetrics(closed, curve, 1)

	if !reflect.DeepEqual(closed, closedCopy) {
		t.Error("Expected input positions to be left untouched")
	}

	overall := metrics.Overall
	if overall.Segment != domain.SegmentOverall {
		t.Errorf("Expected overall segment, got %s", overall.Segment)
	}
	if overall.TradeCount != 3 || overall.WinningTrades != 1 || overall.LosingTrades != 2 {
		t.Errorf("Expected 3 trades (1 win, 2 losses), got %d (%d, %d)", overall.TradeCount, overall.WinningTrades, overall.LosingTrades)
	}
	if !approx(overall.WinRate, 1.0/3) {
		t.Errorf("Expected win rate 1/3, got %f", overall.WinRate)
	}
	if overall.AveragePNL != 10 || overall.TotalPNL != 30 || overall.TotalFees != 3 {
		t.Errorf("Expected avg 10 total 30 fees 3, got %f %f %f", overall.AveragePNL, overall.TotalPNL, overall.TotalFees)
	}
	if !approx(overall.TotalReturn, 0.03) {
		t.Errorf("Expected total return 0.03, got %f", overall.TotalReturn)
	}
	if !approx(overall.AverageReturn, -0.1/3) {
		t.Errorf("Expected average return %f, got %f", -0.1/3, overall.AverageReturn)
	}
	if !approx(overall.ProfitFactor, 100.0/70) {
		t.Errorf("Expected profit factor %f, got %f", 100.0/70, overall.ProfitFactor)
	}
	if overall.MaxConsecutiveWins != 1 || overall.MaxConsecutiveLosses != 2 {
		t.Errorf("Expected streaks 1/2, got %d/%d", overall.MaxConsecutiveWins, overall.MaxConsecutiveLosses)
	}
	if overall.AverageHoldingTime != time.Hour {
		t.Errorf("Expected average holding time 1h, got %s", overall.AverageHoldingTime)
	}
	if overall.ExitReasons[domain.ExitReasonStopLoss] != 1 || overall.ExitReasons[domain.ExitReasonTakeProfit] != 1 {
		t.Errorf("Unexpected exit reason counts %v", overall.ExitReasons)
	}
	if !approx(overall.MaxDrawdown, 70.0/1100) {
		t.Errorf("Expected max drawdown %f, got %f", 70.0/1100, overall.MaxDrawdown)
	}

	long := metrics.Long
	if long.TradeCount != 2 || long.WinRate != 0.5 || long.AveragePNL != 40 {
		t.Errorf("Expected long 2 trades, 0.5 win rate, avg 40, got %d %f %f", long.TradeCount, long.WinRate, long.AveragePNL)
	}
	if !approx(long.MaxDrawdown, 20.0/1100) {
		t.Errorf("Expected long drawdown %f, got %f", 20.0/1100, long.MaxDrawdown)
	}
	if long.SharpeRatio <= 0 || math.IsNaN(long.SharpeRatio) {
		t.Errorf("Expected positive long sharpe, got %f", long.SharpeRatio)
	}

	short := metrics.Short
	if short.TradeCount != 1 || short.WinRate != 0 || short.AveragePNL != -50 {
		t.Errorf("Expected short 1 trade, 0 win rate, avg -50, got %d %f %f", short.TradeCount, short.WinRate, short.AveragePNL)
	}
	if !approx(short.SharpeRatio, -1/math.Sqrt(3)) {
		t.Errorf("Expected short sharpe %f, got %f", -1/math.Sqrt(3), short.SharpeRatio)
	}
	if !approx(short.MaxDrawdown, 0.05) {
		t.Errorf("Expected short drawdown 0.05, got %f", short.MaxDrawdown)
	}

	if got := metrics.Segment(domain.SegmentShort); got.TradeCount != 1 {
		t.Errorf("Expected Segment lookup to return short metrics, got %d trades", got.TradeCount)
	}
}

func TestComputeMetricsNoTrades(t *testing.T) {
	metrics := ComputeMetrics(nil, nil, 1)

	for _, m := range []domain.TradeMetrics{metrics.Overall, metrics.Long, metrics.Short} {
		if m.TradeCount != 0 || m.WinRate != 0 || m.AveragePNL != 0 {
			t.Errorf("%s: expected zero counts, got %d %f %f", m.Segment, m.TradeCount, m.WinRate, m.AveragePNL)
		}
		if !math.IsNaN(m.SharpeRatio) {
			t.Errorf("%s: expected undefined sharpe, got %f", m.Segment, m.SharpeRatio)
		}
		if _, err := Sharpe(m); !errors.Is(err, domain.ErrDegenerateStatistic) {
			t.Errorf("%s: expected ErrDegenerateStatistic, got %v", m.Segment, err)
		}
		if m.MaxDrawdown != 0 {
			t.Errorf("%s: expected zero drawdown, got %f", m.Segment, m.MaxDrawdown)
		}
		if m.ExitReasons == nil {
			t.Errorf("%s: expected initialized exit reason counts", m.Segment)
		}
	}
	if len(metrics.Drawdowns) != 0 {
		t.Errorf("Expected no drawdown periods, got %d", len(metrics.Drawdowns))
	}
}

func TestComputeMetricsFromSimulation(t *testing.T) {
	bars := []domain.Bar{
		{Timestamp: at(0), Open: 100, High: 101, Low: 99, Close: 100},
		{Timestamp: at(1), Open: 100, High: 103, Low: 99, Close: 102},
		{Timestamp: at(2), Open: 102, High: 104, Low: 100, Close: 101},
		{Timestamp: at(3), Open: 101, High: 106, Low: 100, Close: 105},
	}
	signals := []domain.Signal{
		{Timestamp: at(0), Side: domain.Long, Units: 5},
		{Timestamp: at(1), Side: domain.Long, Units: 2, TakeProfit: domain.Float(104)},
	}

	result, err := backtesting.Simulate(context.Background(), bars, signals, backtesting.Config{FeeRate: 0.001, InitialEquity: 10000})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	metrics := ComputeMetrics(result.ClosedPositions, result.EquityCurve, AnnualizationFactor(8760))

	if metrics.Long.TradeCount != 2 || metrics.Short.TradeCount != 0 {
		t.Fatalf("Expected 2 long and 0 short trades, got %d/%d", metrics.Long.TradeCount, metrics.Short.TradeCount)
	}
	if math.Abs(metrics.Long.SharpeRatio-metrics.Overall.SharpeRatio) > 1e-6 {
		t.Errorf("Expected long-only sharpe %f to match overall %f", metrics.Long.SharpeRatio, metrics.Overall.SharpeRatio)
	}
	if !math.IsNaN(metrics.Short.SharpeRatio) {
		t.Errorf("Expected undefined short sharpe, got %f", metrics.Short.SharpeRatio)
	}
	if metrics.Short.MaxDrawdown != 0 {
		t.Errorf("Expected zero short drawdown, got %f", metrics.Short.MaxDrawdown)
	}
}

func TestComputeMetricsConcurrentSegmentsDeterministic(t *testing.T) {
	closed := []domain.Position{
		closedPosition(1, domain.Long, 100, 10, 100, 2, 1, domain.ExitReasonTakeProfit),
		closedPosition(2, domain.Short, 50, 10, -50, 1, 2, domain.ExitReasonStopLoss),
	}
	curve := []domain.EquityPoint{
		{Timestamp: at(0), InitialEquity: 1000, Equity: 1000},
		{Timestamp: at(1), InitialEquity: 1000, Equity: 1100, RealizedPNL: 100, LongPNL: 100},
		{Timestamp: at(2), InitialEquity: 1000, Equity: 1050, RealizedPNL: 50, LongPNL: 100, ShortPNL: -50},
	}

	// NaN never compares equal, so runs are compared by their printed form.
	want := fmt.Sprintf("%+v", ComputeMetrics(closed, curve, 1))
	for i := 0; i < 50; i++ {
		if got := fmt.Sprintf("%+v", ComputeMetrics(closed, curve, 1)); got != want {
			t.Fatalf("Run %d: expected %s, got %s", i, want, got)
		}
	}

	m := ComputeMetrics(closed, curve, 1)
	if m.Long.Segment != domain.SegmentLong || m.Short.Segment != domain.SegmentShort || m.Overall.Segment != domain.SegmentOverall {
		t.Errorf("Expected each segment written to its own slot, got %s/%s/%s", m.Overall.Segment, m.Long.Segment, m.Short.Segment)
	}
	if !approx(m.Short.MaxDrawdown, 50.0/1000) {
		t.Errorf("Expected short drawdown from the stored initial equity %f, got %f", 50.0/1000, m.Short.MaxDrawdown)
	}
}

func TestMonthlyReturns(t *testing.T) {
	closed := []domain.Position{
		{Status: domain.StatusClosed, ExitTime: time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC), PNL: 5},
		{Status: domain.StatusClosed, ExitTime: time.Date(2024, 1, 31, 23, 0, 0, 0, time.UTC), PNL: -2},
		{Status: domain.StatusClosed, ExitTime: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), PNL: 1},
		{Status: domain.StatusOpen, PNL: 100},
	}

	returns := MonthlyReturns(closed)
	if len(returns) != 2 {
		t.Fatalf("Expected 2 months, got %d", len(returns))
	}
	if returns[0].Month.Month() != time.January || returns[0].Return != -2 {
		t.Errorf("Expected January -2, got %s %f", returns[0].Month.Month(), returns[0].Return)
	}
	if returns[1].Month.Month() != time.February || returns[1].Return != 6 {
		t.Errorf("Expected February 6, got %s %f", returns[1].Month.Month(), returns[1].Return)
	}
}
