package optimization

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"backtester/internal/backtesting"
	"backtester/internal/domain"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func testData() ([]domain.Bar, []domain.Signal) {
	bars := []domain.Bar{
		{Timestamp: t0, Open: 100, High: 101, Low: 99, Close: 100},
		{Timestamp: t0.Add(time.Hour), Open: 100, High: 112, Low: 94, Close: 105},
		{Timestamp: t0.Add(2 * time.Hour), Open: 105, High: 106, Low: 103, Close: 104},
		{Timestamp: t0.Add(3 * time.Hour), Open: 104, High: 105, Low: 101, Close: 102},
	}
	signals := []domain.Signal{
		{Timestamp: t0, Side: domain.Long, Units: 10, TakeProfit: domain.Float(110), StopLoss: domain.Float(95)},
		{Timestamp: t0.Add(2 * time.Hour), Side: domain.Short, Units: 5},
	}
	return bars, signals
}

func TestOptimizer(t *testing.T) {
	bars, signals := testData()

	config := OptimizerConfig{
		Base: backtesting.DefaultConfig(),
		Grid: Grid{
			FeeRates:        []float64{0, 0.001, 0.002},
			SlippageRates:   []float64{0, 0.0005},
			SameBarPolicies: []backtesting.SameBarPolicy{backtesting.StopLossFirst, backtesting.TakeProfitFirst},
		},
		Annualization: 1,
		Workers:       3,
		ScoreFunction: func(m domain.SummaryMetrics) float64 { return m.Overall.TotalPNL },
	}

	optimizer := NewOptimizer(config)
	results, err := optimizer.Optimize(context.Background(), bars, signals)
	if err != nil {
		t.Fatalf("Optimization failed: %v", err)
	}

	expectedCombinations := 12 // 3 fees * 2 slippages * 2 policies
	if len(results) != expectedCombinations {
		t.Errorf("Expected %d parameter combinations, got %d", expectedCombinations, len(results))
	}

	for i := 1; i < len(results); i++ {
		if results[i-1].Score < results[i].Score {
			t.Error("Results are not sorted by score in descending order")
		}
	}

	// Cheapest run that lets the take profit win is the best one.
	best := results[0].Parameters
	if best.FeeRate != 0 || best.SlippageRate != 0 || best.SameBarPolicy != backtesting.TakeProfitFirst {
		t.Errorf("Expected zero cost take-profit-first run to score best, got %s", best)
	}
	if results[0].Metrics.Overall.TradeCount != 2 {
		t.Errorf("Expected 2 trades, got %d", results[0].Metrics.Overall.TradeCount)
	}
	for _, r := range results {
		if r.Config.FeeRate != r.Parameters.FeeRate || r.Config.InitialEquity != 10000 {
			t.Errorf("Config does not reflect parameters %s", r.Parameters)
		}
		want := r.Config.InitialEquity + r.Metrics.Overall.TotalPNL
		if math.Abs(r.FinalEquity-want) > 1e-6 {
			t.Errorf("Expected final equity %f, got %f", want, r.FinalEquity)
		}
	}
}

func TestOptimizerPropagatesErrors(t *testing.T) {
	bars, signals := testData()
	config := OptimizerConfig{
		Base: backtesting.DefaultConfig(),
		Grid: Grid{FeeRates: []float64{0, -1}},
	}

	_, err := NewOptimizer(config).Optimize(context.Background(), bars, signals)
	if !errors.Is(err, domain.ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig, got %v", err)
	}
}

func TestGenerateParameterCombinations(t *testing.T) {
	base := backtesting.DefaultConfig()
	base.FeeRate = 0.0004
	base.EntryMode = backtesting.EntryNextOpen

	optimizer := NewOptimizer(OptimizerConfig{
		Base: base,
		Grid: Grid{SlippageRates: []float64{0.1, 0.2}},
	})
	combinations := optimizer.generateParameterCombinations()

	if len(combinations) != 2 {
		t.Fatalf("Expected 2 parameter combinations, got %d", len(combinations))
	}
	for i, want := range []float64{0.1, 0.2} {
		c := combinations[i]
		if c.SlippageRate != want {
			t.Errorf("Expected slippage %f, got %f", want, c.SlippageRate)
		}
		if c.FeeRate != 0.0004 || c.EntryMode != backtesting.EntryNextOpen || c.SameBarPolicy != backtesting.StopLossFirst {
			t.Errorf("Expected base values to be kept, got %s", c)
		}
	}
}

func TestParameterRangeValues(t *testing.T) {
	tests := []struct {
		name string
		r    ParameterRange
		want []float64
	}{
		{"steps", ParameterRange{Min: 0.1, Max: 0.3, Step: 0.1}, []float64{0.1, 0.2, 0.3}},
		{"single", ParameterRange{Min: 0.5, Max: 0.5, Step: 0.1}, []float64{0.5}},
		{"no step", ParameterRange{Min: 0.2, Max: 1}, []float64{0.2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.r.Values()
			if len(got) != len(tt.want) {
				t.Fatalf("Expected %v, got %v", tt.want, got)
			}
			for i := range got {
				if math.Abs(got[i]-tt.want[i]) > 1e-12 {
					t.Errorf("Expected %v, got %v", tt.want, got)
				}
			}
		})
	}
}

func TestSortResultsByScore(t *testing.T) {
	results := []OptimizationResult{{Score: 1}, {Score: math.NaN()}, {Score: 3}, {Score: 2}}
	sortResultsByScore(results)
	if results[0].Score != 3 || results[1].Score != 2 || results[2].Score != 1 || !math.IsNaN(results[3].Score) {
		t.Errorf("Unexpected order: %v %v %v %v", results[0].Score, results[1].Score, results[2].Score, results[3].Score)
	}
}

func TestDefaultScoreFunction(t *testing.T) {
	metrics := domain.SummaryMetrics{Overall: domain.TradeMetrics{
		WinRate:      0.6,
		ProfitFactor: 2.0,
		MaxDrawdown:  0.2,
		TotalReturn:  0.5,
		SharpeRatio:  1.5,
	}}

	score := DefaultScoreFunction(metrics)
	expectedScore := 0.6*0.3 + 2.0*0.2 + 0.8*0.2 + 0.5*0.2 + 1.5*0.1
	if math.Abs(score-expectedScore) > 1e-12 {
		t.Errorf("Expected score %f, got %f", expectedScore, score)
	}

	metrics.Overall.SharpeRatio = math.NaN()
	metrics.Overall.MaxDrawdown = math.NaN()
	score = DefaultScoreFunction(metrics)
	expectedScore = 0.6*0.3 + 2.0*0.2 + 0.5*0.2
	if math.Abs(score-expectedScore) > 1e-12 {
		t.Errorf("Expected degenerate score %f, got %f", expectedScore, score)
	}
}
