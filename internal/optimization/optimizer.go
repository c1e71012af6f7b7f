package optimization

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"backtester/internal/analytics"
	"backtester/internal/backtesting"
	"backtester/internal/domain"
)

// ParameterRange defines an inclusive range of values to sweep
type ParameterRange struct {
	Min  float64
	Max  float64
	Step float64
}

// Values expands the range. A non-positive step yields just Min.
func (r ParameterRange) Values() []float64 {
	if r.Step <= 0 || r.Max < r.Min {
		return []float64{r.Min}
	}
	var out []float64
	for i := 0; ; i++ {
		v := r.Min + float64(i)*r.Step
		if v > r.Max+r.Step/2 { // epsilon for floating point accumulation
			break
		}
		out = append(out, math.Round(v*1e12)/1e12)
	}
	return out
}

// Grid lists the values tried for each swept parameter.
// An empty list keeps the base configuration's value.
type Grid struct {
	FeeRates        []float64
	SlippageRates   []float64
	SameBarPolicies []backtesting.SameBarPolicy
	EntryModes      []backtesting.EntryMode
}

// Parameters is one point of the grid.
type Parameters struct {
	FeeRate       float64
	SlippageRate  float64
	SameBarPolicy backtesting.SameBarPolicy
	EntryMode     backtesting.EntryMode
}

func (p Parameters) String() string {
	return fmt.Sprintf("fee=%g slippage=%g policy=%s entry=%s", p.FeeRate, p.SlippageRate, p.SameBarPolicy, p.EntryMode)
}

// apply returns base with the swept fields replaced.
func (p Parameters) apply(base backtesting.Config) backtesting.Config {
	cfg := base
	cfg.FeeRate = p.FeeRate
	cfg.SlippageRate = p.SlippageRate
	cfg.SameBarPolicy = p.SameBarPolicy
	cfg.EntryMode = p.EntryMode
	return cfg
}

// OptimizationResult holds the outcome of one parameter combination
type OptimizationResult struct {
	Parameters  Parameters
	Config      backtesting.Config
	Result      *backtesting.Result
	Metrics     domain.SummaryMetrics
	FinalEquity float64
	Score       float64
}

// ScoreFunction ranks a run; higher is better.
type ScoreFunction func(domain.SummaryMetrics) float64

// OptimizerConfig holds configuration for the optimizer
type OptimizerConfig struct {
	Base          backtesting.Config
	Grid          Grid
	Annualization float64
	Workers       int // Defaults to GOMAXPROCS
	ScoreFunction ScoreFunction
}

// Optimizer runs independent simulations over a parameter grid.
type Optimizer struct {
	config OptimizerConfig
}

// NewOptimizer creates a new optimizer instance
func NewOptimizer(config OptimizerConfig) *Optimizer {
	if config.ScoreFunction == nil {
		config.ScoreFunction = DefaultScoreFunction
	}
	if config.Workers <= 0 {
		config.Workers = runtime.GOMAXPROCS(0)
	}
	return &Optimizer{config: config}
}

// Optimize simulates every combination and returns the results sorted by score.
// Runs share the read-only inputs and nothing else. The first failing run cancels the rest.
func (o *Optimizer) Optimize(ctx context.Context, bars []domain.Bar, signals []domain.Signal) ([]OptimizationResult, error) {
	combinations := o.generateParameterCombinations()
	results := make([]OptimizationResult, len(combinations))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.config.Workers)
	for i, params := range combinations {
		g.Go(func() error {
			cfg := params.apply(o.config.Base)
			res, err := backtesting.Simulate(gctx, bars, signals, cfg)
			if err != nil {
				return fmt.Errorf("simulate %s: %w", params, err)
			}
			metrics := analytics.ComputeMetrics(res.ClosedPositions, res.EquityCurve, o.config.Annualization)
			results[i] = OptimizationResult{
				Parameters:  params,
				Config:      cfg,
				Result:      res,
				Metrics:     metrics,
				FinalEquity: res.FinalEquity(cfg.InitialEquity),
				Score:       o.config.ScoreFunction(metrics),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sortResultsByScore(results)
	return results, nil
}

// generateParameterCombinations generates all possible parameter combinations
func (o *Optimizer) generateParameterCombinations() []Parameters {
	base := o.config.Base
	grid := o.config.Grid

	fees := grid.FeeRates
	if len(fees) == 0 {
		fees = []float64{base.FeeRate}
	}
	slippages := grid.SlippageRates
	if len(slippages) == 0 {
		slippages = []float64{base.SlippageRate}
	}
	policies := grid.SameBarPolicies
	if len(policies) == 0 {
		policies = []backtesting.SameBarPolicy{base.SameBarPolicy}
	}
	modes := grid.EntryModes
	if len(modes) == 0 {
		modes = []backtesting.EntryMode{base.EntryMode}
	}

	combinations := make([]Parameters, 0, len(fees)*len(slippages)*len(policies)*len(modes))
	for _, fee := range fees {
		for _, slip := range slippages {
			for _, policy := range policies {
				for _, mode := range modes {
					combinations = append(combinations, Parameters{
						FeeRate:       fee,
						SlippageRate:  slip,
						SameBarPolicy: policy,
						EntryMode:     mode,
					})
				}
			}
		}
	}
	return combinations
}

// sortResultsByScore sorts optimization results by score in descending order.
// NaN scores sort last; ties keep grid order.
func sortResultsByScore(results []OptimizationResult) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i].Score, results[j].Score
		if math.IsNaN(b) {
			return !math.IsNaN(a)
		}
		return a > b
	})
}

// DefaultScoreFunction combines the overall segment's statistics into a single score.
// Undefined Sharpe counts as zero and undefined drawdown as a total loss.
func DefaultScoreFunction(metrics domain.SummaryMetrics) float64 {
	m := metrics.Overall

	sharpe, err := analytics.Sharpe(m)
	if err != nil {
		sharpe = 0
	}
	drawdown, err := analytics.Drawdown(m)
	if err != nil {
		drawdown = 1
	}

	score := 0.0
	score += m.WinRate * 0.3
	score += m.ProfitFactor * 0.2
	score += (1 - drawdown) * 0.2
	score += m.TotalReturn * 0.2
	score += sharpe * 0.1
	return score
}
