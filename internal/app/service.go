package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"backtester/internal/analytics"
	"backtester/internal/backtesting"
	"backtester/internal/domain"
	"backtester/internal/ports"
	"backtester/internal/utils"
)

// RunSpec describes what to simulate, independent of where the data comes from.
type RunSpec struct {
	Label         string
	Symbol        string
	Interval      string
	Engine        backtesting.Config
	Annualization float64
}

// RunRequest is a RunSpec plus the sources to load the inputs from.
type RunRequest struct {
	RunSpec
	Bars    ports.BarSource
	Signals ports.SignalSource
}

// BacktestService orchestrates loading inputs, simulating, scoring, storing and exporting runs.
type BacktestService struct {
	logger    ports.Logger
	repo      ports.RunRepository // Optional
	outputDir string              // Optional

	now   func() time.Time
	newID func() string
}

// NewBacktestService creates a new application service instance.
// repo and outputDir may be empty; the matching stage is then skipped.
func NewBacktestService(logger ports.Logger, repo ports.RunRepository, outputDir string) (*BacktestService, error) {
	if logger == nil {
		return nil, fmt.Errorf("missing required dependencies for BacktestService")
	}
	return &BacktestService{
		logger:    logger,
		repo:      repo,
		outputDir: outputDir,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}, nil
}

// Run loads bars and signals from the request's sources and executes the run.
func (s *BacktestService) Run(ctx context.Context, req RunRequest) (*domain.Run, error) {
	if req.Bars == nil || req.Signals == nil {
		return nil, fmt.Errorf("run %q: %w: bar and signal sources are required", req.Label, ports.ErrInvalidRequest)
	}

	var bars []domain.Bar
	var signals []domain.Signal
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		bars, err = req.Bars.LoadBars(gctx)
		if err != nil {
			return fmt.Errorf("load bars: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		signals, err = req.Signals.LoadSignals(gctx)
		if err != nil {
			return fmt.Errorf("load signals: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		s.logger.Error(ctx, err, "Failed to load backtest inputs", map[string]interface{}{"label": req.Label})
		return nil, err
	}

	s.logger.Info(ctx, "Loaded backtest inputs", map[string]interface{}{
		"label":   req.Label,
		"bars":    len(bars),
		"signals": len(signals),
	})
	return s.Execute(ctx, req.RunSpec, bars, signals)
}

// Execute simulates in-memory inputs, computes metrics, then stores and exports the run.
func (s *BacktestService) Execute(ctx context.Context, spec RunSpec, bars []domain.Bar, signals []domain.Signal) (*domain.Run, error) {
	start := time.Now()
	fields := map[string]interface{}{
		"label":         spec.Label,
		"symbol":        spec.Symbol,
		"feeRate":       spec.Engine.FeeRate,
		"slippageRate":  spec.Engine.SlippageRate,
		"sameBarPolicy": spec.Engine.SameBarPolicy.String(),
		"entryMode":     spec.Engine.EntryMode.String(),
	}

	res, err := backtesting.Simulate(ctx, bars, signals, spec.Engine)
	if err != nil {
		s.logger.Error(ctx, err, "Simulation failed", fields)
		return nil, fmt.Errorf("simulate: %w", err)
	}
	for _, r := range res.Rejections {
		s.logger.Warn(ctx, "Signal rejected", map[string]interface{}{
			"signalIndex": r.SignalIndex,
			"timestamp":   r.Timestamp,
			"reason":      r.Err.Error(),
		})
	}

	metrics := analytics.ComputeMetrics(res.ClosedPositions, res.EquityCurve, spec.Annualization)

	run := &domain.Run{
		ID:            s.newID(),
		Label:         spec.Label,
		Symbol:        spec.Symbol,
		Interval:      spec.Interval,
		CreatedAt:     s.now(),
		Params:        spec.Engine.Params(spec.Annualization),
		BarCount:      len(bars),
		SignalCount:   len(signals),
		RejectedCount: len(res.Rejections),
		FinalEquity:   res.FinalEquity(spec.Engine.InitialEquity),
		Positions:     res.ClosedPositions,
		EquityCurve:   res.EquityCurve,
		Metrics:       metrics,
	}

	fields["runID"] = run.ID
	fields["trades"] = metrics.Overall.TradeCount
	fields["winRate"] = metrics.Overall.WinRate
	fields["totalPNL"] = metrics.Overall.TotalPNL
	fields["finalEquity"] = run.FinalEquity
	fields["rejected"] = run.RejectedCount
	fields["elapsed"] = time.Since(start).String()
	s.logger.Info(ctx, "Backtest completed", fields)

	if s.repo != nil {
		if err := s.repo.SaveRun(ctx, run); err != nil {
			s.logger.Error(ctx, err, "Failed to save run", map[string]interface{}{"runID": run.ID})
			return nil, fmt.Errorf("save run %s: %w", run.ID, err)
		}
		s.logger.Debug(ctx, "Run saved", map[string]interface{}{"runID": run.ID})
	}

	if s.outputDir != "" {
		dir, err := s.Export(run)
		if err != nil {
			s.logger.Error(ctx, err, "Failed to export run", map[string]interface{}{"runID": run.ID})
			return nil, err
		}
		s.logger.Info(ctx, "Run exported", map[string]interface{}{"runID": run.ID, "dir": dir})
	}

	return run, nil
}

// Export writes the positions, equity curve and metrics of run as CSV files
// under <outputDir>/<run id> and returns that directory.
func (s *BacktestService) Export(run *domain.Run) (string, error) {
	dir := filepath.Join(s.outputDir, run.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}
	if err := utils.WritePositionsToCSV(run.Positions, filepath.Join(dir, "positions.csv")); err != nil {
		return "", fmt.Errorf("export positions: %w", err)
	}
	if err := utils.WriteEquityCurveToCSV(run.EquityCurve, filepath.Join(dir, "equity.csv")); err != nil {
		return "", fmt.Errorf("export equity curve: %w", err)
	}
	if err := utils.WriteMetricsToCSV(run.Metrics, filepath.Join(dir, "metrics.csv")); err != nil {
		return "", fmt.Errorf("export metrics: %w", err)
	}
	return dir, nil
}

// GetRun returns a stored run with its positions, equity curve and metrics.
func (s *BacktestService) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	if s.repo == nil {
		return nil, fmt.Errorf("get run: %w: no repository configured", ports.ErrConfigurationError)
	}
	return s.repo.FindRun(ctx, id)
}

// ListRuns returns stored run headers, newest first.
func (s *BacktestService) ListRuns(ctx context.Context, limit int) ([]*domain.Run, error) {
	if s.repo == nil {
		return nil, fmt.Errorf("list runs: %w: no repository configured", ports.ErrConfigurationError)
	}
	return s.repo.ListRuns(ctx, limit)
}

// DeleteRun removes a stored run.
func (s *BacktestService) DeleteRun(ctx context.Context, id string) error {
	if s.repo == nil {
		return fmt.Errorf("delete run: %w: no repository configured", ports.ErrConfigurationError)
	}
	if err := s.repo.DeleteRun(ctx, id); err != nil {
		return err
	}
	s.logger.Info(ctx, "Run deleted", map[string]interface{}{"runID": id})
	return nil
}
