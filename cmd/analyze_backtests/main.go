package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"

	"backtester/internal/adapters/logger"
	"backtester/internal/adapters/sqlite"
	"backtester/internal/analytics"
	"backtester/internal/domain"
	"backtester/internal/utils"
)

func main() {
	dir := flag.String("dir", "data/runs", "directory holding exported runs (<id>/positions.csv)")
	dbPath := flag.String("db", "", "read stored runs from this SQLite database instead of CSV exports")
	limit := flag.Int("limit", 20, "maximum number of stored runs to analyze")
	flag.Parse()

	var (
		reports []report
		err     error
	)
	if *dbPath != "" {
		reports, err = loadFromDB(context.Background(), *dbPath, *limit)
	} else {
		reports, err = loadFromDir(*dir)
	}
	if err != nil {
		log.Fatalf("Error loading runs: %v", err)
	}
	if len(reports) == 0 {
		log.Println("No runs found. Run a backtest with OUTPUT_DIR or DB_PATH set first.")
		return
	}

	printSummary(os.Stdout, reports)

	fmt.Println("\n## Exit Reason Analysis")
	for _, r := range reports {
		printExitReasons(os.Stdout, r)
	}

	fmt.Println("\n## Monthly PnL")
	for _, r := range reports {
		printMonthly(os.Stdout, r)
	}
}

// report is one run prepared for printing.
type report struct {
	Name      string
	Positions []domain.Position
	Metrics   domain.SummaryMetrics
}

func loadFromDir(dir string) ([]report, error) {
	files, err := findPositionFiles(dir)
	if err != nil {
		return nil, err
	}

	reports := make([]report, 0, len(files))
	for _, file := range files {
		positions, err := utils.ReadPositionsFromCSV(file)
		if err != nil {
			log.Printf("Error reading positions from %s: %v", file, err)
			continue
		}
		// Curve statistics need the equity export; without it they print as n/a.
		curve, err := utils.ReadEquityCurveFromCSV(filepath.Join(filepath.Dir(file), "equity.csv"))
		if err != nil {
			log.Printf("No equity curve for %s: %v", file, err)
		}
		metrics := analytics.ComputeMetrics(positions, curve, 1)
		if len(curve) == 0 {
			metrics.Overall.MaxDrawdown = math.NaN()
		}
		reports = append(reports, report{
			Name:      filepath.Base(filepath.Dir(file)),
			Positions: positions,
			Metrics:   metrics,
		})
	}
	return reports, nil
}

func loadFromDB(ctx context.Context, path string, limit int) ([]report, error) {
	appLogger, err := logger.New(logger.LevelWarn)
	if err != nil {
		return nil, err
	}
	defer func() { _ = appLogger.Sync() }()

	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: path, Logger: appLogger})
	if err != nil {
		return nil, err
	}
	defer func() { _ = repo.Close() }()

	headers, err := repo.ListRuns(ctx, limit)
	if err != nil {
		return nil, err
	}
	reports := make([]report, 0, len(headers))
	for _, h := range headers {
		run, err := repo.FindRun(ctx, h.ID)
		if err != nil {
			log.Printf("Error loading run %s: %v", h.ID, err)
			continue
		}
		name := run.Label
		if name == "" {
			name = run.ID
		}
		reports = append(reports, report{Name: name, Positions: run.Positions, Metrics: run.Metrics})
	}
	return reports, nil
}

// findPositionFiles finds every positions.csv one level below dir.
func findPositionFiles(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*", "positions.csv"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

func printSummary(out io.Writer, reports []report) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', tabwriter.AlignRight|tabwriter.Debug)
	fmt.Fprintln(w, "Run\tTrades\tWinRate\tAvgWin\tAvgLoss\tTotalPnL\tFees\tPF\tSharpe\tMaxDD%\t")
	for _, r := range reports {
		m := r.Metrics.Overall
		fmt.Fprintf(w, "%s\t%d\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\t%s\t%s\t\n",
			r.Name,
			m.TradeCount,
			m.WinRate*100,
			m.AverageWin,
			m.AverageLoss,
			m.TotalPNL,
			m.TotalFees,
			m.ProfitFactor,
			formatStat(analytics.Sharpe(m)),
			formatStat(scale(analytics.Drawdown(m))),
		)
	}
	w.Flush()
}

func printExitReasons(out io.Writer, r report) {
	type reasonStats struct {
		count int
		wins  int
		pnl   float64
	}
	stats := make(map[domain.ExitReason]*reasonStats)
	for _, p := range r.Positions {
		if p.IsOpen() {
			continue
		}
		s, ok := stats[p.ExitReason]
		if !ok {
			s = &reasonStats{}
			stats[p.ExitReason] = s
		}
		s.count++
		s.pnl += p.PNL
		if p.PNL > 0 {
			s.wins++
		}
	}

	fmt.Fprintf(out, "\n%s:\n", r.Name)
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', tabwriter.AlignRight|tabwriter.Debug)
	fmt.Fprintln(w, "Reason\tCount\tWinRate\tTotalPnL\tAvgPnL\t")
	for _, reason := range []domain.ExitReason{
		domain.ExitReasonTakeProfit,
		domain.ExitReasonStopLoss,
		domain.ExitReasonExpiration,
		domain.ExitReasonEndOfData,
	} {
		s, ok := stats[reason]
		if !ok {
			continue
		}
		fmt.Fprintf(w, "%s\t%d\t%.2f\t%.2f\t%.2f\t\n",
			reason, s.count, float64(s.wins)/float64(s.count)*100, s.pnl, s.pnl/float64(s.count))
	}
	w.Flush()
}

func printMonthly(out io.Writer, r report) {
	monthly := analytics.MonthlyReturns(r.Positions)
	if len(monthly) == 0 {
		return
	}
	fmt.Fprintf(out, "\n%s:\n", r.Name)
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', tabwriter.AlignRight|tabwriter.Debug)
	fmt.Fprintln(w, "Month\tPnL\t")
	for _, m := range monthly {
		fmt.Fprintf(w, "%s\t%.2f\t\n", m.Month.Format("2006-01"), m.Return)
	}
	w.Flush()
}

func formatStat(v float64, err error) string {
	if err != nil {
		return "n/a"
	}
	return fmt.Sprintf("%.2f", v)
}

// scale converts a drawdown fraction to percent.
func scale(v float64, err error) (float64, error) {
	return v * 100, err
}
