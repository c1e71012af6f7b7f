package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"

	"backtester/internal/domain"
	"backtester/internal/ports"
)

// Repository implements the ports.RunRepository interface using SQLite.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/backtests.db" // Default path
	}

	// Create data directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// Open database connection
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w: %w", dbPath, ports.ErrDBConnection, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w: %w", dbPath, ports.ErrDBConnection, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	cfg.Logger.Info(context.Background(), "SQLite database connection established", map[string]interface{}{"path": dbPath})

	repo := &Repository{db: db, logger: cfg.Logger}

	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "Database schema initialized/verified")

	return repo, nil
}

// initializeSchema creates tables if they don't exist.
func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		label TEXT NOT NULL DEFAULT '',
		symbol TEXT NOT NULL DEFAULT '',
		interval TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		fee_rate REAL NOT NULL,
		exit_fee_rate REAL NOT NULL,
		slippage_rate REAL NOT NULL,
		initial_equity REAL NOT NULL,
		annualization_factor REAL NOT NULL,
		same_bar_policy TEXT NOT NULL,
		entry_mode TEXT NOT NULL,
		slip_limit_exits INTEGER NOT NULL,
		bar_count INTEGER NOT NULL,
		signal_count INTEGER NOT NULL,
		rejected_count INTEGER NOT NULL,
		final_equity REAL NOT NULL
	);

	CREATE TABLE IF NOT EXISTS positions (
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		id INTEGER NOT NULL,
		signal_index INTEGER NOT NULL,
		side TEXT NOT NULL,
		units REAL NOT NULL,
		entry_time TIMESTAMP NOT NULL,
		entry_bar INTEGER NOT NULL,
		raw_entry_price REAL NOT NULL,
		entry_price REAL NOT NULL,
		entry_fee REAL NOT NULL,
		take_profit REAL DEFAULT NULL,
		stop_loss REAL DEFAULT NULL,
		expiration TIMESTAMP DEFAULT NULL,
		status TEXT NOT NULL,
		exit_time TIMESTAMP DEFAULT NULL,
		exit_bar INTEGER NOT NULL,
		exit_reason TEXT NOT NULL,
		raw_exit_price REAL NOT NULL,
		exit_price REAL NOT NULL,
		exit_fee REAL NOT NULL,
		pnl REAL NOT NULL,
		PRIMARY KEY (run_id, id)
	);

	CREATE TABLE IF NOT EXISTS equity_points (
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		seq INTEGER NOT NULL,
		ts TIMESTAMP NOT NULL,
		initial_equity REAL NOT NULL,
		equity REAL NOT NULL,
		realized_pnl REAL NOT NULL,
		floating_pnl REAL NOT NULL,
		long_pnl REAL NOT NULL,
		short_pnl REAL NOT NULL,
		PRIMARY KEY (run_id, seq)
	);

	CREATE TABLE IF NOT EXISTS metrics (
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		segment TEXT NOT NULL,
		trade_count INTEGER NOT NULL,
		winning_trades INTEGER NOT NULL,
		losing_trades INTEGER NOT NULL,
		win_rate REAL NOT NULL,
		average_pnl REAL NOT NULL,
		total_pnl REAL NOT NULL,
		total_fees REAL NOT NULL,
		total_return REAL NOT NULL,
		average_return REAL NOT NULL,
		average_win REAL NOT NULL,
		average_loss REAL NOT NULL,
		profit_factor REAL NOT NULL,
		expectancy REAL NOT NULL,
		max_consecutive_wins INTEGER NOT NULL,
		max_consecutive_losses INTEGER NOT NULL,
		average_holding_ns INTEGER NOT NULL,
		sharpe_ratio REAL DEFAULT NULL, -- NULL when undefined
		max_drawdown REAL DEFAULT NULL,
		exit_reasons TEXT NOT NULL,
		PRIMARY KEY (run_id, segment)
	);

	CREATE TABLE IF NOT EXISTS drawdowns (
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		seq INTEGER NOT NULL,
		start_time TIMESTAMP NOT NULL,
		end_time TIMESTAMP DEFAULT NULL,
		peak REAL NOT NULL,
		trough REAL NOT NULL,
		depth REAL NOT NULL,
		PRIMARY KEY (run_id, seq)
	);
	CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs (created_at);
	`
	_, err := r.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// SaveRun stores the run and all of its children in one transaction.
func (r *Repository) SaveRun(ctx context.Context, run *domain.Run) error {
	if run.ID == "" {
		return fmt.Errorf("run has no ID: %w", ports.ErrInvalidRequest)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for run %s: %w: %w", run.ID, ports.ErrDBConnection, err)
	}
	defer tx.Rollback() // no-op after commit

	if err := insertRun(ctx, tx, run); err != nil {
		return mapError("insert run "+run.ID, err)
	}
	if err := insertPositions(ctx, tx, run.ID, run.Positions); err != nil {
		return mapError("insert positions of run "+run.ID, err)
	}
	if err := insertEquity(ctx, tx, run.ID, run.EquityCurve); err != nil {
		return mapError("insert equity curve of run "+run.ID, err)
	}
	if err := insertMetrics(ctx, tx, run.ID, &run.Metrics); err != nil {
		return mapError("insert metrics of run "+run.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return mapError("commit run "+run.ID, err)
	}
	r.logger.Debug(ctx, "Run saved", map[string]interface{}{
		"runID":     run.ID,
		"positions": len(run.Positions),
		"points":    len(run.EquityCurve),
	})
	return nil
}

func insertRun(ctx context.Context, tx *sql.Tx, run *domain.Run) error {
	const query = `
	INSERT INTO runs (id, label, symbol, interval, created_at, fee_rate, exit_fee_rate, slippage_rate,
	                  initial_equity, annualization_factor, same_bar_policy, entry_mode, slip_limit_exits,
	                  bar_count, signal_count, rejected_count, final_equity)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	p := run.Params
	_, err := tx.ExecContext(ctx, query,
		run.ID, run.Label, run.Symbol, run.Interval, run.CreatedAt.UTC(),
		p.FeeRate, p.ExitFeeRate, p.SlippageRate, p.InitialEquity, p.AnnualizationFactor,
		p.SameBarPolicy, p.EntryMode, p.SlipLimitExits,
		run.BarCount, run.SignalCount, run.RejectedCount, run.FinalEquity)
	return err
}

func insertPositions(ctx context.Context, tx *sql.Tx, runID string, positions []domain.Position) error {
	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO positions (run_id, id, signal_index, side, units, entry_time, entry_bar, raw_entry_price,
	                       entry_price, entry_fee, take_profit, stop_loss, expiration, status, exit_time,
	                       exit_bar, exit_reason, raw_exit_price, exit_price, exit_fee, pnl)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i := range positions {
		p := &positions[i]
		_, err := stmt.ExecContext(ctx,
			runID, p.ID, p.SignalIndex, p.Side, p.Units, p.EntryTime.UTC(), p.EntryBar, p.RawEntryPrice,
			p.EntryPrice, p.EntryFee, nullFloatPtr(p.TakeProfit), nullFloatPtr(p.StopLoss), nullTimePtr(p.Expiration),
			p.Status, nullTime(p.ExitTime), p.ExitBar, p.ExitReason, p.RawExitPrice, p.ExitPrice, p.ExitFee, p.PNL)
		if err != nil {
			return fmt.Errorf("position %d: %w", p.ID, err)
		}
	}
	return nil
}

func insertEquity(ctx context.Context, tx *sql.Tx, runID string, curve []domain.EquityPoint) error {
	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO equity_points (run_id, seq, ts, initial_equity, equity, realized_pnl, floating_pnl, long_pnl, short_pnl)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, pt := range curve {
		if _, err := stmt.ExecContext(ctx, runID, i, pt.Timestamp.UTC(), pt.InitialEquity, pt.Equity, pt.RealizedPNL,
			pt.FloatingPNL, pt.LongPNL, pt.ShortPNL); err != nil {
			return fmt.Errorf("equity point %d: %w", i, err)
		}
	}
	return nil
}

func insertMetrics(ctx context.Context, tx *sql.Tx, runID string, summary *domain.SummaryMetrics) error {
	const query = `
	INSERT INTO metrics (run_id, segment, trade_count, winning_trades, losing_trades, win_rate, average_pnl,
	                     total_pnl, total_fees, total_return, average_return, average_win, average_loss,
	                     profit_factor, expectancy, max_consecutive_wins, max_consecutive_losses,
	                     average_holding_ns, sharpe_ratio, max_drawdown, exit_reasons)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	for _, m := range []domain.TradeMetrics{summary.Overall, summary.Long, summary.Short} {
		reasons, err := json.Marshal(m.ExitReasons)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, query,
			runID, m.Segment, m.TradeCount, m.WinningTrades, m.LosingTrades, m.WinRate, m.AveragePNL,
			m.TotalPNL, m.TotalFees, m.TotalReturn, m.AverageReturn, m.AverageWin, m.AverageLoss,
			m.ProfitFactor, m.Expectancy, m.MaxConsecutiveWins, m.MaxConsecutiveLosses,
			int64(m.AverageHoldingTime), nullFloat(m.SharpeRatio), nullFloat(m.MaxDrawdown), string(reasons))
		if err != nil {
			return fmt.Errorf("segment %s: %w", m.Segment, err)
		}
	}

	for i, dd := range summary.Drawdowns {
		_, err := tx.ExecContext(ctx, `
		INSERT INTO drawdowns (run_id, seq, start_time, end_time, peak, trough, depth)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
			runID, i, dd.Start.UTC(), nullTime(dd.End), dd.Peak, dd.Trough, dd.Depth)
		if err != nil {
			return fmt.Errorf("drawdown %d: %w", i, err)
		}
	}
	return nil
}

const runColumns = `id, label, symbol, interval, created_at, fee_rate, exit_fee_rate, slippage_rate,
	       initial_equity, annualization_factor, same_bar_policy, entry_mode, slip_limit_exits,
	       bar_count, signal_count, rejected_count, final_equity`

// FindRun retrieves a run with its positions, equity curve and metrics.
func (r *Repository) FindRun(ctx context.Context, id string) (*domain.Run, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			r.logger.Debug(ctx, "Run not found by ID", map[string]interface{}{"runID": id})
			return nil, fmt.Errorf("run %s: %w", id, ports.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query run %s: %w: %w", id, ports.ErrQueryFailed, err)
	}

	if run.Positions, err = r.FindPositions(ctx, id); err != nil {
		return nil, err
	}
	if run.EquityCurve, err = r.FindEquityCurve(ctx, id); err != nil {
		return nil, err
	}
	if err := r.loadMetrics(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns retrieves run headers, newest first.
func (r *Repository) ListRuns(ctx context.Context, limit int) ([]*domain.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w: %w", ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	runs := make([]*domain.Run, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run during ListRuns: %w", err)
		}
		runs = append(runs, run)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating run rows: %w", err)
	}
	return runs, nil
}

// FindPositions retrieves the positions of a run ordered by ID.
func (r *Repository) FindPositions(ctx context.Context, runID string) ([]domain.Position, error) {
	const query = `
	SELECT id, signal_index, side, units, entry_time, entry_bar, raw_entry_price, entry_price, entry_fee,
	       take_profit, stop_loss, expiration, status, exit_time, exit_bar, exit_reason,
	       raw_exit_price, exit_price, exit_fee, pnl
	FROM positions
	WHERE run_id = ? ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions of run %s: %w: %w", runID, ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	positions := make([]domain.Position, 0)
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position during FindPositions: %w", err)
		}
		positions = append(positions, *p)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating position rows: %w", err)
	}
	return positions, nil
}

// FindEquityCurve retrieves the equity curve of a run in time order.
func (r *Repository) FindEquityCurve(ctx context.Context, runID string) ([]domain.EquityPoint, error) {
	const query = `
	SELECT ts, initial_equity, equity, realized_pnl, floating_pnl, long_pnl, short_pnl
	FROM equity_points
	WHERE run_id = ? ORDER BY seq`

	rows, err := r.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query equity of run %s: %w: %w", runID, ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	curve := make([]domain.EquityPoint, 0)
	for rows.Next() {
		var pt domain.EquityPoint
		if err := rows.Scan(&pt.Timestamp, &pt.InitialEquity, &pt.Equity, &pt.RealizedPNL, &pt.FloatingPNL, &pt.LongPNL, &pt.ShortPNL); err != nil {
			return nil, fmt.Errorf("failed to scan equity point: %w", err)
		}
		curve = append(curve, pt)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating equity rows: %w", err)
	}
	return curve, nil
}

func (r *Repository) loadMetrics(ctx context.Context, run *domain.Run) error {
	const query = `
	SELECT segment, trade_count, winning_trades, losing_trades, win_rate, average_pnl, total_pnl, total_fees,
	       total_return, average_return, average_win, average_loss, profit_factor, expectancy,
	       max_consecutive_wins, max_consecutive_losses, average_holding_ns, sharpe_ratio, max_drawdown,
	       exit_reasons
	FROM metrics
	WHERE run_id = ?`

	rows, err := r.db.QueryContext(ctx, query, run.ID)
	if err != nil {
		return fmt.Errorf("failed to query metrics of run %s: %w: %w", run.ID, ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	for rows.Next() {
		m, err := scanMetrics(rows)
		if err != nil {
			return fmt.Errorf("failed to scan metrics: %w", err)
		}
		switch m.Segment {
		case domain.SegmentLong:
			run.Metrics.Long = *m
		case domain.SegmentShort:
			run.Metrics.Short = *m
		default:
			run.Metrics.Overall = *m
		}
	}
	if err = rows.Err(); err != nil {
		return fmt.Errorf("error iterating metrics rows: %w", err)
	}

	ddRows, err := r.db.QueryContext(ctx,
		`SELECT start_time, end_time, peak, trough, depth FROM drawdowns WHERE run_id = ? ORDER BY seq`, run.ID)
	if err != nil {
		return fmt.Errorf("failed to query drawdowns of run %s: %w: %w", run.ID, ports.ErrQueryFailed, err)
	}
	defer ddRows.Close()

	run.Metrics.Drawdowns = make([]domain.Drawdown, 0)
	for ddRows.Next() {
		var dd domain.Drawdown
		var end sql.NullTime
		if err := ddRows.Scan(&dd.Start, &end, &dd.Peak, &dd.Trough, &dd.Depth); err != nil {
			return fmt.Errorf("failed to scan drawdown: %w", err)
		}
		if end.Valid {
			dd.End = end.Time
			dd.Recovered = true
		}
		run.Metrics.Drawdowns = append(run.Metrics.Drawdowns, dd)
	}
	return ddRows.Err()
}

// DeleteRun removes a run; children are removed by cascade.
func (r *Repository) DeleteRun(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run %s: %w: %w", id, ports.ErrDeleteFailed, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for delete run %s: %w", id, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("run %s not found for delete: %w", id, ports.ErrNotFound)
	}
	r.logger.Debug(ctx, "Run deleted", map[string]interface{}{"runID": id})
	return nil
}

// --- Helper Functions ---

// mapError translates driver errors into ports errors.
func mapError(op string, err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.ExtendedCode {
		case sqlite3.ErrConstraintPrimaryKey, sqlite3.ErrConstraintUnique:
			return fmt.Errorf("%s failed: %w: %w", op, ports.ErrDuplicateEntry, err)
		}
		if sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked {
			return fmt.Errorf("%s failed: %w: %w", op, ports.ErrTimeout, err)
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s failed: %w: %w", op, ports.ErrContextCanceled, err)
	}
	return fmt.Errorf("%s failed: %w: %w", op, ports.ErrUpdateFailed, err)
}

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(s scanner) (*domain.Run, error) {
	run := &domain.Run{}
	p := &run.Params
	err := s.Scan(
		&run.ID, &run.Label, &run.Symbol, &run.Interval, &run.CreatedAt,
		&p.FeeRate, &p.ExitFeeRate, &p.SlippageRate, &p.InitialEquity, &p.AnnualizationFactor,
		&p.SameBarPolicy, &p.EntryMode, &p.SlipLimitExits,
		&run.BarCount, &run.SignalCount, &run.RejectedCount, &run.FinalEquity)
	if err != nil {
		return nil, err // Handle sql.ErrNoRows in the caller
	}
	return run, nil
}

// scanPosition scans a row into a domain.Position struct.
func scanPosition(s scanner) (*domain.Position, error) {
	p := &domain.Position{}
	var tp, sl sql.NullFloat64
	var expiration, exitTime sql.NullTime
	var side, status, reason string
	err := s.Scan(
		&p.ID, &p.SignalIndex, &side, &p.Units, &p.EntryTime, &p.EntryBar, &p.RawEntryPrice, &p.EntryPrice,
		&p.EntryFee, &tp, &sl, &expiration, &status, &exitTime, &p.ExitBar, &reason,
		&p.RawExitPrice, &p.ExitPrice, &p.ExitFee, &p.PNL)
	if err != nil {
		return nil, err
	}
	p.Side = domain.Side(side)
	p.Status = domain.PositionStatus(status)
	p.ExitReason = domain.ExitReason(reason)
	if tp.Valid {
		p.TakeProfit = domain.Float(tp.Float64)
	}
	if sl.Valid {
		p.StopLoss = domain.Float(sl.Float64)
	}
	if expiration.Valid {
		p.Expiration = domain.Time(expiration.Time)
	}
	if exitTime.Valid {
		p.ExitTime = exitTime.Time
	}
	return p, nil
}

func scanMetrics(s scanner) (*domain.TradeMetrics, error) {
	m := &domain.TradeMetrics{}
	var segment, reasons string
	var holding int64
	var sharpe, drawdown sql.NullFloat64
	err := s.Scan(
		&segment, &m.TradeCount, &m.WinningTrades, &m.LosingTrades, &m.WinRate, &m.AveragePNL, &m.TotalPNL,
		&m.TotalFees, &m.TotalReturn, &m.AverageReturn, &m.AverageWin, &m.AverageLoss, &m.ProfitFactor,
		&m.Expectancy, &m.MaxConsecutiveWins, &m.MaxConsecutiveLosses, &holding, &sharpe, &drawdown, &reasons)
	if err != nil {
		return nil, err
	}
	m.Segment = domain.Segment(segment)
	m.AverageHoldingTime = time.Duration(holding)
	m.SharpeRatio = math.NaN()
	if sharpe.Valid {
		m.SharpeRatio = sharpe.Float64
	}
	m.MaxDrawdown = math.NaN()
	if drawdown.Valid {
		m.MaxDrawdown = drawdown.Float64
	}
	m.ExitReasons = make(map[domain.ExitReason]int)
	if err := json.Unmarshal([]byte(reasons), &m.ExitReasons); err != nil {
		return nil, fmt.Errorf("exit reasons: %w", err)
	}
	return m, nil
}

func nullFloat(v float64) sql.NullFloat64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func nullFloatPtr(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return nullFloat(*v)
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nullTimePtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return nullTime(*t)
}
