// Package clickhouse loads historical bars from a ClickHouse candle table.
package clickhouse

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"backtester/internal/domain"
	"backtester/internal/ports"

	clickhouse "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Config holds connection and selection settings for the candle table.
// The table layout is (symbol, interval, open_time_ms UInt64, open, high, low, close, volume Float64).
type Config struct {
	Addr        []string
	Database    string
	Username    string
	Password    string
	Table       string
	DialTimeout time.Duration

	Symbol   string
	Interval string
	Start    time.Time
	End      time.Time
}

func (c Config) validate() error {
	if len(c.Addr) == 0 {
		return fmt.Errorf("%w: clickhouse address is required", ports.ErrConfigurationError)
	}
	if !identifier.MatchString(c.Database) || !identifier.MatchString(c.Table) {
		return fmt.Errorf("%w: invalid clickhouse database or table name %q.%q", ports.ErrConfigurationError, c.Database, c.Table)
	}
	if c.Symbol == "" || c.Interval == "" {
		return fmt.Errorf("%w: symbol and interval are required", ports.ErrConfigurationError)
	}
	if !c.End.IsZero() && !c.End.After(c.Start) {
		return fmt.Errorf("%w: end %s is not after start %s", ports.ErrConfigurationError, c.End, c.Start)
	}
	return nil
}

type rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

type querier interface {
	Query(ctx context.Context, query string, args ...any) (rows, error)
}

type connQuerier struct {
	conn driver.Conn
}

func (q connQuerier) Query(ctx context.Context, query string, args ...any) (rows, error) {
	return q.conn.Query(ctx, query, args...)
}

// BarSource implements ports.BarSource over a ClickHouse candle table.
type BarSource struct {
	cfg    Config
	conn   driver.Conn
	db     querier
	logger ports.Logger
}

// Open connects to ClickHouse and verifies the connection with a ping.
func Open(ctx context.Context, cfg Config, logger ports.Logger) (*BarSource, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for clickhouse bar source")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: cfg.Addr,
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialTimeout: cfg.DialTimeout,
		Settings: clickhouse.Settings{
			"max_execution_time": uint64(60),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w: %w", ports.ErrConnectionFailed, err)
	}
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("clickhouse ping: %w: %w", ports.ErrConnectionFailed, err)
	}

	logger.Info(ctx, "Connected to ClickHouse", map[string]interface{}{
		"addr":     cfg.Addr,
		"database": cfg.Database,
		"table":    cfg.Table,
	})
	return &BarSource{cfg: cfg, conn: conn, db: connQuerier{conn: conn}, logger: logger}, nil
}

// Close releases the underlying connection.
func (s *BarSource) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// barQuery builds the selection; FINAL collapses rows a ReplacingMergeTree has not merged yet.
func barQuery(cfg Config) (string, []any) {
	q := fmt.Sprintf(`SELECT open_time_ms, open, high, low, close, volume
		FROM %s.%s FINAL
		WHERE symbol = ? AND interval = ? AND open_time_ms >= ?`, cfg.Database, cfg.Table)
	args := []any{cfg.Symbol, cfg.Interval, uint64(cfg.Start.UnixMilli())}
	if !cfg.End.IsZero() {
		q += ` AND open_time_ms < ?`
		args = append(args, uint64(cfg.End.UnixMilli()))
	}
	q += ` ORDER BY open_time_ms`
	return q, args
}

// LoadBars reads the configured window in time order.
func (s *BarSource) LoadBars(ctx context.Context) ([]domain.Bar, error) {
	query, args := barQuery(s.cfg)
	rs, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("clickhouse query bars: %w: %w", ports.ErrQueryFailed, err)
	}
	defer rs.Close()

	var bars []domain.Bar
	for rs.Next() {
		var (
			openTimeMs                   uint64
			open, high, low, cls, volume float64
		)
		if err := rs.Scan(&openTimeMs, &open, &high, &low, &cls, &volume); err != nil {
			return nil, fmt.Errorf("clickhouse scan bar: %w: %w", ports.ErrMalformedData, err)
		}
		bars = append(bars, domain.Bar{
			Timestamp: time.UnixMilli(int64(openTimeMs)).UTC(),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     cls,
			Volume:    volume,
		})
	}
	if err := rs.Err(); err != nil {
		return nil, fmt.Errorf("clickhouse iterate bars: %w: %w", ports.ErrQueryFailed, err)
	}

	s.logger.Debug(ctx, "Loaded bars from ClickHouse", map[string]interface{}{
		"symbol": s.cfg.Symbol, "interval": s.cfg.Interval, "count": len(bars),
	})
	return bars, nil
}
