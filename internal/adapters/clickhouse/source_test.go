package clickhouse

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"backtester/internal/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopLogger struct{}

func (nopLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (nopLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

type row struct {
	ts                             uint64
	open, high, low, close, volume float64
}

type fakeRows struct {
	data    []row
	pos     int
	scanErr error
	iterErr error
	closed  bool
}

func (r *fakeRows) Next() bool {
	if r.pos >= len(r.data) {
		return false
	}
	r.pos++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	if r.scanErr != nil {
		return r.scanErr
	}
	cur := r.data[r.pos-1]
	*dest[0].(*uint64) = cur.ts
	for i, v := range []float64{cur.open, cur.high, cur.low, cur.close, cur.volume} {
		*dest[i+1].(*float64) = v
	}
	return nil
}

func (r *fakeRows) Err() error   { return r.iterErr }
func (r *fakeRows) Close() error { r.closed = true; return nil }

type fakeQuerier struct {
	rows     *fakeRows
	err      error
	gotQuery string
	gotArgs  []any
}

func (q *fakeQuerier) Query(ctx context.Context, query string, args ...any) (rows, error) {
	q.gotQuery = query
	q.gotArgs = args
	if q.err != nil {
		return nil, q.err
	}
	return q.rows, nil
}

var start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func testConfig() Config {
	return Config{
		Addr:     []string{"localhost:9000"},
		Database: "backtest",
		Table:    "candles",
		Symbol:   "BTCUSDT",
		Interval: "1h",
		Start:    start,
		End:      start.Add(24 * time.Hour),
	}
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, testConfig().validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no address", func(c *Config) { c.Addr = nil }},
		{"bad table", func(c *Config) { c.Table = "candles; DROP TABLE x" }},
		{"bad database", func(c *Config) { c.Database = "" }},
		{"no symbol", func(c *Config) { c.Symbol = "" }},
		{"end before start", func(c *Config) { c.End = start.Add(-time.Hour) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.validate(), ports.ErrConfigurationError)
		})
	}
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	_, err := Open(context.Background(), Config{}, nopLogger{})
	assert.ErrorIs(t, err, ports.ErrConfigurationError)

	_, err = Open(context.Background(), testConfig(), nil)
	assert.Error(t, err)
}

func TestBarQuery(t *testing.T) {
	q, args := barQuery(testConfig())
	assert.Contains(t, q, "FROM backtest.candles FINAL")
	assert.Contains(t, q, "open_time_ms < ?")
	assert.True(t, strings.HasSuffix(q, "ORDER BY open_time_ms"))
	require.Len(t, args, 4)
	assert.Equal(t, "BTCUSDT", args[0])
	assert.Equal(t, uint64(start.UnixMilli()), args[2])

	cfg := testConfig()
	cfg.End = time.Time{}
	q, args = barQuery(cfg)
	assert.NotContains(t, q, "open_time_ms < ?")
	assert.Len(t, args, 3)
}

func TestLoadBars(t *testing.T) {
	rs := &fakeRows{data: []row{
		{uint64(start.UnixMilli()), 100, 101, 99, 100.5, 10},
		{uint64(start.Add(time.Hour).UnixMilli()), 100.5, 102, 100, 101, 12},
	}}
	q := &fakeQuerier{rows: rs}
	src := &BarSource{cfg: testConfig(), db: q, logger: nopLogger{}}

	bars, err := src.LoadBars(context.Background())
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.True(t, start.Equal(bars[0].Timestamp))
	assert.Equal(t, 101.0, bars[1].Close)
	assert.Equal(t, 12.0, bars[1].Volume)
	assert.True(t, rs.closed)
	assert.Contains(t, q.gotQuery, "symbol = ?")
}

func TestLoadBarsErrors(t *testing.T) {
	src := &BarSource{cfg: testConfig(), db: &fakeQuerier{err: errors.New("down")}, logger: nopLogger{}}
	_, err := src.LoadBars(context.Background())
	assert.ErrorIs(t, err, ports.ErrQueryFailed)

	src.db = &fakeQuerier{rows: &fakeRows{data: []row{{}}, scanErr: errors.New("type mismatch")}}
	_, err = src.LoadBars(context.Background())
	assert.ErrorIs(t, err, ports.ErrMalformedData)

	src.db = &fakeQuerier{rows: &fakeRows{iterErr: errors.New("broken stream")}}
	_, err = src.LoadBars(context.Background())
	assert.ErrorIs(t, err, ports.ErrQueryFailed)
}

func TestCloseWithoutConnection(t *testing.T) {
	assert.NoError(t, (&BarSource{}).Close())
}
