package utils

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"backtester/internal/domain"
	"backtester/internal/ports"
)

const timeLayout = time.RFC3339Nano

// CSVBarSource reads bars from a CSV file each time they are requested.
type CSVBarSource struct {
	Path string
}

// LoadBars implements ports.BarSource.
func (s CSVBarSource) LoadBars(ctx context.Context) ([]domain.Bar, error) {
	return ReadBarsFromCSV(s.Path)
}

// CSVSignalSource reads signals from a CSV file each time they are requested.
type CSVSignalSource struct {
	Path string
}

// LoadSignals implements ports.SignalSource.
func (s CSVSignalSource) LoadSignals(ctx context.Context) ([]domain.Signal, error) {
	return ReadSignalsFromCSV(s.Path)
}

// WriteBarsToCSV writes bars with a timestamp,open,high,low,close,volume header.
func WriteBarsToCSV(bars []domain.Bar, filename string) error {
	return writeCSV(filename, []string{"timestamp", "open", "high", "low", "close", "volume"}, len(bars), func(i int) []string {
		b := bars[i]
		return []string{
			b.Timestamp.UTC().Format(timeLayout),
			formatF(b.Open), formatF(b.High), formatF(b.Low), formatF(b.Close), formatF(b.Volume),
		}
	})
}

// ReadBarsFromCSV reads bars. The time column may be named timestamp, open_time,
// time or ts and hold RFC3339 text or unix seconds/milliseconds.
func ReadBarsFromCSV(filename string) ([]domain.Bar, error) {
	t, err := readTable(filename)
	if err != nil {
		return nil, err
	}

	tsCol := t.column("timestamp", "open_time", "time", "ts")
	cols := []int{t.column("open"), t.column("high"), t.column("low"), t.column("close")}
	if tsCol < 0 || cols[0] < 0 || cols[1] < 0 || cols[2] < 0 || cols[3] < 0 {
		return nil, fmt.Errorf("%s: header needs timestamp,open,high,low,close: %w", filename, ports.ErrMalformedData)
	}
	volCol := t.column("volume")

	bars := make([]domain.Bar, 0, len(t.rows))
	for i, row := range t.rows {
		line := i + 2
		var b domain.Bar
		if b.Timestamp, err = parseTime(t.get(row, tsCol)); err != nil {
			return nil, t.fail(line, "timestamp", err)
		}
		prices := []*float64{&b.Open, &b.High, &b.Low, &b.Close}
		for j, col := range cols {
			if *prices[j], err = strconv.ParseFloat(t.get(row, col), 64); err != nil {
				return nil, t.fail(line, t.header[col], err)
			}
		}
		if v := t.get(row, volCol); v != "" {
			if b.Volume, err = strconv.ParseFloat(v, 64); err != nil {
				return nil, t.fail(line, "volume", err)
			}
		}
		bars = append(bars, b)
	}
	return bars, nil
}

var signalHeader = []string{
	"timestamp", "side", "units", "entry_price", "take_profit", "stop_loss", "expiration",
	"take_profit_pct", "stop_loss_pct",
}

// WriteSignalsToCSV writes signals; absent optional fields are left empty.
func WriteSignalsToCSV(signals []domain.Signal, filename string) error {
	return writeCSV(filename, signalHeader, len(signals), func(i int) []string {
		s := signals[i]
		return []string{
			s.Timestamp.UTC().Format(timeLayout), string(s.Side), formatF(s.Units),
			formatPtr(s.EntryPriceHint), formatPtr(s.TakeProfit), formatPtr(s.StopLoss),
			formatTimePtr(s.Expiration), formatPtr(s.TakeProfitPct), formatPtr(s.StopLossPct),
		}
	})
}

// ReadSignalsFromCSV reads signals. Only timestamp, side and units are required columns.
func ReadSignalsFromCSV(filename string) ([]domain.Signal, error) {
	t, err := readTable(filename)
	if err != nil {
		return nil, err
	}

	cols := make(map[string]int, len(signalHeader))
	for _, name := range signalHeader {
		cols[name] = t.column(name)
	}
	if cols["timestamp"] < 0 || cols["side"] < 0 || cols["units"] < 0 {
		return nil, fmt.Errorf("%s: header needs timestamp,side,units: %w", filename, ports.ErrMalformedData)
	}

	signals := make([]domain.Signal, 0, len(t.rows))
	for i, row := range t.rows {
		line := i + 2
		var s domain.Signal
		if s.Timestamp, err = parseTime(t.get(row, cols["timestamp"])); err != nil {
			return nil, t.fail(line, "timestamp", err)
		}
		if s.Side, err = domain.ParseSide(t.get(row, cols["side"])); err != nil {
			return nil, t.fail(line, "side", err)
		}
		if s.Units, err = strconv.ParseFloat(t.get(row, cols["units"]), 64); err != nil {
			return nil, t.fail(line, "units", err)
		}

		optional := []struct {
			name string
			dst  **float64
		}{
			{"entry_price", &s.EntryPriceHint},
			{"take_profit", &s.TakeProfit},
			{"stop_loss", &s.StopLoss},
			{"take_profit_pct", &s.TakeProfitPct},
			{"stop_loss_pct", &s.StopLossPct},
		}
		for _, o := range optional {
			if *o.dst, err = parseOptionalFloat(t.get(row, cols[o.name])); err != nil {
				return nil, t.fail(line, o.name, err)
			}
		}
		if v := t.get(row, cols["expiration"]); v != "" {
			exp, err := parseTime(v)
			if err != nil {
				return nil, t.fail(line, "expiration", err)
			}
			s.Expiration = &exp
		}
		signals = append(signals, s)
	}
	return signals, nil
}

var positionHeader = []string{
	"id", "signal_index", "side", "units", "entry_time", "raw_entry_price", "entry_price", "entry_fee",
	"take_profit", "stop_loss", "expiration", "exit_time", "exit_reason", "raw_exit_price", "exit_price",
	"exit_fee", "pnl", "real_return", "absolute_return", "slippage_entry", "slippage_exit",
}

// WritePositionsToCSV writes closed positions one per row.
func WritePositionsToCSV(positions []domain.Position, filename string) error {
	return writeCSV(filename, positionHeader, len(positions), func(i int) []string {
		p := &positions[i]
		slipEntry, slipExit := p.Slippage()
		return []string{
			strconv.FormatInt(p.ID, 10), strconv.Itoa(p.SignalIndex), string(p.Side), formatF(p.Units),
			p.EntryTime.UTC().Format(timeLayout), formatF(p.RawEntryPrice), formatF(p.EntryPrice), formatF(p.EntryFee),
			formatPtr(p.TakeProfit), formatPtr(p.StopLoss), formatTimePtr(p.Expiration),
			formatTime(p.ExitTime), string(p.ExitReason), formatF(p.RawExitPrice), formatF(p.ExitPrice),
			formatF(p.ExitFee), formatF(p.PNL), formatF(p.RealReturn()), formatF(p.AbsoluteReturn()),
			formatF(slipEntry), formatF(slipExit),
		}
	})
}

// ReadPositionsFromCSV reads a file written by WritePositionsToCSV.
func ReadPositionsFromCSV(filename string) ([]domain.Position, error) {
	t, err := readTable(filename)
	if err != nil {
		return nil, err
	}
	for _, name := range []string{"id", "side", "units", "entry_time", "entry_price", "exit_time", "exit_reason", "exit_price", "pnl"} {
		if t.column(name) < 0 {
			return nil, fmt.Errorf("%s: missing column %s: %w", filename, name, ports.ErrMalformedData)
		}
	}

	positions := make([]domain.Position, 0, len(t.rows))
	for i, row := range t.rows {
		line := i + 2
		get := func(name string) string { return t.get(row, t.column(name)) }

		p := domain.Position{Status: domain.StatusClosed, ExitReason: domain.ExitReason(get("exit_reason"))}
		if p.ID, err = strconv.ParseInt(get("id"), 10, 64); err != nil {
			return nil, t.fail(line, "id", err)
		}
		if v := get("signal_index"); v != "" {
			if p.SignalIndex, err = strconv.Atoi(v); err != nil {
				return nil, t.fail(line, "signal_index", err)
			}
		}
		if p.Side, err = domain.ParseSide(get("side")); err != nil {
			return nil, t.fail(line, "side", err)
		}
		if p.EntryTime, err = parseTime(get("entry_time")); err != nil {
			return nil, t.fail(line, "entry_time", err)
		}
		if p.ExitTime, err = parseTime(get("exit_time")); err != nil {
			return nil, t.fail(line, "exit_time", err)
		}

		required := map[string]*float64{
			"units": &p.Units, "entry_price": &p.EntryPrice, "exit_price": &p.ExitPrice, "pnl": &p.PNL,
		}
		for name, dst := range required {
			if *dst, err = strconv.ParseFloat(get(name), 64); err != nil {
				return nil, t.fail(line, name, err)
			}
		}
		optional := map[string]*float64{
			"raw_entry_price": &p.RawEntryPrice, "entry_fee": &p.EntryFee,
			"raw_exit_price": &p.RawExitPrice, "exit_fee": &p.ExitFee,
		}
		for name, dst := range optional {
			v, err := parseOptionalFloat(get(name))
			if err != nil {
				return nil, t.fail(line, name, err)
			}
			if v != nil {
				*dst = *v
			}
		}
		if p.TakeProfit, err = parseOptionalFloat(get("take_profit")); err != nil {
			return nil, t.fail(line, "take_profit", err)
		}
		if p.StopLoss, err = parseOptionalFloat(get("stop_loss")); err != nil {
			return nil, t.fail(line, "stop_loss", err)
		}
		positions = append(positions, p)
	}
	return positions, nil
}

// WriteEquityCurveToCSV writes the equity curve one point per row.
func WriteEquityCurveToCSV(curve []domain.EquityPoint, filename string) error {
	header := []string{"timestamp", "initial_equity", "equity", "realized_pnl", "floating_pnl", "long_pnl", "short_pnl"}
	return writeCSV(filename, header, len(curve), func(i int) []string {
		p := curve[i]
		return []string{
			p.Timestamp.UTC().Format(timeLayout), formatF(p.InitialEquity), formatF(p.Equity), formatF(p.RealizedPNL),
			formatF(p.FloatingPNL), formatF(p.LongPNL), formatF(p.ShortPNL),
		}
	})
}

// ReadEquityCurveFromCSV reads a curve written by WriteEquityCurveToCSV.
func ReadEquityCurveFromCSV(filename string) ([]domain.EquityPoint, error) {
	t, err := readTable(filename)
	if err != nil {
		return nil, err
	}
	cols := []string{"initial_equity", "equity", "realized_pnl", "floating_pnl", "long_pnl", "short_pnl"}
	for _, name := range append([]string{"timestamp"}, cols...) {
		if t.column(name) < 0 {
			return nil, fmt.Errorf("%s: missing column %s: %w", filename, name, ports.ErrMalformedData)
		}
	}

	curve := make([]domain.EquityPoint, 0, len(t.rows))
	for i, row := range t.rows {
		line := i + 2
		var p domain.EquityPoint
		if p.Timestamp, err = parseTime(t.get(row, t.column("timestamp"))); err != nil {
			return nil, t.fail(line, "timestamp", err)
		}
		dst := []*float64{&p.InitialEquity, &p.Equity, &p.RealizedPNL, &p.FloatingPNL, &p.LongPNL, &p.ShortPNL}
		for j, name := range cols {
			if *dst[j], err = strconv.ParseFloat(t.get(row, t.column(name)), 64); err != nil {
				return nil, t.fail(line, name, err)
			}
		}
		curve = append(curve, p)
	}
	return curve, nil
}

// WriteMetricsToCSV writes one row per segment. Undefined statistics are left empty.
func WriteMetricsToCSV(summary domain.SummaryMetrics, filename string) error {
	header := []string{
		"segment", "trade_count", "win_rate", "average_pnl", "total_pnl", "total_fees", "total_return",
		"average_return", "profit_factor", "expectancy", "sharpe_ratio", "max_drawdown",
	}
	segments := []domain.TradeMetrics{summary.Overall, summary.Long, summary.Short}
	return writeCSV(filename, header, len(segments), func(i int) []string {
		m := segments[i]
		return []string{
			string(m.Segment), strconv.Itoa(m.TradeCount), formatF(m.WinRate), formatF(m.AveragePNL),
			formatF(m.TotalPNL), formatF(m.TotalFees), formatF(m.TotalReturn), formatF(m.AverageReturn),
			formatF(m.ProfitFactor), formatF(m.Expectancy), formatStat(m.SharpeRatio), formatStat(m.MaxDrawdown),
		}
	})
}

func writeCSV(filename string, header []string, n int, row func(int) []string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(header); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		if err := writer.Write(row(i)); err != nil {
			return err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return err
	}
	return file.Close()
}

type table struct {
	name   string
	header []string
	index  map[string]int
	rows   [][]string
}

func readTable(filename string) (*table, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%s: empty file: %w", filename, ports.ErrMalformedData)
		}
		return nil, fmt.Errorf("%s: %w: %w", filename, ports.ErrMalformedData, err)
	}

	t := &table{name: filename, header: header, index: make(map[string]int, len(header))}
	for i, h := range header {
		t.index[strings.ToLower(strings.TrimSpace(h))] = i
	}

	t.rows, err = reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", filename, ports.ErrMalformedData, err)
	}
	return t, nil
}

func (t *table) column(names ...string) int {
	for _, n := range names {
		if i, ok := t.index[n]; ok {
			return i
		}
	}
	return -1
}

func (t *table) get(row []string, col int) string {
	if col < 0 || col >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[col])
}

func (t *table) fail(line int, column string, err error) error {
	return fmt.Errorf("%s line %d column %s: %w: %w", t.name, line, column, ports.ErrMalformedData, err)
}

// parseTime accepts RFC3339, "2006-01-02 15:04:05", dates, and unix seconds or milliseconds.
func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, fmt.Errorf("empty time")
	}
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		if n > 1e12 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", v)
}

func parseOptionalFloat(v string) (*float64, error) {
	if v == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func formatF(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }

func formatStat(f float64) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return ""
	}
	return formatF(f)
}

func formatPtr(f *float64) string {
	if f == nil {
		return ""
	}
	return formatF(*f)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
