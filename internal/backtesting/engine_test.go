package backtesting

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"
	"time"

	"backtester/internal/domain"
)

var start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func ts(i int) time.Time {
	return start.Add(time.Duration(i) * time.Hour)
}

func bar(i int, open, high, low, close float64) domain.Bar {
	return domain.Bar{Timestamp: ts(i), Open: open, High: high, Low: low, Close: close}
}

func flat(i int, price float64) domain.Bar {
	return bar(i, price, price, price, price)
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func TestSimulateTakeProfitScenario(t *testing.T) {
	bars := []domain.Bar{
		flat(0, 100),
		bar(1, 100, 111, 99, 108),
	}
	signals := []domain.Signal{{
		Timestamp:      ts(0),
		Side:           domain.Long,
		Units:          10,
		EntryPriceHint: domain.Float(100),
		TakeProfit:     domain.Float(110),
		StopLoss:       domain.Float(95),
	}}
	cfg := Config{FeeRate: 0.001, SlippageRate: 0.0005, InitialEquity: 10000}

	result, err := Simulate(context.Background(), bars, signals, cfg)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(result.ClosedPositions) != 1 {
		t.Fatalf("Expected 1 closed position, got %d", len(result.ClosedPositions))
	}

	p := result.ClosedPositions[0]
	if p.ID != 1 {
		t.Errorf("Expected position ID 1, got %d", p.ID)
	}
	if !approx(p.EntryPrice, 100.05) {
		t.Errorf("Expected entry fill 100.05, got %f", p.EntryPrice)
	}
	if p.ExitPrice != 110 {
		t.Errorf("Expected exit fill exactly 110, got %f", p.ExitPrice)
	}
	if p.ExitReason != domain.ExitReasonTakeProfit {
		t.Errorf("Expected exit reason TP, got %s", p.ExitReason)
	}
	if !p.ExitTime.Equal(ts(1)) {
		t.Errorf("Expected exit at %s, got %s", ts(1), p.ExitTime)
	}
	if !approx(p.FeesPaid(), 2.1005) {
		t.Errorf("Expected fees 2.1005, got %f", p.FeesPaid())
	}
	if !approx(p.PNL, 97.3995) {
		t.Errorf("Expected realized PnL 97.3995, got %f", p.PNL)
	}

	if len(result.EquityCurve) != 2 {
		t.Fatalf("Expected 2 equity points, got %d", len(result.EquityCurve))
	}
	if !approx(result.EquityCurve[0].Equity, 10000-1.0005-0.5) {
		t.Errorf("Expected equity at t0 %f, got %f", 10000-1.0005-0.5, result.EquityCurve[0].Equity)
	}
	if !approx(result.EquityCurve[1].Equity, 10097.3995) {
		t.Errorf("Expected equity at t1 10097.3995, got %f", result.EquityCurve[1].Equity)
	}
	if result.Snapshots[1].TotalExposure() != 0 {
		t.Errorf("Expected no exposure after exit, got %f", result.Snapshots[1].TotalExposure())
	}
}

func TestSimulateSameBarConflict(t *testing.T) {
	tests := []struct {
		name       string
		side       domain.Side
		tp, sl     float64
		entry      *domain.Bar // Defaults to a flat bar at 100
		conflict   domain.Bar
		policy     SameBarPolicy
		mode       EntryMode
		wantReason domain.ExitReason
		wantPNL    float64
		wantBar    int // Defaults to 1
	}{
		{
			name: "long stop loss first", side: domain.Long, tp: 110, sl: 95,
			conflict: bar(1, 100, 112, 94, 100), policy: StopLossFirst,
			wantReason: domain.ExitReasonStopLoss, wantPNL: -50,
		},
		{
			name: "long take profit first", side: domain.Long, tp: 110, sl: 95,
			conflict: bar(1, 100, 112, 94, 100), policy: TakeProfitFirst,
			wantReason: domain.ExitReasonTakeProfit, wantPNL: 100,
		},
		{
			name: "long open nearer low", side: domain.Long, tp: 110, sl: 95,
			conflict: bar(1, 100, 112, 94, 100), policy: OpenProximity,
			wantReason: domain.ExitReasonStopLoss, wantPNL: -50,
		},
		{
			name: "long open nearer high", side: domain.Long, tp: 110, sl: 95,
			conflict: bar(1, 108, 111, 94, 100), policy: OpenProximity,
			wantReason: domain.ExitReasonTakeProfit, wantPNL: 100,
		},
		{
			name: "short stop loss first", side: domain.Short, tp: 90, sl: 105,
			conflict: bar(1, 100, 106, 89, 100), policy: StopLossFirst,
			wantReason: domain.ExitReasonStopLoss, wantPNL: -50,
		},
		{
			name: "short open nearer low", side: domain.Short, tp: 90, sl: 105,
			conflict: bar(1, 92, 106, 89, 100), policy: OpenProximity,
			wantReason: domain.ExitReasonTakeProfit, wantPNL: 100,
		},
		{
			name: "close fill ignores entry bar range", side: domain.Long, tp: 110, sl: 95,
			entry: &domain.Bar{Timestamp: ts(0), Open: 100, High: 112, Low: 94, Close: 100},
			conflict: flat(1, 100), policy: StopLossFirst,
			wantReason: domain.ExitReasonEndOfData, wantPNL: 0, wantBar: 2,
		},
		{
			name: "short close fill ignores entry bar range", side: domain.Short, tp: 90, sl: 105,
			entry: &domain.Bar{Timestamp: ts(0), Open: 100, High: 106, Low: 89, Close: 100},
			conflict: flat(1, 100), policy: TakeProfitFirst,
			wantReason: domain.ExitReasonEndOfData, wantPNL: 0, wantBar: 2,
		},
		{
			name: "open fill sees entry bar range", side: domain.Long, tp: 110, sl: 95,
			conflict: bar(1, 100, 112, 94, 100), policy: StopLossFirst, mode: EntryNextOpen,
			wantReason: domain.ExitReasonStopLoss, wantPNL: -50,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := flat(0, 100)
			if tt.entry != nil {
				entry = *tt.entry
			}
			wantBar := 1
			if tt.wantBar != 0 {
				wantBar = tt.wantBar
			}
			bars := []domain.Bar{entry, tt.conflict, flat(2, 100)}
			signals := []domain.Signal{{
				Timestamp:  ts(0),
				Side:       tt.side,
				Units:      10,
				TakeProfit: domain.Float(tt.tp),
				StopLoss:   domain.Float(tt.sl),
			}}
			cfg := DefaultConfig()
			cfg.SameBarPolicy = tt.policy
			cfg.EntryMode = tt.mode

			result, err := Simulate(context.Background(), bars, signals, cfg)
			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			p := result.ClosedPositions[0]
			if p.ExitReason != tt.wantReason {
				t.Errorf("Expected exit reason %s, got %s", tt.wantReason, p.ExitReason)
			}
			if !approx(p.PNL, tt.wantPNL) {
				t.Errorf("Expected PnL %f, got %f", tt.wantPNL, p.PNL)
			}
			if p.ExitBar != wantBar {
				t.Errorf("Expected exit on bar %d, got %d", wantBar, p.ExitBar)
			}
		})
	}
}

func TestSimulateExpirationBeforeLevels(t *testing.T) {
	bars := []domain.Bar{flat(0, 100), bar(1, 100, 110, 99, 102)}
	signals := []domain.Signal{{
		Timestamp:  ts(0),
		Side:       domain.Long,
		Units:      1,
		TakeProfit: domain.Float(105),
		Expiration: domain.Time(ts(1)),
	}}
	cfg := Config{SlippageRate: 0.01, InitialEquity: 1000}

	result, err := Simulate(context.Background(), bars, signals, cfg)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	p := result.ClosedPositions[0]
	if p.ExitReason != domain.ExitReasonExpiration {
		t.Fatalf("Expected exit reason EXP, got %s", p.ExitReason)
	}
	if p.RawExitPrice != 102 {
		t.Errorf("Expected raw exit at close 102, got %f", p.RawExitPrice)
	}
	if !approx(p.EntryPrice, 101) || !approx(p.ExitPrice, 100.98) {
		t.Errorf("Expected fills 101 / 100.98, got %f / %f", p.EntryPrice, p.ExitPrice)
	}
	if !approx(p.PNL, -0.02) {
		t.Errorf("Expected PnL -0.02, got %f", p.PNL)
	}
	if !approx(result.Snapshots[1].RealizedPNLDelta, p.PNL) {
		t.Errorf("Expected realized delta %f, got %f", p.PNL, result.Snapshots[1].RealizedPNLDelta)
	}
}

func TestSimulateEndOfData(t *testing.T) {
	bars := []domain.Bar{flat(0, 100), flat(1, 104), flat(2, 107)}
	signals := []domain.Signal{{Timestamp: ts(0), Side: domain.Long, Units: 10}}

	result, err := Simulate(context.Background(), bars, signals, DefaultConfig())
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	p := result.ClosedPositions[0]
	if p.ExitReason != domain.ExitReasonEndOfData {
		t.Errorf("Expected exit reason EOD, got %s", p.ExitReason)
	}
	if p.ExitPrice != 107 {
		t.Errorf("Expected exit at last close 107, got %f", p.ExitPrice)
	}
	if !p.ExitTime.Equal(ts(2)) {
		t.Errorf("Expected exit at last bar, got %s", p.ExitTime)
	}
	if p.PNL != 70 {
		t.Errorf("Expected PnL 70, got %f", p.PNL)
	}

	last := result.EquityCurve[len(result.EquityCurve)-1]
	if last.Equity != 10070 || last.FloatingPNL != 0 {
		t.Errorf("Expected flat final equity 10070, got %f (floating %f)", last.Equity, last.FloatingPNL)
	}
	if result.EquityCurve[1].Equity != 10040 {
		t.Errorf("Expected marked equity 10040 at bar 1, got %f", result.EquityCurve[1].Equity)
	}
}

func TestSimulateShortStopLoss(t *testing.T) {
	bars := []domain.Bar{flat(0, 100), bar(1, 100, 104, 98, 101)}
	signals := []domain.Signal{{
		Timestamp:  ts(0),
		Side:       domain.Short,
		Units:      2,
		TakeProfit: domain.Float(90),
		StopLoss:   domain.Float(103),
	}}
	cfg := Config{FeeRate: 0.001, InitialEquity: 10000}

	result, err := Simulate(context.Background(), bars, signals, cfg)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	p := result.ClosedPositions[0]
	if p.ExitReason != domain.ExitReasonStopLoss || p.ExitPrice != 103 {
		t.Errorf("Expected SL exit at 103, got %s at %f", p.ExitReason, p.ExitPrice)
	}
	if !approx(p.PNL, -6.406) {
		t.Errorf("Expected PnL -6.406, got %f", p.PNL)
	}
	if !approx(p.PNL, (p.EntryPrice-p.ExitPrice)*p.Units-p.FeesPaid()) {
		t.Errorf("PnL %f inconsistent with fills and fees", p.PNL)
	}
}

func TestSimulateExposure(t *testing.T) {
	bars := []domain.Bar{
		bar(0, 100, 101, 99, 100),
		bar(1, 100, 101, 99, 100),
		bar(2, 100, 121, 99, 110),
		bar(3, 100, 101, 99, 100),
	}
	signals := []domain.Signal{
		{Timestamp: ts(0), Side: domain.Long, Units: 1, TakeProfit: domain.Float(120)},
		{Timestamp: ts(1), Side: domain.Long, Units: 2},
		{Timestamp: ts(1), Side: domain.Short, Units: 3, StopLoss: domain.Float(150)},
	}

	result, err := Simulate(context.Background(), bars, signals, DefaultConfig())
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	wantLong := []float64{1, 3, 2, 0}
	wantShort := []float64{0, 3, 3, 0}
	for i, snap := range result.Snapshots {
		if snap.LongExposure != wantLong[i] || snap.ShortExposure != wantShort[i] {
			t.Errorf("Bar %d: expected exposure %f/%f, got %f/%f",
				i, wantLong[i], wantShort[i], snap.LongExposure, snap.ShortExposure)
		}
	}

	if result.Snapshots[2].FloatingPNL != -10 {
		t.Errorf("Expected floating -10 at bar 2, got %f", result.Snapshots[2].FloatingPNL)
	}
	if result.EquityCurve[2].Equity != 10010 {
		t.Errorf("Expected equity 10010 at bar 2, got %f", result.EquityCurve[2].Equity)
	}
	if result.EquityCurve[2].LongPNL != 40 || result.EquityCurve[2].ShortPNL != -30 {
		t.Errorf("Expected segment PnL 40/-30, got %f/%f", result.EquityCurve[2].LongPNL, result.EquityCurve[2].ShortPNL)
	}

	var deltas, realized float64
	for _, s := range result.Snapshots {
		deltas += s.RealizedPNLDelta
	}
	for _, p := range result.ClosedPositions {
		realized += p.PNL
		if p.IsOpen() {
			t.Errorf("Position %d still open after end of data", p.ID)
		}
	}
	if !approx(deltas, realized) {
		t.Errorf("Expected realized deltas %f to sum to realized PnL %f", deltas, realized)
	}
	if !approx(result.FinalEquity(10000), 10000+realized) {
		t.Errorf("Expected final equity %f, got %f", 10000+realized, result.FinalEquity(10000))
	}
}

func TestSimulateInvalidSignals(t *testing.T) {
	bars := []domain.Bar{flat(0, 100), flat(1, 101)}
	signals := []domain.Signal{
		{Timestamp: ts(0), Side: domain.Long, Units: 0},
		{Timestamp: ts(0), Side: domain.Long, Units: 1, TakeProfit: domain.Float(90)},
		{Timestamp: ts(0), Side: domain.Long, Units: 1},
		{Timestamp: ts(5), Side: domain.Long, Units: 1},
	}

	t.Run("abort", func(t *testing.T) {
		result, err := Simulate(context.Background(), bars, signals, DefaultConfig())
		if !errors.Is(err, domain.ErrInvalidSignal) {
			t.Fatalf("Expected ErrInvalidSignal, got %v", err)
		}
		if result != nil {
			t.Error("Expected nil result on abort")
		}
	})

	t.Run("skip", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.InvalidSignals = SkipInvalid
		result, err := Simulate(context.Background(), bars, signals, cfg)
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if len(result.ClosedPositions) != 1 {
			t.Fatalf("Expected 1 position, got %d", len(result.ClosedPositions))
		}
		if result.ClosedPositions[0].SignalIndex != 2 {
			t.Errorf("Expected position from signal 2, got %d", result.ClosedPositions[0].SignalIndex)
		}
		if len(result.Rejections) != 3 {
			t.Fatalf("Expected 3 rejections, got %d", len(result.Rejections))
		}
		for i, want := range []error{domain.ErrInvalidSignal, domain.ErrInvalidSignal, domain.ErrNoBarForSignal} {
			if !errors.Is(result.Rejections[i].Err, want) {
				t.Errorf("Rejection %d: expected %v, got %v", i, want, result.Rejections[i].Err)
			}
		}
	})
}

func TestSimulateOrderingAndConfigErrors(t *testing.T) {
	nan := math.NaN()
	tests := []struct {
		name    string
		bars    []domain.Bar
		signals []domain.Signal
		cfg     Config
		wantErr error
	}{
		{
			name:    "duplicate bar time",
			bars:    []domain.Bar{flat(0, 100), flat(0, 101)},
			cfg:     DefaultConfig(),
			wantErr: domain.ErrUnorderedBars,
		},
		{
			name:    "decreasing bars",
			bars:    []domain.Bar{flat(1, 100), flat(0, 101)},
			cfg:     DefaultConfig(),
			wantErr: domain.ErrUnorderedBars,
		},
		{
			name: "decreasing signals",
			bars: []domain.Bar{flat(0, 100), flat(1, 101)},
			signals: []domain.Signal{
				{Timestamp: ts(1), Side: domain.Long, Units: 1},
				{Timestamp: ts(0), Side: domain.Long, Units: 1},
			},
			cfg:     DefaultConfig(),
			wantErr: domain.ErrUnorderedSignals,
		},
		{
			name:    "nan price",
			bars:    []domain.Bar{flat(0, 100), bar(1, 100, nan, 99, 100)},
			cfg:     DefaultConfig(),
			wantErr: domain.ErrInvalidBar,
		},
		{
			name:    "high below low",
			bars:    []domain.Bar{bar(0, 100, 99, 101, 100)},
			cfg:     DefaultConfig(),
			wantErr: domain.ErrInvalidBar,
		},
		{
			name:    "close above high",
			bars:    []domain.Bar{flat(0, 100), bar(1, 100, 101, 99, 150)},
			signals: []domain.Signal{{Timestamp: ts(0), Side: domain.Long, Units: 1}},
			cfg:     DefaultConfig(),
			wantErr: domain.ErrInvalidBar,
		},
		{
			name:    "open below low",
			bars:    []domain.Bar{bar(0, 95, 101, 99, 100)},
			cfg:     DefaultConfig(),
			wantErr: domain.ErrInvalidBar,
		},
		{
			name:    "negative fee",
			bars:    []domain.Bar{flat(0, 100)},
			cfg:     Config{FeeRate: -0.1, InitialEquity: 1000},
			wantErr: domain.ErrInvalidConfig,
		},
		{
			name:    "zero equity",
			bars:    []domain.Bar{flat(0, 100)},
			cfg:     Config{},
			wantErr: domain.ErrInvalidConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Simulate(context.Background(), tt.bars, tt.signals, tt.cfg)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestSimulateEntryTiming(t *testing.T) {
	bars := []domain.Bar{
		bar(0, 100, 101, 99, 101),
		bar(1, 102, 103, 101, 102.5),
	}

	t.Run("next open", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.EntryMode = EntryNextOpen
		signals := []domain.Signal{{Timestamp: ts(0), Side: domain.Long, Units: 1}}

		result, err := Simulate(context.Background(), bars, signals, cfg)
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		p := result.ClosedPositions[0]
		if p.EntryBar != 1 || p.EntryPrice != 102 {
			t.Errorf("Expected entry on bar 1 at 102, got bar %d at %f", p.EntryBar, p.EntryPrice)
		}
		if result.Snapshots[0].LongExposure != 0 {
			t.Errorf("Expected no exposure before entry, got %f", result.Snapshots[0].LongExposure)
		}
		if p.PNL != 0.5 {
			t.Errorf("Expected PnL 0.5, got %f", p.PNL)
		}
	})

	t.Run("between bars", func(t *testing.T) {
		signals := []domain.Signal{{Timestamp: ts(0).Add(30 * time.Minute), Side: domain.Short, Units: 1}}

		result, err := Simulate(context.Background(), bars, signals, DefaultConfig())
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		p := result.ClosedPositions[0]
		if !p.EntryTime.Equal(ts(1)) || p.EntryPrice != 102.5 {
			t.Errorf("Expected entry at bar 1 close 102.5, got %s at %f", p.EntryTime, p.EntryPrice)
		}
	})
}

func TestSimulateDeterministic(t *testing.T) {
	bars := []domain.Bar{
		bar(0, 100, 101, 99, 100),
		bar(1, 100, 104, 97, 103),
		bar(2, 103, 106, 96, 98),
		bar(3, 98, 99, 90, 91),
	}
	signals := []domain.Signal{
		{Timestamp: ts(0), Side: domain.Long, Units: 1.5, TakeProfitPct: domain.Float(0.05), StopLossPct: domain.Float(0.04)},
		{Timestamp: ts(1), Side: domain.Short, Units: 0.7, StopLoss: domain.Float(106)},
		{Timestamp: ts(2), Side: domain.Long, Units: 3, Expiration: domain.Time(ts(3))},
	}
	cfg := Config{FeeRate: 0.0004, SlippageRate: 0.0002, InitialEquity: 5000, SameBarPolicy: OpenProximity}

	first, err := Simulate(context.Background(), bars, signals, cfg)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	second, err := Simulate(context.Background(), bars, signals, cfg)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !reflect.DeepEqual(first.ClosedPositions, second.ClosedPositions) {
		t.Error("Expected identical positions across runs")
	}
	if !reflect.DeepEqual(first.EquityCurve, second.EquityCurve) {
		t.Error("Expected identical equity curves across runs")
	}
	for i, p := range first.ClosedPositions {
		if !approx(p.PNL, (p.ExitPrice-p.EntryPrice)*p.Units*p.Side.Direction()-p.FeesPaid()) {
			t.Errorf("Position %d: PnL %f inconsistent with fills and fees", i, p.PNL)
		}
	}
}

func TestSimulateCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Simulate(ctx, []domain.Bar{flat(0, 100)}, nil, DefaultConfig())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestSimulateEmpty(t *testing.T) {
	result, err := Simulate(context.Background(), nil, nil, DefaultConfig())
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(result.ClosedPositions) != 0 || len(result.EquityCurve) != 0 {
		t.Errorf("Expected empty result, got %d positions and %d points", len(result.ClosedPositions), len(result.EquityCurve))
	}
	if result.FinalEquity(10000) != 10000 {
		t.Errorf("Expected final equity to fall back to initial, got %f", result.FinalEquity(10000))
	}
}
