package backtesting

import (
	"context"
	"fmt"
	"time"

	"backtester/internal/domain"
	"backtester/internal/risk"
)

// Rejection records a signal that did not produce a position.
type Rejection struct {
	SignalIndex int
	Timestamp   time.Time
	Err         error
}

// Result holds the outcome of a simulation.
type Result struct {
	ClosedPositions []domain.Position // Ordered by position ID
	EquityCurve     []domain.EquityPoint
	Snapshots       []domain.BarSnapshot
	Rejections      []Rejection
}

// FinalEquity returns the last equity value, or the initial equity for an empty run.
func (r *Result) FinalEquity(initial float64) float64 {
	if len(r.EquityCurve) == 0 {
		return initial
	}
	return r.EquityCurve[len(r.EquityCurve)-1].Equity
}

// engine is the per-run simulation context. Positions live in an arena indexed
// by ID-1; open holds the arena indices of positions still open, in ID order.
type engine struct {
	cfg       Config
	risk      *risk.RiskManager
	positions []domain.Position
	open      []int
	equity    *EquityCurveBuilder
	result    *Result
}

// Simulate runs every signal through its position lifecycle over the bars and
// returns the closed positions and the equity curve, one point per bar.
// Bars must be strictly increasing and signals non-decreasing in time.
// The context is checked between bars.
func Simulate(ctx context.Context, bars []domain.Bar, signals []domain.Signal, cfg Config) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := validateBars(bars); err != nil {
		return nil, err
	}
	if err := validateSignals(signals); err != nil {
		return nil, err
	}

	e := &engine{
		cfg:       cfg,
		risk:      risk.NewRiskManager(cfg.Risk),
		positions: make([]domain.Position, 0, len(signals)),
		equity:    NewEquityCurveBuilder(cfg.InitialEquity),
		result: &Result{
			EquityCurve: make([]domain.EquityPoint, 0, len(bars)),
			Snapshots:   make([]domain.BarSnapshot, 0, len(bars)),
		},
	}

	next := 0
	for i, bar := range bars {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		snap := domain.BarSnapshot{Timestamp: bar.Timestamp}

		// 1. Ingest signals due on this bar
		for next < len(signals) && e.due(signals[next], bar) {
			if err := e.ingest(next, signals[next], i, bar, &snap); err != nil {
				return nil, err
			}
			next++
		}

		// 2-4. Exits
		e.processExits(i, bar, i == len(bars)-1, &snap)

		// 5. Mark what is still open
		e.mark(bar, &snap)

		// 6. Emit
		e.result.Snapshots = append(e.result.Snapshots, snap)
		e.result.EquityCurve = append(e.result.EquityCurve, e.equity.Add(snap))
	}

	for ; next < len(signals); next++ {
		e.result.Rejections = append(e.result.Rejections, Rejection{
			SignalIndex: next,
			Timestamp:   signals[next].Timestamp,
			Err:         fmt.Errorf("signal %d: %w", next, domain.ErrNoBarForSignal),
		})
	}

	e.result.ClosedPositions = e.positions
	return e.result, nil
}

func (e *engine) due(sig domain.Signal, bar domain.Bar) bool {
	if e.cfg.EntryMode == EntryNextOpen {
		return sig.Timestamp.Before(bar.Timestamp)
	}
	return !sig.Timestamp.After(bar.Timestamp)
}

func (e *engine) ingest(idx int, sig domain.Signal, barIdx int, bar domain.Bar, snap *domain.BarSnapshot) error {
	if err := e.risk.ValidateSignal(sig); err != nil {
		return e.reject(idx, sig, err)
	}

	raw := bar.Close
	switch {
	case e.cfg.EntryMode == EntryNextOpen:
		raw = bar.Open
	case sig.EntryPriceHint != nil:
		raw = *sig.EntryPriceHint
	}

	tp, sl, err := e.risk.ResolveLevels(sig, raw)
	if err != nil {
		return e.reject(idx, sig, err)
	}

	fill := entryFill(raw, sig.Side, e.cfg.SlippageRate)
	fee := tradeFee(sig.Units, fill, e.cfg.FeeRate)

	var expiration *time.Time
	if sig.Expiration != nil {
		expiration = domain.Time(*sig.Expiration)
	}

	e.positions = append(e.positions, domain.Position{
		ID:            int64(len(e.positions) + 1),
		SignalIndex:   idx,
		Side:          sig.Side,
		Units:         sig.Units,
		EntryTime:     bar.Timestamp,
		EntryBar:      barIdx,
		RawEntryPrice: raw,
		EntryPrice:    fill,
		EntryFee:      fee,
		TakeProfit:    tp,
		StopLoss:      sl,
		Expiration:    expiration,
		Status:        domain.StatusOpen,
	})
	e.open = append(e.open, len(e.positions)-1)

	// Entry fees are realized immediately.
	bookRealized(snap, sig.Side, -fee)
	return nil
}

func (e *engine) reject(idx int, sig domain.Signal, err error) error {
	wrapped := fmt.Errorf("signal %d at %s: %w", idx, sig.Timestamp.Format(time.RFC3339), err)
	if e.cfg.InvalidSignals == AbortOnInvalid {
		return wrapped
	}
	e.result.Rejections = append(e.result.Rejections, Rejection{
		SignalIndex: idx,
		Timestamp:   sig.Timestamp,
		Err:         wrapped,
	})
	return nil
}

// processExits closes every open position whose exit triggers on this bar and
// compacts the open list in place.
func (e *engine) processExits(barIdx int, bar domain.Bar, last bool, snap *domain.BarSnapshot) {
	kept := e.open[:0]
	for _, idx := range e.open {
		p := &e.positions[idx]
		reason, raw, ok := e.exitFor(p, barIdx, bar, last)
		if !ok {
			kept = append(kept, idx)
			continue
		}
		e.close(p, barIdx, bar, reason, raw)
		// The entry fee was booked at entry.
		bookRealized(snap, p.Side, p.PNL+p.EntryFee)
		snap.ClosedPositions++
	}
	e.open = kept
}

func (e *engine) close(p *domain.Position, barIdx int, bar domain.Bar, reason domain.ExitReason, raw float64) {
	fill := raw
	if reason.IsMarket() || e.cfg.SlipLimitExits {
		fill = exitFill(raw, p.Side, e.cfg.SlippageRate)
	}
	fee := tradeFee(p.Units, fill, e.cfg.exitFeeRate())

	p.Status = domain.StatusClosed
	p.ExitTime = bar.Timestamp
	p.ExitBar = barIdx
	p.ExitReason = reason
	p.RawExitPrice = raw
	p.ExitPrice = fill
	p.ExitFee = fee
	p.PNL = realizedPNL(p.Side, p.EntryPrice, fill, p.Units, p.EntryFee, fee)
}

func (e *engine) mark(bar domain.Bar, snap *domain.BarSnapshot) {
	for _, idx := range e.open {
		p := &e.positions[idx]
		floating := p.UnrealizedPNL(bar.Close)
		if p.Side == domain.Long {
			snap.LongExposure += p.Units
			snap.LongFloatingPNL += floating
		} else {
			snap.ShortExposure += p.Units
			snap.ShortFloatingPNL += floating
		}
	}
	snap.FloatingPNL = snap.LongFloatingPNL + snap.ShortFloatingPNL
	snap.OpenPositions = len(e.open)
}

func bookRealized(snap *domain.BarSnapshot, side domain.Side, amount float64) {
	snap.RealizedPNLDelta += amount
	if side == domain.Long {
		snap.LongRealizedDelta += amount
	} else {
		snap.ShortRealizedDelta += amount
	}
}

func validateBars(bars []domain.Bar) error {
	for i, b := range bars {
		if !b.Valid() {
			return fmt.Errorf("bar %d at %s: %w", i, b.Timestamp.Format(time.RFC3339), domain.ErrInvalidBar)
		}
		if i > 0 && !b.Timestamp.After(bars[i-1].Timestamp) {
			return fmt.Errorf("bar %d at %s: %w", i, b.Timestamp.Format(time.RFC3339), domain.ErrUnorderedBars)
		}
	}
	return nil
}

func validateSignals(signals []domain.Signal) error {
	for i := 1; i < len(signals); i++ {
		if signals[i].Timestamp.Before(signals[i-1].Timestamp) {
			return fmt.Errorf("signal %d at %s: %w", i, signals[i].Timestamp.Format(time.RFC3339), domain.ErrUnorderedSignals)
		}
	}
	return nil
}
