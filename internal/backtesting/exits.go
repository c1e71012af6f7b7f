package backtesting

import (
	"math"

	"backtester/internal/domain"
)

type touch int

const (
	touchNone touch = iota
	touchTP
	touchSL
)

// resolveTouch reports which risk level, if any, the bar reached.
func resolveTouch(p *domain.Position, bar domain.Bar, policy SameBarPolicy) touch {
	var hitTP, hitSL bool
	if p.Side == domain.Long {
		hitSL = p.StopLoss != nil && bar.Low <= *p.StopLoss
		hitTP = p.TakeProfit != nil && bar.High >= *p.TakeProfit
	} else {
		hitSL = p.StopLoss != nil && bar.High >= *p.StopLoss
		hitTP = p.TakeProfit != nil && bar.Low <= *p.TakeProfit
	}

	switch {
	case hitSL && hitTP:
		return resolveBoth(p.Side, bar, policy)
	case hitSL:
		return touchSL
	case hitTP:
		return touchTP
	}
	return touchNone
}

func resolveBoth(side domain.Side, bar domain.Bar, policy SameBarPolicy) touch {
	switch policy {
	case TakeProfitFirst:
		return touchTP
	case OpenProximity:
		distHigh := math.Abs(bar.High - bar.Open)
		distLow := math.Abs(bar.Open - bar.Low)
		// The extremum nearer the open is visited first.
		lowFirst := distLow < distHigh
		highFirst := distHigh < distLow
		if (side == domain.Long && highFirst) || (side == domain.Short && lowFirst) {
			return touchTP
		}
		return touchSL
	}
	return touchSL
}

// exitFor returns the exit triggered on bar, if any. Expiration is checked
// before the price levels; end of data applies only on the final bar.
func (e *engine) exitFor(p *domain.Position, barIdx int, bar domain.Bar, last bool) (domain.ExitReason, float64, bool) {
	if p.Expiration != nil && !p.Expiration.After(bar.Timestamp) {
		return domain.ExitReasonExpiration, bar.Close, true
	}
	if e.levelsLive(p, barIdx) {
		switch resolveTouch(p, bar, e.cfg.SameBarPolicy) {
		case touchSL:
			return domain.ExitReasonStopLoss, *p.StopLoss, true
		case touchTP:
			return domain.ExitReasonTakeProfit, *p.TakeProfit, true
		}
	}
	if last {
		return domain.ExitReasonEndOfData, bar.Close, true
	}
	return "", 0, false
}

// levelsLive reports whether the bar's range may trigger TP/SL. Positions
// filled at the close or a hint price are exposed from the next bar on.
func (e *engine) levelsLive(p *domain.Position, barIdx int) bool {
	return barIdx > p.EntryBar || e.cfg.EntryMode == EntryNextOpen
}
