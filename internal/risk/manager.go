package risk

import (
	"fmt"
	"math"

	"backtester/internal/domain"
)

// RiskConfig holds the signal-level risk rules applied when a position is opened.
type RiskConfig struct {
	MaxUnits          float64 // Upper bound on units per signal, 0 means unlimited
	StopLossPercent   float64 // Default stop-loss distance for signals without one, 0 disables
	TakeProfitPercent float64 // Default take-profit distance for signals without one, 0 disables
}

// RiskManager validates signals and resolves their risk levels.
type RiskManager struct {
	config RiskConfig
}

// NewRiskManager creates a new risk manager instance
func NewRiskManager(config RiskConfig) *RiskManager {
	return &RiskManager{config: config}
}

// ValidateSignal performs the checks that do not depend on the entry price.
func (r *RiskManager) ValidateSignal(sig domain.Signal) error {
	if !sig.Side.Valid() {
		return fmt.Errorf("%w: unknown side %q", domain.ErrInvalidSignal, sig.Side)
	}
	if math.IsNaN(sig.Units) || math.IsInf(sig.Units, 0) || sig.Units <= 0 {
		return fmt.Errorf("%w: units must be positive, got %v", domain.ErrInvalidSignal, sig.Units)
	}
	if r.config.MaxUnits > 0 && sig.Units > r.config.MaxUnits {
		return fmt.Errorf("%w: units %v exceed maximum allowed %v", domain.ErrInvalidSignal, sig.Units, r.config.MaxUnits)
	}
	if sig.TakeProfit != nil && sig.TakeProfitPct != nil {
		return fmt.Errorf("%w: both absolute and relative take profit set", domain.ErrInvalidSignal)
	}
	if sig.StopLoss != nil && sig.StopLossPct != nil {
		return fmt.Errorf("%w: both absolute and relative stop loss set", domain.ErrInvalidSignal)
	}
	if sig.StopLossPct != nil && (*sig.StopLossPct <= 0 || *sig.StopLossPct >= 1) {
		return fmt.Errorf("%w: stop loss percent %v outside (0, 1)", domain.ErrInvalidSignal, *sig.StopLossPct)
	}
	if sig.TakeProfitPct != nil && *sig.TakeProfitPct <= 0 {
		return fmt.Errorf("%w: take profit percent %v must be positive", domain.ErrInvalidSignal, *sig.TakeProfitPct)
	}
	if sig.Short() && sig.TakeProfitPct != nil && *sig.TakeProfitPct >= 1 {
		return fmt.Errorf("%w: short take profit percent %v must be below 1", domain.ErrInvalidSignal, *sig.TakeProfitPct)
	}
	if sig.EntryPriceHint != nil && !(*sig.EntryPriceHint > 0) {
		return fmt.Errorf("%w: entry price hint must be positive, got %v", domain.ErrInvalidSignal, *sig.EntryPriceHint)
	}
	if sig.Expiration != nil && sig.Expiration.Before(sig.Timestamp) {
		return fmt.Errorf("%w: expiration %s before signal time %s", domain.ErrInvalidSignal,
			sig.Expiration.Format("2006-01-02 15:04:05"), sig.Timestamp.Format("2006-01-02 15:04:05"))
	}
	return nil
}

// ResolveLevels turns the signal's risk settings into absolute price levels for
// the given raw entry price and checks they sit on the correct side of it.
// Relative levels and the configured defaults are converted with GetStopLoss/GetTakeProfit.
func (r *RiskManager) ResolveLevels(sig domain.Signal, entryPrice float64) (tp, sl *float64, err error) {
	isLong := sig.Side == domain.Long

	switch {
	case sig.TakeProfit != nil:
		tp = domain.Float(*sig.TakeProfit)
	case sig.TakeProfitPct != nil:
		tp = domain.Float(TakeProfitPrice(entryPrice, isLong, *sig.TakeProfitPct))
	case r.config.TakeProfitPercent > 0:
		tp = domain.Float(r.GetTakeProfit(entryPrice, isLong))
	}

	switch {
	case sig.StopLoss != nil:
		sl = domain.Float(*sig.StopLoss)
	case sig.StopLossPct != nil:
		sl = domain.Float(StopLossPrice(entryPrice, isLong, *sig.StopLossPct))
	case r.config.StopLossPercent > 0:
		sl = domain.Float(r.GetStopLoss(entryPrice, isLong))
	}

	if err := ValidateLevels(sig.Side, entryPrice, tp, sl); err != nil {
		return nil, nil, err
	}
	return tp, sl, nil
}

// ValidateLevels rejects take-profit and stop-loss levels on the wrong side of entry.
func ValidateLevels(side domain.Side, entryPrice float64, tp, sl *float64) error {
	if tp != nil {
		if math.IsNaN(*tp) || math.IsInf(*tp, 0) {
			return fmt.Errorf("%w: take profit is not finite", domain.ErrInvalidSignal)
		}
		if side == domain.Long && *tp <= entryPrice {
			return fmt.Errorf("%w: long take profit %v not above entry %v", domain.ErrInvalidSignal, *tp, entryPrice)
		}
		if side == domain.Short && *tp >= entryPrice {
			return fmt.Errorf("%w: short take profit %v not below entry %v", domain.ErrInvalidSignal, *tp, entryPrice)
		}
	}
	if sl != nil {
		if math.IsNaN(*sl) || math.IsInf(*sl, 0) {
			return fmt.Errorf("%w: stop loss is not finite", domain.ErrInvalidSignal)
		}
		if side == domain.Long && *sl >= entryPrice {
			return fmt.Errorf("%w: long stop loss %v not below entry %v", domain.ErrInvalidSignal, *sl, entryPrice)
		}
		if side == domain.Short && *sl <= entryPrice {
			return fmt.Errorf("%w: short stop loss %v not above entry %v", domain.ErrInvalidSignal, *sl, entryPrice)
		}
	}
	return nil
}

// GetStopLoss calculates the default stop loss price for a position
func (r *RiskManager) GetStopLoss(entryPrice float64, isLong bool) float64 {
	return StopLossPrice(entryPrice, isLong, r.config.StopLossPercent)
}

// GetTakeProfit calculates the default take profit price for a position
func (r *RiskManager) GetTakeProfit(entryPrice float64, isLong bool) float64 {
	return TakeProfitPrice(entryPrice, isLong, r.config.TakeProfitPercent)
}

// StopLossPrice places a stop pct away from entry against the position.
func StopLossPrice(entryPrice float64, isLong bool, pct float64) float64 {
	if isLong {
		return entryPrice * (1 - pct)
	}
	return entryPrice * (1 + pct)
}

// TakeProfitPrice places a target pct away from entry in favour of the position.
func TakeProfitPrice(entryPrice float64, isLong bool, pct float64) float64 {
	if isLong {
		return entryPrice * (1 + pct)
	}
	return entryPrice * (1 - pct)
}
