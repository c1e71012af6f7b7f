package backtesting

import "backtester/internal/domain"

// EquityCurveBuilder folds bar snapshots into equity points.
// The only state is the running realized PnL.
type EquityCurveBuilder struct {
	initial       float64
	realized      float64
	longRealized  float64
	shortRealized float64
}

// NewEquityCurveBuilder starts a curve at initial equity.
func NewEquityCurveBuilder(initial float64) *EquityCurveBuilder {
	return &EquityCurveBuilder{initial: initial}
}

// Initial returns the starting equity of the curve.
func (b *EquityCurveBuilder) Initial() float64 {
	return b.initial
}

// Add consumes the next snapshot and returns its equity point.
func (b *EquityCurveBuilder) Add(s domain.BarSnapshot) domain.EquityPoint {
	b.realized += s.RealizedPNLDelta
	b.longRealized += s.LongRealizedDelta
	b.shortRealized += s.ShortRealizedDelta
	return domain.EquityPoint{
		Timestamp:     s.Timestamp,
		InitialEquity: b.initial,
		Equity:        b.initial + b.realized + s.FloatingPNL,
		RealizedPNL:   b.realized,
		FloatingPNL:   s.FloatingPNL,
		LongPNL:       b.longRealized + s.LongFloatingPNL,
		ShortPNL:      b.shortRealized + s.ShortFloatingPNL,
	}
}

// BuildEquityCurve produces one point per snapshot.
func BuildEquityCurve(initial float64, snapshots []domain.BarSnapshot) []domain.EquityPoint {
	b := NewEquityCurveBuilder(initial)
	curve := make([]domain.EquityPoint, 0, len(snapshots))
	for _, s := range snapshots {
		curve = append(curve, b.Add(s))
	}
	return curve
}
