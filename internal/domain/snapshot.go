package domain

import "time"

// BarSnapshot aggregates the state of all positions after a bar has been processed.
type BarSnapshot struct {
	Timestamp     time.Time
	LongExposure  float64 // Units held open long
	ShortExposure float64 // Units held open short

	FloatingPNL      float64
	LongFloatingPNL  float64
	ShortFloatingPNL float64

	RealizedPNLDelta   float64 // Realized PnL booked on this bar, including entry fees
	LongRealizedDelta  float64
	ShortRealizedDelta float64

	OpenPositions   int
	ClosedPositions int // Positions closed on this bar
}

// TotalExposure returns long plus short units.
func (s BarSnapshot) TotalExposure() float64 {
	return s.LongExposure + s.ShortExposure
}

// EquityPoint is one point of the equity curve.
type EquityPoint struct {
	Timestamp     time.Time
	InitialEquity float64 // Starting equity of the run, the same on every point
	Equity        float64 // InitialEquity + RealizedPNL + FloatingPNL
	RealizedPNL   float64 // Cumulative
	FloatingPNL   float64
	LongPNL       float64 // Cumulative realized + floating of long positions
	ShortPNL      float64 // Cumulative realized + floating of short positions
}
