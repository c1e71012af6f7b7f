package domain

import "time"

// Signal is an instruction to open one independent position.
// Nil pointer fields are absent.
type Signal struct {
	Timestamp      time.Time
	Side           Side
	Units          float64
	EntryPriceHint *float64 // Raw entry price; the bar close is used when nil
	TakeProfit     *float64 // Absolute take-profit level
	StopLoss       *float64 // Absolute stop-loss level
	Expiration     *time.Time

	// Relative levels, resolved against the raw entry price when the signal is ingested.
	TakeProfitPct *float64
	StopLossPct   *float64
}

// Float returns a pointer to v, for building signals with optional levels.
func Float(v float64) *float64 {
	return &v
}

// Time returns a pointer to t.
func Time(t time.Time) *time.Time {
	return &t
}

// Short reports whether the signal opens a short position.
func (s Signal) Short() bool {
	return s.Side == Short
}
