package domain

import (
	"math"
	"time"
)

// Position is one non-netted trade lifecycle created from a signal.
// Entry fields and risk levels never change after creation; exit fields are
// written exactly once when the position closes.
type Position struct {
	ID          int64 // Monotonic within a run, starting at 1
	SignalIndex int   // Index of the originating signal in the feed
	Side        Side
	Units       float64

	EntryTime     time.Time
	EntryBar      int
	RawEntryPrice float64 // Market price before slippage
	EntryPrice    float64 // Fill price after slippage
	EntryFee      float64

	TakeProfit *float64
	StopLoss   *float64
	Expiration *time.Time

	Status       PositionStatus
	ExitTime     time.Time // Zero value while open
	ExitBar      int
	ExitReason   ExitReason
	RawExitPrice float64
	ExitPrice    float64
	ExitFee      float64
	PNL          float64 // Realized, net of all fees
}

// IsOpen checks if the position status is open.
func (p *Position) IsOpen() bool {
	return p.Status == StatusOpen
}

// FeesPaid returns entry plus exit fees.
func (p *Position) FeesPaid() float64 {
	return p.EntryFee + p.ExitFee
}

// UnrealizedPNL marks the position at price without charging an exit fee.
// The entry fee is excluded as it is booked to realized PnL at entry.
func (p *Position) UnrealizedPNL(mark float64) float64 {
	return (mark - p.EntryPrice) * p.Units * p.Side.Direction()
}

// Notional is the filled entry value of the position.
func (p *Position) Notional() float64 {
	return p.EntryPrice * p.Units
}

// AbsoluteReturn is the side-adjusted price move between fills.
func (p *Position) AbsoluteReturn() float64 {
	if p.EntryPrice == 0 {
		return 0
	}
	return (p.ExitPrice/p.EntryPrice - 1) * p.Side.Direction()
}

// Slippage returns the price distance of the entry and exit fills from their
// raw prices. Exit slippage is zero while the position is open.
func (p *Position) Slippage() (entry, exit float64) {
	entry = math.Abs(p.EntryPrice - p.RawEntryPrice)
	if !p.IsOpen() {
		exit = math.Abs(p.ExitPrice - p.RawExitPrice)
	}
	return entry, exit
}

// RealReturn is the realized PnL relative to the entry notional.
func (p *Position) RealReturn() float64 {
	n := p.Notional()
	if n == 0 {
		return 0
	}
	return p.PNL / n
}

// HoldingTime returns the time between entry and exit (zero while open).
func (p *Position) HoldingTime() time.Duration {
	if p.IsOpen() {
		return 0
	}
	return p.ExitTime.Sub(p.EntryTime)
}
