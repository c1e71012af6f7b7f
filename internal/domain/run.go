package domain

import "time"

// RunParams records the settings a run was simulated with.
type RunParams struct {
	FeeRate             float64
	ExitFeeRate         float64
	SlippageRate        float64
	InitialEquity       float64
	AnnualizationFactor float64
	SameBarPolicy       string
	EntryMode           string
	SlipLimitExits      bool
}

// Run is the stored outcome of one simulation.
type Run struct {
	ID            string
	Label         string
	Symbol        string
	Interval      string
	CreatedAt     time.Time
	Params        RunParams
	BarCount      int
	SignalCount   int
	RejectedCount int
	FinalEquity   float64
	Positions     []Position
	EquityCurve   []EquityPoint
	Metrics       SummaryMetrics
}
