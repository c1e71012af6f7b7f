package domain

import "time"

// Segment names a subset of trades for which metrics are computed.
type Segment string

const (
	SegmentOverall Segment = "overall"
	SegmentLong    Segment = "long"
	SegmentShort   Segment = "short"
)

// TradeMetrics holds the performance statistics of one segment.
// SharpeRatio and MaxDrawdown are NaN when undefined.
type TradeMetrics struct {
	Segment              Segment
	TradeCount           int
	WinningTrades        int
	LosingTrades         int
	WinRate              float64
	AveragePNL           float64
	TotalPNL             float64
	TotalFees            float64
	TotalReturn          float64 // TotalPNL relative to initial equity
	AverageReturn        float64 // Mean RealReturn per trade
	AverageWin           float64
	AverageLoss          float64
	ProfitFactor         float64
	Expectancy           float64
	MaxConsecutiveWins   int
	MaxConsecutiveLosses int
	AverageHoldingTime   time.Duration
	SharpeRatio          float64
	MaxDrawdown          float64
	ExitReasons          map[ExitReason]int
}

// Drawdown is one peak-to-recovery period of an equity curve.
type Drawdown struct {
	Start     time.Time
	End       time.Time // Zero if not recovered by the end of the curve
	Peak      float64
	Trough    float64
	Depth     float64 // Fraction of the peak
	Recovered bool
}

// SummaryMetrics groups the metrics of every segment.
type SummaryMetrics struct {
	Overall   TradeMetrics
	Long      TradeMetrics
	Short     TradeMetrics
	Drawdowns []Drawdown // Periods of the overall curve
}

// Segment returns the metrics of seg.
func (s *SummaryMetrics) Segment(seg Segment) TradeMetrics {
	switch seg {
	case SegmentLong:
		return s.Long
	case SegmentShort:
		return s.Short
	}
	return s.Overall
}
