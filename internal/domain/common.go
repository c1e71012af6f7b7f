package domain

import "fmt"

// Side represents the direction of a position (long or short).
type Side string

const (
	Long  Side = "long"
	Short Side = "short"
)

// Valid reports whether s is one of the known sides.
func (s Side) Valid() bool {
	return s == Long || s == Short
}

// Direction returns +1 for long and -1 for short.
func (s Side) Direction() float64 {
	if s == Short {
		return -1
	}
	return 1
}

// ParseSide accepts long/short as well as the exchange spelling buy/sell.
func ParseSide(v string) (Side, error) {
	switch v {
	case "long", "LONG", "buy", "BUY", "Long":
		return Long, nil
	case "short", "SHORT", "sell", "SELL", "Short":
		return Short, nil
	}
	return "", fmt.Errorf("unknown side %q", v)
}

// PositionStatus represents the status of a simulated position.
type PositionStatus string

const (
	StatusOpen   PositionStatus = "open"
	StatusClosed PositionStatus = "closed"
)

// ExitReason indicates why a position was closed.
type ExitReason string

const (
	ExitReasonTakeProfit ExitReason = "TP"
	ExitReasonStopLoss   ExitReason = "SL"
	ExitReasonExpiration ExitReason = "EXP"
	ExitReasonEndOfData  ExitReason = "EOD"
)

// ExitReasons lists every reason in reporting order.
var ExitReasons = []ExitReason{
	ExitReasonTakeProfit,
	ExitReasonStopLoss,
	ExitReasonExpiration,
	ExitReasonEndOfData,
}

// IsMarket reports whether the exit is executed at market (and therefore slipped)
// rather than at a resting price level.
func (r ExitReason) IsMarket() bool {
	return r == ExitReasonExpiration || r == ExitReasonEndOfData
}
