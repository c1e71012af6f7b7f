package backtesting

import (
	"fmt"
	"math"
	"strings"

	"backtester/internal/domain"
	"backtester/internal/risk"
)

// SameBarPolicy decides which level wins when a bar crosses both stop loss and take profit.
type SameBarPolicy int

const (
	// StopLossFirst assumes the adverse level was touched first.
	StopLossFirst SameBarPolicy = iota
	// TakeProfitFirst assumes the favourable level was touched first.
	TakeProfitFirst
	// OpenProximity walks open -> nearer extremum -> other extremum -> close.
	// Ties go to the stop loss.
	OpenProximity
)

func (p SameBarPolicy) String() string {
	switch p {
	case StopLossFirst:
		return "sl_first"
	case TakeProfitFirst:
		return "tp_first"
	case OpenProximity:
		return "open_proximity"
	default:
		return "unknown"
	}
}

// ParseSameBarPolicy converts a config string to a SameBarPolicy.
func ParseSameBarPolicy(s string) (SameBarPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "sl_first", "sl", "stop_loss_first":
		return StopLossFirst, nil
	case "tp_first", "tp", "take_profit_first":
		return TakeProfitFirst, nil
	case "open_proximity", "chart", "path":
		return OpenProximity, nil
	}
	return StopLossFirst, fmt.Errorf("unknown same bar policy %q", s)
}

// EntryMode decides at which bar and price a signal is filled.
type EntryMode int

const (
	// EntrySignalBar fills on the first bar at or after the signal time, at the
	// signal's price hint or else the bar close.
	EntrySignalBar EntryMode = iota
	// EntryNextOpen fills at the open of the first bar strictly after the signal time.
	EntryNextOpen
)

func (m EntryMode) String() string {
	switch m {
	case EntrySignalBar:
		return "signal_bar"
	case EntryNextOpen:
		return "next_open"
	default:
		return "unknown"
	}
}

// ParseEntryMode converts a config string to an EntryMode.
func ParseEntryMode(s string) (EntryMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "signal_bar", "close":
		return EntrySignalBar, nil
	case "next_open", "next_bar_open":
		return EntryNextOpen, nil
	}
	return EntrySignalBar, fmt.Errorf("unknown entry mode %q", s)
}

// InvalidSignalPolicy decides what happens to a signal that fails validation.
type InvalidSignalPolicy int

const (
	// AbortOnInvalid fails the whole run.
	AbortOnInvalid InvalidSignalPolicy = iota
	// SkipInvalid records a Rejection and continues.
	SkipInvalid
)

func (p InvalidSignalPolicy) String() string {
	if p == SkipInvalid {
		return "skip"
	}
	return "abort"
}

// ParseInvalidSignalPolicy converts a config string to an InvalidSignalPolicy.
func ParseInvalidSignalPolicy(s string) (InvalidSignalPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "abort", "fail":
		return AbortOnInvalid, nil
	case "skip", "ignore":
		return SkipInvalid, nil
	}
	return AbortOnInvalid, fmt.Errorf("unknown invalid signal policy %q", s)
}

// Config holds the parameters of one simulation.
type Config struct {
	FeeRate        float64  // Fee charged on fill notional at entry (and exit unless ExitFeeRate is set)
	ExitFeeRate    *float64 // Optional separate exit fee rate
	SlippageRate   float64  // Adverse price adjustment applied to market fills
	InitialEquity  float64
	SameBarPolicy  SameBarPolicy
	EntryMode      EntryMode
	InvalidSignals InvalidSignalPolicy
	SlipLimitExits bool // Also slip take-profit and stop-loss fills
	Risk           risk.RiskConfig
}

// DefaultConfig returns a fee and slippage free configuration.
func DefaultConfig() Config {
	return Config{InitialEquity: 10000}
}

// Validate checks the numeric bounds of the configuration.
func (c Config) Validate() error {
	var errs []string
	if !finite(c.FeeRate) || c.FeeRate < 0 {
		errs = append(errs, fmt.Sprintf("fee rate must be >= 0, got %v", c.FeeRate))
	}
	if c.ExitFeeRate != nil && (!finite(*c.ExitFeeRate) || *c.ExitFeeRate < 0) {
		errs = append(errs, fmt.Sprintf("exit fee rate must be >= 0, got %v", *c.ExitFeeRate))
	}
	if !finite(c.SlippageRate) || c.SlippageRate < 0 || c.SlippageRate >= 1 {
		errs = append(errs, fmt.Sprintf("slippage rate must be in [0, 1), got %v", c.SlippageRate))
	}
	if !finite(c.InitialEquity) || c.InitialEquity <= 0 {
		errs = append(errs, fmt.Sprintf("initial equity must be > 0, got %v", c.InitialEquity))
	}
	if c.Risk.MaxUnits < 0 || c.Risk.StopLossPercent < 0 || c.Risk.StopLossPercent >= 1 || c.Risk.TakeProfitPercent < 0 {
		errs = append(errs, "risk percentages and max units must be non-negative, stop loss percent below 1")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", domain.ErrInvalidConfig, strings.Join(errs, "; "))
	}
	return nil
}

func (c Config) exitFeeRate() float64 {
	if c.ExitFeeRate != nil {
		return *c.ExitFeeRate
	}
	return c.FeeRate
}

// Params converts the config into the record stored with a run.
func (c Config) Params(annualization float64) domain.RunParams {
	return domain.RunParams{
		FeeRate:             c.FeeRate,
		ExitFeeRate:         c.exitFeeRate(),
		SlippageRate:        c.SlippageRate,
		InitialEquity:       c.InitialEquity,
		AnnualizationFactor: annualization,
		SameBarPolicy:       c.SameBarPolicy.String(),
		EntryMode:           c.EntryMode.String(),
		SlipLimitExits:      c.SlipLimitExits,
	}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
