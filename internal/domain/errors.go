package domain

import "errors"

// Simulation errors. They are wrapped with the offending index or value;
// test with errors.Is.
var (
	ErrInvalidSignal       = errors.New("invalid signal")
	ErrUnorderedBars       = errors.New("bars are not strictly increasing in time")
	ErrUnorderedSignals    = errors.New("signals are not ordered by time")
	ErrInvalidBar          = errors.New("invalid bar")
	ErrInvalidConfig       = errors.New("invalid simulation config")
	ErrNoBarForSignal      = errors.New("no bar at or after signal time")
	ErrDegenerateStatistic = errors.New("statistic is undefined")
)
