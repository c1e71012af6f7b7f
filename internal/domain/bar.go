package domain

import (
	"math"
	"time"
)

// Bar represents a single OHLC candle of the price series.
type Bar struct {
	Timestamp time.Time // Bar time, strictly increasing across a series
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64 // Informational only, not used by the simulation
}

// Valid reports whether all prices are finite and Open and Close lie within [Low, High].
func (b Bar) Valid() bool {
	for _, v := range []float64{b.Open, b.High, b.Low, b.Close} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return b.Low <= b.High &&
		b.Low <= b.Open && b.Open <= b.High &&
		b.Low <= b.Close && b.Close <= b.High
}
