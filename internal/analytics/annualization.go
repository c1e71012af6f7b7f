package analytics

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const year = 365 * 24 * time.Hour

// AnnualizationFactor returns sqrt(periodsPerYear), or 1 when periodsPerYear is not positive.
func AnnualizationFactor(periodsPerYear float64) float64 {
	if periodsPerYear <= 0 {
		return 1
	}
	return math.Sqrt(periodsPerYear)
}

// PeriodsPerYear returns how many bars of the given interval fit in a
// 24/7 year. Intervals use the exchange notation: 1m, 15m, 4h, 1d, 1w, 1M.
func PeriodsPerYear(interval string) (float64, error) {
	interval = strings.TrimSpace(interval)
	if len(interval) < 2 {
		return 0, fmt.Errorf("invalid interval %q", interval)
	}

	n, err := strconv.Atoi(interval[:len(interval)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid interval %q", interval)
	}

	var unit time.Duration
	switch interval[len(interval)-1] {
	case 's':
		unit = time.Second
	case 'm':
		unit = time.Minute
	case 'h':
		unit = time.Hour
	case 'd':
		unit = 24 * time.Hour
	case 'w':
		unit = 7 * 24 * time.Hour
	case 'M':
		return 12 / float64(n), nil
	default:
		return 0, fmt.Errorf("invalid interval %q", interval)
	}
	return float64(year) / float64(time.Duration(n)*unit), nil
}
