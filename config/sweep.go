package config

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"backtester/internal/backtesting"
	"backtester/internal/optimization"
)

// RangeConfig is an inclusive min/max/step range in a sweep file.
type RangeConfig struct {
	Min  float64 `toml:"min"`
	Max  float64 `toml:"max"`
	Step float64 `toml:"step"`
}

// SweepConfig describes a parameter sweep. Explicit lists and ranges of the
// same parameter are merged.
//
//	workers = 4
//	top = 10
//	fee_rates = [0.0004, 0.001]
//	same_bar_policies = ["sl_first", "tp_first"]
//
//	[slippage_range]
//	min = 0.0
//	max = 0.001
//	step = 0.0005
type SweepConfig struct {
	Label           string       `toml:"label"`
	Workers         int          `toml:"workers"`
	Top             int          `toml:"top"`
	FeeRates        []float64    `toml:"fee_rates"`
	FeeRange        *RangeConfig `toml:"fee_range"`
	SlippageRates   []float64    `toml:"slippage_rates"`
	SlippageRange   *RangeConfig `toml:"slippage_range"`
	SameBarPolicies []string     `toml:"same_bar_policies"`
	EntryModes      []string     `toml:"entry_modes"`
}

// LoadSweep reads a sweep definition from a TOML file.
func LoadSweep(path string) (*SweepConfig, error) {
	var sweep SweepConfig
	md, err := toml.DecodeFile(path, &sweep)
	if err != nil {
		return nil, fmt.Errorf("decode sweep file %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("sweep file %s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	if sweep.Top <= 0 {
		sweep.Top = 10
	}
	return &sweep, nil
}

// Grid converts the sweep definition into an optimizer grid.
func (s *SweepConfig) Grid() (optimization.Grid, error) {
	var grid optimization.Grid
	var errs []string

	grid.FeeRates = append(grid.FeeRates, s.FeeRates...)
	if s.FeeRange != nil {
		grid.FeeRates = append(grid.FeeRates, s.FeeRange.values()...)
	}
	grid.SlippageRates = append(grid.SlippageRates, s.SlippageRates...)
	if s.SlippageRange != nil {
		grid.SlippageRates = append(grid.SlippageRates, s.SlippageRange.values()...)
	}
	for _, p := range s.SameBarPolicies {
		policy, err := backtesting.ParseSameBarPolicy(p)
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}
		grid.SameBarPolicies = append(grid.SameBarPolicies, policy)
	}
	for _, m := range s.EntryModes {
		mode, err := backtesting.ParseEntryMode(m)
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}
		grid.EntryModes = append(grid.EntryModes, mode)
	}

	if len(errs) > 0 {
		return optimization.Grid{}, fmt.Errorf("invalid sweep: %s", strings.Join(errs, "; "))
	}
	return grid, nil
}

func (r RangeConfig) values() []float64 {
	return optimization.ParameterRange{Min: r.Min, Max: r.Max, Step: r.Step}.Values()
}
