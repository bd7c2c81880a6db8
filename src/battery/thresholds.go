// Package battery turns pack voltage into a charge estimate and decides
// which warnings a reading calls for. It performs no I/O.
package battery

import (
	"errors"
	"fmt"
	"math"
)

// Per-cell voltages for a lithium-ion cell
const (
	CellMinVoltage      = 3.3
	CellMaxVoltage      = 4.2
	CellLowVoltage      = 3.6
	CellVeryLowVoltage  = 3.5
	CellCriticalVoltage = 3.35
)

// DefaultCells is the series cell count of the reference pack
const DefaultCells = 3

// ErrInvalidThresholds is returned when thresholds would misclassify readings
var ErrInvalidThresholds = errors.New("invalid battery thresholds")

// Thresholds are pack-level voltages. Min and Max bound the percentage scale,
// the others are the upper (inclusive) edges of each warning band.
type Thresholds struct {
	Min      float64 `yaml:"min"`
	Max      float64 `yaml:"max"`
	Low      float64 `yaml:"low"`
	VeryLow  float64 `yaml:"very_low"`
	Critical float64 `yaml:"critical"`
}

// ForCells scales the per-cell voltages to a pack of n cells in series
func ForCells(n int) Thresholds {
	cells := float64(n)
	return Thresholds{
		Min:      CellMinVoltage * cells,
		Max:      CellMaxVoltage * cells,
		Low:      CellLowVoltage * cells,
		VeryLow:  CellVeryLowVoltage * cells,
		Critical: CellCriticalVoltage * cells,
	}
}

// Validate rejects orderings that Classify would silently mask.
// Every threshold must be finite, and Critical < VeryLow < Low < Max and
// Min < Max must hold.
func (t Thresholds) Validate() error {
	for _, f := range []struct {
		name  string
		value float64
	}{
		{"min", t.Min},
		{"max", t.Max},
		{"low", t.Low},
		{"very low", t.VeryLow},
		{"critical", t.Critical},
	} {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			return fmt.Errorf("%w: %s must be a finite voltage, got %v", ErrInvalidThresholds, f.name, f.value)
		}
	}

	switch {
	case t.Min >= t.Max:
		return fmt.Errorf("%w: min %.3fV must be below max %.3fV", ErrInvalidThresholds, t.Min, t.Max)
	case t.Critical >= t.VeryLow:
		return fmt.Errorf("%w: critical %.3fV must be below very low %.3fV", ErrInvalidThresholds, t.Critical, t.VeryLow)
	case t.VeryLow >= t.Low:
		return fmt.Errorf("%w: very low %.3fV must be below low %.3fV", ErrInvalidThresholds, t.VeryLow, t.Low)
	case t.Low >= t.Max:
		return fmt.Errorf("%w: low %.3fV must be below max %.3fV", ErrInvalidThresholds, t.Low, t.Max)
	}
	return nil
}

// Percentage maps voltage onto [0, 1] between Min and Max
func (t Thresholds) Percentage(voltage float64) float64 {
	percentage := (voltage - t.Min) / (t.Max - t.Min)
	if percentage < 0 || math.IsNaN(percentage) {
		return 0
	}
	if percentage > 1 {
		return 1
	}
	return percentage
}

// Classify returns the most severe band whose threshold the voltage is at or below
func (t Thresholds) Classify(voltage float64) Band {
	switch {
	case voltage <= t.Critical:
		return Critical
	case voltage <= t.VeryLow:
		return VeryLow
	case voltage <= t.Low:
		return Low
	}
	return Normal
}
