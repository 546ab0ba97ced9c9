// Package calibration maps heater voltages to temperatures and back, and converts raw
// acquisition voltages into physical quantities.
//
// The forward direction is a cubic polynomial in the heater voltage.  It has no closed
// form inverse, so Inverse tabulates the forward polynomial on a fine voltage grid and
// binary searches it.  All inputs are clamped into the safe range rather than rejected.
package calibration

import (
	"sort"
	"sync"

	"github.com/nanocal/nanodaq/mathx"
	"github.com/nanocal/nanodaq/util"
)

const (
	// DefaultResolution is the voltage step of the inverse lookup table
	DefaultResolution = 1e-4

	// DefaultSafeVoltage is the ceiling on the heater voltage, in volts
	DefaultSafeVoltage = 9.
)

// Calibration holds the coefficients of one calibrated sensor chip.
//
// The field groups follow the calibration file:
//
//	Utpl    = U(mV) + Utpl0
//	Ttpl    = Ttpl0*Utpl + Ttpl1*Utpl^2
//	Thtr    = Thtr0 + Thtr1*(R+ThtrCorr) + Thtr2*(R+ThtrCorr)^2
//	Thtrd   = Thtrd0 + Thtrd1*(R+ThtrdCorr) + Thtrd2*(R+ThtrdCorr)^2
//	Uhtr    = (U(mV) + Uhtr0) * Uhtr1
//	Ihtr    = Ihtr0 + Ihtr1*I
//	Theater = Theater0*U + Theater1*U^2 + Theater2*U^3
//	AC      = AC0 + AC1*T + AC2*T^2 + AC3*T^3
type Calibration struct {
	Comment string

	// modulation parameters
	Amplitude, Offset, Frequency float64

	// amplifier gains
	URefGain, UModGain, UTplGain, UHtrGain float64

	Utpl0 float64

	Ttpl0, Ttpl1 float64

	Thtr0, Thtr1, Thtr2, ThtrCorr float64

	Thtrd0, Thtrd1, Thtrd2, ThtrdCorr float64

	Uhtr0, Uhtr1 float64

	Ihtr0, Ihtr1 float64

	Theater0, Theater1, Theater2 float64

	AC0, AC1, AC2, AC3 float64

	// RHeater is the nominal heater resistance
	RHeater float64

	// SafeVoltage is the largest voltage ever sent to a heater
	SafeVoltage float64

	// Resolution is the voltage step of the inverse table.  Zero means DefaultResolution
	Resolution float64

	once  sync.Once
	table *table
}

// Default returns the identity-like calibration used when no file is present
func Default() *Calibration {
	return &Calibration{
		Comment:     "no calibration",
		Amplitude:   0.05,
		Offset:      0.1,
		Frequency:   75,
		URefGain:    1,
		UModGain:    2,
		UTplGain:    5,
		UHtrGain:    10,
		Ttpl0:       1,
		Thtr1:       1,
		Thtrd1:      1,
		Uhtr1:       1,
		Ihtr1:       1,
		Theater0:    1,
		AC1:         1,
		RHeater:     1700,
		SafeVoltage: DefaultSafeVoltage,
		Resolution:  DefaultResolution,
	}
}

// Forward returns the heater temperature produced by voltage v.
// v is clamped to [0, SafeVoltage] first.
func (c *Calibration) Forward(v float64) float64 {
	v = util.Clamp(v, 0, c.SafeVoltage)
	return mathx.Poly(v, 0, c.Theater0, c.Theater1, c.Theater2)
}

// MinTemp is the lowest reachable heater temperature
func (c *Calibration) MinTemp() float64 {
	return 0
}

// MaxTemp is the temperature at the safe voltage
func (c *Calibration) MaxTemp() float64 {
	return c.Forward(c.SafeVoltage)
}

// AmplitudeCorrection evaluates the modulation amplitude correction polynomial at temperature t
func (c *Calibration) AmplitudeCorrection(t float64) float64 {
	return mathx.Poly(t, c.AC0, c.AC1, c.AC2, c.AC3)
}

// table is the tabulated forward polynomial.  temps is non-decreasing.
type table struct {
	volts []float64
	temps []float64
}

func (c *Calibration) resolution() float64 {
	if c.Resolution <= 0 {
		return DefaultResolution
	}
	return c.Resolution
}

func (c *Calibration) buildTable() *table {
	res := c.resolution()
	n := int(c.SafeVoltage/res+0.5) + 1
	if n < 1 {
		n = 1
	}
	t := &table{volts: make([]float64, n), temps: make([]float64, n)}
	for i := 0; i < n; i++ {
		v := float64(i) * res
		if v > c.SafeVoltage {
			v = c.SafeVoltage
		}
		t.volts[i] = v
		t.temps[i] = c.Forward(v)
	}
	return t
}

// Inverse returns, for each temperature, the heater voltage whose forward temperature is
// the first table entry not below it.  Temperatures are clamped to [MinTemp, MaxTemp] and
// the voltages are rounded to 0.1 mV.
//
// The coefficients must not be changed after the first call; the table is built once.
func (c *Calibration) Inverse(temps []float64) []float64 {
	c.once.Do(func() { c.table = c.buildTable() })
	tbl := c.table
	lo, hi := c.MinTemp(), c.MaxTemp()
	out := make([]float64, len(temps))
	last := len(tbl.temps) - 1
	for i, t := range temps {
		t = util.Clamp(t, lo, hi)
		idx := sort.SearchFloat64s(tbl.temps, t)
		if idx > last {
			idx = last
		}
		out[i] = mathx.Round(tbl.volts[idx], 1e-4)
	}
	return out
}
