package calibration

import (
	"errors"
	"fmt"

	"github.com/nanocal/nanodaq/temperature"
)

// input channel assignments of the sensor front end
const (
	// ChanHeaterCurrent carries the heater current sense voltage
	ChanHeaterCurrent = 0

	// ChanModulation carries the thermopile signal after the x121 amplifier cascade
	ChanModulation = 1

	// ChanAux carries the AD595 ambient temperature amplifier
	ChanAux = 3

	// ChanThermopile carries the thermopile signal after the x11 amplifier
	ChanThermopile = 4

	// ChanHeaterVoltage carries the heater voltage sense
	ChanHeaterVoltage = 5
)

// RequiredChannels lists the input channels Physical needs
var RequiredChannels = []int{ChanHeaterCurrent, ChanModulation, ChanAux, ChanThermopile, ChanHeaterVoltage}

// ErrMissingChannel is returned when a raw capture lacks a channel Physical needs
var ErrMissingChannel = errors.New("calibration: raw data is missing a required channel")

// Column names of a physical dataset, in file order
const (
	ColTime   = "time"
	ColTaux   = "Taux"
	ColThtr   = "Thtr"
	ColUref   = "Uref"
	ColTemp   = "temp"
	ColTempHR = "temp-hr"
)

// Columns is the order physical columns are stored in
var Columns = []string{ColTime, ColTaux, ColThtr, ColUref, ColTemp, ColTempHR}

// Physical is a capture converted to physical units.  All slices share one length.
type Physical struct {
	// Time in milliseconds from the first sample
	Time []float64

	// Taux is the ambient temperature, constant over a capture
	Taux []float64

	// Thtr is the heater temperature from its resistance
	Thtr []float64

	// Uref is the reference voltage program that drove the guard heater
	Uref []float64

	// Temp is the thermopile temperature plus ambient
	Temp []float64

	// TempHR is the high resolution (modulation channel) thermopile temperature
	TempHR []float64
}

// Len is the number of samples
func (p Physical) Len() int {
	return len(p.Time)
}

// Column returns a column by name, or nil
func (p Physical) Column(name string) []float64 {
	switch name {
	case ColTime:
		return p.Time
	case ColTaux:
		return p.Taux
	case ColThtr:
		return p.Thtr
	case ColUref:
		return p.Uref
	case ColTemp:
		return p.Temp
	case ColTempHR:
		return p.TempHR
	}
	return nil
}

// Physical converts raw input voltages, keyed by input channel, into physical units.
// rate is the per channel sample rate and uref the voltage program sent to the
// reference heater; it is truncated or zero padded to the capture length.
// raw is not modified.
func (c *Calibration) Physical(raw map[int][]float64, rate float64, uref []float64) (Physical, error) {
	var p Physical
	for _, ch := range RequiredChannels {
		if _, ok := raw[ch]; !ok {
			return p, fmt.Errorf("%w: ai%d", ErrMissingChannel, ch)
		}
	}
	n := len(raw[ChanHeaterCurrent])
	for _, ch := range RequiredChannels {
		if len(raw[ch]) != n {
			return p, fmt.Errorf("calibration: ai%d has %d samples, ai%d has %d",
				ch, len(raw[ch]), ChanHeaterCurrent, n)
		}
	}
	if rate <= 0 {
		return p, fmt.Errorf("calibration: sample rate must be positive, got %f", rate)
	}

	p = Physical{
		Time:   make([]float64, n),
		Taux:   make([]float64, n),
		Thtr:   make([]float64, n),
		Uref:   make([]float64, n),
		Temp:   make([]float64, n),
		TempHR: make([]float64, n),
	}

	var uaux float64
	for _, v := range raw[ChanAux] {
		uaux += v
	}
	if n > 0 {
		uaux /= float64(n)
	}
	taux := float64(temperature.AD595(uaux))

	step := 1000 / rate
	copy(p.Uref, uref)
	for i := 0; i < n; i++ {
		p.Time[i] = float64(i) * step
		p.Taux[i] = taux

		ax := raw[ChanThermopile][i]*(1000./11.) + c.Utpl0
		p.Temp[i] = c.Ttpl0*ax + c.Ttpl1*ax*ax + taux

		ax = raw[ChanModulation][i]*(1000./121.) + c.Utpl0
		p.TempHR[i] = c.Ttpl0*ax + c.Ttpl1*ax*ax

		u0 := raw[ChanHeaterCurrent][i]
		uh := raw[ChanHeaterVoltage][i] * 1000
		ih := c.Ihtr0 + u0*c.Ihtr1
		var r float64
		if ih != 0 {
			r = (uh - u0*1000 + c.Uhtr0) * c.Uhtr1 / ih
		}
		rc := r + c.ThtrCorr
		p.Thtr[i] = c.Thtr0 + c.Thtr1*rc + c.Thtr2*rc*rc
	}
	return p, nil
}
