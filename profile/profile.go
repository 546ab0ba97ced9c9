// Package profile describes per-channel output programs as typed, time bounded segments.
//
// A program arrives as a table of (time, value) points per channel.  Program.Profile
// turns the table into a Profile: an ordered, contiguous list of Isotherm and Ramp
// segments in one value domain.  Sine segments are built directly by callers that
// want modulation.
package profile

import (
	"fmt"
	"math"
)

// Kind discriminates the segment variants
type Kind int

const (
	// Isotherm holds a constant value
	Isotherm Kind = iota

	// Ramp moves linearly from the start value to the end value
	Ramp

	// Sine is Amplitude*sin(2*pi*Frequency*t) + Offset
	Sine
)

func (k Kind) String() string {
	switch k {
	case Isotherm:
		return "isotherm"
	case Ramp:
		return "ramp"
	case Sine:
		return "sine"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Domain is the unit of a profile's values
type Domain int

const (
	// Voltage values go to the DAC unchanged
	Voltage Domain = iota

	// Temperature values pass through the inverse calibration first
	Temperature
)

func (d Domain) String() string {
	switch d {
	case Voltage:
		return "volt"
	case Temperature:
		return "temp"
	}
	return fmt.Sprintf("Domain(%d)", int(d))
}

// ParseDomain converts the program table keys "volt" and "temp" to a Domain
func ParseDomain(s string) (Domain, error) {
	switch s {
	case "volt":
		return Voltage, nil
	case "temp":
		return Temperature, nil
	}
	return Voltage, fmt.Errorf("%w: %q", ErrDomain, s)
}

// Segment is one piece of a channel's program.  Times are in seconds.
// Segments are values; nothing in this module mutates one after construction.
type Segment struct {
	Kind Kind

	Start, End float64

	// From and To are the start and end values.  Sine segments leave them at zero.
	From, To float64

	// Sine parameters
	Amplitude, Frequency, Offset float64
}

// NewIsotherm returns a segment holding value over [start, end]
func NewIsotherm(start, end, value float64) Segment {
	return Segment{Kind: Isotherm, Start: start, End: end, From: value, To: value}
}

// NewRamp returns a segment moving from one value to another over [start, end]
func NewRamp(start, end, from, to float64) Segment {
	return Segment{Kind: Ramp, Start: start, End: end, From: from, To: to}
}

// NewSine returns a sine segment over [start, end]
func NewSine(start, end, amplitude, frequency, offset float64) Segment {
	return Segment{Kind: Sine, Start: start, End: end, Amplitude: amplitude, Frequency: frequency, Offset: offset}
}

// Duration is End - Start
func (s Segment) Duration() float64 {
	return s.End - s.Start
}

// Rate is the slope of the segment in value units per second.  It is zero for
// isotherms and sines.
func (s Segment) Rate() float64 {
	if s.Kind != Ramp || s.Duration() == 0 {
		return 0
	}
	return (s.To - s.From) / s.Duration()
}

// Profile is the program of one output channel
type Profile struct {
	Domain   Domain
	Segments []Segment
}

// New returns a profile of the given segments
func New(d Domain, segs ...Segment) Profile {
	return Profile{Domain: d, Segments: segs}
}

// Start is the start time of the first segment
func (p Profile) Start() float64 {
	if len(p.Segments) == 0 {
		return 0
	}
	return p.Segments[0].Start
}

// End is the end time of the last segment
func (p Profile) End() float64 {
	if len(p.Segments) == 0 {
		return 0
	}
	return p.Segments[len(p.Segments)-1].End
}

// Duration is the sum of the segment durations
func (p Profile) Duration() float64 {
	var d float64
	for _, s := range p.Segments {
		d += s.Duration()
	}
	return d
}

// Contiguous reports whether every segment starts where the previous one ended
// and has positive duration.  Synthesis assumes it and does not check.
func (p Profile) Contiguous() bool {
	for i, s := range p.Segments {
		if s.Duration() <= 0 {
			return false
		}
		if i > 0 && math.Abs(s.Start-p.Segments[i-1].End) > 1e-9 {
			return false
		}
	}
	return true
}
