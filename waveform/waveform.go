// Package waveform turns per-channel segment profiles into interleaved DAC scan buffers.
//
// A Synthesizer samples each channel's profile at a fixed rate, maps temperature
// profiles to voltages through an Inverter, and interleaves the channels so sample i
// of channel c sits at index i*channels+c.  Long profiles can instead be synthesized
// lazily, one fixed-duration chunk at a time, with Chunks.
package waveform

import (
	"errors"
	"fmt"
	"math"

	"github.com/nanocal/nanodaq/mathx"
	"github.com/nanocal/nanodaq/mccdaq"
	"github.com/nanocal/nanodaq/profile"
)

var (
	// ErrDurationMismatch is returned when channel profiles have different total durations
	ErrDurationMismatch = errors.New("waveform: channel profiles have different durations")

	// ErrNonIntegral is returned when a duration does not hold a whole number of samples
	ErrNonIntegral = errors.New("waveform: duration is not a whole number of samples")

	// ErrSampleCount is returned when channels synthesize to different sample counts
	ErrSampleCount = errors.New("waveform: channels synthesized to different sample counts")

	// ErrChannelRange is returned for a profile on a channel outside the output range
	ErrChannelRange = errors.New("waveform: profile channel outside the output range")

	// ErrUnknownKind is returned for a segment of an unknown kind
	ErrUnknownKind = errors.New("waveform: unknown segment kind")

	// ErrEmptyProfile is returned when there is nothing to synthesize
	ErrEmptyProfile = errors.New("waveform: empty profile")
)

// integralTol is how far d*rate may stray from an integer and still count as one
const integralTol = 1e-6

// Inverter maps temperatures to the voltages that produce them
type Inverter interface {
	Inverse(temps []float64) []float64
}

// Synthesizer builds scan buffers for the channels in Channels
type Synthesizer struct {
	// Rate is the sample rate in Hz
	Rate float64

	// Channels is the output channel range; the buffer interleaves all of them
	Channels mccdaq.ChannelRange

	// Calibration converts temperature profiles to voltages
	Calibration Inverter
}

// SampleCount is the number of samples of duration d at rate, failing when it is not integral
func SampleCount(d, rate float64) (int, error) {
	x := d * rate
	n := math.Round(x)
	if math.Abs(x-n) > integralTol*math.Max(1, math.Abs(x)) {
		return 0, fmt.Errorf("%w: %g s at %g Hz is %g samples", ErrNonIntegral, d, rate, x)
	}
	return int(n), nil
}

// Sample returns the samples of one segment at rate, in the segment's own value domain.
//
// Isotherms and ramps have round(d*rate) points evenly spaced from the start value
// to the end value inclusive.  Sines are built of floor(d*frequency) whole cycles
// of round(rate/frequency) points each; a partial trailing cycle is dropped.
func Sample(s profile.Segment, rate float64) ([]float64, error) {
	switch s.Kind {
	case profile.Isotherm, profile.Ramp:
		n := int(math.Round(s.Duration() * rate))
		return mathx.Linspace(s.From, s.To, n), nil
	case profile.Sine:
		if s.Frequency <= 0 {
			return nil, fmt.Errorf("waveform: sine frequency must be positive, got %g", s.Frequency)
		}
		waves := int(math.Floor(s.Duration()*s.Frequency + 1e-9))
		period := int(math.Round(rate / s.Frequency))
		cycle := make([]float64, period)
		for k := range cycle {
			cycle[k] = s.Amplitude*math.Sin(2*math.Pi*float64(k)/float64(period)) + s.Offset
		}
		out := make([]float64, 0, waves*period)
		for i := 0; i < waves; i++ {
			out = append(out, cycle...)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrUnknownKind, s.Kind)
}

// Channel returns the voltage samples of one profile.  Temperature profiles are
// mapped through the calibration.
func (s Synthesizer) Channel(p profile.Profile) ([]float64, error) {
	if len(p.Segments) == 0 {
		return nil, ErrEmptyProfile
	}
	var out []float64
	for i, seg := range p.Segments {
		if seg.Kind != profile.Sine {
			if _, err := SampleCount(seg.Duration(), s.Rate); err != nil {
				return nil, fmt.Errorf("segment %d: %w", i, err)
			}
		}
		v, err := Sample(seg, s.Rate)
		if err != nil {
			return nil, fmt.Errorf("segment %d: %w", i, err)
		}
		out = append(out, v...)
	}
	if p.Domain == profile.Temperature {
		if s.Calibration == nil {
			return nil, errors.New("waveform: temperature profile without a calibration")
		}
		out = s.Calibration.Inverse(out)
	}
	return out, nil
}

// Validate performs the checks of Synthesize that need no sampling: every profile
// is on a channel in range and non-empty, and all durations agree.  It returns the
// common duration.
func (s Synthesizer) Validate(profiles map[int]profile.Profile) (float64, error) {
	if s.Rate <= 0 {
		return 0, fmt.Errorf("waveform: sample rate must be positive, got %g", s.Rate)
	}
	if err := s.Channels.Validate(); err != nil {
		return 0, err
	}
	if len(profiles) == 0 {
		return 0, ErrEmptyProfile
	}
	var (
		dur   float64
		first = true
		fch   int
	)
	for ch := s.Channels.Low; ch <= s.Channels.High; ch++ {
		p, ok := profiles[ch]
		if !ok {
			continue
		}
		if len(p.Segments) == 0 {
			return 0, fmt.Errorf("%s: %w", profile.ChannelName(ch), ErrEmptyProfile)
		}
		d := p.Duration()
		if first {
			dur, fch, first = d, ch, false
		} else if math.Abs(d-dur) > 1e-9 {
			return 0, fmt.Errorf("%w: %s lasts %g s, %s lasts %g s", ErrDurationMismatch, profile.ChannelName(ch), d, profile.ChannelName(fch), dur)
		}
	}
	for ch := range profiles {
		if !s.Channels.Contains(ch) {
			return 0, fmt.Errorf("%w: %s not in %s", ErrChannelRange, profile.ChannelName(ch), s.Channels)
		}
	}
	return dur, nil
}

// Synthesize builds the interleaved scan buffer for profiles.  Channels in range
// without a profile output zero.
func (s Synthesizer) Synthesize(profiles map[int]profile.Profile) ([]float64, error) {
	if _, err := s.Validate(profiles); err != nil {
		return nil, err
	}
	cols := make([][]float64, s.Channels.Count())
	n := -1
	for ch := s.Channels.Low; ch <= s.Channels.High; ch++ {
		p, ok := profiles[ch]
		if !ok {
			continue
		}
		v, err := s.Channel(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", profile.ChannelName(ch), err)
		}
		if n >= 0 && len(v) != n {
			return nil, fmt.Errorf("%w: %s has %d, expected %d", ErrSampleCount, profile.ChannelName(ch), len(v), n)
		}
		n = len(v)
		cols[ch-s.Channels.Low] = v
	}
	for i := range cols {
		if cols[i] == nil {
			cols[i] = make([]float64, n)
		}
	}
	return Interleave(cols), nil
}

// Interleave merges equal length columns into one buffer with out[i*len(cols)+c] = cols[c][i]
func Interleave(cols [][]float64) []float64 {
	if len(cols) == 0 {
		return nil
	}
	n := len(cols[0])
	c := len(cols)
	out := make([]float64, n*c)
	for j, col := range cols {
		for i := 0; i < n; i++ {
			out[i*c+j] = col[i]
		}
	}
	return out
}

// Deinterleave splits an interleaved buffer of c channels into columns
func Deinterleave(buf []float64, c int) [][]float64 {
	if c <= 0 {
		return nil
	}
	n := len(buf) / c
	out := make([][]float64, c)
	for j := range out {
		col := make([]float64, n)
		for i := range col {
			col[i] = buf[i*c+j]
		}
		out[j] = col
	}
	return out
}
