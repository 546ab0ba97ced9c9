package profile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/ioutil"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/go-yaml/yaml"
)

var (
	// ErrLengthMismatch is returned when a program's time and value columns differ in length
	ErrLengthMismatch = errors.New("profile: time and value columns have different lengths")

	// ErrTooFewPoints is returned for programs with less than two points
	ErrTooFewPoints = errors.New("profile: a program needs at least two points")

	// ErrNotIncreasing is returned when program times do not strictly increase
	ErrNotIncreasing = errors.New("profile: program time must strictly increase")

	// ErrDomain is returned for a program with neither or both of temp and volt
	ErrDomain = errors.New("profile: a program needs exactly one of temp or volt")

	// ErrChannelName is returned for malformed channel keys
	ErrChannelName = errors.New("profile: channel keys look like ch0, ch1, ...")

	// ErrDurationMismatch is returned when channel programs end at different times
	ErrDurationMismatch = errors.New("profile: channel programs have different durations")
)

// Program is the tabular form of a channel program.  Time is in milliseconds,
// and exactly one of Temp or Volt is populated.
type Program struct {
	Time []float64 `json:"time" yaml:"time"`
	Temp []float64 `json:"temp,omitempty" yaml:"temp,omitempty"`
	Volt []float64 `json:"volt,omitempty" yaml:"volt,omitempty"`
}

// Domain reports which column the program uses
func (p Program) Domain() (Domain, error) {
	switch {
	case p.Temp != nil && p.Volt == nil:
		return Temperature, nil
	case p.Volt != nil && p.Temp == nil:
		return Voltage, nil
	}
	return Voltage, ErrDomain
}

// Values returns the populated value column
func (p Program) Values() []float64 {
	if p.Temp != nil {
		return p.Temp
	}
	return p.Volt
}

// Validate checks the shape of the table
func (p Program) Validate() error {
	if _, err := p.Domain(); err != nil {
		return err
	}
	vals := p.Values()
	if len(p.Time) != len(vals) {
		return fmt.Errorf("%w: %d times, %d values", ErrLengthMismatch, len(p.Time), len(vals))
	}
	if len(p.Time) < 2 {
		return ErrTooFewPoints
	}
	for i := 1; i < len(p.Time); i++ {
		if p.Time[i] <= p.Time[i-1] {
			return fmt.Errorf("%w: t[%d]=%g after t[%d]=%g", ErrNotIncreasing, i, p.Time[i], i-1, p.Time[i-1])
		}
	}
	return nil
}

// Duration is the program length in milliseconds
func (p Program) Duration() float64 {
	if len(p.Time) == 0 {
		return 0
	}
	return p.Time[len(p.Time)-1] - p.Time[0]
}

// Profile converts the table to segments.  Each pair of neighbouring points becomes
// one segment, an Isotherm if the values are equal and a Ramp otherwise.
func (p Program) Profile() (Profile, error) {
	if err := p.Validate(); err != nil {
		return Profile{}, err
	}
	d, _ := p.Domain()
	vals := p.Values()
	segs := make([]Segment, 0, len(p.Time)-1)
	for i := 1; i < len(p.Time); i++ {
		t0, t1 := p.Time[i-1]/1000, p.Time[i]/1000
		if vals[i] == vals[i-1] {
			segs = append(segs, NewIsotherm(t0, t1, vals[i]))
		} else {
			segs = append(segs, NewRamp(t0, t1, vals[i-1], vals[i]))
		}
	}
	return Profile{Domain: d, Segments: segs}, nil
}

// Programs holds one program per output channel
type Programs map[int]Program

// ParseChannel converts "ch3" to 3
func ParseChannel(s string) (int, error) {
	if !strings.HasPrefix(s, "ch") {
		return 0, fmt.Errorf("%w: %q", ErrChannelName, s)
	}
	n, err := strconv.Atoi(s[2:])
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %q", ErrChannelName, s)
	}
	return n, nil
}

// ChannelName converts 3 to "ch3"
func ChannelName(ch int) string {
	return "ch" + strconv.Itoa(ch)
}

// DecodePrograms converts the string keyed form {"ch0": {...}} to Programs
func DecodePrograms(m map[string]Program) (Programs, error) {
	out := make(Programs, len(m))
	for k, v := range m {
		ch, err := ParseChannel(k)
		if err != nil {
			return nil, err
		}
		out[ch] = v
	}
	return out, nil
}

// Encode converts Programs to the string keyed form
func (ps Programs) Encode() map[string]Program {
	out := make(map[string]Program, len(ps))
	for ch, p := range ps {
		out[ChannelName(ch)] = p
	}
	return out
}

// Channels returns the channel numbers in increasing order
func (ps Programs) Channels() []int {
	out := make([]int, 0, len(ps))
	for ch := range ps {
		out = append(out, ch)
	}
	sort.Ints(out)
	return out
}

// Check validates every program and that all of them end at the same time.
// It returns the common duration in milliseconds.
func (ps Programs) Check() (float64, error) {
	if len(ps) == 0 {
		return 0, errors.New("profile: no channel programs")
	}
	var end float64
	for i, ch := range ps.Channels() {
		p := ps[ch]
		if err := p.Validate(); err != nil {
			return 0, fmt.Errorf("%s: %w", ChannelName(ch), err)
		}
		last := p.Time[len(p.Time)-1]
		if i == 0 {
			end = last
		} else if last != end {
			return 0, fmt.Errorf("%w: %s ends at %g ms, expected %g ms", ErrDurationMismatch, ChannelName(ch), last, end)
		}
	}
	return end, nil
}

// Profiles converts every program to a Profile
func (ps Programs) Profiles() (map[int]Profile, error) {
	out := make(map[int]Profile, len(ps))
	for ch, p := range ps {
		prof, err := p.Profile()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", ChannelName(ch), err)
		}
		out[ch] = prof
	}
	return out, nil
}

// LoadPrograms reads a program file.  Files ending in .json are decoded as JSON,
// anything else as YAML.
func LoadPrograms(path string) (Programs, error) {
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m := map[string]Program{}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(b, &m)
	} else {
		err = yaml.Unmarshal(b, &m)
	}
	if err != nil {
		return nil, fmt.Errorf("profile: decoding %s: %w", path, err)
	}
	return DecodePrograms(m)
}
