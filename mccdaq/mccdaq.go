// Package mccdaq provides a Go interface to paced analog I/O on MCC DAQ boards.
//
// The vendor library runs input and output scans as autonomous background transfers
// into and out of driver owned ring buffers.  This package exposes that model as
// small interfaces (AnalogInput, AnalogOutput, Board) plus handles that check the
// hardware preconditions of a scan once, up front.  The real driver binding lives in
// uldaq.go behind the uldaq build tag; Mock simulates a board.
package mccdaq

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoDriver is returned by Open when built without the uldaq tag
	ErrNoDriver = errors.New("mccdaq: built without uldaq support")

	// ErrNoDevice is returned when no board is found
	ErrNoDevice = errors.New("mccdaq: no DAQ device detected")

	// ErrNotConnected is returned when a handle is requested from a disconnected board
	ErrNotConnected = errors.New("mccdaq: device is not connected")

	// ErrNoPacer is returned when a subsystem cannot do hardware paced scans
	ErrNoPacer = errors.New("mccdaq: subsystem does not support paced i/o")

	// ErrChannelRange is returned for an empty or out of bounds channel range
	ErrChannelRange = errors.New("mccdaq: invalid channel range")
)

// ChannelRange is the inclusive range of channels in a scan
type ChannelRange struct {
	Low, High int
}

// Count is the number of channels in the range
func (c ChannelRange) Count() int {
	return c.High - c.Low + 1
}

// Contains reports whether ch lies in the range
func (c ChannelRange) Contains(ch int) bool {
	return ch >= c.Low && ch <= c.High
}

// Validate checks that the range is not empty or negative
func (c ChannelRange) Validate() error {
	if c.Low < 0 || c.High < c.Low {
		return fmt.Errorf("%w: [%d, %d]", ErrChannelRange, c.Low, c.High)
	}
	return nil
}

func (c ChannelRange) String() string {
	return fmt.Sprintf("%d-%d", c.Low, c.High)
}

// ScanStatus is the run state of a scan
type ScanStatus int

const (
	// Idle means no scan is running
	Idle ScanStatus = 0

	// Running means a scan is in progress
	Running ScanStatus = 1
)

func (s ScanStatus) String() string {
	if s == Running {
		return "running"
	}
	return "idle"
}

// TransferStatus is the progress of a running scan
type TransferStatus struct {
	// CurrentScanCount is the number of complete scans (one sample per channel)
	CurrentScanCount uint64

	// CurrentTotalCount is the number of samples transferred
	CurrentTotalCount uint64

	// CurrentIndex is the buffer index of the most recent sample; it is
	// -1 until the first sample arrives
	CurrentIndex int
}

// InputMode selects single-ended or differential inputs
type InputMode int

const (
	// Differential inputs
	Differential InputMode = 1

	// SingleEnded inputs
	SingleEnded InputMode = 2
)

// ParseInputMode parses "single-ended" or "differential"
func ParseInputMode(s string) (InputMode, error) {
	switch strings.ToLower(strings.ReplaceAll(s, "_", "-")) {
	case "single-ended", "singleended", "se":
		return SingleEnded, nil
	case "differential", "diff":
		return Differential, nil
	}
	return SingleEnded, fmt.Errorf("mccdaq: unknown input mode %q", s)
}

func (m InputMode) String() string {
	if m == Differential {
		return "differential"
	}
	return "single-ended"
}

// ScanOption is a bit field of scan options, values match the vendor library
type ScanOption int

const (
	DefaultIO   ScanOption = 0
	SingleIO    ScanOption = 1 << 0
	BlockIO     ScanOption = 1 << 1
	BurstIO     ScanOption = 1 << 2
	Continuous  ScanOption = 1 << 3
	ExtClock    ScanOption = 1 << 4
	ExtTrigger  ScanOption = 1 << 5
	Retrigger   ScanOption = 1 << 6
	BurstMode   ScanOption = 1 << 7
	PacerOut    ScanOption = 1 << 8
	ExtTimebase ScanOption = 1 << 9
	TimebaseOut ScanOption = 1 << 10
)

// ScanFlag is a bit field of data flags, passed through to the vendor library
type ScanFlag int

// InterfaceType selects which buses to search for a board
type InterfaceType int

const (
	USB       InterfaceType = 1 << 0
	Bluetooth InterfaceType = 1 << 1
	Ethernet  InterfaceType = 1 << 2
	AnyIface  InterfaceType = USB | Bluetooth | Ethernet
)

// ParseInterfaceType parses usb, bluetooth, ethernet, or any
func ParseInterfaceType(s string) (InterfaceType, error) {
	switch strings.ToLower(s) {
	case "usb":
		return USB, nil
	case "bluetooth":
		return Bluetooth, nil
	case "ethernet":
		return Ethernet, nil
	case "any", "":
		return AnyIface, nil
	}
	return AnyIface, fmt.Errorf("mccdaq: unknown interface type %q", s)
}

// InputInfo describes the capabilities of an analog input subsystem
type InputInfo struct {
	HasPacer bool

	// Channels maps an input mode to the number of channels available in it
	Channels map[InputMode]int

	// Ranges lists the vendor range codes available, indexed by range id
	Ranges []int
}

// OutputInfo describes the capabilities of an analog output subsystem
type OutputInfo struct {
	HasPacer bool
	Channels int
	Ranges   []int
}

// AnalogInput is the input subsystem of a board
type AnalogInput interface {
	Info() (InputInfo, error)

	// ScanInput starts a scan into the driver owned buffer and returns the actual rate
	ScanInput(ch ChannelRange, mode InputMode, rng int, rate float64, samplesPerChannel int, opts ScanOption, flags ScanFlag) (float64, error)

	// Buffer is the live ring buffer of the most recent scan
	Buffer() []float64

	Status() (ScanStatus, TransferStatus, error)
	Stop() error
}

// AnalogOutput is the output subsystem of a board
type AnalogOutput interface {
	Info() (OutputInfo, error)

	// ScanOutput copies buf into the driver buffer and starts a scan, returning the actual rate
	ScanOutput(ch ChannelRange, rng int, rate float64, opts ScanOption, flags ScanFlag, buf []float64) (float64, error)

	// Buffer is the live buffer of the most recent scan; writing to it changes what is played
	Buffer() []float64

	// Output sets one channel to a static voltage
	Output(channel int, rng int, volts float64) error

	Status() (ScanStatus, TransferStatus, error)
	Stop() error
}

// Board is a connected DAQ device
type Board interface {
	Connected() bool
	AnalogInput() (AnalogInput, error)
	AnalogOutput() (AnalogOutput, error)
	Close() error
}
