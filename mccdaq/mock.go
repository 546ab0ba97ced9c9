package mccdaq

import (
	"fmt"
	"sync"
	"time"
)

// Mock is a simulated board.  Scans advance with the clock returned by Now:
// a scan started at t0 has completed floor((Now()-t0)*rate) scans, and input
// samples are produced by Signal when they are first observed.
//
// The zero value is a connected board with 8 input and 4 output channels that
// reads zero on every input.
type Mock struct {
	// Now is the clock, time.Now if nil
	Now func() time.Time

	// Signal returns the voltage of input channel ch at t seconds into the scan
	Signal func(ch int, t float64) float64

	InputChannels  int
	OutputChannels int

	NoPacer          bool
	Disconnected     bool
	DifferentialOnly bool

	mu     sync.Mutex
	ai     mockScan
	ao     mockScan
	static map[int]float64
}

type mockScan struct {
	start      time.Time
	rate       float64
	ch         ChannelRange
	spc        int
	continuous bool
	running    bool
	buf        []float64
	filled     uint64
}

func (m *Mock) now() time.Time {
	if m.Now == nil {
		return time.Now()
	}
	return m.Now()
}

// advance brings s up to date with the clock and returns the number of complete scans
func (m *Mock) advance(s *mockScan, produce bool) uint64 {
	if !s.running {
		return s.filled
	}
	scans := uint64(m.now().Sub(s.start).Seconds()*s.rate + 1e-9)
	if !s.continuous && scans >= uint64(s.spc) {
		scans = uint64(s.spc)
		s.running = false
	}
	if produce {
		n := s.ch.Count()
		// only the most recent buffer's worth of samples can still be in the ring
		k := s.filled
		if scans > uint64(s.spc) && scans-uint64(s.spc) > k {
			k = scans - uint64(s.spc)
		}
		for ; k < scans; k++ {
			base := int(k%uint64(s.spc)) * n
			t := float64(k) / s.rate
			for c := 0; c < n; c++ {
				v := 0.
				if m.Signal != nil {
					v = m.Signal(s.ch.Low+c, t)
				}
				s.buf[base+c] = v
			}
		}
	}
	s.filled = scans
	return scans
}

func (m *Mock) status(s *mockScan, produce bool) (ScanStatus, TransferStatus) {
	scans := m.advance(s, produce)
	xf := TransferStatus{
		CurrentScanCount:  scans,
		CurrentTotalCount: scans * uint64(s.ch.Count()),
		CurrentIndex:      -1,
	}
	if scans > 0 && s.spc > 0 {
		xf.CurrentIndex = int((scans-1)%uint64(s.spc)) * s.ch.Count()
	}
	if s.running {
		return Running, xf
	}
	return Idle, xf
}

// Connected reports whether the board is connected
func (m *Mock) Connected() bool {
	return !m.Disconnected
}

// AnalogInput returns the simulated input subsystem
func (m *Mock) AnalogInput() (AnalogInput, error) {
	if m.Disconnected {
		return nil, ErrNotConnected
	}
	return mockAI{m}, nil
}

// AnalogOutput returns the simulated output subsystem
func (m *Mock) AnalogOutput() (AnalogOutput, error) {
	if m.Disconnected {
		return nil, ErrNotConnected
	}
	return mockAO{m}, nil
}

// Close stops both scans
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ai.running = false
	m.ao.running = false
	return nil
}

// Static returns the last static voltage set on an output channel
func (m *Mock) Static(channel int) (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.static[channel]
	return v, ok
}

// Played returns a copy of the samples most recently handed to the output scan
func (m *Mock) Played() []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]float64(nil), m.ao.buf...)
}

func (m *Mock) inputs() int {
	if m.InputChannels == 0 {
		return 8
	}
	return m.InputChannels
}

func (m *Mock) outputs() int {
	if m.OutputChannels == 0 {
		return 4
	}
	return m.OutputChannels
}

func checkScan(ch ChannelRange, limit int, rate float64, spc int) error {
	if err := ch.Validate(); err != nil {
		return err
	}
	if ch.High >= limit {
		return fmt.Errorf("%w: %s on a board with %d channels", ErrChannelRange, ch, limit)
	}
	if rate <= 0 || spc <= 0 {
		return fmt.Errorf("mccdaq: rate %g and samples per channel %d must be positive", rate, spc)
	}
	return nil
}

type mockAI struct{ m *Mock }

func (a mockAI) Info() (InputInfo, error) {
	n := a.m.inputs()
	info := InputInfo{
		HasPacer: !a.m.NoPacer,
		Channels: map[InputMode]int{SingleEnded: n, Differential: n / 2},
		Ranges:   []int{5, 1, 14, 15},
	}
	if a.m.DifferentialOnly {
		info.Channels[SingleEnded] = 0
	}
	return info, nil
}

func (a mockAI) ScanInput(ch ChannelRange, mode InputMode, rng int, rate float64, samplesPerChannel int, opts ScanOption, flags ScanFlag) (float64, error) {
	m := a.m
	if err := checkScan(ch, m.inputs(), rate, samplesPerChannel); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ai = mockScan{
		start:      m.now(),
		rate:       rate,
		ch:         ch,
		spc:        samplesPerChannel,
		continuous: opts&Continuous != 0,
		running:    true,
		buf:        make([]float64, ch.Count()*samplesPerChannel),
	}
	return rate, nil
}

func (a mockAI) Buffer() []float64 {
	m := a.m
	m.mu.Lock()
	defer m.mu.Unlock()
	m.advance(&m.ai, true)
	return m.ai.buf
}

func (a mockAI) Status() (ScanStatus, TransferStatus, error) {
	m := a.m
	m.mu.Lock()
	defer m.mu.Unlock()
	st, xf := m.status(&m.ai, true)
	return st, xf, nil
}

func (a mockAI) Stop() error {
	m := a.m
	m.mu.Lock()
	defer m.mu.Unlock()
	m.advance(&m.ai, true)
	m.ai.running = false
	return nil
}

type mockAO struct{ m *Mock }

func (a mockAO) Info() (OutputInfo, error) {
	return OutputInfo{HasPacer: !a.m.NoPacer, Channels: a.m.outputs(), Ranges: []int{5}}, nil
}

func (a mockAO) ScanOutput(ch ChannelRange, rng int, rate float64, opts ScanOption, flags ScanFlag, buf []float64) (float64, error) {
	m := a.m
	if len(buf) == 0 {
		return 0, fmt.Errorf("mccdaq: empty output buffer")
	}
	spc := len(buf) / ch.Count()
	if err := checkScan(ch, m.outputs(), rate, spc); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ao = mockScan{
		start:      m.now(),
		rate:       rate,
		ch:         ch,
		spc:        spc,
		continuous: opts&Continuous != 0,
		running:    true,
		buf:        append([]float64(nil), buf...),
	}
	return rate, nil
}

func (a mockAO) Buffer() []float64 {
	m := a.m
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ao.buf
}

func (a mockAO) Output(channel int, rng int, volts float64) error {
	m := a.m
	if channel < 0 || channel >= m.outputs() {
		return fmt.Errorf("%w: output channel %d", ErrChannelRange, channel)
	}
	if volts < -10 || volts > 10 {
		return fmt.Errorf("mccdaq: %g V is outside the +/-10 V output range", volts)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.static == nil {
		m.static = map[int]float64{}
	}
	m.static[channel] = volts
	return nil
}

func (a mockAO) Status() (ScanStatus, TransferStatus, error) {
	m := a.m
	m.mu.Lock()
	defer m.mu.Unlock()
	st, xf := m.status(&m.ao, false)
	return st, xf, nil
}

func (a mockAO) Stop() error {
	m := a.m
	m.mu.Lock()
	defer m.mu.Unlock()
	m.advance(&m.ao, false)
	m.ao.running = false
	return nil
}
