// Package experiment runs temperature programs on the DAQ board.
//
// A Manager is armed with a set of channel programs, which are validated and
// synthesized up front.  Run then plays the programs on the analog outputs while
// draining the inputs into per-buffer segments, merges the segments, converts the
// capture to physical units, and stores the result as a dataset.  Between runs the
// Manager can hold a channel at a static value, modulate it with a sine, or
// monitor the inputs without bound.
package experiment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"sync"

	"github.com/nanocal/nanodaq/acquire"
	"github.com/nanocal/nanodaq/calibration"
	"github.com/nanocal/nanodaq/dataset"
	"github.com/nanocal/nanodaq/mccdaq"
	"github.com/nanocal/nanodaq/profile"
	"github.com/nanocal/nanodaq/rawrec"
	"github.com/nanocal/nanodaq/settings"
	"github.com/nanocal/nanodaq/util"
	"github.com/nanocal/nanodaq/waveform"
)

// file names in the data folder
const (
	SegmentPrefix = "raw_data_buffer_"
	RawFile       = "raw_data" + rawrec.Ext
	ScratchPrefix = "dummy_"
	DatasetFile   = "experiment_data.fits"
)

// UrefChannel is the output channel whose voltage profile is stored as Uref
const UrefChannel = 1

// ChunkSeconds is the length of one streamed output chunk
const ChunkSeconds = 1.

var (
	// ErrNotArmed is returned by Run before a successful Arm
	ErrNotArmed = errors.New("experiment: not armed")

	// ErrBusy is returned when the board is already in use by a run or a monitor
	ErrBusy = errors.New("experiment: board busy")

	// ErrIncomplete is returned when a run ended before its programs did
	ErrIncomplete = errors.New("experiment: acquisition ended early")

	// ErrNoDataset is returned by ReadDataset before any run has finished
	ErrNoDataset = errors.New("experiment: no dataset")
)

// State is the lifecycle state of a Manager
type State int

const (
	// Unarmed has no programs loaded
	Unarmed State = iota

	// Armed has validated programs ready to run
	Armed

	// Running is executing a bounded run
	Running

	// Done finished its last run and holds a dataset
	Done

	// Failed had its last run fail
	Failed
)

func (s State) String() string {
	switch s {
	case Unarmed:
		return "unarmed"
	case Armed:
		return "armed"
	case Running:
		return "running"
	case Done:
		return "done"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Listener is told about every state change
type Listener interface {
	StateChanged(s State)
}

// Manager orchestrates runs on one board.  It is safe for concurrent use; only
// one run or monitor may use the board at a time.
type Manager struct {
	board mccdaq.Board
	cfg   settings.Settings

	// Observer, if not nil, sees every drained half of every acquisition
	Observer acquire.Observer

	mu        sync.Mutex
	state     State
	cal       *calibration.Calibration
	programs  profile.Programs
	profiles  map[int]profile.Profile
	duration  float64
	output    []float64
	chunks    *waveform.Chunks
	ds        *dataset.Dataset
	lastErr   error
	cancel    context.CancelFunc
	busy      bool
	listeners []Listener
}

// New returns an unarmed manager.  A nil calibration uses calibration.Default.
func New(b mccdaq.Board, cfg settings.Settings, cal *calibration.Calibration) *Manager {
	if cal == nil {
		cal = calibration.Default()
	}
	return &Manager{board: b, cfg: cfg, cal: cal}
}

// AddListener registers l for state changes
func (m *Manager) AddListener(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// setState must be called with mu held; it returns the listeners to notify
func (m *Manager) setState(s State) []Listener {
	if m.state != s {
		log.Printf("experiment: %s -> %s", m.state, s)
	}
	m.state = s
	return append([]Listener(nil), m.listeners...)
}

func notify(ls []Listener, s State) {
	for _, l := range ls {
		l.StateChanged(s)
	}
}

// State returns the current state
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Err is the error that failed the last run, if any
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Settings returns the configuration the manager runs with
func (m *Manager) Settings() settings.Settings {
	return m.cfg
}

// Calibration returns the active calibration
func (m *Manager) Calibration() *calibration.Calibration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cal
}

// Programs returns the armed programs
func (m *Manager) Programs() profile.Programs {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.programs
}

func (m *Manager) rate() float64 {
	return m.cfg.Experiment.Scan.SampleRate
}

func (m *Manager) synth(cal *calibration.Calibration) waveform.Synthesizer {
	return waveform.Synthesizer{
		Rate:        m.rate(),
		Channels:    m.cfg.OutputConfig().Channels,
		Calibration: cal,
	}
}

func (m *Manager) streams(dur float64) bool {
	above := m.cfg.Experiment.Scan.StreamAbove
	return above > 0 && dur > above
}

// samplesPerChannel is one second of scans, the length of the input ring
func (m *Manager) samplesPerChannel() (int, error) {
	r := m.rate()
	if r != math.Trunc(r) || int(r)%2 != 0 {
		return 0, fmt.Errorf("experiment: sample rate %g Hz must be an even whole number", r)
	}
	return int(r), nil
}

// arm validates programs against cal; it must be called with mu held
func (m *Manager) arm(programs profile.Programs, cal *calibration.Calibration) error {
	if _, err := m.samplesPerChannel(); err != nil {
		return err
	}
	if _, err := programs.Check(); err != nil {
		return err
	}
	profiles, err := programs.Profiles()
	if err != nil {
		return err
	}
	s := m.synth(cal)
	dur, err := s.Validate(profiles)
	if err != nil {
		return err
	}
	if m.cfg.Experiment.Scan.WholeSeconds && math.Abs(dur-math.Round(dur)) > 1e-9 {
		return fmt.Errorf("%w: program lasts %g s, whole seconds are required", waveform.ErrNonIntegral, dur)
	}
	var (
		out []float64
		it  *waveform.Chunks
	)
	if m.streams(dur) {
		// synthesize every chunk once so errors surface now and not mid-run
		it, err = s.Chunks(profiles, ChunkSeconds)
		if err != nil {
			return err
		}
		for {
			if _, err := it.Next(); err != nil {
				if errors.Is(err, io.EOF) {
					break
				}
				return err
			}
		}
		it.Reset()
	} else if out, err = s.Synthesize(profiles); err != nil {
		return err
	}
	m.programs, m.profiles, m.duration, m.output, m.chunks = programs, profiles, dur, out, it
	return nil
}

// Arm validates and synthesizes programs.  On failure the manager is left unarmed.
func (m *Manager) Arm(programs profile.Programs) error {
	m.mu.Lock()
	if m.busy {
		m.mu.Unlock()
		return ErrBusy
	}
	err := m.arm(programs, m.cal)
	var ls []Listener
	if err != nil {
		m.programs, m.profiles, m.output, m.chunks = nil, nil, nil, nil
		ls = m.setState(Unarmed)
	} else {
		ls = m.setState(Armed)
	}
	s, dur := m.state, m.duration
	m.mu.Unlock()
	if err == nil {
		log.Printf("experiment: armed %d channels, %v", len(programs), util.SecsToDuration(dur))
	}
	notify(ls, s)
	return err
}

// SetCalibration replaces the calibration.  Armed programs are synthesized again
// with it, and the manager drops to unarmed if they no longer fit.
func (m *Manager) SetCalibration(cal *calibration.Calibration) error {
	if cal == nil {
		return errors.New("experiment: nil calibration")
	}
	m.mu.Lock()
	if m.busy {
		m.mu.Unlock()
		return ErrBusy
	}
	var err error
	if m.state == Armed {
		if err = m.arm(m.programs, cal); err != nil {
			ls := m.setState(Unarmed)
			m.cal = cal
			m.mu.Unlock()
			notify(ls, Unarmed)
			return err
		}
	}
	m.cal = cal
	m.mu.Unlock()
	return nil
}

// claim marks the board busy, returning a context cancelled by StopInput
func (m *Manager) claim(ctx context.Context) (context.Context, error) {
	if m.busy {
		return nil, ErrBusy
	}
	ctx, cancel := context.WithCancel(ctx)
	m.busy, m.cancel = true, cancel
	return ctx, nil
}

func (m *Manager) release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.cancel()
	}
	m.busy, m.cancel = false, nil
}

// StopInput ends the active run or monitor.  A stopped run still produces a
// dataset from what was captured.
func (m *Manager) StopInput() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		log.Println("experiment: stop requested")
		m.cancel()
	}
}

// Busy reports whether a run or monitor is using the board
func (m *Manager) Busy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.busy
}

// ReadDataset returns the dataset of the last run
func (m *Manager) ReadDataset() (*dataset.Dataset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ds == nil {
		return nil, ErrNoDataset
	}
	return m.ds, nil
}

func (m *Manager) dataDir() (string, error) {
	dir := m.cfg.Experiment.Paths.Data
	if dir == "" {
		dir = "."
	}
	return dir, os.MkdirAll(dir, 0755)
}

func (m *Manager) inputHandle() (*mccdaq.InputHandle, error) {
	return mccdaq.NewInputHandle(m.board, m.cfg.InputConfig())
}

func (m *Manager) outputHandle(opts mccdaq.ScanOption) (*mccdaq.OutputHandle, error) {
	cfg := m.cfg.OutputConfig()
	cfg.Options |= opts
	return mccdaq.NewOutputHandle(m.board, cfg)
}

// Hold drives one output channel to a static value.  Temperatures pass through the
// inverse calibration.  It returns the voltage written.
func (m *Manager) Hold(channel int, value float64, domain profile.Domain) (float64, error) {
	m.mu.Lock()
	if m.busy {
		m.mu.Unlock()
		return 0, ErrBusy
	}
	cal := m.cal
	m.mu.Unlock()
	volts := value
	if domain == profile.Temperature {
		volts = cal.Inverse([]float64{value})[0]
	}
	if err := m.Output(channel, volts); err != nil {
		return 0, err
	}
	log.Printf("experiment: holding %s at %g %s (%g V)", profile.ChannelName(channel), value, domain, volts)
	return volts, nil
}

// Output writes a raw static voltage to one output channel
func (m *Manager) Output(channel int, volts float64) error {
	if m.Busy() {
		return ErrBusy
	}
	out, err := m.outputHandle(mccdaq.DefaultIO)
	if err != nil {
		return err
	}
	return out.Set(channel, volts)
}
