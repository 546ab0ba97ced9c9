package experiment

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/multierr"

	"github.com/nanocal/nanodaq/acquire"
	"github.com/nanocal/nanodaq/calibration"
	"github.com/nanocal/nanodaq/dataset"
	"github.com/nanocal/nanodaq/mccdaq"
	"github.com/nanocal/nanodaq/profile"
	"github.com/nanocal/nanodaq/rawrec"
	"github.com/nanocal/nanodaq/util"
	"github.com/nanocal/nanodaq/waveform"
)

var errNoSamples = fmt.Errorf("%w: no samples were captured", ErrIncomplete)

// plan is a snapshot of everything a run needs, taken under the lock
type plan struct {
	cal      *calibration.Calibration
	programs profile.Programs
	profiles map[int]profile.Profile
	duration float64
	output   []float64
	chunks   *waveform.Chunks
}

// Run plays the armed programs and records the inputs until the programs end,
// StopInput is called, or ctx is cancelled.  Both scans are stopped on every path.
//
// A run cut short by the hardware still produces a dataset from what was captured,
// but the manager ends Failed and ErrIncomplete is returned.  A run stopped before
// the first half buffer drained ends Done without a dataset.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	if m.state != Armed {
		busy := m.busy
		m.mu.Unlock()
		if busy {
			return ErrBusy
		}
		return ErrNotArmed
	}
	ctx, err := m.claim(ctx)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	p := plan{cal: m.cal, programs: m.programs, profiles: m.profiles, duration: m.duration, output: m.output, chunks: m.chunks}
	ls := m.setState(Running)
	m.lastErr = nil
	m.mu.Unlock()
	notify(ls, Running)
	defer m.release()

	ds, err := m.run(ctx, p)

	m.mu.Lock()
	final := Done
	if err != nil {
		final = Failed
		m.lastErr = err
	}
	if ds != nil || err == nil {
		m.ds = ds
	}
	ls = m.setState(final)
	m.mu.Unlock()
	notify(ls, final)
	return err
}

func (m *Manager) run(ctx context.Context, p plan) (*dataset.Dataset, error) {
	spc, err := m.samplesPerChannel()
	if err != nil {
		return nil, err
	}
	dir, err := m.dataDir()
	if err != nil {
		return nil, err
	}
	rate := m.rate()
	streaming := m.streams(p.duration)
	opts := mccdaq.DefaultIO
	if streaming {
		opts = mccdaq.Continuous
	}
	in, err := m.inputHandle()
	if err != nil {
		return nil, err
	}
	out, err := m.outputHandle(opts)
	if err != nil {
		return nil, err
	}
	channels := in.Config().Channels.Count()
	rec := &rawrec.Recorder{Root: dir, Prefix: SegmentPrefix, Channels: channels}
	if err := rec.Clean(); err != nil {
		return nil, fmt.Errorf("experiment: removing stale segments: %w", err)
	}

	var feeder *acquire.Feeder
	ring := p.output
	if streaming {
		if p.chunks == nil {
			return nil, errors.New("experiment: streaming run armed without chunks")
		}
		p.chunks.Reset()
		feeder, ring, err = acquire.NewFeeder(out, p.chunks, out.Config().Channels.Count())
		if err != nil {
			return nil, err
		}
		log.Printf("experiment: streaming %d chunks of %g s", p.chunks.Len(), ChunkSeconds)
	}
	if _, err := out.Scan(rate, ring); err != nil {
		return nil, fmt.Errorf("experiment: starting output: %w", err)
	}
	if _, err := in.Scan(rate, spc); err != nil {
		return nil, multierr.Append(fmt.Errorf("experiment: starting input: %w", err), out.Stop())
	}
	log.Printf("experiment: scanning %d inputs and %d outputs at %g Hz", channels, out.Config().Channels.Count(), rate)

	raw := filepath.Join(dir, RawFile)
	r := acquire.Reader{
		Input:             in,
		Sink:              &acquire.BoundedSink{Rec: rec, Dst: raw},
		Channels:          channels,
		SamplesPerChannel: spc,
		PollInterval:      m.cfg.Experiment.Scan.PollInterval,
		Buffers:           int(math.Ceil(p.duration - 1e-9)),
		Observer:          m.Observer,
		Feeder:            feeder,
	}
	sess, err := r.Run(ctx)
	err = multierr.Append(err, out.Stop())
	if err != nil {
		return nil, err
	}

	ds, derr := m.build(raw, p, sess.Reason == acquire.Completed)
	if errors.Is(derr, errNoSamples) && sess.Reason == acquire.Cancelled {
		log.Println("experiment: stopped before the first half buffer, no dataset")
		if rerr := os.Remove(filepath.Join(dir, DatasetFile)); rerr != nil && !os.IsNotExist(rerr) {
			return nil, rerr
		}
		return nil, nil
	}
	if derr != nil {
		return nil, derr
	}
	if serr := ds.Save(filepath.Join(dir, DatasetFile)); serr != nil {
		return ds, fmt.Errorf("experiment: saving dataset: %w", serr)
	}
	switch sess.Reason {
	case acquire.HardwareStopped:
		return ds, fmt.Errorf("%w: %s after %d of %d buffers", ErrIncomplete, sess.Reason, sess.Buffers(), r.Buffers)
	case acquire.StatusFault:
		return ds, fmt.Errorf("%w: %s: %v", ErrIncomplete, sess.Reason, sess.Fault)
	}
	return ds, nil
}

// build converts the merged raw file into a dataset.  Complete runs are trimmed
// to the program duration.
func (m *Manager) build(raw string, p plan, complete bool) (*dataset.Dataset, error) {
	rows, err := rawrec.Read(raw)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errNoSamples
	}
	rate := m.rate()
	if n := int(math.Round(p.duration * rate)); complete && n < len(rows) {
		rows = rows[:n]
	}
	cols := rawrec.Columns(rows)
	low := m.cfg.AI.LowChannel
	data := make(map[int][]float64, len(m.cfg.AI.SavedChannels))
	for _, ch := range m.cfg.AI.SavedChannels {
		if j := ch - low; j >= 0 && j < len(cols) {
			data[ch] = cols[j]
		}
	}

	s := m.synth(p.cal)
	profiles := make(map[int][]float64, len(p.profiles))
	for ch, prof := range p.profiles {
		v, err := s.Channel(prof)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", profile.ChannelName(ch), err)
		}
		profiles[ch] = v
	}
	phys, err := p.cal.Physical(data, rate, profiles[UrefChannel])
	if err != nil {
		return nil, err
	}
	log.Printf("experiment: converted %d samples of ai %s to physical units", phys.Len(), util.IntSliceToCSV(m.cfg.AI.SavedChannels))
	return &dataset.Dataset{
		Rate:        rate,
		Created:     time.Now(),
		Data:        phys,
		Calibration: p.cal.String(),
		Settings:    m.cfg.String(),
		Programs:    p.programs,
		Profiles:    profiles,
	}, nil
}

// Monitor acquires the inputs without bound into two rotating scratch files until
// ctx is cancelled or StopInput is called.  Drained halves go to the Observer.
func (m *Manager) Monitor(ctx context.Context) (acquire.Session, error) {
	m.mu.Lock()
	ctx, err := m.claim(ctx)
	m.mu.Unlock()
	if err != nil {
		return acquire.Session{}, err
	}
	defer m.release()
	return m.monitor(ctx)
}

func (m *Manager) monitor(ctx context.Context) (acquire.Session, error) {
	spc, err := m.samplesPerChannel()
	if err != nil {
		return acquire.Session{}, err
	}
	dir, err := m.dataDir()
	if err != nil {
		return acquire.Session{}, err
	}
	in, err := m.inputHandle()
	if err != nil {
		return acquire.Session{}, err
	}
	if _, err := in.Scan(m.rate(), spc); err != nil {
		return acquire.Session{}, fmt.Errorf("experiment: starting input: %w", err)
	}
	log.Println("experiment: monitoring inputs")
	r := acquire.Reader{
		Input:             in,
		Sink:              acquire.NewScratchSink(dir, ScratchPrefix),
		Channels:          in.Config().Channels.Count(),
		SamplesPerChannel: spc,
		PollInterval:      m.cfg.Experiment.Scan.PollInterval,
		Observer:          m.Observer,
	}
	return r.Run(ctx)
}

// Modulate loops a one second sine with the configured modulation parameters on
// one output channel, and monitors the inputs, until ctx is cancelled or
// StopInput is called.
func (m *Manager) Modulate(ctx context.Context, channel int) (acquire.Session, error) {
	m.mu.Lock()
	ctx, err := m.claim(ctx)
	m.mu.Unlock()
	if err != nil {
		return acquire.Session{}, err
	}
	defer m.release()

	mod := m.cfg.Experiment.Modulation
	cal := m.Calibration()
	amp := mod.Amplitude * modulationGain(cal, mod.Offset)
	prof := profile.New(profile.Voltage, profile.NewSine(0, 1, amp, mod.Frequency, mod.Offset))
	buf, err := m.synth(cal).Synthesize(map[int]profile.Profile{channel: prof})
	if err != nil {
		return acquire.Session{}, err
	}
	out, err := m.outputHandle(mccdaq.Continuous)
	if err != nil {
		return acquire.Session{}, err
	}
	if _, err := out.Scan(m.rate(), buf); err != nil {
		return acquire.Session{}, fmt.Errorf("experiment: starting output: %w", err)
	}
	log.Printf("experiment: modulating %s at %g Hz, %g V around %g V", profile.ChannelName(channel), mod.Frequency, amp, mod.Offset)
	sess, err := m.monitor(ctx)
	return sess, multierr.Append(err, out.Stop())
}

// modulationGain scales the modulation amplitude by the ratio of the corrected to
// the nominal heater temperature at the offset voltage.  The default calibration
// corrects nothing, so its gain is 1.
func modulationGain(cal *calibration.Calibration, offset float64) float64 {
	t := cal.Forward(offset)
	if t <= 0 {
		return 1
	}
	g := cal.AmplitudeCorrection(t) / t
	if g <= 0 || math.IsNaN(g) || math.IsInf(g, 0) {
		log.Printf("experiment: ignoring amplitude correction %g at %g", g, t)
		return 1
	}
	return g
}

var _ waveform.Inverter = (*calibration.Calibration)(nil)
