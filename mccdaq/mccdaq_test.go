package mccdaq_test

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/nanocal/nanodaq/mccdaq"
)

// stepClock advances by step every time it is read
type stepClock struct {
	t    time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	c.t = c.t.Add(c.step)
	return c.t
}

// manualClock only moves when told to
type manualClock struct{ t time.Time }

func (c *manualClock) Now() time.Time { return c.t }

func (c *manualClock) Add(d time.Duration) { c.t = c.t.Add(d) }

func TestHandlePreconditions(t *testing.T) {
	if _, err := mccdaq.NewInputHandle(&mccdaq.Mock{Disconnected: true}, mccdaq.InputConfig{}); !errors.Is(err, mccdaq.ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
	cfg := mccdaq.InputConfig{Channels: mccdaq.ChannelRange{Low: 0, High: 5}}
	if _, err := mccdaq.NewInputHandle(&mccdaq.Mock{NoPacer: true}, cfg); !errors.Is(err, mccdaq.ErrNoPacer) {
		t.Errorf("expected ErrNoPacer, got %v", err)
	}
	ocfg := mccdaq.OutputConfig{Channels: mccdaq.ChannelRange{Low: 0, High: 3}}
	if _, err := mccdaq.NewOutputHandle(&mccdaq.Mock{NoPacer: true}, ocfg); !errors.Is(err, mccdaq.ErrNoPacer) {
		t.Errorf("expected ErrNoPacer, got %v", err)
	}
	ocfg.Channels.High = 4
	if _, err := mccdaq.NewOutputHandle(&mccdaq.Mock{}, ocfg); !errors.Is(err, mccdaq.ErrChannelRange) {
		t.Errorf("expected ErrChannelRange for ch4 on a 4 channel DAC, got %v", err)
	}
}

func TestInputHandleFallbackAndClamp(t *testing.T) {
	m := &mccdaq.Mock{}
	h, err := mccdaq.NewInputHandle(m, mccdaq.InputConfig{
		Channels: mccdaq.ChannelRange{Low: 0, High: 3},
		Mode:     mccdaq.SingleEnded,
		RangeID:  99,
	})
	if err != nil {
		t.Fatal(err)
	}
	if h.Config().RangeID != 3 {
		t.Errorf("expected range id clamped to 3, got %d", h.Config().RangeID)
	}
	if h.Config().Mode != mccdaq.SingleEnded {
		t.Errorf("expected single-ended on a board that has it, got %s", h.Config().Mode)
	}

	// a board without single-ended inputs falls back to differential
	h, err = mccdaq.NewInputHandle(&mccdaq.Mock{DifferentialOnly: true}, mccdaq.InputConfig{
		Channels: mccdaq.ChannelRange{Low: 0, High: 3},
	})
	if err != nil {
		t.Fatal(err)
	}
	if h.Config().Mode != mccdaq.Differential {
		t.Errorf("expected differential fallback, got %s", h.Config().Mode)
	}
}

func TestMockRingIndex(t *testing.T) {
	clk := &manualClock{t: time.Unix(0, 0)}
	m := &mccdaq.Mock{Now: clk.Now, Signal: func(ch int, t float64) float64 { return float64(ch)*100 + t }}
	h, err := mccdaq.NewInputHandle(m, mccdaq.InputConfig{
		Channels: mccdaq.ChannelRange{Low: 0, High: 1},
		Options:  mccdaq.Continuous,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.Scan(100, 100); err != nil {
		t.Fatal(err)
	}
	_, xf, _ := h.Status()
	if xf.CurrentIndex != -1 {
		t.Errorf("expected index -1 before the first sample, got %d", xf.CurrentIndex)
	}
	clk.Add(500 * time.Millisecond)
	st, xf, _ := h.Status()
	if st != mccdaq.Running || xf.CurrentScanCount != 50 || xf.CurrentIndex != 98 {
		t.Errorf("after 0.5 s expected running, 50 scans, index 98; got %s %d %d", st, xf.CurrentScanCount, xf.CurrentIndex)
	}
	clk.Add(600 * time.Millisecond)
	_, xf, _ = h.Status()
	if xf.CurrentIndex != 18 {
		t.Errorf("expected the index to wrap to 18, got %d", xf.CurrentIndex)
	}
	buf := h.Buffer()
	// scan 105 of channel 1 sits at ring slot 5
	if got := buf[5*2+1]; math.Abs(got-101.05) > 1e-9 {
		t.Errorf("expected sample 101.05, got %f", got)
	}
	// slot 60 still holds scan 60 from the first pass
	if got := buf[60*2]; got != 0.6 {
		t.Errorf("expected sample 0.6, got %f", got)
	}
}

func TestMockFiniteScanStops(t *testing.T) {
	clk := &stepClock{t: time.Unix(0, 0), step: time.Second}
	m := &mccdaq.Mock{Now: clk.Now}
	ai, _ := m.AnalogInput()
	if _, err := ai.ScanInput(mccdaq.ChannelRange{Low: 0, High: 0}, mccdaq.SingleEnded, 0, 10, 5, mccdaq.DefaultIO, 0); err != nil {
		t.Fatal(err)
	}
	st, xf, _ := ai.Status()
	if st != mccdaq.Idle || xf.CurrentScanCount != 5 {
		t.Errorf("expected a finite scan to end after 5 scans, got %s %d", st, xf.CurrentScanCount)
	}
}

func TestOutputSet(t *testing.T) {
	m := &mccdaq.Mock{}
	h, err := mccdaq.NewOutputHandle(m, mccdaq.OutputConfig{Channels: mccdaq.ChannelRange{Low: 0, High: 1}})
	if err != nil {
		t.Fatal(err)
	}
	if err := h.Set(1, 2.5); err != nil {
		t.Fatal(err)
	}
	if v, ok := m.Static(1); !ok || v != 2.5 {
		t.Errorf("expected 2.5 V on ch1, got %f %v", v, ok)
	}
	if err := h.Set(2, 1); !errors.Is(err, mccdaq.ErrChannelRange) {
		t.Errorf("expected ErrChannelRange, got %v", err)
	}
	if err := h.Set(0, 11); err == nil {
		t.Error("expected an error above 10 V")
	}
	if _, err := h.Scan(1000, []float64{1, 2, 3}); err == nil {
		t.Error("expected an error for a buffer that does not divide into two channels")
	}
}

func TestParse(t *testing.T) {
	if m, err := mccdaq.ParseInputMode("single_ended"); err != nil || m != mccdaq.SingleEnded {
		t.Errorf("got %v %v", m, err)
	}
	if i, err := mccdaq.ParseInterfaceType("usb"); err != nil || i != mccdaq.USB {
		t.Errorf("got %v %v", i, err)
	}
	if _, err := mccdaq.ParseInterfaceType("serial"); err == nil {
		t.Error("expected an error for an unknown interface")
	}
}

func TestOpenWithoutDriver(t *testing.T) {
	d, err := mccdaq.Open(mccdaq.USB, "")
	if err == nil {
		d.Close()
		t.Skip("built with driver support")
	}
	if !errors.Is(err, mccdaq.ErrNoDriver) && !errors.Is(err, mccdaq.ErrNoDevice) {
		t.Errorf("unexpected error %v", err)
	}
}
