package mccdaq

import (
	"fmt"
	"log"
)

// InputConfig holds the parameters of an input scan
type InputConfig struct {
	Channels ChannelRange
	Mode     InputMode
	RangeID  int
	Options  ScanOption
	Flags    ScanFlag
}

// InputHandle is a checked wrapper around an AnalogInput.
// The constructor resolves the input mode and range once; Scan only starts the transfer.
type InputHandle struct {
	ai  AnalogInput
	cfg InputConfig
}

// NewInputHandle validates that the board is connected and supports paced input.
// Single-ended mode falls back to differential when the board has no single-ended
// channels, and the range id is clamped to the ranges the board offers.
func NewInputHandle(b Board, cfg InputConfig) (*InputHandle, error) {
	if b == nil || !b.Connected() {
		return nil, ErrNotConnected
	}
	if err := cfg.Channels.Validate(); err != nil {
		return nil, err
	}
	ai, err := b.AnalogInput()
	if err != nil {
		return nil, err
	}
	info, err := ai.Info()
	if err != nil {
		return nil, err
	}
	if !info.HasPacer {
		return nil, fmt.Errorf("%w: analog input", ErrNoPacer)
	}
	if cfg.Mode == 0 {
		cfg.Mode = SingleEnded
	}
	if cfg.Mode == SingleEnded && info.Channels[SingleEnded] == 0 {
		log.Println("mccdaq: no single-ended inputs, using differential")
		cfg.Mode = Differential
	}
	if n := info.Channels[cfg.Mode]; n > 0 && cfg.Channels.High >= n {
		return nil, fmt.Errorf("%w: %s exceeds %d %s channels", ErrChannelRange, cfg.Channels, n, cfg.Mode)
	}
	cfg.RangeID = clampRange(cfg.RangeID, len(info.Ranges))
	return &InputHandle{ai: ai, cfg: cfg}, nil
}

// Config returns the resolved configuration
func (h *InputHandle) Config() InputConfig {
	return h.cfg
}

// Scan starts a scan of samplesPerChannel samples per channel at rate, returning the actual rate
func (h *InputHandle) Scan(rate float64, samplesPerChannel int) (float64, error) {
	c := h.cfg
	return h.ai.ScanInput(c.Channels, c.Mode, c.RangeID, rate, samplesPerChannel, c.Options, c.Flags)
}

// Buffer is the live, driver owned ring buffer.  Callers must copy out of it
func (h *InputHandle) Buffer() []float64 {
	return h.ai.Buffer()
}

// Status reports the scan state and transfer progress
func (h *InputHandle) Status() (ScanStatus, TransferStatus, error) {
	return h.ai.Status()
}

// Stop stops the scan
func (h *InputHandle) Stop() error {
	return h.ai.Stop()
}

// OutputConfig holds the parameters of an output scan
type OutputConfig struct {
	Channels ChannelRange
	RangeID  int
	Options  ScanOption
	Flags    ScanFlag
}

// OutputHandle is a checked wrapper around an AnalogOutput
type OutputHandle struct {
	ao  AnalogOutput
	cfg OutputConfig
}

// NewOutputHandle validates that the board is connected and supports paced output
func NewOutputHandle(b Board, cfg OutputConfig) (*OutputHandle, error) {
	if b == nil || !b.Connected() {
		return nil, ErrNotConnected
	}
	if err := cfg.Channels.Validate(); err != nil {
		return nil, err
	}
	ao, err := b.AnalogOutput()
	if err != nil {
		return nil, err
	}
	info, err := ao.Info()
	if err != nil {
		return nil, err
	}
	if !info.HasPacer {
		return nil, fmt.Errorf("%w: analog output", ErrNoPacer)
	}
	if info.Channels > 0 && cfg.Channels.High >= info.Channels {
		return nil, fmt.Errorf("%w: %s exceeds %d output channels", ErrChannelRange, cfg.Channels, info.Channels)
	}
	cfg.RangeID = clampRange(cfg.RangeID, len(info.Ranges))
	return &OutputHandle{ao: ao, cfg: cfg}, nil
}

// Config returns the resolved configuration
func (h *OutputHandle) Config() OutputConfig {
	return h.cfg
}

// Scan plays buf, which must be interleaved over the configured channel range
func (h *OutputHandle) Scan(rate float64, buf []float64) (float64, error) {
	if len(buf)%h.cfg.Channels.Count() != 0 {
		return 0, fmt.Errorf("mccdaq: output buffer of %d samples does not divide into %d channels", len(buf), h.cfg.Channels.Count())
	}
	return h.ao.ScanOutput(h.cfg.Channels, h.cfg.RangeID, rate, h.cfg.Options, h.cfg.Flags, buf)
}

// Buffer is the live, driver owned output buffer
func (h *OutputHandle) Buffer() []float64 {
	return h.ao.Buffer()
}

// Set drives one channel to a static voltage
func (h *OutputHandle) Set(channel int, volts float64) error {
	if !h.cfg.Channels.Contains(channel) {
		return fmt.Errorf("%w: channel %d outside %s", ErrChannelRange, channel, h.cfg.Channels)
	}
	return h.ao.Output(channel, h.cfg.RangeID, volts)
}

// Status reports the scan state and transfer progress
func (h *OutputHandle) Status() (ScanStatus, TransferStatus, error) {
	return h.ao.Status()
}

// Stop stops the scan
func (h *OutputHandle) Stop() error {
	return h.ao.Stop()
}

func clampRange(id, n int) int {
	if n == 0 {
		return id
	}
	if id < 0 {
		return 0
	}
	if id >= n {
		return n - 1
	}
	return id
}
