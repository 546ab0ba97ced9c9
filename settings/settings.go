// Package settings holds the configuration of a nanodaq server or run.
//
// Values are layered: compiled in defaults first, then the YAML file, then
// environment variables.  An environment variable names a key by its path in
// upper case with levels joined by a double underscore, for example
// NANODAQ_EXPERIMENT__SCAN__SAMPLERATE=5000.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"

	"github.com/nanocal/nanodaq/calibration"
	"github.com/nanocal/nanodaq/mccdaq"
)

// EnvPrefix is the prefix of environment overrides
const EnvPrefix = "NANODAQ_"

// MaxSampleRate is the fastest per channel rate accepted, Hz
const MaxSampleRate = 1e6

// ErrInvalid is returned by Validate
var ErrInvalid = errors.New("settings: invalid")

// DAQ selects the board
type DAQ struct {
	// Interface is usb, bluetooth, ethernet or any
	Interface string `yaml:"Interface" koanf:"Interface" json:"interface"`

	// Code is the unique id of the board, empty for the first one found
	Code string `yaml:"Code" koanf:"Code" json:"code"`

	// Simulate uses the simulated board instead of hardware
	Simulate bool `yaml:"Simulate" koanf:"Simulate" json:"simulate"`
}

// AI configures the analog input scan
type AI struct {
	RangeID     int    `yaml:"RangeID" koanf:"RangeID" json:"range_id"`
	LowChannel  int    `yaml:"LowChannel" koanf:"LowChannel" json:"low_channel"`
	HighChannel int    `yaml:"HighChannel" koanf:"HighChannel" json:"high_channel"`
	InputMode   string `yaml:"InputMode" koanf:"InputMode" json:"input_mode"`
	ScanFlags   int    `yaml:"ScanFlags" koanf:"ScanFlags" json:"scan_flags"`

	// SavedChannels are the input channels kept in the raw file of a bounded run
	SavedChannels []int `yaml:"SavedChannels" koanf:"SavedChannels" json:"saved_channels"`
}

// AO configures the analog output scan
type AO struct {
	RangeID     int `yaml:"RangeID" koanf:"RangeID" json:"range_id"`
	LowChannel  int `yaml:"LowChannel" koanf:"LowChannel" json:"low_channel"`
	HighChannel int `yaml:"HighChannel" koanf:"HighChannel" json:"high_channel"`
	ScanFlags   int `yaml:"ScanFlags" koanf:"ScanFlags" json:"scan_flags"`
}

// Paths are the files and folders an experiment uses
type Paths struct {
	// Calibration is the calibration file, the default calibration is used if empty
	Calibration string `yaml:"Calibration" koanf:"Calibration" json:"calibration"`

	// Data is the folder raw segments, scratch files and datasets are written to
	Data string `yaml:"Data" koanf:"Data" json:"data"`
}

// Scan holds the timing of a run
type Scan struct {
	// SampleRate is the per channel rate of both scans, Hz
	SampleRate float64 `yaml:"SampleRate" koanf:"SampleRate" json:"sample_rate"`

	// PollInterval is the time between status checks of the input scan
	PollInterval time.Duration `yaml:"PollInterval" koanf:"PollInterval" json:"poll_interval"`

	// WholeSeconds rejects programs whose duration is not a whole number of seconds
	WholeSeconds bool `yaml:"WholeSeconds" koanf:"WholeSeconds" json:"whole_seconds"`

	// StreamAbove is the program duration, in seconds, above which the output is
	// streamed in one second chunks rather than played from a single buffer.
	// Zero never streams.
	StreamAbove float64 `yaml:"StreamAbove" koanf:"StreamAbove" json:"stream_above"`
}

// Modulation is the sine used by the modulation mode
type Modulation struct {
	Frequency float64 `yaml:"Frequency" koanf:"Frequency" json:"frequency"`
	Amplitude float64 `yaml:"Amplitude" koanf:"Amplitude" json:"amplitude"`
	Offset    float64 `yaml:"Offset" koanf:"Offset" json:"offset"`
}

// Experiment groups the run parameters
type Experiment struct {
	Paths      Paths      `yaml:"Paths" koanf:"Paths" json:"paths"`
	Scan       Scan       `yaml:"Scan" koanf:"Scan" json:"scan"`
	Modulation Modulation `yaml:"Modulation" koanf:"Modulation" json:"modulation"`
}

// Monitor configures the live publishers
type Monitor struct {
	// MQTTBroker is the broker URL, e.g. tcp://localhost:1883.  Empty disables MQTT.
	MQTTBroker string `yaml:"MQTTBroker" koanf:"MQTTBroker" json:"mqtt_broker"`

	// MQTTTopic is the topic prefix
	MQTTTopic string `yaml:"MQTTTopic" koanf:"MQTTTopic" json:"mqtt_topic"`
}

// Settings is the whole configuration
type Settings struct {
	// Addr is the listen address of the HTTP server
	Addr string `yaml:"Addr" koanf:"Addr" json:"addr"`

	DAQ        DAQ        `yaml:"DAQ" koanf:"DAQ" json:"daq"`
	AI         AI         `yaml:"AI" koanf:"AI" json:"ai"`
	AO         AO         `yaml:"AO" koanf:"AO" json:"ao"`
	Experiment Experiment `yaml:"Experiment" koanf:"Experiment" json:"experiment"`
	Monitor    Monitor    `yaml:"Monitor" koanf:"Monitor" json:"monitor"`
}

// Default returns the compiled in defaults
func Default() Settings {
	return Settings{
		Addr: ":8000",
		DAQ:  DAQ{Interface: "usb", Simulate: false},
		AI: AI{
			RangeID:       0,
			LowChannel:    0,
			HighChannel:   5,
			InputMode:     "single-ended",
			SavedChannels: []int{0, 1, 3, 4, 5},
		},
		AO: AO{LowChannel: 0, HighChannel: 3},
		Experiment: Experiment{
			Paths: Paths{Data: "data"},
			Scan: Scan{
				SampleRate:   20000,
				PollInterval: 100 * time.Millisecond,
				WholeSeconds: true,
				StreamAbove:  10,
			},
			Modulation: Modulation{Frequency: 37.5, Amplitude: 0.1, Offset: 0.5},
		},
		Monitor: Monitor{MQTTTopic: "nanodaq"},
	}
}

// Koanf returns the layered configuration: defaults, the YAML file at path, and the
// environment.  A missing file is not an error.
func Koanf(path string) (*koanf.Koanf, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, err
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if !strings.Contains(err.Error(), "no such") { // file missing, who cares
				return nil, fmt.Errorf("settings: loading %s: %w", path, err)
			}
		}
	}
	keys := map[string]string{}
	for _, key := range k.Keys() {
		keys[strings.ToLower(key)] = key
	}
	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return keys[strings.ReplaceAll(s, "__", ".")]
	}), nil)
	if err != nil {
		return nil, err
	}
	return k, nil
}

// Load reads, merges and validates the settings
func Load(path string) (Settings, error) {
	s := Settings{}
	k, err := Koanf(path)
	if err != nil {
		return s, err
	}
	if err := k.Unmarshal("", &s); err != nil {
		return s, err
	}
	return s, s.Validate()
}

// Validate checks the ranges of the scan parameters, and that every input the
// calibration converts is saved
func (s Settings) Validate() error {
	sc := s.Experiment.Scan
	if sc.SampleRate <= 0 || sc.SampleRate > MaxSampleRate {
		return fmt.Errorf("%w: sample rate %g Hz outside (0, %g]", ErrInvalid, sc.SampleRate, MaxSampleRate)
	}
	if sc.PollInterval <= 0 {
		return fmt.Errorf("%w: poll interval %v must be positive", ErrInvalid, sc.PollInterval)
	}
	if sc.StreamAbove < 0 {
		return fmt.Errorf("%w: stream threshold %g s is negative", ErrInvalid, sc.StreamAbove)
	}
	if s.AI.LowChannel < 0 || s.AI.LowChannel > s.AI.HighChannel {
		return fmt.Errorf("%w: input channels %d..%d", ErrInvalid, s.AI.LowChannel, s.AI.HighChannel)
	}
	if s.AO.LowChannel < 0 || s.AO.LowChannel > s.AO.HighChannel {
		return fmt.Errorf("%w: output channels %d..%d", ErrInvalid, s.AO.LowChannel, s.AO.HighChannel)
	}
	saved := make(map[int]bool, len(s.AI.SavedChannels))
	for _, ch := range s.AI.SavedChannels {
		if ch < s.AI.LowChannel || ch > s.AI.HighChannel {
			return fmt.Errorf("%w: saved channel %d is not scanned", ErrInvalid, ch)
		}
		saved[ch] = true
	}
	for _, ch := range calibration.RequiredChannels {
		if !saved[ch] {
			return fmt.Errorf("%w: saved channels %v lack ai%d, which the calibration needs", ErrInvalid, s.AI.SavedChannels, ch)
		}
	}
	if _, err := mccdaq.ParseInputMode(s.AI.InputMode); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if _, err := mccdaq.ParseInterfaceType(s.DAQ.Interface); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// InputConfig is the input scan configuration.  Continuous scanning is always on.
func (s Settings) InputConfig() mccdaq.InputConfig {
	mode, _ := mccdaq.ParseInputMode(s.AI.InputMode)
	return mccdaq.InputConfig{
		Channels: mccdaq.ChannelRange{Low: s.AI.LowChannel, High: s.AI.HighChannel},
		Mode:     mode,
		RangeID:  s.AI.RangeID,
		Options:  mccdaq.Continuous,
		Flags:    mccdaq.ScanFlag(s.AI.ScanFlags),
	}
}

// OutputConfig is the output scan configuration
func (s Settings) OutputConfig() mccdaq.OutputConfig {
	return mccdaq.OutputConfig{
		Channels: mccdaq.ChannelRange{Low: s.AO.LowChannel, High: s.AO.HighChannel},
		RangeID:  s.AO.RangeID,
		Flags:    mccdaq.ScanFlag(s.AO.ScanFlags),
	}
}

// String is the JSON form embedded in datasets
func (s Settings) String() string {
	b, err := json.Marshal(s)
	if err != nil {
		return "{}"
	}
	return string(b)
}
