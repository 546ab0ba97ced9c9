package calibration

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// the on-disk layout of a calibration file.  Polynomial groups are keyed by
// coefficient index ("0", "1", ...) plus "corr" for the resistance offset.
type fileModulation struct {
	Amplitude float64 `json:"Amplitude"`
	Offset    float64 `json:"Offset"`
	Frequency float64 `json:"Frequency"`
}

type fileGains struct {
	URef float64 `json:"Uref"`
	UMod float64 `json:"Umod"`
	UTpl float64 `json:"Utpl"`
	UHtr float64 `json:"Uhtr"`
}

type fileCoeffs struct {
	Utpl        map[string]float64 `json:"Utpl"`
	Ttpl        map[string]float64 `json:"Ttpl"`
	Thtr        map[string]float64 `json:"Thtr"`
	Thtrd       map[string]float64 `json:"Thtrd"`
	Uhtr        map[string]float64 `json:"Uhtr"`
	Ihtr        map[string]float64 `json:"Ihtr"`
	Theater     map[string]float64 `json:"Theater"`
	AC          map[string]float64 `json:"Amplitude correction"`
	RHeater     *float64           `json:"R heater,omitempty"`
	SafeVoltage *float64           `json:"Heater safe voltage,omitempty"`
}

type file struct {
	Info       string          `json:"Info"`
	Modulation *fileModulation `json:"Modulation params,omitempty"`
	Gains      *fileGains      `json:"Gains,omitempty"`
	Coeffs     *fileCoeffs     `json:"Calibration coeff,omitempty"`
}

// pick copies m[key] into dst if it is present
func pick(m map[string]float64, key string, dst *float64) {
	if v, ok := m[key]; ok {
		*dst = v
	}
}

// Read decodes a calibration file.  Groups or coefficients missing from the file keep
// their Default values.
func Read(r io.Reader) (*Calibration, error) {
	var f file
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("calibration: decoding file: %w", err)
	}
	c := Default()
	if f.Info != "" {
		c.Comment = f.Info
	}
	if m := f.Modulation; m != nil {
		c.Amplitude, c.Offset, c.Frequency = m.Amplitude, m.Offset, m.Frequency
	}
	if g := f.Gains; g != nil {
		c.URefGain, c.UModGain, c.UTplGain, c.UHtrGain = g.URef, g.UMod, g.UTpl, g.UHtr
	}
	if k := f.Coeffs; k != nil {
		pick(k.Utpl, "0", &c.Utpl0)
		pick(k.Ttpl, "0", &c.Ttpl0)
		pick(k.Ttpl, "1", &c.Ttpl1)
		pick(k.Thtr, "0", &c.Thtr0)
		pick(k.Thtr, "1", &c.Thtr1)
		pick(k.Thtr, "2", &c.Thtr2)
		pick(k.Thtr, "corr", &c.ThtrCorr)
		pick(k.Thtrd, "0", &c.Thtrd0)
		pick(k.Thtrd, "1", &c.Thtrd1)
		pick(k.Thtrd, "2", &c.Thtrd2)
		pick(k.Thtrd, "corr", &c.ThtrdCorr)
		pick(k.Uhtr, "0", &c.Uhtr0)
		pick(k.Uhtr, "1", &c.Uhtr1)
		pick(k.Ihtr, "0", &c.Ihtr0)
		pick(k.Ihtr, "1", &c.Ihtr1)
		pick(k.Theater, "0", &c.Theater0)
		pick(k.Theater, "1", &c.Theater1)
		pick(k.Theater, "2", &c.Theater2)
		pick(k.AC, "0", &c.AC0)
		pick(k.AC, "1", &c.AC1)
		pick(k.AC, "2", &c.AC2)
		pick(k.AC, "3", &c.AC3)
		if k.RHeater != nil {
			c.RHeater = *k.RHeater
		}
		if k.SafeVoltage != nil {
			c.SafeVoltage = *k.SafeVoltage
		}
	}
	if c.SafeVoltage < 0 {
		return nil, fmt.Errorf("calibration: negative heater safe voltage %f", c.SafeVoltage)
	}
	return c, nil
}

// Load reads a calibration file from disk
func Load(path string) (*Calibration, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f)
}

func (c *Calibration) toFile() file {
	rh, sv := c.RHeater, c.SafeVoltage
	return file{
		Info:       c.Comment,
		Modulation: &fileModulation{Amplitude: c.Amplitude, Offset: c.Offset, Frequency: c.Frequency},
		Gains:      &fileGains{URef: c.URefGain, UMod: c.UModGain, UTpl: c.UTplGain, UHtr: c.UHtrGain},
		Coeffs: &fileCoeffs{
			Utpl:        map[string]float64{"0": c.Utpl0},
			Ttpl:        map[string]float64{"0": c.Ttpl0, "1": c.Ttpl1},
			Thtr:        map[string]float64{"0": c.Thtr0, "1": c.Thtr1, "2": c.Thtr2, "corr": c.ThtrCorr},
			Thtrd:       map[string]float64{"0": c.Thtrd0, "1": c.Thtrd1, "2": c.Thtrd2, "corr": c.ThtrdCorr},
			Uhtr:        map[string]float64{"0": c.Uhtr0, "1": c.Uhtr1},
			Ihtr:        map[string]float64{"0": c.Ihtr0, "1": c.Ihtr1},
			Theater:     map[string]float64{"0": c.Theater0, "1": c.Theater1, "2": c.Theater2},
			AC:          map[string]float64{"0": c.AC0, "1": c.AC1, "2": c.AC2, "3": c.AC3},
			RHeater:     &rh,
			SafeVoltage: &sv,
		},
	}
}

// Write encodes the calibration in the file layout, tab indented
func (c *Calibration) Write(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "\t")
	return enc.Encode(c.toFile())
}

// Save writes the calibration file to path, truncating it
func (c *Calibration) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	err = c.Write(f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

// String returns the calibration as a single line of JSON, used as provenance metadata
func (c *Calibration) String() string {
	b, err := json.Marshal(c.toFile())
	if err != nil {
		return fmt.Sprintf("calibration: %v", err)
	}
	return string(b)
}
