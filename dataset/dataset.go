// Package dataset stores a finished experiment as a FITS file.
//
// The file holds a primary header with the run parameters and a checksum of the
// physical data, a DATA binary table with one column per physical quantity, and
// tables carrying the calibration and settings blobs, the channel programs, and
// the voltage profiles sent to the DAC, for provenance.
package dataset

import (
	"encoding/binary"
	"errors"
	"math"
	"sort"
	"time"

	"github.com/snksoft/crc"

	"github.com/nanocal/nanodaq/calibration"
	"github.com/nanocal/nanodaq/profile"
)

var (
	// ErrChecksum is returned when the stored checksum does not match the data
	ErrChecksum = errors.New("dataset: data checksum mismatch")

	// ErrFormat is returned for files missing a part of the layout
	ErrFormat = errors.New("dataset: not a dataset file")
)

var crcTable = crc.NewTable(crc.CRC32)

// Dataset is the physical-units result of one run
type Dataset struct {
	// Rate is the per channel sample rate, Hz
	Rate float64

	// Created is when the run finished
	Created time.Time

	// Data holds the physical columns
	Data calibration.Physical

	// Calibration and Settings are the self-describing provenance blobs
	Calibration string
	Settings    string

	// Programs are the channel programs that were armed
	Programs profile.Programs

	// Profiles are the voltages sent to each output channel
	Profiles map[int][]float64
}

// Len is the number of samples
func (d *Dataset) Len() int {
	return d.Data.Len()
}

// Columns lists the physical column names in file order
func (d *Dataset) Columns() []string {
	return calibration.Columns
}

// Column returns a physical column by name, or nil
func (d *Dataset) Column(name string) []float64 {
	return d.Data.Column(name)
}

// Checksum is the CRC-32 of the physical columns, in column order, as little endian float64s
func (d *Dataset) Checksum() uint32 {
	c := crcTable.InitCrc()
	var b [8]byte
	for _, name := range calibration.Columns {
		for _, v := range d.Data.Column(name) {
			binary.LittleEndian.PutUint64(b[:], math.Float64bits(v))
			c = crcTable.UpdateCrc(c, b[:])
		}
	}
	return crcTable.CRC32(c)
}

// OutputChannels lists the channels with a stored voltage profile, in increasing order
func (d *Dataset) OutputChannels() []int {
	out := make([]int, 0, len(d.Profiles))
	for ch := range d.Profiles {
		out = append(out, ch)
	}
	sort.Ints(out)
	return out
}

// View is the JSON form of a dataset served over HTTP
type View struct {
	Rate        float64                    `json:"rate"`
	Created     time.Time                  `json:"created"`
	Columns     []string                   `json:"columns"`
	Data        map[string][]float64       `json:"data"`
	Calibration string                     `json:"calibration"`
	Settings    string                     `json:"settings"`
	Programs    map[string]profile.Program `json:"programs"`
	Checksum    uint32                     `json:"crc32"`
}

// View returns the JSON form of d
func (d *Dataset) View() View {
	v := View{
		Rate:        d.Rate,
		Created:     d.Created,
		Columns:     calibration.Columns,
		Data:        make(map[string][]float64, len(calibration.Columns)),
		Calibration: d.Calibration,
		Settings:    d.Settings,
		Programs:    d.Programs.Encode(),
		Checksum:    d.Checksum(),
	}
	for _, name := range calibration.Columns {
		v.Data[name] = d.Data.Column(name)
	}
	return v
}
