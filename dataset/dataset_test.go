package dataset

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"math"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/snksoft/crc"

	"github.com/nanocal/nanodaq/calibration"
	"github.com/nanocal/nanodaq/profile"
)

func sample() *Dataset {
	n := 5
	p := calibration.Physical{}
	for i := 0; i < n; i++ {
		f := float64(i)
		p.Time = append(p.Time, f*0.5)
		p.Taux = append(p.Taux, 25)
		p.Thtr = append(p.Thtr, 30+f)
		p.Uref = append(p.Uref, 0.1*f)
		p.Temp = append(p.Temp, 26+f)
		p.TempHR = append(p.TempHR, 26.5+f)
	}
	p.Time[3] = 12345.678
	return &Dataset{
		Rate:        2000,
		Created:     time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC),
		Data:        p,
		Calibration: `{"comment":"unit"}`,
		Settings:    `{"sample_rate":2000}`,
		Programs: profile.Programs{
			0: {Time: []float64{0, 1000}, Temp: []float64{25, 100}},
			1: {Time: []float64{0, 500, 1000}, Volt: []float64{0, 1, 1}},
		},
		Profiles: map[int][]float64{
			0: {0, 0.5, 1},
			1: {1, 1, 1},
		},
	}
}

func equal(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestRoundTrip(t *testing.T) {
	d := sample()
	path := filepath.Join(t.TempDir(), "run.fits")
	if err := d.Save(path); err != nil {
		t.Fatal(err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.Rate != d.Rate {
		t.Errorf("expected rate %f, got %f", d.Rate, got.Rate)
	}
	if !got.Created.Equal(d.Created) {
		t.Errorf("expected created %v, got %v", d.Created, got.Created)
	}
	for _, name := range calibration.Columns {
		if !equal(got.Column(name), d.Column(name)) {
			t.Errorf("column %s: expected %v, got %v", name, d.Column(name), got.Column(name))
		}
	}
	if got.Calibration != d.Calibration || got.Settings != d.Settings {
		t.Errorf("provenance blobs did not survive, got %q and %q", got.Calibration, got.Settings)
	}
	if !equal(got.Programs[0].Temp, d.Programs[0].Temp) || got.Programs[0].Volt != nil {
		t.Errorf("expected ch0 to stay a temperature program, got %+v", got.Programs[0])
	}
	if !equal(got.Programs[1].Time, d.Programs[1].Time) || !equal(got.Programs[1].Volt, d.Programs[1].Volt) {
		t.Errorf("expected ch1 program %+v, got %+v", d.Programs[1], got.Programs[1])
	}
	for ch, v := range d.Profiles {
		if !equal(got.Profiles[ch], v) {
			t.Errorf("profile %d: expected %v, got %v", ch, v, got.Profiles[ch])
		}
	}
	if got.Checksum() != d.Checksum() {
		t.Errorf("checksum changed across the round trip")
	}
}

func TestProvenanceStaysValidJSON(t *testing.T) {
	d := sample()
	d.Calibration = calibration.Default().String()
	d.Settings = `{"a":1}`
	buf := &bytes.Buffer{}
	if err := d.Write(buf); err != nil {
		t.Fatal(err)
	}
	got, err := Read(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	if got.Settings != `{"a":1}` {
		t.Errorf("expected settings {\"a\":1}, got %q", got.Settings)
	}
	if got.Calibration != d.Calibration {
		t.Errorf("calibration blob changed, got %q", got.Calibration)
	}
	if !json.Valid([]byte(got.Calibration)) {
		t.Error("the stored calibration is not valid JSON")
	}
	if _, err := calibration.Read(strings.NewReader(got.Calibration)); err != nil {
		t.Errorf("the stored calibration does not load: %v", err)
	}
	if dom, err := got.Programs[0].Domain(); err != nil || dom != profile.Temperature {
		t.Errorf("expected ch0 to read back as a temperature program, got %+v", got.Programs[0])
	}
}

func TestTamperedDataFailsChecksum(t *testing.T) {
	d := sample()
	buf := &bytes.Buffer{}
	if err := d.Write(buf); err != nil {
		t.Fatal(err)
	}
	raw := buf.Bytes()
	var needle [8]byte
	binary.BigEndian.PutUint64(needle[:], math.Float64bits(12345.678))
	at := bytes.Index(raw, needle[:])
	if at < 0 {
		t.Fatal("marker value not found in the encoded table")
	}
	raw[at+7] ^= 1
	_, err := Read(bytes.NewReader(raw))
	if !errors.Is(err, ErrChecksum) {
		t.Errorf("expected ErrChecksum, got %v", err)
	}
}

func TestChecksumCoversEveryColumn(t *testing.T) {
	d := sample()
	ref := d.Checksum()
	d.Data.TempHR[0]++
	if d.Checksum() == ref {
		t.Error("expected a change in temp-hr to change the checksum")
	}
}

func TestChecksumIsLittleEndian(t *testing.T) {
	d := sample()
	var buf []byte
	for _, name := range calibration.Columns {
		for _, v := range d.Data.Column(name) {
			buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v))
		}
	}
	if want := uint32(crc.CalculateCRC(crc.CRC32, buf)); d.Checksum() != want {
		t.Errorf("checksum %08x, expected the CRC-32 of the little endian columns %08x", d.Checksum(), want)
	}
}

func TestView(t *testing.T) {
	d := sample()
	v := d.View()
	if len(v.Columns) != len(calibration.Columns) || len(v.Data) != len(calibration.Columns) {
		t.Fatalf("expected %d columns, got %d/%d", len(calibration.Columns), len(v.Columns), len(v.Data))
	}
	if !equal(v.Data["Thtr"], d.Data.Thtr) {
		t.Errorf("expected Thtr %v, got %v", d.Data.Thtr, v.Data["Thtr"])
	}
	if _, ok := v.Programs["ch1"]; !ok {
		t.Errorf("expected programs keyed by channel name, got %v", v.Programs)
	}
	if v.Checksum != d.Checksum() {
		t.Error("view checksum differs from the dataset")
	}
}

func TestOutputChannelsSorted(t *testing.T) {
	d := &Dataset{Profiles: map[int][]float64{3: nil, 0: nil, 1: nil}}
	got := d.OutputChannels()
	if len(got) != 3 || got[0] != 0 || got[1] != 1 || got[2] != 3 {
		t.Errorf("expected [0 1 3], got %v", got)
	}
}
