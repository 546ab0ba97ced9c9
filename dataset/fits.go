package dataset

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/astrogo/fitsio"
	"go.uber.org/multierr"

	"github.com/nanocal/nanodaq/calibration"
	"github.com/nanocal/nanodaq/profile"
)

// extension names
const (
	extData        = "DATA"
	extCalibration = "CALIBRATION"
	extSettings    = "SETTINGS"
	extPrograms    = "PROGRAMS"
	extProfiles    = "PROFILES"
)

type dataRow struct {
	Time   float64 `fits:"time"`
	Taux   float64 `fits:"Taux"`
	Thtr   float64 `fits:"Thtr"`
	Uref   float64 `fits:"Uref"`
	Temp   float64 `fits:"temp"`
	TempHR float64 `fits:"temp-hr"`
}

type blobRow struct {
	JSON string `fits:"json"`
}

type programRow struct {
	Channel int64   `fits:"channel"`
	Domain  int64   `fits:"domain"`
	Time    float64 `fits:"time"`
	Value   float64 `fits:"value"`
}

type profileRow struct {
	Channel int64   `fits:"channel"`
	Volts   float64 `fits:"volts"`
}

// writeTable fills a new binary table with n rows and appends it to fits
func writeTable(fits *fitsio.File, name string, cols []fitsio.Column, n int, row func(i int) interface{}) error {
	tbl, err := fitsio.NewTable(name, cols, fitsio.BINARY_TBL)
	if err != nil {
		return fmt.Errorf("dataset: creating %s table: %w", name, err)
	}
	defer tbl.Close()
	for i := 0; i < n; i++ {
		if err := tbl.Write(row(i)); err != nil {
			return fmt.Errorf("dataset: writing %s row %d: %w", name, i, err)
		}
	}
	return fits.Write(tbl)
}

// writeBlob stores blob in a one row table.  fitsio keeps one byte less than
// the declared width of an A column, so the column is one byte wider than blob.
func writeBlob(fits *fitsio.File, name, blob string) error {
	width := len(blob) + 1
	cols := []fitsio.Column{{Name: "json", Format: fmt.Sprintf("%dA", width)}}
	return writeTable(fits, name, cols, 1, func(int) interface{} { return &blobRow{JSON: blob} })
}

// Write streams d to w as a FITS file
func (d *Dataset) Write(w io.Writer) (err error) {
	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, fits.Close()) }()

	im := fitsio.NewImage(8, nil)
	defer im.Close()
	err = im.Header().Append(
		fitsio.Card{Name: "RATE", Value: d.Rate, Comment: "per channel sample rate, Hz"},
		fitsio.Card{Name: "NSAMPLE", Value: d.Len(), Comment: "rows in the DATA table"},
		fitsio.Card{Name: "DATACRC", Value: int(d.Checksum()), Comment: "CRC-32 of the DATA columns"},
		fitsio.Card{Name: "CREATED", Value: d.Created.UTC().Format(time.RFC3339), Comment: "end of run"},
	)
	if err != nil {
		return err
	}
	if err = fits.Write(im); err != nil {
		return err
	}

	cols := make([]fitsio.Column, len(calibration.Columns))
	for i, name := range calibration.Columns {
		cols[i] = fitsio.Column{Name: name, Format: "D"}
	}
	cols[0].Unit = "ms"
	p := d.Data
	err = writeTable(fits, extData, cols, d.Len(), func(i int) interface{} {
		return &dataRow{Time: p.Time[i], Taux: p.Taux[i], Thtr: p.Thtr[i], Uref: p.Uref[i], Temp: p.Temp[i], TempHR: p.TempHR[i]}
	})
	if err != nil {
		return err
	}
	if err = writeBlob(fits, extCalibration, d.Calibration); err != nil {
		return err
	}
	if err = writeBlob(fits, extSettings, d.Settings); err != nil {
		return err
	}

	var progs []programRow
	for _, ch := range d.Programs.Channels() {
		prog := d.Programs[ch]
		dom, _ := prog.Domain()
		vals := prog.Values()
		for i := range prog.Time {
			progs = append(progs, programRow{Channel: int64(ch), Domain: int64(dom), Time: prog.Time[i], Value: vals[i]})
		}
	}
	err = writeTable(fits, extPrograms, []fitsio.Column{
		{Name: "channel", Format: "K"},
		{Name: "domain", Format: "K"},
		{Name: "time", Format: "D", Unit: "ms"},
		{Name: "value", Format: "D"},
	}, len(progs), func(i int) interface{} { return &progs[i] })
	if err != nil {
		return err
	}

	var profs []profileRow
	for _, ch := range d.OutputChannels() {
		for _, v := range d.Profiles[ch] {
			profs = append(profs, profileRow{Channel: int64(ch), Volts: v})
		}
	}
	return writeTable(fits, extProfiles, []fitsio.Column{
		{Name: "channel", Format: "K"},
		{Name: "volts", Format: "D", Unit: "V"},
	}, len(profs), func(i int) interface{} { return &profs[i] })
}

// Save writes d to path
func (d *Dataset) Save(path string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, f.Close()) }()
	return d.Write(f)
}

// readTable scans every row of a named table with scan
func readTable(fits *fitsio.File, name string, scan func(rows *fitsio.Rows) error) error {
	if !fits.Has(name) {
		return fmt.Errorf("%w: no %s table", ErrFormat, name)
	}
	tbl, ok := fits.Get(name).(*fitsio.Table)
	if !ok {
		return fmt.Errorf("%w: %s is not a table", ErrFormat, name)
	}
	rows, err := tbl.Read(0, tbl.NumRows())
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

func readBlob(fits *fitsio.File, name string) (string, error) {
	var out string
	err := readTable(fits, name, func(rows *fitsio.Rows) error {
		var row blobRow
		if err := rows.Scan(&row); err != nil {
			return err
		}
		out = strings.TrimRight(row.JSON, " \x00")
		return nil
	})
	return out, err
}

func cardFloat(hdr *fitsio.Header, name string) (float64, bool) {
	c := hdr.Get(name)
	if c == nil {
		return 0, false
	}
	switch v := c.Value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// Read decodes a dataset and verifies its checksum
func Read(r io.Reader) (*Dataset, error) {
	fits, err := fitsio.Open(r)
	if err != nil {
		return nil, err
	}
	defer fits.Close()
	hdr := fits.HDU(0).Header()
	d := &Dataset{Profiles: map[int][]float64{}, Programs: profile.Programs{}}
	var ok bool
	if d.Rate, ok = cardFloat(hdr, "RATE"); !ok {
		return nil, fmt.Errorf("%w: no RATE card", ErrFormat)
	}
	want, ok := cardFloat(hdr, "DATACRC")
	if !ok {
		return nil, fmt.Errorf("%w: no DATACRC card", ErrFormat)
	}
	if c := hdr.Get("CREATED"); c != nil {
		if s, isStr := c.Value.(string); isStr {
			d.Created, _ = time.Parse(time.RFC3339, strings.TrimSpace(s))
		}
	}

	err = readTable(fits, extData, func(rows *fitsio.Rows) error {
		var row dataRow
		if err := rows.Scan(&row); err != nil {
			return err
		}
		p := &d.Data
		p.Time = append(p.Time, row.Time)
		p.Taux = append(p.Taux, row.Taux)
		p.Thtr = append(p.Thtr, row.Thtr)
		p.Uref = append(p.Uref, row.Uref)
		p.Temp = append(p.Temp, row.Temp)
		p.TempHR = append(p.TempHR, row.TempHR)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if got := d.Checksum(); uint32(want) != got {
		return nil, fmt.Errorf("%w: header says %08x, data hashes to %08x", ErrChecksum, uint32(want), got)
	}

	if d.Calibration, err = readBlob(fits, extCalibration); err != nil {
		return nil, err
	}
	if d.Settings, err = readBlob(fits, extSettings); err != nil {
		return nil, err
	}
	err = readTable(fits, extPrograms, func(rows *fitsio.Rows) error {
		var row programRow
		if err := rows.Scan(&row); err != nil {
			return err
		}
		ch := int(row.Channel)
		prog := d.Programs[ch]
		prog.Time = append(prog.Time, row.Time)
		if profile.Domain(row.Domain) == profile.Temperature {
			prog.Temp = append(prog.Temp, row.Value)
		} else {
			prog.Volt = append(prog.Volt, row.Value)
		}
		d.Programs[ch] = prog
		return nil
	})
	if err != nil {
		return nil, err
	}
	err = readTable(fits, extProfiles, func(rows *fitsio.Rows) error {
		var row profileRow
		if err := rows.Scan(&row); err != nil {
			return err
		}
		ch := int(row.Channel)
		d.Profiles[ch] = append(d.Profiles[ch], row.Volts)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Load reads the dataset at path
func Load(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f)
}
