// Package rawrec records raw, interleaved DAQ samples to parquet files.
//
// A bounded acquisition writes one segment file per buffer, named
// <prefix><index>.parquet, and merges them in index order once the run ends.
// Unbounded acquisitions overwrite scratch files with WriteScratch instead.
package rawrec

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/segmentio/parquet-go"
	"go.uber.org/multierr"
)

// Ext is the file extension of segment and scratch files
const Ext = ".parquet"

// Scan is one row of a raw file: the voltage of every channel at one sample instant
type Scan struct {
	Sample int64     `parquet:"sample"`
	Volts  []float64 `parquet:"volts"`
}

// Recorder writes numbered segment files into Root.  It is not thread safe.
type Recorder struct {
	// Root is the folder the segments are written to
	Root string

	// Prefix is the prefix for the filenames
	Prefix string

	// Channels is the number of interleaved channels in the data passed to Append
	Channels int

	// counter is the index of the open segment
	counter int
	f       *os.File
	w       *parquet.GenericWriter[Scan]

	samples  int64
	segments int
}

// Path is the file name of segment index
func (r *Recorder) Path(index int) string {
	return filepath.Join(r.Root, fmt.Sprintf("%s%d%s", r.Prefix, index, Ext))
}

// Segments is the number of segments opened since the last Clean
func (r *Recorder) Segments() int {
	return r.segments
}

// Samples is the number of scans appended since the last Clean
func (r *Recorder) Samples() int64 {
	return r.samples
}

func (r *Recorder) open(index int) error {
	if err := os.MkdirAll(r.Root, 0777); err != nil {
		return err
	}
	f, err := os.Create(r.Path(index))
	if err != nil {
		return err
	}
	r.f = f
	r.w = parquet.NewGenericWriter[Scan](f,
		parquet.KeyValueMetadata("channels", strconv.Itoa(r.Channels)),
		parquet.KeyValueMetadata("segment", strconv.Itoa(index)))
	r.counter = index
	r.segments++
	return nil
}

// Append adds interleaved data to segment index.  A new index finishes the open
// segment and starts the next one; indices must not decrease.
func (r *Recorder) Append(index int, data []float64) error {
	if r.Channels <= 0 {
		return errors.New("rawrec: recorder has no channels")
	}
	if len(data)%r.Channels != 0 {
		return fmt.Errorf("rawrec: %d samples do not divide into %d channels", len(data), r.Channels)
	}
	if r.w != nil && index < r.counter {
		return fmt.Errorf("rawrec: segment %d appended after segment %d", index, r.counter)
	}
	if r.w == nil || index != r.counter {
		if err := r.Finish(); err != nil {
			return err
		}
		if err := r.open(index); err != nil {
			return err
		}
	}
	rows := toScans(data, r.Channels, r.samples)
	if _, err := r.w.Write(rows); err != nil {
		return err
	}
	r.samples += int64(len(rows))
	return nil
}

// Finish closes the open segment, if any
func (r *Recorder) Finish() error {
	if r.w == nil {
		return nil
	}
	err := multierr.Append(r.w.Close(), r.f.Close())
	r.w, r.f = nil, nil
	return err
}

// Merge concatenates segments 0..n-1 in order into dst and returns the number
// of scans written.  A missing segment is an error.
func (r *Recorder) Merge(n int, dst string) (n64 int64, err error) {
	if err := r.Finish(); err != nil {
		return 0, err
	}
	f, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	defer func() { err = multierr.Append(err, f.Close()) }()
	w := parquet.NewGenericWriter[Scan](f, parquet.KeyValueMetadata("channels", strconv.Itoa(r.Channels)))
	for i := 0; i < n; i++ {
		rows, err := Read(r.Path(i))
		if err != nil {
			w.Close()
			return n64, fmt.Errorf("rawrec: merging segment %d: %w", i, err)
		}
		if _, err := w.Write(rows); err != nil {
			w.Close()
			return n64, err
		}
		n64 += int64(len(rows))
	}
	return n64, w.Close()
}

// Clean removes every segment with the recorder's prefix from Root and resets the counters
func (r *Recorder) Clean() error {
	if err := r.Finish(); err != nil {
		return err
	}
	r.samples, r.segments, r.counter = 0, 0, 0
	idx, err := r.Indices()
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var errs error
	for _, i := range idx {
		errs = multierr.Append(errs, os.Remove(r.Path(i)))
	}
	return errs
}

// Indices lists the segment indices present in Root, in increasing order
func (r *Recorder) Indices() ([]int, error) {
	files, err := os.ReadDir(r.Root)
	if err != nil {
		return nil, err
	}
	var out []int
	for _, file := range files {
		fn := file.Name()
		if file.IsDir() || !strings.HasPrefix(fn, r.Prefix) || !strings.HasSuffix(fn, Ext) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(fn, r.Prefix), Ext))
		if err != nil || r.Path(n) != filepath.Join(r.Root, fn) {
			continue
		}
		out = append(out, n)
	}
	sort.Ints(out)
	return out, nil
}

func toScans(data []float64, c int, first int64) []Scan {
	n := len(data) / c
	rows := make([]Scan, n)
	for i := range rows {
		v := make([]float64, c)
		copy(v, data[i*c:(i+1)*c])
		rows[i] = Scan{Sample: first + int64(i), Volts: v}
	}
	return rows
}

// WriteScratch overwrites path with one buffer of interleaved data
func WriteScratch(path string, channels int, data []float64) (err error) {
	if channels <= 0 || len(data)%channels != 0 {
		return fmt.Errorf("rawrec: %d samples do not divide into %d channels", len(data), channels)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, f.Close()) }()
	w := parquet.NewGenericWriter[Scan](f, parquet.KeyValueMetadata("channels", strconv.Itoa(channels)))
	if _, err := w.Write(toScans(data, channels, 0)); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// Read loads every row of a raw file
func Read(path string) (rows []Scan, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	rd := parquet.NewGenericReader[Scan](f)
	defer func() { err = multierr.Append(err, rd.Close()) }()
	rows = make([]Scan, rd.NumRows())
	got := 0
	for got < len(rows) {
		n, err := rd.Read(rows[got:])
		got += n
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	return rows[:got], nil
}

// Columns splits rows into one column per channel
func Columns(rows []Scan) [][]float64 {
	if len(rows) == 0 {
		return nil
	}
	c := len(rows[0].Volts)
	out := make([][]float64, c)
	for j := range out {
		out[j] = make([]float64, len(rows))
	}
	for i, row := range rows {
		for j := 0; j < c && j < len(row.Volts); j++ {
			out[j][i] = row.Volts[j]
		}
	}
	return out
}
