package rawrec_test

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/nanocal/nanodaq/rawrec"
)

func ramp(n int, start float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)
	}
	return out
}

func TestAppendAndMerge(t *testing.T) {
	dir := t.TempDir()
	r := &rawrec.Recorder{Root: dir, Prefix: "raw_data_buffer_", Channels: 2}
	// two halves per segment, three segments
	for seg := 0; seg < 3; seg++ {
		for half := 0; half < 2; half++ {
			base := float64(seg*8 + half*4)
			if err := r.Append(seg, ramp(4, base)); err != nil {
				t.Fatal(err)
			}
		}
	}
	if err := r.Finish(); err != nil {
		t.Fatal(err)
	}
	if r.Segments() != 3 || r.Samples() != 12 {
		t.Errorf("expected 3 segments and 12 scans, got %d %d", r.Segments(), r.Samples())
	}
	if _, err := os.Stat(filepath.Join(dir, "raw_data_buffer_2.parquet")); err != nil {
		t.Errorf("expected a segment file named by index: %v", err)
	}
	dst := filepath.Join(dir, "raw_data.parquet")
	n, err := r.Merge(3, dst)
	if err != nil {
		t.Fatal(err)
	}
	if n != 12 {
		t.Errorf("expected 12 merged scans, got %d", n)
	}
	rows, err := rawrec.Read(dst)
	if err != nil {
		t.Fatal(err)
	}
	for i, row := range rows {
		if row.Sample != int64(i) {
			t.Fatalf("row %d has sample number %d", i, row.Sample)
		}
		if row.Volts[0] != float64(2*i) || row.Volts[1] != float64(2*i+1) {
			t.Fatalf("row %d out of order: %v", i, row.Volts)
		}
	}
	cols := rawrec.Columns(rows)
	if len(cols) != 2 || cols[1][11] != 23 {
		t.Errorf("unexpected columns %v", cols)
	}
}

func TestAppendRejectsBadInput(t *testing.T) {
	r := &rawrec.Recorder{Root: t.TempDir(), Prefix: "seg", Channels: 3}
	if err := r.Append(0, ramp(4, 0)); err == nil {
		t.Error("expected an error for 4 samples on 3 channels")
	}
	if err := r.Append(1, ramp(3, 0)); err != nil {
		t.Fatal(err)
	}
	if err := r.Append(0, ramp(3, 0)); err == nil {
		t.Error("expected an error going back to an earlier segment")
	}
	r.Finish()
}

func TestMergeMissingSegment(t *testing.T) {
	dir := t.TempDir()
	r := &rawrec.Recorder{Root: dir, Prefix: "seg", Channels: 1}
	if err := r.Append(0, ramp(2, 0)); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Merge(2, filepath.Join(dir, "out.parquet")); err == nil {
		t.Error("expected an error merging a segment that was never written")
	}
}

func TestClean(t *testing.T) {
	dir := t.TempDir()
	r := &rawrec.Recorder{Root: dir, Prefix: "raw_data_buffer_", Channels: 1}
	for i := 0; i < 4; i++ {
		if err := r.Append(i, ramp(2, 0)); err != nil {
			t.Fatal(err)
		}
	}
	keep := filepath.Join(dir, "raw_data_buffer_notes.parquet")
	if err := os.WriteFile(keep, nil, 0644); err != nil {
		t.Fatal(err)
	}
	idx, err := r.Indices()
	if err != nil {
		t.Fatal(err)
	}
	if fmt.Sprint(idx) != "[0 1 2 3]" {
		t.Errorf("expected segments [0 1 2 3], found %v", idx)
	}
	if err := r.Clean(); err != nil {
		t.Fatal(err)
	}
	idx, err = r.Indices()
	if err != nil {
		t.Fatal(err)
	}
	if len(idx) != 0 {
		t.Errorf("expected no segments after Clean, found %v", idx)
	}
	if _, err := os.Stat(keep); err != nil {
		t.Error("Clean removed a file that is not a segment")
	}
	if r.Segments() != 0 {
		t.Error("Clean did not reset the counters")
	}
}

func TestWriteScratch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raw_data_dummy_1.parquet")
	if err := rawrec.WriteScratch(path, 2, ramp(6, 0)); err != nil {
		t.Fatal(err)
	}
	if err := rawrec.WriteScratch(path, 2, ramp(4, 100)); err != nil {
		t.Fatal(err)
	}
	rows, err := rawrec.Read(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 || rows[0].Volts[0] != 100 {
		t.Errorf("expected the scratch file to be overwritten, got %+v", rows)
	}
}
