package acquire

import (
	"fmt"
	"log"
	"path/filepath"

	"github.com/nanocal/nanodaq/rawrec"
)

// Drain is one half buffer copied out of the input ring
type Drain struct {
	// Half is the half of the ring the data came from
	Half Half

	// Buffer is the number of complete rings drained before this half
	Buffer int

	// Seq counts halves from zero
	Seq int

	// Index is the writer index observed when the half was drained
	Index int

	// Channels is the number of interleaved channels in Data
	Channels int

	// Data is an interleaved copy of the half; receivers may keep it
	Data []float64
}

// Sink receives drained halves in order
type Sink interface {
	Write(d Drain) error
	Close() error
}

// Observer is notified of every drained half after the sink has accepted it
type Observer interface {
	Drained(d Drain)
}

// Observers fans a drained half out to several observers
type Observers []Observer

// Drained calls Drained on every observer
func (o Observers) Drained(d Drain) {
	for _, obs := range o {
		obs.Drained(d)
	}
}

// BoundedSink appends both halves of ring N to segment N of a recorder, and
// merges all segments into Dst on Close.
type BoundedSink struct {
	Rec *rawrec.Recorder

	// Dst is the merged raw file
	Dst string

	last int
	any  bool
}

// Write appends d to its segment
func (s *BoundedSink) Write(d Drain) error {
	if err := s.Rec.Append(d.Buffer, d.Data); err != nil {
		return err
	}
	s.last, s.any = d.Buffer, true
	return nil
}

// Segments is the number of segments written, counting a partially filled last one
func (s *BoundedSink) Segments() int {
	if !s.any {
		return 0
	}
	return s.last + 1
}

// Close merges every segment written into Dst
func (s *BoundedSink) Close() error {
	n := s.Segments()
	scans, err := s.Rec.Merge(n, s.Dst)
	if err != nil {
		return err
	}
	log.Printf("acquire: merged %d segments, %d scans into %s", n, scans, s.Dst)
	return nil
}

// ScratchSink overwrites two scratch files in rotation, so an unbounded run uses
// constant storage.  Paths holds the two file names.
type ScratchSink struct {
	Paths [2]string
}

// NewScratchSink returns a sink writing <prefix>1 and <prefix>2 in dir
func NewScratchSink(dir, prefix string) *ScratchSink {
	return &ScratchSink{Paths: [2]string{
		filepath.Join(dir, fmt.Sprintf("%s1%s", prefix, rawrec.Ext)),
		filepath.Join(dir, fmt.Sprintf("%s2%s", prefix, rawrec.Ext)),
	}}
}

// Write overwrites the scratch file for d's sequence number
func (s *ScratchSink) Write(d Drain) error {
	return rawrec.WriteScratch(s.Paths[d.Seq%2], d.Channels, d.Data)
}

// Close is a no-op
func (s *ScratchSink) Close() error {
	return nil
}

// Discard is a sink that keeps nothing
type Discard struct{}

// Write discards d
func (Discard) Write(d Drain) error { return nil }

// Close is a no-op
func (Discard) Close() error { return nil }
