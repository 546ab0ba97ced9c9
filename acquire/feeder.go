package acquire

import (
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/nanocal/nanodaq/mccdaq"
	"github.com/nanocal/nanodaq/waveform"
)

// ErrOutputStatus wraps a failure of the output scan to report its status
var ErrOutputStatus = errors.New("acquire: output status failed")

// Feeder streams a long output program through a looping output scan.
//
// The output ring holds two chunks.  Whenever the driver finishes playing one half,
// the Feeder overwrites it with the next chunk from the iterator.  After the last
// chunk the halves are filled with zeros.
type Feeder struct {
	Output Scan
	Chunks *waveform.Chunks

	tracker Tracker
	n       int
	done    bool
	fed     int
}

// NewFeeder returns a feeder and the initial ring, holding the first two chunks, to
// start the output scan with
func NewFeeder(out Scan, chunks *waveform.Chunks, channels int) (*Feeder, []float64, error) {
	half := chunks.ChunkLen()
	if half == 0 || channels <= 0 || half%channels != 0 {
		return nil, nil, fmt.Errorf("acquire: chunks of %d samples do not fit %d channels", half, channels)
	}
	f := &Feeder{
		Output:  out,
		Chunks:  chunks,
		tracker: NewTracker(2*half/channels, channels),
		n:       2 * half,
	}
	ring := make([]float64, f.n)
	for _, h := range []Half{Low, High} {
		lo, hi := f.tracker.Bounds(h, f.n)
		if err := f.fill(ring[lo:hi]); err != nil {
			return nil, nil, err
		}
	}
	return f, ring, nil
}

// fill writes the next chunk into dst, zero padding a short or missing chunk
func (f *Feeder) fill(dst []float64) error {
	var chunk []float64
	if !f.done {
		c, err := f.Chunks.Next()
		switch {
		case errors.Is(err, io.EOF):
			f.done = true
		case err != nil:
			return err
		default:
			chunk = c
			f.fed++
		}
	}
	n := copy(dst, chunk)
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
	return nil
}

// Done reports whether every chunk has been handed to the driver
func (f *Feeder) Done() bool {
	return f.done || f.Chunks.Remaining() == 0
}

// Fed is the number of chunks written to the ring so far
func (f *Feeder) Fed() int {
	return f.fed
}

// Poll checks the output scan and refills the half that has just been played.
// A status failure is wrapped in ErrOutputStatus.
func (f *Feeder) Poll() error {
	st, xf, err := f.Output.Status()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrOutputStatus, err)
	}
	if st != mccdaq.Running {
		return nil
	}
	h, ok := f.tracker.Step(xf.CurrentIndex)
	if !ok {
		return nil
	}
	ring := f.Output.Buffer()
	if len(ring) < f.n {
		return fmt.Errorf("acquire: output ring holds %d samples, expected %d", len(ring), f.n)
	}
	lo, hi := f.tracker.Bounds(h, f.n)
	if err := f.fill(ring[lo:hi]); err != nil {
		return err
	}
	log.Printf("acquire: refilled %s output half with chunk %d", h, f.fed)
	return nil
}
