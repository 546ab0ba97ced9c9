package acquire

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/time/rate"

	"github.com/nanocal/nanodaq/mccdaq"
)

// DefaultPollInterval is the time between status checks
const DefaultPollInterval = 100 * time.Millisecond

// Reason is why a Reader stopped
type Reason int

const (
	// Polling means the reader has not stopped yet
	Polling Reason = iota

	// Completed means the requested number of buffers was drained
	Completed

	// Cancelled means the context was cancelled
	Cancelled

	// HardwareStopped means the scan stopped running on its own
	HardwareStopped

	// StatusFault means the driver failed to report the status of the input
	// or output scan
	StatusFault
)

func (r Reason) String() string {
	switch r {
	case Polling:
		return "polling"
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	case HardwareStopped:
		return "hardware stopped"
	case StatusFault:
		return "status fault"
	}
	return fmt.Sprintf("Reason(%d)", int(r))
}

// Scan is the part of an input or output handle the reader needs
type Scan interface {
	Status() (mccdaq.ScanStatus, mccdaq.TransferStatus, error)
	Buffer() []float64
	Stop() error
}

// Session is the state of one run of a Reader.  It is returned when the run ends.
type Session struct {
	// Tracker holds the half-buffer flag and the drained buffer count
	Tracker Tracker

	// Reason is why the run ended
	Reason Reason

	// Fault is the status error that ended the run, for StatusFault
	Fault error

	Start, End time.Time

	// Polls is the number of status checks made
	Polls int
}

// Buffers is the number of complete buffers drained
func (s Session) Buffers() int {
	return s.Tracker.Buffers()
}

// Halves is the number of halves drained
func (s Session) Halves() int {
	return s.Tracker.Halves()
}

// Reader drains a running continuous input scan into a Sink
type Reader struct {
	// Input is the running scan
	Input Scan

	// Sink receives each drained half
	Sink Sink

	// Channels is the number of channels in the scan
	Channels int

	// SamplesPerChannel is the length of the ring in scans
	SamplesPerChannel int

	// PollInterval is the time between status checks, DefaultPollInterval if zero.
	// It must be shorter than the time to fill half the ring.
	PollInterval time.Duration

	// Buffers is the number of whole buffers to drain before stopping, 0 for no limit
	Buffers int

	// Observer, if not nil, sees every drained half
	Observer Observer

	// Feeder, if not nil, is polled on every iteration to refill the output ring
	Feeder *Feeder
}

// Run polls the scan until it completes, is cancelled, or stops on its own.
//
// Mid-scan anomalies end the run without an error; the session's Reason says what
// happened.  An error is returned only for faults on the software side, when the
// sink or the feeder fails.  The input scan is stopped on every exit path, and
// the sink is closed.
func (r *Reader) Run(ctx context.Context) (sess Session, err error) {
	if r.Channels <= 0 || r.SamplesPerChannel <= 0 || r.SamplesPerChannel%2 != 0 {
		return sess, fmt.Errorf("acquire: need an even number of samples per channel and at least one channel, got %d and %d", r.SamplesPerChannel, r.Channels)
	}
	interval := r.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	n := r.Channels * r.SamplesPerChannel
	sess.Tracker = NewTracker(r.SamplesPerChannel, r.Channels)
	sess.Start = time.Now()
	lim := rate.NewLimiter(rate.Every(interval), 1)
	defer func() {
		sess.End = time.Now()
		err = multierr.Combine(err, r.Input.Stop(), r.Sink.Close())
		log.Printf("acquire: stopped (%s) after %d buffers, %d halves", sess.Reason, sess.Buffers(), sess.Halves())
	}()
	for {
		if r.Buffers > 0 && sess.Tracker.Buffers() >= r.Buffers {
			sess.Reason = Completed
			return sess, nil
		}
		if err := lim.Wait(ctx); err != nil {
			sess.Reason = Cancelled
			return sess, nil
		}
		sess.Polls++
		st, xf, serr := r.Input.Status()
		if serr != nil {
			sess.Reason, sess.Fault = StatusFault, serr
			log.Printf("acquire: status failed: %v", serr)
			return sess, nil
		}
		if st != mccdaq.Running {
			sess.Reason = HardwareStopped
			return sess, nil
		}
		if r.Feeder != nil {
			ferr := r.Feeder.Poll()
			if errors.Is(ferr, ErrOutputStatus) {
				sess.Reason, sess.Fault = StatusFault, ferr
				log.Printf("acquire: %v", ferr)
				return sess, nil
			}
			if ferr != nil {
				return sess, fmt.Errorf("acquire: feeding output: %w", ferr)
			}
		}
		buffer := sess.Tracker.Buffers()
		seq := sess.Tracker.Halves()
		h, ok := sess.Tracker.Step(xf.CurrentIndex)
		if !ok {
			continue
		}
		buf := r.Input.Buffer()
		if len(buf) < n {
			return sess, fmt.Errorf("acquire: ring holds %d samples, expected %d", len(buf), n)
		}
		lo, hi := sess.Tracker.Bounds(h, n)
		d := Drain{
			Half:     h,
			Buffer:   buffer,
			Seq:      seq,
			Index:    xf.CurrentIndex,
			Channels: r.Channels,
			Data:     append([]float64(nil), buf[lo:hi]...),
		}
		log.Printf("acquire: drained %s half, index=%d buffer=%d", h, xf.CurrentIndex, buffer)
		if err := r.Sink.Write(d); err != nil {
			return sess, fmt.Errorf("acquire: writing buffer %d: %w", buffer, err)
		}
		if r.Observer != nil {
			r.Observer.Drained(d)
		}
	}
}
