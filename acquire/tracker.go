// Package acquire drains continuously running DAQ scans without loss or duplication.
//
// The driver fills a ring buffer one second long and reports the index it last
// wrote.  Nothing signals when a half of the ring is complete, so the Reader polls
// the index and uses a Tracker to decide, with hysteresis, when a half is safe to
// copy: the low half once the writer is past the midpoint, the high half once the
// writer has wrapped back below it.  The same Tracker drives the Feeder, which
// refills the halves of a looping output ring that have already been played.
package acquire

// Half names one half of a ring buffer
type Half int

const (
	// Low is [0, len/2)
	Low Half = iota

	// High is [len/2, len)
	High
)

func (h Half) String() string {
	if h == High {
		return "high"
	}
	return "low"
}

// Tracker is the half-buffer state machine.  The zero value expects the low half
// first; Mid must be set to half the ring length.
type Tracker struct {
	// Mid is the ring index of the first sample of the high half
	Mid int

	next    Half
	buffers int
	halves  int
}

// NewTracker returns a tracker for a ring of samplesPerChannel scans of
// channels channels.  The midpoint falls on a scan boundary.
func NewTracker(samplesPerChannel, channels int) Tracker {
	return Tracker{Mid: samplesPerChannel / 2 * channels}
}

// Step feeds the tracker the writer's current index.  It reports the half that
// has just become complete, if any, and advances to expect the other one.
func (t *Tracker) Step(index int) (Half, bool) {
	if index < 0 {
		return t.next, false
	}
	switch t.next {
	case Low:
		if index > t.Mid {
			t.next = High
			t.halves++
			return Low, true
		}
	case High:
		if index < t.Mid {
			t.next = Low
			t.halves++
			t.buffers++
			return High, true
		}
	}
	return t.next, false
}

// Next is the half the tracker is waiting for
func (t *Tracker) Next() Half {
	return t.next
}

// Buffers is the number of complete rings drained (one low and one high half each)
func (t *Tracker) Buffers() int {
	return t.buffers
}

// Halves is the number of halves drained
func (t *Tracker) Halves() int {
	return t.halves
}

// Bounds is the slice bounds of half h in a ring of length n
func (t *Tracker) Bounds(h Half, n int) (lo, hi int) {
	if h == Low {
		return 0, t.Mid
	}
	return t.Mid, n
}
