package waveform

import (
	"fmt"
	"io"
	"math"

	"github.com/nanocal/nanodaq/profile"
)

// Window returns the part of p that falls in [ws, we).
//
// Isotherm and sine pieces copy the parent's parameters, so a sine restarts its
// phase at every window.  A ramp piece takes its end values from the parent ramp
// sampled on the parent's own grid, which makes the samples of consecutive windows
// concatenate to exactly the samples of the unsplit ramp.
func Window(p profile.Profile, ws, we, rate float64) profile.Profile {
	out := profile.Profile{Domain: p.Domain}
	const eps = 1e-9
	for _, seg := range p.Segments {
		if seg.End <= ws+eps || seg.Start >= we-eps {
			continue
		}
		s, e := math.Max(ws, seg.Start), math.Min(we, seg.End)
		piece := seg
		piece.Start, piece.End = s, e
		if seg.Kind == profile.Ramp {
			np := int(math.Round(seg.Duration() * rate))
			a := int(math.Round((s - seg.Start) * rate))
			c := int(math.Round((e - s) * rate))
			piece.From = rampAt(seg, a, np)
			piece.To = rampAt(seg, a+c-1, np)
		}
		out.Segments = append(out.Segments, piece)
	}
	return out
}

// rampAt is sample k of a ramp synthesized with n points
func rampAt(seg profile.Segment, k, n int) float64 {
	if n <= 1 {
		return seg.From
	}
	if k >= n-1 {
		return seg.To
	}
	return seg.From + (seg.To-seg.From)*float64(k)/float64(n-1)
}

// windows is the number of chunk long windows needed to cover dur
func windows(dur, chunk float64) int {
	return int(math.Ceil(dur/chunk - 1e-9))
}

// Split cuts every profile into consecutive windows of chunk seconds, measured from
// the profile's own start.  Only the last window may be shorter than chunk.
func Split(profiles map[int]profile.Profile, chunk, rate float64) ([]map[int]profile.Profile, error) {
	if chunk <= 0 {
		return nil, fmt.Errorf("waveform: chunk duration must be positive, got %g", chunk)
	}
	if _, err := SampleCount(chunk, rate); err != nil {
		return nil, fmt.Errorf("chunk: %w", err)
	}
	var dur float64
	for _, p := range profiles {
		dur = math.Max(dur, p.Duration())
	}
	n := windows(dur, chunk)
	out := make([]map[int]profile.Profile, n)
	for k := range out {
		out[k] = make(map[int]profile.Profile, len(profiles))
		for ch, p := range profiles {
			ws := p.Start() + float64(k)*chunk
			we := math.Min(ws+chunk, p.End())
			out[k][ch] = Window(p, ws, we, rate)
		}
	}
	return out, nil
}

// Chunks synthesizes a long profile one window at a time.
// It is not safe for concurrent use.
type Chunks struct {
	s     Synthesizer
	wins  []map[int]profile.Profile
	chunk float64
	k     int
}

// Chunks validates profiles and returns an iterator over their chunk second windows
func (s Synthesizer) Chunks(profiles map[int]profile.Profile, chunk float64) (*Chunks, error) {
	dur, err := s.Validate(profiles)
	if err != nil {
		return nil, err
	}
	if _, err := SampleCount(dur, s.Rate); err != nil {
		return nil, fmt.Errorf("profile: %w", err)
	}
	wins, err := Split(profiles, chunk, s.Rate)
	if err != nil {
		return nil, err
	}
	return &Chunks{s: s, wins: wins, chunk: chunk}, nil
}

// Len is the total number of chunks
func (c *Chunks) Len() int {
	return len(c.wins)
}

// Remaining is the number of chunks Next has not yet returned
func (c *Chunks) Remaining() int {
	return len(c.wins) - c.k
}

// ChunkLen is the number of interleaved samples in a full chunk
func (c *Chunks) ChunkLen() int {
	return int(math.Round(c.chunk*c.s.Rate)) * c.s.Channels.Count()
}

// Next synthesizes the next chunk, returning io.EOF after the last one
func (c *Chunks) Next() ([]float64, error) {
	if c.k >= len(c.wins) {
		return nil, io.EOF
	}
	buf, err := c.s.Synthesize(c.wins[c.k])
	if err != nil {
		return nil, fmt.Errorf("chunk %d: %w", c.k, err)
	}
	c.k++
	return buf, nil
}

// Reset rewinds the iterator to the first chunk
func (c *Chunks) Reset() {
	c.k = 0
}
