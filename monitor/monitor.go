// Package monitor publishes live acquisition progress.
//
// Both publishers take drained halves from the reader and state changes from the
// experiment manager and reduce them to small JSON messages: a Hub pushes them to
// websocket clients, and MQTT publishes them to a broker.
package monitor

import (
	"math"
	"time"

	"github.com/nanocal/nanodaq/acquire"
	"github.com/nanocal/nanodaq/experiment"
)

// message types
const (
	TypeDrain = "drain"
	TypeState = "state"
)

// Summary describes one drained half without its samples
type Summary struct {
	Seq      int       `json:"seq"`
	Buffer   int       `json:"buffer"`
	Half     string    `json:"half"`
	Index    int       `json:"index"`
	Scans    int       `json:"scans"`
	Channels int       `json:"channels"`
	Mean     []float64 `json:"mean"`
	Min      []float64 `json:"min"`
	Max      []float64 `json:"max"`
}

// Summarize reduces d to per channel statistics
func Summarize(d acquire.Drain) Summary {
	c := d.Channels
	s := Summary{Seq: d.Seq, Buffer: d.Buffer, Half: d.Half.String(), Index: d.Index, Channels: c}
	if c <= 0 {
		return s
	}
	s.Scans = len(d.Data) / c
	s.Mean = make([]float64, c)
	s.Min = make([]float64, c)
	s.Max = make([]float64, c)
	for j := 0; j < c; j++ {
		s.Min[j], s.Max[j] = math.Inf(1), math.Inf(-1)
	}
	for i := 0; i < s.Scans; i++ {
		for j := 0; j < c; j++ {
			v := d.Data[i*c+j]
			s.Mean[j] += v
			s.Min[j] = math.Min(s.Min[j], v)
			s.Max[j] = math.Max(s.Max[j], v)
		}
	}
	for j := 0; j < c; j++ {
		if s.Scans > 0 {
			s.Mean[j] /= float64(s.Scans)
		} else {
			s.Min[j], s.Max[j] = 0, 0
		}
	}
	return s
}

// Message is what publishers send
type Message struct {
	Type  string    `json:"type"`
	Time  time.Time `json:"time"`
	Drain *Summary  `json:"drain,omitempty"`
	State string    `json:"state,omitempty"`
}

func drainMessage(d acquire.Drain) Message {
	s := Summarize(d)
	return Message{Type: TypeDrain, Time: time.Now(), Drain: &s}
}

func stateMessage(s experiment.State) Message {
	return Message{Type: TypeState, Time: time.Now(), State: s.String()}
}
