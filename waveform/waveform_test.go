package waveform_test

import (
	"errors"
	"fmt"
	"io"
	"math"
	"testing"

	"github.com/nanocal/nanodaq/calibration"
	"github.com/nanocal/nanodaq/mccdaq"
	"github.com/nanocal/nanodaq/profile"
	"github.com/nanocal/nanodaq/waveform"
)

func twoChannels() waveform.Synthesizer {
	return waveform.Synthesizer{Rate: 1000, Channels: mccdaq.ChannelRange{Low: 0, High: 1}}
}

func ExampleSynthesizer_Synthesize() {
	s := twoChannels()
	buf, _ := s.Synthesize(map[int]profile.Profile{
		0: profile.New(profile.Voltage, profile.NewIsotherm(0, 1, 2)),
		1: profile.New(profile.Voltage, profile.NewRamp(0, 1, 0, 1)),
	})
	fmt.Println(len(buf), buf[0], buf[1], buf[1998], buf[1999])
	// Output: 2000 2 0 2 1
}

func TestInterleaving(t *testing.T) {
	s := waveform.Synthesizer{Rate: 100, Channels: mccdaq.ChannelRange{Low: 2, High: 4}}
	profs := map[int]profile.Profile{
		2: profile.New(profile.Voltage, profile.NewRamp(0, 1, 0, 9.9)),
		4: profile.New(profile.Voltage, profile.NewIsotherm(0, 0.5, 1), profile.NewRamp(0.5, 1, 1, 3)),
	}
	buf, err := s.Synthesize(profs)
	if err != nil {
		t.Fatal(err)
	}
	c := s.Channels.Count()
	ch2, _ := s.Channel(profs[2])
	ch4, _ := s.Channel(profs[4])
	if len(buf) != c*100 {
		t.Fatalf("expected %d samples, got %d", c*100, len(buf))
	}
	for i := 0; i < 100; i++ {
		if buf[i*c] != ch2[i] || buf[i*c+2] != ch4[i] {
			t.Fatalf("sample %d is not interleaved", i)
		}
		if buf[i*c+1] != 0 {
			t.Fatalf("missing channel 3 should be zero, got %f at %d", buf[i*c+1], i)
		}
	}
	cols := waveform.Deinterleave(buf, c)
	if cols[0][42] != ch2[42] || cols[2][77] != ch4[77] {
		t.Error("Deinterleave does not invert Interleave")
	}
}

func TestDurationMismatch(t *testing.T) {
	_, err := twoChannels().Synthesize(map[int]profile.Profile{
		0: profile.New(profile.Voltage, profile.NewIsotherm(0, 1, 2)),
		1: profile.New(profile.Voltage, profile.NewIsotherm(0, 2, 2)),
	})
	if !errors.Is(err, waveform.ErrDurationMismatch) {
		t.Errorf("expected ErrDurationMismatch, got %v", err)
	}
}

func TestChannelOutOfRange(t *testing.T) {
	_, err := twoChannels().Synthesize(map[int]profile.Profile{
		3: profile.New(profile.Voltage, profile.NewIsotherm(0, 1, 2)),
	})
	if !errors.Is(err, waveform.ErrChannelRange) {
		t.Errorf("expected ErrChannelRange, got %v", err)
	}
}

func TestNonIntegral(t *testing.T) {
	_, err := twoChannels().Synthesize(map[int]profile.Profile{
		0: profile.New(profile.Voltage, profile.NewIsotherm(0, 0.0015, 2)),
	})
	if !errors.Is(err, waveform.ErrNonIntegral) {
		t.Errorf("expected ErrNonIntegral, got %v", err)
	}
}

func TestSineTruncation(t *testing.T) {
	cases := []struct{ d, f, rate float64 }{
		{1, 75, 20000},
		{2.5, 3, 1000},
		{0.9, 1, 100},
		{1, 7, 1000},
	}
	for _, c := range cases {
		out, err := waveform.Sample(profile.NewSine(0, c.d, 0.1, c.f, 0.2), c.rate)
		if err != nil {
			t.Fatal(err)
		}
		want := int(math.Floor(c.d*c.f)) * int(math.Round(c.rate/c.f))
		if len(out) != want {
			t.Errorf("d=%g f=%g rate=%g: expected %d samples, got %d", c.d, c.f, c.rate, want, len(out))
		}
	}
	out, _ := waveform.Sample(profile.NewSine(0, 1, 2, 10, 1), 100)
	if out[0] != 1 || math.Abs(out[5]-1) > 1e-12 || math.Abs(out[2]-(1+2*math.Sin(2*math.Pi*2/10))) > 1e-12 {
		t.Errorf("unexpected sine values %v", out[:10])
	}
}

func TestTemperatureDomain(t *testing.T) {
	cal := calibration.Default()
	cal.Theater0 = 2
	s := waveform.Synthesizer{Rate: 10, Channels: mccdaq.ChannelRange{Low: 0, High: 0}, Calibration: cal}
	buf, err := s.Synthesize(map[int]profile.Profile{
		0: profile.New(profile.Temperature, profile.NewIsotherm(0, 1, 18), profile.NewIsotherm(1, 2, 100)),
	})
	if err != nil {
		t.Fatal(err)
	}
	if buf[0] != 9 || buf[19] != 9 {
		t.Errorf("expected temperatures mapped and clamped to 9 V, got %f %f", buf[0], buf[19])
	}
	s.Calibration = nil
	if _, err := s.Synthesize(map[int]profile.Profile{0: profile.New(profile.Temperature, profile.NewIsotherm(0, 1, 1))}); err == nil {
		t.Error("expected an error without a calibration")
	}
}

func concat(t *testing.T, it *waveform.Chunks) []float64 {
	var out []float64
	for {
		b, err := it.Next()
		if err == io.EOF {
			return out
		}
		if err != nil {
			t.Fatal(err)
		}
		out = append(out, b...)
	}
}

func TestRampChunkContinuity(t *testing.T) {
	s := waveform.Synthesizer{Rate: 1000, Channels: mccdaq.ChannelRange{Low: 0, High: 1}}
	profs := map[int]profile.Profile{
		0: profile.New(profile.Voltage, profile.NewRamp(0, 5, 0, 5)),
		1: profile.New(profile.Voltage, profile.NewIsotherm(0, 1.5, 1), profile.NewRamp(1.5, 3.5, 1, 9), profile.NewIsotherm(3.5, 5, 9)),
	}
	whole, err := s.Synthesize(profs)
	if err != nil {
		t.Fatal(err)
	}
	it, err := s.Chunks(profs, 1)
	if err != nil {
		t.Fatal(err)
	}
	if it.Len() != 5 || it.ChunkLen() != 2000 {
		t.Errorf("expected 5 chunks of 2000 samples, got %d of %d", it.Len(), it.ChunkLen())
	}
	parts := concat(t, it)
	if len(parts) != len(whole) {
		t.Fatalf("chunks hold %d samples, expected %d", len(parts), len(whole))
	}
	for i := range whole {
		if math.Abs(parts[i]-whole[i]) > 1e-9 {
			t.Fatalf("sample %d: chunked %f, unsplit %f", i, parts[i], whole[i])
		}
	}
	if it.Remaining() != 0 {
		t.Error("expected no chunks left")
	}
	it.Reset()
	if it.Remaining() != 5 {
		t.Error("Reset did not rewind")
	}
	again := concat(t, it)
	for i := range parts {
		if again[i] != parts[i] {
			t.Fatalf("sample %d changed after Reset: %f, was %f", i, again[i], parts[i])
		}
	}
}

func TestChunkShortTailAndOffsetStart(t *testing.T) {
	s := waveform.Synthesizer{Rate: 200, Channels: mccdaq.ChannelRange{Low: 0, High: 0}}
	// starts half way through a second and ends 0.25 s into the last chunk
	profs := map[int]profile.Profile{
		0: profile.New(profile.Voltage, profile.NewRamp(0.5, 2.75, -1, 3.5)),
	}
	whole, err := s.Synthesize(profs)
	if err != nil {
		t.Fatal(err)
	}
	it, err := s.Chunks(profs, 1)
	if err != nil {
		t.Fatal(err)
	}
	var lens []int
	var parts []float64
	for {
		b, err := it.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		lens = append(lens, len(b))
		parts = append(parts, b...)
	}
	if fmt.Sprint(lens) != "[200 200 50]" {
		t.Errorf("expected chunk lengths [200 200 50], got %v", lens)
	}
	for i := range whole {
		if math.Abs(parts[i]-whole[i]) > 1e-9 {
			t.Fatalf("sample %d: chunked %f, unsplit %f", i, parts[i], whole[i])
		}
	}
	if parts[0] != -1 || parts[len(parts)-1] != 3.5 {
		t.Errorf("chunking moved the end points: %f %f", parts[0], parts[len(parts)-1])
	}
}

func TestSplitCopiesIsothermAndSine(t *testing.T) {
	profs := map[int]profile.Profile{
		0: profile.New(profile.Voltage, profile.NewSine(0, 2, 0.1, 50, 0.3)),
		1: profile.New(profile.Voltage, profile.NewIsotherm(0, 2, 4)),
	}
	parts, err := waveform.Split(profs, 1, 1000)
	if err != nil {
		t.Fatal(err)
	}
	if len(parts) != 2 {
		t.Fatalf("expected 2 windows, got %d", len(parts))
	}
	sine := parts[1][0].Segments[0]
	if sine.Start != 1 || sine.End != 2 || sine.Frequency != 50 || sine.Amplitude != 0.1 || sine.Offset != 0.3 {
		t.Errorf("unexpected sine window %+v", sine)
	}
	iso := parts[1][1].Segments[0]
	if iso.From != 4 || iso.To != 4 {
		t.Errorf("unexpected isotherm window %+v", iso)
	}
	if _, err := waveform.Split(profs, 0.0015, 1000); !errors.Is(err, waveform.ErrNonIntegral) {
		t.Errorf("expected ErrNonIntegral for a 1.5 sample chunk, got %v", err)
	}
	s := waveform.Synthesizer{Rate: 1000, Channels: mccdaq.ChannelRange{Low: 0, High: 1}}
	if _, err := s.Chunks(profs, 0.0015); !errors.Is(err, waveform.ErrNonIntegral) {
		t.Errorf("Chunks should reject the chunk length Split rejects, got %v", err)
	}
}
