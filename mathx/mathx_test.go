package mathx_test

import (
	"fmt"
	"math"
	"testing"

	"github.com/nanocal/nanodaq/mathx"
)

func ExampleRound() {
	fmt.Println(mathx.Round(1.23456, 0.0001))
	// Output: 1.2346
}

func ExampleLinspace() {
	fmt.Println(mathx.Linspace(0, 1, 5))
	// Output: [0 0.25 0.5 0.75 1]
}

func TestRoundKeepsExactValues(t *testing.T) {
	if out := mathx.Round(9, 1e-4); out != 9 {
		t.Errorf("expected 9 to survive rounding exactly, got %v", out)
	}
	if out := mathx.Round(-1.25, 0.1); math.Abs(out+1.3) > 1e-12 && math.Abs(out+1.2) > 1e-12 {
		t.Errorf("negative rounding went astray, got %v", out)
	}
}

func TestLinspaceEdges(t *testing.T) {
	if l := mathx.Linspace(3, 4, 0); len(l) != 0 {
		t.Errorf("expected empty slice for n=0, got %v", l)
	}
	if l := mathx.Linspace(3, 4, 1); len(l) != 1 || l[0] != 3 {
		t.Errorf("expected [3] for n=1, got %v", l)
	}
	l := mathx.Linspace(0, 1, 1000)
	if l[999] != 1 {
		t.Errorf("expected the last sample to land on stop, got %v", l[999])
	}
}

func TestInterp(t *testing.T) {
	xp := []float64{0, 100, 1100}
	fp := []float64{0, 0, 5}
	cases := []struct{ x, want float64 }{
		{-10, 0},
		{50, 0},
		{600, 2.5},
		{1100, 5},
		{2000, 5},
	}
	for _, c := range cases {
		if got := mathx.Interp(c.x, xp, fp); math.Abs(got-c.want) > 1e-12 {
			t.Errorf("Interp(%v) = %v, expected %v", c.x, got, c.want)
		}
	}
}

func TestPoly(t *testing.T) {
	got := mathx.Poly(2, 1, 2, 3)
	if got != 17 {
		t.Errorf("expected 1+2*2+3*4=17, got %v", got)
	}
	if mathx.Poly(5) != 0 {
		t.Error("empty polynomial should evaluate to zero")
	}
}
