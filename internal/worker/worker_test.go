package worker

import (
	"math"
	"testing"
)

func TestRoundSaturateRoundsHalfToEven(t *testing.T) {
	cases := []struct {
		in   float64
		want int16
	}{
		{0.5, 0},
		{1.5, 2},
		{2.5, 2},
		{-0.5, 0},
		{-1.5, -2},
		{100.4, 100},
		{100.6, 101},
	}
	for _, c := range cases {
		if got := roundSaturate(c.in); got != c.want {
			t.Fatalf("roundSaturate(%v) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestRoundSaturateClampsToInt16Range(t *testing.T) {
	if got := roundSaturate(1e9); got != math.MaxInt16 {
		t.Fatalf("roundSaturate(1e9) = %d, want %d", got, math.MaxInt16)
	}
	if got := roundSaturate(-1e9); got != math.MinInt16 {
		t.Fatalf("roundSaturate(-1e9) = %d, want %d", got, math.MinInt16)
	}
}

func TestToInt16SampleConvertsBothComponents(t *testing.T) {
	s := toInt16Sample(complex(3.5, -4.5))
	if s.I != 4 || s.Q != -4 {
		t.Fatalf("toInt16Sample = %+v, want {4 -4}", s)
	}
}
