package dsp

import (
	"math"
	"testing"
)

func TestHammingEndpointsAndSymmetry(t *testing.T) {
	win := Hamming(5)
	want := []float64{0.08, 0.54, 1, 0.54, 0.08}
	for i := range want {
		if math.Abs(win[i]-want[i]) > 1e-12 {
			t.Fatalf("index %d: want %.2f got %.12f", i, want[i], win[i])
		}
	}
	if w := Hamming(1); len(w) != 1 || w[0] != 1 {
		t.Fatalf("single-point window should be 1, got %v", w)
	}
	if Hamming(0) != nil {
		t.Fatalf("empty window should be nil")
	}
}

func TestCoherentGain(t *testing.T) {
	if g := CoherentGain(Hamming(4097)); math.Abs(g-0.54) > 1e-3 {
		t.Fatalf("Hamming coherent gain %.4f, want ~0.54", g)
	}
	if CoherentGain(nil) != 0 {
		t.Fatalf("empty window gain should be 0")
	}
}

func TestApplyWindow(t *testing.T) {
	out := ApplyWindow([]float64{1, 2}, []float64{0.5, 0.25})
	if len(out) != 2 || out[0] != 0.5 || out[1] != 0.5 {
		t.Fatalf("unexpected output %v", out)
	}
	if ApplyWindow([]float64{1, 2}, []float64{1}) != nil {
		t.Fatalf("expected nil when lengths differ")
	}
}
