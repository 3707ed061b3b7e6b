package audio

import (
	"math"
	"testing"
)

func TestRMS(t *testing.T) {
	tests := []struct {
		name     string
		samples  []float32
		expected float64
	}{
		{"empty", nil, 0.0},
		{"silence", make([]float32, 100), 0.0},
		{"full scale square", []float32{1, -1, 1, -1}, 1.0},
		{"constant half", []float32{0.5, 0.5, 0.5, 0.5}, 0.5},
	}

	for _, tt := range tests {
		got := RMS(tt.samples)
		if math.Abs(got-tt.expected) > 1e-9 {
			t.Errorf("%s: expected RMS %f, got %f", tt.name, tt.expected, got)
		}
	}
}

func TestMeter_ObserveAndReset(t *testing.T) {
	var m Meter

	if m.Level() != 0 {
		t.Errorf("expected zero initial level, got %f", m.Level())
	}

	m.Observe(make([]float32, 100)) // silence
	if m.Level() != 0 {
		t.Errorf("expected zero level for silence, got %f", m.Level())
	}

	m.Observe([]float32{1, -1, 1, -1}) // full scale, clamps to 1
	if m.Level() != 1.0 {
		t.Errorf("expected clamped level 1.0 for full-scale input, got %f", m.Level())
	}

	m.Reset()
	if m.Level() != 0 {
		t.Errorf("expected zero level after Reset, got %f", m.Level())
	}
}
