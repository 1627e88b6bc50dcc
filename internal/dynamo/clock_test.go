package dynamo

import (
	"errors"
	"math"
	"testing"
)

func TestNewClock(t *testing.T) {
	tests := []struct {
		name      string
		dt        float64
		terminate float64
		wantErr   bool
	}{
		{"normal", 0.01, 5.0, false},
		{"no terminate", 0.01, 0, false},
		{"zero dt", 0, 5.0, true},
		{"negative dt", -0.01, 5.0, true},
		{"nan dt", math.NaN(), 5.0, true},
		{"negative terminate", 0.01, -1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClock(tt.dt, tt.terminate)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewClock() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrConfiguration) {
				t.Errorf("expected ErrConfiguration, got %v", err)
			}
		})
	}
}

func TestClockExpired(t *testing.T) {
	c, err := NewClock(0.01, 5.0)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 499; i++ {
		c.Advance(c.Dt)
		if c.Expired() {
			t.Fatalf("expired early at frame %d (t=%.6f)", c.Frame, c.Time)
		}
	}
	c.Advance(c.Dt)
	if !c.Expired() {
		t.Errorf("expected expiry at t=%.6f", c.Time)
	}
	if c.Frame != 500 {
		t.Errorf("expected 500 frames, got %d", c.Frame)
	}
}

func TestClockNoTerminate(t *testing.T) {
	c := Clock{Dt: 0.1}
	for i := 0; i < 1000; i++ {
		c.Advance(c.Dt)
	}
	if c.Expired() {
		t.Error("clock without terminate time should never expire")
	}
}

func TestSimulationError(t *testing.T) {
	err := &SimulationError{Frame: 150, Time: 1.5, Particle: 3, Wrapped: ErrNumericalInstability}
	if !errors.Is(err, ErrNumericalInstability) {
		t.Error("SimulationError should unwrap to ErrNumericalInstability")
	}
	expected := "frame 150 (t=1.5000) particle 3: dynamo: numerical instability (NaN or Inf detected)"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}

	err = &SimulationError{Frame: 2, Time: 0.02, Particle: -1, Wrapped: ErrConfiguration}
	if err.Error() != "frame 2 (t=0.0200): dynamo: configuration error" {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestParallelFor(t *testing.T) {
	defer func(w int) { Workers = w }(Workers)

	for _, workers := range []int{1, 2, 3, 8} {
		Workers = workers
		n := 1000
		hits := make([]int, n)
		ParallelFor(n, 16, func(start, end int) {
			for i := start; i < end; i++ {
				hits[i]++
			}
		})
		for i, h := range hits {
			if h != 1 {
				t.Fatalf("workers=%d index %d visited %d times", workers, i, h)
			}
		}
	}
}
