package backoff_test

import (
	"testing"
	"time"

	"github.com/pcharbon70/loom/backoff"
)

func TestConstant(t *testing.T) {
	s := backoff.NewConstant(5 * time.Second)

	for _, attempt := range []int{1, 2, 10} {
		if got := s.Delay(attempt); got != 5*time.Second {
			t.Errorf("Delay(%d) = %v, want 5s", attempt, got)
		}
	}
}

func TestLinear(t *testing.T) {
	s := backoff.NewLinear(10*time.Second, 25*time.Second)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 10 * time.Second},
		{2, 20 * time.Second},
		{3, 25 * time.Second}, // capped
	}

	for _, tt := range tests {
		if got := s.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestExponential(t *testing.T) {
	s := backoff.NewExponential(time.Second, time.Minute)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{5, 16 * time.Second},
		{10, time.Minute}, // capped
	}

	for _, tt := range tests {
		if got := s.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestExponentialWithJitter(t *testing.T) {
	s := backoff.NewExponentialWithJitter(time.Second, time.Minute)

	for attempt := 1; attempt <= 8; attempt++ {
		bound := time.Duration(1<<(attempt-1)) * time.Second
		if bound > time.Minute {
			bound = time.Minute
		}
		for range 20 {
			d := s.Delay(attempt)
			if d < 0 || d > bound {
				t.Fatalf("Delay(%d) = %v outside [0, %v]", attempt, d, bound)
			}
		}
	}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name string
		want time.Duration // Delay(2) for deterministic strategies
	}{
		{"constant", 10 * time.Second},
		{"linear", 20 * time.Second},
		{"exponential", 20 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := backoff.Resolve(tt.name, 10*time.Second, time.Hour)
			if got := s.Delay(2); got != tt.want {
				t.Errorf("Delay(2) = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestResolveDefaults(t *testing.T) {
	s := backoff.Resolve("", 0, 0)
	if _, ok := s.(*backoff.ExponentialWithJitter); !ok {
		t.Errorf("Resolve with empty config = %T, want jittered exponential", s)
	}

	s = backoff.Resolve("constant", 0, 0)
	if got := s.Delay(1); got != backoff.DefaultInitial {
		t.Errorf("zero initial should fall back to default, got %v", got)
	}
}
