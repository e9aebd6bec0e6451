package timeutil

import (
	"testing"
	"time"
)

func TestRealClock(t *testing.T) {
	var c Clock = RealClock{}
	start := c.Now()
	if c.Since(start) < 0 {
		t.Error("Since returned a negative duration")
	}
}

func TestMockClock(t *testing.T) {
	base := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)
	c := NewMockClock(base)

	if got := c.Now(); !got.Equal(base) {
		t.Errorf("Now() = %v, want %v", got, base)
	}

	c.Advance(2 * time.Second)
	if got := c.Since(base); got != 2*time.Second {
		t.Errorf("Since() = %v, want 2s", got)
	}

	later := base.Add(time.Hour)
	c.Set(later)
	if got := c.Now(); !got.Equal(later) {
		t.Errorf("Now() after Set = %v, want %v", got, later)
	}
}

func TestMockClockAutoStep(t *testing.T) {
	base := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)
	c := NewMockClock(base)
	c.AutoStep(time.Millisecond)

	first := c.Now()
	second := c.Now()
	if !second.After(first) {
		t.Errorf("second read %v not after first %v", second, first)
	}
	if got := second.Sub(first); got != time.Millisecond {
		t.Errorf("step = %v, want 1ms", got)
	}
}
