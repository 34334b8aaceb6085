package timeutil

import (
	"testing"
	"time"
)

func TestRealClock(t *testing.T) {
	var c Clock = RealClock{}
	start := c.Now()
	c.Sleep(time.Millisecond)
	if d := c.Since(start); d < time.Millisecond {
		t.Errorf("Since = %v after 1ms sleep", d)
	}
}

func TestMockClockStep(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMockClock(t0)

	if got := c.Now(); !got.Equal(t0) {
		t.Fatalf("Now = %v, want %v", got, t0)
	}
	if d := c.Since(t0); d != 0 {
		t.Errorf("Since without step = %v, want 0", d)
	}

	c.SetStep(5 * time.Millisecond)
	start := c.Now()
	if d := c.Since(start); d != 5*time.Millisecond {
		t.Errorf("Since with step = %v, want 5ms", d)
	}

	c.SetStep(0)
	c.Advance(time.Second)
	if d := c.Since(start); d != time.Second+10*time.Millisecond {
		t.Errorf("Since after Advance = %v", d)
	}
}

func TestMockClockSleep(t *testing.T) {
	t0 := time.Unix(100, 0)
	c := NewMockClock(t0)
	c.Sleep(20 * time.Millisecond)
	c.Sleep(40 * time.Millisecond)

	got := c.Sleeps()
	if len(got) != 2 || got[0] != 20*time.Millisecond || got[1] != 40*time.Millisecond {
		t.Errorf("Sleeps = %v", got)
	}
	if d := c.Now().Sub(t0); d != 60*time.Millisecond {
		t.Errorf("clock advanced %v, want 60ms", d)
	}
}
