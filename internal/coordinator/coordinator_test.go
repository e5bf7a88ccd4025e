package coordinator

import (
	"testing"
	"time"
)

func TestBackoffGrowsAndCapsAtMax(t *testing.T) {
	b := NewBackoff(10*time.Millisecond, 100*time.Millisecond)

	var last time.Duration
	for i := 0; i < 10; i++ {
		d := b.Next()
		if d > 100*time.Millisecond {
			t.Fatalf("Next() = %s, exceeds Max %s", d, 100*time.Millisecond)
		}
		if d < 0 {
			t.Fatalf("Next() = %s, must be non-negative", d)
		}
		last = d
	}
	_ = last
}

func TestBackoffResetRestartsFromBase(t *testing.T) {
	b := NewBackoff(10*time.Millisecond, time.Second)
	for i := 0; i < 5; i++ {
		b.Next()
	}
	b.Reset()
	d := b.Next()
	// after reset, the first delay should again be in the base's jitter
	// range rather than the grown-out value from before.
	if d > 20*time.Millisecond {
		t.Fatalf("Next() after Reset = %s, want close to base %s", d, 10*time.Millisecond)
	}
}

func TestBackoffDefaultsWhenZero(t *testing.T) {
	b := NewBackoff(0, 0)
	if b.Base <= 0 || b.Max <= 0 {
		t.Fatalf("NewBackoff(0,0) left zero defaults: %+v", b)
	}
}

func TestAvailabilityString(t *testing.T) {
	if got := AvailabilityWritable.String(); got != "writable" {
		t.Fatalf("AvailabilityWritable.String() = %q, want writable", got)
	}
	if got := AvailabilityReadOnly.String(); got != "readonly" {
		t.Fatalf("AvailabilityReadOnly.String() = %q, want readonly", got)
	}
}

func TestRegisterURLIsModeAppropriate(t *testing.T) {
	c := NewWSCoordinator("ws://coord:4181", "/bookies")

	writable := c.registerURL("b1", AvailabilityWritable)
	if want := "ws://coord:4181/bookies/available/b1"; writable != want {
		t.Fatalf("writable registerURL = %q, want %q", writable, want)
	}

	readOnly := c.registerURL("b1", AvailabilityReadOnly)
	if want := "ws://coord:4181/bookies/available/readonly/b1"; readOnly != want {
		t.Fatalf("read-only registerURL = %q, want %q", readOnly, want)
	}
}
