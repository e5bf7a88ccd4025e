package stats

import (
	"testing"
	"time"
)

func TestCountersAccumulate(t *testing.T) {
	s := New()
	s.IncAddEntry()
	s.IncAddEntry()
	s.IncReadEntry()
	s.IncFence()

	snap := s.compute()
	if snap.AddEntryCount != 2 {
		t.Errorf("AddEntryCount = %d, want 2", snap.AddEntryCount)
	}
	if snap.ReadEntryCount != 1 {
		t.Errorf("ReadEntryCount = %d, want 1", snap.ReadEntryCount)
	}
	if snap.FenceCount != 1 {
		t.Errorf("FenceCount = %d, want 1", snap.FenceCount)
	}
}

func TestStartSamplerPublishesSnapshot(t *testing.T) {
	s := New()
	done := make(chan struct{})
	defer close(done)
	s.StartSampler(5*time.Millisecond, done)

	s.IncAddEntry()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if s.Snapshot().AddEntryCount == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("sampler never published the incremented counter")
}
