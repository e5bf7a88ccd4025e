/*
Copyright (C) 2026  bookie contributors

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package stats is the bookie's minimal statistics surface (spec §2,
// name-only/2% share). It is grounded on scm/metrics.go's atomic-snapshot
// sampler: counters are updated inline by hot paths, and a background
// goroutine periodically swaps in a consistent snapshot for readers,
// rather than readers taking a lock per counter.
package stats

import (
	"sync/atomic"
	"time"
)

// Snapshot is a point-in-time copy of every counter/gauge.
type Snapshot struct {
	AddEntryCount     int64
	ReadEntryCount    int64
	FenceCount        int64
	JournalAppendNS   int64 // cumulative nanoseconds spent in journal append
	ActiveLedgerCount int64
}

// Stats holds the live counters plus the last published snapshot.
type Stats struct {
	addEntry     atomic.Int64
	readEntry    atomic.Int64
	fence        atomic.Int64
	journalNS    atomic.Int64
	activeLedger atomic.Int64

	snapshot atomic.Pointer[Snapshot]
}

// New returns a Stats with an empty initial snapshot.
func New() *Stats {
	s := &Stats{}
	s.snapshot.Store(&Snapshot{})
	return s
}

func (s *Stats) IncAddEntry()                    { s.addEntry.Add(1) }
func (s *Stats) IncReadEntry()                   { s.readEntry.Add(1) }
func (s *Stats) IncFence()                       { s.fence.Add(1) }
func (s *Stats) AddJournalAppendLatency(d time.Duration) { s.journalNS.Add(int64(d)) }
func (s *Stats) SetActiveLedgerCount(n int64)    { s.activeLedger.Store(n) }

// Snapshot returns the most recently published snapshot (updated by
// StartSampler; until the sampler's first tick it is the empty snapshot
// New stored).
func (s *Stats) Snapshot() Snapshot {
	if snap := s.snapshot.Load(); snap != nil {
		return *snap
	}
	return s.compute()
}

func (s *Stats) compute() Snapshot {
	return Snapshot{
		AddEntryCount:     s.addEntry.Load(),
		ReadEntryCount:    s.readEntry.Load(),
		FenceCount:        s.fence.Load(),
		JournalAppendNS:   s.journalNS.Load(),
		ActiveLedgerCount: s.activeLedger.Load(),
	}
}

// StartSampler launches the background goroutine that periodically
// publishes a fresh snapshot, so Snapshot() readers never contend with
// the hot counter-increment paths.
func (s *Stats) StartSampler(interval time.Duration, done <-chan struct{}) {
	if interval <= 0 {
		interval = time.Second
	}
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := s.compute()
				s.snapshot.Store(&snap)
			case <-done:
				return
			}
		}
	}()
}
