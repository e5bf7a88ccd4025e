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

// Package ledger holds the in-memory ledger handle cache (spec §4.2): one
// descriptor per ledger id a bookie has ever touched since start, a
// separate master-key cache, and the per-ledger lock the write pipeline
// serializes through. Both caches are backed by
// github.com/bookienode/nolockingreadmap, the vendored read-optimized map
// the teacher already modeled as a standalone module via a replace
// directive — reads (the hot path on every addEntry/readEntry) never
// block a concurrent writer.
package ledger

import (
	"sync"

	nlrm "github.com/bookienode/nolockingreadmap"
)

// State mirrors the teacher's SharedState (storage/shared_resource.go)
// COLD/SHARED/WRITE lattice, applied here to a ledger descriptor instead
// of a table partition: COLD means never touched this process lifetime,
// SHARED means open for concurrent reads, WRITE means a single writer
// (or fence) currently holds it exclusively.
type State int

const (
	StateCold State = iota
	StateShared
	StateWrite
)

// Descriptor is the cached, in-memory state for one ledger id (spec §4.2).
// It is stored by pointer in the handle cache; GetKey/ComputeSize make it a
// nolockingreadmap.KeyGetter.
type Descriptor struct {
	LedgerID uint64

	mu     sync.Mutex
	state  State
	fenced bool

	// lastAddConfirmed and its waiters implement §4.3's
	// waitForLastAddConfirmedUpdate/LAC-observer pattern.
	lacMu       sync.Mutex
	lac         int64
	lacWaiters  []chan struct{}
}

// GetKey satisfies nolockingreadmap.KeyGetter[uint64].
func (d Descriptor) GetKey() uint64 { return d.LedgerID }

// ComputeSize satisfies nolockingreadmap.Sizable with a rough estimate;
// exact accounting is not load-bearing, only used by callers that want an
// approximate cache footprint.
func (d Descriptor) ComputeSize() uint {
	return 64 + uint(len(d.lacWaiters))*8
}

// Lock serializes the write path for this ledger (spec §4.3: "a lock held
// per descriptor for the duration of the storage-plus-journal sequence").
func (d *Descriptor) Lock()   { d.mu.Lock() }
func (d *Descriptor) Unlock() { d.mu.Unlock() }

// State and SetState expose the COLD/SHARED/WRITE lattice to callers that
// need to reason about concurrent access mode (kept for parity with the
// teacher's SharedResource interface; the bookie itself only needs
// fencing + the write lock day to day).
func (d *Descriptor) State() State       { d.mu.Lock(); defer d.mu.Unlock(); return d.state }
func (d *Descriptor) setState(s State) { d.state = s }

// Fenced reports whether this ledger has been irreversibly fenced (spec
// §4.2 "fencing").
func (d *Descriptor) Fenced() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fenced
}

// Fence marks the ledger fenced. Fencing is monotonic: once set it is
// never cleared for the lifetime of the process (spec §4.2).
func (d *Descriptor) Fence() {
	d.mu.Lock()
	d.fenced = true
	d.setState(StateWrite)
	d.mu.Unlock()
}

// LastAddConfirmed returns the last entry id the ledger has confirmed.
func (d *Descriptor) LastAddConfirmed() int64 {
	d.lacMu.Lock()
	defer d.lacMu.Unlock()
	return d.lac
}

// AdvanceLastAddConfirmed bumps the LAC if entryID is newer, waking any
// goroutine blocked in WaitForLastAddConfirmedUpdate (spec §4.3).
func (d *Descriptor) AdvanceLastAddConfirmed(entryID int64) {
	d.lacMu.Lock()
	if entryID > d.lac {
		d.lac = entryID
		waiters := d.lacWaiters
		d.lacWaiters = nil
		d.lacMu.Unlock()
		for _, ch := range waiters {
			close(ch)
		}
		return
	}
	d.lacMu.Unlock()
}

// WaitForLastAddConfirmedUpdate blocks until the LAC advances past previous
// or ctx-equivalent done fires; fencing the ledger does not end the wait.
// Grounded on the
// observer-channel pattern in commitlog.CommitLog.NotifyLEO from the wider
// example pack (liftbridge's leader-epoch-offset waiter), adapted to LAC.
func (d *Descriptor) WaitForLastAddConfirmedUpdate(previous int64, done <-chan struct{}) (int64, bool) {
	d.lacMu.Lock()
	if d.lac > previous {
		cur := d.lac
		d.lacMu.Unlock()
		return cur, true
	}
	ch := make(chan struct{})
	d.lacWaiters = append(d.lacWaiters, ch)
	d.lacMu.Unlock()

	select {
	case <-ch:
		return d.LastAddConfirmed(), true
	case <-done:
		return d.LastAddConfirmed(), false
	}
}

// masterKeyEntry is the cached master key for one ledger, kept in a
// separate map from Descriptor so a hot read path (entry add/read) never
// has to reason about key material layout.
type masterKeyEntry struct {
	LedgerID uint64
	Key      []byte
}

func (e masterKeyEntry) GetKey() uint64   { return e.LedgerID }
func (e masterKeyEntry) ComputeSize() uint { return 16 + uint(len(e.Key)) }

// Cache is the handle cache: ledgerId -> *Descriptor and ledgerId ->
// master key, both read-optimized (spec §4.2, §5 "handle cache read path
// never blocks").
type Cache struct {
	descriptors nlrm.NonLockingReadMap[Descriptor, uint64]
	masterKeys  nlrm.NonLockingReadMap[masterKeyEntry, uint64]

	// bootstrapMu guards SetMasterKeyIfAbsent's insert-only decision.
	// nolockingreadmap.Set always overwrites (it has no insert-only
	// primitive, only insert-or-replace), so "was I the first to insert"
	// cannot be read off its return value; the mutex below is what makes
	// exactly one caller per ledger id see winner=true. This path runs
	// once per ledger's lifetime, not on the hot read path, so a mutex
	// here does not compromise the cache's read-optimized design.
	bootstrapMu sync.Mutex
}

// NewCache constructs an empty handle cache.
func NewCache() *Cache {
	return &Cache{
		descriptors: nlrm.New[Descriptor, uint64](),
		masterKeys:  nlrm.New[masterKeyEntry, uint64](),
	}
}

// GetOrCreate returns the cached descriptor for ledgerID, creating and
// racing-in a fresh one (CAS loop internal to the map) if this is the
// first time this process has touched it — cold start per §4.2.
func (c *Cache) GetOrCreate(ledgerID uint64) *Descriptor {
	if d := c.descriptors.Get(ledgerID); d != nil {
		return d
	}
	fresh := &Descriptor{LedgerID: ledgerID, state: StateShared, lac: -1}
	if existing := c.descriptors.Set(fresh); existing != nil {
		// another goroutine raced us; Set returns the item it replaced,
		// but since ledgerID was absent a moment ago the replaced value
		// (if any) belongs to the same race — prefer whichever is now
		// resolvable through Get to keep a single winner process-wide.
		if winner := c.descriptors.Get(ledgerID); winner != nil {
			return winner
		}
	}
	return fresh
}

// Lookup returns the cached descriptor, or nil if this ledger has never
// been touched this process lifetime (StateCold, per §4.2).
func (c *Cache) Lookup(ledgerID uint64) *Descriptor {
	return c.descriptors.Get(ledgerID)
}

// MasterKey returns the cached master key for ledgerID, if known.
func (c *Cache) MasterKey(ledgerID uint64) ([]byte, bool) {
	e := c.masterKeys.Get(ledgerID)
	if e == nil {
		return nil, false
	}
	return e.Key, true
}

// SetMasterKeyIfAbsent caches masterKey for ledgerID if no key is cached
// yet, and reports two things: winner is true for exactly one caller per
// ledger id process-wide — the one that performed the insert, and that
// must go on to check/establish the durable LEDGER_KEY meta-record
// (spec §4.3 step 2 "single-writer insert-if-absent"); matches is true iff
// the cache now holds key, whether because this call inserted it or
// because an equal key was already cached (false means a different key
// was already established for this ledger — unauthorized).
func (c *Cache) SetMasterKeyIfAbsent(ledgerID uint64, key []byte) (winner, matches bool) {
	c.bootstrapMu.Lock()
	defer c.bootstrapMu.Unlock()
	if existing, ok := c.MasterKey(ledgerID); ok {
		return false, bytesEqual(existing, key)
	}
	c.masterKeys.Set(&masterKeyEntry{LedgerID: ledgerID, Key: append([]byte(nil), key...)})
	return true, true
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// All returns every cached descriptor, for introspection (cmd/bookieshell).
func (c *Cache) All() []*Descriptor {
	return c.descriptors.GetAll()
}
