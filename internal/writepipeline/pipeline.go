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

// Package writepipeline implements the request-facing ledger operations
// (spec §4.3): addEntry, recoveryAddEntry, fenceLedger, readEntry,
// readLastAddConfirmed and waitForLastAddConfirmedUpdate. It is the glue
// between the handle cache (internal/ledger), the journal
// (internal/journal) and the pluggable storage backend
// (internal/ledgerstore).
package writepipeline

import (
	"time"

	"github.com/bookienode/bookie/internal/bookerrs"
	"github.com/bookienode/bookie/internal/journal"
	"github.com/bookienode/bookie/internal/ledger"
	"github.com/bookienode/bookie/internal/ledgerstore"
)

// Pipeline wires one journal and one storage backend together behind the
// handle cache. A bookie runs a single Pipeline over its single Journal
// and storage backend.
type Pipeline struct {
	handles *ledger.Cache
	j       *journal.Journal
	storage ledgerstore.Storage

	// onNoWritableDir is invoked when storage.AddEntry fails with
	// CodeNoWritableLedgerDir (spec §4.3 "failure": a direct write-path
	// hit of a full ledger directory moves the bookie to read-only, not
	// only the dirmanager's periodic poll). Nil until the owning Bookie
	// wires it up via SetReadOnlyTrigger.
	onNoWritableDir func()
}

// New constructs a Pipeline over an already-open journal and storage backend.
func New(handles *ledger.Cache, j *journal.Journal, storage ledgerstore.Storage) *Pipeline {
	return &Pipeline{handles: handles, j: j, storage: storage}
}

// Handles exposes the underlying handle cache for introspection (cmd/bookieshell).
func (p *Pipeline) Handles() *ledger.Cache { return p.handles }

// SetReadOnlyTrigger installs the callback AddEntry/RecoveryAddEntry invoke
// when a storage write fails with CodeNoWritableLedgerDir.
func (p *Pipeline) SetReadOnlyTrigger(fn func()) { p.onNoWritableDir = fn }

// reportIfNoWritableDir calls the read-only trigger exactly when err is a
// CodeNoWritableLedgerDir failure, and always returns err unchanged.
func (p *Pipeline) reportIfNoWritableDir(err error) error {
	if err != nil && bookerrs.Is(err, bookerrs.CodeNoWritableLedgerDir) && p.onNoWritableDir != nil {
		p.onNoWritableDir()
	}
	return err
}

// bootstrapKey ensures the ledger's master key is established, writing the
// one-time LEDGER_KEY meta-record the first time this ledger id is seen
// process-wide (spec §4.3 step 2 "single-writer insert-if-absent", §8
// boundary property "exactly one LEDGER_KEY meta-record per ledger").
//
// SetMasterKeyIfAbsent's winner flag is the single, process-wide decision
// point: exactly one concurrent caller per ledger id ever sees winner=true,
// so only that caller proceeds to check storage and (if storage also has
// no key yet) append the meta-record. Every other concurrent caller for
// the same fresh ledger sees winner=false and, once the winner's cache
// insert has landed, simply authenticates against the now-cached key.
func (p *Pipeline) bootstrapKey(ledgerID uint64, masterKey []byte) error {
	winner, matches := p.handles.SetMasterKeyIfAbsent(ledgerID, masterKey)
	if !matches {
		return bookerrs.ErrUnauthorizedAccess
	}
	if !winner {
		return nil
	}
	if existing, found, err := p.storage.ReadMasterKey(ledgerID); err != nil {
		return err
	} else if found {
		if !bytesEqual(existing, masterKey) {
			return bookerrs.ErrUnauthorizedAccess
		}
		return nil
	}
	if err := p.j.AppendSync(journal.EncodeLedgerKey(ledgerID, masterKey)); err != nil {
		return err
	}
	return p.storage.WriteMasterKeyIfAbsent(ledgerID, masterKey)
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

// authenticate verifies masterKey against the cached (or freshly loaded)
// key for ledgerID, per spec §4.2 "master-key auth".
func (p *Pipeline) authenticate(ledgerID uint64, masterKey []byte) error {
	if key, ok := p.handles.MasterKey(ledgerID); ok {
		if !bytesEqual(key, masterKey) {
			return bookerrs.ErrUnauthorizedAccess
		}
		return nil
	}
	key, found, err := p.storage.ReadMasterKey(ledgerID)
	if err != nil {
		return err
	}
	if !found {
		return bookerrs.ErrUnauthorizedAccess
	}
	p.handles.SetMasterKeyIfAbsent(ledgerID, key) // fill the cache for next time; winner/matches unused here
	if !bytesEqual(key, masterKey) {
		return bookerrs.ErrUnauthorizedAccess
	}
	return nil
}

// AddEntry is the client-facing write path (spec §4.3): authenticate,
// take the descriptor's write lock, check fencing, append to the journal,
// hand off to storage, advance LAC.
func (p *Pipeline) AddEntry(ledgerID uint64, entryID int64, masterKey, data []byte) error {
	if err := p.bootstrapKey(ledgerID, masterKey); err != nil {
		return err
	}
	d := p.handles.GetOrCreate(ledgerID)
	d.Lock()
	defer d.Unlock()

	if d.Fenced() {
		return bookerrs.ErrLedgerFenced
	}
	record := encodeDataRecord(ledgerID, entryID, data)
	if err := p.j.AppendSync(record); err != nil {
		return err
	}
	if err := p.storage.AddEntry(ledgerID, entryID, data); err != nil {
		return p.reportIfNoWritableDir(err)
	}
	d.AdvanceLastAddConfirmed(entryID)
	return nil
}

// RecoveryAddEntry replays an entry during another bookie's ledger
// recovery (spec §4.3): it skips master-key re-authentication (the
// recovering client already proved ownership by fencing) and always
// forces the write even if the entry id is not strictly sequential.
func (p *Pipeline) RecoveryAddEntry(ledgerID uint64, entryID int64, data []byte) error {
	d := p.handles.GetOrCreate(ledgerID)
	d.Lock()
	defer d.Unlock()

	record := encodeDataRecord(ledgerID, entryID, data)
	if err := p.j.AppendSync(record); err != nil {
		return err
	}
	if err := p.storage.AddEntry(ledgerID, entryID, data); err != nil {
		return p.reportIfNoWritableDir(err)
	}
	d.AdvanceLastAddConfirmed(entryID)
	return nil
}

// FenceLedger irreversibly fences ledgerID (spec §4.2/§4.3 fencing):
// after this call every future AddEntry for this ledger fails with
// ErrLedgerFenced, in this process and (once replayed) any other bookie
// that replays the FENCE_KEY meta-record.
func (p *Pipeline) FenceLedger(ledgerID uint64) error {
	d := p.handles.GetOrCreate(ledgerID)
	d.Lock()
	defer d.Unlock()

	if d.Fenced() {
		return nil
	}
	if err := p.j.AppendSync(journal.EncodeFenceKey(ledgerID)); err != nil {
		return err
	}
	if err := p.storage.SetFenced(ledgerID); err != nil {
		return err
	}
	d.Fence()
	return nil
}

// ReadEntry returns a previously written entry (spec §4.3).
func (p *Pipeline) ReadEntry(ledgerID uint64, entryID int64) ([]byte, error) {
	return p.storage.GetEntry(ledgerID, entryID)
}

// ReadLastAddConfirmed returns the ledger's current LAC, preferring the
// in-memory descriptor (authoritative for ledgers this process has
// written to) and falling back to the storage backend for cold reads.
func (p *Pipeline) ReadLastAddConfirmed(ledgerID uint64) (int64, error) {
	if d := p.handles.Lookup(ledgerID); d != nil {
		return d.LastAddConfirmed(), nil
	}
	return p.storage.LastAddConfirmed(ledgerID)
}

// WaitForLastAddConfirmedUpdate blocks (up to timeout, 0 meaning no
// timeout) until the ledger's LAC advances past previous (spec §4.3
// long-poll read).
func (p *Pipeline) WaitForLastAddConfirmedUpdate(ledgerID uint64, previous int64, timeout time.Duration) (int64, bool) {
	d := p.handles.GetOrCreate(ledgerID)
	var done chan struct{}
	if timeout > 0 {
		done = make(chan struct{})
		timer := time.AfterFunc(timeout, func() { close(done) })
		defer timer.Stop()
	} else {
		done = make(chan struct{}) // never fires: the wait ends only when the LAC advances
	}
	return d.WaitForLastAddConfirmedUpdate(previous, done)
}

func encodeDataRecord(ledgerID uint64, entryID int64, data []byte) []byte {
	buf := make([]byte, 16+len(data))
	putUint64(buf[0:8], ledgerID)
	putUint64(buf[8:16], uint64(entryID))
	copy(buf[16:], data)
	return buf
}

func putUint64(b []byte, v uint64) {
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
}
