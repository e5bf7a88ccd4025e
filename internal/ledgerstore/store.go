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

// Package ledgerstore defines the pluggable ledger storage backend (spec
// §4.2/§6 "ledger storage backend, external interface") and a file-based
// implementation. This is a direct generalization of the teacher's
// storage/persistence.go PersistenceEngine interface: that interface let
// a column-store table pick File/S3/Ceph as its backing; here a ledger
// picks the same three backends for its entry log.
package ledgerstore


// Storage is the pluggable backend every concrete ledger storage
// implementation (file, S3, Ceph) satisfies.
type Storage interface {
	// AddEntry durably records entry (ledgerID, entryID, data) in the
	// backend's own terms; the caller has already journaled it first.
	AddEntry(ledgerID uint64, entryID int64, data []byte) error

	// GetEntry returns a previously added entry, or bookerrs.ErrNoEntry.
	GetEntry(ledgerID uint64, entryID int64) ([]byte, error)

	// LastAddConfirmed returns the highest entryID stored for ledgerID,
	// or -1 if none.
	LastAddConfirmed(ledgerID uint64) (int64, error)

	// ReadMasterKey returns the master key stored for ledgerID, if any.
	ReadMasterKey(ledgerID uint64) ([]byte, bool, error)
	// WriteMasterKeyIfAbsent persists key for ledgerID the first time it
	// is seen; later calls are no-ops (spec §4.3 single-writer key record).
	WriteMasterKeyIfAbsent(ledgerID uint64, key []byte) error

	// SetFenced durably marks ledgerID fenced.
	SetFenced(ledgerID uint64) error
	// IsFenced reports the durable fenced bit.
	IsFenced(ledgerID uint64) (bool, error)

	// Flush fsyncs everything written so far; the sync engine calls this
	// before persisting a journal log-mark (spec §4.4).
	Flush() error

	// Checkpoint is an optional deeper flush (e.g. compaction) a backend
	// may perform at checkpoint time beyond a plain Flush. The file
	// backend treats it identically to Flush.
	Checkpoint() error

	// Close releases backend resources on shutdown.
	Close() error
}
