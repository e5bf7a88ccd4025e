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

//go:build ceph

package ledgerstore

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ceph/go-ceph/rados"

	"github.com/bookienode/bookie/internal/bookerrs"
)

// CephOptions configures the RADOS-backed ledger storage backend,
// generalized from storage/persistence-ceph.go's CephFactory.
type CephOptions struct {
	ConfigFile string
	PoolName   string
	Prefix     string
}

// CephStorage stores each ledger's entries and metadata in a single RADOS
// object named directly after the ledger id (Prefix + "ledger-<id>"); no
// manifest object is kept, unlike storage/persistence-ceph.go's
// manifest-based segment listing.
type CephStorage struct {
	opts CephOptions

	mu    sync.Mutex
	conn  *rados.Conn
	ioctx *rados.IOContext
}

// NewCephStorage connects to the cluster described by opts.ConfigFile and
// opens opts.PoolName.
func NewCephStorage(opts CephOptions) (*CephStorage, error) {
	conn, err := rados.NewConn()
	if err != nil {
		return nil, bookerrs.Wrap(bookerrs.CodeDiskError, "ledgerstore: ceph conn", err)
	}
	if err := conn.ReadConfigFile(opts.ConfigFile); err != nil {
		return nil, bookerrs.Wrap(bookerrs.CodeDiskError, "ledgerstore: ceph config", err)
	}
	if err := conn.Connect(); err != nil {
		return nil, bookerrs.Wrap(bookerrs.CodeDiskError, "ledgerstore: ceph connect", err)
	}
	ioctx, err := conn.OpenIOContext(opts.PoolName)
	if err != nil {
		conn.Shutdown()
		return nil, bookerrs.Wrap(bookerrs.CodeDiskError, "ledgerstore: ceph pool "+opts.PoolName, err)
	}
	return &CephStorage{opts: opts, conn: conn, ioctx: ioctx}, nil
}

func (s *CephStorage) objectName(ledgerID uint64) string {
	return fmt.Sprintf("%sledger-%016x", s.opts.Prefix, ledgerID)
}

type cephLedgerDoc struct {
	Entries   map[int64][]byte `json:"entries"`
	MasterKey []byte           `json:"masterKey,omitempty"`
	Fenced    bool             `json:"fenced,omitempty"`
}

func (s *CephStorage) readDoc(ledgerID uint64) (cephLedgerDoc, error) {
	name := s.objectName(ledgerID)
	stat, err := s.ioctx.Stat(name)
	if err != nil {
		if err == rados.ErrNotFound {
			return cephLedgerDoc{Entries: map[int64][]byte{}}, nil
		}
		return cephLedgerDoc{}, bookerrs.Wrap(bookerrs.CodeDiskError, "ledgerstore: ceph stat "+name, err)
	}
	buf := make([]byte, stat.Size)
	if _, err := s.ioctx.Read(name, buf, 0); err != nil {
		return cephLedgerDoc{}, bookerrs.Wrap(bookerrs.CodeDiskError, "ledgerstore: ceph read "+name, err)
	}
	var doc cephLedgerDoc
	if err := json.Unmarshal(buf, &doc); err != nil {
		return cephLedgerDoc{}, bookerrs.Wrap(bookerrs.CodeDiskError, "ledgerstore: ceph corrupt "+name, err)
	}
	if doc.Entries == nil {
		doc.Entries = map[int64][]byte{}
	}
	return doc, nil
}

func (s *CephStorage) writeDoc(ledgerID uint64, doc cephLedgerDoc) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return bookerrs.Wrap(bookerrs.CodeDiskError, "ledgerstore: ceph marshal", err)
	}
	name := s.objectName(ledgerID)
	if err := s.ioctx.WriteFull(name, data); err != nil {
		return bookerrs.Wrap(bookerrs.CodeDiskError, "ledgerstore: ceph write "+name, err)
	}
	return nil
}

func (s *CephStorage) AddEntry(ledgerID uint64, entryID int64, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.readDoc(ledgerID)
	if err != nil {
		return err
	}
	doc.Entries[entryID] = append([]byte(nil), data...)
	return s.writeDoc(ledgerID, doc)
}

func (s *CephStorage) GetEntry(ledgerID uint64, entryID int64) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.readDoc(ledgerID)
	if err != nil {
		return nil, err
	}
	data, ok := doc.Entries[entryID]
	if !ok {
		return nil, bookerrs.ErrNoEntry
	}
	return data, nil
}

func (s *CephStorage) LastAddConfirmed(ledgerID uint64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.readDoc(ledgerID)
	if err != nil {
		return 0, err
	}
	lac := int64(-1)
	for id := range doc.Entries {
		if id > lac {
			lac = id
		}
	}
	return lac, nil
}

func (s *CephStorage) ReadMasterKey(ledgerID uint64) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.readDoc(ledgerID)
	if err != nil {
		return nil, false, err
	}
	if len(doc.MasterKey) == 0 {
		return nil, false, nil
	}
	return doc.MasterKey, true, nil
}

func (s *CephStorage) WriteMasterKeyIfAbsent(ledgerID uint64, key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.readDoc(ledgerID)
	if err != nil {
		return err
	}
	if len(doc.MasterKey) > 0 {
		return nil
	}
	doc.MasterKey = append([]byte(nil), key...)
	return s.writeDoc(ledgerID, doc)
}

func (s *CephStorage) SetFenced(ledgerID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.readDoc(ledgerID)
	if err != nil {
		return err
	}
	doc.Fenced = true
	return s.writeDoc(ledgerID, doc)
}

func (s *CephStorage) IsFenced(ledgerID uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.readDoc(ledgerID)
	if err != nil {
		return false, err
	}
	return doc.Fenced, nil
}

// Flush is a no-op: every write above is already a synchronous RADOS
// write-full call, unlike the file backend's buffered fsync.
func (s *CephStorage) Flush() error      { return nil }
func (s *CephStorage) Checkpoint() error { return nil }

func (s *CephStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ioctx != nil {
		s.ioctx.Destroy()
	}
	if s.conn != nil {
		s.conn.Shutdown()
	}
	return nil
}
