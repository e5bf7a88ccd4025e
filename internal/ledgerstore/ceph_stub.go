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

//go:build !ceph

package ledgerstore

// CephOptions mirrors the real build's field set so callers compile
// either way.
type CephOptions struct {
	ConfigFile string
	PoolName   string
	Prefix     string
}

// NewCephStorage panics when Ceph support was not compiled in, matching
// storage/persistence-ceph-stub.go's CephFactory stub — cgo and librados
// are not available in every build environment.
func NewCephStorage(opts CephOptions) (*CephStorage, error) {
	panic("ledgerstore: Ceph support not compiled in (build with -tags ceph)")
}

// CephStorage is an uninstantiable placeholder in non-ceph builds.
type CephStorage struct{}

func (s *CephStorage) AddEntry(ledgerID uint64, entryID int64, data []byte) error { return nil }
func (s *CephStorage) GetEntry(ledgerID uint64, entryID int64) ([]byte, error)    { return nil, nil }
func (s *CephStorage) LastAddConfirmed(ledgerID uint64) (int64, error)            { return 0, nil }
func (s *CephStorage) ReadMasterKey(ledgerID uint64) ([]byte, bool, error)        { return nil, false, nil }
func (s *CephStorage) WriteMasterKeyIfAbsent(ledgerID uint64, key []byte) error   { return nil }
func (s *CephStorage) SetFenced(ledgerID uint64) error                           { return nil }
func (s *CephStorage) IsFenced(ledgerID uint64) (bool, error)                    { return false, nil }
func (s *CephStorage) Flush() error                                              { return nil }
func (s *CephStorage) Checkpoint() error                                         { return nil }
func (s *CephStorage) Close() error                                              { return nil }
