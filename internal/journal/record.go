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

package journal

import (
	"encoding/binary"
	"fmt"
)

// Reserved entryId values that mark a record as a meta-record rather than
// a data entry (spec §6). The write pipeline does not check client entry
// ids against these values, so a client-supplied entryId equal to one of
// them is journaled like any data entry and read back as a meta-record on
// replay.
const (
	MetaEntryIDLedgerKey uint64 = 0xFFFFFFFFFFFFF000
	MetaEntryIDFenceKey  uint64 = 0xFFFFFFFFFFFFE000
)

// Version gates which meta-record kinds a replay understands (spec §4.1).
type Version uint32

const (
	V1 Version = 1
	V2 Version = 2
	// V3 introduces LEDGER_KEY meta-records.
	V3 Version = 3
	// V4 introduces FENCE_KEY meta-records.
	V4 Version = 4

	CurrentVersion = V4
)

// ParseHeader extracts (ledgerId, entryId) from the first 16 bytes of a
// record without consuming them, per §4.3 step 1.
func ParseHeader(record []byte) (ledgerID, entryID uint64, err error) {
	if len(record) < 16 {
		return 0, 0, fmt.Errorf("journal: record too short for header (%d bytes)", len(record))
	}
	ledgerID = binary.BigEndian.Uint64(record[0:8])
	entryID = binary.BigEndian.Uint64(record[8:16])
	return ledgerID, entryID, nil
}

// IsMeta reports whether entryID marks a meta-record rather than a data entry.
func IsMeta(entryID uint64) bool {
	return entryID == MetaEntryIDLedgerKey || entryID == MetaEntryIDFenceKey
}

// EncodeLedgerKey builds a LEDGER_KEY meta-record:
//
//	ledgerId(8) | MetaEntryIDLedgerKey(8) | keyLen(4) | key[keyLen]
func EncodeLedgerKey(ledgerID uint64, masterKey []byte) []byte {
	buf := make([]byte, 8+8+4+len(masterKey))
	binary.BigEndian.PutUint64(buf[0:8], ledgerID)
	binary.BigEndian.PutUint64(buf[8:16], MetaEntryIDLedgerKey)
	binary.BigEndian.PutUint32(buf[16:20], uint32(len(masterKey)))
	copy(buf[20:], masterKey)
	return buf
}

// DecodeLedgerKey parses a LEDGER_KEY meta-record payload (the part after
// the 16-byte header Parse already consumed conceptually; callers pass the
// full record and we re-slice).
func DecodeLedgerKey(record []byte) (masterKey []byte, err error) {
	if len(record) < 20 {
		return nil, fmt.Errorf("journal: LEDGER_KEY record truncated")
	}
	keyLen := binary.BigEndian.Uint32(record[16:20])
	if uint32(len(record)-20) < keyLen {
		return nil, fmt.Errorf("journal: LEDGER_KEY keyLen %d exceeds record", keyLen)
	}
	key := make([]byte, keyLen)
	copy(key, record[20:20+keyLen])
	return key, nil
}

// EncodeFenceKey builds a FENCE_KEY meta-record: ledgerId(8) | MetaEntryIDFenceKey(8).
func EncodeFenceKey(ledgerID uint64) []byte {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf[0:8], ledgerID)
	binary.BigEndian.PutUint64(buf[8:16], MetaEntryIDFenceKey)
	return buf
}
