package journal

import "testing"

func TestParseHeader(t *testing.T) {
	record := EncodeLedgerKey(42, []byte("secret"))
	ledgerID, entryID, err := ParseHeader(record)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if ledgerID != 42 {
		t.Fatalf("ledgerID = %d, want 42", ledgerID)
	}
	if entryID != MetaEntryIDLedgerKey {
		t.Fatalf("entryID = %x, want %x", entryID, MetaEntryIDLedgerKey)
	}
}

func TestParseHeaderTooShort(t *testing.T) {
	if _, _, err := ParseHeader([]byte{1, 2, 3}); err == nil {
		t.Fatalf("ParseHeader on short record: want error, got nil")
	}
}

func TestIsMeta(t *testing.T) {
	cases := []struct {
		entryID uint64
		want    bool
	}{
		{0, false},
		{1, false},
		{MetaEntryIDLedgerKey, true},
		{MetaEntryIDFenceKey, true},
	}
	for _, tc := range cases {
		if got := IsMeta(tc.entryID); got != tc.want {
			t.Errorf("IsMeta(%x) = %v, want %v", tc.entryID, got, tc.want)
		}
	}
}

func TestEncodeDecodeLedgerKey(t *testing.T) {
	key := []byte("a master key with some bytes \x00\x01\xff")
	record := EncodeLedgerKey(7, key)

	got, err := DecodeLedgerKey(record)
	if err != nil {
		t.Fatalf("DecodeLedgerKey: %v", err)
	}
	if string(got) != string(key) {
		t.Fatalf("DecodeLedgerKey = %q, want %q", got, key)
	}
}

func TestDecodeLedgerKeyTruncated(t *testing.T) {
	if _, err := DecodeLedgerKey(make([]byte, 10)); err == nil {
		t.Fatalf("DecodeLedgerKey on truncated record: want error")
	}
}

func TestEncodeFenceKey(t *testing.T) {
	record := EncodeFenceKey(99)
	ledgerID, entryID, err := ParseHeader(record)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if ledgerID != 99 || entryID != MetaEntryIDFenceKey {
		t.Fatalf("got (%d, %x), want (99, %x)", ledgerID, entryID, MetaEntryIDFenceKey)
	}
}
