package writepipeline

import (
	"testing"
	"time"

	"github.com/bookienode/bookie/internal/bookerrs"
	"github.com/bookienode/bookie/internal/journal"
	"github.com/bookienode/bookie/internal/ledger"
	"github.com/bookienode/bookie/internal/ledgerstore"
)

func testPipeline(t *testing.T) *Pipeline {
	t.Helper()
	j, err := journal.Open(journal.Options{Dir: t.TempDir(), GroupMaxWait: time.Millisecond})
	if err != nil {
		t.Fatalf("journal.Open: %v", err)
	}
	j.Start()
	t.Cleanup(j.Shutdown)

	storage, err := ledgerstore.NewFileStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStorage: %v", err)
	}
	t.Cleanup(func() { storage.Close() })

	return New(ledger.NewCache(), j, storage)
}

func TestAddEntryThenReadEntry(t *testing.T) {
	p := testPipeline(t)
	key := []byte("master-key")

	if err := p.AddEntry(1, 0, key, []byte("payload-0")); err != nil {
		t.Fatalf("AddEntry: %v", err)
	}
	if err := p.AddEntry(1, 1, key, []byte("payload-1")); err != nil {
		t.Fatalf("AddEntry: %v", err)
	}

	got, err := p.ReadEntry(1, 1)
	if err != nil {
		t.Fatalf("ReadEntry: %v", err)
	}
	if string(got) != "payload-1" {
		t.Fatalf("ReadEntry = %q, want payload-1", got)
	}

	lac, err := p.ReadLastAddConfirmed(1)
	if err != nil {
		t.Fatalf("ReadLastAddConfirmed: %v", err)
	}
	if lac != 1 {
		t.Fatalf("ReadLastAddConfirmed = %d, want 1", lac)
	}
}

func TestAddEntryWrongMasterKeyRejected(t *testing.T) {
	p := testPipeline(t)
	if err := p.AddEntry(1, 0, []byte("key-a"), []byte("x")); err != nil {
		t.Fatalf("AddEntry: %v", err)
	}
	err := p.AddEntry(1, 1, []byte("key-b"), []byte("y"))
	if !bookerrs.Is(err, bookerrs.CodeUnauthorizedAccess) {
		t.Fatalf("AddEntry with wrong key: err = %v, want CodeUnauthorizedAccess", err)
	}
}

func TestFenceLedgerRejectsFurtherWrites(t *testing.T) {
	p := testPipeline(t)
	key := []byte("master-key")
	if err := p.AddEntry(1, 0, key, []byte("x")); err != nil {
		t.Fatalf("AddEntry: %v", err)
	}
	if err := p.FenceLedger(1); err != nil {
		t.Fatalf("FenceLedger: %v", err)
	}
	err := p.AddEntry(1, 1, key, []byte("y"))
	if !bookerrs.Is(err, bookerrs.CodeLedgerFenced) {
		t.Fatalf("AddEntry after fence: err = %v, want CodeLedgerFenced", err)
	}
}

func TestFenceLedgerIsIdempotent(t *testing.T) {
	p := testPipeline(t)
	if err := p.FenceLedger(1); err != nil {
		t.Fatalf("first FenceLedger: %v", err)
	}
	if err := p.FenceLedger(1); err != nil {
		t.Fatalf("second FenceLedger (idempotent): %v", err)
	}
}

func TestRecoveryAddEntryBypassesAuth(t *testing.T) {
	p := testPipeline(t)
	if err := p.RecoveryAddEntry(1, 5, []byte("recovered")); err != nil {
		t.Fatalf("RecoveryAddEntry: %v", err)
	}
	got, err := p.ReadEntry(1, 5)
	if err != nil {
		t.Fatalf("ReadEntry: %v", err)
	}
	if string(got) != "recovered" {
		t.Fatalf("ReadEntry = %q, want recovered", got)
	}
}

func TestWaitForLastAddConfirmedUpdateTimesOut(t *testing.T) {
	p := testPipeline(t)
	p.AddEntry(1, 0, []byte("k"), []byte("v"))

	lac, ok := p.WaitForLastAddConfirmedUpdate(1, 0, 50*time.Millisecond)
	if ok {
		t.Fatalf("expected timeout (ok=false), got ok=true lac=%d", lac)
	}
}

// failingStorage wraps a real Storage but forces AddEntry to fail with a
// given error, for exercising the read-only trigger without needing a
// genuinely full disk.
type failingStorage struct {
	ledgerstore.Storage
	addEntryErr error
}

func (f *failingStorage) AddEntry(ledgerID uint64, entryID int64, data []byte) error {
	if f.addEntryErr != nil {
		return f.addEntryErr
	}
	return f.Storage.AddEntry(ledgerID, entryID, data)
}

func TestAddEntryNoWritableLedgerDirTriggersReadOnlyCallback(t *testing.T) {
	j, err := journal.Open(journal.Options{Dir: t.TempDir(), GroupMaxWait: time.Millisecond})
	if err != nil {
		t.Fatalf("journal.Open: %v", err)
	}
	j.Start()
	t.Cleanup(j.Shutdown)

	real, err := ledgerstore.NewFileStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStorage: %v", err)
	}
	t.Cleanup(func() { real.Close() })

	storage := &failingStorage{Storage: real, addEntryErr: bookerrs.ErrNoWritableLedgerDir}
	p := New(ledger.NewCache(), j, storage)

	triggered := make(chan struct{}, 1)
	p.SetReadOnlyTrigger(func() { triggered <- struct{}{} })

	err = p.AddEntry(1, 0, []byte("k"), []byte("v"))
	if !bookerrs.Is(err, bookerrs.CodeNoWritableLedgerDir) {
		t.Fatalf("AddEntry err = %v, want CodeNoWritableLedgerDir", err)
	}
	select {
	case <-triggered:
	default:
		t.Fatalf("read-only trigger was not invoked on CodeNoWritableLedgerDir")
	}
}

func TestWaitForLastAddConfirmedUpdateWakesOnNewEntry(t *testing.T) {
	p := testPipeline(t)
	key := []byte("k")
	p.AddEntry(1, 0, key, []byte("v0"))

	resultCh := make(chan int64, 1)
	go func() {
		lac, _ := p.WaitForLastAddConfirmedUpdate(1, 0, 2*time.Second)
		resultCh <- lac
	}()

	time.Sleep(20 * time.Millisecond)
	if err := p.AddEntry(1, 1, key, []byte("v1")); err != nil {
		t.Fatalf("AddEntry: %v", err)
	}

	select {
	case lac := <-resultCh:
		if lac != 1 {
			t.Fatalf("woken with lac = %d, want 1", lac)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("WaitForLastAddConfirmedUpdate did not wake up")
	}
}
