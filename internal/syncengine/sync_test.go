package syncengine

import (
	"testing"
	"time"

	"github.com/bookienode/bookie/internal/bookerrs"
	"github.com/bookienode/bookie/internal/journal"
	"github.com/bookienode/bookie/internal/ledgerstore"
)

// failingCheckpointStorage wraps a real Storage but forces Checkpoint to
// fail with a given error, for exercising the checkpoint read-only trigger
// without needing a genuinely full disk.
type failingCheckpointStorage struct {
	ledgerstore.Storage
	checkpointErr error
}

func (f *failingCheckpointStorage) Checkpoint() error {
	if f.checkpointErr != nil {
		return f.checkpointErr
	}
	return f.Storage.Checkpoint()
}

func testEngine(t *testing.T) (*Engine, *journal.Journal, *ledgerstore.FileStorage) {
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

	e := New(j, storage, nil)
	e.Start(0)
	t.Cleanup(e.Shutdown)
	return e, j, storage
}

func TestCheckpointClearsFlushingFlag(t *testing.T) {
	e, j, _ := testEngine(t)

	record := make([]byte, 16)
	if err := j.AppendSync(record); err != nil {
		t.Fatalf("AppendSync: %v", err)
	}

	before := j.RequestCheckpoint()
	if before.Offset < 0 {
		t.Fatalf("unexpected mark %+v before checkpoint", before)
	}

	e.Checkpoint()

	if e.IsFlushing() {
		t.Fatalf("IsFlushing() = true after Checkpoint() returned, want false")
	}
}

func TestFlushDoesNotBlockForever(t *testing.T) {
	e, _, _ := testEngine(t)
	done := make(chan struct{})
	go func() {
		e.Flush()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Flush() did not return")
	}
}

func TestCheckpointNoWritableLedgerDirTriggersReadOnlyCallback(t *testing.T) {
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

	storage := &failingCheckpointStorage{Storage: real, checkpointErr: bookerrs.ErrNoWritableLedgerDir}
	e := New(j, storage, nil)
	e.Start(0)
	t.Cleanup(e.Shutdown)

	triggered := make(chan struct{}, 1)
	e.SetReadOnlyTrigger(func() { triggered <- struct{}{} })

	e.Checkpoint()

	select {
	case <-triggered:
	default:
		t.Fatalf("read-only trigger was not invoked on checkpoint CodeNoWritableLedgerDir")
	}
}

func TestShutdownDrainsQueuedWork(t *testing.T) {
	e, _, _ := testEngine(t)
	// submit several requests concurrently; the engine is shut down by
	// t.Cleanup once this returns, exercising Shutdown alongside recently
	// completed Flush sends without racing them (the §9 bug this
	// package's design explicitly avoids).
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			e.Flush()
		}
		close(done)
	}()
	<-done
}
