package dirmanager

import (
	"os"
	"path/filepath"
	"testing"
)

func TestInitCreatesCurrentSubdir(t *testing.T) {
	dir := t.TempDir()
	if err := Init([]string{dir}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if fi, err := os.Stat(filepath.Join(dir, "current")); err != nil || !fi.IsDir() {
		t.Fatalf("expected current/ subdir to exist after Init")
	}
}

func TestInitRejectsLegacyLayout(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "foo.txn"), []byte("x"), 0640); err != nil {
		t.Fatalf("write legacy file: %v", err)
	}
	if err := Init([]string{dir}); err == nil {
		t.Fatalf("Init on a legacy-layout directory: want error, got nil")
	}
}

func TestInitOnMissingDirCreatesIt(t *testing.T) {
	parent := t.TempDir()
	dir := filepath.Join(parent, "journal-0")
	if err := Init([]string{dir}); err != nil {
		t.Fatalf("Init on missing dir: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "current")); err != nil {
		t.Fatalf("expected dir/current to be created: %v", err)
	}
}

func TestAddListenerAndEmit(t *testing.T) {
	m := New([]string{t.TempDir()}, 1024, nil)
	received := make(chan Event, 1)
	m.AddListener(func(e Event) { received <- e })

	m.emit(Event{Kind: EventDiskFailure, Dir: "/tmp/x"})

	select {
	case e := <-received:
		if e.Kind != EventDiskFailure {
			t.Fatalf("Kind = %v, want EventDiskFailure", e.Kind)
		}
	default:
		t.Fatalf("listener was not invoked synchronously by emit")
	}
}

func TestEventKindString(t *testing.T) {
	cases := map[EventKind]string{
		EventAllDisksFull:     "AllDisksFull",
		EventDiskWritable:     "DiskWritable",
		EventDiskJustWritable: "DiskJustWritable",
		EventDiskFailure:      "DiskFailure",
		EventKind(99):         "Unknown",
	}
	for k, want := range cases {
		if got := k.String(); got != want {
			t.Errorf("EventKind(%d).String() = %q, want %q", k, got, want)
		}
	}
}
