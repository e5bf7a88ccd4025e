package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseSize(t *testing.T) {
	cases := []struct {
		in   string
		def  int64
		want int64
	}{
		{"", 42, 42},
		{"not-a-size", 42, 42},
		{"10MB", 0, 10 * 1000 * 1000},
	}
	for _, tc := range cases {
		if got := ParseSize(tc.in, tc.def); got != tc.want {
			t.Errorf("ParseSize(%q, %d) = %d, want %d", tc.in, tc.def, got, tc.want)
		}
	}
}

func writeConfig(t *testing.T, dir string, body string) string {
	t.Helper()
	path := filepath.Join(dir, "bookie.json")
	if err := os.WriteFile(path, []byte(body), 0640); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadResolvesDerivedSizes(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `{
		"bookieId": "b1",
		"journalDirs": ["/tmp/j"],
		"ledgerDirs": ["/tmp/l"],
		"minUsableSpace": "5GB",
		"journalMaxSegmentSize": "256MB"
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MinUsableBytes() != 5*1000*1000*1000 {
		t.Errorf("MinUsableBytes = %d, want 5GB in bytes", cfg.MinUsableBytes())
	}
	if cfg.JournalMaxSegmentBytes() != 256*1000*1000 {
		t.Errorf("JournalMaxSegmentBytes = %d, want 256MB in bytes", cfg.JournalMaxSegmentBytes())
	}
	if cfg.GroupCommitMaxWaitMS != 2 {
		t.Errorf("GroupCommitMaxWaitMS default = %d, want 2", cfg.GroupCommitMaxWaitMS)
	}
	if cfg.CheckpointIntervalMS != 60000 {
		t.Errorf("CheckpointIntervalMS default = %d, want 60000", cfg.CheckpointIntervalMS)
	}
}

func TestWatcherHotReloadsLogLevel(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `{"bookieId":"b1","journalDirs":["/tmp/j"],"ledgerDirs":["/tmp/l"],"logLevel":"info"}`)

	w, err := NewWatcher(path, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()

	if w.LogLevel() != "info" {
		t.Fatalf("LogLevel() = %q, want info", w.LogLevel())
	}

	writeConfig(t, dir, `{"bookieId":"b1","journalDirs":["/tmp/j"],"ledgerDirs":["/tmp/l"],"logLevel":"debug"}`)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if w.LogLevel() == "debug" {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("LogLevel() never reloaded to debug, got %q", w.LogLevel())
}
