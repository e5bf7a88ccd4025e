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

// Package conf loads and hot-reloads the bookie's configuration.
package conf

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"

	"github.com/docker/go-units"
	"github.com/fsnotify/fsnotify"
)

// Config is the bookie's full configuration. Directory layout and identity
// fields are latched at first load; CheckpointIntervalMS and LogLevel may be
// hot-reloaded.
type Config struct {
	BookieID string `json:"bookieId"` // advertised address, e.g. "10.0.0.4:3181"

	JournalDirs []string `json:"journalDirs"`
	LedgerDirs  []string `json:"ledgerDirs"`
	IndexDirs   []string `json:"indexDirs"`

	// MinUsableSpace is a human size ("10GB", "512MB") below which a
	// directory is considered full. Parsed once at load via go-units.
	MinUsableSpace string `json:"minUsableSpace"`
	minUsableBytes int64

	// JournalMaxSegmentSize bounds a single journal segment file.
	JournalMaxSegmentSize string `json:"journalMaxSegmentSize"`
	journalMaxSegmentBytes int64

	// GroupCommitMaxBytes / GroupCommitMaxWaitMS bound a single fsync batch.
	GroupCommitMaxBytes string `json:"groupCommitMaxBytes"`
	groupCommitMaxBytesN int64
	GroupCommitMaxWaitMS int `json:"groupCommitMaxWaitMs"`

	CheckpointIntervalMS int64 `json:"checkpointIntervalMs"`

	// ReadOnlyModeEnabled gates whether the bookie is allowed to degrade to
	// read-only at all (spec §4.5). A bookie always boots Writable; this
	// flag only controls what happens when a trigger (disk full, a direct
	// NoWritableLedgerDir write failure, a checkpoint/journal IO failure)
	// would otherwise move it to ReadOnly. true: transition to ReadOnly.
	// false: shut down instead, since the operator has declared that this
	// bookie must never serve read-only traffic.
	ReadOnlyModeEnabled bool   `json:"readOnlyModeEnabled"`
	LogLevel            string `json:"logLevel"`

	CoordinatorRoot string `json:"coordinatorRoot"`
	CoordinatorAddr string `json:"coordinatorAddr"`
	CoordinatorKind string `json:"coordinatorKind"` // "ws", "postgres", "mysql"

	ArchiveDir string `json:"archiveDir"` // optional: compress sealed journal segments here instead of deleting
}

// ParseSize parses a human size string ("10GB") using go-units, the same
// dependency the teacher carries for disk-size plumbing.
func ParseSize(s string, def int64) int64 {
	if s == "" {
		return def
	}
	n, err := units.FromHumanSize(s)
	if err != nil {
		return def
	}
	return n
}

func (c *Config) resolveDerived() {
	c.minUsableBytes = ParseSize(c.MinUsableSpace, 1<<30)
	c.journalMaxSegmentBytes = ParseSize(c.JournalMaxSegmentSize, 1<<28)
	c.groupCommitMaxBytesN = ParseSize(c.GroupCommitMaxBytes, 1<<20)
	if c.GroupCommitMaxWaitMS <= 0 {
		c.GroupCommitMaxWaitMS = 2
	}
	if c.CheckpointIntervalMS <= 0 {
		c.CheckpointIntervalMS = 60000
	}
}

func (c *Config) MinUsableBytes() int64        { return c.minUsableBytes }
func (c *Config) JournalMaxSegmentBytes() int64 { return c.journalMaxSegmentBytes }
func (c *Config) GroupCommitMaxBytes() int64    { return c.groupCommitMaxBytesN }

// Load reads a JSON config file from path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("conf: read %s: %w", path, err)
	}
	var c Config
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("conf: parse %s: %w", path, err)
	}
	c.resolveDerived()
	return &c, nil
}

// Watcher wraps a Config with hot-reload of mutable fields via fsnotify,
// mirroring the teacher's pattern of a single package-level settings struct
// mutated in place (storage/settings.go) but scoped to an instance instead
// of a global, per §9 "do not add hidden singletons."
type Watcher struct {
	path string
	log  *log.Logger

	mu  sync.RWMutex
	cur *Config

	checkpointIntervalMS atomic.Int64
	logLevel             atomic.Value // string

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewWatcher loads path once and starts watching it for reloads.
func NewWatcher(path string, logger *log.Logger) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	w := &Watcher{path: path, log: logger, cur: cfg, done: make(chan struct{})}
	w.checkpointIntervalMS.Store(cfg.CheckpointIntervalMS)
	w.logLevel.Store(cfg.LogLevel)

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		// hot-reload is a convenience, not a requirement: keep running without it.
		if logger != nil {
			logger.Printf("conf: fsnotify unavailable, hot-reload disabled: %v", err)
		}
		return w, nil
	}
	w.watcher = fw
	if err := fw.Add(path); err != nil {
		fw.Close()
		w.watcher = nil
		return w, nil
	}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.reload()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if w.log != nil {
				w.log.Printf("conf: watch error: %v", err)
			}
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		if w.log != nil {
			w.log.Printf("conf: reload failed, keeping previous config: %v", err)
		}
		return
	}
	w.mu.Lock()
	prev := w.cur
	w.cur = cfg
	w.mu.Unlock()
	w.checkpointIntervalMS.Store(cfg.CheckpointIntervalMS)
	w.logLevel.Store(cfg.LogLevel)
	if w.log != nil && prev.LogLevel != cfg.LogLevel {
		w.log.Printf("conf: log level changed %s -> %s", prev.LogLevel, cfg.LogLevel)
	}
}

// Current returns the most recently loaded config snapshot.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cur
}

// CheckpointIntervalMS returns the live (hot-reloadable) checkpoint interval.
func (w *Watcher) CheckpointIntervalMS() int64 { return w.checkpointIntervalMS.Load() }

// LogLevel returns the live (hot-reloadable) log level.
func (w *Watcher) LogLevel() string {
	v, _ := w.logLevel.Load().(string)
	return v
}

// Close stops the watcher goroutine.
func (w *Watcher) Close() {
	close(w.done)
	if w.watcher != nil {
		w.watcher.Close()
	}
}
