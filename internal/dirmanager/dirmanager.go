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

// Package dirmanager enumerates the bookie's journal/ledger/index
// directories, checks the "current/" layout and legacy-file upgrade marker
// (spec §6), and monitors free space + directory presence, emitting disk
// events (spec §2 "Directory manager", §4.5 mode transitions).
package dirmanager

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bookienode/bookie/internal/bookerrs"
)

// EventKind enumerates the disk events §4.5 reacts to.
type EventKind int

const (
	// EventAllDisksFull fires when every monitored directory is below the
	// usable-space threshold.
	EventAllDisksFull EventKind = iota
	// EventDiskWritable fires on every later poll in which not all
	// directories are full (after EventDiskJustWritable has fired once).
	EventDiskWritable
	// EventDiskJustWritable fires the first time any directory becomes
	// writable after the manager started (distinguished from EventDiskWritable
	// so the mode state machine can special-case "just came back").
	EventDiskJustWritable
	// EventDiskFailure fires when a monitored directory disappears or a
	// stat call fails outright (unmounted disk, permissions wiped, etc).
	EventDiskFailure
)

func (k EventKind) String() string {
	switch k {
	case EventAllDisksFull:
		return "AllDisksFull"
	case EventDiskWritable:
		return "DiskWritable"
	case EventDiskJustWritable:
		return "DiskJustWritable"
	case EventDiskFailure:
		return "DiskFailure"
	default:
		return "Unknown"
	}
}

// Event is delivered to Listener callbacks.
type Event struct {
	Kind EventKind
	Dir  string
}

// Listener receives directory events. It must not block.
type Listener func(Event)

// Manager owns a set of directories, periodically statfs'ing each for free
// space and watching each with fsnotify for removal.
type Manager struct {
	dirs           []string
	minUsableBytes int64
	log            *log.Logger

	mu        sync.Mutex
	full      map[string]bool
	listeners []Listener
	everWritable bool

	watcher  *fsnotify.Watcher
	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
}

// New creates a directory manager over dirs. Call Start to begin monitoring.
func New(dirs []string, minUsableBytes int64, logger *log.Logger) *Manager {
	return &Manager{
		dirs:           append([]string(nil), dirs...),
		minUsableBytes: minUsableBytes,
		log:            logger,
		full:           make(map[string]bool),
		done:           make(chan struct{}),
	}
}

// Init ensures every directory has a "current/" subdirectory and rejects a
// pre-v3 layout (legacy *.txn/*.idx/*.log files next to current/), per §6.
func Init(dirs []string) error {
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				if err := os.MkdirAll(filepath.Join(dir, "current"), 0750); err != nil {
					return bookerrs.Wrap(bookerrs.CodeDiskError, "dirmanager: mkdir "+dir, err)
				}
				continue
			}
			return bookerrs.Wrap(bookerrs.CodeDiskError, "dirmanager: read "+dir, err)
		}
		hasCurrent := false
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() && name == "current" {
				hasCurrent = true
				continue
			}
			for _, legacy := range []string{".txn", ".idx", ".log"} {
				if filepath.Ext(name) == legacy {
					return bookerrs.New(bookerrs.CodeInvalidCookie,
						fmt.Sprintf("dirmanager: %s contains legacy %s file %q, needs upgrade", dir, legacy, name))
				}
			}
		}
		if !hasCurrent {
			if err := os.MkdirAll(filepath.Join(dir, "current"), 0750); err != nil {
				return bookerrs.Wrap(bookerrs.CodeDiskError, "dirmanager: mkdir current in "+dir, err)
			}
		}
	}
	return nil
}

// AddListener registers a callback for disk events.
func (m *Manager) AddListener(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

func (m *Manager) emit(ev Event) {
	m.mu.Lock()
	listeners := append([]Listener(nil), m.listeners...)
	m.mu.Unlock()
	for _, l := range listeners {
		l(ev)
	}
}

// Start launches the periodic free-space poll and the fsnotify watchers.
func (m *Manager) Start(pollInterval time.Duration) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return bookerrs.Wrap(bookerrs.CodeDiskError, "dirmanager: fsnotify init", err)
	}
	m.watcher = fw
	for _, dir := range m.dirs {
		if err := fw.Add(dir); err != nil {
			fw.Close()
			return bookerrs.Wrap(bookerrs.CodeDiskError, "dirmanager: watch "+dir, err)
		}
	}

	m.wg.Add(2)
	go m.pollLoop(pollInterval)
	go m.watchLoop()
	return nil
}

func (m *Manager) pollLoop(interval time.Duration) {
	defer m.wg.Done()
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	m.checkAll()
	for {
		select {
		case <-ticker.C:
			m.checkAll()
		case <-m.done:
			return
		}
	}
}

func (m *Manager) watchLoop() {
	defer m.wg.Done()
	for {
		select {
		case ev, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				if m.log != nil {
					m.log.Printf("dirmanager: %s disappeared: %s", ev.Name, ev.Op)
				}
				m.emit(Event{Kind: EventDiskFailure, Dir: ev.Name})
			}
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			if m.log != nil {
				m.log.Printf("dirmanager: watch error: %v", err)
			}
		case <-m.done:
			return
		}
	}
}

func (m *Manager) checkAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	anyWritable := false
	for _, dir := range m.dirs {
		free, err := freeBytes(dir)
		if err != nil {
			if m.log != nil {
				m.log.Printf("dirmanager: statfs %s: %v", dir, err)
			}
			m.emitLocked(Event{Kind: EventDiskFailure, Dir: dir})
			continue
		}
		wasFull := m.full[dir]
		nowFull := free < m.minUsableBytes
		m.full[dir] = nowFull
		if nowFull != wasFull {
			if nowFull {
				if m.log != nil {
					m.log.Printf("dirmanager: %s is now full (%d bytes free)", dir, free)
				}
			} else {
				anyWritable = true
			}
		}
		if !nowFull {
			anyWritable = true
		}
	}

	allFull := true
	for _, full := range m.full {
		if !full {
			allFull = false
			break
		}
	}

	if allFull {
		m.emitLocked(Event{Kind: EventAllDisksFull})
	} else if anyWritable {
		if !m.everWritable {
			m.everWritable = true
			m.emitLocked(Event{Kind: EventDiskJustWritable})
		} else {
			m.emitLocked(Event{Kind: EventDiskWritable})
		}
	}
}

// emitLocked must be called with m.mu held; it copies listeners out before
// invoking them so a listener calling back into the manager cannot deadlock.
func (m *Manager) emitLocked(ev Event) {
	listeners := append([]Listener(nil), m.listeners...)
	go func() {
		for _, l := range listeners {
			l(ev)
		}
	}()
}

func freeBytes(dir string) (int64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(dir, &stat); err != nil {
		return 0, err
	}
	return int64(stat.Bavail) * int64(stat.Bsize), nil
}

// Stop halts the poll and watch loops.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.done)
		if m.watcher != nil {
			m.watcher.Close()
		}
	})
	m.wg.Wait()
}

// Dirs returns the monitored directory list.
func (m *Manager) Dirs() []string { return append([]string(nil), m.dirs...) }
