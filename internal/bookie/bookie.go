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

package bookie

import (
	"log"
	"sync"
	"time"

	"github.com/bookienode/bookie/internal/bookerrs"
	"github.com/bookienode/bookie/internal/conf"
	"github.com/bookienode/bookie/internal/coordinator"
	"github.com/bookienode/bookie/internal/cookie"
	"github.com/bookienode/bookie/internal/dirmanager"
	"github.com/bookienode/bookie/internal/journal"
	"github.com/bookienode/bookie/internal/ledger"
	"github.com/bookienode/bookie/internal/ledgerstore"
	"github.com/bookienode/bookie/internal/stats"
	"github.com/bookienode/bookie/internal/syncengine"
	"github.com/bookienode/bookie/internal/writepipeline"
)

// Bookie is one storage node: the full assembly of journal, handle cache,
// storage backend, sync engine, directory manager, coordinator and mode
// state machine (spec §2 component table, §4.6 lifecycle).
type Bookie struct {
	cfg *conf.Config
	log *log.Logger

	dirMgr  *dirmanager.Manager
	coord   coordinator.Coordinator
	handles *ledger.Cache
	j       *journal.Journal
	storage ledgerstore.Storage
	pipe    *writepipeline.Pipeline
	sync    *syncengine.Engine
	stats   *stats.Stats
	mode    *modeMachine

	addr      string
	regMu     sync.Mutex
	regLost   <-chan struct{}
	backoff   *coordinator.Backoff
	stopRereg chan struct{}
}

// Deps lets callers supply already-constructed storage/coordinator
// implementations (file vs S3 vs Ceph; websocket vs SQL), keeping Bookie
// itself backend-agnostic per spec §6's "external interface" boundary.
type Deps struct {
	Config      *conf.Config
	Logger      *log.Logger
	Storage     ledgerstore.Storage
	Coordinator coordinator.Coordinator
	Addr        string
}

// New assembles a Bookie from its dependencies without starting anything.
func New(d Deps) (*Bookie, error) {
	if d.Logger == nil {
		d.Logger = log.Default()
	}
	b := &Bookie{
		cfg:     d.Config,
		log:     d.Logger,
		dirMgr:  dirmanager.New(d.Config.JournalDirs, d.Config.MinUsableBytes(), d.Logger),
		coord:   d.Coordinator,
		handles: ledger.NewCache(),
		storage: d.Storage,
		stats:   stats.New(),
		mode:    newModeMachine(d.Logger),
		addr:    d.Addr,
		backoff: coordinator.NewBackoff(0, 0),
	}
	return b, nil
}

// Mode returns the current externally visible mode.
func (b *Bookie) Mode() Mode { return b.mode.current() }

// Pipeline exposes the write-facing operations once Start has completed.
func (b *Bookie) Pipeline() *writepipeline.Pipeline { return b.pipe }

// SyncEngine exposes the checkpoint engine for admin-triggered checkpoints.
func (b *Bookie) SyncEngine() *syncengine.Engine { return b.sync }

// Stats exposes the statistics surface.
func (b *Bookie) Stats() *stats.Stats { return b.stats }

// AddModeListener registers a callback invoked on every mode transition.
func (b *Bookie) AddModeListener(l ModeListener) { b.mode.addListener(l) }

// Start runs the full bootstrap sequence (spec §4.6):
//  1. journal/ledger directory layout init
//  2. coordinator/cookie environment check
//  3. open journal + handle cache + storage
//  4. start the sync engine (before replay, so it can absorb a checkpoint
//     triggered mid-replay without racing journal rotation)
//  5. replay the journal from the last log-mark
//  6. full flush
//  7. wire the disk-event listener and start the directory manager's
//     live monitoring
//  8. flip mode to Writable (a bookie always boots writable; read-only is
//     reached only by a later trigger, never at boot)
//  9. register with the coordinator at the mode-appropriate path
func (b *Bookie) Start() error {
	if err := dirmanager.Init(b.cfg.JournalDirs); err != nil {
		return err
	}
	if err := dirmanager.Init(b.cfg.LedgerDirs); err != nil {
		return err
	}

	if err := cookie.CheckEnvironment(b.cfg.BookieID, append(append([]string{}, b.cfg.JournalDirs...), b.cfg.LedgerDirs...), b.coord); err != nil {
		return err
	}

	j, err := journal.Open(journal.Options{
		Dir:             b.cfg.JournalDirs[0],
		MaxSegmentBytes: b.cfg.JournalMaxSegmentBytes(),
		GroupMaxBytes:   b.cfg.GroupCommitMaxBytes(),
		GroupMaxWait:    time.Duration(b.cfg.GroupCommitMaxWaitMS) * time.Millisecond,
		ArchiveDir:      b.cfg.ArchiveDir,
		Logger:          b.log,
	})
	if err != nil {
		return err
	}
	b.j = j
	b.j.Start()

	b.pipe = writepipeline.New(b.handles, b.j, b.storage)
	b.pipe.SetReadOnlyTrigger(b.triggerReadOnlyOrShutdown)
	b.sync = syncengine.New(b.j, b.storage, b.log)
	b.sync.SetReadOnlyTrigger(b.triggerReadOnlyOrShutdown)
	b.sync.Start(time.Duration(b.cfg.CheckpointIntervalMS) * time.Millisecond)

	if err := b.j.Replay(b.replayVisitor); err != nil {
		return bookerrs.Wrap(bookerrs.CodeJournalIO, "bookie: journal replay", err)
	}

	b.sync.Flush()

	b.dirMgr.AddListener(b.onDiskEvent)
	if err := b.dirMgr.Start(30 * time.Second); err != nil {
		return err
	}

	b.mode.start()
	b.AddModeListener(b.onModeTransition)
	b.mode.transition(ModeWritable)

	if err := b.register(); err != nil {
		return err
	}

	return nil
}

// replayVisitor applies one journal record during startup recovery (spec
// §4.6 step 6): data records recover into the handle cache's LAC, and
// meta-records recover the master-key/fenced bits via the storage
// backend directly (bypassing the write pipeline's auth check, which
// would otherwise reject the replay since no client is present to supply
// a master key).
func (b *Bookie) replayVisitor(version journal.Version, mark journal.LogMark, record []byte) error {
	ledgerID, entryID, err := journal.ParseHeader(record)
	if err != nil {
		return err
	}
	if journal.IsMeta(entryID) {
		switch entryID {
		case journal.MetaEntryIDLedgerKey:
			key, err := journal.DecodeLedgerKey(record)
			if err != nil {
				return err
			}
			b.handles.SetMasterKeyIfAbsent(ledgerID, key) // winner/matches unused: replay is the sole writer
			return b.storage.WriteMasterKeyIfAbsent(ledgerID, key)
		case journal.MetaEntryIDFenceKey:
			d := b.handles.GetOrCreate(ledgerID)
			d.Fence()
			return b.storage.SetFenced(ledgerID)
		}
		return nil
	}
	d := b.handles.GetOrCreate(ledgerID)
	d.AdvanceLastAddConfirmed(int64(entryID))
	return nil
}

// triggerReadOnlyOrShutdown is the single place every write-failure and
// disk-event path routes through to reach read-only mode (spec §4.3 step
// 4/§4.4 steps 5&7/§4.5 EventAllDisksFull): if read-only mode is disabled
// by configuration, the spec requires shutting down instead of degrading
// to read-only, since a disabled read-only mode means the operator never
// wants this bookie serving reads-only traffic.
func (b *Bookie) triggerReadOnlyOrShutdown() {
	if !b.cfg.ReadOnlyModeEnabled {
		if b.log != nil {
			b.log.Printf("bookie: read-only mode disabled by configuration, shutting down")
		}
		go b.Shutdown()
		return
	}
	b.mode.transition(ModeReadOnly)
}

func (b *Bookie) onDiskEvent(ev dirmanager.Event) {
	switch ev.Kind {
	case dirmanager.EventAllDisksFull, dirmanager.EventDiskFailure:
		b.triggerReadOnlyOrShutdown()
	case dirmanager.EventDiskJustWritable, dirmanager.EventDiskWritable:
		if b.mode.current() == ModeReadOnly {
			b.mode.transition(ModeWritable)
		}
	}
}

// availability translates the current mode into the coordinator's
// registration-path selector (spec §4.5/§6).
func (b *Bookie) availability() coordinator.Availability {
	if b.mode.current() == ModeReadOnly {
		return coordinator.AvailabilityReadOnly
	}
	return coordinator.AvailabilityWritable
}

// onModeTransition re-registers at the new mode-appropriate path whenever
// a committed transition crosses Writable<->ReadOnly (spec §4.5/§6: "each
// mode transition re-registers at the new path and deletes the old" — the
// coordinator's Register implementations handle deleting the old path).
func (b *Bookie) onModeTransition(from, to Mode) {
	writableOrReadOnly := func(m Mode) bool { return m == ModeWritable || m == ModeReadOnly }
	if from == to || !writableOrReadOnly(from) || !writableOrReadOnly(to) {
		return
	}
	if err := b.reregisterAt(b.availability()); err != nil && b.log != nil {
		b.log.Printf("bookie: re-register after mode change: %v", err)
	}
}

func (b *Bookie) register() error {
	if err := b.reregisterAt(b.availability()); err != nil {
		return err
	}
	b.stopRereg = make(chan struct{})
	go b.reregisterLoop()
	return nil
}

// reregisterAt (re)registers with the coordinator at the given
// availability and swaps in the resulting loss channel. It is called both
// by the initial register() and by onModeTransition/reregisterLoop, so
// regLost is guarded by regMu rather than assumed single-writer.
func (b *Bookie) reregisterAt(a coordinator.Availability) error {
	lost, err := b.coord.Register(b.cfg.BookieID, b.addr, a)
	if err != nil {
		return err
	}
	b.regMu.Lock()
	b.regLost = lost
	b.regMu.Unlock()
	return nil
}

func (b *Bookie) currentRegLost() <-chan struct{} {
	b.regMu.Lock()
	defer b.regMu.Unlock()
	return b.regLost
}

// reregisterLoop implements spec §7's "exponential backoff re-register on
// session loss": it waits for the current registration to be lost, then
// retries with backoff until it succeeds or shutdown is requested.
func (b *Bookie) reregisterLoop() {
	for {
		select {
		case <-b.currentRegLost():
		case <-b.stopRereg:
			return
		}
		if b.mode.current() == ModeShuttingDown || b.mode.current() == ModeShutdown {
			return
		}
		for {
			select {
			case <-b.stopRereg:
				return
			default:
			}
			err := b.reregisterAt(b.availability())
			if err == nil {
				b.backoff.Reset()
				break
			}
			if b.log != nil {
				b.log.Printf("bookie: re-register failed: %v", err)
			}
			time.Sleep(b.backoff.Next())
		}
	}
}

// Shutdown runs the graceful teardown sequence in reverse dependency
// order (spec §4.6): stop accepting new coordinator churn, deregister,
// stop the directory manager, drain the sync engine, close storage, close
// the journal.
func (b *Bookie) Shutdown() error {
	b.mode.transition(ModeShuttingDown)

	if b.stopRereg != nil {
		close(b.stopRereg)
	}
	if err := b.coord.Deregister(b.cfg.BookieID); err != nil && b.log != nil {
		b.log.Printf("bookie: deregister: %v", err)
	}
	if err := b.coord.Close(); err != nil && b.log != nil {
		b.log.Printf("bookie: coordinator close: %v", err)
	}

	b.dirMgr.Stop()

	if b.sync != nil {
		b.sync.Checkpoint()
		b.sync.Shutdown()
	}
	if b.storage != nil {
		if err := b.storage.Close(); err != nil && b.log != nil {
			b.log.Printf("bookie: storage close: %v", err)
		}
	}
	if b.j != nil {
		b.j.Shutdown()
	}

	b.mode.transition(ModeShutdown)
	b.mode.stop()
	return nil
}
