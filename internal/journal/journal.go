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

// Package journal implements the bookie's write-ahead log (spec §4.1): an
// append-ordered byte log with group commit, a replayable stream, and a
// persistable log-mark. It is the durability backbone the write pipeline
// and sync engine both depend on; the journal itself never references the
// sync engine (spec §9 "cyclic references").
package journal

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/btree"
	"github.com/pierrec/lz4/v4"

	"github.com/bookienode/bookie/internal/bookerrs"
)

// LogMark identifies a point in the journal stream: a segment id plus a
// byte offset within it (spec §3 LogMark).
type LogMark struct {
	JournalID uint64 `json:"journalId"`
	Offset    int64  `json:"offset"`
}

func (m LogMark) Less(o LogMark) bool {
	if m.JournalID != o.JournalID {
		return m.JournalID < o.JournalID
	}
	return m.Offset < o.Offset
}

// Visitor is invoked once per record during replay, strictly in journal
// order (spec §4.1 replay).
type Visitor func(version Version, mark LogMark, record []byte) error

type appendReq struct {
	record []byte
	cb     func(error)
}

type segMeta struct {
	id   uint64
	path string
}

func segLess(a, b segMeta) bool { return a.id < b.id }

// Journal is the durable write-ahead log for one storage area (one
// journal directory). The bookie opens a single Journal, in the first
// configured journal directory.
type Journal struct {
	dir        string
	markPath   string
	log        *log.Logger
	maxSegSize int64

	groupMaxBytes int64
	groupMaxWait  time.Duration
	queueBound    int

	mu       sync.Mutex // guards active + segments + index
	active   *segment
	segments *btree.BTreeG[segMeta]

	markMu sync.Mutex
	mark   LogMark

	queue chan *appendReq
	done  chan struct{}
	wg    sync.WaitGroup

	archiveDir string
}

// Options configures a Journal.
type Options struct {
	Dir             string
	MaxSegmentBytes int64
	GroupMaxBytes   int64
	GroupMaxWait    time.Duration
	QueueBound      int
	ArchiveDir      string // if set, sealed+pruned segments are lz4-compressed here instead of deleted
	Logger          *log.Logger
}

// Open opens (or creates) a journal rooted at opts.Dir, discovering
// existing segments and the persisted log-mark.
func Open(opts Options) (*Journal, error) {
	if opts.MaxSegmentBytes <= 0 {
		opts.MaxSegmentBytes = 1 << 28
	}
	if opts.GroupMaxBytes <= 0 {
		opts.GroupMaxBytes = 1 << 20
	}
	if opts.GroupMaxWait <= 0 {
		opts.GroupMaxWait = 2 * time.Millisecond
	}
	if opts.QueueBound <= 0 {
		opts.QueueBound = 10000
	}
	current := filepath.Join(opts.Dir, "current")
	if err := os.MkdirAll(current, 0750); err != nil {
		return nil, bookerrs.Wrap(bookerrs.CodeJournalIO, "journal: mkdir", err)
	}

	j := &Journal{
		dir:           current,
		markPath:      filepath.Join(opts.Dir, "lastMark"),
		log:           opts.Logger,
		maxSegSize:    opts.MaxSegmentBytes,
		groupMaxBytes: opts.GroupMaxBytes,
		groupMaxWait:  opts.GroupMaxWait,
		queueBound:    opts.QueueBound,
		segments:      btree.NewG(32, segLess),
		queue:         make(chan *appendReq, opts.QueueBound),
		done:          make(chan struct{}),
		archiveDir:    opts.ArchiveDir,
	}

	entries, err := os.ReadDir(current)
	if err != nil {
		return nil, bookerrs.Wrap(bookerrs.CodeJournalIO, "journal: readdir", err)
	}
	var ids []uint64
	for _, e := range entries {
		var id uint64
		if _, err := fmt.Sscanf(e.Name(), "%016x.journal", &id); err == nil {
			ids = append(ids, id)
			j.segments.ReplaceOrInsert(segMeta{id: id, path: filepath.Join(current, e.Name())})
		}
	}
	sort.Slice(ids, func(i, k int) bool { return ids[i] < ids[k] })

	var activeID uint64
	if len(ids) == 0 {
		activeID = 1
		j.segments.ReplaceOrInsert(segMeta{id: activeID, path: segmentPath(current, activeID)})
	} else {
		activeID = ids[len(ids)-1]
	}
	seg, err := openSegmentForWrite(current, activeID)
	if err != nil {
		return nil, bookerrs.Wrap(bookerrs.CodeJournalIO, "journal: open active segment", err)
	}
	j.active = seg

	if mark, ok, err := j.loadMark(); err != nil {
		return nil, err
	} else if ok {
		j.mark = mark
	} else {
		j.mark = LogMark{JournalID: 0, Offset: 0}
	}

	return j, nil
}

func (j *Journal) loadMark() (LogMark, bool, error) {
	data, err := os.ReadFile(j.markPath)
	if err != nil {
		if os.IsNotExist(err) {
			return LogMark{}, false, nil
		}
		return LogMark{}, false, bookerrs.Wrap(bookerrs.CodeJournalIO, "journal: read mark", err)
	}
	var m LogMark
	if err := json.Unmarshal(data, &m); err != nil {
		return LogMark{}, false, bookerrs.Wrap(bookerrs.CodeJournalIO, "journal: corrupt mark", err)
	}
	return m, true, nil
}

// Start launches the dedicated journal writer goroutine (spec §5: exactly
// one journal writer, owns file handles and fsync).
func (j *Journal) Start() {
	j.wg.Add(1)
	go j.writerLoop()
}

// Append schedules record for group commit. cb fires with nil once record
// is fsync'd, or with an error if the fsync failed (which the caller must
// treat as fatal per §7 JournalIoError). Append blocks the caller if the
// internal queue is at its bound (explicit back-pressure, spec §4.1/§5).
func (j *Journal) Append(record []byte, cb func(error)) {
	j.queue <- &appendReq{record: record, cb: cb}
}

// AppendSync is a convenience wrapper that blocks until the record is durable.
func (j *Journal) AppendSync(record []byte) error {
	done := make(chan error, 1)
	j.Append(record, func(err error) { done <- err })
	return <-done
}

func (j *Journal) writerLoop() {
	defer j.wg.Done()
	var batch []*appendReq
	timer := time.NewTimer(j.groupMaxWait)
	if !timer.Stop() {
		<-timer.C
	}
	timerRunning := false

	flush := func() {
		if len(batch) == 0 {
			return
		}
		j.writeBatch(batch)
		batch = batch[:0]
	}

	for {
		if timerRunning {
			select {
			case req, ok := <-j.queue:
				if !ok {
					flush()
					return
				}
				batch = append(batch, req)
				if j.batchBytes(batch) >= j.groupMaxBytes {
					if !timer.Stop() {
						<-timer.C
					}
					timerRunning = false
					flush()
				}
			case <-timer.C:
				timerRunning = false
				flush()
			case <-j.done:
				// drain whatever is already queued, then stop.
				j.drainQueue(&batch)
				flush()
				return
			}
		} else {
			select {
			case req, ok := <-j.queue:
				if !ok {
					return
				}
				batch = append(batch, req)
				timer.Reset(j.groupMaxWait)
				timerRunning = true
			case <-j.done:
				j.drainQueue(&batch)
				flush()
				return
			}
		}
	}
}

func (j *Journal) drainQueue(batch *[]*appendReq) {
	for {
		select {
		case req, ok := <-j.queue:
			if !ok {
				return
			}
			*batch = append(*batch, req)
		default:
			return
		}
	}
}

func (j *Journal) batchBytes(batch []*appendReq) int64 {
	var n int64
	for _, r := range batch {
		n += int64(len(r.record)) + 8
	}
	return n
}

// writeBatch writes every record in the batch, fsyncs once, then fires
// every completion in arrival order (spec §4.1 group commit).
func (j *Journal) writeBatch(batch []*appendReq) {
	j.mu.Lock()
	j.rotateIfNeeded()
	var lastMark LogMark
	var writeErr error
	for _, req := range batch {
		off, err := j.active.writeRecord(req.record)
		if err != nil {
			writeErr = err
			break
		}
		lastMark = LogMark{JournalID: j.active.id, Offset: off}
	}
	if writeErr == nil {
		writeErr = j.active.sync()
	}
	j.mu.Unlock()

	if writeErr != nil {
		wrapped := bookerrs.Wrap(bookerrs.CodeJournalIO, "journal: fsync failed", writeErr)
		for _, req := range batch {
			if req.cb != nil {
				req.cb(wrapped)
			}
		}
		return
	}

	j.markMu.Lock()
	if lastMark.JournalID > 0 {
		j.mark = LogMark{JournalID: lastMark.JournalID, Offset: lastMark.Offset}
	}
	j.markMu.Unlock()

	for _, req := range batch {
		if req.cb != nil {
			req.cb(nil)
		}
	}
}

// rotateIfNeeded must be called with j.mu held.
func (j *Journal) rotateIfNeeded() {
	if j.active.size < j.maxSegSize {
		return
	}
	nextID := j.active.id + 1
	if err := j.active.close(); err != nil && j.log != nil {
		j.log.Printf("journal: close sealed segment %d: %v", j.active.id, err)
	}
	seg, err := openSegmentForWrite(j.dir, nextID)
	if err != nil {
		// keep writing into the old (full) segment rather than lose durability;
		// the directory manager's disk-full event is the real signal here.
		if j.log != nil {
			j.log.Printf("journal: rotate to segment %d failed: %v", nextID, err)
		}
		return
	}
	j.segments.ReplaceOrInsert(segMeta{id: nextID, path: seg.path})
	j.active = seg
}

// RequestCheckpoint returns the current journal tail as a candidate
// log-mark (spec §4.1).
func (j *Journal) RequestCheckpoint() LogMark {
	j.markMu.Lock()
	defer j.markMu.Unlock()
	return j.mark
}

// PersistLogMark atomically replaces the persisted mark. Callers must have
// fsync'd all dependent storage state first (spec §3 LogMark invariant).
func (j *Journal) PersistLogMark(mark LogMark) error {
	data, err := json.Marshal(mark)
	if err != nil {
		return bookerrs.Wrap(bookerrs.CodeJournalIO, "journal: marshal mark", err)
	}
	tmp := j.markPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0640); err != nil {
		return bookerrs.Wrap(bookerrs.CodeJournalIO, "journal: write mark", err)
	}
	if err := os.Rename(tmp, j.markPath); err != nil {
		return bookerrs.Wrap(bookerrs.CodeJournalIO, "journal: rename mark", err)
	}
	return nil
}

// Replay invokes visitor for every record committed strictly after the
// last persisted log-mark (spec §4.1, §4.6 step 6).
func (j *Journal) Replay(visitor Visitor) error {
	persisted, ok, err := j.loadMark()
	if err != nil {
		return err
	}
	if !ok {
		persisted = LogMark{JournalID: 0, Offset: 0}
	}

	j.mu.Lock()
	var metas []segMeta
	j.segments.Ascend(func(m segMeta) bool {
		if m.id >= persisted.JournalID {
			metas = append(metas, m)
		}
		return true
	})
	j.mu.Unlock()

	for _, m := range metas {
		start := int64(0)
		if m.id == persisted.JournalID {
			start = persisted.Offset + 1 // strictly after
		}
		records, err := readAllRecords(m.path, start)
		if err != nil {
			return bookerrs.Wrap(bookerrs.CodeJournalIO, "journal: replay "+m.path, err)
		}
		for _, rec := range records {
			mark := LogMark{JournalID: m.id, Offset: rec.offset}
			if err := visitor(CurrentVersion, mark, rec.payload); err != nil {
				return err
			}
		}
	}
	return nil
}

// Prune removes (or archives) every segment entirely before mark.JournalID
// — safe once mark is durably persisted, since every record in those
// segments is reflected in already-fsync'd storage state (spec §4.4/§9
// "journal segment GC").
func (j *Journal) Prune(mark LogMark) {
	j.mu.Lock()
	var toRemove []segMeta
	j.segments.Ascend(func(m segMeta) bool {
		if m.id < mark.JournalID && m.id != j.active.id {
			toRemove = append(toRemove, m)
		}
		return true
	})
	for _, m := range toRemove {
		j.segments.Delete(m)
	}
	j.mu.Unlock()

	for _, m := range toRemove {
		if j.archiveDir != "" {
			if err := archiveSegment(m.path, j.archiveDir); err != nil {
				if j.log != nil {
					j.log.Printf("journal: archive %s failed, leaving in place: %v", m.path, err)
				}
				continue
			}
		}
		if err := os.Remove(m.path); err != nil && j.log != nil {
			j.log.Printf("journal: prune remove %s: %v", m.path, err)
		}
	}
}

// archiveSegment lz4-compresses a sealed segment into dir before deletion,
// trading the archival copy's CPU cost for disk savings on cold journal
// history (spec domain-stack: pierrec/lz4 for journal segment archival).
func archiveSegment(path, dir string) error {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return err
	}
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(filepath.Join(dir, filepath.Base(path)+".lz4"))
	if err != nil {
		return err
	}
	defer out.Close()

	zw := lz4.NewWriter(out)
	if _, err := io.Copy(zw, in); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

// Shutdown drains queued records then returns (spec §4.1 start/shutdown).
func (j *Journal) Shutdown() {
	close(j.done)
	j.wg.Wait()
	j.mu.Lock()
	j.active.close()
	j.mu.Unlock()
}
