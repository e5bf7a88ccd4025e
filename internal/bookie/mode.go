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

// Package bookie wires every subsystem (journal, handle cache, storage,
// sync engine, coordinator) into the full lifecycle and mode state
// machine described in spec §4.5 and §4.6.
package bookie

import (
	"log"
	"sync"
)

// Mode is the bookie's externally visible operating mode (spec §4.5).
type Mode int

const (
	ModeStarting Mode = iota
	ModeWritable
	ModeReadOnly
	ModeShuttingDown
	ModeShutdown
)

func (m Mode) String() string {
	switch m {
	case ModeStarting:
		return "Starting"
	case ModeWritable:
		return "Writable"
	case ModeReadOnly:
		return "ReadOnly"
	case ModeShuttingDown:
		return "ShuttingDown"
	case ModeShutdown:
		return "Shutdown"
	default:
		return "Unknown"
	}
}

// ModeListener is notified of every committed mode transition.
type ModeListener func(from, to Mode)

// modeMachine is a single-threaded command queue guarding the mode CAS
// (spec §4.5): every transition request is processed strictly in order by
// one goroutine, so two concurrent triggers (disk full + manual RO
// request, say) can never race into an inconsistent mode.
type modeMachine struct {
	log *log.Logger

	mu        sync.Mutex
	mode      Mode
	listeners []ModeListener

	cmds chan modeCmd
	done chan struct{}
	wg   sync.WaitGroup
}

type modeCmd struct {
	target Mode
	result chan error
}

func newModeMachine(logger *log.Logger) *modeMachine {
	return &modeMachine{
		log:  logger,
		mode: ModeStarting,
		cmds: make(chan modeCmd, 8),
		done: make(chan struct{}),
	}
}

func (m *modeMachine) start() {
	m.wg.Add(1)
	go m.run()
}

func (m *modeMachine) run() {
	defer m.wg.Done()
	for {
		select {
		case cmd := <-m.cmds:
			m.apply(cmd)
		case <-m.done:
			// drain any commands already queued before exiting, so a
			// caller blocked on result never hangs.
			for {
				select {
				case cmd := <-m.cmds:
					m.apply(cmd)
				default:
					return
				}
			}
		}
	}
}

// validTransition enforces spec §4.5's legal edges: Starting can only
// move to Writable or ReadOnly; Writable<->ReadOnly are reversible;
// anything can move to ShuttingDown, and only ShuttingDown moves to
// Shutdown (terminal).
func validTransition(from, to Mode) bool {
	switch from {
	case ModeStarting:
		return to == ModeWritable || to == ModeReadOnly || to == ModeShuttingDown
	case ModeWritable:
		return to == ModeReadOnly || to == ModeShuttingDown
	case ModeReadOnly:
		return to == ModeWritable || to == ModeShuttingDown
	case ModeShuttingDown:
		return to == ModeShutdown
	default:
		return false
	}
}

func (m *modeMachine) apply(cmd modeCmd) {
	m.mu.Lock()
	from := m.mode
	if !validTransition(from, cmd.target) {
		m.mu.Unlock()
		cmd.result <- nil // idempotent no-op for a disallowed/no-op edge, not an error
		return
	}
	m.mode = cmd.target
	listeners := append([]ModeListener(nil), m.listeners...)
	m.mu.Unlock()

	if m.log != nil {
		m.log.Printf("bookie: mode %s -> %s", from, cmd.target)
	}
	for _, l := range listeners {
		l(from, cmd.target)
	}
	cmd.result <- nil
}

// transition requests a mode change and blocks until the single-threaded
// machine has processed it (applied or rejected as illegal).
func (m *modeMachine) transition(target Mode) {
	result := make(chan error, 1)
	m.cmds <- modeCmd{target: target, result: result}
	<-result
}

func (m *modeMachine) current() Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

func (m *modeMachine) addListener(l ModeListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

func (m *modeMachine) stop() {
	close(m.done)
	m.wg.Wait()
}
