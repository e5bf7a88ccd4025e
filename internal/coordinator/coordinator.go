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

// Package coordinator implements the bookie's registration with the
// external coordination service (spec §4.6 "coordinator registration",
// §7 "session loss -> re-register with backoff"). The persistent cookie
// record is exposed through cookie.Registry; ephemeral registration
// (the liveness record that disappears when a bookie dies) is a separate,
// backend-specific mechanism.
package coordinator

import (
	"math/rand"
	"time"

	"github.com/bookienode/bookie/internal/cookie"
)

// Availability selects which ephemeral path a bookie advertises itself
// under (spec §4.5/§6): writable bookies are discoverable clients pick for
// new ledgers, read-only bookies are advertised separately so clients stop
// routing fresh writes to them without losing the registration entirely.
type Availability int

const (
	AvailabilityWritable Availability = iota
	AvailabilityReadOnly
)

func (a Availability) String() string {
	if a == AvailabilityReadOnly {
		return "readonly"
	}
	return "writable"
}

// Coordinator is the full interface the bookie lifecycle needs: the
// cookie registry plus ephemeral registration/deregistration and a
// notification channel for session loss.
type Coordinator interface {
	cookie.Registry

	// Register creates (or refreshes) the ephemeral registration for
	// bookieID at addr under the given availability (spec §4.5/§6:
	// "/available/<bookieId>" when writable, "/available/readonly/<bookieId>"
	// when read-only). Calling Register again for the same bookieID with a
	// different availability moves the registration to the new path and
	// removes it from the old one — the caller does not need to Deregister
	// first. Returns a channel that closes exactly once, when the
	// registration is lost (socket closed, heartbeat expired, etc).
	Register(bookieID, addr string, availability Availability) (lost <-chan struct{}, err error)

	// Deregister removes the ephemeral registration (graceful shutdown,
	// spec §4.6 "unregister before journal/storage teardown").
	Deregister(bookieID string) error

	// Close releases any resources held by the coordinator client itself.
	Close() error
}

// Backoff implements exponential backoff with jitter for coordinator
// re-registration (spec §7). It is deliberately small and deterministic
// enough to unit test.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	attempt int
}

// NewBackoff builds a Backoff with sane defaults if base/max are zero.
func NewBackoff(base, max time.Duration) *Backoff {
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	if max <= 0 {
		max = 30 * time.Second
	}
	return &Backoff{Base: base, Max: max}
}

// Next returns the delay before the next retry and advances the attempt
// counter. Jitter is +/-20% to avoid a reconnect thundering herd across
// many bookies losing their session at once.
func (b *Backoff) Next() time.Duration {
	d := b.Base << b.attempt
	if d <= 0 || d > b.Max {
		d = b.Max
	}
	b.attempt++
	jitter := time.Duration(float64(d) * (0.8 + 0.4*rand.Float64()))
	if jitter > b.Max {
		jitter = b.Max
	}
	return jitter
}

// Reset clears the attempt counter after a successful registration.
func (b *Backoff) Reset() { b.attempt = 0 }
