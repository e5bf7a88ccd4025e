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

package coordinator

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"

	"github.com/bookienode/bookie/internal/bookerrs"
	"github.com/bookienode/bookie/internal/cookie"
)

// SQLCoordinator stands in for a coordination service where no dedicated
// ephemeral-registration service is deployed: the persistent cookie lives
// in one row, and ephemeral registration is emulated with a row carrying
// an expiry timestamp that a heartbeat goroutine refreshes — the same
// "ephemeral-via-TTL" idea used by several lease-based service registries,
// generalized here across both supported drivers (spec domain stack:
// lib/pq for Postgres, go-sql-driver/mysql for MySQL).
type SQLCoordinator struct {
	db  *sql.DB
	ttl time.Duration

	stop map[string]chan struct{}
}

// Dialect picks the blob column type of the cookie table (BYTEA or BLOB).
// The query text uses Postgres "$1" placeholders and ON CONFLICT upserts
// for either dialect.
type Dialect int

const (
	DialectPostgres Dialect = iota
	DialectMySQL
)

// OpenSQLCoordinator opens driverName/dsn (driverName is "postgres" or
// "mysql", matching the blank imports above) and ensures its two tables
// exist.
func OpenSQLCoordinator(driverName, dsn string, dialect Dialect, heartbeatTTL time.Duration) (*SQLCoordinator, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, bookerrs.Wrap(bookerrs.CodeCoordinatorError, "coordinator: open "+driverName, err)
	}
	if err := db.Ping(); err != nil {
		return nil, bookerrs.Wrap(bookerrs.CodeCoordinatorError, "coordinator: ping "+driverName, err)
	}
	c := &SQLCoordinator{db: db, ttl: heartbeatTTL, stop: make(map[string]chan struct{})}
	if err := c.ensureSchema(dialect); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *SQLCoordinator) ensureSchema(dialect Dialect) error {
	blobType := "BYTEA"
	if dialect == DialectMySQL {
		blobType = "BLOB"
	}
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS bookie_cookies (
			bookie_id VARCHAR(255) PRIMARY KEY,
			cookie %s NOT NULL
		)`, blobType),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS bookie_registrations (
			bookie_id VARCHAR(255) PRIMARY KEY,
			addr VARCHAR(255) NOT NULL,
			expires_at BIGINT NOT NULL,
			availability VARCHAR(16) NOT NULL DEFAULT 'writable'
		)`),
	}
	for _, stmt := range stmts {
		if _, err := c.db.Exec(stmt); err != nil {
			return bookerrs.Wrap(bookerrs.CodeCoordinatorError, "coordinator: schema init", err)
		}
	}
	return nil
}

func (c *SQLCoordinator) ReadCookie(bookieID string) (cookie.Cookie, bool, error) {
	var data []byte
	err := c.db.QueryRow(`SELECT cookie FROM bookie_cookies WHERE bookie_id = $1`, bookieID).Scan(&data)
	if err == sql.ErrNoRows {
		return cookie.Cookie{}, false, nil
	}
	if err != nil {
		return cookie.Cookie{}, false, bookerrs.Wrap(bookerrs.CodeCoordinatorError, "coordinator: read cookie row", err)
	}
	var ck cookie.Cookie
	if err := json.Unmarshal(data, &ck); err != nil {
		return cookie.Cookie{}, false, bookerrs.Wrap(bookerrs.CodeInvalidCookie, "coordinator: corrupt cookie row", err)
	}
	return ck, true, nil
}

func (c *SQLCoordinator) WriteCookie(bookieID string, ck cookie.Cookie) error {
	data, err := json.Marshal(ck)
	if err != nil {
		return bookerrs.Wrap(bookerrs.CodeCoordinatorError, "coordinator: marshal cookie", err)
	}
	_, err = c.db.Exec(`INSERT INTO bookie_cookies (bookie_id, cookie) VALUES ($1, $2)
		ON CONFLICT (bookie_id) DO UPDATE SET cookie = EXCLUDED.cookie`, bookieID, data)
	if err != nil {
		return bookerrs.Wrap(bookerrs.CodeCoordinatorError, "coordinator: write cookie row", err)
	}
	return nil
}

// Register inserts (or refreshes) the registration row at the given
// availability (spec §4.5/§6's mode-appropriate path, represented here as
// a column rather than a URL segment since the SQL backend has no literal
// path concept), then runs a heartbeat goroutine that extends expires_at
// until Deregister or the process dies; the returned channel closes when a
// heartbeat upsert fails, or when the heartbeat is stopped by Deregister,
// Close or a later Register. Unlike the websocket backend there's no
// transport-level notice of a crash — a watcher bookie must infer loss
// from an expired row, not from this channel.
//
// Calling Register again for the same bookieID with a different
// availability stops any previous heartbeat goroutine and starts a new
// one, so a mode change never leaves two heartbeats racing the same row.
func (c *SQLCoordinator) Register(bookieID, addr string, availability Availability) (<-chan struct{}, error) {
	if err := c.heartbeatOnce(bookieID, addr, availability); err != nil {
		return nil, err
	}
	if prevStop, ok := c.stop[bookieID]; ok {
		close(prevStop)
	}
	lost := make(chan struct{})
	stop := make(chan struct{})
	c.stop[bookieID] = stop
	go c.heartbeatLoop(bookieID, addr, availability, stop, lost)
	return lost, nil
}

func (c *SQLCoordinator) heartbeatOnce(bookieID, addr string, availability Availability) error {
	expiresAt := time.Now().Add(c.ttl).UnixNano()
	_, err := c.db.Exec(`INSERT INTO bookie_registrations (bookie_id, addr, expires_at, availability) VALUES ($1, $2, $3, $4)
		ON CONFLICT (bookie_id) DO UPDATE SET addr = EXCLUDED.addr, expires_at = EXCLUDED.expires_at, availability = EXCLUDED.availability`,
		bookieID, addr, expiresAt, availability.String())
	if err != nil {
		return bookerrs.Wrap(bookerrs.CodeCoordinatorError, "coordinator: heartbeat upsert", err)
	}
	return nil
}

func (c *SQLCoordinator) heartbeatLoop(bookieID, addr string, availability Availability, stop chan struct{}, lost chan struct{}) {
	defer close(lost)
	interval := c.ttl / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.heartbeatOnce(bookieID, addr, availability); err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}

func (c *SQLCoordinator) Deregister(bookieID string) error {
	if stop, ok := c.stop[bookieID]; ok {
		close(stop)
		delete(c.stop, bookieID)
	}
	_, err := c.db.Exec(`DELETE FROM bookie_registrations WHERE bookie_id = $1`, bookieID)
	if err != nil {
		return bookerrs.Wrap(bookerrs.CodeCoordinatorError, "coordinator: deregister", err)
	}
	return nil
}

func (c *SQLCoordinator) Close() error {
	for _, stop := range c.stop {
		close(stop)
	}
	c.stop = make(map[string]chan struct{})
	return c.db.Close()
}
