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
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bookienode/bookie/internal/bookerrs"
	"github.com/bookienode/bookie/internal/cookie"
)

// WSCoordinator registers ephemeral liveness as the lifetime of an open
// websocket connection to a coordination service: the connection closing
// (crash, network partition, explicit Deregister) *is* the ephemeral node
// disappearing, a literal translation of a ZooKeeper ephemeral znode into
// a transport primitive already in the example pack.
type WSCoordinator struct {
	baseURL string
	root    string

	mu    sync.Mutex
	conns map[string]*websocket.Conn
}

// NewWSCoordinator dials a coordination service reachable at baseURL
// (e.g. "ws://coordinator:4181") rooted at root (e.g. "/bookies").
func NewWSCoordinator(baseURL, root string) *WSCoordinator {
	return &WSCoordinator{baseURL: baseURL, root: root, conns: make(map[string]*websocket.Conn)}
}

func (c *WSCoordinator) cookieURL(bookieID string) string {
	return fmt.Sprintf("%s%s/cookies/%s", c.baseURL, c.root, url.PathEscape(bookieID))
}

func (c *WSCoordinator) registerURL(bookieID string, availability Availability) string {
	if availability == AvailabilityReadOnly {
		return fmt.Sprintf("%s%s/available/readonly/%s", c.baseURL, c.root, url.PathEscape(bookieID))
	}
	return fmt.Sprintf("%s%s/available/%s", c.baseURL, c.root, url.PathEscape(bookieID))
}

// ReadCookie fetches the persistent cookie node over a short-lived
// websocket request/response exchange.
func (c *WSCoordinator) ReadCookie(bookieID string) (cookie.Cookie, bool, error) {
	conn, _, err := websocket.DefaultDialer.Dial(c.cookieURL(bookieID), nil)
	if err != nil {
		return cookie.Cookie{}, false, bookerrs.Wrap(bookerrs.CodeCoordinatorError, "coordinator: dial cookie read", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"op": "read"}); err != nil {
		return cookie.Cookie{}, false, bookerrs.Wrap(bookerrs.CodeCoordinatorError, "coordinator: write read request", err)
	}
	var resp struct {
		Found  bool          `json:"found"`
		Cookie cookie.Cookie `json:"cookie"`
	}
	if err := conn.ReadJSON(&resp); err != nil {
		return cookie.Cookie{}, false, bookerrs.Wrap(bookerrs.CodeCoordinatorError, "coordinator: read cookie response", err)
	}
	return resp.Cookie, resp.Found, nil
}

// WriteCookie persists the cookie node.
func (c *WSCoordinator) WriteCookie(bookieID string, ck cookie.Cookie) error {
	conn, _, err := websocket.DefaultDialer.Dial(c.cookieURL(bookieID), nil)
	if err != nil {
		return bookerrs.Wrap(bookerrs.CodeCoordinatorError, "coordinator: dial cookie write", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(struct {
		Op     string        `json:"op"`
		Cookie cookie.Cookie `json:"cookie"`
	}{Op: "write", Cookie: ck}); err != nil {
		return bookerrs.Wrap(bookerrs.CodeCoordinatorError, "coordinator: write cookie", err)
	}
	var ack struct{ OK bool `json:"ok"` }
	if err := conn.ReadJSON(&ack); err != nil {
		return bookerrs.Wrap(bookerrs.CodeCoordinatorError, "coordinator: cookie write ack", err)
	}
	if !ack.OK {
		return bookerrs.New(bookerrs.CodeCoordinatorError, "coordinator: cookie write rejected")
	}
	return nil
}

// Register opens a long-lived socket whose lifetime is the ephemeral
// registration, dialed under the mode-appropriate path (spec §4.5/§6:
// "/available/<bookieId>" writable, "/available/readonly/<bookieId>"
// read-only). A background goroutine pings periodically (keeping any
// intermediate proxy/load balancer from reaping an idle connection); the
// returned channel closes when one of those pings fails, so a socket that
// errors or is closed is noticed at the next ping (every 15s).
//
// Calling Register again for a bookieID that already holds an open
// connection — including a mode change re-register at a different path —
// closes the old connection first, so a Writable<->ReadOnly transition
// never leaves two ephemeral nodes advertised for the same bookie.
func (c *WSCoordinator) Register(bookieID, addr string, availability Availability) (<-chan struct{}, error) {
	conn, _, err := websocket.DefaultDialer.Dial(c.registerURL(bookieID, availability), nil)
	if err != nil {
		return nil, bookerrs.Wrap(bookerrs.CodeCoordinatorError, "coordinator: dial register", err)
	}
	if err := conn.WriteJSON(map[string]string{"addr": addr}); err != nil {
		conn.Close()
		return nil, bookerrs.Wrap(bookerrs.CodeCoordinatorError, "coordinator: send registration", err)
	}

	c.mu.Lock()
	old := c.conns[bookieID]
	c.conns[bookieID] = conn
	c.mu.Unlock()
	if old != nil {
		old.Close()
	}

	lost := make(chan struct{})
	go c.keepAlive(bookieID, conn, lost)
	return lost, nil
}

func (c *WSCoordinator) keepAlive(bookieID string, conn *websocket.Conn, lost chan struct{}) {
	defer close(lost)
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
			return
		}
	}
}

// Deregister closes the registration socket, which the coordination
// service observes as the ephemeral node vanishing.
func (c *WSCoordinator) Deregister(bookieID string) error {
	c.mu.Lock()
	conn, ok := c.conns[bookieID]
	delete(c.conns, bookieID)
	c.mu.Unlock()
	if !ok {
		return nil
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return conn.Close()
}

// Close closes every still-open registration socket.
func (c *WSCoordinator) Close() error {
	c.mu.Lock()
	conns := c.conns
	c.conns = make(map[string]*websocket.Conn)
	c.mu.Unlock()
	for _, conn := range conns {
		conn.Close()
	}
	return nil
}
