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

// Package adminapi exposes the small HTTP introspection/control surface
// cmd/bookieshell talks to (spec "Admin/introspection surface", ambient
// tooling rather than core logic — see SPEC_FULL.md supplemented
// features). It is deliberately thin: one handler per operator command.
package adminapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/bookienode/bookie/internal/bookie"
)

// Server wraps a *bookie.Bookie with the http.Handler bookieshell expects.
type Server struct {
	b *bookie.Bookie
}

// New builds an admin server over b.
func New(b *bookie.Bookie) *Server { return &Server{b: b} }

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/mode", s.handleMode)
	mux.HandleFunc("/ledgers", s.handleLedgers)
	mux.HandleFunc("/checkpoint", s.handleCheckpoint)
	mux.HandleFunc("/fence", s.handleFence)
	return mux
}

func (s *Server) handleMode(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"mode": s.b.Mode().String()})
}

func (s *Server) handleLedgers(w http.ResponseWriter, r *http.Request) {
	var ids []uint64
	for _, d := range s.b.Pipeline().Handles().All() {
		ids = append(ids, d.LedgerID)
	}
	writeJSON(w, map[string]any{"ledgers": ids})
}

func (s *Server) handleCheckpoint(w http.ResponseWriter, r *http.Request) {
	s.b.SyncEngine().Checkpoint()
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleFence(w http.ResponseWriter, r *http.Request) {
	idStr := r.URL.Query().Get("ledgerId")
	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		http.Error(w, fmt.Sprintf("bad ledgerId %q", idStr), http.StatusBadRequest)
		return
	}
	if err := s.b.Pipeline().FenceLedger(id); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
