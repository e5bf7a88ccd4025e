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

package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// rpcClient talks to a running bookie's internal/adminapi HTTP surface.
type rpcClient struct {
	base string
	http *http.Client
}

func newRPCClient(addr string) *rpcClient {
	return &rpcClient{base: "http://" + addr, http: &http.Client{Timeout: 5 * time.Second}}
}

func (c *rpcClient) Mode() (string, error) {
	var resp struct {
		Mode string `json:"mode"`
	}
	if err := c.getJSON("/mode", &resp); err != nil {
		return "", err
	}
	return resp.Mode, nil
}

func (c *rpcClient) ListLedgers() ([]string, error) {
	var resp struct {
		Ledgers []uint64 `json:"ledgers"`
	}
	if err := c.getJSON("/ledgers", &resp); err != nil {
		return nil, err
	}
	out := make([]string, len(resp.Ledgers))
	for i, id := range resp.Ledgers {
		out[i] = fmt.Sprintf("%d", id)
	}
	return out, nil
}

func (c *rpcClient) Checkpoint() error {
	var resp struct {
		Status string `json:"status"`
	}
	return c.getJSON("/checkpoint", &resp)
}

func (c *rpcClient) Fence(ledgerID uint64) error {
	var resp struct {
		Status string `json:"status"`
	}
	return c.getJSON(fmt.Sprintf("/fence?ledgerId=%d", ledgerID), &resp)
}

func (c *rpcClient) getJSON(path string, out any) error {
	resp, err := c.http.Get(c.base + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bookieshell: %s: status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
