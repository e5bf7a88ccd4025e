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

// Package cookie implements the bookie's identity record (spec §3 Cookie,
// §6 Cookie format) and the environment check run at startup (§4.6).
package cookie

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"

	"github.com/bookienode/bookie/internal/bookerrs"
)

// versionFileName is fixed by the on-disk format (spec §6).
const versionFileName = "VERSION"

// Cookie ties an on-disk directory layout to the identity the coordinator
// knows about. Two cookies are Equal if every field agrees except
// LastModified, which is metadata, not identity.
type Cookie struct {
	Version      int      `json:"version"`
	InstanceID   string   `json:"instanceId"`
	BookieID     string   `json:"bookieId"`
	Directories  []string `json:"directories"`
	LastModified int64    `json:"lastModified,omitempty"`
}

// New mints a fresh cookie for a brand new installation.
func New(bookieID string, directories []string) Cookie {
	dirs := append([]string(nil), directories...)
	sort.Strings(dirs)
	return Cookie{
		Version:     1,
		InstanceID:  uuid.NewString(),
		BookieID:    bookieID,
		Directories: dirs,
	}
}

// Equal compares every field except LastModified, per §6.
func (c Cookie) Equal(other Cookie) bool {
	if c.Version != other.Version || c.InstanceID != other.InstanceID || c.BookieID != other.BookieID {
		return false
	}
	if len(c.Directories) != len(other.Directories) {
		return false
	}
	a := append([]string(nil), c.Directories...)
	b := append([]string(nil), other.Directories...)
	sort.Strings(a)
	sort.Strings(b)
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// WriteToDir persists the cookie to <dir>/VERSION, creating dir if needed.
// Mirrors the teacher's database.save() pattern of MkdirAll + json.Marshal
// + atomic-ish overwrite (storage/database.go).
func WriteToDir(dir string, c Cookie) error {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return bookerrs.Wrap(bookerrs.CodeDiskError, "cookie: mkdir "+dir, err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return bookerrs.Wrap(bookerrs.CodeDiskError, "cookie: marshal", err)
	}
	path := filepath.Join(dir, versionFileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0640); err != nil {
		return bookerrs.Wrap(bookerrs.CodeDiskError, "cookie: write "+tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return bookerrs.Wrap(bookerrs.CodeDiskError, "cookie: rename "+tmp, err)
	}
	return nil
}

// ReadFromDir reads <dir>/VERSION. A missing file is reported via the
// second return value, not an error, so callers can distinguish "no cookie
// yet" from "disk failure".
func ReadFromDir(dir string) (Cookie, bool, error) {
	path := filepath.Join(dir, versionFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Cookie{}, false, nil
		}
		return Cookie{}, false, bookerrs.Wrap(bookerrs.CodeDiskError, "cookie: read "+path, err)
	}
	var c Cookie
	if err := json.Unmarshal(data, &c); err != nil {
		return Cookie{}, false, bookerrs.Wrap(bookerrs.CodeInvalidCookie, "cookie: corrupt "+path, err)
	}
	return c, true, nil
}

// Registry is the subset of the coordinator abstraction the environment
// check needs: the persistent cookie node at /<root>/cookies/<bookieId>.
type Registry interface {
	ReadCookie(bookieID string) (Cookie, bool, error)
	WriteCookie(bookieID string, c Cookie) error
}

// CheckEnvironment runs the startup cookie verification (spec §3, §4.6
// step 3, §7 "InvalidCookie at startup -> fatal"):
//
//   - a fresh environment (no on-disk cookies anywhere, no coordinator
//     cookie) is initialized atomically: one cookie is minted and written
//     to every directory and to the coordinator;
//   - any mismatch between the on-disk cookie and the coordinator's, or
//     any directory missing a cookie while others have one, is fatal.
func CheckEnvironment(bookieID string, directories []string, reg Registry) error {
	var found Cookie
	haveAny := false
	missingSome := false

	for _, dir := range directories {
		c, ok, err := ReadFromDir(dir)
		if err != nil {
			return err
		}
		if !ok {
			missingSome = true
			continue
		}
		if !haveAny {
			found = c
			haveAny = true
		} else if !found.Equal(c) {
			return bookerrs.New(bookerrs.CodeInvalidCookie, fmt.Sprintf("cookie mismatch across directories (dir=%s)", dir))
		}
	}

	coordCookie, coordHas, err := reg.ReadCookie(bookieID)
	if err != nil {
		return err
	}

	switch {
	case !haveAny && !coordHas:
		// fresh environment: mint and write everywhere atomically.
		c := New(bookieID, directories)
		for _, dir := range directories {
			if err := WriteToDir(dir, c); err != nil {
				return err
			}
		}
		return reg.WriteCookie(bookieID, c)

	case haveAny && !coordHas:
		return bookerrs.New(bookerrs.CodeInvalidCookie, "on-disk cookie present but coordinator has none")

	case !haveAny && coordHas:
		return bookerrs.New(bookerrs.CodeInvalidCookie, "coordinator cookie present but no on-disk cookie")

	case missingSome:
		return bookerrs.New(bookerrs.CodeInvalidCookie, "some directories are missing a cookie")

	default:
		if !found.Equal(coordCookie) {
			return bookerrs.New(bookerrs.CodeInvalidCookie, "on-disk cookie does not match coordinator cookie")
		}
		return nil
	}
}
