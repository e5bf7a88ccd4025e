package cookie

import (
	"testing"
)

type fakeRegistry struct {
	cookie Cookie
	has    bool
}

func (r *fakeRegistry) ReadCookie(bookieID string) (Cookie, bool, error) {
	return r.cookie, r.has, nil
}

func (r *fakeRegistry) WriteCookie(bookieID string, c Cookie) error {
	r.cookie = c
	r.has = true
	return nil
}

func TestWriteThenReadFromDir(t *testing.T) {
	dir := t.TempDir()
	c := New("bookie-1", []string{dir})

	if err := WriteToDir(dir, c); err != nil {
		t.Fatalf("WriteToDir: %v", err)
	}
	got, ok, err := ReadFromDir(dir)
	if err != nil {
		t.Fatalf("ReadFromDir: %v", err)
	}
	if !ok {
		t.Fatalf("ReadFromDir: ok = false, want true")
	}
	if !got.Equal(c) {
		t.Fatalf("ReadFromDir = %+v, want %+v", got, c)
	}
}

func TestReadFromDirMissing(t *testing.T) {
	_, ok, err := ReadFromDir(t.TempDir())
	if err != nil {
		t.Fatalf("ReadFromDir: %v", err)
	}
	if ok {
		t.Fatalf("ok = true on a directory with no cookie, want false")
	}
}

func TestEqualIgnoresLastModifiedAndDirOrder(t *testing.T) {
	a := Cookie{Version: 1, InstanceID: "x", BookieID: "b", Directories: []string{"/a", "/b"}, LastModified: 1}
	b := Cookie{Version: 1, InstanceID: "x", BookieID: "b", Directories: []string{"/b", "/a"}, LastModified: 2}
	if !a.Equal(b) {
		t.Fatalf("Equal() = false, want true (differ only in LastModified/dir order)")
	}
}

func TestCheckEnvironmentFreshInitializesEverywhere(t *testing.T) {
	dirA, dirB := t.TempDir(), t.TempDir()
	reg := &fakeRegistry{}

	if err := CheckEnvironment("bookie-1", []string{dirA, dirB}, reg); err != nil {
		t.Fatalf("CheckEnvironment: %v", err)
	}

	ca, okA, _ := ReadFromDir(dirA)
	cb, okB, _ := ReadFromDir(dirB)
	if !okA || !okB {
		t.Fatalf("expected both directories to have a cookie after fresh init")
	}
	if !ca.Equal(cb) {
		t.Fatalf("cookies differ across directories after fresh init: %+v vs %+v", ca, cb)
	}
	if !reg.has || !reg.cookie.Equal(ca) {
		t.Fatalf("coordinator cookie not written to match on-disk cookie")
	}
}

func TestCheckEnvironmentCoordinatorOnlyCookieIsFatal(t *testing.T) {
	dir := t.TempDir()
	reg := &fakeRegistry{cookie: New("bookie-1", []string{dir}), has: true}
	// on-disk cookie absent but coordinator has one: must fail.
	if err := CheckEnvironment("bookie-1", []string{dir}, reg); err == nil {
		t.Fatalf("CheckEnvironment: want error for coordinator-only cookie, got nil")
	}
}

func TestCheckEnvironmentAgreeingStateSucceeds(t *testing.T) {
	dir := t.TempDir()
	c := New("bookie-1", []string{dir})
	if err := WriteToDir(dir, c); err != nil {
		t.Fatalf("WriteToDir: %v", err)
	}
	reg := &fakeRegistry{cookie: c, has: true}

	if err := CheckEnvironment("bookie-1", []string{dir}, reg); err != nil {
		t.Fatalf("CheckEnvironment: %v", err)
	}
}
