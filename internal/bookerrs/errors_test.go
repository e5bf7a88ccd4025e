package bookerrs

import (
	"fmt"
	"testing"
)

func TestIsMatchesWrappedCode(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := Wrap(CodeDiskError, "flush failed", cause)

	if !Is(err, CodeDiskError) {
		t.Fatalf("Is(err, CodeDiskError) = false, want true")
	}
	if Is(err, CodeJournalIO) {
		t.Fatalf("Is(err, CodeJournalIO) = true, want false")
	}
}

func TestAsExtractsError(t *testing.T) {
	err := New(CodeLedgerFenced, "ledger 7 is fenced")

	var be *Error
	if !As(err, &be) {
		t.Fatalf("As() = false, want true")
	}
	if be.Code != CodeLedgerFenced {
		t.Fatalf("be.Code = %v, want %v", be.Code, CodeLedgerFenced)
	}
}

func TestErrorMessageIncludesCause(t *testing.T) {
	cause := fmt.Errorf("permission denied")
	err := Wrap(CodeDiskError, "open journal", cause)

	got := err.Error()
	want := "DiskError: open journal: permission denied"
	if got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}

func TestWrapNilCauseStillWraps(t *testing.T) {
	err := Wrap(CodeNoEntry, "entry 3", nil)
	if err.Unwrap() != nil {
		t.Fatalf("Unwrap() = %v, want nil", err.Unwrap())
	}
}
