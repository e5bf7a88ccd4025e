package bookie

import "testing"

func TestValidTransitions(t *testing.T) {
	cases := []struct {
		from, to Mode
		want     bool
	}{
		{ModeStarting, ModeWritable, true},
		{ModeStarting, ModeReadOnly, true},
		{ModeWritable, ModeReadOnly, true},
		{ModeReadOnly, ModeWritable, true},
		{ModeWritable, ModeShuttingDown, true},
		{ModeShuttingDown, ModeShutdown, true},
		{ModeShutdown, ModeWritable, false},
		{ModeShuttingDown, ModeWritable, false},
	}
	for _, tc := range cases {
		if got := validTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("validTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestModeMachineAppliesLegalTransitionsInOrder(t *testing.T) {
	m := newModeMachine(nil)
	m.start()
	defer m.stop()

	var seen []Mode
	m.addListener(func(from, to Mode) { seen = append(seen, to) })

	m.transition(ModeWritable)
	m.transition(ModeReadOnly)
	m.transition(ModeWritable)

	if m.current() != ModeWritable {
		t.Fatalf("current() = %s, want Writable", m.current())
	}
	if len(seen) != 3 {
		t.Fatalf("listener saw %d transitions, want 3: %v", len(seen), seen)
	}
}

func TestModeMachineRejectsIllegalTransitionAsNoOp(t *testing.T) {
	m := newModeMachine(nil)
	m.start()
	defer m.stop()

	m.transition(ModeShuttingDown)
	m.transition(ModeShutdown)
	m.transition(ModeWritable) // illegal from terminal state

	if m.current() != ModeShutdown {
		t.Fatalf("current() = %s, want Shutdown (illegal transition must be a no-op)", m.current())
	}
}

func TestModeStringer(t *testing.T) {
	cases := map[Mode]string{
		ModeStarting:     "Starting",
		ModeWritable:     "Writable",
		ModeReadOnly:     "ReadOnly",
		ModeShuttingDown: "ShuttingDown",
		ModeShutdown:     "Shutdown",
		Mode(99):         "Unknown",
	}
	for mode, want := range cases {
		if got := mode.String(); got != want {
			t.Errorf("Mode(%d).String() = %q, want %q", mode, got, want)
		}
	}
}
