package tdi

import (
	"context"
	"errors"
	"testing"

	"github.com/danmuck/tdispd/internal/protocol"
)

var allStates = []protocol.TDIState{
	protocol.StateConfigUnlocked,
	protocol.StateConfigLocked,
	protocol.StateRun,
	protocol.StateError,
}

var allEvents = []Event{EventLock, EventStart, EventStop, EventFault, EventReset}

// machineIn drives a fresh machine to state through legal transitions.
func machineIn(t *testing.T, state protocol.TDIState) *Machine {
	t.Helper()
	m := NewMachine(nil)
	ctx := context.Background()
	var path []Event
	switch state {
	case protocol.StateConfigLocked:
		path = []Event{EventLock}
	case protocol.StateRun:
		path = []Event{EventLock, EventStart}
	case protocol.StateError:
		path = []Event{EventFault}
	}
	for _, ev := range path {
		if err := m.Fire(ctx, ev); err != nil {
			t.Fatalf("drive to %s: %v", state, err)
		}
	}
	if m.Current() != state {
		t.Fatalf("expected %s, got %s", state, m.Current())
	}
	return m
}

func TestNewMachineStartsUnlocked(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != protocol.StateConfigUnlocked {
		t.Fatalf("expected CONFIG_UNLOCKED, got %s", m.Current())
	}
}

func TestLifecycleHappyPath(t *testing.T) {
	var seen []string
	m := NewMachine(func(from, to protocol.TDIState, ev Event) {
		seen = append(seen, string(ev)+":"+from.String()+"->"+to.String())
	})
	ctx := context.Background()
	for _, ev := range []Event{EventLock, EventStart, EventStop} {
		if err := m.Fire(ctx, ev); err != nil {
			t.Fatalf("fire %s: %v", ev, err)
		}
	}
	if m.Current() != protocol.StateConfigUnlocked {
		t.Fatalf("expected CONFIG_UNLOCKED, got %s", m.Current())
	}
	want := []string{
		"lock:CONFIG_UNLOCKED->CONFIG_LOCKED",
		"start:CONFIG_LOCKED->RUN",
		"stop:RUN->CONFIG_UNLOCKED",
	}
	if len(seen) != len(want) {
		t.Fatalf("unexpected transitions: %v", seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("transition %d: expected %q, got %q", i, want[i], seen[i])
		}
	}
}

func TestEveryPairMatchesTable(t *testing.T) {
	ctx := context.Background()
	for _, state := range allStates {
		for _, ev := range allEvents {
			m := machineIn(t, state)
			err := m.Fire(ctx, ev)
			if Permits(state, ev) {
				if err != nil {
					t.Fatalf("%s from %s: unexpected error %v", ev, state, err)
				}
				continue
			}
			if !errors.Is(err, ErrIllegalTransition) {
				t.Fatalf("%s from %s: expected ErrIllegalTransition, got %v", ev, state, err)
			}
			if m.Current() != state {
				t.Fatalf("%s from %s: state changed to %s", ev, state, m.Current())
			}
		}
	}
}

func TestErrorIsSinkForProtocolEvents(t *testing.T) {
	for _, ev := range []Event{EventLock, EventStart, EventStop, EventFault} {
		if Permits(protocol.StateError, ev) {
			t.Fatalf("%s must not leave ERROR", ev)
		}
	}
	if !Permits(protocol.StateError, EventReset) {
		t.Fatalf("reset must recover ERROR")
	}
}

func TestStopDestinations(t *testing.T) {
	ctx := context.Background()
	for _, state := range []protocol.TDIState{protocol.StateConfigLocked, protocol.StateRun} {
		m := machineIn(t, state)
		if err := m.Fire(ctx, EventStop); err != nil {
			t.Fatalf("stop from %s: %v", state, err)
		}
		if m.Current() != protocol.StateConfigUnlocked {
			t.Fatalf("stop from %s landed in %s", state, m.Current())
		}
	}
}
