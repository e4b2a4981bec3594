// Package tdi owns the TDI lifecycle state machine.
//
// The transition table is the only way state changes:
//
//	lock:  CONFIG_UNLOCKED           -> CONFIG_LOCKED
//	start: CONFIG_LOCKED             -> RUN
//	stop:  CONFIG_LOCKED, RUN        -> CONFIG_UNLOCKED
//	fault: any state except ERROR    -> ERROR
//	reset: ERROR                     -> CONFIG_UNLOCKED (out-of-band only)
package tdi

import (
	"context"
	"errors"
	"fmt"

	"github.com/danmuck/tdispd/internal/protocol"
	"github.com/looplab/fsm"
)

var ErrIllegalTransition = errors.New("tdi: illegal transition")

// Event names one edge family of the transition table.
type Event string

const (
	EventLock  Event = "lock"
	EventStart Event = "start"
	EventStop  Event = "stop"
	EventFault Event = "fault"
	EventReset Event = "reset"
)

// TransitionFunc observes a committed transition.
type TransitionFunc func(from, to protocol.TDIState, ev Event)

var stateByName = map[string]protocol.TDIState{
	protocol.StateConfigUnlocked.String(): protocol.StateConfigUnlocked,
	protocol.StateConfigLocked.String():   protocol.StateConfigLocked,
	protocol.StateRun.String():            protocol.StateRun,
	protocol.StateError.String():          protocol.StateError,
}

func transitions() fsm.Events {
	unlocked := protocol.StateConfigUnlocked.String()
	locked := protocol.StateConfigLocked.String()
	run := protocol.StateRun.String()
	failed := protocol.StateError.String()
	return fsm.Events{
		{Name: string(EventLock), Src: []string{unlocked}, Dst: locked},
		{Name: string(EventStart), Src: []string{locked}, Dst: run},
		{Name: string(EventStop), Src: []string{locked, run}, Dst: unlocked},
		{Name: string(EventFault), Src: []string{unlocked, locked, run}, Dst: failed},
		{Name: string(EventReset), Src: []string{failed}, Dst: unlocked},
	}
}

// Machine holds the lifecycle state of one TDI. It is created in
// CONFIG_UNLOCKED.
type Machine struct {
	fsm *fsm.FSM
}

// NewMachine returns a machine in CONFIG_UNLOCKED. onTransition may be nil.
func NewMachine(onTransition TransitionFunc) *Machine {
	callbacks := fsm.Callbacks{}
	if onTransition != nil {
		callbacks["enter_state"] = func(_ context.Context, e *fsm.Event) {
			onTransition(stateByName[e.Src], stateByName[e.Dst], Event(e.Event))
		}
	}
	return &Machine{
		fsm: fsm.NewFSM(protocol.StateConfigUnlocked.String(), transitions(), callbacks),
	}
}

// Current returns the committed state.
func (m *Machine) Current() protocol.TDIState {
	return stateByName[m.fsm.Current()]
}

// Can reports whether ev is defined from the current state.
func (m *Machine) Can(ev Event) bool {
	return m.fsm.Can(string(ev))
}

// Fire commits ev. An event not defined from the current state leaves the
// state unchanged and returns ErrIllegalTransition.
func (m *Machine) Fire(ctx context.Context, ev Event) error {
	from := m.Current()
	if !m.Can(ev) {
		return fmt.Errorf("%w: %s from %s", ErrIllegalTransition, ev, from)
	}
	if err := m.fsm.Event(ctx, string(ev)); err != nil {
		return fmt.Errorf("%w: %s from %s: %v", ErrIllegalTransition, ev, from, err)
	}
	return nil
}

// Permits reports whether the table defines ev from state, independent of
// any machine instance.
func Permits(state protocol.TDIState, ev Event) bool {
	name := state.String()
	for _, desc := range transitions() {
		if desc.Name != string(ev) {
			continue
		}
		for _, src := range desc.Src {
			if src == name {
				return true
			}
		}
	}
	return false
}
