package responder

import (
	"fmt"

	"github.com/danmuck/tdispd/internal/protocol"
	"github.com/danmuck/tdispd/internal/tdi"
)

// checkOwnership rejects requests addressed to an interface this responder
// does not host. Nothing else about the request is examined first.
func (r *Responder) checkOwnership(h protocol.Header) error {
	if h.Interface != r.id {
		return fmt.Errorf("%w: %s", ErrInterfaceMismatch, h.Interface)
	}
	return nil
}

func (r *Responder) checkVersion(h protocol.Header) error {
	if h.Version != r.version {
		return fmt.Errorf("%w: 0x%02x", ErrVersionMismatch, h.Version)
	}
	return nil
}

// supported reports whether t is a request this responder implements.
func supported(t protocol.MessageType) bool {
	switch t {
	case protocol.RequestGetVersion,
		protocol.RequestGetCapabilities,
		protocol.RequestLockInterface,
		protocol.RequestGetDeviceInterfaceReport,
		protocol.RequestGetDeviceInterfaceState,
		protocol.RequestStartInterface,
		protocol.RequestStopInterface:
		return true
	default:
		return false
	}
}

// eligible reports whether state permits request t. Transitioning requests
// defer to the state machine's table.
func eligible(t protocol.MessageType, state protocol.TDIState) bool {
	switch t {
	case protocol.RequestGetVersion,
		protocol.RequestGetCapabilities,
		protocol.RequestGetDeviceInterfaceState:
		return true
	case protocol.RequestLockInterface:
		return tdi.Permits(state, tdi.EventLock)
	case protocol.RequestGetDeviceInterfaceReport:
		return state == protocol.StateConfigLocked || state == protocol.StateRun
	case protocol.RequestStartInterface:
		return tdi.Permits(state, tdi.EventStart)
	case protocol.RequestStopInterface:
		return tdi.Permits(state, tdi.EventStop)
	default:
		return false
	}
}

func (r *Responder) checkEligible(t protocol.MessageType) error {
	state := r.machine.Current()
	if !eligible(t, state) {
		return fmt.Errorf("%w: %s in %s", ErrNotEligible, t, state)
	}
	return nil
}
